// Package world управляет реестром чанков, якорями загрузки
// и передачей чанков в персистентность.
package world

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/eventbus"
	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/session"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

// ErrChunkNotResident возвращается при обращении к незагруженному чанку.
var ErrChunkNotResident = errors.New("чанк не загружен")

// ChunkPersistence — порт долговременного хранения чанков.
// Реализации живут в пакете storage.
type ChunkPersistence interface {
	// SaveChunk сохраняет (upsert) чанк.
	SaveChunk(pos vec.ChunkPos, buf *chunk.Buffer) error
	// LoadChunk возвращает (nil, nil) для отсутствующего или
	// повреждённого (после логирования) чанка.
	LoadChunk(pos vec.ChunkPos) (*chunk.Buffer, error)
	// SaveAll сохраняет все перечисленные чанки (best-effort).
	SaveAll(chunks map[vec.ChunkPos]*chunk.Buffer) error
}

// Generator строит содержимое чанка по его позиции и сиду.
type Generator interface {
	GenerateChunk(pos vec.ChunkPos, seed uint64) (*chunk.Buffer, error)
}

// Options задаёт параметры конструктора мира.
type Options struct {
	Generator   Generator            // nil — новые чанки пустые
	Anchors     []vec.BlockPos       // Статические якоря загрузки
	AnchorFunc  func() []vec.BlockPos // Дополнительный поставщик якорей
	Radius      int                  // Радиус якоря в чанках (евклидова сфера)
	Seed        uint64               // Сид генерации
	Persistence ChunkPersistence     // nil — без персистентности
	Events      eventbus.EventBus    // nil — без событий
}

// World владеет всеми загруженными чанками; обработчики только
// заимствуют буферы. Записи блоков сериализуются блокировкой мира.
type World struct {
	mu     sync.RWMutex
	chunks map[vec.ChunkPos]*chunk.Buffer

	anchors    []vec.BlockPos
	anchorFunc func() []vec.BlockPos
	radius     int
	seed       uint64

	generator   Generator
	persistence ChunkPersistence
	events      eventbus.EventBus

	sessions *session.Manager

	nextEntityID uint64
	entityIDMu   sync.Mutex

	logger *logging.Logger
}

// NewWorld создаёт мир с указанными параметрами.
func NewWorld(opts Options) *World {
	anchors := opts.Anchors
	if anchors == nil && opts.AnchorFunc == nil {
		anchors = []vec.BlockPos{{X: 0, Y: 0, Z: 0}}
	}
	radius := opts.Radius
	if radius <= 0 {
		radius = 10
	}

	return &World{
		chunks:       make(map[vec.ChunkPos]*chunk.Buffer),
		anchors:      anchors,
		anchorFunc:   opts.AnchorFunc,
		radius:       radius,
		seed:         opts.Seed,
		generator:    opts.Generator,
		persistence:  opts.Persistence,
		events:       opts.Events,
		sessions:     session.NewManager(),
		nextEntityID: 1000, // Начинаем с 1000, чтобы избежать конфликтов с малыми ID
		logger:       logging.GetWorldLogger(),
	}
}

// Sessions возвращает менеджер сессий мира.
func (w *World) Sessions() *session.Manager {
	return w.sessions
}

// Radius возвращает радиус якорей в чанках.
func (w *World) Radius() int {
	return w.radius
}

// Seed возвращает сид мира.
func (w *World) Seed() uint64 {
	return w.seed
}

// GenerateEntityID генерирует уникальный ID для сущности.
func (w *World) GenerateEntityID() uint64 {
	w.entityIDMu.Lock()
	defer w.entityIDMu.Unlock()
	w.nextEntityID++
	return w.nextEntityID
}

// ConnectPlayer создаёт сессию игрока и регистрирует его позицию
// как источник якорей. Возвращает токен и ID сущности.
func (w *World) ConnectPlayer(playerName string, spawn vec.PrecisePos) (string, uint64, error) {
	entityID := w.GenerateEntityID()
	token, err := w.sessions.Create(playerName, entityID, spawn)
	if err != nil {
		return "", 0, err
	}
	w.logger.Info("Игрок %s подключён: entity=%d", playerName, entityID)
	return token, entityID, nil
}

// DisconnectPlayer удаляет сессию игрока по токену.
func (w *World) DisconnectPlayer(token string) {
	if s, ok := w.sessions.Get(token); ok {
		w.logger.Info("Игрок %s отключён: entity=%d", s.PlayerName, s.EntityID)
	}
	w.sessions.Remove(token)
}

// collectAnchorChunks собирает чанки всех якорей: статических,
// от колбэка и от позиций активных сессий.
// Вызывается без блокировки мира (порядок захвата: сессии -> мир).
func (w *World) collectAnchorChunks() []vec.ChunkPos {
	positions := make([]vec.BlockPos, 0, len(w.anchors))
	positions = append(positions, w.anchors...)
	if w.anchorFunc != nil {
		positions = append(positions, w.anchorFunc()...)
	}
	for _, s := range w.sessions.ActiveSessions() {
		positions = append(positions, s.Position.ToBlock())
	}

	chunks := make([]vec.ChunkPos, 0, len(positions))
	for _, pos := range positions {
		c, err := pos.ToChunk()
		if err != nil {
			w.logger.Warn("Якорь %+v вне диапазона координат чанков: %v", pos, err)
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks
}

// requiredSet возвращает объединение евклидовых сфер радиуса radius
// вокруг чанков-якорей.
func requiredSet(anchors []vec.ChunkPos, radius int) map[vec.ChunkPos]struct{} {
	required := make(map[vec.ChunkPos]struct{})
	r := int64(radius)
	rr := float64(radius) * float64(radius)

	for _, a := range anchors {
		for dx := -r; dx <= r; dx++ {
			for dy := -r; dy <= r; dy++ {
				for dz := -r; dz <= r; dz++ {
					if float64(dx*dx+dy*dy+dz*dz) > rr {
						continue
					}
					cx := int64(a.X) + dx
					cy := int64(a.Y) + dy
					cz := int64(a.Z) + dz
					if cx < -1<<31 || cx > 1<<31-1 ||
						cy < -1<<31 || cy > 1<<31-1 ||
						cz < -1<<31 || cz > 1<<31-1 {
						continue
					}
					required[vec.ChunkPos{X: int32(cx), Y: int32(cy), Z: int32(cz)}] = struct{}{}
				}
			}
		}
	}
	return required
}

// EnsureChunksLoaded приводит множество загруженных чанков в соответствие
// с якорями: загружает недостающие (персистентность имеет приоритет над
// генерацией) и выгружает лишние с сохранением. Операция идемпотентна.
func (w *World) EnsureChunksLoaded() {
	required := requiredSet(w.collectAnchorChunks(), w.radius)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Загрузка недостающих чанков.
	for pos := range required {
		if _, resident := w.chunks[pos]; resident {
			continue
		}
		w.chunks[pos] = w.produceChunk(pos)
	}

	// Выгрузка чанков вне всех сфер.
	for pos, buf := range w.chunks {
		if _, needed := required[pos]; needed {
			continue
		}
		var saveErr error
		if w.persistence != nil {
			if saveErr = w.persistence.SaveChunk(pos, buf); saveErr != nil {
				// Ошибка сохранения логируется, но выгрузка продолжается:
				// копия в памяти теряется.
				w.logger.Error("Ошибка сохранения чанка %+v при выгрузке: %v", pos, saveErr)
			}
		}
		delete(w.chunks, pos)
		eventbus.PublishChunkEvicted(context.Background(), w.events, "world", pos, saveErr)
	}
}

// produceChunk строит буфер чанка: персистентность, затем генератор,
// затем пустой буфер. Вызывается под блокировкой мира.
func (w *World) produceChunk(pos vec.ChunkPos) *chunk.Buffer {
	if w.persistence != nil {
		buf, err := w.persistence.LoadChunk(pos)
		if err != nil {
			// Ошибка чтения трактуется как отсутствие данных.
			w.logger.Warn("Ошибка загрузки чанка %+v: %v", pos, err)
		} else if buf != nil {
			return buf
		}
	}

	if w.generator != nil {
		buf, err := w.generator.GenerateChunk(pos, w.seed)
		if err != nil {
			w.logger.Error("Ошибка генерации чанка %+v: %v", pos, err)
			return chunk.NewBuffer(pos)
		}
		return buf
	}

	return chunk.NewBuffer(pos)
}

// ChunkAt возвращает буфер чанка, если он загружен.
// Буфер заимствуется: записи в него идут только через SetBlockIfLoaded.
func (w *World) ChunkAt(pos vec.ChunkPos) (*chunk.Buffer, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	buf, ok := w.chunks[pos]
	return buf, ok
}

// SerializeChunkAt возвращает сериализованный снимок чанка, если он
// загружен. Снимок снимается под блокировкой, поэтому байты всегда
// консистентны.
func (w *World) SerializeChunkAt(pos vec.ChunkPos) ([]byte, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	buf, ok := w.chunks[pos]
	if !ok {
		return nil, false
	}
	return buf.Serialize(), true
}

// SetBlockIfLoaded записывает блок, если содержащий его чанк загружен.
// Возвращает false, если чанк не резидентен. Запись не персистируется:
// сохранение происходит при выгрузке, явном сохранении и остановке мира.
func (w *World) SetBlockIfLoaded(pos vec.BlockPos, id block.ID) bool {
	c, err := pos.ToChunk()
	if err != nil {
		w.logger.Warn("Позиция блока %+v вне диапазона: %v", pos, err)
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.chunks[c]
	if !ok {
		return false
	}
	buf.Set(pos.LocalInChunk(), id)
	return true
}

// GetBlockIfLoaded возвращает блок, если содержащий его чанк загружен.
func (w *World) GetBlockIfLoaded(pos vec.BlockPos) (block.ID, bool) {
	c, err := pos.ToChunk()
	if err != nil {
		return block.Empty, false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	buf, ok := w.chunks[c]
	if !ok {
		return block.Empty, false
	}
	return buf.Get(pos.LocalInChunk()), true
}

// ResidentChunks возвращает позиции всех загруженных чанков.
func (w *World) ResidentChunks() []vec.ChunkPos {
	w.mu.RLock()
	defer w.mu.RUnlock()

	result := make([]vec.ChunkPos, 0, len(w.chunks))
	for pos := range w.chunks {
		result = append(result, pos)
	}
	return result
}

// LoadedCount возвращает число загруженных чанков.
func (w *World) LoadedCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.chunks)
}

// SaveAllLoadedChunks сохраняет все загруженные чанки (best-effort).
func (w *World) SaveAllLoadedChunks() {
	if w.persistence == nil {
		return
	}

	w.mu.RLock()
	snapshot := make(map[vec.ChunkPos]*chunk.Buffer, len(w.chunks))
	for pos, buf := range w.chunks {
		snapshot[pos] = buf
	}
	w.mu.RUnlock()

	if err := w.persistence.SaveAll(snapshot); err != nil {
		w.logger.Error("Ошибка массового сохранения чанков: %v", err)
	}
}

// RunAnchorLoop периодически вызывает EnsureChunksLoaded, чтобы множество
// загруженных чанков следовало за перемещением игроков.
func (w *World) RunAnchorLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.EnsureChunksLoaded()
		}
	}
}

// Close сохраняет все загруженные чанки. Ошибки логируются и не
// прерывают остановку.
func (w *World) Close() {
	w.SaveAllLoadedChunks()
}
