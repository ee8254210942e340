// Package storage реализует порты долговременного хранения:
// чанки мира (BadgerDB, SQLite) и позиции игроков (память, Redis).
package storage

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

// BadgerChunkStorage хранит чанки в BadgerDB: ключ — координаты чанка,
// значение — разреженный блоб SCO1.
type BadgerChunkStorage struct {
	db      *badger.DB
	mutex   sync.RWMutex
	isReady bool
	logger  *logging.Logger
}

// NewBadgerChunkStorage открывает (или создаёт) хранилище чанков.
func NewBadgerChunkStorage(dataPath string) (*BadgerChunkStorage, error) {
	dbPath := filepath.Join(dataPath, "world")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerChunkStorage{
		db:      db,
		isReady: true,
		logger:  logging.GetStorageLogger(),
	}, nil
}

// Close закрывает хранилище данных.
func (bs *BadgerChunkStorage) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}
	bs.isReady = false
	return bs.db.Close()
}

func chunkKey(pos vec.ChunkPos) []byte {
	return []byte(fmt.Sprintf("chunk:%d:%d:%d", pos.X, pos.Y, pos.Z))
}

// SaveChunk сохраняет чанк (upsert).
func (bs *BadgerChunkStorage) SaveChunk(pos vec.ChunkPos, buf *chunk.Buffer) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	data := buf.Serialize()
	err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkKey(pos), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения чанка в BadgerDB: %w", err)
	}
	return nil
}

// LoadChunk загружает чанк. Возвращает (nil, nil) для отсутствующего
// или повреждённого блоба (повреждение логируется).
func (bs *BadgerChunkStorage) LoadChunk(pos vec.ChunkPos) (*chunk.Buffer, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(pos))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	buf, err := chunk.Deserialize(pos, data)
	if err != nil {
		// Повреждённый блоб трактуется как отсутствующий.
		bs.logger.Error("Повреждённый блоб чанка %+v: %v", pos, err)
		return nil, nil
	}
	return buf, nil
}

// SaveAll сохраняет все перечисленные чанки (best-effort):
// ошибки отдельных чанков логируются, обход продолжается.
func (bs *BadgerChunkStorage) SaveAll(chunks map[vec.ChunkPos]*chunk.Buffer) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	wb := bs.db.NewWriteBatch()
	defer wb.Cancel()

	for pos, buf := range chunks {
		if err := wb.Set(chunkKey(pos), buf.Serialize()); err != nil {
			bs.logger.Error("Ошибка записи чанка %+v в батч: %v", pos, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка массового сохранения в BadgerDB: %w", err)
	}
	return nil
}
