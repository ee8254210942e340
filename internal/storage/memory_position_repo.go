package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/voxel-world/internal/vec"
)

// MemoryPositionRepo реализует PositionRepo в памяти.
// Используется как fallback, когда Redis недоступен,
// или для CI/локальной разработки без внешних сервисов.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryPositionRepo struct {
	mu   sync.RWMutex
	data map[uint64]vec.PrecisePos // entityID -> позиция
}

// NewMemoryPositionRepo создает новый репозиторий позиций в памяти.
func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{
		data: make(map[uint64]vec.PrecisePos),
	}
}

// Save сохраняет позицию игрока в памяти.
func (r *MemoryPositionRepo) Save(ctx context.Context, entityID uint64, pos vec.PrecisePos) error {
	if entityID == 0 {
		return fmt.Errorf("недействительный entityID: %d", entityID)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[entityID] = pos
	return nil
}

// Load загружает позицию игрока из памяти.
func (r *MemoryPositionRepo) Load(ctx context.Context, entityID uint64) (vec.PrecisePos, bool, error) {
	if entityID == 0 {
		return vec.PrecisePos{}, false, fmt.Errorf("недействительный entityID: %d", entityID)
	}

	select {
	case <-ctx.Done():
		return vec.PrecisePos{}, false, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, exists := r.data[entityID]
	return pos, exists, nil
}

// Delete удаляет сохранённую позицию игрока из памяти.
func (r *MemoryPositionRepo) Delete(ctx context.Context, entityID uint64) error {
	if entityID == 0 {
		return fmt.Errorf("недействительный entityID: %d", entityID)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.data, entityID)
	return nil
}

// BatchSave сохраняет позиции нескольких игроков в памяти.
func (r *MemoryPositionRepo) BatchSave(ctx context.Context, positions map[uint64]vec.PrecisePos) error {
	if len(positions) == 0 {
		return nil // Нечего сохранять
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	for entityID := range positions {
		if entityID == 0 {
			return fmt.Errorf("недействительный entityID в batch: %d", entityID)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for entityID, pos := range positions {
		r.data[entityID] = pos
	}
	return nil
}

// Count возвращает количество сохранённых позиций (для отладки).
func (r *MemoryPositionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Clear очищает все сохранённые позиции (для тестов).
func (r *MemoryPositionRepo) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[uint64]vec.PrecisePos)
}
