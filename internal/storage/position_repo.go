package storage

import (
	"context"

	"github.com/annel0/voxel-world/internal/vec"
)

// PositionRepo определяет интерфейс для сохранения и загрузки позиций игроков.
// Позиции привязаны к EntityID игрока и переживают истечение сессии.
// Сервер только сбрасывает сюда позиции активных сессий; при подключении
// сохранённая позиция не читается: игрок получает новый EntityID и
// появляется в присланной точке спавна.
type PositionRepo interface {
	// Save сохраняет позицию игрока в хранилище.
	Save(ctx context.Context, entityID uint64, pos vec.PrecisePos) error

	// Load загружает позицию игрока.
	// Второе значение false, если позиция не сохранялась (первый вход).
	Load(ctx context.Context, entityID uint64) (vec.PrecisePos, bool, error)

	// Delete удаляет сохранённую позицию игрока.
	Delete(ctx context.Context, entityID uint64) error

	// BatchSave сохраняет позиции нескольких игроков одновременно
	// (для периодического сброса позиций активных сессий).
	BatchSave(ctx context.Context, positions map[uint64]vec.PrecisePos) error
}
