package storage

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

// SQLiteChunkStorage хранит чанки в одной таблице SQLite:
//
//	chunks(x INTEGER, y INTEGER, z INTEGER, data BLOB, PRIMARY KEY(x,y,z))
//
// Блоб — разреженный формат SCO1, тот же, что и у BadgerDB-бэкенда.
type SQLiteChunkStorage struct {
	db      *sql.DB
	mutex   sync.RWMutex
	isReady bool
	logger  *logging.Logger
}

// NewSQLiteChunkStorage открывает базу и создаёт таблицу при необходимости.
func NewSQLiteChunkStorage(path string) (*SQLiteChunkStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть SQLite: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS chunks (
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		z INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (x, y, z)
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу chunks: %w", err)
	}

	return &SQLiteChunkStorage{
		db:      db,
		isReady: true,
		logger:  logging.GetStorageLogger(),
	}, nil
}

// Close закрывает базу данных.
func (ss *SQLiteChunkStorage) Close() error {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	if !ss.isReady {
		return nil
	}
	ss.isReady = false
	return ss.db.Close()
}

// SaveChunk сохраняет чанк (upsert по первичному ключу).
func (ss *SQLiteChunkStorage) SaveChunk(pos vec.ChunkPos, buf *chunk.Buffer) error {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()

	if !ss.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	_, err := ss.db.Exec(
		`INSERT INTO chunks (x, y, z, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT (x, y, z) DO UPDATE SET data = excluded.data`,
		pos.X, pos.Y, pos.Z, buf.Serialize(),
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения чанка в SQLite: %w", err)
	}
	return nil
}

// LoadChunk загружает чанк. Возвращает (nil, nil) для отсутствующей
// строки или повреждённого блоба (повреждение логируется).
func (ss *SQLiteChunkStorage) LoadChunk(pos vec.ChunkPos) (*chunk.Buffer, error) {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()

	if !ss.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := ss.db.QueryRow(
		`SELECT data FROM chunks WHERE x = ? AND y = ? AND z = ?`,
		pos.X, pos.Y, pos.Z,
	).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из SQLite: %w", err)
	}

	buf, err := chunk.Deserialize(pos, data)
	if err != nil {
		ss.logger.Error("Повреждённый блоб чанка %+v: %v", pos, err)
		return nil, nil
	}
	return buf, nil
}

// SaveAll сохраняет все перечисленные чанки одной транзакцией (best-effort).
func (ss *SQLiteChunkStorage) SaveAll(chunks map[vec.ChunkPos]*chunk.Buffer) error {
	ss.mutex.RLock()
	defer ss.mutex.RUnlock()

	if !ss.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	tx, err := ss.db.Begin()
	if err != nil {
		return fmt.Errorf("ошибка открытия транзакции: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO chunks (x, y, z, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT (x, y, z) DO UPDATE SET data = excluded.data`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for pos, buf := range chunks {
		if _, err := stmt.Exec(pos.X, pos.Y, pos.Z, buf.Serialize()); err != nil {
			ss.logger.Error("Ошибка сохранения чанка %+v: %v", pos, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}
