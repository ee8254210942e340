package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

// chunkStorage — общий контракт обоих бэкендов хранения чанков.
type chunkStorage interface {
	SaveChunk(pos vec.ChunkPos, buf *chunk.Buffer) error
	LoadChunk(pos vec.ChunkPos) (*chunk.Buffer, error)
	SaveAll(chunks map[vec.ChunkPos]*chunk.Buffer) error
}

func testChunkStorage(t *testing.T, store chunkStorage) {
	t.Helper()

	pos := vec.ChunkPos{X: 1, Y: -2, Z: 3}
	buf := chunk.NewBuffer(pos)
	buf.Set(vec.LocalPos{X: 1, Y: 2, Z: 3}, block.Stone)
	buf.Set(vec.LocalPos{X: 4, Y: 5, Z: 6}, block.Dirt)

	// Отсутствующий чанк: (nil, nil).
	loaded, err := store.LoadChunk(pos)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Сохранение и загрузка.
	require.NoError(t, store.SaveChunk(pos, buf))
	loaded, err = store.LoadChunk(pos)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Equal(buf), "Содержимое чанка изменилось после цикла сохранения")

	// Upsert: повторное сохранение перезаписывает.
	buf.Set(vec.LocalPos{X: 1, Y: 2, Z: 3}, block.Water)
	require.NoError(t, store.SaveChunk(pos, buf))
	loaded, err = store.LoadChunk(pos)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, block.Water, loaded.Get(vec.LocalPos{X: 1, Y: 2, Z: 3}))

	// Массовое сохранение.
	bulk := map[vec.ChunkPos]*chunk.Buffer{}
	for i := int32(0); i < 5; i++ {
		p := vec.ChunkPos{X: 10 + i, Y: 0, Z: 0}
		b := chunk.NewBuffer(p)
		b.Set(vec.LocalPos{X: uint32(i), Y: 0, Z: 0}, block.Sand)
		bulk[p] = b
	}
	require.NoError(t, store.SaveAll(bulk))

	for p, expected := range bulk {
		got, err := store.LoadChunk(p)
		require.NoError(t, err)
		require.NotNil(t, got, "Чанк %+v не сохранён массовым сохранением", p)
		assert.True(t, got.Equal(expected))
	}
}

func TestBadgerChunkStorage(t *testing.T) {
	store, err := NewBadgerChunkStorage(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	testChunkStorage(t, store)
}

func TestSQLiteChunkStorage(t *testing.T) {
	store, err := NewSQLiteChunkStorage(filepath.Join(t.TempDir(), "world.db"))
	require.NoError(t, err)
	defer store.Close()

	testChunkStorage(t, store)
}

func TestSQLiteMalformedBlobTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "world.db")
	store, err := NewSQLiteChunkStorage(path)
	require.NoError(t, err)
	defer store.Close()

	// Пишем мусор напрямую в таблицу.
	_, err = store.db.Exec(
		`INSERT INTO chunks (x, y, z, data) VALUES (0, 0, 0, ?)`, []byte("мусор"))
	require.NoError(t, err)

	loaded, err := store.LoadChunk(vec.ChunkPos{})
	require.NoError(t, err)
	assert.Nil(t, loaded, "Повреждённый блоб должен трактоваться как отсутствующий")
}

func TestMemoryPositionRepo(t *testing.T) {
	repo := NewMemoryPositionRepo()
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		expected := vec.PrecisePos{X: 10.5, Y: 64, Z: -20.25}
		require.NoError(t, repo.Save(ctx, 123, expected))

		pos, found, err := repo.Load(ctx, 123)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, expected, pos)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, found, err := repo.Load(ctx, 999)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, 456, vec.PrecisePos{X: 1}))
		require.NoError(t, repo.Delete(ctx, 456))

		_, found, err := repo.Load(ctx, 456)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("BatchSave", func(t *testing.T) {
		positions := map[uint64]vec.PrecisePos{
			100: {X: 10, Y: 11, Z: 12},
			200: {X: 20, Y: 21, Z: 22},
		}
		require.NoError(t, repo.BatchSave(ctx, positions))

		for entityID, expected := range positions {
			pos, found, err := repo.Load(ctx, entityID)
			require.NoError(t, err)
			require.True(t, found, "Позиция %d не найдена", entityID)
			assert.Equal(t, expected, pos)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		assert.Error(t, repo.Save(ctx, 0, vec.PrecisePos{}))
		_, _, err := repo.Load(ctx, 0)
		assert.Error(t, err)
	})

	t.Run("Context Cancellation", func(t *testing.T) {
		canceled, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, repo.Save(canceled, 555, vec.PrecisePos{}), context.Canceled)
	})
}
