package world

import (
	"errors"
	"testing"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

// fakePersistence — персистентность в памяти для тестов.
type fakePersistence struct {
	blobs    map[vec.ChunkPos][]byte
	failSave bool
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{blobs: make(map[vec.ChunkPos][]byte)}
}

func (f *fakePersistence) SaveChunk(pos vec.ChunkPos, buf *chunk.Buffer) error {
	if f.failSave {
		return errors.New("отказ сохранения")
	}
	f.blobs[pos] = buf.Serialize()
	return nil
}

func (f *fakePersistence) LoadChunk(pos vec.ChunkPos) (*chunk.Buffer, error) {
	data, ok := f.blobs[pos]
	if !ok {
		return nil, nil
	}
	return chunk.Deserialize(pos, data)
}

func (f *fakePersistence) SaveAll(chunks map[vec.ChunkPos]*chunk.Buffer) error {
	for pos, buf := range chunks {
		if err := f.SaveChunk(pos, buf); err != nil {
			return err
		}
	}
	return nil
}

func TestAnchorCoverage(t *testing.T) {
	w := NewWorld(Options{
		Anchors: []vec.BlockPos{{X: 0, Y: 0, Z: 0}},
		Radius:  2,
	})

	w.EnsureChunksLoaded()

	// Каждый чанк в сфере радиуса 2 вокруг (0,0,0) резидентен,
	// и ни один резидентный чанк не лежит вне сферы.
	center := vec.ChunkPos{}
	for dx := int32(-3); dx <= 3; dx++ {
		for dy := int32(-3); dy <= 3; dy++ {
			for dz := int32(-3); dz <= 3; dz++ {
				pos := vec.ChunkPos{X: dx, Y: dy, Z: dz}
				inSphere := pos.DistanceTo(center) <= 2.0
				_, resident := w.ChunkAt(pos)
				if inSphere && !resident {
					t.Errorf("Чанк %+v внутри сферы, но не загружен", pos)
				}
				if !inSphere && resident {
					t.Errorf("Чанк %+v вне сферы, но загружен", pos)
				}
			}
		}
	}
}

func TestEnsureChunksLoadedIdempotent(t *testing.T) {
	w := NewWorld(Options{Radius: 1})

	w.EnsureChunksLoaded()
	first := w.LoadedCount()
	w.EnsureChunksLoaded()
	second := w.LoadedCount()

	if first != second {
		t.Errorf("Повторный вызов изменил число чанков: %d -> %d", first, second)
	}
	if first == 0 {
		t.Error("Ни один чанк не загружен")
	}
}

func TestSetAndGetBlock(t *testing.T) {
	w := NewWorld(Options{Radius: 1})
	w.EnsureChunksLoaded()

	pos := vec.BlockPos{X: 3, Y: 4, Z: 5}
	if !w.SetBlockIfLoaded(pos, block.Stone) {
		t.Fatal("Запись в загруженный чанк не удалась")
	}

	id, ok := w.GetBlockIfLoaded(pos)
	if !ok || id != block.Stone {
		t.Errorf("Ожидался Stone, получено %v ok=%v", id, ok)
	}

	// Запись в незагруженный чанк возвращает false.
	far := vec.BlockPos{X: 1000 * vec.ChunkWidth, Y: 0, Z: 0}
	if w.SetBlockIfLoaded(far, block.Dirt) {
		t.Error("Запись в незагруженный чанк должна возвращать false")
	}
	if _, ok := w.GetBlockIfLoaded(far); ok {
		t.Error("Чтение из незагруженного чанка должно возвращать false")
	}
}

func TestEvictionRoundTrip(t *testing.T) {
	persist := newFakePersistence()

	anchor := vec.BlockPos{X: 0, Y: 0, Z: 0}
	anchorFunc := func() []vec.BlockPos { return []vec.BlockPos{anchor} }

	w := NewWorld(Options{
		AnchorFunc:  anchorFunc,
		Radius:      1,
		Persistence: persist,
	})
	w.EnsureChunksLoaded()

	// Помечаем блок в чанке (5,5,5).
	target := vec.BlockPos{X: 5 * vec.ChunkWidth, Y: 5 * vec.ChunkHeight, Z: 5 * vec.ChunkDepth}
	targetChunk, err := target.ToChunk()
	if err != nil {
		t.Fatal(err)
	}

	// Сначала подводим якорь к целевому чанку.
	anchor = target
	w.EnsureChunksLoaded()
	if !w.SetBlockIfLoaded(target, block.Wood) {
		t.Fatal("Целевой чанк должен быть загружен")
	}

	// Уводим якорь далеко: чанк выгружается и сохраняется.
	anchor = vec.BlockPos{X: -100 * vec.ChunkWidth, Y: 0, Z: 0}
	w.EnsureChunksLoaded()

	if _, resident := w.ChunkAt(targetChunk); resident {
		t.Fatal("Чанк должен быть выгружен")
	}
	if _, saved := persist.blobs[targetChunk]; !saved {
		t.Fatal("Выгруженный чанк должен быть сохранён")
	}

	// Возвращаем якорь: чанк загружается из персистентности с правкой.
	anchor = target
	w.EnsureChunksLoaded()

	id, ok := w.GetBlockIfLoaded(target)
	if !ok || id != block.Wood {
		t.Errorf("Блок потерян после цикла выгрузки: %v ok=%v", id, ok)
	}
}

func TestPersistenceWinsOverGenerator(t *testing.T) {
	persist := newFakePersistence()

	// Сохраняем в персистентность чанк с меткой.
	marked := chunk.NewBuffer(vec.ChunkPos{})
	marked.Set(vec.LocalPos{X: 1, Y: 1, Z: 1}, block.Leaves)
	if err := persist.SaveChunk(vec.ChunkPos{}, marked); err != nil {
		t.Fatal(err)
	}

	w := NewWorld(Options{
		Generator:   NewTerrainGenerator(),
		Anchors:     []vec.BlockPos{{X: 0, Y: 0, Z: 0}},
		Radius:      1,
		Seed:        42,
		Persistence: persist,
	})
	w.EnsureChunksLoaded()

	// Персистентность авторитетна: генератор не должен перезаписать блоб.
	id, ok := w.GetBlockIfLoaded(vec.BlockPos{X: 1, Y: 1, Z: 1})
	if !ok || id != block.Leaves {
		t.Errorf("Ожидался Leaves из персистентности, получено %v ok=%v", id, ok)
	}
}

func TestEvictionProceedsOnSaveError(t *testing.T) {
	persist := newFakePersistence()

	anchor := vec.BlockPos{X: 0, Y: 0, Z: 0}
	w := NewWorld(Options{
		AnchorFunc:  func() []vec.BlockPos { return []vec.BlockPos{anchor} },
		Radius:      1,
		Persistence: persist,
	})
	w.EnsureChunksLoaded()
	before := w.LoadedCount()
	if before == 0 {
		t.Fatal("Чанки не загружены")
	}

	// Ошибка сохранения не должна блокировать выгрузку.
	persist.failSave = true
	anchor = vec.BlockPos{X: 1000 * vec.ChunkWidth, Y: 0, Z: 0}
	w.EnsureChunksLoaded()

	if _, resident := w.ChunkAt(vec.ChunkPos{}); resident {
		t.Error("Чанк должен быть выгружен несмотря на ошибку сохранения")
	}
}

func TestSessionPositionsActAsAnchors(t *testing.T) {
	w := NewWorld(Options{
		Anchors: []vec.BlockPos{},
		Radius:  1,
	})

	// Без якорей и сессий мир пуст.
	w.EnsureChunksLoaded()
	if w.LoadedCount() != 0 {
		t.Fatalf("Мир без якорей должен быть пуст, загружено %d", w.LoadedCount())
	}

	spawn := vec.PrecisePos{X: 10 * vec.ChunkWidth, Y: 0, Z: 0}
	if _, _, err := w.ConnectPlayer("P", spawn); err != nil {
		t.Fatal(err)
	}

	w.EnsureChunksLoaded()

	spawnChunk, err := spawn.ToBlock().ToChunk()
	if err != nil {
		t.Fatal(err)
	}
	if _, resident := w.ChunkAt(spawnChunk); !resident {
		t.Error("Чанк вокруг позиции игрока должен быть загружен")
	}
}

func TestTerrainGeneratorScenario(t *testing.T) {
	// Сценарий: сервер с TerrainGenerator, seed=42, r=3, якорь (0,0,0).
	w := NewWorld(Options{
		Generator: NewTerrainGenerator(),
		Anchors:   []vec.BlockPos{{X: 0, Y: 0, Z: 0}},
		Radius:    3,
		Seed:      42,
	})
	w.EnsureChunksLoaded()

	buf, ok := w.ChunkAt(vec.ChunkPos{})
	if !ok {
		t.Fatal("Чанк (0,0,0) должен быть загружен")
	}

	// В плоскости y=0 должен присутствовать бедрок.
	foundBedrock := false
	for x := uint32(0); x < vec.ChunkWidth && !foundBedrock; x++ {
		for z := uint32(0); z < vec.ChunkDepth; z++ {
			if buf.Get(vec.LocalPos{X: x, Y: 0, Z: z}) == block.Bedrock {
				foundBedrock = true
				break
			}
		}
	}
	if !foundBedrock {
		t.Error("В плоскости y=0 не найден Bedrock")
	}

	// Под поверхностью должен быть камень.
	foundStone := false
	for x := uint32(0); x < vec.ChunkWidth && !foundStone; x++ {
		for z := uint32(0); z < vec.ChunkDepth; z++ {
			for y := uint32(3); y < 12; y++ {
				if buf.Get(vec.LocalPos{X: x, Y: y, Z: z}) == block.Stone {
					foundStone = true
					break
				}
			}
		}
	}
	if !foundStone {
		t.Error("Под поверхностью не найден Stone")
	}

	// Одинаковый сид даёт побайтово одинаковые чанки.
	w2 := NewWorld(Options{
		Generator: NewTerrainGenerator(),
		Anchors:   []vec.BlockPos{{X: 0, Y: 0, Z: 0}},
		Radius:    1,
		Seed:      42,
	})
	w2.EnsureChunksLoaded()
	buf2, ok := w2.ChunkAt(vec.ChunkPos{})
	if !ok {
		t.Fatal("Чанк (0,0,0) второго мира должен быть загружен")
	}
	if !buf.Equal(buf2) {
		t.Error("Генерация с одним сидом дала разные чанки")
	}
}

func TestSaveAllAndReload(t *testing.T) {
	persist := newFakePersistence()

	w := NewWorld(Options{
		Anchors:     []vec.BlockPos{{X: 0, Y: 0, Z: 0}},
		Radius:      1,
		Persistence: persist,
	})
	w.EnsureChunksLoaded()

	pos := vec.BlockPos{X: 1, Y: 2, Z: 3}
	if !w.SetBlockIfLoaded(pos, block.Sand) {
		t.Fatal("Запись не удалась")
	}

	w.SaveAllLoadedChunks()

	// Новый мир с той же персистентностью видит правку.
	w2 := NewWorld(Options{
		Anchors:     []vec.BlockPos{{X: 0, Y: 0, Z: 0}},
		Radius:      1,
		Persistence: persist,
	})
	w2.EnsureChunksLoaded()

	id, ok := w2.GetBlockIfLoaded(pos)
	if !ok || id != block.Sand {
		t.Errorf("Правка потеряна после перезагрузки мира: %v ok=%v", id, ok)
	}
}
