package overlay

import (
	"testing"

	"github.com/annel0/voxel-world/internal/util"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

func TestEmptyChainFillsEmpty(t *testing.T) {
	dst := chunk.NewBuffer(vec.ChunkPos{})
	dst.Fill(block.Stone) // мусор, который цепочка обязана затереть

	NewChain().GenerateInto(dst, nil)

	if dst.NonEmptyCount() != 0 {
		t.Errorf("Пустая цепочка должна давать пустой буфер, найдено %d блоков",
			dst.NonEmptyCount())
	}
}

func TestComposeIdentity(t *testing.T) {
	dst := chunk.NewBuffer(vec.ChunkPos{X: 7, Y: 0, Z: -3})
	dst.Fill(block.Dirt)

	NewChain(Empty{}).GenerateInto(dst, nil)

	if dst.NonEmptyCount() != 0 {
		t.Error("Цепочка из одного Empty-оверлея должна давать пустой буфер")
	}
}

func TestChainTopWins(t *testing.T) {
	pos := vec.LocalPos{X: 5, Y: 6, Z: 7}

	bottom := NewSparseEdit()
	bottom.Set(pos, block.Stone)
	bottom.Set(vec.LocalPos{X: 1, Y: 1, Z: 1}, block.Sand)

	top := NewSparseEdit()
	top.Set(pos, block.Dirt)

	dst := chunk.NewBuffer(vec.ChunkPos{})
	NewChain(bottom, top).GenerateInto(dst, nil)

	// Верхний слой перекрывает нижний в общей позиции.
	if id := dst.Get(pos); id != block.Dirt {
		t.Errorf("Ожидался Dirt от верхнего слоя, получен %v", id)
	}
	// Непересекающаяся правка нижнего слоя просачивается наверх.
	if id := dst.Get(vec.LocalPos{X: 1, Y: 1, Z: 1}); id != block.Sand {
		t.Errorf("Ожидался Sand от нижнего слоя, получен %v", id)
	}
}

func TestSparseEditAppliesOverParent(t *testing.T) {
	parent := chunk.NewBuffer(vec.ChunkPos{})
	parent.Fill(block.Stone)

	se := NewSparseEdit()
	se.Set(vec.LocalPos{X: 2, Y: 3, Z: 4}, block.Water)

	dst := chunk.NewBuffer(vec.ChunkPos{})
	se.GenerateInto(dst, parent)

	if id := dst.Get(vec.LocalPos{X: 2, Y: 3, Z: 4}); id != block.Water {
		t.Errorf("Правка не применена: %v", id)
	}
	if id := dst.Get(vec.LocalPos{X: 0, Y: 0, Z: 0}); id != block.Stone {
		t.Errorf("Родитель не скопирован: %v", id)
	}
}

func TestSparseEditSerializeRoundTrip(t *testing.T) {
	se := NewSparseEdit()
	se.Set(vec.LocalPos{X: 1, Y: 2, Z: 3}, block.Stone)
	se.Set(vec.LocalPos{X: 4, Y: 5, Z: 6}, block.Dirt)

	data := se.Serialize()
	restored, err := DeserializeSparseEdit(data)
	if err != nil {
		t.Fatalf("Ошибка десериализации: %v", err)
	}

	if restored.Len() != 2 {
		t.Fatalf("Ожидалось 2 правки, получено %d", restored.Len())
	}
	if id := restored.Get(vec.LocalPos{X: 1, Y: 2, Z: 3}); id != block.Stone {
		t.Errorf("Потеряна правка Stone: %v", id)
	}
	if id := restored.Get(vec.LocalPos{X: 4, Y: 5, Z: 6}); id != block.Dirt {
		t.Errorf("Потеряна правка Dirt: %v", id)
	}

	// Установка Empty удаляет запись.
	restored.Set(vec.LocalPos{X: 1, Y: 2, Z: 3}, block.Empty)
	if restored.Len() != 1 {
		t.Errorf("Empty-правка должна удалять запись, осталось %d", restored.Len())
	}
}

func TestOverlayDeterminism(t *testing.T) {
	build := func() *chunk.Buffer {
		noise := util.NewPerlinNoise(42)
		chain := NewChain(
			&PerlinHeightColumn{
				Noise: noise, Frequency: 0.07, Threshold: 0.55,
				BaseThickness: 2, Extra: 1, Block: block.Bedrock,
			},
			&TerrainHeight{
				Noise: noise, Frequency: 0.01, BaseHeight: 16,
				Variation: 8, Block: block.Stone,
			},
			&LayerReplace{From: block.Stone, To: block.Dirt, FromTop: 0, Thickness: 3},
			&Surface{Block: block.Grass},
		)
		dst := chunk.NewBuffer(vec.ChunkPos{X: 3, Y: 0, Z: -2})
		chain.GenerateInto(dst, nil)
		return dst
	}

	a := build()
	b := build()

	// Два независимых прогона одной цепочки обязаны дать побайтово
	// одинаковый результат.
	if !a.Equal(b) {
		t.Error("Генерация недетерминирована")
	}
}

func TestTerrainChainProducesExpectedLayers(t *testing.T) {
	noise := util.NewPerlinNoise(42)
	chain := NewChain(
		&TerrainHeight{
			Noise: noise, Frequency: 0.01, BaseHeight: 16,
			Variation: 8, Block: block.Stone,
		},
		&PerlinHeightColumn{
			Noise: noise, Frequency: 0.07, Threshold: 0.55,
			BaseThickness: 2, Extra: 1, Block: block.Bedrock,
		},
		&Surface{Block: block.Grass},
	)

	dst := chunk.NewBuffer(vec.ChunkPos{X: 0, Y: 0, Z: 0})
	chain.GenerateInto(dst, nil)

	// Дно мира (y=0) должно быть бедроком во всех колонках.
	for x := uint32(0); x < vec.ChunkWidth; x++ {
		for z := uint32(0); z < vec.ChunkDepth; z++ {
			if id := dst.Get(vec.LocalPos{X: x, Y: 0, Z: z}); id != block.Bedrock {
				t.Fatalf("Ожидался Bedrock на дне колонки (%d,%d), получен %v", x, z, id)
			}
		}
	}

	// Под поверхностью должен быть камень.
	if id := dst.Get(vec.LocalPos{X: 4, Y: 10, Z: 4}); id != block.Stone {
		t.Errorf("Ожидался Stone под поверхностью, получен %v", id)
	}

	// Поверх каждой колонки — ровно один блок травы.
	top, ok := dst.TopNonEmptyY(4, 4)
	if !ok {
		t.Fatal("Колонка (4,4) пуста")
	}
	if id := dst.Get(vec.LocalPos{X: 4, Y: top, Z: 4}); id != block.Grass {
		t.Errorf("Ожидалась Grass на вершине колонки, получен %v", id)
	}
}

func TestMergeSecondFillsGaps(t *testing.T) {
	first := NewSparseEdit()
	first.Set(vec.LocalPos{X: 1, Y: 1, Z: 1}, block.Stone)

	second := NewSparseEdit()
	second.Set(vec.LocalPos{X: 1, Y: 1, Z: 1}, block.Sand) // конфликт: выигрывает first
	second.Set(vec.LocalPos{X: 2, Y: 2, Z: 2}, block.Water)

	dst := chunk.NewBuffer(vec.ChunkPos{})
	(&Merge{First: first, Second: second}).GenerateInto(dst, nil)

	if id := dst.Get(vec.LocalPos{X: 1, Y: 1, Z: 1}); id != block.Stone {
		t.Errorf("В конфликте должен выигрывать первый оверлей, получен %v", id)
	}
	if id := dst.Get(vec.LocalPos{X: 2, Y: 2, Z: 2}); id != block.Water {
		t.Errorf("Второй оверлей должен заполнять пробелы, получен %v", id)
	}
}
