package chunk

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

func TestBufferInitializedEmpty(t *testing.T) {
	buf := NewBuffer(vec.ChunkPos{X: 5, Y: -2, Z: 10})

	if buf.Pos.X != 5 || buf.Pos.Y != -2 || buf.Pos.Z != 10 {
		t.Errorf("Неверная позиция чанка: %+v", buf.Pos)
	}

	// Каждая ячейка нового буфера должна быть Empty.
	for _, local := range []vec.LocalPos{
		{X: 0, Y: 0, Z: 0},
		{X: 3, Y: 4, Z: 5},
		{X: vec.ChunkWidth - 1, Y: vec.ChunkHeight - 1, Z: vec.ChunkDepth - 1},
	} {
		if id := buf.Get(local); id != block.Empty {
			t.Errorf("Ожидался Empty в %+v, получен %v", local, id)
		}
	}
	if buf.NonEmptyCount() != 0 {
		t.Errorf("Новый буфер должен быть пуст, найдено %d блоков", buf.NonEmptyCount())
	}
}

func TestBufferSetGet(t *testing.T) {
	buf := NewBuffer(vec.ChunkPos{})
	pos := vec.LocalPos{X: 7, Y: 8, Z: 9}

	buf.Set(pos, block.Stone)
	if id := buf.Get(pos); id != block.Stone {
		t.Errorf("Ожидался Stone, получен %v", id)
	}

	// Соседние ячейки не должны быть затронуты.
	if id := buf.Get(vec.LocalPos{X: 8, Y: 8, Z: 9}); id != block.Empty {
		t.Errorf("Соседняя ячейка повреждена: %v", id)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	buf := NewBuffer(vec.ChunkPos{X: 1, Y: 2, Z: 3})
	buf.Set(vec.LocalPos{X: 0, Y: 0, Z: 0}, block.Bedrock)
	buf.Set(vec.LocalPos{X: 10, Y: 20, Z: 30}, block.Grass)
	buf.Set(vec.LocalPos{X: vec.ChunkWidth - 1, Y: 0, Z: vec.ChunkDepth - 1}, block.Water)

	data := buf.Serialize()
	restored, err := Deserialize(buf.Pos, data)
	if err != nil {
		t.Fatalf("Ошибка десериализации: %v", err)
	}

	if !restored.Equal(buf) {
		t.Error("Нарушен round-trip кодека: буферы различаются")
	}
	if restored.Pos != buf.Pos {
		t.Errorf("Позиция потеряна: %+v != %+v", restored.Pos, buf.Pos)
	}
}

func TestCodecDeterminism(t *testing.T) {
	// Два буфера с одинаковым содержимым, но разной историей изменений,
	// должны сериализоваться в одинаковые байты.
	a := NewBuffer(vec.ChunkPos{})
	a.Set(vec.LocalPos{X: 1, Y: 1, Z: 1}, block.Stone)
	a.Set(vec.LocalPos{X: 2, Y: 2, Z: 2}, block.Dirt)

	b := NewBuffer(vec.ChunkPos{})
	b.Set(vec.LocalPos{X: 2, Y: 2, Z: 2}, block.Sand)
	b.Set(vec.LocalPos{X: 1, Y: 1, Z: 1}, block.Stone)
	b.Set(vec.LocalPos{X: 2, Y: 2, Z: 2}, block.Dirt)
	b.Set(vec.LocalPos{X: 5, Y: 5, Z: 5}, block.Wood)
	b.Set(vec.LocalPos{X: 5, Y: 5, Z: 5}, block.Empty)

	if !bytes.Equal(a.Serialize(), b.Serialize()) {
		t.Error("Сериализация недетерминирована для одинакового содержимого")
	}
}

func TestCodecByteLayout(t *testing.T) {
	// Сценарий: два блока — (1,2,3)=Stone и (4,5,6)=Dirt.
	buf := NewBuffer(vec.ChunkPos{})
	buf.Set(vec.LocalPos{X: 1, Y: 2, Z: 3}, block.Stone)
	buf.Set(vec.LocalPos{X: 4, Y: 5, Z: 6}, block.Dirt)

	data := buf.Serialize()

	expectedLen := headerSize + 2*entrySize
	if len(data) != expectedLen {
		t.Fatalf("Ожидалась длина %d, получено %d", expectedLen, len(data))
	}

	if !bytes.Equal(data[0:4], []byte("SCO1")) {
		t.Errorf("Неверная сигнатура: %q", data[0:4])
	}
	if data[4] != codecVersion || data[5] != 0 {
		t.Errorf("Неверные version/reserved: %d/%d", data[4], data[5])
	}
	if binary.LittleEndian.Uint16(data[6:8]) != codecBlockSize {
		t.Error("Неверный block_size")
	}
	if binary.LittleEndian.Uint32(data[8:12]) != 2 {
		t.Error("Ожидалось count=2")
	}

	// Первая запись: (1,2,3) упаковывается в 1<<16|2<<8|3.
	key0 := binary.LittleEndian.Uint32(data[12:16])
	if key0 != 1<<16|2<<8|3 {
		t.Errorf("Неверный ключ первой записи: %d", key0)
	}
	if block.ID(data[16]) != block.Stone {
		t.Errorf("Ожидался Stone, получен %d", data[16])
	}

	key1 := binary.LittleEndian.Uint32(data[17:21])
	if key1 != 4<<16|5<<8|6 {
		t.Errorf("Неверный ключ второй записи: %d", key1)
	}
	if block.ID(data[21]) != block.Dirt {
		t.Errorf("Ожидался Dirt, получен %d", data[21])
	}

	// Чтение обратно даёт ровно эти две записи.
	entries, err := DecodeEntries(data)
	if err != nil {
		t.Fatalf("Ошибка разбора: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Ожидалось 2 записи, получено %d", len(entries))
	}
}

func TestCodecRejectsMalformed(t *testing.T) {
	valid := NewBuffer(vec.ChunkPos{}).Serialize()

	cases := map[string][]byte{
		"пустые данные":        {},
		"короткий заголовок":   valid[:headerSize-1],
		"лишние байты":         append(append([]byte{}, valid...), 0),
		"неверная сигнатура":   append([]byte("XXXX"), valid[4:]...),
		"неверная версия":      append(append([]byte{}, valid[:4]...), append([]byte{99}, valid[5:]...)...),
	}

	for name, data := range cases {
		if _, err := Deserialize(vec.ChunkPos{}, data); err == nil {
			t.Errorf("Ожидалась ошибка для случая %q", name)
		}
	}

	// count не совпадает с фактическим числом записей.
	badCount := append([]byte{}, valid...)
	binary.LittleEndian.PutUint32(badCount[8:12], 5)
	if _, err := Deserialize(vec.ChunkPos{}, badCount); err == nil {
		t.Error("Ожидалась ошибка при несоответствии count")
	}
}

func TestPackUnpackKey(t *testing.T) {
	for _, local := range []vec.LocalPos{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 2, Z: 3},
		{X: vec.ChunkWidth - 1, Y: vec.ChunkHeight - 1, Z: vec.ChunkDepth - 1},
	} {
		key := PackKey(local)
		if got := UnpackKey(key); got != local {
			t.Errorf("Нарушен round-trip ключа: %+v -> %d -> %+v", local, key, got)
		}
	}
}

func TestTopNonEmptyY(t *testing.T) {
	buf := NewBuffer(vec.ChunkPos{})

	if _, ok := buf.TopNonEmptyY(3, 3); ok {
		t.Error("Пустая колонка не должна иметь вершины")
	}

	buf.Set(vec.LocalPos{X: 3, Y: 4, Z: 3}, block.Stone)
	buf.Set(vec.LocalPos{X: 3, Y: 10, Z: 3}, block.Dirt)

	y, ok := buf.TopNonEmptyY(3, 3)
	if !ok || y != 10 {
		t.Errorf("Ожидалась вершина y=10, получено y=%d ok=%v", y, ok)
	}
}
