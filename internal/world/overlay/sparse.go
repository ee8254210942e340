package overlay

import (
	"sort"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

// SparseEdit — разреженный изменяемый оверлей, хранящий только блоки,
// отличные от Empty. Служит слоем правок поверх сгенерированного чанка
// и одновременно единицей сериализации формата SCO1.
type SparseEdit struct {
	edits map[uint32]block.ID
}

// NewSparseEdit создаёт пустой разреженный оверлей.
func NewSparseEdit() *SparseEdit {
	return &SparseEdit{edits: make(map[uint32]block.ID)}
}

// SparseEditFromBuffer кодирует содержимое буфера в разреженный оверлей.
func SparseEditFromBuffer(buf *chunk.Buffer) *SparseEdit {
	se := NewSparseEdit()
	for x := uint32(0); x < vec.ChunkWidth; x++ {
		for y := uint32(0); y < vec.ChunkHeight; y++ {
			for z := uint32(0); z < vec.ChunkDepth; z++ {
				local := vec.LocalPos{X: x, Y: y, Z: z}
				if id := buf.Get(local); id != block.Empty {
					se.edits[chunk.PackKey(local)] = id
				}
			}
		}
	}
	return se
}

// Set записывает правку. Установка Empty удаляет запись.
func (se *SparseEdit) Set(local vec.LocalPos, id block.ID) {
	key := chunk.PackKey(local)
	if id == block.Empty {
		delete(se.edits, key)
		return
	}
	se.edits[key] = id
}

// Get возвращает правку в указанной позиции; Empty, если правки нет.
func (se *SparseEdit) Get(local vec.LocalPos) block.ID {
	return se.edits[chunk.PackKey(local)]
}

// Len возвращает число правок.
func (se *SparseEdit) Len() int {
	return len(se.edits)
}

// GenerateInto реализует Overlay: копирует родителя (или Empty)
// и накладывает правки поверх.
func (se *SparseEdit) GenerateInto(dst *chunk.Buffer, parent *chunk.Buffer) {
	if parent != nil {
		dst.CopyFrom(parent)
	} else {
		dst.Fill(block.Empty)
	}
	for key, id := range se.edits {
		dst.Set(chunk.UnpackKey(key), id)
	}
}

// Serialize кодирует правки в формат SCO1. Записи сортируются
// по возрастанию ключа, результат детерминирован.
func (se *SparseEdit) Serialize() []byte {
	entries := make([]chunk.Entry, 0, len(se.edits))
	for key, id := range se.edits {
		entries = append(entries, chunk.Entry{Key: key, ID: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return chunk.EncodeEntries(entries)
}

// DeserializeSparseEdit восстанавливает разреженный оверлей из формата SCO1.
func DeserializeSparseEdit(data []byte) (*SparseEdit, error) {
	entries, err := chunk.DecodeEntries(data)
	if err != nil {
		return nil, err
	}
	se := NewSparseEdit()
	for _, e := range entries {
		se.edits[e.Key] = e.ID
	}
	return se, nil
}
