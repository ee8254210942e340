package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// Разреженный формат "SCO1" (little-endian):
//
//	magic      "SCO1"  4 байта
//	version    u8 (=1)
//	reserved   u8 (=0)
//	block_size u16 (=1)
//	count      u32
//	entries    count × (packed_index u32, block u8)
//
// packed_index = x<<16 | y<<8 | z; записи отсортированы по возрастанию,
// блоки Empty отфильтрованы. Формат един для персистентности и RPC.
const (
	codecVersion   = 1
	codecBlockSize = 1
	headerSize     = 4 + 1 + 1 + 2 + 4
	entrySize      = 4 + 1
)

var codecMagic = [4]byte{'S', 'C', 'O', '1'}

// ErrPayloadMalformed возвращается при любом нарушении формата полезной нагрузки.
var ErrPayloadMalformed = errors.New("повреждённая полезная нагрузка чанка")

// Entry представляет одну запись разреженного формата.
type Entry struct {
	Key uint32
	ID  block.ID
}

// PackKey упаковывает локальную позицию в ключ разреженного формата.
func PackKey(local vec.LocalPos) uint32 {
	return local.X<<16 | local.Y<<8 | local.Z
}

// UnpackKey распаковывает ключ разреженного формата в локальную позицию.
func UnpackKey(key uint32) vec.LocalPos {
	return vec.LocalPos{
		X: key >> 16 & 0xFF,
		Y: key >> 8 & 0xFF,
		Z: key & 0xFF,
	}
}

// EncodeEntries сериализует отсортированный список записей в формат SCO1.
// Записи должны быть отсортированы по возрастанию ключа и не содержать Empty.
func EncodeEntries(entries []Entry) []byte {
	data := make([]byte, headerSize+len(entries)*entrySize)
	copy(data[0:4], codecMagic[:])
	data[4] = codecVersion
	data[5] = 0
	binary.LittleEndian.PutUint16(data[6:8], codecBlockSize)
	binary.LittleEndian.PutUint32(data[8:12], uint32(len(entries)))

	off := headerSize
	for _, e := range entries {
		binary.LittleEndian.PutUint32(data[off:off+4], e.Key)
		data[off+4] = byte(e.ID)
		off += entrySize
	}
	return data
}

// DecodeEntries разбирает полезную нагрузку SCO1 в список записей.
func DecodeEntries(data []byte) ([]Entry, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: длина %d меньше заголовка", ErrPayloadMalformed, len(data))
	}
	if [4]byte(data[0:4]) != codecMagic {
		return nil, fmt.Errorf("%w: неверная сигнатура", ErrPayloadMalformed)
	}
	if data[4] != codecVersion {
		return nil, fmt.Errorf("%w: неподдерживаемая версия %d", ErrPayloadMalformed, data[4])
	}
	if blockSize := binary.LittleEndian.Uint16(data[6:8]); blockSize != codecBlockSize {
		return nil, fmt.Errorf("%w: неверный размер блока %d", ErrPayloadMalformed, blockSize)
	}

	count := binary.LittleEndian.Uint32(data[8:12])
	if len(data) != headerSize+int(count)*entrySize {
		return nil, fmt.Errorf("%w: длина %d не соответствует count=%d",
			ErrPayloadMalformed, len(data), count)
	}

	entries := make([]Entry, 0, count)
	off := headerSize
	var prevKey uint32
	for i := uint32(0); i < count; i++ {
		key := binary.LittleEndian.Uint32(data[off : off+4])
		id := block.ID(data[off+4])
		off += entrySize

		if i > 0 && key <= prevKey {
			return nil, fmt.Errorf("%w: ключи не отсортированы", ErrPayloadMalformed)
		}
		if !UnpackKey(key).Valid() || key>>24 != 0 {
			return nil, fmt.Errorf("%w: ключ %d вне границ чанка", ErrPayloadMalformed, key)
		}
		if id == block.Empty {
			return nil, fmt.Errorf("%w: запись с блоком Empty", ErrPayloadMalformed)
		}
		prevKey = key

		entries = append(entries, Entry{Key: key, ID: id})
	}
	return entries, nil
}

// Serialize сериализует буфер в разреженный формат SCO1.
// Результат детерминирован: зависит только от содержимого буфера.
func (b *Buffer) Serialize() []byte {
	entries := make([]Entry, 0, 256)
	// Обход x, затем y, затем z даёт возрастающий порядок упакованных ключей.
	for x := uint32(0); x < vec.ChunkWidth; x++ {
		for y := uint32(0); y < vec.ChunkHeight; y++ {
			for z := uint32(0); z < vec.ChunkDepth; z++ {
				local := vec.LocalPos{X: x, Y: y, Z: z}
				if id := b.Get(local); id != block.Empty {
					entries = append(entries, Entry{Key: PackKey(local), ID: id})
				}
			}
		}
	}
	return EncodeEntries(entries)
}

// Deserialize восстанавливает буфер чанка из полезной нагрузки SCO1.
func Deserialize(pos vec.ChunkPos, data []byte) (*Buffer, error) {
	entries, err := DecodeEntries(data)
	if err != nil {
		return nil, err
	}

	buf := NewBuffer(pos)
	for _, e := range entries {
		buf.Set(UnpackKey(e.Key), e.ID)
	}
	return buf, nil
}
