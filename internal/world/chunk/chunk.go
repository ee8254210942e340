// Package chunk содержит плотный буфер чанка и разреженный кодек его сериализации.
package chunk

import (
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
)

// Размер плотного буфера в блоках.
const Volume = vec.ChunkWidth * vec.ChunkHeight * vec.ChunkDepth

// Страйды линейного индекса: idx = x + y*StrideY + z*StrideZ.
const (
	StrideY = vec.ChunkWidth
	StrideZ = vec.ChunkWidth * vec.ChunkHeight
)

// Buffer представляет плотный буфер блоков одного чанка.
// Буфер не синхронизирован: записи сериализуются блокировкой мира,
// которому буфер принадлежит.
type Buffer struct {
	Pos     vec.ChunkPos
	storage [Volume]block.ID
}

// NewBuffer создаёт буфер чанка, полностью заполненный Empty.
func NewBuffer(pos vec.ChunkPos) *Buffer {
	// Нулевое значение массива — block.Empty, дополнительной инициализации не требуется.
	return &Buffer{Pos: pos}
}

// Get возвращает блок по локальным координатам.
func (b *Buffer) Get(local vec.LocalPos) block.ID {
	return b.storage[local.Index()]
}

// Set устанавливает блок по локальным координатам.
func (b *Buffer) Set(local vec.LocalPos, id block.ID) {
	b.storage[local.Index()] = id
}

// GetIndex возвращает блок по линейному индексу.
func (b *Buffer) GetIndex(idx uint32) block.ID {
	return b.storage[idx]
}

// SetIndex устанавливает блок по линейному индексу.
func (b *Buffer) SetIndex(idx uint32, id block.ID) {
	b.storage[idx] = id
}

// Origin возвращает позицию блока-начала чанка в мировых координатах.
func (b *Buffer) Origin() vec.BlockPos {
	return b.Pos.Origin()
}

// Clone создаёт глубокую копию буфера.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{Pos: b.Pos}
	c.storage = b.storage
	return c
}

// CopyFrom копирует содержимое другого буфера (позиция не меняется).
func (b *Buffer) CopyFrom(other *Buffer) {
	b.storage = other.storage
}

// Fill заполняет весь буфер одним типом блока.
func (b *Buffer) Fill(id block.ID) {
	for i := range b.storage {
		b.storage[i] = id
	}
}

// Equal сравнивает содержимое двух буферов (позиция не учитывается).
func (b *Buffer) Equal(other *Buffer) bool {
	return b.storage == other.storage
}

// NonEmptyCount возвращает число блоков, отличных от Empty.
func (b *Buffer) NonEmptyCount() int {
	n := 0
	for _, id := range b.storage {
		if id != block.Empty {
			n++
		}
	}
	return n
}

// TopNonEmptyY возвращает наибольший y с блоком, отличным от Empty,
// в колонке (x,z). Второе значение false, если колонка пуста.
func (b *Buffer) TopNonEmptyY(x, z uint32) (uint32, bool) {
	for y := int(vec.ChunkHeight) - 1; y >= 0; y-- {
		if b.Get(vec.LocalPos{X: x, Y: uint32(y), Z: z}) != block.Empty {
			return uint32(y), true
		}
	}
	return 0, false
}
