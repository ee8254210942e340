// Package overlay реализует композиционный конвейер генерации чанков.
//
// Оверлей — чистая функция: по буферу-назначению и необязательному
// родительскому буферу записывает содержимое назначения. Результат
// детерминирован конфигурацией оверлея и мировой позицией чанка,
// которая берётся из тега позиции буфера-назначения.
package overlay

import (
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

// Overlay записывает буфер-назначение, опционально читая родительский слой.
// parent == nil трактуется как слой, целиком заполненный Empty.
type Overlay interface {
	GenerateInto(dst *chunk.Buffer, parent *chunk.Buffer)
}

// parentAt возвращает блок родительского слоя или Empty, если слоя нет.
func parentAt(parent *chunk.Buffer, local vec.LocalPos) block.ID {
	if parent == nil {
		return block.Empty
	}
	return parent.Get(local)
}

// Empty заполняет назначение блоками Empty, игнорируя родителя.
type Empty struct{}

// GenerateInto реализует Overlay.
func (Empty) GenerateInto(dst *chunk.Buffer, _ *chunk.Buffer) {
	dst.Fill(block.Empty)
}

// Chain применяет упорядоченный список оверлеев снизу вверх.
// Промежуточные слои пишут во временный буфер, который становится
// родителем следующего слоя; верхний слой пишет прямо в назначение.
// Пустой список заполняет назначение Empty.
type Chain struct {
	Layers []Overlay
}

// NewChain создаёт цепочку из перечисленных слоёв (снизу вверх).
func NewChain(layers ...Overlay) *Chain {
	return &Chain{Layers: layers}
}

// GenerateInto реализует Overlay.
func (c *Chain) GenerateInto(dst *chunk.Buffer, parent *chunk.Buffer) {
	if len(c.Layers) == 0 {
		dst.Fill(block.Empty)
		return
	}

	cur := parent
	for _, layer := range c.Layers[:len(c.Layers)-1] {
		scratch := chunk.NewBuffer(dst.Pos)
		layer.GenerateInto(scratch, cur)
		cur = scratch
	}
	c.Layers[len(c.Layers)-1].GenerateInto(dst, cur)
}

// Merge независимо применяет два оверлея и для каждой ячейки берёт
// результат первого, если он не Empty, иначе результат второго:
// второй оверлей заполняет пробелы первого.
type Merge struct {
	First  Overlay
	Second Overlay
}

// GenerateInto реализует Overlay.
func (m *Merge) GenerateInto(dst *chunk.Buffer, parent *chunk.Buffer) {
	first := chunk.NewBuffer(dst.Pos)
	m.First.GenerateInto(first, parent)

	second := chunk.NewBuffer(dst.Pos)
	m.Second.GenerateInto(second, parent)

	for i := uint32(0); i < chunk.Volume; i++ {
		if id := first.GetIndex(i); id != block.Empty {
			dst.SetIndex(i, id)
		} else {
			dst.SetIndex(i, second.GetIndex(i))
		}
	}
}
