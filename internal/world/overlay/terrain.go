package overlay

import (
	"math"

	"github.com/annel0/voxel-world/internal/util"
	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world/block"
	"github.com/annel0/voxel-world/internal/world/chunk"
)

// PerlinHeightColumn кладёт слой блоков переменной толщины на дно мира.
// Для каждой колонки (x,z) берётся шум в точке (wx·freq, wz·freq);
// толщина равна BaseThickness плюс Extra, если шум превысил Threshold.
// Блок записывается там, где мировой y ниже толщины, иначе — родитель.
type PerlinHeightColumn struct {
	Noise         util.Noise
	Frequency     float64
	Threshold     float64
	BaseThickness int64
	Extra         int64
	Block         block.ID
}

// GenerateInto реализует Overlay.
func (o *PerlinHeightColumn) GenerateInto(dst *chunk.Buffer, parent *chunk.Buffer) {
	origin := dst.Origin()
	for x := uint32(0); x < vec.ChunkWidth; x++ {
		for z := uint32(0); z < vec.ChunkDepth; z++ {
			// Шум сэмплируется по мировым координатам в float64:
			// узкие целочисленные касты ломают детерминизм при W > 256.
			wx := float64(origin.X + int64(x))
			wz := float64(origin.Z + int64(z))
			thickness := o.BaseThickness
			if o.Noise.Noise2D(wx*o.Frequency, wz*o.Frequency) > o.Threshold {
				thickness += o.Extra
			}

			for y := uint32(0); y < vec.ChunkHeight; y++ {
				local := vec.LocalPos{X: x, Y: y, Z: z}
				worldY := origin.Y + int64(y)
				if worldY < thickness {
					dst.Set(local, o.Block)
				} else {
					dst.Set(local, parentAt(parent, local))
				}
			}
		}
	}
}

// TerrainHeight заполняет каждую колонку блоком до высоты поверхности
// BaseHeight + ⌊noise·Variation⌋; выше поверхности копируется родитель.
type TerrainHeight struct {
	Noise      util.Noise
	Frequency  float64
	BaseHeight int64
	Variation  int64
	Block      block.ID
}

// GenerateInto реализует Overlay.
func (o *TerrainHeight) GenerateInto(dst *chunk.Buffer, parent *chunk.Buffer) {
	origin := dst.Origin()
	for x := uint32(0); x < vec.ChunkWidth; x++ {
		for z := uint32(0); z < vec.ChunkDepth; z++ {
			wx := float64(origin.X + int64(x))
			wz := float64(origin.Z + int64(z))
			noise := o.Noise.Noise2D(wx*o.Frequency, wz*o.Frequency)
			surface := o.BaseHeight + int64(math.Floor(noise*float64(o.Variation)))

			for y := uint32(0); y < vec.ChunkHeight; y++ {
				local := vec.LocalPos{X: x, Y: y, Z: z}
				if origin.Y+int64(y) <= surface {
					dst.Set(local, o.Block)
				} else {
					dst.Set(local, parentAt(parent, local))
				}
			}
		}
	}
}

// LayerReplace находит вершину каждой колонки родителя и заменяет
// блоки From на To в Thickness блоках, начиная FromTop ниже вершины.
type LayerReplace struct {
	From      block.ID
	To        block.ID
	FromTop   int64
	Thickness int64
}

// GenerateInto реализует Overlay.
func (o *LayerReplace) GenerateInto(dst *chunk.Buffer, parent *chunk.Buffer) {
	if parent != nil {
		dst.CopyFrom(parent)
	} else {
		dst.Fill(block.Empty)
		return
	}

	for x := uint32(0); x < vec.ChunkWidth; x++ {
		for z := uint32(0); z < vec.ChunkDepth; z++ {
			top, ok := dst.TopNonEmptyY(x, z)
			if !ok {
				continue
			}

			start := int64(top) - o.FromTop
			for i := int64(0); i < o.Thickness; i++ {
				y := start - i
				if y < 0 || y >= vec.ChunkHeight {
					continue
				}
				local := vec.LocalPos{X: x, Y: uint32(y), Z: z}
				if dst.Get(local) == o.From {
					dst.Set(local, o.To)
				}
			}
		}
	}
}

// Surface ставит указанный блок поверх самого верхнего непустого блока
// каждой колонки родителя.
type Surface struct {
	Block block.ID
}

// GenerateInto реализует Overlay.
func (o *Surface) GenerateInto(dst *chunk.Buffer, parent *chunk.Buffer) {
	if parent != nil {
		dst.CopyFrom(parent)
	} else {
		dst.Fill(block.Empty)
		return
	}

	for x := uint32(0); x < vec.ChunkWidth; x++ {
		for z := uint32(0); z < vec.ChunkDepth; z++ {
			top, ok := dst.TopNonEmptyY(x, z)
			if !ok || top+1 >= vec.ChunkHeight {
				continue
			}
			dst.Set(vec.LocalPos{X: x, Y: top + 1, Z: z}, o.Block)
		}
	}
}
