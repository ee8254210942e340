// Package vec содержит координатные пространства мира и преобразования между ними.
package vec

import (
	"errors"
	"math"
)

// Размеры чанка. Каждая ось не превышает 256, чтобы упакованный
// u32-ключ разреженного формата (x<<16|y<<8|z) оставался корректным,
// а произведение W·H·D помещалось в 32-битный индекс.
const (
	ChunkWidth  = 32
	ChunkHeight = 32
	ChunkDepth  = 32
)

// ErrOutOfRange возвращается, когда координата чанка не помещается в int32.
var ErrOutOfRange = errors.New("координата чанка вне диапазона int32")

// BlockPos представляет позицию вокселя в глобальной сетке блоков.
type BlockPos struct {
	X, Y, Z int64
}

// ChunkPos представляет позицию чанка в глобальной сетке чанков.
type ChunkPos struct {
	X, Y, Z int32
}

// LocalPos представляет позицию вокселя внутри чанка.
// Инвариант: X < ChunkWidth, Y < ChunkHeight, Z < ChunkDepth.
type LocalPos struct {
	X, Y, Z uint32
}

// PrecisePos представляет точную позицию сущности в мире.
type PrecisePos struct {
	X, Y, Z float64
}

// floorDiv делит с округлением к минус бесконечности (не к нулю).
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// floorMod возвращает остаток в диапазоне [0, b).
func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// ToChunk преобразует глобальные координаты блока в координаты чанка.
// Возвращает ErrOutOfRange, если результат не помещается в int32.
func (p BlockPos) ToChunk() (ChunkPos, error) {
	cx := floorDiv(p.X, ChunkWidth)
	cy := floorDiv(p.Y, ChunkHeight)
	cz := floorDiv(p.Z, ChunkDepth)
	if cx < math.MinInt32 || cx > math.MaxInt32 ||
		cy < math.MinInt32 || cy > math.MaxInt32 ||
		cz < math.MinInt32 || cz > math.MaxInt32 {
		return ChunkPos{}, ErrOutOfRange
	}
	return ChunkPos{X: int32(cx), Y: int32(cy), Z: int32(cz)}, nil
}

// LocalInChunk возвращает локальные координаты блока внутри его чанка.
func (p BlockPos) LocalInChunk() LocalPos {
	return LocalPos{
		X: uint32(floorMod(p.X, ChunkWidth)),
		Y: uint32(floorMod(p.Y, ChunkHeight)),
		Z: uint32(floorMod(p.Z, ChunkDepth)),
	}
}

// Add складывает две позиции блоков.
func (p BlockPos) Add(other BlockPos) BlockPos {
	return BlockPos{X: p.X + other.X, Y: p.Y + other.Y, Z: p.Z + other.Z}
}

// AddLocal прибавляет локальное смещение к позиции блока.
func (p BlockPos) AddLocal(l LocalPos) BlockPos {
	return BlockPos{X: p.X + int64(l.X), Y: p.Y + int64(l.Y), Z: p.Z + int64(l.Z)}
}

// Equals проверяет равенство позиций.
func (p BlockPos) Equals(other BlockPos) bool {
	return p.X == other.X && p.Y == other.Y && p.Z == other.Z
}

// Origin возвращает позицию блока-начала чанка (минимальный угол).
func (c ChunkPos) Origin() BlockPos {
	return BlockPos{
		X: int64(c.X) * ChunkWidth,
		Y: int64(c.Y) * ChunkHeight,
		Z: int64(c.Z) * ChunkDepth,
	}
}

// DistanceTo возвращает евклидово расстояние до другого чанка.
func (c ChunkPos) DistanceTo(other ChunkPos) float64 {
	dx := float64(c.X - other.X)
	dy := float64(c.Y - other.Y)
	dz := float64(c.Z - other.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// ChebyshevDistanceTo возвращает расстояние Чебышёва (L∞) до другого чанка.
func (c ChunkPos) ChebyshevDistanceTo(other ChunkPos) int32 {
	d := absInt32(c.X - other.X)
	if dy := absInt32(c.Y - other.Y); dy > d {
		d = dy
	}
	if dz := absInt32(c.Z - other.Z); dz > d {
		d = dz
	}
	return d
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// ToBlock преобразует точную позицию в позицию блока через floor по каждой оси.
func (p PrecisePos) ToBlock() BlockPos {
	return BlockPos{
		X: int64(math.Floor(p.X)),
		Y: int64(math.Floor(p.Y)),
		Z: int64(math.Floor(p.Z)),
	}
}

// Index возвращает линейный индекс локальной позиции в плотном буфере чанка.
func (l LocalPos) Index() uint32 {
	return l.X + l.Y*ChunkWidth + l.Z*ChunkWidth*ChunkHeight
}

// Valid проверяет, что локальная позиция не выходит за границы чанка.
func (l LocalPos) Valid() bool {
	return l.X < ChunkWidth && l.Y < ChunkHeight && l.Z < ChunkDepth
}
