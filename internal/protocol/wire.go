package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/annel0/voxel-world/internal/vec"
)

// Writer накапливает поля сообщения в little-endian представлении.
type Writer struct {
	buf []byte
}

// NewWriter создаёт пустой Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes возвращает накопленные байты.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Bool записывает булево значение одним байтом.
func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// Uint8 записывает один байт.
func (w *Writer) Uint8(v uint8) {
	w.buf = append(w.buf, v)
}

// Uint32 записывает u32.
func (w *Writer) Uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// Uint64 записывает u64.
func (w *Writer) Uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// Int32 записывает i32.
func (w *Writer) Int32(v int32) {
	w.Uint32(uint32(v))
}

// Int64 записывает i64.
func (w *Writer) Int64(v int64) {
	w.Uint64(uint64(v))
}

// Float64 записывает f64 в формате IEEE 754.
func (w *Writer) Float64(v float64) {
	w.Uint64(math.Float64bits(v))
}

// String записывает UTF-8 строку с u32-префиксом длины.
func (w *Writer) String(s string) {
	w.Uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Bytes32 записывает байтовую строку с u32-префиксом длины.
func (w *Writer) Bytes32(b []byte) {
	w.Uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// BlockPos записывает позицию блока (3×i64).
func (w *Writer) BlockPos(p vec.BlockPos) {
	w.Int64(p.X)
	w.Int64(p.Y)
	w.Int64(p.Z)
}

// ChunkPos записывает позицию чанка (3×i32).
func (w *Writer) ChunkPos(p vec.ChunkPos) {
	w.Int32(p.X)
	w.Int32(p.Y)
	w.Int32(p.Z)
}

// PrecisePos записывает точную позицию (3×f64).
func (w *Writer) PrecisePos(p vec.PrecisePos) {
	w.Float64(p.X)
	w.Float64(p.Y)
	w.Float64(p.Z)
}

// Reader последовательно разбирает поля сообщения. Первая ошибка
// запоминается; последующие чтения возвращают нулевые значения.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader создаёт Reader поверх байтов тела сообщения.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Err возвращает первую ошибку разбора.
func (r *Reader) Err() error {
	return r.err
}

// Empty возвращает true, если все байты прочитаны.
func (r *Reader) Empty() bool {
	return r.off >= len(r.buf)
}

func (r *Reader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: обрыв на поле %s", ErrMessageMalformed, what)
	}
}

func (r *Reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.fail(what)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Bool читает булево значение.
func (r *Reader) Bool() bool {
	b := r.take(1, "bool")
	return b != nil && b[0] != 0
}

// Uint8 читает один байт.
func (r *Reader) Uint8() uint8 {
	b := r.take(1, "u8")
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint32 читает u32.
func (r *Reader) Uint32() uint32 {
	b := r.take(4, "u32")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Uint64 читает u64.
func (r *Reader) Uint64() uint64 {
	b := r.take(8, "u64")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Int32 читает i32.
func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

// Int64 читает i64.
func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

// Float64 читает f64.
func (r *Reader) Float64() float64 {
	return math.Float64frombits(r.Uint64())
}

// String читает UTF-8 строку с u32-префиксом длины.
func (r *Reader) String() string {
	n := r.Uint32()
	b := r.take(int(n), "string")
	if b == nil {
		return ""
	}
	if !utf8.Valid(b) {
		r.fail("string(utf8)")
		return ""
	}
	return string(b)
}

// Bytes32 читает байтовую строку с u32-префиксом длины.
func (r *Reader) Bytes32() []byte {
	n := r.Uint32()
	b := r.take(int(n), "bytes")
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// BlockPos читает позицию блока.
func (r *Reader) BlockPos() vec.BlockPos {
	return vec.BlockPos{X: r.Int64(), Y: r.Int64(), Z: r.Int64()}
}

// ChunkPos читает позицию чанка.
func (r *Reader) ChunkPos() vec.ChunkPos {
	return vec.ChunkPos{X: r.Int32(), Y: r.Int32(), Z: r.Int32()}
}

// PrecisePos читает точную позицию.
func (r *Reader) PrecisePos() vec.PrecisePos {
	return vec.PrecisePos{X: r.Float64(), Y: r.Float64(), Z: r.Float64()}
}
