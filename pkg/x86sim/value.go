package x86sim

import (
	"fmt"
	"math"

	"github.com/raymyers/ralph-x86/pkg/ir"
)

// Value is the content of a register, variable or memory location as 16
// little-endian bytes. Scalars occupy the low bytes.
type Value [2]uint64

// Int returns an integer value
func Int(v int64) Value { return Value{uint64(v)} }

// Uint returns an unsigned integer value
func Uint(v uint64) Value { return Value{v} }

// F32 returns a single precision float value
func F32(f float32) Value { return Value{uint64(math.Float32bits(f))} }

// F64 returns a double precision float value
func F64(f float64) Value { return Value{math.Float64bits(f)} }

// I32x4 returns a vector of four 32-bit lanes
func I32x4(a, b, c, d int32) Value {
	return Value{
		uint64(uint32(a)) | uint64(uint32(b))<<32,
		uint64(uint32(c)) | uint64(uint32(d))<<32,
	}
}

// F32x4 returns a vector of four floats
func F32x4(a, b, c, d float32) Value {
	return I32x4(int32(math.Float32bits(a)), int32(math.Float32bits(b)),
		int32(math.Float32bits(c)), int32(math.Float32bits(d)))
}

// Uint64 returns the low 8 bytes
func (v Value) Uint64() uint64 { return v[0] }

// Int returns the low bytes as a signed integer of type ty
func (v Value) Int(ty ir.Type) int64 { return ir.SignExtend(ty, int64(v[0])) }

func (v Value) Float32() float32 { return math.Float32frombits(uint32(v[0])) }
func (v Value) Float64() float64 { return math.Float64frombits(v[0]) }

// Lane returns lane k of width bytes, zero-extended
func (v Value) Lane(width, k int) uint64 {
	off := k * width
	w := v[off/8] >> (uint(off%8) * 8)
	return w & laneMask(width)
}

// SetLane returns v with lane k of width bytes replaced by x
func (v Value) SetLane(width, k int, x uint64) Value {
	off := k * width
	shift := uint(off%8) * 8
	m := laneMask(width) << shift
	v[off/8] = v[off/8]&^m | (x<<shift)&m
	return v
}

// Truncate keeps the low n bytes
func (v Value) Truncate(n int) Value {
	switch {
	case n >= 16:
		return v
	case n >= 8:
		v[1] &= laneMask(n - 8)
	default:
		v[0] &= laneMask(n)
		v[1] = 0
	}
	return v
}

func (v Value) String() string {
	if v[1] == 0 {
		return fmt.Sprintf("%#x", v[0])
	}
	return fmt.Sprintf("%#016x%016x", v[1], v[0])
}

func laneMask(width int) uint64 {
	if width >= 8 {
		return math.MaxUint64
	}
	return 1<<(uint(width)*8) - 1
}

// typeWidth is the number of bytes a value of ty occupies in a register
func typeWidth(ty ir.Type) int {
	switch {
	case ty.IsVector():
		return 16
	case ty == ir.I1:
		return 1
	}
	return int(ty.WidthBytes())
}

func signExtend(width int, x uint64) int64 {
	if width >= 8 {
		return int64(x)
	}
	shift := 64 - uint(width)*8
	return int64(x<<shift) >> shift
}
