package x86sim

import (
	"math"
	"math/bits"

	"github.com/raymyers/ralph-x86/pkg/x86"
)

// DefaultHelpers returns Go implementations of every runtime helper the
// lowering calls
func DefaultHelpers() map[string]Helper {
	i64 := func(v Value) int64 { return int64(v.Uint64()) }
	f32 := func(v Value) float64 { return float64(v.Float32()) }
	f64 := func(v Value) float64 { return v.Float64() }

	divide := func(f func(a, b uint64) uint64) Helper {
		return func(m *Machine, args []Value) Value {
			if args[1].Uint64() == 0 {
				m.fail(ErrDivide)
			}
			return Uint(f(args[0].Uint64(), args[1].Uint64()))
		}
	}
	binary := func(f func(a, b uint64) uint64) Helper {
		return func(_ *Machine, args []Value) Value { return Uint(f(args[0].Uint64(), args[1].Uint64())) }
	}
	unary := func(f func(a Value) Value) Helper {
		return func(_ *Machine, args []Value) Value { return f(args[0]) }
	}

	return map[string]Helper{
		x86.HelperUdiv64: divide(func(a, b uint64) uint64 { return a / b }),
		x86.HelperSdiv64: divide(func(a, b uint64) uint64 { return uint64(int64(a) / int64(b)) }),
		x86.HelperUrem64: divide(func(a, b uint64) uint64 { return a % b }),
		x86.HelperSrem64: divide(func(a, b uint64) uint64 { return uint64(int64(a) % int64(b)) }),
		x86.HelperShl64:  binary(func(a, n uint64) uint64 { return a << (n & 63) }),
		x86.HelperLshr64: binary(func(a, n uint64) uint64 { return a >> (n & 63) }),
		x86.HelperAshr64: binary(func(a, n uint64) uint64 { return uint64(int64(a) >> (n & 63)) }),

		x86.HelperFrem32: func(_ *Machine, args []Value) Value {
			return F32(float32(math.Mod(f32(args[0]), f32(args[1]))))
		},
		x86.HelperFrem64: func(_ *Machine, args []Value) Value {
			return F64(math.Mod(f64(args[0]), f64(args[1])))
		},

		x86.HelperPopcount32: unary(func(a Value) Value { return Uint(uint64(bits.OnesCount32(uint32(a.Uint64())))) }),
		x86.HelperPopcount64: unary(func(a Value) Value { return Uint(uint64(bits.OnesCount64(a.Uint64()))) }),

		x86.HelperF32ToI64: unary(func(a Value) Value { return Int(int64(f32(a))) }),
		x86.HelperF64ToI64: unary(func(a Value) Value { return Int(int64(f64(a))) }),
		x86.HelperF32ToU32: unary(func(a Value) Value { return Uint(uint64(uint32(f32(a)))) }),
		x86.HelperF64ToU32: unary(func(a Value) Value { return Uint(uint64(uint32(f64(a)))) }),
		x86.HelperF32ToU64: unary(func(a Value) Value { return Uint(uint64(f32(a))) }),
		x86.HelperF64ToU64: unary(func(a Value) Value { return Uint(uint64(f64(a))) }),
		x86.HelperI64ToF32: unary(func(a Value) Value { return F32(float32(i64(a))) }),
		x86.HelperI64ToF64: unary(func(a Value) Value { return F64(float64(i64(a))) }),
		x86.HelperU32ToF32: unary(func(a Value) Value { return F32(float32(uint32(a.Uint64()))) }),
		x86.HelperU32ToF64: unary(func(a Value) Value { return F64(float64(uint32(a.Uint64()))) }),
		x86.HelperU64ToF32: unary(func(a Value) Value { return F32(float32(a.Uint64())) }),
		x86.HelperU64ToF64: unary(func(a Value) Value { return F64(float64(a.Uint64())) }),

		x86.HelperMemcpy:  memmove,
		x86.HelperMemmove: memmove,
		x86.HelperMemset: func(m *Machine, args []Value) Value {
			dst, b, n := args[0].Uint64(), byte(args[1].Uint64()), args[2].Uint64()
			for k := uint64(0); k < n; k++ {
				m.mem.writeByte(dst+k, b)
			}
			return Value{}
		},
	}
}

func memmove(m *Machine, args []Value) Value {
	dst, src, n := args[0].Uint64(), args[1].Uint64(), args[2].Uint64()
	buf := m.ReadBytes(src, int(n))
	m.WriteBytes(dst, buf)
	return Value{}
}
