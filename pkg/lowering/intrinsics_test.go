package lowering

import (
	"fmt"
	"math"
	"math/bits"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86sim"
)

// unaryIntrinsics defines <name>_<ty> computing "intrinsic name ty(%a)"
func unaryIntrinsics(names []string, types []string) string {
	var sb strings.Builder
	for _, n := range names {
		for _, ty := range types {
			fmt.Fprintf(&sb, `  - name: %[1]s_%[2]s
    return: %[2]s
    args: [%[2]s %%a]
    blocks:
      - name: entry
        code: |
          %%x = intrinsic %[1]s %[2]s(%%a)
          ret %[2]s %%x
`, n, ty)
		}
	}
	return sb.String()
}

func TestBitCounting(t *testing.T) {
	src := "functions:\n" + unaryIntrinsics([]string{"ctlz", "cttz", "ctpop"}, []string{"i8", "i16", "i32", "i64"})
	inputs := []uint64{0, 1, 2, 0x80, 0xff, 0x1234, 0x8000_0000, 0xffff_ffff, 1 << 32, 1 << 63, 0xf0f0_0000_0000, math.MaxUint64}

	ref := map[string]func(x uint64, w int) int{
		"ctlz": func(x uint64, w int) int { return bits.LeadingZeros64(x) - (64 - w) },
		"cttz": func(x uint64, w int) int {
			if x == 0 {
				return w
			}
			return bits.TrailingZeros64(x)
		},
		"ctpop": func(x uint64, _ int) int { return bits.OnesCount64(x) },
	}

	forEachConfig(t, src, func(t *testing.T, c config, m *x86sim.Machine) {
		for _, ty := range []ir.Type{ir.I8, ir.I16, ir.I32, ir.I64} {
			w := int(ty.WidthBits())
			for name, f := range ref {
				for _, x := range inputs {
					x &= math.MaxUint64 >> (64 - w)
					fn := fmt.Sprintf("%s_%v", name, ty)
					got := call(t, m, fn, x86sim.Uint(x)).Int(ty)
					assert.EqualValues(t, f(x, w), got, "%v(%#x)", fn, x)
				}
			}
		}
	})
}

func TestBswap(t *testing.T) {
	src := "functions:\n" + unaryIntrinsics([]string{"bswap"}, []string{"i16", "i32", "i64"})
	forEachConfig(t, src, func(t *testing.T, c config, m *x86sim.Machine) {
		assert.EqualValues(t, 0x3412, call(t, m, "bswap_i16", x86sim.Uint(0x1234)).Uint64()&0xffff)
		assert.EqualValues(t, 0x7856_3412, call(t, m, "bswap_i32", x86sim.Uint(0x1234_5678)).Uint64()&0xffff_ffff)
		assert.Equal(t, bits.ReverseBytes64(0x0102_0304_0506_0708), call(t, m, "bswap_i64", x86sim.Uint(0x0102_0304_0506_0708)).Uint64())
	})
}

func TestFloatIntrinsics(t *testing.T) {
	src := "functions:\n" + unaryIntrinsics([]string{"sqrt", "fabs"}, []string{"f32", "f64"})
	forEachConfig(t, src, func(t *testing.T, c config, m *x86sim.Machine) {
		for _, x := range []float64{0, 2, 0.25, 1e300, math.Inf(1)} {
			assert.Equal(t, math.Sqrt(x), call(t, m, "sqrt_f64", x86sim.F64(x)).Float64(), "sqrt(%v)", x)
			assert.Equal(t, float32(math.Sqrt(float64(float32(x)))), call(t, m, "sqrt_f32", x86sim.F32(float32(x))).Float32(), "sqrtf(%v)", x)
		}
		assert.True(t, math.IsNaN(call(t, m, "sqrt_f64", x86sim.F64(-1)).Float64()))

		for _, x := range []float64{0, -0.0, 3.5, -3.5, math.Inf(-1)} {
			assert.Equal(t, math.Abs(x), call(t, m, "fabs_f64", x86sim.F64(x)).Float64(), "fabs(%v)", x)
			assert.Equal(t, float32(math.Abs(x)), call(t, m, "fabs_f32", x86sim.F32(float32(x))).Float32(), "fabsf(%v)", x)
		}
		assert.False(t, math.Signbit(call(t, m, "fabs_f64", x86sim.F64(math.Copysign(0, -1))).Float64()))
	})
}

func TestTrap(t *testing.T) {
	const src = `
functions:
  - name: check
    return: i32
    args: [i32 %a]
    blocks:
      - name: entry
        code: |
          %bad = icmp.slt i32 %a, 0
          br %bad, fail, ok
      - name: fail
        code: |
          intrinsic trap void()
          unreachable
      - name: ok
        code: ret i32 %a
`
	forEachConfig(t, src, func(t *testing.T, c config, m *x86sim.Machine) {
		assert.EqualValues(t, 5, call(t, m, "check", ints(5)...).Int(ir.I32))
		_, err := m.Call("check", ints(-1)...)
		require.ErrorIs(t, err, x86sim.ErrTrap)
	})
}
