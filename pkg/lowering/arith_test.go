package lowering

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86sim"
)

// binaryModule defines one function per op computing "op ty %a, %b" and one
// per constant computing "op ty %a, k". Function names carry suffix.
func binaryModule(ty, suffix string, ops []string, consts map[string][]int64) string {
	var sb strings.Builder
	fn := func(name, op, rhs string) {
		fmt.Fprintf(&sb, "  - name: %s\n    return: %s\n    args: [%s %%a, %s %%b]\n", name, ty, ty, ty)
		fmt.Fprintf(&sb, "    blocks:\n      - name: entry\n        code: |\n")
		fmt.Fprintf(&sb, "          %%x = %s %s %%a, %s\n          ret %s %%x\n", op, ty, rhs, ty)
	}
	for _, op := range ops {
		fn(op+suffix, op, "%b")
		for k, c := range consts[op] {
			fn(fmt.Sprintf("%s%s_%d", op, suffix, k), op, fmt.Sprint(c))
		}
	}
	return sb.String()
}

func ref32(op string, a, b int32) int32 {
	switch op {
	case "add":
		return a + b
	case "sub":
		return a - b
	case "mul":
		return a * b
	case "sdiv":
		return a / b
	case "udiv":
		return int32(uint32(a) / uint32(b))
	case "srem":
		return a % b
	case "urem":
		return int32(uint32(a) % uint32(b))
	case "shl":
		return a << (b & 31)
	case "lshr":
		return int32(uint32(a) >> (b & 31))
	case "ashr":
		return a >> (b & 31)
	case "and":
		return a & b
	case "or":
		return a | b
	case "xor":
		return a ^ b
	}
	panic(op)
}

func ref64(op string, a, b int64) int64 {
	switch op {
	case "add":
		return a + b
	case "sub":
		return a - b
	case "mul":
		return a * b
	case "sdiv":
		return a / b
	case "udiv":
		return int64(uint64(a) / uint64(b))
	case "srem":
		return a % b
	case "urem":
		return int64(uint64(a) % uint64(b))
	case "shl":
		return a << (b & 63)
	case "lshr":
		return int64(uint64(a) >> (b & 63))
	case "ashr":
		return a >> (b & 63)
	case "and":
		return a & b
	case "or":
		return a | b
	case "xor":
		return a ^ b
	}
	panic(op)
}

var intOps = []string{"add", "sub", "mul", "sdiv", "udiv", "srem", "urem", "shl", "lshr", "ashr", "and", "or", "xor"}

func isShift(op string) bool { return op == "shl" || op == "lshr" || op == "ashr" }

func isDivision(op string) bool {
	return op == "sdiv" || op == "udiv" || op == "srem" || op == "urem"
}

func TestArithmetic32(t *testing.T) {
	consts := map[string][]int64{
		"add":  {1, -1, 0x12345},
		"sub":  {7},
		"mul":  {9, -3, 8, 0x10001},
		"sdiv": {8, -4, 7, 1},
		"udiv": {16, 10},
		"srem": {8, 5},
		"urem": {16, 3},
		"shl":  {3, 31},
		"lshr": {3},
		"ashr": {5, 31},
		"and":  {0xff00, -16},
		"or":   {0x0f},
		"xor":  {-1},
	}
	src := "functions:\n" + binaryModule("i32", "", intOps, consts)
	inputs := []int32{0, 1, -1, 7, -7, 100, -12345, 0x7fffffff, math.MinInt32 + 1}

	forEachConfig(t, src, func(t *testing.T, c config, m *x86sim.Machine) {
		for _, op := range intOps {
			for _, a := range inputs {
				for _, b := range append([]int32{3, -5, 31, 1}, inputs...) {
					if isDivision(op) && b == 0 {
						continue
					}
					if isShift(op) && (b < 0 || b > 31) {
						continue
					}
					res := call(t, m, op, ints(int64(a), int64(b))...)
					assert.Equal(t, int64(ref32(op, a, b)), res.Int(ir.I32), "%s %d, %d", op, a, b)
				}
				for k, b := range consts[op] {
					res := call(t, m, fmt.Sprintf("%s_%d", op, k), ints(int64(a), 0)...)
					assert.Equal(t, int64(ref32(op, a, int32(b))), res.Int(ir.I32), "%s %d, const %d", op, a, b)
				}
			}
		}
	})
}

func TestArithmetic64(t *testing.T) {
	consts := map[string][]int64{
		"add":  {0x1_0000_0001},
		"mul":  {10, 1 << 33},
		"sdiv": {16, 3},
		"udiv": {1 << 32},
		"srem": {10},
		"urem": {1 << 20},
		"shl":  {1, 32, 40},
		"lshr": {4, 33},
		"ashr": {63, 20},
		"and":  {0xffff_0000_ffff},
		"xor":  {1 << 40},
	}
	src := "functions:\n" + binaryModule("i64", "", intOps, consts)
	inputs := []int64{0, 1, -1, 3, -1000, 0x1234_5678_9abc, math.MaxInt64, math.MinInt64 + 1, 1 << 32}

	forEachConfig(t, src, func(t *testing.T, c config, m *x86sim.Machine) {
		for _, op := range intOps {
			for _, a := range inputs {
				for _, b := range append([]int64{7, 32, 63}, inputs...) {
					if isDivision(op) && b == 0 {
						continue
					}
					if isShift(op) && (b < 0 || b > 63) {
						continue
					}
					res := call(t, m, op, ints(a, b)...)
					assert.Equal(t, ref64(op, a, b), res.Int(ir.I64), "%s %d, %d", op, a, b)
				}
				for k, b := range consts[op] {
					res := call(t, m, fmt.Sprintf("%s_%d", op, k), ints(a, 0)...)
					assert.Equal(t, ref64(op, a, b), res.Int(ir.I64), "%s %d, const %d", op, a, b)
				}
			}
		}
	})
}

func TestNarrowArithmetic(t *testing.T) {
	const src = `
functions:
  - name: add8
    return: i8
    args: [i8 %a, i8 %b]
    blocks:
      - name: entry
        code: |
          %x = add i8 %a, %b
          ret i8 %x
  - name: sdiv8
    return: i8
    args: [i8 %a, i8 %b]
    blocks:
      - name: entry
        code: |
          %x = sdiv i8 %a, %b
          ret i8 %x
  - name: urem16
    return: i16
    args: [i16 %a, i16 %b]
    blocks:
      - name: entry
        code: |
          %x = urem i16 %a, %b
          ret i16 %x
  - name: mul16
    return: i16
    args: [i16 %a, i16 %b]
    blocks:
      - name: entry
        code: |
          %x = mul i16 %a, %b
          ret i16 %x
`
	forEachConfig(t, src, func(t *testing.T, c config, m *x86sim.Machine) {
		assert.EqualValues(t, -127, call(t, m, "add8", ints(127, 2)...).Int(ir.I8))
		assert.EqualValues(t, -42, call(t, m, "sdiv8", ints(-126, 3)...).Int(ir.I8))
		assert.EqualValues(t, 60000%7, call(t, m, "urem16", ints(60000, 7)...).Int(ir.I16))
		assert.EqualValues(t, 24464, call(t, m, "mul16", ints(300, 300)...).Int(ir.I16))
	})
}

func TestFloatArithmetic(t *testing.T) {
	ops := []string{"fadd", "fsub", "fmul", "fdiv", "frem"}
	src := "functions:\n" + binaryModule("f64", "", ops, nil) + binaryModule("f32", "_f32", ops, nil)

	ref := func(op string, a, b float64) float64 {
		switch op {
		case "fadd":
			return a + b
		case "fsub":
			return a - b
		case "fmul":
			return a * b
		case "fdiv":
			return a / b
		}
		return math.Mod(a, b)
	}
	inputs := []float64{0, 1, -2.5, 3.75, 1e10, -0.125}

	forEachConfig(t, src, func(t *testing.T, c config, m *x86sim.Machine) {
		for _, op := range ops {
			for _, a := range inputs {
				for _, b := range inputs {
					if b == 0 && (op == "frem" || op == "fdiv") {
						continue
					}
					res := call(t, m, op, x86sim.F64(a), x86sim.F64(b))
					assert.Equal(t, ref(op, a, b), res.Float64(), "%s %v, %v", op, a, b)

					fa, fb := float32(a), float32(b)
					res = call(t, m, op+"_f32", x86sim.F32(fa), x86sim.F32(fb))
					assert.Equal(t, float32(ref(op, float64(fa), float64(fb))), res.Float32(), "%s f32 %v, %v", op, a, b)
				}
			}
		}
	})
}
