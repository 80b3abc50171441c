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

var icmpConds = []ir.ICond{ir.IEq, ir.INe, ir.IUgt, ir.IUge, ir.IUlt, ir.IUle, ir.ISgt, ir.ISge, ir.ISlt, ir.ISle}

// compareModule defines, for every predicate, a function materializing the
// compare with zext and one branching on it
func compareModule(op, ty string, conds []string) string {
	var sb strings.Builder
	sb.WriteString("functions:\n")
	for _, c := range conds {
		fmt.Fprintf(&sb, `  - name: %[1]s_%[2]s_%[3]s
    return: i32
    args: [%[2]s %%a, %[2]s %%b]
    blocks:
      - name: entry
        code: |
          %%c = %[1]s.%[3]s %[2]s %%a, %%b
          %%x = zext i1 %%c to i32
          ret i32 %%x
  - name: br_%[1]s_%[2]s_%[3]s
    return: i32
    args: [%[2]s %%a, %[2]s %%b]
    blocks:
      - name: entry
        code: |
          %%c = %[1]s.%[3]s %[2]s %%a, %%b
          br %%c, yes, no
      - name: yes
        code: ret i32 1
      - name: no
        code: ret i32 0
`, op, ty, c)
	}
	return sb.String()
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func TestIcmp(t *testing.T) {
	names := make([]string, len(icmpConds))
	for k, c := range icmpConds {
		names[k] = c.String()
	}
	types := []struct {
		ty     ir.Type
		inputs []int64
	}{
		{ir.I32, []int64{0, 1, -1, 5, math.MaxInt32, math.MinInt32}},
		{ir.I8, []int64{0, 1, -1, 127, -128}},
		{ir.I64, []int64{0, 1, -1, 1 << 32, -(1 << 32), math.MaxInt64, math.MinInt64}},
	}

	for _, tt := range types {
		src := compareModule("icmp", tt.ty.String(), names)
		t.Run(tt.ty.String(), func(t *testing.T) {
			forEachConfig(t, src, func(t *testing.T, c config, m *x86sim.Machine) {
				for _, cond := range icmpConds {
					for _, a := range tt.inputs {
						for _, b := range tt.inputs {
							want := b2i(cond.Eval(tt.ty, uint64(a), uint64(b)))
							name := fmt.Sprintf("icmp_%v_%v", tt.ty, cond)
							assert.Equal(t, want, call(t, m, name, ints(a, b)...).Int(ir.I32), "%v %d, %d", cond, a, b)
							assert.Equal(t, want, call(t, m, "br_"+name, ints(a, b)...).Int(ir.I32), "br %v %d, %d", cond, a, b)
						}
					}
				}
			})
		})
	}
}

func TestFcmp(t *testing.T) {
	var conds []ir.FCond
	var names []string
	for c := ir.FCond(0); c <= ir.FTrue; c++ {
		conds = append(conds, c)
		names = append(names, c.String())
	}
	inputs := []float64{0, -1.5, 2, math.Inf(1), math.NaN()}

	for _, ty := range []ir.Type{ir.F64, ir.F32} {
		src := compareModule("fcmp", ty.String(), names)
		t.Run(ty.String(), func(t *testing.T) {
			forEachConfig(t, src, func(t *testing.T, c config, m *x86sim.Machine) {
				for _, cond := range conds {
					for _, a := range inputs {
						for _, b := range inputs {
							want := b2i(cond.Eval(a, b))
							va, vb := x86sim.F64(a), x86sim.F64(b)
							if ty == ir.F32 {
								va, vb = x86sim.F32(float32(a)), x86sim.F32(float32(b))
							}
							name := fmt.Sprintf("fcmp_%v_%v", ty, cond)
							assert.Equal(t, want, call(t, m, name, va, vb).Int(ir.I32), "%v %v, %v", cond, a, b)
							assert.Equal(t, want, call(t, m, "br_"+name, va, vb).Int(ir.I32), "br %v %v, %v", cond, a, b)
						}
					}
				}
			})
		})
	}
}

const selectModule = `
functions:
  - name: sel32
    return: i32
    args: [i32 %a, i32 %b]
    blocks:
      - name: entry
        code: |
          %c = icmp.slt i32 %a, %b
          %x = select i32 %c, %a, 100
          ret i32 %x
  - name: sel64
    return: i64
    args: [i64 %a, i64 %b]
    blocks:
      - name: entry
        code: |
          %c = icmp.ult i64 %a, %b
          %x = select i64 %c, %b, %a
          ret i64 %x
  - name: fmin
    return: f64
    args: [f64 %a, f64 %b]
    blocks:
      - name: entry
        code: |
          %c = fcmp.olt f64 %a, %b
          %x = select f64 %c, %a, %b
          ret f64 %x
  - name: selbool
    return: i32
    args: [i32 %a, i32 %b]
    blocks:
      - name: entry
        code: |
          %c = icmp.eq i32 %a, 0
          %d = icmp.sgt i32 %b, 10
          %e = and i1 %c, %d
          %x = select i32 %e, 7, 9
          ret i32 %x
`

func TestSelect(t *testing.T) {
	forEachConfig(t, selectModule, func(t *testing.T, c config, m *x86sim.Machine) {
		assert.EqualValues(t, 1, call(t, m, "sel32", ints(1, 2)...).Int(ir.I32))
		assert.EqualValues(t, 100, call(t, m, "sel32", ints(2, 1)...).Int(ir.I32))
		assert.EqualValues(t, -1, call(t, m, "sel64", ints(5, -1)...).Int(ir.I64))
		assert.EqualValues(t, -1, call(t, m, "sel64", ints(-1, 5)...).Int(ir.I64))
		assert.EqualValues(t, 1<<33, call(t, m, "sel64", ints(1<<33, 1<<32)...).Int(ir.I64))

		assert.Equal(t, -3.0, call(t, m, "fmin", x86sim.F64(-3), x86sim.F64(4)).Float64())
		assert.Equal(t, 4.0, call(t, m, "fmin", x86sim.F64(math.NaN()), x86sim.F64(4)).Float64())

		assert.EqualValues(t, 7, call(t, m, "selbool", ints(0, 11)...).Int(ir.I32))
		assert.EqualValues(t, 9, call(t, m, "selbool", ints(1, 11)...).Int(ir.I32))
		assert.EqualValues(t, 9, call(t, m, "selbool", ints(0, 10)...).Int(ir.I32))
	})
}
