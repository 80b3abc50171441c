package lowering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
	"github.com/raymyers/ralph-x86/pkg/x86sim"
)

const switchModule = `
functions:
  - name: classify
    return: i32
    args: [i32 %x]
    blocks:
      - name: entry
        code: switch i32 %x, other, [1, low], [2, low], [3, mid], [10, ten], [11, ten], [40, forty]
      - name: low
        code: ret i32 100
      - name: mid
        code: ret i32 200
      - name: ten
        code: ret i32 300
      - name: forty
        code: ret i32 400
      - name: other
        code: ret i32 -1
  - name: dense
    return: i32
    args: [i8 %x]
    blocks:
      - name: entry
        code: switch i8 %x, other, [0, a], [1, b], [2, c], [3, d], [4, a], [5, b], [-1, c]
      - name: a
        code: ret i32 10
      - name: b
        code: ret i32 11
      - name: c
        code: ret i32 12
      - name: d
        code: ret i32 13
      - name: other
        code: ret i32 0
  - name: wide
    return: i32
    args: [i64 %x]
    blocks:
      - name: entry
        code: switch i64 %x, other, [0, a], [4294967296, b], [-1, c]
      - name: a
        code: ret i32 1
      - name: b
        code: ret i32 2
      - name: c
        code: ret i32 3
      - name: other
        code: ret i32 0
  - name: phis
    return: i32
    args: [i32 %x]
    blocks:
      - name: entry
        code: switch i32 %x, join, [1, one], [2, join]
      - name: one
        code: br join
      - name: join
        code: |
          %r = phi i32 [7, entry], [8, one]
          ret i32 %r
`

func TestSwitch(t *testing.T) {
	forEachConfig(t, switchModule, func(t *testing.T, c config, m *x86sim.Machine) {
		classify := map[int64]int64{1: 100, 2: 100, 3: 200, 10: 300, 11: 300, 40: 400,
			0: -1, 4: -1, 9: -1, 12: -1, 39: -1, 41: -1, -1: -1, -40: -1, 1 << 30: -1}
		for x, want := range classify {
			assert.Equal(t, want, call(t, m, "classify", ints(x)...).Int(ir.I32), "classify(%d)", x)
		}

		dense := map[int64]int64{0: 10, 1: 11, 2: 12, 3: 13, 4: 10, 5: 11, -1: 12, 6: 0, 127: 0, -2: 0}
		for x, want := range dense {
			assert.Equal(t, want, call(t, m, "dense", ints(x)...).Int(ir.I32), "dense(%d)", x)
		}

		wide := map[int64]int64{0: 1, 1 << 32: 2, -1: 3, 1: 0, 1<<32 + 1: 0, 0xffffffff: 0}
		for x, want := range wide {
			assert.Equal(t, want, call(t, m, "wide", ints(x)...).Int(ir.I32), "wide(%d)", x)
		}

		for x, want := range map[int64]int64{1: 8, 2: 7, 3: 7} {
			assert.Equal(t, want, call(t, m, "phis", ints(x)...).Int(ir.I32), "phis(%d)", x)
		}
	})
}

func TestSwitchJumpTable(t *testing.T) {
	for _, arch := range []x86.Arch{x86.X8632, x86.X8664} {
		t.Run(arch.String(), func(t *testing.T) {
			res := lowerModule(t, arch, x86.SSE2, DefaultOptions(), switchModule)
			require.Len(t, res, 4)

			dense := res[1].Func
			require.Len(t, dense.JumpTables, 1)
			// -1 becomes 255 after zero extension and stays out of the table
			assert.Len(t, dense.JumpTables[0].Targets, 6)
			assert.Equal(t, 1, countInsts[*x86.Jmp](dense))

			assert.Empty(t, res[0].Func.JumpTables, "sparse clusters use compares")
		})
	}
}

func TestSwitchOm1NoJumpTables(t *testing.T) {
	opts := DefaultOptions()
	opts.OptLevel = Om1
	res := lowerModule(t, x86.X8664, x86.SSE2, opts, switchModule)
	for _, r := range res {
		assert.Empty(t, r.Func.JumpTables, "%v", r.Func.Name)
	}
}

const wideDenseSwitch = `
functions:
  - name: wide_dense
    return: i32
    args: [i64 %x]
    blocks:
      - name: entry
        code: switch i64 %x, other, [0, a], [1, b], [2, a], [3, b], [4, a], [5, b]
      - name: a
        code: ret i32 1
      - name: b
        code: ret i32 2
      - name: other
        code: ret i32 0
`

func TestSwitchSplitI64IsCompareChain(t *testing.T) {
	r32 := lowerModule(t, x86.X8632, x86.SSE2, DefaultOptions(), wideDenseSwitch)[0]
	assert.Empty(t, r32.Func.JumpTables)
	assert.Equal(t, 2*6, countInsts[*x86.Cmp](r32.Func), "two halves per case")

	r64 := lowerModule(t, x86.X8664, x86.SSE2, DefaultOptions(), wideDenseSwitch)[0]
	assert.Len(t, r64.Func.JumpTables, 1, "dense cases cluster when i64 is native")

	forEachConfig(t, wideDenseSwitch, func(t *testing.T, c config, m *x86sim.Machine) {
		for x, want := range map[int64]int64{0: 1, 3: 2, 5: 2, 6: 0, -1: 0, 1 << 32: 0, 1<<32 + 2: 0} {
			assert.Equal(t, want, call(t, m, "wide_dense", ints(x)...).Int(ir.I32), "wide_dense(%d)", x)
		}
	})
}
