package lowering

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
	"github.com/raymyers/ralph-x86/pkg/x86sim"
)

const hardeningModule = `
functions:
  - name: scramble
    return: i32
    args: [i32 %x]
    blocks:
      - name: entry
        code: |
          %a = xor i32 %x, 305419896
          %b = add i32 %a, -1985229329
          %c = and i32 %b, 16777215
          ret i32 %c
  - name: scramble64
    return: i64
    args: [i64 %x]
    blocks:
      - name: entry
        code: |
          %a = xor i64 %x, 81985529216486895
          %b = mul i64 %a, 1000003
          ret i64 %b
  - name: table
    return: i32
    args: [i32 %x]
    blocks:
      - name: entry
        code: switch i32 %x, other, [0, a], [1, b], [2, c], [3, a], [4, b], [5, c]
      - name: a
        code: ret i32 100000
      - name: b
        code: ret i32 200000
      - name: c
        code: ret i32 300000
      - name: other
        code: ret i32 0
  - name: far
    return: i32
    args: [{ptr} %p]
    blocks:
      - name: entry
        code: |
          %q = add {ptr} %p, 70000
          store i32 123456789, %q
          %v = load i32 %q
          %w = load i32 %p
          %r = add i32 %v, %w
          ret i32 %r
  - name: twice
    return: i32
    args: [{ptr} %f, i32 %x]
    blocks:
      - name: entry
        code: |
          %a = call i32 %f(%x)
          %b = call i32 @scramble(%a)
          ret i32 %b
  - name: locals
    return: i32
    args: [i32 %x]
    blocks:
      - name: entry
        code: |
          %s = alloca {ptr} 400, align 16
          %e = add {ptr} %s, 396
          store i32 %x, %e
          %v = load i32 %e
          %r = add i32 %v, 1
          ret i32 %r
`

// hardeningResults runs every function of hardeningModule on fixed inputs
func hardeningResults(t *testing.T, m *x86sim.Machine) []int64 {
	var out []int64
	for _, x := range []int64{0, 1, -1, 0x1234_5678, 99} {
		out = append(out, call(t, m, "scramble", ints(x)...).Int(ir.I32))
		out = append(out, call(t, m, "scramble64", ints(x<<20)...).Int(ir.I64))
		out = append(out, call(t, m, "locals", ints(x)...).Int(ir.I32))
	}
	for x := int64(-1); x < 8; x++ {
		out = append(out, call(t, m, "table", ints(x)...).Int(ir.I32))
	}

	p := m.Alloc(70008)
	m.WriteMem(p, 4, x86sim.Int(-9))
	out = append(out, call(t, m, "far", x86sim.Uint(p)).Int(ir.I32))

	f, ok := m.Symbol("scramble")
	require.True(t, ok)
	out = append(out, call(t, m, "twice", x86sim.Uint(f), x86sim.Int(77)).Int(ir.I32))
	return out
}

func TestHardeningPreservesResults(t *testing.T) {
	variants := []struct {
		name string
		set  func(o *Options)
	}{
		{"sandbox", func(o *Options) { o.Sandbox = true }},
		{"randomize", func(o *Options) { o.Randomize = RandomizeBlind; o.Seed = 7 }},
		{"pool", func(o *Options) { o.Randomize = RandomizePool }},
		{"nops", func(o *Options) { o.NopProbability = 0.5; o.Seed = 3 }},
		{"all", func(o *Options) {
			o.Sandbox = true
			o.Randomize = RandomizeBlind
			o.NopProbability = 0.3
			o.Seed = 11
		}},
	}

	for _, c := range configs {
		t.Run(c.name, func(t *testing.T) {
			want := hardeningResults(t, compile(t, c.arch, x86.SSE2, c.options(), hardeningModule))
			for _, v := range variants {
				t.Run(v.name, func(t *testing.T) {
					opts := c.options()
					v.set(&opts)
					got := hardeningResults(t, compile(t, c.arch, x86.SSE2, opts, hardeningModule))
					assert.Equal(t, want, got)
				})
			}
		})
	}
}

func TestSandboxRewrites(t *testing.T) {
	opts := DefaultOptions()
	opts.Sandbox = true

	t.Run("x86-64", func(t *testing.T) {
		for _, r := range lowerModule(t, x86.X8664, x86.SSE2, opts, hardeningModule) {
			assert.Zero(t, countInsts[*x86.Ret](r.Func), "%v returns through a masked jump", r.Func.Name)
			assert.NotZero(t, countInsts[*x86.BundleLock](r.Func), "%v", r.Func.Name)
			if r.Func.Name != "far" {
				continue
			}
			for _, b := range r.Func.Blocks {
				for _, inst := range b.Insts {
					m := x86.MemOperand(inst)
					// lea computes the sandboxed offset and is not an access
					if m == nil || m.Base == nil || m.Base.Reg == x86.RSP || m.Base.Reg == x86.RBP {
						continue
					}
					assert.Equal(t, x86.R15, m.Base.Reg, "%v", x86.FormatInst(inst))
				}
			}
		}
	})

	t.Run("x86-32", func(t *testing.T) {
		for _, r := range lowerModule(t, x86.X8632, x86.SSE2, opts, hardeningModule) {
			assert.Zero(t, countInsts[*x86.Ret](r.Func), "%v", r.Func.Name)
			if r.Func.Name == "far" {
				for _, b := range r.Func.Blocks {
					for _, inst := range b.Insts {
						if m := x86.MemOperand(inst); m != nil && m.Base != nil {
							assert.NotEqual(t, x86.R15, m.Base.Reg)
						}
					}
				}
			}
		}
	})
}

func TestRandomizeHidesConstants(t *testing.T) {
	for _, mode := range []RandomizeMode{RandomizeBlind, RandomizePool} {
		t.Run(mode.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Randomize = mode
			for _, r := range lowerModule(t, x86.X8632, x86.SSE2, opts, hardeningModule) {
				if r.Func.Name != "scramble" {
					continue
				}
				for _, b := range r.Func.Blocks {
					for _, inst := range b.Insts {
						for _, src := range inst.Srcs() {
							if c, ok := src.(*ir.ConstInt); ok {
								assert.NotEqual(t, int64(305419896), c.Value, "%v", x86.FormatInst(inst))
								assert.NotEqual(t, int64(-1985229329), c.Value, "%v", x86.FormatInst(inst))
							}
						}
					}
				}
				if mode == RandomizePool {
					assert.NotEmpty(t, r.Func.ConstantPool)
				}
			}
		})
	}
}

func TestNopInsertionIsSeeded(t *testing.T) {
	listing := func(seed uint64) string {
		opts := DefaultOptions()
		opts.NopProbability = 0.5
		opts.Seed = seed
		var buf bytes.Buffer
		p := x86.NewPrinter(&buf)
		nops := 0
		for _, r := range lowerModule(t, x86.X8664, x86.SSE2, opts, hardeningModule) {
			nops += countInsts[*x86.Nop](r.Func)
			p.PrintBlocks(r.Func.Name, r.Func.Blocks)
		}
		assert.NotZero(t, nops)
		return buf.String()
	}

	assert.Equal(t, listing(1), listing(1))
	assert.NotEqual(t, listing(1), listing(2))
}
