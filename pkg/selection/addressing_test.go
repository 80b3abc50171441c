package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-x86/pkg/ir"
)

type defBuilder struct {
	fn   *ir.Function
	b    *ir.Block
	defs map[*ir.Variable]ir.Inst
}

func newDefBuilder() *defBuilder {
	fn := ir.NewFunction("f", ir.Void)
	return &defBuilder{fn: fn, b: fn.NewBlock("entry"), defs: map[*ir.Variable]ir.Inst{}}
}

func (d *defBuilder) arg(name string) *ir.Variable { return d.fn.AddArg(name, ir.I32) }

func (d *defBuilder) arith(op ir.ArithOp, a, b ir.Operand) *ir.Variable {
	v := d.fn.NewVariable("", ir.I32)
	d.defs[v] = d.b.Append(&ir.Arithmetic{Op: op, Dst: v, Src0: a, Src1: b})
	return v
}

func (d *defBuilder) assign(src ir.Operand) *ir.Variable {
	v := d.fn.NewVariable("", ir.I32)
	d.defs[v] = d.b.Append(&ir.Assign{Dst: v, Src: src})
	return v
}

func (d *defBuilder) lookup(v *ir.Variable) ir.Inst { return d.defs[v] }

func TestSelectAddressingBaseOffset(t *testing.T) {
	d := newDefBuilder()
	p := d.arg("p")
	a := d.arith(ir.Add, p, ir.Int(ir.I32, 8))
	b := d.arith(ir.Sub, a, ir.Int(ir.I32, 2))

	got, changed := SelectAddressing(b, ir.I32, d.lookup)
	require.True(t, changed)
	assert.Equal(t, AddressResult{Base: p, Offset: 6}, got)
}

func TestSelectAddressingScaledIndex(t *testing.T) {
	tests := []struct {
		name   string
		build  func(d *defBuilder, base, idx *ir.Variable) *ir.Variable
		offset int64
		shift  uint8
	}{
		{
			name: "base + index",
			build: func(d *defBuilder, base, idx *ir.Variable) *ir.Variable {
				return d.arith(ir.Add, base, idx)
			},
		},
		{
			name: "base + (index << 2)",
			build: func(d *defBuilder, base, idx *ir.Variable) *ir.Variable {
				return d.arith(ir.Add, base, d.arith(ir.Shl, idx, ir.Int(ir.I32, 2)))
			},
			shift: 2,
		},
		{
			name: "base + index * 8",
			build: func(d *defBuilder, base, idx *ir.Variable) *ir.Variable {
				return d.arith(ir.Add, base, d.arith(ir.Mul, idx, ir.Int(ir.I32, 8)))
			},
			shift: 3,
		},
		{
			name: "base + ((index + 3) << 1) + 4",
			build: func(d *defBuilder, base, idx *ir.Variable) *ir.Variable {
				i := d.arith(ir.Add, idx, ir.Int(ir.I32, 3))
				s := d.arith(ir.Shl, i, ir.Int(ir.I32, 1))
				return d.arith(ir.Add, d.arith(ir.Add, base, s), ir.Int(ir.I32, 4))
			},
			shift:  1,
			offset: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDefBuilder()
			base, idx := d.arg("base"), d.arg("idx")
			addr := tt.build(d, base, idx)

			got, _ := SelectAddressing(addr, ir.I32, d.lookup)
			assert.Equal(t, base, got.Base)
			assert.Equal(t, idx, got.Index)
			assert.Equal(t, tt.shift, got.Shift)
			assert.Equal(t, tt.offset, got.Offset)
		})
	}
}

func TestSelectAddressingShiftLimit(t *testing.T) {
	d := newDefBuilder()
	base, idx := d.arg("base"), d.arg("idx")
	s := d.arith(ir.Shl, idx, ir.Int(ir.I32, 4))
	addr := d.arith(ir.Add, base, s)

	got, _ := SelectAddressing(addr, ir.I32, d.lookup)
	assert.Equal(t, base, got.Base)
	assert.Equal(t, s, got.Index, "scale 16 cannot be encoded")
	assert.Zero(t, got.Shift)
}

func TestSelectAddressingSymbol(t *testing.T) {
	d := newDefBuilder()
	sym := &ir.ConstRelocatable{Ty: ir.I32, Symbol: "table"}
	g := d.assign(sym)
	addr := d.arith(ir.Add, g, ir.Int(ir.I32, 12))

	got, changed := SelectAddressing(addr, ir.I32, d.lookup)
	require.True(t, changed)
	assert.Nil(t, got.Base)
	assert.Equal(t, sym, got.Symbol)
	assert.Equal(t, int64(12), got.Offset)
}

func TestSelectAddressingNoDefinitions(t *testing.T) {
	d := newDefBuilder()
	p := d.arg("p")

	got, changed := SelectAddressing(p, ir.I32, nil)
	assert.False(t, changed)
	assert.Equal(t, AddressResult{Base: p}, got)

	got, changed = SelectAddressing(ir.Int(ir.I32, 64), ir.I32, d.lookup)
	assert.False(t, changed)
	assert.Equal(t, int64(64), got.Offset)
}

func TestSelectAddressingOffsetOverflow(t *testing.T) {
	d := newDefBuilder()
	p := d.arg("p")
	a := d.arith(ir.Add, p, ir.Int(ir.I32, 0x7fffffff))
	b := d.arith(ir.Add, a, ir.Int(ir.I32, 0x7fffffff))

	got, _ := SelectAddressing(b, ir.I32, d.lookup)
	assert.Equal(t, a, got.Base)
	assert.Equal(t, int64(0x7fffffff), got.Offset)
}
