package stacking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		n, align, want uint32
	}{
		{0, 8, 0},
		{1, 8, 8},
		{7, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{15, 16, 16},
		{16, 16, 16},
		{17, 16, 32},
		{5, 0, 5},
	}

	for _, tt := range tests {
		got := alignUp(tt.n, tt.align)
		if got != tt.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.want)
		}
	}
}

func TestLayoutEmpty(t *testing.T) {
	l := NewLayout(x86.NewTarget(x86.X8632, x86.SSE2))
	l.Finalize()

	// return address alone leaves the stack misaligned by 4
	assert.Equal(t, uint32(12), l.LocalAreaSize())
	assert.Equal(t, uint32(16), l.FrameSize())
	assert.Equal(t, int32(-12), l.FixedAllocaOffset())
}

func TestLayoutNotFinalized(t *testing.T) {
	l := NewLayout(x86.NewTarget(x86.X8664, x86.SSE2))
	assert.PanicsWithValue(t, ErrNotFinalized, func() { l.FixedAllocaOffset() })
	assert.PanicsWithValue(t, ErrNotFinalized, func() { l.LocalAreaSize() })

	l.Finalize()
	assert.PanicsWithValue(t, ErrFinalized, func() { l.UpdateMaxOutArgsSize(32) })
}

func TestReserveFixedAllocaAreaAlignment(t *testing.T) {
	l := NewLayout(x86.NewTarget(x86.X8632, x86.SSE2))
	assert.Panics(t, func() { l.ReserveFixedAllocaArea(16, 12) })
	assert.Panics(t, func() { l.ReserveFixedAllocaArea(16, 0) })
	assert.NotPanics(t, func() { l.ReserveFixedAllocaArea(16, 8) })
	assert.True(t, l.PrologEmitsFixedAllocas())
}

func TestFixedAllocaOffsetFormula(t *testing.T) {
	l := NewLayout(x86.NewTarget(x86.X8664, x86.SSE2))
	l.ReserveFixedAllocaArea(24, 8)
	l.SetSpillArea(40, 8)
	l.UpdateMaxOutArgsSize(20)
	l.SetHasFramePointer()
	l.Finalize()

	assert.Equal(t, uint32(32), l.MaxOutArgsSize(), "rounded to the stack alignment")
	want := int32(l.FixedAllocaSize()) - (int32(l.LocalAreaSize()) - int32(l.MaxOutArgsSize()))
	assert.Equal(t, want, l.FixedAllocaOffset())

	// the first fixed alloca byte sits right above the outgoing arguments
	assert.Equal(t, int64(32), l.RebasedOffset(-24))
	assert.Equal(t, int64(32+8), l.RebasedOffset(-16))

	assert.Zero(t, (l.FrameSize())%16, "frame keeps the stack aligned")
	assert.GreaterOrEqual(t, l.SpillAreaOffset(), uint32(32+24))
}

func TestLayoutOrderIndependent(t *testing.T) {
	target := x86.NewTarget(x86.X8632, x86.SSE41)
	steps := []func(l *Layout){
		func(l *Layout) { l.UpdateMaxOutArgsSize(8) },
		func(l *Layout) { l.UpdateMaxOutArgsSize(36) },
		func(l *Layout) { l.UpdateMaxOutArgsSize(16) },
		func(l *Layout) { l.ReserveFixedAllocaArea(48, 16) },
		func(l *Layout) { l.SetSpillArea(20, 4) },
		func(l *Layout) { l.SetHasFramePointer() },
		func(l *Layout) { l.SetPreservedRegsSize(8) },
	}

	type result struct {
		local, frame, spill uint32
		fixed               int32
	}
	run := func(order []int) result {
		l := NewLayout(target)
		for _, i := range order {
			steps[i](l)
		}
		l.Finalize()
		return result{l.LocalAreaSize(), l.FrameSize(), l.SpillAreaOffset(), l.FixedAllocaOffset()}
	}

	base := run([]int{0, 1, 2, 3, 4, 5, 6})
	perms := [][]int{
		{6, 5, 4, 3, 2, 1, 0},
		{2, 0, 3, 1, 6, 4, 5},
		{3, 1, 5, 0, 4, 2, 6},
		{4, 6, 2, 5, 1, 3, 0},
	}
	for _, p := range perms {
		require.Equal(t, base, run(p), "order %v", p)
	}
	assert.Equal(t, int32(48)-int32(base.local-48), base.fixed)
}

func TestCallStackArgumentsSize(t *testing.T) {
	t32 := x86.NewTarget(x86.X8632, x86.SSE2)
	t64 := x86.NewTarget(x86.X8664, x86.SSE2)

	tests := []struct {
		name   string
		target *x86.Target
		args   []ir.Type
		want   uint32
	}{
		{"none", t32, nil, 0},
		{"x86-32 ints", t32, []ir.Type{ir.I32, ir.I8, ir.I64}, 16},
		{"x86-32 vector in xmm", t32, []ir.Type{ir.V4I32, ir.I32}, 16},
		{"x86-32 five vectors", t32, []ir.Type{ir.V4I32, ir.V4I32, ir.V4I32, ir.V4I32, ir.I32, ir.V4F32}, 32},
		{"x86-64 registers", t64, []ir.Type{ir.I64, ir.I32, ir.F64, ir.F32}, 0},
		{"x86-64 overflow", t64, []ir.Type{ir.I64, ir.I64, ir.I64, ir.I64, ir.I64, ir.I64, ir.I32, ir.I32}, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CallStackArgumentsSize(tt.target, tt.args))
		})
	}

	offs := StackArgOffsets(t32, []ir.Type{ir.I32, ir.V4I32, ir.F64})
	assert.Equal(t, []int32{0, -1, 4}, offs)
}

func TestFrameAreaOffsets(t *testing.T) {
	l := NewLayout(x86.NewTarget(x86.X8632, x86.SSE2))
	l.SetSpillArea(8, 4)
	l.SetHasFramePointer()
	l.SetPreservedRegsSize(4)
	l.UpdateMaxOutArgsSize(4)
	l.Finalize()

	assert.Equal(t, int64(l.SpillAreaOffset())+4, l.StackPointerOffset(x86.FrameSpill, 4))
	assert.Equal(t, int64(l.FrameSize()), l.StackPointerOffset(x86.FrameIncomingArgs, 0))

	// first stack argument sits above the saved frame pointer and return address
	assert.Equal(t, int64(8), l.FramePointerOffset(x86.FrameIncomingArgs, 0))
	assert.Equal(t, int64(12), l.FramePointerOffset(x86.FrameIncomingArgs, 4))
	assert.Equal(t, int64(-4)-int64(l.LocalAreaSize())+int64(l.SpillAreaOffset()),
		l.FramePointerOffset(x86.FrameSpill, 0))
}
