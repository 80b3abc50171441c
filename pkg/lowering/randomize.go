package lowering

import (
	"math"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// shouldRandomize reports whether the constant is large enough to be
// randomized or pooled
func (l *Lowering) shouldRandomize(c *ir.ConstInt) bool {
	if l.opts.Randomize == RandomizeNone || l.poolingPaused {
		return false
	}
	switch c.Ty {
	case ir.I8, ir.I16, ir.I32:
	default:
		return false
	}
	return isLarge(c.Value, l.opts.RandomizeThreshold)
}

func isLarge(v int64, threshold uint32) bool {
	if v < 0 {
		v = -v
	}
	return v > int64(threshold)
}

// withPoolingPaused runs f without randomizing or pooling immediates
func (l *Lowering) withPoolingPaused(f func()) {
	prev := l.poolingPaused
	l.poolingPaused = true
	defer func() { l.poolingPaused = prev }()
	f()
}

// randomizeOrPoolImmediate materializes c in a register without encoding
// its value as an immediate
func (l *Lowering) randomizeOrPoolImmediate(c *ir.ConstInt, reg ir.RegNum) *ir.Variable {
	if l.opts.Randomize == RandomizePool {
		m := l.poolMem(c.Ty, c.Uint64())
		t := l.makeReg(c.Ty, reg)
		l.mov(t, m)
		return t
	}

	// mov T, v+cookie; lea T, [T-cookie] on at least 32 bits
	cookie := int64(int32(l.rng.Uint32()))
	wide := l.makeReg(ir.I32, ir.NoRegister)
	l.mov(wide, ir.Int(ir.I32, c.Value+cookie))
	l.lea(wide, &x86.Mem{Ty: ir.I32, Base: wide, Offset: ir.Int(ir.I32, -cookie), Randomized: true})
	if c.Ty == ir.I32 && reg == ir.NoRegister {
		return wide
	}
	t := l.makeReg(c.Ty, reg)
	l.mov(t, wide)
	return t
}

// shouldRandomizeMem reports whether the displacement of m must be hidden
func (l *Lowering) shouldRandomizeMem(m *x86.Mem) bool {
	if l.opts.Randomize == RandomizeNone || l.poolingPaused || m.Randomized || m.Frame != x86.FrameNone {
		return false
	}
	c, ok := m.Offset.(*ir.ConstInt)
	return ok && isLarge(c.Value, l.opts.RandomizeThreshold)
}

// randomizeOrPoolMem rewrites the displacement of m so that it does not
// appear in the encoding
func (l *Lowering) randomizeOrPoolMem(m *x86.Mem) *x86.Mem {
	word := l.target.WordType
	off := m.OffsetValue()

	if l.opts.Randomize == RandomizePool {
		// T = [pool]; T += base; access [T + index*scale]
		t := l.makeReg(word, ir.NoRegister)
		l.mov(t, l.poolMem(word, ir.Truncate(word, uint64(off))))
		if m.Base != nil {
			l.binop(x86.OpAdd, t, m.Base)
		}
		return &x86.Mem{Ty: m.Ty, Base: t, Index: m.Index, Shift: m.Shift, Segment: m.Segment, Randomized: true}
	}

	cookie := int64(int32(l.rng.Uint32() >> 1))
	if off+cookie > math.MaxInt32 {
		cookie = -cookie
	}
	t := l.makeReg(word, ir.NoRegister)
	l.lea(t, &x86.Mem{Ty: word, Base: m.Base, Index: m.Index, Shift: m.Shift, Offset: ir.Int(ir.I32, off+cookie), Randomized: true})
	return &x86.Mem{Ty: m.Ty, Base: t, Offset: ir.Int(ir.I32, -cookie), Segment: m.Segment, Randomized: true}
}

// poolMem returns the read-only memory holding a constant of type ty
func (l *Lowering) poolMem(ty ir.Type, bits uint64) *x86.Mem {
	label := x86.PoolLabel(ty, bits)
	if _, ok := l.pool[label]; !ok {
		e := &x86.PoolEntry{Label: label, Ty: ty, Bits: bits}
		l.pool[label] = e
		l.poolOrder = append(l.poolOrder, e)
	}
	return &x86.Mem{
		Ty:         ty,
		Offset:     &ir.ConstRelocatable{Ty: l.target.WordType, Symbol: label},
		Randomized: true,
	}
}
