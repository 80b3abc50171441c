package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// scanFrame decides the frame shape before any code is emitted. A frame
// pointer is needed once the stack pointer moves inside the body. At O2
// constant size entry block allocas are coalesced into one area reserved
// by the prolog; their destinations become rematerializable.
func (l *Lowering) scanFrame() {
	entry := l.fn.Entry()
	var fixed []*ir.Alloca

	for _, b := range l.fn.Blocks {
		for _, inst := range b.Insts {
			switch i := inst.(type) {
			case *ir.Alloca:
				if l.optimizing() && b == entry && l.isFixedAlloca(i) {
					fixed = append(fixed, i)
					continue
				}
				l.layout.SetHasFramePointer()
			case *ir.IntrinsicCall:
				if i.ID == ir.Stacksave || i.ID == ir.Stackrestore {
					l.layout.SetHasFramePointer()
				}
			}
		}
	}

	if len(fixed) == 0 {
		return
	}

	base := l.target.StackPtr
	if l.layout.HasFramePointer() {
		base = l.target.FramePtr
	}

	word := l.target.WordType.WidthBytes()
	maxAlign := word
	offsets := make([]uint32, len(fixed))
	var size uint32
	for k, a := range fixed {
		align := a.Align
		if align < 1 {
			align = 1
		}
		if align > maxAlign {
			maxAlign = align
		}
		size = alignTo(size, align)
		offsets[k] = size
		size += uint32(a.Size.(*ir.ConstInt).Value)
	}
	l.fixedSize = alignTo(size, word)

	for k, a := range fixed {
		// relative to the top of the area
		a.Dst.Remat = &ir.Remat{Base: base, Offset: int32(offsets[k]) - int32(l.fixedSize)}
	}
	l.layout.ReserveFixedAllocaArea(l.fixedSize, maxAlign)

	l.tr.V("frame").Printw("fixed allocas coalesced", "count", len(fixed), "size", l.fixedSize, "align", maxAlign)
}

// isFixedAlloca reports whether a can live in the prolog-reserved area
func (l *Lowering) isFixedAlloca(a *ir.Alloca) bool {
	c, ok := a.Size.(*ir.ConstInt)
	if !ok || c.Value < 0 || c.Value > 1<<24 {
		return false
	}
	if a.Align&(a.Align-1) != 0 {
		return false
	}
	return a.Align <= l.target.StackAlignment
}

func alignTo(n, align uint32) uint32 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// lowerAlloca moves the stack pointer down for an alloca that was not
// coalesced and yields the address just above the outgoing arguments
func (l *Lowering) lowerAlloca(i *ir.Alloca) {
	if i.Dst.Remat != nil {
		return
	}

	word := l.target.WordType
	align := i.Align
	if align < l.target.StackAlignment {
		align = l.target.StackAlignment
	}
	overAligned := align > l.target.StackAlignment
	sp := l.sp()

	switch size := i.Size.(type) {
	case *ir.ConstInt:
		total := alignTo(uint32(size.Uint64()), l.target.StackAlignment)
		if overAligned {
			total += align
		}
		if total > 0 {
			l.binop(x86.OpSub, sp, ir.Int(word, int64(total)))
		}
	default:
		t := l.makeReg(word, ir.NoRegister)
		if i.Size.Type() == word {
			l.mov(t, l.legalize(i.Size, legalDefault, ir.NoRegister))
		} else {
			l.movOp(x86.Movzx, t, l.legalize(i.Size, legalReg|legalMem, ir.NoRegister))
		}
		pad := l.target.StackAlignment - 1
		if overAligned {
			pad += align
		}
		l.binop(x86.OpAdd, t, ir.Int(word, int64(pad)))
		l.binop(x86.OpAnd, t, ir.Int(word, -int64(l.target.StackAlignment)))
		l.binop(x86.OpSub, sp, t)
	}

	// the bottom of the fixed alloca area is just above the outgoing arguments
	dst := l.makeReg(word, ir.NoRegister)
	l.lea(dst, &x86.Mem{
		Ty:     word,
		Base:   l.sp(),
		Offset: ir.Int(ir.I32, -int64(l.fixedSize)),
		Frame:  x86.FrameFixedAlloca,
	})
	if overAligned {
		l.binop(x86.OpAdd, dst, ir.Int(word, int64(align-1)))
		l.binop(x86.OpAnd, dst, ir.Int(word, -int64(align)))
	}
	l.mov(i.Dst, dst)
}
