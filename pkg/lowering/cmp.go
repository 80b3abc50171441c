package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// boolConst returns the i1 constant b
func boolConst(b bool) *ir.ConstInt {
	if b {
		return &ir.ConstInt{Ty: ir.I1, Value: 1}
	}
	return &ir.ConstInt{Ty: ir.I1, Value: 0}
}

// jumpTo is a branch destination: a block or a label in the current block
type jumpTo struct {
	block *x86.Block
	label *x86.Label
}

func toBlock(b *x86.Block) jumpTo  { return jumpTo{block: b} }
func toLabel(lb *x86.Label) jumpTo { return jumpTo{label: lb} }

// jumpIf branches to `to` when c holds and falls through otherwise. CondNone
// jumps unconditionally.
func (l *Lowering) jumpIf(c x86.Cond, to jumpTo) {
	switch {
	case to.label != nil:
		l.brLabel(c, to.label)
	case c == x86.CondNone:
		l.jmp(to.block)
	default:
		l.br(c, to.block, nil)
	}
}

func (l *Lowering) lowerIcmp(i *ir.Icmp) {
	ty := i.Src0.Type()
	switch {
	case ty.IsVector():
		l.lowerVectorIcmp(i)
	case l.shouldSplit(ty):
		l.lowerIcmp64(i)
	default:
		l.setcc(l.lowerIcmpToFlags(i), i.Dst)
	}
}

// lowerIcmpToFlags compares the operands of a scalar icmp and returns the
// condition code holding the result
func (l *Lowering) lowerIcmpToFlags(i *ir.Icmp) x86.Cond {
	src0, src1, cond := i.Src0, i.Src1, i.Cond
	if ir.IsConstant(src0) && !ir.IsConstant(src1) {
		src0, src1, cond = src1, src0, cond.Swapped()
	}

	s1 := l.legalize(src1, legalDefault, ir.NoRegister)
	s0 := l.legalizeSrc0ForCmp(src0, s1)

	if c, ok := s1.(*ir.ConstInt); ok && c.Value == 0 && (cond == ir.IEq || cond == ir.INe) {
		if v, ok := s0.(*ir.Variable); ok && l.optimizing() {
			l.test(v, v)
			return x86.IcmpCond(cond)
		}
	}
	l.cmp(s0, s1)
	return x86.IcmpCond(cond)
}

// lowerIcmp64 materializes a compare of split i64 values
func (l *Lowering) lowerIcmp64(i *ir.Icmp) {
	done, isFalse := l.newLabel(), l.newLabel()
	l.lowerIcmp64Branch(i, func() { l.mov(i.Dst, boolConst(true)) }, toLabel(done), toLabel(isFalse))
	l.placeLabel(isFalse)
	l.movRedefined(i.Dst, boolConst(false))
	l.placeLabel(done)
}

// lowerIcmp64Branch compares the high halves, deciding the result when they
// differ, and otherwise the low halves unsigned. before runs after the
// operands are legalized and before the first compare.
func (l *Lowering) lowerIcmp64Branch(i *ir.Icmp, before func(), t, f jumpTo) {
	conds := x86.Icmp64Conds(i.Cond)

	hi1 := l.legalize(l.hiOperand(i.Src1), legalDefault, ir.NoRegister)
	hi0 := l.legalizeSrc0ForCmp(l.hiOperand(i.Src0), hi1)
	lo1 := l.legalize(l.loOperand(i.Src1), legalDefault, ir.NoRegister)
	lo0 := l.legalizeSrc0ForCmp(l.loOperand(i.Src0), lo1)
	if before != nil {
		before()
	}

	l.cmp(hi0, hi1)
	if conds.HiTrue != x86.CondNone {
		l.jumpIf(conds.HiTrue, t)
	}
	if conds.HiFalse != x86.CondNone {
		l.jumpIf(conds.HiFalse, f)
	}
	l.cmp(lo0, lo1)
	l.jumpIf(conds.LoTrue, t)
	l.jumpIf(x86.CondNone, f)
}

// lowerFcmp materializes a scalar or vector float compare. At O2 a compare
// feeding a select of its own operands becomes minss/maxss.
func (l *Lowering) lowerFcmp(i *ir.Fcmp, rest []ir.Inst) {
	if l.optimizing() && len(rest) > 0 && l.uses(i.Dst) == 1 {
		if sel := minMaxSelect(i, rest[0]); sel != nil {
			l.lowerMinMax(i, sel)
			l.deleted.Set(uint(sel.Number()))
			return
		}
	}
	if i.Src0.Type().IsVector() {
		l.lowerVectorFcmp(i)
		return
	}

	fl := x86.FcmpConds(i.Cond)
	if fl.C1 == x86.CondNone {
		l.mov(i.Dst, boolConst(fl.Default))
		return
	}
	l.ucomissFor(i, fl)
	if fl.C2 == x86.CondNone {
		l.setcc(fl.C1, i.Dst)
		return
	}

	t := l.makeReg(ir.I1, ir.NoRegister)
	if fl.Default {
		l.setcc(fl.C1, i.Dst)
		l.setcc(fl.C2, t)
		l.binop(x86.OpOr, i.Dst, t)
		return
	}
	l.setcc(fl.C1.Opposite(), i.Dst)
	l.setcc(fl.C2.Opposite(), t)
	l.binop(x86.OpAnd, i.Dst, t)
}

func (l *Lowering) ucomissFor(i *ir.Fcmp, fl x86.FcmpLowering) {
	src0, src1 := i.Src0, i.Src1
	if fl.SwapOperands {
		src0, src1 = src1, src0
	}
	s1 := l.legalize(src1, legalReg|legalMem, ir.NoRegister)
	s0 := l.legalizeToReg(src0, ir.NoRegister)
	l.ucomiss(s0, s1)
}

// lowerCondToFlags evaluates a folded single-condition producer into the
// flags and returns the condition holding its value
func (l *Lowering) lowerCondToFlags(producer ir.Inst) x86.Cond {
	l.tr.V("boolfold").Printw("fold producer", "inst", ir.FormatInst(producer), "into", ir.FormatInst(l.curInst))

	switch p := producer.(type) {
	case *ir.Icmp:
		return l.lowerIcmpToFlags(p)
	case *ir.Fcmp:
		fl := x86.FcmpConds(p.Cond)
		l.ucomissFor(p, fl)
		return fl.C1
	case *ir.Arithmetic:
		s1 := l.legalize(p.Src1, legalDefault, ir.NoRegister)
		t := l.makeReg(ir.I1, ir.NoRegister)
		l.mov(t, l.legalize(p.Src0, legalDefault, ir.NoRegister))
		op := x86.OpAnd
		if p.Op == ir.Or {
			op = x86.OpOr
		}
		l.binop(op, t, s1)
		return x86.CondNE
	case *ir.Cast:
		src := l.legalize(p.Src, legalReg|legalMem, ir.NoRegister)
		l.test(src, ir.Int(p.Src.Type(), 1))
		return x86.CondNE
	}
	l.fatalf("unexpected bool producer %T", producer)
	return x86.CondNone
}

// lowerBranchOn branches on the value of a folded producer
func (l *Lowering) lowerBranchOn(producer ir.Inst, t, f *x86.Block) {
	switch p := producer.(type) {
	case *ir.Icmp:
		if l.shouldSplit(p.Src0.Type()) {
			l.tr.V("boolfold").Printw("fold producer", "inst", ir.FormatInst(producer), "into", ir.FormatInst(l.curInst))
			l.lowerIcmp64Branch(p, nil, toBlock(t), toBlock(f))
			return
		}
	case *ir.Fcmp:
		fl := x86.FcmpConds(p.Cond)
		if fl.C1 == x86.CondNone {
			if fl.Default {
				l.jmp(t)
			} else {
				l.jmp(f)
			}
			return
		}
		if fl.C2 != x86.CondNone {
			l.tr.V("boolfold").Printw("fold producer", "inst", ir.FormatInst(producer), "into", ir.FormatInst(l.curInst))
			l.ucomissFor(p, fl)
			if fl.Default {
				l.br(fl.C1, t, nil)
				l.br(fl.C2, t, f)
			} else {
				l.br(fl.C1, f, nil)
				l.br(fl.C2, f, t)
			}
			return
		}
	}
	l.br(l.lowerCondToFlags(producer), t, f)
}

func (l *Lowering) lowerBr(i *ir.Br) {
	from := l.cur.Src
	if i.IsUnconditional() {
		l.jmp(l.edgeTarget(from, i.True))
		return
	}
	t, f := l.edgeTarget(from, i.True), l.edgeTarget(from, i.False)

	if p := l.folding.producerFor(i, i.Cond); p != nil {
		l.lowerBranchOn(p, t, f)
		return
	}
	if c, ok := i.Cond.(*ir.ConstInt); ok {
		if c.Uint64() != 0 {
			l.jmp(t)
		} else {
			l.jmp(f)
		}
		return
	}

	src := l.legalize(i.Cond, legalReg|legalMem, ir.NoRegister)
	l.cmp(src, boolConst(false))
	l.br(x86.CondNE, t, f)
}

// uses returns the number of uses of v in the input function
func (l *Lowering) uses(v *ir.Variable) int {
	if v == nil || v.ID >= len(l.useCounts) {
		return 0
	}
	return l.useCounts[v.ID]
}
