package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// minMaxSelect returns next when it picks between the operands of fc in
// the order minss or maxss would: olt a, b selecting a, b is min(a, b) and
// ogt a, b selecting a, b is max(a, b), NaN yielding b in both.
func minMaxSelect(fc *ir.Fcmp, next ir.Inst) *ir.Select {
	sel, ok := next.(*ir.Select)
	if !ok || sel.Cond != ir.Operand(fc.Dst) {
		return nil
	}
	if fc.Cond != ir.FOlt && fc.Cond != ir.FOgt {
		return nil
	}
	ty := sel.Dst.Ty
	if !ty.IsFloat() && ty != ir.V4F32 {
		return nil
	}
	if !ir.SameOperand(sel.True, fc.Src0) || !ir.SameOperand(sel.False, fc.Src1) {
		return nil
	}
	if sel.True == ir.Operand(fc.Dst) || sel.False == ir.Operand(fc.Dst) {
		return nil
	}
	return sel
}

func (l *Lowering) lowerMinMax(fc *ir.Fcmp, sel *ir.Select) {
	ty := sel.Dst.Ty
	var op x86.BinOp
	switch {
	case ty.IsVector() && fc.Cond == ir.FOlt:
		op = x86.OpMinps
	case ty.IsVector():
		op = x86.OpMaxps
	case fc.Cond == ir.FOlt:
		op = x86.OpMinss
	default:
		op = x86.OpMaxss
	}
	l.tr.V("boolfold").Printw("min/max select", "cmp", ir.FormatInst(fc), "select", ir.FormatInst(sel))

	allowed := legalReg | legalMem
	if ty.IsVector() {
		allowed = legalReg
	}
	s1 := l.legalize(fc.Src1, allowed, ir.NoRegister)
	t := l.makeReg(ty, ir.NoRegister)
	l.insertMov(t, l.legalize(fc.Src0, allowed, ir.NoRegister))
	l.binop(op, t, s1)
	l.insertMov(sel.Dst, t)
}

func (l *Lowering) lowerSelect(i *ir.Select) {
	ty := i.Dst.Ty
	if ty.IsVector() {
		l.lowerVectorSelect(i)
		return
	}
	if c, ok := i.Cond.(*ir.ConstInt); ok {
		if c.Uint64() != 0 {
			l.copyValue(i.Dst, i.True)
		} else {
			l.copyValue(i.Dst, i.False)
		}
		return
	}

	p := l.folding.producerFor(i, i.Cond)
	switch {
	case l.shouldSplit(ty):
		l.lowerSelect64(i, p)
	case ty == ir.I16 || ty == ir.I32 || ty == ir.I64:
		// operands first: legalizing may clobber the flags
		tv := l.legalize(i.True, legalReg|legalMem, ir.NoRegister)
		fv := l.legalize(i.False, legalDefault, ir.NoRegister)
		c := l.selectCond(i, p)
		t := l.makeReg(ty, ir.NoRegister)
		l.mov(t, fv)
		l.cmov(c, t, tv)
		l.mov(i.Dst, t)
	default:
		allowed := legalDefault
		if ty.IsFloat() {
			allowed = legalReg | legalMem
		}
		tv := l.legalize(i.True, allowed, ir.NoRegister)
		fv := l.legalize(i.False, allowed, ir.NoRegister)
		c := l.selectCond(i, p)
		done := l.newLabel()
		l.mov(i.Dst, tv)
		l.brLabel(c, done)
		l.movRedefined(i.Dst, fv)
		l.placeLabel(done)
	}
}

func (l *Lowering) lowerSelect64(i *ir.Select, p ir.Inst) {
	tLo := l.legalize(l.loOperand(i.True), legalReg|legalMem, ir.NoRegister)
	tHi := l.legalize(l.hiOperand(i.True), legalReg|legalMem, ir.NoRegister)
	fLo := l.legalize(l.loOperand(i.False), legalDefault, ir.NoRegister)
	fHi := l.legalize(l.hiOperand(i.False), legalDefault, ir.NoRegister)
	c := l.selectCond(i, p)

	lo, hi := l.makeReg(ir.I32, ir.NoRegister), l.makeReg(ir.I32, ir.NoRegister)
	l.mov(lo, fLo)
	l.cmov(c, lo, tLo)
	l.mov(hi, fHi)
	l.cmov(c, hi, tHi)
	l.mov(l.loVar(i.Dst), lo)
	l.mov(l.hiVar(i.Dst), hi)
}

// selectCond sets the flags from the select condition and returns the
// condition code selecting the true operand
func (l *Lowering) selectCond(i *ir.Select, p ir.Inst) x86.Cond {
	if p != nil {
		return l.lowerCondToFlags(p)
	}
	src := l.legalize(i.Cond, legalReg|legalMem, ir.NoRegister)
	l.cmp(src, boolConst(false))
	return x86.CondNE
}

// lowerVectorSelect picks lanes by a mask vector whose lanes are all ones
// or all zeros
func (l *Lowering) lowerVectorSelect(i *ir.Select) {
	ty := i.Dst.Ty.InRegisterType()

	if l.target.HasSSE41() {
		op := x86.OpBlendvps
		if ty == ir.V8I16 || ty == ir.V16I8 {
			op = x86.OpPblendvb
		}
		tv := l.legalizeToReg(i.True, ir.NoRegister)
		t := l.makeReg(i.Dst.Ty, ir.NoRegister)
		l.insertMov(t, l.legalizeToReg(i.False, ir.NoRegister))
		mask := l.legalizeToReg(i.Cond, x86.XMM0)
		l.insert(&x86.Blend{Op: op, Dst: t, Src: tv, Mask: mask})
		l.insertMov(i.Dst, t)
		return
	}

	// (mask & true) | (~mask & false)
	cond := l.legalizeToReg(i.Cond, ir.NoRegister)
	tv := l.legalizeToReg(i.True, ir.NoRegister)
	fv := l.legalizeToReg(i.False, ir.NoRegister)
	t := l.makeReg(i.Dst.Ty, ir.NoRegister)
	m := l.makeReg(i.Dst.Ty, ir.NoRegister)
	l.movOp(x86.MovP, t, cond)
	l.movOp(x86.MovP, m, cond)
	l.binop(x86.OpPand, t, tv)
	l.binop(x86.OpPandn, m, fv)
	l.binop(x86.OpPor, t, m)
	l.insertMov(i.Dst, t)
}
