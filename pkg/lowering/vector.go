package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

var vectorBinops = map[ir.ArithOp]x86.BinOp{
	ir.Add:  x86.OpPadd,
	ir.Sub:  x86.OpPsub,
	ir.And:  x86.OpPand,
	ir.Or:   x86.OpPor,
	ir.Xor:  x86.OpPxor,
	ir.Mul:  x86.OpPmull,
	ir.Fadd: x86.OpAddps,
	ir.Fsub: x86.OpSubps,
	ir.Fmul: x86.OpMulps,
	ir.Fdiv: x86.OpDivps,
}

func (l *Lowering) lowerVectorArithmetic(i *ir.Arithmetic) {
	ty := i.Dst.Ty
	op := i.Op
	if ty.IsBoolVector() {
		switch op {
		case ir.Add, ir.Sub:
			op = ir.Xor
		case ir.Mul:
			op = ir.And
		}
	}

	scalar := false
	switch op {
	case ir.Shl, ir.Lshr, ir.Ashr, ir.Udiv, ir.Sdiv, ir.Urem, ir.Srem, ir.Frem:
		scalar = true
	case ir.Mul:
		switch ty {
		case ir.V16I8:
			scalar = true
		case ir.V4I32:
			if !l.target.HasSSE41() {
				l.lowerMulV4I32(i.Dst, i.Src0, i.Src1)
				return
			}
		}
	}
	if scalar {
		l.scalarize(i.Dst, []ir.Operand{i.Src0, i.Src1}, func(d *ir.Variable, ops []ir.Operand) {
			l.lowerArithmetic(&ir.Arithmetic{Op: op, Dst: d, Src0: ops[0], Src1: ops[1]})
		})
		return
	}

	bop, ok := vectorBinops[op]
	if !ok {
		l.fatalf("%v on %v", op, ty)
	}
	src1 := l.legalizeToReg(i.Src1, ir.NoRegister)
	t := l.makeReg(ty, ir.NoRegister)
	l.insertMov(t, l.legalizeToReg(i.Src0, ir.NoRegister))
	l.binop(bop, t, src1)
	l.insertMov(i.Dst, t)
}

// lowerMulV4I32 multiplies 32-bit lanes with SSE2 pmuludq, which only
// multiplies lanes 0 and 2:
//
//	t1 = pshufd a, 0x31
//	t2 = pshufd b, 0x31
//	t3 = a; pmuludq t3, b
//	pmuludq t1, t2
//	shufps t3, t1, 0x88
//	pshufd t3, t3, 0xd8
func (l *Lowering) lowerMulV4I32(dst *ir.Variable, src0, src1 ir.Operand) {
	a := l.legalizeToReg(src0, ir.NoRegister)
	b := l.legalizeToReg(src1, ir.NoRegister)
	t1 := l.makeReg(ir.V4I32, ir.NoRegister)
	t2 := l.makeReg(ir.V4I32, ir.NoRegister)
	t3 := l.makeReg(ir.V4I32, ir.NoRegister)
	l.vecOp(x86.OpPshufd, t1, a, 0x31)
	l.vecOp(x86.OpPshufd, t2, b, 0x31)
	l.insertMov(t3, a)
	l.binop(x86.OpPmuludq, t3, b)
	l.binop(x86.OpPmuludq, t1, t2)
	l.vecOp(x86.OpShufps, t3, t1, 0x88)
	l.vecOp(x86.OpPshufd, t3, t3, 0xd8)
	l.insertMov(dst, t3)
}

// lowerVectorIcmp builds the lane mask with pcmpeq and pcmpgt. Unsigned
// predicates flip the sign bits first; the rest swap or invert.
func (l *Lowering) lowerVectorIcmp(i *ir.Icmp) {
	ty := i.Src0.Type().InRegisterType()
	a := ir.Operand(l.legalizeToReg(i.Src0, ir.NoRegister))
	b := ir.Operand(l.legalizeToReg(i.Src1, ir.NoRegister))

	switch i.Cond {
	case ir.IUgt, ir.IUge, ir.IUlt, ir.IUle:
		hb := l.makeVectorOfHighOrderBits(ty, ir.NoRegister)
		t0 := l.makeReg(ty, ir.NoRegister)
		t1 := l.makeReg(ty, ir.NoRegister)
		l.insertMov(t0, a)
		l.binop(x86.OpPxor, t0, hb)
		l.insertMov(t1, b)
		l.binop(x86.OpPxor, t1, hb)
		a, b = t0, t1
	}

	swap, invert := false, false
	op := x86.OpPcmpgt
	switch i.Cond {
	case ir.IEq:
		op = x86.OpPcmpeq
	case ir.INe:
		op, invert = x86.OpPcmpeq, true
	case ir.ISlt, ir.IUlt:
		swap = true
	case ir.ISge, ir.IUge:
		swap, invert = true, true
	case ir.ISle, ir.IUle:
		invert = true
	}
	if swap {
		a, b = b, a
	}

	t := l.makeReg(ty, ir.NoRegister)
	l.insertMov(t, a)
	l.binop(op, t, b)
	if invert {
		l.binop(x86.OpPxor, t, l.makeVectorOfMinusOnes(ty, ir.NoRegister))
	}
	l.insertMov(i.Dst, t)
}

func (l *Lowering) lowerVectorFcmp(i *ir.Fcmp) {
	fv := x86.FcmpVectorConds(i.Cond)
	if fv.Constant {
		if fv.Const {
			l.insertMov(i.Dst, l.makeVectorOfMinusOnes(i.Dst.Ty, ir.NoRegister))
		} else {
			l.insertMov(i.Dst, l.makeVectorOfZeros(i.Dst.Ty, ir.NoRegister))
		}
		return
	}

	a := l.legalizeToReg(i.Src0, ir.NoRegister)
	b := l.legalizeToReg(i.Src1, ir.NoRegister)
	if fv.SwapOperands {
		a, b = b, a
	}

	t := l.makeReg(ir.V4F32, ir.NoRegister)
	l.insertMov(t, a)
	l.vecOp(x86.OpCmpps, t, b, uint8(fv.C1))
	if fv.C2 != x86.CmppsInvalid {
		t2 := l.makeReg(ir.V4F32, ir.NoRegister)
		l.insertMov(t2, a)
		l.vecOp(x86.OpCmpps, t2, b, uint8(fv.C2))
		if i.Cond == ir.FUeq {
			l.binop(x86.OpPor, t, t2)
		} else {
			l.binop(x86.OpPand, t, t2)
		}
	}
	l.insertMov(i.Dst, t)
}

func (l *Lowering) laneIndex(vecTy ir.Type, idx ir.Operand) int {
	c, ok := idx.(*ir.ConstInt)
	if !ok {
		l.fatalf("lane index %v is not a constant", idx)
	}
	if c.Value < 0 || c.Value >= int64(vecTy.NumElements()) {
		l.fatalf("lane index %d out of range for %v", c.Value, vecTy)
	}
	return int(c.Value)
}

func (l *Lowering) lowerExtractElement(i *ir.ExtractElement) {
	l.extractLane(i.Dst, i.Vec, l.laneIndex(i.Vec.Type(), i.Index))
}

func (l *Lowering) lowerInsertElement(i *ir.InsertElement) {
	l.insertLane(i.Dst, i.Vec, i.Elem, l.laneIndex(i.Vec.Type(), i.Index))
}

// extractLane copies lane k of vec into dst
func (l *Lowering) extractLane(dst *ir.Variable, vec ir.Operand, k int) {
	rty := vec.Type().InRegisterType()
	v := l.legalizeToReg(vec, ir.NoRegister)

	if rty == ir.V4F32 {
		t := v
		if k != 0 {
			t = l.makeReg(ir.V4F32, ir.NoRegister)
			l.vecOp(x86.OpPshufd, t, v, uint8(k))
		}
		e := l.makeReg(ir.F32, ir.NoRegister)
		l.movOp(x86.MovP, e, t)
		l.mov(dst, e)
		return
	}

	// integer lanes are read into a 32-bit register
	e := l.makeReg(ir.I32, ir.NoRegister)
	switch {
	case rty == ir.V8I16, l.target.HasSSE41():
		l.vecOp(x86.OpPextr, e, v, uint8(k))
	case rty == ir.V4I32:
		t := v
		if k != 0 {
			t = l.makeReg(ir.V4I32, ir.NoRegister)
			l.vecOp(x86.OpPshufd, t, v, uint8(k))
		}
		l.movOp(x86.MovD, e, t)
	default:
		slot := l.stackSlot(rty)
		l.store(v, slot)
		l.movOp(x86.Movzx, e, slot.WithType(ir.I8).WithOffset(int64(k)))
	}

	switch dst.Ty {
	case ir.I32:
		l.mov(dst, e)
	case ir.I1:
		t := l.makeReg(ir.I1, ir.NoRegister)
		l.mov(t, e)
		l.binop(x86.OpAnd, t, boolConst(true))
		l.mov(dst, t)
	default:
		t := l.makeReg(dst.Ty, ir.NoRegister)
		l.mov(t, e)
		l.mov(dst, t)
	}
}

// insertLane sets dst to vec with lane k replaced by elem
func (l *Lowering) insertLane(dst *ir.Variable, vec, elem ir.Operand, k int) {
	vty := vec.Type()
	rty := vty.InRegisterType()
	t := l.makeReg(vty, ir.NoRegister)
	l.insertMov(t, l.legalizeToReg(vec, ir.NoRegister))

	if rty == ir.V4F32 {
		e := l.legalizeToReg(elem, ir.NoRegister)
		switch {
		case l.target.HasSSE41():
			l.vecOp(x86.OpInsertps, t, e, uint8(k<<4))
		case k == 0:
			l.movOp(x86.MovssRegs, t, e)
		default:
			l.insertLaneThroughMemory(t, e, k)
		}
		l.insertMov(dst, t)
		return
	}

	e := l.laneValue32(elem)
	switch {
	case rty == ir.V8I16, l.target.HasSSE41():
		l.vecOp(x86.OpPinsr, t, e, uint8(k))
	default:
		l.insertLaneThroughMemory(t, e, k)
	}
	l.insertMov(dst, t)
}

// laneValue32 widens an integer lane value to 32 bits. i1 lanes become all
// ones or all zeros.
func (l *Lowering) laneValue32(elem ir.Operand) *ir.Variable {
	ty := elem.Type()
	if c, ok := elem.(*ir.ConstInt); ok {
		v := c.Value
		if ty == ir.I1 && v != 0 {
			v = -1
		}
		return l.copyToReg(ir.Int(ir.I32, v), ir.NoRegister)
	}
	switch ty {
	case ir.I32:
		return l.legalizeToReg(elem, ir.NoRegister)
	case ir.I1:
		t := l.makeReg(ir.I32, ir.NoRegister)
		l.movOp(x86.Movzx, t, l.legalize(elem, legalReg|legalMem, ir.NoRegister))
		l.binop(x86.OpAnd, t, ir.Int(ir.I32, 1))
		l.unary(x86.OpNeg, t)
		return t
	}
	t := l.makeReg(ir.I32, ir.NoRegister)
	l.movOp(x86.Movzx, t, l.legalize(elem, legalReg|legalMem, ir.NoRegister))
	return t
}

// insertLaneThroughMemory spills t, overwrites lane k and reloads it
func (l *Lowering) insertLaneThroughMemory(t, e *ir.Variable, k int) {
	rty := t.Ty.InRegisterType()
	ety := rty.ElementType()
	slot := l.stackSlot(rty)
	l.store(t, slot)
	lane := slot.WithType(ety).WithOffset(int64(k) * int64(ety.WidthBytes()))
	if e.Ty == ety {
		l.store(e, lane)
	} else {
		n := l.makeReg(ety, ir.NoRegister)
		l.mov(n, e)
		l.store(n, lane)
	}
	l.mov(t, slot)
}

// scalarize applies f lane by lane. f receives the destination and source
// lanes as scalars.
func (l *Lowering) scalarize(dst *ir.Variable, srcs []ir.Operand, f func(d *ir.Variable, ops []ir.Operand)) {
	ty := dst.Ty
	acc := l.fn.NewVariable("", ty)
	l.insertMov(acc, l.makeVectorOfZeros(ty, ir.NoRegister))

	for k := 0; k < ty.NumElements(); k++ {
		ops := make([]ir.Operand, len(srcs))
		for j, s := range srcs {
			e := l.fn.NewVariable("", s.Type().ElementType())
			l.extractLane(e, s, k)
			ops[j] = e
		}
		d := l.fn.NewVariable("", ty.ElementType())
		f(d, ops)
		next := l.fn.NewVariable("", ty)
		l.insertLane(next, acc, d, k)
		acc = next
	}
	l.insertMov(dst, acc)
}
