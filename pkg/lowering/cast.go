package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

func (l *Lowering) lowerCast(i *ir.Cast) {
	switch i.Op {
	case ir.Sext, ir.Zext:
		l.lowerExtend(i)
	case ir.Trunc:
		l.lowerTrunc(i)
	case ir.Fptrunc, ir.Fpext:
		t := l.makeReg(i.Dst.Ty, ir.NoRegister)
		l.insert(&x86.Cvt{Variant: x86.CvtFloat2float, Dst: t, Src: l.legalize(i.Src, legalReg|legalMem, ir.NoRegister)})
		l.mov(i.Dst, t)
	case ir.Fptosi, ir.Fptoui:
		l.lowerFloatToInt(i)
	case ir.Sitofp, ir.Uitofp:
		l.lowerIntToFloat(i)
	case ir.Bitcast:
		l.lowerBitcast(i)
	default:
		l.fatalf("unsupported cast %v", i.Op)
	}
}

func (l *Lowering) lowerExtend(i *ir.Cast) {
	dst, src := i.Dst, i.Src
	signed := i.Op == ir.Sext
	srcTy := src.Type()

	if dst.Ty.IsVector() {
		// bool vector lanes already hold all ones or all zeros
		if !srcTy.IsBoolVector() || srcTy.InRegisterType() != dst.Ty {
			l.fatalf("%v from %v to %v", i.Op, srcTy, dst.Ty)
		}
		if !signed {
			t := l.makeReg(dst.Ty, ir.NoRegister)
			l.movOp(x86.MovP, t, l.legalizeToReg(src, ir.NoRegister))
			l.binop(x86.OpPand, t, l.makeVectorOfOnes(dst.Ty, ir.NoRegister))
			l.insertMov(dst, t)
			return
		}
		l.insertMov(dst, l.legalizeToReg(src, ir.NoRegister))
		return
	}

	if srcTy == ir.I1 {
		l.lowerExtendBool(i, signed)
		return
	}

	if l.shouldSplit(dst.Ty) {
		lo := l.makeReg(ir.I32, ir.NoRegister)
		s := l.legalize(src, legalReg|legalMem, ir.NoRegister)
		switch {
		case srcTy == ir.I32:
			l.mov(lo, s)
		case signed:
			l.movOp(x86.Movsx, lo, s)
		default:
			l.movOp(x86.Movzx, lo, s)
		}
		hi := l.makeReg(ir.I32, ir.NoRegister)
		if signed {
			l.mov(hi, lo)
			l.binop(x86.OpSar, hi, ir.Int(ir.I8, 31))
		} else {
			l.mov(hi, ir.Int(ir.I32, 0))
		}
		l.mov(l.loVar(dst), lo)
		l.mov(l.hiVar(dst), hi)
		return
	}

	op := x86.Movzx
	if signed {
		op = x86.Movsx
	}
	t := l.makeReg(dst.Ty, ir.NoRegister)
	l.movOp(op, t, l.legalize(src, legalReg|legalMem, ir.NoRegister))
	l.mov(dst, t)
}

// lowerExtendBool widens an i1 to 0 or 1, negated for sext
func (l *Lowering) lowerExtendBool(i *ir.Cast, signed bool) {
	dst := i.Dst
	var src ir.Operand
	if p := l.folding.producerFor(i, i.Src); p != nil {
		t := l.makeReg(ir.I1, ir.NoRegister)
		l.setcc(l.lowerCondToFlags(p), t)
		src = t
	} else {
		src = l.legalize(i.Src, legalReg|legalMem, ir.NoRegister)
	}

	ty := dst.Ty
	if l.shouldSplit(ty) {
		ty = ir.I32
	}
	t := l.makeReg(ty, ir.NoRegister)
	if ty == ir.I8 || ty == ir.I1 {
		l.mov(t, src)
	} else {
		l.movOp(x86.Movzx, t, src)
	}
	l.binop(x86.OpAnd, t, ir.Int(ty, 1))
	if signed {
		l.unary(x86.OpNeg, t)
	}

	if !l.shouldSplit(dst.Ty) {
		l.mov(dst, t)
		return
	}
	l.mov(l.loVar(dst), t)
	if signed {
		l.mov(l.hiVar(dst), t)
	} else {
		l.mov(l.hiVar(dst), ir.Int(ir.I32, 0))
	}
}

func (l *Lowering) lowerTrunc(i *ir.Cast) {
	dst, src := i.Dst, i.Src
	srcTy := src.Type()

	if dst.Ty.IsBoolVector() {
		// lanes with the low bit set become all ones
		ones := l.makeVectorOfOnes(srcTy, ir.NoRegister)
		t := l.makeReg(srcTy, ir.NoRegister)
		l.movOp(x86.MovP, t, l.legalizeToReg(src, ir.NoRegister))
		l.binop(x86.OpPand, t, ones)
		l.binop(x86.OpPcmpeq, t, ones)
		l.insertMov(dst, t)
		return
	}
	if dst.Ty.IsVector() {
		l.fatalf("trunc from %v to %v", srcTy, dst.Ty)
	}

	if l.shouldSplit(srcTy) {
		src = l.loOperand(src)
	}
	s := l.legalize(src, legalDefault, ir.NoRegister)
	switch o := s.(type) {
	case *x86.Mem:
		// little endian: the low bytes come first
		s = o.WithType(dst.Ty)
	case *ir.ConstInt:
		s = ir.Int(dst.Ty, o.Value)
	}
	t := l.makeReg(dst.Ty, ir.NoRegister)
	l.mov(t, s)
	if dst.Ty == ir.I1 {
		l.binop(x86.OpAnd, t, ir.Int(ir.I8, 1))
	}
	l.mov(dst, t)
}

func (l *Lowering) lowerFloatToInt(i *ir.Cast) {
	dst, src := i.Dst, i.Src
	unsigned := i.Op == ir.Fptoui
	srcTy := src.Type()

	if dst.Ty.IsVector() {
		if unsigned {
			l.scalarize(dst, []ir.Operand{src}, func(d *ir.Variable, ops []ir.Operand) {
				l.lowerCast(&ir.Cast{Op: ir.Fptoui, Dst: d, Src: ops[0]})
			})
			return
		}
		t := l.makeReg(dst.Ty, ir.NoRegister)
		l.insert(&x86.Cvt{Variant: x86.CvtTps2dq, Dst: t, Src: l.legalizeToReg(src, ir.NoRegister)})
		l.insertMov(dst, t)
		return
	}

	var helper string
	switch {
	case dst.Ty == ir.I64 && unsigned:
		helper = pick(srcTy, x86.HelperF32ToU64, x86.HelperF64ToU64)
	case dst.Ty == ir.I64 && !l.target.Is64Bit():
		helper = pick(srcTy, x86.HelperF32ToI64, x86.HelperF64ToI64)
	case dst.Ty == ir.I32 && unsigned && !l.target.Is64Bit():
		helper = pick(srcTy, x86.HelperF32ToU32, x86.HelperF64ToU32)
	}
	if helper != "" {
		l.callHelper(helper, dst, src)
		return
	}

	// convert at 32 bits, or 64 for i64 and for unsigned i32 on x86-64
	wty := ir.I32
	if dst.Ty == ir.I64 || (dst.Ty == ir.I32 && unsigned) {
		wty = ir.I64
	}
	t := l.makeReg(wty, ir.NoRegister)
	l.insert(&x86.Cvt{Variant: x86.CvtTss2si, Dst: t, Src: l.legalize(src, legalReg|legalMem, ir.NoRegister)})
	if dst.Ty == ir.I1 {
		l.binop(x86.OpAnd, t, ir.Int(wty, 1))
	}
	l.mov(dst, t)
}

func (l *Lowering) lowerIntToFloat(i *ir.Cast) {
	dst, src := i.Dst, i.Src
	unsigned := i.Op == ir.Uitofp
	srcTy := src.Type()

	if dst.Ty.IsVector() {
		if unsigned || srcTy != ir.V4I32 {
			op := i.Op
			l.scalarize(dst, []ir.Operand{src}, func(d *ir.Variable, ops []ir.Operand) {
				l.lowerCast(&ir.Cast{Op: op, Dst: d, Src: ops[0]})
			})
			return
		}
		t := l.makeReg(dst.Ty, ir.NoRegister)
		l.insert(&x86.Cvt{Variant: x86.CvtDq2ps, Dst: t, Src: l.legalizeToReg(src, ir.NoRegister)})
		l.insertMov(dst, t)
		return
	}

	var helper string
	switch {
	case srcTy == ir.I64 && unsigned:
		helper = pick(dst.Ty, x86.HelperU64ToF32, x86.HelperU64ToF64)
	case srcTy == ir.I64 && !l.target.Is64Bit():
		helper = pick(dst.Ty, x86.HelperI64ToF32, x86.HelperI64ToF64)
	case srcTy == ir.I32 && unsigned && !l.target.Is64Bit():
		helper = pick(dst.Ty, x86.HelperU32ToF32, x86.HelperU32ToF64)
	}
	if helper != "" {
		l.callHelper(helper, dst, src)
		return
	}

	var s ir.Operand
	switch {
	case srcTy == ir.I1:
		// sitofp of true is -1.0
		w := l.makeReg(ir.I32, ir.NoRegister)
		l.movOp(x86.Movzx, w, l.legalize(src, legalReg|legalMem, ir.NoRegister))
		l.binop(x86.OpAnd, w, ir.Int(ir.I32, 1))
		if !unsigned {
			l.unary(x86.OpNeg, w)
		}
		s = w
	case srcTy == ir.I8 || srcTy == ir.I16:
		w := l.makeReg(ir.I32, ir.NoRegister)
		op := x86.Movsx
		if unsigned {
			op = x86.Movzx
		}
		l.movOp(op, w, l.legalize(src, legalReg|legalMem, ir.NoRegister))
		s = w
	case srcTy == ir.I32 && unsigned:
		// every u32 is a non-negative i64
		w := l.makeReg(ir.I64, ir.NoRegister)
		l.movOp(x86.Movzx, w, l.legalize(src, legalReg|legalMem, ir.NoRegister))
		s = w
	default:
		s = l.legalize(src, legalReg|legalMem, ir.NoRegister)
	}
	t := l.makeReg(dst.Ty, ir.NoRegister)
	l.insert(&x86.Cvt{Variant: x86.CvtSi2ss, Dst: t, Src: s})
	l.mov(dst, t)
}

func pick(ty ir.Type, f32, f64 string) string {
	if ty == ir.F64 {
		return f64
	}
	return f32
}

func (l *Lowering) lowerBitcast(i *ir.Cast) {
	dst, src := i.Dst, i.Src
	srcTy := src.Type()
	if srcTy.WidthBytes() != dst.Ty.WidthBytes() || srcTy.IsBoolVector() != dst.Ty.IsBoolVector() {
		l.fatalf("bitcast from %v to %v", srcTy, dst.Ty)
	}

	switch {
	case srcTy == dst.Ty:
		l.copyValue(dst, src)

	case dst.Ty.IsVector():
		l.insertMov(dst, l.legalizeToReg(src, ir.NoRegister))

	case srcTy == ir.I64 && dst.Ty == ir.F64 && !l.target.Is64Bit():
		lo := l.legalize(l.loOperand(src), legalReg|legalImm, ir.NoRegister)
		hi := l.legalize(l.hiOperand(src), legalReg|legalImm, ir.NoRegister)
		slot := l.stackSlot(ir.F64)
		l.store(lo, slot.WithType(ir.I32))
		l.store(hi, slot.WithType(ir.I32).WithOffset(4))
		l.mov(dst, slot)

	case srcTy == ir.F64 && dst.Ty == ir.I64 && !l.target.Is64Bit():
		slot := l.stackSlot(ir.F64)
		l.store(l.legalizeToReg(src, ir.NoRegister), slot)
		l.mov(l.loVar(dst), slot.WithType(ir.I32))
		l.mov(l.hiVar(dst), slot.WithType(ir.I32).WithOffset(4))

	default:
		// i32 <-> f32 and i64 <-> f64
		op := x86.MovD
		if dst.Ty.WidthBytes() == 8 {
			op = x86.MovQ
		}
		s := l.legalize(src, legalReg|legalMem, ir.NoRegister)
		if m, ok := s.(*x86.Mem); ok {
			l.mov(dst, m.WithType(dst.Ty))
			return
		}
		t := l.makeReg(dst.Ty, ir.NoRegister)
		l.movOp(op, t, s)
		l.mov(dst, t)
	}
}
