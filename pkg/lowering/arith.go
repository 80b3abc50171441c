package lowering

import (
	"math/bits"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

var intBinops = map[ir.ArithOp]x86.BinOp{
	ir.Add:  x86.OpAdd,
	ir.Sub:  x86.OpSub,
	ir.And:  x86.OpAnd,
	ir.Or:   x86.OpOr,
	ir.Xor:  x86.OpXor,
	ir.Shl:  x86.OpShl,
	ir.Lshr: x86.OpShr,
	ir.Ashr: x86.OpSar,
}

var floatBinops = map[ir.ArithOp]x86.BinOp{
	ir.Fadd: x86.OpAddss,
	ir.Fsub: x86.OpSubss,
	ir.Fmul: x86.OpMulss,
	ir.Fdiv: x86.OpDivss,
}

func (l *Lowering) lowerArithmetic(i *ir.Arithmetic) {
	ty := i.Dst.Ty
	switch {
	case ty.IsVector():
		l.lowerVectorArithmetic(i)
		return
	case l.shouldSplit(ty):
		l.lowerArithmetic64(i)
		return
	case ty.IsFloat():
		l.lowerFloatArithmetic(i)
		return
	}

	op := i.Op
	if ty == ir.I1 {
		// arithmetic modulo 2
		switch op {
		case ir.Add, ir.Sub:
			op = ir.Xor
		case ir.Mul:
			op = ir.And
		case ir.And, ir.Or, ir.Xor:
		default:
			l.fatalf("%v on i1", op)
		}
	}

	src0, src1 := i.Src0, i.Src1
	if op.IsCommutative() && ir.IsConstant(src0) && !ir.IsConstant(src1) {
		src0, src1 = src1, src0
	}

	switch op {
	case ir.Add, ir.Sub, ir.And, ir.Or, ir.Xor:
		s1 := l.legalize(src1, legalDefault, ir.NoRegister)
		t := l.makeReg(ty, ir.NoRegister)
		l.mov(t, l.legalize(src0, legalDefault, ir.NoRegister))
		l.binop(intBinops[op], t, s1)
		l.mov(i.Dst, t)
	case ir.Mul:
		l.lowerMul(i.Dst, src0, src1)
	case ir.Shl, ir.Lshr, ir.Ashr:
		l.lowerShift(intBinops[op], i.Dst, src0, src1)
	case ir.Udiv, ir.Sdiv, ir.Urem, ir.Srem:
		l.lowerDivRem(op, i.Dst, src0, src1)
	default:
		l.fatalf("%v on %v", op, ty)
	}
}

func (l *Lowering) lowerMul(dst *ir.Variable, src0, src1 ir.Operand) {
	ty := dst.Ty
	c, isConst := src1.(*ir.ConstInt)
	if isConst && l.optimizing() && l.optimizeScalarMul(dst, src0, c) {
		return
	}

	if ty == ir.I8 {
		// no two-operand imul on bytes
		a := l.makeReg(ir.I32, ir.NoRegister)
		b := l.makeReg(ir.I32, ir.NoRegister)
		l.movOp(x86.Movzx, a, l.legalize(src0, legalReg|legalMem, ir.NoRegister))
		l.movOp(x86.Movzx, b, l.legalize(src1, legalReg|legalMem, ir.NoRegister))
		l.binop(x86.OpImul, a, b)
		l.mov(dst, a)
		return
	}

	if isConst && l.fitsImmediate(c) && !l.shouldRandomize(c) {
		t := l.makeReg(ty, ir.NoRegister)
		l.insert(&x86.ImulImm{Dst: t, Src: l.legalize(src0, legalReg|legalMem, ir.NoRegister), Imm: c})
		l.mov(dst, t)
		return
	}
	s1 := l.legalize(src1, legalReg|legalMem, ir.NoRegister)
	t := l.makeReg(ty, ir.NoRegister)
	l.mov(t, l.legalize(src0, legalDefault, ir.NoRegister))
	l.binop(x86.OpImul, t, s1)
	l.mov(dst, t)
}

// optimizeScalarMul strength-reduces a multiply by a constant made of
// factors 9, 5, 3 and a power of two into lea and shl
func (l *Lowering) optimizeScalarMul(dst *ir.Variable, src0 ir.Operand, c *ir.ConstInt) bool {
	ty := dst.Ty
	if ty != ir.I32 && !(ty == ir.I64 && l.target.Is64Bit()) {
		return false
	}
	v := c.Value
	if v <= 0 {
		return false
	}

	var count9, count5, count3 int
	for v%9 == 0 {
		v /= 9
		count9++
	}
	for v%5 == 0 {
		v /= 5
		count5++
	}
	for v%3 == 0 {
		v /= 3
		count3++
	}
	shift := bits.TrailingZeros64(uint64(v))
	v >>= shift
	if v != 1 {
		return false
	}
	ops := count9 + count5 + count3
	if shift > 0 {
		ops++
	}
	if ops > 3 {
		return false
	}

	l.tr.V("mul").Printw("multiply strength reduced", "by", c.Value, "x9", count9, "x5", count5, "x3", count3, "shl", shift)

	t := l.makeReg(ty, ir.NoRegister)
	l.mov(t, l.legalize(src0, legalDefault, ir.NoRegister))
	scale := func(n int, s uint8) {
		for ; n > 0; n-- {
			l.lea(t, &x86.Mem{Ty: ty, Base: t, Index: t, Shift: s})
		}
	}
	scale(count9, 3)
	scale(count5, 2)
	scale(count3, 1)
	if shift > 0 {
		l.binop(x86.OpShl, t, ir.Int(ir.I8, int64(shift)))
	}
	l.mov(dst, t)
	return true
}

// lowerShift shifts by an immediate or by cl
func (l *Lowering) lowerShift(op x86.BinOp, dst *ir.Variable, src0, src1 ir.Operand) {
	ty := dst.Ty
	var count ir.Operand
	if c, ok := src1.(*ir.ConstInt); ok {
		count = ir.Int(ir.I8, int64(c.Uint64()&uint64(ty.WidthBits()-1)))
	} else {
		count = l.copyToReg8(l.legalize(src1, legalReg|legalMem, ir.NoRegister), x86.CL)
	}
	t := l.makeReg(ty, ir.NoRegister)
	l.mov(t, l.legalize(src0, legalDefault, ir.NoRegister))
	l.binop(op, t, count)
	l.mov(dst, t)
}

// lowerDivRem divides in edx:eax. Bytes are widened to 32 bits so that the
// remainder does not land in ah.
func (l *Lowering) lowerDivRem(op ir.ArithOp, dst *ir.Variable, src0, src1 ir.Operand) {
	if c, ok := src1.(*ir.ConstInt); ok && l.optimizing() && l.lowerDivPow2(op, dst, src0, c) {
		return
	}

	ty := dst.Ty
	signed := op == ir.Sdiv || op == ir.Srem
	rem := op == ir.Urem || op == ir.Srem
	ext := x86.Movzx
	if signed {
		ext = x86.Movsx
	}

	wty := ty
	if ty == ir.I8 {
		wty = ir.I32
	}

	var divisor ir.Operand
	eax := l.makeReg(wty, x86.EAX)
	if ty == ir.I8 {
		d := l.makeReg(ir.I32, ir.NoRegister)
		l.movOp(ext, d, l.legalize(src1, legalReg|legalMem, ir.NoRegister))
		divisor = d
		l.movOp(ext, eax, l.legalize(src0, legalReg|legalMem, ir.NoRegister))
	} else {
		divisor = l.legalize(src1, legalReg|legalMem, ir.NoRegister)
		l.mov(eax, l.legalize(src0, legalDefault, ir.NoRegister))
	}

	edx := l.makeReg(wty, x86.EDX)
	divOp := x86.OpDiv
	if signed {
		divOp = x86.OpIdiv
		l.insert(&x86.Cbwdq{Dst: edx, Src: eax})
	} else {
		l.mov(edx, ir.Int(wty, 0))
	}

	res, other := eax, edx
	if rem {
		res, other = edx, eax
	}
	l.insert(&x86.Div{Op: divOp, Dst: res, Divisor: divisor, Other: other})
	l.mov(dst, res)
}

// lowerDivPow2 divides by a positive power of two with shifts. Signed
// division adds a bias of divisor-1 to negative dividends so that the
// quotient rounds toward zero.
func (l *Lowering) lowerDivPow2(op ir.ArithOp, dst *ir.Variable, src0 ir.Operand, c *ir.ConstInt) bool {
	ty := dst.Ty
	v := c.Value
	if v <= 1 || v&(v-1) != 0 {
		return false
	}
	k := int64(bits.TrailingZeros64(uint64(v)))
	width := int64(ty.WidthBits())

	l.tr.V("div").Printw("division by power of two", "op", op, "by", v)

	t := l.makeReg(ty, ir.NoRegister)
	l.mov(t, l.legalize(src0, legalDefault, ir.NoRegister))

	switch op {
	case ir.Udiv:
		l.binop(x86.OpShr, t, ir.Int(ir.I8, k))
		l.mov(dst, t)
		return true
	case ir.Urem:
		l.binop(x86.OpAnd, t, l.legalize(ir.Int(ty, v-1), legalDefault, ir.NoRegister))
		l.mov(dst, t)
		return true
	}

	// bias = (src0 >> (width-1)) >>> (width-k)
	bias := l.makeReg(ty, ir.NoRegister)
	l.mov(bias, t)
	if k > 1 {
		l.binop(x86.OpSar, bias, ir.Int(ir.I8, width-1))
	}
	l.binop(x86.OpShr, bias, ir.Int(ir.I8, width-k))
	l.binop(x86.OpAdd, bias, t)

	if op == ir.Sdiv {
		l.binop(x86.OpSar, bias, ir.Int(ir.I8, k))
		l.mov(dst, bias)
		return true
	}
	// src0 - ((src0 + bias) & -divisor)
	l.binop(x86.OpAnd, bias, l.legalize(ir.Int(ty, -v), legalDefault, ir.NoRegister))
	l.binop(x86.OpSub, t, bias)
	l.mov(dst, t)
	return true
}

func (l *Lowering) lowerFloatArithmetic(i *ir.Arithmetic) {
	ty := i.Dst.Ty
	if i.Op == ir.Frem {
		helper := x86.HelperFrem32
		if ty == ir.F64 {
			helper = x86.HelperFrem64
		}
		l.callHelper(helper, i.Dst, i.Src0, i.Src1)
		return
	}
	op, ok := floatBinops[i.Op]
	if !ok {
		l.fatalf("%v on %v", i.Op, ty)
	}
	s1 := l.legalize(i.Src1, legalReg|legalMem, ir.NoRegister)
	t := l.makeReg(ty, ir.NoRegister)
	l.mov(t, l.legalize(i.Src0, legalReg|legalMem, ir.NoRegister))
	l.binop(op, t, s1)
	l.mov(i.Dst, t)
}
