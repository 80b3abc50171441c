package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// split i64 operations: low op and high op, the high one consuming the carry
var split64Binops = map[ir.ArithOp][2]x86.BinOp{
	ir.Add: {x86.OpAdd, x86.OpAdc},
	ir.Sub: {x86.OpSub, x86.OpSbb},
	ir.And: {x86.OpAnd, x86.OpAnd},
	ir.Or:  {x86.OpOr, x86.OpOr},
	ir.Xor: {x86.OpXor, x86.OpXor},
}

var split64Helpers = map[ir.ArithOp]string{
	ir.Udiv: x86.HelperUdiv64,
	ir.Sdiv: x86.HelperSdiv64,
	ir.Urem: x86.HelperUrem64,
	ir.Srem: x86.HelperSrem64,
	ir.Shl:  x86.HelperShl64,
	ir.Lshr: x86.HelperLshr64,
	ir.Ashr: x86.HelperAshr64,
}

// lowerArithmetic64 lowers i64 arithmetic on x86-32 over the lo/hi halves
func (l *Lowering) lowerArithmetic64(i *ir.Arithmetic) {
	src0, src1 := i.Src0, i.Src1
	if i.Op.IsCommutative() && ir.IsConstant(src0) && !ir.IsConstant(src1) {
		src0, src1 = src1, src0
	}
	dstLo, dstHi := l.loVar(i.Dst), l.hiVar(i.Dst)

	if ops, ok := split64Binops[i.Op]; ok {
		// every operand is ready before the carry chain starts
		s1Lo := l.legalize(l.loOperand(src1), legalDefault, ir.NoRegister)
		s1Hi := l.legalize(l.hiOperand(src1), legalDefault, ir.NoRegister)
		s0Lo := l.legalize(l.loOperand(src0), legalDefault, ir.NoRegister)
		s0Hi := l.legalize(l.hiOperand(src0), legalDefault, ir.NoRegister)
		lo, hi := l.makeReg(ir.I32, ir.NoRegister), l.makeReg(ir.I32, ir.NoRegister)
		l.mov(lo, s0Lo)
		l.binop(ops[0], lo, s1Lo)
		l.mov(hi, s0Hi)
		l.binop(ops[1], hi, s1Hi)
		l.mov(dstLo, lo)
		l.mov(dstHi, hi)
		return
	}

	switch i.Op {
	case ir.Mul:
		l.lowerMul64(dstLo, dstHi, src0, src1)
		return
	case ir.Shl, ir.Lshr, ir.Ashr:
		if c, ok := src1.(*ir.ConstInt); ok {
			l.lowerShift64Const(i.Op, dstLo, dstHi, src0, uint(c.Uint64()&63))
			return
		}
		l.callHelper(split64Helpers[i.Op], i.Dst, src0, l.loOperand(src1))
		return
	}
	if helper, ok := split64Helpers[i.Op]; ok {
		l.callHelper(helper, i.Dst, src0, src1)
		return
	}
	l.fatalf("%v on split i64", i.Op)
}

// lowerMul64 computes
//
//	lo = lo(lo0*lo1)
//	hi = hi(lo0*lo1) + hi0*lo1 + lo0*hi1
func (l *Lowering) lowerMul64(dstLo, dstHi *ir.Variable, src0, src1 ir.Operand) {
	lo0 := l.legalize(l.loOperand(src0), legalDefault, ir.NoRegister)
	hi0 := l.legalize(l.hiOperand(src0), legalDefault, ir.NoRegister)
	lo1 := l.legalize(l.loOperand(src1), legalReg|legalMem, ir.NoRegister)
	hi1 := l.legalize(l.hiOperand(src1), legalReg|legalMem, ir.NoRegister)

	t1 := l.makeReg(ir.I32, ir.NoRegister)
	l.mov(t1, hi0)
	l.binop(x86.OpImul, t1, lo1)
	t2 := l.makeReg(ir.I32, ir.NoRegister)
	l.mov(t2, hi1)
	l.binop(x86.OpImul, t2, lo0)
	l.binop(x86.OpAdd, t1, t2)

	eax := l.makeReg(ir.I32, x86.EAX)
	l.mov(eax, lo0)
	l.insert(&x86.Mul{Dst: eax, Src0: eax, Src1: lo1})
	edx := l.makeReg(ir.I32, x86.EDX)
	l.fakeDef(edx)
	l.binop(x86.OpAdd, t1, edx)

	l.mov(dstLo, eax)
	l.mov(dstHi, t1)
}

// lowerShift64Const shifts a split i64 by a constant with shld/shrd, or by
// moving one half into the other for counts of 32 and up
func (l *Lowering) lowerShift64Const(op ir.ArithOp, dstLo, dstHi *ir.Variable, src0 ir.Operand, n uint) {
	srcLo := l.legalize(l.loOperand(src0), legalDefault, ir.NoRegister)
	srcHi := l.legalize(l.hiOperand(src0), legalDefault, ir.NoRegister)
	lo, hi := l.makeReg(ir.I32, ir.NoRegister), l.makeReg(ir.I32, ir.NoRegister)
	count := func(c uint) *ir.ConstInt { return ir.Int(ir.I8, int64(c)) }

	switch {
	case n == 0:
		l.mov(lo, srcLo)
		l.mov(hi, srcHi)

	case n < 32:
		l.mov(lo, srcLo)
		l.mov(hi, srcHi)
		switch op {
		case ir.Shl:
			l.insert(&x86.DoubleShift{Op: x86.OpShld, Dst: hi, Src: lo, Count: count(n)})
			l.binop(x86.OpShl, lo, count(n))
		case ir.Lshr:
			l.insert(&x86.DoubleShift{Op: x86.OpShrd, Dst: lo, Src: hi, Count: count(n)})
			l.binop(x86.OpShr, hi, count(n))
		default:
			l.insert(&x86.DoubleShift{Op: x86.OpShrd, Dst: lo, Src: hi, Count: count(n)})
			l.binop(x86.OpSar, hi, count(n))
		}

	default:
		switch op {
		case ir.Shl:
			l.mov(hi, srcLo)
			if n > 32 {
				l.binop(x86.OpShl, hi, count(n-32))
			}
			l.mov(lo, ir.Int(ir.I32, 0))
		case ir.Lshr:
			l.mov(lo, srcHi)
			if n > 32 {
				l.binop(x86.OpShr, lo, count(n-32))
			}
			l.mov(hi, ir.Int(ir.I32, 0))
		default:
			l.mov(lo, srcHi)
			if n > 32 {
				l.binop(x86.OpSar, lo, count(n-32))
			}
			l.mov(hi, srcHi)
			l.binop(x86.OpSar, hi, count(31))
		}
	}

	l.mov(dstLo, lo)
	l.mov(dstHi, hi)
}
