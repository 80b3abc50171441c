package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// memcpy, memmove and memset of a constant size up to this many bytes are
// expanded inline
const maxInlineMemBytes = 128

var intrinsicArgs = map[ir.Intrinsic][2]int{
	ir.AtomicCmpxchg:    {5, 5},
	ir.AtomicFence:      {1, 1},
	ir.AtomicFenceAll:   {0, 0},
	ir.AtomicIsLockFree: {1, 2},
	ir.AtomicLoad:       {2, 2},
	ir.AtomicRMW:        {4, 4},
	ir.AtomicStore:      {3, 3},
	ir.Bswap:            {1, 1},
	ir.Ctlz:             {1, 2},
	ir.Ctpop:            {1, 1},
	ir.Cttz:             {1, 2},
	ir.Fabs:             {1, 1},
	ir.Memcpy:           {3, 5},
	ir.Memmove:          {3, 5},
	ir.Memset:           {3, 5},
	ir.Sqrt:             {1, 1},
	ir.Stacksave:        {0, 0},
	ir.Stackrestore:     {1, 1},
	ir.Trap:             {0, 0},
}

func (l *Lowering) lowerIntrinsicCall(i *ir.IntrinsicCall, rest []ir.Inst) {
	n, ok := intrinsicArgs[i.ID]
	if !ok {
		l.fatalf("unknown intrinsic %v", i.ID)
	}
	if len(i.Args) < n[0] || len(i.Args) > n[1] {
		l.fatalf("%v takes %d to %d arguments, got %d", i.ID, n[0], n[1], len(i.Args))
	}
	args := i.Args

	switch i.ID {
	case ir.AtomicCmpxchg:
		l.checkCmpxchgOrders(args[3], args[4])
		if l.optimizing() && l.tryOptimizedCmpxchgCmpBr(i, rest) {
			return
		}
		l.lowerAtomicCmpxchg(i.Dst, args[0], args[1], args[2])
	case ir.AtomicFence:
		l.memoryOrder(args[0])
		l.mfence()
	case ir.AtomicFenceAll:
		l.mfence()
	case ir.AtomicIsLockFree:
		l.lowerAtomicIsLockFree(i.Dst, args[0])
	case ir.AtomicLoad:
		l.checkLoadOrder(args[1])
		l.lowerAtomicLoad(i.Dst, args[0])
	case ir.AtomicRMW:
		l.memoryOrder(args[3])
		l.lowerAtomicRMW(i.Dst, l.rmwOp(args[0]), args[1], args[2])
	case ir.AtomicStore:
		l.lowerAtomicStore(args[0], args[1], l.checkStoreOrder(args[2]))
	case ir.Bswap:
		l.lowerBswap(l.needDst(i), args[0])
	case ir.Ctlz, ir.Cttz:
		l.lowerCountZeros(i.ID == ir.Cttz, l.needDst(i), args[0])
	case ir.Ctpop:
		l.lowerCtpop(l.needDst(i), args[0])
	case ir.Fabs:
		dst := l.needDst(i)
		t := l.makeReg(dst.Ty, ir.NoRegister)
		l.insertMov(t, l.legalizeToReg(args[0], ir.NoRegister))
		l.binop(x86.OpPand, t, l.makeVectorOfFabsMask(dst.Ty, ir.NoRegister))
		l.insertMov(dst, t)
	case ir.Sqrt:
		dst := l.needDst(i)
		allowed := legalReg | legalMem
		if dst.Ty.IsVector() {
			allowed = legalReg
		}
		t := l.makeReg(dst.Ty, ir.NoRegister)
		l.insert(&x86.Unop{Op: x86.OpSqrt, Dst: t, Src: l.legalize(args[0], allowed, ir.NoRegister)})
		l.insertMov(dst, t)
	case ir.Memcpy, ir.Memmove:
		l.lowerMemcpy(i.ID, args[0], args[1], args[2])
	case ir.Memset:
		l.lowerMemset(args[0], args[1], args[2])
	case ir.Stacksave:
		l.mov(l.needDst(i), l.sp())
	case ir.Stackrestore:
		sp := l.sp()
		l.mov(sp, l.legalize(args[0], legalReg|legalMem, ir.NoRegister)).SetDestRedefined()
	case ir.Trap:
		l.insert(&x86.UD2{})
	}
}

func (l *Lowering) needDst(i *ir.IntrinsicCall) *ir.Variable {
	if i.Dst == nil {
		l.fatalf("%v without a result", i.ID)
	}
	return i.Dst
}

func (l *Lowering) lowerBswap(dst *ir.Variable, src ir.Operand) {
	ty := dst.Ty
	if l.shouldSplit(ty) {
		lo := l.makeReg(ir.I32, ir.NoRegister)
		hi := l.makeReg(ir.I32, ir.NoRegister)
		l.mov(lo, l.legalize(l.hiOperand(src), legalDefault, ir.NoRegister))
		l.mov(hi, l.legalize(l.loOperand(src), legalDefault, ir.NoRegister))
		l.unary(x86.OpBswap, lo)
		l.unary(x86.OpBswap, hi)
		l.mov(l.loVar(dst), lo)
		l.mov(l.hiVar(dst), hi)
		return
	}
	t := l.makeReg(ty, ir.NoRegister)
	l.mov(t, l.legalize(src, legalDefault, ir.NoRegister))
	switch ty {
	case ir.I16:
		l.binop(x86.OpRol, t, ir.Int(ir.I8, 8))
	case ir.I32, ir.I64:
		l.unary(x86.OpBswap, t)
	default:
		l.fatalf("bswap of %v", ty)
	}
	l.mov(dst, t)
}

// countZeros32 counts with bsr/bsf on an i32 or i64 source, giving the
// width for zero:
//
//	ctlz: bsr t, src; mov c, 2w-1; cmovne c, t; xor c, w-1
//	cttz: bsf t, src; mov c, w; cmovne c, t
func (l *Lowering) countZeros32(cttz bool, ty ir.Type, src ir.Operand) *ir.Variable {
	w := int64(ty.WidthBits())
	t := l.makeReg(ty, ir.NoRegister)
	c := l.makeReg(ty, ir.NoRegister)
	if cttz {
		l.insert(&x86.Unop{Op: x86.OpBsf, Dst: t, Src: src})
		l.mov(c, ir.Int(ty, w))
		l.cmov(x86.CondNE, c, t)
		return c
	}
	l.insert(&x86.Unop{Op: x86.OpBsr, Dst: t, Src: src})
	l.mov(c, ir.Int(ty, 2*w-1))
	l.cmov(x86.CondNE, c, t)
	l.binop(x86.OpXor, c, ir.Int(ty, w-1))
	return c
}

func (l *Lowering) lowerCountZeros(cttz bool, dst *ir.Variable, src ir.Operand) {
	ty := dst.Ty
	switch {
	case l.shouldSplit(ty):
		l.lowerCountZeros64(cttz, dst, src)

	case ty == ir.I8 || ty == ir.I16:
		w := l.makeReg(ir.I32, ir.NoRegister)
		l.movOp(x86.Movzx, w, l.legalize(src, legalReg|legalMem, ir.NoRegister))
		if cttz {
			// a zero source stops at the first bit above it
			l.binop(x86.OpOr, w, ir.Int(ir.I32, 1<<ty.WidthBits()))
		}
		c := l.countZeros32(cttz, ir.I32, w)
		if !cttz {
			l.binop(x86.OpSub, c, ir.Int(ir.I32, int64(32-ty.WidthBits())))
		}
		t := l.makeReg(ty, ir.NoRegister)
		l.mov(t, c)
		l.mov(dst, t)

	case ty == ir.I32 || ty == ir.I64:
		c := l.countZeros32(cttz, ty, l.legalize(src, legalReg|legalMem, ir.NoRegister))
		l.mov(dst, c)

	default:
		l.fatalf("count zeros of %v", ty)
	}
}

// lowerCountZeros64 counts in the half that decides the result:
//
//	ctlz = hi != 0 ? ctlz(hi) : 32 + ctlz(lo)
//	cttz = lo != 0 ? cttz(lo) : 32 + cttz(hi)
func (l *Lowering) lowerCountZeros64(cttz bool, dst *ir.Variable, src ir.Operand) {
	first, second := l.loOperand(src), l.hiOperand(src)
	if cttz {
		first, second = second, first
	}
	x := l.countZeros32(cttz, ir.I32, l.legalize(first, legalReg|legalMem, ir.NoRegister))
	l.binop(x86.OpAdd, x, ir.Int(ir.I32, 32))

	s := l.legalizeToReg(second, ir.NoRegister)
	y := l.makeReg(ir.I32, ir.NoRegister)
	if cttz {
		l.insert(&x86.Unop{Op: x86.OpBsf, Dst: y, Src: s})
	} else {
		l.insert(&x86.Unop{Op: x86.OpBsr, Dst: y, Src: s})
		l.binop(x86.OpXor, y, ir.Int(ir.I32, 31))
	}
	l.test(s, s)
	l.cmov(x86.CondE, y, x)

	l.mov(l.loVar(dst), y)
	l.mov(l.hiVar(dst), ir.Int(ir.I32, 0))
}

// lowerCtpop calls the population count helpers
func (l *Lowering) lowerCtpop(dst *ir.Variable, src ir.Operand) {
	ty := dst.Ty
	switch ty {
	case ir.I64:
		t := l.fn.NewVariable("", ir.I32)
		l.callHelper(x86.HelperPopcount64, t, src)
		if l.shouldSplit(ty) {
			l.mov(l.loVar(dst), t)
			l.mov(l.hiVar(dst), ir.Int(ir.I32, 0))
			return
		}
		l.movOp(x86.Movzx, dst, t)
	case ir.I32:
		l.callHelper(x86.HelperPopcount32, dst, src)
	case ir.I8, ir.I16:
		t := l.fn.NewVariable("", ir.I32)
		l.callHelper(x86.HelperPopcount32, t, src)
		n := l.makeReg(ty, ir.NoRegister)
		l.mov(n, t)
		l.mov(dst, n)
	default:
		l.fatalf("ctpop of %v", ty)
	}
}

// largestTypeInSize returns the widest scalar or vector type moving at most
// n bytes in one instruction
func (l *Lowering) largestTypeInSize(n int64, forMemset bool) ir.Type {
	switch {
	case n >= 16:
		return ir.V16I8
	case n >= 8 && l.target.Is64Bit():
		return ir.I64
	case n >= 8 && !forMemset:
		return ir.F64
	case n >= 4:
		return ir.I32
	case n >= 2:
		return ir.I16
	}
	return ir.I8
}

type memChunk struct {
	ty  ir.Type
	off int64
}

func (l *Lowering) memChunks(n int64, forMemset bool) []memChunk {
	var chunks []memChunk
	for off := int64(0); off < n; {
		ty := l.largestTypeInSize(n-off, forMemset)
		chunks = append(chunks, memChunk{ty, off})
		off += int64(ty.WidthBytes())
	}
	return chunks
}

// lowerMemcpy copies small constant sizes through registers, loading every
// chunk before storing any so that overlapping memmoves stay correct
func (l *Lowering) lowerMemcpy(id ir.Intrinsic, dst, src, length ir.Operand) {
	c, ok := length.(*ir.ConstInt)
	if !ok || c.Value < 0 || c.Value > maxInlineMemBytes {
		helper := x86.HelperMemcpy
		if id == ir.Memmove {
			helper = x86.HelperMemmove
		}
		l.callHelper(helper, nil, dst, src, length)
		return
	}
	if c.Value == 0 {
		return
	}

	chunks := l.memChunks(c.Value, false)
	from := l.formMemoryOperand(src, ir.I8, true)
	vals := make([]*ir.Variable, len(chunks))
	for k, ch := range chunks {
		vals[k] = l.makeReg(ch.ty, ir.NoRegister)
		l.mov(vals[k], from.WithType(ch.ty).WithOffset(ch.off))
	}
	to := l.formMemoryOperand(dst, ir.I8, true)
	for k, ch := range chunks {
		l.store(vals[k], to.WithType(ch.ty).WithOffset(ch.off))
	}
}

// lowerMemset stores a constant byte pattern inline for small constant sizes
func (l *Lowering) lowerMemset(dst, val, length ir.Operand) {
	c, ok := length.(*ir.ConstInt)
	v, isConst := val.(*ir.ConstInt)
	if !ok || !isConst || c.Value < 0 || c.Value > maxInlineMemBytes {
		l.callHelper(x86.HelperMemset, nil, dst, val, length)
		return
	}
	if c.Value == 0 {
		return
	}

	b := uint64(uint8(v.Value))
	pattern := b * 0x0101010101010101
	to := l.formMemoryOperand(dst, ir.I8, true)

	var vec *ir.Variable
	for _, ch := range l.memChunks(c.Value, true) {
		m := to.WithType(ch.ty).WithOffset(ch.off)
		if ch.ty == ir.V16I8 {
			if vec == nil {
				vec = l.makeVectorOfBytes(uint8(b))
			}
			l.store(vec, m)
			continue
		}
		imm := ir.Int(ch.ty, int64(pattern))
		l.store(l.legalize(imm, legalReg|legalImm, ir.NoRegister), m)
	}
}

// makeVectorOfBytes returns a v16i8 with every lane equal to b
func (l *Lowering) makeVectorOfBytes(b uint8) *ir.Variable {
	if b == 0 {
		return l.makeVectorOfZeros(ir.V16I8, ir.NoRegister)
	}
	gpr := l.copyToReg(ir.Int(ir.I32, int64(uint32(b)*0x01010101)), ir.NoRegister)
	t := l.makeReg(ir.V16I8, ir.NoRegister)
	l.movOp(x86.MovD, t, gpr)
	l.vecOp(x86.OpPshufd, t, t, 0)
	return t
}
