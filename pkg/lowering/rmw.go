package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

var atomicBinops = map[ir.RMWOp]x86.BinOp{
	ir.RMWAdd: x86.OpAdd,
	ir.RMWSub: x86.OpSub,
	ir.RMWOr:  x86.OpOr,
	ir.RMWAnd: x86.OpAnd,
	ir.RMWXor: x86.OpXor,
}

// the low and high halves of a split atomic operation
var atomicBinops64 = map[ir.RMWOp][2]x86.BinOp{
	ir.RMWAdd: {x86.OpAdd, x86.OpAdc},
	ir.RMWSub: {x86.OpSub, x86.OpSbb},
	ir.RMWOr:  {x86.OpOr, x86.OpOr},
	ir.RMWAnd: {x86.OpAnd, x86.OpAnd},
	ir.RMWXor: {x86.OpXor, x86.OpXor},
}

func (l *Lowering) rmwOp(op ir.Operand) ir.RMWOp {
	c, ok := op.(*ir.ConstInt)
	if !ok {
		l.fatalf("atomic.rmw operation %v is not a constant", op)
	}
	o := ir.RMWOp(c.Value)
	if o < ir.RMWAdd || o > ir.RMWExchange {
		l.fatalf("unknown atomic.rmw operation %d", c.Value)
	}
	return o
}

// lowerAtomicRMW applies op to [ptr] atomically; dst, when set, receives
// the previous value
func (l *Lowering) lowerAtomicRMW(dst *ir.Variable, op ir.RMWOp, ptr, val ir.Operand) {
	ty := val.Type()
	if l.opts.ForceCmpxchgLoop || l.shouldSplit(ty) {
		l.expandAtomicRMWAsCmpxchg(dst, op, ptr, val)
		return
	}

	switch op {
	case ir.RMWAdd, ir.RMWSub:
		t := l.makeReg(ty, ir.NoRegister)
		l.mov(t, l.legalize(val, legalDefault, ir.NoRegister))
		if op == ir.RMWSub {
			l.unary(x86.OpNeg, t)
		}
		m := l.formMemoryOperand(ptr, ty, true)
		l.insert(&x86.Xadd{Addr: m, Src: t, Locked: true})
		l.redefined(t)
		if dst != nil {
			l.mov(dst, t)
		}

	case ir.RMWExchange:
		t := l.makeReg(ty, ir.NoRegister)
		l.mov(t, l.legalize(val, legalDefault, ir.NoRegister))
		m := l.formMemoryOperand(ptr, ty, true)
		// xchg with memory is implicitly locked
		l.insert(&x86.Xchg{Addr: m, Src: t})
		l.redefined(t)
		if dst != nil {
			l.mov(dst, t)
		}

	default:
		if dst != nil && l.uses(dst) > 0 {
			l.expandAtomicRMWAsCmpxchg(dst, op, ptr, val)
			return
		}
		l.tr.V("rmw").Printw("locked rmw", "op", op, "type", ty)
		v := l.legalize(val, legalReg|legalImm, ir.NoRegister)
		m := l.formMemoryOperand(ptr, ty, true)
		l.insert(&x86.RMW{Op: atomicBinops[op], Addr: m, Src: v, Locked: true})
	}
}

// expandAtomicRMWAsCmpxchg retries a compare-exchange until no other write
// intervened:
//
//	mov eax, [ptr]
//	retry:
//	mov t, eax
//	op t, val
//	lock cmpxchg [ptr], t
//	jne retry
func (l *Lowering) expandAtomicRMWAsCmpxchg(dst *ir.Variable, op ir.RMWOp, ptr, val ir.Operand) {
	ty := val.Type()
	l.tr.V("rmw").Printw("cmpxchg loop", "op", op, "type", ty)

	if l.shouldSplit(ty) {
		l.expandAtomicRMW64(dst, op, ptr, val)
		return
	}

	v := l.legalize(val, legalReg|legalImm, ir.NoRegister)
	m := l.formMemoryOperand(ptr, ty, true)
	eax := l.makeReg(ty, x86.EAX)
	l.mov(eax, m)

	retry := l.newLabel()
	l.placeLabel(retry)
	t := l.makeReg(ty, ir.NoRegister)
	if op == ir.RMWExchange {
		l.mov(t, v)
	} else {
		l.mov(t, eax)
		l.binop(atomicBinops[op], t, v)
	}
	l.insert(&x86.Cmpxchg{Addr: m, Eax: eax, Desired: t, Locked: true})
	l.redefined(eax)
	l.brLabel(x86.CondNE, retry)

	l.keepLoopOperandsLive(m, v)
	if dst != nil {
		l.mov(dst, eax)
	} else {
		l.fakeUse(eax)
	}
}

func (l *Lowering) expandAtomicRMW64(dst *ir.Variable, op ir.RMWOp, ptr, val ir.Operand) {
	vLo := l.legalize(l.loOperand(val), legalReg|legalImm, ir.NoRegister)
	vHi := l.legalize(l.hiOperand(val), legalReg|legalImm, ir.NoRegister)
	m := l.formMemoryOperand(ptr, ir.I64, true)

	eax := l.makeReg(ir.I32, x86.EAX)
	edx := l.makeReg(ir.I32, x86.EDX)
	l.mov(eax, m.WithType(ir.I32))
	l.mov(edx, m.WithType(ir.I32).WithOffset(4))

	retry := l.newLabel()
	l.placeLabel(retry)
	ebx := l.makeReg(ir.I32, x86.EBX)
	ecx := l.makeReg(ir.I32, x86.ECX)
	if op == ir.RMWExchange {
		l.mov(ebx, vLo)
		l.mov(ecx, vHi)
	} else {
		ops := atomicBinops64[op]
		l.mov(ebx, eax)
		l.mov(ecx, edx)
		l.binop(ops[0], ebx, vLo)
		l.binop(ops[1], ecx, vHi)
	}
	l.insert(&x86.Cmpxchg8b{Addr: m, Edx: edx, Eax: eax, Ecx: ecx, Ebx: ebx, Locked: true})
	l.redefined(edx)
	l.redefined(eax)
	l.fakeUse(ecx)
	l.fakeUse(ebx)
	l.brLabel(x86.CondNE, retry)

	l.keepLoopOperandsLive(m, vLo, vHi)
	if dst != nil {
		l.mov(l.loVar(dst), eax)
		l.mov(l.hiVar(dst), edx)
		return
	}
	l.fakeUse(eax)
	l.fakeUse(edx)
}

// keepLoopOperandsLive extends the live ranges of values read inside a
// retry loop to its exit
func (l *Lowering) keepLoopOperandsLive(m *x86.Mem, vals ...ir.Operand) {
	for _, v := range m.Vars() {
		l.fakeUse(v)
	}
	for _, op := range vals {
		if v, ok := op.(*ir.Variable); ok {
			l.fakeUse(v)
		}
	}
}
