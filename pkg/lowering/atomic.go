package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// memoryOrder reads a constant memory order argument
func (l *Lowering) memoryOrder(op ir.Operand) ir.MemoryOrder {
	c, ok := op.(*ir.ConstInt)
	if !ok {
		l.fatalf("memory order %v is not a constant", op)
	}
	o := ir.MemoryOrder(c.Value)
	if o < ir.OrderRelaxed || o > ir.OrderSeqCst {
		l.fatalf("unexpected memory order %d", c.Value)
	}
	return o
}

func (l *Lowering) checkLoadOrder(op ir.Operand) {
	switch l.memoryOrder(op) {
	case ir.OrderRelease, ir.OrderAcquireRelease:
		l.fatalf("unexpected memory ordering for atomic load")
	}
}

func (l *Lowering) checkStoreOrder(op ir.Operand) ir.MemoryOrder {
	o := l.memoryOrder(op)
	switch o {
	case ir.OrderConsume, ir.OrderAcquire, ir.OrderAcquireRelease:
		l.fatalf("unexpected memory ordering for atomic store")
	}
	return o
}

// checkCmpxchgOrders validates the success and failure orders. The failure
// order cannot release and cannot be stronger than the success order.
func (l *Lowering) checkCmpxchgOrders(succ, fail ir.Operand) {
	s, f := l.memoryOrder(succ), l.memoryOrder(fail)
	if f == ir.OrderRelease || f == ir.OrderAcquireRelease || f > s {
		l.fatalf("unexpected memory ordering for cmpxchg failure")
	}
}

// lowerAtomicLoad reads ptr in one access. i64 on x86-32 goes through an
// xmm register with movq.
func (l *Lowering) lowerAtomicLoad(dst *ir.Variable, ptr ir.Operand) {
	if dst == nil {
		l.fatalf("atomic load without a result")
	}
	if l.shouldSplit(dst.Ty) {
		m := l.formMemoryOperand(ptr, ir.F64, true)
		t := l.makeReg(ir.F64, ir.NoRegister)
		l.movOp(x86.MovQ, t, m)
		slot := l.stackSlot(ir.F64)
		l.storeOp(x86.StoreQ, t, slot)
		l.mov(l.loVar(dst), slot.WithType(ir.I32))
		l.mov(l.hiVar(dst), slot.WithType(ir.I32).WithOffset(4))
		return
	}
	m := l.formMemoryOperand(ptr, dst.Ty, true)
	l.insertMov(dst, m)
	// the access happens even when the value is unused
	l.fakeUse(dst)
}

func (l *Lowering) lowerAtomicStore(value, ptr ir.Operand, order ir.MemoryOrder) {
	ty := value.Type()
	if l.shouldSplit(ty) {
		lo := l.legalize(l.loOperand(value), legalReg|legalImm, ir.NoRegister)
		hi := l.legalize(l.hiOperand(value), legalReg|legalImm, ir.NoRegister)
		slot := l.stackSlot(ir.F64)
		l.store(lo, slot.WithType(ir.I32))
		l.store(hi, slot.WithType(ir.I32).WithOffset(4))
		t := l.makeReg(ir.F64, ir.NoRegister)
		l.movOp(x86.MovQ, t, slot)
		m := l.formMemoryOperand(ptr, ir.F64, true)
		l.storeOp(x86.StoreQ, t, m)
	} else {
		allowed := legalReg | legalImm
		if !ty.IsInteger() {
			allowed = legalReg
		}
		v := l.legalize(value, allowed, ir.NoRegister)
		m := l.formMemoryOperand(ptr, ty, true)
		l.store(v, m)
	}
	if order == ir.OrderSeqCst {
		l.mfence()
	}
}

// lowerAtomicIsLockFree answers for the access sizes x86 handles atomically
func (l *Lowering) lowerAtomicIsLockFree(dst *ir.Variable, size ir.Operand) {
	c, ok := size.(*ir.ConstInt)
	if !ok {
		l.fatalf("atomic.is.lock.free needs a constant size")
	}
	free := int64(0)
	switch c.Value {
	case 1, 2, 4, 8:
		free = 1
	}
	if dst == nil {
		return
	}
	if l.shouldSplit(dst.Ty) {
		l.mov(l.loVar(dst), ir.Int(ir.I32, free))
		l.mov(l.hiVar(dst), ir.Int(ir.I32, 0))
		return
	}
	if dst.Ty == ir.I1 {
		l.mov(dst, boolConst(free == 1))
		return
	}
	l.mov(dst, ir.Int(dst.Ty, free))
}

// lowerAtomicCmpxchg compares [ptr] with expected and stores desired when
// they are equal; dst receives the previous value. ZF is set on success.
func (l *Lowering) lowerAtomicCmpxchg(dst *ir.Variable, ptr, expected, desired ir.Operand) {
	ty := expected.Type()
	if l.shouldSplit(ty) {
		dLo := l.legalize(l.loOperand(desired), legalDefault, ir.NoRegister)
		dHi := l.legalize(l.hiOperand(desired), legalDefault, ir.NoRegister)
		eLo := l.legalize(l.loOperand(expected), legalDefault, ir.NoRegister)
		eHi := l.legalize(l.hiOperand(expected), legalDefault, ir.NoRegister)
		m := l.formMemoryOperand(ptr, ir.I64, true)

		edx := l.makeReg(ir.I32, x86.EDX)
		eax := l.makeReg(ir.I32, x86.EAX)
		ecx := l.makeReg(ir.I32, x86.ECX)
		ebx := l.makeReg(ir.I32, x86.EBX)
		l.mov(edx, eHi)
		l.mov(eax, eLo)
		l.mov(ecx, dHi)
		l.mov(ebx, dLo)
		l.insert(&x86.Cmpxchg8b{Addr: m, Edx: edx, Eax: eax, Ecx: ecx, Ebx: ebx, Locked: true})
		// edx:eax hold the old value afterwards
		l.redefined(edx)
		l.redefined(eax)
		if dst != nil {
			l.mov(l.loVar(dst), eax)
			l.mov(l.hiVar(dst), edx)
		}
		l.fakeUse(ecx)
		l.fakeUse(ebx)
		return
	}

	d := l.legalizeToReg(desired, ir.NoRegister)
	e := l.legalize(expected, legalDefault, ir.NoRegister)
	m := l.formMemoryOperand(ptr, ty, true)
	eax := l.makeReg(ty, x86.EAX)
	l.mov(eax, e)
	l.insert(&x86.Cmpxchg{Addr: m, Eax: eax, Desired: d, Locked: true})
	l.redefined(eax)
	if dst != nil {
		l.mov(dst, eax)
	} else {
		l.fakeUse(eax)
	}
}

// tryOptimizedCmpxchgCmpBr fuses
//
//	prev = cmpxchg p, expected, desired
//	c = icmp eq prev, expected
//	br c, T, F
//
// into a cmpxchg branching on ZF
func (l *Lowering) tryOptimizedCmpxchgCmpBr(i *ir.IntrinsicCall, rest []ir.Inst) bool {
	if len(rest) < 2 || i.Dst == nil || l.shouldSplit(i.Dst.Ty) {
		return false
	}
	cmp, ok := rest[0].(*ir.Icmp)
	if !ok || cmp.Cond != ir.IEq || l.uses(cmp.Dst) != 1 {
		return false
	}
	prev, expected := ir.Operand(i.Dst), i.Args[1]
	same := (cmp.Src0 == prev && ir.SameOperand(cmp.Src1, expected)) ||
		(cmp.Src1 == prev && ir.SameOperand(cmp.Src0, expected))
	if !same {
		return false
	}
	br, ok := rest[1].(*ir.Br)
	if !ok || br.IsUnconditional() || br.Cond != ir.Operand(cmp.Dst) {
		return false
	}

	l.tr.V("rmw").Printw("cmpxchg branch fused", "cmpxchg", ir.FormatInst(i), "br", ir.FormatInst(br))

	l.lowerAtomicCmpxchg(i.Dst, i.Args[0], i.Args[1], i.Args[2])
	from := l.cur.Src
	l.br(x86.CondE, l.edgeTarget(from, br.True), l.edgeTarget(from, br.False))
	l.deleted.Set(uint(cmp.Number()))
	l.deleted.Set(uint(br.Number()))
	return true
}
