package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

func (l *Lowering) lowerLoad(i *ir.Load, rest []ir.Inst) {
	ty := i.Dst.Ty
	if l.optimizing() && len(rest) > 0 {
		if l.tryRMW(i, rest) || l.tryFoldLoad(i, rest[0]) {
			return
		}
	}

	if l.shouldSplit(ty) {
		m := l.formMemoryOperand(i.Addr, ir.I32, true)
		l.mov(l.loVar(i.Dst), m)
		l.mov(l.hiVar(i.Dst), m.WithOffset(4))
		return
	}
	m := l.formMemoryOperand(i.Addr, ty.InRegisterType(), true)
	l.insertMov(i.Dst, m)
}

// tryFoldLoad lets the next instruction read the loaded value straight from
// memory when it is its only use
func (l *Lowering) tryFoldLoad(i *ir.Load, next ir.Inst) bool {
	ty := i.Dst.Ty
	if !ty.IsInteger() || ty == ir.I1 || l.shouldSplit(ty) || l.uses(i.Dst) != 1 {
		return false
	}
	v := ir.Operand(i.Dst)

	switch n := next.(type) {
	case *ir.Arithmetic:
		switch n.Op {
		case ir.Add, ir.Sub, ir.And, ir.Or, ir.Xor, ir.Mul:
		default:
			return false
		}
		if n.Src0 != v && n.Src1 != v {
			return false
		}
	case *ir.Icmp:
		if n.Src0 != v && n.Src1 != v {
			return false
		}
	case *ir.Cast:
		if (n.Op != ir.Sext && n.Op != ir.Zext) || n.Src != v || n.Dst.Ty.IsVector() {
			return false
		}
	default:
		return false
	}

	l.foldedLoads[i.Dst] = l.formMemoryOperand(i.Addr, ty, false)
	l.tr.V("loadfold").Printw("load folded", "load", ir.FormatInst(i), "into", ir.FormatInst(next))
	return true
}

var rmwBinops = map[ir.ArithOp]x86.BinOp{
	ir.Add: x86.OpAdd,
	ir.Sub: x86.OpSub,
	ir.And: x86.OpAnd,
	ir.Or:  x86.OpOr,
	ir.Xor: x86.OpXor,
}

// tryRMW fuses
//
//	a = load p; b = a op x; store b, p
//
// into a single read-modify-write of p
func (l *Lowering) tryRMW(i *ir.Load, rest []ir.Inst) bool {
	if len(rest) < 2 {
		return false
	}
	ty := i.Dst.Ty
	if !ty.IsInteger() || ty == ir.I1 || l.shouldSplit(ty) {
		return false
	}
	arith, ok := rest[0].(*ir.Arithmetic)
	if !ok {
		return false
	}
	st, ok := rest[1].(*ir.Store)
	if !ok {
		return false
	}
	op, ok := rmwBinops[arith.Op]
	if !ok || arith.Dst.Ty != ty {
		return false
	}
	if st.Value != ir.Operand(arith.Dst) || !ir.SameOperand(st.Addr, i.Addr) {
		return false
	}
	if l.uses(i.Dst) != 1 || l.uses(arith.Dst) != 1 {
		return false
	}

	v := ir.Operand(i.Dst)
	var other ir.Operand
	switch {
	case arith.Src0 == v:
		other = arith.Src1
	case arith.Src1 == v && arith.Op.IsCommutative():
		other = arith.Src0
	default:
		return false
	}

	l.tr.V("rmw").Printw("read-modify-write fused", "load", ir.FormatInst(i), "op", arith.Op, "store", ir.FormatInst(st))

	src := l.legalize(other, legalReg|legalImm, ir.NoRegister)
	m := l.formMemoryOperand(i.Addr, ty, true)
	l.insert(&x86.RMW{Op: op, Addr: m, Src: src})
	l.deleted.Set(uint(arith.Number()))
	l.deleted.Set(uint(st.Number()))
	return true
}

func (l *Lowering) lowerStore(i *ir.Store) {
	ty := i.Value.Type()

	if l.shouldSplit(ty) {
		lo := l.legalize(l.loOperand(i.Value), legalReg|legalImm, ir.NoRegister)
		hi := l.legalize(l.hiOperand(i.Value), legalReg|legalImm, ir.NoRegister)
		m := l.formMemoryOperand(i.Addr, ir.I32, true)
		l.store(lo, m)
		l.store(hi, m.WithOffset(4))
		return
	}

	allowed := legalReg | legalImm
	if !ty.IsInteger() {
		allowed = legalReg
	}
	value := l.legalize(i.Value, allowed, ir.NoRegister)
	m := l.formMemoryOperand(i.Addr, ty.InRegisterType(), true)
	l.store(value, m)
}
