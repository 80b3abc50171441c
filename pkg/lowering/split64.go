package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// shouldSplit reports whether values of ty live in two 32-bit halves
func (l *Lowering) shouldSplit(ty ir.Type) bool {
	return l.target.ShouldSplit64On32(ty)
}

func (l *Lowering) halves(v *ir.Variable) [2]*ir.Variable {
	if !l.shouldSplit(v.Ty) {
		l.fatalf("variable %v of type %v is not split", v, v.Ty)
	}
	return l.hooks.splitVariable(l, v)
}

func (l *Lowering) loVar(v *ir.Variable) *ir.Variable { return l.halves(v)[0] }
func (l *Lowering) hiVar(v *ir.Variable) *ir.Variable { return l.halves(v)[1] }

// loOperand returns the low 32 bits of a split i64 operand
func (l *Lowering) loOperand(op ir.Operand) ir.Operand {
	return l.halfOperand(op, 0)
}

// hiOperand returns the high 32 bits of a split i64 operand
func (l *Lowering) hiOperand(op ir.Operand) ir.Operand {
	return l.halfOperand(op, 1)
}

func (l *Lowering) halfOperand(op ir.Operand, half int) ir.Operand {
	if !l.shouldSplit(op.Type()) {
		l.fatalf("operand %v of type %v has no 32-bit halves", op, op.Type())
	}
	switch o := op.(type) {
	case *ir.Variable:
		return l.halves(o)[half]
	case *ir.ConstInt:
		v := o.Uint64()
		if half == 1 {
			v >>= 32
		}
		return ir.Int(ir.I32, int64(uint32(v)))
	case *ir.ConstUndef:
		return ir.Int(ir.I32, 0)
	case *x86.Mem:
		m := o.WithType(ir.I32)
		if half == 1 {
			m = m.WithOffset(4)
		}
		return m
	}
	l.fatalf("unexpected split operand %T", op)
	return nil
}

// splitHalves creates the lo/hi variables of v once
func (l *Lowering) splitHalves(v *ir.Variable) [2]*ir.Variable {
	if h, ok := l.split[v]; ok {
		return h
	}
	var lo, hi string
	if v.Name != "" {
		lo, hi = v.Name+"__lo", v.Name+"__hi"
	}
	h := [2]*ir.Variable{l.fn.NewVariable(lo, ir.I32), l.fn.NewVariable(hi, ir.I32)}
	l.split[v] = h
	return h
}
