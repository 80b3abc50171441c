package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// x8632Hooks implements the cdecl convention: integers return in eax or
// edx:eax, floats on the x87 stack and vectors in xmm0
type x8632Hooks struct{}

func (x8632Hooks) lowerRet(l *Lowering, v ir.Operand) {
	var src ir.Operand
	if v != nil {
		ty := v.Type()
		switch {
		case l.shouldSplit(ty):
			eax := l.legalizeToReg(l.loOperand(v), x86.EAX)
			edx := l.legalizeToReg(l.hiOperand(v), x86.EDX)
			l.fakeUse(edx)
			src = eax
		case ty.IsFloat():
			f := l.legalize(v, legalReg|legalMem, ir.NoRegister)
			if r, ok := f.(*ir.Variable); ok {
				slot := l.stackSlot(ty)
				l.store(r, slot)
				f = slot
			}
			l.insert(&x86.Fld{Src: f})
		case ty.IsVector():
			src = l.legalizeToReg(v, x86.XMM0)
		default:
			src = l.legalizeToReg(v, x86.EAX)
		}
	}
	l.fakeUse(l.sp())
	l.emit(&x86.Ret{Src: src})
}

func (x8632Hooks) lowerCall(l *Lowering, dst *ir.Variable, target ir.Operand, args []ir.Operand) {
	regs := l.emitCallArgs(args)
	if dst == nil {
		l.emitCallInst(nil, target, regs)
		return
	}

	switch ty := dst.Ty; {
	case l.shouldSplit(ty):
		eax := l.makeReg(ir.I32, x86.EAX)
		edx := l.makeReg(ir.I32, x86.EDX)
		l.emitCallInst(eax, target, regs, x86.EAX, x86.EDX)
		l.fakeDef(edx)
		l.mov(l.loVar(dst), eax)
		l.mov(l.hiVar(dst), edx)
	case ty.IsFloat():
		l.emitCallInst(nil, target, regs)
		// x87 results reach xmm registers through memory
		slot := l.stackSlot(ty)
		l.emit(&x86.Fstp{Dst: slot})
		l.mov(dst, slot)
	case ty.IsVector():
		ret := l.makeReg(ty, x86.XMM0)
		l.emitCallInst(ret, target, regs, x86.XMM0)
		l.insertMov(dst, ret)
	default:
		ret := l.makeReg(ty, x86.EAX)
		l.emitCallInst(ret, target, regs, x86.EAX)
		l.mov(dst, ret)
	}
}

func (x8632Hooks) sandboxMemReference(l *Lowering, m *x86.Mem) *x86.Mem {
	l.fatalf("memory references are not sandboxed on x86-32")
	return nil
}

func (x8632Hooks) sandboxBranchTarget(l *Lowering, v *ir.Variable) *ir.Variable {
	t := l.makeReg(ir.I32, ir.NoRegister)
	l.emit(&x86.Mov{Dst: t, Src: v})
	l.emit(&x86.Binop{Op: x86.OpAnd, Dst: t, Src: ir.Int(ir.I32, bundleMask(l.target))})
	return t
}

func (x8632Hooks) sandboxReturns(l *Lowering, b *x86.Block) {
	replaceRet(b, func(ret *x86.Ret) []x86.Inst {
		ecx := l.physReg(x86.ECX, ir.I32)
		return append(retUses(ret),
			&x86.Pop{Dst: ecx},
			&x86.BundleLock{},
			&x86.Binop{Op: x86.OpAnd, Dst: ecx, Src: ir.Int(ir.I32, bundleMask(l.target))},
			&x86.Jmp{Target: ecx},
			&x86.BundleUnlock{},
		)
	})
}

func (x8632Hooks) splitVariable(l *Lowering, v *ir.Variable) [2]*ir.Variable {
	return l.splitHalves(v)
}
