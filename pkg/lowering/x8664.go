package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

type x8664Hooks struct{}

func returnReg64(ty ir.Type) ir.RegNum {
	if ty.IsInteger() {
		return x86.RAX
	}
	return x86.XMM0
}

func (x8664Hooks) lowerRet(l *Lowering, v ir.Operand) {
	var src ir.Operand
	if v != nil {
		src = l.legalizeToReg(v, returnReg64(v.Type()))
	}
	l.fakeUse(l.sp())
	l.emit(&x86.Ret{Src: src})
}

func (x8664Hooks) lowerCall(l *Lowering, dst *ir.Variable, target ir.Operand, args []ir.Operand) {
	regs := l.emitCallArgs(args)
	if dst == nil {
		l.emitCallInst(nil, target, regs)
		return
	}
	r := returnReg64(dst.Ty)
	ret := l.makeReg(dst.Ty, r)
	l.emitCallInst(ret, target, regs, r)
	l.insertMov(dst, ret)
}

// sandboxMemReference addresses m as r15 plus its 32-bit effective address
//
//	lea t32, m
//	mov t64, t32
//	... (%r15,t64)
func (x8664Hooks) sandboxMemReference(l *Lowering, m *x86.Mem) *x86.Mem {
	t32 := l.makeReg(ir.I32, ir.NoRegister)
	t64 := l.makeReg(ir.I64, ir.NoRegister)
	l.emit(&x86.Lea{Dst: t32, Src: &x86.Mem{Ty: ir.I32, Base: m.Base, Offset: m.Offset, Index: m.Index, Shift: m.Shift}})
	l.emit(&x86.Mov{Op: x86.Movzx, Dst: t64, Src: t32})
	return &x86.Mem{
		Ty:         m.Ty,
		Base:       l.physReg(l.target.SandboxBase, ir.I64),
		Index:      t64,
		Segment:    m.Segment,
		Randomized: true,
	}
}

func (x8664Hooks) sandboxBranchTarget(l *Lowering, v *ir.Variable) *ir.Variable {
	t32 := l.makeReg(ir.I32, ir.NoRegister)
	t64 := l.makeReg(ir.I64, ir.NoRegister)
	l.emit(&x86.Mov{Dst: t32, Src: v})
	l.emit(&x86.Binop{Op: x86.OpAnd, Dst: t32, Src: ir.Int(ir.I32, bundleMask(l.target))})
	l.emit(&x86.Mov{Op: x86.Movzx, Dst: t64, Src: t32})
	l.emit(&x86.Binop{Op: x86.OpAdd, Dst: t64, Src: l.physReg(l.target.SandboxBase, ir.I64)})
	return t64
}

func (x8664Hooks) sandboxReturns(l *Lowering, b *x86.Block) {
	replaceRet(b, func(ret *x86.Ret) []x86.Inst {
		r11 := l.physReg(x86.R11, ir.I64)
		r11d := l.physReg(x86.R11D, ir.I32)
		return append(retUses(ret),
			&x86.Pop{Dst: r11},
			&x86.BundleLock{},
			&x86.Binop{Op: x86.OpAnd, Dst: r11d, Src: ir.Int(ir.I32, bundleMask(l.target))},
			&x86.Binop{Op: x86.OpAdd, Dst: r11, Src: l.physReg(l.target.SandboxBase, ir.I64)},
			&x86.Jmp{Target: r11},
			&x86.BundleUnlock{},
		)
	})
}

func (x8664Hooks) splitVariable(l *Lowering, v *ir.Variable) [2]*ir.Variable {
	l.fatalf("i64 variable %v split on x86-64", v)
	return [2]*ir.Variable{}
}

// bundleMask clears the offset within a bundle
func bundleMask(t *x86.Target) int64 {
	return -int64(1) << t.BundleAlignLog2
}
