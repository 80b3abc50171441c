package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/stacking"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

func (l *Lowering) lowerCall(dst *ir.Variable, target ir.Operand, args []ir.Operand) {
	l.hooks.lowerCall(l, dst, target, args)
}

// callHelper calls a runtime helper, converting args to the helper's
// parameter types
func (l *Lowering) callHelper(name string, dst *ir.Variable, args ...ir.Operand) {
	sig, ok := x86.Helpers[name]
	if !ok {
		l.fatalf("unknown runtime helper %s", name)
	}
	types := l.target.HelperArgTypes(name)
	if len(types) != len(args) {
		l.fatalf("helper %s takes %d arguments, got %d", name, len(types), len(args))
	}
	if dst != nil && sig.Ret != ir.Void && dst.Ty != sig.Ret {
		l.fatalf("helper %s returns %v, not %v", name, sig.Ret, dst.Ty)
	}
	coerced := make([]ir.Operand, len(args))
	for k, a := range args {
		coerced[k] = l.coerceArg(a, types[k])
	}
	l.lowerCall(dst, &ir.ConstRelocatable{Ty: l.target.WordType, Symbol: name}, coerced)
}

// coerceArg converts an integer argument to the parameter type ty
func (l *Lowering) coerceArg(a ir.Operand, ty ir.Type) ir.Operand {
	from := a.Type()
	if from == ty || !from.IsInteger() || !ty.IsInteger() {
		return a
	}
	switch o := a.(type) {
	case *ir.ConstInt:
		return ir.Int(ty, int64(o.Uint64()))
	case *x86.Mem:
		if from.WidthBytes() > ty.WidthBytes() {
			return o.WithType(ty)
		}
	}
	if from.WidthBytes() < ty.WidthBytes() {
		if l.shouldSplit(ty) {
			lo := l.makeReg(ir.I32, ir.NoRegister)
			l.movOp(x86.Movzx, lo, l.legalize(a, legalReg|legalMem, ir.NoRegister))
			t := l.fn.NewVariable("", ty)
			l.mov(l.loVar(t), lo)
			l.mov(l.hiVar(t), ir.Int(ir.I32, 0))
			return t
		}
		t := l.makeReg(ty, ir.NoRegister)
		l.movOp(x86.Movzx, t, l.legalize(a, legalReg|legalMem, ir.NoRegister))
		return t
	}
	if l.shouldSplit(from) {
		return l.coerceArg(l.loOperand(a), ty)
	}
	t := l.makeReg(ty, ir.NoRegister)
	l.mov(t, l.legalizeToReg(a, ir.NoRegister))
	return t
}

// emitCallArgs stores stack arguments to the outgoing area and moves
// register arguments into their registers. It returns the register
// arguments, which must be kept live up to the call.
func (l *Lowering) emitCallArgs(args []ir.Operand) []*ir.Variable {
	types := make([]ir.Type, len(args))
	for k, a := range args {
		types[k] = a.Type()
	}
	offsets := stacking.StackArgOffsets(l.target, types)
	l.layout.UpdateMaxOutArgsSize(stacking.CallStackArgumentsSize(l.target, types))
	l.layout.SetNeedsStackAlignment()

	// stack arguments first so that computing them cannot clobber an
	// argument register
	for k, a := range args {
		if offsets[k] < 0 {
			continue
		}
		l.storeStackArg(a, int64(offsets[k]))
	}

	var regs []*ir.Variable
	gprs, xmms := 0, 0
	for k, a := range args {
		if offsets[k] >= 0 {
			continue
		}
		ty := types[k]
		var r ir.RegNum
		if ty.IsVector() || ty.IsFloat() {
			r = l.target.ArgXMMs[xmms]
			xmms++
		} else {
			r = l.target.ArgGPRs[gprs]
			gprs++
		}
		regs = append(regs, l.legalizeToReg(a, r))
	}
	return regs
}

func (l *Lowering) storeStackArg(a ir.Operand, off int64) {
	m := &x86.Mem{Ty: a.Type(), Base: l.sp(), Offset: ir.Int(ir.I32, off)}
	ty := a.Type()
	if l.shouldSplit(ty) {
		lo := l.legalize(l.loOperand(a), legalReg|legalImm, ir.NoRegister)
		hi := l.legalize(l.hiOperand(a), legalReg|legalImm, ir.NoRegister)
		l.store(lo, m.WithType(ir.I32))
		l.store(hi, m.WithType(ir.I32).WithOffset(4))
		return
	}
	allowed := legalReg | legalImm
	if !ty.IsInteger() {
		allowed = legalReg
	}
	l.store(l.legalize(a, allowed, ir.NoRegister), m.WithType(ty.InRegisterType()))
}

// emitCallInst emits the call itself followed by the clobber of every
// scratch register other than the return registers
func (l *Lowering) emitCallInst(callDst *ir.Variable, target ir.Operand, regArgs []*ir.Variable, rets ...ir.RegNum) {
	if _, direct := target.(*ir.ConstRelocatable); !direct {
		allowed := legalReg | legalMem
		if l.opts.Sandbox {
			allowed = legalReg
		}
		target = l.legalize(target, allowed, ir.NoRegister)
	}
	for _, r := range regArgs {
		l.fakeUse(r)
	}

	if l.opts.Sandbox {
		l.emit(&x86.BundleLock{AlignToEnd: true})
		if v, ok := target.(*ir.Variable); ok {
			target = l.hooks.sandboxBranchTarget(l, v)
		}
		l.emit(&x86.Call{Dst: callDst, Target: target})
		l.emit(&x86.BundleUnlock{})
	} else {
		l.insert(&x86.Call{Dst: callDst, Target: target})
	}

	l.emit(&x86.FakeKill{Killed: l.callClobbers(rets...)})
}

// callClobbers returns full-width views of the scratch registers that do
// not overlap the return registers
func (l *Lowering) callClobbers(rets ...ir.RegNum) []*ir.Variable {
	keep := l.target.Aliases(ir.NoRegister)
	for _, r := range rets {
		keep.InPlaceUnion(l.target.Aliases(r))
	}
	word := l.target.WordType
	var killed []*ir.Variable
	scratch := l.target.ScratchRegs()
	for r, ok := scratch.NextSet(0); ok; r, ok = scratch.NextSet(r + 1) {
		reg := ir.RegNum(r)
		if keep.Test(r) {
			continue
		}
		switch {
		case x86.IsXMM(reg):
			killed = append(killed, l.physReg(reg, ir.V4F32))
		case x86.RegWidth(reg) == word.WidthBytes():
			killed = append(killed, l.physReg(reg, word))
		}
	}
	return killed
}
