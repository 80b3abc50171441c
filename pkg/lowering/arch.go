package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/stacking"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// archHooks are the lowerings that differ between x86-32 and x86-64
type archHooks interface {
	lowerRet(l *Lowering, v ir.Operand)
	lowerCall(l *Lowering, dst *ir.Variable, target ir.Operand, args []ir.Operand)

	// sandboxMemReference rebases m on the sandbox base register
	sandboxMemReference(l *Lowering, m *x86.Mem) *x86.Mem
	// sandboxBranchTarget masks an indirect branch target to a bundle start
	sandboxBranchTarget(l *Lowering, v *ir.Variable) *ir.Variable
	// sandboxReturns replaces the returns of b with masked indirect jumps
	sandboxReturns(l *Lowering, b *x86.Block)

	splitVariable(l *Lowering, v *ir.Variable) [2]*ir.Variable
}

// lowerArguments copies the incoming arguments out of their registers and
// stack slots at the top of the entry block
func (l *Lowering) lowerArguments() {
	types := make([]ir.Type, len(l.fn.Args))
	for k, a := range l.fn.Args {
		types[k] = a.Ty
	}
	offsets := stacking.StackArgOffsets(l.target, types)

	gprs, xmms := 0, 0
	for k, a := range l.fn.Args {
		if offsets[k] >= 0 {
			l.loadStackArg(a, int64(offsets[k]))
			continue
		}
		var r ir.RegNum
		if a.Ty.IsVector() || a.Ty.IsFloat() {
			r = l.target.ArgXMMs[xmms]
			xmms++
		} else {
			r = l.target.ArgGPRs[gprs]
			gprs++
		}
		in := l.makeReg(a.Ty, r)
		l.fakeDef(in)
		l.insertMov(a, in)
	}
}

func (l *Lowering) loadStackArg(a *ir.Variable, off int64) {
	m := &x86.Mem{Ty: a.Ty, Base: l.frameBase(), Offset: ir.Int(ir.I32, off), Frame: x86.FrameIncomingArgs}
	if l.shouldSplit(a.Ty) {
		l.mov(l.loVar(a), m.WithType(ir.I32))
		l.mov(l.hiVar(a), m.WithType(ir.I32).WithOffset(4))
		return
	}
	l.insertMov(a, m.WithType(a.Ty.InRegisterType()))
}

// replaceRet substitutes the return of b with the instructions gen emits
func replaceRet(b *x86.Block, gen func(ret *x86.Ret) []x86.Inst) {
	for k, inst := range b.Insts {
		ret, ok := inst.(*x86.Ret)
		if !ok {
			continue
		}
		out := append([]x86.Inst(nil), b.Insts[:k]...)
		out = append(out, gen(ret)...)
		b.Insts = append(out, b.Insts[k+1:]...)
		return
	}
}

// retUses keeps the returned value live up to the jump that replaces ret
func retUses(ret *x86.Ret) []x86.Inst {
	var out []x86.Inst
	for _, op := range ret.Srcs() {
		if v, ok := op.(*ir.Variable); ok {
			out = append(out, &x86.FakeUse{Src: v})
		}
	}
	return out
}
