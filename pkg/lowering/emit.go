package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// insert appends inst to the current block. When memory is sandboxed an
// instruction accessing memory through a register that is not a stack
// register is bundle locked and its operand rebased on the sandbox base.
func (l *Lowering) insert(inst x86.Inst) x86.Inst {
	if l.sandboxesMemory() {
		if m := x86.MemOperand(inst); m != nil && l.needsSandbox(m) {
			l.emit(&x86.BundleLock{})
			x86.ReplaceMemOperand(inst, l.hooks.sandboxMemReference(l, m))
			l.emit(inst)
			l.emit(&x86.BundleUnlock{})
			return inst
		}
	}
	return l.emit(inst)
}

// emit appends inst without sandboxing
func (l *Lowering) emit(inst x86.Inst) x86.Inst {
	l.cur.Insts = append(l.cur.Insts, inst)
	return inst
}

func (l *Lowering) sandboxesMemory() bool {
	return l.opts.Sandbox && l.target.Is64Bit()
}

func (l *Lowering) needsSandbox(m *x86.Mem) bool {
	if m.Frame != x86.FrameNone {
		return false
	}
	if m.Base != nil && (l.isStackReg(m.Base) || m.Base.Reg == l.target.SandboxBase) {
		return false
	}
	return true
}

// isStackReg reports whether v is pinned to the stack or frame pointer
func (l *Lowering) isStackReg(v *ir.Variable) bool {
	if v == nil || !v.HasReg() {
		return false
	}
	return l.target.Aliases(l.target.StackPtr).Test(uint(v.Reg)) ||
		l.target.Aliases(l.target.FramePtr).Test(uint(v.Reg))
}

func (l *Lowering) mov(dst *ir.Variable, src ir.Operand) *x86.Mov {
	return l.insert(&x86.Mov{Dst: dst, Src: src}).(*x86.Mov)
}

func (l *Lowering) movOp(op x86.MovOp, dst *ir.Variable, src ir.Operand) *x86.Mov {
	return l.insert(&x86.Mov{Op: op, Dst: dst, Src: src}).(*x86.Mov)
}

// movRedefined writes dst again on another path without starting a new
// live range
func (l *Lowering) movRedefined(dst *ir.Variable, src ir.Operand) {
	l.mov(dst, src).SetDestRedefined()
}

func (l *Lowering) binop(op x86.BinOp, dst *ir.Variable, src ir.Operand) {
	l.insert(&x86.Binop{Op: op, Dst: dst, Src: src})
}

func (l *Lowering) unary(op x86.UnaryOp, dst *ir.Variable) {
	l.insert(&x86.Unary{Op: op, Dst: dst})
}

func (l *Lowering) store(value ir.Operand, addr *x86.Mem) {
	l.insert(&x86.Store{Value: value, Addr: addr})
}

func (l *Lowering) storeOp(op x86.StoreOp, value ir.Operand, addr *x86.Mem) {
	l.insert(&x86.Store{Op: op, Value: value, Addr: addr})
}

// lea computes an address and never accesses memory
func (l *Lowering) lea(dst *ir.Variable, m *x86.Mem) {
	l.emit(&x86.Lea{Dst: dst, Src: m})
}

func (l *Lowering) cmp(src0, src1 ir.Operand) {
	l.insert(&x86.Cmp{Op: x86.OpCmp, Src0: src0, Src1: src1})
}

func (l *Lowering) test(src0, src1 ir.Operand) {
	l.insert(&x86.Cmp{Op: x86.OpTest, Src0: src0, Src1: src1})
}

func (l *Lowering) ucomiss(src0, src1 ir.Operand) {
	l.insert(&x86.Cmp{Op: x86.OpUcomiss, Src0: src0, Src1: src1})
}

func (l *Lowering) setcc(c x86.Cond, dst *ir.Variable) {
	l.emit(&x86.Setcc{Cond: c, Dst: dst})
}

func (l *Lowering) cmov(c x86.Cond, dst *ir.Variable, src ir.Operand) {
	l.insert(&x86.Cmov{Cond: c, Dst: dst, Src: src})
}

func (l *Lowering) br(c x86.Cond, t, f *x86.Block) {
	l.emit(&x86.Br{Cond: c, True: t, False: f})
}

func (l *Lowering) jmp(t *x86.Block) {
	l.emit(&x86.Br{Cond: x86.CondNone, True: t})
}

func (l *Lowering) brLabel(c x86.Cond, lbl *x86.Label) {
	l.emit(&x86.Br{Cond: c, Label: lbl})
}

func (l *Lowering) placeLabel(lbl *x86.Label) {
	l.emit(lbl)
}

func (l *Lowering) vecOp(op x86.VecOpKind, dst *ir.Variable, src ir.Operand, imm uint8) {
	l.insert(&x86.VecOp{Op: op, Dst: dst, Src: src, Imm: imm})
}

func (l *Lowering) fakeDef(dst *ir.Variable) *x86.FakeDef {
	return l.emit(&x86.FakeDef{Dst: dst}).(*x86.FakeDef)
}

func (l *Lowering) fakeUse(src *ir.Variable) {
	l.emit(&x86.FakeUse{Src: src})
}

// redefined marks v as rewritten in place by the previous instruction and
// keeps the new value live up to it
func (l *Lowering) redefined(v *ir.Variable) {
	l.fakeDef(v).SetDestRedefined()
	l.fakeUse(v)
}

func (l *Lowering) mfence() {
	l.emit(&x86.Mfence{})
}

// indirectJump jumps to the address in target, masked to a bundle start
// when sandboxed
func (l *Lowering) indirectJump(target *ir.Variable) {
	if !l.opts.Sandbox {
		l.insert(&x86.Jmp{Target: target})
		return
	}
	l.emit(&x86.BundleLock{})
	target = l.hooks.sandboxBranchTarget(l, target)
	l.emit(&x86.Jmp{Target: target})
	l.emit(&x86.BundleUnlock{})
}

// insertNops inserts a random nop after instructions with the configured
// probability, never inside a bundle lock
func (l *Lowering) insertNops(blocks []*x86.Block) {
	for _, b := range blocks {
		out := make([]x86.Inst, 0, len(b.Insts))
		locked := false
		for _, inst := range b.Insts {
			out = append(out, inst)
			switch inst.(type) {
			case *x86.BundleLock:
				locked = true
				continue
			case *x86.BundleUnlock:
				locked = false
			case *x86.Label, *x86.FakeDef, *x86.FakeUse, *x86.FakeKill:
				continue
			}
			if !locked && l.rng.Float64() < l.opts.NopProbability {
				out = append(out, &x86.Nop{Variant: uint8(l.rng.IntN(5))})
			}
		}
		b.Insts = out
	}
}
