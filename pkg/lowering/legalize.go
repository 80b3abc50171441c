package lowering

import (
	"math"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/selection"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// legalMask is the set of operand kinds an instruction slot accepts
type legalMask uint8

const (
	legalReg legalMask = 1 << iota
	legalImm
	legalMem
	// legalRemat accepts a rematerializable variable as is
	legalRemat
	// legalAddrAbs accepts an absolute address
	legalAddrAbs

	legalDefault = legalReg | legalImm | legalMem
	legalAll     = legalDefault | legalRemat | legalAddrAbs
)

// legalize returns op in a form allowed by mask. With reg set the result is
// a variable pinned to reg. An operand already allowed is returned as is
// without emitting code. An operand no allowed kind can hold is fatal.
func (l *Lowering) legalize(op ir.Operand, allowed legalMask, reg ir.RegNum) ir.Operand {
	res := l.legalizeOperand(op, allowed, reg)
	if reg == ir.NoRegister && !isAllowed(res, allowed) {
		l.fatalf("operand %v has no form in the allowed kinds %03b", op, allowed)
	}
	return res
}

// isAllowed reports whether the kind of op is in allowed
func isAllowed(op ir.Operand, allowed legalMask) bool {
	switch o := op.(type) {
	case *x86.Mem:
		return allowed&legalMem != 0
	case *ir.ConstInt, *ir.ConstRelocatable:
		return allowed&legalImm != 0
	case *ir.Variable:
		if o.Remat != nil && allowed&legalRemat != 0 {
			return true
		}
		return allowed&legalReg != 0
	}
	return false
}

func (l *Lowering) legalizeOperand(op ir.Operand, allowed legalMask, reg ir.RegNum) ir.Operand {
	// memOnly slots take constants from the pool and variables from a stack slot
	memOnly := reg == ir.NoRegister && allowed&legalReg == 0 && allowed&legalMem != 0

	switch o := op.(type) {
	case *x86.Mem:
		m := l.legalizeMemVars(o)
		if allowed&legalMem == 0 || reg != ir.NoRegister {
			return l.copyToReg(m, reg)
		}
		return m

	case *ir.ConstUndef:
		if o.Ty.IsVector() {
			return l.makeVectorOfZeros(o.Ty, reg)
		}
		return l.legalizeOperand(l.legalizeUndef(o.Ty), allowed, reg)

	case *ir.ConstFloat:
		if memOnly {
			return l.poolMem(o.Ty, o.Bits())
		}
		if o.IsPositiveZero() {
			return l.makeZeroedRegister(o.Ty, reg)
		}
		m := l.poolMem(o.Ty, o.Bits())
		if allowed&legalMem != 0 && reg == ir.NoRegister {
			return m
		}
		return l.copyToReg(m, reg)

	case *ir.ConstInt:
		if o.Ty == ir.I1 && o.Value < 0 {
			// i1 true is 1 in a register
			o = boolConst(true)
		}
		if l.shouldSplit(o.Ty) {
			l.fatalf("i64 constant %v must be split", o)
		}
		if l.shouldRandomize(o) && !memOnly {
			return l.randomizeOrPoolImmediate(o, reg)
		}
		if allowed&legalImm != 0 && reg == ir.NoRegister && l.fitsImmediate(o) {
			return o
		}
		if memOnly {
			return l.poolMem(o.Ty, o.Uint64())
		}
		return l.copyToReg(o, reg)

	case *ir.ConstRelocatable:
		if allowed&legalImm != 0 && reg == ir.NoRegister {
			return o
		}
		return l.copyToReg(o, reg)

	case *ir.Variable:
		if m, ok := l.foldedLoads[o]; ok {
			delete(l.foldedLoads, o)
			return l.legalizeOperand(m, allowed, reg)
		}
		if o.Remat != nil && allowed&legalRemat == 0 {
			t := l.makeReg(l.target.WordType, reg)
			l.lea(t, l.rematMem(o, l.target.WordType))
			if memOnly {
				return l.spillToSlot(t)
			}
			return t
		}
		if reg != ir.NoRegister && o.Reg != reg {
			return l.copyToReg(o, reg)
		}
		if memOnly && o.Remat == nil {
			return l.spillToSlot(o)
		}
		return o
	}
	l.fatalf("unexpected operand %T", op)
	return nil
}

// spillToSlot stores v to a fresh stack slot and returns the slot
func (l *Lowering) spillToSlot(v *ir.Variable) *x86.Mem {
	slot := l.stackSlot(v.Ty)
	l.store(v, slot)
	return slot
}

func (l *Lowering) legalizeToReg(op ir.Operand, reg ir.RegNum) *ir.Variable {
	return l.legalize(op, legalReg, reg).(*ir.Variable)
}

// legalizeSrc0ForCmp makes src0 a register unless src1 is a register or
// an immediate, since a compare has at most one memory operand
func (l *Lowering) legalizeSrc0ForCmp(src0, src1 ir.Operand) ir.Operand {
	regOrImm := false
	switch s := src1.(type) {
	case *ir.Variable:
		_, folded := l.foldedLoads[s]
		regOrImm = !folded
	case *ir.ConstInt, *ir.ConstRelocatable:
		regOrImm = true
	}
	if regOrImm {
		return l.legalize(src0, legalReg|legalMem, ir.NoRegister)
	}
	return l.legalize(src0, legalReg, ir.NoRegister)
}

// legalizeUndef returns the zero of ty
func (l *Lowering) legalizeUndef(ty ir.Type) ir.Operand {
	switch {
	case ty.IsFloat():
		return &ir.ConstFloat{Ty: ty}
	case ty.IsInteger():
		return ir.Int(ty, 0)
	}
	l.fatalf("undef of type %v", ty)
	return nil
}

// fitsImmediate reports whether c can be encoded as an instruction immediate
func (l *Lowering) fitsImmediate(c *ir.ConstInt) bool {
	if c.Ty == ir.I64 {
		return c.Value >= math.MinInt32 && c.Value <= math.MaxInt32
	}
	return true
}

// legalizeMemVars makes the base and index of m plain registers and blinds
// a large displacement. m itself is returned when nothing changes.
func (l *Lowering) legalizeMemVars(m *x86.Mem) *x86.Mem {
	base, index := m.Base, m.Index
	if base != nil && base.Remat != nil {
		base = l.legalizeToReg(base, ir.NoRegister)
	}
	if index != nil && index.Remat != nil {
		index = l.legalizeToReg(index, ir.NoRegister)
	}
	if base != nil {
		if f, ok := l.foldedLoads[base]; ok {
			delete(l.foldedLoads, base)
			base = l.copyToReg(f, ir.NoRegister)
		}
	}
	if index != nil {
		if f, ok := l.foldedLoads[index]; ok {
			delete(l.foldedLoads, index)
			index = l.copyToReg(f, ir.NoRegister)
		}
	}
	if base != m.Base || index != m.Index {
		c := *m
		c.Base, c.Index = base, index
		m = &c
	}
	if l.shouldRandomizeMem(m) {
		m = l.randomizeOrPoolMem(m)
	}
	return m
}

// makeReg creates a variable of type ty, pinned to reg unless it is
// ir.NoRegister
func (l *Lowering) makeReg(ty ir.Type, reg ir.RegNum) *ir.Variable {
	v := l.fn.NewVariable("", ty)
	if reg != ir.NoRegister {
		v.Reg = l.regForType(reg, ty)
	}
	return v
}

// physReg returns a fresh variable pinned to r viewed with type ty
func (l *Lowering) physReg(r ir.RegNum, ty ir.Type) *ir.Variable {
	return l.makeReg(ty, r)
}

func (l *Lowering) regForType(r ir.RegNum, ty ir.Type) ir.RegNum {
	if x86.IsXMM(r) {
		return r
	}
	if !ty.IsInteger() {
		l.fatalf("type %v in general purpose register %s", ty, x86.RegName(r))
	}
	n := x86.GPRForType(r, ty)
	if n == ir.NoRegister || !l.target.IsValidReg(n) {
		l.fatalf("no %v view of register %s", ty, x86.RegName(r))
	}
	return n
}

func (l *Lowering) sp() *ir.Variable { return l.physReg(l.target.StackPtr, l.target.WordType) }
func (l *Lowering) fp() *ir.Variable { return l.physReg(l.target.FramePtr, l.target.WordType) }

// frameBase is the register frame areas are addressed from
func (l *Lowering) frameBase() *ir.Variable {
	if l.layout.HasFramePointer() {
		return l.fp()
	}
	return l.sp()
}

// copyToReg moves src into a new register, pinned to reg if requested
func (l *Lowering) copyToReg(src ir.Operand, reg ir.RegNum) *ir.Variable {
	ty := src.Type()
	if ty == ir.Void {
		ty = l.target.WordType
	}
	t := l.makeReg(ty, reg)
	l.mov(t, src)
	return t
}

// copyToReg8 moves the low byte of src into an 8-bit register
func (l *Lowering) copyToReg8(src ir.Operand, reg ir.RegNum) *ir.Variable {
	switch src.Type() {
	case ir.I1, ir.I8:
		return l.copyToReg(src, reg)
	}
	if c, ok := src.(*ir.ConstInt); ok {
		return l.copyToReg(ir.Int(ir.I8, c.Value), reg)
	}
	t := l.makeReg(ir.I8, reg)
	l.mov(t, l.legalizeToReg(src, ir.NoRegister))
	return t
}

// makeZeroedRegister returns a register of type ty holding zero
func (l *Lowering) makeZeroedRegister(ty ir.Type, reg ir.RegNum) *ir.Variable {
	t := l.makeReg(ty, reg)
	if ty.IsInteger() {
		l.mov(t, ir.Int(ty, 0))
		return t
	}
	l.fakeDef(t)
	l.binop(x86.OpPxor, t, t)
	return t
}

func (l *Lowering) makeVectorOfZeros(ty ir.Type, reg ir.RegNum) *ir.Variable {
	return l.makeZeroedRegister(ty.InRegisterType(), reg)
}

func (l *Lowering) makeVectorOfMinusOnes(ty ir.Type, reg ir.RegNum) *ir.Variable {
	t := l.makeReg(ty.InRegisterType(), reg)
	l.fakeDef(t)
	l.binop(x86.OpPcmpeq, t, t)
	return t
}

// makeVectorOfOnes returns a vector with every lane equal to 1
func (l *Lowering) makeVectorOfOnes(ty ir.Type, reg ir.RegNum) *ir.Variable {
	ones := l.makeVectorOfZeros(ty, reg)
	// 0 - (-1) in every lane
	l.binop(x86.OpPsub, ones, l.makeVectorOfMinusOnes(ty, ir.NoRegister))
	return ones
}

// makeVectorOfHighOrderBits returns a vector with only the sign bit of
// every lane set
func (l *Lowering) makeVectorOfHighOrderBits(ty ir.Type, reg ir.RegNum) *ir.Variable {
	ty = ty.InRegisterType()
	if ty == ir.V16I8 {
		// no byte shifts: broadcast 0x80808080
		gpr := l.copyToReg(ir.Int(ir.I32, -0x7f7f7f80), ir.NoRegister)
		t := l.makeReg(ty, reg)
		l.movOp(x86.MovD, t, gpr)
		l.vecOp(x86.OpPshufd, t, t, 0)
		return t
	}
	t := l.makeVectorOfMinusOnes(ty, reg)
	shift := ty.ElementType().WidthBits() - 1
	l.binop(x86.OpPsll, t, ir.Int(ir.I8, int64(shift)))
	return t
}

// makeVectorOfFabsMask returns a mask clearing the sign bit of every lane,
// or of the scalar float type ty
func (l *Lowering) makeVectorOfFabsMask(ty ir.Type, reg ir.RegNum) *ir.Variable {
	t := l.makeReg(ty, reg)
	l.fakeDef(t)
	l.binop(x86.OpPcmpeq, t, t)
	l.binop(x86.OpPsrl, t, ir.Int(ir.I8, 1))
	return t
}

// stackSlot reserves a temporary in the spill area
func (l *Lowering) stackSlot(ty ir.Type) *x86.Mem {
	size := ty.WidthBytes()
	align := size
	if align < l.target.WordType.WidthBytes() {
		align = l.target.WordType.WidthBytes()
	}
	off := (l.spillSize + align - 1) &^ (align - 1)
	l.spillSize = off + size
	if align > l.spillAlign {
		l.spillAlign = align
	}
	return &x86.Mem{Ty: ty, Base: l.frameBase(), Offset: ir.Int(ir.I32, int64(off)), Frame: x86.FrameSpill}
}

// rematMem addresses the value of a rematerializable variable
func (l *Lowering) rematMem(v *ir.Variable, ty ir.Type) *x86.Mem {
	return &x86.Mem{
		Ty:     ty,
		Base:   l.physReg(v.Remat.Base, l.target.WordType),
		Offset: ir.Int(ir.I32, int64(v.Remat.Offset)),
		Frame:  x86.FrameFixedAlloca,
	}
}

// formMemoryOperand builds the memory operand accessing a value of type ty
// at ptr. At O2 address arithmetic feeding ptr is folded into the operand.
func (l *Lowering) formMemoryOperand(ptr ir.Operand, ty ir.Type, doLegalize bool) *x86.Mem {
	var m *x86.Mem
	switch p := ptr.(type) {
	case *x86.Mem:
		m = p.WithType(ty)
	case *ir.ConstInt:
		if p.Value >= math.MinInt32 && p.Value <= math.MaxInt32 {
			m = &x86.Mem{Ty: ty, Offset: ir.Int(ir.I32, p.Value)}
		} else {
			m = &x86.Mem{Ty: ty, Base: l.copyToReg(p, ir.NoRegister)}
		}
	case *ir.ConstRelocatable:
		m = &x86.Mem{Ty: ty, Offset: p}
	case *ir.ConstUndef:
		m = &x86.Mem{Ty: ty, Offset: ir.Int(ir.I32, 0)}
	case *ir.Variable:
		m = l.memFromVariable(p, ty)
	default:
		l.fatalf("unexpected pointer operand %T", ptr)
	}
	if doLegalize {
		m = l.legalizeMemVars(m)
	}
	return m
}

func (l *Lowering) memFromVariable(p *ir.Variable, ty ir.Type) *x86.Mem {
	if p.Remat != nil {
		return l.rematMem(p, ty)
	}
	if !l.optimizing() {
		return &x86.Mem{Ty: ty, Base: p}
	}

	r, ok := selection.SelectAddressing(p, l.target.WordType, l.lookupDef)
	if !ok {
		return &x86.Mem{Ty: ty, Base: p}
	}
	l.tr.V("addropt").Printw("address folded", "ptr", p, "base", r.Base, "index", r.Index, "shift", r.Shift, "offset", r.Offset)

	m := &x86.Mem{Ty: ty, Base: r.Base, Index: r.Index, Shift: r.Shift}
	switch {
	case r.Symbol != nil:
		m.Offset = &ir.ConstRelocatable{Ty: r.Symbol.Ty, Symbol: r.Symbol.Symbol, Offset: r.Symbol.Offset + r.Offset}
	case r.Offset != 0 || (r.Base == nil && r.Index == nil):
		m.Offset = ir.Int(ir.I32, r.Offset)
	}
	if m.Base != nil && m.Base.Remat != nil && m.Index == nil && m.Offset == nil {
		return l.rematMem(m.Base, ty)
	}
	return m
}
