package x86

import "github.com/raymyers/ralph-x86/pkg/ir"

// Block is a lowered basic block
type Block struct {
	Name  string
	Insts []Inst
	// Src is the IR block this block was lowered from; nil for blocks
	// created by splitting an edge
	Src *ir.Block
}

func (b *Block) String() string { return b.Name }

// Inst is a machine instruction
type Inst interface {
	// Dest returns the variable written, or nil
	Dest() *ir.Variable
	// Srcs returns the operands read, including a destination that is
	// also a source in two-address forms
	Srcs() []ir.Operand
	// DestRedefined reports that the write to Dest does not start a new
	// live range
	DestRedefined() bool
	SetDestRedefined()
	isInst()
}

type base struct {
	redefined bool
}

func (b *base) DestRedefined() bool { return b.redefined }
func (b *base) SetDestRedefined()   { b.redefined = true }
func (*base) isInst()               {}

// memAccess is implemented by instructions that can access memory through
// an operand slot
type memAccess interface {
	memSlots() []*ir.Operand
}

// MemOperand returns the first memory operand accessed by i, or nil.
// Lea computes an address without accessing memory and reports nil.
func MemOperand(i Inst) *Mem {
	ma, ok := i.(memAccess)
	if !ok {
		return nil
	}
	for _, slot := range ma.memSlots() {
		if m, ok := (*slot).(*Mem); ok {
			return m
		}
	}
	return nil
}

// ReplaceMemOperand substitutes the first memory operand of i with m
func ReplaceMemOperand(i Inst, m *Mem) bool {
	ma, ok := i.(memAccess)
	if !ok {
		return false
	}
	for _, slot := range ma.memSlots() {
		if _, ok := (*slot).(*Mem); ok {
			*slot = m
			return true
		}
	}
	return false
}

// BinOp is a two-address operation dst = dst op src
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpAdc
	OpSub
	OpSbb
	OpAnd
	OpOr
	OpXor
	OpImul
	OpShl
	OpShr
	OpSar
	OpRol

	// scalar float, ss or sd by type
	OpAddss
	OpSubss
	OpMulss
	OpDivss
	OpMinss
	OpMaxss

	// packed single
	OpAddps
	OpSubps
	OpMulps
	OpDivps
	OpMinps
	OpMaxps
	OpAndps
	OpAndnps
	OpOrps
	OpXorps

	// packed integer, element width by type
	OpPand
	OpPandn
	OpPor
	OpPxor
	OpPadd
	OpPsub
	OpPmull
	OpPmuludq
	OpPcmpeq
	OpPcmpgt
	OpPsll
	OpPsra
	OpPsrl
	OpPunpckl
	OpPunpckh
)

var binOpNames = [...]string{"add", "adc", "sub", "sbb", "and", "or", "xor", "imul", "shl", "shr", "sar", "rol",
	"add", "sub", "mul", "div", "min", "max",
	"addps", "subps", "mulps", "divps", "minps", "maxps", "andps", "andnps", "orps", "xorps",
	"pand", "pandn", "por", "pxor", "padd", "psub", "pmull", "pmuludq", "pcmpeq", "pcmpgt",
	"psll", "psra", "psrl", "punpckl", "punpckh"}

func (op BinOp) String() string { return binOpNames[op] }

// IsShift reports whether op takes its count in cl or an immediate
func (op BinOp) IsShift() bool { return op >= OpShl && op <= OpRol }

// Mnemonic returns the assembler mnemonic of op applied to values of ty
func (op BinOp) Mnemonic(ty ir.Type) string {
	switch {
	case op <= OpRol:
		return binOpNames[op] + SizeSuffix(ty)
	case op <= OpMaxss:
		return binOpNames[op] + FloatSuffix(ty)
	case op == OpPcmpeq && ElementSuffix(ty) == "q":
		// only used to set all bits, where the lane width does not matter
		return "pcmpeqd"
	case op == OpPadd || op == OpPsub || op == OpPcmpeq || op == OpPcmpgt ||
		op == OpPsll || op == OpPsra || op == OpPsrl:
		return binOpNames[op] + ElementSuffix(ty)
	case op == OpPmull:
		if ty == ir.V8I16 {
			return "pmullw"
		}
		return "pmulld"
	case op == OpPunpckl || op == OpPunpckh:
		return binOpNames[op] + ElementSuffix(ty) + unpackSuffix(ty)
	}
	return binOpNames[op]
}

func unpackSuffix(ty ir.Type) string {
	switch ElementSuffix(ty) {
	case "b":
		return "w"
	case "w":
		return "d"
	case "d":
		return "q"
	}
	return "dq"
}

// SizeSuffix returns the AT&T operand size suffix for an integer type
func SizeSuffix(ty ir.Type) string {
	switch ty.WidthBytes() {
	case 1:
		return "b"
	case 2:
		return "w"
	case 8:
		return "q"
	}
	return "l"
}

// FloatSuffix returns ss or sd by scalar type
func FloatSuffix(ty ir.Type) string {
	if ty == ir.F64 {
		return "sd"
	}
	return "ss"
}

// ElementSuffix returns the packed integer element suffix for a vector type.
// Scalar 64-bit types use quadword elements.
func ElementSuffix(ty ir.Type) string {
	switch ty.InRegisterType() {
	case ir.V16I8:
		return "b"
	case ir.V8I16:
		return "w"
	case ir.F64, ir.I64:
		return "q"
	}
	return "d"
}

// Binop computes Dst = Dst op Src
type Binop struct {
	base
	Op  BinOp
	Dst *ir.Variable
	Src ir.Operand
}

// ImulImm computes Dst = Src * Imm
type ImulImm struct {
	base
	Dst *ir.Variable
	Src ir.Operand
	Imm *ir.ConstInt
}

// UnaryOp is an operation on a single register operand
type UnaryOp uint8

const (
	OpNeg UnaryOp = iota
	OpNot
	OpBswap
)

var unaryOpNames = [...]string{"neg", "not", "bswap"}

func (op UnaryOp) String() string { return unaryOpNames[op] }

// Unary computes Dst = op Dst
type Unary struct {
	base
	Op  UnaryOp
	Dst *ir.Variable
}

// MovOp selects the form of a register move
type MovOp uint8

const (
	// MovPlain is mov, movss/movsd or movups by type
	MovPlain MovOp = iota
	// MovP copies a whole xmm register
	MovP
	MovQ
	MovD
	Movzx
	Movsx
	// MovssRegs merges the low lane of Src into Dst
	MovssRegs
)

// Mov copies Src into Dst
type Mov struct {
	base
	Op  MovOp
	Dst *ir.Variable
	Src ir.Operand
}

// StoreOp selects the form of a store
type StoreOp uint8

const (
	StorePlain StoreOp = iota
	StoreP
	StoreQ
)

// Store writes Value to Addr
type Store struct {
	base
	Op    StoreOp
	Value ir.Operand
	Addr  ir.Operand
}

// Lea computes the address Src into Dst
type Lea struct {
	base
	Dst *ir.Variable
	Src *Mem
}

// CmpOp selects a flag-setting compare
type CmpOp uint8

const (
	OpCmp CmpOp = iota
	OpTest
	OpUcomiss
)

// Cmp compares Src0 with Src1 and sets the flags
type Cmp struct {
	base
	Op         CmpOp
	Src0, Src1 ir.Operand
}

// Setcc sets Dst to 1 when Cond holds, else 0
type Setcc struct {
	base
	Cond Cond
	Dst  *ir.Variable
}

// Cmov copies Src into Dst when Cond holds
type Cmov struct {
	base
	Cond Cond
	Dst  *ir.Variable
	Src  ir.Operand
}

// Label is a branch target inside a lowered block
type Label struct {
	base
	Name string
}

// Br jumps to True when Cond holds, else to False. A nil False falls
// through to the next instruction. When Label is set it is the target
// instead of True.
type Br struct {
	base
	Cond        Cond
	True, False *Block
	Label       *Label
}

// IsUnconditional reports whether the branch always jumps
func (b *Br) IsUnconditional() bool { return b.Cond == CondNone }

// Jmp is an indirect jump
type Jmp struct {
	base
	Target ir.Operand
}

// Call calls Target; Dst is the pinned return register or nil
type Call struct {
	base
	Dst    *ir.Variable
	Target ir.Operand
}

// Ret returns; Src keeps the return register live
type Ret struct {
	base
	Src ir.Operand
}

// Cmpxchg compares Eax with Addr and stores Desired on equality. Eax
// receives the old value.
type Cmpxchg struct {
	base
	Addr    ir.Operand
	Eax     *ir.Variable
	Desired *ir.Variable
	Locked  bool
}

// Cmpxchg8b compares edx:eax with the 64-bit Addr and stores ecx:ebx on equality
type Cmpxchg8b struct {
	base
	Addr               ir.Operand
	Edx, Eax, Ecx, Ebx *ir.Variable
	Locked             bool
}

// Xadd adds Src to Addr; Src receives the old value
type Xadd struct {
	base
	Addr   ir.Operand
	Src    *ir.Variable
	Locked bool
}

// Xchg swaps Src with Addr
type Xchg struct {
	base
	Addr ir.Operand
	Src  *ir.Variable
}

// RMW applies Addr = Addr op Src
type RMW struct {
	base
	Op     BinOp
	Addr   ir.Operand
	Src    ir.Operand
	Locked bool
}

// DivOp selects unsigned or signed division
type DivOp uint8

const (
	OpDiv DivOp = iota
	OpIdiv
)

// Div divides the accumulator pair by Divisor. Dst is the part of the
// result the lowering reads (quotient in eax or remainder in edx); Other is
// the other half of the dividend.
type Div struct {
	base
	Op      DivOp
	Dst     *ir.Variable
	Divisor ir.Operand
	Other   ir.Operand
}

// Mul computes edx:eax = Src0 * Src1 unsigned; Dst is eax
type Mul struct {
	base
	Dst  *ir.Variable
	Src0 *ir.Variable
	Src1 ir.Operand
}

// Cbwdq sign-extends the accumulator Src into Dst (cbw, cwd, cdq, cqo)
type Cbwdq struct {
	base
	Dst *ir.Variable
	Src *ir.Variable
}

// DoubleShiftOp is shld or shrd
type DoubleShiftOp uint8

const (
	OpShld DoubleShiftOp = iota
	OpShrd
)

// DoubleShift shifts Dst by Count filling bits from Src
type DoubleShift struct {
	base
	Op    DoubleShiftOp
	Dst   *ir.Variable
	Src   *ir.Variable
	Count ir.Operand
}

// UnopOp is a non-destructive unary operation
type UnopOp uint8

const (
	OpBsf UnopOp = iota
	OpBsr
	OpSqrt
)

// Unop computes Dst = op Src
type Unop struct {
	base
	Op  UnopOp
	Dst *ir.Variable
	Src ir.Operand
}

// CvtVariant selects a conversion instruction
type CvtVariant uint8

const (
	CvtSi2ss CvtVariant = iota
	CvtTss2si
	CvtFloat2float
	CvtDq2ps
	CvtTps2dq
)

// Cvt converts Src to Dst's type
type Cvt struct {
	base
	Variant CvtVariant
	Dst     *ir.Variable
	Src     ir.Operand
}

// VecOpKind is a shuffle or lane operation with an immediate
type VecOpKind uint8

const (
	OpPshufd VecOpKind = iota
	OpShufps
	OpInsertps
	OpPinsr
	OpPextr
	OpCmpps
)

// TwoAddress reports whether Dst is also read
func (k VecOpKind) TwoAddress() bool {
	return k == OpShufps || k == OpInsertps || k == OpPinsr || k == OpCmpps
}

// VecOp computes Dst = op(Dst?, Src, Imm)
type VecOp struct {
	base
	Op  VecOpKind
	Dst *ir.Variable
	Src ir.Operand
	Imm uint8
}

// BlendOp selects blendvps or pblendvb
type BlendOp uint8

const (
	OpBlendvps BlendOp = iota
	OpPblendvb
)

// Blend selects lanes of Src where Mask (pinned to xmm0) has the sign bit set
type Blend struct {
	base
	Op   BlendOp
	Dst  *ir.Variable
	Src  ir.Operand
	Mask *ir.Variable
}

// Push pushes Src on the stack
type Push struct {
	base
	Src ir.Operand
}

// Pop pops the top of the stack into Dst
type Pop struct {
	base
	Dst *ir.Variable
}

// Fld loads Src onto the x87 stack
type Fld struct {
	base
	Src ir.Operand
}

// Fstp pops the x87 stack into Dst, normally a stack slot
type Fstp struct {
	base
	Dst ir.Operand
}

// Mfence is a full memory barrier
type Mfence struct {
	base
}

// Nop is a padding instruction; Variant selects its encoding length
type Nop struct {
	base
	Variant uint8
}

// UD2 traps
type UD2 struct {
	base
}

// FakeDef defines Dst without code, optionally tied to Src
type FakeDef struct {
	base
	Dst *ir.Variable
	Src *ir.Variable
}

// FakeUse keeps Src live
type FakeUse struct {
	base
	Src *ir.Variable
}

// FakeKill marks registers clobbered by the preceding instruction
type FakeKill struct {
	base
	Killed []*ir.Variable
}

// BundleLock starts a group of instructions that must not cross a bundle boundary
type BundleLock struct {
	base
	AlignToEnd bool
}

// BundleUnlock ends a bundle-locked group
type BundleUnlock struct {
	base
}

func (i *Binop) Dest() *ir.Variable       { return i.Dst }
func (i *ImulImm) Dest() *ir.Variable     { return i.Dst }
func (i *Unary) Dest() *ir.Variable       { return i.Dst }
func (i *Mov) Dest() *ir.Variable         { return i.Dst }
func (i *Store) Dest() *ir.Variable       { return nil }
func (i *Lea) Dest() *ir.Variable         { return i.Dst }
func (i *Cmp) Dest() *ir.Variable         { return nil }
func (i *Setcc) Dest() *ir.Variable       { return i.Dst }
func (i *Cmov) Dest() *ir.Variable        { return i.Dst }
func (i *Label) Dest() *ir.Variable       { return nil }
func (i *Br) Dest() *ir.Variable          { return nil }
func (i *Jmp) Dest() *ir.Variable         { return nil }
func (i *Call) Dest() *ir.Variable        { return i.Dst }
func (i *Ret) Dest() *ir.Variable         { return nil }
func (i *Cmpxchg) Dest() *ir.Variable     { return i.Eax }
func (i *Cmpxchg8b) Dest() *ir.Variable   { return nil }
func (i *Xadd) Dest() *ir.Variable        { return i.Src }
func (i *Xchg) Dest() *ir.Variable        { return i.Src }
func (i *RMW) Dest() *ir.Variable         { return nil }
func (i *Div) Dest() *ir.Variable         { return i.Dst }
func (i *Mul) Dest() *ir.Variable         { return i.Dst }
func (i *Cbwdq) Dest() *ir.Variable       { return i.Dst }
func (i *DoubleShift) Dest() *ir.Variable { return i.Dst }
func (i *Unop) Dest() *ir.Variable        { return i.Dst }
func (i *Cvt) Dest() *ir.Variable         { return i.Dst }
func (i *VecOp) Dest() *ir.Variable       { return i.Dst }
func (i *Blend) Dest() *ir.Variable       { return i.Dst }
func (i *Push) Dest() *ir.Variable        { return nil }
func (i *Pop) Dest() *ir.Variable         { return i.Dst }
func (i *Fld) Dest() *ir.Variable         { return nil }
func (i *Fstp) Dest() *ir.Variable {
	v, _ := i.Dst.(*ir.Variable)
	return v
}
func (i *Mfence) Dest() *ir.Variable       { return nil }
func (i *Nop) Dest() *ir.Variable          { return nil }
func (i *UD2) Dest() *ir.Variable          { return nil }
func (i *FakeDef) Dest() *ir.Variable      { return i.Dst }
func (i *FakeUse) Dest() *ir.Variable      { return nil }
func (i *FakeKill) Dest() *ir.Variable     { return nil }
func (i *BundleLock) Dest() *ir.Variable   { return nil }
func (i *BundleUnlock) Dest() *ir.Variable { return nil }

func ops(xs ...ir.Operand) []ir.Operand {
	out := xs[:0]
	for _, x := range xs {
		if x == nil {
			continue
		}
		if v, ok := x.(*ir.Variable); ok && v == nil {
			continue
		}
		out = append(out, x)
	}
	return out
}

func (i *Binop) Srcs() []ir.Operand   { return ops(i.Dst, i.Src) }
func (i *ImulImm) Srcs() []ir.Operand { return ops(i.Src, i.Imm) }
func (i *Unary) Srcs() []ir.Operand   { return ops(i.Dst) }

func (i *Mov) Srcs() []ir.Operand {
	if i.Op == MovssRegs {
		return ops(i.Dst, i.Src)
	}
	return ops(i.Src)
}

func (i *Store) Srcs() []ir.Operand        { return ops(i.Value, i.Addr) }
func (i *Lea) Srcs() []ir.Operand          { return ops(i.Src) }
func (i *Cmp) Srcs() []ir.Operand          { return ops(i.Src0, i.Src1) }
func (i *Setcc) Srcs() []ir.Operand        { return nil }
func (i *Cmov) Srcs() []ir.Operand         { return ops(i.Dst, i.Src) }
func (i *Label) Srcs() []ir.Operand        { return nil }
func (i *Br) Srcs() []ir.Operand           { return nil }
func (i *Jmp) Srcs() []ir.Operand          { return ops(i.Target) }
func (i *Call) Srcs() []ir.Operand         { return ops(i.Target) }
func (i *Ret) Srcs() []ir.Operand          { return ops(i.Src) }
func (i *Cmpxchg) Srcs() []ir.Operand      { return ops(i.Addr, i.Eax, i.Desired) }
func (i *Cmpxchg8b) Srcs() []ir.Operand    { return ops(i.Addr, i.Edx, i.Eax, i.Ecx, i.Ebx) }
func (i *Xadd) Srcs() []ir.Operand         { return ops(i.Addr, i.Src) }
func (i *Xchg) Srcs() []ir.Operand         { return ops(i.Addr, i.Src) }
func (i *RMW) Srcs() []ir.Operand          { return ops(i.Addr, i.Src) }
func (i *Div) Srcs() []ir.Operand          { return ops(i.Dst, i.Divisor, i.Other) }
func (i *Mul) Srcs() []ir.Operand          { return ops(i.Src0, i.Src1) }
func (i *Cbwdq) Srcs() []ir.Operand        { return ops(i.Src) }
func (i *DoubleShift) Srcs() []ir.Operand  { return ops(i.Dst, i.Src, i.Count) }
func (i *Unop) Srcs() []ir.Operand         { return ops(i.Src) }
func (i *Cvt) Srcs() []ir.Operand          { return ops(i.Src) }
func (i *Blend) Srcs() []ir.Operand        { return ops(i.Dst, i.Src, i.Mask) }
func (i *Push) Srcs() []ir.Operand         { return ops(i.Src) }
func (i *Pop) Srcs() []ir.Operand          { return nil }
func (i *Fld) Srcs() []ir.Operand          { return ops(i.Src) }
func (i *Fstp) Srcs() []ir.Operand         { return nil }
func (i *Mfence) Srcs() []ir.Operand       { return nil }
func (i *Nop) Srcs() []ir.Operand          { return nil }
func (i *UD2) Srcs() []ir.Operand          { return nil }
func (i *FakeDef) Srcs() []ir.Operand      { return ops(i.Src) }
func (i *FakeUse) Srcs() []ir.Operand      { return ops(i.Src) }
func (i *BundleLock) Srcs() []ir.Operand   { return nil }
func (i *BundleUnlock) Srcs() []ir.Operand { return nil }

func (i *VecOp) Srcs() []ir.Operand {
	if i.Op.TwoAddress() {
		return ops(i.Dst, i.Src)
	}
	return ops(i.Src)
}

func (i *FakeKill) Srcs() []ir.Operand { return nil }

func (i *Binop) memSlots() []*ir.Operand     { return []*ir.Operand{&i.Src} }
func (i *ImulImm) memSlots() []*ir.Operand   { return []*ir.Operand{&i.Src} }
func (i *Mov) memSlots() []*ir.Operand       { return []*ir.Operand{&i.Src} }
func (i *Store) memSlots() []*ir.Operand     { return []*ir.Operand{&i.Addr} }
func (i *Cmp) memSlots() []*ir.Operand       { return []*ir.Operand{&i.Src0, &i.Src1} }
func (i *Cmov) memSlots() []*ir.Operand      { return []*ir.Operand{&i.Src} }
func (i *Jmp) memSlots() []*ir.Operand       { return []*ir.Operand{&i.Target} }
func (i *Call) memSlots() []*ir.Operand      { return []*ir.Operand{&i.Target} }
func (i *Cmpxchg) memSlots() []*ir.Operand   { return []*ir.Operand{&i.Addr} }
func (i *Cmpxchg8b) memSlots() []*ir.Operand { return []*ir.Operand{&i.Addr} }
func (i *Xadd) memSlots() []*ir.Operand      { return []*ir.Operand{&i.Addr} }
func (i *Xchg) memSlots() []*ir.Operand      { return []*ir.Operand{&i.Addr} }
func (i *RMW) memSlots() []*ir.Operand       { return []*ir.Operand{&i.Addr} }
func (i *Div) memSlots() []*ir.Operand       { return []*ir.Operand{&i.Divisor} }
func (i *Mul) memSlots() []*ir.Operand       { return []*ir.Operand{&i.Src1} }
func (i *Unop) memSlots() []*ir.Operand      { return []*ir.Operand{&i.Src} }
func (i *Cvt) memSlots() []*ir.Operand       { return []*ir.Operand{&i.Src} }
func (i *VecOp) memSlots() []*ir.Operand     { return []*ir.Operand{&i.Src} }
func (i *Blend) memSlots() []*ir.Operand     { return []*ir.Operand{&i.Src} }
func (i *Push) memSlots() []*ir.Operand      { return []*ir.Operand{&i.Src} }
func (i *Fld) memSlots() []*ir.Operand       { return []*ir.Operand{&i.Src} }
func (i *Fstp) memSlots() []*ir.Operand      { return []*ir.Operand{&i.Dst} }
