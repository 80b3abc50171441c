package ir

import "math"

// Inst is an IR instruction. Instructions are immutable once built; the
// number is assigned when the instruction is appended to a block.
type Inst interface {
	Number() int
	Dest() *Variable
	Srcs() []Operand
	isInst()
}

type inst struct {
	num int
}

func (i *inst) Number() int { return i.num }
func (*inst) isInst()       {}

// ArithOp is the operator of an Arithmetic instruction
type ArithOp uint8

const (
	Add ArithOp = iota
	Fadd
	Sub
	Fsub
	Mul
	Fmul
	Udiv
	Sdiv
	Fdiv
	Urem
	Srem
	Frem
	Shl
	Lshr
	Ashr
	And
	Or
	Xor
)

var arithNames = [...]string{"add", "fadd", "sub", "fsub", "mul", "fmul", "udiv", "sdiv", "fdiv",
	"urem", "srem", "frem", "shl", "lshr", "ashr", "and", "or", "xor"}

func (op ArithOp) String() string { return arithNames[op] }

// IsCommutative reports whether operands of op may be swapped
func (op ArithOp) IsCommutative() bool {
	switch op {
	case Add, Fadd, Mul, Fmul, And, Or, Xor:
		return true
	}
	return false
}

// CastOp is the operator of a Cast instruction
type CastOp uint8

const (
	Sext CastOp = iota
	Zext
	Trunc
	Fptrunc
	Fpext
	Fptosi
	Fptoui
	Sitofp
	Uitofp
	Bitcast
)

var castNames = [...]string{"sext", "zext", "trunc", "fptrunc", "fpext", "fptosi", "fptoui",
	"sitofp", "uitofp", "bitcast"}

func (op CastOp) String() string { return castNames[op] }

// ICond is an integer comparison predicate
type ICond uint8

const (
	IEq ICond = iota
	INe
	IUgt
	IUge
	IUlt
	IUle
	ISgt
	ISge
	ISlt
	ISle
)

var icondNames = [...]string{"eq", "ne", "ugt", "uge", "ult", "ule", "sgt", "sge", "slt", "sle"}

func (c ICond) String() string { return icondNames[c] }

// Swapped returns the predicate that holds for (b, a) when c holds for (a, b)
func (c ICond) Swapped() ICond {
	switch c {
	case IUgt:
		return IUlt
	case IUge:
		return IUle
	case IUlt:
		return IUgt
	case IUle:
		return IUge
	case ISgt:
		return ISlt
	case ISge:
		return ISle
	case ISlt:
		return ISgt
	case ISle:
		return ISge
	}
	return c
}

// IsSigned reports whether c compares signed values
func (c ICond) IsSigned() bool { return c >= ISgt }

// Eval evaluates the predicate on two values of type ty
func (c ICond) Eval(ty Type, a, b uint64) bool {
	ua, ub := Truncate(ty, a), Truncate(ty, b)
	sa, sb := SignExtend(ty, int64(a)), SignExtend(ty, int64(b))
	switch c {
	case IEq:
		return ua == ub
	case INe:
		return ua != ub
	case IUgt:
		return ua > ub
	case IUge:
		return ua >= ub
	case IUlt:
		return ua < ub
	case IUle:
		return ua <= ub
	case ISgt:
		return sa > sb
	case ISge:
		return sa >= sb
	case ISlt:
		return sa < sb
	default:
		return sa <= sb
	}
}

// FCond is a floating point comparison predicate
type FCond uint8

const (
	FFalse FCond = iota
	FOeq
	FOgt
	FOge
	FOlt
	FOle
	FOne
	FOrd
	FUeq
	FUgt
	FUge
	FUlt
	FUle
	FUne
	FUno
	FTrue
)

var fcondNames = [...]string{"false", "oeq", "ogt", "oge", "olt", "ole", "one", "ord",
	"ueq", "ugt", "uge", "ult", "ule", "une", "uno", "true"}

func (c FCond) String() string { return fcondNames[c] }

// Eval evaluates the predicate on two floats
func (c FCond) Eval(a, b float64) bool {
	unordered := math.IsNaN(a) || math.IsNaN(b)
	var r bool
	switch c {
	case FFalse:
		return false
	case FTrue:
		return true
	case FOrd:
		return !unordered
	case FUno:
		return unordered
	case FOeq, FUeq:
		r = a == b
	case FOgt, FUgt:
		r = a > b
	case FOge, FUge:
		r = a >= b
	case FOlt, FUlt:
		r = a < b
	case FOle, FUle:
		r = a <= b
	case FOne, FUne:
		r = a != b
	}
	if c >= FUeq {
		return unordered || r
	}
	return !unordered && r
}

// Intrinsic identifies a compiler-known function
type Intrinsic uint8

const (
	AtomicCmpxchg Intrinsic = iota
	AtomicFence
	AtomicFenceAll
	AtomicIsLockFree
	AtomicLoad
	AtomicRMW
	AtomicStore
	Bswap
	Ctlz
	Ctpop
	Cttz
	Fabs
	Memcpy
	Memmove
	Memset
	Sqrt
	Stacksave
	Stackrestore
	Trap
)

var intrinsicNames = [...]string{"atomic.cmpxchg", "atomic.fence", "atomic.fence.all",
	"atomic.is.lock.free", "atomic.load", "atomic.rmw", "atomic.store", "bswap", "ctlz",
	"ctpop", "cttz", "fabs", "memcpy", "memmove", "memset", "sqrt", "stacksave",
	"stackrestore", "trap"}

func (id Intrinsic) String() string { return intrinsicNames[id] }

// RMWOp is the operation of an atomic.rmw intrinsic (first argument)
type RMWOp int64

const (
	RMWInvalid RMWOp = iota
	RMWAdd
	RMWSub
	RMWOr
	RMWAnd
	RMWXor
	RMWExchange
)

var rmwNames = [...]string{"invalid", "add", "sub", "or", "and", "xor", "xchg"}

func (op RMWOp) String() string {
	if op >= 0 && int(op) < len(rmwNames) {
		return rmwNames[op]
	}
	return "invalid"
}

// MemoryOrder is the ordering argument of atomic intrinsics
type MemoryOrder int64

const (
	OrderInvalid MemoryOrder = iota
	OrderRelaxed
	OrderConsume
	OrderAcquire
	OrderRelease
	OrderAcquireRelease
	OrderSeqCst
)

// Alloca reserves Size bytes of stack aligned to Align and yields its address
type Alloca struct {
	inst
	Dst   *Variable
	Size  Operand
	Align uint32
}

// Arithmetic computes Dst = Src0 op Src1
type Arithmetic struct {
	inst
	Op         ArithOp
	Dst        *Variable
	Src0, Src1 Operand
}

// Assign copies Src to Dst
type Assign struct {
	inst
	Dst *Variable
	Src Operand
}

// Br jumps to True, or, when Cond is set, to True or False
type Br struct {
	inst
	Cond        Operand
	True, False *Block
}

// IsUnconditional reports whether the branch has a single target
func (b *Br) IsUnconditional() bool { return b.Cond == nil }

// Cast converts Src to Dst's type
type Cast struct {
	inst
	Op  CastOp
	Dst *Variable
	Src Operand
}

// Icmp compares integers (or integer vectors)
type Icmp struct {
	inst
	Cond       ICond
	Dst        *Variable
	Src0, Src1 Operand
}

// Fcmp compares floats (or float vectors)
type Fcmp struct {
	inst
	Cond       FCond
	Dst        *Variable
	Src0, Src1 Operand
}

// ExtractElement reads lane Index of Vec
type ExtractElement struct {
	inst
	Dst   *Variable
	Vec   Operand
	Index Operand
}

// InsertElement replaces lane Index of Vec with Elem
type InsertElement struct {
	inst
	Dst   *Variable
	Vec   Operand
	Elem  Operand
	Index Operand
}

// Load reads a value of Dst's type from Addr
type Load struct {
	inst
	Dst  *Variable
	Addr Operand
}

// Store writes Value to Addr
type Store struct {
	inst
	Value Operand
	Addr  Operand
}

// PhiIncoming is one (value, predecessor) pair of a phi
type PhiIncoming struct {
	Value Operand
	Pred  *Block
}

// Phi selects a value by the predecessor control came from
type Phi struct {
	inst
	Dst      *Variable
	Incoming []PhiIncoming
}

// ValueFrom returns the incoming value for pred, or nil
func (p *Phi) ValueFrom(pred *Block) Operand {
	for _, in := range p.Incoming {
		if in.Pred == pred {
			return in.Value
		}
	}
	return nil
}

// Select yields True when Cond is set, else False
type Select struct {
	inst
	Dst         *Variable
	Cond        Operand
	True, False Operand
}

// Case is one switch arm
type Case struct {
	Value  int64
	Target *Block
}

// Switch is a multi-way branch on Src
type Switch struct {
	inst
	Src     Operand
	Default *Block
	Cases   []Case
}

// Call invokes Target with Args. Dst is nil for void calls.
type Call struct {
	inst
	Dst    *Variable
	Target Operand
	Args   []Operand
}

// IntrinsicCall invokes a compiler-known function
type IntrinsicCall struct {
	inst
	Dst  *Variable
	ID   Intrinsic
	Args []Operand
}

// Ret returns from the function. Value is nil for void returns.
type Ret struct {
	inst
	Value Operand
}

// Unreachable marks a point control never reaches
type Unreachable struct {
	inst
}

// FakeDef defines Dst without computing a value (liveness bookkeeping)
type FakeDef struct {
	inst
	Dst *Variable
}

// FakeUse keeps Src live up to this point
type FakeUse struct {
	inst
	Src Operand
}

func (i *Alloca) Dest() *Variable         { return i.Dst }
func (i *Arithmetic) Dest() *Variable     { return i.Dst }
func (i *Assign) Dest() *Variable         { return i.Dst }
func (i *Br) Dest() *Variable             { return nil }
func (i *Cast) Dest() *Variable           { return i.Dst }
func (i *Icmp) Dest() *Variable           { return i.Dst }
func (i *Fcmp) Dest() *Variable           { return i.Dst }
func (i *ExtractElement) Dest() *Variable { return i.Dst }
func (i *InsertElement) Dest() *Variable  { return i.Dst }
func (i *Load) Dest() *Variable           { return i.Dst }
func (i *Store) Dest() *Variable          { return nil }
func (i *Phi) Dest() *Variable            { return i.Dst }
func (i *Select) Dest() *Variable         { return i.Dst }
func (i *Switch) Dest() *Variable         { return nil }
func (i *Call) Dest() *Variable           { return i.Dst }
func (i *IntrinsicCall) Dest() *Variable  { return i.Dst }
func (i *Ret) Dest() *Variable            { return nil }
func (i *Unreachable) Dest() *Variable    { return nil }
func (i *FakeDef) Dest() *Variable        { return i.Dst }
func (i *FakeUse) Dest() *Variable        { return nil }

func (i *Alloca) Srcs() []Operand     { return []Operand{i.Size} }
func (i *Arithmetic) Srcs() []Operand { return []Operand{i.Src0, i.Src1} }
func (i *Assign) Srcs() []Operand     { return []Operand{i.Src} }

func (i *Br) Srcs() []Operand {
	if i.Cond == nil {
		return nil
	}
	return []Operand{i.Cond}
}

func (i *Cast) Srcs() []Operand           { return []Operand{i.Src} }
func (i *Icmp) Srcs() []Operand           { return []Operand{i.Src0, i.Src1} }
func (i *Fcmp) Srcs() []Operand           { return []Operand{i.Src0, i.Src1} }
func (i *ExtractElement) Srcs() []Operand { return []Operand{i.Vec, i.Index} }
func (i *InsertElement) Srcs() []Operand  { return []Operand{i.Vec, i.Elem, i.Index} }
func (i *Load) Srcs() []Operand           { return []Operand{i.Addr} }
func (i *Store) Srcs() []Operand          { return []Operand{i.Value, i.Addr} }

func (i *Phi) Srcs() []Operand {
	srcs := make([]Operand, len(i.Incoming))
	for k, in := range i.Incoming {
		srcs[k] = in.Value
	}
	return srcs
}

func (i *Select) Srcs() []Operand { return []Operand{i.Cond, i.True, i.False} }
func (i *Switch) Srcs() []Operand { return []Operand{i.Src} }

func (i *Call) Srcs() []Operand {
	return append([]Operand{i.Target}, i.Args...)
}

func (i *IntrinsicCall) Srcs() []Operand { return i.Args }

func (i *Ret) Srcs() []Operand {
	if i.Value == nil {
		return nil
	}
	return []Operand{i.Value}
}

func (i *Unreachable) Srcs() []Operand { return nil }
func (i *FakeDef) Srcs() []Operand     { return nil }
func (i *FakeUse) Srcs() []Operand     { return []Operand{i.Src} }

// IsTerminator reports whether i ends a basic block
func IsTerminator(i Inst) bool {
	switch i.(type) {
	case *Br, *Switch, *Ret, *Unreachable:
		return true
	}
	return false
}

// Successors returns the distinct successor blocks of a terminator
func Successors(i Inst) []*Block {
	var succs []*Block
	add := func(b *Block) {
		if b == nil {
			return
		}
		for _, s := range succs {
			if s == b {
				return
			}
		}
		succs = append(succs, b)
	}
	switch t := i.(type) {
	case *Br:
		add(t.True)
		if t.Cond != nil {
			add(t.False)
		}
	case *Switch:
		for _, c := range t.Cases {
			add(c.Target)
		}
		add(t.Default)
	}
	return succs
}
