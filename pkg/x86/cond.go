package x86

import (
	"math"

	"github.com/raymyers/ralph-x86/pkg/ir"
)

// Cond is a condition code tested by jcc, setcc and cmov
type Cond uint8

const (
	CondO Cond = iota
	CondNO
	CondB
	CondAE
	CondE
	CondNE
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG
	// CondNone marks an unconditional branch
	CondNone
)

var condNames = [...]string{"o", "no", "b", "ae", "e", "ne", "be", "a", "s", "ns", "p", "np",
	"l", "ge", "le", "g", ""}

func (c Cond) String() string { return condNames[c] }

// Opposite returns the condition that holds exactly when c does not
func (c Cond) Opposite() Cond {
	if c == CondNone {
		return c
	}
	// conditions come in complementary pairs
	return c ^ 1
}

// Eval tests the condition against the arithmetic flags
func (c Cond) Eval(cf, zf, sf, of, pf bool) bool {
	var r bool
	switch c &^ 1 {
	case CondO:
		r = of
	case CondB:
		r = cf
	case CondE:
		r = zf
	case CondBE:
		r = cf || zf
	case CondS:
		r = sf
	case CondP:
		r = pf
	case CondL:
		r = sf != of
	case CondLE:
		r = zf || sf != of
	default:
		return true
	}
	if c&1 != 0 {
		return !r
	}
	return r
}

// IcmpCond returns the condition code for an integer compare
func IcmpCond(c ir.ICond) Cond {
	switch c {
	case ir.IEq:
		return CondE
	case ir.INe:
		return CondNE
	case ir.IUgt:
		return CondA
	case ir.IUge:
		return CondAE
	case ir.IUlt:
		return CondB
	case ir.IUle:
		return CondBE
	case ir.ISgt:
		return CondG
	case ir.ISge:
		return CondGE
	case ir.ISlt:
		return CondL
	default:
		return CondLE
	}
}

// Icmp64Cond holds the three branch conditions used to compare a split i64:
// jump to true on HiTrue, to false on HiFalse, else decide on the low halves
// with the unsigned LoTrue.
type Icmp64Cond struct {
	HiTrue, HiFalse, LoTrue Cond
}

// Icmp64Conds returns the branch conditions for comparing lo/hi halves
func Icmp64Conds(c ir.ICond) Icmp64Cond {
	switch c {
	case ir.IEq:
		return Icmp64Cond{CondNone, CondNE, CondE}
	case ir.INe:
		return Icmp64Cond{CondNE, CondNone, CondNE}
	case ir.IUgt:
		return Icmp64Cond{CondA, CondB, CondA}
	case ir.IUge:
		return Icmp64Cond{CondA, CondB, CondAE}
	case ir.IUlt:
		return Icmp64Cond{CondB, CondA, CondB}
	case ir.IUle:
		return Icmp64Cond{CondB, CondA, CondBE}
	case ir.ISgt:
		return Icmp64Cond{CondG, CondL, CondA}
	case ir.ISge:
		return Icmp64Cond{CondG, CondL, CondAE}
	case ir.ISlt:
		return Icmp64Cond{CondL, CondG, CondB}
	default:
		return Icmp64Cond{CondL, CondG, CondBE}
	}
}

// FcmpLowering describes how a scalar fcmp maps to ucomiss flags, with the
// operands swapped when SwapOperands is set. Without C1 the result is
// Default. With only C1 the result is whether C1 holds. With both, the
// result is Default when C1 or C2 holds and !Default otherwise.
type FcmpLowering struct {
	Default      bool
	SwapOperands bool
	C1, C2       Cond
}

// FcmpConds returns the ucomiss lowering of a scalar fcmp predicate
func FcmpConds(c ir.FCond) FcmpLowering {
	switch c {
	case ir.FFalse:
		return FcmpLowering{Default: false, C1: CondNone, C2: CondNone}
	case ir.FOeq:
		return FcmpLowering{Default: false, C1: CondNE, C2: CondP}
	case ir.FOgt:
		return FcmpLowering{Default: true, C1: CondA, C2: CondNone}
	case ir.FOge:
		return FcmpLowering{Default: true, C1: CondAE, C2: CondNone}
	case ir.FOlt:
		return FcmpLowering{Default: true, SwapOperands: true, C1: CondA, C2: CondNone}
	case ir.FOle:
		return FcmpLowering{Default: true, SwapOperands: true, C1: CondAE, C2: CondNone}
	case ir.FOne:
		return FcmpLowering{Default: true, C1: CondNE, C2: CondNone}
	case ir.FOrd:
		return FcmpLowering{Default: true, C1: CondNP, C2: CondNone}
	case ir.FUeq:
		return FcmpLowering{Default: true, C1: CondE, C2: CondNone}
	case ir.FUgt:
		return FcmpLowering{Default: true, SwapOperands: true, C1: CondB, C2: CondNone}
	case ir.FUge:
		return FcmpLowering{Default: true, SwapOperands: true, C1: CondBE, C2: CondNone}
	case ir.FUlt:
		return FcmpLowering{Default: true, C1: CondB, C2: CondNone}
	case ir.FUle:
		return FcmpLowering{Default: true, C1: CondBE, C2: CondNone}
	case ir.FUne:
		return FcmpLowering{Default: true, C1: CondNE, C2: CondP}
	case ir.FUno:
		return FcmpLowering{Default: true, C1: CondP, C2: CondNone}
	default:
		return FcmpLowering{Default: true, C1: CondNone, C2: CondNone}
	}
}

// CmppsCond is the predicate immediate of cmpps
type CmppsCond uint8

const (
	CmppsEq CmppsCond = iota
	CmppsLt
	CmppsLe
	CmppsUnord
	CmppsNeq
	CmppsNlt
	CmppsNle
	CmppsOrd
	CmppsInvalid
)

var cmppsNames = [...]string{"eq", "lt", "le", "unord", "neq", "nlt", "nle", "ord", "invalid"}

func (c CmppsCond) String() string { return cmppsNames[c] }

// Eval evaluates the cmpps predicate on two floats
func (c CmppsCond) Eval(a, b float64) bool {
	unordered := math.IsNaN(a) || math.IsNaN(b)
	switch c {
	case CmppsEq:
		return !unordered && a == b
	case CmppsLt:
		return !unordered && a < b
	case CmppsLe:
		return !unordered && a <= b
	case CmppsUnord:
		return unordered
	case CmppsNeq:
		return unordered || a != b
	case CmppsNlt:
		return unordered || !(a < b)
	case CmppsNle:
		return unordered || !(a <= b)
	case CmppsOrd:
		return !unordered
	}
	return false
}

// FcmpVector describes how a vector fcmp maps to cmpps. When C2 is not
// CmppsInvalid the result is cmpps(C1) combined with cmpps(C2): and-ed for
// one (ordered and not equal), or-ed for ueq.
type FcmpVector struct {
	SwapOperands bool
	C1, C2       CmppsCond
	// Const is the whole result for false/true; Constant reports that case
	Constant bool
	Const    bool
}

// FcmpVectorConds returns the cmpps lowering of a vector fcmp predicate
func FcmpVectorConds(c ir.FCond) FcmpVector {
	switch c {
	case ir.FFalse:
		return FcmpVector{Constant: true, Const: false, C1: CmppsInvalid, C2: CmppsInvalid}
	case ir.FOeq:
		return FcmpVector{C1: CmppsEq, C2: CmppsInvalid}
	case ir.FOgt:
		return FcmpVector{SwapOperands: true, C1: CmppsLt, C2: CmppsInvalid}
	case ir.FOge:
		return FcmpVector{SwapOperands: true, C1: CmppsLe, C2: CmppsInvalid}
	case ir.FOlt:
		return FcmpVector{C1: CmppsLt, C2: CmppsInvalid}
	case ir.FOle:
		return FcmpVector{C1: CmppsLe, C2: CmppsInvalid}
	case ir.FOne:
		return FcmpVector{C1: CmppsNeq, C2: CmppsOrd}
	case ir.FOrd:
		return FcmpVector{C1: CmppsOrd, C2: CmppsInvalid}
	case ir.FUeq:
		return FcmpVector{C1: CmppsEq, C2: CmppsUnord}
	case ir.FUgt:
		return FcmpVector{C1: CmppsNle, C2: CmppsInvalid}
	case ir.FUge:
		return FcmpVector{C1: CmppsNlt, C2: CmppsInvalid}
	case ir.FUlt:
		return FcmpVector{SwapOperands: true, C1: CmppsNle, C2: CmppsInvalid}
	case ir.FUle:
		return FcmpVector{SwapOperands: true, C1: CmppsNlt, C2: CmppsInvalid}
	case ir.FUne:
		return FcmpVector{C1: CmppsNeq, C2: CmppsInvalid}
	case ir.FUno:
		return FcmpVector{C1: CmppsUnord, C2: CmppsInvalid}
	default:
		return FcmpVector{Constant: true, Const: true, C1: CmppsInvalid, C2: CmppsInvalid}
	}
}
