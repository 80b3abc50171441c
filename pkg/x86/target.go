// Package x86 describes the x86-32 and x86-64 targets: the register file,
// register classes and aliasing, condition codes, memory operands and the
// machine instructions produced by lowering.
package x86

import (
	"math/rand/v2"

	"github.com/bits-and-blooms/bitset"
	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/ir"
)

// Arch selects the instruction set variant
type Arch uint8

const (
	X8632 Arch = iota
	X8664
)

func (a Arch) String() string {
	switch a {
	case X8632:
		return "x8632"
	case X8664:
		return "x8664"
	default:
		return "unknown"
	}
}

// ParseArch parses an architecture name as printed by Arch.String
func ParseArch(s string) (Arch, error) {
	switch s {
	case "x8632", "x86-32", "i386":
		return X8632, nil
	case "x8664", "x86-64", "amd64":
		return X8664, nil
	}
	return 0, errors.New("unknown target %q", s)
}

// ISA is the SIMD instruction set level
type ISA uint8

const (
	SSE2 ISA = iota
	SSE41
)

func (i ISA) String() string {
	if i == SSE41 {
		return "sse4.1"
	}
	return "sse2"
}

// ParseISA parses an instruction set name
func ParseISA(s string) (ISA, error) {
	switch s {
	case "sse2":
		return SSE2, nil
	case "sse4.1", "sse41":
		return SSE41, nil
	}
	return 0, errors.New("unknown isa %q", s)
}

// Register classes beyond the per-type defaults
const (
	ClassDefault ir.RegClass = iota
	ClassI8
	ClassI16
	ClassI32
	ClassI64
	ClassXMM
	// ClassIs32To8 holds 32-bit registers whose low byte is addressable
	ClassIs32To8
	ClassIs16To8
	ClassIs64To8
	// ClassTrunc8Rcvr holds 8-bit registers that can receive a truncated value
	ClassTrunc8Rcvr
	// ClassAhRcvr holds 8-bit registers usable together with ah
	ClassAhRcvr

	numClasses
)

// RegSetMask selects register subsets for Target.RegisterSet
type RegSetMask uint8

const (
	RegSetCalleeSave RegSetMask = 1 << iota
	RegSetCallerSave
	RegSetStackPointer
	RegSetFramePointer

	RegSetAll = RegSetCalleeSave | RegSetCallerSave | RegSetStackPointer | RegSetFramePointer
)

// Target is the immutable architecture descriptor. It is safe for
// concurrent use.
type Target struct {
	Arch Arch
	ISA  ISA

	WordType       ir.Type
	StackPtr       ir.RegNum
	FramePtr       ir.RegNum
	StackAlignment uint32
	// BundleAlignLog2 is the sandbox bundle size
	BundleAlignLog2 uint32
	// SandboxBase holds the start of the sandbox on x86-64
	SandboxBase ir.RegNum

	// ArgGPRs and ArgXMMs are the registers used for passing arguments
	ArgGPRs []ir.RegNum
	ArgXMMs []ir.RegNum

	valid      *bitset.BitSet
	calleeSave *bitset.BitSet
	callerSave *bitset.BitSet
	classes    [numClasses]*bitset.BitSet
	aliases    [NumRegs]*bitset.BitSet
}

// NewTarget builds the descriptor for arch and isa
func NewTarget(arch Arch, isa ISA) *Target {
	t := &Target{
		Arch:            arch,
		ISA:             isa,
		StackAlignment:  16,
		BundleAlignLog2: 5,
		SandboxBase:     ir.NoRegister,
	}

	if arch == X8664 {
		t.WordType = ir.I64
		t.StackPtr = RSP
		t.FramePtr = RBP
		t.SandboxBase = R15
		t.ArgGPRs = []ir.RegNum{RDI, RSI, RDX, RCX, R8, R9}
		t.ArgXMMs = []ir.RegNum{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7}
	} else {
		t.WordType = ir.I32
		t.StackPtr = ESP
		t.FramePtr = EBP
		t.ArgXMMs = []ir.RegNum{XMM0, XMM1, XMM2, XMM3}
	}

	t.valid = bitset.New(uint(NumRegs))
	for r := ir.RegNum(0); r < NumRegs; r++ {
		if arch == X8664 || !regTable[r].only64 {
			t.valid.Set(uint(r))
		}
	}

	for r := ir.RegNum(0); r < NumRegs; r++ {
		set := bitset.New(uint(NumRegs))
		if t.valid.Test(uint(r)) {
			for o := ir.RegNum(0); o < NumRegs; o++ {
				if t.valid.Test(uint(o)) && regsAlias(r, o) {
					set.Set(uint(o))
				}
			}
		}
		t.aliases[r] = set
	}

	t.initSaveSets()
	t.initClasses()

	return t
}

func (t *Target) initSaveSets() {
	t.calleeSave = bitset.New(uint(NumRegs))
	t.callerSave = bitset.New(uint(NumRegs))

	var callee []int // register families preserved across calls
	if t.Is64Bit() {
		callee = []int{3, 12, 13, 14, 15} // rbx r12-r15
	} else {
		callee = []int{3, 6, 7} // ebx esi edi
	}
	isCallee := func(fam int) bool {
		for _, c := range callee {
			if c == fam {
				return true
			}
		}
		return false
	}

	for r := ir.RegNum(0); r < NumRegs; r++ {
		if !t.valid.Test(uint(r)) {
			continue
		}
		fam := regTable[r].family
		switch {
		case fam == 4 || fam == 5: // stack and frame pointers
		case isCallee(fam):
			t.calleeSave.Set(uint(r))
		default:
			t.callerSave.Set(uint(r))
		}
	}
}

func (t *Target) initClasses() {
	newSet := func() *bitset.BitSet { return bitset.New(uint(NumRegs)) }
	for i := range t.classes {
		t.classes[i] = newSet()
	}

	usable := func(r ir.RegNum) bool {
		if !t.valid.Test(uint(r)) {
			return false
		}
		fam := regTable[r].family
		return fam != 4 && fam != 5
	}

	for n := ir.RegNum(0); n < 16; n++ {
		if usable(gpr64Base + n) {
			t.classes[ClassI64].Set(uint(gpr64Base + n))
			t.classes[ClassIs64To8].Set(uint(gpr64Base + n))
		}
		if usable(gpr32Base + n) {
			t.classes[ClassI32].Set(uint(gpr32Base + n))
		}
		if usable(gpr16Base + n) {
			t.classes[ClassI16].Set(uint(gpr16Base + n))
		}
		if usable(xmmBase + n) {
			t.classes[ClassXMM].Set(uint(xmmBase + n))
		}
		if usable(gpr8Base+n) && (t.Is64Bit() || n < 4) {
			t.classes[ClassI8].Set(uint(gpr8Base + n))
			t.classes[ClassIs32To8].Set(uint(gpr32Base + n))
			t.classes[ClassIs16To8].Set(uint(gpr16Base + n))
			t.classes[ClassTrunc8Rcvr].Set(uint(gpr8Base + n))
		}
	}
	if !t.Is64Bit() {
		for n := ir.RegNum(0); n < 4; n++ {
			t.classes[ClassAhRcvr].Set(uint(gpr8Base + n))
			t.classes[ClassAhRcvr].Set(uint(high8Base + n))
		}
	} else {
		for n := ir.RegNum(0); n < 4; n++ {
			t.classes[ClassAhRcvr].Set(uint(gpr8Base + n))
		}
	}
	if !t.Is64Bit() {
		t.classes[ClassIs64To8] = newSet()
	}
}

// Is64Bit reports whether the target is x86-64
func (t *Target) Is64Bit() bool { return t.Arch == X8664 }

// HasSSE41 reports whether SSE4.1 instructions may be emitted
func (t *Target) HasSSE41() bool { return t.ISA >= SSE41 }

// IsValidReg reports whether r exists on this target
func (t *Target) IsValidReg(r ir.RegNum) bool {
	return r >= 0 && r < NumRegs && t.valid.Test(uint(r))
}

// RegName returns the assembler name of r without the % prefix
func (t *Target) RegName(r ir.RegNum) string { return RegName(r) }

// RegisterSet returns the registers selected by include minus those selected by exclude
func (t *Target) RegisterSet(include, exclude RegSetMask) *bitset.BitSet {
	pick := func(m RegSetMask) *bitset.BitSet {
		s := bitset.New(uint(NumRegs))
		if m&RegSetCalleeSave != 0 {
			s.InPlaceUnion(t.calleeSave)
		}
		if m&RegSetCallerSave != 0 {
			s.InPlaceUnion(t.callerSave)
		}
		if m&RegSetStackPointer != 0 {
			s.InPlaceUnion(t.aliases[t.StackPtr])
		}
		if m&RegSetFramePointer != 0 {
			s.InPlaceUnion(t.aliases[t.FramePtr])
		}
		return s
	}
	return pick(include).Difference(pick(exclude))
}

// ScratchRegs returns the registers clobbered by a call
func (t *Target) ScratchRegs() *bitset.BitSet { return t.callerSave.Clone() }

// Aliases returns every register overlapping r, including r itself
func (t *Target) Aliases(r ir.RegNum) *bitset.BitSet {
	if r < 0 || r >= NumRegs {
		return bitset.New(uint(NumRegs))
	}
	return t.aliases[r].Clone()
}

// ClassRegisters returns the registers a variable of class rc may use.
// For ClassDefault the class is derived from ty.
func (t *Target) ClassRegisters(rc ir.RegClass, ty ir.Type) *bitset.BitSet {
	if rc == ClassDefault {
		rc = t.ClassForType(ty)
	}
	if int(rc) >= len(t.classes) {
		return bitset.New(uint(NumRegs))
	}
	return t.classes[rc].Clone()
}

// ClassForType returns the default register class of ty
func (t *Target) ClassForType(ty ir.Type) ir.RegClass {
	switch ty {
	case ir.I1, ir.I8:
		return ClassI8
	case ir.I16:
		return ClassI16
	case ir.I32:
		return ClassI32
	case ir.I64:
		if t.Is64Bit() {
			return ClassI64
		}
		return ClassDefault
	case ir.F32, ir.F64:
		return ClassXMM
	}
	if ty.IsVector() {
		return ClassXMM
	}
	return ClassDefault
}

// TypeWidthOnStack rounds the width of ty up to the stack slot size
func (t *Target) TypeWidthOnStack(ty ir.Type) uint32 {
	word := t.WordType.WidthBytes()
	return (ty.WidthBytes() + word - 1) &^ (word - 1)
}

// ShouldSplit64On32 reports whether values of ty are split into lo/hi halves
func (t *Target) ShouldSplit64On32(ty ir.Type) bool {
	return !t.Is64Bit() && ty == ir.I64
}

// MinJumpTableSize is the smallest number of clusters worth a jump table
func (t *Target) MinJumpTableSize() int { return 4 }

// RandomRegisterPermutation returns a permutation of the register numbers
// that only swaps registers within the same class and save kind. Registers in
// exclude keep their position.
func (t *Target) RandomRegisterPermutation(exclude *bitset.BitSet, salt uint64) []ir.RegNum {
	perm := make([]ir.RegNum, NumRegs)
	for i := range perm {
		perm[i] = ir.RegNum(i)
	}

	rng := rand.New(rand.NewPCG(salt, 0x9e3779b97f4a7c15))

	// permute register families and apply the same mapping to every width
	shuffleFamilies := func(fams []int) {
		shuffled := append([]int(nil), fams...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for k, from := range fams {
			to := shuffled[k]
			for r := ir.RegNum(0); r < NumRegs; r++ {
				info := regTable[r]
				// ah..bh keep their numbers
				if info.family != from || info.high8 || !t.valid.Test(uint(r)) {
					continue
				}
				perm[r] = equivalentIn(r, to)
			}
		}
	}

	var gprCallee, gprCaller, xmms []int
	for fam := 0; fam < 32; fam++ {
		var full ir.RegNum
		if fam < 16 {
			full = gpr32Base + ir.RegNum(fam)
		} else {
			full = xmmBase + ir.RegNum(fam-16)
		}
		if !t.valid.Test(uint(full)) || fam == 4 || fam == 5 {
			continue
		}
		if exclude != nil && exclude.Test(uint(full)) {
			continue
		}
		// esi and edi have no byte registers on x86-32
		if !t.Is64Bit() && fam == 6 || !t.Is64Bit() && fam == 7 {
			continue
		}
		switch {
		case fam >= 16:
			xmms = append(xmms, fam)
		case t.calleeSave.Test(uint(full)):
			gprCallee = append(gprCallee, fam)
		default:
			gprCaller = append(gprCaller, fam)
		}
	}

	shuffleFamilies(gprCallee)
	shuffleFamilies(gprCaller)
	shuffleFamilies(xmms)

	return perm
}

// equivalentIn returns the register with the width of r in family fam
func equivalentIn(r ir.RegNum, fam int) ir.RegNum {
	if fam >= 16 {
		return xmmBase + ir.RegNum(fam-16)
	}
	switch regTable[r].width {
	case 1:
		return gpr8Base + ir.RegNum(fam)
	case 2:
		return gpr16Base + ir.RegNum(fam)
	case 4:
		return gpr32Base + ir.RegNum(fam)
	}
	return gpr64Base + ir.RegNum(fam)
}
