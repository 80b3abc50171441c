package x86

import "github.com/raymyers/ralph-x86/pkg/ir"

// Physical registers. Every addressable sub-register has its own number;
// aliasing between them is described by Target.Aliases.
const (
	RAX ir.RegNum = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	EAX
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
	R8D
	R9D
	R10D
	R11D
	R12D
	R13D
	R14D
	R15D

	AX
	CX
	DX
	BX
	SP
	BP
	SI
	DI
	R8W
	R9W
	R10W
	R11W
	R12W
	R13W
	R14W
	R15W

	AL
	CL
	DL
	BL
	SPL
	BPL
	SIL
	DIL
	R8B
	R9B
	R10B
	R11B
	R12B
	R13B
	R14B
	R15B

	AH
	CH
	DH
	BH

	XMM0
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15

	NumRegs
)

const (
	gpr64Base = RAX
	gpr32Base = EAX
	gpr16Base = AX
	gpr8Base  = AL
	high8Base = AH
	xmmBase   = XMM0
)

var gprNames = [16]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
	"8", "9", "10", "11", "12", "13", "14", "15"}

// regInfo is the static description of one register
type regInfo struct {
	name   string
	family int // encoding of the full register; 16+n for xmm n
	width  uint32
	high8  bool
	only64 bool
}

var regTable = func() [NumRegs]regInfo {
	var t [NumRegs]regInfo
	for n := 0; n < 16; n++ {
		ext := n >= 8
		base := gprNames[n]

		t[gpr64Base+ir.RegNum(n)] = regInfo{name: "r" + base, family: n, width: 8, only64: true}

		name32 := "e" + base
		if ext {
			name32 = "r" + base + "d"
		}
		t[gpr32Base+ir.RegNum(n)] = regInfo{name: name32, family: n, width: 4, only64: ext}

		name16 := base
		if ext {
			name16 = "r" + base + "w"
		}
		t[gpr16Base+ir.RegNum(n)] = regInfo{name: name16, family: n, width: 2, only64: ext}

		var name8 string
		switch {
		case n < 4:
			name8 = base[:1] + "l"
		case n < 8:
			name8 = base + "l"
		default:
			name8 = "r" + base + "b"
		}
		t[gpr8Base+ir.RegNum(n)] = regInfo{name: name8, family: n, width: 1, only64: n >= 4}

		t[xmmBase+ir.RegNum(n)] = regInfo{name: "xmm" + itoa(n), family: 16 + n, width: 16, only64: ext}
	}
	for n := 0; n < 4; n++ {
		t[high8Base+ir.RegNum(n)] = regInfo{name: gprNames[n][:1] + "h", family: n, width: 1, high8: true}
	}
	return t
}()

func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return "1" + string(rune('0'+n-10))
}

// RegName returns the assembler name of r without the % prefix
func RegName(r ir.RegNum) string {
	if r < 0 || r >= NumRegs {
		return "?"
	}
	return regTable[r].name
}

// IsXMM reports whether r is a vector register
func IsXMM(r ir.RegNum) bool { return r >= xmmBase && r < NumRegs }

// IsGPR reports whether r is a general purpose register of any width
func IsGPR(r ir.RegNum) bool { return r >= 0 && r < xmmBase }

// RegWidth returns the width of r in bytes
func RegWidth(r ir.RegNum) uint32 { return regTable[r].width }

// GPRForType returns the register of the same family as r with the width of ty.
// It returns ir.NoRegister when no such register exists (e.g. ah for i32).
func GPRForType(r ir.RegNum, ty ir.Type) ir.RegNum {
	if r == ir.NoRegister || IsXMM(r) {
		return r
	}
	info := regTable[r]
	if info.high8 {
		if ty == ir.I8 || ty == ir.I1 {
			return r
		}
		return ir.NoRegister
	}
	family := ir.RegNum(info.family)
	switch ty {
	case ir.I1, ir.I8:
		return gpr8Base + family
	case ir.I16:
		return gpr16Base + family
	case ir.I32:
		return gpr32Base + family
	case ir.I64:
		return gpr64Base + family
	}
	return ir.NoRegister
}

// regsAlias reports whether writing a can change the value read from b
func regsAlias(a, b ir.RegNum) bool {
	ia, ib := regTable[a], regTable[b]
	if ia.family != ib.family {
		return false
	}
	// ah and al share a family but not bits
	if ia.width == 1 && ib.width == 1 && ia.high8 != ib.high8 {
		return false
	}
	return true
}
