package x86sim

import (
	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// gprSlot locates a general purpose register view in the register file
func gprSlot(r ir.RegNum) (family int, width int, high bool) {
	if r >= x86.AH && r <= x86.BH {
		return int(r - x86.AH), 1, true
	}
	return int(x86.GPRForType(r, ir.I64) - x86.RAX), int(x86.RegWidth(r)), false
}

func (m *Machine) readReg(r ir.RegNum) uint64 {
	if !x86.IsGPR(r) {
		m.fail(errors.New("register %v is not a general purpose register", x86.RegName(r)))
	}
	fam, width, high := gprSlot(r)
	v := m.gpr[fam]
	if high {
		return v >> 8 & 0xff
	}
	return v & laneMask(width)
}

func (m *Machine) writeReg(r ir.RegNum, x uint64) {
	if !x86.IsGPR(r) {
		m.fail(errors.New("register %v is not a general purpose register", x86.RegName(r)))
	}
	fam, width, high := gprSlot(r)
	switch {
	case high:
		m.gpr[fam] = m.gpr[fam]&^0xff00 | (x&0xff)<<8
	case width >= 4:
		m.gpr[fam] = x & laneMask(width)
	default:
		mask := laneMask(width)
		m.gpr[fam] = m.gpr[fam]&^mask | x&mask
	}
}

// frame holds the unpinned variables of one activation
type frame struct {
	fn    *x86.Function
	fnIdx int
	vars  map[*ir.Variable]Value
}

func (m *Machine) readVar(fr *frame, v *ir.Variable) Value {
	switch {
	case !v.HasReg():
		return fr.vars[v]
	case x86.IsXMM(v.Reg):
		return m.xmm[v.Reg-x86.XMM0].Truncate(typeWidth(v.Ty))
	}
	return Uint(m.readReg(v.Reg))
}

func (m *Machine) writeVar(fr *frame, v *ir.Variable, x Value) {
	x = x.Truncate(typeWidth(v.Ty))
	switch {
	case !v.HasReg():
		fr.vars[v] = x
	case x86.IsXMM(v.Reg):
		m.xmm[v.Reg-x86.XMM0] = x
	default:
		m.writeReg(v.Reg, x.Uint64())
	}
}

// clobber overwrites a register a call does not preserve
func (m *Machine) clobber(v *ir.Variable) {
	if !v.HasReg() {
		return
	}
	if x86.IsXMM(v.Reg) {
		m.xmm[v.Reg-x86.XMM0] = Value{Poison, Poison}
		return
	}
	m.writeReg(v.Reg, Poison)
}
