package stacking

import (
	"sort"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// FindUsedCalleeSaveRegs scans lowered code and returns the callee-saved
// registers it writes, as word-sized registers sorted by number
func FindUsedCalleeSaveRegs(t *x86.Target, blocks []*x86.Block) []ir.RegNum {
	callee := t.RegisterSet(x86.RegSetCalleeSave, 0)
	used := make(map[ir.RegNum]bool)

	note := func(v *ir.Variable) {
		if v == nil || !v.HasReg() || !callee.Test(uint(v.Reg)) {
			return
		}
		if x86.IsXMM(v.Reg) {
			return
		}
		used[x86.GPRForType(v.Reg, t.WordType)] = true
	}

	for _, b := range blocks {
		for _, inst := range b.Insts {
			collectRegsFromInst(inst, note)
		}
	}

	result := make([]ir.RegNum, 0, len(used))
	for r := range used {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// collectRegsFromInst reports every variable an instruction writes
func collectRegsFromInst(inst x86.Inst, note func(*ir.Variable)) {
	note(inst.Dest())
	switch i := inst.(type) {
	case *x86.Cmpxchg8b:
		note(i.Edx)
		note(i.Eax)
	case *x86.FakeDef:
		note(i.Dst)
	case *x86.Pop:
		note(i.Dst)
	}
}

// CalleeSaveInfo describes how the prolog preserves registers
type CalleeSaveInfo struct {
	Regs []ir.RegNum // pushed in order, popped in reverse
	Size uint32
}

// ComputeCalleeSaveInfo records the preserved registers in the layout
func ComputeCalleeSaveInfo(t *x86.Target, layout *Layout, regs []ir.RegNum) *CalleeSaveInfo {
	info := &CalleeSaveInfo{
		Regs: regs,
		Size: uint32(len(regs)) * t.WordType.WidthBytes(),
	}
	layout.SetPreservedRegsSize(info.Size)
	return info
}
