package stacking

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// PhysReg returns a variable pinned to a physical register
type PhysReg func(r ir.RegNum, ty ir.Type) *ir.Variable

// GeneratePrologue returns the function prologue:
//  1. push the frame pointer and point it at the frame (if used)
//  2. push the callee-saved registers
//  3. reserve the local area
func GeneratePrologue(t *x86.Target, layout *Layout, calleeSave *CalleeSaveInfo, phys PhysReg) []x86.Inst {
	var prologue []x86.Inst
	word := t.WordType

	if layout.HasFramePointer() {
		fp := phys(t.FramePtr, word)
		prologue = append(prologue,
			&x86.Push{Src: fp},
			&x86.Mov{Dst: fp, Src: phys(t.StackPtr, word)},
		)
	}

	for _, r := range calleeSave.Regs {
		prologue = append(prologue, &x86.Push{Src: phys(r, word)})
	}

	if size := layout.LocalAreaSize(); size > 0 {
		prologue = append(prologue, &x86.Binop{
			Op:  x86.OpSub,
			Dst: phys(t.StackPtr, word),
			Src: ir.Int(word, int64(size)),
		})
	}

	return prologue
}

// GenerateEpilogue returns the code undoing the prologue before a return
func GenerateEpilogue(t *x86.Target, layout *Layout, calleeSave *CalleeSaveInfo, phys PhysReg) []x86.Inst {
	var epilogue []x86.Inst
	word := t.WordType
	sp := phys(t.StackPtr, word)

	switch {
	case layout.HasFramePointer():
		// the stack pointer may have moved with dynamic allocas
		fp := phys(t.FramePtr, word)
		epilogue = append(epilogue, &x86.Lea{
			Dst: sp,
			Src: x86.NewMem(word, fp, ir.Int(ir.I32, -int64(calleeSave.Size)), nil, 0),
		})
	case layout.LocalAreaSize() > 0:
		epilogue = append(epilogue, &x86.Binop{
			Op:  x86.OpAdd,
			Dst: sp,
			Src: ir.Int(word, int64(layout.LocalAreaSize())),
		})
	}

	for i := len(calleeSave.Regs) - 1; i >= 0; i-- {
		epilogue = append(epilogue, &x86.Pop{Dst: phys(calleeSave.Regs[i], word)})
	}

	if layout.HasFramePointer() {
		epilogue = append(epilogue, &x86.Pop{Dst: phys(t.FramePtr, word)})
	}

	return epilogue
}

// IsLeafFunction returns true if the lowered code makes no calls
func IsLeafFunction(blocks []*x86.Block) bool {
	for _, b := range blocks {
		for _, inst := range b.Insts {
			if _, ok := inst.(*x86.Call); ok {
				return false
			}
		}
	}
	return true
}

// InsertPrologEpilog finalizes the layout and wraps blocks with the
// prologue and an epilogue before every return. Returns the callee-save
// information used.
func InsertPrologEpilog(t *x86.Target, layout *Layout, blocks []*x86.Block, phys PhysReg) *CalleeSaveInfo {
	info := ComputeCalleeSaveInfo(t, layout, FindUsedCalleeSaveRegs(t, blocks))
	layout.Finalize()
	if len(blocks) == 0 {
		return info
	}

	entry := blocks[0]
	entry.Insts = append(GeneratePrologue(t, layout, info, phys), entry.Insts...)

	for _, b := range blocks {
		var out []x86.Inst
		for _, inst := range b.Insts {
			if _, ok := inst.(*x86.Ret); ok {
				out = append(out, GenerateEpilogue(t, layout, info, phys)...)
			}
			out = append(out, inst)
		}
		b.Insts = out
	}
	return info
}
