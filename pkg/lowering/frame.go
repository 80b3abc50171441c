package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/stacking"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// ResolveFrameOffsets rewrites every frame-relative memory operand into a
// plain displacement from its base register. The layout must be finalized.
func ResolveFrameOffsets(layout *stacking.Layout, t *x86.Target, blocks []*x86.Block) {
	fp := t.Aliases(t.FramePtr)
	seen := map[*x86.Mem]bool{}

	resolve := func(m *x86.Mem) {
		if m == nil || m.Frame == x86.FrameNone || seen[m] {
			return
		}
		seen[m] = true
		var off int64
		if m.Base != nil && m.Base.HasReg() && fp.Test(uint(m.Base.Reg)) {
			off = layout.FramePointerOffset(m.Frame, m.OffsetValue())
		} else {
			off = layout.StackPointerOffset(m.Frame, m.OffsetValue())
		}
		m.Offset = ir.Int(ir.I32, off)
		m.Frame = x86.FrameNone
	}

	for _, b := range blocks {
		for _, inst := range b.Insts {
			for _, op := range inst.Srcs() {
				if m, ok := op.(*x86.Mem); ok {
					resolve(m)
				}
			}
			if lea, ok := inst.(*x86.Lea); ok {
				resolve(lea.Src)
			}
		}
	}
}
