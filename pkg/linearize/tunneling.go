// Branch tunneling optimization for lowered code.
// This pass shortcuts branches to blocks that only jump elsewhere.
// E.g., "jmp B1" where B1 is "jmp B2" becomes "jmp B2"
package linearize

import "github.com/raymyers/ralph-x86/pkg/x86"

// Tunnel redirects every branch and jump table entry targeting a jump-only
// block to the end of the jump chain.
func Tunnel(blocks []*x86.Block, tables [][]*x86.Block) {
	if len(blocks) == 0 {
		return
	}

	// Build map: block -> what it jumps to (if just a jmp)
	jumpTargets := buildJumpTargetMap(blocks)

	// Resolve chains
	resolved := resolveChains(jumpTargets)

	for _, b := range blocks {
		for _, inst := range b.Insts {
			tunnelInstruction(inst, resolved)
		}
	}
	for _, table := range tables {
		for i, t := range table {
			if target, ok := resolved[t]; ok {
				table[i] = target
			}
		}
	}
}

// buildJumpTargetMap finds blocks consisting of a single unconditional
// branch. The entry block is never skipped.
func buildJumpTargetMap(blocks []*x86.Block) map[*x86.Block]*x86.Block {
	result := make(map[*x86.Block]*x86.Block)
	for _, b := range blocks[1:] {
		if len(b.Insts) != 1 {
			continue
		}
		if br, ok := b.Insts[0].(*x86.Br); ok && br.IsUnconditional() && br.Label == nil && br.True != nil {
			result[b] = br.True
		}
	}
	return result
}

// resolveChains follows jump chains to their ultimate target.
// Handles cycles by returning the block where a cycle is detected.
func resolveChains(jumpTargets map[*x86.Block]*x86.Block) map[*x86.Block]*x86.Block {
	result := make(map[*x86.Block]*x86.Block, len(jumpTargets))
	for b := range jumpTargets {
		result[b] = resolveBlock(b, jumpTargets)
	}
	return result
}

// resolveBlock follows a jump chain to its ultimate target
func resolveBlock(b *x86.Block, jumpTargets map[*x86.Block]*x86.Block) *x86.Block {
	visited := make(map[*x86.Block]bool)
	current := b

	for {
		if visited[current] {
			// Cycle detected - return current
			return current
		}
		visited[current] = true

		target, ok := jumpTargets[current]
		if !ok {
			return current
		}
		current = target
	}
}

// tunnelInstruction applies tunneling to a single branch
func tunnelInstruction(inst x86.Inst, resolved map[*x86.Block]*x86.Block) {
	br, ok := inst.(*x86.Br)
	if !ok || br.Label != nil {
		return
	}
	if t, ok := resolved[br.True]; ok {
		br.True = t
	}
	if br.False != nil {
		if t, ok := resolved[br.False]; ok {
			br.False = t
		}
	}
}
