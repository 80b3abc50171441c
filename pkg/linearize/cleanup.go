// Block cleanup for lowered code.
// This pass removes blocks no branch reaches and jumps to the next block.
package linearize

import "github.com/raymyers/ralph-x86/pkg/x86"

// RemoveUnreachable drops blocks not reachable from the entry.
// The first block (entry point) is always preserved.
func RemoveUnreachable(blocks []*x86.Block, tables [][]*x86.Block) []*x86.Block {
	if len(blocks) == 0 {
		return blocks
	}

	live := reachable(blocks, tables)

	out := make([]*x86.Block, 0, len(blocks))
	for _, b := range blocks {
		if live[b] {
			out = append(out, b)
		}
	}
	return out
}

// EliminateFallthrough removes branches to the block that follows. A
// conditional branch whose taken target follows is inverted.
func EliminateFallthrough(blocks []*x86.Block) {
	for i, b := range blocks {
		if len(b.Insts) == 0 || i+1 >= len(blocks) {
			continue
		}
		next := blocks[i+1]
		last := len(b.Insts) - 1
		br, ok := b.Insts[last].(*x86.Br)
		if !ok || br.Label != nil {
			continue
		}

		switch {
		case br.IsUnconditional():
			if br.True == next {
				b.Insts = b.Insts[:last]
			}
		case br.False == next:
			br.False = nil
		case br.True == next && br.False != nil:
			br.Cond = br.Cond.Opposite()
			br.True, br.False = br.False, nil
		}
	}
}
