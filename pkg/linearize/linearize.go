// Package linearize cleans up the control flow of lowered x86 blocks: branch
// tunneling through jump-only blocks, removal of unreachable blocks and
// elimination of jumps to the block that follows.
package linearize

import "github.com/raymyers/ralph-x86/pkg/x86"

// Optimize runs tunneling, unreachable block removal and fall-through
// elimination. Tables are jump table target lists, updated in place. The
// entry block stays first.
func Optimize(blocks []*x86.Block, tables [][]*x86.Block) []*x86.Block {
	if len(blocks) == 0 {
		return blocks
	}
	Tunnel(blocks, tables)
	blocks = RemoveUnreachable(blocks, tables)
	EliminateFallthrough(blocks)
	return blocks
}

// Successors returns the blocks a block can branch to, excluding jump
// table targets and falling through to the next block
func Successors(b *x86.Block) []*x86.Block {
	var succs []*x86.Block
	add := func(s *x86.Block) {
		if s == nil {
			return
		}
		for _, x := range succs {
			if x == s {
				return
			}
		}
		succs = append(succs, s)
	}
	for _, inst := range b.Insts {
		if br, ok := inst.(*x86.Br); ok && br.Label == nil {
			add(br.True)
			add(br.False)
		}
	}
	return succs
}

// fallsThrough reports whether control can leave b at its end without an
// explicit branch
func fallsThrough(b *x86.Block) bool {
	if len(b.Insts) == 0 {
		return true
	}
	switch last := b.Insts[len(b.Insts)-1].(type) {
	case *x86.Br:
		return !last.IsUnconditional() && last.False == nil
	case *x86.Ret, *x86.Jmp, *x86.UD2:
		return false
	case *x86.BundleUnlock:
		// sandboxed indirect jumps end with the unlock
		for i := len(b.Insts) - 2; i >= 0; i-- {
			switch b.Insts[i].(type) {
			case *x86.Jmp:
				return false
			case *x86.BundleLock:
				return true
			}
		}
	}
	return true
}

// reachable computes the blocks reachable from the entry in depth-first order
func reachable(blocks []*x86.Block, tables [][]*x86.Block) map[*x86.Block]bool {
	index := make(map[*x86.Block]int, len(blocks))
	for i, b := range blocks {
		index[b] = i
	}

	visited := make(map[*x86.Block]bool, len(blocks))
	var dfs func(b *x86.Block)
	dfs = func(b *x86.Block) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range Successors(b) {
			dfs(s)
		}
		if fallsThrough(b) {
			if i := index[b] + 1; i < len(blocks) {
				dfs(blocks[i])
			}
		}
	}

	dfs(blocks[0])
	for _, table := range tables {
		for _, t := range table {
			if t != nil {
				dfs(t)
			}
		}
	}
	return visited
}
