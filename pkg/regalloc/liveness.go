// Package regalloc computes the inputs of register allocation over lowered
// code: variable liveness and the interference graph.
package regalloc

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// Liveness holds the variables live at block boundaries of a lowered function.
// Sets are indexed by the position of a variable in Vars.
type Liveness struct {
	Vars []*ir.Variable

	LiveIn  map[*x86.Block]*bitset.BitSet
	LiveOut map[*x86.Block]*bitset.BitSet

	index map[*ir.Variable]uint
	nodes []node
	// out is the live-out set of every node
	out []*bitset.BitSet
}

// node is a program point: the entry of a block or one instruction
type node struct {
	block *x86.Block
	inst  x86.Inst // nil for a block entry
	succs []int
	use   []uint
	def   []uint
	// kill is false for redefinitions, which extend the live range
	kill bool
}

// Index returns the set position of v and whether v occurs in the function
func (l *Liveness) Index(v *ir.Variable) (uint, bool) {
	i, ok := l.index[v]
	return i, ok
}

// Variables returns the variables of s in index order
func (l *Liveness) Variables(s *bitset.BitSet) []*ir.Variable {
	var vars []*ir.Variable
	for i, ok := s.NextSet(0); ok; i, ok = s.NextSet(i + 1) {
		vars = append(vars, l.Vars[i])
	}
	return vars
}

// IsLiveIn reports whether v is live on entry to b
func (l *Liveness) IsLiveIn(b *x86.Block, v *ir.Variable) bool {
	i, ok := l.index[v]
	return ok && l.LiveIn[b] != nil && l.LiveIn[b].Test(i)
}

// IsLiveOut reports whether v is live on exit from b
func (l *Liveness) IsLiveOut(b *x86.Block, v *ir.Variable) bool {
	i, ok := l.index[v]
	return ok && l.LiveOut[b] != nil && l.LiveOut[b].Test(i)
}

func (l *Liveness) varIndex(v *ir.Variable) uint {
	if i, ok := l.index[v]; ok {
		return i
	}
	i := uint(len(l.Vars))
	l.index[v] = i
	l.Vars = append(l.Vars, v)
	return i
}

// ComputeLiveness solves backward liveness over the instructions of f.
// Local labels, jump table dispatch and fall through are followed as edges.
func ComputeLiveness(f *x86.Function) *Liveness {
	l := &Liveness{
		LiveIn:  make(map[*x86.Block]*bitset.BitSet),
		LiveOut: make(map[*x86.Block]*bitset.BitSet),
		index:   make(map[*ir.Variable]uint),
	}

	entry := l.buildNodes(f)

	n := uint(len(l.Vars))
	in := make([]*bitset.BitSet, len(l.nodes))
	l.out = make([]*bitset.BitSet, len(l.nodes))
	for i := range l.nodes {
		in[i] = bitset.New(n)
		l.out[i] = bitset.New(n)
	}

	// Backward problem: iterate in reverse order to a fixed point
	changed := true
	for changed {
		changed = false
		for i := len(l.nodes) - 1; i >= 0; i-- {
			nd := &l.nodes[i]

			out := bitset.New(n)
			for _, s := range nd.succs {
				out.InPlaceUnion(in[s])
			}

			newIn := out.Clone()
			if nd.kill {
				for _, d := range nd.def {
					newIn.Clear(d)
				}
			}
			for _, u := range nd.use {
				newIn.Set(u)
			}

			if !out.Equal(l.out[i]) || !newIn.Equal(in[i]) {
				l.out[i] = out
				in[i] = newIn
				changed = true
			}
		}
	}

	for bi, b := range f.Blocks {
		start := entry[b]
		end := len(l.nodes) - 1
		if bi+1 < len(f.Blocks) {
			end = entry[f.Blocks[bi+1]] - 1
		}
		l.LiveIn[b] = in[start]
		l.LiveOut[b] = l.out[end]
	}

	return l
}

// buildNodes numbers the program points of f and links their successors.
// It returns the entry node of every block.
func (l *Liveness) buildNodes(f *x86.Function) map[*x86.Block]int {
	entry := make(map[*x86.Block]int, len(f.Blocks))
	labels := make(map[*x86.Label]int)

	for _, b := range f.Blocks {
		entry[b] = len(l.nodes)
		l.nodes = append(l.nodes, node{block: b})
		for _, inst := range b.Insts {
			if lbl, ok := inst.(*x86.Label); ok {
				labels[lbl] = len(l.nodes)
			}
			l.nodes = append(l.nodes, l.newNode(b, inst))
		}
	}

	var tableTargets []int
	for _, table := range f.Tables() {
		for _, t := range table {
			tableTargets = append(tableTargets, entry[t])
		}
	}

	for i := range l.nodes {
		nd := &l.nodes[i]
		next := i + 1
		hasNext := next < len(l.nodes)

		switch inst := nd.inst.(type) {
		case *x86.Br:
			if inst.Label != nil {
				nd.succs = append(nd.succs, labels[inst.Label])
			} else if inst.True != nil {
				nd.succs = append(nd.succs, entry[inst.True])
			}
			if inst.IsUnconditional() {
				break
			}
			if inst.False != nil {
				nd.succs = append(nd.succs, entry[inst.False])
			} else if hasNext {
				nd.succs = append(nd.succs, next)
			}
		case *x86.Jmp:
			nd.succs = append(nd.succs, tableTargets...)
		case *x86.Ret, *x86.UD2:
		default:
			if hasNext {
				nd.succs = append(nd.succs, next)
			}
		}
	}

	return entry
}

func (l *Liveness) newNode(b *x86.Block, inst x86.Inst) node {
	nd := node{block: b, inst: inst, kill: !inst.DestRedefined()}

	for _, op := range inst.Srcs() {
		switch op := op.(type) {
		case *ir.Variable:
			nd.use = append(nd.use, l.varIndex(op))
		case *x86.Mem:
			for _, v := range op.Vars() {
				nd.use = append(nd.use, l.varIndex(v))
			}
		}
	}
	// A store through memory reads the address registers too
	if m := x86.MemOperand(inst); m != nil {
		for _, v := range m.Vars() {
			nd.use = append(nd.use, l.varIndex(v))
		}
	}

	if kill, ok := inst.(*x86.FakeKill); ok {
		for _, v := range kill.Killed {
			nd.def = append(nd.def, l.varIndex(v))
		}
	}
	if d := inst.Dest(); d != nil {
		nd.def = append(nd.def, l.varIndex(d))
	}

	return nd
}
