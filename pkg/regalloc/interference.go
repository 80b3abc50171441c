package regalloc

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// InterferenceGraph records which variables of a lowered function can not
// share a register. Two variables interfere if one is defined while the
// other is live. Variables pinned to a physical register are not nodes;
// interfering with one forbids its register and every alias of it.
type InterferenceGraph struct {
	Liveness *Liveness

	target *x86.Target
	// Nodes are the unpinned variables
	Nodes *bitset.BitSet
	// Edges maps each variable to its interfering neighbors
	Edges map[uint]*bitset.BitSet
	// Preferences maps each variable to the variables it is copied from or to
	Preferences map[uint]*bitset.BitSet
	// Conflicts maps each variable to the physical registers it may not use
	Conflicts map[uint]*bitset.BitSet
	// LiveAcrossCalls holds the variables live after a call; they need a
	// preserved register or a stack slot
	LiveAcrossCalls *bitset.BitSet
	// Unsaved holds the callee-saved registers the prolog does not preserve
	Unsaved *bitset.BitSet
}

// NewInterferenceGraph creates an empty graph over the variables of live
func NewInterferenceGraph(t *x86.Target, live *Liveness) *InterferenceGraph {
	return &InterferenceGraph{
		Liveness:        live,
		target:          t,
		Nodes:           bitset.New(uint(len(live.Vars))),
		Edges:           make(map[uint]*bitset.BitSet),
		Preferences:     make(map[uint]*bitset.BitSet),
		Conflicts:       make(map[uint]*bitset.BitSet),
		LiveAcrossCalls: bitset.New(uint(len(live.Vars))),
		Unsaved:         bitset.New(uint(x86.NumRegs)),
	}
}

// SetPreserved records the registers the prolog saves. Every other
// callee-saved register, with its aliases, is withheld from allocation.
func (g *InterferenceGraph) SetPreserved(saved []ir.RegNum) {
	callee := g.target.RegisterSet(x86.RegSetCalleeSave, x86.RegSetStackPointer|x86.RegSetFramePointer)
	unsaved := bitset.New(uint(x86.NumRegs))
	for r, ok := callee.NextSet(0); ok; r, ok = callee.NextSet(r + 1) {
		unsaved.InPlaceUnion(g.target.Aliases(ir.RegNum(r)))
	}
	for _, r := range saved {
		unsaved.InPlaceDifference(g.target.Aliases(r))
	}
	g.Unsaved = unsaved
}

func (g *InterferenceGraph) pinned(i uint) bool { return g.Liveness.Vars[i].HasReg() }

// AddNode adds a variable to the graph. Pinned variables are ignored.
func (g *InterferenceGraph) AddNode(i uint) {
	if g.pinned(i) {
		return
	}
	g.Nodes.Set(i)
	if g.Edges[i] == nil {
		g.Edges[i] = bitset.New(uint(len(g.Liveness.Vars)))
	}
	if g.Preferences[i] == nil {
		g.Preferences[i] = bitset.New(uint(len(g.Liveness.Vars)))
	}
	if g.Conflicts[i] == nil {
		g.Conflicts[i] = bitset.New(uint(x86.NumRegs))
	}
}

// AddEdge adds an interference edge between two variables
func (g *InterferenceGraph) AddEdge(a, b uint) {
	if a == b {
		return
	}
	pa, pb := g.pinned(a), g.pinned(b)
	switch {
	case pa && pb:
	case pa:
		g.AddNode(b)
		g.Conflicts[b].InPlaceUnion(g.target.Aliases(g.Liveness.Vars[a].Reg))
	case pb:
		g.AddNode(a)
		g.Conflicts[a].InPlaceUnion(g.target.Aliases(g.Liveness.Vars[b].Reg))
	default:
		g.AddNode(a)
		g.AddNode(b)
		g.Edges[a].Set(b)
		g.Edges[b].Set(a)
	}
}

// AddPreference records a copy between two variables
func (g *InterferenceGraph) AddPreference(a, b uint) {
	if a == b || g.pinned(a) || g.pinned(b) {
		return
	}
	g.AddNode(a)
	g.AddNode(b)
	g.Preferences[a].Set(b)
	g.Preferences[b].Set(a)
}

// HasEdge reports whether a and b interfere
func (g *InterferenceGraph) HasEdge(a, b *ir.Variable) bool {
	ia, ok := g.Liveness.Index(a)
	if !ok {
		return false
	}
	ib, ok := g.Liveness.Index(b)
	if !ok {
		return false
	}
	if edges, ok := g.Edges[ia]; ok {
		return edges.Test(ib)
	}
	return false
}

// Degree returns the number of variables interfering with v
func (g *InterferenceGraph) Degree(v *ir.Variable) int {
	i, ok := g.Liveness.Index(v)
	if !ok || g.Edges[i] == nil {
		return 0
	}
	return int(g.Edges[i].Count())
}

// Neighbors returns the variables interfering with v
func (g *InterferenceGraph) Neighbors(v *ir.Variable) []*ir.Variable {
	i, ok := g.Liveness.Index(v)
	if !ok || g.Edges[i] == nil {
		return nil
	}
	return g.Liveness.Variables(g.Edges[i])
}

// MoveRelated reports whether v is copied from or to another variable
func (g *InterferenceGraph) MoveRelated(v *ir.Variable) bool {
	i, ok := g.Liveness.Index(v)
	return ok && g.Preferences[i] != nil && g.Preferences[i].Any()
}

// IsLiveAcrossCall reports whether v is live after some call
func (g *InterferenceGraph) IsLiveAcrossCall(v *ir.Variable) bool {
	i, ok := g.Liveness.Index(v)
	return ok && g.LiveAcrossCalls.Test(i)
}

// ForbiddenRegs returns the physical registers v may not be assigned
func (g *InterferenceGraph) ForbiddenRegs(v *ir.Variable) *bitset.BitSet {
	i, ok := g.Liveness.Index(v)
	if !ok || g.Conflicts[i] == nil {
		return bitset.New(uint(x86.NumRegs))
	}
	return g.Conflicts[i].Clone()
}

// AllowedRegs returns the registers of v's class it may still be assigned.
// Callee-saved registers the prolog does not preserve are excluded.
func (g *InterferenceGraph) AllowedRegs(v *ir.Variable) *bitset.BitSet {
	allowed := g.target.ClassRegisters(v.Class, v.Ty).Difference(g.ForbiddenRegs(v))
	return allowed.Difference(g.Unsaved)
}

// BuildInterferenceGraph constructs the interference graph of f. preserved
// lists the callee-saved registers the prolog of f saves.
func BuildInterferenceGraph(t *x86.Target, f *x86.Function, preserved []ir.RegNum) *InterferenceGraph {
	live := ComputeLiveness(f)
	g := NewInterferenceGraph(t, live)
	g.SetPreserved(preserved)

	for i := range live.Vars {
		g.AddNode(uint(i))
	}

	// A defined variable interferes with everything live after the
	// definition, except the source of a copy into it
	for i := range live.nodes {
		nd := &live.nodes[i]
		if nd.inst == nil {
			continue
		}
		liveOut := live.out[i]

		src, isCopy := copySource(nd.inst)
		var srcIdx uint
		if isCopy {
			srcIdx, _ = live.Index(src)
			g.AddPreference(live.index[nd.inst.Dest()], srcIdx)
		}

		for _, d := range nd.def {
			for l, ok := liveOut.NextSet(0); ok; l, ok = liveOut.NextSet(l + 1) {
				if isCopy && l == srcIdx {
					continue
				}
				g.AddEdge(d, l)
			}
		}

		if call, ok := nd.inst.(*x86.Call); ok {
			across := liveOut.Clone()
			if call.Dst != nil {
				across.Clear(live.index[call.Dst])
			}
			g.LiveAcrossCalls.InPlaceUnion(across)
		}
	}

	return g
}

// copySource returns the variable a plain register copy reads
func copySource(inst x86.Inst) (*ir.Variable, bool) {
	mov, ok := inst.(*x86.Mov)
	if !ok || mov.Op != x86.MovPlain || mov.DestRedefined() {
		return nil, false
	}
	src, ok := mov.Src.(*ir.Variable)
	if !ok || src.Ty != mov.Dst.Ty {
		return nil, false
	}
	return src, true
}
