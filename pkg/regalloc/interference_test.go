package regalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

func TestInterferenceSimultaneouslyLive(t *testing.T) {
	var vs vars
	a, b, c, eax := vs.v("a"), vs.v("b"), vs.v("c"), vs.reg("eax", x86.EAX)

	entry := &x86.Block{Name: "entry", Insts: []x86.Inst{
		mov(a, imm(1)),
		mov(b, imm(2)),
		add(a, b),
		mov(c, imm(3)),
		add(c, a),
		mov(eax, c),
		&x86.Ret{Src: eax},
	}}
	g := BuildInterferenceGraph(x86.NewTarget(x86.X8664, x86.SSE2), fn(entry), nil)

	assert.True(t, g.HasEdge(a, b))
	assert.True(t, g.HasEdge(b, a), "edges are symmetric")
	assert.True(t, g.HasEdge(a, c))
	assert.False(t, g.HasEdge(b, c), "b is dead before c is defined")
	assert.Equal(t, 2, g.Degree(a))
	assert.ElementsMatch(t, []*ir.Variable{b, c}, g.Neighbors(a))
	assert.False(t, g.Nodes.Test(3), "pinned registers are not nodes")
}

func TestInterferenceCopy(t *testing.T) {
	var vs vars
	a, b, eax := vs.v("a"), vs.v("b"), vs.reg("eax", x86.EAX)

	entry := &x86.Block{Name: "entry", Insts: []x86.Inst{
		mov(a, imm(1)),
		mov(b, a),
		add(b, a),
		add(b, a),
		mov(eax, b),
		&x86.Ret{Src: eax},
	}}
	g := BuildInterferenceGraph(x86.NewTarget(x86.X8664, x86.SSE2), fn(entry), nil)

	assert.True(t, g.MoveRelated(a))
	assert.True(t, g.MoveRelated(b))
	// b is redefined by the add while a is still live
	assert.True(t, g.HasEdge(a, b))

	entry.Insts = []x86.Inst{
		mov(a, imm(1)),
		mov(b, a),
		add(b, imm(2)),
		mov(eax, b),
		&x86.Ret{Src: eax},
	}
	g = BuildInterferenceGraph(x86.NewTarget(x86.X8664, x86.SSE2), fn(entry), nil)
	assert.False(t, g.HasEdge(a, b), "a copy does not make its operands interfere")
	assert.True(t, g.MoveRelated(a))
}

func TestInterferencePinnedRegisters(t *testing.T) {
	var vs vars
	a, edx, eax := vs.v("a"), vs.reg("edx", x86.EDX), vs.reg("eax", x86.EAX)

	entry := &x86.Block{Name: "entry", Insts: []x86.Inst{
		mov(a, imm(5)),
		mov(edx, imm(0)),
		mov(eax, a),
		add(eax, edx),
		&x86.Ret{Src: eax},
	}}
	tg := x86.NewTarget(x86.X8664, x86.SSE2)
	g := BuildInterferenceGraph(tg, fn(entry), []ir.RegNum{x86.RBX})

	forbidden := g.ForbiddenRegs(a)
	assert.True(t, forbidden.Test(uint(x86.EDX)))
	assert.True(t, forbidden.Test(uint(x86.RDX)), "aliases of a pinned register are forbidden")
	assert.True(t, forbidden.Test(uint(x86.DL)))
	assert.False(t, forbidden.Test(uint(x86.EAX)), "eax is defined from a")

	allowed := g.AllowedRegs(a)
	assert.False(t, allowed.Test(uint(x86.EDX)))
	assert.True(t, allowed.Test(uint(x86.EBX)))
}

func TestInterferenceAcrossCalls(t *testing.T) {
	tests := []struct {
		name   string
		target *x86.Target
		killed []ir.RegNum
		saved  ir.RegNum
	}{
		{"x86-32", x86.NewTarget(x86.X8632, x86.SSE2), []ir.RegNum{x86.EAX, x86.ECX, x86.EDX}, x86.EBX},
		{"x86-64", x86.NewTarget(x86.X8664, x86.SSE2), []ir.RegNum{x86.RAX, x86.RCX, x86.RDX, x86.RSI, x86.RDI}, x86.RBX},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vs vars
			keep, tmp, eax := vs.v("keep"), vs.v("tmp"), vs.reg("eax", x86.EAX)

			var killed []*ir.Variable
			for _, r := range tt.killed {
				killed = append(killed, vs.reg(x86.RegName(r), r))
			}

			ret := vs.reg("ret", x86.EAX)
			entry := &x86.Block{Name: "entry", Insts: []x86.Inst{
				mov(keep, imm(1)),
				mov(tmp, imm(2)),
				&x86.Call{Dst: ret, Target: &ir.ConstRelocatable{Ty: ir.I64, Symbol: "g"}},
				&x86.FakeKill{Killed: killed},
				add(keep, ret),
				mov(eax, keep),
				&x86.Ret{Src: eax},
			}}
			g := BuildInterferenceGraph(tt.target, fn(entry), []ir.RegNum{tt.saved})

			assert.True(t, g.IsLiveAcrossCall(keep))
			assert.False(t, g.IsLiveAcrossCall(tmp), "tmp is dead at the call")
			assert.False(t, g.IsLiveAcrossCall(ret))

			forbidden := g.ForbiddenRegs(keep)
			for _, r := range tt.killed {
				assert.True(t, forbidden.Test(uint(r)), "%v is clobbered by the call", x86.RegName(r))
			}
			assert.False(t, forbidden.Test(uint(tt.saved)))
			assert.True(t, g.AllowedRegs(keep).Any())
		})
	}
}

func TestInterferenceUnknownVariable(t *testing.T) {
	var vs vars
	a, other := vs.v("a"), vs.v("other")
	entry := &x86.Block{Name: "entry", Insts: []x86.Inst{mov(a, imm(1)), &x86.Ret{}}}
	g := BuildInterferenceGraph(x86.NewTarget(x86.X8632, x86.SSE2), fn(entry), nil)

	assert.False(t, g.HasEdge(a, other))
	assert.Zero(t, g.Degree(other))
	assert.Nil(t, g.Neighbors(other))
	assert.False(t, g.MoveRelated(other))
	assert.False(t, g.ForbiddenRegs(other).Any())
}

func TestInterferenceUnsavedCalleeRegs(t *testing.T) {
	tests := []struct {
		name      string
		preserved []ir.RegNum
		allowed   []ir.RegNum
		withheld  []ir.RegNum
	}{
		{"none saved", nil, nil, []ir.RegNum{x86.EBX, x86.ESI, x86.EDI}},
		{"ebx saved", []ir.RegNum{x86.EBX}, []ir.RegNum{x86.EBX}, []ir.RegNum{x86.ESI, x86.EDI}},
		{"all saved", []ir.RegNum{x86.EBX, x86.ESI, x86.EDI}, []ir.RegNum{x86.EBX, x86.ESI, x86.EDI}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vs vars
			x, eax := vs.v("x"), vs.reg("eax", x86.EAX)
			var killed []*ir.Variable
			for _, r := range []ir.RegNum{x86.EAX, x86.ECX, x86.EDX} {
				killed = append(killed, vs.reg(x86.RegName(r), r))
			}
			entry := &x86.Block{Name: "entry", Insts: []x86.Inst{
				mov(x, imm(7)),
				&x86.Call{Target: &ir.ConstRelocatable{Ty: ir.I32, Symbol: "weigh"}},
				&x86.FakeKill{Killed: killed},
				mov(eax, x),
				&x86.Ret{Src: eax},
			}}
			g := BuildInterferenceGraph(x86.NewTarget(x86.X8632, x86.SSE2), fn(entry), tt.preserved)
			assert.True(t, g.IsLiveAcrossCall(x))

			allowed := g.AllowedRegs(x)
			for _, r := range tt.allowed {
				assert.True(t, allowed.Test(uint(r)), "%v is preserved", x86.RegName(r))
			}
			for _, r := range tt.withheld {
				assert.False(t, allowed.Test(uint(r)), "%v is not saved by the prolog", x86.RegName(r))
			}
			if tt.preserved == nil {
				assert.False(t, allowed.Any(), "only unsaved callee-saved registers survive the call")
			}
		})
	}
}
