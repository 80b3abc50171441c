// Package lowering translates IR functions into x86 machine instructions.
//
// Lowering walks the blocks of a function in order and hands every IR
// instruction to its lowering routine, which emits machine instructions into
// the current block through the legalizer. Frame requirements are recorded
// in a stacking.Layout while lowering; the layout is finalized at the end
// and stack-relative operands are resolved against it.
package lowering

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/linearize"
	"github.com/raymyers/ralph-x86/pkg/stacking"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// Result is a lowered function
type Result struct {
	Func       *x86.Function
	Layout     *stacking.Layout
	CalleeSave *stacking.CalleeSaveInfo
	// Split maps every i64 variable split on x86-32 to its lo and hi halves
	Split map[*ir.Variable][2]*ir.Variable
}

// Lowering holds the state of lowering one function. It is not safe for
// concurrent use.
type Lowering struct {
	target *x86.Target
	hooks  archHooks
	opts   Options
	tr     tlog.Span

	fn     *ir.Function
	layout *stacking.Layout

	blocks   []*x86.Block
	blockMap map[*ir.Block]*x86.Block
	edges    map[edge]*x86.Block
	cur      *x86.Block
	curInst  ir.Inst

	split     map[*ir.Variable][2]*ir.Variable
	phiTemps  map[*ir.Phi]*ir.Variable
	defs      map[*ir.Variable]ir.Inst
	useCounts []int
	folding   *boolFolding
	// deleted holds instructions already lowered as part of a fused sequence
	deleted     *bitset.BitSet
	foldedLoads map[*ir.Variable]*x86.Mem

	jumpTables []*x86.JumpTable
	pool       map[string]*x86.PoolEntry
	poolOrder  []*x86.PoolEntry

	rng           *rand.Rand
	poolingPaused bool

	labels     int
	spillSize  uint32
	spillAlign uint32
	fixedSize  uint32
}

type edge struct {
	from, to *ir.Block
}

// Translate lowers fn for target t
func Translate(ctx context.Context, t *x86.Target, fn *ir.Function, opts Options) (res *Result, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "lower function", "name", fn.Name, "arch", t.Arch, "opt", opts.OptLevel)
	defer tr.Finish("err", &err)

	if len(fn.Blocks) == 0 {
		return nil, errors.New("func %v: no blocks", fn.Name)
	}

	defer recoverInternal(fn.Name, &err)

	if tr.If("dump_ir") {
		var sb strings.Builder
		ir.NewPrinter(&sb).PrintFunction(fn)
		tr.Printw("input", "ir", sb.String())
	}

	l := newLowering(t, fn, opts, tr)
	res = l.run()

	if tr.If("dump_lowered") {
		var sb strings.Builder
		x86.NewPrinter(&sb).PrintFunction(res.Func)
		tr.Printw("lowered", "asm", sb.String())
	}

	return res, nil
}

func newLowering(t *x86.Target, fn *ir.Function, opts Options, tr tlog.Span) *Lowering {
	l := &Lowering{
		target:      t,
		opts:        opts,
		tr:          tr,
		fn:          fn,
		layout:      stacking.NewLayout(t),
		blockMap:    make(map[*ir.Block]*x86.Block, len(fn.Blocks)),
		edges:       map[edge]*x86.Block{},
		split:       map[*ir.Variable][2]*ir.Variable{},
		phiTemps:    map[*ir.Phi]*ir.Variable{},
		defs:        map[*ir.Variable]ir.Inst{},
		deleted:     bitset.New(uint(fn.NumInsts())),
		foldedLoads: map[*ir.Variable]*x86.Mem{},
		pool:        map[string]*x86.PoolEntry{},
		rng:         rand.New(rand.NewPCG(opts.Seed, hashName(fn.Name))),
		spillAlign:  t.WordType.WidthBytes(),
	}
	if t.Is64Bit() {
		l.hooks = x8664Hooks{}
	} else {
		l.hooks = x8632Hooks{}
	}
	return l
}

// hashName derives a per-function stream so that results do not depend
// on the order functions are lowered in
func hashName(s string) uint64 {
	h := uint64(14695981039346656037)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func (l *Lowering) optimizing() bool { return l.opts.OptLevel == O2 }

func (l *Lowering) run() *Result {
	l.useCounts = l.fn.UseCounts()
	l.collectDefs()
	l.scanFrame()
	l.createBlocks()

	if l.optimizing() && !l.opts.NoBoolFolding {
		l.folding = analyzeBoolFolding(l.target, l.fn, l.useCounts)
	}
	if !l.optimizing() {
		l.createPhiTemps()
	}

	for _, b := range l.fn.Blocks {
		l.lowerBlock(b)
	}

	l.layout.SetSpillArea(l.spillSize, l.spillAlign)

	calleeSave := stacking.InsertPrologEpilog(l.target, l.layout, l.blocks, l.physReg)
	ResolveFrameOffsets(l.layout, l.target, l.blocks)

	blocks := l.blocks
	tables := make([][]*x86.Block, len(l.jumpTables))
	for i, jt := range l.jumpTables {
		tables[i] = jt.Targets
	}
	if l.optimizing() {
		blocks = linearize.Optimize(blocks, tables)
	}
	if l.opts.Sandbox {
		for _, b := range blocks {
			l.hooks.sandboxReturns(l, b)
		}
	}
	if l.opts.NopProbability > 0 {
		l.insertNops(blocks)
	}

	argTypes := make([]ir.Type, len(l.fn.Args))
	for i, a := range l.fn.Args {
		argTypes[i] = a.Ty
	}

	return &Result{
		Func: &x86.Function{
			Name:         l.fn.Name,
			ArgTypes:     argTypes,
			ReturnType:   l.fn.ReturnType,
			Blocks:       blocks,
			JumpTables:   l.jumpTables,
			ConstantPool: l.poolOrder,
		},
		Layout:     l.layout,
		CalleeSave: calleeSave,
		Split:      l.split,
	}
}

// collectDefs records the defining instruction of every variable with a
// single definition. Arguments and phi results have none.
func (l *Lowering) collectDefs() {
	multi := map[*ir.Variable]bool{}
	for _, a := range l.fn.Args {
		multi[a] = true
	}
	for _, b := range l.fn.Blocks {
		for _, p := range b.Phis {
			multi[p.Dst] = true
		}
		for _, inst := range b.Insts {
			d := inst.Dest()
			if d == nil {
				continue
			}
			if _, seen := l.defs[d]; seen {
				multi[d] = true
			}
			l.defs[d] = inst
		}
	}
	for v := range multi {
		delete(l.defs, v)
	}
}

func (l *Lowering) lookupDef(v *ir.Variable) ir.Inst { return l.defs[v] }

// createBlocks creates the output blocks in input order. At O2 every edge
// into a block with phis from a predecessor that does not end in an
// unconditional branch gets its own block placed after the predecessor.
func (l *Lowering) createBlocks() {
	for _, b := range l.fn.Blocks {
		xb := &x86.Block{Name: b.Name, Src: b}
		l.blockMap[b] = xb
		l.blocks = append(l.blocks, xb)

		if !l.optimizing() {
			continue
		}
		term := b.Terminator()
		if br, ok := term.(*ir.Br); ok && br.IsUnconditional() {
			continue
		}
		for _, s := range b.Succs() {
			if len(s.Phis) == 0 {
				continue
			}
			sb := &x86.Block{Name: fmt.Sprintf("%s.to.%s", b.Name, s.Name)}
			l.edges[edge{b, s}] = sb
			l.blocks = append(l.blocks, sb)
		}
	}
}

// edgeTarget returns the block a branch from `from` to `to` jumps to
func (l *Lowering) edgeTarget(from, to *ir.Block) *x86.Block {
	if s, ok := l.edges[edge{from, to}]; ok {
		return s
	}
	return l.blockMap[to]
}

func (l *Lowering) lowerBlock(b *ir.Block) {
	l.cur = l.blockMap[b]

	if b == l.fn.Entry() {
		l.lowerArguments()
	}
	if !l.optimizing() {
		l.lowerPhiTempsIn(b)
	}

	insts := b.Insts
	for i, inst := range insts {
		if l.deleted.Test(uint(inst.Number())) || l.folding.isProducer(inst) {
			continue
		}
		l.curInst = inst
		if ir.IsTerminator(inst) {
			l.lowerPhiAssignments(b)
		}
		l.lowerInst(inst, insts[i+1:])
	}
	l.curInst = nil

	if l.optimizing() {
		l.lowerSplitEdges(b)
	}
}

// lowerInst dispatches one instruction; rest are the instructions that
// follow it in the block, inspected by fusing lowerings
func (l *Lowering) lowerInst(inst ir.Inst, rest []ir.Inst) {
	switch i := inst.(type) {
	case *ir.Alloca:
		l.lowerAlloca(i)
	case *ir.Arithmetic:
		l.lowerArithmetic(i)
	case *ir.Assign:
		l.lowerAssign(i)
	case *ir.Br:
		l.lowerBr(i)
	case *ir.Cast:
		l.lowerCast(i)
	case *ir.Icmp:
		l.lowerIcmp(i)
	case *ir.Fcmp:
		l.lowerFcmp(i, rest)
	case *ir.ExtractElement:
		l.lowerExtractElement(i)
	case *ir.InsertElement:
		l.lowerInsertElement(i)
	case *ir.Load:
		l.lowerLoad(i, rest)
	case *ir.Store:
		l.lowerStore(i)
	case *ir.Select:
		l.lowerSelect(i)
	case *ir.Switch:
		l.lowerSwitch(i)
	case *ir.Call:
		l.lowerCall(i.Dst, i.Target, i.Args)
	case *ir.IntrinsicCall:
		l.lowerIntrinsicCall(i, rest)
	case *ir.Ret:
		l.lowerRet(i)
	case *ir.Unreachable:
		l.insert(&x86.UD2{})
	case *ir.FakeDef:
		l.lowerFakeDef(i.Dst)
	case *ir.FakeUse:
		if v, ok := i.Src.(*ir.Variable); ok {
			l.lowerFakeUse(v)
		}
	default:
		l.fatalf("unsupported instruction %T", inst)
	}
}

func (l *Lowering) lowerAssign(i *ir.Assign) {
	dst := i.Dst
	if l.shouldSplit(dst.Ty) {
		l.mov(l.loVar(dst), l.legalize(l.loOperand(i.Src), legalReg|legalImm|legalMem, ir.NoRegister))
		l.mov(l.hiVar(dst), l.legalize(l.hiOperand(i.Src), legalReg|legalImm|legalMem, ir.NoRegister))
		return
	}
	l.mov(dst, l.legalize(i.Src, legalReg|legalImm|legalMem, ir.NoRegister))
}

func (l *Lowering) lowerFakeDef(dst *ir.Variable) {
	if l.shouldSplit(dst.Ty) {
		l.insert(&x86.FakeDef{Dst: l.loVar(dst)})
		l.insert(&x86.FakeDef{Dst: l.hiVar(dst)})
		return
	}
	l.insert(&x86.FakeDef{Dst: dst})
}

func (l *Lowering) lowerFakeUse(v *ir.Variable) {
	if l.shouldSplit(v.Ty) {
		l.insert(&x86.FakeUse{Src: l.loVar(v)})
		l.insert(&x86.FakeUse{Src: l.hiVar(v)})
		return
	}
	l.insert(&x86.FakeUse{Src: v})
}

func (l *Lowering) lowerRet(i *ir.Ret) {
	l.hooks.lowerRet(l, i.Value)
}

// newLabel creates a local branch target in the current block
func (l *Lowering) newLabel() *x86.Label {
	l.labels++
	return &x86.Label{Name: fmt.Sprintf(".L%s$local$%d", l.fn.Name, l.labels)}
}
