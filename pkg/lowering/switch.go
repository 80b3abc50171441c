package lowering

import (
	"fmt"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/switchcase"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// clusters in a search tree node at most this large are tested in sequence
const maxLinearClusters = 3

func (l *Lowering) lowerSwitch(i *ir.Switch) {
	from := l.cur.Src
	def := l.edgeTarget(from, i.Default)
	ty := i.Src.Type()

	if len(i.Cases) == 0 {
		l.jmp(def)
		return
	}
	if l.shouldSplit(ty) {
		l.lowerSwitch64(i, def)
		return
	}

	cases := make([]switchcase.Case, len(i.Cases))
	for k, c := range i.Cases {
		cases[k] = switchcase.Case{Value: ir.Truncate(ty, uint64(c.Value)), Target: c.Target}
	}
	opts := l.opts.switchOptions()
	if !l.optimizing() {
		opts.MinJumpTableSize = 0
	}
	clusters := switchcase.Clusterize(cases, i.Default, opts)
	l.tr.V("switch").Printw("switch clusters", "cases", len(i.Cases), "clusters", len(clusters))

	// narrow sources compare as zero-extended 32-bit values
	src := l.legalize(i.Src, legalReg|legalMem, ir.NoRegister)
	if ty.WidthBytes() < 4 {
		w := l.makeReg(ir.I32, ir.NoRegister)
		l.movOp(x86.Movzx, w, src)
		src, ty = w, ir.I32
	}

	sw := &switchLowering{l: l, from: from, src: src, ty: ty, def: def}
	sw.tree(clusters)
}

type switchLowering struct {
	l    *Lowering
	from *ir.Block
	src  ir.Operand
	ty   ir.Type
	def  *x86.Block
}

func (s *switchLowering) imm(v uint64) ir.Operand {
	return s.l.legalize(ir.Int(s.ty, int64(v)), legalReg|legalImm, ir.NoRegister)
}

// tree emits a binary search over sorted clusters ending in a jump to the
// default block on every path that matches nothing
func (s *switchLowering) tree(clusters []switchcase.Cluster) {
	l := s.l
	if len(clusters) <= maxLinearClusters {
		for k := range clusters {
			s.cluster(&clusters[k])
		}
		l.jmp(s.def)
		return
	}

	mid := len(clusters) / 2
	right := l.newLabel()
	l.cmp(s.src, s.imm(clusters[mid].Low))
	l.brLabel(x86.CondAE, right)
	s.tree(clusters[:mid])
	l.placeLabel(right)
	s.tree(clusters[mid:])
}

func (s *switchLowering) cluster(c *switchcase.Cluster) {
	l := s.l
	switch {
	case c.Kind == switchcase.JumpTable:
		s.jumpTable(c)
	case c.IsSingleValue():
		l.cmp(s.src, s.imm(c.Low))
		l.br(x86.CondE, l.edgeTarget(s.from, c.Target), nil)
	default:
		// low <= v <= high as one unsigned compare of v - low
		t := l.makeReg(s.ty, ir.NoRegister)
		l.mov(t, s.src)
		if c.Low != 0 {
			l.binop(x86.OpSub, t, s.imm(c.Low))
		}
		l.cmp(t, s.imm(c.High-c.Low))
		l.br(x86.CondBE, l.edgeTarget(s.from, c.Target), nil)
	}
}

// jumpTable dispatches through a table of block addresses. Values outside
// the table go on to the next cluster.
//
//	t = src - low
//	cmp t, high - low
//	ja next
//	jmp *table(, t, word)
//	next:
func (s *switchLowering) jumpTable(c *switchcase.Cluster) {
	l := s.l
	word := l.target.WordType

	t := l.makeReg(s.ty, ir.NoRegister)
	l.mov(t, s.src)
	if c.Low != 0 {
		l.binop(x86.OpSub, t, s.imm(c.Low))
	}
	l.cmp(t, s.imm(c.High-c.Low))
	next := l.newLabel()
	l.brLabel(x86.CondA, next)

	idx := t
	if s.ty != word {
		idx = l.makeReg(word, ir.NoRegister)
		l.movOp(x86.Movzx, idx, t)
	}

	jt := &x86.JumpTable{Name: fmt.Sprintf(".L%s$jumptable$%d", l.fn.Name, len(l.jumpTables))}
	for _, b := range c.Table {
		jt.Targets = append(jt.Targets, l.edgeTarget(s.from, b))
	}
	l.jumpTables = append(l.jumpTables, jt)

	shift := uint8(2)
	if word == ir.I64 {
		shift = 3
	}
	target := l.makeReg(word, ir.NoRegister)
	l.mov(target, &x86.Mem{
		Ty:     word,
		Offset: &ir.ConstRelocatable{Ty: word, Symbol: jt.Name},
		Index:  idx,
		Shift:  shift,
	})
	l.indirectJump(target)
	l.placeLabel(next)
}

// lowerSwitch64 compares both halves of a split i64 against every case in
// order. Split switches are not clustered, so dense cases get no range
// checks or jump tables.
func (l *Lowering) lowerSwitch64(i *ir.Switch, def *x86.Block) {
	from := l.cur.Src
	lo := l.legalize(l.loOperand(i.Src), legalReg|legalMem, ir.NoRegister)
	hi := l.legalize(l.hiOperand(i.Src), legalReg|legalMem, ir.NoRegister)
	for _, c := range i.Cases {
		v := uint64(c.Value)
		next := l.newLabel()
		l.cmp(lo, ir.Int(ir.I32, int64(uint32(v))))
		l.brLabel(x86.CondNE, next)
		l.cmp(hi, ir.Int(ir.I32, int64(uint32(v>>32))))
		l.br(x86.CondE, l.edgeTarget(from, c.Target), nil)
		l.placeLabel(next)
	}
	l.jmp(def)
}
