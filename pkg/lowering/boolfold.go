package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// boolFolding records the boolean producers lowered by their consumer
// instead of being materialized. A nil *boolFolding folds nothing.
type boolFolding struct {
	// consumer of every folded producer
	consumers map[ir.Inst]ir.Inst
	// folded producer of every consumer
	producers map[ir.Inst]ir.Inst
}

// analyzeBoolFolding finds producers whose only use is the next
// instruction of the same block, when that instruction is a branch, a
// select on the value or an extension of it
func analyzeBoolFolding(t *x86.Target, fn *ir.Function, useCounts []int) *boolFolding {
	f := &boolFolding{
		consumers: map[ir.Inst]ir.Inst{},
		producers: map[ir.Inst]ir.Inst{},
	}
	for _, b := range fn.Blocks {
		for k := 0; k+1 < len(b.Insts); k++ {
			p, c := b.Insts[k], b.Insts[k+1]
			kind := producerKind(t, p)
			if kind == notProducer {
				continue
			}
			d := p.Dest()
			if d.ID >= len(useCounts) || useCounts[d.ID] != 1 {
				continue
			}
			if !consumes(c, d, kind) {
				continue
			}
			if fc, ok := p.(*ir.Fcmp); ok && minMaxSelect(fc, c) != nil {
				// lowered as minss/maxss by the compare
				continue
			}
			f.consumers[p] = c
			f.producers[c] = p
		}
	}
	return f
}

type boolProducerKind uint8

const (
	notProducer boolProducerKind = iota
	// singleCond producers leave the result in one condition code
	singleCond
	// multiCond producers need several branches to test the result
	multiCond
)

func producerKind(t *x86.Target, inst ir.Inst) boolProducerKind {
	switch i := inst.(type) {
	case *ir.Icmp:
		ty := i.Src0.Type()
		if ty.IsVector() {
			return notProducer
		}
		if t.ShouldSplit64On32(ty) {
			return multiCond
		}
		return singleCond
	case *ir.Fcmp:
		if i.Src0.Type().IsVector() {
			return notProducer
		}
		fl := x86.FcmpConds(i.Cond)
		if fl.C1 != x86.CondNone && fl.C2 == x86.CondNone {
			return singleCond
		}
		return multiCond
	case *ir.Arithmetic:
		if i.Dst.Ty == ir.I1 && (i.Op == ir.And || i.Op == ir.Or) {
			return singleCond
		}
	case *ir.Cast:
		if i.Op == ir.Trunc && i.Dst.Ty == ir.I1 && !t.ShouldSplit64On32(i.Src.Type()) {
			return singleCond
		}
	}
	return notProducer
}

// consumes reports whether c can take the flags of a producer of v
func consumes(c ir.Inst, v *ir.Variable, kind boolProducerKind) bool {
	switch i := c.(type) {
	case *ir.Br:
		return i.Cond == ir.Operand(v)
	case *ir.Select:
		if kind != singleCond || i.Dst.Ty.IsVector() {
			return false
		}
		return i.Cond == ir.Operand(v) && i.True != ir.Operand(v) && i.False != ir.Operand(v)
	case *ir.Cast:
		return kind == singleCond && (i.Op == ir.Sext || i.Op == ir.Zext) && i.Src == ir.Operand(v) &&
			!i.Dst.Ty.IsVector()
	}
	return false
}

func (f *boolFolding) isProducer(inst ir.Inst) bool {
	if f == nil {
		return false
	}
	_, ok := f.consumers[inst]
	return ok
}

// producerFor returns the folded producer of the value cond used by consumer
func (f *boolFolding) producerFor(consumer ir.Inst, cond ir.Operand) ir.Inst {
	if f == nil {
		return nil
	}
	p, ok := f.producers[consumer]
	if !ok || ir.Operand(p.Dest()) != cond {
		return nil
	}
	return p
}
