package lowering

import (
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// copyMove is one element of a parallel copy
type copyMove struct {
	dst *ir.Variable
	src ir.Operand
}

// createPhiTemps gives every phi a temporary. Predecessors write the
// temporary before their terminator and the phi block reads it on entry.
func (l *Lowering) createPhiTemps() {
	for _, b := range l.fn.Blocks {
		for _, p := range b.Phis {
			name := ""
			if p.Dst.Name != "" {
				name = p.Dst.Name + "__phi"
			}
			l.phiTemps[p] = l.fn.NewVariable(name, p.Dst.Ty)
		}
	}
}

// lowerPhiTempsIn copies the phi temporaries of b into the phi results
func (l *Lowering) lowerPhiTempsIn(b *ir.Block) {
	for _, p := range b.Phis {
		l.copyValue(p.Dst, l.phiTemps[p])
	}
}

// lowerPhiAssignments emits the phi copies of b's successors that can be
// placed right before b's terminator
func (l *Lowering) lowerPhiAssignments(b *ir.Block) {
	if !l.optimizing() {
		for _, s := range b.Succs() {
			for _, p := range s.Phis {
				l.withPoolingPaused(func() { l.copyValue(l.phiTemps[p], l.incoming(p, b)) })
			}
		}
		return
	}

	br, ok := b.Terminator().(*ir.Br)
	if !ok || !br.IsUnconditional() || len(br.True.Phis) == 0 {
		return
	}
	l.lowerParallelCopy(l.phiMoves(br.True, b))
}

// lowerSplitEdges fills the blocks created for the edges leaving b
func (l *Lowering) lowerSplitEdges(b *ir.Block) {
	for _, s := range b.Succs() {
		eb, ok := l.edges[edge{b, s}]
		if !ok {
			continue
		}
		l.cur = eb
		l.lowerParallelCopy(l.phiMoves(s, b))
		l.jmp(l.blockMap[s])
	}
}

func (l *Lowering) incoming(p *ir.Phi, pred *ir.Block) ir.Operand {
	v := p.ValueFrom(pred)
	if v == nil {
		l.fatalf("phi %v has no value for predecessor %v", p.Dst, pred.Name)
	}
	return v
}

// phiMoves collects the copies for the edge pred -> s. Split i64 values
// contribute one move per half.
func (l *Lowering) phiMoves(s, pred *ir.Block) []copyMove {
	var moves []copyMove
	for _, p := range s.Phis {
		src := l.incoming(p, pred)
		if l.shouldSplit(p.Dst.Ty) {
			moves = append(moves,
				copyMove{dst: l.loVar(p.Dst), src: l.loOperand(src)},
				copyMove{dst: l.hiVar(p.Dst), src: l.hiOperand(src)})
			continue
		}
		moves = append(moves, copyMove{dst: p.Dst, src: src})
	}
	return moves
}

// lowerParallelCopy sequentializes moves that conceptually happen at once.
// A move is emitted once no pending move reads its destination; a cycle is
// broken by saving one destination in a temporary.
func (l *Lowering) lowerParallelCopy(moves []copyMove) {
	pending := moves[:0:0]
	for _, m := range moves {
		if m.src != ir.Operand(m.dst) {
			pending = append(pending, m)
		}
	}

	readsDst := func(k int) bool {
		for j, o := range pending {
			if j != k && o.src == ir.Operand(pending[k].dst) {
				return true
			}
		}
		return false
	}

	l.withPoolingPaused(func() {
		for len(pending) > 0 {
			progress := false
			for k := range pending {
				if readsDst(k) {
					continue
				}
				l.copyValue(pending[k].dst, pending[k].src)
				pending = append(pending[:k], pending[k+1:]...)
				progress = true
				break
			}
			if progress {
				continue
			}

			saved := pending[0].dst
			t := l.copyToReg(saved, ir.NoRegister)
			for k := range pending {
				if pending[k].src == ir.Operand(saved) {
					pending[k].src = t
				}
			}
		}
	})
}

// copyValue emits dst = src for one value of any type
func (l *Lowering) copyValue(dst *ir.Variable, src ir.Operand) {
	if l.shouldSplit(dst.Ty) {
		lo := l.legalize(l.loOperand(src), legalReg|legalImm, ir.NoRegister)
		hi := l.legalize(l.hiOperand(src), legalReg|legalImm, ir.NoRegister)
		l.mov(l.loVar(dst), lo)
		l.mov(l.hiVar(dst), hi)
		return
	}
	allowed := legalReg | legalImm
	if !dst.Ty.IsInteger() {
		allowed |= legalMem
	}
	l.insertMov(dst, l.legalize(src, allowed, ir.NoRegister))
}

// insertMov copies between values of the same type, choosing the move form
func (l *Lowering) insertMov(dst *ir.Variable, src ir.Operand) {
	if dst.Ty.IsVector() {
		if _, isMem := src.(*x86.Mem); !isMem {
			l.movOp(x86.MovP, dst, src)
			return
		}
	}
	l.mov(dst, src)
}
