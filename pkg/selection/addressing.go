// Package selection implements addressing mode selection for memory
// operations. It folds the address computations feeding a load or store into
// the x86 base + index<<shift + displacement form, so that the arithmetic
// does not need to be materialized in a register.
package selection

import (
	"math"

	"github.com/raymyers/ralph-x86/pkg/ir"
)

// DefLookup returns the single instruction defining v that may be folded
// into an address, or nil when v has no such definition (multiple
// definitions, defined in another block, or defined after the use).
type DefLookup func(v *ir.Variable) ir.Inst

// AddressResult holds the selected address: Base + Index<<Shift + Offset
// (+ Symbol when the address is relative to a relocatable).
type AddressResult struct {
	Base   *ir.Variable
	Index  *ir.Variable
	Shift  uint8
	Offset int64
	Symbol *ir.ConstRelocatable
}

// SelectAddressing analyzes an address and selects the best addressing mode
// for x86. Pointer types must be wordType. The boolean result reports
// whether any definition was folded.
func SelectAddressing(addr ir.Operand, wordType ir.Type, defs DefLookup) (AddressResult, bool) {
	var result AddressResult
	switch a := addr.(type) {
	case *ir.Variable:
		result.Base = a
	case *ir.ConstInt:
		result.Offset = a.Value
		return result, false
	case *ir.ConstRelocatable:
		result.Symbol = a
		return result, false
	default:
		return result, false
	}

	s := selector{word: wordType, defs: defs}
	changed := false
	// Try patterns in order of specificity until none applies
	for {
		switch {
		case s.tryCopy(&result.Base):
		case s.tryCopy(&result.Index):
		case s.tryBaseOffset(&result):
		case s.tryBaseSymbol(&result):
		case s.tryBaseIndex(&result):
		case s.tryBaseShift(&result):
		case s.tryIndexShift(&result):
		case s.tryIndexOffset(&result):
		default:
			return result, changed
		}
		changed = true
	}
}

type selector struct {
	word ir.Type
	defs DefLookup
}

func (s *selector) def(v *ir.Variable) ir.Inst {
	if v == nil || v.Ty != s.word || s.defs == nil {
		return nil
	}
	return s.defs(v)
}

// tryCopy follows v = w assignments of word-typed variables
func (s *selector) tryCopy(v **ir.Variable) bool {
	assign, ok := s.def(*v).(*ir.Assign)
	if !ok {
		return false
	}
	src, ok := assign.Src.(*ir.Variable)
	if !ok || src.Ty != s.word {
		return false
	}
	*v = src
	return true
}

// tryBaseOffset tries to match: base = b + const, base = const + b, base = b - const
func (s *selector) tryBaseOffset(r *AddressResult) bool {
	arith, ok := s.def(r.Base).(*ir.Arithmetic)
	if !ok {
		return false
	}
	base, off, ok := s.splitConstant(arith)
	if !ok || !fitsDisplacement(r.Offset+off) {
		return false
	}
	r.Base = base
	r.Offset += off
	return true
}

// tryBaseSymbol tries to match: base = b + @sym or base = @sym
func (s *selector) tryBaseSymbol(r *AddressResult) bool {
	if r.Symbol != nil {
		return false
	}
	switch d := s.def(r.Base).(type) {
	case *ir.Assign:
		if sym, ok := d.Src.(*ir.ConstRelocatable); ok {
			r.Symbol = sym
			r.Base = nil
			return true
		}
	case *ir.Arithmetic:
		if d.Op != ir.Add {
			return false
		}
		if sym, ok := d.Src1.(*ir.ConstRelocatable); ok {
			if b, ok := d.Src0.(*ir.Variable); ok {
				r.Symbol, r.Base = sym, b
				return true
			}
		}
		if sym, ok := d.Src0.(*ir.ConstRelocatable); ok {
			if b, ok := d.Src1.(*ir.Variable); ok {
				r.Symbol, r.Base = sym, b
				return true
			}
		}
	}
	return false
}

// tryBaseIndex tries to match: base = b + i with no index selected yet
func (s *selector) tryBaseIndex(r *AddressResult) bool {
	if r.Index != nil {
		return false
	}
	arith, ok := s.def(r.Base).(*ir.Arithmetic)
	if !ok || arith.Op != ir.Add {
		return false
	}
	b, bok := arith.Src0.(*ir.Variable)
	i, iok := arith.Src1.(*ir.Variable)
	if !bok || !iok {
		return false
	}
	r.Base, r.Index, r.Shift = b, i, 0
	return true
}

// tryBaseShift tries to match: base = i << k (or i * 2^k) with no index yet
func (s *selector) tryBaseShift(r *AddressResult) bool {
	if r.Index != nil {
		return false
	}
	i, k, ok := s.scaled(r.Base)
	if !ok || k > 3 {
		return false
	}
	r.Base, r.Index, r.Shift = nil, i, k
	return true
}

// tryIndexShift tries to match: index = i << k with shift + k <= 3
func (s *selector) tryIndexShift(r *AddressResult) bool {
	i, k, ok := s.scaled(r.Index)
	if !ok || r.Shift+k > 3 {
		return false
	}
	r.Index = i
	r.Shift += k
	return true
}

// tryIndexOffset tries to match: index = i + const, folding const << shift
func (s *selector) tryIndexOffset(r *AddressResult) bool {
	arith, ok := s.def(r.Index).(*ir.Arithmetic)
	if !ok {
		return false
	}
	i, off, ok := s.splitConstant(arith)
	if !ok {
		return false
	}
	scaled := off << r.Shift
	if scaled>>r.Shift != off || !fitsDisplacement(r.Offset+scaled) {
		return false
	}
	r.Index = i
	r.Offset += scaled
	return true
}

// splitConstant matches v + c, c + v and v - c
func (s *selector) splitConstant(arith *ir.Arithmetic) (*ir.Variable, int64, bool) {
	switch arith.Op {
	case ir.Add:
		if v, ok := arith.Src0.(*ir.Variable); ok {
			if c, ok := arith.Src1.(*ir.ConstInt); ok {
				return v, c.Value, true
			}
		}
		if v, ok := arith.Src1.(*ir.Variable); ok {
			if c, ok := arith.Src0.(*ir.ConstInt); ok {
				return v, c.Value, true
			}
		}
	case ir.Sub:
		if v, ok := arith.Src0.(*ir.Variable); ok {
			if c, ok := arith.Src1.(*ir.ConstInt); ok && c.Value != math.MinInt64 {
				return v, -c.Value, true
			}
		}
	}
	return nil, 0, false
}

// scaled matches v << k and v * 2^k
func (s *selector) scaled(v *ir.Variable) (*ir.Variable, uint8, bool) {
	arith, ok := s.def(v).(*ir.Arithmetic)
	if !ok {
		return nil, 0, false
	}
	src, ok := arith.Src0.(*ir.Variable)
	if !ok {
		return nil, 0, false
	}
	c, ok := arith.Src1.(*ir.ConstInt)
	if !ok {
		return nil, 0, false
	}
	switch arith.Op {
	case ir.Shl:
		if c.Value >= 0 && c.Value <= 3 {
			return src, uint8(c.Value), true
		}
	case ir.Mul:
		switch c.Value {
		case 1:
			return src, 0, true
		case 2:
			return src, 1, true
		case 4:
			return src, 2, true
		case 8:
			return src, 3, true
		}
	}
	return nil, 0, false
}

func fitsDisplacement(v int64) bool {
	return v >= math.MinInt32 && v <= math.MaxInt32
}
