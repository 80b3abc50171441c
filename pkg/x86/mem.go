package x86

import (
	"fmt"
	"math"
	"strings"

	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/ir"
)

// Segment is a segment override of a memory operand
type Segment uint8

const (
	SegNone Segment = iota
	SegFS
	SegGS
)

func (s Segment) String() string {
	switch s {
	case SegFS:
		return "fs"
	case SegGS:
		return "gs"
	}
	return ""
}

// FrameArea names the stack frame region a stack pointer or frame pointer
// based operand addresses. Its displacement is relative to the region and
// is only resolved once the frame layout is finalized.
type FrameArea uint8

const (
	FrameNone FrameArea = iota
	// FrameFixedAlloca offsets are relative to the top of the fixed alloca area
	FrameFixedAlloca
	// FrameSpill offsets are relative to the start of the spill area
	FrameSpill
	// FrameIncomingArgs offsets are relative to the first stack argument
	FrameIncomingArgs
)

var frameAreaNames = [...]string{"", "fixed", "spill", "args"}

func (a FrameArea) String() string { return frameAreaNames[a] }

// Mem is a memory operand: Segment:Offset(Base, Index, 1<<Shift).
// Offset is nil, *ir.ConstInt or *ir.ConstRelocatable.
type Mem struct {
	Ty      ir.Type
	Base    *ir.Variable
	Offset  ir.Operand
	Index   *ir.Variable
	Shift   uint8
	Segment Segment

	// Frame marks an operand whose displacement is relative to a frame
	// region rather than to Base
	Frame FrameArea
	// Randomized marks an operand whose displacement is already blinded
	Randomized bool
}

// NewMem builds a memory operand and checks its shape
func NewMem(ty ir.Type, base *ir.Variable, offset ir.Operand, index *ir.Variable, shift uint8) *Mem {
	m := &Mem{Ty: ty, Base: base, Offset: offset, Index: index, Shift: shift}
	if err := m.check(); err != nil {
		panic(err)
	}
	return m
}

func (m *Mem) check() error {
	if m.Shift > 3 {
		return errors.New("memory operand shift %d out of range", m.Shift)
	}
	if m.Base == nil && m.Index == nil && m.Offset == nil {
		return errors.New("memory operand without base, index or offset")
	}
	switch o := m.Offset.(type) {
	case nil, *ir.ConstRelocatable:
	case *ir.ConstInt:
		if o.Value < math.MinInt32 || o.Value > math.MaxInt32 {
			return errors.New("memory operand offset %d does not fit in 32 bits", o.Value)
		}
	default:
		return errors.New("memory operand offset %T is not a constant", o)
	}
	return nil
}

func (m *Mem) Type() ir.Type { return m.Ty }

// IsRebased reports whether the displacement still awaits frame layout
func (m *Mem) IsRebased() bool { return m.Frame != FrameNone }

// WithType returns a copy of m accessing ty
func (m *Mem) WithType(ty ir.Type) *Mem {
	c := *m
	c.Ty = ty
	return &c
}

// WithOffset returns a copy of m displaced by delta more bytes
func (m *Mem) WithOffset(delta int64) *Mem {
	c := *m
	switch o := m.Offset.(type) {
	case nil:
		c.Offset = ir.Int(ir.I32, delta)
	case *ir.ConstInt:
		c.Offset = ir.Int(ir.I32, o.Value+delta)
	case *ir.ConstRelocatable:
		c.Offset = &ir.ConstRelocatable{Ty: o.Ty, Symbol: o.Symbol, Offset: o.Offset + delta}
	}
	return &c
}

// OffsetValue returns the integer displacement, zero for relocatable or no offset
func (m *Mem) OffsetValue() int64 {
	if c, ok := m.Offset.(*ir.ConstInt); ok {
		return c.Value
	}
	return 0
}

// Vars returns the variables read to form the address
func (m *Mem) Vars() []*ir.Variable {
	var vars []*ir.Variable
	if m.Base != nil {
		vars = append(vars, m.Base)
	}
	if m.Index != nil {
		vars = append(vars, m.Index)
	}
	return vars
}

func (m *Mem) String() string { return formatMem(m, func(v *ir.Variable) string { return v.String() }) }

func formatMem(m *Mem, reg func(*ir.Variable) string) string {
	var sb strings.Builder
	if m.Frame != FrameNone {
		sb.WriteString(m.Frame.String() + "@")
	}
	if m.Segment != SegNone {
		sb.WriteString("%" + m.Segment.String() + ":")
	}
	switch o := m.Offset.(type) {
	case *ir.ConstInt:
		if o.Value != 0 || (m.Base == nil && m.Index == nil) {
			fmt.Fprintf(&sb, "%d", o.Value)
		}
	case *ir.ConstRelocatable:
		sb.WriteString(o.Symbol)
		if o.Offset > 0 {
			fmt.Fprintf(&sb, "+%d", o.Offset)
		} else if o.Offset < 0 {
			fmt.Fprintf(&sb, "%d", o.Offset)
		}
	}
	if m.Base == nil && m.Index == nil {
		return sb.String()
	}
	sb.WriteString("(")
	if m.Base != nil {
		sb.WriteString(reg(m.Base))
	}
	if m.Index != nil {
		fmt.Fprintf(&sb, ",%s,%d", reg(m.Index), 1<<m.Shift)
	}
	sb.WriteString(")")
	return sb.String()
}
