package ir

import (
	"fmt"
	"math"
	"strconv"
)

// Operand is a value used by an instruction
type Operand interface {
	Type() Type
	String() string
}

// RegNum identifies a physical register of the target. The numbering is
// owned by the target package; the IR only stores it.
type RegNum int32

// NoRegister marks a variable that is not pinned to a physical register
const NoRegister RegNum = -1

// RegClass constrains which registers a variable may be assigned. Zero means
// the default class for the variable's type.
type RegClass uint8

// Remat describes a variable whose value is always base register + offset
type Remat struct {
	Base   RegNum
	Offset int32
}

// Variable is a virtual register
type Variable struct {
	ID    int
	Name  string
	Ty    Type
	Reg   RegNum
	Class RegClass
	Remat *Remat

	// MustHaveReg is a hint that the variable should never be spilled
	MustHaveReg bool
}

func (v *Variable) Type() Type { return v.Ty }

func (v *Variable) String() string {
	if v.Name != "" {
		return "%" + v.Name
	}
	return "%v" + strconv.Itoa(v.ID)
}

// HasReg reports whether the variable is pinned to a physical register
func (v *Variable) HasReg() bool { return v.Reg != NoRegister }

// IsRematerializable reports whether the variable's value is base+offset
func (v *Variable) IsRematerializable() bool { return v.Remat != nil }

// ConstInt is an integer immediate. Value holds the sign-extended value.
type ConstInt struct {
	Ty    Type
	Value int64
}

// Int returns an integer constant of type ty
func Int(ty Type, v int64) *ConstInt { return &ConstInt{Ty: ty, Value: SignExtend(ty, v)} }

func (c *ConstInt) Type() Type     { return c.Ty }
func (c *ConstInt) String() string { return strconv.FormatInt(c.Value, 10) }

// Uint64 returns the value truncated to the constant's width
func (c *ConstInt) Uint64() uint64 { return Truncate(c.Ty, uint64(c.Value)) }

// Truncate keeps the low WidthBits(ty) bits of v
func Truncate(ty Type, v uint64) uint64 {
	bits := ty.WidthBits()
	if bits >= 64 {
		return v
	}
	return v & (1<<bits - 1)
}

// SignExtend sign-extends the low WidthBits(ty) bits of v
func SignExtend(ty Type, v int64) int64 {
	bits := ty.WidthBits()
	if bits >= 64 || bits == 0 {
		return v
	}
	shift := 64 - bits
	return v << shift >> shift
}

// ConstFloat is a floating point immediate
type ConstFloat struct {
	Ty    Type
	Value float64
}

func (c *ConstFloat) Type() Type { return c.Ty }

func (c *ConstFloat) String() string {
	return strconv.FormatFloat(c.Value, 'g', -1, 64)
}

// Bits returns the IEEE encoding of the constant in its own width
func (c *ConstFloat) Bits() uint64 {
	if c.Ty == F32 {
		return uint64(math.Float32bits(float32(c.Value)))
	}
	return math.Float64bits(c.Value)
}

// IsPositiveZero reports whether the constant is +0.0
func (c *ConstFloat) IsPositiveZero() bool { return c.Bits() == 0 }

// ConstRelocatable is the address of a symbol plus a displacement
type ConstRelocatable struct {
	Ty     Type
	Symbol string
	Offset int64
}

func (c *ConstRelocatable) Type() Type { return c.Ty }

func (c *ConstRelocatable) String() string {
	switch {
	case c.Offset > 0:
		return fmt.Sprintf("@%s+%d", c.Symbol, c.Offset)
	case c.Offset < 0:
		return fmt.Sprintf("@%s%d", c.Symbol, c.Offset)
	}
	return "@" + c.Symbol
}

// ConstUndef is an undefined value of the given type
type ConstUndef struct {
	Ty Type
}

func (c *ConstUndef) Type() Type     { return c.Ty }
func (c *ConstUndef) String() string { return "undef" }

// IsConstant reports whether op is an immediate of any kind
func IsConstant(op Operand) bool {
	switch op.(type) {
	case *ConstInt, *ConstFloat, *ConstRelocatable, *ConstUndef:
		return true
	}
	return false
}

// SameOperand reports whether a and b denote the same value: the same
// variable, or equal constants.
func SameOperand(a, b Operand) bool {
	if a == b {
		return true
	}
	switch x := a.(type) {
	case *ConstInt:
		y, ok := b.(*ConstInt)
		return ok && x.Ty == y.Ty && x.Value == y.Value
	case *ConstRelocatable:
		y, ok := b.(*ConstRelocatable)
		return ok && x.Symbol == y.Symbol && x.Offset == y.Offset
	case *ConstFloat:
		y, ok := b.(*ConstFloat)
		return ok && x.Ty == y.Ty && x.Bits() == y.Bits()
	}
	return false
}
