// Package ir defines the machine-independent intermediate representation
// consumed by the x86 lowering pass.
//
// A Function is an ordered list of basic blocks, each holding phi nodes and an
// ordered list of instructions. Values are Variables (virtual registers with a
// type and optional register constraints) or immutable constants.
package ir

import "tlog.app/go/errors"

// Type is the value type of an operand
type Type uint8

const (
	Void Type = iota
	I1
	I8
	I16
	I32
	I64
	F32
	F64
	V4I1
	V8I1
	V16I1
	V16I8
	V8I16
	V4I32
	V4F32
	numTypes
)

var typeNames = [numTypes]string{
	Void:  "void",
	I1:    "i1",
	I8:    "i8",
	I16:   "i16",
	I32:   "i32",
	I64:   "i64",
	F32:   "f32",
	F64:   "f64",
	V4I1:  "v4i1",
	V8I1:  "v8i1",
	V16I1: "v16i1",
	V16I8: "v16i8",
	V8I16: "v8i16",
	V4I32: "v4i32",
	V4F32: "v4f32",
}

func (t Type) String() string {
	if t < numTypes {
		return typeNames[t]
	}
	return "?"
}

// ParseType parses a type name such as "i32" or "v4f32"
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return Type(t), nil
		}
	}
	return Void, errors.New("unknown type %q", s)
}

// WidthBytes returns the in-memory size of a value of the type
func (t Type) WidthBytes() uint32 {
	switch t {
	case I1, I8:
		return 1
	case I16:
		return 2
	case I32, F32:
		return 4
	case I64, F64:
		return 8
	case Void:
		return 0
	default:
		return 16
	}
}

// WidthBits returns the value width in bits (1 for i1)
func (t Type) WidthBits() uint {
	if t == I1 {
		return 1
	}
	return uint(t.WidthBytes()) * 8
}

func (t Type) IsInteger() bool { return t >= I1 && t <= I64 }
func (t Type) IsFloat() bool   { return t == F32 || t == F64 }
func (t Type) IsVector() bool  { return t >= V4I1 && t < numTypes }
func (t Type) IsScalar() bool  { return t != Void && !t.IsVector() }

// IsBoolVector reports whether t is a vector of i1 lanes
func (t Type) IsBoolVector() bool { return t == V4I1 || t == V8I1 || t == V16I1 }

// ElementType returns the lane type of a vector, or t itself for scalars
func (t Type) ElementType() Type {
	switch t {
	case V4I1, V8I1, V16I1:
		return I1
	case V16I8:
		return I8
	case V8I16:
		return I16
	case V4I32:
		return I32
	case V4F32:
		return F32
	}
	return t
}

// NumElements returns the lane count of a vector, or 1 for scalars
func (t Type) NumElements() int {
	switch t {
	case V4I1, V4I32, V4F32:
		return 4
	case V8I1, V8I16:
		return 8
	case V16I1, V16I8:
		return 16
	}
	return 1
}

// CompareResultType returns the type produced by comparing two values of type t
func (t Type) CompareResultType() Type {
	switch t {
	case V4I1, V4I32, V4F32:
		return V4I1
	case V8I1, V8I16:
		return V8I1
	case V16I1, V16I8:
		return V16I1
	}
	return I1
}

// InRegisterType returns the register representation used for t: boolean
// vectors live in integer vector registers with all-ones/all-zeros lanes.
func (t Type) InRegisterType() Type {
	switch t {
	case V4I1:
		return V4I32
	case V8I1:
		return V8I16
	case V16I1:
		return V16I8
	}
	return t
}
