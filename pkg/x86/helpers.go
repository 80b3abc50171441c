package x86

import "github.com/raymyers/ralph-x86/pkg/ir"

// Runtime helper functions called for operations without an inline lowering
const (
	HelperUdiv64 = "__udivdi3"
	HelperSdiv64 = "__divdi3"
	HelperUrem64 = "__umoddi3"
	HelperSrem64 = "__moddi3"
	HelperShl64  = "__ashldi3"
	HelperLshr64 = "__lshrdi3"
	HelperAshr64 = "__ashrdi3"

	HelperFrem32 = "fmodf"
	HelperFrem64 = "fmod"

	HelperPopcount32 = "__popcountsi2"
	HelperPopcount64 = "__popcountdi2"

	HelperF32ToI64 = "__fixsfdi"
	HelperF64ToI64 = "__fixdfdi"
	HelperF32ToU32 = "__fixunssfsi"
	HelperF64ToU32 = "__fixunsdfsi"
	HelperF32ToU64 = "__fixunssfdi"
	HelperF64ToU64 = "__fixunsdfdi"
	HelperI64ToF32 = "__floatdisf"
	HelperI64ToF64 = "__floatdidf"
	HelperU32ToF32 = "__floatunsisf"
	HelperU32ToF64 = "__floatunsidf"
	HelperU64ToF32 = "__floatundisf"
	HelperU64ToF64 = "__floatundidf"

	HelperMemcpy  = "memcpy"
	HelperMemmove = "memmove"
	HelperMemset  = "memset"
)

// HelperSig is the C signature of a runtime helper. Pointer and size
// arguments are given as ir.Void and take the target word type.
type HelperSig struct {
	Args []ir.Type
	Ret  ir.Type
}

// Helpers lists the signature of every runtime helper
var Helpers = map[string]HelperSig{
	HelperUdiv64: {[]ir.Type{ir.I64, ir.I64}, ir.I64},
	HelperSdiv64: {[]ir.Type{ir.I64, ir.I64}, ir.I64},
	HelperUrem64: {[]ir.Type{ir.I64, ir.I64}, ir.I64},
	HelperSrem64: {[]ir.Type{ir.I64, ir.I64}, ir.I64},
	HelperShl64:  {[]ir.Type{ir.I64, ir.I32}, ir.I64},
	HelperLshr64: {[]ir.Type{ir.I64, ir.I32}, ir.I64},
	HelperAshr64: {[]ir.Type{ir.I64, ir.I32}, ir.I64},

	HelperFrem32: {[]ir.Type{ir.F32, ir.F32}, ir.F32},
	HelperFrem64: {[]ir.Type{ir.F64, ir.F64}, ir.F64},

	HelperPopcount32: {[]ir.Type{ir.I32}, ir.I32},
	HelperPopcount64: {[]ir.Type{ir.I64}, ir.I32},

	HelperF32ToI64: {[]ir.Type{ir.F32}, ir.I64},
	HelperF64ToI64: {[]ir.Type{ir.F64}, ir.I64},
	HelperF32ToU32: {[]ir.Type{ir.F32}, ir.I32},
	HelperF64ToU32: {[]ir.Type{ir.F64}, ir.I32},
	HelperF32ToU64: {[]ir.Type{ir.F32}, ir.I64},
	HelperF64ToU64: {[]ir.Type{ir.F64}, ir.I64},
	HelperI64ToF32: {[]ir.Type{ir.I64}, ir.F32},
	HelperI64ToF64: {[]ir.Type{ir.I64}, ir.F64},
	HelperU32ToF32: {[]ir.Type{ir.I32}, ir.F32},
	HelperU32ToF64: {[]ir.Type{ir.I32}, ir.F64},
	HelperU64ToF32: {[]ir.Type{ir.I64}, ir.F32},
	HelperU64ToF64: {[]ir.Type{ir.I64}, ir.F64},

	HelperMemcpy:  {[]ir.Type{ir.Void, ir.Void, ir.Void}, ir.Void},
	HelperMemmove: {[]ir.Type{ir.Void, ir.Void, ir.Void}, ir.Void},
	HelperMemset:  {[]ir.Type{ir.Void, ir.I32, ir.Void}, ir.Void},
}

// HelperArgTypes returns the argument types of a helper with pointer-sized
// arguments resolved for t
func (t *Target) HelperArgTypes(name string) []ir.Type {
	sig := Helpers[name]
	args := make([]ir.Type, len(sig.Args))
	for i, a := range sig.Args {
		if a == ir.Void {
			a = t.WordType
		}
		args[i] = a
	}
	return args
}
