package x86

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymyers/ralph-x86/pkg/ir"
)

func TestRegNames(t *testing.T) {
	tests := []struct {
		reg  ir.RegNum
		want string
	}{
		{RAX, "rax"}, {R9, "r9"}, {EAX, "eax"}, {R10D, "r10d"}, {SI, "si"}, {R15W, "r15w"},
		{AL, "al"}, {SIL, "sil"}, {R8B, "r8b"}, {AH, "ah"}, {BH, "bh"}, {XMM0, "xmm0"}, {XMM15, "xmm15"},
	}
	for _, tt := range tests {
		if got := RegName(tt.reg); got != tt.want {
			t.Errorf("RegName(%d) = %q, want %q", tt.reg, got, tt.want)
		}
	}
}

func TestAliases(t *testing.T) {
	t64 := NewTarget(X8664, SSE2)
	a := t64.Aliases(EAX)
	for _, r := range []ir.RegNum{RAX, EAX, AX, AL, AH} {
		assert.True(t, a.Test(uint(r)), "eax should alias %s", RegName(r))
	}
	assert.False(t, a.Test(uint(ECX)))

	assert.False(t, t64.Aliases(AL).Test(uint(AH)), "al and ah do not overlap")
	assert.True(t, t64.Aliases(AH).Test(uint(AX)))

	t32 := NewTarget(X8632, SSE2)
	assert.False(t, t32.Aliases(EAX).Test(uint(RAX)), "rax does not exist on x86-32")
	assert.False(t, t32.IsValidReg(R8D))
	assert.True(t, t64.IsValidReg(R8D))
}

func TestRegisterClasses(t *testing.T) {
	t32 := NewTarget(X8632, SSE2)
	i8 := t32.ClassRegisters(ClassDefault, ir.I8)
	assert.Equal(t, uint(4), i8.Count(), "x86-32 has al, cl, dl, bl")
	assert.False(t, i8.Test(uint(AH)))
	assert.True(t, t32.ClassRegisters(ClassAhRcvr, ir.I8).Test(uint(AH)))

	is32to8 := t32.ClassRegisters(ClassIs32To8, ir.I32)
	assert.True(t, is32to8.Test(uint(EBX)))
	assert.False(t, is32to8.Test(uint(ESI)))

	t64 := NewTarget(X8664, SSE41)
	assert.True(t, t64.ClassRegisters(ClassDefault, ir.I8).Test(uint(SIL)))
	assert.False(t, t64.ClassRegisters(ClassDefault, ir.I32).Test(uint(ESP)))
	assert.Equal(t, uint(16), t64.ClassRegisters(ClassDefault, ir.V4F32).Count())
	assert.Equal(t, uint(8), t32.ClassRegisters(ClassDefault, ir.F64).Count())

	assert.Equal(t, ClassDefault, t32.ClassForType(ir.I64))
	assert.Equal(t, ClassI64, t64.ClassForType(ir.I64))
}

func TestRegisterSets(t *testing.T) {
	t32 := NewTarget(X8632, SSE2)
	callee := t32.RegisterSet(RegSetCalleeSave, 0)
	assert.True(t, callee.Test(uint(EBX)))
	assert.True(t, callee.Test(uint(EDI)))
	assert.False(t, callee.Test(uint(EAX)))

	scratch := t32.ScratchRegs()
	assert.True(t, scratch.Test(uint(ECX)))
	assert.True(t, scratch.Test(uint(XMM3)))

	all := t32.RegisterSet(RegSetAll, RegSetStackPointer)
	assert.False(t, all.Test(uint(ESP)))
	assert.True(t, all.Test(uint(EBP)))
}

func TestGPRForType(t *testing.T) {
	assert.Equal(t, AL, GPRForType(EAX, ir.I8))
	assert.Equal(t, R9W, GPRForType(R9, ir.I16))
	assert.Equal(t, RDI, GPRForType(DIL, ir.I64))
	assert.Equal(t, ir.NoRegister, GPRForType(AH, ir.I32))
	assert.Equal(t, XMM4, GPRForType(XMM4, ir.F32))
}

func TestTypeWidthOnStack(t *testing.T) {
	t32 := NewTarget(X8632, SSE2)
	t64 := NewTarget(X8664, SSE2)
	assert.Equal(t, uint32(4), t32.TypeWidthOnStack(ir.I8))
	assert.Equal(t, uint32(8), t32.TypeWidthOnStack(ir.F64))
	assert.Equal(t, uint32(8), t64.TypeWidthOnStack(ir.I32))
	assert.Equal(t, uint32(16), t64.TypeWidthOnStack(ir.V4I32))
	assert.True(t, t32.ShouldSplit64On32(ir.I64))
	assert.False(t, t64.ShouldSplit64On32(ir.I64))
}

func TestCondOpposite(t *testing.T) {
	pairs := [][2]Cond{{CondE, CondNE}, {CondB, CondAE}, {CondL, CondGE}, {CondG, CondLE}, {CondP, CondNP}}
	for _, p := range pairs {
		assert.Equal(t, p[1], p[0].Opposite())
		assert.Equal(t, p[0], p[1].Opposite())
	}

	// every condition and its opposite disagree on every flag combination
	for c := CondO; c < CondNone; c++ {
		for bits := 0; bits < 32; bits++ {
			cf, zf, sf, of, pf := bits&1 != 0, bits&2 != 0, bits&4 != 0, bits&8 != 0, bits&16 != 0
			require.NotEqual(t, c.Eval(cf, zf, sf, of, pf), c.Opposite().Eval(cf, zf, sf, of, pf), "cond %v", c)
		}
	}
}

func TestRandomRegisterPermutation(t *testing.T) {
	t64 := NewTarget(X8664, SSE2)
	perm := t64.RandomRegisterPermutation(nil, 12345)
	require.Len(t, perm, int(NumRegs))

	seen := make(map[ir.RegNum]bool)
	for r, p := range perm {
		require.False(t, seen[p], "register %s used twice", RegName(p))
		seen[p] = true
		assert.Equal(t, RegWidth(ir.RegNum(r)), RegWidth(p))
		assert.Equal(t, t64.calleeSave.Test(uint(r)), t64.calleeSave.Test(uint(p)))
	}
	assert.Equal(t, RSP, perm[RSP])
	assert.Equal(t, perm, t64.RandomRegisterPermutation(nil, 12345), "same salt, same permutation")

	// family mapping is consistent across widths
	fam := regTable[perm[EAX]].family
	assert.Equal(t, fam, regTable[perm[AL]].family)
	assert.Equal(t, fam, regTable[perm[RAX]].family)

	t32 := NewTarget(X8632, SSE2)
	p32 := t32.RandomRegisterPermutation(nil, 7)
	assert.Equal(t, ESI, p32[ESI])
	assert.Equal(t, EDI, p32[EDI])
}
