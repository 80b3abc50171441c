package ir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxModule = `
functions:
  - name: max
    return: i32
    args: [i32 %a, i32 %b]
    blocks:
      - name: entry
        code: |
          %c = icmp.sgt i32 %a, %b
          br %c, big, small
      - name: big
        code: ret i32 %a
      - name: small
        code: |
          ret i32 %b ; comment
`

func TestLoadModule(t *testing.T) {
	m, err := LoadModule([]byte(maxModule))
	require.NoError(t, err)
	require.Len(t, m.Functions, 1)

	fn := m.Lookup("max")
	require.NotNil(t, fn)
	assert.Equal(t, I32, fn.ReturnType)
	require.Len(t, fn.Args, 2)
	require.Len(t, fn.Blocks, 3)

	cmp, ok := fn.Blocks[0].Insts[0].(*Icmp)
	require.True(t, ok)
	assert.Equal(t, ISgt, cmp.Cond)
	assert.Equal(t, I1, cmp.Dst.Ty)
	assert.Same(t, fn.Args[0], cmp.Src0)

	br, ok := fn.Blocks[0].Insts[1].(*Br)
	require.True(t, ok)
	assert.Same(t, cmp.Dst, br.Cond)
	assert.Same(t, fn.Blocks[1], br.True)
	assert.Same(t, fn.Blocks[2], br.False)

	assert.Equal(t, []*Block{fn.Blocks[1], fn.Blocks[2]}, fn.Blocks[0].Succs())
}

func TestParseInstructions(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"arith", "%x = add i32 %a, 7", "%x = add i32 %a, 7"},
		{"cast", "%x = sext i8 %n to i32", "%x = sext i8 %n to i32"},
		{"load", "%x = load i32 %p", "%x = load i32 i32 %p"},
		{"store", "store i32 5, %p", "store i32 5, i32 %p"},
		{"store symbol", "store i32 5, @g+8", "store i32 5, i32 @g+8"},
		{"select", "%x = select i32 %c, %a, 0", "%x = select i32 %c, %a, 0"},
		{"alloca", "%x = alloca i32 16, align 8", "%x = alloca i32 16, align 8"},
		{"intrinsic", "%x = intrinsic atomic.rmw i32(1, %p, %a, 6)", "%x = intrinsic atomic.rmw i32(i32 1, i32 %p, i32 %a, i32 6)"},
		{"call", "call void @f(i64 1, %a)", "call void i32 @f(i64 1, i32 %a)"},
		{"vector", "%x = icmp.eq v4i32 %v, %v", "%x = icmp.eq v4i32 %v, %v"},
		{"extract", "%x = extractelement v4i32 %v, 2", "%x = extractelement v4i32 %v, 2"},
		{"float", "%x = fadd f32 %f, 1.5", "%x = fadd f32 %f, 1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := BuildFunction(FunctionSource{
				Name:   "f",
				Args:   []string{"i32 %a", "i32 %p", "i8 %n", "i1 %c", "v4i32 %v", "f32 %f"},
				Blocks: []BlockSource{{Name: "entry", Code: tt.code + "\nret"}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatInst(fn.Blocks[0].Insts[0]))
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"undefined", "%x = add i32 %nope, 1\nret"},
		{"unknown op", "%x = frobnicate i32 1\nret"},
		{"no terminator", "%x = add i32 1, 2"},
		{"after terminator", "ret\nret"},
		{"redefined", "%x = add i32 1, 2\n%x = add i32 1, 2\nret"},
		{"bad block", "br nowhere"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildFunction(FunctionSource{
				Name:   "f",
				Blocks: []BlockSource{{Name: "entry", Code: tt.code}},
			})
			assert.Error(t, err)
		})
	}
}

func TestPhiAndSwitch(t *testing.T) {
	fn, err := BuildFunction(FunctionSource{
		Name:   "f",
		Return: I32,
		Args:   []string{"i32 %x"},
		Blocks: []BlockSource{
			{Name: "entry", Code: "switch i32 %x, out, [1, one], [2, one]"},
			{Name: "one", Code: "br out"},
			{Name: "out", Code: "%r = phi i32 [%x, entry], [7, one]\nret i32 %r"},
		},
	})
	require.NoError(t, err)

	sw := fn.Blocks[0].Insts[0].(*Switch)
	assert.Len(t, sw.Cases, 2)
	assert.Equal(t, []*Block{fn.Blocks[1], fn.Blocks[2]}, fn.Blocks[0].Succs())

	phi := fn.Blocks[2].Phis[0]
	assert.Equal(t, int64(7), phi.ValueFrom(fn.Blocks[1]).(*ConstInt).Value)

	preds := fn.Preds()
	assert.Len(t, preds[fn.Blocks[2]], 2)

	counts := fn.UseCounts()
	assert.Equal(t, 2, counts[fn.Args[0].ID])

	var buf bytes.Buffer
	NewPrinter(&buf).PrintFunction(fn)
	assert.Contains(t, buf.String(), "%r = phi i32 [%x, entry], [7, one]")
	assert.Contains(t, buf.String(), "switch i32 %x, out, [1, one], [2, one]")
}

func TestTypes(t *testing.T) {
	assert.Equal(t, uint32(16), V4F32.WidthBytes())
	assert.Equal(t, I1, V16I1.ElementType())
	assert.Equal(t, V4I1, V4F32.CompareResultType())
	assert.Equal(t, I1, I64.CompareResultType())
	assert.Equal(t, V8I16, V8I1.InRegisterType())
	assert.Equal(t, int64(-1), Int(I8, 255).Value)
	assert.Equal(t, uint64(255), Int(I8, -1).Uint64())
	assert.True(t, ISlt.Eval(I8, 0xff, 0))
	assert.False(t, IUlt.Eval(I8, 0xff, 0))
}
