package lowering

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
	"github.com/raymyers/ralph-x86/pkg/x86sim"
)

const vectorModule = `
functions:
  - name: vadd
    return: v4i32
    args: [v4i32 %a, v4i32 %b]
    blocks:
      - name: entry
        code: |
          %x = add v4i32 %a, %b
          %y = sub v4i32 %x, %b
          %z = xor v4i32 %y, %b
          ret v4i32 %z
  - name: vmul
    return: v4i32
    args: [v4i32 %a, v4i32 %b]
    blocks:
      - name: entry
        code: |
          %x = mul v4i32 %a, %b
          ret v4i32 %x
  - name: vmul8
    return: v16i8
    args: [v16i8 %a, v16i8 %b]
    blocks:
      - name: entry
        code: |
          %x = mul v16i8 %a, %b
          ret v16i8 %x
  - name: vshl
    return: v4i32
    args: [v4i32 %a, v4i32 %b]
    blocks:
      - name: entry
        code: |
          %x = shl v4i32 %a, %b
          ret v4i32 %x
  - name: vult
    return: v4i32
    args: [v4i32 %a, v4i32 %b]
    blocks:
      - name: entry
        code: |
          %c = icmp.ult v4i32 %a, %b
          %x = sext v4i1 %c to v4i32
          ret v4i32 %x
  - name: vsge
    return: v4i32
    args: [v4i32 %a, v4i32 %b]
    blocks:
      - name: entry
        code: |
          %c = icmp.sge v4i32 %a, %b
          %x = sext v4i1 %c to v4i32
          ret v4i32 %x
  - name: vmax
    return: v4i32
    args: [v4i32 %a, v4i32 %b]
    blocks:
      - name: entry
        code: |
          %c = icmp.sgt v4i32 %a, %b
          %x = select v4i32 %c, %a, %b
          ret v4i32 %x
  - name: vfadd
    return: v4f32
    args: [v4f32 %a, v4f32 %b]
    blocks:
      - name: entry
        code: |
          %x = fmul v4f32 %a, %b
          %y = fadd v4f32 %x, %a
          ret v4f32 %y
  - name: vflt
    return: v4i32
    args: [v4f32 %a, v4f32 %b]
    blocks:
      - name: entry
        code: |
          %c = fcmp.olt v4f32 %a, %b
          %x = sext v4i1 %c to v4i32
          ret v4i32 %x
  - name: vcvt
    return: v4i32
    args: [v4i32 %a]
    blocks:
      - name: entry
        code: |
          %f = sitofp v4i32 %a to v4f32
          %h = fmul v4f32 %f, %f
          %x = fptosi v4f32 %h to v4i32
          ret v4i32 %x
  - name: lane2
    return: i32
    args: [v4i32 %a]
    blocks:
      - name: entry
        code: |
          %x = extractelement v4i32 %a, 2
          ret i32 %x
  - name: lane5
    return: i16
    args: [v8i16 %a]
    blocks:
      - name: entry
        code: |
          %x = extractelement v8i16 %a, 5
          ret i16 %x
  - name: lane13
    return: i8
    args: [v16i8 %a]
    blocks:
      - name: entry
        code: |
          %x = extractelement v16i8 %a, 13
          ret i8 %x
  - name: flane3
    return: f32
    args: [v4f32 %a]
    blocks:
      - name: entry
        code: |
          %x = extractelement v4f32 %a, 3
          ret f32 %x
  - name: set1
    return: v4i32
    args: [v4i32 %a, i32 %x]
    blocks:
      - name: entry
        code: |
          %v = insertelement v4i32 %a, %x, 1
          ret v4i32 %v
  - name: set0
    return: v4f32
    args: [v4f32 %a, f32 %x]
    blocks:
      - name: entry
        code: |
          %v = insertelement v4f32 %a, %x, 0
          ret v4f32 %v
  - name: set6
    return: v8i16
    args: [v8i16 %a, i16 %x]
    blocks:
      - name: entry
        code: |
          %v = insertelement v8i16 %a, %x, 6
          ret v8i16 %v
  - name: set9
    return: v16i8
    args: [v16i8 %a, i8 %x]
    blocks:
      - name: entry
        code: |
          %v = insertelement v16i8 %a, %x, 9
          ret v16i8 %v
`

func lanes(v x86sim.Value) [4]int32 {
	var out [4]int32
	for k := range out {
		out[k] = int32(v.Lane(4, k))
	}
	return out
}

func flanes(v x86sim.Value) [4]float32 {
	var out [4]float32
	for k := range out {
		out[k] = math.Float32frombits(uint32(v.Lane(4, k)))
	}
	return out
}

// byteRamp has k*7+3 in byte lane k
func byteRamp() x86sim.Value {
	var out x86sim.Value
	for k := 0; k < 16; k++ {
		out = out.SetLane(1, k, uint64(k*7+3))
	}
	return out
}

// forEachISA runs f for every target, optimization level and SSE level
func forEachISA(t *testing.T, src string, f func(t *testing.T, m *x86sim.Machine)) {
	for _, c := range configs {
		for _, isa := range []x86.ISA{x86.SSE2, x86.SSE41} {
			t.Run(fmt.Sprintf("%s/%v", c.name, isa), func(t *testing.T) {
				f(t, compile(t, c.arch, isa, c.options(), src))
			})
		}
	}
}

func TestVectorArithmetic(t *testing.T) {
	a := x86sim.I32x4(1, -2, 0x10000, math.MaxInt32)
	b := x86sim.I32x4(5, 7, 0x10001, 2)

	forEachISA(t, vectorModule, func(t *testing.T, m *x86sim.Machine) {
		assert.Equal(t, [4]int32{1 ^ 5, -2 ^ 7, 0x10000 ^ 0x10001, math.MaxInt32 ^ 2}, lanes(call(t, m, "vadd", a, b)))
		assert.Equal(t, [4]int32{5, -14, 0x10000, -2}, lanes(call(t, m, "vmul", a, b)))
		assert.Equal(t, [4]int32{1 << 5, -2 << 7, 0x10000 << 1, -2}, lanes(call(t, m, "vshl", a, x86sim.I32x4(5, 7, 1, 1))))

		x := byteRamp()
		got := call(t, m, "vmul8", x, x)
		for k := 0; k < 16; k++ {
			assert.Equal(t, uint64(byte((k*7+3)*(k*7+3))), got.Lane(1, k), "lane %d", k)
		}
	})
}

func TestVectorCompare(t *testing.T) {
	a := x86sim.I32x4(1, -1, 5, math.MinInt32)
	b := x86sim.I32x4(2, 1, 5, 0)

	forEachISA(t, vectorModule, func(t *testing.T, m *x86sim.Machine) {
		// -1 and MinInt32 are large unsigned
		assert.Equal(t, [4]int32{-1, 0, 0, 0}, lanes(call(t, m, "vult", a, b)))
		assert.Equal(t, [4]int32{0, 0, -1, 0}, lanes(call(t, m, "vsge", a, b)))
		assert.Equal(t, [4]int32{2, 1, 5, 0}, lanes(call(t, m, "vmax", a, b)))

		fa := x86sim.F32x4(1, float32(math.NaN()), -3, 4)
		fb := x86sim.F32x4(2, 0, -4, 4)
		assert.Equal(t, [4]int32{-1, 0, 0, 0}, lanes(call(t, m, "vflt", fa, fb)))
	})
}

func TestVectorFloat(t *testing.T) {
	forEachISA(t, vectorModule, func(t *testing.T, m *x86sim.Machine) {
		got := call(t, m, "vfadd", x86sim.F32x4(1, 2, -0.5, 10), x86sim.F32x4(3, 0.5, 4, 0))
		assert.Equal(t, [4]float32{4, 3, -2.5, 10}, flanes(got))

		assert.Equal(t, [4]int32{9, 16, 0, 10000}, lanes(call(t, m, "vcvt", x86sim.I32x4(-3, 4, 0, 100))))
	})
}

func TestVectorLanes(t *testing.T) {
	forEachISA(t, vectorModule, func(t *testing.T, m *x86sim.Machine) {
		v := x86sim.I32x4(10, -20, -30, 40)
		assert.EqualValues(t, -30, call(t, m, "lane2", v).Int(ir.I32))
		assert.EqualValues(t, int16(v.Lane(2, 5)), call(t, m, "lane5", v).Int(ir.I16))

		b := byteRamp()
		assert.EqualValues(t, int8(13*7+3), call(t, m, "lane13", b).Int(ir.I8))
		assert.Equal(t, float32(-1.25), call(t, m, "flane3", x86sim.F32x4(0, 0, 0, -1.25)).Float32())

		assert.Equal(t, [4]int32{10, 99, -30, 40}, lanes(call(t, m, "set1", v, x86sim.Int(99))))
		assert.Equal(t, [4]float32{7.5, 2, 3, 4}, flanes(call(t, m, "set0", x86sim.F32x4(1, 2, 3, 4), x86sim.F32(7.5))))
		assert.Equal(t, v.SetLane(2, 6, 0xbeef), call(t, m, "set6", v, x86sim.Uint(0xbeef)))
		assert.Equal(t, b.SetLane(1, 9, 0xee), call(t, m, "set9", b, x86sim.Int(-18)))
	})
}

func TestVectorMultiplyInstructions(t *testing.T) {
	tests := []struct {
		isa     x86.ISA
		pmull   int
		pmuludq int
	}{
		{x86.SSE2, 0, 2},
		{x86.SSE41, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.isa.String(), func(t *testing.T) {
			for _, r := range lowerModule(t, x86.X8664, tt.isa, DefaultOptions(), vectorModule) {
				if r.Func.Name != "vmul" {
					continue
				}
				var pmull, pmuludq int
				for _, b := range r.Func.Blocks {
					for _, inst := range b.Insts {
						if bin, ok := inst.(*x86.Binop); ok {
							switch bin.Op {
							case x86.OpPmull:
								pmull++
							case x86.OpPmuludq:
								pmuludq++
							}
						}
					}
				}
				assert.Equal(t, tt.pmull, pmull)
				assert.Equal(t, tt.pmuludq, pmuludq)
			}
		})
	}
}
