package lowering

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86sim"
)

const memoryModule = `
functions:
  - name: sum
    return: i32
    args: [{ptr} %p, {ptr} %n]
    blocks:
      - name: entry
        code: br loop
      - name: loop
        code: |
          %i = phi {ptr} [0, entry], [%i1, body]
          %s = phi i32 [0, entry], [%s1, body]
          %c = icmp.slt {ptr} %i, %n
          br %c, body, done
      - name: body
        code: |
          %off = shl {ptr} %i, 2
          %addr = add {ptr} %p, %off
          %v = load i32 %addr
          %s1 = add i32 %s, %v
          %i1 = add {ptr} %i, 1
          br loop
      - name: done
        code: ret i32 %s
  - name: locals
    return: i32
    args: [i32 %x, i32 %y]
    blocks:
      - name: entry
        code: |
          %a = alloca {ptr} 8, align 4
          %b = alloca {ptr} 16, align 16
          store i32 %x, %a
          %a4 = add {ptr} %a, 4
          store i32 %y, %a4
          store i64 -1, %b
          %v0 = load i32 %a
          %v1 = load i32 %a4
          %w = load i8 %b
          %w32 = sext i8 %w to i32
          %r = sub i32 %v0, %v1
          %r1 = add i32 %r, %w32
          ret i32 %r1
  - name: dynamic
    return: i32
    args: [{ptr} %n]
    blocks:
      - name: entry
        code: |
          %sp = intrinsic stacksave {ptr}()
          %a = alloca {ptr} %n, align 16
          store i32 11, %a
          %last = add {ptr} %a, %n
          %last4 = sub {ptr} %last, 4
          store i32 31, %last4
          %x = load i32 %a
          %y = load i32 %last4
          intrinsic stackrestore void(%sp)
          %r = add i32 %x, %y
          ret i32 %r
  - name: wide
    return: i64
    args: [{ptr} %p, i64 %v]
    blocks:
      - name: entry
        code: |
          %old = load i64 %p
          store i64 %v, %p
          %q = add {ptr} %p, 8
          %h = load i16 %q
          %hz = zext i16 %h to i64
          %r = add i64 %old, %hz
          ret i64 %r
  - name: global
    return: i32
    blocks:
      - name: entry
        code: |
          %x = load i32 @counter
          %y = add i32 %x, 1
          store i32 %y, @counter
          %z = load i32 @counter+4
          %r = add i32 %y, %z
          ret i32 %r
  - name: copy
    args: [{ptr} %d, {ptr} %s, {ptr} %n]
    blocks:
      - name: entry
        code: |
          intrinsic memcpy void(%d, %s, {ptr} 23)
          %d2 = add {ptr} %d, 32
          intrinsic memcpy void(%d2, %s, %n)
          ret
  - name: move
    args: [{ptr} %p]
    blocks:
      - name: entry
        code: |
          %q = add {ptr} %p, 3
          intrinsic memmove void(%q, %p, {ptr} 20)
          ret
  - name: fill
    args: [{ptr} %d, i8 %b, {ptr} %n]
    blocks:
      - name: entry
        code: |
          intrinsic memset void(%d, i8 -85, {ptr} 37)
          %d2 = add {ptr} %d, 64
          intrinsic memset void(%d2, %b, %n)
          %d3 = add {ptr} %d, 128
          intrinsic memset void(%d3, i8 0, {ptr} 16)
          ret
`

func TestLoopSum(t *testing.T) {
	forEachConfig(t, memoryModule, func(t *testing.T, c config, m *x86sim.Machine) {
		p := m.Alloc(64)
		var want int64
		for k := 0; k < 10; k++ {
			m.WriteMem(p+uint64(4*k), 4, x86sim.Int(int64(k*k-20)))
			want += int64(k*k - 20)
		}
		assert.Equal(t, want, call(t, m, "sum", x86sim.Uint(p), x86sim.Int(10)).Int(ir.I32))
		assert.EqualValues(t, -20, call(t, m, "sum", x86sim.Uint(p), x86sim.Int(1)).Int(ir.I32))
		assert.EqualValues(t, 0, call(t, m, "sum", x86sim.Uint(p), x86sim.Int(0)).Int(ir.I32))
	})
}

func TestStackAllocation(t *testing.T) {
	forEachConfig(t, memoryModule, func(t *testing.T, c config, m *x86sim.Machine) {
		assert.EqualValues(t, 50-8-1, call(t, m, "locals", ints(50, 8)...).Int(ir.I32))

		assert.EqualValues(t, 42, call(t, m, "dynamic", x86sim.Int(64)).Int(ir.I32))
		// with n = 4 both stores hit the same word
		assert.EqualValues(t, 62, call(t, m, "dynamic", x86sim.Int(4)).Int(ir.I32))
		// a mismatched frame would trip the return address check
		assert.EqualValues(t, 42, call(t, m, "dynamic", x86sim.Int(1000)).Int(ir.I32))
	})
}

func TestWideLoadStore(t *testing.T) {
	forEachConfig(t, memoryModule, func(t *testing.T, c config, m *x86sim.Machine) {
		p := m.Alloc(16)
		m.WriteMem(p, 8, x86sim.Int(1<<40+5))
		m.WriteMem(p+8, 2, x86sim.Uint(0xfffe))

		res := call(t, m, "wide", x86sim.Uint(p), x86sim.Int(-7))
		assert.EqualValues(t, 1<<40+5+0xfffe, res.Int(ir.I64))
		assert.EqualValues(t, -7, m.ReadMem(p, 8).Int(ir.I64))
	})
}

func TestGlobalSymbol(t *testing.T) {
	forEachConfig(t, memoryModule, func(t *testing.T, c config, m *x86sim.Machine) {
		g := m.Alloc(8)
		m.DefineSymbol("counter", g)
		m.WriteMem(g+4, 4, x86sim.Int(100))

		assert.EqualValues(t, 101, call(t, m, "global").Int(ir.I32))
		assert.EqualValues(t, 102, call(t, m, "global").Int(ir.I32))
		assert.EqualValues(t, 2, m.ReadMem(g, 4).Int(ir.I32))
	})
}

func TestMemIntrinsics(t *testing.T) {
	forEachConfig(t, memoryModule, func(t *testing.T, c config, m *x86sim.Machine) {
		src := m.Alloc(64)
		pattern := make([]byte, 64)
		for k := range pattern {
			pattern[k] = byte(k + 1)
		}
		m.WriteBytes(src, pattern)

		dst := m.Alloc(96)
		call(t, m, "copy", x86sim.Uint(dst), x86sim.Uint(src), x86sim.Int(9))
		got := m.ReadBytes(dst, 64)
		assert.Equal(t, pattern[:23], got[:23])
		assert.Equal(t, make([]byte, 9), got[23:32], "inline copy stops at 23 bytes")
		assert.Equal(t, pattern[:9], got[32:41])
		assert.Equal(t, make([]byte, 23), got[41:])

		call(t, m, "move", x86sim.Uint(src))
		moved := m.ReadBytes(src, 24)
		assert.Equal(t, pattern[:3], moved[:3])
		assert.Equal(t, pattern[:20], moved[3:23])
		assert.Equal(t, pattern[23], moved[23])

		buf := m.Alloc(160)
		m.WriteBytes(buf, bytes.Repeat([]byte{0x55}, 160))
		call(t, m, "fill", x86sim.Uint(buf), x86sim.Int(7), x86sim.Int(5))
		out := m.ReadBytes(buf, 160)
		assert.Equal(t, bytes.Repeat([]byte{0xab}, 37), out[:37])
		assert.Equal(t, bytes.Repeat([]byte{0x55}, 27), out[37:64])
		assert.Equal(t, bytes.Repeat([]byte{7}, 5), out[64:69])
		assert.Equal(t, byte(0x55), out[69])
		assert.Equal(t, make([]byte, 16), out[128:144])
		assert.Equal(t, byte(0x55), out[144])
	})
}
