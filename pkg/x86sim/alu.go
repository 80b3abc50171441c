package x86sim

import (
	"math/bits"

	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/x86"
)

// alu applies an integer operation of width w bytes and sets the flags
func (m *Machine) alu(op x86.BinOp, w int, a, b uint64) uint64 {
	mask := laneMask(w)
	nbits := uint(w) * 8
	a &= mask
	f := &m.flags

	var r uint64
	switch op {
	case x86.OpAdd, x86.OpAdc:
		var c uint64
		if op == x86.OpAdc && f.cf {
			c = 1
		}
		b &= mask
		if w == 8 {
			var carry uint64
			r, carry = bits.Add64(a, b, c)
			f.cf = carry != 0
		} else {
			sum := a + b + c
			r = sum & mask
			f.cf = sum>>nbits != 0
		}
		f.of = ((a^r)&(b^r))>>(nbits-1)&1 != 0

	case x86.OpSub, x86.OpSbb:
		var c uint64
		if op == x86.OpSbb && f.cf {
			c = 1
		}
		b &= mask
		if w == 8 {
			var borrow uint64
			r, borrow = bits.Sub64(a, b, c)
			f.cf = borrow != 0
		} else {
			r = (a - b - c) & mask
			f.cf = a < b+c
		}
		f.of = ((a^b)&(a^r))>>(nbits-1)&1 != 0

	case x86.OpAnd, x86.OpOr, x86.OpXor:
		switch op {
		case x86.OpAnd:
			r = a & b & mask
		case x86.OpOr:
			r = (a | b) & mask
		default:
			r = (a ^ b) & mask
		}
		f.cf, f.of = false, false

	case x86.OpImul:
		sa, sb := signExtend(w, a), signExtend(w, b&mask)
		if w == 8 {
			hi, lo := bits.Mul64(uint64(sa), uint64(sb))
			if sa < 0 {
				hi -= uint64(sb)
			}
			if sb < 0 {
				hi -= uint64(sa)
			}
			r = lo
			f.cf = int64(hi) != int64(lo)>>63
		} else {
			p := sa * sb
			r = uint64(p) & mask
			f.cf = signExtend(w, r) != p
		}
		f.of = f.cf

	case x86.OpShl, x86.OpShr, x86.OpSar, x86.OpRol:
		n := uint(b) & 31
		if w == 8 {
			n = uint(b) & 63
		}
		if n == 0 {
			return a
		}
		switch op {
		case x86.OpShl:
			r = a << n & mask
			f.cf = n <= nbits && a>>(nbits-n)&1 != 0
		case x86.OpShr:
			r = a >> n
			f.cf = a>>(n-1)&1 != 0
		case x86.OpSar:
			s := signExtend(w, a)
			r = uint64(s>>n) & mask
			f.cf = uint64(s>>(n-1))&1 != 0
		default:
			n %= nbits
			r = (a<<n | a>>(nbits-n)) & mask
			f.cf = r&1 != 0
			return r
		}

	default:
		m.fail(errors.New("%v is not an integer operation", op))
	}

	m.setResultFlags(w, r)
	return r
}

// setResultFlags sets ZF, SF and PF from a result of width w
func (m *Machine) setResultFlags(w int, r uint64) {
	m.flags.zf = r&laneMask(w) == 0
	m.flags.sf = r>>(uint(w)*8-1)&1 != 0
	m.flags.pf = bits.OnesCount8(uint8(r))%2 == 0
}

func (m *Machine) unary(op x86.UnaryOp, w int, a uint64) uint64 {
	mask := laneMask(w)
	a &= mask
	switch op {
	case x86.OpNeg:
		r := -a & mask
		m.flags.cf = a != 0
		m.flags.of = a == 1<<(uint(w)*8-1)
		m.setResultFlags(w, r)
		return r
	case x86.OpNot:
		return ^a & mask
	}
	switch w {
	case 2:
		return uint64(bits.ReverseBytes16(uint16(a)))
	case 4:
		return uint64(bits.ReverseBytes32(uint32(a)))
	case 8:
		return bits.ReverseBytes64(a)
	}
	m.fail(errors.New("bswap of %d bytes", w))
	return 0
}
