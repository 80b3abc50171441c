package x86sim

import (
	"math"

	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// elemWidth is the lane width of packed integer operations on ty
func elemWidth(ty ir.Type) int {
	switch x86.ElementSuffix(ty) {
	case "b":
		return 1
	case "w":
		return 2
	case "q":
		return 8
	}
	return 4
}

// binop applies a two-address operation to values of type ty
func (m *Machine) binop(op x86.BinOp, ty ir.Type, d, s Value) Value {
	switch {
	case op <= x86.OpRol:
		return Uint(m.alu(op, typeWidth(ty), d.Uint64(), s.Uint64()))

	case op <= x86.OpMaxss:
		return floatLanes(ty, d, s, scalarFloatOp(op))

	case op <= x86.OpMaxps:
		return floatLanes(ir.V4F32, d, s, scalarFloatOp(op-x86.OpAddps+x86.OpAddss))

	case op == x86.OpAndps || op == x86.OpPand:
		return Value{d[0] & s[0], d[1] & s[1]}
	case op == x86.OpAndnps || op == x86.OpPandn:
		return Value{^d[0] & s[0], ^d[1] & s[1]}
	case op == x86.OpOrps || op == x86.OpPor:
		return Value{d[0] | s[0], d[1] | s[1]}
	case op == x86.OpXorps || op == x86.OpPxor:
		return Value{d[0] ^ s[0], d[1] ^ s[1]}

	case op == x86.OpPmuludq:
		var r Value
		for k := 0; k < 2; k++ {
			r[k] = (d[k] & math.MaxUint32) * (s[k] & math.MaxUint32)
		}
		return r

	case op == x86.OpPsll || op == x86.OpPsrl || op == x86.OpPsra:
		return shiftLanes(op, elemWidth(ty), d, s.Uint64())

	case op == x86.OpPunpckl || op == x86.OpPunpckh:
		w := elemWidth(ty)
		n := 16 / w
		base := 0
		if op == x86.OpPunpckh {
			base = n / 2
		}
		var r Value
		for k := 0; k < n/2; k++ {
			r = r.SetLane(w, 2*k, d.Lane(w, base+k))
			r = r.SetLane(w, 2*k+1, s.Lane(w, base+k))
		}
		return r
	}

	w := elemWidth(ty)
	if op == x86.OpPmull && ty.InRegisterType() != ir.V8I16 {
		w = 4
	}
	var r Value
	for k := 0; k < 16/w; k++ {
		a, b := d.Lane(w, k), s.Lane(w, k)
		var x uint64
		switch op {
		case x86.OpPadd:
			x = a + b
		case x86.OpPsub:
			x = a - b
		case x86.OpPmull:
			x = a * b
		case x86.OpPcmpeq:
			if a == b {
				x = math.MaxUint64
			}
		case x86.OpPcmpgt:
			if signExtend(w, a) > signExtend(w, b) {
				x = math.MaxUint64
			}
		default:
			panic(fault{errors.New("%v is not a packed operation", op)})
		}
		r = r.SetLane(w, k, x)
	}
	return r
}

func shiftLanes(op x86.BinOp, w int, d Value, n uint64) Value {
	nbits := uint64(w) * 8
	var r Value
	for k := 0; k < 16/w; k++ {
		a := d.Lane(w, k)
		var x uint64
		switch {
		case op == x86.OpPsra:
			s := n
			if s >= nbits {
				s = nbits - 1
			}
			x = uint64(signExtend(w, a) >> s)
		case n >= nbits:
			x = 0
		case op == x86.OpPsll:
			x = a << n
		default:
			x = a >> n
		}
		r = r.SetLane(w, k, x)
	}
	return r
}

func scalarFloatOp(op x86.BinOp) func(a, b float64) float64 {
	switch op {
	case x86.OpAddss:
		return func(a, b float64) float64 { return a + b }
	case x86.OpSubss:
		return func(a, b float64) float64 { return a - b }
	case x86.OpMulss:
		return func(a, b float64) float64 { return a * b }
	case x86.OpDivss:
		return func(a, b float64) float64 { return a / b }
	case x86.OpMinss:
		// the second operand wins unless the first is strictly smaller
		return func(a, b float64) float64 {
			if a < b {
				return a
			}
			return b
		}
	}
	return func(a, b float64) float64 {
		if a > b {
			return a
		}
		return b
	}
}

// floatLanes applies f to the float lanes of ty, rounding each result to
// the lane precision
func floatLanes(ty ir.Type, d, s Value, f func(a, b float64) float64) Value {
	switch ty {
	case ir.F64:
		return F64(f(d.Float64(), s.Float64()))
	case ir.F32:
		return F32(float32(f(float64(d.Float32()), float64(s.Float32()))))
	}
	var r Value
	for k := 0; k < 4; k++ {
		a := math.Float32frombits(uint32(d.Lane(4, k)))
		b := math.Float32frombits(uint32(s.Lane(4, k)))
		x := float32(f(float64(a), float64(b)))
		r = r.SetLane(4, k, uint64(math.Float32bits(x)))
	}
	return r
}

// convert implements the cvt family
func convert(v x86.CvtVariant, dst, src ir.Type, x Value) Value {
	switch v {
	case x86.CvtSi2ss:
		n := signExtend(typeWidth(src), x.Uint64())
		if dst == ir.F32 {
			return F32(float32(n))
		}
		return F64(float64(n))

	case x86.CvtTss2si:
		f := x.Float64()
		if src == ir.F32 {
			f = float64(x.Float32())
		}
		return Int(truncFloat(f, typeWidth(dst)))

	case x86.CvtFloat2float:
		if dst == ir.F32 {
			return F32(float32(x.Float64()))
		}
		return F64(float64(x.Float32()))

	case x86.CvtDq2ps:
		var r Value
		for k := 0; k < 4; k++ {
			f := float32(int32(x.Lane(4, k)))
			r = r.SetLane(4, k, uint64(math.Float32bits(f)))
		}
		return r
	}

	var r Value
	for k := 0; k < 4; k++ {
		f := math.Float32frombits(uint32(x.Lane(4, k)))
		r = r.SetLane(4, k, uint64(truncFloat(float64(f), 4)))
	}
	return r
}

// truncFloat converts toward zero; NaN and out of range values give the
// integer indefinite value
func truncFloat(f float64, w int) int64 {
	indefinite := int64(-1) << (uint(w)*8 - 1)
	limit := math.Ldexp(1, w*8-1)
	if math.IsNaN(f) || f >= limit || f < -limit {
		return indefinite
	}
	return int64(f)
}

func (m *Machine) vecOp(fr *frame, i *x86.VecOp) {
	src := m.read(fr, i.Src)
	var d Value
	if i.Op.TwoAddress() {
		d = m.readVar(fr, i.Dst)
	}
	imm := int(i.Imm)

	var r Value
	switch i.Op {
	case x86.OpPshufd:
		for k := 0; k < 4; k++ {
			r = r.SetLane(4, k, src.Lane(4, imm>>(2*k)&3))
		}
	case x86.OpShufps:
		r = r.SetLane(4, 0, d.Lane(4, imm&3))
		r = r.SetLane(4, 1, d.Lane(4, imm>>2&3))
		r = r.SetLane(4, 2, src.Lane(4, imm>>4&3))
		r = r.SetLane(4, 3, src.Lane(4, imm>>6&3))
	case x86.OpInsertps:
		lane := src.Lane(4, 0)
		if _, isReg := i.Src.(*ir.Variable); isReg {
			lane = src.Lane(4, imm>>6&3)
		}
		r = d.SetLane(4, imm>>4&3, lane)
		for k := 0; k < 4; k++ {
			if imm>>k&1 != 0 {
				r = r.SetLane(4, k, 0)
			}
		}
	case x86.OpPinsr:
		w := elemWidth(i.Dst.Ty)
		r = d.SetLane(w, imm%(16/w), src.Uint64())
	case x86.OpPextr:
		w := elemWidth(i.Src.Type())
		r = Uint(src.Lane(w, imm%(16/w)))
	case x86.OpCmpps:
		c := x86.CmppsCond(imm)
		for k := 0; k < 4; k++ {
			a := math.Float32frombits(uint32(d.Lane(4, k)))
			b := math.Float32frombits(uint32(src.Lane(4, k)))
			if c.Eval(float64(a), float64(b)) {
				r = r.SetLane(4, k, math.MaxUint32)
			}
		}
	default:
		m.fail(errors.New("vector op %d", i.Op))
	}
	m.writeVar(fr, i.Dst, r)
}

// blend takes the lanes of s where the mask lane has its sign bit set
func blend(op x86.BlendOp, d, s, mask Value) Value {
	w := 4
	if op == x86.OpPblendvb {
		w = 1
	}
	for k := 0; k < 16/w; k++ {
		if mask.Lane(w, k)>>(uint(w)*8-1)&1 != 0 {
			d = d.SetLane(w, k, s.Lane(w, k))
		}
	}
	return d
}
