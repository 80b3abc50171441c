package x86sim

import (
	"math"
	"math/bits"

	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// control is where execution continues after an instruction
type control struct {
	block *x86.Block
	label *x86.Label
	addr  uint64
	jump  bool
}

var fallThrough control

// run executes fr.fn from its entry until it returns to token
func (m *Machine) run(fr *frame, token uint64) {
	blocks := fr.fn.Blocks
	b, pc := 0, 0
	for {
		if pc >= len(blocks[b].Insts) {
			b, pc = b+1, 0
			if b >= len(blocks) {
				m.fail(errors.New("%v: fell off the last block", fr.fn.Name))
			}
			continue
		}
		inst := blocks[b].Insts[pc]
		pc++

		m.steps++
		if m.MaxSteps > 0 && m.steps > m.MaxSteps {
			m.fail(ErrStepLimit)
		}

		if _, ok := inst.(*x86.Ret); ok {
			if ret := m.pop(); ret != token {
				m.fail(errors.New("%v: return to %#x, want %#x", fr.fn.Name, ret, token))
			}
			return
		}

		c := m.exec(fr, inst)
		if !c.jump {
			continue
		}
		switch {
		case c.label != nil:
			b, pc = m.findLabel(fr, b, c.label)
		case c.block != nil:
			ref, ok := m.index[c.block]
			if !ok || ref.fn != fr.fnIdx {
				m.fail(errors.New("%v: branch to foreign block %v", fr.fn.Name, c.block.Name))
			}
			b, pc = ref.block, 0
		case c.addr == token:
			return
		default:
			ref, ok := m.blocks[c.addr]
			if !ok || ref.fn != fr.fnIdx {
				m.fail(errors.Wrap(ErrBadJump, "%v: %#x", fr.fn.Name, c.addr))
			}
			b, pc = ref.block, 0
		}
	}
}

// findLabel returns the position after lbl, searching the current block first
func (m *Machine) findLabel(fr *frame, cur int, lbl *x86.Label) (int, int) {
	blocks := fr.fn.Blocks
	for k := 0; k < len(blocks); k++ {
		b := (cur + k) % len(blocks)
		for pc, inst := range blocks[b].Insts {
			if inst == x86.Inst(lbl) {
				return b, pc + 1
			}
		}
	}
	m.fail(errors.New("%v: label %v not placed", fr.fn.Name, lbl.Name))
	return 0, 0
}

// read evaluates an operand. Immediates are sign-extended to 64 bits;
// registers and memory are zero-extended from their width.
func (m *Machine) read(fr *frame, op ir.Operand) Value {
	switch o := op.(type) {
	case *ir.Variable:
		return m.readVar(fr, o)
	case *ir.ConstInt:
		return Int(o.Value)
	case *ir.ConstFloat:
		return Uint(o.Bits())
	case *ir.ConstRelocatable:
		return Uint(m.symbol(o.Symbol) + uint64(o.Offset))
	case *ir.ConstUndef:
		return Value{}
	case *x86.Mem:
		return m.mem.read(m.address(fr, o), typeWidth(o.Ty))
	}
	m.fail(errors.New("unexpected operand %T", op))
	return Value{}
}

func (m *Machine) symbol(name string) uint64 {
	addr, ok := m.symbols[name]
	if !ok {
		m.fail(errors.Wrap(ErrUnknownSymbol, "%v", name))
	}
	return addr
}

// address computes the effective address of a memory operand
func (m *Machine) address(fr *frame, o *x86.Mem) uint64 {
	if o.IsRebased() {
		m.fail(errors.New("memory operand %v has no frame offset", o))
	}
	var addr uint64
	if o.Base != nil {
		addr += m.readVar(fr, o.Base).Uint64()
	}
	if o.Index != nil {
		addr += m.readVar(fr, o.Index).Uint64() << o.Shift
	}
	switch off := o.Offset.(type) {
	case *ir.ConstInt:
		addr += uint64(off.Value)
	case *ir.ConstRelocatable:
		addr += m.symbol(off.Symbol) + uint64(off.Offset)
	}
	return addr & laneMask(m.word)
}

// write stores to a variable or a memory operand
func (m *Machine) write(fr *frame, op ir.Operand, v Value) {
	switch o := op.(type) {
	case *ir.Variable:
		m.writeVar(fr, o, v)
	case *x86.Mem:
		m.mem.write(m.address(fr, o), typeWidth(o.Ty), v)
	default:
		m.fail(errors.New("write to %T", op))
	}
}

func opWidth(op ir.Operand, word int) int {
	if op.Type() == ir.Void {
		return word
	}
	return typeWidth(op.Type())
}

// exec runs one instruction other than ret
func (m *Machine) exec(fr *frame, inst x86.Inst) control {
	switch i := inst.(type) {
	case *x86.Binop:
		m.writeVar(fr, i.Dst, m.binop(i.Op, i.Dst.Ty, m.readVar(fr, i.Dst), m.read(fr, i.Src)))

	case *x86.ImulImm:
		w := typeWidth(i.Dst.Ty)
		m.writeVar(fr, i.Dst, Uint(m.alu(x86.OpImul, w, m.read(fr, i.Src).Uint64(), uint64(i.Imm.Value))))

	case *x86.Unary:
		m.writeVar(fr, i.Dst, Uint(m.unary(i.Op, typeWidth(i.Dst.Ty), m.readVar(fr, i.Dst).Uint64())))

	case *x86.Mov:
		m.mov(fr, i)

	case *x86.Store:
		v := m.read(fr, i.Value)
		addr, ok := i.Addr.(*x86.Mem)
		if !ok {
			m.fail(errors.New("store to %T", i.Addr))
		}
		n := typeWidth(addr.Ty)
		switch i.Op {
		case x86.StoreP:
			n = 16
		case x86.StoreQ:
			n = 8
		}
		m.mem.write(m.address(fr, addr), n, v)

	case *x86.Lea:
		m.writeVar(fr, i.Dst, Uint(m.address(fr, i.Src)))

	case *x86.Cmp:
		m.compare(fr, i)

	case *x86.Setcc:
		var v uint64
		if m.flags.eval(i.Cond) {
			v = 1
		}
		m.writeVar(fr, i.Dst, Uint(v))

	case *x86.Cmov:
		if m.flags.eval(i.Cond) {
			m.writeVar(fr, i.Dst, m.read(fr, i.Src))
		}

	case *x86.Label, *x86.Nop, *x86.Mfence, *x86.FakeUse, *x86.BundleLock, *x86.BundleUnlock:

	case *x86.Br:
		if !i.IsUnconditional() && !m.flags.eval(i.Cond) {
			if i.False == nil {
				return fallThrough
			}
			return control{block: i.False, jump: true}
		}
		if i.Label != nil {
			return control{label: i.Label, jump: true}
		}
		return control{block: i.True, jump: true}

	case *x86.Jmp:
		return control{addr: m.read(fr, i.Target).Uint64() & laneMask(m.word), jump: true}

	case *x86.Call:
		m.call(fr, i)

	case *x86.Cmpxchg:
		w := typeWidth(i.Eax.Ty)
		addr := m.address(fr, memOf(m, i.Addr))
		old := m.mem.read(addr, w).Uint64()
		eax := m.readVar(fr, i.Eax).Uint64()
		m.alu(x86.OpSub, w, eax, old)
		if m.flags.zf {
			m.mem.write(addr, w, m.readVar(fr, i.Desired))
		}
		m.writeVar(fr, i.Eax, Uint(old))

	case *x86.Cmpxchg8b:
		addr := m.address(fr, memOf(m, i.Addr))
		old := m.mem.read(addr, 8).Uint64()
		want := m.readVar(fr, i.Eax).Uint64() | m.readVar(fr, i.Edx).Uint64()<<32
		if old == want {
			m.flags.zf = true
			m.mem.write(addr, 8, Uint(m.readVar(fr, i.Ebx).Uint64()|m.readVar(fr, i.Ecx).Uint64()<<32))
		} else {
			m.flags.zf = false
			m.writeVar(fr, i.Eax, Uint(old&math.MaxUint32))
			m.writeVar(fr, i.Edx, Uint(old>>32))
		}

	case *x86.Xadd:
		w := typeWidth(i.Src.Ty)
		addr := m.address(fr, memOf(m, i.Addr))
		old := m.mem.read(addr, w).Uint64()
		sum := m.alu(x86.OpAdd, w, old, m.readVar(fr, i.Src).Uint64())
		m.mem.write(addr, w, Uint(sum))
		m.writeVar(fr, i.Src, Uint(old))

	case *x86.Xchg:
		w := typeWidth(i.Src.Ty)
		addr := m.address(fr, memOf(m, i.Addr))
		old := m.mem.read(addr, w)
		m.mem.write(addr, w, m.readVar(fr, i.Src))
		m.writeVar(fr, i.Src, old)

	case *x86.RMW:
		mem := memOf(m, i.Addr)
		w := typeWidth(mem.Ty)
		addr := m.address(fr, mem)
		r := m.alu(i.Op, w, m.mem.read(addr, w).Uint64(), m.read(fr, i.Src).Uint64())
		m.mem.write(addr, w, Uint(r))

	case *x86.Div:
		m.div(fr, i)

	case *x86.Mul:
		w := typeWidth(i.Dst.Ty)
		hi, lo := bits.Mul64(m.readVar(fr, i.Src0).Uint64(), m.read(fr, i.Src1).Uint64()&laneMask(w))
		if w < 8 {
			hi = lo >> (uint(w) * 8)
			lo &= laneMask(w)
		}
		eax, edx := accumulators(w)
		m.writeReg(eax, lo)
		m.writeReg(edx, hi)
		m.flags.cf = hi != 0
		m.flags.of = hi != 0

	case *x86.Cbwdq:
		src := m.readVar(fr, i.Src)
		var v uint64
		if signExtend(typeWidth(i.Src.Ty), src.Uint64()) < 0 {
			v = math.MaxUint64
		}
		m.writeVar(fr, i.Dst, Uint(v))

	case *x86.DoubleShift:
		m.doubleShift(fr, i)

	case *x86.Unop:
		m.unop(fr, i)

	case *x86.Cvt:
		m.writeVar(fr, i.Dst, convert(i.Variant, i.Dst.Ty, i.Src.Type(), m.read(fr, i.Src)))

	case *x86.VecOp:
		m.vecOp(fr, i)

	case *x86.Blend:
		m.writeVar(fr, i.Dst, blend(i.Op, m.readVar(fr, i.Dst), m.read(fr, i.Src), m.readVar(fr, i.Mask)))

	case *x86.Push:
		m.push(m.read(fr, i.Src).Uint64())

	case *x86.Pop:
		m.writeVar(fr, i.Dst, Uint(m.pop()))

	case *x86.Fld:
		v := m.read(fr, i.Src)
		if i.Src.Type() == ir.F32 {
			m.fpush(float64(v.Float32()))
		} else {
			m.fpush(v.Float64())
		}

	case *x86.Fstp:
		f := m.fpop()
		if i.Dst.Type() == ir.F32 {
			m.write(fr, i.Dst, F32(float32(f)))
		} else {
			m.write(fr, i.Dst, F64(f))
		}

	case *x86.UD2:
		m.fail(errors.Wrap(ErrTrap, "%v", fr.fn.Name))

	case *x86.FakeDef:
		if !i.Dst.HasReg() {
			if _, ok := fr.vars[i.Dst]; !ok {
				fr.vars[i.Dst] = Value{}
			}
		}

	case *x86.FakeKill:
		for _, v := range i.Killed {
			m.clobber(v)
		}

	default:
		m.fail(errors.New("cannot execute %T", inst))
	}
	return fallThrough
}

func memOf(m *Machine, op ir.Operand) *x86.Mem {
	mem, ok := op.(*x86.Mem)
	if !ok {
		m.fail(errors.New("expected a memory operand, got %T", op))
	}
	return mem
}

// accumulators returns the eax and edx views of width w
func accumulators(w int) (ir.RegNum, ir.RegNum) {
	ty := intType(w)
	return x86.GPRForType(x86.RAX, ty), x86.GPRForType(x86.RDX, ty)
}

func intType(w int) ir.Type {
	switch w {
	case 1:
		return ir.I8
	case 2:
		return ir.I16
	case 8:
		return ir.I64
	}
	return ir.I32
}

func (m *Machine) mov(fr *frame, i *x86.Mov) {
	src := m.read(fr, i.Src)
	sw := opWidth(i.Src, m.word)
	switch i.Op {
	case x86.MovPlain, x86.MovP:
		m.writeVar(fr, i.Dst, src)
	case x86.MovQ:
		m.writeVar(fr, i.Dst, src.Truncate(8))
	case x86.MovD:
		m.writeVar(fr, i.Dst, src.Truncate(4))
	case x86.Movzx:
		m.writeVar(fr, i.Dst, src.Truncate(sw))
	case x86.Movsx:
		m.writeVar(fr, i.Dst, Int(signExtend(sw, src.Uint64())))
	case x86.MovssRegs:
		d := m.readVar(fr, i.Dst)
		m.writeVar(fr, i.Dst, d.SetLane(4, 0, src.Lane(4, 0)))
	default:
		m.fail(errors.New("mov op %d", i.Op))
	}
}

func (m *Machine) compare(fr *frame, i *x86.Cmp) {
	a, b := m.read(fr, i.Src0), m.read(fr, i.Src1)
	switch i.Op {
	case x86.OpCmp:
		m.alu(x86.OpSub, opWidth(i.Src0, m.word), a.Uint64(), b.Uint64())
	case x86.OpTest:
		m.alu(x86.OpAnd, opWidth(i.Src0, m.word), a.Uint64(), b.Uint64())
	case x86.OpUcomiss:
		var x, y float64
		if i.Src0.Type() == ir.F32 {
			x, y = float64(a.Float32()), float64(b.Float32())
		} else {
			x, y = a.Float64(), b.Float64()
		}
		m.flags = flags{}
		switch {
		case math.IsNaN(x) || math.IsNaN(y):
			m.flags.zf, m.flags.pf, m.flags.cf = true, true, true
		case x < y:
			m.flags.cf = true
		case x == y:
			m.flags.zf = true
		}
	}
}

func (m *Machine) div(fr *frame, i *x86.Div) {
	w := typeWidth(i.Dst.Ty)
	eax, edx := accumulators(w)
	lo, hi := m.readReg(eax), m.readReg(edx)
	d := m.read(fr, i.Divisor).Uint64() & laneMask(w)
	if d == 0 {
		m.fail(errors.Wrap(ErrDivide, "%v: division by zero", fr.fn.Name))
	}
	bitsW := uint(w) * 8

	var q, r uint64
	if i.Op == x86.OpDiv {
		if w == 8 {
			if hi >= d {
				m.fail(errors.Wrap(ErrDivide, "%v: quotient overflow", fr.fn.Name))
			}
			q, r = bits.Div64(hi, lo, d)
		} else {
			n := hi<<bitsW | lo
			q, r = n/d, n%d
			if q > laneMask(w) {
				m.fail(errors.Wrap(ErrDivide, "%v: quotient overflow", fr.fn.Name))
			}
		}
	} else {
		if w == 8 {
			// only sign-extended dividends come out of cqo
			if signExtend(8, lo)>>63 != int64(hi) {
				m.fail(errors.New("%v: 128-bit signed dividend", fr.fn.Name))
			}
			n, sd := int64(lo), int64(d)
			if n == math.MinInt64 && sd == -1 {
				m.fail(errors.Wrap(ErrDivide, "%v: quotient overflow", fr.fn.Name))
			}
			q, r = uint64(n/sd), uint64(n%sd)
		} else {
			n := signExtend(w*2, hi<<bitsW|lo)
			sd := signExtend(w, d)
			sq := n / sd
			if sq != signExtend(w, uint64(sq)) {
				m.fail(errors.Wrap(ErrDivide, "%v: quotient overflow", fr.fn.Name))
			}
			q, r = uint64(sq), uint64(n%sd)
		}
	}
	m.writeReg(eax, q&laneMask(w))
	m.writeReg(edx, r&laneMask(w))
}

func (m *Machine) doubleShift(fr *frame, i *x86.DoubleShift) {
	w := typeWidth(i.Dst.Ty)
	bitsW := uint(w) * 8
	n := uint(m.read(fr, i.Count).Uint64()) & 31
	if w == 8 {
		n = uint(m.read(fr, i.Count).Uint64()) & 63
	}
	if n == 0 {
		return
	}
	d := m.readVar(fr, i.Dst).Uint64()
	s := m.readVar(fr, i.Src).Uint64()
	var r uint64
	if i.Op == x86.OpShld {
		r = d<<n | s>>(bitsW-n)
		m.flags.cf = d>>(bitsW-n)&1 != 0
	} else {
		r = d>>n | s<<(bitsW-n)
		m.flags.cf = d>>(n-1)&1 != 0
	}
	r &= laneMask(w)
	m.setResultFlags(w, r)
	m.writeVar(fr, i.Dst, Uint(r))
}

func (m *Machine) unop(fr *frame, i *x86.Unop) {
	src := m.read(fr, i.Src)
	switch i.Op {
	case x86.OpBsf, x86.OpBsr:
		w := typeWidth(i.Dst.Ty)
		x := src.Uint64() & laneMask(w)
		if x == 0 {
			m.flags.zf = true
			return
		}
		m.flags.zf = false
		if i.Op == x86.OpBsf {
			m.writeVar(fr, i.Dst, Uint(uint64(bits.TrailingZeros64(x))))
		} else {
			m.writeVar(fr, i.Dst, Uint(uint64(63-bits.LeadingZeros64(x))))
		}
	case x86.OpSqrt:
		m.writeVar(fr, i.Dst, floatLanes(i.Dst.Ty, src, Value{}, func(a, _ float64) float64 { return math.Sqrt(a) }))
	}
}

// call runs a function or a helper and returns to the next instruction
func (m *Machine) call(fr *frame, i *x86.Call) {
	if rel, ok := i.Target.(*ir.ConstRelocatable); ok {
		if h, ok := m.Helpers[rel.Symbol]; ok {
			m.callHelper(rel.Symbol, h)
			return
		}
		fn, ok := m.byName[rel.Symbol]
		if !ok {
			m.fail(errors.Wrap(ErrUnknownSymbol, "call %v", rel.Symbol))
		}
		m.invoke(fn)
		return
	}
	addr := m.read(fr, i.Target).Uint64() & laneMask(m.word)
	ref, ok := m.blocks[addr]
	if !ok || ref.block != 0 {
		m.fail(errors.Wrap(ErrBadJump, "call %#x", addr))
	}
	m.invoke(ref.fn)
}
