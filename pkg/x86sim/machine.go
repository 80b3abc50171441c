// Package x86sim executes lowered functions instruction by instruction.
//
// Variables that are not pinned to a register live in a per-call frame, so
// lowered code can run before register allocation. Pinned variables share
// the machine's register file with x86 aliasing: a 32-bit write clears the
// upper half, 8 and 16-bit writes merge. Code and read-only data get
// synthetic addresses so that jump tables, indirect calls and sandboxed
// returns work on plain integers.
package x86sim

import (
	"math"

	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/stacking"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// Address space of the machine
const (
	CodeBase   = 0x1000_0000
	ReturnBase = 0x2000_0000
	DataBase   = 0x3000_0000
	StackTop   = 0x7fff_0000
)

// Poison is written to registers a call clobbers
const Poison = 0xdead_beef_dead_beef

var (
	ErrTrap          = errors.New("trap")
	ErrDivide        = errors.New("divide error")
	ErrStepLimit     = errors.New("step limit exceeded")
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrBadJump       = errors.New("jump to a non-code address")
)

// Helper implements a runtime helper function. Args are given with the
// helper's parameter types.
type Helper func(m *Machine, args []Value) Value

// Machine holds the registers, memory and loaded code
type Machine struct {
	t    *x86.Target
	word int

	funcs   []*x86.Function
	byName  map[string]int
	blocks  map[uint64]blockRef
	index   map[*x86.Block]blockRef
	symbols map[string]uint64

	mem     *memory
	dataTop uint64

	gpr   [16]uint64
	xmm   [16]Value
	flags flags
	x87   []float64

	depth int
	steps int

	// MaxSteps bounds the instructions executed by one Call; zero means
	// no bound
	MaxSteps int
	// Helpers implement runtime helpers by symbol
	Helpers map[string]Helper
}

type blockRef struct {
	fn, block int
}

type flags struct {
	cf, zf, sf, of, pf bool
}

func (f flags) eval(c x86.Cond) bool { return c.Eval(f.cf, f.zf, f.sf, f.of, f.pf) }

// fault aborts execution; Call recovers it
type fault struct {
	err error
}

func (m *Machine) fail(err error) {
	panic(fault{err})
}

// New loads funcs into a machine for target t. Jump tables and constant
// pools are placed in the data area.
func New(t *x86.Target, funcs ...*x86.Function) (*Machine, error) {
	m := &Machine{
		t:       t,
		word:    int(t.WordType.WidthBytes()),
		byName:  map[string]int{},
		blocks:  map[uint64]blockRef{},
		index:   map[*x86.Block]blockRef{},
		symbols: map[string]uint64{},
		mem:     newMemory(),
		dataTop: DataBase,
		Helpers: DefaultHelpers(),
	}
	for _, f := range funcs {
		if err := m.Load(f); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Load adds a function, its jump tables and its constant pool
func (m *Machine) Load(f *x86.Function) error {
	fn := len(m.funcs)
	m.funcs = append(m.funcs, f)
	m.byName[f.Name] = fn

	for k, b := range f.Blocks {
		ref := blockRef{fn: fn, block: k}
		m.blocks[blockAddr(fn, k)] = ref
		m.index[b] = ref
	}
	m.symbols[f.Name] = blockAddr(fn, 0)

	for _, jt := range f.JumpTables {
		addr := m.Alloc(len(jt.Targets) * m.word)
		for k, b := range jt.Targets {
			ref, ok := m.index[b]
			if !ok {
				return errors.New("jump table %v: block %v not in %v", jt.Name, b.Name, f.Name)
			}
			m.mem.write(addr+uint64(k*m.word), m.word, Uint(blockAddr(ref.fn, ref.block)))
		}
		m.symbols[jt.Name] = addr
	}

	for _, e := range f.ConstantPool {
		if _, ok := m.symbols[e.Label]; ok {
			continue
		}
		n := typeWidth(e.Ty)
		addr := m.Alloc(n)
		m.mem.write(addr, n, Uint(e.Bits))
		m.symbols[e.Label] = addr
	}
	return nil
}

func blockAddr(fn, block int) uint64 {
	return CodeBase + uint64(fn)<<20 + uint64(block)<<5
}

// DefineSymbol makes name resolve to addr
func (m *Machine) DefineSymbol(name string, addr uint64) { m.symbols[name] = addr }

// Symbol returns the address of a function, table, pool entry or defined symbol
func (m *Machine) Symbol(name string) (uint64, bool) {
	addr, ok := m.symbols[name]
	return addr, ok
}

// Steps returns the number of instructions the last Call executed
func (m *Machine) Steps() int { return m.steps }

// Reg returns the value of a general purpose register viewed at its width
func (m *Machine) Reg(r ir.RegNum) uint64 { return m.readReg(r) }

// Call runs the named function with args passed as the calling convention
// of the target requires and returns its result
func (m *Machine) Call(name string, args ...Value) (res Value, err error) {
	fn, ok := m.byName[name]
	if !ok {
		return Value{}, errors.Wrap(ErrUnknownSymbol, "call %v", name)
	}
	f := m.funcs[fn]
	if len(args) != len(f.ArgTypes) {
		return Value{}, errors.New("call %v: %d arguments, want %d", name, len(args), len(f.ArgTypes))
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		fl, ok := p.(fault)
		if !ok {
			panic(p)
		}
		err = errors.Wrap(fl.err, "call %v", name)
	}()

	m.steps = 0
	m.depth = 0
	m.x87 = m.x87[:0]

	size := stacking.CallStackArgumentsSize(m.t, f.ArgTypes)
	sp := uint64(StackTop) - uint64(alignUp(int(size), 16))
	m.writeReg(m.t.StackPtr, sp)
	m.passArgs(sp, f.ArgTypes, args)

	m.invoke(fn)

	return m.result(f.ReturnType), nil
}

// passArgs places arguments in registers and in the outgoing area at sp
func (m *Machine) passArgs(sp uint64, types []ir.Type, args []Value) {
	offsets := stacking.StackArgOffsets(m.t, types)
	gprs, xmms := 0, 0
	for k, a := range args {
		ty := types[k]
		if offsets[k] >= 0 {
			m.mem.write(sp+uint64(offsets[k]), int(m.t.TypeWidthOnStack(ty)), a)
			continue
		}
		if ty.IsVector() || ty.IsFloat() {
			m.xmm[m.t.ArgXMMs[xmms]-x86.XMM0] = a.Truncate(typeWidth(ty))
			xmms++
			continue
		}
		m.writeReg(x86.GPRForType(m.t.ArgGPRs[gprs], ir.I64), a.Truncate(typeWidth(ty)).Uint64())
		gprs++
	}
}

// args reads the arguments of a helper call from where passArgs puts them
func (m *Machine) args(types []ir.Type) []Value {
	sp := m.readReg(m.t.StackPtr)
	offsets := stacking.StackArgOffsets(m.t, types)
	out := make([]Value, len(types))
	gprs, xmms := 0, 0
	for k, ty := range types {
		switch {
		case offsets[k] >= 0:
			out[k] = m.mem.read(sp+uint64(offsets[k]), typeWidth(ty))
		case ty.IsVector() || ty.IsFloat():
			out[k] = m.xmm[m.t.ArgXMMs[xmms]-x86.XMM0].Truncate(typeWidth(ty))
			xmms++
		default:
			out[k] = Uint(m.readReg(x86.GPRForType(m.t.ArgGPRs[gprs], ty)))
			gprs++
		}
	}
	return out
}

// result reads a return value of type ty
func (m *Machine) result(ty ir.Type) Value {
	switch {
	case ty == ir.Void:
		return Value{}
	case ty.IsVector():
		return m.xmm[0]
	case ty.IsFloat() && !m.t.Is64Bit():
		f := m.fpop()
		if ty == ir.F32 {
			return F32(float32(f))
		}
		return F64(f)
	case ty.IsFloat():
		return m.xmm[0].Truncate(typeWidth(ty))
	case ty == ir.I64 && !m.t.Is64Bit():
		return Uint(m.readReg(x86.EAX) | m.readReg(x86.EDX)<<32)
	}
	return Uint(m.readReg(x86.GPRForType(x86.RAX, ty)))
}

// setResult places a helper's return value where a callee would
func (m *Machine) setResult(ty ir.Type, v Value) {
	switch {
	case ty == ir.Void:
	case ty.IsVector():
		m.xmm[0] = v
	case ty.IsFloat() && !m.t.Is64Bit():
		if ty == ir.F32 {
			m.fpush(float64(v.Float32()))
		} else {
			m.fpush(v.Float64())
		}
	case ty.IsFloat():
		m.xmm[0] = v.Truncate(typeWidth(ty))
	case ty == ir.I64 && !m.t.Is64Bit():
		m.writeReg(x86.EAX, v.Uint64()&math.MaxUint32)
		m.writeReg(x86.EDX, v.Uint64()>>32)
	default:
		m.writeReg(x86.GPRForType(x86.RAX, m.t.WordType), v.Truncate(typeWidth(ty)).Uint64())
	}
}

func (m *Machine) fpush(f float64) { m.x87 = append(m.x87, f) }

func (m *Machine) fpop() float64 {
	if len(m.x87) == 0 {
		m.fail(errors.New("x87 stack underflow"))
	}
	f := m.x87[len(m.x87)-1]
	m.x87 = m.x87[:len(m.x87)-1]
	return f
}

func (m *Machine) push(v uint64) {
	sp := m.readReg(m.t.StackPtr) - uint64(m.word)
	m.writeReg(m.t.StackPtr, sp)
	m.mem.write(sp, m.word, Uint(v))
}

func (m *Machine) pop() uint64 {
	sp := m.readReg(m.t.StackPtr)
	v := m.mem.read(sp, m.word).Uint64()
	m.writeReg(m.t.StackPtr, sp+uint64(m.word))
	return v
}

// invoke pushes a return token and runs function fn until it returns to it
func (m *Machine) invoke(fn int) {
	m.depth++
	defer func() { m.depth-- }()

	token := ReturnBase + uint64(m.depth)<<5
	m.push(token)
	fr := &frame{fn: m.funcs[fn], fnIdx: fn, vars: map[*ir.Variable]Value{}}
	m.run(fr, token)
}

// callHelper runs a helper in place of a call to its symbol
func (m *Machine) callHelper(name string, h Helper) {
	sig, ok := x86.Helpers[name]
	var types []ir.Type
	if ok {
		types = m.t.HelperArgTypes(name)
	}
	res := h(m, m.args(types))
	m.setResult(sig.Ret, res)
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}
