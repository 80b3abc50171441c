package x86

import (
	"fmt"
	"io"
	"strings"

	"github.com/raymyers/ralph-x86/pkg/ir"
)

// Printer outputs lowered code in AT&T syntax. Variables pinned to a
// physical register print as that register; others print as virtual
// registers.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new assembly printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintBlocks outputs a function body
func (p *Printer) PrintBlocks(name string, blocks []*Block) {
	fmt.Fprintf(p.w, "%s:\n", name)
	for _, b := range blocks {
		fmt.Fprintf(p.w, ".L%s$%s:\n", name, b.Name)
		for _, inst := range b.Insts {
			p.printInstruction(name, inst)
		}
	}
}

// FormatInst renders a single instruction without indentation
func FormatInst(inst Inst) string {
	var sb strings.Builder
	p := NewPrinter(&sb)
	p.printInstruction("", inst)
	return strings.TrimSpace(strings.ReplaceAll(sb.String(), "\t", " "))
}

func reg(v *ir.Variable) string {
	if v.HasReg() {
		return "%" + RegName(v.Reg)
	}
	return v.String()
}

func operand(op ir.Operand) string {
	switch o := op.(type) {
	case *ir.Variable:
		return reg(o)
	case *ir.ConstInt:
		return fmt.Sprintf("$%d", o.Value)
	case *ir.ConstFloat:
		return "$" + o.String()
	case *ir.ConstRelocatable:
		s := "$" + o.Symbol
		if o.Offset > 0 {
			s += fmt.Sprintf("+%d", o.Offset)
		} else if o.Offset < 0 {
			s += fmt.Sprintf("%d", o.Offset)
		}
		return s
	case *Mem:
		return formatMem(o, reg)
	case nil:
		return "<nil>"
	}
	return op.String()
}

func (p *Printer) blockLabel(fn string, b *Block) string {
	if fn == "" {
		return b.Name
	}
	return fmt.Sprintf(".L%s$%s", fn, b.Name)
}

func (p *Printer) printInstruction(fn string, inst Inst) {
	switch i := inst.(type) {
	case *Binop:
		ty := i.Dst.Ty
		src := operand(i.Src)
		if i.Op.IsShift() {
			if v, ok := i.Src.(*ir.Variable); ok && v.HasReg() {
				src = "%cl"
			}
		}
		fmt.Fprintf(p.w, "\t%s\t%s, %s\n", i.Op.Mnemonic(ty), src, reg(i.Dst))
	case *ImulImm:
		fmt.Fprintf(p.w, "\timul%s\t%s, %s, %s\n", SizeSuffix(i.Dst.Ty), operand(i.Imm), operand(i.Src), reg(i.Dst))
	case *Unary:
		fmt.Fprintf(p.w, "\t%s%s\t%s\n", i.Op, SizeSuffix(i.Dst.Ty), reg(i.Dst))
	case *Mov:
		fmt.Fprintf(p.w, "\t%s\t%s, %s\n", movMnemonic(i), operand(i.Src), reg(i.Dst))
	case *Store:
		fmt.Fprintf(p.w, "\t%s\t%s, %s\n", storeMnemonic(i), operand(i.Value), operand(i.Addr))
	case *Lea:
		fmt.Fprintf(p.w, "\tlea%s\t%s, %s\n", SizeSuffix(i.Dst.Ty), operand(i.Src), reg(i.Dst))
	case *Cmp:
		ty := i.Src0.Type()
		switch i.Op {
		case OpCmp:
			fmt.Fprintf(p.w, "\tcmp%s\t%s, %s\n", SizeSuffix(ty), operand(i.Src1), operand(i.Src0))
		case OpTest:
			fmt.Fprintf(p.w, "\ttest%s\t%s, %s\n", SizeSuffix(ty), operand(i.Src1), operand(i.Src0))
		case OpUcomiss:
			fmt.Fprintf(p.w, "\tucomi%s\t%s, %s\n", FloatSuffix(ty), operand(i.Src1), operand(i.Src0))
		}
	case *Setcc:
		fmt.Fprintf(p.w, "\tset%s\t%s\n", i.Cond, reg(i.Dst))
	case *Cmov:
		fmt.Fprintf(p.w, "\tcmov%s\t%s, %s\n", i.Cond, operand(i.Src), reg(i.Dst))
	case *Label:
		fmt.Fprintf(p.w, "%s:\n", i.Name)
	case *Br:
		switch {
		case i.Label != nil:
			if i.IsUnconditional() {
				fmt.Fprintf(p.w, "\tjmp\t%s\n", i.Label.Name)
			} else {
				fmt.Fprintf(p.w, "\tj%s\t%s\n", i.Cond, i.Label.Name)
			}
		case i.IsUnconditional():
			fmt.Fprintf(p.w, "\tjmp\t%s\n", p.blockLabel(fn, i.True))
		default:
			fmt.Fprintf(p.w, "\tj%s\t%s\n", i.Cond, p.blockLabel(fn, i.True))
			if i.False != nil {
				fmt.Fprintf(p.w, "\tjmp\t%s\n", p.blockLabel(fn, i.False))
			}
		}
	case *Jmp:
		fmt.Fprintf(p.w, "\tjmp\t*%s\n", strings.TrimPrefix(operand(i.Target), "$"))
	case *Call:
		if c, ok := i.Target.(*ir.ConstRelocatable); ok {
			fmt.Fprintf(p.w, "\tcall\t%s\n", strings.TrimPrefix(operand(c), "$"))
		} else {
			fmt.Fprintf(p.w, "\tcall\t*%s\n", operand(i.Target))
		}
	case *Ret:
		fmt.Fprintf(p.w, "\tret\n")
	case *Cmpxchg:
		fmt.Fprintf(p.w, "\t%scmpxchg%s\t%s, %s\n", lockPrefix(i.Locked), SizeSuffix(i.Desired.Ty), reg(i.Desired), operand(i.Addr))
	case *Cmpxchg8b:
		fmt.Fprintf(p.w, "\t%scmpxchg8b\t%s\n", lockPrefix(i.Locked), operand(i.Addr))
	case *Xadd:
		fmt.Fprintf(p.w, "\t%sxadd%s\t%s, %s\n", lockPrefix(i.Locked), SizeSuffix(i.Src.Ty), reg(i.Src), operand(i.Addr))
	case *Xchg:
		fmt.Fprintf(p.w, "\txchg%s\t%s, %s\n", SizeSuffix(i.Src.Ty), reg(i.Src), operand(i.Addr))
	case *RMW:
		fmt.Fprintf(p.w, "\t%s%s\t%s, %s\n", lockPrefix(i.Locked), i.Op.Mnemonic(i.Addr.Type()), operand(i.Src), operand(i.Addr))
	case *Div:
		name := "div"
		if i.Op == OpIdiv {
			name = "idiv"
		}
		fmt.Fprintf(p.w, "\t%s%s\t%s\n", name, SizeSuffix(i.Divisor.Type()), operand(i.Divisor))
	case *Mul:
		fmt.Fprintf(p.w, "\tmul%s\t%s\n", SizeSuffix(i.Src1.Type()), operand(i.Src1))
	case *Cbwdq:
		switch i.Src.Ty.WidthBytes() {
		case 1:
			fmt.Fprintf(p.w, "\tcbtw\n")
		case 2:
			fmt.Fprintf(p.w, "\tcwtd\n")
		case 4:
			fmt.Fprintf(p.w, "\tcltd\n")
		default:
			fmt.Fprintf(p.w, "\tcqto\n")
		}
	case *DoubleShift:
		name := "shld"
		if i.Op == OpShrd {
			name = "shrd"
		}
		count := operand(i.Count)
		if v, ok := i.Count.(*ir.Variable); ok && v.HasReg() {
			count = "%cl"
		}
		fmt.Fprintf(p.w, "\t%s%s\t%s, %s, %s\n", name, SizeSuffix(i.Dst.Ty), count, reg(i.Src), reg(i.Dst))
	case *Unop:
		var name string
		switch i.Op {
		case OpBsf:
			name = "bsf" + SizeSuffix(i.Dst.Ty)
		case OpBsr:
			name = "bsr" + SizeSuffix(i.Dst.Ty)
		case OpSqrt:
			if i.Dst.Ty.IsVector() {
				name = "sqrtps"
			} else {
				name = "sqrt" + FloatSuffix(i.Dst.Ty)
			}
		}
		fmt.Fprintf(p.w, "\t%s\t%s, %s\n", name, operand(i.Src), reg(i.Dst))
	case *Cvt:
		fmt.Fprintf(p.w, "\t%s\t%s, %s\n", cvtMnemonic(i), operand(i.Src), reg(i.Dst))
	case *VecOp:
		fmt.Fprintf(p.w, "\t%s\t$%d, %s, %s\n", vecMnemonic(i), i.Imm, operand(i.Src), reg(i.Dst))
	case *Blend:
		name := "blendvps"
		if i.Op == OpPblendvb {
			name = "pblendvb"
		}
		fmt.Fprintf(p.w, "\t%s\t%%xmm0, %s, %s\n", name, operand(i.Src), reg(i.Dst))
	case *Push:
		fmt.Fprintf(p.w, "\tpush\t%s\n", operand(i.Src))
	case *Pop:
		fmt.Fprintf(p.w, "\tpop\t%s\n", reg(i.Dst))
	case *Fld:
		fmt.Fprintf(p.w, "\tfld%s\t%s\n", x87Suffix(i.Src.Type()), operand(i.Src))
	case *Fstp:
		fmt.Fprintf(p.w, "\tfstp%s\t%s\n", x87Suffix(i.Dst.Type()), operand(i.Dst))
	case *Mfence:
		fmt.Fprintf(p.w, "\tmfence\n")
	case *Nop:
		fmt.Fprintf(p.w, "\tnop\t# variant %d\n", i.Variant)
	case *UD2:
		fmt.Fprintf(p.w, "\tud2\n")
	case *FakeDef:
		fmt.Fprintf(p.w, "\t# %s = def.pseudo\n", reg(i.Dst))
	case *FakeUse:
		fmt.Fprintf(p.w, "\t# use.pseudo %s\n", reg(i.Src))
	case *FakeKill:
		names := make([]string, len(i.Killed))
		for k, v := range i.Killed {
			names[k] = reg(v)
		}
		fmt.Fprintf(p.w, "\t# kill.pseudo %s\n", strings.Join(names, ", "))
	case *BundleLock:
		if i.AlignToEnd {
			fmt.Fprintf(p.w, "\t.bundle_lock\talign_to_end\n")
		} else {
			fmt.Fprintf(p.w, "\t.bundle_lock\n")
		}
	case *BundleUnlock:
		fmt.Fprintf(p.w, "\t.bundle_unlock\n")
	default:
		fmt.Fprintf(p.w, "\t# unknown instruction %T\n", inst)
	}
}

func lockPrefix(locked bool) string {
	if locked {
		return "lock "
	}
	return ""
}

func x87Suffix(ty ir.Type) string {
	if ty == ir.F64 {
		return "l"
	}
	return "s"
}

func movMnemonic(i *Mov) string {
	switch i.Op {
	case MovP:
		return "movups"
	case MovQ:
		return "movq"
	case MovD:
		return "movd"
	case MovssRegs:
		return "mov" + FloatSuffix(i.Dst.Ty)
	case Movzx, Movsx:
		if i.Op == Movzx && i.Src.Type().WidthBytes() == 4 {
			// writing a 32-bit register clears the upper half
			return "movl"
		}
		kind := "movz"
		if i.Op == Movsx {
			kind = "movs"
		}
		return kind + SizeSuffix(i.Src.Type()) + SizeSuffix(i.Dst.Ty)
	}
	return plainMov(i.Dst.Ty)
}

func storeMnemonic(i *Store) string {
	switch i.Op {
	case StoreP:
		return "movups"
	case StoreQ:
		return "movq"
	}
	return plainMov(i.Value.Type())
}

func plainMov(ty ir.Type) string {
	switch {
	case ty.IsVector():
		return "movups"
	case ty.IsFloat():
		return "mov" + FloatSuffix(ty)
	}
	return "mov" + SizeSuffix(ty)
}

func cvtMnemonic(i *Cvt) string {
	switch i.Variant {
	case CvtSi2ss:
		return "cvtsi2" + FloatSuffix(i.Dst.Ty) + SizeSuffix(i.Src.Type())
	case CvtTss2si:
		return "cvtt" + FloatSuffix(i.Src.Type()) + "2si" + SizeSuffix(i.Dst.Ty)
	case CvtFloat2float:
		if i.Dst.Ty == ir.F64 {
			return "cvtss2sd"
		}
		return "cvtsd2ss"
	case CvtDq2ps:
		return "cvtdq2ps"
	}
	return "cvttps2dq"
}

func vecMnemonic(i *VecOp) string {
	switch i.Op {
	case OpPshufd:
		return "pshufd"
	case OpShufps:
		return "shufps"
	case OpInsertps:
		return "insertps"
	case OpPinsr:
		return "pinsr" + ElementSuffix(i.Dst.Ty)
	case OpPextr:
		return "pextr" + ElementSuffix(i.Src.Type())
	}
	return "cmpps"
}
