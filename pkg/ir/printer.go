package ir

import (
	"fmt"
	"io"
	"strings"
)

// Printer outputs IR in the textual syntax accepted by BuildFunction
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new IR printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintModule prints every function
func (p *Printer) PrintModule(m *Module) {
	for i, f := range m.Functions {
		if i > 0 {
			fmt.Fprintln(p.w)
		}
		p.PrintFunction(f)
	}
}

// PrintFunction prints a function header followed by its blocks
func (p *Printer) PrintFunction(f *Function) {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = typed(a)
	}
	fmt.Fprintf(p.w, "func %v %s(%s)\n", f.ReturnType, f.Name, strings.Join(args, ", "))
	for _, b := range f.Blocks {
		fmt.Fprintf(p.w, "%s:\n", b.Name)
		for _, phi := range b.Phis {
			fmt.Fprintf(p.w, "\t%s\n", FormatInst(phi))
		}
		for _, i := range b.Insts {
			fmt.Fprintf(p.w, "\t%s\n", FormatInst(i))
		}
	}
}

func typed(op Operand) string {
	return op.Type().String() + " " + op.String()
}

func joinOps(ops ...Operand) string {
	s := make([]string, len(ops))
	for i, op := range ops {
		s[i] = op.String()
	}
	return strings.Join(s, ", ")
}

func typedArgs(ops []Operand) string {
	s := make([]string, len(ops))
	for i, op := range ops {
		s[i] = typed(op)
	}
	return strings.Join(s, ", ")
}

// FormatInst renders one instruction
func FormatInst(inst Inst) string {
	switch i := inst.(type) {
	case *Alloca:
		return fmt.Sprintf("%v = alloca %v %v, align %d", i.Dst, i.Dst.Ty, i.Size, i.Align)
	case *Arithmetic:
		return fmt.Sprintf("%v = %v %v %s", i.Dst, i.Op, i.Dst.Ty, joinOps(i.Src0, i.Src1))
	case *Assign:
		return fmt.Sprintf("%v = assign %v %v", i.Dst, i.Dst.Ty, i.Src)
	case *Br:
		if i.Cond == nil {
			return fmt.Sprintf("br %v", i.True)
		}
		return fmt.Sprintf("br %v, %v, %v", i.Cond, i.True, i.False)
	case *Cast:
		return fmt.Sprintf("%v = %v %s to %v", i.Dst, i.Op, typed(i.Src), i.Dst.Ty)
	case *Icmp:
		return fmt.Sprintf("%v = icmp.%v %v %s", i.Dst, i.Cond, i.Src0.Type(), joinOps(i.Src0, i.Src1))
	case *Fcmp:
		return fmt.Sprintf("%v = fcmp.%v %v %s", i.Dst, i.Cond, i.Src0.Type(), joinOps(i.Src0, i.Src1))
	case *ExtractElement:
		return fmt.Sprintf("%v = extractelement %v %s", i.Dst, i.Vec.Type(), joinOps(i.Vec, i.Index))
	case *InsertElement:
		return fmt.Sprintf("%v = insertelement %v %s", i.Dst, i.Vec.Type(), joinOps(i.Vec, i.Elem, i.Index))
	case *Load:
		return fmt.Sprintf("%v = load %v %s", i.Dst, i.Dst.Ty, typed(i.Addr))
	case *Store:
		return fmt.Sprintf("store %v %v, %s", i.Value.Type(), i.Value, typed(i.Addr))
	case *Phi:
		in := make([]string, len(i.Incoming))
		for k, x := range i.Incoming {
			in[k] = fmt.Sprintf("[%v, %v]", x.Value, x.Pred)
		}
		return fmt.Sprintf("%v = phi %v %s", i.Dst, i.Dst.Ty, strings.Join(in, ", "))
	case *Select:
		return fmt.Sprintf("%v = select %v %s", i.Dst, i.Dst.Ty, joinOps(i.Cond, i.True, i.False))
	case *Switch:
		var sb strings.Builder
		fmt.Fprintf(&sb, "switch %v %v, %v", i.Src.Type(), i.Src, i.Default)
		for _, c := range i.Cases {
			fmt.Fprintf(&sb, ", [%d, %v]", c.Value, c.Target)
		}
		return sb.String()
	case *Call:
		ret := "void"
		prefix := ""
		if i.Dst != nil {
			ret = i.Dst.Ty.String()
			prefix = i.Dst.String() + " = "
		}
		return fmt.Sprintf("%scall %s %s(%s)", prefix, ret, typed(i.Target), typedArgs(i.Args))
	case *IntrinsicCall:
		ret := "void"
		prefix := ""
		if i.Dst != nil {
			ret = i.Dst.Ty.String()
			prefix = i.Dst.String() + " = "
		}
		return fmt.Sprintf("%sintrinsic %v %s(%s)", prefix, i.ID, ret, typedArgs(i.Args))
	case *Ret:
		if i.Value == nil {
			return "ret"
		}
		return "ret " + typed(i.Value)
	case *Unreachable:
		return "unreachable"
	case *FakeDef:
		return fmt.Sprintf("%v = fakedef %v", i.Dst, i.Dst.Ty)
	case *FakeUse:
		return fmt.Sprintf("fakeuse %s", typed(i.Src))
	}
	return fmt.Sprintf("<%T>", inst)
}
