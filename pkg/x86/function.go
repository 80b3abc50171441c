package x86

import (
	"fmt"
	"io"
	"math"

	"github.com/raymyers/ralph-x86/pkg/ir"
)

// JumpTable is a read-only table of block addresses indexed by a switch
// value minus the low end of its cluster
type JumpTable struct {
	Name    string
	Targets []*Block
}

// PoolEntry is a constant placed in read-only data and loaded through its label
type PoolEntry struct {
	Label string
	Ty    ir.Type
	// Bits is the encoding of the value in Ty's width
	Bits uint64
}

// PoolLabel returns the constant pool label of a value of type ty
func PoolLabel(ty ir.Type, bits uint64) string {
	return fmt.Sprintf(".L$%v$%x", ty, bits)
}

// Function is a lowered function: its blocks in layout order with the read-only
// data they reference
type Function struct {
	Name       string
	ArgTypes   []ir.Type
	ReturnType ir.Type
	Blocks     []*Block

	JumpTables   []*JumpTable
	ConstantPool []*PoolEntry
}

// Tables returns the jump table target lists
func (f *Function) Tables() [][]*Block {
	tables := make([][]*Block, len(f.JumpTables))
	for i, jt := range f.JumpTables {
		tables[i] = jt.Targets
	}
	return tables
}

// PrintFunction outputs a lowered function followed by its read-only data
func (p *Printer) PrintFunction(f *Function) {
	p.PrintBlocks(f.Name, f.Blocks)
	if len(f.JumpTables) == 0 && len(f.ConstantPool) == 0 {
		return
	}
	fmt.Fprintf(p.w, "\t.section\t.rodata\n")
	for _, jt := range f.JumpTables {
		fmt.Fprintf(p.w, "%s:\n", jt.Name)
		for _, b := range jt.Targets {
			fmt.Fprintf(p.w, "\t.long\t%s\n", p.blockLabel(f.Name, b))
		}
	}
	for _, e := range f.ConstantPool {
		fmt.Fprintf(p.w, "%s:\n", e.Label)
		printPoolValue(p.w, e)
	}
}

func printPoolValue(w io.Writer, e *PoolEntry) {
	switch e.Ty {
	case ir.F32:
		fmt.Fprintf(w, "\t.long\t0x%08x\t# %g\n", e.Bits, math.Float32frombits(uint32(e.Bits)))
	case ir.F64:
		fmt.Fprintf(w, "\t.quad\t0x%016x\t# %g\n", e.Bits, math.Float64frombits(e.Bits))
	case ir.I64:
		fmt.Fprintf(w, "\t.quad\t%d\n", int64(e.Bits))
	case ir.I16:
		fmt.Fprintf(w, "\t.short\t%d\n", int16(e.Bits))
	case ir.I8, ir.I1:
		fmt.Fprintf(w, "\t.byte\t%d\n", int8(e.Bits))
	default:
		fmt.Fprintf(w, "\t.long\t%d\n", int32(e.Bits))
	}
}
