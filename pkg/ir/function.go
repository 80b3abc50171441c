package ir

// Block is a basic block: phis followed by instructions ending in a terminator
type Block struct {
	Index int
	Name  string
	Phis  []*Phi
	Insts []Inst

	fn *Function
}

// Append adds an instruction to the end of the block and numbers it
func (b *Block) Append(i Inst) Inst {
	b.fn.number(i)
	b.Insts = append(b.Insts, i)
	return i
}

// AddPhi adds a phi node to the block
func (b *Block) AddPhi(p *Phi) *Phi {
	b.fn.number(p)
	b.Phis = append(b.Phis, p)
	return p
}

// Terminator returns the last instruction if it is a terminator
func (b *Block) Terminator() Inst {
	if len(b.Insts) == 0 {
		return nil
	}
	last := b.Insts[len(b.Insts)-1]
	if !IsTerminator(last) {
		return nil
	}
	return last
}

// Succs returns the successor blocks
func (b *Block) Succs() []*Block {
	if t := b.Terminator(); t != nil {
		return Successors(t)
	}
	return nil
}

func (b *Block) String() string { return b.Name }

// Function is one unit of lowering
type Function struct {
	Name       string
	Args       []*Variable
	ReturnType Type
	Blocks     []*Block

	nextVar  int
	nextInst int
}

// NewFunction creates an empty function
func NewFunction(name string, ret Type) *Function {
	return &Function{Name: name, ReturnType: ret}
}

// NewVariable creates a fresh variable. An empty name prints as %vN.
func (f *Function) NewVariable(name string, ty Type) *Variable {
	v := &Variable{ID: f.nextVar, Name: name, Ty: ty, Reg: NoRegister}
	f.nextVar++
	return v
}

// AddArg appends a formal argument
func (f *Function) AddArg(name string, ty Type) *Variable {
	v := f.NewVariable(name, ty)
	f.Args = append(f.Args, v)
	return v
}

// NewBlock appends an empty block
func (f *Function) NewBlock(name string) *Block {
	b := &Block{Index: len(f.Blocks), Name: name, fn: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Entry returns the first block
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NumVariables returns an upper bound of variable IDs
func (f *Function) NumVariables() int { return f.nextVar }

// NumInsts returns an upper bound of instruction numbers
func (f *Function) NumInsts() int { return f.nextInst }

func (f *Function) number(i Inst) {
	type numbered interface{ setNumber(int) }
	i.(numbered).setNumber(f.nextInst)
	f.nextInst++
}

func (i *inst) setNumber(n int) { i.num = n }

// Preds computes the predecessor lists of every block
func (f *Function) Preds() map[*Block][]*Block {
	preds := make(map[*Block][]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		for _, s := range b.Succs() {
			preds[s] = append(preds[s], b)
		}
	}
	return preds
}

// UseCounts counts the uses of every variable, indexed by variable ID
func (f *Function) UseCounts() []int {
	counts := make([]int, f.nextVar)
	count := func(ops []Operand) {
		for _, op := range ops {
			if v, ok := op.(*Variable); ok && v.ID < len(counts) {
				counts[v.ID]++
			}
		}
	}
	for _, b := range f.Blocks {
		for _, p := range b.Phis {
			count(p.Srcs())
		}
		for _, i := range b.Insts {
			count(i.Srcs())
		}
	}
	return counts
}

// Module is a set of functions lowered together
type Module struct {
	Functions []*Function
}

// Lookup returns the function with the given name
func (m *Module) Lookup(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}
