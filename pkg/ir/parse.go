package ir

import (
	"strconv"
	"strings"
	"unicode"

	"tlog.app/go/errors"
)

// ErrUnknownOp is returned for an unrecognized instruction mnemonic
var ErrUnknownOp = errors.New("unknown instruction")

// tokens of the textual instruction syntax
type token struct {
	kind byte // 'w' word, 'v' %var, 's' @sym, 'n' number, or the punctuation byte itself
	text string
}

func lexLine(line string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ';':
			return toks, nil
		case c == ' ' || c == '\t':
			i++
		case strings.IndexByte("=,[]():", c) >= 0:
			toks = append(toks, token{kind: c, text: string(c)})
			i++
		case c == '%' || c == '@':
			j := i + 1
			for j < len(line) && isIdentByte(line[j]) {
				j++
			}
			// @sym+8 and @sym-8
			if c == '@' && j < len(line) && (line[j] == '+' || line[j] == '-') {
				k := j + 1
				for k < len(line) && unicode.IsDigit(rune(line[k])) {
					k++
				}
				if k > j+1 {
					j = k
				}
			}
			if j == i+1 {
				return nil, errors.New("empty name at column %d", i+1)
			}
			kind := byte('v')
			if c == '@' {
				kind = 's'
			}
			toks = append(toks, token{kind: kind, text: line[i+1 : j]})
			i = j
		case c == '-' || unicode.IsDigit(rune(c)):
			j := i + 1
			for j < len(line) && (isIdentByte(line[j]) || line[j] == '+' || line[j] == '-') {
				j++
			}
			toks = append(toks, token{kind: 'n', text: line[i:j]})
			i = j
		case isIdentByte(c):
			j := i + 1
			for j < len(line) && isIdentByte(line[j]) {
				j++
			}
			toks = append(toks, token{kind: 'w', text: line[i:j]})
			i = j
		default:
			return nil, errors.New("unexpected %q at column %d", c, i+1)
		}
	}
	return toks, nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// parser holds the state for one function body
type parser struct {
	fn      *Function
	vars    map[string]*Variable
	defined map[string]bool
	blocks  map[string]*Block
	ptrTy   Type

	toks []token
	pos  int
}

func (p *parser) peek() token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return token{}
}

func (p *parser) next() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) accept(kind byte) bool {
	if p.peek().kind == kind {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind byte) error {
	if t := p.next(); t.kind != kind {
		return errors.New("expected %q, got %q", kind, t.text)
	}
	return nil
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) variable(name string) *Variable {
	if v, ok := p.vars[name]; ok {
		return v
	}
	v := p.fn.NewVariable(name, Void)
	p.vars[name] = v
	return v
}

func (p *parser) define(name string, ty Type) (*Variable, error) {
	if p.defined[name] {
		return nil, errors.New("%%%s redefined", name)
	}
	p.defined[name] = true
	v := p.variable(name)
	v.Ty = ty
	return v, nil
}

func (p *parser) block(name string) (*Block, error) {
	b, ok := p.blocks[name]
	if !ok {
		return nil, errors.New("unknown block %q", name)
	}
	return b, nil
}

func (p *parser) typ() (Type, error) {
	t := p.next()
	if t.kind != 'w' {
		return Void, errors.New("expected type, got %q", t.text)
	}
	return ParseType(t.text)
}

// operand parses [type] value. ctx is the type used for untyped constants.
func (p *parser) operand(ctx Type) (Operand, error) {
	if t := p.peek(); t.kind == 'w' {
		if ty, err := ParseType(t.text); err == nil {
			p.pos++
			ctx = ty
		}
	}
	t := p.next()
	switch t.kind {
	case 'v':
		return p.variable(t.text), nil
	case 's':
		sym, off := t.text, int64(0)
		if k := strings.IndexAny(sym, "+-"); k > 0 {
			n, err := strconv.ParseInt(sym[k:], 10, 64)
			if err != nil {
				return nil, errors.Wrap(err, "symbol offset")
			}
			sym, off = sym[:k], n
		}
		ty := ctx
		if !ty.IsInteger() {
			ty = p.ptrTy
		}
		return &ConstRelocatable{Ty: ty, Symbol: sym, Offset: off}, nil
	case 'n':
		if ctx.IsFloat() {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, errors.Wrap(err, "float constant")
			}
			return &ConstFloat{Ty: ctx, Value: f}, nil
		}
		if strings.ContainsAny(t.text, ".eE") && !strings.HasPrefix(t.text, "0x") {
			return nil, errors.New("float constant %s for type %v", t.text, ctx)
		}
		n, err := strconv.ParseInt(t.text, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(t.text, 0, 64)
			if uerr != nil {
				return nil, errors.Wrap(err, "integer constant")
			}
			n = int64(u)
		}
		if !ctx.IsInteger() {
			ctx = I32
		}
		return Int(ctx, n), nil
	case 'w':
		if t.text == "undef" {
			return &ConstUndef{Ty: ctx}, nil
		}
	}
	return nil, errors.New("expected operand, got %q", t.text)
}

func (p *parser) operands(ctx Type, n int) ([]Operand, error) {
	ops := make([]Operand, 0, n)
	for k := 0; k < n; k++ {
		if k > 0 {
			if err := p.expect(','); err != nil {
				return nil, err
			}
		}
		op, err := p.operand(ctx)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

var (
	arithByName     = map[string]ArithOp{}
	castByName      = map[string]CastOp{}
	icondByName     = map[string]ICond{}
	fcondByName     = map[string]FCond{}
	intrinsicByName = map[string]Intrinsic{}
)

func init() {
	for i, n := range arithNames {
		arithByName[n] = ArithOp(i)
	}
	for i, n := range castNames {
		castByName[n] = CastOp(i)
	}
	for i, n := range icondNames {
		icondByName[n] = ICond(i)
	}
	for i, n := range fcondNames {
		fcondByName[n] = FCond(i)
	}
	for i, n := range intrinsicNames {
		intrinsicByName[n] = Intrinsic(i)
	}
}

// parseInst parses one instruction line into b
func (p *parser) parseInst(b *Block, line string) (err error) {
	p.toks, err = lexLine(line)
	if err != nil {
		return err
	}
	p.pos = 0
	if p.done() {
		return nil
	}

	var dest string
	if p.peek().kind == 'v' && p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == '=' {
		dest = p.next().text
		p.next()
	}

	opTok := p.next()
	if opTok.kind != 'w' {
		return errors.New("expected instruction, got %q", opTok.text)
	}
	name, suffix, _ := strings.Cut(opTok.text, ".")
	aop, isArith := arithByName[opTok.text]
	cop, isCast := castByName[opTok.text]

	needDest := func() error {
		if dest == "" {
			return errors.New("%s needs a destination", name)
		}
		return nil
	}

	var inst Inst
	switch {
	case isArith:
		if err := needDest(); err != nil {
			return err
		}
		ty, err := p.typ()
		if err != nil {
			return err
		}
		ops, err := p.operands(ty, 2)
		if err != nil {
			return err
		}
		d, err := p.define(dest, ty)
		if err != nil {
			return err
		}
		inst = &Arithmetic{Op: aop, Dst: d, Src0: ops[0], Src1: ops[1]}

	case name == "icmp" || name == "fcmp":
		if err := needDest(); err != nil {
			return err
		}
		ty, err := p.typ()
		if err != nil {
			return err
		}
		ops, err := p.operands(ty, 2)
		if err != nil {
			return err
		}
		d, err := p.define(dest, ty.CompareResultType())
		if err != nil {
			return err
		}
		if name == "icmp" {
			c, ok := icondByName[suffix]
			if !ok {
				return errors.New("unknown icmp condition %q", suffix)
			}
			inst = &Icmp{Cond: c, Dst: d, Src0: ops[0], Src1: ops[1]}
		} else {
			c, ok := fcondByName[suffix]
			if !ok {
				return errors.New("unknown fcmp condition %q", suffix)
			}
			inst = &Fcmp{Cond: c, Dst: d, Src0: ops[0], Src1: ops[1]}
		}

	case opTok.text == "assign":
		if err := needDest(); err != nil {
			return err
		}
		ty, err := p.typ()
		if err != nil {
			return err
		}
		src, err := p.operand(ty)
		if err != nil {
			return err
		}
		d, err := p.define(dest, ty)
		if err != nil {
			return err
		}
		inst = &Assign{Dst: d, Src: src}

	case isCast:
		if err := needDest(); err != nil {
			return err
		}
		from, err := p.typ()
		if err != nil {
			return err
		}
		src, err := p.operand(from)
		if err != nil {
			return err
		}
		if t := p.next(); t.text != "to" {
			return errors.New("expected 'to', got %q", t.text)
		}
		to, err := p.typ()
		if err != nil {
			return err
		}
		d, err := p.define(dest, to)
		if err != nil {
			return err
		}
		inst = &Cast{Op: cop, Dst: d, Src: src}

	case opTok.text == "alloca":
		if err := needDest(); err != nil {
			return err
		}
		ty, err := p.typ()
		if err != nil {
			return err
		}
		size, err := p.operand(ty)
		if err != nil {
			return err
		}
		align := uint32(1)
		if p.accept(',') {
			if t := p.next(); t.text != "align" {
				return errors.New("expected 'align', got %q", t.text)
			}
			n, err := strconv.ParseUint(p.next().text, 0, 32)
			if err != nil {
				return errors.Wrap(err, "alignment")
			}
			align = uint32(n)
		}
		d, err := p.define(dest, ty)
		if err != nil {
			return err
		}
		inst = &Alloca{Dst: d, Size: size, Align: align}

	case opTok.text == "load":
		if err := needDest(); err != nil {
			return err
		}
		ty, err := p.typ()
		if err != nil {
			return err
		}
		addr, err := p.operand(p.ptrTy)
		if err != nil {
			return err
		}
		d, err := p.define(dest, ty)
		if err != nil {
			return err
		}
		inst = &Load{Dst: d, Addr: addr}

	case opTok.text == "store":
		ty, err := p.typ()
		if err != nil {
			return err
		}
		val, err := p.operand(ty)
		if err != nil {
			return err
		}
		if err := p.expect(','); err != nil {
			return err
		}
		addr, err := p.operand(p.ptrTy)
		if err != nil {
			return err
		}
		inst = &Store{Value: val, Addr: addr}

	case opTok.text == "select":
		if err := needDest(); err != nil {
			return err
		}
		ty, err := p.typ()
		if err != nil {
			return err
		}
		cond, err := p.operand(ty.CompareResultType())
		if err != nil {
			return err
		}
		if err := p.expect(','); err != nil {
			return err
		}
		ops, err := p.operands(ty, 2)
		if err != nil {
			return err
		}
		d, err := p.define(dest, ty)
		if err != nil {
			return err
		}
		inst = &Select{Dst: d, Cond: cond, True: ops[0], False: ops[1]}

	case opTok.text == "extractelement" || opTok.text == "insertelement":
		if err := needDest(); err != nil {
			return err
		}
		ty, err := p.typ()
		if err != nil {
			return err
		}
		vec, err := p.operand(ty)
		if err != nil {
			return err
		}
		if err := p.expect(','); err != nil {
			return err
		}
		if opTok.text == "extractelement" {
			idx, err := p.operand(I32)
			if err != nil {
				return err
			}
			d, err := p.define(dest, ty.ElementType())
			if err != nil {
				return err
			}
			inst = &ExtractElement{Dst: d, Vec: vec, Index: idx}
			break
		}
		elem, err := p.operand(ty.ElementType())
		if err != nil {
			return err
		}
		if err := p.expect(','); err != nil {
			return err
		}
		idx, err := p.operand(I32)
		if err != nil {
			return err
		}
		d, err := p.define(dest, ty)
		if err != nil {
			return err
		}
		inst = &InsertElement{Dst: d, Vec: vec, Elem: elem, Index: idx}

	case opTok.text == "phi":
		if err := needDest(); err != nil {
			return err
		}
		ty, err := p.typ()
		if err != nil {
			return err
		}
		phi := &Phi{}
		for {
			if err := p.expect('['); err != nil {
				return err
			}
			val, err := p.operand(ty)
			if err != nil {
				return err
			}
			if err := p.expect(','); err != nil {
				return err
			}
			pred, err := p.block(p.next().text)
			if err != nil {
				return err
			}
			if err := p.expect(']'); err != nil {
				return err
			}
			phi.Incoming = append(phi.Incoming, PhiIncoming{Value: val, Pred: pred})
			if !p.accept(',') {
				break
			}
		}
		if phi.Dst, err = p.define(dest, ty); err != nil {
			return err
		}
		if len(b.Insts) != 0 {
			return errors.New("phi after non-phi instruction")
		}
		b.AddPhi(phi)
		return p.trailing()

	case opTok.text == "br":
		if p.peek().kind == 'w' && len(p.toks) == 2 {
			target, err := p.block(p.next().text)
			if err != nil {
				return err
			}
			inst = &Br{True: target}
			break
		}
		cond, err := p.operand(I1)
		if err != nil {
			return err
		}
		if err := p.expect(','); err != nil {
			return err
		}
		t, err := p.block(p.next().text)
		if err != nil {
			return err
		}
		if err := p.expect(','); err != nil {
			return err
		}
		f, err := p.block(p.next().text)
		if err != nil {
			return err
		}
		inst = &Br{Cond: cond, True: t, False: f}

	case opTok.text == "switch":
		ty, err := p.typ()
		if err != nil {
			return err
		}
		src, err := p.operand(ty)
		if err != nil {
			return err
		}
		if err := p.expect(','); err != nil {
			return err
		}
		def, err := p.block(p.next().text)
		if err != nil {
			return err
		}
		sw := &Switch{Src: src, Default: def}
		for p.accept(',') || p.peek().kind == '[' {
			if err := p.expect('['); err != nil {
				return err
			}
			c, err := p.operand(ty)
			if err != nil {
				return err
			}
			ci, ok := c.(*ConstInt)
			if !ok {
				return errors.New("switch case must be an integer constant")
			}
			if err := p.expect(','); err != nil {
				return err
			}
			target, err := p.block(p.next().text)
			if err != nil {
				return err
			}
			if err := p.expect(']'); err != nil {
				return err
			}
			sw.Cases = append(sw.Cases, Case{Value: ci.Value, Target: target})
		}
		inst = sw

	case opTok.text == "call":
		ty, err := p.typ()
		if err != nil {
			return err
		}
		target, err := p.operand(p.ptrTy)
		if err != nil {
			return err
		}
		args, err := p.argList(ty)
		if err != nil {
			return err
		}
		call := &Call{Target: target, Args: args}
		if dest != "" {
			if call.Dst, err = p.define(dest, ty); err != nil {
				return err
			}
		}
		inst = call

	case name == "intrinsic":
		id, ok := intrinsicByName[p.next().text]
		if !ok {
			return errors.New("unknown intrinsic %q", p.toks[p.pos-1].text)
		}
		ty, err := p.typ()
		if err != nil {
			return err
		}
		args, err := p.argList(ty)
		if err != nil {
			return err
		}
		call := &IntrinsicCall{ID: id, Args: args}
		if dest != "" {
			if call.Dst, err = p.define(dest, ty); err != nil {
				return err
			}
		}
		inst = call

	case opTok.text == "ret":
		r := &Ret{}
		if !p.done() {
			ty, err := p.typ()
			if err != nil {
				return err
			}
			if r.Value, err = p.operand(ty); err != nil {
				return err
			}
		}
		inst = r

	case opTok.text == "unreachable":
		inst = &Unreachable{}

	case opTok.text == "fakeuse":
		src, err := p.operand(I32)
		if err != nil {
			return err
		}
		inst = &FakeUse{Src: src}

	case opTok.text == "fakedef":
		if err := needDest(); err != nil {
			return err
		}
		ty, err := p.typ()
		if err != nil {
			return err
		}
		d, err := p.define(dest, ty)
		if err != nil {
			return err
		}
		inst = &FakeDef{Dst: d}

	default:
		return errors.Wrap(ErrUnknownOp, "%q", opTok.text)
	}

	if len(b.Insts) > 0 && IsTerminator(b.Insts[len(b.Insts)-1]) {
		return errors.New("instruction after terminator")
	}
	b.Append(inst)
	return p.trailing()
}

// argList parses "(op, op, ...)"; an empty list is allowed
func (p *parser) argList(ctx Type) ([]Operand, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	var args []Operand
	for !p.accept(')') {
		if len(args) > 0 {
			if err := p.expect(','); err != nil {
				return nil, err
			}
		}
		op, err := p.operand(ctx)
		if err != nil {
			return nil, err
		}
		args = append(args, op)
	}
	return args, nil
}

func (p *parser) trailing() error {
	if !p.done() {
		return errors.New("unexpected %q after instruction", p.peek().text)
	}
	return nil
}

// BlockSource is the textual body of one block
type BlockSource struct {
	Name string
	Code string
}

// FunctionSource is the parsed-form input of BuildFunction
type FunctionSource struct {
	Name        string
	Return      Type
	Args        []string // "i32 %a"
	Blocks      []BlockSource
	PointerType Type
}

// BuildFunction parses a function from its textual blocks
func BuildFunction(src FunctionSource) (*Function, error) {
	fn := NewFunction(src.Name, src.Return)
	p := &parser{
		fn:      fn,
		vars:    map[string]*Variable{},
		defined: map[string]bool{},
		blocks:  map[string]*Block{},
		ptrTy:   src.PointerType,
	}
	if p.ptrTy == Void {
		p.ptrTy = I32
	}

	for _, a := range src.Args {
		tyName, name, ok := strings.Cut(strings.TrimSpace(a), " ")
		name = strings.TrimSpace(name)
		if !ok || !strings.HasPrefix(name, "%") {
			return nil, errors.New("func %v: bad argument %q", src.Name, a)
		}
		ty, err := ParseType(tyName)
		if err != nil {
			return nil, errors.Wrap(err, "func %v: argument %q", src.Name, a)
		}
		v := fn.AddArg(name[1:], ty)
		p.vars[v.Name] = v
		p.defined[v.Name] = true
	}

	for _, bs := range src.Blocks {
		if _, dup := p.blocks[bs.Name]; dup {
			return nil, errors.New("func %v: duplicate block %q", src.Name, bs.Name)
		}
		p.blocks[bs.Name] = fn.NewBlock(bs.Name)
	}

	for k, bs := range src.Blocks {
		b := fn.Blocks[k]
		for n, line := range strings.Split(bs.Code, "\n") {
			if err := p.parseInst(b, line); err != nil {
				return nil, errors.Wrap(err, "func %v: block %v: line %d", src.Name, bs.Name, n+1)
			}
		}
		if b.Terminator() == nil {
			return nil, errors.New("func %v: block %v has no terminator", src.Name, bs.Name)
		}
	}

	for name := range p.vars {
		if !p.defined[name] {
			return nil, errors.New("func %v: use of undefined %%%s", src.Name, name)
		}
	}

	return fn, nil
}
