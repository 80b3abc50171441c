package lowering

import (
	"fmt"

	"tlog.app/go/loc"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/stacking"
)

// InternalError reports an instruction the lowering cannot handle: an
// unsupported opcode, width or target combination, or a broken invariant.
type InternalError struct {
	Func  string
	Inst  string
	Msg   string
	Where loc.PC
}

func (e *InternalError) Error() string {
	if e.Inst == "" {
		return fmt.Sprintf("func %s: %s (at %v)", e.Func, e.Msg, e.Where)
	}
	return fmt.Sprintf("func %s: %s: %s (at %v)", e.Func, e.Inst, e.Msg, e.Where)
}

// fatalf aborts lowering of the current function
func (l *Lowering) fatalf(format string, args ...any) {
	e := &InternalError{
		Msg:   fmt.Sprintf(format, args...),
		Where: loc.Caller(1),
	}
	if l.fn != nil {
		e.Func = l.fn.Name
	}
	if l.curInst != nil {
		e.Inst = ir.FormatInst(l.curInst)
	}
	panic(e)
}

// recoverInternal turns an InternalError or a frame layout misuse panic
// into err. Other panics propagate.
func recoverInternal(fn string, err *error) {
	p := recover()
	if p == nil {
		return
	}
	switch e := p.(type) {
	case *InternalError:
		*err = e
	case error:
		if e == stacking.ErrNotFinalized || e == stacking.ErrFinalized {
			*err = &InternalError{Func: fn, Msg: e.Error(), Where: loc.Caller(2)}
			return
		}
		panic(p)
	default:
		panic(p)
	}
}
