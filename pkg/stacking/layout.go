// Package stacking computes the x86 activation record layout and builds the
// prolog and epilog around lowered code.
package stacking

import (
	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

var (
	// ErrNotFinalized is raised when frame offsets are read before Finalize
	ErrNotFinalized = errors.New("frame layout not finalized")
	// ErrFinalized is raised when a finalized layout is modified
	ErrFinalized = errors.New("frame layout already finalized")
)

// x86 frame layout (called function's view, addresses grow up):
//
//	+---------------------------+
//	| incoming stack arguments  |
//	| return address            |
//	| saved frame pointer       |  if HasFramePointer
//	| callee-saved registers    |
//	+---------------------------+  <- top of the local area
//	| padding                   |
//	| spill slots               |
//	| fixed allocas             |
//	| outgoing arguments        |
//	+---------------------------+  <- SP after the prolog (aligned)
//
// The local area is everything the prolog reserves with a single stack
// pointer adjustment.

// Layout accumulates frame requirements while a function is lowered and
// computes concrete offsets once Finalize is called.
type Layout struct {
	target *x86.Target

	spillAreaSize  uint32
	spillAreaAlign uint32

	fixedAllocaSize         uint32
	fixedAllocaAlign        uint32
	prologEmitsFixedAllocas bool

	preservedRegsSize uint32

	hasFramePointer     bool
	needsStackAlignment bool

	maxOutArgsSize uint32

	finalized bool

	// computed by Finalize
	localAreaSize uint32
	spillOffset   uint32
}

// NewLayout creates an empty layout for the target
func NewLayout(t *x86.Target) *Layout {
	return &Layout{target: t}
}

func (l *Layout) checkMutable() {
	if l.finalized {
		panic(ErrFinalized)
	}
}

// ReserveFixedAllocaArea records the area the prolog reserves for fixed
// size entry block allocas. Align must be a power of two.
func (l *Layout) ReserveFixedAllocaArea(size, align uint32) {
	l.checkMutable()
	if align == 0 || align&(align-1) != 0 {
		panic(errors.New("fixed alloca alignment %d is not a power of two", align))
	}
	l.fixedAllocaSize = size
	l.fixedAllocaAlign = align
	l.prologEmitsFixedAllocas = true
}

// SetSpillArea records the size and alignment of the spill slots
func (l *Layout) SetSpillArea(size, align uint32) {
	l.checkMutable()
	l.spillAreaSize = size
	l.spillAreaAlign = align
}

// SetPreservedRegsSize records the bytes pushed for callee-saved registers
func (l *Layout) SetPreservedRegsSize(size uint32) {
	l.checkMutable()
	l.preservedRegsSize = size
}

// UpdateMaxOutArgsSize raises the outgoing argument area to at least size
func (l *Layout) UpdateMaxOutArgsSize(size uint32) {
	l.checkMutable()
	if size > l.maxOutArgsSize {
		l.maxOutArgsSize = size
	}
}

// SetHasFramePointer requests a frame pointer based frame
func (l *Layout) SetHasFramePointer() {
	l.checkMutable()
	l.hasFramePointer = true
}

// SetNeedsStackAlignment requests the stack be aligned at call sites
func (l *Layout) SetNeedsStackAlignment() {
	l.checkMutable()
	l.needsStackAlignment = true
}

func (l *Layout) HasFramePointer() bool         { return l.hasFramePointer }
func (l *Layout) NeedsStackAlignment() bool     { return l.needsStackAlignment }
func (l *Layout) PrologEmitsFixedAllocas() bool { return l.prologEmitsFixedAllocas }
func (l *Layout) FixedAllocaSize() uint32       { return l.fixedAllocaSize }
func (l *Layout) FixedAllocaAlign() uint32      { return l.fixedAllocaAlign }
func (l *Layout) MaxOutArgsSize() uint32        { return l.maxOutArgsSize }
func (l *Layout) Finalized() bool               { return l.finalized }

// Finalize computes the concrete layout. Every requirement must be
// recorded before; the layout cannot be modified afterwards.
func (l *Layout) Finalize() {
	if l.finalized {
		return
	}

	word := l.target.WordType.WidthBytes()
	align := l.target.StackAlignment

	// outgoing arguments are stack aligned so the fixed allocas start right above them
	l.maxOutArgsSize = alignUp(l.maxOutArgsSize, align)

	end := l.maxOutArgsSize + alignUp(l.fixedAllocaSize, word)

	spillAlign := l.spillAreaAlign
	if spillAlign < word {
		spillAlign = word
	}
	l.spillOffset = alignUp(end, spillAlign)
	end = l.spillOffset + l.spillAreaSize

	// everything above SP up to the caller's SP, as pushed by the call and the prolog
	above := word + l.preservedRegsSize
	if l.hasFramePointer {
		above += word
	}
	l.localAreaSize = alignUp(end+above, align) - above

	l.finalized = true
}

func (l *Layout) mustBeFinalized() {
	if !l.finalized {
		panic(ErrNotFinalized)
	}
}

// LocalAreaSize returns the bytes the prolog subtracts from the stack pointer
func (l *Layout) LocalAreaSize() uint32 {
	l.mustBeFinalized()
	return l.localAreaSize
}

// SpillAreaOffset returns the stack pointer offset of the first spill slot
func (l *Layout) SpillAreaOffset() uint32 {
	l.mustBeFinalized()
	return l.spillOffset
}

// FixedAllocaOffset returns the offset of the top of the fixed alloca area
// relative to the top of the local area.
func (l *Layout) FixedAllocaOffset() int32 {
	l.mustBeFinalized()
	return int32(l.fixedAllocaSize) - (int32(l.localAreaSize) - int32(l.maxOutArgsSize))
}

// RebasedOffset converts an offset relative to the top of the fixed alloca
// area into an offset from the stack pointer after the prolog.
func (l *Layout) RebasedOffset(offset int64) int64 {
	return offset + int64(l.FixedAllocaOffset()) + int64(l.localAreaSize)
}

// StackPointerOffset converts an offset within a frame area into a
// displacement from the stack pointer after the prolog
func (l *Layout) StackPointerOffset(area x86.FrameArea, offset int64) int64 {
	switch area {
	case x86.FrameFixedAlloca:
		return l.RebasedOffset(offset)
	case x86.FrameSpill:
		return int64(l.SpillAreaOffset()) + offset
	case x86.FrameIncomingArgs:
		return int64(l.FrameSize()) + offset
	}
	return offset
}

// FramePointerOffset converts an offset within a frame area into a
// displacement from the frame pointer. The frame pointer holds the stack
// pointer value right after the saved frame pointer was pushed.
func (l *Layout) FramePointerOffset(area x86.FrameArea, offset int64) int64 {
	l.mustBeFinalized()
	return l.StackPointerOffset(area, offset) - int64(l.preservedRegsSize+l.localAreaSize)
}

// FrameSize returns the distance between the caller's stack pointer at the
// call and the stack pointer after the prolog.
func (l *Layout) FrameSize() uint32 {
	l.mustBeFinalized()
	word := l.target.WordType.WidthBytes()
	size := l.localAreaSize + word + l.preservedRegsSize
	if l.hasFramePointer {
		size += word
	}
	return size
}

// TypeWidthOnStack returns the stack slot size of ty
func (l *Layout) TypeWidthOnStack(ty ir.Type) uint32 {
	return l.target.TypeWidthOnStack(ty)
}

// CallStackArgumentsSize returns the outgoing argument bytes of a call with
// the given argument types, rounded to the stack alignment.
func (l *Layout) CallStackArgumentsSize(argTypes []ir.Type) uint32 {
	return CallStackArgumentsSize(l.target, argTypes)
}

// CallStackArgumentsSize computes the outgoing argument bytes for argTypes
func CallStackArgumentsSize(t *x86.Target, argTypes []ir.Type) uint32 {
	_, size := stackArgs(t, argTypes)
	return alignUp(size, t.StackAlignment)
}

// StackArgOffsets returns the outgoing stack offset of every argument, -1
// for arguments passed in registers.
func StackArgOffsets(t *x86.Target, argTypes []ir.Type) []int32 {
	offsets, _ := stackArgs(t, argTypes)
	return offsets
}

func stackArgs(t *x86.Target, argTypes []ir.Type) ([]int32, uint32) {
	offsets := make([]int32, len(argTypes))
	var size uint32
	gprs, xmms := 0, 0
	for i, ty := range argTypes {
		isXMM := ty.IsVector() || (t.Is64Bit() && ty.IsFloat())
		switch {
		case isXMM && xmms < len(t.ArgXMMs):
			xmms++
			offsets[i] = -1
			continue
		case !isXMM && !ty.IsFloat() && gprs < len(t.ArgGPRs):
			gprs++
			offsets[i] = -1
			continue
		}
		if ty.IsVector() {
			size = alignUp(size, 16)
		}
		offsets[i] = int32(size)
		size += t.TypeWidthOnStack(ty)
	}
	return offsets, size
}

// alignUp rounds n up to the nearest multiple of align
func alignUp(n, align uint32) uint32 {
	if align == 0 {
		return n
	}
	return ((n + align - 1) / align) * align
}
