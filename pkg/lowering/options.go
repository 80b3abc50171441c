package lowering

import (
	"runtime"

	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/switchcase"
)

// OptLevel selects the lowering pipeline
type OptLevel uint8

const (
	// Om1 lowers every instruction independently
	Om1 OptLevel = iota
	// O2 enables folding, coalescing and address-mode optimizations
	O2
)

func (o OptLevel) String() string {
	if o == O2 {
		return "O2"
	}
	return "Om1"
}

// ParseOptLevel parses "Om1", "O2" and their lowercase forms
func ParseOptLevel(s string) (OptLevel, error) {
	switch s {
	case "Om1", "om1", "-1", "0":
		return Om1, nil
	case "O2", "o2", "2":
		return O2, nil
	}
	return 0, errors.New("unknown optimization level %q", s)
}

// RandomizeMode selects how large immediates are hidden from the encoding
type RandomizeMode uint8

const (
	RandomizeNone RandomizeMode = iota
	// RandomizeBlind loads v+cookie and subtracts the cookie with lea
	RandomizeBlind
	// RandomizePool loads the constant from a read-only pool label
	RandomizePool
)

func (m RandomizeMode) String() string {
	switch m {
	case RandomizeBlind:
		return "randomize"
	case RandomizePool:
		return "pool"
	}
	return "none"
}

// ParseRandomizeMode parses a mode as printed by RandomizeMode.String
func ParseRandomizeMode(s string) (RandomizeMode, error) {
	switch s {
	case "", "none":
		return RandomizeNone, nil
	case "randomize", "blind":
		return RandomizeBlind, nil
	case "pool":
		return RandomizePool, nil
	}
	return 0, errors.New("unknown randomization mode %q", s)
}

// Options controls a lowering run
type Options struct {
	OptLevel OptLevel
	// Sandbox enables bundle-aligned control flow and, on x86-64, sandboxed
	// memory references
	Sandbox bool

	Randomize RandomizeMode
	// RandomizeThreshold is the magnitude above which constants are randomized
	RandomizeThreshold uint32
	// Seed initializes the per-function random source
	Seed uint64
	// NopProbability is the chance of a nop after each instruction
	NopProbability float64

	MinJumpTableSize int
	// JumpTableSpread bounds the value span of a jump table to Spread times
	// its number of cases
	JumpTableSpread int

	// ForceCmpxchgLoop lowers every atomic read-modify-write as a cmpxchg loop
	ForceCmpxchgLoop bool
	// NoBoolFolding disables fusing compares into their consumers at O2
	NoBoolFolding bool

	// Jobs bounds the number of functions lowered in parallel
	Jobs int
}

// DefaultOptions returns the O2 configuration without hardening
func DefaultOptions() Options {
	return Options{
		OptLevel:           O2,
		RandomizeThreshold: 0xffff,
		MinJumpTableSize:   4,
		JumpTableSpread:    2,
		Jobs:               runtime.GOMAXPROCS(0),
	}
}

func (o *Options) switchOptions() switchcase.Options {
	opts := switchcase.DefaultOptions()
	if o.MinJumpTableSize > 0 {
		opts.MinJumpTableSize = o.MinJumpTableSize
	}
	if o.JumpTableSpread > 0 {
		opts.Spread = o.JumpTableSpread
	}
	return opts
}
