package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/raymyers/ralph-x86/pkg/config"
	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/lowering"
	"github.com/raymyers/ralph-x86/pkg/regalloc"
	"github.com/raymyers/ralph-x86/pkg/x86"
	"github.com/raymyers/ralph-x86/pkg/x86sim"
)

var version = "0.1.0"

// ErrNoFunction is returned by --run for a name the module does not define
var ErrNoFunction = errors.New("no such function")

// flags holds the command line. Lowering flags override the config file
// only when given explicitly.
type flags struct {
	configPath string
	verbosity  string

	dIR    bool
	dAsm   bool
	dFrame bool
	dLive  bool

	run     string
	runArgs []string

	target           string
	isa              string
	opt              string
	sandbox          bool
	randomize        string
	threshold        uint32
	seed             uint64
	nopProbability   float64
	minJumpTable     int
	spread           int
	forceCmpxchgLoop bool
	noBoolFolding    bool
	jobs             int
}

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ralph-x86: %v\n", err)
		return 1
	}
	return 0
}

// dumpFlagNames accept the single-dash style of the dump flags
var dumpFlagNames = []string{"dir", "dasm", "dframe", "dlive"}

// normalizeFlags converts single-dash dump flags like -dasm to --dasm
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = arg
		for _, name := range dumpFlagNames {
			if arg == "-"+name {
				result[i] = "--" + name
				break
			}
		}
	}
	return result
}

func (f *flags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&f.verbosity, "verbose", "v", "", "Trace topics (boolfold,rmw,switch,addropt,dump_ir,dump_lowered,...)")

	fs.BoolVar(&f.dIR, "dir", false, "Dump the input IR")
	fs.BoolVar(&f.dAsm, "dasm", false, "Dump lowered assembly (the default output)")
	fs.BoolVar(&f.dFrame, "dframe", false, "Dump the frame layout of every function")
	fs.BoolVar(&f.dLive, "dlive", false, "Dump liveness and interference of lowered code")

	fs.StringVar(&f.run, "run", "", "Execute a lowered function on the simulator")
	fs.StringArrayVarP(&f.runArgs, "arg", "a", nil, "Argument for --run, in order")

	fs.StringVarP(&f.target, "target", "t", "", "Target architecture (x86-32, x86-64)")
	fs.StringVar(&f.isa, "isa", "", "Instruction set level (sse2, sse4.1)")
	fs.StringVarP(&f.opt, "opt", "O", "", "Optimization level (Om1, O2)")
	fs.BoolVar(&f.sandbox, "sandbox", false, "Sandbox control flow and memory")
	fs.StringVar(&f.randomize, "randomize", "", "Constant hiding (none, randomize, pool)")
	fs.Uint32Var(&f.threshold, "randomize-threshold", 0, "Constants above this magnitude are hidden")
	fs.Uint64Var(&f.seed, "seed", 0, "Random seed")
	fs.Float64Var(&f.nopProbability, "nop-probability", 0, "Probability of a nop after each instruction")
	fs.IntVar(&f.minJumpTable, "min-jump-table", 0, "Minimum number of cases in a jump table")
	fs.IntVar(&f.spread, "jump-table-spread", 0, "Maximum value span of a jump table per case")
	fs.BoolVar(&f.forceCmpxchgLoop, "force-cmpxchg-loop", false, "Lower every atomic RMW as a cmpxchg loop")
	fs.BoolVar(&f.noBoolFolding, "no-bool-folding", false, "Do not fuse compares into their consumers")
	fs.IntVarP(&f.jobs, "jobs", "j", 0, "Functions lowered in parallel")
}

// loadConfig reads the config file, if any, and applies the explicit flags
func (f *flags) loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	c := config.Default()
	if f.configPath != "" {
		var err error
		if c, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}

	set("target", func() { c.Arch = f.target })
	set("isa", func() { c.ISA = f.isa })
	set("opt", func() { c.Opt = f.opt })
	set("sandbox", func() { c.Sandbox = f.sandbox })
	set("randomize", func() { c.Randomize.Mode = f.randomize })
	set("randomize-threshold", func() { c.Randomize.Threshold = f.threshold })
	set("seed", func() { c.Randomize.Seed = f.seed })
	set("nop-probability", func() { c.NopProbability = f.nopProbability })
	set("min-jump-table", func() { c.Switch.MinJumpTableSize = f.minJumpTable })
	set("jump-table-spread", func() { c.Switch.Spread = f.spread })
	set("force-cmpxchg-loop", func() { c.ForceCmpxchgLoop = f.forceCmpxchgLoop })
	set("no-bool-folding", func() { c.NoBoolFolding = f.noBoolFolding })
	set("jobs", func() { c.Jobs = f.jobs })

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	var f flags

	rootCmd := &cobra.Command{
		Use:   "ralph-x86 [file.yaml...]",
		Short: "ralph-x86 lowers IR modules to x86 machine instructions",
		Long: `ralph-x86 lowers YAML IR modules to x86-32 or x86-64 machine
instructions before register allocation and prints them in AT&T
syntax. Lowered code can be executed with --run.`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}

			c, err := f.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			if f.verbosity != "" {
				tlog.SetVerbosity(f.verbosity)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = tlog.ContextWithSpan(ctx, tlog.Root())

			for _, a := range args {
				if err := f.process(ctx, c, a, out); err != nil {
					return errors.Wrap(err, "%v", a)
				}
			}

			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	f.bind(rootCmd.Flags())

	return rootCmd
}

// process lowers one module file and writes the requested dumps
func (f *flags) process(ctx context.Context, c *config.Config, path string, out io.Writer) error {
	m, err := ir.LoadModuleFile(path)
	if err != nil {
		return err
	}

	t, err := c.Target()
	if err != nil {
		return err
	}
	opts, err := c.Options()
	if err != nil {
		return err
	}

	if f.dIR {
		ir.NewPrinter(out).PrintModule(m)
	}

	res, err := lowering.TranslateModule(ctx, t, m, opts)
	if err != nil {
		return err
	}

	if f.dFrame {
		for _, r := range res {
			printFrame(out, r)
		}
	}

	if f.dLive {
		for _, r := range res {
			printLiveness(out, t, r)
		}
	}

	if f.run != "" {
		return runFunction(out, t, m, res, f.run, f.runArgs)
	}

	if f.dAsm || !f.dIR && !f.dFrame && !f.dLive {
		p := x86.NewPrinter(out)
		for _, r := range res {
			p.PrintFunction(r.Func)
		}
	}

	return nil
}

func printFrame(w io.Writer, r *lowering.Result) {
	l := r.Layout
	fmt.Fprintf(w, "%s:\n", r.Func.Name)
	fmt.Fprintf(w, "\tframe size: %d\n", l.FrameSize())
	fmt.Fprintf(w, "\tframe pointer: %v\n", l.HasFramePointer())
	fmt.Fprintf(w, "\tstack realignment: %v\n", l.NeedsStackAlignment())
	fmt.Fprintf(w, "\tfixed allocas: %d (align %d)\n", l.FixedAllocaSize(), l.FixedAllocaAlign())
	fmt.Fprintf(w, "\toutgoing args: %d\n", l.MaxOutArgsSize())
	if r.CalleeSave != nil && len(r.CalleeSave.Regs) != 0 {
		names := make([]string, len(r.CalleeSave.Regs))
		for i, reg := range r.CalleeSave.Regs {
			names[i] = x86.RegName(reg)
		}
		fmt.Fprintf(w, "\tpreserved: %s\n", strings.Join(names, ", "))
	}
}

func printLiveness(w io.Writer, t *x86.Target, r *lowering.Result) {
	fn := r.Func
	var preserved []ir.RegNum
	if r.CalleeSave != nil {
		preserved = r.CalleeSave.Regs
	}
	g := regalloc.BuildInterferenceGraph(t, fn, preserved)
	l := g.Liveness

	names := func(vars []*ir.Variable) string {
		s := make([]string, len(vars))
		for i, v := range vars {
			s[i] = v.String()
		}
		return strings.Join(s, " ")
	}

	fmt.Fprintf(w, "%s:\n", fn.Name)
	for _, b := range fn.Blocks {
		fmt.Fprintf(w, "\t%s: in [%s] out [%s]\n", b.Name,
			names(l.Variables(l.LiveIn[b])), names(l.Variables(l.LiveOut[b])))
	}
	for _, v := range l.Vars {
		if v.HasReg() {
			continue
		}
		fmt.Fprintf(w, "\t%v: degree %d", v, g.Degree(v))
		if g.IsLiveAcrossCall(v) {
			fmt.Fprintf(w, ", live across call")
		}
		fmt.Fprintln(w)
	}
}

// runFunction executes name on the simulator and prints its result
func runFunction(w io.Writer, t *x86.Target, m *ir.Module, res []*lowering.Result, name string, args []string) error {
	fn := m.Lookup(name)
	if fn == nil {
		return errors.Wrap(ErrNoFunction, "%v", name)
	}
	if len(args) != len(fn.Args) {
		return errors.New("%v takes %d arguments, got %d", name, len(fn.Args), len(args))
	}

	vals := make([]x86sim.Value, len(args))
	for i, a := range args {
		v, err := parseValue(fn.Args[i].Ty, a)
		if err != nil {
			return errors.Wrap(err, "argument %d", i)
		}
		vals[i] = v
	}

	funcs := make([]*x86.Function, len(res))
	for i, r := range res {
		funcs[i] = r.Func
	}

	sim, err := x86sim.New(t, funcs...)
	if err != nil {
		return err
	}

	v, err := sim.Call(name, vals...)
	if err != nil {
		return errors.Wrap(err, "run %v", name)
	}

	fmt.Fprintln(w, formatValue(fn.ReturnType, v))

	return nil
}

func parseValue(ty ir.Type, s string) (x86sim.Value, error) {
	switch {
	case ty == ir.F32:
		f, err := strconv.ParseFloat(s, 32)
		return x86sim.F32(float32(f)), err
	case ty == ir.F64:
		f, err := strconv.ParseFloat(s, 64)
		return x86sim.F64(f), err
	case ty.IsInteger():
		if x, err := strconv.ParseInt(s, 0, 64); err == nil {
			return x86sim.Int(x), nil
		}
		x, err := strconv.ParseUint(s, 0, 64)
		return x86sim.Uint(x), err
	}
	return x86sim.Value{}, errors.New("unsupported argument type %v", ty)
}

func formatValue(ty ir.Type, v x86sim.Value) string {
	switch {
	case ty == ir.Void:
		return "void"
	case ty == ir.F32:
		return strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32)
	case ty == ir.F64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case ty.IsInteger():
		return strconv.FormatInt(v.Int(ty), 10)
	}
	return v.String()
}
