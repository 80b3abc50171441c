// Package config holds the YAML configuration of a lowering run.
package config

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/lowering"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

var ErrUnknownTarget = errors.New("unknown target")

// Config is the file form of a lowering configuration:
//
//	target: x86-64
//	isa: sse4.1
//	opt: O2
//	sandbox: true
//	randomize:
//	  mode: pool
//	  threshold: 65535
//	  seed: 7
//	switch:
//	  min_jump_table_size: 4
//	  spread: 2
//	nop_probability: 0.1
//	jobs: 4
type Config struct {
	Arch string `yaml:"target"`
	ISA  string `yaml:"isa"`
	Opt  string `yaml:"opt"`

	Sandbox bool `yaml:"sandbox"`

	Randomize Randomize `yaml:"randomize"`
	Switch    Switch    `yaml:"switch"`

	NopProbability   float64 `yaml:"nop_probability"`
	ForceCmpxchgLoop bool    `yaml:"force_cmpxchg_loop"`
	NoBoolFolding    bool    `yaml:"no_bool_folding"`

	Jobs int `yaml:"jobs"`
}

type Randomize struct {
	Mode      string `yaml:"mode"`
	Threshold uint32 `yaml:"threshold"`
	Seed      uint64 `yaml:"seed"`
}

type Switch struct {
	MinJumpTableSize int `yaml:"min_jump_table_size"`
	Spread           int `yaml:"spread"`
}

// Default matches lowering.DefaultOptions on x86-64 with SSE2
func Default() *Config {
	opts := lowering.DefaultOptions()
	return &Config{
		Arch: x86.X8664.String(),
		ISA:  x86.SSE2.String(),
		Opt:  opts.OptLevel.String(),
		Randomize: Randomize{
			Mode:      opts.Randomize.String(),
			Threshold: opts.RandomizeThreshold,
		},
		Switch: Switch{
			MinJumpTableSize: opts.MinJumpTableSize,
			Spread:           opts.JumpTableSpread,
		},
		Jobs: opts.Jobs,
	}
}

// Parse decodes data over the defaults. Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	c := Default()

	if len(data) == 0 {
		return c, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Load reads and parses a config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", path)
	}

	return c, nil
}

// Validate checks every field without building anything
func (c *Config) Validate() error {
	if _, err := c.Target(); err != nil {
		return err
	}
	if _, err := c.Options(); err != nil {
		return err
	}
	return nil
}

// Target builds the target descriptor named by Arch and ISA
func (c *Config) Target() (*x86.Target, error) {
	arch, err := x86.ParseArch(c.Arch)
	if err != nil {
		return nil, errors.Wrap(ErrUnknownTarget, "%q", c.Arch)
	}

	isa, err := x86.ParseISA(c.ISA)
	if err != nil {
		return nil, errors.Wrap(err, "isa")
	}

	return x86.NewTarget(arch, isa), nil
}

// Options converts the config to lowering options
func (c *Config) Options() (opts lowering.Options, err error) {
	opts = lowering.DefaultOptions()

	if opts.OptLevel, err = lowering.ParseOptLevel(c.Opt); err != nil {
		return opts, errors.Wrap(err, "opt")
	}

	if opts.Randomize, err = lowering.ParseRandomizeMode(c.Randomize.Mode); err != nil {
		return opts, errors.Wrap(err, "randomize")
	}

	if c.NopProbability < 0 || c.NopProbability > 1 {
		return opts, errors.New("nop probability %v out of [0, 1]", c.NopProbability)
	}
	if c.Jobs < 0 {
		return opts, errors.New("negative jobs: %d", c.Jobs)
	}

	opts.Sandbox = c.Sandbox
	opts.RandomizeThreshold = c.Randomize.Threshold
	opts.Seed = c.Randomize.Seed
	opts.NopProbability = c.NopProbability
	opts.ForceCmpxchgLoop = c.ForceCmpxchgLoop
	opts.NoBoolFolding = c.NoBoolFolding

	if c.Switch.MinJumpTableSize > 0 {
		opts.MinJumpTableSize = c.Switch.MinJumpTableSize
	}
	if c.Switch.Spread > 0 {
		opts.JumpTableSpread = c.Switch.Spread
	}
	if c.Jobs > 0 {
		opts.Jobs = c.Jobs
	}

	return opts, nil
}
