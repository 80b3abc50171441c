package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/lowering"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	opts, err := c.Options()
	require.NoError(t, err)
	assert.Equal(t, lowering.DefaultOptions(), opts)

	tg, err := c.Target()
	require.NoError(t, err)
	assert.Equal(t, x86.X8664, tg.Arch)
	assert.Equal(t, x86.SSE2, tg.ISA)
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
target: x86-32
isa: sse4.1
opt: Om1
sandbox: true
randomize:
  mode: pool
  threshold: 255
  seed: 7
switch:
  min_jump_table_size: 6
  spread: 3
nop_probability: 0.25
force_cmpxchg_loop: true
jobs: 2
`))
	require.NoError(t, err)

	tg, err := c.Target()
	require.NoError(t, err)
	assert.Equal(t, x86.X8632, tg.Arch)
	assert.True(t, tg.HasSSE41())

	opts, err := c.Options()
	require.NoError(t, err)
	assert.Equal(t, lowering.Om1, opts.OptLevel)
	assert.True(t, opts.Sandbox)
	assert.Equal(t, lowering.RandomizePool, opts.Randomize)
	assert.EqualValues(t, 255, opts.RandomizeThreshold)
	assert.EqualValues(t, 7, opts.Seed)
	assert.Equal(t, 6, opts.MinJumpTableSize)
	assert.Equal(t, 3, opts.JumpTableSpread)
	assert.Equal(t, 0.25, opts.NopProbability)
	assert.True(t, opts.ForceCmpxchgLoop)
	assert.False(t, opts.NoBoolFolding)
	assert.Equal(t, 2, opts.Jobs)
}

func TestParseKeepsDefaults(t *testing.T) {
	c, err := Parse([]byte("sandbox: true\n"))
	require.NoError(t, err)

	want := Default()
	want.Sandbox = true
	assert.Equal(t, want, c)

	c, err = Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "targte: x86-64\n"},
		{"bad yaml", "target: [x86-64\n"},
		{"opt", "opt: O3\n"},
		{"isa", "isa: avx512\n"},
		{"randomize", "randomize:\n  mode: shuffle\n"},
		{"nop probability", "nop_probability: 1.5\n"},
		{"jobs", "jobs: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestUnknownTarget(t *testing.T) {
	_, err := Parse([]byte("target: arm64\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTarget), "%v", err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ralph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target: i386\nopt: O2\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	tg, err := c.Target()
	require.NoError(t, err)
	assert.Equal(t, x86.X8632, tg.Arch)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
