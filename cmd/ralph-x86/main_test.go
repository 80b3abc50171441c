package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"tlog.app/go/errors"

	"github.com/raymyers/ralph-x86/pkg/config"
)

const incModule = `functions:
  - name: inc
    return: i32
    args: [i32 %x]
    blocks:
      - name: entry
        code: |
          %r = add i32 %x, 1
          ret i32 %r
  - name: ratio
    return: f32
    args: [f32 %a, f32 %b]
    blocks:
      - name: entry
        code: |
          %r = fdiv f32 %a, %b
          ret f32 %r
`

func writeModule(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "m.yaml")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)

	expected := []string{"dir", "dasm", "dframe", "dlive", "config", "target", "isa", "opt", "sandbox",
		"randomize", "randomize-threshold", "seed", "nop-probability", "min-jump-table",
		"jump-table-spread", "force-cmpxchg-loop", "no-bool-folding", "jobs", "run", "arg", "verbose"}
	for _, name := range expected {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag --%s to exist", name)
		}
	}
}

func TestNoArgsPrintsHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Errorf("expected usage, got %q", out.String())
	}
}

func TestDefaultOutputIsAssembly(t *testing.T) {
	path := writeModule(t, incModule)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v\nStderr: %s", err, errOut.String())
	}

	for _, want := range []string{"inc:", ".Linc$entry:", "ratio:", "divss"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected output to contain %q\nGot:\n%s", want, out.String())
		}
	}
}

func TestRunFunction(t *testing.T) {
	path := writeModule(t, incModule)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"x86-64 int", []string{"--run", "inc", "--arg=41"}, "42"},
		{"x86-32 int", []string{"-t", "x86-32", "--run", "inc", "--arg=-1"}, "0"},
		{"hex", []string{"--run", "inc", "--arg=0x7fffffff"}, "-2147483648"},
		{"x86-64 float", []string{"--run", "ratio", "--arg=1", "--arg=4"}, "0.25"},
		{"x86-32 float", []string{"-t", "i386", "-O", "Om1", "--run", "ratio", "--arg=3", "--arg=-2"}, "-1.5"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			cmd := newRootCmd(&out, &errOut)
			cmd.SetArgs(append(tc.args, path))
			if err := cmd.Execute(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := strings.TrimSpace(out.String()); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRunErrors(t *testing.T) {
	path := writeModule(t, incModule)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown function", []string{"--run", "dec", "--arg=1"}},
		{"argument count", []string{"--run", "inc"}},
		{"bad argument", []string{"--run", "inc", "--arg=one"}},
		{"bad target", []string{"--target", "mips"}},
		{"bad opt", []string{"-O", "O3"}},
		{"missing file", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			cmd := newRootCmd(&out, &errOut)
			file := path
			if tc.args == nil {
				file = filepath.Join(t.TempDir(), "missing.yaml")
			}
			cmd.SetArgs(append(tc.args, file))
			if err := cmd.Execute(); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}

func TestUnknownFunctionError(t *testing.T) {
	path := writeModule(t, incModule)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--run", "dec", path})
	err := cmd.Execute()
	if !errors.Is(err, ErrNoFunction) {
		t.Errorf("expected ErrNoFunction, got %v", err)
	}
}

func TestUnknownTargetError(t *testing.T) {
	path := writeModule(t, incModule)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--target", "arm64", path})
	err := cmd.Execute()
	if !errors.Is(err, config.ErrUnknownTarget) {
		t.Errorf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	module := writeModule(t, incModule)
	cfg := filepath.Join(dir, "ralph.yaml")
	if err := os.WriteFile(cfg, []byte("target: x86-32\nsandbox: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("file values", func(t *testing.T) {
		var out, errOut bytes.Buffer
		cmd := newRootCmd(&out, &errOut)
		cmd.SetArgs([]string{"--config", cfg, module})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), ".bundle_lock") {
			t.Errorf("expected sandboxed output\nGot:\n%s", out.String())
		}
		if strings.Contains(out.String(), "%r15") {
			t.Errorf("expected x86-32 output\nGot:\n%s", out.String())
		}
	})

	t.Run("flags override", func(t *testing.T) {
		var out, errOut bytes.Buffer
		cmd := newRootCmd(&out, &errOut)
		cmd.SetArgs([]string{"--config", cfg, "--sandbox=false", module})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(out.String(), ".bundle_lock") {
			t.Errorf("expected unsandboxed output\nGot:\n%s", out.String())
		}
	})
}

func TestLoadConfigOverrides(t *testing.T) {
	var f flags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f.bind(fs)
	if err := fs.Parse([]string{"-t", "x86-32", "--seed", "5", "-j", "3", "--randomize", "pool"}); err != nil {
		t.Fatal(err)
	}

	c, err := f.loadConfig(fs)
	if err != nil {
		t.Fatal(err)
	}

	want := config.Default()
	want.Arch = "x86-32"
	want.Randomize.Seed = 5
	want.Randomize.Mode = "pool"
	want.Jobs = 3
	if !reflect.DeepEqual(c, want) {
		t.Errorf("got %+v, want %+v", c, want)
	}
}

func TestNormalizeFlags(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "single-dash dasm",
			input:    []string{"-dasm", "m.yaml"},
			expected: []string{"--dasm", "m.yaml"},
		},
		{
			name:     "double-dash dframe unchanged",
			input:    []string{"--dframe", "m.yaml"},
			expected: []string{"--dframe", "m.yaml"},
		},
		{
			name:     "mixed flags",
			input:    []string{"m.yaml", "-dir", "-dframe"},
			expected: []string{"m.yaml", "--dir", "--dframe"},
		},
		{
			name:     "other flags unchanged",
			input:    []string{"-O", "O2", "-t", "x86-32", "m.yaml"},
			expected: []string{"-O", "O2", "-t", "x86-32", "m.yaml"},
		},
		{
			name:     "no flags",
			input:    []string{"m.yaml"},
			expected: []string{"m.yaml"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := normalizeFlags(tc.input)
			if !reflect.DeepEqual(result, tc.expected) {
				t.Errorf("normalizeFlags(%v) = %v, want %v", tc.input, result, tc.expected)
			}
		})
	}
}
