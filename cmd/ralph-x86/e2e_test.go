package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// LoweringTestRun executes one function of a case on the simulator
type LoweringTestRun struct {
	Func string   `yaml:"func"`
	Args []string `yaml:"args"`
	Want string   `yaml:"want"`
}

// LoweringTestSpec is one case of testdata/lowering.yaml
type LoweringTestSpec struct {
	Name         string            `yaml:"name"`
	Target       string            `yaml:"target"`
	Opt          string            `yaml:"opt"`
	ISA          string            `yaml:"isa"`
	Flags        []string          `yaml:"flags"`
	Input        string            `yaml:"input"`
	Expect       []string          `yaml:"expect"`
	ExpectOrder  []string          `yaml:"expect_order"`
	ExpectUnique []string          `yaml:"expect_unique"`
	ExpectNot    []string          `yaml:"expect_not"`
	Run          []LoweringTestRun `yaml:"run"`
	Skip         string            `yaml:"skip"`
}

type LoweringTestFile struct {
	Tests []LoweringTestSpec `yaml:"tests"`
}

// args builds the command line for tc on file
func (tc *LoweringTestSpec) args(file string) []string {
	var args []string
	if tc.Target != "" {
		args = append(args, "--target", tc.Target)
	}
	if tc.Opt != "" {
		args = append(args, "-O", tc.Opt)
	}
	if tc.ISA != "" {
		args = append(args, "--isa", tc.ISA)
	}
	args = append(args, tc.Flags...)
	return append(args, file)
}

func execute(t *testing.T, args []string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(normalizeFlags(args))
	err := cmd.Execute()
	require.NoError(t, err, "ralph-x86 %v\nStderr: %s", args, errOut.String())
	return out.String()
}

func TestLoweringYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/lowering.yaml")
	require.NoError(t, err)

	var testFile LoweringTestFile
	require.NoError(t, yaml.Unmarshal(data, &testFile))
	require.NotEmpty(t, testFile.Tests)

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}

			file := filepath.Join(t.TempDir(), "module.yaml")
			require.NoError(t, os.WriteFile(file, []byte(tc.Input), 0o644))

			output := execute(t, tc.args(file))

			for _, exp := range tc.Expect {
				if !strings.Contains(output, exp) {
					t.Errorf("expected output to contain %q\nGot:\n%s", exp, output)
				}
			}

			lastIdx := -1
			for _, exp := range tc.ExpectOrder {
				idx := strings.Index(output, exp)
				if idx == -1 {
					t.Errorf("expected output to contain %q for order check\nGot:\n%s", exp, output)
				} else if idx <= lastIdx {
					t.Errorf("expected %q to appear after previous pattern (position %d vs %d)\nGot:\n%s", exp, idx, lastIdx, output)
				}
				lastIdx = idx
			}

			for _, exp := range tc.ExpectUnique {
				if n := strings.Count(output, exp); n != 1 {
					t.Errorf("expected %q to appear exactly once, found %d times\nGot:\n%s", exp, n, output)
				}
			}

			for _, exp := range tc.ExpectNot {
				if strings.Contains(output, exp) {
					t.Errorf("expected output NOT to contain %q\nGot:\n%s", exp, output)
				}
			}

			for _, r := range tc.Run {
				args := append(tc.args(file), "--run", r.Func)
				for _, a := range r.Args {
					args = append(args, "--arg="+a)
				}
				got := strings.TrimSpace(execute(t, args))
				if got != r.Want {
					t.Errorf("%s(%s) = %s, want %s", r.Func, strings.Join(r.Args, ", "), got, r.Want)
				}
			}
		})
	}
}
