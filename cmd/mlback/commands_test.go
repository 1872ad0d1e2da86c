package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unit = `
(lambda sum :args (g g) :locals 0 :inline never
  (if (eq A0 0) A1 (call SELF (sub A0 1) (add A1 A0))))
(lambda over :args (g) :locals 0 :inline never (add A0 1))
(lambda float :args (d) :locals 0 :inline never A0)
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unit.ir")
	require.NoError(t, os.WriteFile(path, []byte(unit), 0o644))
	for i, a := range args {
		if a == "UNIT" {
			args[i] = path
		}
	}
	cmd := newRootCommand()
	var out, errs bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errs)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 0
}

func TestRun(t *testing.T) {
	out, err := execute(t, "run", "UNIT", "sum", "10", "0")
	require.NoError(t, err)
	assert.Equal(t, "55\n", out)

	out, err = execute(t, "run", "--steps", "UNIT", "sum", "3", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "steps")
}

func TestRunFailures(t *testing.T) {
	_, err := execute(t, "run", "UNIT", "over", "4611686018427387903")
	assert.Equal(t, codeUncaught, exitCode(err))
	assert.ErrorContains(t, err, "uncaught exception 1")

	_, err = execute(t, "run", "UNIT", "float", "1")
	assert.Equal(t, codeNoTarget, exitCode(err))

	_, err = execute(t, "run", "UNIT", "missing")
	assert.ErrorContains(t, err, "no function")

	_, err = execute(t, "run", "UNIT", "sum", "x", "1")
	assert.ErrorContains(t, err, "not a tagged integer")
}

func TestGen(t *testing.T) {
	out, err := execute(t, "gen", "UNIT")
	require.NoError(t, err)
	assert.Contains(t, out, "; sum: generated")
	assert.Contains(t, out, "; float: needs-fallback")
	assert.Contains(t, out, "RET")
}

func TestSimplify(t *testing.T) {
	out, err := execute(t, "simplify", "UNIT")
	require.NoError(t, err)
	assert.Contains(t, out, "; sum:")
	assert.Contains(t, out, "(lambda sum")
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simplify:\n  max_passes: 0\n"), 0o644))
	_, err := execute(t, "--config", path, "gen", "UNIT")
	assert.ErrorContains(t, err, "max_passes")
}
