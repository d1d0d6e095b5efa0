package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProgram(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "program.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const goodProgram = `
version: 1
scan_time_ms: 50
signals:
  - {name: a, type: bool}
  - {name: b, type: bool}
  - {name: q, type: bool}
blocks:
  - name: gate
    kind: AND
    inputs: {in0: a, in1: b}
    outputs: {out: q}
`

func TestValidateGoodProgram(t *testing.T) {
	path := writeProgram(t, goodProgram)
	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "layer 0: gate")
	assert.Contains(t, out, "OK")
}

func TestValidateUnknownKind(t *testing.T) {
	path := writeProgram(t, `
version: 1
scan_time_ms: 50
signals:
  - {name: q, type: bool}
blocks:
  - name: gate
    kind: XYZZY
    outputs: {out: q}
`)
	_, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

func TestValidateMissingFile(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

func TestValidateFeedbackPlan(t *testing.T) {
	path := writeProgram(t, `
version: 1
scan_time_ms: 50
signals:
  - {name: count, type: int}
  - {name: next, type: int}
  - {name: one, type: int, initial: 1}
blocks:
  - name: inc
    kind: ADD
    inputs: {a: count, b: one}
    outputs: {out: next}
  - name: hold
    kind: REG
    inputs: {in: next}
    outputs: {out: count}
`)
	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "feedback: hold -> inc via count")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "scand")
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := execute(t, "run")
	require.Error(t, err)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 0, GetExitCode(nil))
	assert.Equal(t, 130, GetExitCode(NewExitError(ExitInterrupt, "interrupted")))
	assert.Equal(t, 2, GetExitCode(WrapExitError(ExitConfigError, "bad", errors.New("x"))))
	assert.Equal(t, 3, GetExitCode(errors.New("plain")))
}
