// Package testing provides test utilities for CLI commands.
package testing

import (
	"bytes"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ExecuteCommand runs a cobra command with the given arguments and returns the output.
func ExecuteCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

// ExecuteCommandWithErr runs a cobra command and captures stdout and stderr separately.
func ExecuteCommandWithErr(root *cobra.Command, args ...string) (stdout string, stderr string, err error) {
	stdoutBuf := new(bytes.Buffer)
	stderrBuf := new(bytes.Buffer)
	root.SetOut(stdoutBuf)
	root.SetErr(stderrBuf)
	root.SetArgs(args)

	err = root.Execute()
	return stdoutBuf.String(), stderrBuf.String(), err
}

// CreateTempConfig writes a temporary YAML config file and returns its
// path. The file is removed when the test finishes.
func CreateTempConfig(t *testing.T, content string) string {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "hookrelay-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp config: %v", err)
	}

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		t.Fatalf("failed to write temp config: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("failed to close temp config: %v", err)
	}

	return f.Name()
}

// ResetCommand resets a cobra command for reuse in tests.
func ResetCommand(cmd *cobra.Command) {
	cmd.SetArgs([]string{})
	cmd.SetOut(nil)
	cmd.SetErr(nil)

	// Reset flags to defaults
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
	})
}
