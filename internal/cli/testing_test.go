package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

// CLI runs commands against a database in a temp directory.
type CLI struct {
	t   *testing.T
	Dir string
	DB  string
}

func NewCLI(t *testing.T) *CLI {
	t.Helper()

	dir := t.TempDir()
	return &CLI{t: t, Dir: dir, DB: "file:" + filepath.Join(dir, "voton.db")}
}

// Run executes the CLI with the given args and returns stdout, stderr, and exit code.
func (r *CLI) Run(args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	full := append([]string{"--db", r.DB, "--log-level", "error", "--env-file", ""}, args...)
	code := Run(context.Background(), &outBuf, &errBuf, full)
	return outBuf.String(), errBuf.String(), code
}

// MustRun fails the test if the command returns non-zero. Returns trimmed stdout.
func (r *CLI) MustRun(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code != 0 {
		r.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}
	return strings.TrimSpace(stdout)
}

// MustFail fails the test if the command succeeds. Returns trimmed stderr.
func (r *CLI) MustFail(args ...string) string {
	r.t.Helper()

	stdout, stderr, code := r.Run(args...)
	if code == 0 {
		r.t.Fatalf("command %v succeeded, want failure\nstdout: %s", args, stdout)
	}
	return strings.TrimSpace(stderr)
}
