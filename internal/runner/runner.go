// Package runner executes the external tools (git, pip, python) that the
// provisioner drives.
//
// External tools are treated as opaque executables: a command is a binary
// plus a fixed argument list, and the only thing interpreted is the exit
// status. Output is streamed to the configured writers so the operator sees
// pip progress live, while the tail of stderr is kept for error messages.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// stderrTailSize bounds how much stderr is kept for an error message.
// pip can print megabytes on failure; only the end is useful.
const stderrTailSize = 2048

// Command is one external process invocation.
type Command struct {
	// Name is the executable (resolved through PATH when not absolute).
	Name string

	// Args are passed verbatim; no shell is involved.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string
}

// String renders the command line for logs and error messages.
// Arguments containing whitespace or quotes are quoted.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quoteArg(c.Name))
	for _, a := range c.Args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\n\"'") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// Runner runs a Command to completion.
//
// Implementations must return a non-nil error when the command cannot be
// started or exits non-zero.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExitError reports a failed command together with the tail of its stderr.
type ExitError struct {
	Command Command
	Stderr  string
	Err     error
}

// Error names the failed command and its arguments.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Command, e.Err)
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	return msg
}

// Unwrap returns the underlying exec error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit status, or -1 when the process did not
// run to completion (not found, killed, context cancelled).
func (e *ExitError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// ExecRunner runs commands as child processes with os/exec.
type ExecRunner struct {
	stdout io.Writer
	stderr io.Writer
}

// NewExecRunner creates a runner that streams child output to stdout and
// stderr. Nil writers default to os.Stdout and os.Stderr.
func NewExecRunner(stdout, stderr io.Writer) *ExecRunner {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &ExecRunner{stdout: stdout, stderr: stderr}
}

// Run starts the command and waits for it. The process is killed when ctx
// is cancelled.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	// #nosec G204 -- command lines are built internally from fixed argument lists
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir

	tail := &tailBuffer{limit: stderrTailSize}
	c.Stdout = r.stdout
	c.Stderr = io.MultiWriter(r.stderr, tail)

	if err := c.Run(); err != nil {
		return &ExitError{
			Command: cmd,
			Stderr:  strings.TrimSpace(tail.String()),
			Err:     err,
		}
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Recorder is a Runner that executes nothing. It records every command it
// is given, which lets the provisioner produce a plan of what a real run
// would execute.
type Recorder struct {
	Commands []Command
}

// Run records cmd and reports success.
func (r *Recorder) Run(_ context.Context, cmd Command) error {
	r.Commands = append(r.Commands, cmd)
	return nil
}
