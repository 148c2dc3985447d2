package util

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner executes external commands.
type CommandRunner interface {
	// Run executes a command and returns its stdout. On failure the error is
	// a *CommandError carrying stderr.
	Run(ctx context.Context, name string, args ...string) (stdout []byte, err error)

	// WithEnv returns a runner that adds env to every child environment.
	WithEnv(env ...string) CommandRunner
}

// CommandError reports a failed command together with what it wrote to stderr.
type CommandError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// DefaultCommandRunner implements CommandRunner with os/exec.
type DefaultCommandRunner struct {
	env []string
}

// NewCommandRunner creates a runner that inherits the process environment.
func NewCommandRunner() *DefaultCommandRunner {
	return &DefaultCommandRunner{}
}

// WithEnv returns a copy of the runner that appends env to the child
// environment. Later entries override earlier ones with the same key.
func (r *DefaultCommandRunner) WithEnv(env ...string) CommandRunner {
	return &DefaultCommandRunner{env: append(append([]string(nil), r.env...), env...)}
}

func (r *DefaultCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:fslint // CommandRunner is the abstraction layer
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{
			Name:   name,
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}
