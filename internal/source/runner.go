package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrCommandNotFound is wrapped when the executable is not on PATH
var ErrCommandNotFound = errors.New("command not found")

// Runner executes a command and returns its stdout
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError describes a command that exited non-zero
type CommandError struct {
	Command  []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command failed (%d): %s", e.ExitCode, strings.Join(e.Command, " "))
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Output runs name with args. Stderr is captured for the error only.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, name)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CommandError{
				Command:  append([]string{name}, args...),
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return nil, fmt.Errorf("failed to run %s: %w", name, err)
	}
	return stdout.Bytes(), nil
}
