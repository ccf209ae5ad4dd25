// Package subprocess wraps external command invocation (the container
// builder, the enclave conversion tool) in a small type that captures
// command, args, and stderr, and maps a non-zero exit to a typed error.
// Never swallow stderr.
package subprocess

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/evervault/enclave-cli/internal/log"
)

// BuilderDaemon names the builder CLI used to check daemon reachability and
// run the actual image build (the docker/podman-compatible build tool).
// Shared by internal/orchestrator and internal/describe so both can gate on
// daemon reachability without importing each other.
const BuilderDaemon = "docker"

// ErrDaemonNotRunning is returned when BuilderDaemon cannot be reached.
var ErrDaemonNotRunning = errors.New("subprocess: container builder daemon not running")

// ExitError carries a subprocess's command, arguments, exit code, and
// captured stderr. Satisfies error.
type ExitError struct {
	Cmd      string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("subprocess: %s %v exited %d: %s", e.Cmd, e.Args, e.ExitCode, e.Stderr)
}

// Command runs name with args, streaming stdout to the returned bytes and
// capturing stderr for error reporting. A non-zero exit becomes *ExitError.
func Command(ctx context.Context, name string, args ...string) ([]byte, error) {
	log.L().WithField("cmd", name).WithField("args", args).Debug("subprocess: exec")

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitCode int
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("subprocess: starting %s: %w", name, err)
		}
		return nil, &ExitError{Cmd: name, Args: args, ExitCode: exitCode, Stderr: stderr.String()}
	}

	return stdout.Bytes(), nil
}

// Reachable reports whether name can be invoked at all (used to check the
// external container builder daemon is reachable, e.g. `docker info`).
func Reachable(ctx context.Context, name string, args ...string) error {
	_, err := Command(ctx, name, args...)
	return err
}
