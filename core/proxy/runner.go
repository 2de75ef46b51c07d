package proxy

import (
	"context"
	"os/exec"
)

// CommandRunner executes the proxy binary. The indirection exists so tests
// can observe and fail the syntax test and reload steps without a real nginx
// on the machine.
type CommandRunner interface {
	// Run executes the command and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
