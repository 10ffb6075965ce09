package gravity

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// Runner executes backend commands. The adapters use it for every
// supervisorctl/systemctl/journalctl invocation so tests can substitute a
// fake instead of spawning real process managers.
type Runner interface {
	// Run executes name with args and returns combined stdout/stderr.
	// A non-zero exit is returned as an error alongside the output.
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands via os/exec with captured output
type ExecRunner struct{}

// Run executes the command and returns its combined output
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.String(), err
}

// commandLine renders a command for error messages
func commandLine(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}
