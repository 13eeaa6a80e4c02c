package netconf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner runs an external command.
type Runner interface {
	Run(ctx context.Context, argv ...string) error
}

// ExecRunner runs commands with os/exec and logs their combined output.
type ExecRunner struct {
	Logger *slog.Logger
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, argv ...string) error {
	if len(argv) == 0 {
		return fmt.Errorf("netconf: empty command")
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if output := strings.TrimSpace(out.String()); output != "" {
		logger.Debug("script output", "command", argv[0], "output", output)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", strings.Join(argv, " "), err)
	}
	return nil
}
