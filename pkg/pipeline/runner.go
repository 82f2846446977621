package pipeline

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ExecRunner runs stage commands as child processes.
type ExecRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
	// Stdout and Stderr receive the command output. When Stderr is nil the
	// output is kept and its tail is attached to the error of a failed command.
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.SugaredLogger
}

const stderrTailLines = 20

// Run executes each command of the stage in order and stops at the first failure.
func (r *ExecRunner) Run(ctx context.Context, stage Stage) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	for _, argv := range stage.Commands {
		if len(argv) == 0 {
			continue
		}
		logger.Debugw("running command", "stage", stage.Name, "argv", argv)

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = r.Dir
		if len(r.Env) > 0 {
			cmd.Env = append(cmd.Environ(), r.Env...)
		}
		cmd.Stdout = r.Stdout
		var captured bytes.Buffer
		if r.Stderr != nil {
			cmd.Stderr = r.Stderr
		} else {
			cmd.Stderr = &captured
		}

		if err := cmd.Run(); err != nil {
			if tail := lastLines(captured.String(), stderrTailLines); tail != "" {
				return errors.Wrapf(err, "%s: %s", argv[0], tail)
			}
			return errors.Wrap(err, argv[0])
		}
	}
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
