// Package proc launches and terminates short-lived broker-connected
// execution processes. The shared leader session is tracked elsewhere
// and is never touched from here.
package proc

import (
	"context"
	"os/exec"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Launcher starts a run-scoped execution process.
type Launcher interface {
	// Launch starts the process and returns its pid once started, not
	// once it finishes.
	Launch(ctx context.Context, runID, intentPath, paramsPath string) (int, error)
}

// ExecLauncher launches the configured broker-connected binary.
type ExecLauncher struct {
	Binary string
	Args   []string
}

// NewExecLauncher creates a launcher for the given binary.
func NewExecLauncher(binary string, args ...string) *ExecLauncher {
	return &ExecLauncher{Binary: binary, Args: args}
}

func (l *ExecLauncher) Launch(ctx context.Context, runID, intentPath, paramsPath string) (int, error) {
	args := append([]string(nil), l.Args...)
	args = append(args, "--run-id", runID, "--intents", intentPath, "--params", paramsPath)

	cmd := exec.CommandContext(ctx, l.Binary, args...)
	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "launch execution process")
	}
	pid := cmd.Process.Pid
	logs.Infof("launched execution process run=%s pid=%d", runID, pid)

	// Reap the child when it exits so it cannot linger as a zombie.
	go func() {
		_ = cmd.Wait()
	}()
	return pid, nil
}
