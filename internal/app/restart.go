package app

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/MrWong99/micvad/internal/config"
)

// Restarter performs the process restart on the fatal path. It is invoked at
// most once per process.
type Restarter interface {
	Restart() error
}

// RestarterFunc adapts a function to [Restarter].
type RestarterFunc func() error

// Restart calls f().
func (f RestarterFunc) Restart() error { return f() }

// NewRestarter returns the [Restarter] for mode. Unknown modes fall back to
// [ExitRestarter].
func NewRestarter(mode config.RestartMode) Restarter {
	if mode == config.RestartExec {
		return &ExecRestarter{}
	}
	return &ExitRestarter{}
}

// ExecRestarter replaces the running process image with a fresh copy of the
// same binary, arguments and environment. The PID is kept, so a supervisor
// does not notice the restart.
type ExecRestarter struct {
	// Exec defaults to [syscall.Exec].
	Exec func(argv0 string, argv []string, envv []string) error

	// Executable defaults to [os.Executable].
	Executable func() (string, error)
}

// Restart execs the current binary. It only returns on failure.
func (r *ExecRestarter) Restart() error {
	exe := r.Executable
	if exe == nil {
		exe = os.Executable
	}
	execFn := r.Exec
	if execFn == nil {
		execFn = syscall.Exec
	}
	path, err := exe()
	if err != nil {
		return fmt.Errorf("app: resolve executable: %w", err)
	}
	slog.Info("restarting", "mode", config.RestartExec, "path", path)
	if err := execFn(path, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("app: exec %s: %w", path, err)
	}
	return nil
}

// ExitRestarter terminates the process with [config.ExitCodeRestart] and
// leaves the restart to a supervisor.
type ExitRestarter struct {
	// Exit defaults to [os.Exit].
	Exit func(code int)
}

// Restart exits the process. With a replaced Exit that returns, Restart
// returns nil.
func (r *ExitRestarter) Restart() error {
	exit := r.Exit
	if exit == nil {
		exit = os.Exit
	}
	slog.Info("restarting", "mode", config.RestartExit, "exit_code", config.ExitCodeRestart)
	exit(config.ExitCodeRestart)
	return nil
}
