//go:build !windows

package shmpipe

import (
	"errors"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"
)

// terminateGrace is how long a child gets to exit after SIGTERM before it is killed.
const terminateGrace = 5 * time.Second

// setSignalsForChannel configures the channel to receive SIGINT and SIGTERM.
func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
}

// waitForExit waits for cmd and converts an abnormal exit into *ProcessError.
func waitForExit(cmd *exec.Cmd, role Role) error {
	err := cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ExitCode is -1 when the child was killed by a signal
		return &ProcessError{Role: role, ExitCode: exitErr.ExitCode()}
	}
	return err
}

// setExtraFiles attaches extra files to the command and returns the
// descriptor number each one gets in the child. Extra files start at 3,
// after stdin, stdout and stderr.
func setExtraFiles(cmd *exec.Cmd, extraFiles []*os.File) []int {
	cmd.ExtraFiles = extraFiles
	fds := make([]int, len(extraFiles))
	for i := range extraFiles {
		fds[i] = i + 3
	}
	return fds
}

// terminateProcess sends SIGTERM and escalates to SIGKILL if the process is
// still alive after terminateGrace. exited is closed by the caller's Wait.
func terminateProcess(p *os.Process, exited <-chan struct{}) error {
	if err := p.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}
	select {
	case <-exited:
		return nil
	case <-time.After(terminateGrace):
		return p.Kill()
	}
}
