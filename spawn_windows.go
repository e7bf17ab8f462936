//go:build windows

package shmpipe

import (
	"errors"
	"os"
	"os/exec"
	"os/signal"
)

func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt)
}

func waitForExit(cmd *exec.Cmd, role Role) error {
	err := cmd.Wait()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ProcessError{Role: role, ExitCode: exitErr.ExitCode()}
	}
	return err
}

// setExtraFiles is accepted for symmetry; os/exec does not pass extra files
// on Windows, so the spawned process fails its handoff.
func setExtraFiles(cmd *exec.Cmd, extraFiles []*os.File) []int {
	cmd.ExtraFiles = extraFiles
	fds := make([]int, len(extraFiles))
	for i := range extraFiles {
		fds[i] = i + 3
	}
	return fds
}

func terminateProcess(p *os.Process, exited <-chan struct{}) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
