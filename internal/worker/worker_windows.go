package worker

import (
	"os"
	"os/exec"
	"syscall"
)

func newChannel() (*os.File, *os.File, error) {
	return nil, nil, ErrUnsupportedPlatform
}

func initCmd(cmd *exec.Cmd) {
	// No-op on Windows.
}

func signalProcess(int, syscall.Signal) error {
	return ErrUnsupportedPlatform
}

func signalGroup(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return os.ErrProcessDone
	}

	return p.Kill()
}
