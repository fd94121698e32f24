//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package worker

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// newChannel creates a connected socket pair. The first file stays with
// the supervisor, the second is inherited by the worker.
func newChannel() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}

	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])

	// a non-blocking fd is served by the runtime poller, so closing it
	// interrupts a pending read even if a descendant of the worker still
	// holds the other end
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}

	return os.NewFile(uintptr(fds[0]), "hotswap-channel"),
		os.NewFile(uintptr(fds[1]), "hotswap-channel-worker"),
		nil
}

func initCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func signalProcess(pid int, sig syscall.Signal) error {
	return normalizeSignalErr(syscall.Kill(pid, sig))
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pgid, err := syscall.Getpgid(pid); err == nil {
		// Negative pid sends signal to all in process group
		return normalizeSignalErr(syscall.Kill(-pgid, sig))
	}

	return normalizeSignalErr(syscall.Kill(pid, sig))
}

func normalizeSignalErr(err error) error {
	if err == syscall.ESRCH {
		return os.ErrProcessDone
	}

	return err
}
