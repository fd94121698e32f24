//go:build !windows

package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ParseSignal resolves a signal name such as "SIGUSR2", "usr2" or a
// signal number.
func ParseSignal(name string) (syscall.Signal, error) {
	name = strings.TrimSpace(name)

	if num, err := strconv.Atoi(name); err == nil {
		if num <= 0 || unix.SignalName(syscall.Signal(num)) == "" {
			return 0, fmt.Errorf("unknown signal %d", num)
		}

		return syscall.Signal(num), nil
	}

	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "SIG") {
		upper = "SIG" + upper
	}

	sig := unix.SignalNum(upper)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}

	return sig, nil
}
