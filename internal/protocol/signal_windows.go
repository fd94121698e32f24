//go:build windows

package protocol

import (
	"fmt"
	"strings"
	"syscall"
)

// ParseSignal only supports termination signals on Windows.
func ParseSignal(name string) (syscall.Signal, error) {
	switch strings.TrimPrefix(strings.ToUpper(name), "SIG") {
	case "TERM", "15":
		return syscall.SIGTERM, nil
	case "KILL", "9":
		return syscall.SIGKILL, nil
	case "INT", "2":
		return syscall.SIGINT, nil
	}

	return 0, fmt.Errorf("unsupported signal %q", name)
}
