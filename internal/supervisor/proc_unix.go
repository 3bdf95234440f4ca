//go:build !windows

package supervisor

import (
	"errors"
	"os"
	"syscall"
)

// processAlive probes pid with signal 0
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func interrupt(p *os.Process) error {
	return p.Signal(os.Interrupt)
}
