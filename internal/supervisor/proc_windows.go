//go:build windows

package supervisor

import (
	"os"
)

// processAlive reports whether a handle to pid can be opened
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

// interrupt kills the process; Windows has no SIGINT for other processes
func interrupt(p *os.Process) error {
	return p.Kill()
}
