//go:build windows

package infra

import "os"

// FindProcess opens a handle on Windows and fails for unknown pids.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}
