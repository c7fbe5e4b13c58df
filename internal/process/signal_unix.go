//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// terminate sends SIGTERM to the child's process group, falling back to the
// child alone when the group is gone.
func terminate(p *os.Process) error {
	err := syscall.Kill(-p.Pid, syscall.SIGTERM)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) {
		return p.Signal(syscall.SIGTERM)
	}
	return err
}
