//go:build windows

package process

import "os"

// terminate kills the process; Windows has no SIGTERM for console children.
func terminate(p *os.Process) error {
	return p.Kill()
}
