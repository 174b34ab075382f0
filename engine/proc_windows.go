//go:build windows

package engine

import "os"

// terminate kills the process; Windows has no SIGTERM for console-less children.
func terminate(p *os.Process) error {
	return p.Kill()
}
