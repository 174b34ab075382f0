//go:build !unix && !windows

package engine

import "os"

func terminate(p *os.Process) error {
	return p.Kill()
}
