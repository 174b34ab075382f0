//go:build unix

package common

import "golang.org/x/sys/unix"

// CheckPrivileges returns ErrRootRequired unless running as root.
// Adapter addressing, DNS and route changes need it.
func CheckPrivileges() error {
	if unix.Geteuid() != 0 {
		return ErrRootRequired
	}
	return nil
}
