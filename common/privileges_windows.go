//go:build windows

package common

import "golang.org/x/sys/windows"

// CheckPrivileges returns ErrRootRequired unless the process token is
// elevated. Adapter addressing, DNS and route changes need it.
func CheckPrivileges() error {
	if !windows.GetCurrentProcessToken().IsElevated() {
		return ErrRootRequired
	}
	return nil
}
