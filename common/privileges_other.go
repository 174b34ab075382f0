//go:build !windows && !unix

package common

// CheckPrivileges always fails where host networking cannot be managed.
func CheckPrivileges() error {
	return ErrUnsupportedPlatform
}
