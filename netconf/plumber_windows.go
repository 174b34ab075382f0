//go:build windows

package netconf

// NewPlumber returns the plumber for this platform.
func NewPlumber(adapter string, runner Runner) Plumber {
	return NewNetshPlumber(adapter, runner)
}
