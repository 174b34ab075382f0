// Package netconf discovers and mutates host network configuration for the
// tunnel: gateway and interface discovery, endpoint resolution, local port
// allocation, adapter addressing, DNS and routing.
package netconf

import (
	"context"
	"os/exec"
	"strings"

	"github.com/masyavpn/masyavpn/common"
)

// Runner executes an OS configuration command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the host.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	common.HideConsole(cmd)

	common.LogDebug("netconf: %s %s", name, strings.Join(args, " "))
	output, err := cmd.CombinedOutput()
	if err != nil {
		common.LogDebug("netconf: %s failed: %v - %s", name, err, strings.TrimSpace(string(output)))
	}
	return output, err
}

// run executes a forward command and converts a failure into a PlumbingError
// naming op.
func run(ctx context.Context, r Runner, op string, name string, args ...string) error {
	output, err := r.Run(ctx, name, args...)
	if err != nil {
		return &common.PlumbingError{Op: op, Output: string(output), Err: err}
	}
	return nil
}

// runQuiet executes a reverse command. Failures are logged and swallowed.
func runQuiet(ctx context.Context, r Runner, op string, name string, args ...string) {
	if output, err := r.Run(ctx, name, args...); err != nil {
		common.LogWarn("netconf: %s ignored: %v (%s)", op, err, strings.TrimSpace(string(output)))
	}
}
