//go:build !linux && !windows

package netconf

import (
	"context"
	"net"

	"github.com/masyavpn/masyavpn/common"
)

// unsupportedPlumber refuses every forward operation.
type unsupportedPlumber struct{}

// NewPlumber returns the plumber for this platform.
func NewPlumber(adapter string, runner Runner) Plumber {
	return unsupportedPlumber{}
}

func (unsupportedPlumber) AssignStaticAddress(context.Context) error {
	return &common.PlumbingError{Op: "assign-address", Err: common.ErrUnsupportedPlatform}
}

func (unsupportedPlumber) RevertStaticAddress(context.Context) {}

func (unsupportedPlumber) AssignDNS(context.Context, Resolvers, string) error {
	return &common.PlumbingError{Op: "assign-dns", Err: common.ErrUnsupportedPlatform}
}

func (unsupportedPlumber) RestoreDNS(context.Context, string) {}

func (unsupportedPlumber) InstallDefaultRoute(context.Context) error {
	return &common.PlumbingError{Op: "add-default-route", Err: common.ErrUnsupportedPlatform}
}

func (unsupportedPlumber) RemoveDefaultRoute(context.Context) {}

func (unsupportedPlumber) InstallExceptionRoute(context.Context, net.IP, net.IP) error {
	return &common.PlumbingError{Op: "add-exception-route", Err: common.ErrUnsupportedPlatform}
}

func (unsupportedPlumber) RemoveExceptionRoute(context.Context, net.IP) {}
