package netconf

import (
	"context"
	"net"
)

// Addressing of the virtual adapter. The bridge and the default route
// override both depend on these values.
const (
	TunnelIPv4       = "192.168.123.1"
	TunnelIPv4Mask   = "255.255.255.0"
	TunnelIPv4Prefix = 24
	TunnelIPv6       = "fd12:3456:789a:1::1"
	TunnelIPv6Prefix = 64

	// RouteMetric is the metric of the override routes through the adapter.
	RouteMetric = 1
)

// Resolvers is the active DNS provider: primary and secondary per family.
type Resolvers struct {
	IPv4 []string
	IPv6 []string
}

// Plumber mutates host networking for the tunnel. Forward operations return
// a *common.PlumbingError naming the failed sub-step, after undoing the
// sub-steps they already applied. Reverse operations are best-effort and
// never fail.
type Plumber interface {
	// AssignStaticAddress sets the fixed IPv4 /24 and ULA IPv6 /64 on the adapter.
	AssignStaticAddress(ctx context.Context) error
	// RevertStaticAddress returns the adapter to automatic addressing.
	RevertStaticAddress(ctx context.Context)

	// AssignDNS points the adapter at res for both families and, when
	// physical is not empty, mirrors the IPv4 pair onto that interface.
	// The resolver cache is flushed afterward.
	AssignDNS(ctx context.Context, res Resolvers, physical string) error
	// RestoreDNS returns the adapter and physical to their previous DNS.
	RestoreDNS(ctx context.Context, physical string)

	// InstallDefaultRoute sends all IPv4 and IPv6 traffic through the
	// adapter, outranking the existing default route without removing it.
	InstallDefaultRoute(ctx context.Context) error
	// RemoveDefaultRoute deletes the override routes.
	RemoveDefaultRoute(ctx context.Context)

	// InstallExceptionRoute adds a /32 host route for server via gateway.
	InstallExceptionRoute(ctx context.Context, server, gateway net.IP) error
	// RemoveExceptionRoute deletes the host route for server.
	RemoveExceptionRoute(ctx context.Context, server net.IP)
}

func pair(addrs []string) (string, string) {
	switch len(addrs) {
	case 0:
		return "", ""
	case 1:
		return addrs[0], ""
	default:
		return addrs[0], addrs[1]
	}
}
