package netconf

import (
	"context"
	"fmt"
	"net"
)

// NetshPlumber configures Windows networking with netsh and route.
// A forward operation that fails partway reverts the sub-steps it already
// applied before returning.
type NetshPlumber struct {
	adapter string
	runner  Runner
}

// NewNetshPlumber creates a plumber for the named adapter.
func NewNetshPlumber(adapter string, runner Runner) *NetshPlumber {
	return &NetshPlumber{adapter: adapter, runner: runner}
}

func (p *NetshPlumber) AssignStaticAddress(ctx context.Context) error {
	if err := run(ctx, p.runner, "assign-ipv4-address", "netsh", "interface", "ipv4", "set", "address",
		"name="+p.adapter, "source=static", "addr="+TunnelIPv4, "mask="+TunnelIPv4Mask); err != nil {
		return err
	}
	if err := run(ctx, p.runner, "assign-ipv6-address", "netsh", "interface", "ipv6", "set", "address",
		"interface="+p.adapter, fmt.Sprintf("address=%s/%d", TunnelIPv6, TunnelIPv6Prefix), "store=persistent"); err != nil {
		p.revertIPv4Address(ctx)
		return err
	}
	return nil
}

func (p *NetshPlumber) RevertStaticAddress(ctx context.Context) {
	p.revertIPv4Address(ctx)
	runQuiet(ctx, p.runner, "revert-ipv6-address", "netsh", "interface", "ipv6", "delete", "address",
		"interface="+p.adapter, "address="+TunnelIPv6)
}

func (p *NetshPlumber) revertIPv4Address(ctx context.Context) {
	runQuiet(ctx, p.runner, "revert-ipv4-address", "netsh", "interface", "ipv4", "set", "address",
		"name="+p.adapter, "source=dhcp")
}

// dnsTarget is one interface and address family whose DNS servers are set.
type dnsTarget struct {
	family, iface      string
	primary, secondary string
}

func (p *NetshPlumber) AssignDNS(ctx context.Context, res Resolvers, physical string) error {
	v4a, v4b := pair(res.IPv4)
	v6a, v6b := pair(res.IPv6)

	targets := []dnsTarget{
		{"ipv4", p.adapter, v4a, v4b},
		{"ipv6", p.adapter, v6a, v6b},
	}
	if physical != "" {
		targets = append(targets, dnsTarget{"ipv4", physical, v4a, v4b})
	}

	var changed []dnsTarget
	for _, t := range targets {
		set, err := p.setDNS(ctx, t)
		if set {
			changed = append(changed, t)
		}
		if err != nil {
			for i := len(changed) - 1; i >= 0; i-- {
				p.resetDNS(ctx, changed[i].family, changed[i].iface)
			}
			p.flushDNS(ctx)
			return err
		}
	}
	p.flushDNS(ctx)
	return nil
}

// setDNS replaces the servers of t. set reports whether the interface was
// modified, which is also the case when only the secondary failed.
func (p *NetshPlumber) setDNS(ctx context.Context, t dnsTarget) (set bool, err error) {
	op := "assign-" + t.family + "-dns"
	if err := run(ctx, p.runner, op, "netsh", "interface", t.family, "set", "dnsservers",
		"name="+t.iface, "static", "address="+t.primary, "register=none", "validate=no"); err != nil {
		return false, err
	}
	if t.secondary == "" {
		return true, nil
	}
	return true, run(ctx, p.runner, op, "netsh", "interface", t.family, "add", "dnsservers",
		"name="+t.iface, "address="+t.secondary, "index=2", "validate=no")
}

func (p *NetshPlumber) resetDNS(ctx context.Context, family, iface string) {
	runQuiet(ctx, p.runner, "restore-"+family+"-dns", "netsh", "interface", family, "set", "dnsservers",
		"name="+iface, "source=dhcp")
}

func (p *NetshPlumber) RestoreDNS(ctx context.Context, physical string) {
	if physical != "" {
		p.resetDNS(ctx, "ipv4", physical)
	}
	p.resetDNS(ctx, "ipv4", p.adapter)
	p.resetDNS(ctx, "ipv6", p.adapter)
	p.flushDNS(ctx)
}

func (p *NetshPlumber) flushDNS(ctx context.Context) {
	runQuiet(ctx, p.runner, "flush-dns", "ipconfig", "/flushdns")
}

func (p *NetshPlumber) InstallDefaultRoute(ctx context.Context) error {
	metric := fmt.Sprintf("metric=%d", RouteMetric)
	if err := run(ctx, p.runner, "add-ipv4-default-route", "netsh", "interface", "ipv4", "add", "route",
		"0.0.0.0/0", p.adapter, TunnelIPv4, metric); err != nil {
		return err
	}
	if err := run(ctx, p.runner, "add-ipv6-default-route", "netsh", "interface", "ipv6", "add", "route",
		"::/0", p.adapter, TunnelIPv6, metric); err != nil {
		p.deleteIPv4DefaultRoute(ctx)
		return err
	}
	return nil
}

func (p *NetshPlumber) RemoveDefaultRoute(ctx context.Context) {
	p.deleteIPv4DefaultRoute(ctx)
	runQuiet(ctx, p.runner, "delete-ipv6-default-route", "netsh", "interface", "ipv6", "delete", "route",
		"::/0", p.adapter, TunnelIPv6)
}

func (p *NetshPlumber) deleteIPv4DefaultRoute(ctx context.Context) {
	runQuiet(ctx, p.runner, "delete-ipv4-default-route", "netsh", "interface", "ipv4", "delete", "route",
		"0.0.0.0/0", p.adapter, TunnelIPv4)
}

func (p *NetshPlumber) InstallExceptionRoute(ctx context.Context, server, gateway net.IP) error {
	return run(ctx, p.runner, "add-exception-route", "route", "add",
		server.String(), "mask", "255.255.255.255", gateway.String())
}

func (p *NetshPlumber) RemoveExceptionRoute(ctx context.Context, server net.IP) {
	runQuiet(ctx, p.runner, "delete-exception-route", "route", "delete", server.String())
}
