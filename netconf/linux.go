//go:build linux

package netconf

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/masyavpn/masyavpn/common"
)

// LinuxPlumber configures the tunnel with rtnetlink and systemd-resolved.
// When resolved is not reachable over D-Bus, resolvectl is used instead.
type LinuxPlumber struct {
	adapter  string
	runner   Runner
	resolved *resolved

	mu       sync.Mutex
	savedDNS map[string][]linkDNS
}

// NewPlumber returns the plumber for this platform.
func NewPlumber(adapter string, runner Runner) Plumber {
	p := &LinuxPlumber{
		adapter:  adapter,
		runner:   runner,
		savedDNS: make(map[string][]linkDNS),
	}
	if r, err := dialResolved(); err == nil {
		p.resolved = r
	} else {
		common.LogDebug("netconf: systemd-resolved not available over D-Bus (%v), using resolvectl", err)
	}
	return p
}

func (p *LinuxPlumber) link() (netlink.Link, error) {
	return netlink.LinkByName(p.adapter)
}

func tunnelAddrs() (*netlink.Addr, *netlink.Addr) {
	v4 := &netlink.Addr{IPNet: &net.IPNet{
		IP:   net.ParseIP(TunnelIPv4),
		Mask: net.CIDRMask(TunnelIPv4Prefix, 32),
	}}
	v6 := &netlink.Addr{IPNet: &net.IPNet{
		IP:   net.ParseIP(TunnelIPv6),
		Mask: net.CIDRMask(TunnelIPv6Prefix, 128),
	}}
	return v4, v6
}

func (p *LinuxPlumber) AssignStaticAddress(ctx context.Context) error {
	link, err := p.link()
	if err != nil {
		return &common.PlumbingError{Op: "find-adapter", Err: err}
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return &common.PlumbingError{Op: "bring-up-adapter", Err: err}
	}

	v4, v6 := tunnelAddrs()
	if err := netlink.AddrReplace(link, v4); err != nil {
		return &common.PlumbingError{Op: "assign-ipv4-address", Err: err}
	}
	if err := netlink.AddrReplace(link, v6); err != nil {
		if derr := netlink.AddrDel(link, v4); derr != nil {
			common.LogWarn("netconf: removing %s ignored: %v", v4.IPNet, derr)
		}
		return &common.PlumbingError{Op: "assign-ipv6-address", Err: err}
	}
	return nil
}

func (p *LinuxPlumber) RevertStaticAddress(ctx context.Context) {
	link, err := p.link()
	if err != nil {
		common.LogDebug("netconf: adapter %s already gone", p.adapter)
		return
	}
	v4, v6 := tunnelAddrs()
	for _, addr := range []*netlink.Addr{v4, v6} {
		if err := netlink.AddrDel(link, addr); err != nil {
			common.LogWarn("netconf: removing %s ignored: %v", addr.IPNet, err)
		}
	}
}

func (p *LinuxPlumber) AssignDNS(ctx context.Context, res Resolvers, physical string) error {
	var all, v4 []net.IP
	for _, s := range res.IPv4 {
		if ip := net.ParseIP(s); ip != nil {
			all = append(all, ip)
			v4 = append(v4, ip)
		}
	}
	for _, s := range res.IPv6 {
		if ip := net.ParseIP(s); ip != nil {
			all = append(all, ip)
		}
	}

	if p.resolved == nil {
		return p.assignDNSCommand(ctx, res, physical)
	}

	link, err := p.link()
	if err != nil {
		return &common.PlumbingError{Op: "find-adapter", Err: err}
	}
	index := link.Attrs().Index

	// Tunnel link settings are ours alone, so any failure reverts them.
	fail := func(op string, err error) error {
		if rerr := p.resolved.revertLink(ctx, index); rerr != nil {
			common.LogWarn("netconf: reverting tunnel DNS ignored: %v", rerr)
		}
		return &common.PlumbingError{Op: op, Err: err}
	}

	if err := p.resolved.setLinkDNS(ctx, index, toLinkDNS(all)); err != nil {
		return fail("assign-tunnel-dns", err)
	}
	if err := p.resolved.setLinkDomains(ctx, index, []linkDomain{{Domain: ".", RoutingOnly: true}}); err != nil {
		return fail("assign-tunnel-dns-domain", err)
	}
	if err := p.resolved.setLinkDefaultRoute(ctx, index, true); err != nil {
		common.LogDebug("netconf: SetLinkDefaultRoute unsupported: %v", err)
	}

	if physical != "" {
		iface, err := net.InterfaceByName(physical)
		if err != nil {
			return fail("find-physical-interface", err)
		}
		if saved, err := p.resolved.linkServers(ctx, iface.Index); err == nil {
			p.mu.Lock()
			p.savedDNS[physical] = saved
			p.mu.Unlock()
		}
		if err := p.resolved.setLinkDNS(ctx, iface.Index, toLinkDNS(v4)); err != nil {
			p.mu.Lock()
			delete(p.savedDNS, physical)
			p.mu.Unlock()
			return fail("assign-physical-dns", err)
		}
	}

	if err := p.resolved.flushCaches(ctx); err != nil {
		common.LogWarn("netconf: flushing resolver cache ignored: %v", err)
	}
	return nil
}

func (p *LinuxPlumber) assignDNSCommand(ctx context.Context, res Resolvers, physical string) error {
	servers := append(append([]string{}, res.IPv4...), res.IPv6...)
	err := run(ctx, p.runner, "assign-tunnel-dns", "resolvectl",
		append([]string{"dns", p.adapter}, servers...)...)
	if err == nil {
		err = run(ctx, p.runner, "assign-tunnel-dns-domain", "resolvectl", "domain", p.adapter, "~.")
	}
	if err == nil && physical != "" {
		err = run(ctx, p.runner, "assign-physical-dns", "resolvectl",
			append([]string{"dns", physical}, res.IPv4...)...)
	}
	if err != nil {
		runQuiet(ctx, p.runner, "restore-tunnel-dns", "resolvectl", "revert", p.adapter)
		return err
	}
	runQuiet(ctx, p.runner, "flush-dns", "resolvectl", "flush-caches")
	return nil
}

func (p *LinuxPlumber) RestoreDNS(ctx context.Context, physical string) {
	if p.resolved == nil {
		if physical != "" {
			runQuiet(ctx, p.runner, "restore-physical-dns", "resolvectl", "revert", physical)
		}
		runQuiet(ctx, p.runner, "restore-tunnel-dns", "resolvectl", "revert", p.adapter)
		runQuiet(ctx, p.runner, "flush-dns", "resolvectl", "flush-caches")
		return
	}

	if physical != "" {
		p.restorePhysicalDNS(ctx, physical)
	}
	if link, err := p.link(); err == nil {
		if err := p.resolved.revertLink(ctx, link.Attrs().Index); err != nil {
			common.LogWarn("netconf: reverting tunnel DNS ignored: %v", err)
		}
	}
	if err := p.resolved.flushCaches(ctx); err != nil {
		common.LogWarn("netconf: flushing resolver cache ignored: %v", err)
	}
}

func (p *LinuxPlumber) restorePhysicalDNS(ctx context.Context, physical string) {
	iface, err := net.InterfaceByName(physical)
	if err != nil {
		common.LogWarn("netconf: restoring DNS on %s ignored: %v", physical, err)
		return
	}

	p.mu.Lock()
	saved, ok := p.savedDNS[physical]
	delete(p.savedDNS, physical)
	p.mu.Unlock()

	if ok && len(saved) > 0 {
		err = p.resolved.setLinkDNS(ctx, iface.Index, saved)
	} else {
		err = p.resolved.revertLink(ctx, iface.Index)
	}
	if err != nil {
		common.LogWarn("netconf: restoring DNS on %s ignored: %v", physical, err)
	}
}

// overrideRoutes are the halves of each address family. Being more specific
// than any default route, they win regardless of its metric while leaving
// it in place.
var overrideRoutes = []string{"0.0.0.0/1", "128.0.0.0/1", "::/1", "8000::/1"}

func defaultRoutes(link netlink.Link) []*netlink.Route {
	routes := make([]*netlink.Route, 0, len(overrideRoutes))
	for _, cidr := range overrideRoutes {
		_, dst, _ := net.ParseCIDR(cidr)
		routes = append(routes, &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Dst:       dst,
			Priority:  RouteMetric,
		})
	}
	return routes
}

// InstallDefaultRoute adds device routes through the adapter. A gateway is
// not needed on a point-to-point tun device.
func (p *LinuxPlumber) InstallDefaultRoute(ctx context.Context) error {
	link, err := p.link()
	if err != nil {
		return &common.PlumbingError{Op: "find-adapter", Err: err}
	}
	routes := defaultRoutes(link)
	for i, rt := range routes {
		if err := netlink.RouteAdd(rt); err != nil {
			deleteRoutes(routes[:i])
			return &common.PlumbingError{Op: "add-default-route " + rt.Dst.String(), Err: err}
		}
	}
	return nil
}

func (p *LinuxPlumber) RemoveDefaultRoute(ctx context.Context) {
	link, err := p.link()
	if err != nil {
		return
	}
	deleteRoutes(defaultRoutes(link))
}

func deleteRoutes(routes []*netlink.Route) {
	for i := len(routes) - 1; i >= 0; i-- {
		if err := netlink.RouteDel(routes[i]); err != nil {
			common.LogWarn("netconf: deleting route %s ignored: %v", routes[i].Dst, err)
		}
	}
}

func exceptionRoute(server, gateway net.IP) *netlink.Route {
	return &netlink.Route{
		Dst: &net.IPNet{IP: server.To4(), Mask: net.CIDRMask(32, 32)},
		Gw:  gateway,
	}
}

func (p *LinuxPlumber) InstallExceptionRoute(ctx context.Context, server, gateway net.IP) error {
	if server.To4() == nil {
		return &common.PlumbingError{Op: "add-exception-route", Err: fmt.Errorf("%s is not IPv4", server)}
	}
	if err := netlink.RouteReplace(exceptionRoute(server, gateway)); err != nil {
		return &common.PlumbingError{Op: "add-exception-route", Err: err}
	}
	return nil
}

func (p *LinuxPlumber) RemoveExceptionRoute(ctx context.Context, server net.IP) {
	if server.To4() == nil {
		return
	}
	rt := &netlink.Route{Dst: &net.IPNet{IP: server.To4(), Mask: net.CIDRMask(32, 32)}}
	if err := netlink.RouteDel(rt); err != nil {
		common.LogWarn("netconf: deleting exception route %s ignored: %v", server, err)
	}
}
