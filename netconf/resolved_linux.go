//go:build linux

package netconf

import (
	"context"
	"net"

	"github.com/godbus/dbus/v5"
)

const (
	resolvedDest      = "org.freedesktop.resolve1"
	resolvedPath      = dbus.ObjectPath("/org/freedesktop/resolve1")
	resolvedManager   = "org.freedesktop.resolve1.Manager"
	resolvedLinkIface = "org.freedesktop.resolve1.Link"
)

// linkDNS is the (iay) tuple systemd-resolved uses for a DNS server.
type linkDNS struct {
	Family  int32
	Address []byte
}

// linkDomain is the (sb) tuple of SetLinkDomains.
type linkDomain struct {
	Domain      string
	RoutingOnly bool
}

// resolved talks to systemd-resolved over the system bus.
type resolved struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

func dialResolved() (*resolved, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(resolvedDest, resolvedPath)
	// Fails fast when resolved is not running.
	if _, err := obj.GetProperty(resolvedManager + ".DNSStubListener"); err != nil {
		return nil, err
	}
	return &resolved{conn: conn, obj: obj}, nil
}

func toLinkDNS(ips []net.IP) []linkDNS {
	out := make([]linkDNS, 0, len(ips))
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			out = append(out, linkDNS{Family: 2, Address: []byte(v4)})
		} else if v6 := ip.To16(); v6 != nil {
			out = append(out, linkDNS{Family: 10, Address: []byte(v6)})
		}
	}
	return out
}

func (r *resolved) setLinkDNS(ctx context.Context, ifindex int, servers []linkDNS) error {
	return r.obj.CallWithContext(ctx, resolvedManager+".SetLinkDNS", 0, int32(ifindex), servers).Err
}

func (r *resolved) setLinkDomains(ctx context.Context, ifindex int, domains []linkDomain) error {
	return r.obj.CallWithContext(ctx, resolvedManager+".SetLinkDomains", 0, int32(ifindex), domains).Err
}

func (r *resolved) setLinkDefaultRoute(ctx context.Context, ifindex int, enable bool) error {
	return r.obj.CallWithContext(ctx, resolvedManager+".SetLinkDefaultRoute", 0, int32(ifindex), enable).Err
}

func (r *resolved) revertLink(ctx context.Context, ifindex int) error {
	return r.obj.CallWithContext(ctx, resolvedManager+".RevertLink", 0, int32(ifindex)).Err
}

func (r *resolved) flushCaches(ctx context.Context) error {
	return r.obj.CallWithContext(ctx, resolvedManager+".FlushCaches", 0).Err
}

// linkServers returns the DNS servers currently configured on a link.
func (r *resolved) linkServers(ctx context.Context, ifindex int) ([]linkDNS, error) {
	var path dbus.ObjectPath
	if err := r.obj.CallWithContext(ctx, resolvedManager+".GetLink", 0, int32(ifindex)).Store(&path); err != nil {
		return nil, err
	}

	v, err := r.conn.Object(resolvedDest, path).GetProperty(resolvedLinkIface + ".DNS")
	if err != nil {
		return nil, err
	}
	var servers []linkDNS
	if err := v.Store(&servers); err != nil {
		return nil, err
	}
	return servers, nil
}
