package netconf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/masyavpn/masyavpn/common"
)

// Topology is the host routing state captured before the tunnel mutates it.
type Topology struct {
	// GatewayIP is the default IPv4 gateway.
	GatewayIP net.IP
	// InterfaceName is the physical interface whose subnet holds the gateway.
	InterfaceName string
}

// netInterface is the subset of net.Interface the resolver needs.
type netInterface struct {
	Name     string
	Loopback bool
	Addrs    []net.Addr
}

// Resolver discovers the default gateway, the interface bound to it and the
// IPv4 address of the tunnel endpoint.
type Resolver struct {
	runner     Runner
	dnsServers []string

	// osGateway is the OS-native route query. It is replaced in tests.
	osGateway func(ctx context.Context) (net.IP, error)
	// interfaces lists host interfaces. It is replaced in tests.
	interfaces func() ([]netInterface, error)
	// lookupIP is the system resolver. It is replaced in tests.
	lookupIP func(ctx context.Context, host string) ([]net.IP, error)
}

// NewResolver creates a Resolver. dnsServers are queried directly when the
// system resolver cannot resolve the tunnel endpoint.
func NewResolver(runner Runner, dnsServers []string) *Resolver {
	return &Resolver{
		runner:     runner,
		dnsServers: dnsServers,
		osGateway:  nativeGateway,
		interfaces: systemInterfaces,
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip4", host)
		},
	}
}

// ResolveGateway returns the default IPv4 gateway. The OS route query is
// tried first, then the textual route table.
func (r *Resolver) ResolveGateway(ctx context.Context) (net.IP, error) {
	gw, err := r.osGateway(ctx)
	if err == nil && gw.To4() != nil {
		return gw, nil
	}
	common.LogDebug("netconf: native gateway query failed (%v), parsing route table", err)

	name, args, field := routeTableCommand()
	output, err := r.runner.Run(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrGatewayNotFound, name, err)
	}
	if gw := parseDefaultGateway(string(output), field); gw != nil {
		return gw, nil
	}
	return nil, common.ErrGatewayNotFound
}

// defaultRoute is one IPv4 default route row of the OS route table.
type defaultRoute struct {
	gateway net.IP
	metric  uint32
}

// preferredGateway returns the next hop of the lowest-metric default route.
// On-link rows without a next hop, such as a tunnel's device route, are
// skipped.
func preferredGateway(routes []defaultRoute) (net.IP, error) {
	var best *defaultRoute
	for i := range routes {
		rt := &routes[i]
		if rt.gateway.To4() == nil || rt.gateway.IsUnspecified() {
			continue
		}
		if best == nil || rt.metric < best.metric {
			best = rt
		}
	}
	if best == nil {
		return nil, common.ErrGatewayNotFound
	}
	return best.gateway.To4(), nil
}

// parseDefaultGateway scans a route table dump for the first default
// destination row and returns field as an IPv4 address.
func parseDefaultGateway(output string, field int) net.IP {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) <= field {
			continue
		}
		if fields[0] != "0.0.0.0" && fields[0] != "default" {
			continue
		}
		if ip := net.ParseIP(fields[field]).To4(); ip != nil {
			return ip
		}
	}
	return nil
}

// ResolveGatewayInterface returns the first IPv4, non-loopback interface
// whose subnet contains gw. It must be called before the tunnel adapter
// gets its address, or the tunnel adapter may match.
func (r *Resolver) ResolveGatewayInterface(gw net.IP) (string, error) {
	ifaces, err := r.interfaces()
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInterfaceNotFound, err)
	}
	if name := interfaceForGateway(ifaces, gw); name != "" {
		return name, nil
	}
	return "", fmt.Errorf("%w: no interface for gateway %s", common.ErrInterfaceNotFound, gw)
}

func interfaceForGateway(ifaces []netInterface, gw net.IP) string {
	for _, iface := range ifaces {
		if iface.Loopback {
			continue
		}
		for _, addr := range iface.Addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil || ipnet.IP.IsLoopback() {
				continue
			}
			if ipnet.Contains(gw) {
				return iface.Name
			}
		}
	}
	return ""
}

func systemInterfaces() ([]netInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	result := make([]netInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		result = append(result, netInterface{
			Name:     iface.Name,
			Loopback: iface.Flags&net.FlagLoopback != 0,
			Addrs:    addrs,
		})
	}
	return result, nil
}

// ResolveEndpointIP returns host unchanged when it is a literal IPv4 address,
// otherwise the first A record for it.
func (r *Resolver) ResolveEndpointIP(ctx context.Context, host string) (net.IP, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := net.ParseIP(host).To4(); ip != nil {
		return ip, nil
	}

	ips, err := r.lookupIP(ctx, host)
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	common.LogWarn("netconf: system lookup of %s failed (%v), querying %v", host, err, r.dnsServers)

	for _, server := range r.dnsServers {
		ip, qerr := queryA(ctx, host, server)
		if qerr == nil {
			return ip, nil
		}
		err = errors.Join(err, qerr)
	}
	return nil, fmt.Errorf("%w: %s: %v", common.ErrEndpointResolutionFailed, host, err)
}

// queryA asks server for an A record of host.
func queryA(ctx context.Context, host, server string) (net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: 5 * time.Second}
	resp, _, err := c.ExchangeContext(ctx, m, net.JoinHostPort(server, "53"))
	if err != nil {
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s answered %s", server, dns.RcodeToString[resp.Rcode])
	}

	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A, nil
		}
	}
	return nil, fmt.Errorf("%s returned no A record", server)
}
