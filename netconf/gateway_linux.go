//go:build linux

package netconf

import (
	"context"
	"net"

	"github.com/vishvananda/netlink"
)

// nativeGateway returns the gateway of the lowest-metric IPv4 default route.
func nativeGateway(ctx context.Context) (net.IP, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, err
	}

	var defaults []defaultRoute
	for _, rt := range routes {
		if isDefaultDst(rt.Dst) {
			defaults = append(defaults, defaultRoute{gateway: rt.Gw, metric: uint32(rt.Priority)})
		}
	}
	return preferredGateway(defaults)
}

func isDefaultDst(dst *net.IPNet) bool {
	if dst == nil {
		return true
	}
	ones, _ := dst.Mask.Size()
	return ones == 0 && dst.IP.IsUnspecified()
}

// routeTableCommand dumps the default routes: "default via <gw> dev <if>".
func routeTableCommand() (string, []string, int) {
	return "ip", []string{"-4", "route", "show", "default"}, 2
}
