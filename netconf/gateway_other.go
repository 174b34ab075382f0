//go:build !linux && !windows

package netconf

import (
	"context"
	"net"

	"github.com/masyavpn/masyavpn/common"
)

func nativeGateway(ctx context.Context) (net.IP, error) {
	return nil, common.ErrUnsupportedPlatform
}

// routeTableCommand dumps the BSD routing table: "default  <gw>  UGScg  en0".
func routeTableCommand() (string, []string, int) {
	return "netstat", []string{"-rn", "-f", "inet"}, 1
}
