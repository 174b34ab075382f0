//go:build windows

package netconf

import (
	"context"
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modIPHlpAPI            = windows.NewLazySystemDLL("iphlpapi.dll")
	procGetIpForwardTable2 = modIPHlpAPI.NewProc("GetIpForwardTable2")
	procFreeMibTable       = modIPHlpAPI.NewProc("FreeMibTable")
)

// MIB_IPFORWARD_ROW2 layout on x64 (104 bytes). Only the fields read here
// are listed.
const (
	fwdRowSize       = 104
	fwdDestFamily    = 12 // si_family of DestinationPrefix
	fwdDestAddr      = 16 // sin_addr of DestinationPrefix
	fwdDestPrefixLen = 40
	fwdNextHopAddr   = 48 // sin_addr of NextHop
	fwdMetric        = 84
)

// nativeGateway reads the IPv4 forward table through iphlpapi and returns
// the next hop of the lowest-metric 0.0.0.0/0 row.
func nativeGateway(ctx context.Context) (net.IP, error) {
	var table unsafe.Pointer
	r, _, _ := procGetIpForwardTable2.Call(
		uintptr(windows.AF_INET),
		uintptr(unsafe.Pointer(&table)),
	)
	if r != 0 {
		return nil, fmt.Errorf("GetIpForwardTable2 failed: 0x%x", r)
	}
	defer procFreeMibTable.Call(uintptr(table))

	// ULONG NumEntries, padded to 8 bytes, then the rows.
	numEntries := *(*uint32)(table)
	headerSize := unsafe.Sizeof(uint64(0))

	var defaults []defaultRoute
	for i := uint32(0); i < numEntries; i++ {
		row := unsafe.Pointer(uintptr(table) + headerSize + uintptr(i)*fwdRowSize)

		if *(*uint16)(unsafe.Add(row, fwdDestFamily)) != windows.AF_INET {
			continue
		}
		dst := *(*[4]byte)(unsafe.Add(row, fwdDestAddr))
		if dst != [4]byte{} || *(*byte)(unsafe.Add(row, fwdDestPrefixLen)) != 0 {
			continue
		}

		gw := *(*[4]byte)(unsafe.Add(row, fwdNextHopAddr))
		defaults = append(defaults, defaultRoute{
			gateway: net.IPv4(gw[0], gw[1], gw[2], gw[3]),
			metric:  *(*uint32)(unsafe.Add(row, fwdMetric)),
		})
	}
	return preferredGateway(defaults)
}

// routeTableCommand prints the IPv4 default rows:
// "0.0.0.0  0.0.0.0  <gw>  <if>  <metric>".
func routeTableCommand() (string, []string, int) {
	return "route", []string{"print", "0.0.0.0"}, 2
}
