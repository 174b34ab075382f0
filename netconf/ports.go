package netconf

import (
	"fmt"
	"net"
)

// PortPair holds the local listener ports of the proxy engine.
type PortPair struct {
	SOCKS int
	HTTP  int
}

// AllocatePorts obtains two distinct free loopback TCP ports. The first
// listener stays open while the second port is taken so the OS cannot hand
// out the same port twice.
func AllocatePorts() (PortPair, error) {
	first, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return PortPair{}, fmt.Errorf("allocating socks port: %w", err)
	}
	defer first.Close()

	second, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return PortPair{}, fmt.Errorf("allocating http port: %w", err)
	}
	defer second.Close()

	return PortPair{
		SOCKS: first.Addr().(*net.TCPAddr).Port,
		HTTP:  second.Addr().(*net.TCPAddr).Port,
	}, nil
}
