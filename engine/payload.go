// Package engine drives the two external network engines of a tunnel
// session: the proxy engine and the tunnel adapter bridge. It translates
// credential payloads into engine configuration, supervises the processes
// and reaps leftovers from earlier runs.
package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/masyavpn/masyavpn/common"
)

// payloadLength is the decoded size of a server descriptor:
// 4 address octets, 2 big-endian port bytes, 1 reserved byte.
const payloadLength = 7

// Endpoint is the remote tunnel server.
type Endpoint struct {
	Address string
	Port    uint16
}

// String returns host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(int(e.Port)))
}

// DecodePayload decodes a base64 server descriptor.
func DecodePayload(payload string) (Endpoint, error) {
	payload = strings.TrimSpace(payload)
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: payload is not base64: %v", common.ErrMalformedCredential, err)
	}
	if len(raw) != payloadLength {
		return Endpoint{}, fmt.Errorf("%w: payload has %d bytes, want %d", common.ErrMalformedCredential, len(raw), payloadLength)
	}

	return Endpoint{
		Address: net.IPv4(raw[0], raw[1], raw[2], raw[3]).String(),
		Port:    uint16(raw[4])<<8 | uint16(raw[5]),
	}, nil
}

// ConfigParams are the inputs of an engine configuration document.
type ConfigParams struct {
	Endpoint  Endpoint
	UserID    string
	SOCKSPort int
	HTTPPort  int
	// DNSServers are used by the engine's internal resolver.
	DNSServers []string
	// LogLevel defaults to "warning".
	LogLevel string
}

// Translate decodes payload and renders the engine configuration for it.
func Translate(payload string, params ConfigParams) (Endpoint, []byte, error) {
	ep, err := DecodePayload(payload)
	if err != nil {
		return Endpoint{}, nil, err
	}
	params.Endpoint = ep
	doc, err := RenderConfig(params)
	return ep, doc, err
}

type document struct {
	DNS       dnsBlock       `json:"dns"`
	Inbounds  []inbound      `json:"inbounds"`
	Log       logBlock       `json:"log"`
	Outbounds []outbound     `json:"outbounds"`
	Routing   routingBlock   `json:"routing"`
	Policy    policyBlock    `json:"policy"`
	Stats     map[string]any `json:"stats"`
}

type dnsBlock struct {
	Hosts   map[string]string `json:"hosts"`
	Servers []string          `json:"servers"`
}

type inbound struct {
	Listen   string         `json:"listen"`
	Port     int            `json:"port"`
	Protocol string         `json:"protocol"`
	Settings map[string]any `json:"settings"`
	Sniffing *sniffing      `json:"sniffing,omitempty"`
	Tag      string         `json:"tag"`
}

type sniffing struct {
	DestOverride []string `json:"destOverride"`
	MetadataOnly bool     `json:"metadataOnly"`
	RouteOnly    bool     `json:"routeOnly"`
	Enabled      bool     `json:"enabled"`
}

type logBlock struct {
	LogLevel string `json:"loglevel"`
}

type outbound struct {
	Mux            *mux    `json:"mux,omitempty"`
	Protocol       string  `json:"protocol"`
	Settings       any     `json:"settings"`
	StreamSettings *stream `json:"streamSettings,omitempty"`
	Tag            string  `json:"tag"`
}

type mux struct {
	Concurrency     int    `json:"concurrency"`
	Enabled         bool   `json:"enabled"`
	XudpConcurrency int    `json:"xudpConcurrency"`
	XudpProxyUDP443 string `json:"xudpProxyUDP443"`
}

type vmessSettings struct {
	Vnext []vnext `json:"vnext"`
}

type vnext struct {
	Address string      `json:"address"`
	Port    uint16      `json:"port"`
	Users   []vmessUser `json:"users"`
}

type vmessUser struct {
	AlterID    int    `json:"alterId"`
	Encryption string `json:"encryption"`
	Flow       string `json:"flow"`
	ID         string `json:"id"`
	Level      int    `json:"level"`
	Security   string `json:"security"`
}

type stream struct {
	Network      string         `json:"network"`
	GRPCSettings grpcSettings   `json:"grpcSettings"`
	Sockopt      map[string]any `json:"sockopt"`
}

type grpcSettings struct {
	ServiceName string `json:"serviceName"`
	MultiMode   bool   `json:"multiMode"`
}

type routingBlock struct {
	DomainStrategy string        `json:"domainStrategy"`
	Rules          []routingRule `json:"rules"`
}

type routingRule struct {
	Type        string   `json:"type"`
	InboundTag  []string `json:"inboundTag,omitempty"`
	Domain      []string `json:"domain,omitempty"`
	IP          []string `json:"ip,omitempty"`
	OutboundTag string   `json:"outboundTag"`
}

type policyBlock struct {
	Levels map[string]policyLevel `json:"levels"`
	System map[string]bool        `json:"system"`
}

type policyLevel struct {
	ConnIdle     int `json:"connIdle"`
	DownlinkOnly int `json:"downlinkOnly"`
	Handshake    int `json:"handshake"`
	UplinkOnly   int `json:"uplinkOnly"`
}

// Outbound tags referenced by the routing rules.
const (
	TagProxy  = "proxy"
	TagDirect = "direct"
	TagBlock  = "block"
)

const userLevel = 8

// RenderConfig builds the proxy engine configuration document. It performs
// no I/O and is deterministic for equal params.
func RenderConfig(p ConfigParams) ([]byte, error) {
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: empty session identifier", common.ErrMalformedCredential)
	}
	servers := p.DNSServers
	if len(servers) == 0 {
		servers = []string{"1.1.1.1", "1.0.0.1", "8.8.8.8"}
	}
	level := p.LogLevel
	if level == "" {
		level = "warning"
	}

	doc := document{
		DNS: dnsBlock{
			Hosts:   map[string]string{"domain:googleapis.cn": "googleapis.com"},
			Servers: servers,
		},
		Inbounds: []inbound{
			{
				Listen:   "127.0.0.1",
				Port:     p.SOCKSPort,
				Protocol: "socks",
				Settings: map[string]any{"auth": "noauth", "udp": true, "userLevel": userLevel},
				Sniffing: &sniffing{
					DestOverride: []string{"http", "tls", "quic"},
					Enabled:      true,
				},
				Tag: "socks",
			},
			{
				Listen:   "127.0.0.1",
				Port:     p.HTTPPort,
				Protocol: "http",
				Settings: map[string]any{"userLevel": userLevel, "allowTransparent": false},
				Tag:      "http",
			},
		},
		Log: logBlock{LogLevel: level},
		Outbounds: []outbound{
			{
				Mux: &mux{
					Concurrency:     8,
					Enabled:         true,
					XudpConcurrency: 16,
					XudpProxyUDP443: "reject",
				},
				Protocol: "vmess",
				Settings: vmessSettings{Vnext: []vnext{{
					Address: p.Endpoint.Address,
					Port:    p.Endpoint.Port,
					Users: []vmessUser{{
						ID:       p.UserID,
						Level:    userLevel,
						Security: "auto",
					}},
				}}},
				StreamSettings: &stream{
					Network: "grpc",
					Sockopt: map[string]any{"mark": 0, "tcpFastOpen": false, "tproxy": "off"},
				},
				Tag: TagProxy,
			},
			{
				Protocol: "freedom",
				Settings: map[string]any{"domainStrategy": "UseIPv4"},
				Tag:      TagDirect,
			},
			{
				Protocol: "blackhole",
				Settings: map[string]any{"response": map[string]string{"type": "http"}},
				Tag:      TagBlock,
			},
		},
		Routing: routingBlock{
			DomainStrategy: "AsIs",
			Rules: []routingRule{
				{Type: "field", InboundTag: []string{"socks", "http"}, OutboundTag: TagProxy},
				{Type: "field", Domain: []string{"geosite:private"}, OutboundTag: TagDirect},
				{Type: "field", IP: []string{"geoip:private"}, OutboundTag: TagDirect},
			},
		},
		Policy: policyBlock{
			Levels: map[string]policyLevel{
				strconv.Itoa(userLevel): {ConnIdle: 300, DownlinkOnly: 1, Handshake: 4, UplinkOnly: 1},
			},
			System: map[string]bool{"statsOutboundUplink": true, "statsOutboundDownlink": true},
		},
		Stats: map[string]any{},
	}

	return json.MarshalIndent(doc, "", "  ")
}
