// Package vpn provides tunnel session management for MasyaVPN.
// This file contains the Credential type handed over by the
// credential-issuing service for one connection attempt.
package vpn

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/masyavpn/masyavpn/common"
)

// ServerInfo describes the server a credential was issued for.
// It is informational only; the tunnel endpoint comes from the payload.
type ServerInfo struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Load    int    `json:"load,omitempty"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

// Credential is the short-lived input of a connection attempt.
// It is never persisted by the client.
type Credential struct {
	// Protocol names the tunnel protocol. Only V2RAY is supported.
	Protocol string `json:"protocol"`
	// Payload is the base64 server descriptor.
	Payload string `json:"payload"`
	// SessionID is used verbatim as the outbound user identifier.
	SessionID string `json:"uid"`
	// PrivateKey is issued for other protocols and ignored here.
	PrivateKey string `json:"private_key,omitempty"`
	// Server is optional display metadata.
	Server *ServerInfo `json:"server,omitempty"`
}

// Validate checks that the credential can be used for a connection.
func (c *Credential) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: no credential", common.ErrMalformedCredential)
	}
	if strings.TrimSpace(c.Payload) == "" {
		return fmt.Errorf("%w: payload is required", common.ErrMalformedCredential)
	}
	if strings.TrimSpace(c.SessionID) == "" {
		return fmt.Errorf("%w: uid is required", common.ErrMalformedCredential)
	}
	if c.Protocol != "" && !strings.EqualFold(c.Protocol, common.ProtocolV2Ray) {
		return fmt.Errorf("%w: unsupported protocol %q", common.ErrMalformedCredential, c.Protocol)
	}
	return nil
}

// ServerName returns a label for logs and the journal.
func (c *Credential) ServerName() string {
	if c.Server == nil {
		return ""
	}
	if c.Server.City != "" {
		return fmt.Sprintf("%s (%s, %s)", c.Server.Name, c.Server.City, c.Server.Country)
	}
	return c.Server.Name
}

// ParseCredential decodes a credential JSON document.
func ParseCredential(r io.Reader) (*Credential, error) {
	var c Credential
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedCredential, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ReadCredentialFile reads a credential from path, or from stdin when path is "-".
func ReadCredentialFile(path string) (*Credential, error) {
	if path == "-" {
		return ParseCredential(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	defer f.Close()
	return ParseCredential(f)
}
