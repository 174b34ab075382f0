package vpn

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/masyavpn/masyavpn/common"
)

func TestParseCredential(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"full", `{"protocol":"V2RAY","payload":"wKgBAR+QAA==","uid":"abc","private_key":"k","server":{"id":3,"name":"DE-1","load":40,"country":"Germany","city":"Berlin"}}`, false},
		{"lower case protocol", `{"protocol":"v2ray","payload":"wKgBAR+QAA==","uid":"abc"}`, false},
		{"protocol omitted", `{"payload":"wKgBAR+QAA==","uid":"abc"}`, false},
		{"missing payload", `{"protocol":"V2RAY","uid":"abc"}`, true},
		{"missing uid", `{"protocol":"V2RAY","payload":"wKgBAR+QAA=="}`, true},
		{"other protocol", `{"protocol":"WIREGUARD","payload":"wKgBAR+QAA==","uid":"abc"}`, true},
		{"not json", `payload=abc`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCredential(strings.NewReader(tt.input))
			if tt.wantErr {
				if !errors.Is(err, common.ErrMalformedCredential) {
					t.Errorf("ParseCredential() error = %v, want ErrMalformedCredential", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCredential() error = %v", err)
			}
			if c.SessionID != "abc" {
				t.Errorf("SessionID = %v, want abc", c.SessionID)
			}
		})
	}
}

func TestCredential_ServerName(t *testing.T) {
	tests := []struct {
		server   *ServerInfo
		expected string
	}{
		{nil, ""},
		{&ServerInfo{Name: "DE-1"}, "DE-1"},
		{&ServerInfo{Name: "DE-1", Country: "Germany", City: "Berlin"}, "DE-1 (Berlin, Germany)"},
	}

	for _, tt := range tests {
		c := &Credential{Server: tt.server}
		if got := c.ServerName(); got != tt.expected {
			t.Errorf("ServerName() = %q, want %q", got, tt.expected)
		}
	}
}

func TestReadCredentialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	if err := os.WriteFile(path, []byte(`{"payload":"wKgBAR+QAA==","uid":"abc"}`), 0600); err != nil {
		t.Fatal(err)
	}

	c, err := ReadCredentialFile(path)
	if err != nil {
		t.Fatalf("ReadCredentialFile() error = %v", err)
	}
	if c.Payload != "wKgBAR+QAA==" {
		t.Errorf("Payload = %v", c.Payload)
	}

	if _, err := ReadCredentialFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("ReadCredentialFile() should fail for a missing file")
	}
}
