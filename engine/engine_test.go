package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/masyavpn/masyavpn/common"
)

func TestDecodePayload(t *testing.T) {
	encode := func(b ...byte) string { return base64.StdEncoding.EncodeToString(b) }

	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"reference descriptor", encode(192, 168, 1, 1, 0x1F, 0x90, 0x00), "192.168.1.1:8080", false},
		{"reserved byte ignored", encode(192, 168, 1, 1, 0x1F, 0x90, 0xFF), "192.168.1.1:8080", false},
		{"max port", encode(10, 0, 0, 1, 0xFF, 0xFF, 0x00), "10.0.0.1:65535", false},
		{"unpadded", strings.TrimRight(encode(1, 2, 3, 4, 0x01, 0xBB, 0x00), "="), "1.2.3.4:443", false},
		{"six bytes", encode(192, 168, 1, 1, 0x1F, 0x90), "", true},
		{"eight bytes", encode(192, 168, 1, 1, 0x1F, 0x90, 0, 0), "", true},
		{"empty", "", "", true},
		{"not base64", "!!not-base64!!", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePayload(tt.payload)
			if tt.wantErr {
				if !errors.Is(err, common.ErrMalformedCredential) {
					t.Errorf("DecodePayload() error = %v, want ErrMalformedCredential", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePayload() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("DecodePayload() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderConfig(t *testing.T) {
	params := ConfigParams{
		Endpoint:  Endpoint{Address: "192.168.1.1", Port: 8080},
		UserID:    "6f1c2a4e-0000-4000-8000-000000000001",
		SOCKSPort: 10808,
		HTTPPort:  10809,
	}

	data, err := RenderConfig(params)
	if err != nil {
		t.Fatalf("RenderConfig() error = %v", err)
	}

	again, _ := RenderConfig(params)
	if string(again) != string(data) {
		t.Error("RenderConfig() should be deterministic")
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("rendered config is not JSON: %v", err)
	}

	if len(doc.Inbounds) != 2 {
		t.Fatalf("inbounds = %d, want 2", len(doc.Inbounds))
	}
	socks, http := doc.Inbounds[0], doc.Inbounds[1]
	if socks.Protocol != "socks" || socks.Port != 10808 || socks.Settings["auth"] != "noauth" || socks.Settings["udp"] != true {
		t.Errorf("socks inbound = %+v", socks)
	}
	if http.Protocol != "http" || http.Port != 10809 {
		t.Errorf("http inbound = %+v", http)
	}

	tags := make([]string, 0, len(doc.Outbounds))
	for _, ob := range doc.Outbounds {
		tags = append(tags, ob.Tag+"/"+ob.Protocol)
	}
	if got := strings.Join(tags, ","); got != "proxy/vmess,direct/freedom,block/blackhole" {
		t.Errorf("outbounds = %v", got)
	}

	proxy := doc.Outbounds[0]
	if proxy.StreamSettings == nil || proxy.StreamSettings.Network != "grpc" {
		t.Error("proxy outbound should use a grpc stream")
	}
	if proxy.Mux == nil || !proxy.Mux.Enabled {
		t.Error("proxy outbound should be multiplexed")
	}
	for _, want := range []string{`"address": "192.168.1.1"`, `"port": 8080`, `"id": "` + params.UserID + `"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config should contain %s", want)
		}
	}

	rules := doc.Routing.Rules
	if len(rules) != 3 {
		t.Fatalf("routing rules = %d, want 3", len(rules))
	}
	if rules[0].OutboundTag != TagProxy || rules[1].OutboundTag != TagDirect || rules[2].OutboundTag != TagDirect {
		t.Errorf("routing rules = %+v", rules)
	}
	if rules[2].IP[0] != "geoip:private" {
		t.Errorf("private IPs should go direct, got %+v", rules[2])
	}
}

func TestTranslate_MalformedPayload(t *testing.T) {
	_, doc, err := Translate(base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), ConfigParams{UserID: "u"})
	if !errors.Is(err, common.ErrMalformedCredential) {
		t.Errorf("Translate() error = %v, want ErrMalformedCredential", err)
	}
	if doc != nil {
		t.Error("Translate() should not render a document for a bad payload")
	}
}

func TestMatchers(t *testing.T) {
	ready := ContainsFold("started")
	if ready("2024/01/01 [Info] infra/conf: loading config") {
		t.Error("ContainsFold matched an unrelated line")
	}
	if !ready("2024/01/01 [Warning] core: Xray 1.8.24 STARTED") {
		t.Error("ContainsFold should ignore case")
	}

	bridge := AllTokens("tun://masyavpn", "socks5://127.0.0.1:1080")
	if bridge("[STACK] tun://masyavpn <-> socks5://127.0.0.1:9999") {
		t.Error("AllTokens matched with a token missing")
	}
	if !bridge("[PROXY] socks5://127.0.0.1:1080") {
		t.Error("AllTokens should match once every token was seen across lines")
	}
}

// TestHelperProcess is not a real test. It is the fake engine started by the
// supervisor tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	mode := ""
	if len(args) > 1 {
		mode = args[1]
	}

	switch mode {
	case "ready":
		fmt.Println("infra/conf: loading config")
		fmt.Println("core: Xray 1.8.24 started")
		time.Sleep(time.Minute)
	case "bridge":
		fmt.Fprintln(os.Stderr, "[STACK] tun://masyavpn <-> socks5://127.0.0.1:1080")
		time.Sleep(time.Minute)
	case "exit":
		fmt.Fprintln(os.Stderr, "failed to load config: invalid vnext")
		os.Exit(23)
	case "silent":
		time.Sleep(time.Minute)
	case "flood":
		// One line past the scanner limit, then more than a pipe buffer.
		os.Stdout.Write(bytes.Repeat([]byte("x"), 2*1024*1024))
		os.Stdout.Write([]byte("\n"))
		for range 64 {
			fmt.Println(strings.Repeat("y", 16*1024))
		}
	}
	os.Exit(0)
}

func startHelper(t *testing.T, mode string) *Process {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	p, err := StartProcess("helper-"+mode, os.Args[0], "-test.run=TestHelperProcess", "--", mode)
	if err != nil {
		t.Fatalf("StartProcess() error = %v", err)
	}
	t.Cleanup(func() {
		p.Terminate()
		<-p.Done()
	})
	return p
}

func TestProcess_DrainsOverlongOutput(t *testing.T) {
	p := startHelper(t, "flood")

	select {
	case <-p.Done():
	case <-time.After(20 * time.Second):
		t.Fatal("process blocked writing output after an overlong line")
	}
	if err := p.ExitErr(); err != nil {
		t.Errorf("ExitErr() = %v, want nil", err)
	}
}

func TestWaitForReady(t *testing.T) {
	tests := []struct {
		mode    string
		match   Matcher
		timeout time.Duration
		wantErr string
	}{
		{"ready", ContainsFold("STARTED"), 10 * time.Second, ""},
		{"bridge", AllTokens("tun://masyavpn", "socks5://127.0.0.1:1080"), 10 * time.Second, ""},
		{"exit", ContainsFold("started"), 10 * time.Second, "invalid vnext"},
		{"silent", ContainsFold("started"), 300 * time.Millisecond, "not ready after"},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			p := startHelper(t, tt.mode)
			err := waitForReady(context.Background(), p, tt.match, tt.timeout)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("waitForReady() error = %v", err)
				}
				return
			}
			if !errors.Is(err, common.ErrEngineStartFailed) {
				t.Fatalf("waitForReady() error = %v, want ErrEngineStartFailed", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("waitForReady() error = %q, want it to mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestProcess_TerminateIsFireAndContinue(t *testing.T) {
	p := startHelper(t, "silent")

	p.Terminate()
	p.Terminate()

	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit after Terminate()")
	}
}

func TestSupervisor_CheckBinaries(t *testing.T) {
	s := NewSupervisor(os.Args[0], t.TempDir()+"/missing-bridge")
	if err := s.CheckBinaries(); !errors.Is(err, common.ErrEngineStartFailed) {
		t.Errorf("CheckBinaries() error = %v, want ErrEngineStartFailed", err)
	}
}

type fakeProc struct {
	name    string
	killErr error
	killed  bool
}

func (p *fakeProc) NameWithContext(context.Context) (string, error) { return p.name, nil }

func (p *fakeProc) KillWithContext(context.Context) error {
	if p.killErr != nil {
		return p.killErr
	}
	p.killed = true
	return nil
}

func TestReaper_Reap(t *testing.T) {
	procs := []*fakeProc{
		{name: "xray.exe"},
		{name: "explorer.exe"},
		{name: "TUN2SOCKS.EXE"},
		{name: "tun2socks", killErr: os.ErrProcessDone},
		{name: "xray", killErr: errors.New("access denied")},
	}

	r := NewReaper("xray.exe", "/opt/masyavpn/bin/tun2socks")
	r.list = func(context.Context) ([]reapable, error) {
		out := make([]reapable, len(procs))
		for i, p := range procs {
			out[i] = p
		}
		return out, nil
	}

	if got := r.Running(context.Background()); got != 4 {
		t.Errorf("Running() = %d, want 4", got)
	}
	if got := r.Reap(context.Background()); got != 2 {
		t.Errorf("Reap() = %d, want 2", got)
	}
	if procs[1].killed {
		t.Error("Reap() killed an unrelated process")
	}
	if !procs[0].killed || !procs[2].killed {
		t.Error("Reap() should kill matching images regardless of case")
	}
}

func TestReaper_ListFailureIsNotFatal(t *testing.T) {
	r := NewReaper("xray")
	r.list = func(context.Context) ([]reapable, error) { return nil, errors.New("permission denied") }

	if got := r.Reap(context.Background()); got != 0 {
		t.Errorf("Reap() = %d, want 0", got)
	}
}
