package engine

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/masyavpn/masyavpn/common"
)

// Names used in logs for the two engines.
const (
	ProxyEngineName  = "proxy-engine"
	BridgeEngineName = "adapter-bridge"
)

// Supervisor starts and validates the proxy engine and the tunnel adapter
// bridge.
type Supervisor struct {
	// EnginePath is the proxy engine binary.
	EnginePath string
	// BridgePath is the tunnel adapter bridge binary.
	BridgePath string
	// ReadyMarker is matched case-insensitively against proxy engine output.
	ReadyMarker string
	// Timeout bounds validation and each startup.
	Timeout time.Duration
}

// NewSupervisor creates a Supervisor with the default ready marker and timeout.
func NewSupervisor(enginePath, bridgePath string) *Supervisor {
	return &Supervisor{
		EnginePath:  enginePath,
		BridgePath:  bridgePath,
		ReadyMarker: "started",
		Timeout:     common.StartupTimeout,
	}
}

// CheckBinaries verifies that both engine binaries are present.
func (s *Supervisor) CheckBinaries() error {
	for _, path := range []string{s.EnginePath, s.BridgePath} {
		if !common.FileExists(path) {
			return fmt.Errorf("%w: binary not found: %s", common.ErrEngineStartFailed, path)
		}
	}
	return nil
}

// Validate runs the proxy engine in test mode against configPath.
func (s *Supervisor) Validate(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.EnginePath, "-test", "-config", configPath)
	cmd.Dir = filepath.Dir(s.EnginePath)
	common.HideConsole(cmd)

	common.LogInfo("%s: validating %s", ProxyEngineName, configPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v: %s", common.ErrConfigInvalid, err, strings.TrimSpace(string(output)))
	}
	common.LogDebug("%s: validation output: %s", ProxyEngineName, strings.TrimSpace(string(output)))
	return nil
}

// StartEngine launches the proxy engine and waits for its ready marker.
func (s *Supervisor) StartEngine(ctx context.Context, configPath string) (Handle, error) {
	return s.start(ctx, ProxyEngineName, s.EnginePath, ContainsFold(s.ReadyMarker),
		"-config", configPath)
}

// StartBridge launches the adapter bridge for adapter, forwarding to the
// SOCKS listener on socksPort, and waits until it reports both endpoints.
func (s *Supervisor) StartBridge(ctx context.Context, adapter string, socksPort int) (Handle, error) {
	device := "tun://" + adapter
	proxy := fmt.Sprintf("socks5://127.0.0.1:%d", socksPort)
	return s.start(ctx, BridgeEngineName, s.BridgePath, AllTokens(device, proxy),
		"-tcp-auto-tuning", "-device", device, "-proxy", proxy)
}

func (s *Supervisor) start(ctx context.Context, name, path string, match Matcher, args ...string) (Handle, error) {
	p, err := StartProcess(name, path, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEngineStartFailed, err)
	}
	if err := waitForReady(ctx, p, match, s.Timeout); err != nil {
		p.Terminate()
		return nil, err
	}
	return p, nil
}

