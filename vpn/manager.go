// Package vpn provides tunnel session management for MasyaVPN.
// This file contains the Manager type which drives a connection attempt
// through its provisioning steps and tears the session down again.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/masyavpn/masyavpn/common"
	"github.com/masyavpn/masyavpn/config"
	"github.com/masyavpn/masyavpn/engine"
	"github.com/masyavpn/masyavpn/history"
	"github.com/masyavpn/masyavpn/netconf"
)

// Common errors - re-exported from common package for convenience.
var (
	ErrAlreadyActive       = common.ErrAlreadyActive
	ErrMalformedCredential = common.ErrMalformedCredential
	ErrPlumbingFailed      = common.ErrPlumbingFailed

	// ErrManagerInUse is returned by Open while another Manager is open.
	ErrManagerInUse = errors.New("session manager already open")
)

// Topology discovers the host routing state a session depends on.
type Topology interface {
	ResolveGateway(ctx context.Context) (net.IP, error)
	ResolveGatewayInterface(gw net.IP) (string, error)
	ResolveEndpointIP(ctx context.Context, host string) (net.IP, error)
}

// Supervisor validates and starts the two engines.
type Supervisor interface {
	CheckBinaries() error
	Validate(ctx context.Context, configPath string) error
	StartEngine(ctx context.Context, configPath string) (engine.Handle, error)
	StartBridge(ctx context.Context, adapter string, socksPort int) (engine.Handle, error)
}

// Reaper kills stray engine processes.
type Reaper interface {
	Reap(ctx context.Context) int
}

// Recorder journals connection attempts.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}

// PortAllocator returns two free local ports for the engine listeners.
type PortAllocator func() (netconf.PortPair, error)

// Deps are the host-facing collaborators of a Manager.
type Deps struct {
	Topology   Topology
	Plumber    netconf.Plumber
	Supervisor Supervisor
	Prober     Prober
	Reaper     Reaper
	Ports      PortAllocator
	// Recorder is optional.
	Recorder Recorder
}

// SessionInfo is a snapshot of the current session.
type SessionInfo struct {
	ID        string
	Status    common.SessionStatus
	Started   time.Time
	Server    string
	Endpoint  string
	ServerIP  string
	Gateway   string
	Interface string
	SOCKSPort int
	HTTPPort  int
	Probe     HealthState
	Health    HealthState
}

// session holds everything owned by one connection attempt.
type session struct {
	id      string
	started time.Time
	server  string
	log     *common.ScopedLogger

	ledger Ledger
	steps  []step

	endpoint   engine.Endpoint
	document   []byte
	configPath string
	ports      netconf.PortPair
	topology   netconf.Topology
	physical   string
	serverIP   net.IP
	engine     engine.Handle
	bridge     engine.Handle
	probe      ProbeResult
	health     *HealthMonitor

	done     chan struct{}
	doneOnce sync.Once
}

func (s *session) stop() {
	s.doneOnce.Do(func() { close(s.done) })
	if s.health != nil {
		s.health.Stop()
	}
}


// Manager owns the single tunnel session of this host.
// Connect and Disconnect are serialized; a second Connect while one is in
// progress or established fails with ErrAlreadyActive.
type Manager struct {
	cfg       *config.Config
	deps      Deps
	configDir string

	// opMu serializes provisioning and teardown.
	opMu    sync.Mutex
	session *session

	statusMu       sync.Mutex
	status         common.SessionStatus
	onStatusChange func(oldStatus, newStatus common.SessionStatus)
	onHealthChange func(oldState, newState HealthState)
}

var (
	instanceMu sync.Mutex
	instance   *Manager
)

// Open creates the process-wide Manager. Only one Manager may be open at
// a time; Close releases it.
func Open(cfg *config.Config) (*Manager, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return nil, ErrManagerInUse
	}

	dataDir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}

	deps, err := defaultDeps(cfg)
	if err != nil {
		return nil, err
	}

	instance = newManager(cfg, deps, filepath.Join(dataDir, common.EngineConfigDirName))
	return instance, nil
}

func defaultDeps(cfg *config.Config) (Deps, error) {
	runner := netconf.ExecRunner{}
	dns := cfg.ActiveDNS()

	supervisor := engine.NewSupervisor(cfg.EnginePath(), cfg.BridgePath())
	supervisor.ReadyMarker = cfg.EngineReadyMarker
	supervisor.Timeout = cfg.StartupTimeout

	deps := Deps{
		Topology:   netconf.NewResolver(runner, dns.IPv4),
		Plumber:    netconf.NewPlumber(cfg.AdapterName, runner),
		Supervisor: supervisor,
		Prober:     NewHTTPProber(cfg.Probe),
		Reaper:     engine.NewReaper(cfg.EnginePath(), cfg.BridgePath()),
		Ports:      netconf.AllocatePorts,
	}

	if cfg.History {
		journal, err := history.OpenDefault()
		if err != nil {
			common.LogWarn("History disabled: %v", err)
		} else {
			deps.Recorder = journal
		}
	}
	return deps, nil
}

func newManager(cfg *config.Config, deps Deps, configDir string) *Manager {
	return &Manager{
		cfg:       cfg,
		deps:      deps,
		configDir: configDir,
		status:    common.StatusDisconnected,
	}
}

// Close tears down any active session and releases the Manager.
func (m *Manager) Close() error {
	m.Disconnect(context.Background())

	var err error
	if c, ok := m.deps.Recorder.(io.Closer); ok {
		err = c.Close()
	}

	instanceMu.Lock()
	if instance == m {
		instance = nil
	}
	instanceMu.Unlock()
	return err
}

// SetOnStatusChange sets a callback invoked after every status transition.
// The callback runs synchronously on the goroutine making the transition
// and may call GetStatus but not Info or Ledger.
func (m *Manager) SetOnStatusChange(callback func(oldStatus, newStatus common.SessionStatus)) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.onStatusChange = callback
}

// SetOnHealthChange sets a callback invoked when the health monitor of an
// established session sees the tunnel change state. It runs on its own
// goroutine.
func (m *Manager) SetOnHealthChange(callback func(oldState, newState HealthState)) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.onHealthChange = callback
}

func (m *Manager) healthChanged(s *session) func(oldState, newState HealthState) {
	return func(oldState, newState HealthState) {
		if newState == HealthUnhealthy {
			s.log.Warn("Tunnel stopped answering the connectivity check")
		} else {
			s.log.Info("Tunnel health: %s -> %s", oldState, newState)
		}

		m.statusMu.Lock()
		callback := m.onHealthChange
		m.statusMu.Unlock()
		if callback != nil {
			callback(oldState, newState)
		}
	}
}

// GetStatus returns the current session status.
func (m *Manager) GetStatus() common.SessionStatus {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	return m.status
}

// transition moves to next when the current status is one of from.
// An empty from matches any status.
func (m *Manager) transition(next common.SessionStatus, from ...common.SessionStatus) bool {
	return m.transitionIf(next, func(s common.SessionStatus) bool {
		return len(from) == 0 || slices.Contains(from, s)
	})
}

// transitionIf moves to next when allow accepts the current status.
func (m *Manager) transitionIf(next common.SessionStatus, allow func(common.SessionStatus) bool) bool {
	m.statusMu.Lock()
	prev := m.status
	ok := allow(prev)
	if !ok || prev == next {
		m.statusMu.Unlock()
		return ok
	}
	m.status = next
	callback := m.onStatusChange
	m.statusMu.Unlock()

	common.LogInfo("Status: %s -> %s", prev, next)
	if callback != nil {
		callback(prev, next)
	}
	return true
}

// Ledger returns a copy of the current session's ledger. It is all-false
// when no session exists.
func (m *Manager) Ledger() Ledger {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.session == nil {
		return Ledger{}
	}
	return m.session.ledger
}

// Info returns a snapshot of the current session, or false when there is none.
func (m *Manager) Info() (SessionInfo, bool) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	s := m.session
	if s == nil {
		return SessionInfo{}, false
	}

	info := SessionInfo{
		ID:        s.id,
		Status:    m.GetStatus(),
		Started:   s.started,
		Server:    s.server,
		Endpoint:  s.endpoint.String(),
		Interface: s.topology.InterfaceName,
		SOCKSPort: s.ports.SOCKS,
		HTTPPort:  s.ports.HTTP,
		Probe:     s.probe.State,
	}
	if s.serverIP != nil {
		info.ServerIP = s.serverIP.String()
	}
	if s.topology.GatewayIP != nil {
		info.Gateway = s.topology.GatewayIP.String()
	}
	if s.health != nil && s.health.IsRunning() {
		info.Health, _ = s.health.State()
	}
	return info, true
}

// Connect provisions the tunnel for cred. On any failure the completed
// steps are reversed, the status returns to disconnected and the error is
// returned wrapped in a *common.StepError naming the failed step.
func (m *Manager) Connect(ctx context.Context, cred *Credential) error {
	if !m.transitionIf(common.StatusConnecting, func(s common.SessionStatus) bool { return !s.Active() }) {
		return ErrAlreadyActive
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	id := uuid.NewString()
	s := &session{
		id:      id,
		started: time.Now(),
		log:     common.Scope(id[:8]),
		done:    make(chan struct{}),
	}
	if cred != nil {
		s.server = cred.ServerName()
	}
	m.record(ctx, s, history.OutcomeConnecting, nil)
	s.log.Info("Connecting to %s", displayServer(s.server))

	if err := m.prepare(ctx, s, cred); err != nil {
		s.log.Error("Connection failed: %v", err)
		m.record(ctx, s, history.OutcomeFailed, err)
		m.transition(common.StatusDisconnected, common.StatusConnecting)
		return err
	}

	m.session = s
	s.steps = m.buildSteps(s)

	if err := s.ledger.run(ctx, s.log, s.steps); err != nil {
		s.log.Error("Connection failed: %v", err)
		m.record(ctx, s, history.OutcomeFailed, err)
		m.teardown(context.WithoutCancel(ctx), s)
		return err
	}

	if m.cfg.HealthInterval > 0 {
		s.health = NewHealthMonitor(m.deps.Prober, s.ports.SOCKS, m.cfg.HealthInterval)
		s.health.SetOnHealthChange(m.healthChanged(s))
		s.health.Start()
	}
	go m.watch(s)

	m.transition(common.StatusConnected, common.StatusConnecting)
	m.record(ctx, s, history.OutcomeConnected, nil)
	s.log.Info("Connected via %s (%s)", s.serverIP, s.endpoint)
	return nil
}

// prepare does the work that precedes the first reversible step: credential
// validation, stray engine cleanup, port allocation and config rendering.
func (m *Manager) prepare(ctx context.Context, s *session, cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	if n := m.deps.Reaper.Reap(ctx); n > 0 {
		s.log.Info("Reaped %d stray engine process(es)", n)
	}

	ports, err := m.deps.Ports()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEngineStartFailed, err)
	}
	s.ports = ports

	endpoint, document, err := engine.Translate(cred.Payload, engine.ConfigParams{
		UserID:     cred.SessionID,
		SOCKSPort:  ports.SOCKS,
		HTTPPort:   ports.HTTP,
		DNSServers: m.engineDNS(),
	})
	if err != nil {
		return err
	}
	s.endpoint = endpoint
	s.document = document
	s.configPath = filepath.Join(m.configDir, common.EngineConfigFileName)

	s.log.Debug("Endpoint %s, socks %d, http %d", endpoint, ports.SOCKS, ports.HTTP)
	return nil
}

// engineDNS is the active provider's IPv4 pair followed by the primary
// IPv4 resolver of every other provider.
func (m *Manager) engineDNS() []string {
	active := m.cfg.ActiveDNS()
	servers := append([]string(nil), active.IPv4...)
	for _, p := range m.cfg.DNSProviders {
		if p.Name != active.Name && len(p.IPv4) > 0 {
			servers = append(servers, p.IPv4[0])
		}
	}
	return servers
}

// buildSteps returns the provisioning sequence for s in execution order.
func (m *Manager) buildSteps(s *session) []step {
	d := m.deps
	dns := m.cfg.ActiveDNS()

	return []step{
		{
			id: StepGatewayResolved,
			forward: func(ctx context.Context) error {
				gw, err := d.Topology.ResolveGateway(ctx)
				if err != nil {
					return err
				}
				iface, err := d.Topology.ResolveGatewayInterface(gw)
				if err != nil {
					return err
				}
				s.topology = netconf.Topology{GatewayIP: gw, InterfaceName: iface}
				s.log.Info("Gateway %s on %s", gw, iface)
				return nil
			},
			reverse: func(context.Context) {
				s.topology = netconf.Topology{}
			},
		},
		{
			id: StepConfigWritten,
			forward: func(context.Context) error {
				return writeEngineConfig(s.configPath, s.document)
			},
			reverse: func(context.Context) {
				removeEngineConfig(s.configPath)
			},
		},
		{
			id: StepServerIPResolved,
			forward: func(ctx context.Context) error {
				ip, err := d.Topology.ResolveEndpointIP(ctx, s.endpoint.Address)
				if err != nil {
					return err
				}
				s.serverIP = ip
				return nil
			},
			reverse: func(context.Context) {
				s.serverIP = nil
			},
		},
		{
			id: StepProxyEngineUp,
			forward: func(ctx context.Context) error {
				if err := d.Supervisor.CheckBinaries(); err != nil {
					return err
				}
				if err := d.Supervisor.Validate(ctx, s.configPath); err != nil {
					return err
				}
				h, err := d.Supervisor.StartEngine(ctx, s.configPath)
				if err != nil {
					return err
				}
				s.engine = h
				s.log.Info("%s ready (pid %d)", h.Name(), h.Pid())
				return nil
			},
			reverse: func(context.Context) {
				terminate(s.engine)
				s.engine = nil
			},
		},
		{
			id: StepConfigDeleted,
			forward: func(context.Context) error {
				if err := os.Remove(s.configPath); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to delete engine config: %w", err)
				}
				return nil
			},
		},
		{
			id: StepAdapterBridgeUp,
			forward: func(ctx context.Context) error {
				h, err := d.Supervisor.StartBridge(ctx, m.cfg.AdapterName, s.ports.SOCKS)
				if err != nil {
					return err
				}
				s.bridge = h
				s.log.Info("%s ready (pid %d)", h.Name(), h.Pid())
				return nil
			},
			reverse: func(context.Context) {
				terminate(s.bridge)
				s.bridge = nil
			},
		},
		{
			id: StepConnectivityVerified,
			forward: func(ctx context.Context) error {
				s.probe = d.Prober.Probe(ctx, s.ports.SOCKS)
				if s.probe.State == HealthUnhealthy {
					s.log.Warn("Tunnel did not answer the connectivity check: %v", s.probe.LastErr)
				}
				return nil
			},
		},
		{
			id: StepAdapterIPAssigned,
			forward: func(ctx context.Context) error {
				return d.Plumber.AssignStaticAddress(ctx)
			},
			reverse: func(ctx context.Context) {
				d.Plumber.RevertStaticAddress(ctx)
			},
		},
		{
			id: StepDNSAssigned,
			forward: func(ctx context.Context) error {
				if m.cfg.MirrorDNSToPhysical {
					s.physical = s.topology.InterfaceName
				}
				return d.Plumber.AssignDNS(ctx, netconf.Resolvers{IPv4: dns.IPv4, IPv6: dns.IPv6}, s.physical)
			},
			reverse: func(ctx context.Context) {
				d.Plumber.RestoreDNS(ctx, s.physical)
			},
		},
		{
			id: StepDefaultRouteInstalled,
			forward: func(ctx context.Context) error {
				return d.Plumber.InstallDefaultRoute(ctx)
			},
			reverse: func(ctx context.Context) {
				d.Plumber.RemoveDefaultRoute(ctx)
			},
		},
		{
			id: StepGatewayReresolved,
			forward: func(ctx context.Context) error {
				gw, err := d.Topology.ResolveGateway(ctx)
				switch {
				case err != nil:
					s.log.Warn("Gateway rediscovery failed: %v", err)
				case !gw.Equal(s.topology.GatewayIP):
					s.log.Warn("Gateway now reported as %s, keeping %s for the server route", gw, s.topology.GatewayIP)
				}
				return nil
			},
		},
		{
			id: StepExceptionRouteInstalled,
			forward: func(ctx context.Context) error {
				return d.Plumber.InstallExceptionRoute(ctx, s.serverIP, s.topology.GatewayIP)
			},
			reverse: func(ctx context.Context) {
				d.Plumber.RemoveExceptionRoute(ctx, s.serverIP)
			},
		},
	}
}

// Disconnect tears down the active session. It never fails; calling it
// without a session is a no-op.
func (m *Manager) Disconnect(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	s := m.session
	if s == nil {
		common.LogDebug("Disconnect: no active session")
		return
	}
	s.log.Info("Disconnecting")
	m.record(ctx, s, history.OutcomeDisconnected, nil)
	m.teardown(context.WithoutCancel(ctx), s)
}

// teardown reverses the completed steps of s and clears the session.
// Must be called with opMu held.
func (m *Manager) teardown(ctx context.Context, s *session) {
	m.transition(common.StatusDisconnecting, common.StatusConnecting, common.StatusConnected)

	s.stop()
	s.ledger.unwind(ctx, s.log, s.steps)
	if s.configPath != "" {
		removeEngineConfig(s.configPath)
	}

	s.serverIP = nil
	s.document = nil
	if m.session == s {
		m.session = nil
	}

	m.transition(common.StatusDisconnected, common.StatusDisconnecting)
	s.log.Info("Session closed")
}

// watch tears the session down if either engine exits on its own.
func (m *Manager) watch(s *session) {
	var name string
	select {
	case <-s.engine.Done():
		name = s.engine.Name()
	case <-s.bridge.Done():
		name = s.bridge.Name()
	case <-s.done:
		return
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.session != s {
		return
	}

	s.log.Warn("%s exited unexpectedly, tearing down the session", name)
	m.record(context.Background(), s, history.OutcomeDisconnected, fmt.Errorf("%s exited", name))
	m.teardown(context.Background(), s)
}

// record journals the state of s. Journal errors are logged only.
func (m *Manager) record(ctx context.Context, s *session, outcome history.Outcome, err error) {
	if m.deps.Recorder == nil {
		return
	}

	e := history.Entry{
		ID:        s.id,
		Started:   s.started,
		Outcome:   outcome,
		Completed: s.ledger.Count(),
		Server:    s.server,
		Provider:  m.cfg.ActiveDNS().Name,
	}
	if outcome == history.OutcomeFailed || outcome == history.OutcomeDisconnected {
		e.Ended = time.Now()
	}
	if s.serverIP != nil {
		e.ServerIP = s.serverIP.String()
	}
	if s.ledger.Done(StepConnectivityVerified) || outcome == history.OutcomeDisconnected {
		e.Probe = s.probe.State.String()
	}
	if err != nil {
		e.Error = err.Error()
		var stepErr *common.StepError
		if errors.As(err, &stepErr) {
			e.FailedStep = stepErr.Step
		}
	}

	if rerr := m.deps.Recorder.Record(context.WithoutCancel(ctx), e); rerr != nil {
		common.LogWarn("Failed to record attempt: %v", rerr)
	}
}

func writeEngineConfig(path string, document []byte) error {
	if err := common.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, document, 0600); err != nil {
		removeEngineConfig(path)
		return fmt.Errorf("failed to write engine config: %w", err)
	}
	return nil
}

func removeEngineConfig(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		common.LogWarn("Failed to delete engine config %s: %v", path, err)
	}
}

func terminate(h engine.Handle) {
	if h == nil {
		return
	}
	common.LogDebug("Stopping %s (pid %d)", h.Name(), h.Pid())
	h.Terminate()
}

func displayServer(name string) string {
	if name == "" {
		return "server"
	}
	return name
}
