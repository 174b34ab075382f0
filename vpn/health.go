// Package vpn provides tunnel session management for MasyaVPN.
// This file contains the connectivity prober that checks the SOCKS listener
// reaches the internet, and the monitor that keeps probing while connected.
package vpn

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/masyavpn/masyavpn/common"
	"github.com/masyavpn/masyavpn/config"
)

// HealthState represents the outcome of connectivity probing.
type HealthState int

const (
	HealthUnknown HealthState = iota
	// HealthHealthy means the first attempt got a response.
	HealthHealthy
	// HealthDegraded means a response came only after retries.
	HealthDegraded
	// HealthUnhealthy means every attempt failed.
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// ProbeResult describes one probe run.
type ProbeResult struct {
	State    HealthState
	Attempts int
	Latency  time.Duration
	LastErr  error
}

// Prober checks that traffic entering the local SOCKS listener reaches the
// internet. Probe never fails: the result is diagnostic.
type Prober interface {
	Probe(ctx context.Context, socksPort int) ProbeResult
}

// HTTPProber issues a plain HTTP GET through the SOCKS listener.
// Any response counts as success; the status code is not inspected.
type HTTPProber struct {
	config config.ProbeConfig

	// roundTrip performs one attempt. It is replaced in tests.
	roundTrip func(ctx context.Context, socksPort int) error
	sleep     func(ctx context.Context, d time.Duration)
}

// NewHTTPProber creates a prober with the given settings.
func NewHTTPProber(cfg config.ProbeConfig) *HTTPProber {
	p := &HTTPProber{config: cfg, sleep: sleepContext}
	p.roundTrip = p.get
	return p
}

// Probe tries up to Attempts times, waiting Backoff between attempts.
// When every attempt fails it still returns, with State HealthUnhealthy.
func (p *HTTPProber) Probe(ctx context.Context, socksPort int) ProbeResult {
	result := ProbeResult{State: HealthUnhealthy}

	for i := 1; i <= p.config.Attempts; i++ {
		result.Attempts = i

		start := time.Now()
		err := p.roundTrip(ctx, socksPort)
		if err == nil {
			result.Latency = time.Since(start)
			result.LastErr = nil
			if i == 1 {
				result.State = HealthHealthy
			} else {
				result.State = HealthDegraded
			}
			common.LogInfo("Connectivity check passed on attempt %d (%v)", i, result.Latency)
			return result
		}

		result.LastErr = err
		common.LogWarn("Connectivity check attempt %d/%d failed: %v", i, p.config.Attempts, err)
		if i < p.config.Attempts {
			p.sleep(ctx, p.config.Backoff)
		}
	}

	common.LogWarn("Connectivity check failed %d times, continuing anyway", result.Attempts)
	return result
}

// get performs a single bounded GET through the SOCKS listener.
func (p *HTTPProber) get(ctx context.Context, socksPort int) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	dialer, err := proxy.SOCKS5("tcp", fmt.Sprintf("127.0.0.1:%d", socksPort), nil,
		&net.Dialer{Timeout: p.config.Timeout})
	if err != nil {
		return err
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return fmt.Errorf("socks dialer does not support contexts")
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext:       contextDialer.DialContext,
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+p.config.Target+"/", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// HealthMonitor keeps probing an established session and reports state
// changes. It never tears the session down.
type HealthMonitor struct {
	mu             sync.RWMutex
	prober         Prober
	interval       time.Duration
	socksPort      int
	state          HealthState
	lastCheck      time.Time
	running        bool
	stopChan       chan struct{}
	onHealthChange func(oldState, newState HealthState)
}

// NewHealthMonitor creates a monitor probing socksPort every interval.
func NewHealthMonitor(prober Prober, socksPort int, interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		prober:    prober,
		interval:  interval,
		socksPort: socksPort,
		stopChan:  make(chan struct{}),
	}
}

// SetOnHealthChange sets a callback for health state changes.
func (hm *HealthMonitor) SetOnHealthChange(callback func(oldState, newState HealthState)) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.onHealthChange = callback
}

// Start begins the probing loop.
func (hm *HealthMonitor) Start() {
	hm.mu.Lock()
	if hm.running {
		hm.mu.Unlock()
		return
	}
	hm.running = true
	hm.stopChan = make(chan struct{})
	hm.mu.Unlock()

	common.LogInfo("Health monitor started (interval: %v)", hm.interval)

	go hm.runLoop()
}

// Stop stops the probing loop.
func (hm *HealthMonitor) Stop() {
	hm.mu.Lock()
	if !hm.running {
		hm.mu.Unlock()
		return
	}
	hm.running = false
	close(hm.stopChan)
	hm.mu.Unlock()

	common.LogInfo("Health monitor stopped")
}

// IsRunning returns whether the monitor is currently running.
func (hm *HealthMonitor) IsRunning() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.running
}

// State returns the latest health state and when it was measured.
func (hm *HealthMonitor) State() (HealthState, time.Time) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.state, hm.lastCheck
}

func (hm *HealthMonitor) runLoop() {
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	hm.mu.RLock()
	stop := hm.stopChan
	hm.mu.RUnlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hm.record(hm.prober.Probe(ctx, hm.socksPort))
		}
	}
}

// record stores a probe result and notifies on state change.
func (hm *HealthMonitor) record(result ProbeResult) {
	hm.mu.Lock()
	oldState := hm.state
	hm.state = result.State
	hm.lastCheck = time.Now()
	callback := hm.onHealthChange
	hm.mu.Unlock()

	if oldState != result.State {
		common.LogInfo("Health state changed: %s -> %s", oldState, result.State)
		if callback != nil {
			go callback(oldState, result.State)
		}
	}
}
