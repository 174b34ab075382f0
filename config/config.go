// Package config provides configuration management for the MasyaVPN client.
// It handles loading, saving, and validating the orchestrator settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/masyavpn/masyavpn/common"
)

// DNSProvider is one entry of the DNS profile: a named resolver pair for
// each address family.
type DNSProvider struct {
	Name string   `yaml:"name"`
	IPv4 []string `yaml:"ipv4"`
	IPv6 []string `yaml:"ipv6"`
}

// ProbeConfig controls the connectivity check made through the SOCKS listener.
type ProbeConfig struct {
	// Target is the host:port of a cheap plain-HTTP endpoint.
	Target string `yaml:"target"`
	// Attempts is how many times the probe is tried.
	Attempts int `yaml:"attempts"`
	// Timeout bounds each attempt.
	Timeout time.Duration `yaml:"timeout"`
	// Backoff is the pause between attempts.
	Backoff time.Duration `yaml:"backoff"`
}

// Config represents the orchestrator configuration.
// All settings are persisted to a YAML file in the application data directory.
type Config struct {
	// AdapterName is the virtual adapter created by the tunnel bridge.
	AdapterName string `yaml:"adapter_name"`
	// BinaryDir holds the engine binaries. Empty means "bin" beside the executable.
	BinaryDir string `yaml:"binary_dir"`
	// EngineBinary is the proxy engine executable name.
	EngineBinary string `yaml:"engine_binary"`
	// BridgeBinary is the tunnel adapter bridge executable name.
	BridgeBinary string `yaml:"bridge_binary"`
	// EngineReadyMarker is matched case-insensitively against engine output.
	EngineReadyMarker string `yaml:"engine_ready_marker"`
	// StartupTimeout bounds each engine start.
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	// DNSProvider is the preferred provider name; the first entry of
	// DNSProviders is used when it is empty or unknown.
	DNSProvider string `yaml:"dns_provider"`
	// DNSProviders is the ordered DNS profile.
	DNSProviders []DNSProvider `yaml:"dns_providers"`
	// MirrorDNSToPhysical also sets the tunnel resolvers on the original interface.
	MirrorDNSToPhysical bool `yaml:"mirror_dns_to_physical"`
	// Probe configures the connectivity check.
	Probe ProbeConfig `yaml:"probe"`
	// HealthInterval is how often an established session is re-probed.
	// Zero disables the health monitor.
	HealthInterval time.Duration `yaml:"health_interval"`
	// History keeps a journal of connection attempts.
	History bool `yaml:"history"`
}

// DefaultDNSProviders is the built-in DNS profile, in preference order.
func DefaultDNSProviders() []DNSProvider {
	return []DNSProvider{
		{
			Name: "cloudflare",
			IPv4: []string{"1.1.1.1", "1.0.0.1"},
			IPv6: []string{"2606:4700:4700::1111", "2606:4700:4700::1001"},
		},
		{
			Name: "google",
			IPv4: []string{"8.8.8.8", "8.8.4.4"},
			IPv6: []string{"2001:4860:4860::8888", "2001:4860:4860::8844"},
		},
	}
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AdapterName:       "masyavpn",
		EngineBinary:      executableName("xray"),
		BridgeBinary:      executableName("tun2socks"),
		EngineReadyMarker: "started",
		StartupTimeout:    common.StartupTimeout,
		DNSProvider:       "cloudflare",
		DNSProviders:      DefaultDNSProviders(),

		MirrorDNSToPhysical: true,
		Probe: ProbeConfig{
			Target:   "cp.cloudflare.com:80",
			Attempts: common.ProbeAttempts,
			Timeout:  common.ProbeTimeout,
			Backoff:  common.ProbeBackoff,
		},
		HealthInterval: 30 * time.Second,
		History:        true,
	}
}

func executableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(configPath)
}

// LoadFile loads the configuration from path, writing defaults there when
// the file does not exist yet.
func LoadFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveFile(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", common.ErrConfigLoad, configPath, err)
	}

	config.validate()
	return config, nil
}

// validate repairs invalid values by falling back to defaults.
func (c *Config) validate() {
	def := DefaultConfig()

	if strings.TrimSpace(c.AdapterName) == "" {
		c.AdapterName = def.AdapterName
	}
	if c.EngineBinary == "" {
		c.EngineBinary = def.EngineBinary
	}
	if c.BridgeBinary == "" {
		c.BridgeBinary = def.BridgeBinary
	}
	if c.EngineReadyMarker == "" {
		c.EngineReadyMarker = def.EngineReadyMarker
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = def.StartupTimeout
	}

	providers := c.DNSProviders[:0]
	for _, p := range c.DNSProviders {
		if len(p.IPv4) >= 2 && len(p.IPv6) >= 2 {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		providers = def.DNSProviders
	}
	c.DNSProviders = providers

	if c.Probe.Target == "" {
		c.Probe.Target = def.Probe.Target
	}
	if c.Probe.Attempts <= 0 {
		c.Probe.Attempts = def.Probe.Attempts
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = def.Probe.Timeout
	}
	if c.Probe.Backoff < 0 {
		c.Probe.Backoff = def.Probe.Backoff
	}
	if c.HealthInterval < 0 {
		c.HealthInterval = def.HealthInterval
	}
}

// ActiveDNS returns the DNS provider used for the session: the preferred
// one when it exists, otherwise the first of the profile.
func (c *Config) ActiveDNS() DNSProvider {
	for _, p := range c.DNSProviders {
		if strings.EqualFold(p.Name, c.DNSProvider) {
			return p
		}
	}
	if len(c.DNSProviders) > 0 {
		return c.DNSProviders[0]
	}
	return DefaultDNSProviders()[0]
}

// ResolveBinaryDir returns BinaryDir or the bundled default.
func (c *Config) ResolveBinaryDir() string {
	if c.BinaryDir != "" {
		return c.BinaryDir
	}
	return common.GetBinaryDir()
}

// EnginePath returns the absolute path of the proxy engine binary.
func (c *Config) EnginePath() string {
	return filepath.Join(c.ResolveBinaryDir(), c.EngineBinary)
}

// BridgePath returns the absolute path of the adapter bridge binary.
func (c *Config) BridgePath() string {
	return filepath.Join(c.ResolveBinaryDir(), c.BridgeBinary)
}

// Save saves the configuration to the default file.
func (c *Config) Save() error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	return c.SaveFile(configPath)
}

// SaveFile saves the configuration to configPath.
func (c *Config) SaveFile(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("%w: creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: serializing: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

// Path returns the default config file location.
func Path() (string, error) {
	dir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}
