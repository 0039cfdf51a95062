// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads and validates the daemon's YAML configuration.
// Parsing happens once at startup; an unreadable or invalid file is a
// fatal error, a missing file yields the defaults.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/filters"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/system"
	"github.com/ssahani/netevd/internal/validation"
)

// Backends selectable via system.backend.
const (
	BackendNetworkd       = "systemd-networkd"
	BackendNetworkManager = "NetworkManager"
	BackendDhclient       = "dhclient"
)

// Duration wraps time.Duration with YAML string decoding ("30s", "2m").
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML decodes a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, errors.KindValidation, "invalid duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the root of the configuration file.
type Config struct {
	System     SystemConfig     `yaml:"system"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Routing    RoutingConfig    `yaml:"routing"`
	Backends   BackendsConfig   `yaml:"backends"`
	Filters    []filters.Filter `yaml:"filters"`
}

// SystemConfig covers daemon-wide settings.
type SystemConfig struct {
	LogLevel    string   `yaml:"log_level"`
	Backend     string   `yaml:"backend"`
	HookRoot    string   `yaml:"hook_root"`
	HookTimeout Duration `yaml:"hook_timeout"`
}

// MonitoringConfig selects the interfaces the watcher reports on.
type MonitoringConfig struct {
	Interfaces []string `yaml:"interfaces"`
}

// IsMonitored reports whether events for the interface are of interest.
// An empty list monitors everything.
func (m MonitoringConfig) IsMonitored(name string) bool {
	if len(m.Interfaces) == 0 {
		return true
	}
	for _, n := range m.Interfaces {
		if n == name {
			return true
		}
	}
	return false
}

// RoutingConfig selects the interfaces that get policy routing.
type RoutingConfig struct {
	PolicyRules  []string `yaml:"policy_rules"`
	RulePriority int      `yaml:"rule_priority"`
}

// IsManaged reports whether the policy-routing engine owns the interface.
func (r RoutingConfig) IsManaged(name string) bool {
	for _, n := range r.PolicyRules {
		if n == name {
			return true
		}
	}
	return false
}

// BackendsConfig holds per-backend options.
type BackendsConfig struct {
	SystemdNetworkd NetworkdConfig `yaml:"systemd_networkd"`
	Dhclient        DhclientConfig `yaml:"dhclient"`
}

// NetworkdConfig tunes the systemd-networkd listener.
type NetworkdConfig struct {
	EmitJSON    bool `yaml:"emit_json"`
	UseDNS      bool `yaml:"use_dns"`
	UseDomain   bool `yaml:"use_domain"`
	UseHostname bool `yaml:"use_hostname"`
}

// DhclientConfig tunes the lease-file listener.
type DhclientConfig struct {
	LeaseFile   string `yaml:"lease_file"`
	UseDNS      bool   `yaml:"use_dns"`
	UseDomain   bool   `yaml:"use_domain"`
	UseHostname bool   `yaml:"use_hostname"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel:    logging.LevelInfo,
			Backend:     BackendNetworkd,
			HookRoot:    system.ConfigDir,
			HookTimeout: Duration(30 * time.Second),
		},
		Backends: BackendsConfig{
			Dhclient: DhclientConfig{
				LeaseFile: system.DhclientLeaseFile,
			},
		},
	}
}

// Load reads and validates the configuration file. A missing file is
// not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, errors.KindUnavailable, "failed to read config %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "failed to parse config %s", path)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills fields an explicit file left empty.
func (c *Config) applyDefaults() {
	if c.System.LogLevel == "" {
		c.System.LogLevel = logging.LevelInfo
	}
	if c.System.Backend == "" {
		c.System.Backend = BackendNetworkd
	}
	if c.System.HookRoot == "" {
		c.System.HookRoot = system.ConfigDir
	}
	if c.System.HookTimeout <= 0 {
		c.System.HookTimeout = Duration(30 * time.Second)
	}
	if c.Backends.Dhclient.LeaseFile == "" {
		c.Backends.Dhclient.LeaseFile = system.DhclientLeaseFile
	}
}

// Validate enforces the closed value sets and rejects malformed
// interface names before they can reach the kernel or a hook.
func (c *Config) Validate() error {
	if !logging.ValidLevel(c.System.LogLevel) {
		return errors.Errorf(errors.KindValidation, "unknown log_level %q", c.System.LogLevel)
	}

	switch c.System.Backend {
	case BackendNetworkd, BackendNetworkManager, BackendDhclient:
	default:
		return errors.Errorf(errors.KindValidation, "unknown backend %q", c.System.Backend)
	}

	for _, name := range c.Monitoring.Interfaces {
		if err := validation.ValidateInterfaceName(name); err != nil {
			return errors.Wrapf(err, errors.KindValidation, "monitoring.interfaces entry %q", name)
		}
	}
	for _, name := range c.Routing.PolicyRules {
		if err := validation.ValidateInterfaceName(name); err != nil {
			return errors.Wrapf(err, errors.KindValidation, "routing.policy_rules entry %q", name)
		}
	}

	if c.Routing.RulePriority < 0 {
		return errors.Errorf(errors.KindValidation, "routing.rule_priority must not be negative")
	}

	for _, f := range c.Filters {
		switch f.Action {
		case filters.ActionExecute, filters.ActionIgnore, filters.ActionLog:
		default:
			return errors.Errorf(errors.KindValidation, "unknown filter action %q", f.Action)
		}
	}
	return nil
}
