// Package config defines the daemon configuration and its JSON file format.
package config

import (
	"fmt"
	"net"
	"time"
)

const (
	defaultListen         = "127.0.0.1:9000"
	defaultBasePort       = 8100
	defaultSweepInterval  = 60 * time.Second
	defaultProbeTimeout   = 5 * time.Second
	defaultDiscoverWindow = 10 * time.Second
	defaultCallTimeout    = 30 * time.Second
)

// Config represents the main configuration structure.
type Config struct {
	Listen  string `json:"listen" mapstructure:"listen"`
	DataDir string `json:"data_dir" mapstructure:"data-dir"`

	// BasePort is where the port allocator starts handing out bridge ports.
	BasePort int `json:"base_port" mapstructure:"base-port"`

	// BridgeCommand and BridgeArgs launch one translation process; the
	// target service, spec, port and record id travel in the environment.
	BridgeCommand string   `json:"bridge_command" mapstructure:"bridge-command"`
	BridgeArgs    []string `json:"bridge_args,omitempty" mapstructure:"bridge-args"`

	// HealthCheckInterval is the health monitor sweep period.
	HealthCheckInterval time.Duration `json:"health_check_interval" mapstructure:"health-check-interval"`

	// ProbeTimeout bounds each individual health probe.
	ProbeTimeout time.Duration `json:"probe_timeout" mapstructure:"probe-timeout"`

	// DiscoverTimeout bounds one discovery probe against a candidate spec
	// URL.
	DiscoverTimeout time.Duration `json:"discover_timeout" mapstructure:"discover-timeout"`

	// CallTimeout bounds one translated service call or tool invocation.
	CallTimeout time.Duration `json:"call_timeout" mapstructure:"call-timeout"`

	// APIKey, when set, is required on every /api/v1 request.
	APIKey string `json:"api_key,omitempty" mapstructure:"api-key"`

	// ToolAgents are tool-capable process definitions seeded into the
	// registry at startup.
	ToolAgents []*AgentConfig `json:"toolAgents,omitempty" mapstructure:"tool-agents"`

	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`
}

// AgentConfig declares a tool agent in the configuration file.
type AgentConfig struct {
	Name        string   `json:"name" mapstructure:"name"`
	Command     string   `json:"command" mapstructure:"command"`
	Args        []string `json:"args,omitempty" mapstructure:"args"`
	Description string   `json:"description,omitempty" mapstructure:"description"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`       // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"` // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`         // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              defaultListen,
		DataDir:             "", // set to ~/.mcpbridge by the loader
		BasePort:            defaultBasePort,
		BridgeCommand:       "mcpbridge-worker",
		HealthCheckInterval: defaultSweepInterval,
		ProbeTimeout:        defaultProbeTimeout,
		DiscoverTimeout:     defaultDiscoverWindow,
		CallTimeout:         defaultCallTimeout,
		ToolAgents:          []*AgentConfig{},
		Logging: &LogConfig{
			Level:         "info",
			EnableFile:    false,
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
			JSONFormat:    false,
		},
	}
}

// Validate fills unset fields with defaults and rejects values the daemon
// cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.BasePort <= 0 || c.BasePort > 65535 {
		return fmt.Errorf("base port %d out of range", c.BasePort)
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultSweepInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.DiscoverTimeout <= 0 {
		c.DiscoverTimeout = defaultDiscoverWindow
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	for _, agent := range c.ToolAgents {
		if agent.Name == "" || agent.Command == "" {
			return fmt.Errorf("tool agent entries need both name and command")
		}
	}
	return nil
}
