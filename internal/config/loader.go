package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultDataDir = ".mcpbridge"
	ConfigFileName = "mcpbridge.json"
)

// Load builds the configuration from defaults, an optional JSON file and
// MCPBRIDGE_* environment variables, in that order of precedence.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	setupViper()

	if configPath == "" {
		configPath = viper.GetString("config")
	}
	fileLoaded := false
	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		fileLoaded = true
	} else if found, path := findConfigFile(); found {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		fileLoaded = true
	}

	// Without a config file, viper overlays env vars and defaults directly.
	if !fileLoaded {
		if err := viper.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupViper configures viper with environment variable handling.
func setupViper() {
	viper.SetEnvPrefix("MCPBRIDGE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	viper.SetDefault("listen", defaultListen)
	viper.SetDefault("base-port", defaultBasePort)
	viper.SetDefault("config", "")
	viper.SetDefault("api-key", "")
}

// applyEnvOverrides lets environment variables win over the config file for
// the handful of settings operators commonly override.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MCPBRIDGE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("MCPBRIDGE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("MCPBRIDGE_DATA"); v != "" {
		cfg.DataDir = v
	}
}

// findConfigFile looks for the config file in common locations.
func findConfigFile() (bool, string) {
	locations := []string{
		ConfigFileName,
		filepath.Join(".", ConfigFileName),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(homeDir, DefaultDataDir, ConfigFileName))
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return true, location
		}
	}
	return false, ""
}

// loadConfigFile loads configuration from a JSON file. An empty file
// (including /dev/null) means "use defaults only".
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveConfig writes the configuration to a JSON file.
func SaveConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
