package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root TOML configuration shared by the CLI and the API server.
type Config struct {
	RPCURL          string `toml:"RPCURL"`
	RESTURL         string `toml:"RESTURL"`
	AgentURL        string `toml:"AgentURL"`
	ContractAddress string `toml:"ContractAddress"`
	ContractName    string `toml:"ContractName"`
	ListenAddress   string `toml:"ListenAddress"`
	SessionDBPath   string `toml:"SessionDBPath"`
	RequestTimeout  int64  `toml:"RequestTimeoutSeconds"`
	ReadsPerSecond  int    `toml:"ReadsPerSecond"`
	ReadBurst       int    `toml:"ReadBurst"`

	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`
}

// TelemetryConfig controls OTLP export. Disabled entirely when Endpoint is
// empty.
type TelemetryConfig struct {
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Traces      bool   `toml:"Traces"`
	Metrics     bool   `toml:"Metrics"`
	Environment string `toml:"Environment"`
}

// LogConfig controls structured log output. File rotation is active only when
// Path is set.
type LogConfig struct {
	Path       string `toml:"Path"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults(path)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(path string) {
	if strings.TrimSpace(c.RPCURL) == "" {
		c.RPCURL = "http://127.0.0.1:8080"
	}
	if strings.TrimSpace(c.RESTURL) == "" {
		c.RESTURL = "http://127.0.0.1:3999"
	}
	if strings.TrimSpace(c.AgentURL) == "" {
		c.AgentURL = "http://127.0.0.1:8432"
	}
	if strings.TrimSpace(c.ContractAddress) == "" {
		c.ContractAddress = "ST1Z9Q8F39NMNNAKRXDQZYNS2R6PJA5BVHHGRESTD"
	}
	if strings.TrimSpace(c.ContractName) == "" {
		c.ContractName = "poh"
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8090"
	}
	if strings.TrimSpace(c.SessionDBPath) == "" {
		c.SessionDBPath = filepath.Join(filepath.Dir(path), "session.db")
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10
	}
	if c.ReadsPerSecond <= 0 {
		c.ReadsPerSecond = 20
	}
	if c.ReadBurst <= 0 {
		c.ReadBurst = c.ReadsPerSecond
	}
	if strings.TrimSpace(c.Telemetry.Environment) == "" {
		c.Telemetry.Environment = "local"
	}
}

func (c *Config) validate() error {
	for name, value := range map[string]string{
		"RPCURL":   c.RPCURL,
		"RESTURL":  c.RESTURL,
		"AgentURL": c.AgentURL,
	} {
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return fmt.Errorf("config: %s must be an http(s) URL, got %q", name, value)
		}
	}
	if !strings.HasPrefix(c.ContractAddress, "ST") && !strings.HasPrefix(c.ContractAddress, "SP") {
		return fmt.Errorf("config: ContractAddress %q is not a principal", c.ContractAddress)
	}
	return nil
}

// RequestTimeoutDuration converts the configured second count.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults(path)
	cfg.Telemetry = TelemetryConfig{Environment: "local"}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
