package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesFullConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCURL = "https://node.example:8080"
RESTURL = "https://rest.example:3999"
AgentURL = "http://127.0.0.1:9001"
ContractAddress = "SP000000000000000000002Q6VF78"
ContractName = "loans"
ListenAddress = ":7070"
SessionDBPath = "/var/lib/hodl/session.db"
RequestTimeoutSeconds = 30
ReadsPerSecond = 5
ReadBurst = 10

[telemetry]
Endpoint = "collector:4318"
Insecure = true
Traces = true
Metrics = true
Environment = "staging"

[log]
Path = "/var/log/hodl/cli.log"
MaxSizeMB = 64
MaxBackups = 3
MaxAgeDays = 14
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "https://node.example:8080" || cfg.ContractName != "loans" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ReadsPerSecond != 5 || cfg.ReadBurst != 10 {
		t.Fatalf("rate settings = %d/%d", cfg.ReadsPerSecond, cfg.ReadBurst)
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.Endpoint != "collector:4318" {
		t.Fatalf("telemetry = %+v", cfg.Telemetry)
	}
	if cfg.Log.MaxBackups != 3 {
		t.Fatalf("log = %+v", cfg.Log)
	}
}

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL == "" || cfg.ContractAddress == "" || cfg.ContractName != "poh" {
		t.Fatalf("defaults missing: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not persisted: %v", err)
	}

	// Second load reads the persisted file back cleanly.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.RPCURL != cfg.RPCURL {
		t.Fatalf("reload mismatch: %q vs %q", again.RPCURL, cfg.RPCURL)
	}
}

func TestLoadRejectsBadURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`RPCURL = "ftp://node"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected URL validation error")
	}
}

func TestLoadRejectsBadPrincipal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`ContractAddress = "0xabc"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected principal validation error")
	}
}
