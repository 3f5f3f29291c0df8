package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

const minimalYAML = `
mode: observe
ws_url: wss://gateway.example/ws
info_url: https://gateway.example/info
persistence:
  data_dir: /tmp/dislocated-signals
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()
	path := writeTestConfig(t, minimalYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WebSocket.HeartbeatIntervalMs != 45000 {
		t.Errorf("heartbeat default = %d, want 45000", cfg.WebSocket.HeartbeatIntervalMs)
	}
	if cfg.Risk.MaxBboAgeMs != 2000 {
		t.Errorf("max_bbo_age_ms default = %d, want 2000", cfg.Risk.MaxBboAgeMs)
	}
	if cfg.Persistence.BufferSize != 5000 {
		t.Errorf("buffer_size default = %d, want 5000", cfg.Persistence.BufferSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("minimal config should validate, got: %v", err)
	}
}

func TestLoadEnvOverridesWsURL(t *testing.T) {
	path := writeTestConfig(t, minimalYAML)
	t.Setenv("DISLOC_WS_URL", "wss://override.example/ws")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WsURL != "wss://override.example/ws" {
		t.Errorf("ws_url = %q, want env override", cfg.WsURL)
	}
}

func TestValidateRejectsMissingWsURL(t *testing.T) {
	t.Parallel()
	path := writeTestConfig(t, "mode: observe\ninfo_url: https://x\npersistence:\n  data_dir: /tmp/x\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject a missing ws_url")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	t.Parallel()
	path := writeTestConfig(t, "mode: bogus\nws_url: wss://x\ninfo_url: https://x\npersistence:\n  data_dir: /tmp/x\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject an unknown mode")
	}
}
