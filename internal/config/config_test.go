package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:8765" {
		t.Fatalf("expected default addr, got %s", cfg.Addr())
	}
	if cfg.STT.Mode != "mock" || cfg.STT.Model != "base" || cfg.STT.Device != "auto" {
		t.Fatalf("unexpected stt defaults: %+v", cfg.STT)
	}
	if !cfg.STT.Preload {
		t.Fatal("expected preload enabled by default")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" {
		t.Fatalf("expected ephemeral event store, got %s", cfg.EventStore.RetentionMode)
	}
	if cfg.Bus.MaxPayload != 8<<20 {
		t.Fatalf("expected 8MiB bus payload, got %d", cfg.Bus.MaxPayload)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-stt.yaml")
	data := []byte(`
http:
  port: 9000
stt:
  mode: exec
  command: "python3 whisper_cli.py --threads 2"
  model: small
event_store:
  retention_mode: persistent
  path: ./stt.db
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.STT.Mode != "exec" || cfg.STT.Model != "small" {
		t.Fatalf("unexpected stt config: %+v", cfg.STT)
	}
	if cfg.STT.Device != "auto" {
		t.Fatalf("expected untouched default device, got %s", cfg.STT.Device)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_HTTP_PORT", "9100")
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_EMBEDDED", "false")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "session")
	t.Setenv("LOQA_EVENT_STORE_MAX_RECORDS", "50")
	t.Setenv("LOQA_STT_PRELOAD", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9100 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if len(cfg.Bus.Servers) != 2 || cfg.Bus.Servers[1] != "nats://two:4222" {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if !cfg.Bus.Enabled || cfg.Bus.Embedded {
		t.Fatalf("expected external bus, got %+v", cfg.Bus)
	}
	if cfg.EventStore.RetentionMode != "session" || cfg.EventStore.MaxRecords != 50 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.STT.Preload {
		t.Fatal("expected preload override false")
	}
}

func TestWhisperEnvAliases(t *testing.T) {
	t.Setenv("WHISPER_MODEL", "medium")
	t.Setenv("WHISPER_DEVICE", "cuda")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.Model != "medium" || cfg.STT.Device != "cuda" {
		t.Fatalf("expected whisper aliases applied, got %+v", cfg.STT)
	}

	t.Setenv("LOQA_STT_MODEL", "tiny")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.Model != "tiny" {
		t.Fatalf("expected LOQA_STT_MODEL to win, got %s", cfg.STT.Model)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("LOQA_STT_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	t.Setenv("LOQA_STT_MODE", "cloud")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown mode")
	}
}

func TestNodeDefaultsAndOverrides(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Node.Role != "stt" || cfg.Node.HeartbeatInterval != 2000 {
		t.Fatalf("unexpected node defaults: %+v", cfg.Node)
	}

	t.Setenv("LOQA_NODE_ID", "kitchen-stt")
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_NODE_HEARTBEAT_INTERVAL_MS", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for zero heartbeat interval with bus enabled")
	}

	t.Setenv("LOQA_NODE_HEARTBEAT_INTERVAL_MS", "500")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Node.ID != "kitchen-stt" || cfg.Node.HeartbeatInterval != 500 {
		t.Fatalf("expected node overrides, got %+v", cfg.Node)
	}
}
