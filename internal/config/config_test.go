package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{
		"server": {"addr": ":9000"},
		"dispatch": {"tick_interval": "500ms", "drop_offline": false},
		"session": {"ttl": "15m", "senders": ["app1", "app2"], "rate_per_sec": 5},
		"store": {"driver": "memory"},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Dispatch.TickInterval != "500ms" {
		t.Fatalf("tick_interval = %q", cfg.Dispatch.TickInterval)
	}
	if cfg.Dispatch.DropOffline == nil || *cfg.Dispatch.DropOffline {
		t.Fatal("drop_offline should be explicit false")
	}
	if len(cfg.Session.Senders) != 2 {
		t.Fatalf("senders = %v", cfg.Session.Senders)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
server:
  addr: ":9000"
session:
  senders:
    - app1
store:
  driver: memory
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Dispatch.DropOffline != nil {
		t.Fatal("omitted drop_offline should stay nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"sessioon": {"senders": ["app1"]}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Session: SessionConfig{Senders: []string{"app1"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "minimal ok", mutate: func(*Config) {}},
		{name: "no senders", mutate: func(c *Config) { c.Session.Senders = nil }, wantErr: true},
		{name: "blank sender", mutate: func(c *Config) { c.Session.Senders = []string{" "} }, wantErr: true},
		{name: "bad duration", mutate: func(c *Config) { c.Dispatch.TickInterval = "soon" }, wantErr: true},
		{name: "negative duration", mutate: func(c *Config) { c.Session.TTL = "-5m" }, wantErr: true},
		{name: "bad driver", mutate: func(c *Config) { c.Store.Driver = "redis" }, wantErr: true},
		{name: "memory driver", mutate: func(c *Config) { c.Store.Driver = "memory" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "  "); err != nil || d != 0 {
		t.Fatalf("blank field: d=%v err=%v", d, err)
	}
	if d, err := ParseDurationField("x", "1500ms"); err != nil || d != 1500*time.Millisecond {
		t.Fatalf("1500ms: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	cfg := &Config{Session: SessionConfig{Senders: []string{"app1"}}}
	m.Commit(cfg)
	m.publish(cfg)

	select {
	case got := <-sub:
		if got != cfg {
			t.Fatal("received different config pointer")
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}
