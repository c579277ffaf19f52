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
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

const yamlConfig = `
server:
  address: ":8090"
logging:
  level: debug
  console: true
store:
  driver: memory
  database_url: https://example.firebaseio.com
  poll_interval: 10s
scheduler:
  timezone: Asia/Jakarta
executor:
  ping_timeout: 15s
history:
  driver: file
  path: /tmp/runs.jsonl
  keep_records: 50
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", yamlConfig))

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Server.Address != ":8090" {
		t.Fatalf("Address = %q", cfg.Server.Address)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Store.Driver != "memory" || cfg.Store.PollInterval != "10s" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Scheduler.Timezone != "Asia/Jakarta" {
		t.Fatalf("timezone = %q", cfg.Scheduler.Timezone)
	}
	if cfg.History == nil || cfg.History.KeepRecords != 50 {
		t.Fatalf("history = %+v", cfg.History)
	}
	if cfg.Alerts != nil {
		t.Fatalf("alerts should be absent, got %+v", cfg.Alerts)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{
  "server": {"address": ":3000"},
  "logging": {"console": true},
  "store": {"database_url": "https://example.firebaseio.com"},
  "scheduler": {}
}`))

	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Server.Address != ":3000" {
		t.Fatalf("Address = %q", cfg.Server.Address)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", `
server:
  address: ":3000"
  port: 3000
logging:
  console: true
store:
  database_url: x
scheduler: {}
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{"server":{"address":":1"}} {"extra":true}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for trailing tokens")
	}
}

func TestLoadCommitsAndGet(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", yamlConfig))

	if m.Get() != nil {
		t.Fatal("Get before Load should be nil")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")

	ch := m.Subscribe(1)
	m.publish(&Config{})
	select {
	case got := <-ch:
		if got == nil {
			t.Fatal("nil config published")
		}
	default:
		t.Fatal("subscriber did not receive published config")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after Unsubscribe")
	}
	m.Unsubscribe(ch) // double unsubscribe is a no-op
}

func TestPublishDropsOldest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")

	ch := m.Subscribe(1)
	first := &Config{Server: ServerConfig{Address: ":1"}}
	second := &Config{Server: ServerConfig{Address: ":2"}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got.Server.Address != ":2" {
		t.Fatalf("slow subscriber got stale config %q", got.Server.Address)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty is zero", raw: "", want: 0},
		{name: "seconds", raw: "10s", want: 10 * time.Second},
		{name: "minutes", raw: "2m", want: 2 * time.Minute},
		{name: "negative", raw: "-5s", wantErr: true},
		{name: "bare number", raw: "10", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationField("test.field", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationField(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("f", "", 5*time.Second)
	if err != nil || got != 5*time.Second {
		t.Fatalf("got %v, %v", got, err)
	}
	got, err = ParseDurationOrDefault("f", "1m", 5*time.Second)
	if err != nil || got != time.Minute {
		t.Fatalf("got %v, %v", got, err)
	}
}
