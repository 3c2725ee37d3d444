package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [100, 200]
  group_log: "-100123"
  poll_timeout: "15s"
logging:
  level: "debug"
  console: true
  telegram:
    enabled: true
    min_level: "warn"
    rate_per_sec: 1
storage:
  path: "./data/epibot.db"
  busy_timeout: "2s"
datasets:
  cache_dir: "./data/datasets"
delivery:
  enabled: true
  poll: "*/30 * * * *"
  min_pass_gap: "10s"
  subscriber_delay: "250ms"
  timezone: "Europe/Rome"
  quiet_start: "21:00"
  quiet_end: "10:00"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 200 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if !cfg.Delivery.Enabled || cfg.Delivery.Poll != "*/30 * * * *" {
		t.Fatalf("delivery = %+v", cfg.Delivery)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"123:abc"},"storage":{"path":"./x.db"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"telegram":{"enabled":false,"min_level":"","rate_per_sec":0}},"datasets":{"cache_dir":"./d"},"delivery":{"enabled":false}}`))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nsurprise: 1\n"))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown-field error", err)
	}
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"t"},"storage":{"path":"p"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"telegram":{"enabled":false,"min_level":"","rate_per_sec":0}},"datasets":{"cache_dir":"d"},"delivery":{"enabled":false}}{}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() Config {
		return Config{
			Telegram: TelegramConfig{Token: "t"},
			Storage:  StorageConfig{Path: "p"},
		}
	}

	t.Run("ok", func(t *testing.T) {
		cfg := base()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate error: %v", err)
		}
	})
	t.Run("missing token", func(t *testing.T) {
		cfg := base()
		cfg.Telegram.Token = " "
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("missing storage path", func(t *testing.T) {
		cfg := base()
		cfg.Storage.Path = ""
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("bad duration", func(t *testing.T) {
		cfg := base()
		cfg.Delivery.SubscriberDelay = "soon"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("bad timezone", func(t *testing.T) {
		cfg := base()
		cfg.Delivery.Timezone = "Mars/Olympus"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration must fail")
	}
	if d, err := ParseDurationOrDefault("x", "", 10); err != nil || d != 10 {
		t.Fatalf("default: %v, %v", d, err)
	}
}
