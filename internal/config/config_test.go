package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"chanpost/internal/schedule"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  channel_id: -1001234567890
  main_admin_id: 42
  poll_timeout: "10s"
schedule:
  timezone: "UTC"
  window_open: "06:00"
  window_close: "01:00"
  slot: "30m"
dispatch:
  tick: "30s"
  rate_per_min: 20
  fail_notice_after: 5
storage:
  driver: "file"
  path: "./data/state"
logging:
  level: "info"
  console: true
  file:
    enabled: false
    path: ""
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	mgr := NewConfigManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := mgr.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Telegram.ChannelID != -1001234567890 || cfg.Telegram.MainAdminID != 42 {
		t.Fatalf("telegram section = %+v", cfg.Telegram)
	}
	if cfg.Dispatch.FailNoticeAfter != 5 {
		t.Fatalf("dispatch section = %+v", cfg.Dispatch)
	}

	win, err := cfg.Window()
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if win.OpenMin != 6*60 || win.CloseMin != 60 || win.Slot != 30*time.Minute {
		t.Fatalf("window = %+v", win)
	}
}

func TestWindowDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	win, err := cfg.Window()
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	want := schedule.DefaultWindow(time.UTC)
	if win.OpenMin != want.OpenMin || win.CloseMin != want.CloseMin || win.Slot != want.Slot {
		t.Fatalf("window = %+v, want defaults %+v", win, want)
	}
}

func TestValidateRejectsMissingToken(t *testing.T) {
	t.Parallel()
	mgr := NewConfigManager(writeConfig(t, "config.yaml", `
telegram:
  channel_id: -100
  main_admin_id: 1
storage:
  path: "./s"
`))
	cfg, err := mgr.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing token")
	}
}

func TestValidateRejectsTickOverSlot(t *testing.T) {
	t.Parallel()
	mgr := NewConfigManager(writeConfig(t, "config.yaml", `
telegram:
  token: "t"
  channel_id: -100
  main_admin_id: 1
schedule:
  slot: "30m"
dispatch:
  tick: "45m"
storage:
  path: "./s"
`))
	cfg, err := mgr.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for tick > slot")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	mgr := NewConfigManager(writeConfig(t, "config.yaml", `
telegram:
  token: "t"
  channel_id: -100
  main_admin_id: 1
  no_such_field: true
storage:
  path: "./s"
`))
	if _, err := mgr.Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", "90s")
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	d, err = ParseDurationOrDefault("x", "", time.Minute)
	if err != nil || d != time.Minute {
		t.Fatalf("default: got %v, %v", d, err)
	}
}
