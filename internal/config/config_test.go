package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/droidshell/adb-shell-mcp/internal/testing/fakes/fakefs"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ADB.Path != "adb" {
		t.Errorf("ADB.Path = %q, want %q", cfg.ADB.Path, "adb")
	}
	if cfg.Hang.CheckInterval != 500*time.Millisecond {
		t.Errorf("Hang.CheckInterval = %v, want %v", cfg.Hang.CheckInterval, 500*time.Millisecond)
	}
	if cfg.Hang.MinElapsed != 5*time.Second {
		t.Errorf("Hang.MinElapsed = %v, want %v", cfg.Hang.MinElapsed, 5*time.Second)
	}
	if cfg.Hang.SilentIntervals != 4 {
		t.Errorf("Hang.SilentIntervals = %d, want %d", cfg.Hang.SilentIntervals, 4)
	}
	if cfg.Hang.SlowMultiplier != 10 {
		t.Errorf("Hang.SlowMultiplier = %d, want %d", cfg.Hang.SlowMultiplier, 10)
	}
	if cfg.Transfer.MaxPullKB != 1024 {
		t.Errorf("Transfer.MaxPullKB = %d, want %d", cfg.Transfer.MaxPullKB, 1024)
	}
	if cfg.Jobs.WorkDir != "/data/local/tmp" {
		t.Errorf("Jobs.WorkDir = %q, want %q", cfg.Jobs.WorkDir, "/data/local/tmp")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if !cfg.Logging.Sanitize {
		t.Error("Logging.Sanitize = false, want true")
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = true, want false")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.ADB.Path != "adb" {
		t.Errorf("ADB.Path = %q, want %q (default)", cfg.ADB.Path, "adb")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load(nonexistent) error: %v", err)
	}
	if cfg.Hang.SilentIntervals != 4 {
		t.Errorf("Hang.SilentIntervals = %d, want %d (default)", cfg.Hang.SilentIntervals, 4)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "bad.yaml")
	if err := os.WriteFile(path, []byte(":::invalid:::yaml{{{"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load(invalid YAML) expected error, got nil")
	}
}

func TestLoadValidConfig(t *testing.T) {
	yaml := `
adb:
  path: /opt/platform-tools/adb
  start_timeout: 20s
hang_detection:
  check_interval: 250ms
  silent_intervals: 8
  default_timeout: 2m
file_transfer:
  max_pull_kb: 512
cli_hints:
  - binary: atest
    description: Android platform test runner
    examples:
      - atest CtsShortcutHostTestCases
logging:
  level: debug
  sanitize: false
telemetry:
  enabled: true
  path: /tmp/telemetry.db
`
	fsys := fakefs.New()
	fsys.AddFile("/cfg/config.yaml", []byte(yaml), 0644)

	cfg, err := Load("/cfg/config.yaml", fsys)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.ADB.Path != "/opt/platform-tools/adb" {
		t.Errorf("ADB.Path = %q, want %q", cfg.ADB.Path, "/opt/platform-tools/adb")
	}
	if cfg.ADB.StartTimeout != 20*time.Second {
		t.Errorf("ADB.StartTimeout = %v, want %v", cfg.ADB.StartTimeout, 20*time.Second)
	}
	if cfg.Hang.CheckInterval != 250*time.Millisecond {
		t.Errorf("Hang.CheckInterval = %v, want %v", cfg.Hang.CheckInterval, 250*time.Millisecond)
	}
	if cfg.Hang.SilentIntervals != 8 {
		t.Errorf("Hang.SilentIntervals = %d, want %d", cfg.Hang.SilentIntervals, 8)
	}
	if cfg.Hang.DefaultTimeout != 2*time.Minute {
		t.Errorf("Hang.DefaultTimeout = %v, want %v", cfg.Hang.DefaultTimeout, 2*time.Minute)
	}
	// Unspecified fields keep defaults
	if cfg.Hang.MinElapsed != 5*time.Second {
		t.Errorf("Hang.MinElapsed = %v, want default %v", cfg.Hang.MinElapsed, 5*time.Second)
	}
	if cfg.Transfer.MaxPullKB != 512 {
		t.Errorf("Transfer.MaxPullKB = %d, want %d", cfg.Transfer.MaxPullKB, 512)
	}
	if len(cfg.CLIHints) != 1 {
		t.Fatalf("len(CLIHints) = %d, want 1", len(cfg.CLIHints))
	}
	if cfg.CLIHints[0].Binary != "atest" {
		t.Errorf("CLIHints[0].Binary = %q, want %q", cfg.CLIHints[0].Binary, "atest")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Sanitize {
		t.Error("Logging.Sanitize = true, want false")
	}
	if !cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = false, want true")
	}
}

func TestValidateResetsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hang.CheckInterval = -1
	cfg.Hang.SilentIntervals = 0
	cfg.Transfer.MaxPullKB = -5
	cfg.ADB.Path = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}

	if cfg.Hang.CheckInterval != 500*time.Millisecond {
		t.Errorf("CheckInterval = %v, want reset to %v", cfg.Hang.CheckInterval, 500*time.Millisecond)
	}
	if cfg.Hang.SilentIntervals != 4 {
		t.Errorf("SilentIntervals = %d, want reset to 4", cfg.Hang.SilentIntervals)
	}
	if cfg.Transfer.MaxPullKB != 1024 {
		t.Errorf("MaxPullKB = %d, want reset to 1024", cfg.Transfer.MaxPullKB)
	}
	if cfg.ADB.Path != "adb" {
		t.Errorf("ADB.Path = %q, want reset to %q", cfg.ADB.Path, "adb")
	}
}

func TestValidateRejectsUnnamedCLIHint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CLIHints = []CLIHintConfig{{Description: "no binary"}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate expected error for cli_hints entry without binary")
	}
}

func TestSaveAndReload(t *testing.T) {
	fsys := fakefs.New()
	cfg := DefaultConfig()
	cfg.ADB.Path = "/custom/adb"
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Path = "/var/lib/telemetry.db"

	if err := Save(cfg, "/cfg/config.yaml", fsys); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	loaded, err := Load("/cfg/config.yaml", fsys)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.ADB.Path != "/custom/adb" {
		t.Errorf("ADB.Path = %q, want %q", loaded.ADB.Path, "/custom/adb")
	}
	if !loaded.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = false after reload, want true")
	}
	if loaded.Telemetry.Path != "/var/lib/telemetry.db" {
		t.Errorf("Telemetry.Path = %q, want %q", loaded.Telemetry.Path, "/var/lib/telemetry.db")
	}
}
