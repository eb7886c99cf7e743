// Package config handles configuration parsing for adb-shell-mcp.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/droidshell/adb-shell-mcp/internal/ports"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/adb-shell-mcp/config.yaml or ~/.config/adb-shell-mcp/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "adb-shell-mcp", "config.yaml")
}

// DefaultTelemetryPath returns the default telemetry database path:
// ~/.adb-shell-mcp/telemetry.sqlite
func DefaultTelemetryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".adb-shell-mcp", "telemetry.sqlite")
}

// Config represents the top-level configuration.
type Config struct {
	ADB       ADBConfig       `yaml:"adb"`
	Hang      HangConfig      `yaml:"hang_detection"`
	Prompts   PromptConfig    `yaml:"prompt_detection"`
	Transfer  TransferConfig  `yaml:"file_transfer"`
	Jobs      JobsConfig      `yaml:"background_jobs"`
	CLIHints  []CLIHintConfig `yaml:"cli_hints"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ADBConfig defines how the adb and fastboot binaries are invoked.
type ADBConfig struct {
	Path         string        `yaml:"path"`          // adb binary path (default: "adb" from $PATH)
	FastbootPath string        `yaml:"fastboot_path"` // fastboot binary path (default: "fastboot")
	StartTimeout time.Duration `yaml:"start_timeout"` // max wait for an interactive shell to come up
}

// HangConfig tunes the silence-based hang detector.
type HangConfig struct {
	CheckInterval      time.Duration `yaml:"check_interval"`       // polling interval while a command runs
	MinElapsed         time.Duration `yaml:"min_elapsed"`          // no stuck verdicts before this much wall time
	SilentIntervals    int           `yaml:"silent_intervals"`     // consecutive silent checks before UNCERTAIN
	SlowMultiplier     int           `yaml:"slow_multiplier"`      // silence tolerance multiplier for slow commands
	DefaultTimeout     time.Duration `yaml:"default_timeout"`      // per-command ceiling when the caller gives none
	RecoveryProbeWait  time.Duration `yaml:"recovery_probe_wait"`  // wait after each recovery stage before probing
	RecoveryProbeTries int           `yaml:"recovery_probe_tries"` // probe attempts per recovery stage
}

// PromptConfig defines prompt detection settings.
type PromptConfig struct {
	CustomShellPatterns       []string        `yaml:"custom_shell_patterns"`
	CustomInteractivePatterns []PatternConfig `yaml:"custom_interactive_patterns"`
}

// PatternConfig defines a custom interactive-prompt pattern.
type PatternConfig struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
	Kind  string `yaml:"kind"` // "password", "confirmation", "pager", "text"
}

// TransferConfig bounds file transfer operations.
type TransferConfig struct {
	MaxPullKB int `yaml:"max_pull_kb"` // pull size ceiling in KiB
}

// JobsConfig defines background job tracking settings.
type JobsConfig struct {
	WorkDir string `yaml:"work_dir"` // device-side directory for job output and exit files
}

// CLIHintConfig describes a project CLI the caller should prefer over
// raw commands when it is present on the device.
type CLIHintConfig struct {
	Binary      string   `yaml:"binary"`      // binary name probed with command -v
	Description string   `yaml:"description"` // what the tool is for
	Examples    []string `yaml:"examples"`    // invocation examples surfaced to the caller
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// TelemetryConfig defines the local telemetry store.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // sqlite database path
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ADB: ADBConfig{
			Path:         "adb",
			FastbootPath: "fastboot",
			StartTimeout: 10 * time.Second,
		},
		Hang: HangConfig{
			CheckInterval:      500 * time.Millisecond,
			MinElapsed:         5 * time.Second,
			SilentIntervals:    4,
			SlowMultiplier:     10,
			DefaultTimeout:     30 * time.Second,
			RecoveryProbeWait:  time.Second,
			RecoveryProbeTries: 3,
		},
		Transfer: TransferConfig{
			MaxPullKB: 1024,
		},
		Jobs: JobsConfig{
			WorkDir: "/data/local/tmp",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Load loads configuration from a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			// No config file yet, run on defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration, resetting out-of-range values
// to their defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.ADB.Path == "" {
		c.ADB.Path = def.ADB.Path
	}
	if c.ADB.FastbootPath == "" {
		c.ADB.FastbootPath = def.ADB.FastbootPath
	}
	if c.ADB.StartTimeout <= 0 {
		c.ADB.StartTimeout = def.ADB.StartTimeout
	}
	if c.Hang.CheckInterval <= 0 {
		c.Hang.CheckInterval = def.Hang.CheckInterval
	}
	if c.Hang.MinElapsed <= 0 {
		c.Hang.MinElapsed = def.Hang.MinElapsed
	}
	if c.Hang.SilentIntervals <= 0 {
		c.Hang.SilentIntervals = def.Hang.SilentIntervals
	}
	if c.Hang.SlowMultiplier <= 0 {
		c.Hang.SlowMultiplier = def.Hang.SlowMultiplier
	}
	if c.Hang.DefaultTimeout <= 0 {
		c.Hang.DefaultTimeout = def.Hang.DefaultTimeout
	}
	if c.Hang.RecoveryProbeWait <= 0 {
		c.Hang.RecoveryProbeWait = def.Hang.RecoveryProbeWait
	}
	if c.Hang.RecoveryProbeTries <= 0 {
		c.Hang.RecoveryProbeTries = def.Hang.RecoveryProbeTries
	}
	if c.Transfer.MaxPullKB <= 0 {
		c.Transfer.MaxPullKB = def.Transfer.MaxPullKB
	}
	if c.Jobs.WorkDir == "" {
		c.Jobs.WorkDir = def.Jobs.WorkDir
	}

	for _, h := range c.CLIHints {
		if h.Binary == "" {
			return fmt.Errorf("cli_hints entry missing binary name")
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		return fsys[0].WriteFile(path, data, 0644)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
