// adb-shell-mcp is an MCP server providing persistent, interactive
// shell sessions on Android devices over adb.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/droidshell/adb-shell-mcp/internal/adb"
	"github.com/droidshell/adb-shell-mcp/internal/config"
	"github.com/droidshell/adb-shell-mcp/internal/logging"
	"github.com/droidshell/adb-shell-mcp/internal/mcp"
	"github.com/droidshell/adb-shell-mcp/internal/session"
	"github.com/droidshell/adb-shell-mcp/internal/telemetry"
	"github.com/droidshell/adb-shell-mcp/internal/transport"
)

// Version information - set at build time.
var (
	Version   = "0.4.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath  string
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if showVersion {
		fmt.Printf("adb-shell-mcp version %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if debug {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr; stdout carries the MCP protocol
	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	slog.Info("starting adb-shell-mcp",
		slog.String("version", Version),
		slog.String("adb", cfg.ADB.Path),
	)

	adbClient := adb.NewClient(cfg.ADB.Path, cfg.ADB.FastbootPath)

	spawn := func(serial string) (session.Transport, error) {
		return transport.New(transport.Options{
			ADBPath: cfg.ADB.Path,
			Serial:  serial,
		})
	}

	// Optional command telemetry
	var managerOpts []session.ManagerOption
	var store *telemetry.Store
	if cfg.Telemetry.Enabled {
		telemetryPath := cfg.Telemetry.Path
		if telemetryPath == "" {
			telemetryPath = config.DefaultTelemetryPath()
		}
		store, err = telemetry.Open(telemetryPath)
		if err != nil {
			slog.Warn("telemetry disabled",
				slog.String("error", err.Error()),
			)
		} else {
			managerOpts = append(managerOpts, session.WithRecorder(store))
			slog.Info("telemetry enabled", slog.String("path", telemetryPath))
		}
	}

	manager, err := session.NewManager(cfg, adbClient, spawn, managerOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	server := mcp.NewServer(Version, cfg, adbClient, manager)

	// Set up config hot-reload if a config file was provided
	var configWatcher *config.Watcher
	if configPath != "" {
		configWatcher, err = config.NewWatcher(configPath, func(newCfg *config.Config) {
			if debug {
				newCfg.Logging.Level = "debug"
			}
			server.UpdateConfig(newCfg)
		})
		if err != nil {
			slog.Warn("config hot-reload disabled",
				slog.String("error", err.Error()),
			)
		} else {
			slog.Info("config hot-reload enabled",
				slog.String("path", configPath),
			)
		}
	}

	shutdown := func() {
		manager.StopAll()
		if configWatcher != nil {
			configWatcher.Close()
		}
		if store != nil {
			store.Close()
		}
	}

	// Graceful shutdown on signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("received shutdown signal")
		shutdown()
		os.Exit(0)
	}()

	if err := server.Run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		shutdown()
		os.Exit(1)
	}
	shutdown()
}
