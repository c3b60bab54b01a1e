package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tabatskyi/multi-share/internal/logger"
	"github.com/Tabatskyi/multi-share/pkg/config"
	"github.com/Tabatskyi/multi-share/pkg/metrics"
	"github.com/Tabatskyi/multi-share/pkg/server"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `multishare - Multi-room chat and file-transfer server

Usage:
  multishare <command> [flags]

Commands:
  init     Initialize a sample configuration file
  start    Start the share server
  version  Show version information

Flags:
  --config string    Path to config file (default: $XDG_CONFIG_HOME/multishare/config.yaml)
  --force            Force overwrite existing config file (init command only)

Examples:
  # Initialize config file
  multishare init

  # Start server with default config location
  multishare start

  # Start server with custom config
  multishare start --config /etc/multishare/config.yaml

  # Use environment variables to override config
  MULTISHARE_LOGGING_LEVEL=DEBUG multishare start

Environment Variables:
  All configuration options can be overridden using environment variables.
  Format: MULTISHARE_<SECTION>_<KEY> (use underscores for nested keys)

  Examples:
    MULTISHARE_LOGGING_LEVEL=DEBUG
    MULTISHARE_SERVER_PORT=9000
    MULTISHARE_STORAGE_ROOT=/srv/multishare/files
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "init":
		runInit()
	case "start":
		runStart()
	case "help", "--help", "-h":
		fmt.Print(usage)
		os.Exit(0)
	case "version", "--version", "-v":
		fmt.Printf("multishare %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// runInit handles the init subcommand
func runInit() {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	configFile := initFlags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/multishare/config.yaml)")
	force := initFlags.Bool("force", false, "Force overwrite existing config file")

	if err := initFlags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	var configPath string
	var err error

	if *configFile != "" {
		err = config.InitConfigToPath(*configFile, *force)
		configPath = *configFile
	} else {
		configPath, err = config.InitConfig(*force)
	}

	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: multishare start")
	fmt.Printf("  3. Or specify custom config: multishare start --config %s\n", configPath)
}

// runStart handles the start subcommand
func runStart() {
	startFlags := flag.NewFlagSet("start", flag.ExitOnError)
	configFile := startFlags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/multishare/config.yaml)")

	if err := startFlags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	// The server runs fine without a config file; Load falls back to
	// defaults when nothing is found.
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(*configFile))

	// Metrics registry must exist before collectors are created
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		m = metrics.New()
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			if err := metrics.Serve(ctx, addr); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	srv, err := server.New(cfg, m)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}

// getConfigSource returns a description of where the config was loaded from
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
