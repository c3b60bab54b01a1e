package config

import (
	"strings"
	"time"

	"github.com/Tabatskyi/multi-share/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false) are replaced with defaults; explicit values are
// preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyTransferDefaults(&cfg.Transfer)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 12345
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	// MaxConnections defaults to 0 (unlimited)
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Root == "" {
		cfg.Root = "ServerFiles"
	}
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.OfferTimeout == 0 {
		cfg.OfferTimeout = 30 * time.Second
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = bytesize.ByteSize(bytesize.KiB)
	}
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = bytesize.ByteSize(16 * bytesize.MiB)
	}
	// MaxParallelOffers defaults to 0 (one worker per recipient)
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false; the port only matters when enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// Useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
