// pkg/config/types.go
package config

import "time"

// Config is the root configuration for the scanner.
type Config struct {
	Log       LogConfig       `koanf:"log"`
	Scan      ScanConfig      `koanf:"scan"`
	Ping      PingConfig      `koanf:"ping"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
	File   string `koanf:"file"`   // empty logs to stderr
}

// ScanConfig carries the banner scan knobs.
type ScanConfig struct {
	Concurrency    int           `koanf:"concurrency"`
	Timeout        time.Duration `koanf:"timeout"`
	Retries        int           `koanf:"retries"`
	Backoff        time.Duration `koanf:"backoff"`
	MaxBannerBytes int           `koanf:"max_banner_bytes"`
	Port           int           `koanf:"port"`
}

// PingConfig controls the ICMP liveness pre-check.
type PingConfig struct {
	Enabled bool `koanf:"enabled"`
	Count   int  `koanf:"count"`
}

// CatalogConfig points at the signature catalog.
type CatalogConfig struct {
	Path string `koanf:"path"` // empty uses the builtin catalog
}

// TelemetryConfig points at the detection telemetry log.
type TelemetryConfig struct {
	Path string `koanf:"path"` // empty disables telemetry
}
