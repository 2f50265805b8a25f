// pkg/config/config.go
package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"

	"github.com/gjvnq/ftp-scan/pkg/probe"
	"github.com/gjvnq/ftp-scan/pkg/scan"
)

// Global Koanf instance, initialized once at startup.
var (
	k    *koanf.Koanf
	once sync.Once
)

// InitGlobalConfig initializes the global Koanf instance.
// This should be called early in the application lifecycle, before Load.
func InitGlobalConfig() {
	once.Do(func() {
		k = koanf.New(".")
	})
}

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex // protects currentConfig after Load
}

// NewManager creates a new Manager bound to the global Koanf instance,
// initializing it if not already done.
func NewManager() *Manager {
	InitGlobalConfig()
	return &Manager{
		koanfInstance: k,
		currentConfig: DefaultConfig(),
	}
}

// DefaultConfig returns a new Config struct populated with hardcoded default
// values. These serve as the baseline configuration if no other sources
// override them.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Scan: ScanConfig{
			Concurrency:    scan.DefaultConcurrency,
			Timeout:        scan.DefaultTimeout,
			Retries:        scan.DefaultRetries,
			Backoff:        scan.DefaultBackoff,
			MaxBannerBytes: scan.DefaultMaxBannerBytes,
			Port:           probe.DefaultPort,
		},
		Ping: PingConfig{
			Enabled: false,
			Count:   1,
		},
		Catalog:   CatalogConfig{Path: ""},
		Telemetry: TelemetryConfig{Path: ""},
	}
}

// Load loads configuration from various sources based on precedence.
// It populates the manager's currentConfig.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags (--scan.timeout=10s)
//  2. Environment variables (FTPSCAN_LOG_LEVEL=debug)
//  3. Config file (YAML)
//  4. Default values
//
// Environment variables use the FTPSCAN_ prefix; the first underscore after
// the prefix separates the section from the key:
//
//	FTPSCAN_LOG_LEVEL             -> log.level
//	FTPSCAN_SCAN_MAX_BANNER_BYTES -> scan.max_banner_bytes
//
// For custom source ordering, use LoadWithSources() instead.
func (m *Manager) Load(flags *pflag.FlagSet, customConfigFilePath string) error {
	// Check debug flag before creating sources
	debug := false
	if flags != nil {
		debugFlag := flags.Lookup("debug")
		if debugFlag != nil && debugFlag.Value.String() == "true" {
			debug = true
		}
	}

	sources := DefaultSources(customConfigFilePath, flags, debug)
	return m.LoadWithSources(sources)
}

// LoadWithSources loads configuration from the provided sources in priority
// order. Sources with lower priority values are loaded first, higher priority
// sources override lower priority values.
//
// This method allows custom source ordering and additional sources to be
// inserted into the loading chain.
func (m *Manager) LoadWithSources(sources []ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Sort sources by priority (lowest first)
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Priority() < sources[j].Priority()
	})

	for _, src := range sources {
		if err := src.Load(m.koanfInstance); err != nil {
			return fmt.Errorf("error loading config from %s: %w", src.Name(), err)
		}
	}

	// Unmarshal the final merged configuration into m.currentConfig
	var newCfg Config
	if err := m.koanfInstance.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	m.currentConfig = newCfg

	m.postProcessConfig()

	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfgCopy := m.currentConfig
	return cfgCopy
}

// GetValue retrieves a configuration value by key path.
// Example: GetValue("scan.concurrency")
// Returns nil if key doesn't exist.
func (m *Manager) GetValue(key string) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.koanfInstance.Get(key)
}

// Typed accessors for dynamic key reads. Values loaded from environment
// variables arrive as strings, so raw GetValue output needs coercion before
// use; these wrap it the way callers actually want it.

// GetString returns the value at key coerced to a string.
func (m *Manager) GetString(key string) string {
	return cast.ToString(m.GetValue(key))
}

// GetInt returns the value at key coerced to an int.
func (m *Manager) GetInt(key string) int {
	return cast.ToInt(m.GetValue(key))
}

// GetBool returns the value at key coerced to a bool.
func (m *Manager) GetBool(key string) bool {
	return cast.ToBool(m.GetValue(key))
}

// GetDuration returns the value at key coerced to a duration. Both "5s"
// strings and integer nanosecond counts coerce.
func (m *Manager) GetDuration(key string) time.Duration {
	return cast.ToDuration(m.GetValue(key))
}

// postProcessConfig normalizes fields after loading and unmarshaling.
// Callers must hold m.mu.
func (m *Manager) postProcessConfig() {
	m.currentConfig.Log.Level = strings.ToLower(strings.TrimSpace(m.currentConfig.Log.Level))
	m.currentConfig.Log.Format = strings.ToLower(strings.TrimSpace(m.currentConfig.Log.Format))
}

// DefaultConfigAsMap converts the DefaultConfig struct to a map[string]any
// for Koanf's confmap.Provider. This is a bit manual but ensures Koanf knows
// all keys.
func DefaultConfigAsMap() map[string]any {
	def := DefaultConfig()
	return map[string]any{
		// Log configuration
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,
		"log.file":   def.Log.File,

		// Scan configuration
		"scan.concurrency":      def.Scan.Concurrency,
		"scan.timeout":          def.Scan.Timeout,
		"scan.retries":          def.Scan.Retries,
		"scan.backoff":          def.Scan.Backoff,
		"scan.max_banner_bytes": def.Scan.MaxBannerBytes,
		"scan.port":             def.Scan.Port,

		// Ping configuration
		"ping.enabled": def.Ping.Enabled,
		"ping.count":   def.Ping.Count,

		// Catalog configuration
		"catalog.path": def.Catalog.Path,

		// Telemetry configuration
		"telemetry.path": def.Telemetry.Path,
	}
}

// BindFlags defines command-line flags corresponding to configuration
// settings. These flags allow overriding config file / environment variable
// settings. This function should be called when setting up Cobra commands.
func BindFlags(flags *pflag.FlagSet) {
	var flagvar bool
	flags.BoolVar(&flagvar, "debug", false, "Enable debug logging")

	// Note: The main --config / -c flag for specifying the config file path
	// is typically defined directly on the root Cobra command's PersistentFlags.
}
