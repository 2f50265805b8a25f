// pkg/config/sources.go
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the environment variable prefix recognized by the env
// source.
const EnvPrefix = "FTPSCAN_"

// Source priorities. Higher priority sources load later and override
// earlier ones.
const (
	PriorityDefaults = 0
	PriorityFile     = 10
	PriorityEnv      = 20
	PriorityFlags    = 30
	PriorityDebug    = 40
)

// ConfigSource is one layer of the configuration load chain.
type ConfigSource interface {
	// Name identifies the source in error messages.
	Name() string
	// Priority orders the chain; lower loads first.
	Priority() int
	// Load merges the source's values into k.
	Load(k *koanf.Koanf) error
}

// DefaultSources builds the standard load chain: defaults, then the YAML
// config file (when a path is given), then FTPSCAN_ environment
// variables, then command-line flags, then the debug override.
func DefaultSources(configFilePath string, flags *pflag.FlagSet, debug bool) []ConfigSource {
	sources := []ConfigSource{defaultsSource{}, envSource{}}
	if configFilePath != "" {
		sources = append(sources, fileSource{path: configFilePath})
	}
	if flags != nil {
		sources = append(sources, flagSource{flags: flags})
	}
	if debug {
		sources = append(sources, debugSource{})
	}
	return sources
}

type defaultsSource struct{}

func (defaultsSource) Name() string  { return "defaults" }
func (defaultsSource) Priority() int { return PriorityDefaults }
func (defaultsSource) Load(k *koanf.Koanf) error {
	return k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil)
}

type fileSource struct {
	path string
}

func (s fileSource) Name() string  { return "file:" + s.path }
func (s fileSource) Priority() int { return PriorityFile }
func (s fileSource) Load(k *koanf.Koanf) error {
	return k.Load(file.Provider(s.path), yaml.Parser())
}

type envSource struct{}

func (envSource) Name() string  { return "env" }
func (envSource) Priority() int { return PriorityEnv }
func (envSource) Load(k *koanf.Koanf) error {
	return k.Load(env.Provider(EnvPrefix, ".", envTransform), nil)
}

// envTransform maps FTPSCAN_SCAN_MAX_BANNER_BYTES to scan.max_banner_bytes.
// Config keys are exactly two levels deep, so only the first underscore
// separates the section from the key.
func envTransform(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

type flagSource struct {
	flags *pflag.FlagSet
}

func (flagSource) Name() string  { return "flags" }
func (flagSource) Priority() int { return PriorityFlags }
func (s flagSource) Load(k *koanf.Koanf) error {
	return k.Load(posflag.Provider(s.flags, ".", k), nil)
}

type debugSource struct{}

func (debugSource) Name() string  { return "debug-override" }
func (debugSource) Priority() int { return PriorityDebug }
func (debugSource) Load(k *koanf.Koanf) error {
	return k.Load(confmap.Provider(map[string]any{"log.level": "debug"}, "."), nil)
}
