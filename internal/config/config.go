// Package config loads the host profile configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/gantry/internal/ports"
)

// DefaultFile is the configuration file name inside a profile directory.
const DefaultFile = "gantry.yaml"

// DefaultLocale is the host locale used when none is configured.
const DefaultLocale = "en-US"

// DefaultHostVersion is the version extensions see when checking their
// minimum_host_version requirement, unless the profile overrides it.
const DefaultHostVersion = "5.0.375"

// ErrComponentIncomplete rejects component entries missing a manifest or
// a path.
var ErrComponentIncomplete = errors.New("component entries need both a manifest and a path")

// UpdaterConfig controls the background update agent.
type UpdaterConfig struct {
	Enabled bool
	// Interval between checks; zero means the agent default.
	Interval     time.Duration
	BlacklistURL string
}

// ExternalConfig points at the machine's external install sources.
type ExternalConfig struct {
	// PrefFile is the TOML preferences file other software declares
	// extensions in.
	PrefFile string
	// RegistryDir is the directory of per-extension registration files.
	RegistryDir string
}

// ComponentConfig declares one extension bundled with the host build.
type ComponentConfig struct {
	// Manifest is the component's manifest JSON.
	Manifest string
	// Path is the directory its resources live in.
	Path string
}

// Config is the parsed host configuration.
type Config struct {
	// DisableExtensions is the master switch: installed records survive
	// but only components and developer loads come up.
	DisableExtensions bool
	HostVersion       string
	Locale            string
	GCOnStartup       bool
	Updater           UpdaterConfig
	External          ExternalConfig
	Components        []ComponentConfig
}

// configYAML is the YAML representation for unmarshaling.
type configYAML struct {
	DisableExtensions bool   `yaml:"disable_extensions,omitempty"`
	HostVersion       string `yaml:"host_version,omitempty"`
	Locale            string `yaml:"locale,omitempty"`
	GCOnStartup       *bool  `yaml:"gc_on_startup,omitempty"`
	Updater           struct {
		Enabled      *bool  `yaml:"enabled,omitempty"`
		Interval     string `yaml:"interval,omitempty"`
		BlacklistURL string `yaml:"blacklist_url,omitempty"`
	} `yaml:"updater,omitempty"`
	External struct {
		PrefFile    string `yaml:"pref_file,omitempty"`
		RegistryDir string `yaml:"registry_dir,omitempty"`
	} `yaml:"external,omitempty"`
	Components []struct {
		Manifest string `yaml:"manifest"`
		Path     string `yaml:"path"`
	} `yaml:"components,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		HostVersion: DefaultHostVersion,
		Locale:      DefaultLocale,
		GCOnStartup: true,
		Updater:     UpdaterConfig{Enabled: true},
	}
}

// Parse parses a configuration from YAML bytes. Absent fields keep
// their defaults.
func Parse(data []byte) (*Config, error) {
	var raw configYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := Default()
	cfg.DisableExtensions = raw.DisableExtensions
	if raw.HostVersion != "" {
		cfg.HostVersion = raw.HostVersion
	}
	if raw.Locale != "" {
		if _, err := language.Parse(raw.Locale); err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", raw.Locale, err)
		}
		cfg.Locale = raw.Locale
	}
	if raw.GCOnStartup != nil {
		cfg.GCOnStartup = *raw.GCOnStartup
	}

	if raw.Updater.Enabled != nil {
		cfg.Updater.Enabled = *raw.Updater.Enabled
	}
	if raw.Updater.Interval != "" {
		interval, err := time.ParseDuration(raw.Updater.Interval)
		if err != nil || interval <= 0 {
			return nil, fmt.Errorf("invalid updater interval %q", raw.Updater.Interval)
		}
		cfg.Updater.Interval = interval
	}
	cfg.Updater.BlacklistURL = raw.Updater.BlacklistURL

	cfg.External.PrefFile = raw.External.PrefFile
	cfg.External.RegistryDir = raw.External.RegistryDir

	for _, component := range raw.Components {
		if component.Manifest == "" || component.Path == "" {
			return nil, ErrComponentIncomplete
		}
		cfg.Components = append(cfg.Components, ComponentConfig{
			Manifest: component.Manifest,
			Path:     component.Path,
		})
	}

	return cfg, nil
}

// Load reads the configuration file at path. A missing file yields the
// defaults.
func Load(path string, fs ports.FileSystem) (*Config, error) {
	if !fs.Exists(path) {
		return Default(), nil
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
