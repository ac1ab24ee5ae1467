// Package config provides configuration file support for Poros.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KilimcininKorOglu/poros-engine/internal/trace"
)

// Config represents the Poros configuration file structure.
type Config struct {
	// Defaults are applied when flags are not specified
	Defaults Defaults `yaml:"defaults"`

	// Aliases for common targets
	Aliases map[string]string `yaml:"aliases,omitempty"`

	// MaxMind configures optional offline ASN/GeoIP lookups.
	MaxMind MaxMindConfig `yaml:"maxmind,omitempty"`
}

// MaxMindConfig holds settings for the optional MaxMind GeoLite2 database
// backend used by internal/enrich in place of the online lookup APIs.
type MaxMindConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LicenseKey  string `yaml:"license_key,omitempty"`
	UpdateHours int    `yaml:"update_hours"`
}

// Defaults holds default values for trace parameters. Fields mirror
// trace.Config's construction parameters directly — there is one probe
// method (ICMP Echo) and one scheduling mode (single-threaded,
// one-hop-at-a-time), so this struct carries no probe_method/paris/
// sequential/port knobs.
type Defaults struct {
	// Output mode
	TUI     bool `yaml:"tui"`
	Verbose bool `yaml:"verbose"`
	JSON    bool `yaml:"json"`
	CSV     bool `yaml:"csv"`
	NoColor bool `yaml:"no_color"`

	// Trace parameters
	MaxHops int           `yaml:"max_hops"`
	Queries int           `yaml:"queries"`
	Timeout time.Duration `yaml:"timeout"`

	// Network
	IPv4 bool `yaml:"ipv4"`
	IPv6 bool `yaml:"ipv6"`

	// Enrichment
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

// ToTraceConfig builds the Engine construction parameters for hostName from
// these defaults, applying the address-style preference the ipv4/ipv6 flags
// express.
func (d Defaults) ToTraceConfig(hostName string) trace.Config {
	style := trace.AddressAny
	switch {
	case d.IPv4 && !d.IPv6:
		style = trace.AddressV4
	case d.IPv6 && !d.IPv4:
		style = trace.AddressV6
	}

	cfg := trace.DefaultConfig(hostName)
	cfg.AddressStyle = style
	if d.MaxHops > 0 {
		cfg.MaxHops = d.MaxHops
	}
	if d.Queries > 0 {
		cfg.ProbesPerHop = d.Queries
	}
	if d.Timeout > 0 {
		cfg.TimeoutPerProbe = d.Timeout
	}
	return cfg
}

// EnrichmentConfig holds enrichment settings.
type EnrichmentConfig struct {
	Enabled bool `yaml:"enabled"`
	RDNS    bool `yaml:"rdns"`
	ASN     bool `yaml:"asn"`
	GeoIP   bool `yaml:"geoip"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			TUI:     false,
			Verbose: false,
			JSON:    false,
			CSV:     false,
			NoColor: false,
			MaxHops: 30,
			Queries: 3,
			Timeout: 3 * time.Second,
			IPv4:    false,
			IPv6:    false,
			Enrichment: EnrichmentConfig{
				Enabled: true,
				RDNS:    true,
				ASN:     true,
				GeoIP:   true,
			},
		},
		Aliases: make(map[string]string),
		MaxMind: MaxMindConfig{
			Enabled:     false,
			UpdateHours: 168,
		},
	}
}

// Load reads configuration from the default config file locations.
// It searches in order:
//  1. ./poros.yaml (current directory)
//  2. ~/.config/poros/config.yaml (Linux/macOS)
//  3. %APPDATA%\poros\config.yaml (Windows)
//
// If no config file is found, returns default configuration.
func Load() (*Config, error) {
	paths := getConfigPaths()

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return LoadFrom(path)
		}
	}

	// No config file found, return defaults
	return DefaultConfig(), nil
}

// LoadFrom reads configuration from a specific file path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes the configuration to the default user config path.
func (c *Config) Save() error {
	path := getUserConfigPath()

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SaveTo writes the configuration to a specific file path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// getConfigPaths returns the list of config file paths to search.
func getConfigPaths() []string {
	paths := []string{
		"poros.yaml",
		"poros.yml",
		".poros.yaml",
		".poros.yml",
	}

	// Add user config path
	userPath := getUserConfigPath()
	if userPath != "" {
		paths = append(paths, userPath)
	}

	return paths
}

// getUserConfigPath returns the user-specific config file path.
func getUserConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "poros", "config.yaml")
		}
	default: // Linux, macOS, etc.
		home, err := os.UserHomeDir()
		if err == nil {
			// Check XDG_CONFIG_HOME first
			xdgConfig := os.Getenv("XDG_CONFIG_HOME")
			if xdgConfig != "" {
				return filepath.Join(xdgConfig, "poros", "config.yaml")
			}
			return filepath.Join(home, ".config", "poros", "config.yaml")
		}
	}
	return ""
}

// GetConfigPath returns the path where user config would be saved.
func GetConfigPath() string {
	return getUserConfigPath()
}

// dataDir returns the directory downloaded MaxMind databases are cached in,
// alongside the user config file.
func dataDir() string {
	return filepath.Join(filepath.Dir(getUserConfigPath()), "geoip")
}

// GetASNDBPath returns the cache path for the MaxMind ASN database.
func GetASNDBPath() string {
	return filepath.Join(dataDir(), "GeoLite2-ASN.mmdb")
}

// GetGeoDBPath returns the cache path for the MaxMind City database.
func GetGeoDBPath() string {
	return filepath.Join(dataDir(), "GeoLite2-City.mmdb")
}

// GenerateExample generates an example configuration file content.
func GenerateExample() string {
	return `# Poros Configuration File
# Location: ~/.config/poros/config.yaml (Linux/macOS)
#           %APPDATA%\poros\config.yaml (Windows)
#           ./poros.yaml (current directory)

defaults:
  # Output mode (only one should be true)
  tui: false              # Interactive TUI mode
  verbose: false          # Detailed table output
  json: false             # JSON output
  csv: false              # CSV output
  no_color: false         # Disable colors

  # Trace parameters
  max_hops: 30            # Maximum number of hops
  queries: 3              # Probes per hop
  timeout: 3s             # Probe timeout

  # Network settings
  ipv4: false             # Force IPv4
  ipv6: false             # Force IPv6

  # Enrichment settings
  enrichment:
    enabled: true         # Master switch for all enrichment
    rdns: true            # Reverse DNS lookups
    asn: true             # ASN lookups
    geoip: true           # GeoIP lookups

# Target aliases (optional)
aliases:
  dns: 8.8.8.8
  cf: 1.1.1.1
  google: google.com

# Optional offline ASN/GeoIP database (requires a free MaxMind license key)
maxmind:
  enabled: false
  license_key: ""
  update_hours: 168
`
}
