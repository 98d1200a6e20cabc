// Package config provides configuration loading for burrow.
//
// Configuration is loaded from a single YAML file specified by:
//   - the --config flag, or
//   - the BURROW_CONFIG environment variable, or
//   - /etc/burrow/config.yaml
//
// A missing file is not an error: every field has a default, and the file
// only needs to carry what differs from it. The file holds the bridge secret
// and the API signing key, so it is always written with mode 0600.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/burrow/pkg/fsutil"
	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is used when neither --config nor BURROW_CONFIG is set
	DefaultPath = "/etc/burrow/config.yaml"

	// EnvPath overrides DefaultPath
	EnvPath = "BURROW_CONFIG"
)

// Config is the master configuration for burrow
type Config struct {
	Paths        PathsConfig        `yaml:"paths"`
	Binary       BinaryConfig       `yaml:"binary"`
	Supervisor   SupervisorConfig   `yaml:"supervisor"`
	Proxy        ProxyConfig        `yaml:"proxy"`
	Certificates CertificatesConfig `yaml:"certificates"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	API          APIConfig          `yaml:"api"`
	Log          LogConfig          `yaml:"log"`
}

// PathsConfig configures on-disk locations
type PathsConfig struct {
	// Root is the base directory for burrow state
	Root string `yaml:"root"`

	// Registry is the instance registry document
	Registry string `yaml:"registry"`

	// Instances holds one data directory per instance
	Instances string `yaml:"instances"`

	// Bin is where the supervised server binary is installed
	Bin string `yaml:"bin"`

	// Ecosystem is the generated supervisor descriptor
	Ecosystem string `yaml:"ecosystem"`

	// VersionCache stores the last resolved upstream version
	VersionCache string `yaml:"version_cache"`

	// Journal is the operation history database
	Journal string `yaml:"journal"`
}

// BinaryConfig describes the supervised server binary and where releases come from
type BinaryConfig struct {
	Name string `yaml:"name"`

	// LatestURL returns a JSON document with a tag_name field
	LatestURL string `yaml:"latest_url"`

	// DownloadURL is a template with %[1]s = version and %[2]s = architecture
	DownloadURL string `yaml:"download_url"`

	// FallbackVersion is used whenever the upstream version cannot be resolved
	FallbackVersion string `yaml:"fallback_version"`

	// LockWait is how long a second installer waits for a concurrent one
	LockWait string `yaml:"lock_wait"`
}

// SupervisorConfig configures the process supervisor
type SupervisorConfig struct {
	Command string `yaml:"command"`

	// MaxMemory is the per-process memory ceiling, e.g. "512M"
	MaxMemory string `yaml:"max_memory"`
}

// ProxyConfig configures the reverse proxy
type ProxyConfig struct {
	Command string `yaml:"command"`

	// Root is the proxy configuration root (/etc/nginx)
	Root string `yaml:"root"`

	// Convention forces a packaging convention: debian, rhel or arch.
	// Empty means detect from /etc/os-release.
	Convention string `yaml:"convention"`

	// OSRelease is the file used for convention detection
	OSRelease string `yaml:"os_release"`

	ReloadCommand []string `yaml:"reload_command"`
}

// CertificatesConfig configures certificate acquisition
type CertificatesConfig struct {
	Command string `yaml:"command"`

	// DefaultEmail is used when an instance asks for TLS without an email
	DefaultEmail string `yaml:"default_email"`

	// LiveDir holds issued certificates, one directory per domain
	LiveDir string `yaml:"live_dir"`

	// DHParam is the shared Diffie-Hellman parameter file
	DHParam string `yaml:"dhparam"`

	DHParamBits int `yaml:"dhparam_bits"`

	// Resolver is the DNS server used for the pre-issuance check
	Resolver string `yaml:"resolver"`

	// PublicIPURLs return this host's public address as plain text
	PublicIPURLs []string `yaml:"public_ip_urls"`
}

// BridgeConfig configures the privileged command bridge
type BridgeConfig struct {
	Secret string `yaml:"secret"`
}

// APIConfig configures the external HTTP API
type APIConfig struct {
	Listen string `yaml:"listen"`

	// JWTKey verifies bearer tokens (HS256)
	JWTKey string `yaml:"jwt_key"`

	// BridgeSecret is presented to the bridge when forwarding
	BridgeSecret string `yaml:"bridge_secret"`

	// Executable is the burrow binary the API forwards to; empty means self
	Executable string `yaml:"executable"`

	// Prefix runs the bridge through a privilege helper, e.g.
	// [sudo, -n, --preserve-env=BURROW_BRIDGE_SECRET]
	Prefix []string `yaml:"prefix,omitempty"`

	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the default configuration rooted at /var/lib/burrow
func Default() *Config {
	return DefaultWithRoot("/var/lib/burrow")
}

// DefaultWithRoot returns defaults with every state path under root
func DefaultWithRoot(root string) *Config {
	return &Config{
		Paths: PathsConfig{
			Root:         root,
			Registry:     filepath.Join(root, "instances.json"),
			Instances:    filepath.Join(root, "instances"),
			Bin:          filepath.Join(root, "bin"),
			Ecosystem:    filepath.Join(root, "ecosystem.config.json"),
			VersionCache: filepath.Join(root, "version-cache.json"),
			Journal:      filepath.Join(root, "journal.db"),
		},
		Binary: BinaryConfig{
			Name:            "pocketbase",
			LatestURL:       "https://api.github.com/repos/pocketbase/pocketbase/releases/latest",
			DownloadURL:     "https://github.com/pocketbase/pocketbase/releases/download/v%[1]s/pocketbase_%[1]s_linux_%[2]s.zip",
			FallbackVersion: FallbackVersion,
			LockWait:        "30s",
		},
		Supervisor: SupervisorConfig{
			Command:   "pm2",
			MaxMemory: "512M",
		},
		Proxy: ProxyConfig{
			Command:       "nginx",
			Root:          "/etc/nginx",
			OSRelease:     "/etc/os-release",
			ReloadCommand: []string{"systemctl", "reload", "nginx"},
		},
		Certificates: CertificatesConfig{
			Command:     "certbot",
			LiveDir:     "/etc/letsencrypt/live",
			DHParam:     "/etc/letsencrypt/ssl-dhparams.pem",
			DHParamBits: 2048,
			Resolver:    "1.1.1.1:53",
			PublicIPURLs: []string{
				"https://api.ipify.org",
				"https://api6.ipify.org",
			},
		},
		API: APIConfig{
			Listen:        "127.0.0.1:9090",
			RatePerSecond: 2,
			Burst:         10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// FallbackVersion is the server version installed when the release source is
// unreachable. It goes stale and must be bumped by hand.
const FallbackVersion = "0.22.21"

// ResolvePath picks the config file path from the flag value, the environment
// or the default
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads the config file at path on top of the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Derived paths are filled after parsing so that they follow a custom root
	cfg.Paths = PathsConfig{Root: cfg.Paths.Root}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.fillPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration atomically with mode 0600
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0600)
}

// Validate checks values that would otherwise fail deep inside an operation
func (c *Config) Validate() error {
	if _, err := units.RAMInBytes(c.Supervisor.MaxMemory); err != nil {
		return fmt.Errorf("supervisor.max_memory %q: %w", c.Supervisor.MaxMemory, err)
	}
	switch strings.ToLower(c.Proxy.Convention) {
	case "", "debian", "rhel", "arch":
	default:
		return fmt.Errorf("proxy.convention %q: must be debian, rhel or arch", c.Proxy.Convention)
	}
	if c.Binary.Name == "" {
		return fmt.Errorf("binary.name is required")
	}
	if c.API.RatePerSecond < 0 || c.API.Burst < 0 {
		return fmt.Errorf("api rate limit must not be negative")
	}
	return nil
}

func (c *Config) fillPaths() {
	d := DefaultWithRoot(c.Paths.Root).Paths
	if c.Paths.Registry == "" {
		c.Paths.Registry = d.Registry
	}
	if c.Paths.Instances == "" {
		c.Paths.Instances = d.Instances
	}
	if c.Paths.Bin == "" {
		c.Paths.Bin = d.Bin
	}
	if c.Paths.Ecosystem == "" {
		c.Paths.Ecosystem = d.Ecosystem
	}
	if c.Paths.VersionCache == "" {
		c.Paths.VersionCache = d.VersionCache
	}
	if c.Paths.Journal == "" {
		c.Paths.Journal = d.Journal
	}
}

// BinaryPath is the installed server executable
func (c *Config) BinaryPath() string {
	return filepath.Join(c.Paths.Bin, c.Binary.Name)
}
