package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is prepended to every environment override, e.g. OFFLINE_CACHE_TTL.
const EnvPrefix = "OFFLINE_"

// Config represents the application configuration
type Config struct {
	Server ServerConfig `koanf:"server" envPrefix:"SERVER_"`
	Log    LogConfig    `koanf:"log" envPrefix:"LOG_"`
	API    APIConfig    `koanf:"api" envPrefix:"API_"`
	Cache  CacheConfig  `koanf:"cache" envPrefix:"CACHE_"`
	Assets AssetsConfig `koanf:"assets" envPrefix:"ASSETS_"`
}

// ServerConfig contains interceptor listener configuration
type ServerConfig struct {
	Port int `koanf:"port" env:"PORT"`
	// Empty means no timeout: transport failures surface whenever the network gives up.
	UpstreamTimeout string      `koanf:"upstream_timeout" env:"UPSTREAM_TIMEOUT"`
	HTTPS           HTTPSConfig `koanf:"https" envPrefix:"HTTPS_"`
}

// HTTPSConfig points at the CA used to intercept HTTPS traffic to the origin
type HTTPSConfig struct {
	CACertFile string `koanf:"ca_cert_file" env:"CA_CERT_FILE"`
	CAKeyFile  string `koanf:"ca_key_file" env:"CA_KEY_FILE"`
	// Accept any certificate from the origin, for self-signed development servers
	SkipUpstreamVerify bool `koanf:"skip_upstream_verify" env:"SKIP_UPSTREAM_VERIFY"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level      string `koanf:"level" env:"LEVEL"`
	Format     string `koanf:"format" env:"FORMAT"` // "text" or "json"
	File       string `koanf:"file" env:"FILE"`
	MaxSize    int    `koanf:"max_size" env:"MAX_SIZE"`
	MaxBackups int    `koanf:"max_backups" env:"MAX_BACKUPS"`
	Compress   bool   `koanf:"compress" env:"COMPRESS"`
}

// APIConfig configures the gateway used by application code
type APIConfig struct {
	BaseURL     string `koanf:"base_url" env:"BASE_URL"`
	Timeout     string `koanf:"timeout" env:"TIMEOUT"`
	BearerToken string `koanf:"bearer_token" env:"BEARER_TOKEN"`
}

// CacheConfig contains request cache configuration
type CacheConfig struct {
	TTL    string `koanf:"ttl" env:"TTL"`
	DBPath string `koanf:"db_path" env:"DB_PATH"`
}

// AssetsConfig describes the asset cache generations served by the interceptor
type AssetsConfig struct {
	Origin       string   `koanf:"origin" env:"ORIGIN"`
	Folder       string   `koanf:"folder" env:"FOLDER"`
	CachePrefix  string   `koanf:"cache_prefix" env:"CACHE_PREFIX"`
	Version      string   `koanf:"version" env:"VERSION"`
	Shell        []string `koanf:"shell" env:"SHELL"`
	Extensions   []string `koanf:"extensions" env:"EXTENSIONS"`
	Destinations []string `koanf:"destinations" env:"DESTINATIONS"`
}

// CacheName is the generation name for the configured version.
// It must change on every deployment that changes shell contents.
func (a AssetsConfig) CacheName() string {
	return a.CachePrefix + a.Version
}

// Default returns the configuration used for every key the file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    100,
			MaxBackups: 10,
			Compress:   true,
		},
		Cache: CacheConfig{
			TTL:    "5m",
			DBPath: "./data/responses.db",
		},
		Assets: AssetsConfig{
			Folder:       "./data/assets",
			CachePrefix:  "offline-cache-",
			Version:      "v1",
			Shell:        []string{"/", "/index.html"},
			Extensions:   []string{".js", ".css", ".html", ".svg", ".ico"},
			Destinations: []string{"document", "image"},
		},
	}
}

// Load loads configuration from a YAML file, then applies OFFLINE_* environment overrides
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}

	return &cfg, nil
}

// GetCacheTTL parses and returns the request cache TTL duration
func (c *Config) GetCacheTTL() (time.Duration, error) {
	return time.ParseDuration(c.Cache.TTL)
}

// GetUpstreamTimeout returns the interceptor's upstream timeout, zero when unset
func (c *Config) GetUpstreamTimeout() (time.Duration, error) {
	return parseOptionalDuration(c.Server.UpstreamTimeout)
}

// GetAPITimeout returns the gateway's HTTP timeout, zero when unset
func (c *Config) GetAPITimeout() (time.Duration, error) {
	return parseOptionalDuration(c.API.Timeout)
}

func parseOptionalDuration(value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if _, err := c.GetUpstreamTimeout(); err != nil {
		return fmt.Errorf("invalid upstream timeout format: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	if c.Cache.TTL == "" {
		return fmt.Errorf("cache TTL is required")
	}

	ttl, err := c.GetCacheTTL()
	if err != nil {
		return fmt.Errorf("invalid cache TTL format: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("cache TTL must be positive, got: %s", c.Cache.TTL)
	}

	if c.Cache.DBPath == "" {
		return fmt.Errorf("cache db_path is required")
	}

	if c.API.BaseURL != "" {
		if err := validateAbsoluteURL(c.API.BaseURL); err != nil {
			return fmt.Errorf("invalid api base_url: %w", err)
		}
	}
	if _, err := c.GetAPITimeout(); err != nil {
		return fmt.Errorf("invalid api timeout format: %w", err)
	}

	return c.Assets.validate()
}

func (a AssetsConfig) validate() error {
	if a.Origin == "" {
		// interceptor disabled
		return nil
	}
	if err := validateAbsoluteURL(a.Origin); err != nil {
		return fmt.Errorf("invalid assets origin: %w", err)
	}
	if a.Folder == "" {
		return fmt.Errorf("assets folder is required")
	}
	if a.Version == "" {
		return fmt.Errorf("assets version is required")
	}
	if strings.ContainsAny(a.CacheName(), `/\`) {
		return fmt.Errorf("assets cache name must not contain path separators: %s", a.CacheName())
	}
	for _, p := range a.Shell {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("shell resource must be an absolute path: %s", p)
		}
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
