// Package xconfig loads the client configuration from an optional YAML
// file and then from EXPLORER_* environment variables.
package xconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/kardianos/explorer/xstore"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "EXPLORER_"

// Config is the client configuration.
type Config struct {
	// BaseURL is the collaborator's address.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	Store Store `yaml:"store" envPrefix:"STORE_"`

	// HTTPTimeout bounds every collaborator call. Zero disables the limit.
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`

	// HTTP3 dials the collaborator over QUIC.
	HTTP3 bool `yaml:"http3" env:"HTTP3"`

	// ValidateOnStart checks a restored credential against the server.
	ValidateOnStart bool `yaml:"validate_on_start" env:"VALIDATE_ON_START"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// OTelEndpoint enables trace export to an OTLP/HTTP collector.
	OTelEndpoint string `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`
}

// Store selects where the credential is kept.
type Store struct {
	Backend       string        `yaml:"backend" env:"BACKEND"`
	Path          string        `yaml:"path" env:"PATH"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisPrefix   string        `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	RedisTTL      time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
	Encrypt       bool          `yaml:"encrypt" env:"ENCRYPT"`
}

// Options returns the xstore options for this configuration.
func (s Store) Options() xstore.Options {
	return xstore.Options{
		Backend: s.Backend,
		Path:    s.Path,
		Redis: xstore.RedisConfig{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
			Prefix:   s.RedisPrefix,
			TTL:      s.RedisTTL,
		},
	}
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		BaseURL:     "http://localhost:8000",
		Store:       Store{Backend: xstore.DefaultBackend, RedisPrefix: "explorer:", Encrypt: true},
		HTTPTimeout: 30 * time.Second,
		LogLevel:    "info",
	}
}

// Load reads path, if not empty, over the defaults and then applies the
// process environment.
func Load(path string) (Config, error) {
	return load(path, nil)
}

// LoadEnv is Load with an explicit environment instead of the process one.
func LoadEnv(path string, environ map[string]string) (Config, error) {
	if environ == nil {
		environ = map[string]string{}
	}
	return load(path, environ)
}

func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	opt := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opt.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opt); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.BaseURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		errs = append(errs, fmt.Errorf("base_url: %q is not an http(s) URL", c.BaseURL))
	}
	if c.HTTP3 && u != nil && u.Scheme != "https" {
		errs = append(errs, errors.New("http3 requires an https base_url"))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, errors.New("http_timeout must not be negative"))
	}
	switch strings.ToLower(c.Store.Backend) {
	case "", xstore.BackendConfig, xstore.BackendFile, xstore.BackendBolt, xstore.BackendSQLite, xstore.BackendMemory, xstore.BackendRegistry:
	case xstore.BackendRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
