// Package config provides layered configuration loading for the mail
// composer: built-in defaults, then an optional YAML file, then a .env file,
// then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shineum/mail-composer/internal/logging"
	"github.com/shineum/mail-composer/internal/provider/mailgun"
	"github.com/shineum/mail-composer/internal/provider/postmark"
	"github.com/shineum/mail-composer/internal/provider/resend"
	"github.com/shineum/mail-composer/internal/provider/spool"
)

// defaultMaxPayloadSize is 25 MB in bytes.
const defaultMaxPayloadSize = 26214400

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Providers lists the accepted values of Config.Provider. Empty selects a
// provider by auto-detection.
var Providers = []string{"", "ses", "graph", "resend", "postmark", "mailgun", "spool", "stdout"}

// Config holds the complete application configuration.
type Config struct {
	Provider  string          `yaml:"provider" env:"PROVIDER"`
	HTTP      HTTPConfig      `yaml:"http"`
	SES       SESConfig       `yaml:"ses"`
	Graph     GraphConfig     `yaml:"graph"`
	Resend    resend.Config   `yaml:"resend"`
	Postmark  postmark.Config `yaml:"postmark"`
	Mailgun   mailgun.Config  `yaml:"mailgun"`
	Spool     spool.Config    `yaml:"spool"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Redis     RedisConfig     `yaml:"redis"`
	Rendering RenderingConfig `yaml:"rendering"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   logging.Config  `yaml:"logging"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Listen          string        `yaml:"listen" env:"HTTP_LISTEN"`
	Username        string        `yaml:"username" env:"HTTP_USERNAME"`
	Password        string        `yaml:"password" env:"HTTP_PASSWORD"`
	MaxPayloadSize  int64         `yaml:"max_payload_size" env:"HTTP_MAX_PAYLOAD_SIZE"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region           string `yaml:"region" env:"SES_REGION"`
	AccessKeyID      string `yaml:"access_key_id" env:"SES_ACCESS_KEY_ID"`
	SecretAccessKey  string `yaml:"secret_access_key" env:"SES_SECRET_ACCESS_KEY"`
	Sender           string `yaml:"sender" env:"SES_SENDER"`
	ConfigurationSet string `yaml:"configuration_set" env:"SES_CONFIGURATION_SET"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id" env:"GRAPH_TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"GRAPH_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"GRAPH_CLIENT_SECRET"`
	Sender       string `yaml:"sender" env:"GRAPH_SENDER"`
}

// CatalogConfig locates the template catalog.
type CatalogConfig struct {
	Dir      string        `yaml:"dir" env:"CATALOG_DIR"`
	Watch    bool          `yaml:"watch" env:"CATALOG_WATCH"`
	Debounce time.Duration `yaml:"debounce" env:"CATALOG_DEBOUNCE"`
}

// RedisConfig enables the catalog cache when URL is set.
type RedisConfig struct {
	URL    string        `yaml:"url" env:"REDIS_URL"`
	Prefix string        `yaml:"prefix" env:"REDIS_PREFIX"`
	TTL    time.Duration `yaml:"ttl" env:"REDIS_TTL"`
}

// RenderingConfig tunes the template renderer.
type RenderingConfig struct {
	MaxPartialDepth int `yaml:"max_partial_depth" env:"RENDER_MAX_PARTIAL_DEPTH"`
}

// TLSConfig holds TLS settings for the HTTP listener. With TLS enabled and
// no files, a self-signed certificate is generated.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"TLS_ENABLED"`
	CertFile string `yaml:"cert_file" env:"TLS_CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"TLS_KEY_FILE"`
}

// Load loads configuration from the environment (and a .env file in the
// working directory, if present) on top of the defaults.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Listen:          ":8080",
			MaxPayloadSize:  defaultMaxPayloadSize,
			ShutdownTimeout: 30 * time.Second,
		},
		Mailgun:   mailgun.Config{Timeout: 30 * time.Second},
		Spool:     spool.Config{Dir: spool.DefaultDir},
		Catalog:   CatalogConfig{Dir: "templates", Debounce: 250 * time.Millisecond},
		Redis:     RedisConfig{Prefix: "mail-composer", TTL: 5 * time.Minute},
		Rendering: RenderingConfig{MaxPartialDepth: 8},
		Logging:   logging.Config{Level: "info"},
	}
}

// applyEnv loads .env (missing file is fine) and then overrides fields from
// the process environment. Unset variables keep their current values.
func (c *Config) applyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	return nil
}

// Validate reports configuration that cannot start a server.
func (c *Config) Validate() error {
	var errs []error
	if !knownProvider(c.Provider) {
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if c.HTTP.Listen == "" {
		errs = append(errs, errors.New("http.listen is required"))
	}
	if c.HTTP.MaxPayloadSize <= 0 {
		errs = append(errs, errors.New("http.max_payload_size must be positive"))
	}
	if (c.HTTP.Username == "") != (c.HTTP.Password == "") {
		errs = append(errs, errors.New("http.username and http.password must be set together"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	if c.Rendering.MaxPartialDepth < 0 {
		errs = append(errs, errors.New("rendering.max_partial_depth must not be negative"))
	}
	if c.Catalog.Dir == "" {
		errs = append(errs, errors.New("catalog.dir is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}

func knownProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set.
// Credentials may come from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// ResendConfigured returns true if a Resend API key is set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != ""
}

// PostmarkConfigured returns true if a Postmark server token is set.
func (c *Config) PostmarkConfigured() bool {
	return c.Postmark.ServerToken != ""
}

// MailgunConfigured returns true if the Mailgun API key and domain are set.
func (c *Config) MailgunConfigured() bool {
	return c.Mailgun.APIKey != "" && c.Mailgun.Domain != ""
}

// AuthEnabled returns true if both HTTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.HTTP.Username != "" && c.HTTP.Password != ""
}

// RedisEnabled returns true if the catalog cache should be used.
func (c *Config) RedisEnabled() bool {
	return c.Redis.URL != ""
}
