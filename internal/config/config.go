package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the config file.
const (
	envClientSecret  = "CORPSSO_ESI_CLIENT_SECRET"
	envSessionSecret = "CORPSSO_SESSION_SECRET"
	envAdminPassword = "CORPSSO_ADMIN_PASSWORD"
)

// minSessionSecretLen is the smallest accepted cookie signing key.
const minSessionSecretLen = 32

// Config holds all runtime configuration for corpsso.
type Config struct {
	Port          int              `yaml:"port"`
	DBPath        string           `yaml:"db_path"`
	LogLevel      string           `yaml:"log_level"`
	WebRoot       string           `yaml:"web_root"`
	SessionSecret string           `yaml:"session_secret"`
	SessionTTL    Duration         `yaml:"session_ttl"`
	AuthStateTTL  Duration         `yaml:"auth_state_ttl"`
	SweepInterval Duration         `yaml:"sweep_interval"`
	ESI           ESIConfig        `yaml:"esi"`
	StateStore    StateStoreConfig `yaml:"state_store"`
	RateLimit     RateLimitConfig  `yaml:"rate_limit"`
	Admin         AdminConfig      `yaml:"admin"`
}

// ESIConfig holds EVE SSO / ESI credentials and endpoints.
type ESIConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
	SSOBaseURL   string `yaml:"sso_base_url"`
	ESIBaseURL   string `yaml:"esi_base_url"`
}

// StateStoreConfig selects where pending logins are kept between the
// redirect to EVE SSO and the callback.
type StateStoreConfig struct {
	Backend       string `yaml:"backend"` // "memory" | "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// RateLimitConfig throttles the /auth endpoints per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// AdminConfig seeds a manual super_admin account at startup.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Duration is a time.Duration that unmarshals from strings like "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads the config file at path, applies environment overrides for
// secrets (a .env file in the working directory is honoured) and validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	return loadFromFile(path)
}

func loadFromFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:          8080,
		DBPath:        "corpsso.db",
		LogLevel:      "info",
		SessionTTL:    Duration{24 * time.Hour},
		AuthStateTTL:  Duration{5 * time.Minute},
		SweepInterval: Duration{10 * time.Minute},
		ESI: ESIConfig{
			SSOBaseURL: "https://login.eveonline.com",
			ESIBaseURL: "https://esi.evetech.net/latest",
		},
		StateStore: StateStoreConfig{Backend: "memory"},
		RateLimit:  RateLimitConfig{RequestsPerMinute: 60},
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envClientSecret); v != "" {
		c.ESI.ClientSecret = v
	}
	if v := os.Getenv(envSessionSecret); v != "" {
		c.SessionSecret = v
	}
	if v := os.Getenv(envAdminPassword); v != "" {
		c.Admin.Password = v
	}
}

// CallbackPath returns the path component of the configured callback URL,
// which is where the router mounts the SSO callback handler.
func (c *Config) CallbackPath() string {
	u, err := url.Parse(c.ESI.CallbackURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if len(c.SessionSecret) < minSessionSecretLen {
		return fmt.Errorf("session_secret must be at least %d bytes", minSessionSecretLen)
	}
	if c.SessionTTL.Duration <= 0 {
		return fmt.Errorf("session_ttl must be greater than 0, got %s", c.SessionTTL)
	}
	if c.AuthStateTTL.Duration <= 0 {
		return fmt.Errorf("auth_state_ttl must be greater than 0, got %s", c.AuthStateTTL)
	}
	if c.SweepInterval.Duration <= 0 {
		return fmt.Errorf("sweep_interval must be greater than 0, got %s", c.SweepInterval)
	}
	if c.ESI.ClientID == "" {
		return fmt.Errorf("esi.client_id is required")
	}
	if c.ESI.CallbackURL == "" {
		return fmt.Errorf("esi.callback_url is required")
	}
	if err := validateHTTPURL(c.ESI.CallbackURL); err != nil {
		return fmt.Errorf("esi.callback_url: %w", err)
	}
	if err := validateHTTPURL(c.ESI.SSOBaseURL); err != nil {
		return fmt.Errorf("esi.sso_base_url: %w", err)
	}
	if err := validateHTTPURL(c.ESI.ESIBaseURL); err != nil {
		return fmt.Errorf("esi.esi_base_url: %w", err)
	}
	switch c.StateStore.Backend {
	case "memory":
	case "redis":
		if c.StateStore.RedisAddr == "" {
			return fmt.Errorf("state_store.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("state_store.backend must be memory or redis, got %q", c.StateStore.Backend)
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative, got %d", c.RateLimit.RequestsPerMinute)
	}
	if c.Admin.Username != "" && c.Admin.Password == "" {
		return fmt.Errorf("admin.password is required when admin.username is set")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if strings.TrimSpace(u.Host) == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}
