package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "./config.yaml"

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		Port            int           `yaml:"port"`
		DataDir         string        `yaml:"data_dir"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SecureCookies   bool          `yaml:"secure_cookies"`
		StateCookieTTL  time.Duration `yaml:"state_cookie_ttl"`
	} `yaml:"server"`
	Storage struct {
		Driver string `yaml:"driver"` // file|sqlite
		SQLite struct {
			Path         string        `yaml:"path"`
			MaxOpenConns int           `yaml:"max_open_conns"`
			MaxIdleTime  time.Duration `yaml:"max_idle_time"`
		} `yaml:"sqlite"`
	} `yaml:"storage"`
	Security struct {
		SigningKeys []string `yaml:"signing_keys"`
		// CookieKey signs the widget state cookie. Empty falls back to the
		// first signing key.
		CookieKey      string   `yaml:"cookie_key"`
		TrustedProxies []string `yaml:"trusted_proxies"` // IPs or CIDRs allowed to set X-Forwarded-For
		CORS           struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
	Cache struct {
		Driver   string        `yaml:"driver"` // memory|redis
		RedisURL string        `yaml:"redis_url"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Sessions struct {
		Duration time.Duration `yaml:"duration"`
	} `yaml:"sessions"`
	Retention struct {
		Enabled bool   `yaml:"enabled"`
		Cron    string `yaml:"cron"`
	} `yaml:"retention"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
}

// Default returns the configuration used when no file or env says otherwise.
func Default() *Config {
	var c Config
	c.Server.Address = "0.0.0.0"
	c.Server.Port = 8000
	c.Server.DataDir = "./data"
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Server.StateCookieTTL = 30 * 24 * time.Hour
	c.Storage.Driver = "file"
	c.Security.CORS.AllowedOrigins = []string{"*"}
	c.Security.RateLimit.RPS = 10
	c.Security.RateLimit.Burst = 20
	c.Cache.Driver = "memory"
	c.Cache.TTL = 5 * time.Minute
	c.Sessions.Duration = 24 * time.Hour
	c.Retention.Enabled = true
	c.Retention.Cron = "*/15 * * * *"
	c.Logging.Level = "info"
	c.Logging.Format = "text"
	return &c
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// StateCookieKey is the hash key for the widget state cookie.
func (c *Config) StateCookieKey() []byte {
	if c.Security.CookieKey != "" {
		return []byte(c.Security.CookieKey)
	}
	if len(c.Security.SigningKeys) > 0 {
		return []byte(c.Security.SigningKeys[0])
	}
	return nil
}

// SQLitePath is the configured database file, defaulting to widget.db in
// the data directory.
func (c *Config) SQLitePath() string {
	if c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.Server.DataDir, "widget.db")
}

// Load reads the YAML file at path on top of Default. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEffective loads .env, the config file and then WIDGET_* environment
// overrides, and validates the result.
func LoadEffective(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath prefers an explicitly set flag, then WIDGET_CONFIG, then the
// flag's default value.
func ResolvePath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("WIDGET_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

func parseList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ApplyEnv overrides cfg with WIDGET_* environment variables.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("WIDGET_ADDR"); v != "" {
		h, p, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("WIDGET_ADDR: %w", err)
		}
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("WIDGET_ADDR port: %w", err)
		}
		cfg.Server.Address = h
		cfg.Server.Port = port
	}
	for _, key := range []string{"PORT", "WIDGET_PORT"} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("WIDGET_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("WIDGET_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("WIDGET_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLite.Path = v
	}
	if v := os.Getenv("WIDGET_SIGNING_KEYS"); v != "" {
		cfg.Security.SigningKeys = parseList(v)
	}
	if v := os.Getenv("WIDGET_COOKIE_KEY"); v != "" {
		cfg.Security.CookieKey = v
	}
	if v := os.Getenv("WIDGET_TRUSTED_PROXIES"); v != "" {
		cfg.Security.TrustedProxies = parseList(v)
	}
	if v := os.Getenv("WIDGET_SECURE_COOKIES"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("WIDGET_SECURE_COOKIES: %w", err)
		}
		cfg.Server.SecureCookies = b
	}
	if v := os.Getenv("WIDGET_STATE_COOKIE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WIDGET_STATE_COOKIE_TTL: %w", err)
		}
		cfg.Server.StateCookieTTL = d
	}
	if v := os.Getenv("WIDGET_CORS_ORIGINS"); v != "" {
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("WIDGET_RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("WIDGET_RATE_RPS: %w", err)
		}
		cfg.Security.RateLimit.RPS = f
	}
	if v := os.Getenv("WIDGET_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("WIDGET_RATE_BURST: %w", err)
		}
		cfg.Security.RateLimit.Burst = n
	}
	if v := os.Getenv("WIDGET_CACHE_DRIVER"); v != "" {
		cfg.Cache.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("WIDGET_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
		if os.Getenv("WIDGET_CACHE_DRIVER") == "" {
			cfg.Cache.Driver = "redis"
		}
	}
	if v := os.Getenv("WIDGET_SESSION_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WIDGET_SESSION_DURATION: %w", err)
		}
		cfg.Sessions.Duration = d
	}
	if v := os.Getenv("WIDGET_RETENTION_CRON"); v != "" {
		cfg.Retention.Cron = v
	}
	if v := os.Getenv("WIDGET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WIDGET_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q: want file or sqlite", c.Storage.Driver))
	}
	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver %q: want memory or redis", c.Cache.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Sessions.Duration <= 0 {
		errs = append(errs, errors.New("sessions.duration must be positive"))
	}
	if c.Server.StateCookieTTL <= 0 {
		errs = append(errs, errors.New("server.state_cookie_ttl must be positive"))
	}
	for _, p := range c.Security.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			errs = append(errs, fmt.Errorf("security.trusted_proxies: %q is not an IP or CIDR", p))
		}
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Retention.Enabled && !gronx.IsValid(c.Retention.Cron) {
		errs = append(errs, fmt.Errorf("retention.cron %q is not a valid cron expression", c.Retention.Cron))
	}
	return errors.Join(errs...)
}
