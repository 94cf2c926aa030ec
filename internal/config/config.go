package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Web       WebConfig
	Database  DatabaseConfig
	Sessions  SessionConfig
	Uploads   UploadConfig
	Face      FaceConfig
	SMTP      SMTPConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

type WebConfig struct {
	Host           string   `env:"WEB_HOST" envDefault:"0.0.0.0"`
	Port           int      `env:"WEB_PORT" envDefault:"8080"`
	SessionSecret  string   `env:"WEB_SESSION_SECRET"`
	SecureCookies  bool     `env:"WEB_SECURE_COOKIES" envDefault:"false"` // force Secure flag even without TLS on this hop
	AllowedOrigins []string `env:"WEB_ALLOWED_ORIGINS" envSeparator:","`
	// IPs or CIDRs allowed to set X-Forwarded-For. Empty means the socket
	// address is always the client address.
	TrustedProxies []string `env:"WEB_TRUSTED_PROXIES" envSeparator:","`
}

// ProxyPrefixes parses TrustedProxies. A bare address is a single-host prefix.
func (c WebConfig) ProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("WEB_TRUSTED_PROXIES: %w", err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("WEB_TRUSTED_PROXIES: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

type DatabaseConfig struct {
	Driver       string `env:"DATABASE_DRIVER" envDefault:"postgres"` // postgres or mysql
	URL          string `env:"DATABASE_URL"`                          // PostgreSQL URL or MySQL DSN
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int    `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
}

type SessionConfig struct {
	Store    string `env:"SESSION_STORE" envDefault:"database"` // database, redis or memory
	RedisURL string `env:"REDIS_URL"`                           // e.g. redis://localhost:6379/0
}

type UploadConfig struct {
	Dir          string `env:"UPLOAD_DIR" envDefault:"uploads"`
	MaxBytes     int64  `env:"UPLOAD_MAX_BYTES" envDefault:"10485760"`
	MaxImageSize int    `env:"UPLOAD_MAX_IMAGE_SIZE" envDefault:"1920"` // longest edge in pixels after resize
}

type FaceConfig struct {
	Encoder   string  `env:"FACE_ENCODER" envDefault:"remote"` // remote or dlib
	URL       string  `env:"FACE_ENCODER_URL" envDefault:"http://localhost:8000"`
	ModelsDir string  `env:"FACE_MODELS_DIR" envDefault:"models"` // dlib model files
	Metric    string  `env:"FACE_METRIC" envDefault:"euclidean"`  // euclidean or cosine
	Tolerance float64 `env:"FACE_TOLERANCE" envDefault:"0.6"`
	Index     string  `env:"FACE_INDEX" envDefault:"scan"` // scan or hnsw
}

type SMTPConfig struct {
	Host     string        `env:"SMTP_HOST"`
	Port     int           `env:"SMTP_PORT" envDefault:"587"`
	Username string        `env:"SMTP_USERNAME"`
	Password string        `env:"SMTP_PASSWORD"`
	From     string        `env:"SMTP_FROM"`
	TLS      string        `env:"SMTP_TLS" envDefault:"mandatory"` // mandatory, opportunistic or none
	Timeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"15s"`
}

// Enabled reports whether outgoing mail is configured.
func (c *SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// Sender returns the From address, falling back to the SMTP username.
func (c *SMTPConfig) Sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"` // text or json
}

type RateLimitConfig struct {
	LoginRPS   float64 `env:"LOGIN_RATE_LIMIT_RPS" envDefault:"0.5"`
	LoginBurst int     `env:"LOGIN_RATE_LIMIT_BURST" envDefault:"5"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func normalize(cfg *Config) {
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Sessions.Store = strings.ToLower(strings.TrimSpace(cfg.Sessions.Store))
	cfg.Face.Encoder = strings.ToLower(strings.TrimSpace(cfg.Face.Encoder))
	cfg.Face.Metric = strings.ToLower(strings.TrimSpace(cfg.Face.Metric))
	cfg.Face.Index = strings.ToLower(strings.TrimSpace(cfg.Face.Index))
	cfg.SMTP.TLS = strings.ToLower(strings.TrimSpace(cfg.SMTP.TLS))
}

// Validate checks enumerated settings and numeric ranges.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or mysql, got %q", c.Database.Driver))
	}
	switch c.Sessions.Store {
	case "database", "memory":
	case "redis":
		if c.Sessions.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when SESSION_STORE=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE must be database, redis or memory, got %q", c.Sessions.Store))
	}
	switch c.Face.Encoder {
	case "remote", "dlib":
	default:
		errs = append(errs, fmt.Errorf("FACE_ENCODER must be remote or dlib, got %q", c.Face.Encoder))
	}
	switch c.Face.Metric {
	case "euclidean", "cosine":
	default:
		errs = append(errs, fmt.Errorf("FACE_METRIC must be euclidean or cosine, got %q", c.Face.Metric))
	}
	switch c.Face.Index {
	case "scan", "hnsw":
	default:
		errs = append(errs, fmt.Errorf("FACE_INDEX must be scan or hnsw, got %q", c.Face.Index))
	}
	if c.Face.Tolerance <= 0 {
		errs = append(errs, errors.New("FACE_TOLERANCE must be positive"))
	}
	switch c.SMTP.TLS {
	case "mandatory", "opportunistic", "none":
	default:
		errs = append(errs, fmt.Errorf("SMTP_TLS must be mandatory, opportunistic or none, got %q", c.SMTP.TLS))
	}
	if c.Uploads.MaxBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_BYTES must be positive"))
	}
	if c.Uploads.MaxImageSize <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_IMAGE_SIZE must be positive"))
	}
	if _, err := c.Web.ProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
