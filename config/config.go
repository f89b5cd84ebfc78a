package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App         AppConfig         `envPrefix:"APP_"`
	Server      ServerConfig      `envPrefix:"SERVER_"`
	Log         LogConfig         `envPrefix:"LOG_"`
	Database    DatabaseConfig    `envPrefix:"DATABASE_"`
	Session     SessionConfig     `envPrefix:"SESSION_"`
	CSRF        CSRFConfig        `envPrefix:"CSRF_"`
	Mail        MailConfig        `envPrefix:"MAIL_"`
	RateLimit   RateLimitConfig   `envPrefix:"RATE_LIMIT_"`
	Redis       RedisConfig       `envPrefix:"REDIS_"`
	TOTP        TOTPConfig        `envPrefix:"TOTP_"`
	Templates   TemplatesConfig   `envPrefix:"TEMPLATES_"`
	LoginHelper LoginHelperConfig `envPrefix:"LOGIN_HELPER_"`
}

type AppConfig struct {
	Name string `env:"NAME" envDefault:"Forum"`
	URL  string `env:"URL" envDefault:"http://localhost:8080"`
}

type ServerConfig struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	Host           string        `env:"HOST" envDefault:"localhost"`
	TrustedProxies []string      `env:"TRUSTED_PROXIES" envSeparator:","`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
}

type LogConfig struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	Format     string `env:"FORMAT" envDefault:"json"`
	Output     string `env:"OUTPUT" envDefault:"stdout"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"3"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS" envDefault:"28"`
	Compress   bool   `env:"COMPRESS" envDefault:"true"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"app.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type SessionConfig struct {
	Enabled  bool          `env:"ENABLED" envDefault:"true"`
	Store    string        `env:"STORE" envDefault:"memory"`
	Name     string        `env:"NAME" envDefault:"session"`
	MaxAge   time.Duration `env:"MAX_AGE" envDefault:"720h"`
	Path     string        `env:"PATH" envDefault:"/"`
	Domain   string        `env:"DOMAIN"`
	Secure   bool          `env:"SECURE" envDefault:"false"`
	HttpOnly bool          `env:"HTTP_ONLY" envDefault:"true"`
	SameSite string        `env:"SAME_SITE" envDefault:"lax"`
}

// CSRFConfig configures the double-submit cookie guarding state-changing
// session routes. TokenLookup follows echo's "source:name" list syntax.
type CSRFConfig struct {
	Enabled        bool   `env:"ENABLED" envDefault:"true"`
	TokenLength    uint8  `env:"TOKEN_LENGTH" envDefault:"32"`
	TokenLookup    string `env:"TOKEN_LOOKUP" envDefault:"header:X-CSRF-Token,form:authenticity_token"`
	ContextKey     string `env:"CONTEXT_KEY" envDefault:"csrf"`
	CookieName     string `env:"COOKIE_NAME" envDefault:"_csrf"`
	CookieDomain   string `env:"COOKIE_DOMAIN"`
	CookiePath     string `env:"COOKIE_PATH" envDefault:"/"`
	CookieMaxAge   int    `env:"COOKIE_MAX_AGE" envDefault:"86400"`
	CookieSecure   bool   `env:"COOKIE_SECURE" envDefault:"false"`
	CookieHTTPOnly bool   `env:"COOKIE_HTTP_ONLY" envDefault:"true"`
	CookieSameSite string `env:"COOKIE_SAME_SITE" envDefault:"lax"`
}

type MailConfig struct {
	Host          string        `env:"HOST" envDefault:"localhost"`
	Port          int           `env:"PORT" envDefault:"587"`
	Username      string        `env:"USERNAME"`
	Password      string        `env:"PASSWORD"`
	Encryption    string        `env:"ENCRYPTION" envDefault:"starttls"`
	FromAddress   string        `env:"FROM_ADDRESS" envDefault:"noreply@localhost"`
	FromName      string        `env:"FROM_NAME"`
	TemplatesDir  string        `env:"TEMPLATES_DIR"`
	QueueSize     int           `env:"QUEUE_SIZE" envDefault:"256"`
	Workers       int           `env:"WORKERS" envDefault:"2"`
	SendRate      float64       `env:"SEND_RATE" envDefault:"5"`
	SendBurst     int           `env:"SEND_BURST" envDefault:"5"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"2s"`
}

type RateLimitConfig struct {
	Store string `env:"STORE" envDefault:"memory"`
}

type RedisConfig struct {
	Address  string `env:"ADDRESS" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type TOTPConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`
}

type TemplatesConfig struct {
	Dir         string `env:"DIR"`
	Development bool   `env:"DEVELOPMENT" envDefault:"false"`
}

// LoginHelperConfig holds the site settings of the email login flow.
type LoginHelperConfig struct {
	Enabled                bool          `env:"ENABLED" envDefault:"true"`
	LocalEmailLoginEnabled bool          `env:"LOCAL_EMAIL_LOGIN_ENABLED" envDefault:"true"`
	HideUserExistence      bool          `env:"HIDE_USER_EXISTENCE" envDefault:"true"`
	MustApproveUsers       bool          `env:"MUST_APPROVE_USERS" envDefault:"false"`
	StaffWritesOnly        bool          `env:"STAFF_WRITES_ONLY" envDefault:"false"`
	TokenTTL               time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	TokenLength            int           `env:"TOKEN_LENGTH" envDefault:"32"`
	TokenCleanupInterval   time.Duration `env:"TOKEN_CLEANUP_INTERVAL" envDefault:"1h"`
	LoopbackHosts          []string      `env:"LOOPBACK_HOSTS" envSeparator:"," envDefault:"127.0.0.1"`
	ExcludedPaths          []string      `env:"EXCLUDED_PATHS" envSeparator:"," envDefault:"/session,/auth,/login-helper,/invites,/u/activate-account,/u/password-reset,/email/unsubscribe"`
	IncludedPaths          []string      `env:"INCLUDED_PATHS" envSeparator:","`
	IPPerMinute            int           `env:"IP_PER_MINUTE" envDefault:"3"`
	IPPerHour              int           `env:"IP_PER_HOUR" envDefault:"6"`
	UserPerMinute          int           `env:"USER_PER_MINUTE" envDefault:"3"`
	UserPerHour            int           `env:"USER_PER_HOUR" envDefault:"6"`
	SecondFactorPerMinute  int           `env:"SECOND_FACTOR_PER_MINUTE" envDefault:"6"`
}

func LoadConfig(cfg any) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return err
	}

	if c, ok := cfg.(*Config); ok {
		return c.Validate()
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := c.BaseHost(); err != nil {
		return err
	}
	if err := validateLoginHelperConfig(&c.LoginHelper); err != nil {
		return err
	}
	switch c.RateLimit.Store {
	case "memory", "database", "redis":
	default:
		return fmt.Errorf("unsupported rate limit store: %s (supported: memory, database, redis)", c.RateLimit.Store)
	}
	return nil
}

func validateLoginHelperConfig(cfg *LoginHelperConfig) error {
	if cfg.TokenLength < 16 {
		return fmt.Errorf("login token length must be at least 16 bytes")
	}
	if cfg.TokenTTL <= 0 {
		return fmt.Errorf("login token TTL must be positive")
	}
	limits := map[string]int{
		"IP_PER_MINUTE":            cfg.IPPerMinute,
		"IP_PER_HOUR":              cfg.IPPerHour,
		"USER_PER_MINUTE":          cfg.UserPerMinute,
		"USER_PER_HOUR":            cfg.UserPerHour,
		"SECOND_FACTOR_PER_MINUTE": cfg.SecondFactorPerMinute,
	}
	for name, limit := range limits {
		if limit <= 0 {
			return fmt.Errorf("LOGIN_HELPER_%s must be positive, got %d", name, limit)
		}
	}
	for _, p := range append(append([]string{}, cfg.ExcludedPaths...), cfg.IncludedPaths...) {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("path prefix %q must start with /", p)
		}
	}
	return nil
}

// BaseHost returns the host name of App.URL, the site's own domain.
func (c *Config) BaseHost() (string, error) {
	u, err := url.Parse(c.App.URL)
	if err != nil {
		return "", fmt.Errorf("invalid APP_URL %q: %w", c.App.URL, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("APP_URL %q has no host", c.App.URL)
	}
	return u.Hostname(), nil
}
