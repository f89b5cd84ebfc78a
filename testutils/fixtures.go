package testutils

import (
	"time"

	"github.com/thoka/discourse-login-helper/config"
)

func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name: "Test Forum",
			URL:  "https://forum.example",
		},
		Server: config.ServerConfig{
			Host: "localhost",
			Port: "8080",
		},
		Log: config.LogConfig{
			Level:  "debug",
			Format: "console",
			Output: "stdout",
		},
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			DSN:         ":memory:",
			AutoMigrate: true,
		},
		Session: config.SessionConfig{
			Enabled:  true,
			Store:    "memory",
			Name:     "session",
			MaxAge:   time.Hour,
			Path:     "/",
			HttpOnly: true,
			SameSite: "lax",
		},
		CSRF: config.CSRFConfig{
			Enabled:        true,
			TokenLength:    32,
			TokenLookup:    "header:X-CSRF-Token,form:authenticity_token",
			ContextKey:     "csrf",
			CookieName:     "_csrf",
			CookiePath:     "/",
			CookieMaxAge:   3600,
			CookieHTTPOnly: true,
			CookieSameSite: "lax",
		},
		Mail: config.MailConfig{
			Host:          "localhost",
			Port:          1025,
			Encryption:    "none",
			FromAddress:   "noreply@forum.example",
			FromName:      "Test Forum",
			QueueSize:     16,
			Workers:       1,
			SendRate:      100,
			SendBurst:     10,
			MaxAttempts:   2,
			RetryInterval: time.Millisecond,
		},
		RateLimit: config.RateLimitConfig{
			Store: "memory",
		},
		TOTP: config.TOTPConfig{
			Enabled: true,
		},
		LoginHelper: config.LoginHelperConfig{
			Enabled:                true,
			LocalEmailLoginEnabled: true,
			HideUserExistence:      true,
			TokenTTL:               time.Hour,
			TokenLength:            32,
			TokenCleanupInterval:   time.Hour,
			LoopbackHosts:          []string{"127.0.0.1"},
			ExcludedPaths: []string{
				"/session", "/auth", "/login-helper", "/invites",
				"/u/activate-account", "/u/password-reset", "/email/unsubscribe",
			},
			IPPerMinute:           3,
			IPPerHour:             6,
			UserPerMinute:         3,
			UserPerHour:           6,
			SecondFactorPerMinute: 6,
		},
	}
}

var TestUsers = struct {
	Alice struct {
		Username string
		Email    string
	}
	Bob struct {
		Username string
		Email    string
	}
}{
	Alice: struct {
		Username string
		Email    string
	}{
		Username: "alice",
		Email:    "alice@example.com",
	},
	Bob: struct {
		Username string
		Email    string
	}{
		Username: "bob",
		Email:    "bob@example.com",
	},
}
