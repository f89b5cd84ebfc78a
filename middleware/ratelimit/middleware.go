package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	rl "github.com/thoka/discourse-login-helper/services/ratelimit"
)

type Config struct {
	Limiter        *rl.Limiter
	Tier           rl.Tier
	Skipper        middleware.Skipper
	KeyGenerator   func(c echo.Context) string
	OnLimitReached func(c echo.Context, err *rl.LimitExceededError) error
}

func Middleware(cfg *Config) echo.MiddlewareFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = rl.NewLimiter(rl.NewMemoryStore(), nil)
	}

	if cfg.Tier.Limit <= 0 {
		cfg.Tier.Limit = 10
	}

	if cfg.Tier.Period <= 0 {
		cfg.Tier.Period = time.Minute
	}

	if cfg.Tier.Name == "" {
		cfg.Tier.Name = "rate_limit"
	}

	if cfg.Skipper == nil {
		cfg.Skipper = middleware.DefaultSkipper
	}

	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyGenerator
	}

	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = DefaultOnLimitReached
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}

			key := cfg.Tier.Key(cfg.KeyGenerator(c))
			decision, err := cfg.Limiter.Take(c.Request().Context(), key, cfg.Tier.Limit, cfg.Tier.Period)

			var limitErr *rl.LimitExceededError
			if err != nil && !errors.As(err, &limitErr) {
				return err
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Tier.Limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			c.Response().Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if limitErr != nil {
				return cfg.OnLimitReached(c, limitErr)
			}

			return next(c)
		}
	}
}

func DefaultKeyGenerator(c echo.Context) string {
	realIP := c.RealIP()

	if realIP == "" || realIP == "unknown" {
		realIP = "fallback"
	}

	return "ip:" + realIP
}

func DefaultOnLimitReached(c echo.Context, err *rl.LimitExceededError) error {
	retryAfter := int(err.RetryAfter(time.Now()).Seconds())
	c.Response().Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
	return echo.NewHTTPError(http.StatusTooManyRequests, "Too Many Requests")
}
