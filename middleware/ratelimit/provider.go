package ratelimit

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/thoka/discourse-login-helper/config"
	rl "github.com/thoka/discourse-login-helper/services/ratelimit"
)

// SecondFactorTier throttles redemption attempts that carry a second factor code.
func SecondFactorTier(cfg *config.LoginHelperConfig) rl.Tier {
	return rl.Tier{
		Name:   "second-factor:min",
		Limit:  cfg.SecondFactorPerMinute,
		Period: time.Minute,
	}
}

func NewSecondFactorMiddleware(limiter *rl.Limiter, cfg *config.Config) echo.MiddlewareFunc {
	return Middleware(&Config{
		Limiter: limiter,
		Tier:    SecondFactorTier(&cfg.LoginHelper),
		// JSON bodies are not parsed here, so every JSON attempt is counted.
		Skipper: func(c echo.Context) bool {
			if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
				return false
			}
			return c.FormValue("second_factor_token") == ""
		},
	})
}
