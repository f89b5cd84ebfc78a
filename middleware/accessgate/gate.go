package accessgate

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/zap"
)

const (
	HintParam    = "login"
	SendMailPath = "/login-helper/send-login-mail"
)

// Interceptor inspects the error a handler returned. When handled is false
// the error continues to the next interceptor unchanged.
type Interceptor interface {
	Intercept(c echo.Context, err error) (handled bool, out error)
}

type InterceptorFunc func(c echo.Context, err error) (bool, error)

func (f InterceptorFunc) Intercept(c echo.Context, err error) (bool, error) {
	return f(c, err)
}

// Chain runs interceptors in order until one handles the error.
type Chain []Interceptor

func (ch Chain) Intercept(c echo.Context, err error) (bool, error) {
	for _, interceptor := range ch {
		if handled, out := interceptor.Intercept(c, err); handled {
			return true, out
		}
	}
	return false, err
}

// AuthenticatedFunc reports whether the request belongs to a logged-in user.
type AuthenticatedFunc func(c echo.Context) bool

// Gate sends anonymous visitors that carry a login hint to the login mail
// page instead of showing them an access error.
type Gate struct {
	config        *config.Config
	authenticated AuthenticatedFunc
	logger        *logging.Service
}

func New(cfg *config.Config, authenticated AuthenticatedFunc, logger *logging.Service) *Gate {
	if authenticated == nil {
		authenticated = func(echo.Context) bool { return false }
	}
	return &Gate{
		config:        cfg,
		authenticated: authenticated,
		logger:        logger,
	}
}

func (g *Gate) enabled() bool {
	return g.config.LoginHelper.Enabled
}

func (g *Gate) shouldRedirect(c echo.Context) bool {
	return g.enabled() && c.QueryParam(HintParam) != "" && !g.authenticated(c)
}

// Intercept handles 401 and 403 errors for anonymous requests with a hint.
func (g *Gate) Intercept(c echo.Context, err error) (bool, error) {
	if !IsInvalidAccess(err) || !g.shouldRedirect(c) {
		return false, err
	}
	return true, g.redirect(c)
}

// Middleware intercepts access errors of the wrapped handlers. Extra
// interceptors run after the gate's own.
func (g *Gate) Middleware(extra ...Interceptor) echo.MiddlewareFunc {
	chain := append(Chain{g}, extra...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			_, out := chain.Intercept(c, err)
			return out
		}
	}
}

// RequireLogin redirects anonymous requests with a hint straight to the
// login mail page and hands everything else to fallback.
func (g *Gate) RequireLogin(fallback echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		guarded := fallback(next)
		return func(c echo.Context) error {
			if g.shouldRedirect(c) {
				return g.redirect(c)
			}
			return guarded(c)
		}
	}
}

func (g *Gate) redirect(c echo.Context) error {
	hint := c.QueryParam(HintParam)
	path := c.Request().URL.Path
	if g.logger != nil {
		g.logger.Debug("redirecting to login mail",
			zap.String("login", hint),
			zap.String("destination_url", path))
	}
	return c.Redirect(http.StatusFound, RedirectURL(path, hint))
}

func IsInvalidAccess(err error) bool {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return false
	}
	return he.Code == http.StatusUnauthorized || he.Code == http.StatusForbidden
}

// RedirectURL is the login mail page for hint, returning to path afterwards.
func RedirectURL(path, hint string) string {
	return SendMailPath + "?login=" + encodeComponent(hint) + "&destination_url=" + encodeComponent(path)
}

func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
