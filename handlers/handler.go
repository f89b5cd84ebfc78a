package handlers

import (
	"github.com/labstack/echo/v4"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/middleware/csrf"
	"github.com/thoka/discourse-login-helper/middleware/accessgate"
	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/thoka/discourse-login-helper/services/loginmail"
	"github.com/thoka/discourse-login-helper/services/ratelimit"
	"github.com/thoka/discourse-login-helper/services/redemption"
	"github.com/thoka/discourse-login-helper/session"

	mwratelimit "github.com/thoka/discourse-login-helper/middleware/ratelimit"
)

const (
	SendLoginMailPath = accessgate.SendMailPath
	EmailLoginPath    = "/session/email-login/:token"
	CurrentPath       = "/session/current"
	CSRFPath          = "/session/csrf"
	OpenAPIJSONPath   = "/login-helper/openapi.json"
	OpenAPIYAMLPath   = "/login-helper/openapi.yaml"
)

// Router is the part of the HTTP server the handlers register on.
type Router interface {
	Get(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc)
	Post(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc)
	Delete(path string, handler echo.HandlerFunc, middleware ...echo.MiddlewareFunc)
}

type Handler struct {
	config     *config.Config
	loginMail  *loginmail.Service
	redemption *redemption.Service
	limiter    *ratelimit.Limiter
	gate       *accessgate.Gate
	logger     *logging.Service
}

func New(cfg *config.Config, loginMail *loginmail.Service, redeemer *redemption.Service, limiter *ratelimit.Limiter, gate *accessgate.Gate, logger *logging.Service) *Handler {
	return &Handler{
		config:     cfg,
		loginMail:  loginMail,
		redemption: redeemer,
		limiter:    limiter,
		gate:       gate,
		logger:     logger,
	}
}

func (h *Handler) Register(r Router) {
	guard := csrf.Middleware(&h.config.CSRF)

	r.Get(SendLoginMailPath, h.SendLoginMail)
	r.Get(CSRFPath, h.CSRFToken, guard)
	r.Get(EmailLoginPath, h.EmailLoginInfo, guard)
	r.Post(EmailLoginPath, h.EmailLogin, guard, mwratelimit.NewSecondFactorMiddleware(h.limiter, h.config))

	requireLogin := h.gate.RequireLogin(session.RequireAuth())
	r.Get(CurrentPath, h.CurrentSession, guard, requireLogin)
	r.Delete(CurrentPath, h.Logout, guard, requireLogin)

	doc := Document(h.config)
	r.Get(OpenAPIJSONPath, doc.JSONHandler())
	r.Get(OpenAPIYAMLPath, doc.YAMLHandler())
}

func (h *Handler) csrfToken(c echo.Context) string {
	return csrf.Token(c, h.config.CSRF.ContextKey)
}
