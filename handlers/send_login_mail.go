package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/thoka/discourse-login-helper/services/loginmail"
	"github.com/thoka/discourse-login-helper/services/mail"
	"github.com/thoka/discourse-login-helper/services/ratelimit"
	"github.com/thoka/discourse-login-helper/session"
	"go.uber.org/zap"
)

// SendLoginMail issues a login mail for the login query parameter and
// answers with the same page whether or not an account matched.
func (h *Handler) SendLoginMail(c echo.Context) error {
	req := c.Request()
	result, err := h.loginMail.RequestLogin(req.Context(), loginmail.Request{
		Login:          c.QueryParam("login"),
		DestinationURL: c.QueryParam("destination_url"),
		CallerAddress:  c.RealIP(),
		UserAgent:      req.UserAgent(),
		Authenticated:  session.IsAuthenticated(c),
	})
	if err != nil {
		return h.loginMailFailure(c, err)
	}

	return c.Render(http.StatusOK, "send_login_mail", h.page(echo.Map{
		"Login":          result.Login,
		"DestinationURL": result.DestinationURL,
		"ExpiresIn":      h.config.LoginHelper.TokenTTL.String(),
	}))
}

func (h *Handler) loginMailFailure(c echo.Context, err error) error {
	var limitErr *ratelimit.LimitExceededError

	switch {
	case errors.Is(err, loginmail.ErrAlreadyAuthenticated):
		return c.Redirect(http.StatusFound, "/")
	case errors.Is(err, loginmail.ErrFeatureDisabled):
		return h.errorPage(c, http.StatusNotFound, "Not found", "The page you requested does not exist.")
	case errors.Is(err, loginmail.ErrLoginRequired):
		return h.errorPage(c, http.StatusBadRequest, "Missing login", "A username or email address is required.")
	case errors.Is(err, loginmail.ErrUserNotFound):
		return h.errorPage(c, http.StatusNotFound, "Unknown account", "No account matches this username or email address.")
	case errors.As(err, &limitErr):
		wait := retryAfter(limitErr, time.Now())
		c.Response().Header().Set("Retry-After", strconv.Itoa(wait))
		return c.Render(http.StatusTooManyRequests, "slow_down", h.page(echo.Map{
			"RetryAfter": (time.Duration(wait) * time.Second).String(),
		}))
	case errors.Is(err, mail.ErrQueueFull), errors.Is(err, mail.ErrQueueClosed):
		return h.errorPage(c, http.StatusServiceUnavailable, "Try again later", "We cannot send emails right now. Please try again in a few minutes.")
	}

	if h.logger != nil {
		h.logger.Error("login mail request failed", zap.Error(err))
	}
	return err
}

// retryAfter is the whole number of seconds until the limit resets, at least 1.
func retryAfter(err *ratelimit.LimitExceededError, now time.Time) int {
	seconds := int(math.Ceil(err.RetryAfter(now).Seconds()))
	return max(seconds, 1)
}

func (h *Handler) page(data echo.Map) echo.Map {
	data["SiteName"] = h.config.App.Name
	return data
}

func (h *Handler) errorPage(c echo.Context, status int, title, message string) error {
	return c.Render(status, "error", h.page(echo.Map{
		"Title":   title,
		"Message": message,
	}))
}
