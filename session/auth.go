package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	UserIDKey        = "_user_id"
	AuthenticatedKey = "_authenticated"
	MethodKey        = "_login_method"

	MethodEmailLogin = "email_login"
)

// LogIn binds userID to the session loaded into ctx. The session token is
// renewed first so a token planted before login cannot be reused.
func (m *Manager) LogIn(ctx context.Context, userID uint) error {
	if err := m.RenewToken(ctx); err != nil {
		return fmt.Errorf("failed to renew session token: %w", err)
	}

	m.Put(ctx, UserIDKey, userID)
	m.Put(ctx, AuthenticatedKey, true)
	m.Put(ctx, MethodKey, MethodEmailLogin)

	if m.tracker != nil {
		token := m.Token(ctx)
		expiresAt := m.tracker.now().Add(m.config.MaxAge)
		if err := m.tracker.Track(ctx, userID, token, MethodEmailLogin, ClientFromContext(ctx), expiresAt); err != nil && m.logger != nil {
			m.logger.Warn("session not tracked", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) LogOut(ctx context.Context) error {
	if m.tracker != nil {
		if token := m.Token(ctx); token != "" {
			_ = m.tracker.Forget(ctx, token)
		}
	}
	return m.Destroy(ctx)
}

// Sessions lists the tracked sessions of the logged-in user and marks the one
// bound to ctx as current. Without a tracker the list is empty.
func (m *Manager) Sessions(ctx context.Context) ([]UserSession, error) {
	if m.tracker == nil {
		return nil, nil
	}
	return m.tracker.UserSessions(ctx, m.UserID(ctx), m.Token(ctx))
}

func (m *Manager) UserID(ctx context.Context) uint {
	v, _ := m.Get(ctx, UserIDKey).(uint)
	return v
}

func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.GetBool(ctx, AuthenticatedKey)
}

func IsAuthenticated(c echo.Context) bool {
	manager := GetManager(c)
	if manager == nil {
		return false
	}
	return manager.IsAuthenticated(c.Request().Context())
}

func GetUserID(c echo.Context) uint {
	manager := GetManager(c)
	if manager == nil {
		return 0
	}
	return manager.UserID(c.Request().Context())
}

func Logout(c echo.Context) error {
	manager := GetManager(c)
	if manager == nil {
		return nil
	}
	return manager.LogOut(c.Request().Context())
}

// RequireAuth answers 401 for anonymous callers. Routes behind it are where
// the access gate turns a login hint into a login mail.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !IsAuthenticated(c) {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
			}
			return next(c)
		}
	}
}
