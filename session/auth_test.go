package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thoka/discourse-login-helper/testutils"
)

func newTestManager(t *testing.T, tracker *Tracker) *Manager {
	t.Helper()
	cfg := testutils.GetTestConfig()
	manager, err := NewManager(cfg, nil, nil, tracker, nil)
	require.NoError(t, err)
	require.NotNil(t, manager)
	return manager
}

func loadedContext(t *testing.T, manager *Manager) context.Context {
	t.Helper()
	ctx, err := manager.Load(context.Background(), "")
	require.NoError(t, err)
	return ctx
}

func TestManager_LogIn(t *testing.T) {
	t.Run("binds the user and renews the token", func(t *testing.T) {
		manager := newTestManager(t, nil)
		ctx := loadedContext(t, manager)

		require.NoError(t, manager.LogIn(ctx, 42))

		assert.Equal(t, uint(42), manager.UserID(ctx))
		assert.True(t, manager.IsAuthenticated(ctx))
		assert.Equal(t, MethodEmailLogin, manager.GetString(ctx, MethodKey))
		assert.NotEmpty(t, manager.Token(ctx))
	})

	t.Run("tracks the session", func(t *testing.T) {
		db := testutils.SetupTestDB(t, &UserSession{})
		tracker := NewTracker(db, nil)
		manager := newTestManager(t, tracker)

		ctx := loadedContext(t, manager)
		ctx = context.WithValue(ctx, clientContextKey, ClientInfo{
			IPAddress: "203.0.113.7",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		})

		require.NoError(t, manager.LogIn(ctx, 42))

		sessions, err := tracker.UserSessions(context.Background(), 42, manager.Token(ctx))
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.True(t, sessions[0].Current)
		assert.Equal(t, MethodEmailLogin, sessions[0].Method)
		assert.Equal(t, "203.0.113.7", sessions[0].IPAddress)
		assert.Contains(t, sessions[0].Device, "Chrome")
		assert.WithinDuration(t, time.Now().Add(time.Hour), sessions[0].ExpiresAt, time.Minute)
	})
}

func TestManager_LogOut(t *testing.T) {
	db := testutils.SetupTestDB(t, &UserSession{})
	tracker := NewTracker(db, nil)
	manager := newTestManager(t, tracker)
	ctx := loadedContext(t, manager)

	require.NoError(t, manager.LogIn(ctx, 42))
	require.NoError(t, manager.LogOut(ctx))

	assert.False(t, manager.IsAuthenticated(ctx))
	assert.Zero(t, manager.UserID(ctx))

	sessions, err := tracker.UserSessions(context.Background(), 42, "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestHelpersWithoutManager(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	assert.False(t, IsAuthenticated(c))
	assert.Zero(t, GetUserID(c))
	assert.NoError(t, Logout(c))
}

func TestRequireAuth(t *testing.T) {
	manager := newTestManager(t, nil)
	e := echo.New()
	e.Use(Middleware(manager))
	e.GET("/private", func(c echo.Context) error {
		return c.String(http.StatusOK, "secret")
	}, RequireAuth())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/private", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
