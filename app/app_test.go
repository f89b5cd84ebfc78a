package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/session"
	"github.com/thoka/discourse-login-helper/testutils"
	"go.uber.org/fx"
)

func testConfig() *config.Config {
	cfg := testutils.GetTestConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Log.Level = "error"
	return cfg
}

func serve(a *App, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestNew(t *testing.T) {
	a, err := New(WithConfig(testConfig()), WithoutFxLogs())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	assert.NotNil(t, a.DB())
	assert.NotNil(t, a.Logger())
	assert.NotNil(t, a.Server())
	assert.Equal(t, "Test Forum", a.Config().App.Name)

	t.Run("ready", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(a, "/healthz/ready").Code)
		assert.Equal(t, http.StatusOK, serve(a, "/healthz/live").Code)
	})

	t.Run("login mail page and metrics", func(t *testing.T) {
		rec := serve(a, "/login-helper/send-login-mail?login=nobody")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "nobody")

		rec = serve(a, "/metrics")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `login_helper_login_requests_total{outcome="suppressed"} 1`)
	})

	t.Run("access gate on protected routes", func(t *testing.T) {
		rec := serve(a, "/session/current?login=alice")
		assert.Equal(t, http.StatusFound, rec.Code)

		assert.Equal(t, http.StatusUnauthorized, serve(a, "/session/current").Code)
	})

	t.Run("openapi", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(a, "/login-helper/openapi.json").Code)
	})
}

func TestNew_Options(t *testing.T) {
	t.Run("custom session store", func(t *testing.T) {
		var manager *session.Manager
		a, err := New(
			WithConfig(testConfig()),
			WithSessionStore(session.NewMemoryStore()),
			WithFxOptions(fx.Populate(&manager)),
			WithoutFxLogs(),
		)
		require.NoError(t, err)
		require.NotNil(t, a)
		assert.NotNil(t, manager)
	})

	t.Run("sessions disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.Session.Enabled = false

		a, err := New(WithConfig(cfg), WithoutFxLogs())
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnauthorized, serve(a, "/session/current").Code)
	})

	t.Run("invalid database driver", func(t *testing.T) {
		cfg := testConfig()
		cfg.Database.Driver = "oracle"

		a, err := New(WithConfig(cfg), WithoutFxLogs())
		assert.Nil(t, a)
		assert.ErrorContains(t, err, "unsupported database driver")
	})
}
