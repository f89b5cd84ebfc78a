package session

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware(t *testing.T) {
	t.Run("with nil manager", func(t *testing.T) {
		e := echo.New()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

		called := false
		err := Middleware(nil)(func(c echo.Context) error {
			called = true
			return nil
		})(c)

		assert.NoError(t, err)
		assert.True(t, called)
		assert.Nil(t, GetManager(c))
	})

	t.Run("exposes manager and client", func(t *testing.T) {
		manager := newTestManager(t, nil)
		e := echo.New()
		e.Use(Middleware(manager))
		e.GET("/", func(c echo.Context) error {
			assert.Same(t, manager, GetManager(c))
			assert.Same(t, manager, GetManagerFromContext(c.Request().Context()))
			assert.Equal(t, "Test/1.0", ClientFromContext(c.Request().Context()).UserAgent)
			return c.NoContent(http.StatusNoContent)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("User-Agent", "Test/1.0")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("login survives into the next request", func(t *testing.T) {
		manager := newTestManager(t, nil)
		e := echo.New()
		e.Use(Middleware(manager))
		e.POST("/login", func(c echo.Context) error {
			if err := manager.LogIn(c.Request().Context(), 7); err != nil {
				return err
			}
			return c.NoContent(http.StatusOK)
		})
		e.GET("/me", func(c echo.Context) error {
			return c.String(http.StatusOK, strconv.FormatUint(uint64(GetUserID(c)), 10))
		}, RequireAuth())

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		cookies := rec.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.Equal(t, "session", cookies[0].Name)

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(cookies[0])
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "7", rec.Body.String())
	})
}
