package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/thoka/discourse-login-helper/session"
)

type csrfResponse struct {
	CSRF string `json:"csrf"`
}

type currentSessionResponse struct {
	UserID   uint                  `json:"user_id"`
	Sessions []session.UserSession `json:"sessions"`
}

func (h *Handler) CurrentSession(c echo.Context) error {
	manager := session.GetManager(c)
	if manager == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}

	ctx := c.Request().Context()
	sessions, err := manager.Sessions(ctx)
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []session.UserSession{}
	}

	return c.JSON(http.StatusOK, currentSessionResponse{
		UserID:   manager.UserID(ctx),
		Sessions: sessions,
	})
}

func (h *Handler) Logout(c echo.Context) error {
	if err := session.Logout(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// CSRFToken hands out the token unsafe session requests must echo back.
func (h *Handler) CSRFToken(c echo.Context) error {
	return c.JSON(http.StatusOK, csrfResponse{CSRF: h.csrfToken(c)})
}
