package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/thoka/discourse-login-helper/services/redemption"
	"go.uber.org/zap"
)

type redeemRequest struct {
	SecondFactorToken  string `json:"second_factor_token,omitempty" form:"second_factor_token" doc:"TOTP code when the account has a second factor"`
	SecondFactorMethod string `json:"second_factor_method,omitempty" form:"second_factor_method" example:"totp"`
	Timezone           string `json:"timezone,omitempty" form:"timezone" example:"Europe/Berlin"`
}

type redeemResponse struct {
	Success        string `json:"success"`
	DestinationURL string `json:"destination_url"`
}

type preflightResponse struct {
	CanLogin             bool   `json:"can_login"`
	SecondFactorRequired bool   `json:"second_factor_required"`
	TokenEmail           string `json:"token_email,omitempty"`
	CSRF                 string `json:"csrf,omitempty" doc:"token to send back in X-CSRF-Token or authenticity_token"`
	Error                string `json:"error,omitempty"`
	Reason               string `json:"reason,omitempty"`
}

type secondFactorResponse struct {
	CanLogin             bool   `json:"can_login"`
	SecondFactorRequired bool   `json:"second_factor_required"`
	Error                string `json:"error,omitempty"`
	Reason               string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// EmailLoginInfo describes a token without consuming it.
func (h *Handler) EmailLoginInfo(c echo.Context) error {
	preflight, err := h.redemption.Inspect(c.Request().Context(), c.Param("token"))
	if err != nil {
		status, reason, message := redemptionStatus(err)
		if status == 0 {
			return err
		}
		return c.JSON(status, preflightResponse{Error: message, Reason: reason})
	}

	return c.JSON(http.StatusOK, preflightResponse{
		CanLogin:             preflight.CanLogin,
		SecondFactorRequired: preflight.SecondFactorRequired,
		TokenEmail:           preflight.User.Email,
		CSRF:                 h.csrfToken(c),
	})
}

// EmailLogin redeems a token and logs the caller in.
func (h *Handler) EmailLogin(c echo.Context) error {
	var body redeemRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.redemption.Redeem(c.Request().Context(), redemption.RedeemRequest{
		Token:              c.Param("token"),
		SecondFactorToken:  body.SecondFactorToken,
		SecondFactorMethod: body.SecondFactorMethod,
		Timezone:           body.Timezone,
	})
	if err != nil {
		return h.redemptionFailure(c, err)
	}

	return c.JSON(http.StatusOK, redeemResponse{
		Success:        "OK",
		DestinationURL: result.DestinationURL,
	})
}

func (h *Handler) redemptionFailure(c echo.Context, err error) error {
	var sfErr *redemption.SecondFactorError
	if errors.As(err, &sfErr) {
		resp := secondFactorResponse{SecondFactorRequired: true}
		if sfErr.Attempted {
			resp.Error = "Invalid authentication code."
			resp.Reason = sfErr.Reason
		}
		return c.JSON(http.StatusOK, resp)
	}

	status, reason, message := redemptionStatus(err)
	if status == 0 {
		if h.logger != nil {
			h.logger.Error("email login failed", zap.Error(err))
		}
		return err
	}

	return c.JSON(status, errorResponse{Error: message, Reason: reason})
}

func redemptionStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, redemption.ErrAlreadyConsumed):
		return http.StatusUnprocessableEntity, "already_consumed", "This login link has already been used."
	case errors.Is(err, redemption.ErrInvalidToken):
		return http.StatusUnprocessableEntity, "invalid_token", "This login link is invalid or has expired."
	case errors.Is(err, redemption.ErrNotActivated):
		return http.StatusForbidden, "not_activated", "Your account has not been activated yet."
	case errors.Is(err, redemption.ErrSuspended):
		return http.StatusForbidden, "suspended", "Your account is suspended."
	case errors.Is(err, redemption.ErrLocalLoginDisabled):
		return http.StatusForbidden, "local_login_disabled", "Email login is not available for this account."
	case errors.Is(err, redemption.ErrNotApproved):
		return http.StatusForbidden, "not_approved", "Your account is waiting for approval."
	case errors.Is(err, redemption.ErrReadOnlyMode):
		return http.StatusServiceUnavailable, "read_only", "The site is in read-only mode."
	}
	return 0, "", ""
}
