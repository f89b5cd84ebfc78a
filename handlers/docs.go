package handlers

import (
	"net/http"

	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/openapi"
)

const sessionAuth = "sessionCookie"

// Document describes the login helper endpoints.
func Document(cfg *config.Config) *openapi.Document {
	doc := openapi.New(cfg.App.Name+" login helper", "1.0.0").
		Description("Passwordless email login: request a one-time link and redeem it for a session.").
		Server(cfg.App.URL, cfg.App.Name).
		Tag("email-login", "One-time login links sent by email").
		Tag("session", "The session opened by an email login").
		CookieAuth(sessionAuth, cfg.Session.Name, "Session cookie set after a successful email login")

	doc.Route(http.MethodGet, SendLoginMailPath).
		Summary("Send a login link").
		Description("Mails a one-time login link to the account matching login. The page is the same whether or not an account matched.").
		Tags("email-login").
		QueryParam("login", "Username or email address", true).
		QueryParam("destination_url", "Page to return to after logging in", false).
		HTMLResponse(http.StatusOK, "Check your email").
		RedirectResponse(http.StatusFound, "Already logged in").
		HTMLResponse(http.StatusBadRequest, "Missing login").
		HTMLResponse(http.StatusNotFound, "Email login is disabled").
		HTMLResponse(http.StatusTooManyRequests, "Too many login mails requested").
		HTMLResponse(http.StatusServiceUnavailable, "Mail queue is full").
		Build()

	doc.Route(http.MethodGet, EmailLoginPath).
		Summary("Inspect a login link").
		Tags("email-login").
		PathParam("token", "Token from the login mail").
		Response(http.StatusOK, preflightResponse{}, "Token can be redeemed").
		Response(http.StatusUnprocessableEntity, preflightResponse{}, "Token is invalid or expired").
		Build()

	doc.Route(http.MethodPost, EmailLoginPath).
		Summary("Redeem a login link").
		Description("Consumes the token and opens a session. Accounts with a second factor must send a code; without one the response asks for it. The CSRF token from the preflight or "+CSRFPath+" goes in the X-CSRF-Token header or the authenticity_token field.").
		Tags("email-login").
		PathParam("token", "Token from the login mail").
		Body(redeemRequest{}, "Second factor code and browser timezone", false).
		Response(http.StatusOK, redeemResponse{}, "Logged in, or second factor required").
		Response(http.StatusBadRequest, nil, "Missing CSRF token").
		Response(http.StatusForbidden, errorResponse{}, "Account cannot log in, or CSRF token mismatch").
		Response(http.StatusUnprocessableEntity, errorResponse{}, "Token is invalid, expired or used").
		Response(http.StatusTooManyRequests, nil, "Too many second factor attempts").
		Response(http.StatusServiceUnavailable, errorResponse{}, "Site is read-only").
		Build()

	doc.Route(http.MethodGet, CSRFPath).
		Summary("CSRF token").
		Description("Sets the CSRF cookie and returns the token that POST and DELETE session requests must send back.").
		Tags("session").
		Response(http.StatusOK, csrfResponse{}, "Token for this browser").
		Build()

	doc.Route(http.MethodGet, CurrentPath).
		Summary("Current session").
		Tags("session").
		Security(sessionAuth).
		Response(http.StatusOK, currentSessionResponse{}, "Sessions of the logged-in user").
		RedirectResponse(http.StatusFound, "Anonymous request with a login hint").
		Response(http.StatusUnauthorized, nil, "Not logged in").
		Build()

	doc.Route(http.MethodDelete, CurrentPath).
		Summary("Log out").
		Tags("session").
		Security(sessionAuth).
		Response(http.StatusNoContent, nil, "Logged out").
		Response(http.StatusBadRequest, nil, "Missing CSRF token").
		Response(http.StatusForbidden, nil, "CSRF token mismatch").
		Response(http.StatusUnauthorized, nil, "Not logged in").
		Build()

	return doc
}
