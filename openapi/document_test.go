package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type redeemBody struct {
	SecondFactorToken string `json:"second_factor_token,omitempty" doc:"one-time code"`
	Timezone          string `json:"timezone,omitempty" example:"Europe/Berlin"`
}

type redeemReply struct {
	Success        string    `json:"success"`
	DestinationURL string    `json:"destination_url"`
	IssuedAt       time.Time `json:"issued_at"`
	Tags           []string  `json:"tags,omitempty"`
	Internal       string    `json:"-"`
}

func TestRoute_PathParamsAreConverted(t *testing.T) {
	doc := New("Login helper", "1.0.0")
	doc.Route("post", "/session/email-login/:token").
		Summary("Redeem").
		Tags("login").
		Body(redeemBody{}, "code", false).
		Response(http.StatusOK, redeemReply{}, "logged in").
		Build()

	item := doc.Spec().Paths.Find("/session/email-login/{token}")
	require.NotNil(t, item)
	require.NotNil(t, item.Post)
	assert.Equal(t, "Redeem", item.Post.Summary)
	assert.Equal(t, []string{"login"}, item.Post.Tags)

	require.Len(t, item.Post.Parameters, 1)
	param := item.Post.Parameters[0].Value
	assert.Equal(t, "token", param.Name)
	assert.Equal(t, "path", param.In)
	assert.True(t, param.Required)

	content := item.Post.RequestBody.Value.Content
	assert.Contains(t, content, "application/json")
	assert.Contains(t, content, "application/x-www-form-urlencoded")
}

func TestSchemaOf(t *testing.T) {
	schema := SchemaOf(redeemReply{}).Value

	assert.ElementsMatch(t, []string{"success", "destination_url", "issued_at"}, schema.Required)
	assert.Contains(t, schema.Properties, "tags")
	assert.NotContains(t, schema.Properties, "Internal")
	assert.Equal(t, "date-time", schema.Properties["issued_at"].Value.Format)

	body := SchemaOf(redeemBody{}).Value
	assert.Empty(t, body.Required)
	assert.Equal(t, "one-time code", body.Properties["second_factor_token"].Value.Description)
	assert.Equal(t, "Europe/Berlin", body.Properties["timezone"].Value.Example)
}

func TestRoute_QueryAndResponses(t *testing.T) {
	doc := New("Login helper", "1.0.0").CookieAuth("session", "session", "session cookie")
	doc.Route(http.MethodGet, "/login-helper/send-login-mail").
		QueryParam("login", "username or email", true).
		QueryParam("login", "username or email address", true).
		HTMLResponse(http.StatusOK, "confirmation page").
		RedirectResponse(http.StatusFound, "already logged in").
		Response(http.StatusNoContent, nil, "nothing").
		Security("session").
		Build()

	op := doc.Spec().Paths.Find("/login-helper/send-login-mail").Get
	require.NotNil(t, op)
	require.Len(t, op.Parameters, 1)
	assert.Equal(t, "username or email address", op.Parameters[0].Value.Description)

	ok := op.Responses.Value("200")
	require.NotNil(t, ok)
	assert.Contains(t, ok.Value.Content, "text/html")

	redirect := op.Responses.Value("302")
	require.NotNil(t, redirect)
	assert.Contains(t, redirect.Value.Headers, "Location")

	assert.Nil(t, op.Responses.Value("204").Value.Content)
	require.NotNil(t, op.Security)
	assert.Len(t, *op.Security, 1)
	assert.Contains(t, doc.Spec().Components.SecuritySchemes, "session")
}

func TestHandlers(t *testing.T) {
	doc := New("Login helper", "1.0.0").Tag("login", "email login").Server("https://forum.example.com", "")
	doc.Route(http.MethodDelete, "/session/current").Response(http.StatusNoContent, nil, "logged out").Build()

	e := echo.New()
	e.GET("/openapi.json", doc.JSONHandler())
	e.GET("/openapi.yaml", doc.YAMLHandler())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	assert.Equal(t, "3.0.3", parsed["openapi"])
	assert.Contains(t, parsed["paths"], "/session/current")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Body.String(), "title: Login helper")
}
