package mail

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/wneessen/go-mail"
)

type MockMailClient struct {
	mu       sync.Mutex
	sendFunc func(msg *mail.Msg) error
	sent     []*mail.Msg
}

func (m *MockMailClient) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		if m.sendFunc != nil {
			if err := m.sendFunc(msg); err != nil {
				return err
			}
		}
		m.sent = append(m.sent, msg)
	}
	return nil
}

func (m *MockMailClient) Sent() []*mail.Msg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*mail.Msg(nil), m.sent...)
}

type markerHook struct {
	calls []string
}

func (h *markerHook) RewriteHTML(recipient, body string) string {
	h.calls = append(h.calls, "html:"+recipient)
	return strings.ReplaceAll(body, "MARKER", "html-"+recipient)
}

func (h *markerHook) RewriteText(recipient, body string) string {
	h.calls = append(h.calls, "text:"+recipient)
	return body + "\n-- " + recipient
}

func getTestMailConfig() *config.MailConfig {
	return &config.MailConfig{
		Host:        "localhost",
		Port:        587,
		Encryption:  "none",
		FromAddress: "noreply@forum.example",
		FromName:    "Test Forum",
	}
}

func partContents(t *testing.T, msg *mail.Msg) map[mail.ContentType]string {
	t.Helper()
	contents := make(map[mail.ContentType]string)
	for _, part := range msg.GetParts() {
		content, err := part.GetContent()
		require.NoError(t, err)
		contents[part.GetContentType()] = string(content)
	}
	return contents
}

func TestNewService(t *testing.T) {
	t.Run("valid configuration with mock client", func(t *testing.T) {
		cfg := getTestMailConfig()
		mockClient := &MockMailClient{}

		service, err := NewServiceWithClient(cfg, nil, mockClient)

		require.NoError(t, err)
		assert.Equal(t, cfg, service.config)
		assert.Equal(t, mockClient, service.client)
		assert.NotNil(t, service.htmlTemplates.Lookup("email_login.html"))
		assert.NotNil(t, service.textTemplates.Lookup("email_login.txt"))
	})

	t.Run("with logger", func(t *testing.T) {
		logger, err := logging.NewService(logging.Config{Level: logging.Info, Format: "json", OutputPath: "stdout"})
		require.NoError(t, err)

		service, err := NewServiceWithClient(getTestMailConfig(), logger, &MockMailClient{})

		require.NoError(t, err)
		assert.Equal(t, logger, service.logger)
	})

	t.Run("missing from address", func(t *testing.T) {
		cfg := getTestMailConfig()
		cfg.FromAddress = ""

		service, err := NewServiceWithClient(cfg, nil, &MockMailClient{})

		require.Error(t, err)
		assert.Nil(t, service)
		assert.Contains(t, err.Error(), "MAIL_FROM_ADDRESS is required")
	})

	t.Run("real client", func(t *testing.T) {
		service, err := NewService(getTestMailConfig(), nil)

		require.NoError(t, err)
		assert.NotNil(t, service.client)
	})

	t.Run("template directory overrides embedded templates", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "email_login.txt"), []byte("custom {{.LoginURL}}"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "welcome.html"), []byte("<p>hi</p>"), 0o644))

		cfg := getTestMailConfig()
		cfg.TemplatesDir = dir
		mockClient := &MockMailClient{}
		service, err := NewServiceWithClient(cfg, nil, mockClient)
		require.NoError(t, err)

		msg, err := service.Compose("email_login", []string{"alice@example.com"}, "Log in", TemplateData{"LoginURL": "https://forum.example/x"})
		require.NoError(t, err)
		assert.Equal(t, "custom https://forum.example/x", partContents(t, msg)[mail.TypeTextPlain])

		_, err = service.Compose("welcome", []string{"alice@example.com"}, "Hi", nil)
		assert.NoError(t, err)
	})
}

func TestService_Compose(t *testing.T) {
	data := TemplateData{
		"Username":  "alice",
		"SiteName":  "Test Forum",
		"SiteURL":   "https://forum.example",
		"LoginURL":  "https://forum.example/session/email-login/abc",
		"ExpiresIn": "1h0m0s",
	}

	t.Run("renders html and text alternatives", func(t *testing.T) {
		service, err := NewServiceWithClient(getTestMailConfig(), nil, &MockMailClient{})
		require.NoError(t, err)

		msg, err := service.Compose("email_login", []string{"alice@example.com"}, "Log in to Test Forum", data)
		require.NoError(t, err)

		contents := partContents(t, msg)
		assert.Contains(t, contents[mail.TypeTextHTML], `href="https://forum.example/session/email-login/abc"`)
		assert.Contains(t, contents[mail.TypeTextPlain], "https://forum.example/session/email-login/abc")
		assert.Contains(t, contents[mail.TypeTextPlain], "Hello alice")
		assert.Equal(t, []string{"Log in to Test Forum"}, msg.GetGenHeader(mail.HeaderSubject))
	})

	t.Run("unknown template", func(t *testing.T) {
		service, err := NewServiceWithClient(getTestMailConfig(), nil, &MockMailClient{})
		require.NoError(t, err)

		_, err = service.Compose("nope", []string{"alice@example.com"}, "x", nil)
		assert.ErrorContains(t, err, "template 'nope' not found")
	})

	t.Run("invalid recipient", func(t *testing.T) {
		service, err := NewServiceWithClient(getTestMailConfig(), nil, &MockMailClient{})
		require.NoError(t, err)

		_, err = service.Compose("email_login", []string{"not an address"}, "x", data)
		assert.Error(t, err)
	})

	t.Run("compose hooks see the single recipient", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "note.html"), []byte("<p>MARKER</p>"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("note"), 0o644))

		cfg := getTestMailConfig()
		cfg.TemplatesDir = dir
		service, err := NewServiceWithClient(cfg, nil, &MockMailClient{})
		require.NoError(t, err)

		hook := &markerHook{}
		service.AddComposeHook(hook)

		msg, err := service.Compose("note", []string{"bob@example.com"}, "Note", nil)
		require.NoError(t, err)

		contents := partContents(t, msg)
		assert.Contains(t, contents[mail.TypeTextHTML], "html-bob@example.com")
		assert.Equal(t, "note\n-- bob@example.com", contents[mail.TypeTextPlain])
		assert.Equal(t, []string{"html:bob@example.com", "text:bob@example.com"}, hook.calls)
	})

	t.Run("compose hooks skip multiple recipients", func(t *testing.T) {
		service, err := NewServiceWithClient(getTestMailConfig(), nil, &MockMailClient{})
		require.NoError(t, err)

		hook := &markerHook{}
		service.AddComposeHook(hook)

		_, err = service.Compose("email_login", []string{"a@example.com", "b@example.com"}, "x", data)
		require.NoError(t, err)
		assert.Empty(t, hook.calls)
	})
}

func TestService_SendTemplate(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers through the client", func(t *testing.T) {
		mockClient := &MockMailClient{}
		service, err := NewServiceWithClient(getTestMailConfig(), nil, mockClient)
		require.NoError(t, err)

		err = service.SendTemplate(ctx, "email_login", []string{"alice@example.com"}, "Log in", TemplateData{"Username": "alice"})
		require.NoError(t, err)

		sent := mockClient.Sent()
		require.Len(t, sent, 1)
		to := sent[0].GetToString()
		assert.Equal(t, []string{"<alice@example.com>"}, to)
	})

	t.Run("client failure", func(t *testing.T) {
		mockClient := &MockMailClient{sendFunc: func(*mail.Msg) error { return errors.New("smtp down") }}
		service, err := NewServiceWithClient(getTestMailConfig(), nil, mockClient)
		require.NoError(t, err)

		err = service.SendTemplate(ctx, "email_login", []string{"alice@example.com"}, "Log in", nil)
		assert.EqualError(t, err, "smtp down")
	})
}
