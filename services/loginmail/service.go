package loginmail

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/thoka/discourse-login-helper/services/logintoken"
	"github.com/thoka/discourse-login-helper/services/mail"
	"github.com/thoka/discourse-login-helper/services/ratelimit"
	"github.com/thoka/discourse-login-helper/services/users"
	"go.uber.org/zap"
)

var (
	ErrFeatureDisabled      = errors.New("email login is disabled")
	ErrAlreadyAuthenticated = errors.New("already logged in")
	ErrLoginRequired        = errors.New("login parameter is required")
	ErrUserNotFound         = errors.New("no account matches this login")
)

const EmailLoginTemplate = "email_login"

// Outcomes reported to the Observer.
const (
	OutcomeIssued      = "issued"
	OutcomeSuppressed  = "suppressed"
	OutcomeRateLimited = "rate_limited"
	OutcomeDisabled    = "disabled"
	OutcomeFailed      = "failed"
)

type Limiter interface {
	CheckTiers(ctx context.Context, subject string, tiers ...ratelimit.Tier) error
}

type UserLookup interface {
	FindByUsernameOrEmail(ctx context.Context, login string) (*users.User, error)
}

type TokenIssuer interface {
	Create(ctx context.Context, params logintoken.CreateParams) (*logintoken.LoginToken, error)
}

type Dispatcher interface {
	Enqueue(job mail.Job) (string, error)
}

type Observer interface {
	ObserveLoginRequest(outcome string)
}

// BeforeEmailLogin runs for a present user right before a token is minted.
type BeforeEmailLogin func(ctx context.Context, user *users.User)

type Request struct {
	Login          string
	DestinationURL string
	CallerAddress  string
	UserAgent      string
	Authenticated  bool
}

// Result is identical in shape whether or not a mail was sent; Issued is for
// logging and tests only and must not reach the response.
type Result struct {
	Login          string
	DestinationURL string
	Issued         bool
}

type Service struct {
	config     *config.Config
	limiter    Limiter
	users      UserLookup
	tokens     TokenIssuer
	dispatcher Dispatcher
	logger     *logging.Service
	observer   Observer
	hooks      []BeforeEmailLogin
	baseHost   string
}

func NewService(cfg *config.Config, limiter Limiter, lookup UserLookup, tokens TokenIssuer, dispatcher Dispatcher, logger *logging.Service) (*Service, error) {
	baseHost, err := cfg.BaseHost()
	if err != nil {
		return nil, err
	}

	return &Service{
		config:     cfg,
		limiter:    limiter,
		users:      lookup,
		tokens:     tokens,
		dispatcher: dispatcher,
		logger:     logger,
		baseHost:   baseHost,
	}, nil
}

func (s *Service) SetObserver(observer Observer) {
	s.observer = observer
}

func (s *Service) OnBeforeEmailLogin(hook BeforeEmailLogin) {
	s.hooks = append(s.hooks, hook)
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveLoginRequest(outcome)
	}
}

func (s *Service) Enabled() bool {
	return s.config.LoginHelper.Enabled && s.config.LoginHelper.LocalEmailLoginEnabled
}

func (s *Service) ipTiers() []ratelimit.Tier {
	lh := s.config.LoginHelper
	return []ratelimit.Tier{
		{Name: "email-login:min", Limit: lh.IPPerMinute, Period: time.Minute},
		{Name: "email-login:hour", Limit: lh.IPPerHour, Period: time.Hour},
	}
}

func (s *Service) userTiers() []ratelimit.Tier {
	lh := s.config.LoginHelper
	return []ratelimit.Tier{
		{Name: "email-login:min", Limit: lh.UserPerMinute, Period: time.Minute},
		{Name: "email-login:hour", Limit: lh.UserPerHour, Period: time.Hour},
	}
}

// RequestLogin mints a login token for the account named by req.Login and
// queues the login mail. A login that matches no present account yields the
// same Result as one that does, unless HideUserExistence is off.
func (s *Service) RequestLogin(ctx context.Context, req Request) (*Result, error) {
	if !s.Enabled() {
		s.observe(OutcomeDisabled)
		return nil, ErrFeatureDisabled
	}

	if req.Authenticated {
		return nil, ErrAlreadyAuthenticated
	}

	login := strings.TrimSpace(req.Login)
	if login == "" {
		return nil, ErrLoginRequired
	}

	result := &Result{
		Login:          login,
		DestinationURL: SanitizeDestination(req.DestinationURL, s.baseHost),
	}

	if err := s.limiter.CheckTiers(ctx, "ip:"+req.CallerAddress, s.ipTiers()...); err != nil {
		return nil, s.limitFailure(err, login, req.CallerAddress)
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, login)
	if err != nil && !errors.Is(err, users.ErrUserNotFound) {
		s.observe(OutcomeFailed)
		return nil, fmt.Errorf("failed to look up login: %w", err)
	}
	// Only human accounts can be looked up by a login hint.
	if user != nil && !user.IsHuman() {
		user = nil
	}

	if user != nil {
		subject := "user:" + strconv.FormatUint(uint64(user.ID), 10)
		if err := s.limiter.CheckTiers(ctx, subject, s.userTiers()...); err != nil {
			return nil, s.limitFailure(err, login, req.CallerAddress)
		}
	}

	if user == nil || !user.IsPresent() {
		if s.logger != nil {
			s.logger.Info("login mail suppressed",
				zap.String("login", login),
				zap.String("caller", req.CallerAddress))
		}
		s.observe(OutcomeSuppressed)
		if !s.config.LoginHelper.HideUserExistence {
			return nil, ErrUserNotFound
		}
		return result, nil
	}

	for _, hook := range s.hooks {
		hook(ctx, user)
	}

	token, err := s.tokens.Create(ctx, logintoken.CreateParams{
		UserID:         user.ID,
		Scope:          logintoken.ScopeEmailLogin,
		DestinationURL: result.DestinationURL,
		TTL:            s.config.LoginHelper.TokenTTL,
		RequestIP:      req.CallerAddress,
		UserAgent:      req.UserAgent,
	})
	if err != nil {
		s.observe(OutcomeFailed)
		return nil, fmt.Errorf("failed to issue login token: %w", err)
	}

	jobID, err := s.dispatcher.Enqueue(s.loginMail(user, token.Token))
	if err != nil {
		s.observe(OutcomeFailed)
		if s.logger != nil {
			s.logger.Error("failed to queue login mail",
				zap.String("login", login),
				zap.Uint("user_id", user.ID),
				zap.Error(err))
		}
		return nil, fmt.Errorf("failed to queue login mail: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("login mail queued",
			zap.String("login", login),
			zap.Uint("user_id", user.ID),
			zap.String("job_id", jobID),
			zap.String("destination_url", result.DestinationURL))
	}

	s.observe(OutcomeIssued)
	result.Issued = true
	return result, nil
}

func (s *Service) limitFailure(err error, login, caller string) error {
	if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		s.observe(OutcomeRateLimited)
		if s.logger != nil {
			s.logger.Warn("login mail rate limited",
				zap.String("login", login),
				zap.String("caller", caller),
				zap.Error(err))
		}
		return err
	}
	s.observe(OutcomeFailed)
	return fmt.Errorf("failed to apply rate limit: %w", err)
}

func (s *Service) loginMail(user *users.User, token string) mail.Job {
	return mail.Job{
		Template: EmailLoginTemplate,
		To:       []string{user.Email},
		Subject:  fmt.Sprintf("Log in to %s", s.config.App.Name),
		Data: mail.TemplateData{
			"Username":  user.Username,
			"SiteName":  s.config.App.Name,
			"SiteURL":   s.config.App.URL,
			"LoginURL":  LoginURL(s.config.App.URL, token),
			"ExpiresIn": s.config.LoginHelper.TokenTTL.String(),
		},
	}
}

// LoginURL is the redemption link mailed to the user.
func LoginURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/session/email-login/" + url.PathEscape(token)
}

// SanitizeDestination keeps destinations on the site: relative paths pass,
// absolute URLs only when they point at baseHost, everything else becomes "/".
func SanitizeDestination(destination, baseHost string) string {
	destination = strings.TrimSpace(destination)
	if destination == "" || strings.HasPrefix(destination, `/\`) || strings.ContainsAny(destination, "\r\n") {
		return "/"
	}

	u, err := url.Parse(destination)
	if err != nil {
		return "/"
	}

	if u.Scheme == "" && u.Host == "" {
		if !strings.HasPrefix(destination, "/") {
			return "/"
		}
		return destination
	}

	if (u.Scheme == "http" || u.Scheme == "https") && strings.EqualFold(u.Hostname(), baseHost) {
		return destination
	}
	return "/"
}
