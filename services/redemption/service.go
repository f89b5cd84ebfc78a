package redemption

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/thoka/discourse-login-helper/services/logintoken"
	"github.com/thoka/discourse-login-helper/services/users"
	"go.uber.org/zap"
)

// Outcomes reported to the Observer.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalid      = "invalid_token"
	OutcomeConsumed     = "already_consumed"
	OutcomeIneligible   = "ineligible"
	OutcomeSecondFactor = "second_factor"
	OutcomeFailed       = "failed"
)

const ReasonInvalidCode = "invalid_second_factor_code"

type TokenRedeemer interface {
	Validate(ctx context.Context, token string, scope logintoken.Scope) (*logintoken.LoginToken, error)
	Consume(ctx context.Context, token string, scope logintoken.Scope) (*logintoken.LoginToken, error)
}

type Accounts interface {
	FindByID(ctx context.Context, id uint) (*users.User, error)
	UpdateTimezoneIfMissing(ctx context.Context, id uint, tz string) (bool, error)
}

type SecondFactor interface {
	IsEnabled(ctx context.Context, userID uint) (bool, error)
	VerifyCode(ctx context.Context, userID uint, code string) error
}

// Sessions logs a user into the session bound to ctx.
type Sessions interface {
	LogIn(ctx context.Context, userID uint) error
}

type Observer interface {
	ObserveRedemption(outcome string)
}

type RedeemRequest struct {
	Token              string
	SecondFactorToken  string
	SecondFactorMethod string
	Timezone           string
}

type Redemption struct {
	User           *users.User
	DestinationURL string
}

// Preflight describes a token without consuming it.
type Preflight struct {
	CanLogin             bool
	SecondFactorRequired bool
	User                 *users.User
}

type Service struct {
	config       *config.Config
	tokens       TokenRedeemer
	accounts     Accounts
	secondFactor SecondFactor
	sessions     Sessions
	logger       *logging.Service
	observer     Observer
	now          func() time.Time
}

func NewService(cfg *config.Config, tokens TokenRedeemer, accounts Accounts, secondFactor SecondFactor, sessions Sessions, logger *logging.Service) *Service {
	return &Service{
		config:       cfg,
		tokens:       tokens,
		accounts:     accounts,
		secondFactor: secondFactor,
		sessions:     sessions,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) SetObserver(observer Observer) {
	s.observer = observer
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveRedemption(outcome)
	}
}

// Redeem turns a mailed token into a logged-in session. Eligibility and the
// second factor are checked before the token is consumed; approval and
// read-only mode are checked after, as the host does.
func (s *Service) Redeem(ctx context.Context, req RedeemRequest) (*Redemption, error) {
	token, user, err := s.resolve(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	if err := s.checkSecondFactor(ctx, user, req.SecondFactorToken); err != nil {
		return nil, err
	}

	consumed, err := s.tokens.Consume(ctx, req.Token, logintoken.ScopeEmailLogin)
	if err != nil {
		switch {
		case errors.Is(err, logintoken.ErrTokenConsumed):
			s.observe(OutcomeConsumed)
			return nil, fmt.Errorf("%w: %w", ErrAlreadyConsumed, err)
		case errors.Is(err, logintoken.ErrTokenExpired), errors.Is(err, logintoken.ErrTokenNotFound):
			s.observe(OutcomeInvalid)
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		default:
			s.observe(OutcomeFailed)
			return nil, fmt.Errorf("failed to consume login token: %w", err)
		}
	}

	lh := s.config.LoginHelper
	if lh.MustApproveUsers && !user.Approved && !user.Staff {
		s.observe(OutcomeIneligible)
		return nil, ErrNotApproved
	}
	if lh.StaffWritesOnly && !user.Staff {
		s.observe(OutcomeIneligible)
		return nil, ErrReadOnlyMode
	}

	s.backfillTimezone(ctx, user, req.Timezone)

	if s.sessions != nil {
		if err := s.sessions.LogIn(ctx, user.ID); err != nil {
			s.observe(OutcomeFailed)
			return nil, fmt.Errorf("failed to establish session: %w", err)
		}
	}

	if s.logger != nil {
		s.logger.Info("email login redeemed",
			zap.Uint("user_id", user.ID),
			zap.Uint("token_id", consumed.ID),
			zap.String("destination_url", consumed.DestinationURL))
	}

	s.observe(OutcomeSuccess)
	return &Redemption{
		User:           user,
		DestinationURL: destinationOf(token, consumed),
	}, nil
}

// Inspect answers whether a token could be redeemed and whether a second
// factor will be asked for.
func (s *Service) Inspect(ctx context.Context, rawToken string) (*Preflight, error) {
	_, user, err := s.resolve(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	required, err := s.secondFactorEnabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &Preflight{
		CanLogin:             true,
		SecondFactorRequired: required,
		User:                 user,
	}, nil
}

func (s *Service) resolve(ctx context.Context, rawToken string) (*logintoken.LoginToken, *users.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		s.observe(OutcomeInvalid)
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidToken, logintoken.ErrTokenNotFound)
	}

	token, err := s.tokens.Validate(ctx, rawToken, logintoken.ScopeEmailLogin)
	if err != nil {
		if errors.Is(err, logintoken.ErrTokenConsumed) {
			s.observe(OutcomeConsumed)
			return nil, nil, fmt.Errorf("%w: %w", ErrAlreadyConsumed, err)
		}
		if errors.Is(err, logintoken.ErrTokenNotFound) ||
			errors.Is(err, logintoken.ErrTokenExpired) {
			s.observe(OutcomeInvalid)
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		s.observe(OutcomeFailed)
		return nil, nil, fmt.Errorf("failed to look up login token: %w", err)
	}

	user, err := s.accounts.FindByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			s.observe(OutcomeInvalid)
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		s.observe(OutcomeFailed)
		return nil, nil, fmt.Errorf("failed to load token owner: %w", err)
	}

	if err := s.checkEligibility(user); err != nil {
		s.observe(OutcomeIneligible)
		if s.logger != nil {
			s.logger.Info("email login refused",
				zap.Uint("user_id", user.ID),
				zap.Error(err))
		}
		return nil, nil, err
	}

	return token, user, nil
}

func (s *Service) checkEligibility(user *users.User) error {
	if !s.config.LoginHelper.LocalEmailLoginEnabled || !user.IsPresent() {
		return ErrLocalLoginDisabled
	}
	if !user.Active {
		return ErrNotActivated
	}
	if user.IsSuspended(s.now()) {
		return ErrSuspended
	}
	return nil
}

func (s *Service) secondFactorEnabled(ctx context.Context, userID uint) (bool, error) {
	if s.secondFactor == nil {
		return false, nil
	}
	enabled, err := s.secondFactor.IsEnabled(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check second factor: %w", err)
	}
	return enabled, nil
}

func (s *Service) checkSecondFactor(ctx context.Context, user *users.User, code string) error {
	required, err := s.secondFactorEnabled(ctx, user.ID)
	if err != nil {
		s.observe(OutcomeFailed)
		return err
	}
	if !required {
		return nil
	}

	code = strings.TrimSpace(code)
	if code == "" {
		s.observe(OutcomeSecondFactor)
		return &SecondFactorError{UserID: user.ID}
	}

	if err := s.secondFactor.VerifyCode(ctx, user.ID, code); err != nil {
		s.observe(OutcomeSecondFactor)
		if s.logger != nil {
			s.logger.Warn("second factor rejected", zap.Uint("user_id", user.ID), zap.Error(err))
		}
		return &SecondFactorError{
			UserID:    user.ID,
			Attempted: true,
			Reason:    ReasonInvalidCode,
			Cause:     err,
		}
	}
	return nil
}

func (s *Service) backfillTimezone(ctx context.Context, user *users.User, tz string) {
	if strings.TrimSpace(tz) == "" {
		return
	}
	updated, err := s.accounts.UpdateTimezoneIfMissing(ctx, user.ID, tz)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("timezone not stored", zap.Uint("user_id", user.ID), zap.Error(err))
		}
		return
	}
	if updated {
		user.Timezone = strings.TrimSpace(tz)
	}
}

func destinationOf(validated, consumed *logintoken.LoginToken) string {
	if consumed != nil && consumed.DestinationURL != "" {
		return consumed.DestinationURL
	}
	if validated != nil && validated.DestinationURL != "" {
		return validated.DestinationURL
	}
	return "/"
}
