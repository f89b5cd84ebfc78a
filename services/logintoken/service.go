package logintoken

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mileusna/useragent"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

var (
	ErrTokenNotFound = errors.New("login token not found")
	ErrTokenExpired  = errors.New("login token has expired")
	ErrTokenConsumed = errors.New("login token has already been used")
)

type CreateParams struct {
	UserID         uint
	Scope          Scope
	DestinationURL string
	TTL            time.Duration
	RequestIP      string
	UserAgent      string
}

type Service struct {
	db          *gorm.DB
	logger      *logging.Service
	tokenLength int
	defaultTTL  time.Duration
	now         func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Service {
	return &Service{
		db:          db,
		logger:      logger,
		tokenLength: cfg.LoginHelper.TokenLength,
		defaultTTL:  cfg.LoginHelper.TokenTTL,
		now:         time.Now,
	}
}

// SetClock replaces time.Now, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) generateSecureToken() (string, error) {
	bytes := make([]byte, s.tokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// HashToken is the at-rest form of a bearer token.
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Service) Create(ctx context.Context, params CreateParams) (*LoginToken, error) {
	if params.Scope == "" {
		params.Scope = ScopeEmailLogin
	}
	if params.TTL <= 0 {
		params.TTL = s.defaultTTL
	}
	if params.DestinationURL == "" {
		params.DestinationURL = "/"
	}

	token, err := s.generateSecureToken()
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to generate login token", zap.Error(err), zap.Uint("user_id", params.UserID))
		}
		return nil, err
	}

	now := s.now().UTC()
	loginToken := &LoginToken{
		UserID:         params.UserID,
		TokenHash:      HashToken(token),
		Scope:          params.Scope,
		DestinationURL: params.DestinationURL,
		RequestIP:      params.RequestIP,
		RequestDevice:  DescribeDevice(params.UserAgent),
		CreatedAt:      now,
		ExpiresAt:      now.Add(params.TTL),
	}

	if err := s.db.WithContext(ctx).Create(loginToken).Error; err != nil {
		if s.logger != nil {
			s.logger.Error("failed to store login token", zap.Error(err), zap.Uint("user_id", params.UserID))
		}
		return nil, fmt.Errorf("failed to create login token: %w", err)
	}

	loginToken.Token = token

	if s.logger != nil {
		s.logger.Info("login token created",
			zap.Uint("user_id", params.UserID),
			zap.String("scope", string(params.Scope)),
			zap.String("request_ip", params.RequestIP),
			zap.Time("expires_at", loginToken.ExpiresAt))
	}
	return loginToken, nil
}

// Find looks a token up by credential and scope regardless of its state.
func (s *Service) Find(ctx context.Context, token string, scope Scope) (*LoginToken, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}

	var loginToken LoginToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND scope = ?", HashToken(token), scope).
		First(&loginToken).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		if s.logger != nil {
			s.logger.Error("database error during login token lookup", zap.Error(err))
		}
		return nil, fmt.Errorf("failed to find login token: %w", err)
	}

	return &loginToken, nil
}

// Validate is Find plus the redeemability check, without consuming.
func (s *Service) Validate(ctx context.Context, token string, scope Scope) (*LoginToken, error) {
	loginToken, err := s.Find(ctx, token, scope)
	if err != nil {
		return nil, err
	}
	return loginToken, s.stateError(loginToken)
}

func (s *Service) stateError(loginToken *LoginToken) error {
	if loginToken.ConsumedAt != nil {
		return ErrTokenConsumed
	}
	if s.now().After(loginToken.ExpiresAt) {
		return ErrTokenExpired
	}
	return nil
}

// Consume marks the token used with a single conditional UPDATE. Of any
// number of concurrent callers exactly one succeeds; the rest see
// ErrTokenConsumed.
func (s *Service) Consume(ctx context.Context, token string, scope Scope) (*LoginToken, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}

	now := s.now().UTC()
	hash := HashToken(token)

	result := s.db.WithContext(ctx).Model(&LoginToken{}).
		Where("token_hash = ? AND scope = ? AND consumed_at IS NULL AND expires_at >= ?", hash, scope, now).
		Update("consumed_at", now)
	if result.Error != nil {
		if s.logger != nil {
			s.logger.Error("failed to consume login token", zap.Error(result.Error))
		}
		return nil, fmt.Errorf("failed to consume login token: %w", result.Error)
	}

	loginToken, err := s.Find(ctx, token, scope)
	if err != nil {
		return nil, err
	}

	if result.RowsAffected == 0 {
		stateErr := s.stateError(loginToken)
		if stateErr == nil {
			// lost a race against a concurrent consume that committed after our UPDATE
			stateErr = ErrTokenConsumed
		}
		if s.logger != nil {
			s.logger.Warn("login token rejected",
				zap.Uint("user_id", loginToken.UserID),
				zap.Error(stateErr))
		}
		return nil, stateErr
	}

	if s.logger != nil {
		s.logger.Info("login token consumed", zap.Uint("user_id", loginToken.UserID))
	}
	return loginToken, nil
}

func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at < ?", s.now().UTC()).Delete(&LoginToken{})
	if result.Error != nil {
		if s.logger != nil {
			s.logger.Error("failed to cleanup expired login tokens", zap.Error(result.Error))
		}
		return 0, fmt.Errorf("failed to cleanup expired login tokens: %w", result.Error)
	}

	if s.logger != nil && result.RowsAffected > 0 {
		s.logger.Info("expired login tokens cleaned up", zap.Int64("deleted_count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// DescribeDevice summarises a user agent for audit records.
func DescribeDevice(userAgent string) string {
	if userAgent == "" {
		return "Unknown device"
	}

	ua := useragent.Parse(userAgent)

	browser := "Unknown browser"
	if ua.Name != "" {
		browser = ua.Name
		if ua.Version != "" {
			browser += " " + ua.Version
		}
	}

	if ua.OS == "" {
		return browser
	}
	return browser + " on " + ua.OS
}
