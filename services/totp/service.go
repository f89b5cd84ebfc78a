package totp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/thoka/discourse-login-helper/config"
	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrTOTPDisabled    = errors.New("TOTP is disabled")
	ErrInvalidCode     = errors.New("invalid TOTP code")
	ErrSecretNotFound  = errors.New("TOTP secret not found for user")
	ErrCodeAlreadyUsed = errors.New("TOTP code has already been used")
)

// replayWindow covers the validation skew of one period either side.
const replayWindow = 90 * time.Second

var validateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Service verifies second factor codes against secrets the host enrolled.
// Enrollment itself stays with the host.
type Service struct {
	config *config.Config
	db     *gorm.DB
	logger *logging.Service
	now    func() time.Time
}

func NewService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Service {
	if logger != nil {
		logger.Info("initializing TOTP service",
			zap.Bool("enabled", cfg.TOTP.Enabled))
	}

	return &Service{
		config: cfg,
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock replaces time.Now, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) getSecret(ctx context.Context, userID uint) (*TOTPSecret, error) {
	var secret TOTPSecret
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&secret).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("failed to retrieve TOTP secret: %w", err)
	}
	return &secret, nil
}

// IsEnabled reports whether userID must present a second factor.
func (s *Service) IsEnabled(ctx context.Context, userID uint) (bool, error) {
	if !s.config.TOTP.Enabled {
		return false, nil
	}

	secret, err := s.getSecret(ctx, userID)
	if errors.Is(err, ErrSecretNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return secret.Enabled, nil
}

// VerifyCode checks code against the user's enabled secret and records it,
// rejecting a code already accepted within the replay window.
func (s *Service) VerifyCode(ctx context.Context, userID uint, code string) error {
	if !s.config.TOTP.Enabled {
		return ErrTOTPDisabled
	}

	secret, err := s.getSecret(ctx, userID)
	if err != nil {
		return err
	}
	if !secret.Enabled {
		return ErrSecretNotFound
	}

	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cutoff := now.Add(-replayWindow).Unix()

		var count int64
		if err := tx.Model(&UsedCode{}).
			Where("user_id = ? AND code = ? AND used_at > ?", userID, code, cutoff).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check used codes: %w", err)
		}
		if count > 0 {
			if s.logger != nil {
				s.logger.Warn("TOTP verification failed - code already used", zap.Uint("user_id", userID))
			}
			return ErrCodeAlreadyUsed
		}

		valid, err := totp.ValidateCustom(code, secret.Secret, now, validateOpts)
		if err != nil || !valid {
			if s.logger != nil {
				s.logger.Warn("TOTP verification failed - invalid code", zap.Uint("user_id", userID))
			}
			return ErrInvalidCode
		}

		if err := tx.Create(&UsedCode{UserID: userID, Code: code, UsedAt: now.Unix()}).Error; err != nil {
			return fmt.Errorf("failed to store used code: %w", err)
		}

		if s.logger != nil {
			s.logger.Info("TOTP code verified", zap.Uint("user_id", userID))
		}
		return nil
	})
}

func (s *Service) CleanupUsedCodes(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-replayWindow).Unix()
	result := s.db.WithContext(ctx).Where("used_at < ?", cutoff).Delete(&UsedCode{})
	if result.Error != nil {
		if s.logger != nil {
			s.logger.Error("failed to cleanup used TOTP codes", zap.Error(result.Error))
		}
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
