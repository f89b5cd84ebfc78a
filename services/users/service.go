package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/thoka/discourse-login-helper/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidTimezone = errors.New("invalid timezone")
)

type Service struct {
	db     *gorm.DB
	logger *logging.Service
}

func NewService(db *gorm.DB, logger *logging.Service) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

func (s *Service) Create(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindByUsernameOrEmail resolves a login hint to a human account. Hints
// containing "@" match the email address, anything else the username, both
// case-insensitively.
func (s *Service) FindByUsernameOrEmail(ctx context.Context, login string) (*User, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return nil, ErrUserNotFound
	}

	column := "username"
	if strings.Contains(login, "@") {
		column = "email"
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("LOWER("+column+") = ? AND bot = ?", login, false).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		if s.logger != nil {
			s.logger.Error("failed to look up user", zap.Error(err))
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	return &user, nil
}

func (s *Service) FindByID(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// UpdateTimezoneIfMissing stores tz only when the user has none yet and
// reports whether it did.
func (s *Service) UpdateTimezoneIfMissing(ctx context.Context, id uint, tz string) (bool, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return false, nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}

	result := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND (timezone IS NULL OR timezone = '')", id).
		Update("timezone", tz)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update timezone: %w", result.Error)
	}

	if result.RowsAffected > 0 && s.logger != nil {
		s.logger.Debug("user timezone set", zap.Uint("user_id", id), zap.String("timezone", tz))
	}
	return result.RowsAffected > 0, nil
}
