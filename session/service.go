package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/thoka/discourse-login-helper/services/logging"
	"github.com/thoka/discourse-login-helper/services/logintoken"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Tracker records which sessions were opened through email login. Only a
// digest of the session token is kept.
type Tracker struct {
	db     *gorm.DB
	logger *logging.Service
	now    func() time.Time
}

func NewTracker(db *gorm.DB, logger *logging.Service) *Tracker {
	return &Tracker{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

func digestToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (t *Tracker) Track(ctx context.Context, userID uint, token, method string, client ClientInfo, expiresAt time.Time) error {
	record := UserSession{
		UserID:      userID,
		TokenDigest: digestToken(token),
		Method:      method,
		IPAddress:   client.IPAddress,
		Device:      logintoken.DescribeDevice(client.UserAgent),
		CreatedAt:   t.now(),
		ExpiresAt:   expiresAt,
	}

	if err := t.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to track session: %w", err)
	}
	return nil
}

func (t *Tracker) UserSessions(ctx context.Context, userID uint, currentToken string) ([]UserSession, error) {
	var sessions []UserSession
	err := t.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, t.now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	if currentToken != "" {
		current := digestToken(currentToken)
		for i := range sessions {
			sessions[i].Current = sessions[i].TokenDigest == current
		}
	}
	return sessions, nil
}

func (t *Tracker) Forget(ctx context.Context, token string) error {
	return t.db.WithContext(ctx).Where("token_digest = ?", digestToken(token)).Delete(&UserSession{}).Error
}

func (t *Tracker) CleanupExpired(ctx context.Context) (int64, error) {
	result := t.db.WithContext(ctx).Where("expires_at < ?", t.now()).Delete(&UserSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", result.Error)
	}
	if result.RowsAffected > 0 && t.logger != nil {
		t.logger.Info("expired session records removed", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}
