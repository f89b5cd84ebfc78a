package session

import (
	"time"
)

// UserSession is the audit record of a session opened by an email login.
type UserSession struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UserID      uint      `json:"user_id" gorm:"not null;index"`
	TokenDigest string    `json:"-" gorm:"uniqueIndex;size:64;not null"`
	Method      string    `json:"method" gorm:"size:32;not null"`
	IPAddress   string    `json:"ip_address" gorm:"size:45"`
	Device      string    `json:"device" gorm:"size:255"`
	Current     bool      `json:"current" gorm:"-"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"index"`
}

func (UserSession) TableName() string {
	return "user_sessions"
}

// ClientInfo describes the caller of the request a session is bound to.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}
