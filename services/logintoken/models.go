package logintoken

import (
	"time"
)

type Scope string

const ScopeEmailLogin Scope = "email_login"

// LoginToken is a single-use bearer credential. Only the digest of the
// credential is persisted; Token is filled in once, by Create.
type LoginToken struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	UserID         uint       `json:"user_id" gorm:"index;not null"`
	TokenHash      string     `json:"-" gorm:"uniqueIndex;size:64;not null"`
	Scope          Scope      `json:"scope" gorm:"size:32;index;not null"`
	DestinationURL string     `json:"destination_url" gorm:"size:2048"`
	RequestIP      string     `json:"request_ip" gorm:"size:64"`
	RequestDevice  string     `json:"request_device" gorm:"size:255"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at" gorm:"index;not null"`
	ConsumedAt     *time.Time `json:"consumed_at,omitempty"`

	Token string `json:"-" gorm:"-"`
}

func (LoginToken) TableName() string {
	return "login_tokens"
}

// Redeemable reports whether the token is unconsumed and not past its expiry.
func (t *LoginToken) Redeemable(now time.Time) bool {
	return t.ConsumedAt == nil && !now.After(t.ExpiresAt)
}
