package users

import (
	"time"
)

// User is the forum account as far as email login needs to know it.
type User struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	Username       string     `json:"username" gorm:"uniqueIndex;size:60;not null"`
	Email          string     `json:"email" gorm:"uniqueIndex;size:254;not null"`
	Active         bool       `json:"active" gorm:"not null;default:false"`
	Approved       bool       `json:"approved" gorm:"not null;default:false"`
	Staged         bool       `json:"staged" gorm:"not null;default:false"`
	Bot            bool       `json:"bot" gorm:"not null;default:false"`
	Staff          bool       `json:"staff" gorm:"not null;default:false"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
	Timezone       string     `json:"timezone" gorm:"size:64"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) IsHuman() bool {
	return !u.Bot
}

// IsPresent is true for accounts that may receive a login mail.
func (u *User) IsPresent() bool {
	return u.IsHuman() && !u.Staged
}

func (u *User) IsSuspended(now time.Time) bool {
	return u.SuspendedUntil != nil && now.Before(*u.SuspendedUntil)
}
