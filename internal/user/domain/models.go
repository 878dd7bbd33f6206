// Package domain contains the user record and its embedded entitlement snapshot.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User carries the entitlement snapshot alongside referral state. The
// subscription fields mirror the authoritative Subscription record and are
// eventually consistent with it.
type User struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Email       string       `gorm:"type:text;not null"`
	InviteCode  string       `gorm:"type:text;not null;uniqueIndex"`
	InvitedBy   *snowflake.ID
	InviteCount int64 `gorm:"not null;default:0"`

	PremiumCredits   int64 `gorm:"not null;default:0"`
	PremiumExpiresAt *time.Time

	SubscriptionStatus    *string `gorm:"type:text"`
	SubscriptionPeriodEnd *time.Time
	CancelAtPeriodEnd     bool `gorm:"not null;default:false"`

	BillingCustomerID *string `gorm:"type:text;index"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// PremiumActiveAt reports whether the time-based premium window covers t.
func (u *User) PremiumActiveAt(t time.Time) bool {
	return u.PremiumExpiresAt != nil && u.PremiumExpiresAt.After(t)
}
