package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user_not_found")

// Repository mutates the entitlement snapshot. Every write is a single
// conditional UPDATE so concurrent actors cannot lose updates; the boolean
// results report whether the guarding condition still held at write time.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByInviteCode(ctx context.Context, db *gorm.DB, code string) (*User, error)
	FindByBillingCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*User, error)

	// ConsumeCredit decrements premium_credits iff the balance is positive.
	ConsumeCredit(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	AddCredits(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) error

	// SetPremiumExpiry swaps the premium window deadline iff it still equals
	// observed (nil = no window set).
	SetPremiumExpiry(ctx context.Context, db *gorm.DB, id snowflake.ID, observed *time.Time, next time.Time, now time.Time) (bool, error)
	// ClearExpiredPremium nulls the window iff it is set and already past.
	ClearExpiredPremium(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// ClearAllExpiredPremium nulls every lapsed window and returns the count.
	ClearAllExpiredPremium(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)

	// MarkInvited records the inviter iff the user was never invited before.
	MarkInvited(ctx context.Context, db *gorm.DB, id, inviterID snowflake.ID, now time.Time) (bool, error)
	IncrementInviteCount(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error

	SetSubscriptionMirror(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, periodEnd *time.Time, cancelAtPeriodEnd bool, now time.Time) error
	ClearSubscriptionMirror(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	SetBillingCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) error
}
