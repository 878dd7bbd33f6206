package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists per-user feature quota rows. Methods take the database
// handle so callers control transaction scope.
type Repository interface {
	// EnsureUsage inserts the given usage rows, skipping any that already
	// exist for their (user, feature) pair.
	EnsureUsage(ctx context.Context, db *gorm.DB, rows []FeatureUsage) error

	// ConsumeFeature decrements one unit iff remaining > 0 and reports
	// whether the decrement happened.
	ConsumeFeature(ctx context.Context, db *gorm.DB, userID snowflake.ID, feature Feature, at time.Time) (bool, error)

	// ResetAll sets every usage row for the user back to the allowance.
	ResetAll(ctx context.Context, db *gorm.DB, userID snowflake.ID, allowance int64, at time.Time) error

	// AddRemaining adds amount to every usage row for the user without
	// touching last_reset_at.
	AddRemaining(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, at time.Time) error

	ListUsage(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]FeatureUsage, error)
	Remaining(ctx context.Context, db *gorm.DB, userID snowflake.ID, feature Feature) (int64, error)
}

// Service is the gate surface consumed by the HTTP layer.
type Service interface {
	// CheckAndConsume runs the gate for one feature use, consuming whichever
	// entitlement bucket satisfies it.
	CheckAndConsume(ctx context.Context, userID snowflake.ID, feature Feature) (*Decision, error)

	// Preview reports current balances without consuming anything.
	Preview(ctx context.Context, userID snowflake.ID) (*UsageSummary, error)
}
