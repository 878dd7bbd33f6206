package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists subscriptions, event receipts and top-up grants.
// Methods take the database handle so services control transaction scope.
type Repository interface {
	// InsertEvent records the receipt for a delivered event. It reports
	// false when a receipt with the same (provider, provider_event_id)
	// already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, rec *EventRecord) (bool, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error

	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	UpdateSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByProviderSubscriptionID(ctx context.Context, db *gorm.DB, providerSubID string) (*Subscription, error)
	FindCurrentByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID, statuses []SubscriptionStatus) (*Subscription, error)
	HasAnySubscription(ctx context.Context, db *gorm.DB, userID snowflake.ID) (bool, error)

	// CancelOthers marks every non-canceled subscription for the user except
	// keepProviderSubID as canceled. It returns the count affected.
	CancelOthers(ctx context.Context, db *gorm.DB, userID snowflake.ID, keepProviderSubID string, at time.Time) (int64, error)

	// ListLapsed returns non-canceled subscriptions whose period end plus the
	// grace duration is before now.
	ListLapsed(ctx context.Context, db *gorm.DB, now time.Time, grace time.Duration, limit int) ([]Subscription, error)
	MarkLapsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error

	// ListAbandoned returns incomplete subscriptions created before the
	// cutoff; these never activated and carry no history worth keeping.
	ListAbandoned(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	// InsertTopUpGrant reports false when the checkout session was already
	// granted.
	InsertTopUpGrant(ctx context.Context, db *gorm.DB, grant *TopUpGrant) (bool, error)
}
