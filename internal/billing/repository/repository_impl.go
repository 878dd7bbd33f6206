package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/vettedhq/entitlement-engine/internal/billing/domain"
	"github.com/vettedhq/entitlement-engine/pkg/db"
)

type repo struct{}

// Provide returns the billing repository.
func Provide() domain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, user_id, provider_subscription_id, provider_customer_id, status, plan_id, plan_name, price_id, current_period_start, current_period_end, cancel_at_period_end, canceled_at, trial_start, trial_end, metadata, created_at, updated_at`

func (r *repo) InsertEvent(ctx context.Context, tx *gorm.DB, rec *domain.EventRecord) (bool, error) {
	err := tx.WithContext(ctx).Exec(`
		INSERT INTO billing_events (id, provider, provider_event_id, event_type, user_id, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Provider, rec.ProviderEventID, rec.EventType, rec.UserID, rec.Payload, rec.ReceivedAt).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) error {
	return tx.WithContext(ctx).Exec(`
		UPDATE billing_events SET processed_at = ? WHERE id = ?
	`, at, id).Error
}

func (r *repo) InsertSubscription(ctx context.Context, tx *gorm.DB, sub *domain.Subscription) error {
	return tx.WithContext(ctx).Create(sub).Error
}

func (r *repo) UpdateSubscription(ctx context.Context, tx *gorm.DB, sub *domain.Subscription) error {
	return tx.WithContext(ctx).Exec(`
		UPDATE subscriptions
		SET status = ?, plan_id = ?, plan_name = ?, price_id = ?,
			current_period_start = ?, current_period_end = ?,
			cancel_at_period_end = ?, canceled_at = ?,
			trial_start = ?, trial_end = ?, updated_at = ?
		WHERE id = ?
	`, sub.Status, sub.PlanID, sub.PlanName, sub.PriceID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt,
		sub.TrialStart, sub.TrialEnd, sub.UpdatedAt,
		sub.ID).Error
}

func (r *repo) FindByProviderSubscriptionID(ctx context.Context, tx *gorm.DB, providerSubID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := tx.WithContext(ctx).Raw(`
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE provider_subscription_id = ?
	`, providerSubID).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindCurrentByUserID(ctx context.Context, tx *gorm.DB, userID snowflake.ID, statuses []domain.SubscriptionStatus) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := tx.WithContext(ctx).Raw(`
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = ? AND status IN ?
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, statuses).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) HasAnySubscription(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(`
		SELECT COUNT(1) FROM subscriptions WHERE user_id = ?
	`, userID).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) CancelOthers(ctx context.Context, tx *gorm.DB, userID snowflake.ID, keepProviderSubID string, at time.Time) (int64, error) {
	res := tx.WithContext(ctx).Exec(`
		UPDATE subscriptions
		SET status = ?, canceled_at = ?, updated_at = ?
		WHERE user_id = ? AND provider_subscription_id <> ? AND status <> ?
	`, domain.SubscriptionStatusCanceled, at, at, userID, keepProviderSubID, domain.SubscriptionStatusCanceled)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ListLapsed(ctx context.Context, tx *gorm.DB, now time.Time, grace time.Duration, limit int) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	cutoff := now.Add(-grace)
	err := tx.WithContext(ctx).Raw(`
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status NOT IN ? AND current_period_end <= ?
		ORDER BY current_period_end ASC
		LIMIT ?
	`, []domain.SubscriptionStatus{domain.SubscriptionStatusCanceled, domain.SubscriptionStatusIncomplete}, cutoff, limit).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) MarkLapsed(ctx context.Context, tx *gorm.DB, id snowflake.ID, at time.Time) error {
	return tx.WithContext(ctx).Exec(`
		UPDATE subscriptions
		SET status = ?, canceled_at = ?, updated_at = ?
		WHERE id = ? AND status <> ?
	`, domain.SubscriptionStatusCanceled, at, at, id, domain.SubscriptionStatusCanceled).Error
}

func (r *repo) ListAbandoned(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := tx.WithContext(ctx).Raw(`
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = ? AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`, domain.SubscriptionStatusIncomplete, cutoff, limit).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) DeleteSubscription(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	return tx.WithContext(ctx).Exec(`
		DELETE FROM subscriptions WHERE id = ?
	`, id).Error
}

func (r *repo) InsertTopUpGrant(ctx context.Context, tx *gorm.DB, grant *domain.TopUpGrant) (bool, error) {
	err := tx.WithContext(ctx).Exec(`
		INSERT INTO topup_grants (id, checkout_session_id, user_id, amount, granted_at)
		VALUES (?, ?, ?, ?, ?)
	`, grant.ID, grant.CheckoutSessionID, grant.UserID, grant.Amount, grant.GrantedAt).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
