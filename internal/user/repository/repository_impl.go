package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	userdomain "github.com/vettedhq/entitlement-engine/internal/user/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() userdomain.Repository {
	return &repo{}
}

const userColumns = `id, email, invite_code, invited_by, invite_count, premium_credits,
	 premium_expires_at, subscription_status, subscription_period_end, cancel_at_period_end,
	 billing_customer_id, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*userdomain.User, error) {
	var user userdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+` FROM users WHERE id = ?`,
		id,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) FindByInviteCode(ctx context.Context, db *gorm.DB, code string) (*userdomain.User, error) {
	var user userdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+` FROM users WHERE invite_code = ? LIMIT 1`,
		code,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) FindByBillingCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*userdomain.User, error) {
	var user userdomain.User
	err := db.WithContext(ctx).Raw(
		`SELECT `+userColumns+` FROM users WHERE billing_customer_id = ? LIMIT 1`,
		customerID,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) ConsumeCredit(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET premium_credits = premium_credits - 1, updated_at = ?
		 WHERE id = ? AND premium_credits > 0`,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) AddCredits(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET premium_credits = premium_credits + ?, updated_at = ?
		 WHERE id = ?`,
		amount,
		now,
		id,
	).Error
}

func (r *repo) SetPremiumExpiry(ctx context.Context, db *gorm.DB, id snowflake.ID, observed *time.Time, next time.Time, now time.Time) (bool, error) {
	var result *gorm.DB
	if observed == nil {
		result = db.WithContext(ctx).Exec(
			`UPDATE users
			 SET premium_expires_at = ?, updated_at = ?
			 WHERE id = ? AND premium_expires_at IS NULL`,
			next,
			now,
			id,
		)
	} else {
		result = db.WithContext(ctx).Exec(
			`UPDATE users
			 SET premium_expires_at = ?, updated_at = ?
			 WHERE id = ? AND premium_expires_at = ?`,
			next,
			now,
			id,
			*observed,
		)
	}
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ClearExpiredPremium(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET premium_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND premium_expires_at IS NOT NULL AND premium_expires_at <= ?`,
		now,
		id,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ClearAllExpiredPremium(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET premium_expires_at = NULL, updated_at = ?
		 WHERE premium_expires_at IS NOT NULL AND premium_expires_at <= ?`,
		now,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) MarkInvited(ctx context.Context, db *gorm.DB, id, inviterID snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET invited_by = ?, updated_at = ?
		 WHERE id = ? AND invited_by IS NULL`,
		inviterID,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) IncrementInviteCount(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET invite_count = invite_count + 1, updated_at = ?
		 WHERE id = ?`,
		now,
		id,
	).Error
}

func (r *repo) SetSubscriptionMirror(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, periodEnd *time.Time, cancelAtPeriodEnd bool, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET subscription_status = ?, subscription_period_end = ?, cancel_at_period_end = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		periodEnd,
		cancelAtPeriodEnd,
		now,
		id,
	).Error
}

func (r *repo) ClearSubscriptionMirror(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET subscription_status = NULL, subscription_period_end = NULL, cancel_at_period_end = FALSE, updated_at = ?
		 WHERE id = ?`,
		now,
		id,
	).Error
}

func (r *repo) SetBillingCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET billing_customer_id = ?, updated_at = ?
		 WHERE id = ?`,
		customerID,
		now,
		id,
	).Error
}
