package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/vettedhq/entitlement-engine/internal/entitlement/domain"
	"github.com/vettedhq/entitlement-engine/pkg/db"
)

type repo struct{}

// Provide returns the entitlement repository.
func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureUsage(ctx context.Context, tx *gorm.DB, rows []domain.FeatureUsage) error {
	for i := range rows {
		err := tx.WithContext(ctx).Exec(`
			INSERT INTO feature_usage (id, user_id, feature, remaining, last_reset_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rows[i].ID, rows[i].UserID, rows[i].Feature, rows[i].Remaining,
			rows[i].LastResetAt, rows[i].CreatedAt, rows[i].UpdatedAt).Error
		if err != nil && !db.IsDuplicateKeyErr(err) {
			return err
		}
	}
	return nil
}

func (r *repo) ConsumeFeature(ctx context.Context, tx *gorm.DB, userID snowflake.ID, feature domain.Feature, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(`
		UPDATE feature_usage
		SET remaining = remaining - 1, updated_at = ?
		WHERE user_id = ? AND feature = ? AND remaining > 0
	`, at, userID, feature)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ResetAll(ctx context.Context, tx *gorm.DB, userID snowflake.ID, allowance int64, at time.Time) error {
	return tx.WithContext(ctx).Exec(`
		UPDATE feature_usage
		SET remaining = ?, last_reset_at = ?, updated_at = ?
		WHERE user_id = ?
	`, allowance, at, at, userID).Error
}

func (r *repo) AddRemaining(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, at time.Time) error {
	return tx.WithContext(ctx).Exec(`
		UPDATE feature_usage
		SET remaining = remaining + ?, updated_at = ?
		WHERE user_id = ?
	`, amount, at, userID).Error
}

func (r *repo) ListUsage(ctx context.Context, tx *gorm.DB, userID snowflake.ID) ([]domain.FeatureUsage, error) {
	var rows []domain.FeatureUsage
	err := tx.WithContext(ctx).Raw(`
		SELECT id, user_id, feature, remaining, last_reset_at, created_at, updated_at
		FROM feature_usage
		WHERE user_id = ?
		ORDER BY feature ASC
	`, userID).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Remaining(ctx context.Context, tx *gorm.DB, userID snowflake.ID, feature domain.Feature) (int64, error) {
	var remaining int64
	err := tx.WithContext(ctx).Raw(`
		SELECT remaining FROM feature_usage
		WHERE user_id = ? AND feature = ?
	`, userID, feature).Scan(&remaining).Error
	if err != nil {
		return 0, err
	}
	return remaining, nil
}
