package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/vettedhq/entitlement-engine/internal/referral/domain"
	"github.com/vettedhq/entitlement-engine/pkg/db"
)

type repo struct{}

// Provide returns the referral repository.
func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertRedemption(ctx context.Context, tx *gorm.DB, rec *domain.InvitationRedemption) (bool, error) {
	err := tx.WithContext(ctx).Exec(`
		INSERT INTO invitation_redemptions (id, code, inviter_id, redeemed_by, redeemed_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.Code, rec.InviterID, rec.RedeemedBy, rec.RedeemedAt).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) CountByInviter(ctx context.Context, tx *gorm.DB, inviterID snowflake.ID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(`
		SELECT COUNT(1) FROM invitation_redemptions WHERE inviter_id = ?
	`, inviterID).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) ListByInviter(ctx context.Context, tx *gorm.DB, inviterID snowflake.ID, limit int) ([]domain.InvitationRedemption, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []domain.InvitationRedemption
	err := tx.WithContext(ctx).Raw(`
		SELECT id, code, inviter_id, redeemed_by, redeemed_at
		FROM invitation_redemptions
		WHERE inviter_id = ?
		ORDER BY redeemed_at DESC
		LIMIT ?
	`, inviterID, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
