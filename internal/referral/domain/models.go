// Package domain contains the referral reward ledger.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidCode     = errors.New("invalid_code")
	ErrSelfInvite      = errors.New("self_invite")
	ErrAlreadyInvited  = errors.New("already_invited")
	ErrAlreadyRedeemed = errors.New("already_redeemed")
)

// InvitationRedemption is the append-only record of one code redemption. The
// unique (code, redeemed_by) pair arbitrates concurrent redemptions.
type InvitationRedemption struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Code       string       `gorm:"type:text;not null;uniqueIndex:ux_redemptions_code_redeemer,priority:1"`
	InviterID  snowflake.ID `gorm:"not null;index"`
	RedeemedBy snowflake.ID `gorm:"not null;uniqueIndex:ux_redemptions_code_redeemer,priority:2"`
	RedeemedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (InvitationRedemption) TableName() string { return "invitation_redemptions" }

// NormalizeCode canonicalizes user-entered invite codes.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// RedemptionResult reports the rewards granted by one redemption.
type RedemptionResult struct {
	InviterID     snowflake.ID `json:"inviter_id"`
	InviteeID     snowflake.ID `json:"invitee_id"`
	InviterReward string       `json:"inviter_reward"`
	InviteeReward string       `json:"invitee_reward"`
	RedeemedAt    time.Time    `json:"redeemed_at"`
}

// Repository persists redemption records.
type Repository interface {
	// InsertRedemption reports false when the (code, redeemer) pair already
	// exists.
	InsertRedemption(ctx context.Context, db *gorm.DB, rec *InvitationRedemption) (bool, error)
	CountByInviter(ctx context.Context, db *gorm.DB, inviterID snowflake.ID) (int64, error)
	ListByInviter(ctx context.Context, db *gorm.DB, inviterID snowflake.ID, limit int) ([]InvitationRedemption, error)
}

// Service is the referral application surface.
type Service interface {
	// Redeem applies an invite code for the redeeming user and grants both
	// sides their rewards.
	Redeem(ctx context.Context, redeemerID snowflake.ID, code string) (*RedemptionResult, error)

	// Stats reports how many redemptions an inviter has accumulated.
	Stats(ctx context.Context, inviterID snowflake.ID) (int64, []InvitationRedemption, error)
}
