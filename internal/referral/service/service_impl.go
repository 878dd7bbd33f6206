package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vettedhq/entitlement-engine/internal/clock"
	"github.com/vettedhq/entitlement-engine/internal/config"
	obsmetrics "github.com/vettedhq/entitlement-engine/internal/observability/metrics"
	"github.com/vettedhq/entitlement-engine/internal/referral/domain"
	userdomain "github.com/vettedhq/entitlement-engine/internal/user/domain"
)

// Bounded retries for the premium window extension; each attempt re-reads the
// current expiry before swapping it.
const extendAttempts = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Catalog    *config.CatalogHolder
	Repo       domain.Repository
	Users      userdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	catalog    *config.CatalogHolder
	repo       domain.Repository
	users      userdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("referral.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		catalog:    p.Catalog,
		repo:       p.Repo,
		users:      p.Users,
		obsMetrics: p.ObsMetrics,
	}
}

// Redeem applies an invite code once per user. The conditional invited_by
// update and the unique redemption row arbitrate concurrent attempts; both
// reward grants commit atomically with the redemption record.
func (s *Service) Redeem(ctx context.Context, redeemerID snowflake.ID, code string) (*domain.RedemptionResult, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	redeemer, err := s.users.FindByID(ctx, s.db, redeemerID)
	if err != nil {
		return nil, err
	}
	if redeemer == nil {
		return nil, userdomain.ErrUserNotFound
	}
	// invited_by is only ever set in the same transaction as a redemption
	// row, so this check also covers a repeat redemption of the same code.
	if redeemer.InvitedBy != nil {
		return nil, domain.ErrAlreadyInvited
	}
	if domain.NormalizeCode(redeemer.InviteCode) == code {
		return nil, domain.ErrSelfInvite
	}

	inviter, err := s.users.FindByInviteCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if inviter == nil {
		return nil, domain.ErrInvalidCode
	}
	if inviter.ID == redeemer.ID {
		return nil, domain.ErrSelfInvite
	}

	rewards := s.catalog.Get().Rewards
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked, err := s.users.MarkInvited(ctx, tx, redeemer.ID, inviter.ID, now)
		if err != nil {
			return err
		}
		if !marked {
			return domain.ErrAlreadyInvited
		}

		inserted, err := s.repo.InsertRedemption(ctx, tx, &domain.InvitationRedemption{
			ID:         s.genID.Generate(),
			Code:       code,
			InviterID:  inviter.ID,
			RedeemedBy: redeemer.ID,
			RedeemedAt: now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrAlreadyRedeemed
		}

		if err := s.users.IncrementInviteCount(ctx, tx, inviter.ID, now); err != nil {
			return err
		}

		if err := s.applyReward(ctx, tx, inviter.ID, rewards.Inviter, now); err != nil {
			return err
		}
		return s.applyReward(ctx, tx, redeemer.ID, rewards.Invitee, now)
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordReferralRedemption(ctx, string(rewards.Invitee.Type))
	s.log.Info("invite code redeemed",
		zap.String("code", code),
		zap.String("inviter_id", inviter.ID.String()),
		zap.String("invitee_id", redeemer.ID.String()),
	)

	return &domain.RedemptionResult{
		InviterID:     inviter.ID,
		InviteeID:     redeemer.ID,
		InviterReward: rewardLabel(rewards.Inviter),
		InviteeReward: rewardLabel(rewards.Invitee),
		RedeemedAt:    now,
	}, nil
}

// Stats reports an inviter's redemption tally and recent redemptions.
func (s *Service) Stats(ctx context.Context, inviterID snowflake.ID) (int64, []domain.InvitationRedemption, error) {
	user, err := s.users.FindByID(ctx, s.db, inviterID)
	if err != nil {
		return 0, nil, err
	}
	if user == nil {
		return 0, nil, userdomain.ErrUserNotFound
	}
	count, err := s.repo.CountByInviter(ctx, s.db, inviterID)
	if err != nil {
		return 0, nil, err
	}
	rows, err := s.repo.ListByInviter(ctx, s.db, inviterID, 20)
	if err != nil {
		return 0, nil, err
	}
	return count, rows, nil
}

func (s *Service) applyReward(ctx context.Context, tx *gorm.DB, userID snowflake.ID, rule config.RewardRule, now time.Time) error {
	switch rule.Type {
	case config.RewardTypeCredits:
		if rule.Credits <= 0 {
			return nil
		}
		return s.users.AddCredits(ctx, tx, userID, rule.Credits, now)
	case config.RewardTypeTime:
		if rule.Duration <= 0 {
			return nil
		}
		return s.extendPremiumWindow(ctx, tx, userID, rule.Duration, now)
	default:
		return fmt.Errorf("unsupported reward type %q", rule.Type)
	}
}

// extendPremiumWindow pushes the premium deadline out by d, stacking on the
// current deadline when it is still in the future. The swap is conditional on
// the observed deadline so concurrent extensions never overwrite each other.
func (s *Service) extendPremiumWindow(ctx context.Context, tx *gorm.DB, userID snowflake.ID, d time.Duration, now time.Time) error {
	for attempt := 0; attempt < extendAttempts; attempt++ {
		user, err := s.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}

		base := now
		if user.PremiumExpiresAt != nil && user.PremiumExpiresAt.After(now) {
			base = *user.PremiumExpiresAt
		}
		next := base.Add(d)

		swapped, err := s.users.SetPremiumExpiry(ctx, tx, userID, user.PremiumExpiresAt, next, now)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}
	return errors.New("premium_extension_contended")
}

func rewardLabel(rule config.RewardRule) string {
	switch rule.Type {
	case config.RewardTypeCredits:
		return fmt.Sprintf("%d credits", rule.Credits)
	case config.RewardTypeTime:
		return fmt.Sprintf("%s premium", rule.Duration)
	default:
		return string(rule.Type)
	}
}
