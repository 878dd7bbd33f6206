package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/vettedhq/entitlement-engine/internal/billing/domain"
	"github.com/vettedhq/entitlement-engine/internal/clock"
	"github.com/vettedhq/entitlement-engine/internal/entitlement/domain"
	obsmetrics "github.com/vettedhq/entitlement-engine/internal/observability/metrics"
	userdomain "github.com/vettedhq/entitlement-engine/internal/user/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Users      userdomain.Repository
	Billing    billingdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	users      userdomain.Repository
	billing    billingdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("entitlement.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		users:      p.Users,
		billing:    p.Billing,
		obsMetrics: p.ObsMetrics,
	}
}

// CheckAndConsume resolves one feature use against the entitlement buckets in
// order: premium credits, then the time-based premium window, then the
// per-feature subscription quota. The first bucket that can satisfy the use
// is consumed; later buckets are left untouched.
func (s *Service) CheckAndConsume(ctx context.Context, userID snowflake.ID, feature domain.Feature) (*domain.Decision, error) {
	if _, err := domain.ParseFeature(string(feature)); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}

	now := s.clock.Now()

	// Credits first. The conditional decrement arbitrates concurrent checks
	// on the last credit.
	if user.PremiumCredits > 0 {
		consumed, err := s.users.ConsumeCredit(ctx, s.db, userID, now)
		if err != nil {
			return nil, err
		}
		if consumed {
			remaining := user.PremiumCredits - 1
			if fresh, err := s.users.FindByID(ctx, s.db, userID); err == nil && fresh != nil {
				remaining = fresh.PremiumCredits
			}
			return s.decide(ctx, feature, &domain.Decision{Allowed: true, Bucket: domain.BucketCredit, Remaining: remaining}), nil
		}
		// Lost the race on the last credit; fall through to other buckets.
	}

	if user.PremiumExpiresAt != nil {
		if user.PremiumActiveAt(now) {
			return s.decide(ctx, feature, &domain.Decision{Allowed: true, Bucket: domain.BucketPremiumTime}), nil
		}
		// Lapsed window. Clear it so later checks skip this branch; the
		// conditional update is a no-op if a concurrent writer extended it.
		if _, err := s.users.ClearExpiredPremium(ctx, s.db, userID, now); err != nil {
			return nil, err
		}
	}

	// Only an active subscription consumes quota; trialing and past_due
	// subscribers fall through to the exhausted denial below.
	active, err := s.activeSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if err := s.ensureUsageRows(ctx, s.db, userID, now); err != nil {
			return nil, err
		}
		consumed, err := s.repo.ConsumeFeature(ctx, s.db, userID, feature, now)
		if err != nil {
			return nil, err
		}
		if consumed {
			remaining, err := s.repo.Remaining(ctx, s.db, userID, feature)
			if err != nil {
				return nil, err
			}
			return s.decide(ctx, feature, &domain.Decision{Allowed: true, Bucket: domain.BucketSubscription, Remaining: remaining}), nil
		}
		s.decide(ctx, feature, &domain.Decision{Allowed: false, Bucket: domain.BucketDenied})
		return nil, domain.ErrQuotaExhausted
	}

	s.decide(ctx, feature, &domain.Decision{Allowed: false, Bucket: domain.BucketDenied})

	// The denial reason depends on whether any subscription record exists
	// for the user at all.
	exists, err := s.billing.HasAnySubscription(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrQuotaExhausted
	}
	return nil, domain.ErrPremiumRequired
}

// Preview reports balances without consuming anything.
func (s *Service) Preview(ctx context.Context, userID snowflake.ID) (*domain.UsageSummary, error) {
	user, err := s.users.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}

	now := s.clock.Now()
	summary := &domain.UsageSummary{
		PremiumCredits: user.PremiumCredits,
		Quotas:         make(map[domain.Feature]int64, len(domain.AllFeatures())),
	}
	if user.PremiumActiveAt(now) {
		summary.PremiumExpiresAt = user.PremiumExpiresAt
	}

	exists, err := s.billing.HasAnySubscription(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	summary.HasSubscription = exists

	for _, feature := range domain.AllFeatures() {
		summary.Quotas[feature] = 0
	}
	rows, err := s.repo.ListUsage(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		summary.Quotas[row.Feature] = row.Remaining
	}
	return summary, nil
}

func (s *Service) activeSubscription(ctx context.Context, userID snowflake.ID) (*billingdomain.Subscription, error) {
	sub, err := s.billing.FindCurrentByUserID(ctx, s.db, userID, []billingdomain.SubscriptionStatus{
		billingdomain.SubscriptionStatusActive,
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) ensureUsageRows(ctx context.Context, tx *gorm.DB, userID snowflake.ID, now time.Time) error {
	features := domain.AllFeatures()
	rows := make([]domain.FeatureUsage, 0, len(features))
	for _, feature := range features {
		rows = append(rows, domain.FeatureUsage{
			ID:          s.genID.Generate(),
			UserID:      userID,
			Feature:     feature,
			Remaining:   domain.InitialQuota,
			LastResetAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return s.repo.EnsureUsage(ctx, tx, rows)
}

func (s *Service) decide(ctx context.Context, feature domain.Feature, decision *domain.Decision) *domain.Decision {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordGateDecision(ctx, string(feature), string(decision.Bucket), decision.Allowed)
	}
	return decision
}
