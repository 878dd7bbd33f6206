// Package sweeper runs the periodic reconciliation jobs: lapsing
// subscriptions whose renewal never arrived, clearing expired premium
// windows and deleting checkouts that never completed.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/vettedhq/entitlement-engine/internal/billing/domain"
	"github.com/vettedhq/entitlement-engine/internal/clock"
	obsmetrics "github.com/vettedhq/entitlement-engine/internal/observability/metrics"
	userdomain "github.com/vettedhq/entitlement-engine/internal/user/domain"
)

const jobTimeout = 30 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     Config
	Billing    billingdomain.Repository
	Users      userdomain.Repository
	Locker     *Locker             `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Sweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	cfg        Config
	billing    billingdomain.Repository
	users      userdomain.Repository
	locker     *Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Billing == nil || p.Users == nil {
		return nil, errors.New("invalid_sweeper_config")
	}
	return &Sweeper{
		db:         p.DB,
		log:        p.Log.Named("sweeper"),
		clock:      p.Clock,
		cfg:        p.Config.withDefaults(),
		billing:    p.Billing,
		users:      p.Users,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.runLocked(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runLocked holds the cross-replica lock for the duration of one sweep when
// locking is configured. A held lock elsewhere skips the run rather than
// waiting.
func (s *Sweeper) runLocked(ctx context.Context) error {
	if !s.cfg.LockEnabled || s.locker == nil {
		return s.RunOnce(ctx)
	}

	token, acquired, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("sweep lock unavailable, running unlocked", zap.Error(err))
		return s.RunOnce(ctx)
	}
	if !acquired {
		s.log.Debug("sweep lock held elsewhere, skipping run")
		return nil
	}
	defer func() {
		if err := s.locker.Release(ctx, lockKey, token); err != nil {
			s.log.Warn("sweep lock release failed", zap.Error(err))
		}
	}()

	return s.RunOnce(ctx)
}

func (s *Sweeper) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"lapse_subscriptions", s.LapseSubscriptionsJob},
		{"expire_premium_windows", s.ExpirePremiumWindowsJob},
		{"abandoned_checkouts", s.AbandonedCheckoutsJob},
	}

	for _, job := range jobs {
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

func (s *Sweeper) runJob(parent context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		s.obsMetrics.RecordSweeperRun(ctx, name, "ok")
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.obsMetrics.RecordSweeperRun(ctx, name, "timeout")
		s.log.Warn("sweep job timed out", zap.String("job", name), zap.Error(err))
		return nil
	}

	s.obsMetrics.RecordSweeperRun(ctx, name, "error")
	return fmt.Errorf("%s: %w", name, err)
}

// LapseSubscriptionsJob cancels subscriptions whose period ended beyond the
// grace window without a renewal event. The records stay for history; only
// the user's entitlement mirror is dropped.
func (s *Sweeper) LapseSubscriptionsJob(ctx context.Context) error {
	now := s.clock.Now()
	subs, err := s.billing.ListLapsed(ctx, s.db, now, s.cfg.Grace, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	processed := 0
	for i := range subs {
		sub := subs[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.billing.MarkLapsed(ctx, tx, sub.ID, now); err != nil {
				return err
			}
			return s.users.ClearSubscriptionMirror(ctx, tx, sub.UserID, now)
		})
		if err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		processed++
		s.log.Info("subscription lapsed",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("user_id", sub.UserID.String()),
			zap.Time("period_end", sub.CurrentPeriodEnd),
		)
	}

	s.obsMetrics.RecordSweeperProcessed(ctx, "lapse_subscriptions", processed)
	return jobErr
}

// ExpirePremiumWindowsJob nulls premium deadlines that lapsed since the last
// sweep. The gate also clears lazily; this keeps idle accounts tidy.
func (s *Sweeper) ExpirePremiumWindowsJob(ctx context.Context) error {
	now := s.clock.Now()
	cleared, err := s.users.ClearAllExpiredPremium(ctx, s.db, now)
	if err != nil {
		return err
	}
	if cleared > 0 {
		s.log.Info("premium windows expired", zap.Int64("count", cleared))
	}
	s.obsMetrics.RecordSweeperProcessed(ctx, "expire_premium_windows", int(cleared))
	return nil
}

// AbandonedCheckoutsJob deletes incomplete subscriptions that predate the
// abandonment window. These never activated and hold no billing history.
func (s *Sweeper) AbandonedCheckoutsJob(ctx context.Context) error {
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.AbandonedAfter)
	subs, err := s.billing.ListAbandoned(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	processed := 0
	for i := range subs {
		sub := subs[i]
		if err := s.billing.DeleteSubscription(ctx, s.db, sub.ID); err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		processed++
	}

	if processed > 0 {
		s.log.Info("abandoned checkouts removed", zap.Int("count", processed))
	}
	s.obsMetrics.RecordSweeperProcessed(ctx, "abandoned_checkouts", processed)
	return jobErr
}
