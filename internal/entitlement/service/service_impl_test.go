package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/vettedhq/entitlement-engine/internal/billing/domain"
	billingrepo "github.com/vettedhq/entitlement-engine/internal/billing/repository"
	"github.com/vettedhq/entitlement-engine/internal/clock"
	"github.com/vettedhq/entitlement-engine/internal/entitlement/domain"
	entitlementrepo "github.com/vettedhq/entitlement-engine/internal/entitlement/repository"
	userdomain "github.com/vettedhq/entitlement-engine/internal/user/domain"
	userrepo "github.com/vettedhq/entitlement-engine/internal/user/repository"
)

func setupGateTest(t *testing.T) (*gorm.DB, *Service, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&userdomain.User{},
		&domain.FeatureUsage{},
		&billingdomain.Subscription{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fake,
		Repo:    entitlementrepo.Provide(),
		Users:   userrepo.Provide(),
		Billing: billingrepo.Provide(),
	}).(*Service)

	return db, svc, node, fake
}

func seedUser(t *testing.T, db *gorm.DB, node *snowflake.Node, mutate func(*userdomain.User)) *userdomain.User {
	t.Helper()

	user := &userdomain.User{
		ID:         node.Generate(),
		Email:      fmt.Sprintf("user-%d@example.com", node.Generate()),
		InviteCode: fmt.Sprintf("CODE%d", node.Generate()),
	}
	if mutate != nil {
		mutate(user)
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedSubscription(t *testing.T, db *gorm.DB, node *snowflake.Node, userID snowflake.ID, status billingdomain.SubscriptionStatus, now time.Time) *billingdomain.Subscription {
	t.Helper()

	sub := &billingdomain.Subscription{
		ID:                     node.Generate(),
		UserID:                 userID,
		ProviderSubscriptionID: fmt.Sprintf("sub_%d", node.Generate()),
		ProviderCustomerID:     "cus_test",
		Status:                 status,
		PlanID:                 "premium_monthly",
		PriceID:                "price_monthly",
		CurrentPeriodStart:     now.Add(-24 * time.Hour),
		CurrentPeriodEnd:       now.Add(29 * 24 * time.Hour),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func seedActiveSubscription(t *testing.T, db *gorm.DB, node *snowflake.Node, userID snowflake.ID, now time.Time) *billingdomain.Subscription {
	return seedSubscription(t, db, node, userID, billingdomain.SubscriptionStatusActive, now)
}

func TestGateConsumesCreditsFirst(t *testing.T) {
	db, svc, node, fake := setupGateTest(t)
	ctx := context.Background()
	now := fake.Now()

	expiry := now.Add(48 * time.Hour)
	user := seedUser(t, db, node, func(u *userdomain.User) {
		u.PremiumCredits = 2
		u.PremiumExpiresAt = &expiry
	})
	seedActiveSubscription(t, db, node, user.ID, now)

	decision, err := svc.CheckAndConsume(ctx, user.ID, domain.FeaturePhoneLookup)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, domain.BucketCredit, decision.Bucket)
	assert.Equal(t, int64(1), decision.Remaining)

	var fresh userdomain.User
	require.NoError(t, db.First(&fresh, "id = ?", user.ID).Error)
	assert.Equal(t, int64(1), fresh.PremiumCredits)
	// Neither the window nor the subscription quota was touched.
	require.NotNil(t, fresh.PremiumExpiresAt)
	var usageCount int64
	require.NoError(t, db.Model(&domain.FeatureUsage{}).Where("user_id = ?", user.ID).Count(&usageCount).Error)
	assert.Zero(t, usageCount)
}

func TestGateFallsThroughWhenCreditsExhausted(t *testing.T) {
	db, svc, node, fake := setupGateTest(t)
	ctx := context.Background()
	now := fake.Now()

	expiry := now.Add(time.Hour)
	user := seedUser(t, db, node, func(u *userdomain.User) {
		u.PremiumCredits = 1
		u.PremiumExpiresAt = &expiry
	})

	first, err := svc.CheckAndConsume(ctx, user.ID, domain.FeatureNameLookup)
	require.NoError(t, err)
	assert.Equal(t, domain.BucketCredit, first.Bucket)

	second, err := svc.CheckAndConsume(ctx, user.ID, domain.FeatureNameLookup)
	require.NoError(t, err)
	assert.Equal(t, domain.BucketPremiumTime, second.Bucket)

	var fresh userdomain.User
	require.NoError(t, db.First(&fresh, "id = ?", user.ID).Error)
	assert.Zero(t, fresh.PremiumCredits)
}

func TestGatePremiumWindowNotConsumed(t *testing.T) {
	db, svc, node, fake := setupGateTest(t)
	ctx := context.Background()
	now := fake.Now()

	expiry := now.Add(time.Hour)
	user := seedUser(t, db, node, func(u *userdomain.User) {
		u.PremiumExpiresAt = &expiry
	})

	for i := 0; i < 3; i++ {
		decision, err := svc.CheckAndConsume(ctx, user.ID, domain.FeatureImageSearch)
		require.NoError(t, err)
		assert.Equal(t, domain.BucketPremiumTime, decision.Bucket)
	}

	var fresh userdomain.User
	require.NoError(t, db.First(&fresh, "id = ?", user.ID).Error)
	require.NotNil(t, fresh.PremiumExpiresAt)
	assert.True(t, fresh.PremiumExpiresAt.Equal(expiry))
}

func TestGateClearsLapsedWindow(t *testing.T) {
	db, svc, node, fake := setupGateTest(t)
	ctx := context.Background()
	now := fake.Now()

	expiry := now.Add(-time.Minute)
	user := seedUser(t, db, node, func(u *userdomain.User) {
		u.PremiumExpiresAt = &expiry
	})

	_, err := svc.CheckAndConsume(ctx, user.ID, domain.FeatureRecordsCheck)
	require.ErrorIs(t, err, domain.ErrPremiumRequired)

	var fresh userdomain.User
	require.NoError(t, db.First(&fresh, "id = ?", user.ID).Error)
	assert.Nil(t, fresh.PremiumExpiresAt)
}

func TestGateSubscriptionQuota(t *testing.T) {
	db, svc, node, fake := setupGateTest(t)
	ctx := context.Background()
	now := fake.Now()

	user := seedUser(t, db, node, nil)
	seedActiveSubscription(t, db, node, user.ID, now)

	for want := domain.InitialQuota - 1; want >= 0; want-- {
		decision, err := svc.CheckAndConsume(ctx, user.ID, domain.FeatureSocialScan)
		require.NoError(t, err)
		assert.Equal(t, domain.BucketSubscription, decision.Bucket)
		assert.Equal(t, want, decision.Remaining)
	}

	_, err := svc.CheckAndConsume(ctx, user.ID, domain.FeatureSocialScan)
	require.ErrorIs(t, err, domain.ErrQuotaExhausted)

	// Other features keep their own allowance.
	decision, err := svc.CheckAndConsume(ctx, user.ID, domain.FeaturePhoneLookup)
	require.NoError(t, err)
	assert.Equal(t, domain.InitialQuota-1, decision.Remaining)
}

func TestGateDeniesWithoutEntitlements(t *testing.T) {
	_, svc, node, _ := setupGateTest(t)
	ctx := context.Background()

	user := seedUser(t, svc.db, node, nil)

	_, err := svc.CheckAndConsume(ctx, user.ID, domain.FeaturePhoneLookup)
	require.ErrorIs(t, err, domain.ErrPremiumRequired)
}

func TestGateTrialingSubscriptionDoesNotConsumeQuota(t *testing.T) {
	db, svc, node, fake := setupGateTest(t)
	ctx := context.Background()
	now := fake.Now()

	user := seedUser(t, db, node, nil)
	seedSubscription(t, db, node, user.ID, billingdomain.SubscriptionStatusTrialing, now)

	_, err := svc.CheckAndConsume(ctx, user.ID, domain.FeaturePhoneLookup)
	require.ErrorIs(t, err, domain.ErrQuotaExhausted)

	var usageCount int64
	require.NoError(t, db.Model(&domain.FeatureUsage{}).Where("user_id = ?", user.ID).Count(&usageCount).Error)
	assert.Zero(t, usageCount)
}

func TestGateDenialReasonReflectsSubscriptionExistence(t *testing.T) {
	db, svc, node, fake := setupGateTest(t)
	ctx := context.Background()
	now := fake.Now()

	pastDue := seedUser(t, db, node, nil)
	seedSubscription(t, db, node, pastDue.ID, billingdomain.SubscriptionStatusPastDue, now)

	_, err := svc.CheckAndConsume(ctx, pastDue.ID, domain.FeatureNameLookup)
	require.ErrorIs(t, err, domain.ErrQuotaExhausted)

	never := seedUser(t, db, node, nil)
	_, err = svc.CheckAndConsume(ctx, never.ID, domain.FeatureNameLookup)
	require.ErrorIs(t, err, domain.ErrPremiumRequired)
}

func TestGateConcurrentLastCredit(t *testing.T) {
	db, svc, node, _ := setupGateTest(t)
	ctx := context.Background()

	// A single pooled connection serializes the conditional decrements the
	// same way a shared database would.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	user := seedUser(t, db, node, func(u *userdomain.User) {
		u.PremiumCredits = 1
	})

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CheckAndConsume(ctx, user.ID, domain.FeaturePhoneLookup)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var allowed, denied int
	for err := range results {
		switch {
		case err == nil:
			allowed++
		case errors.Is(err, domain.ErrPremiumRequired):
			denied++
		default:
			t.Fatalf("unexpected gate error: %v", err)
		}
	}
	assert.Equal(t, 1, allowed)
	assert.Equal(t, 1, denied)

	var fresh userdomain.User
	require.NoError(t, db.First(&fresh, "id = ?", user.ID).Error)
	assert.Zero(t, fresh.PremiumCredits)
}

func TestGateRejectsUnknownFeature(t *testing.T) {
	_, svc, node, _ := setupGateTest(t)
	ctx := context.Background()

	user := seedUser(t, svc.db, node, nil)

	_, err := svc.CheckAndConsume(ctx, user.ID, domain.Feature("bulk_export"))
	require.ErrorIs(t, err, domain.ErrInvalidFeature)
}

func TestGateUnknownUser(t *testing.T) {
	_, svc, node, _ := setupGateTest(t)

	_, err := svc.CheckAndConsume(context.Background(), node.Generate(), domain.FeaturePhoneLookup)
	require.True(t, errors.Is(err, userdomain.ErrUserNotFound))
}

func TestPreviewReportsBalances(t *testing.T) {
	db, svc, node, fake := setupGateTest(t)
	ctx := context.Background()
	now := fake.Now()

	expiry := now.Add(time.Hour)
	user := seedUser(t, db, node, func(u *userdomain.User) {
		u.PremiumCredits = 4
		u.PremiumExpiresAt = &expiry
	})
	seedActiveSubscription(t, db, node, user.ID, now)

	// One consume seeds the usage rows and spends a credit.
	_, err := svc.CheckAndConsume(ctx, user.ID, domain.FeaturePhoneLookup)
	require.NoError(t, err)

	summary, err := svc.Preview(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.PremiumCredits)
	require.NotNil(t, summary.PremiumExpiresAt)
	assert.True(t, summary.HasSubscription)
	assert.Len(t, summary.Quotas, len(domain.AllFeatures()))
}
