package sweeper

import (
	"context"
	"fmt"
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
	userdomain "github.com/vettedhq/entitlement-engine/internal/user/domain"
	userrepo "github.com/vettedhq/entitlement-engine/internal/user/repository"
)

func setupSweeperTest(t *testing.T) (*gorm.DB, *Sweeper, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&userdomain.User{},
		&billingdomain.Subscription{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	sweeper, err := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   fake,
		Config:  Config{Grace: time.Hour, AbandonedAfter: 30 * time.Minute},
		Billing: billingrepo.Provide(),
		Users:   userrepo.Provide(),
	})
	require.NoError(t, err)

	return db, sweeper, node, fake
}

func sweeperUser(t *testing.T, db *gorm.DB, node *snowflake.Node, mutate func(*userdomain.User)) *userdomain.User {
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

func createSubscription(t *testing.T, db *gorm.DB, node *snowflake.Node, userID snowflake.ID, status billingdomain.SubscriptionStatus, periodEnd, createdAt time.Time) *billingdomain.Subscription {
	t.Helper()

	sub := &billingdomain.Subscription{
		ID:                     node.Generate(),
		UserID:                 userID,
		ProviderSubscriptionID: fmt.Sprintf("sub_%d", node.Generate()),
		ProviderCustomerID:     "cus_test",
		Status:                 status,
		PlanID:                 "premium_monthly",
		PriceID:                "price_premium_monthly",
		CurrentPeriodStart:     periodEnd.Add(-30 * 24 * time.Hour),
		CurrentPeriodEnd:       periodEnd,
		CreatedAt:              createdAt,
		UpdatedAt:              createdAt,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func TestLapseSubscriptionsJob(t *testing.T) {
	db, sweeper, node, fake := setupSweeperTest(t)
	ctx := context.Background()
	now := fake.Now()

	status := "active"
	periodEnd := now.Add(-2 * time.Hour)
	lapsedUser := sweeperUser(t, db, node, func(u *userdomain.User) {
		u.SubscriptionStatus = &status
		u.SubscriptionPeriodEnd = &periodEnd
	})
	overdue := createSubscription(t, db, node, lapsedUser.ID, billingdomain.SubscriptionStatusActive, periodEnd, now.Add(-40*24*time.Hour))

	// Inside the grace window; a renewal webhook may still arrive.
	graceUser := sweeperUser(t, db, node, nil)
	recent := createSubscription(t, db, node, graceUser.ID, billingdomain.SubscriptionStatusActive, now.Add(-30*time.Minute), now.Add(-30*24*time.Hour))

	currentUser := sweeperUser(t, db, node, nil)
	current := createSubscription(t, db, node, currentUser.ID, billingdomain.SubscriptionStatusActive, now.Add(20*24*time.Hour), now)

	require.NoError(t, sweeper.LapseSubscriptionsJob(ctx))

	var sub billingdomain.Subscription
	require.NoError(t, db.First(&sub, "id = ?", overdue.ID).Error)
	assert.Equal(t, billingdomain.SubscriptionStatusCanceled, sub.Status)

	sub = billingdomain.Subscription{}
	require.NoError(t, db.First(&sub, "id = ?", recent.ID).Error)
	assert.Equal(t, billingdomain.SubscriptionStatusActive, sub.Status)

	sub = billingdomain.Subscription{}
	require.NoError(t, db.First(&sub, "id = ?", current.ID).Error)
	assert.Equal(t, billingdomain.SubscriptionStatusActive, sub.Status)

	var fresh userdomain.User
	require.NoError(t, db.First(&fresh, "id = ?", lapsedUser.ID).Error)
	assert.Nil(t, fresh.SubscriptionStatus)
	assert.Nil(t, fresh.SubscriptionPeriodEnd)
}

func TestLapseSubscriptionsJobIsIdempotent(t *testing.T) {
	db, sweeper, node, fake := setupSweeperTest(t)
	ctx := context.Background()
	now := fake.Now()

	user := sweeperUser(t, db, node, nil)
	createSubscription(t, db, node, user.ID, billingdomain.SubscriptionStatusActive, now.Add(-2*time.Hour), now.Add(-40*24*time.Hour))

	require.NoError(t, sweeper.LapseSubscriptionsJob(ctx))
	require.NoError(t, sweeper.LapseSubscriptionsJob(ctx))

	var canceled int64
	require.NoError(t, db.Model(&billingdomain.Subscription{}).
		Where("user_id = ? AND status = ?", user.ID, billingdomain.SubscriptionStatusCanceled).
		Count(&canceled).Error)
	assert.Equal(t, int64(1), canceled)
}

func TestExpirePremiumWindowsJob(t *testing.T) {
	db, sweeper, node, fake := setupSweeperTest(t)
	ctx := context.Background()
	now := fake.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	expired := sweeperUser(t, db, node, func(u *userdomain.User) { u.PremiumExpiresAt = &past })
	live := sweeperUser(t, db, node, func(u *userdomain.User) { u.PremiumExpiresAt = &future })

	require.NoError(t, sweeper.ExpirePremiumWindowsJob(ctx))

	var fresh userdomain.User
	require.NoError(t, db.First(&fresh, "id = ?", expired.ID).Error)
	assert.Nil(t, fresh.PremiumExpiresAt)

	fresh = userdomain.User{}
	require.NoError(t, db.First(&fresh, "id = ?", live.ID).Error)
	require.NotNil(t, fresh.PremiumExpiresAt)
	assert.True(t, fresh.PremiumExpiresAt.Equal(future))
}

func TestAbandonedCheckoutsJob(t *testing.T) {
	db, sweeper, node, fake := setupSweeperTest(t)
	ctx := context.Background()
	now := fake.Now()

	user := sweeperUser(t, db, node, nil)
	stale := createSubscription(t, db, node, user.ID, billingdomain.SubscriptionStatusIncomplete, now.Add(24*time.Hour), now.Add(-time.Hour))
	recent := createSubscription(t, db, node, user.ID, billingdomain.SubscriptionStatusIncomplete, now.Add(24*time.Hour), now.Add(-5*time.Minute))
	active := createSubscription(t, db, node, user.ID, billingdomain.SubscriptionStatusActive, now.Add(24*time.Hour), now.Add(-time.Hour))

	require.NoError(t, sweeper.AbandonedCheckoutsJob(ctx))

	var count int64
	require.NoError(t, db.Model(&billingdomain.Subscription{}).Where("id = ?", stale.ID).Count(&count).Error)
	assert.Zero(t, count)

	require.NoError(t, db.Model(&billingdomain.Subscription{}).Where("id = ?", recent.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, db.Model(&billingdomain.Subscription{}).Where("id = ?", active.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunOnceWithoutLocker(t *testing.T) {
	db, sweeper, node, fake := setupSweeperTest(t)
	now := fake.Now()

	user := sweeperUser(t, db, node, nil)
	createSubscription(t, db, node, user.ID, billingdomain.SubscriptionStatusActive, now.Add(-2*time.Hour), now.Add(-40*24*time.Hour))

	require.NoError(t, sweeper.RunOnce(context.Background()))
	require.NoError(t, sweeper.runLocked(context.Background()))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	require.Error(t, err)
}
