package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	require.NoError(t, validateCatalog(DefaultCatalog()))
}

func TestPlanLookups(t *testing.T) {
	catalog := DefaultCatalog()

	plan, ok := catalog.PlanByID("premium_monthly")
	require.True(t, ok)
	assert.Equal(t, "price_premium_monthly", plan.PriceID)
	assert.Equal(t, int64(5), plan.FeatureLimit)

	plan, ok = catalog.PlanByPriceID("price_premium_yearly")
	require.True(t, ok)
	assert.Equal(t, "premium_yearly", plan.ID)

	_, ok = catalog.PlanByID("enterprise")
	assert.False(t, ok)

	_, ok = catalog.PlanByPriceID("price_unknown")
	assert.False(t, ok)
}

func TestStaticCatalogHolder(t *testing.T) {
	catalog := DefaultCatalog()
	holder := NewStaticCatalogHolder(catalog)
	assert.Equal(t, catalog.TopUp.PriceID, holder.Get().TopUp.PriceID)
}

func TestValidateCatalogRejectsBadConfigs(t *testing.T) {
	base := DefaultCatalog()

	empty := base
	empty.Plans = nil
	assert.Error(t, validateCatalog(empty))

	noPrice := base
	noPrice.Plans = []PlanConfig{{ID: "p", FeatureLimit: 5}}
	assert.Error(t, validateCatalog(noPrice))

	zeroLimit := base
	zeroLimit.Plans = []PlanConfig{{ID: "p", PriceID: "price_p", FeatureLimit: 0}}
	assert.Error(t, validateCatalog(zeroLimit))

	dupPrice := base
	dupPrice.Plans = []PlanConfig{
		{ID: "a", PriceID: "price_same", FeatureLimit: 5},
		{ID: "b", PriceID: "price_same", FeatureLimit: 5},
	}
	assert.Error(t, validateCatalog(dupPrice))

	badTopUp := base
	badTopUp.TopUp = TopUpConfig{PriceID: "price_topup", Grant: 0}
	assert.Error(t, validateCatalog(badTopUp))

	badReward := base
	badReward.Rewards.Inviter = RewardRule{Type: RewardType("cashback"), Credits: 3}
	assert.Error(t, validateCatalog(badReward))

	zeroDuration := base
	zeroDuration.Rewards.Invitee = RewardRule{Type: RewardTypeTime, Duration: 0 * time.Hour}
	assert.Error(t, validateCatalog(zeroDuration))
}
