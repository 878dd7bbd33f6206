package billing

import (
	"go.uber.org/fx"

	"github.com/vettedhq/entitlement-engine/internal/billing/repository"
	"github.com/vettedhq/entitlement-engine/internal/billing/service"
	"github.com/vettedhq/entitlement-engine/internal/billing/stripe"
)

// Module wires the billing ingestor and its provider adapter.
var Module = fx.Module("billing",
	fx.Provide(repository.Provide),
	fx.Provide(stripe.Provide),
	fx.Provide(service.NewService),
)
