package referral

import (
	"go.uber.org/fx"

	"github.com/vettedhq/entitlement-engine/internal/referral/repository"
	"github.com/vettedhq/entitlement-engine/internal/referral/service"
)

// Module wires the referral reward ledger.
var Module = fx.Module("referral",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
