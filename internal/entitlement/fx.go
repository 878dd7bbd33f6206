package entitlement

import (
	"go.uber.org/fx"

	"github.com/vettedhq/entitlement-engine/internal/entitlement/repository"
	"github.com/vettedhq/entitlement-engine/internal/entitlement/service"
)

// Module wires the feature gate.
var Module = fx.Module("entitlement",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
