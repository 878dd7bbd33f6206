package user

import (
	"github.com/vettedhq/entitlement-engine/internal/user/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("user",
	fx.Provide(repository.Provide),
)
