package generation

import (
	"github.com/smallbiznis/pixelcredit/internal/generation/repository"
	"github.com/smallbiznis/pixelcredit/internal/generation/service"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("generation.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(
			repository.NewOutcomeLookup,
			fx.As(new(ledgerdomain.OutcomeLookup)),
		),
	),
	fx.Provide(service.NewService),
)
