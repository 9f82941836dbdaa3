package maintenance

import (
	"github.com/smallbiznis/greenpm/internal/maintenance/repository"
	"github.com/smallbiznis/greenpm/internal/maintenance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("maintenance.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
