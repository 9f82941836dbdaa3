package platformadmin

import (
	"github.com/smallbiznis/greenpm/internal/platformadmin/repository"
	"github.com/smallbiznis/greenpm/internal/platformadmin/service"
	"go.uber.org/fx"
)

var Module = fx.Module("platformadmin.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
