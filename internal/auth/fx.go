package auth

import (
	"github.com/smallbiznis/greenpm/internal/auth/repository"
	"github.com/smallbiznis/greenpm/internal/auth/service"
	"github.com/smallbiznis/greenpm/internal/auth/token"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(token.New),
	fx.Provide(service.New),
)
