package seed

import (
	"context"
	"time"

	"github.com/smallbiznis/greenpm/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("seed",
	fx.Provide(New),
	fx.Invoke(Register),
)

// Register seeds on start and re-seeds plans whenever the catalog file changes.
func Register(lc fx.Lifecycle, s *Seeder, holder *config.PlanCatalogHolder) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Run(ctx)
		},
	})
	holder.OnChange(func(catalog config.PlanCatalog) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.SeedPlans(ctx, catalog); err != nil {
			s.log.Warn("plan catalog reseed failed", zap.Error(err))
		}
	})
}
