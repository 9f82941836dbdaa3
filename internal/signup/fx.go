package signup

import (
	"github.com/smallbiznis/greenpm/internal/signup/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("signup.service",
	fx.Provide(newProvisioner),
	fx.Provide(NewService),
)

func newProvisioner(p ProvisionerParams) domain.Provisioner {
	return NewPlanProvisioner(p)
}
