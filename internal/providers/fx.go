package providers

import (
	"github.com/smallbiznis/greenpm/internal/providers/dispatch"
	"github.com/smallbiznis/greenpm/internal/providers/email"
	"github.com/smallbiznis/greenpm/internal/providers/pdf"
	"github.com/smallbiznis/greenpm/internal/providers/sms"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	sms.Module,
	pdf.Module,
	dispatch.Module,
)
