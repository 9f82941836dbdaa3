package rls

import (
	"context"
	"fmt"

	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/gorm"
)

// WithCompany publishes the caller's company to postgres row-level security
// policies for the remainder of tx. It is a no-op on other dialects.
func WithCompany(ctx context.Context, tx *gorm.DB) error {
	if tx == nil || tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}

	f := tenantctx.FilterFor(ctx)
	if f.Unrestricted {
		return tx.Exec("SELECT set_config('app.bypass_rls', 'on', true)").Error
	}
	return tx.Exec(
		"SELECT set_config('app.current_company_id', ?, true)",
		fmt.Sprintf("%d", int64(f.CompanyID)),
	).Error
}
