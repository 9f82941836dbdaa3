package tenantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const CompanyColumn = "company_id"

// Filter is the row restriction a tenant-owned query must apply.
type Filter struct {
	Unrestricted bool
	CompanyID    snowflake.ID
}

// FilterFor derives the filter from ctx. Platform admins are unrestricted,
// a bound company restricts to itself, anything else restricts to NoCompany.
func FilterFor(ctx context.Context) Filter {
	tc, ok := From(ctx)
	if !ok {
		return Filter{CompanyID: NoCompany}
	}
	if tc.PlatformAdmin {
		return Filter{Unrestricted: true}
	}
	if tc.HasCompany() {
		return Filter{CompanyID: tc.CompanyID}
	}
	return Filter{CompanyID: NoCompany}
}

func (f Filter) Allows(companyID snowflake.ID) bool {
	if f.Unrestricted {
		return true
	}
	return companyID == f.CompanyID && companyID != NoCompany
}

// Scope restricts a gorm statement to the caller's company.
func Scope(ctx context.Context) func(*gorm.DB) *gorm.DB {
	f := FilterFor(ctx)
	return func(db *gorm.DB) *gorm.DB {
		if f.Unrestricted {
			return db
		}
		return db.Where(clause.Eq{
			Column: clause.Column{Table: clause.CurrentTable, Name: CompanyColumn},
			Value:  f.CompanyID,
		})
	}
}
