package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/internal/audit"
	"github.com/smallbiznis/greenpm/internal/auth"
	"github.com/smallbiznis/greenpm/internal/authorization"
	"github.com/smallbiznis/greenpm/internal/clock"
	"github.com/smallbiznis/greenpm/internal/company"
	"github.com/smallbiznis/greenpm/internal/config"
	"github.com/smallbiznis/greenpm/internal/featureflag"
	"github.com/smallbiznis/greenpm/internal/lease"
	"github.com/smallbiznis/greenpm/internal/maintenance"
	"github.com/smallbiznis/greenpm/internal/migration"
	"github.com/smallbiznis/greenpm/internal/observability"
	"github.com/smallbiznis/greenpm/internal/plan"
	"github.com/smallbiznis/greenpm/internal/platformadmin"
	"github.com/smallbiznis/greenpm/internal/property"
	"github.com/smallbiznis/greenpm/internal/providers"
	"github.com/smallbiznis/greenpm/internal/ratelimit"
	"github.com/smallbiznis/greenpm/internal/report"
	"github.com/smallbiznis/greenpm/internal/scheduler"
	"github.com/smallbiznis/greenpm/internal/seed"
	"github.com/smallbiznis/greenpm/internal/server"
	"github.com/smallbiznis/greenpm/internal/signup"
	"github.com/smallbiznis/greenpm/internal/tenancy"
	"github.com/smallbiznis/greenpm/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		providers.Module,
		ratelimit.Module,

		// Platform
		audit.Module,
		company.Module,
		plan.Module,
		featureflag.Module,
		tenancy.Module,
		auth.Module,
		authorization.Module,
		signup.Module,
		platformadmin.Module,
		seed.Module,

		// Property management
		property.Module,
		lease.Module,
		maintenance.Module,
		report.Module,

		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
