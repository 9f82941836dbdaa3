package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	leasedomain "github.com/smallbiznis/greenpm/internal/lease/domain"
	maintenancedomain "github.com/smallbiznis/greenpm/internal/maintenance/domain"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	platformadmindomain "github.com/smallbiznis/greenpm/internal/platformadmin/domain"
	propertydomain "github.com/smallbiznis/greenpm/internal/property/domain"
	"github.com/smallbiznis/greenpm/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the application owns. The casbin_rule table is
// created by the policy adapter itself.
func Models() []any {
	return []any{
		&companydomain.Company{},
		&authdomain.User{},
		&authdomain.PasswordReset{},
		&authdomain.RevokedToken{},
		&plandomain.Plan{},
		&plandomain.PlanFeature{},
		&plandomain.Assignment{},
		&plandomain.Contract{},
		&featureflagdomain.FeatureFlag{},
		&auditdomain.AuditLog{},
		&propertydomain.Property{},
		&leasedomain.Lease{},
		&maintenancedomain.Request{},
		&platformadmindomain.Notification{},
	}
}

// Migrate applies the embedded SQL migrations on postgres. Other dialects
// are schema-managed by AutoMigrate from the model tags, which carry the
// same unique and partial unique indexes.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if db.IsPostgres(conn) {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
