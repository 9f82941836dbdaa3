package migration

import (
	"io/fs"
	"strings"
	"testing"

	leasedomain "github.com/smallbiznis/greenpm/internal/lease/domain"
	"github.com/smallbiznis/greenpm/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestEmbeddedMigrationsDeclareConcurrencyIndexes(t *testing.T) {
	var all strings.Builder
	require.NoError(t, fs.WalkDir(embeddedMigrations, migrationsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return err
		}
		raw, err := fs.ReadFile(embeddedMigrations, path)
		if err != nil {
			return err
		}
		all.Write(raw)
		return nil
	}))

	sql := all.String()
	for _, index := range []string{
		"ux_feature_flags_company_module",
		"ux_plan_assignments_company_active",
		"ux_leases_property_active",
		"ux_companies_subdomain",
		"ux_users_email",
	} {
		assert.Contains(t, sql, index)
	}
	for _, table := range []string{
		"companies", "users", "plans", "plan_features", "plan_assignments", "contracts",
		"feature_flags", "audit_logs", "properties", "leases", "maintenance_requests",
		"notifications", "password_resets", "revoked_tokens",
	} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestMigrateAutoMigratesNonPostgres(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, Migrate(conn))

	for _, model := range Models() {
		assert.True(t, conn.Migrator().HasTable(model), "%T", model)
	}
	assert.True(t, conn.Migrator().HasIndex(&leasedomain.Lease{}, "ux_leases_property_active"))

	// second run is a no-op
	require.NoError(t, Migrate(conn))
}

func TestMigrateRequiresHandle(t *testing.T) {
	assert.Error(t, Migrate(nil))
}
