package rbac

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDatabaseAvailable(t *testing.T) {
	original := os.Getenv("TEST_POSTGRES_PRIMARY")
	defer func() {
		if original != "" {
			os.Setenv("TEST_POSTGRES_PRIMARY", original)
		} else {
			os.Unsetenv("TEST_POSTGRES_PRIMARY")
		}
	}()

	t.Run("returns true when env var is set", func(t *testing.T) {
		os.Setenv("TEST_POSTGRES_PRIMARY", "postgres://test")
		assert.True(t, IsDatabaseAvailable())
	})

	t.Run("returns false when env var is not set", func(t *testing.T) {
		os.Unsetenv("TEST_POSTGRES_PRIMARY")
		assert.False(t, IsDatabaseAvailable())
	})
}

func TestOpenTestSQLite_AppliesMigrations(t *testing.T) {
	db := OpenTestSQLite(t)

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM rbac_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(GetMigrations()), count)

	// Re-running is a no-op
	require.NoError(t, RunMigrations(context.Background(), db, DialectSQLite, GetMigrations()...))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM rbac_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations()), count)
}

func TestMigration_Render(t *testing.T) {
	m := Migration{SQL: "CREATE TABLE t (id {{id}})"}
	assert.Equal(t, "CREATE TABLE t (id BIGSERIAL PRIMARY KEY)", m.Render(DialectPostgres))
	assert.Equal(t, "CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT)", m.Render(DialectSQLite))
}
