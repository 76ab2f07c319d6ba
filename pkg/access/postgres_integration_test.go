//go:build integration

package access

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/rolegate/pkg/audit"
	"github.com/platinummonkey/rolegate/pkg/policy"
	"github.com/platinummonkey/rolegate/pkg/rbac"
)

// setupPostgres starts a disposable PostgreSQL container, skipping the test
// when no container runtime is available.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("rolegate_test"),
		postgres.WithUsername("rolegate"),
		postgres.WithPassword("rolegate_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})
	return db
}

func TestPostgres_DecisionsAndAudit(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	clock := rbac.NewManualClock(testEpoch)

	c, err := New(Options{DB: db, Dialect: rbac.DialectPostgres, Clock: clock})
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))
	require.NoError(t, c.Init(ctx), "migrations are idempotent")
	defer c.Shutdown(ctx)

	o := buildOrg(t, c)
	assign(t, c, 1, o.ceo)
	assign(t, c, 2, o.employee)
	assign(t, c, 3, o.auditor)

	assert.Equal(t, audit.ResultGranted, check(c, 1, "docs", "read"))
	assert.Equal(t, audit.ResultDenied, check(c, 2, "system", "admin"))

	_, err = c.CreatePolicy(ctx, policy.Policy{
		Name:            "freeze-finance",
		ResourcePattern: "finance.*",
		Effect:          policy.EffectDeny,
		Priority:        100,
	})
	require.NoError(t, err)
	assert.Equal(t, audit.ResultDenied, check(c, 3, "finance.ledger", "read"))

	expires := testEpoch.Add(time.Hour)
	_, err = c.AssignRoleToUser(ctx, 4, o.manager, 1, &expires)
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	n, err := c.CleanupExpiredAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := c.GetAccessStatistics(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalAccesses)
	assert.Equal(t, int64(1), stats.AccessByResult[audit.ResultGranted])

	entries, err := c.AuditLog().Search(ctx, audit.Filter{Result: audit.ResultDenied})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
