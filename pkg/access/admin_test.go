package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rolegate/pkg/audit"
	"github.com/platinummonkey/rolegate/pkg/policy"
	"github.com/platinummonkey/rolegate/pkg/rbac"
)

func TestAdmin_InvalidationScope(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller
	ctx := context.Background()
	o := buildOrg(t, c)

	t.Run("user assignment invalidates one user", func(t *testing.T) {
		env.cache.reset()
		_, err := c.AssignRoleToUser(ctx, 5, o.employee, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), env.cache.userCalls.Load())
		assert.Zero(t, env.cache.allCalls.Load())
	})

	t.Run("revoking a missing assignment invalidates nothing", func(t *testing.T) {
		env.cache.reset()
		revoked, err := c.RevokeRoleFromUser(ctx, 5, o.ceo)
		require.NoError(t, err)
		assert.False(t, revoked)
		assert.Zero(t, env.cache.userCalls.Load())
	})

	t.Run("grant invalidates everything", func(t *testing.T) {
		env.cache.reset()
		grant(t, c, o.employee, "wiki", "edit")
		assert.Equal(t, int64(1), env.cache.allCalls.Load())
		assert.Zero(t, env.cache.userCalls.Load())
	})

	t.Run("role creation invalidates nothing", func(t *testing.T) {
		env.cache.reset()
		_, err := c.CreateRole(ctx, "intern", "", &o.employee)
		require.NoError(t, err)
		assert.Zero(t, env.cache.allCalls.Load())
		assert.Zero(t, env.cache.userCalls.Load())
	})

	t.Run("hierarchy change invalidates everything", func(t *testing.T) {
		env.cache.reset()
		require.NoError(t, c.SetRoleParent(ctx, o.auditor, &o.manager))
		assert.Equal(t, int64(1), env.cache.allCalls.Load())
	})

	t.Run("failed mutation invalidates nothing", func(t *testing.T) {
		env.cache.reset()
		err := c.SetRoleParent(ctx, o.ceo, &o.employee)
		assert.ErrorIs(t, err, rbac.ErrCycle)
		assert.Zero(t, env.cache.allCalls.Load())
	})
}

func TestAdmin_MutationsReachDecisions(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller
	ctx := context.Background()
	o := buildOrg(t, c)
	assign(t, c, 1, o.employee)

	require.Equal(t, audit.ResultDenied, check(c, 1, "wiki", "edit"))
	permID := grant(t, c, o.employee, "wiki", "edit")
	assert.Equal(t, audit.ResultGranted, check(c, 1, "wiki", "edit"))

	revoked, err := c.RevokePermissionFromRole(ctx, o.employee, permID)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, audit.ResultDenied, check(c, 1, "wiki", "edit"))

	require.Equal(t, audit.ResultGranted, check(c, 1, "docs", "read"))
	revoked, err = c.RevokeRoleFromUser(ctx, 1, o.employee)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, audit.ResultDenied, check(c, 1, "docs", "read"))
}

func TestAdmin_AssignRoleIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller
	ctx := context.Background()
	o := buildOrg(t, c)

	for i := 0; i < 2; i++ {
		ok, err := c.AssignRoleToUser(ctx, 1, o.manager, 1, nil)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	roles, err := c.GetUserRoles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "manager", roles[0].Name)
}

func TestAdmin_CreatePermissionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.controller.CreatePermission(ctx, "docs", "read", "Read documents")
	require.NoError(t, err)
	second, err := env.controller.CreatePermission(ctx, "docs", "read", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAdmin_ExpiredAssignments(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller
	ctx := context.Background()
	o := buildOrg(t, c)

	expires := testEpoch.Add(time.Hour)
	_, err := c.AssignRoleToUser(ctx, 1, o.employee, 1, &expires)
	require.NoError(t, err)
	require.Equal(t, audit.ResultGranted, check(c, 1, "docs", "read"))

	past := testEpoch.Add(-time.Minute)
	_, err = c.AssignRoleToUser(ctx, 2, o.employee, 1, &past)
	assert.ErrorIs(t, err, rbac.ErrValidation)

	env.clock.Advance(2 * time.Hour)

	roles, err := c.GetUserRoles(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, roles, "expired assignments stop counting before the sweep")

	env.cache.reset()
	n, err := c.CleanupExpiredAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), env.cache.userCalls.Load())
	assert.Equal(t, audit.ResultDenied, check(c, 1, "docs", "read"))

	n, err = c.CleanupExpiredAssignments(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.recorder.mu.Lock()
	defer env.recorder.mu.Unlock()
	assert.Equal(t, int64(1), env.recorder.swept)
}

func TestAdmin_ResolveAncestors(t *testing.T) {
	env := newTestEnv(t)
	c := env.controller
	o := buildOrg(t, c)

	chain, err := c.ResolveAncestors(context.Background(), o.employee)
	require.NoError(t, err)
	assert.Equal(t, []int64{o.employee, o.manager, o.ceo}, chain)
}

func TestAdmin_PolicyValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.controller.CreatePolicy(context.Background(), policy.Policy{
		Name:            "bad",
		ResourcePattern: "docs (all)",
		Effect:          policy.EffectDeny,
	})
	assert.ErrorIs(t, err, rbac.ErrValidation)
	assert.ErrorIs(t, env.controller.DeactivatePolicy(context.Background(), 404), rbac.ErrNotFound)
}
