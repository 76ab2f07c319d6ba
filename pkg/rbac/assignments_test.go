package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AssignRoleToUser_Upsert(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	roleID, err := store.CreateRole(ctx, "editor", "", nil)
	require.NoError(t, err)

	ok, err := store.AssignRoleToUser(ctx, 42, roleID, 1, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AssignRoleToUser(ctx, 42, roleID, 1, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	var count int
	require.NoError(t, store.DB().QueryRow(
		`SELECT COUNT(*) FROM user_roles WHERE user_id = $1 AND role_id = $2 AND is_active = TRUE`,
		42, roleID,
	).Scan(&count))
	assert.Equal(t, 1, count)

	roles, err := store.GetUserRoles(ctx, 42)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "editor", roles[0].Name)
}

func TestStore_AssignRoleToUser_Errors(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	roleID, err := store.CreateRole(ctx, "editor", "", nil)
	require.NoError(t, err)

	t.Run("missing role", func(t *testing.T) {
		_, err := store.AssignRoleToUser(ctx, 1, 9999, 1, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("past expiry", func(t *testing.T) {
		past := clock.Now().Add(-time.Minute)
		_, err := store.AssignRoleToUser(ctx, 1, roleID, 1, &past)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("expiry equal to now", func(t *testing.T) {
		now := clock.Now()
		_, err := store.AssignRoleToUser(ctx, 1, roleID, 1, &now)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("invalid user", func(t *testing.T) {
		_, err := store.AssignRoleToUser(ctx, 0, roleID, 1, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("inactive role", func(t *testing.T) {
		inactive, err := store.CreateRole(ctx, "retired", "", nil)
		require.NoError(t, err)
		require.NoError(t, store.DeactivateRole(ctx, inactive))

		_, err = store.AssignRoleToUser(ctx, 1, inactive, 1, nil)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestStore_ExpiredAssignments(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	roleID, err := store.CreateRole(ctx, "contractor", "", nil)
	require.NoError(t, err)
	permanent, err := store.CreateRole(ctx, "staff", "", nil)
	require.NoError(t, err)

	expiresAt := clock.Now().Add(time.Hour)
	_, err = store.AssignRoleToUser(ctx, 7, roleID, 1, &expiresAt)
	require.NoError(t, err)
	_, err = store.AssignRoleToUser(ctx, 7, permanent, 1, nil)
	require.NoError(t, err)

	roles, err := store.GetUserRoles(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	clock.Advance(2 * time.Hour)

	// Excluded at read time before any sweep
	roles, err = store.GetUserRoles(ctx, 7)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, permanent, roles[0].ID)

	users, swept, err := store.ExpireAssignments(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, swept, int64(1))
	assert.Equal(t, []int64{7}, users)

	swept, err = store.CleanupExpiredAssignments(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	assignments, err := store.ListUserAssignments(ctx, 7)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, AssignmentExpired, assignments[0].Status)
	assert.False(t, assignments[0].IsActive)
	require.NotNil(t, assignments[0].ExpiresAt)
	assert.True(t, assignments[0].ExpiresAt.Equal(expiresAt))
	assert.Equal(t, AssignmentActive, assignments[1].Status)

	// Fresh assignment reactivates the expired row
	_, err = store.AssignRoleToUser(ctx, 7, roleID, 1, nil)
	require.NoError(t, err)
	roles, err = store.GetUserRoles(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, roles, 2)
}

func TestStore_RevokeRoleFromUser(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	roleID, err := store.CreateRole(ctx, "auditor", "", nil)
	require.NoError(t, err)
	_, err = store.AssignRoleToUser(ctx, 3, roleID, 1, nil)
	require.NoError(t, err)

	revoked, err := store.RevokeRoleFromUser(ctx, 3, roleID)
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.RevokeRoleFromUser(ctx, 3, roleID)
	require.NoError(t, err)
	assert.False(t, revoked)

	roles, err := store.GetUserRoles(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, roles)

	assignments, err := store.ListUserAssignments(ctx, 3)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, AssignmentRevoked, assignments[0].Status)
}

func TestStore_RolePermissions(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	roleID, err := store.CreateRole(ctx, "reader", "", nil)
	require.NoError(t, err)
	readID, err := store.CreatePermission(ctx, "docs", "read", "")
	require.NoError(t, err)
	writeID, err := store.CreatePermission(ctx, "docs", "write", "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ok, err := store.AssignPermissionToRole(ctx, roleID, readID, 1)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	_, err = store.AssignPermissionToRole(ctx, roleID, writeID, 1)
	require.NoError(t, err)

	perms, err := store.GetRolePermissions(ctx, roleID)
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, "docs:read", perms[0].Key())
	assert.Equal(t, "docs:write", perms[1].Key())

	revoked, err := store.RevokePermissionFromRole(ctx, roleID, writeID)
	require.NoError(t, err)
	assert.True(t, revoked)

	perms, err = store.GetRolePermissions(ctx, roleID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "docs:read", perms[0].Key())

	t.Run("missing permission", func(t *testing.T) {
		_, err := store.AssignPermissionToRole(ctx, roleID, 555, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing role", func(t *testing.T) {
		_, err := store.AssignPermissionToRole(ctx, 555, readID, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("inactive role grants nothing", func(t *testing.T) {
		require.NoError(t, store.DeactivateRole(ctx, roleID))
		perms, err := store.GetRolePermissions(ctx, roleID)
		require.NoError(t, err)
		assert.Empty(t, perms)
	})
}

func TestStore_RolesGranting(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	editor, err := store.CreateRole(ctx, "editor", "", nil)
	require.NoError(t, err)
	writer, err := store.CreateRole(ctx, "writer", "", nil)
	require.NoError(t, err)
	permID, err := store.CreatePermission(ctx, "docs", "write", "")
	require.NoError(t, err)

	_, err = store.AssignPermissionToRole(ctx, editor, permID, 1)
	require.NoError(t, err)
	_, err = store.AssignPermissionToRole(ctx, writer, permID, 1)
	require.NoError(t, err)

	ids, err := store.RolesGranting(ctx, "docs", "write")
	require.NoError(t, err)
	assert.Equal(t, []int64{editor, writer}, ids)

	_, err = store.RevokePermissionFromRole(ctx, editor, permID)
	require.NoError(t, err)
	require.NoError(t, store.DeactivateRole(ctx, writer))

	ids, err = store.RolesGranting(ctx, "docs", "write")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = store.RolesGranting(ctx, "docs", "delete")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
