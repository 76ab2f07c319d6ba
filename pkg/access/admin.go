package access

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/rolegate/pkg/policy"
	"github.com/platinummonkey/rolegate/pkg/rbac"
)

// Administrative operations. Each delegates to a store under the store timeout,
// surfaces store errors unchanged and then drops whatever cached state the
// mutation could have made stale.

func (c *Controller) invalidateUser(ctx context.Context, userID int64) error {
	if err := c.cache.InvalidateUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate cache for user %d: %w", userID, err)
	}
	return nil
}

func (c *Controller) invalidateAll(ctx context.Context) error {
	if err := c.cache.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}

// CreateRole creates a role under an optional parent
func (c *Controller) CreateRole(ctx context.Context, name, description string, parentID *int64) (int64, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	return c.roles.CreateRole(ctx, name, description, parentID)
}

// SetRoleParent re-parents a role and clears the whole cache, since any user
// above or below the role may gain or lose permissions
func (c *Controller) SetRoleParent(ctx context.Context, roleID int64, parentID *int64) error {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	if err := c.roles.SetRoleParent(ctx, roleID, parentID); err != nil {
		return err
	}
	return c.invalidateAll(ctx)
}

// DeactivateRole deactivates a role and clears the whole cache
func (c *Controller) DeactivateRole(ctx context.Context, roleID int64) error {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	if err := c.roles.DeactivateRole(ctx, roleID); err != nil {
		return err
	}
	return c.invalidateAll(ctx)
}

// ResolveAncestors returns roleID and its ancestors up to the root
func (c *Controller) ResolveAncestors(ctx context.Context, roleID int64) ([]int64, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	return c.roles.ResolveAncestors(ctx, roleID)
}

// CreatePermission defines a permission, returning the existing id for a known pair
func (c *Controller) CreatePermission(ctx context.Context, resource, action, description string) (int64, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	return c.roles.CreatePermission(ctx, resource, action, description)
}

// AssignRoleToUser grants a role to a user and drops that user's cached decisions
func (c *Controller) AssignRoleToUser(ctx context.Context, userID, roleID, grantedBy int64, expiresAt *time.Time) (bool, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	ok, err := c.roles.AssignRoleToUser(ctx, userID, roleID, grantedBy, expiresAt)
	if err != nil {
		return false, err
	}
	return ok, c.invalidateUser(ctx, userID)
}

// RevokeRoleFromUser revokes a role from a user and drops that user's cached decisions
func (c *Controller) RevokeRoleFromUser(ctx context.Context, userID, roleID int64) (bool, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	ok, err := c.roles.RevokeRoleFromUser(ctx, userID, roleID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, c.invalidateUser(ctx, userID)
}

// GetUserRoles returns the user's active, unexpired roles
func (c *Controller) GetUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	return c.roles.GetUserRoles(ctx, userID)
}

// AssignPermissionToRole grants a permission to a role and clears the whole cache
func (c *Controller) AssignPermissionToRole(ctx context.Context, roleID, permissionID, grantedBy int64) (bool, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	ok, err := c.roles.AssignPermissionToRole(ctx, roleID, permissionID, grantedBy)
	if err != nil {
		return false, err
	}
	return ok, c.invalidateAll(ctx)
}

// RevokePermissionFromRole revokes a grant and clears the whole cache
func (c *Controller) RevokePermissionFromRole(ctx context.Context, roleID, permissionID int64) (bool, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	ok, err := c.roles.RevokePermissionFromRole(ctx, roleID, permissionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, c.invalidateAll(ctx)
}

// GetRolePermissions returns the permissions granted directly to a role
func (c *Controller) GetRolePermissions(ctx context.Context, roleID int64) ([]rbac.Permission, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	return c.roles.GetRolePermissions(ctx, roleID)
}

// CreatePolicy stores a policy and drops the policy snapshot
func (c *Controller) CreatePolicy(ctx context.Context, p policy.Policy) (int64, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	id, err := c.policies.CreatePolicy(ctx, p)
	if err != nil {
		return 0, err
	}
	c.engine.Invalidate()
	return id, nil
}

// DeactivatePolicy turns a policy off and drops the policy snapshot
func (c *Controller) DeactivatePolicy(ctx context.Context, id int64) error {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()
	if err := c.policies.DeactivatePolicy(ctx, id); err != nil {
		return err
	}
	c.engine.Invalidate()
	return nil
}

// CleanupExpiredAssignments expires every assignment past its expiry, drops the
// cached decisions of the affected users and returns the number of rows changed
func (c *Controller) CleanupExpiredAssignments(ctx context.Context) (int64, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	users, n, err := c.roles.ExpireAssignments(ctx)
	if err != nil {
		return 0, err
	}
	for _, userID := range users {
		if err := c.invalidateUser(ctx, userID); err != nil {
			return n, err
		}
	}
	c.recorder.AddSwept(n)
	return n, nil
}
