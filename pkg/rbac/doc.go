// Package rbac persists roles, permissions and the grants that connect them.
//
// # Overview
//
// Roles form a forest: each role has at most one parent. A grant held by a role
// also counts for every role on its ancestor chain, so a root role holds the
// permissions of everything below it. Permissions are (resource, action) pairs.
// Users receive roles through assignments that may carry an expiry, and roles
// receive permissions through role grants.
//
// A single Store covers all three record kinds:
//
//	store := rbac.NewStore(db)
//
//	ceo, _ := store.CreateRole(ctx, "ceo", "Chief executive", nil)
//	manager, _ := store.CreateRole(ctx, "manager", "Line manager", &ceo)
//
//	perm, _ := store.CreatePermission(ctx, "dept", "manage", "")
//	store.AssignPermissionToRole(ctx, manager, perm, adminID)
//	store.AssignRoleToUser(ctx, userID, manager, adminID, nil)
//
// # Hierarchy
//
// ResolveAncestors returns a role followed by its parent chain up to the root.
// Walks are bounded by MaxHierarchyDepth and a visited set, so a corrupted
// hierarchy yields a CycleError rather than an endless loop. CreateRole and
// SetRoleParent walk the proposed chain inside their write transaction and
// reject any link that would revisit the role being written.
//
// Roles are never deleted. DeactivateRole leaves assignments and grants in
// place; an inactive role simply contributes no permissions.
//
// # Assignment lifecycle
//
//	ACTIVE  --CleanupExpiredAssignments-->  EXPIRED
//	ACTIVE  --RevokeRoleFromUser-------->  REVOKED
//	EXPIRED / REVOKED  --AssignRoleToUser-->  ACTIVE
//
// GetUserRoles excludes expired rows at read time; the periodic sweep only
// records the transition.
//
// # Storage
//
// Migrations run on PostgreSQL (lib/pq) and SQLite (mattn/go-sqlite3). Queries
// use $n placeholders, and every timestamp comes from the store's Clock so
// expiry can be driven from tests with a ManualClock.
//
// # Errors
//
// Methods return *ValidationError, *NotFoundError, *CycleError or
// *StorageError, each matching its sentinel through errors.Is:
//
//	if errors.Is(err, rbac.ErrCycle) {
//		// reject the change
//	}
package rbac
