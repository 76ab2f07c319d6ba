package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const permissionColumns = `id, resource, action, description, is_active, created_at`

func scanPermission(row rowScanner) (*Permission, error) {
	var p Permission
	if err := row.Scan(
		&p.ID,
		&p.Resource,
		&p.Action,
		&p.Description,
		&p.IsActive,
		&p.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePermission defines a (resource, action) permission. The call is idempotent:
// when the pair already exists its id is returned and the row is left unchanged.
func (s *Store) CreatePermission(ctx context.Context, resource, action, description string) (int64, error) {
	if err := ValidateStruct(PermissionInput{Resource: resource, Action: action, Description: description}); err != nil {
		return 0, err
	}
	if err := validateToken("resource", resource); err != nil {
		return 0, err
	}
	if err := validateToken("action", action); err != nil {
		return 0, err
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (resource, action, description, is_active, created_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (resource, action) DO NOTHING
		RETURNING id
	`, resource, action, description, s.clock.Now()).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, storageErr("create permission", fmt.Errorf("failed to create permission: %w", err))
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM permissions WHERE resource = $1 AND action = $2`,
		resource, action,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("create permission", fmt.Errorf("failed to load existing permission: %w", err))
	}
	return id, nil
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, permissionID int64) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, permissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "permission", Key: fmt.Sprint(permissionID)}
	}
	if err != nil {
		return nil, storageErr("get permission", fmt.Errorf("failed to get permission: %w", err))
	}
	return p, nil
}

// ListPermissions lists every permission by id
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY id`)
	if err != nil {
		return nil, storageErr("list permissions", fmt.Errorf("failed to list permissions: %w", err))
	}
	return collectPermissions("list permissions", rows)
}

// GetRolePermissions returns the permissions granted directly to roleID. Only active
// grants of active permissions on an active role are returned; inherited permissions
// are resolved by the caller through ResolveAncestors.
func (s *Store) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.resource, p.action, p.description, p.is_active, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		JOIN roles r ON r.id = rp.role_id
		WHERE rp.role_id = $1
		  AND rp.is_active = TRUE
		  AND p.is_active = TRUE
		  AND r.is_active = TRUE
		ORDER BY p.id
	`, roleID)
	if err != nil {
		return nil, storageErr("get role permissions", fmt.Errorf("failed to get role permissions: %w", err))
	}
	return collectPermissions("get role permissions", rows)
}

func collectPermissions(op string, rows *sql.Rows) ([]Permission, error) {
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, storageErr(op, fmt.Errorf("failed to scan permission: %w", err))
		}
		perms = append(perms, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return perms, nil
}

func permissionExists(ctx context.Context, q querier, permissionID int64) error {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM permissions WHERE id = $1`, permissionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Kind: "permission", Key: fmt.Sprint(permissionID)}
	}
	if err != nil {
		return fmt.Errorf("failed to look up permission %d: %w", permissionID, err)
	}
	return nil
}

// RolesGranting returns the active roles holding an active grant of the active
// (resource, action) permission, by id.
func (s *Store) RolesGranting(ctx context.Context, resource, action string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		JOIN roles r ON r.id = rp.role_id
		WHERE p.resource = $1
		  AND p.action = $2
		  AND rp.is_active = TRUE
		  AND p.is_active = TRUE
		  AND r.is_active = TRUE
		ORDER BY r.id
	`, resource, action)
	if err != nil {
		return nil, storageErr("roles granting", fmt.Errorf("failed to find granting roles: %w", err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("roles granting", fmt.Errorf("failed to scan role id: %w", err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("roles granting", err)
	}
	return ids, nil
}
