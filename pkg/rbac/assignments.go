package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AssignRoleToUser grants roleID to userID. Re-assigning an existing pair is an
// upsert that returns the row to the active state with the new grant details.
func (s *Store) AssignRoleToUser(ctx context.Context, userID, roleID, grantedBy int64, expiresAt *time.Time) (bool, error) {
	if userID <= 0 {
		return false, &ValidationError{Field: "user_id", Message: "must be positive"}
	}

	now := s.clock.Now()
	var expires sql.NullTime
	if expiresAt != nil {
		e := expiresAt.UTC().Truncate(time.Microsecond)
		if !e.After(now) {
			return false, &ValidationError{Field: "expires_at", Message: "must be in the future"}
		}
		expires = sql.NullTime{Time: e, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("assign role", fmt.Errorf("failed to start transaction: %w", err))
	}
	defer tx.Rollback()

	active, err := roleActive(ctx, tx, roleID)
	if err != nil {
		return false, storageErr("assign role", err)
	}
	if !active {
		return false, &ValidationError{Field: "role_id", Message: fmt.Sprintf("role %d is inactive", roleID)}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, granted_by, granted_at, expires_at, is_active, status)
		VALUES ($1, $2, $3, $4, $5, TRUE, 'active')
		ON CONFLICT (user_id, role_id) DO UPDATE SET
			granted_by = excluded.granted_by,
			granted_at = excluded.granted_at,
			expires_at = excluded.expires_at,
			is_active = TRUE,
			status = 'active'
	`, userID, roleID, grantedBy, now, expires); err != nil {
		return false, storageErr("assign role", fmt.Errorf("failed to assign role to user: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr("assign role", fmt.Errorf("failed to commit role assignment: %w", err))
	}
	return true, nil
}

// RevokeRoleFromUser moves an active assignment to the revoked state. It reports
// false when no active assignment existed.
func (s *Store) RevokeRoleFromUser(ctx context.Context, userID, roleID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_roles SET is_active = FALSE, status = 'revoked'
		WHERE user_id = $1 AND role_id = $2 AND is_active = TRUE
	`, userID, roleID)
	if err != nil {
		return false, storageErr("revoke role", fmt.Errorf("failed to revoke role from user: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, storageErr("revoke role", err)
	}
	return n > 0, nil
}

// GetUserRoles returns the active roles held by userID through active, unexpired
// assignments.
func (s *Store) GetUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.description, r.parent_id, r.is_active, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		  AND ur.is_active = TRUE
		  AND r.is_active = TRUE
		  AND (ur.expires_at IS NULL OR ur.expires_at > $2)
		ORDER BY r.id
	`, userID, s.clock.Now())
	if err != nil {
		return nil, storageErr("get user roles", fmt.Errorf("failed to get user roles: %w", err))
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storageErr("get user roles", fmt.Errorf("failed to scan role: %w", err))
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get user roles", err)
	}
	return roles, nil
}

// ListUserAssignments returns every assignment row for userID regardless of state
func (s *Store) ListUserAssignments(ctx context.Context, userID int64) ([]UserRoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, role_id, granted_by, granted_at, expires_at, is_active, status
		FROM user_roles
		WHERE user_id = $1
		ORDER BY role_id
	`, userID)
	if err != nil {
		return nil, storageErr("list assignments", fmt.Errorf("failed to list user assignments: %w", err))
	}
	defer rows.Close()

	var assignments []UserRoleAssignment
	for rows.Next() {
		var a UserRoleAssignment
		var expires sql.NullTime
		var status string
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.GrantedBy, &a.GrantedAt, &expires, &a.IsActive, &status); err != nil {
			return nil, storageErr("list assignments", fmt.Errorf("failed to scan assignment: %w", err))
		}
		if expires.Valid {
			t := expires.Time
			a.ExpiresAt = &t
		}
		a.Status = AssignmentStatus(status)
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list assignments", err)
	}
	return assignments, nil
}

// AssignPermissionToRole grants permissionID to roleID with upsert semantics
func (s *Store) AssignPermissionToRole(ctx context.Context, roleID, permissionID, grantedBy int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("assign permission", fmt.Errorf("failed to start transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := roleActive(ctx, tx, roleID); err != nil {
		return false, storageErr("assign permission", err)
	}
	if err := permissionExists(ctx, tx, permissionID); err != nil {
		return false, storageErr("assign permission", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, granted_by, granted_at, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (role_id, permission_id) DO UPDATE SET
			granted_by = excluded.granted_by,
			granted_at = excluded.granted_at,
			is_active = TRUE
	`, roleID, permissionID, grantedBy, s.clock.Now()); err != nil {
		return false, storageErr("assign permission", fmt.Errorf("failed to assign permission to role: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr("assign permission", fmt.Errorf("failed to commit permission grant: %w", err))
	}
	return true, nil
}

// RevokePermissionFromRole deactivates an active grant. It reports false when no
// active grant existed.
func (s *Store) RevokePermissionFromRole(ctx context.Context, roleID, permissionID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE role_permissions SET is_active = FALSE
		WHERE role_id = $1 AND permission_id = $2 AND is_active = TRUE
	`, roleID, permissionID)
	if err != nil {
		return false, storageErr("revoke permission", fmt.Errorf("failed to revoke permission from role: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, storageErr("revoke permission", err)
	}
	return n > 0, nil
}

// CleanupExpiredAssignments deactivates every active assignment whose expiry has
// passed and returns how many rows changed.
func (s *Store) CleanupExpiredAssignments(ctx context.Context) (int64, error) {
	_, n, err := s.ExpireAssignments(ctx)
	return n, err
}

// ExpireAssignments is CleanupExpiredAssignments that also reports the distinct
// users whose assignments were expired. The read and the update share one
// transaction so a concurrent reader sees each row either active or expired.
func (s *Store) ExpireAssignments(ctx context.Context) ([]int64, int64, error) {
	now := s.clock.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, storageErr("cleanup expired", fmt.Errorf("failed to start transaction: %w", err))
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM user_roles
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY user_id
	`, now)
	if err != nil {
		return nil, 0, storageErr("cleanup expired", fmt.Errorf("failed to find expired assignments: %w", err))
	}
	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, 0, storageErr("cleanup expired", fmt.Errorf("failed to scan user id: %w", err))
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, storageErr("cleanup expired", err)
	}
	rows.Close()

	result, err := tx.ExecContext(ctx, `
		UPDATE user_roles SET is_active = FALSE, status = 'expired'
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return nil, 0, storageErr("cleanup expired", fmt.Errorf("failed to expire assignments: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, 0, storageErr("cleanup expired", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, storageErr("cleanup expired", fmt.Errorf("failed to commit expiry sweep: %w", err))
	}
	return users, n, nil
}
