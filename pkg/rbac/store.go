package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Store handles role, permission and assignment persistence
type Store struct {
	db    *sql.DB
	clock Clock
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the clock used for timestamps and expiry checks
func WithClock(c Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, clock: SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Now returns the store clock's current time
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

const roleColumns = `id, name, description, parent_id, is_active, created_at, updated_at`

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var parentID sql.NullInt64
	if err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&parentID,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if parentID.Valid {
		id := parentID.Int64
		role.ParentID = &id
	}
	return &role, nil
}

// CreateRole creates a new role, optionally under parentID. The proposed ancestor
// chain is walked inside the insert transaction.
func (s *Store) CreateRole(ctx context.Context, name, description string, parentID *int64) (int64, error) {
	name = strings.TrimSpace(name)
	if err := ValidateStruct(RoleInput{Name: name, Description: description, ParentID: parentID}); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("create role", fmt.Errorf("failed to start transaction: %w", err))
	}
	defer tx.Rollback()

	if parentID != nil {
		chain, err := s.ancestors(ctx, tx, *parentID)
		if err != nil {
			return 0, storageErr("create role", err)
		}
		if len(chain) >= MaxHierarchyDepth {
			return 0, &CycleError{RoleID: *parentID, Path: chain}
		}
	}

	now := s.clock.Now()
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, parent_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5)
		RETURNING id
	`, name, description, nullInt64(parentID), now, now).Scan(&id)
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, &ValidationError{Field: "name", Message: fmt.Sprintf("role %q already exists", name)}
		}
		return 0, storageErr("create role", fmt.Errorf("failed to create role: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("create role", fmt.Errorf("failed to commit role: %w", err))
	}
	return id, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE id = $1`, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "role", Key: fmt.Sprint(roleID)}
	}
	if err != nil {
		return nil, storageErr("get role", fmt.Errorf("failed to get role: %w", err))
	}
	return role, nil
}

// GetRoleByName retrieves a role by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "role", Key: name}
	}
	if err != nil {
		return nil, storageErr("get role", fmt.Errorf("failed to get role by name: %w", err))
	}
	return role, nil
}

// ListRoles lists every role, active or not, by id
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`)
	if err != nil {
		return nil, storageErr("list roles", fmt.Errorf("failed to list roles: %w", err))
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storageErr("list roles", fmt.Errorf("failed to scan role: %w", err))
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list roles", err)
	}
	return roles, nil
}

// SetRoleParent re-parents a role. A nil parentID makes the role a root.
func (s *Store) SetRoleParent(ctx context.Context, roleID int64, parentID *int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("set role parent", fmt.Errorf("failed to start transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := roleActive(ctx, tx, roleID); err != nil {
		return storageErr("set role parent", err)
	}

	if parentID != nil {
		if *parentID == roleID {
			return &CycleError{RoleID: roleID, Path: []int64{roleID, roleID}}
		}
		chain, err := s.ancestors(ctx, tx, *parentID)
		if err != nil {
			return storageErr("set role parent", err)
		}
		for _, id := range chain {
			if id == roleID {
				return &CycleError{RoleID: roleID, Path: append([]int64{roleID}, chain...)}
			}
		}
		if len(chain) >= MaxHierarchyDepth {
			return &CycleError{RoleID: roleID, Path: append([]int64{roleID}, chain...)}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE roles SET parent_id = $1, updated_at = $2 WHERE id = $3`,
		nullInt64(parentID), s.clock.Now(), roleID,
	); err != nil {
		return storageErr("set role parent", fmt.Errorf("failed to update role parent: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return storageErr("set role parent", fmt.Errorf("failed to commit role parent: %w", err))
	}
	return nil
}

// DeactivateRole marks a role inactive. Assignments and grants are left in place
// and stop counting because only active roles contribute permissions.
func (s *Store) DeactivateRole(ctx context.Context, roleID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE roles SET is_active = FALSE, updated_at = $1 WHERE id = $2`,
		s.clock.Now(), roleID,
	)
	if err != nil {
		return storageErr("deactivate role", fmt.Errorf("failed to deactivate role: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storageErr("deactivate role", err)
	}
	if n == 0 {
		return &NotFoundError{Kind: "role", Key: fmt.Sprint(roleID)}
	}
	return nil
}

// ResolveAncestors returns roleID followed by its parent, grandparent and so on up
// to the root. Each id appears at most once.
func (s *Store) ResolveAncestors(ctx context.Context, roleID int64) ([]int64, error) {
	chain, err := s.ancestors(ctx, s.db, roleID)
	if err != nil {
		return nil, storageErr("resolve ancestors", err)
	}
	return chain, nil
}

// ancestors walks parent pointers one row at a time, bounded by MaxHierarchyDepth
// and a visited set.
func (s *Store) ancestors(ctx context.Context, q querier, roleID int64) ([]int64, error) {
	visited := make(map[int64]bool)
	chain := make([]int64, 0, 4)
	current := roleID

	for {
		if visited[current] || len(chain) >= MaxHierarchyDepth {
			return nil, &CycleError{RoleID: roleID, Path: append(chain, current)}
		}

		var parentID sql.NullInt64
		err := q.QueryRowContext(ctx, `SELECT parent_id FROM roles WHERE id = $1`, current).Scan(&parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &NotFoundError{Kind: "role", Key: fmt.Sprint(current)}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parent of role %d: %w", current, err)
		}

		visited[current] = true
		chain = append(chain, current)

		if !parentID.Valid {
			return chain, nil
		}
		current = parentID.Int64
	}
}

// ResolveDescendants returns roleID followed by every role below it, level by
// level. The hierarchy is read once and walked in memory; a role reached twice or
// a level past MaxHierarchyDepth is a CycleError.
func (s *Store) ResolveDescendants(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, parent_id FROM roles ORDER BY id`)
	if err != nil {
		return nil, storageErr("resolve descendants", fmt.Errorf("failed to read hierarchy: %w", err))
	}
	defer rows.Close()

	known := make(map[int64]bool)
	children := make(map[int64][]int64)
	for rows.Next() {
		var id int64
		var parentID sql.NullInt64
		if err := rows.Scan(&id, &parentID); err != nil {
			return nil, storageErr("resolve descendants", fmt.Errorf("failed to scan role: %w", err))
		}
		known[id] = true
		if parentID.Valid {
			children[parentID.Int64] = append(children[parentID.Int64], id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("resolve descendants", err)
	}
	if !known[roleID] {
		return nil, &NotFoundError{Kind: "role", Key: fmt.Sprint(roleID)}
	}

	visited := map[int64]bool{roleID: true}
	result := []int64{roleID}
	level := []int64{roleID}
	for depth := 1; len(level) > 0; depth++ {
		var next []int64
		for _, id := range level {
			for _, child := range children[id] {
				if visited[child] || depth >= MaxHierarchyDepth {
					return nil, &CycleError{RoleID: roleID, Path: append(result, child)}
				}
				visited[child] = true
				result = append(result, child)
				next = append(next, child)
			}
		}
		level = next
	}
	return result, nil
}

// roleActive reports whether roleID is active, or a NotFoundError when it does not exist
func roleActive(ctx context.Context, q querier, roleID int64) (bool, error) {
	var active bool
	err := q.QueryRowContext(ctx, `SELECT is_active FROM roles WHERE id = $1`, roleID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &NotFoundError{Kind: "role", Key: fmt.Sprint(roleID)}
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up role %d: %w", roleID, err)
	}
	return active, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
