package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/rolegate/pkg/rbac"
)

// GetMigrations returns the policy table migrations
func GetMigrations() []rbac.Migration {
	return []rbac.Migration{
		{
			Version:     100,
			Description: "Create policies table",
			SQL: `
				CREATE TABLE IF NOT EXISTS policies (
					id {{id}},
					name VARCHAR(100) NOT NULL UNIQUE,
					resource_pattern VARCHAR(255) NOT NULL,
					conditions TEXT NOT NULL DEFAULT '{}',
					effect VARCHAR(8) NOT NULL,
					priority INTEGER NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_policies_active_priority ON policies(is_active, priority);
			`,
		},
	}
}

// Store persists policies
type Store struct {
	db    *sql.DB
	clock rbac.Clock
}

// NewStore creates a policy store. A nil clock uses the system clock.
func NewStore(db *sql.DB, clock rbac.Clock) *Store {
	if clock == nil {
		clock = rbac.SystemClock{}
	}
	return &Store{db: db, clock: clock}
}

const policyColumns = `id, name, resource_pattern, conditions, effect, priority, is_active, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var p Policy
	var conditionsJSON, effect string
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.ResourcePattern,
		&conditionsJSON,
		&effect,
		&p.Priority,
		&p.IsActive,
		&p.CreatedAt,
	); err != nil {
		return nil, err
	}
	p.Effect = Effect(effect)
	if conditionsJSON != "" {
		if err := json.Unmarshal([]byte(conditionsJSON), &p.Conditions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions of policy %d: %w", p.ID, err)
		}
	}
	return &p, nil
}

// CreatePolicy validates and stores an active policy, returning its id
func (s *Store) CreatePolicy(ctx context.Context, p Policy) (int64, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Effect = Effect(strings.ToUpper(string(p.Effect)))
	if err := rbac.ValidateStruct(p); err != nil {
		return 0, err
	}
	if _, err := compile(p); err != nil {
		return 0, err
	}

	conditionsJSON, err := json.Marshal(p.Conditions)
	if err != nil {
		return 0, &rbac.ValidationError{Field: "conditions", Message: err.Error()}
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO policies (name, resource_pattern, conditions, effect, priority, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		RETURNING id
	`, p.Name, p.ResourcePattern, string(conditionsJSON), string(p.Effect), p.Priority, s.clock.Now()).Scan(&id)
	if err != nil {
		if rbac.IsUniqueViolation(err) {
			return 0, &rbac.ValidationError{Field: "name", Message: fmt.Sprintf("policy %q already exists", p.Name)}
		}
		return 0, &rbac.StorageError{Op: "create policy", Err: fmt.Errorf("failed to create policy: %w", err)}
	}
	return id, nil
}

// GetPolicy retrieves a policy by ID
func (s *Store) GetPolicy(ctx context.Context, id int64) (*Policy, error) {
	p, err := scanPolicy(s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &rbac.NotFoundError{Kind: "policy", Key: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, &rbac.StorageError{Op: "get policy", Err: err}
	}
	return p, nil
}

// GetPolicyByName retrieves a policy by name
func (s *Store) GetPolicyByName(ctx context.Context, name string) (*Policy, error) {
	p, err := scanPolicy(s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &rbac.NotFoundError{Kind: "policy", Key: name}
	}
	if err != nil {
		return nil, &rbac.StorageError{Op: "get policy", Err: err}
	}
	return p, nil
}

// DeactivatePolicy turns a policy off. Policies are never deleted.
func (s *Store) DeactivatePolicy(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE policies SET is_active = FALSE WHERE id = $1`, id)
	if err != nil {
		return &rbac.StorageError{Op: "deactivate policy", Err: fmt.Errorf("failed to deactivate policy: %w", err)}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return &rbac.StorageError{Op: "deactivate policy", Err: err}
	}
	if n == 0 {
		return &rbac.NotFoundError{Kind: "policy", Key: fmt.Sprint(id)}
	}
	return nil
}

// ListActivePolicies returns active policies in evaluation order: priority
// descending, then creation order.
func (s *Store) ListActivePolicies(ctx context.Context) ([]Policy, error) {
	return s.list(ctx, "list active policies", `
		SELECT `+policyColumns+` FROM policies
		WHERE is_active = TRUE
		ORDER BY priority DESC, id ASC
	`)
}

// ListPolicies returns every policy by id
func (s *Store) ListPolicies(ctx context.Context) ([]Policy, error) {
	return s.list(ctx, "list policies", `SELECT `+policyColumns+` FROM policies ORDER BY id`)
}

func (s *Store) list(ctx context.Context, op, query string) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &rbac.StorageError{Op: op, Err: fmt.Errorf("failed to query policies: %w", err)}
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, &rbac.StorageError{Op: op, Err: fmt.Errorf("failed to scan policy: %w", err)}
		}
		policies = append(policies, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, &rbac.StorageError{Op: op, Err: err}
	}
	return policies, nil
}
