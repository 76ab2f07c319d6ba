package rbac

import (
	"time"
)

// MaxHierarchyDepth bounds every walk up the role hierarchy.
const MaxHierarchyDepth = 32

// Role represents a named role in a single-parent hierarchy
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ParentID    *int64    `json:"parent_id,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission represents a specific permission (resource + action)
type Permission struct {
	ID          int64     `json:"id"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the "resource:action" form of the permission
func (p Permission) Key() string {
	return PermissionKey(p.Resource, p.Action)
}

// PermissionKey joins a resource and action into the canonical lookup key
func PermissionKey(resource, action string) string {
	return resource + ":" + action
}

// AssignmentStatus is the lifecycle state of a user role assignment
type AssignmentStatus string

const (
	AssignmentActive  AssignmentStatus = "active"
	AssignmentExpired AssignmentStatus = "expired"
	AssignmentRevoked AssignmentStatus = "revoked"
)

// UserRoleAssignment represents a role granted to a user
type UserRoleAssignment struct {
	UserID    int64            `json:"user_id"`
	RoleID    int64            `json:"role_id"`
	GrantedBy int64            `json:"granted_by"`
	GrantedAt time.Time        `json:"granted_at"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	IsActive  bool             `json:"is_active"`
	Status    AssignmentStatus `json:"status"`
}

// RolePermission represents a permission granted to a role
type RolePermission struct {
	RoleID       int64     `json:"role_id"`
	PermissionID int64     `json:"permission_id"`
	GrantedBy    int64     `json:"granted_by"`
	GrantedAt    time.Time `json:"granted_at"`
	IsActive     bool      `json:"is_active"`
}

// RoleInput is the validated input for creating a role
type RoleInput struct {
	Name        string `validate:"required,max=100"`
	Description string `validate:"max=1000"`
	ParentID    *int64 `validate:"omitempty,gt=0"`
}

// PermissionInput is the validated input for creating a permission
type PermissionInput struct {
	Resource    string `validate:"required,max=255"`
	Action      string `validate:"required,max=100"`
	Description string `validate:"max=1000"`
}

// Clock supplies the current time to the stores
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

// Now returns the current UTC time truncated to microseconds
func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
