package access

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/rolegate/pkg/policy"
	"github.com/platinummonkey/rolegate/pkg/rbac"
)

// SeedDocument declares roles, permissions, grants and policies that should exist.
//
//	roles:
//	  - name: ceo
//	  - name: manager
//	    parent: ceo
//	permissions:
//	  - resource: docs
//	    action: read
//	grants:
//	  - role: manager
//	    resource: docs
//	    action: read
//	policies:
//	  - name: freeze-finance
//	    resource_pattern: finance.*
//	    effect: DENY
//	    priority: 100
type SeedDocument struct {
	Roles       []SeedRole       `yaml:"roles"`
	Permissions []SeedPermission `yaml:"permissions"`
	Grants      []SeedGrant      `yaml:"grants"`
	Policies    []SeedPolicy     `yaml:"policies"`
}

// SeedRole declares a role and its optional parent by name
type SeedRole struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Parent      string `yaml:"parent"`
}

// SeedPermission declares a permission
type SeedPermission struct {
	Resource    string `yaml:"resource"`
	Action      string `yaml:"action"`
	Description string `yaml:"description"`
}

// SeedGrant declares that a role holds a permission. The permission is created
// when it is not declared separately.
type SeedGrant struct {
	Role     string `yaml:"role"`
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
}

// SeedPolicy declares a policy
type SeedPolicy struct {
	Name            string            `yaml:"name"`
	ResourcePattern string            `yaml:"resource_pattern"`
	Conditions      policy.Conditions `yaml:"conditions"`
	Effect          policy.Effect     `yaml:"effect"`
	Priority        int               `yaml:"priority"`
}

// SeedReport counts what ApplySeed changed
type SeedReport struct {
	RolesCreated       int `json:"roles_created"`
	RolesReparented    int `json:"roles_reparented"`
	PermissionsEnsured int `json:"permissions_ensured"`
	GrantsAdded        int `json:"grants_added"`
	PoliciesCreated    int `json:"policies_created"`
}

// Changed reports whether the seed modified anything
func (r *SeedReport) Changed() bool {
	return r.RolesCreated+r.RolesReparented+r.GrantsAdded+r.PoliciesCreated > 0
}

// ParseSeed decodes a seed document, rejecting unknown fields
func ParseSeed(r io.Reader) (*SeedDocument, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc SeedDocument
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		return nil, &rbac.ValidationError{Field: "seed", Message: err.Error()}
	}
	return &doc, nil
}

// LoadSeedFile reads and decodes a seed document from path
func LoadSeedFile(path string) (*SeedDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// ApplySeed makes the stores contain everything doc declares. Applying the same
// document again changes nothing. Existing roles are re-parented to match the
// document; existing policies are left as they are. Nothing is ever removed.
func (c *Controller) ApplySeed(ctx context.Context, doc *SeedDocument, grantedBy int64) (*SeedReport, error) {
	report := &SeedReport{}

	roleIDs, err := c.seedRoles(ctx, doc.Roles, report)
	if err != nil {
		return report, err
	}

	for _, p := range doc.Permissions {
		if _, err := c.CreatePermission(ctx, p.Resource, p.Action, p.Description); err != nil {
			return report, fmt.Errorf("failed to seed permission %s: %w", rbac.PermissionKey(p.Resource, p.Action), err)
		}
		report.PermissionsEnsured++
	}

	grantsChanged := false
	for _, g := range doc.Grants {
		added, err := c.seedGrant(ctx, g, roleIDs, grantedBy)
		if err != nil {
			return report, err
		}
		if added {
			report.GrantsAdded++
			grantsChanged = true
		}
	}

	for _, p := range doc.Policies {
		if _, err := c.seedPolicy(ctx, p, report); err != nil {
			return report, err
		}
	}

	if grantsChanged || report.RolesReparented > 0 {
		if err := c.invalidateAll(ctx); err != nil {
			return report, err
		}
	}
	if report.PoliciesCreated > 0 {
		c.engine.Invalidate()
	}

	c.logger.WithFields(map[string]interface{}{
		"roles_created":    report.RolesCreated,
		"roles_reparented": report.RolesReparented,
		"grants_added":     report.GrantsAdded,
		"policies_created": report.PoliciesCreated,
	}).Info("Seed applied")
	return report, nil
}

// seedRoles creates roles parent-first regardless of declaration order
func (c *Controller) seedRoles(ctx context.Context, roles []SeedRole, report *SeedReport) (map[string]int64, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	ids := make(map[string]int64, len(roles))
	pending := append([]SeedRole(nil), roles...)

	for len(pending) > 0 {
		var next []SeedRole
		for _, sr := range pending {
			var parentID *int64
			if sr.Parent != "" {
				id, ok := ids[sr.Parent]
				if !ok {
					existing, err := c.roles.GetRoleByName(ctx, sr.Parent)
					if errors.Is(err, rbac.ErrNotFound) && declared(roles, sr.Parent) {
						next = append(next, sr)
						continue
					}
					if err != nil {
						return nil, fmt.Errorf("failed to resolve parent %q of role %q: %w", sr.Parent, sr.Name, err)
					}
					id = existing.ID
					ids[sr.Parent] = id
				}
				parentID = &id
			}

			id, err := c.ensureRole(ctx, sr, parentID, report)
			if err != nil {
				return nil, err
			}
			ids[sr.Name] = id
		}

		if len(next) == len(pending) {
			return nil, &rbac.ValidationError{Field: "roles", Message: fmt.Sprintf("role %q has an unresolvable parent %q", next[0].Name, next[0].Parent)}
		}
		pending = next
	}
	return ids, nil
}

func declared(roles []SeedRole, name string) bool {
	for _, r := range roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

func (c *Controller) ensureRole(ctx context.Context, sr SeedRole, parentID *int64, report *SeedReport) (int64, error) {
	existing, err := c.roles.GetRoleByName(ctx, sr.Name)
	if errors.Is(err, rbac.ErrNotFound) {
		id, err := c.roles.CreateRole(ctx, sr.Name, sr.Description, parentID)
		if err != nil {
			return 0, fmt.Errorf("failed to seed role %q: %w", sr.Name, err)
		}
		report.RolesCreated++
		return id, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up role %q: %w", sr.Name, err)
	}

	if !sameParent(existing.ParentID, parentID) {
		if err := c.roles.SetRoleParent(ctx, existing.ID, parentID); err != nil {
			return 0, fmt.Errorf("failed to re-parent role %q: %w", sr.Name, err)
		}
		report.RolesReparented++
	}
	return existing.ID, nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (c *Controller) seedGrant(ctx context.Context, g SeedGrant, roleIDs map[string]int64, grantedBy int64) (bool, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	roleID, ok := roleIDs[g.Role]
	if !ok {
		role, err := c.roles.GetRoleByName(ctx, g.Role)
		if err != nil {
			return false, fmt.Errorf("failed to resolve role %q for grant: %w", g.Role, err)
		}
		roleID = role.ID
	}

	permID, err := c.roles.CreatePermission(ctx, g.Resource, g.Action, "")
	if err != nil {
		return false, fmt.Errorf("failed to seed permission %s: %w", rbac.PermissionKey(g.Resource, g.Action), err)
	}

	current, err := c.roles.GetRolePermissions(ctx, roleID)
	if err != nil {
		return false, err
	}
	for _, p := range current {
		if p.ID == permID {
			return false, nil
		}
	}

	if _, err := c.roles.AssignPermissionToRole(ctx, roleID, permID, grantedBy); err != nil {
		return false, fmt.Errorf("failed to grant %s to role %q: %w", rbac.PermissionKey(g.Resource, g.Action), g.Role, err)
	}
	return true, nil
}

func (c *Controller) seedPolicy(ctx context.Context, sp SeedPolicy, report *SeedReport) (int64, error) {
	ctx, cancel := c.storeContext(ctx)
	defer cancel()

	existing, err := c.policies.GetPolicyByName(ctx, sp.Name)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, rbac.ErrNotFound) {
		return 0, fmt.Errorf("failed to look up policy %q: %w", sp.Name, err)
	}

	id, err := c.policies.CreatePolicy(ctx, policy.Policy{
		Name:            sp.Name,
		ResourcePattern: sp.ResourcePattern,
		Conditions:      sp.Conditions,
		Effect:          sp.Effect,
		Priority:        sp.Priority,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to seed policy %q: %w", sp.Name, err)
	}
	report.PoliciesCreated++
	return id, nil
}
