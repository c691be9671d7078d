package rbac

import (
	"context"
	"strings"
)

// UserRoleReader is the slice of assignment storage the resolver needs.
type UserRoleReader interface {
	FindByUser(ctx context.Context, userID int64) ([]UserRole, error)
}

// PermissionReader is the slice of permission storage the resolver needs.
type PermissionReader interface {
	FindByRoles(ctx context.Context, roleIDs []int64) ([]Permission, error)
	ExistsForUser(ctx context.Context, userID int64, name string) (bool, error)
}

// RoleMembershipReader is the slice of role storage the resolver needs.
type RoleMembershipReader interface {
	ExistsForUser(ctx context.Context, userID int64, name string) (bool, error)
}

// AccessChecker answers authorization questions about a user. Satisfied by
// Resolver and by CachedResolver.
type AccessChecker interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]Permission, error)
	HasPermission(ctx context.Context, userID int64, permission string) (bool, error)
	HasRole(ctx context.Context, userID int64, role string) (bool, error)
}

// Resolver computes the effective permission set of a user by unioning the
// grants of every role the user holds.
type Resolver struct {
	assignments UserRoleReader
	permissions PermissionReader
	roles       RoleMembershipReader
}

// NewResolver constructs a Resolver.
func NewResolver(assignments UserRoleReader, permissions PermissionReader, roles RoleMembershipReader) *Resolver {
	return &Resolver{assignments: assignments, permissions: permissions, roles: roles}
}

// EffectivePermissions returns the union of permissions granted to the
// user's roles, each permission appearing exactly once. A user with no roles
// gets an empty set without a grant lookup.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) ([]Permission, error) {
	assignments, err := r.assignments.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return []Permission{}, nil
	}

	roleIDs := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		roleIDs = append(roleIDs, a.RoleID)
	}

	perms, err := r.permissions.FindByRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// HasPermission reports whether the user reaches the named permission
// through any assigned role. Unknown permission names simply resolve to
// false.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return false, nil
	}
	return r.permissions.ExistsForUser(ctx, userID, permission)
}

// HasRole reports whether the user holds the named role.
func (r *Resolver) HasRole(ctx context.Context, userID int64, role string) (bool, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return false, nil
	}
	return r.roles.ExistsForUser(ctx, userID, role)
}
