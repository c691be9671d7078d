package rbac

import (
	"context"
	"errors"
	"strings"
)

// PermissionStore defines data access methods for permissions.
type PermissionStore interface {
	Create(ctx context.Context, name, description, resource, action string) (Permission, error)
	FindByName(ctx context.Context, name string) (Permission, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	FindByResource(ctx context.Context, resource string) ([]Permission, error)
	FindAll(ctx context.Context) ([]Permission, error)
	FindByResourceAndAction(ctx context.Context, resource, action string) (Permission, error)
	FindByRole(ctx context.Context, roleID int64) ([]Permission, error)
	DeleteCascade(ctx context.Context, id int64) error
}

// RoleStore defines data access methods for roles.
type RoleStore interface {
	Create(ctx context.Context, name, description string) (Role, error)
	FindByName(ctx context.Context, name string) (Role, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	FindAll(ctx context.Context) ([]Role, error)
	FindByUser(ctx context.Context, userID int64) ([]Role, error)
	DeleteCascade(ctx context.Context, id int64) error
}

// RolePermissionLink defines data access methods for the role-permission
// association.
type RolePermissionLink interface {
	Exists(ctx context.Context, roleID, permissionID int64) (bool, error)
	FindByRole(ctx context.Context, roleID int64) ([]RolePermission, error)
	FindByPermission(ctx context.Context, permissionID int64) ([]RolePermission, error)
	Grant(ctx context.Context, roleID, permissionID int64) error
	Revoke(ctx context.Context, roleID, permissionID int64) (int64, error)
	RevokeAllForRole(ctx context.Context, roleID int64) (int64, error)
	RevokeAllForPermission(ctx context.Context, permissionID int64) (int64, error)
	BatchGrant(ctx context.Context, roleID int64, permissionIDs []int64) (int64, error)
	CountRolesHolding(ctx context.Context, permissionID int64) (int64, error)
	HasPermission(ctx context.Context, roleName, permissionName string) (bool, error)
}

// UserRoleLink defines data access methods for the user-role association.
type UserRoleLink interface {
	Exists(ctx context.Context, userID, roleID int64) (bool, error)
	FindByUser(ctx context.Context, userID int64) ([]UserRole, error)
	FindByRole(ctx context.Context, roleID int64) ([]UserRole, error)
	Assign(ctx context.Context, userID, roleID int64) error
	Remove(ctx context.Context, userID, roleID int64) (int64, error)
	RemoveAllForUser(ctx context.Context, userID int64) (int64, error)
	RemoveAllForRole(ctx context.Context, roleID int64) (int64, error)
	BatchAssign(ctx context.Context, userID int64, roleIDs []int64) (int64, error)
	CountUsersHolding(ctx context.Context, roleID int64) (int64, error)
}

// Service orchestrates administration of roles, permissions, and their
// associations. It holds no state of its own; every call is a storage
// round-trip.
type Service struct {
	roles       RoleStore
	permissions PermissionStore
	grants      RolePermissionLink
	assignments UserRoleLink
}

// NewService constructs a Service over the provided stores.
func NewService(roles RoleStore, permissions PermissionStore, grants RolePermissionLink, assignments UserRoleLink) *Service {
	return &Service{roles: roles, permissions: permissions, grants: grants, assignments: assignments}
}

// ListRoles returns all roles in insertion order.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.roles.FindAll(ctx)
}

// CreateRole inserts a new role. Returns ErrConflict when the name is taken.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	return s.roles.Create(ctx, name, strings.TrimSpace(description))
}

// RoleByName fetches a role by name.
func (s *Service) RoleByName(ctx context.Context, name string) (Role, error) {
	return s.roles.FindByName(ctx, name)
}

// DeleteRole removes a role and cascades to its assignments and grants.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	return s.roles.DeleteCascade(ctx, id)
}

// ListPermissions returns the whole catalog in (resource, action) order, or
// the permissions of one resource ordered by action when resource is set.
func (s *Service) ListPermissions(ctx context.Context, resource string) ([]Permission, error) {
	resource = strings.TrimSpace(resource)
	if resource != "" {
		return s.permissions.FindByResource(ctx, resource)
	}
	return s.permissions.FindAll(ctx)
}

// CreatePermission inserts a new permission. Returns ErrConflict when the
// name is taken.
func (s *Service) CreatePermission(ctx context.Context, name, description, resource, action string) (Permission, error) {
	name = strings.TrimSpace(name)
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if name == "" || resource == "" || action == "" {
		return Permission{}, errors.New("rbac: permission name, resource, and action required")
	}
	return s.permissions.Create(ctx, name, strings.TrimSpace(description), resource, action)
}

// PermissionByName fetches a permission by name.
func (s *Service) PermissionByName(ctx context.Context, name string) (Permission, error) {
	return s.permissions.FindByName(ctx, name)
}

// PermissionByResourceAndAction fetches the permission guarding one
// (resource, action) pair.
func (s *Service) PermissionByResourceAndAction(ctx context.Context, resource, action string) (Permission, error) {
	return s.permissions.FindByResourceAndAction(ctx, resource, action)
}

// DeletePermission removes a permission and cascades to its grants.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	return s.permissions.DeleteCascade(ctx, id)
}

// Grant gives a permission to a role. Idempotent: re-granting succeeds
// without effect.
func (s *Service) Grant(ctx context.Context, roleID, permissionID int64) error {
	return s.grants.Grant(ctx, roleID, permissionID)
}

// Revoke takes a permission away from a role and reports rows affected.
func (s *Service) Revoke(ctx context.Context, roleID, permissionID int64) (int64, error) {
	return s.grants.Revoke(ctx, roleID, permissionID)
}

// BatchGrant grants a set of permissions to a role atomically, skipping
// pairs already granted.
func (s *Service) BatchGrant(ctx context.Context, roleID int64, permissionIDs []int64) (int64, error) {
	if len(permissionIDs) == 0 {
		return 0, nil
	}
	return s.grants.BatchGrant(ctx, roleID, permissionIDs)
}

// PermissionsOf returns the permissions granted to a role.
func (s *Service) PermissionsOf(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.permissions.FindByRole(ctx, roleID)
}

// RoleHasPermission reports whether the named role holds the named
// permission, for name-based policy checks.
func (s *Service) RoleHasPermission(ctx context.Context, roleName, permissionName string) (bool, error) {
	return s.grants.HasPermission(ctx, roleName, permissionName)
}

// RolesHolding returns how many roles hold the permission.
func (s *Service) RolesHolding(ctx context.Context, permissionID int64) (int64, error) {
	return s.grants.CountRolesHolding(ctx, permissionID)
}

// Assign gives a role to a user. Idempotent: re-assigning succeeds without
// effect.
func (s *Service) Assign(ctx context.Context, userID, roleID int64) error {
	return s.assignments.Assign(ctx, userID, roleID)
}

// Remove takes a role away from a user and reports rows affected.
func (s *Service) Remove(ctx context.Context, userID, roleID int64) (int64, error) {
	return s.assignments.Remove(ctx, userID, roleID)
}

// RemoveAllForUser strips every role from a user, typically when the user is
// deleted in the external user domain.
func (s *Service) RemoveAllForUser(ctx context.Context, userID int64) (int64, error) {
	return s.assignments.RemoveAllForUser(ctx, userID)
}

// BatchAssign assigns a set of roles to a user atomically, skipping roles
// already held.
func (s *Service) BatchAssign(ctx context.Context, userID int64, roleIDs []int64) (int64, error) {
	if len(roleIDs) == 0 {
		return 0, nil
	}
	return s.assignments.BatchAssign(ctx, userID, roleIDs)
}

// RolesOf returns the roles assigned to a user.
func (s *Service) RolesOf(ctx context.Context, userID int64) ([]Role, error) {
	return s.roles.FindByUser(ctx, userID)
}

// UsersHolding returns how many users hold the role.
func (s *Service) UsersHolding(ctx context.Context, roleID int64) (int64, error) {
	return s.assignments.CountUsersHolding(ctx, roleID)
}
