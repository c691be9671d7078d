package rbac

import "time"

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
}

// Permission represents an atomic capability on a resource.
type Permission struct {
	ID          int64
	Name        string
	Description string
	Resource    string
	Action      string
	CreatedAt   time.Time
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	GrantedAt    time.Time
}

// UserRole links a user to a role. The user id references the external user
// domain and is never validated here.
type UserRole struct {
	UserID     int64
	RoleID     int64
	AssignedAt time.Time
}
