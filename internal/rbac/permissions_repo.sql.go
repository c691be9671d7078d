package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plumeworks/plume/internal/platform/db"
)

const permissionColumns = `id, name, description, resource, action, created_at`

// PermissionRepository provides PostgreSQL backed persistence for permissions.
type PermissionRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewPermissionRepository constructs a repository.
func NewPermissionRepository(pool *pgxpool.Pool) *PermissionRepository {
	return &PermissionRepository{db: pool, pool: pool}
}

// Create inserts a new permission and returns it with the generated id.
func (r *PermissionRepository) Create(ctx context.Context, name, description, resource, action string) (Permission, error) {
	p := Permission{Name: name, Description: description, Resource: resource, Action: action}
	err := r.db.QueryRow(ctx, `
		INSERT INTO permissions (name, description, resource, action, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, created_at`,
		name, description, resource, action).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return Permission{}, ErrConflict
		}
		return Permission{}, fmt.Errorf("rbac: create permission: %w", err)
	}
	return p, nil
}

// FindByName fetches a permission by its unique name.
func (r *PermissionRepository) FindByName(ctx context.Context, name string) (Permission, error) {
	var p Permission
	err := r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &p.Action, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	return p, nil
}

// ExistsByName reports whether a permission with the given name exists.
func (r *PermissionRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

// FindByResource returns the permissions guarding a resource, ordered by action.
func (r *PermissionRepository) FindByResource(ctx context.Context, resource string) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE resource = $1 ORDER BY action`, resource)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// FindAll returns every permission in the canonical (resource, action) order.
func (r *PermissionRepository) FindAll(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY resource, action`)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// FindByResourceAndAction fetches the permission guarding one (resource, action) pair.
func (r *PermissionRepository) FindByResourceAndAction(ctx context.Context, resource, action string) (Permission, error) {
	var p Permission
	err := r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE resource = $1 AND action = $2`, resource, action).
		Scan(&p.ID, &p.Name, &p.Description, &p.Resource, &p.Action, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	return p, nil
}

// FindByRole returns the permissions granted to a role.
func (r *PermissionRepository) FindByRole(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.name, p.description, p.resource, p.action, p.created_at
		FROM permissions p
		INNER JOIN role_permissions rp ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.resource, p.action`, roleID)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// FindByRoles returns the distinct permissions granted to any of the roles.
func (r *PermissionRepository) FindByRoles(ctx context.Context, roleIDs []int64) ([]Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT p.id, p.name, p.description, p.resource, p.action, p.created_at
		FROM permissions p
		INNER JOIN role_permissions rp ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1)
		ORDER BY p.resource, p.action`, roleIDs)
	if err != nil {
		return nil, err
	}
	return scanPermissions(rows)
}

// ExistsForUser reports whether the named permission is reachable from the
// user through any assigned role, in a single joined query.
func (r *PermissionRepository) ExistsForUser(ctx context.Context, userID int64, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM permissions p
			INNER JOIN role_permissions rp ON rp.permission_id = p.id
			INNER JOIN user_roles ur ON ur.role_id = rp.role_id
			WHERE ur.user_id = $1 AND p.name = $2
		)`, userID, name).Scan(&exists)
	return exists, err
}

// DeleteCascade removes a permission together with its role grants in one
// transaction. Returns ErrNotFound when the permission does not exist.
func (r *PermissionRepository) DeleteCascade(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE permission_id = $1`, id); err != nil {
			return fmt.Errorf("rbac: delete permission grants: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("rbac: delete permission: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
