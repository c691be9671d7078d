package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plumeworks/plume/internal/platform/db"
)

// RolePermissionRepository persists the role to permission association.
type RolePermissionRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRolePermissionRepository constructs a repository.
func NewRolePermissionRepository(pool *pgxpool.Pool) *RolePermissionRepository {
	return &RolePermissionRepository{db: pool, pool: pool}
}

// Exists reports whether the role holds the permission.
func (r *RolePermissionRepository) Exists(ctx context.Context, roleID, permissionID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM role_permissions WHERE role_id = $1 AND permission_id = $2)`,
		roleID, permissionID).Scan(&exists)
	return exists, err
}

// FindByRole returns all grants held by a role.
func (r *RolePermissionRepository) FindByRole(ctx context.Context, roleID int64) ([]RolePermission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT role_id, permission_id, granted_at
		FROM role_permissions
		WHERE role_id = $1
		ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	return scanRolePermissions(rows)
}

// FindByPermission returns all grants of a permission across roles.
func (r *RolePermissionRepository) FindByPermission(ctx context.Context, permissionID int64) ([]RolePermission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT role_id, permission_id, granted_at
		FROM role_permissions
		WHERE permission_id = $1
		ORDER BY role_id`, permissionID)
	if err != nil {
		return nil, err
	}
	return scanRolePermissions(rows)
}

// Grant associates a permission with a role. Granting an already-granted
// permission succeeds without creating a duplicate row.
func (r *RolePermissionRepository) Grant(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, granted_at)
		VALUES ($1, $2, now())
		ON CONFLICT (role_id, permission_id) DO NOTHING`,
		roleID, permissionID)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return ErrInvalidReference
		}
		return fmt.Errorf("rbac: grant: %w", err)
	}
	return nil
}

// Revoke removes a grant and returns the number of rows affected (0 or 1).
func (r *RolePermissionRepository) Revoke(ctx context.Context, roleID, permissionID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return 0, fmt.Errorf("rbac: revoke: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RevokeAllForRole removes every grant held by a role.
func (r *RolePermissionRepository) RevokeAllForRole(ctx context.Context, roleID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevokeAllForPermission removes every grant of a permission.
func (r *RolePermissionRepository) RevokeAllForPermission(ctx context.Context, permissionID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE permission_id = $1`, permissionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BatchGrant grants each permission id to the role inside a single
// transaction. Already-granted pairs are skipped; the returned count covers
// rows actually inserted.
func (r *RolePermissionRepository) BatchGrant(ctx context.Context, roleID int64, permissionIDs []int64) (int64, error) {
	var granted int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, permissionID := range permissionIDs {
			tag, err := tx.Exec(ctx, `
				INSERT INTO role_permissions (role_id, permission_id, granted_at)
				VALUES ($1, $2, now())
				ON CONFLICT (role_id, permission_id) DO NOTHING`,
				roleID, permissionID)
			if err != nil {
				if isPgError(err, pgForeignKeyViolation) {
					return ErrInvalidReference
				}
				return fmt.Errorf("rbac: batch grant: %w", err)
			}
			granted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return granted, nil
}

// CountRolesHolding returns how many roles hold the permission, for impact
// analysis before deletion.
func (r *RolePermissionRepository) CountRolesHolding(ctx context.Context, permissionID int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, permissionID).Scan(&count)
	return count, err
}

// HasPermission reports whether the named role holds the named permission.
func (r *RolePermissionRepository) HasPermission(ctx context.Context, roleName, permissionName string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM role_permissions rp
			INNER JOIN roles r ON rp.role_id = r.id
			INNER JOIN permissions p ON rp.permission_id = p.id
			WHERE r.name = $1 AND p.name = $2
		)`, roleName, permissionName).Scan(&exists)
	return exists, err
}

func scanRolePermissions(rows pgx.Rows) ([]RolePermission, error) {
	defer rows.Close()
	var links []RolePermission
	for rows.Next() {
		var link RolePermission
		if err := rows.Scan(&link.RoleID, &link.PermissionID, &link.GrantedAt); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}
