package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plumeworks/plume/internal/platform/db"
)

// UserRoleRepository persists the user to role association.
type UserRoleRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewUserRoleRepository constructs a repository.
func NewUserRoleRepository(pool *pgxpool.Pool) *UserRoleRepository {
	return &UserRoleRepository{db: pool, pool: pool}
}

// Exists reports whether the user holds the role.
func (r *UserRoleRepository) Exists(ctx context.Context, userID, roleID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role_id = $2)`,
		userID, roleID).Scan(&exists)
	return exists, err
}

// FindByUser returns all role assignments held by a user.
func (r *UserRoleRepository) FindByUser(ctx context.Context, userID int64) ([]UserRole, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, role_id, assigned_at
		FROM user_roles
		WHERE user_id = $1
		ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	return scanUserRoles(rows)
}

// FindByRole returns all assignments of a role across users.
func (r *UserRoleRepository) FindByRole(ctx context.Context, roleID int64) ([]UserRole, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id, role_id, assigned_at
		FROM user_roles
		WHERE role_id = $1
		ORDER BY user_id`, roleID)
	if err != nil {
		return nil, err
	}
	return scanUserRoles(rows)
}

// Assign gives a role to a user. Assigning an already-held role succeeds
// without creating a duplicate row.
func (r *UserRoleRepository) Assign(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, assigned_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id, role_id) DO NOTHING`,
		userID, roleID)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return ErrInvalidReference
		}
		return fmt.Errorf("rbac: assign: %w", err)
	}
	return nil
}

// Remove takes a role away from a user and returns rows affected (0 or 1).
func (r *UserRoleRepository) Remove(ctx context.Context, userID, roleID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return 0, fmt.Errorf("rbac: remove: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RemoveAllForUser removes every role assignment of a user.
func (r *UserRoleRepository) RemoveAllForUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RemoveAllForRole removes every assignment of a role.
func (r *UserRoleRepository) RemoveAllForRole(ctx context.Context, roleID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BatchAssign assigns each role id to the user inside a single transaction.
// Already-held roles are skipped; the returned count covers rows actually
// inserted.
func (r *UserRoleRepository) BatchAssign(ctx context.Context, userID int64, roleIDs []int64) (int64, error) {
	var assigned int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, roleID := range roleIDs {
			tag, err := tx.Exec(ctx, `
				INSERT INTO user_roles (user_id, role_id, assigned_at)
				VALUES ($1, $2, now())
				ON CONFLICT (user_id, role_id) DO NOTHING`,
				userID, roleID)
			if err != nil {
				if isPgError(err, pgForeignKeyViolation) {
					return ErrInvalidReference
				}
				return fmt.Errorf("rbac: batch assign: %w", err)
			}
			assigned += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return assigned, nil
}

// CountUsersHolding returns how many users hold the role, for impact analysis
// before deletion.
func (r *UserRoleRepository) CountUsersHolding(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&count)
	return count, err
}

func scanUserRoles(rows pgx.Rows) ([]UserRole, error) {
	defer rows.Close()
	var links []UserRole
	for rows.Next() {
		var link UserRole
		if err := rows.Scan(&link.UserID, &link.RoleID, &link.AssignedAt); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return links, nil
}
