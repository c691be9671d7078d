package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plumeworks/plume/internal/platform/db"
)

const roleColumns = `id, name, description, created_at`

// RoleRepository provides PostgreSQL backed persistence for roles.
type RoleRepository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRoleRepository constructs a repository.
func NewRoleRepository(pool *pgxpool.Pool) *RoleRepository {
	return &RoleRepository{db: pool, pool: pool}
}

// Create inserts a new role and returns it with the generated id.
func (r *RoleRepository) Create(ctx context.Context, name, description string) (Role, error) {
	role := Role{Name: name, Description: description}
	err := r.db.QueryRow(ctx, `
		INSERT INTO roles (name, description, created_at)
		VALUES ($1, $2, now())
		RETURNING id, created_at`,
		name, description).Scan(&role.ID, &role.CreatedAt)
	if err != nil {
		if isPgError(err, pgUniqueViolation) {
			return Role{}, ErrConflict
		}
		return Role{}, fmt.Errorf("rbac: create role: %w", err)
	}
	return role, nil
}

// FindByName fetches a role by its unique name.
func (r *RoleRepository) FindByName(ctx context.Context, name string) (Role, error) {
	var role Role
	err := r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// ExistsByName reports whether a role with the given name exists.
func (r *RoleRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

// FindAll returns all roles in insertion order.
func (r *RoleRepository) FindAll(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

// FindByUser returns the roles assigned to a user.
func (r *RoleRepository) FindByUser(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.id, r.name, r.description, r.created_at
		FROM roles r
		INNER JOIN user_roles ur ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.id`, userID)
	if err != nil {
		return nil, err
	}
	return scanRoles(rows)
}

// ExistsForUser reports whether the user holds the named role.
func (r *RoleRepository) ExistsForUser(ctx context.Context, userID int64, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM roles r
			INNER JOIN user_roles ur ON ur.role_id = r.id
			WHERE ur.user_id = $1 AND r.name = $2
		)`, userID, name).Scan(&exists)
	return exists, err
}

// DeleteCascade removes a role together with its user assignments and
// permission grants in one transaction. Returns ErrNotFound when the role
// does not exist.
func (r *RoleRepository) DeleteCascade(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("rbac: delete role assignments: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("rbac: delete role grants: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("rbac: delete role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
