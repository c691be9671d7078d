package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Authorization tables. Role and permission names carry UNIQUE constraints; both
// link tables use composite primary keys so re-inserting an existing pair is a
// constraint conflict, which the repositories absorb via ON CONFLICT DO NOTHING.
// user_id is an opaque reference into the external user domain and deliberately
// carries no foreign key.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS roles (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS permissions (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		resource    TEXT NOT NULL,
		action      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS role_permissions (
		role_id       BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
		granted_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (role_id, permission_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id     BIGINT NOT NULL,
		role_id     BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
		assigned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, role_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_role_permissions_permission ON role_permissions (permission_id)`,
	`CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles (role_id)`,
}

// EnsureSchema creates the authorization tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("platform/db: ensure schema: %w", err)
		}
	}
	return nil
}
