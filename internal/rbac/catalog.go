package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plumeworks/plume/internal/platform/db"
)

// Known permission names. The database table is the authority; these constants
// only reference rows installed by Seed so callers avoid stringly-typed drift.
const (
	PermPostCreate  = "POST_CREATE"
	PermPostUpdate  = "POST_UPDATE"
	PermPostDelete  = "POST_DELETE"
	PermPostPublish = "POST_PUBLISH"
	PermPostViewAll = "POST_VIEW_ALL"

	PermCommentCreate   = "COMMENT_CREATE"
	PermCommentDelete   = "COMMENT_DELETE"
	PermCommentModerate = "COMMENT_MODERATE"

	PermUserManage  = "USER_MANAGE"
	PermUserViewAll = "USER_VIEW_ALL"
	PermUserBan     = "USER_BAN"

	PermCategoryCreate = "CATEGORY_CREATE"
	PermCategoryUpdate = "CATEGORY_UPDATE"
	PermCategoryDelete = "CATEGORY_DELETE"

	PermTagCreate = "TAG_CREATE"
	PermTagUpdate = "TAG_UPDATE"
	PermTagDelete = "TAG_DELETE"

	PermMediaUpload  = "MEDIA_UPLOAD"
	PermMediaDelete  = "MEDIA_DELETE"
	PermMediaViewAll = "MEDIA_VIEW_ALL"

	PermSystemStatsView    = "SYSTEM_STATS_VIEW"
	PermSystemConfigManage = "SYSTEM_CONFIG_MANAGE"

	PermDashboardAdminAccess = "DASHBOARD_ADMIN_ACCESS"
)

// Default role names installed by Seed.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleAuthor = "author"
	RoleReader = "reader"
)

// CatalogEntry describes one seedable permission.
type CatalogEntry struct {
	Name        string
	Description string
	Resource    string
	Action      string
}

// Catalog returns the full permission catalog for the blog platform.
func Catalog() []CatalogEntry {
	return []CatalogEntry{
		{PermPostCreate, "Create posts", "post", "create"},
		{PermPostUpdate, "Update posts", "post", "update"},
		{PermPostDelete, "Delete posts", "post", "delete"},
		{PermPostPublish, "Publish posts", "post", "publish"},
		{PermPostViewAll, "View all posts including drafts", "post", "view_all"},

		{PermCommentCreate, "Create comments", "comment", "create"},
		{PermCommentDelete, "Delete comments", "comment", "delete"},
		{PermCommentModerate, "Moderate comments", "comment", "moderate"},

		{PermUserManage, "Manage user accounts", "user", "manage"},
		{PermUserViewAll, "View the user list", "user", "view_all"},
		{PermUserBan, "Ban users", "user", "ban"},

		{PermCategoryCreate, "Create categories", "category", "create"},
		{PermCategoryUpdate, "Update categories", "category", "update"},
		{PermCategoryDelete, "Delete categories", "category", "delete"},

		{PermTagCreate, "Create tags", "tag", "create"},
		{PermTagUpdate, "Update tags", "tag", "update"},
		{PermTagDelete, "Delete tags", "tag", "delete"},

		{PermMediaUpload, "Upload media files", "media", "upload"},
		{PermMediaDelete, "Delete media files", "media", "delete"},
		{PermMediaViewAll, "View all media files", "media", "view_all"},

		{PermSystemStatsView, "View system statistics", "system", "stats_view"},
		{PermSystemConfigManage, "Manage system configuration", "system", "config_manage"},

		{PermDashboardAdminAccess, "Access the admin dashboard", "dashboard", "admin_access"},
	}
}

// DefaultRoleGrants maps the default roles to the permission names they hold.
// The admin role receives the whole catalog.
func DefaultRoleGrants() map[string][]string {
	grants := map[string][]string{
		RoleEditor: {
			PermPostCreate, PermPostUpdate, PermPostDelete, PermPostPublish, PermPostViewAll,
			PermCommentCreate, PermCommentDelete, PermCommentModerate,
			PermCategoryCreate, PermCategoryUpdate, PermCategoryDelete,
			PermTagCreate, PermTagUpdate, PermTagDelete,
			PermMediaUpload, PermMediaDelete, PermMediaViewAll,
		},
		RoleAuthor: {
			PermPostCreate, PermPostUpdate,
			PermCommentCreate,
			PermMediaUpload,
		},
		RoleReader: {
			PermCommentCreate,
		},
	}

	all := make([]string, 0, len(Catalog()))
	for _, entry := range Catalog() {
		all = append(all, entry.Name)
	}
	grants[RoleAdmin] = all
	return grants
}

var defaultRoleDescriptions = map[string]string{
	RoleAdmin:  "Full administrative access",
	RoleEditor: "Manages all published content",
	RoleAuthor: "Writes and edits own posts",
	RoleReader: "Comments on published posts",
}

// Seed installs the permission catalog, the default roles, and their grants.
// Every statement is idempotent, so Seed is safe to run on each boot; the
// whole load runs in one transaction so readers never observe a partial
// catalog.
func Seed(ctx context.Context, pool *pgxpool.Pool) error {
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, entry := range Catalog() {
			if _, err := tx.Exec(ctx, `
				INSERT INTO permissions (name, description, resource, action, created_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (name) DO NOTHING`,
				entry.Name, entry.Description, entry.Resource, entry.Action); err != nil {
				return fmt.Errorf("rbac: seed permission %s: %w", entry.Name, err)
			}
		}

		for role, perms := range DefaultRoleGrants() {
			if _, err := tx.Exec(ctx, `
				INSERT INTO roles (name, description, created_at)
				VALUES ($1, $2, now())
				ON CONFLICT (name) DO NOTHING`,
				role, defaultRoleDescriptions[role]); err != nil {
				return fmt.Errorf("rbac: seed role %s: %w", role, err)
			}
			for _, perm := range perms {
				if _, err := tx.Exec(ctx, `
					INSERT INTO role_permissions (role_id, permission_id, granted_at)
					SELECT r.id, p.id, now() FROM roles r, permissions p
					WHERE r.name = $1 AND p.name = $2
					ON CONFLICT (role_id, permission_id) DO NOTHING`,
					role, perm); err != nil {
					return fmt.Errorf("rbac: seed grant %s -> %s: %w", role, perm, err)
				}
			}
		}
		return nil
	})
}
