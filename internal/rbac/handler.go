package rbac

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/plumeworks/plume/internal/platform/httpx"
)

// CacheInvalidator drops cached authorization state for a user after their
// assignments change. Optional; nil when caching is disabled.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID int64) error
}

// Handler exposes the role and permission administration API.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	checker     AccessChecker
	invalidator CacheInvalidator
	guard       Middleware
	validator   *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, checker AccessChecker, invalidator CacheInvalidator, guard Middleware) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		checker:     checker,
		invalidator: invalidator,
		guard:       guard,
		validator:   validator.New(),
	}
}

// MountRoutes registers administration routes. Read endpoints require
// dashboard access; mutations require system configuration rights.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/roles", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.guard.RequireAny(PermDashboardAdminAccess))
			r.Get("/", h.listRoles)
			r.Get("/{roleID}/permissions", h.listRolePermissions)
			r.Get("/{roleID}/impact", h.roleImpact)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.guard.RequireAny(PermSystemConfigManage))
			r.Post("/", h.createRole)
			r.Delete("/{roleID}", h.deleteRole)
			r.Post("/{roleID}/permissions", h.batchGrant)
			r.Post("/{roleID}/permissions/{permissionID}", h.grant)
			r.Delete("/{roleID}/permissions/{permissionID}", h.revoke)
		})
	})

	r.Route("/permissions", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.guard.RequireAny(PermDashboardAdminAccess))
			r.Get("/", h.listPermissions)
			r.Get("/{permissionID}/impact", h.permissionImpact)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.guard.RequireAny(PermSystemConfigManage))
			r.Post("/", h.createPermission)
			r.Delete("/{permissionID}", h.deletePermission)
		})
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.guard.RequireAny(PermDashboardAdminAccess))
			r.Get("/roles", h.listUserRoles)
			r.Get("/permissions", h.effectivePermissions)
			r.Get("/has-permission/{permission}", h.hasPermission)
			r.Get("/has-role/{role}", h.hasRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.guard.RequireAny(PermSystemConfigManage))
			r.Post("/roles", h.batchAssign)
			r.Post("/roles/{roleID}", h.assignRole)
			r.Delete("/roles/{roleID}", h.removeRole)
			r.Delete("/roles", h.removeAllRoles)
		})
	})
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=255"`
}

type createPermissionRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=128"`
	Description string `json:"description" validate:"max=255"`
	Resource    string `json:"resource" validate:"required,min=2,max=64"`
	Action      string `json:"action" validate:"required,min=2,max=64"`
}

type batchGrantRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required,min=1,dive,gt=0"`
}

type batchAssignRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"required,min=1,dive,gt=0"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, "list roles", err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		h.respondError(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), roleID); err != nil {
		h.respondError(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	perms, err := h.service.PermissionsOf(r.Context(), roleID)
	if err != nil {
		h.respondError(w, "list role permissions", err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) roleImpact(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	users, err := h.service.UsersHolding(r.Context(), roleID)
	if err != nil {
		h.respondError(w, "role impact", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": roleID, "users_holding": users})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context(), r.URL.Query().Get("resource"))
	if err != nil {
		h.respondError(w, "list permissions", err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name, req.Description, req.Resource, req.Action)
	if err != nil {
		h.respondError(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.DeletePermission(r.Context(), permissionID); err != nil {
		h.respondError(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) permissionImpact(w http.ResponseWriter, r *http.Request) {
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	roles, err := h.service.RolesHolding(r.Context(), permissionID)
	if err != nil {
		h.respondError(w, "permission impact", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission_id": permissionID, "roles_holding": roles})
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.service.Grant(r.Context(), roleID, permissionID); err != nil {
		h.respondError(w, "grant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	permissionID, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	removed, err := h.service.Revoke(r.Context(), roleID, permissionID)
	if err != nil {
		h.respondError(w, "revoke", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"revoked": removed})
}

func (h *Handler) batchGrant(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req batchGrantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	granted, err := h.service.BatchGrant(r.Context(), roleID, req.PermissionIDs)
	if err != nil {
		h.respondError(w, "batch grant", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"granted": granted})
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	roles, err := h.service.RolesOf(r.Context(), userID)
	if err != nil {
		h.respondError(w, "list user roles", err)
		return
	}
	if roles == nil {
		roles = []Role{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	perms, err := h.checker.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.respondError(w, "effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) hasPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	allowed, err := h.checker.HasPermission(r.Context(), userID, chi.URLParam(r, "permission"))
	if err != nil {
		h.respondError(w, "has permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

func (h *Handler) hasRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	held, err := h.checker.HasRole(r.Context(), userID, chi.URLParam(r, "role"))
	if err != nil {
		h.respondError(w, "has role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"held": held})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.Assign(r.Context(), userID, roleID); err != nil {
		h.respondError(w, "assign role", err)
		return
	}
	h.invalidate(r.Context(), userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	removed, err := h.service.Remove(r.Context(), userID, roleID)
	if err != nil {
		h.respondError(w, "remove role", err)
		return
	}
	h.invalidate(r.Context(), userID)
	httpx.JSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *Handler) removeAllRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	removed, err := h.service.RemoveAllForUser(r.Context(), userID)
	if err != nil {
		h.respondError(w, "remove all roles", err)
		return
	}
	h.invalidate(r.Context(), userID)
	httpx.JSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *Handler) batchAssign(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	var req batchAssignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	assigned, err := h.service.BatchAssign(r.Context(), userID, req.RoleIDs)
	if err != nil {
		h.respondError(w, "batch assign", err)
		return
	}
	h.invalidate(r.Context(), userID)
	httpx.JSON(w, http.StatusOK, map[string]any{"assigned": assigned})
}

func (h *Handler) invalidate(ctx context.Context, userID int64) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.InvalidateUser(ctx, userID); err != nil {
		h.logger.Warn("invalidate authz cache", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", param+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", "the requested record does not exist")
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "a record with that name already exists")
	case errors.Is(err, ErrInvalidReference):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid reference", "a referenced record does not exist")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", "")
	}
}
