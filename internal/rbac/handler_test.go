package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plumeworks/plume/internal/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}

type allowAllChecker struct {
	resolver *Resolver
}

func (a *allowAllChecker) EffectivePermissions(ctx context.Context, userID int64) ([]Permission, error) {
	return []Permission{
		perm(9001, PermDashboardAdminAccess),
		perm(9002, PermSystemConfigManage),
	}, nil
}

func (a *allowAllChecker) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	return a.resolver.HasPermission(ctx, userID, permission)
}

func (a *allowAllChecker) HasRole(ctx context.Context, userID int64, role string) (bool, error) {
	return a.resolver.HasRole(ctx, userID, role)
}

type invalidations struct {
	users []int64
}

func (i *invalidations) InvalidateUser(ctx context.Context, userID int64) error {
	i.users = append(i.users, userID)
	return nil
}

type handlerFixture struct {
	router      chi.Router
	service     *Service
	state       *memState
	invalidator *invalidations
}

type memRoleResolverReader struct{ m *memRoles }

func (r *memRoleResolverReader) ExistsForUser(ctx context.Context, userID int64, name string) (bool, error) {
	roles, err := r.m.FindByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	state := newMemState()
	roles := &memRoles{s: state}
	perms := &memPerms{s: state}
	grants := &memGrants{s: state}
	assigns := &memAssigns{s: state}

	service := NewService(roles, perms, grants, assigns)
	resolver := NewResolver(assigns, perms, &memRoleResolverReader{m: roles})
	checker := &allowAllChecker{resolver: resolver}
	invalidator := &invalidations{}
	guard := Middleware{Checker: checker}

	handler := NewHandler(testLogger(), service, checker, invalidator, guard)
	router := chi.NewRouter()
	router.Route("/api/v1", handler.MountRoutes)

	return &handlerFixture{router: router, service: service, state: state, invalidator: invalidator}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(shared.ContextWithSession(req.Context(), &shared.Session{ID: "s1", UserID: 1}))
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func TestHandlerRoleLifecycle(t *testing.T) {
	f := newHandlerFixture(t)

	res := f.do(t, http.MethodPost, "/api/v1/roles", map[string]any{"name": "editor", "description": "Manages content"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	var created Role
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	assert.Equal(t, "editor", created.Name)
	assert.NotZero(t, created.ID)

	res = f.do(t, http.MethodPost, "/api/v1/roles", map[string]any{"name": "editor"})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = f.do(t, http.MethodGet, "/api/v1/roles", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var listing struct {
		Roles []Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &listing))
	assert.Len(t, listing.Roles, 1)

	res = f.do(t, http.MethodDelete, "/api/v1/roles/9999", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestHandlerValidation(t *testing.T) {
	f := newHandlerFixture(t)

	res := f.do(t, http.MethodPost, "/api/v1/roles", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, res.Code, "name below minimum length")

	res = f.do(t, http.MethodPost, "/api/v1/permissions", map[string]any{"name": "POST_CREATE"})
	assert.Equal(t, http.StatusBadRequest, res.Code, "resource and action are required")

	res = f.do(t, http.MethodGet, "/api/v1/roles/not-a-number/permissions", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerGrantAndRevoke(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, "editor", "")
	require.NoError(t, err)
	permission, err := f.service.CreatePermission(ctx, "POST_CREATE", "", "post", "create")
	require.NoError(t, err)

	path := "/api/v1/roles/" + itoa64(role.ID) + "/permissions/" + itoa64(permission.ID)
	res := f.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = f.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusNoContent, res.Code, "re-grant is idempotent")

	res = f.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var revoked struct {
		Revoked int64 `json:"revoked"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &revoked))
	assert.Equal(t, int64(1), revoked.Revoked)

	res = f.do(t, http.MethodPost, "/api/v1/roles/"+itoa64(role.ID)+"/permissions/424242", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
}

func TestHandlerBatchGrant(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, "editor", "")
	require.NoError(t, err)
	p1, err := f.service.CreatePermission(ctx, "POST_CREATE", "", "post", "create")
	require.NoError(t, err)
	p2, err := f.service.CreatePermission(ctx, "POST_UPDATE", "", "post", "update")
	require.NoError(t, err)
	require.NoError(t, f.service.Grant(ctx, role.ID, p1.ID))

	res := f.do(t, http.MethodPost, "/api/v1/roles/"+itoa64(role.ID)+"/permissions",
		map[string]any{"permission_ids": []int64{p1.ID, p2.ID}})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var out struct {
		Granted int64 `json:"granted"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	assert.Equal(t, int64(1), out.Granted)

	res = f.do(t, http.MethodPost, "/api/v1/roles/"+itoa64(role.ID)+"/permissions",
		map[string]any{"permission_ids": []int64{}})
	assert.Equal(t, http.StatusBadRequest, res.Code, "empty batch fails validation")
}

func TestHandlerUserAssignmentsInvalidateCache(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, "editor", "")
	require.NoError(t, err)

	res := f.do(t, http.MethodPost, "/api/v1/users/7/roles/"+itoa64(role.ID), nil)
	require.Equal(t, http.StatusNoContent, res.Code)
	assert.Equal(t, []int64{7}, f.invalidator.users)

	res = f.do(t, http.MethodDelete, "/api/v1/users/7/roles/"+itoa64(role.ID), nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, []int64{7, 7}, f.invalidator.users)
}

func TestHandlerEffectivePermissionsAndChecks(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, "editor", "")
	require.NoError(t, err)
	permission, err := f.service.CreatePermission(ctx, "POST_CREATE", "", "post", "create")
	require.NoError(t, err)
	require.NoError(t, f.service.Grant(ctx, role.ID, permission.ID))
	require.NoError(t, f.service.Assign(ctx, 7, role.ID))

	res := f.do(t, http.MethodGet, "/api/v1/users/7/has-permission/POST_CREATE", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var allowed struct {
		Allowed bool `json:"allowed"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &allowed))
	assert.True(t, allowed.Allowed)

	res = f.do(t, http.MethodGet, "/api/v1/users/7/has-role/editor", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var held struct {
		Held bool `json:"held"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &held))
	assert.True(t, held.Held)

	res = f.do(t, http.MethodGet, "/api/v1/users/8/has-permission/POST_CREATE", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &allowed))
	assert.False(t, allowed.Allowed)
}

func TestHandlerPermissionImpact(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, "editor", "")
	require.NoError(t, err)
	permission, err := f.service.CreatePermission(ctx, "POST_CREATE", "", "post", "create")
	require.NoError(t, err)
	require.NoError(t, f.service.Grant(ctx, role.ID, permission.ID))

	res := f.do(t, http.MethodGet, "/api/v1/permissions/"+itoa64(permission.ID)+"/impact", nil)
	require.Equal(t, http.StatusOK, res.Code)
	var impact struct {
		RolesHolding int64 `json:"roles_holding"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &impact))
	assert.Equal(t, int64(1), impact.RolesHolding)
}
