package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plumeworks/plume/internal/shared"
)

type recordingMetrics struct {
	allowed int
	denied  int
}

func (r *recordingMetrics) ObserveAuthzDecision(allowed bool) {
	if allowed {
		r.allowed++
	} else {
		r.denied++
	}
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func requestWithUser(userID int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID > 0 {
		ctx := shared.ContextWithSession(req.Context(), &shared.Session{ID: "s1", UserID: userID})
		req = req.WithContext(ctx)
	}
	return req
}

func TestRequireAnyAllows(t *testing.T) {
	checker := &countingChecker{perms: []Permission{perm(10, "POST_CREATE")}}
	metrics := &recordingMetrics{}
	mw := Middleware{Checker: checker, Metrics: metrics}

	next, called := okHandler()
	res := httptest.NewRecorder()
	mw.RequireAny("POST_CREATE", "POST_DELETE")(next).ServeHTTP(res, requestWithUser(100))

	assert.Equal(t, http.StatusOK, res.Code)
	assert.True(t, *called)
	assert.Equal(t, 1, metrics.allowed)
}

func TestRequireAnyDeniesMissingPermission(t *testing.T) {
	checker := &countingChecker{perms: []Permission{perm(10, "POST_CREATE")}}
	metrics := &recordingMetrics{}
	mw := Middleware{Checker: checker, Metrics: metrics}

	next, called := okHandler()
	res := httptest.NewRecorder()
	mw.RequireAny("USER_MANAGE")(next).ServeHTTP(res, requestWithUser(100))

	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.False(t, *called)
	assert.Equal(t, 1, metrics.denied)
}

func TestRequireAnyDeniesWithoutSession(t *testing.T) {
	checker := &countingChecker{perms: []Permission{perm(10, "POST_CREATE")}}
	mw := Middleware{Checker: checker}

	next, called := okHandler()
	res := httptest.NewRecorder()
	mw.RequireAny("POST_CREATE")(next).ServeHTTP(res, requestWithUser(0))

	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.False(t, *called)
	assert.Zero(t, checker.effectiveCalls, "anonymous requests never reach storage")
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	checker := &countingChecker{perms: []Permission{perm(10, "POST_CREATE"), perm(11, "POST_UPDATE")}}
	mw := Middleware{Checker: checker}

	next, _ := okHandler()
	res := httptest.NewRecorder()
	mw.RequireAll("POST_CREATE", "POST_UPDATE")(next).ServeHTTP(res, requestWithUser(100))
	assert.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	mw.RequireAll("POST_CREATE", "POST_DELETE")(next).ServeHTTP(res, requestWithUser(100))
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestRequireAnyEmptyListPassesThrough(t *testing.T) {
	mw := Middleware{Checker: &countingChecker{}}

	next, called := okHandler()
	res := httptest.NewRecorder()
	mw.RequireAny()(next).ServeHTTP(res, requestWithUser(0))

	assert.Equal(t, http.StatusOK, res.Code)
	assert.True(t, *called)
}

func TestRequireRole(t *testing.T) {
	checker := &countingChecker{}
	mw := Middleware{Checker: checker}

	next, _ := okHandler()
	res := httptest.NewRecorder()
	mw.RequireRole("editor")(next).ServeHTTP(res, requestWithUser(100))
	assert.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	mw.RequireRole("admin")(next).ServeHTTP(res, requestWithUser(100))
	assert.Equal(t, http.StatusForbidden, res.Code)
}
