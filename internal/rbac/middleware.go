package rbac

import (
	"net/http"
	"strings"

	"log/slog"

	"github.com/plumeworks/plume/internal/shared"
)

// DecisionRecorder observes authorization outcomes, typically backed by a
// metrics counter.
type DecisionRecorder interface {
	ObserveAuthzDecision(allowed bool)
}

// Middleware wires authorization guards for HTTP handlers.
type Middleware struct {
	Checker AccessChecker
	Logger  *slog.Logger
	Metrics DecisionRecorder
}

// RequireAny ensures the current user holds at least one of the required
// permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.UserIDFromContext(r.Context())
			if !ok {
				m.deny(w)
				return
			}
			granted, err := m.Checker.EffectivePermissions(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require any", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if hasAnyPermission(granted, normalized) {
				m.record(true)
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w)
		})
	}
}

// RequireAll ensures the current user holds all of the required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.UserIDFromContext(r.Context())
			if !ok {
				m.deny(w)
				return
			}
			granted, err := m.Checker.EffectivePermissions(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require all", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if hasAllPermissions(granted, normalized) {
				m.record(true)
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w)
		})
	}
}

// RequireRole ensures the current user holds the named role.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	role = strings.TrimSpace(role)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if role == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.UserIDFromContext(r.Context())
			if !ok {
				m.deny(w)
				return
			}
			held, err := m.Checker.HasRole(r.Context(), userID, role)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require role", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if held {
				m.record(true)
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter) {
	m.record(false)
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func (m Middleware) record(allowed bool) {
	if m.Metrics != nil {
		m.Metrics.ObserveAuthzDecision(allowed)
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []Permission, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToUpper(p.Name)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []Permission, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToUpper(p.Name)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
