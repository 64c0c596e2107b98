package httpapi

import (
	"context"
	"errors"
	"net/http"

	"regdesk.org/internal/audit"
	"regdesk.org/internal/auth"
	"regdesk.org/internal/obs"
	"regdesk.org/internal/session"
)

// Authorizer is the part of the auth service the guard depends on.
type Authorizer interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
	Authorize(ctx context.Context, token, permission string) (auth.Principal, error)
}

// Guard enforces sessions and permissions on HTTP requests.
type Guard struct {
	authz   Authorizer
	cookies *session.Cookies
}

func NewGuard(authz Authorizer, cookies *session.Cookies) *Guard {
	return &Guard{authz: authz, cookies: cookies}
}

// HasPermission is the page guard. It never fails: a missing or invalid
// session, or an inactive user, yields false. Unlike WithAuth, an empty
// name is denied to everyone but administrators.
func (g *Guard) HasPermission(r *http.Request, name string) bool {
	token, ok := g.cookies.TokenFromRequest(r)
	if !ok {
		obs.RecordAuthDecision(obs.DecisionUnauthenticated)
		return false
	}
	p, err := g.authz.Authorize(r.Context(), token, name)
	return err == nil && p.HasPermission(name)
}

// WithAuth wraps next so it only runs for an active user holding permission.
// An empty permission only requires a session. The principal is attached to
// the request context.
func (g *Guard) WithAuth(next http.Handler, permission string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.check(r, permission)
		if err != nil {
			if errors.Is(err, auth.ErrForbidden) {
				_ = audit.LogEvent(auth.ContextWithPrincipal(r.Context(), principal), audit.EventAccessDenied, map[string]string{
					"permission": permission,
					"path":       r.URL.Path,
				})
				writeError(w, r, http.StatusForbidden, "Forbidden")
				return
			}
			writeUnauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// Require is the middleware form of WithAuth.
func (g *Guard) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.WithAuth(next, permission)
	}
}

func (g *Guard) check(r *http.Request, permission string) (auth.Principal, error) {
	token, ok := g.cookies.TokenFromRequest(r)
	if !ok {
		obs.RecordAuthDecision(obs.DecisionUnauthenticated)
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	if permission == "" {
		return g.authz.Authenticate(r.Context(), token)
	}
	return g.authz.Authorize(r.Context(), token, permission)
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="regdesk"`)
	writeError(w, r, http.StatusUnauthorized, "Unauthorized")
}
