package auth

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"regdesk.org/internal/obs"
)

// Principal is an authenticated user with resolved permissions.
type Principal struct {
	Identity
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal with preloaded permissions.
func NewPrincipal(id Identity, perms map[string]struct{}) Principal {
	if perms == nil {
		perms = map[string]struct{}{}
	}
	return Principal{Identity: id, Permissions: perms}
}

// HasPermission reports whether the principal may use capability key.
// Administrators hold every capability.
func (p Principal) HasPermission(key string) bool {
	if p.Role.IsAdmin() {
		return true
	}
	_, ok := p.Permissions[key]
	return ok
}

// PermissionList returns the effective permissions in sorted order.
func (p Principal) PermissionList() []string {
	out := make([]string, 0, len(p.Permissions))
	for k := range p.Permissions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Authorizer turns a session token into an allow/deny decision.
type Authorizer struct {
	tokens *TokenService
	perms  *Aggregator
}

// NewAuthorizer wires the token service and the aggregator.
func NewAuthorizer(tokens *TokenService, perms *Aggregator) (*Authorizer, error) {
	if tokens == nil || perms == nil {
		return nil, errors.New("auth: token service and aggregator are required")
	}
	return &Authorizer{tokens: tokens, perms: perms}, nil
}

// Authenticate verifies token and resolves the principal behind it. Every
// failure collapses to ErrUnauthenticated.
func (a *Authorizer) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, ok := a.tokens.Verify(token)
	if !ok {
		obs.RecordAuthDecision(obs.DecisionUnauthenticated)
		return Principal{}, ErrUnauthenticated
	}
	principal, err := a.perms.Resolve(ctx, claims.UserID)
	if err != nil {
		obs.RecordAuthDecision(obs.DecisionUnauthenticated)
		return Principal{}, ErrUnauthenticated
	}
	obs.RecordAuthDecision(obs.DecisionAllowed)
	return principal, nil
}

// Authorize authenticates token and, when permission is not empty, requires
// it. It returns ErrUnauthenticated or ErrForbidden on failure.
func (a *Authorizer) Authorize(ctx context.Context, token, permission string) (Principal, error) {
	claims, ok := a.tokens.Verify(token)
	if !ok {
		obs.RecordAuthDecision(obs.DecisionUnauthenticated)
		return Principal{}, ErrUnauthenticated
	}
	rec, err := a.perms.loadActive(ctx, claims.UserID)
	if err != nil {
		obs.RecordAuthDecision(obs.DecisionUnauthenticated)
		return Principal{}, ErrUnauthenticated
	}
	// Administrators skip the permission-set computation entirely.
	if rec.Role.IsAdmin() {
		obs.RecordAuthDecision(obs.DecisionAllowed)
		return NewPrincipal(rec.Identity(), nil), nil
	}
	principal := NewPrincipal(rec.Identity(), EffectivePermissions(rec, a.perms.clock.Now()))
	if permission != "" && !principal.HasPermission(permission) {
		obs.Logger().Debug("permission denied",
			zap.String("user_id", principal.ID),
			zap.String("permission", permission))
		obs.RecordAuthDecision(obs.DecisionForbidden)
		return principal, ErrForbidden
	}
	obs.RecordAuthDecision(obs.DecisionAllowed)
	return principal, nil
}

// HasPermission is the page guard: false without a valid session, true for
// administrators, otherwise membership of name in the effective set. An empty
// name is never a member.
func (a *Authorizer) HasPermission(ctx context.Context, token, name string) bool {
	p, err := a.Authorize(ctx, token, name)
	return err == nil && p.HasPermission(name)
}
