package auth

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"regdesk.org/internal/obs"
)

// Session is the result of a successful login.
type Session struct {
	Token      string
	ExpiresAt  time.Time
	RememberMe bool
	User       Identity
}

// Service bundles the credential verifier, token service and authorizer
// behind the login / current-user operations.
type Service struct {
	*Authorizer

	creds  *CredentialVerifier
	tokens *TokenService
}

// NewService wires the auth core over store using tokens for sessions.
func NewService(store Store, tokens *TokenService, clock abtime.AbstractTime) (*Service, error) {
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	creds, err := NewCredentialVerifier(store)
	if err != nil {
		return nil, err
	}
	perms, err := NewAggregator(store, clock)
	if err != nil {
		return nil, err
	}
	authz, err := NewAuthorizer(tokens, perms)
	if err != nil {
		return nil, err
	}
	return &Service{Authorizer: authz, creds: creds, tokens: tokens}, nil
}

// Tokens exposes the token service, e.g. for cookie lifetimes.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Login checks the credentials and issues a session token. Inactive and
// suspended accounts fail exactly like a wrong password.
func (s *Service) Login(ctx context.Context, username, password string, rememberMe bool) (Session, error) {
	user, err := s.creds.Check(ctx, username, password)
	if err != nil {
		obs.RecordLogin(obs.LoginRejected)
		return Session{}, ErrInvalidCredentials
	}
	if !user.Status.Active() {
		obs.Logger().Info("login refused for non-active account", zap.String("user_id", user.ID))
		obs.RecordLogin(obs.LoginRejected)
		return Session{}, ErrInvalidCredentials
	}
	token, expiresAt, err := s.tokens.Issue(user, rememberMe)
	if err != nil {
		obs.RecordLogin(obs.LoginError)
		return Session{}, err
	}
	obs.RecordLogin(obs.LoginSucceeded)
	return Session{
		Token:      token,
		ExpiresAt:  expiresAt,
		RememberMe: rememberMe,
		User:       user.Identity(),
	}, nil
}

// CurrentUser returns the principal behind token with its effective
// permissions, or ErrUnauthenticated.
func (s *Service) CurrentUser(ctx context.Context, token string) (Principal, error) {
	return s.Authenticate(ctx, token)
}
