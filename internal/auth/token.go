package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/thejerf/abtime"
)

const (
	DefaultIssuer      = "regdesk"
	DefaultSessionTTL  = 2 * time.Hour
	DefaultRememberTTL = 30 * 24 * time.Hour
)

// Claims are the session token claims. ID duplicates the subject so that
// clients reading the payload find the user id under "id".
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// Identity returns the identity carried by the token. Email and status are
// not part of the token and stay empty.
func (c *Claims) Identity() Identity {
	return Identity{ID: c.UserID, Username: c.Username, Name: c.Name, Role: c.Role}
}

// TokenService issues and verifies HS256 session tokens. The secret is fixed
// for the lifetime of the service.
type TokenService struct {
	secret      []byte
	issuer      string
	sessionTTL  time.Duration
	rememberTTL time.Duration
	clock       abtime.AbstractTime
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithSessionTTL sets the validity window of ordinary sessions.
func WithSessionTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl < 0 {
			return errors.New("auth: session ttl must be positive")
		}
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithRememberTTL sets the validity window of "remember me" sessions.
func WithRememberTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl < 0 {
			return errors.New("auth: remember ttl must be positive")
		}
		if ttl > 0 {
			s.rememberTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(clock abtime.AbstractTime) TokenOption {
	return func(s *TokenService) error {
		if clock != nil {
			s.clock = clock
		}
		return nil
	}
}

// NewTokenService constructs a TokenService signing with secret.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &TokenService{
		secret:      []byte(secret),
		issuer:      DefaultIssuer,
		sessionTTL:  DefaultSessionTTL,
		rememberTTL: DefaultRememberTTL,
		clock:       abtime.NewRealTime(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// TTL returns the validity window for the given session kind.
func (s *TokenService) TTL(rememberMe bool) time.Duration {
	if rememberMe {
		return s.rememberTTL
	}
	return s.sessionTTL
}

// Issue signs a session token for user. The expiry is TTL(rememberMe) after now.
func (s *TokenService) Issue(user User, rememberMe bool) (string, time.Time, error) {
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := s.clock.Now().UTC().Truncate(jwt.TimePrecision)
	expiresAt := now.Add(s.TTL(rememberMe))
	claims := Claims{
		UserID:   userID,
		Username: user.Username,
		Name:     user.Name,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks encoding, signature, algorithm, issuer and expiry. Any failure yields
// (nil, false); a bad token is an expected outcome, not an error.
func (s *TokenService) Verify(token string) (*Claims, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithStrictDecoding(),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, false
	}
	if strings.TrimSpace(claims.UserID) == "" || claims.UserID != claims.Subject {
		return nil, false
	}
	return claims, true
}
