package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"regdesk.org/internal/obs"
)

// dummyHash is compared against when the username is unknown so that the
// response time does not reveal whether the account exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("regdesk-dummy-password"), bcrypt.DefaultCost)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// CredentialVerifier checks username/password pairs against the store.
type CredentialVerifier struct {
	store Store
}

// NewCredentialVerifier constructs a verifier backed by store.
func NewCredentialVerifier(store Store) (*CredentialVerifier, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	return &CredentialVerifier{store: store}, nil
}

// Verify reports whether secret matches the stored hash of username.
func (v *CredentialVerifier) Verify(ctx context.Context, username, secret string) bool {
	_, err := v.Check(ctx, username, secret)
	return err == nil
}

// Check verifies the credentials and returns the matching user without its
// password hash. Every failure is reported as ErrInvalidCredentials.
func (v *CredentialVerifier) Check(ctx context.Context, username, secret string) (User, error) {
	if strings.TrimSpace(username) == "" || secret == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return User{}, ErrInvalidCredentials
	}
	rec, err := v.store.UserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Logger().Error("credential lookup failed", zap.Error(err))
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return User{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(rec.PasswordHash, secret); err != nil {
		return User{}, ErrInvalidCredentials
	}
	user := rec.User
	user.PasswordHash = ""
	return user, nil
}
