package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thejerf/abtime"
)

var testEpoch = time.Date(2025, 7, 14, 9, 30, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func newTestClock() *abtime.ManualTime {
	return abtime.NewManualAtTime(testEpoch)
}

func newTestTokens(t *testing.T, clock abtime.AbstractTime, opts ...TokenOption) *TokenService {
	t.Helper()
	opts = append([]TokenOption{WithClock(clock)}, opts...)
	svc, err := NewTokenService("test-secret", opts...)
	require.NoError(t, err)
	return svc
}

// fixture seeds the scenario users used across the package tests.
func fixture(t *testing.T) *MemoryStore {
	t.Helper()
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	ops := Group{ID: "g-ops", Name: "ops", Grants: []Grant{
		{SystemID: "doc:delete", Expiry: timePtr(testEpoch.Add(-24 * time.Hour))},
		{SystemID: "doc:read"},
	}}
	auditors := Group{ID: "g-audit", Name: "auditors", Grants: []Grant{
		{SystemID: "doc:read", Expiry: timePtr(testEpoch.Add(24 * time.Hour))},
		{SystemID: "register:view", Expiry: timePtr(testEpoch.Add(time.Hour))},
	}}

	store := NewMemoryStore()
	store.Put(UserRecord{
		User:   User{ID: "u-alice", Username: "alice", Name: "Alice", Email: "alice@example.com", PasswordHash: hash, Role: RoleUser, Status: StatusActive},
		Grants: []Grant{{SystemID: "doc:write"}},
	})
	store.Put(UserRecord{
		User:   User{ID: "u-bob", Username: "bob", Name: "Bob", PasswordHash: hash, Role: RoleUser, Status: StatusActive},
		Groups: []Group{ops},
	})
	store.Put(UserRecord{
		User:   User{ID: "u-carol", Username: "carol", Name: "Carol", PasswordHash: hash, Role: RoleUser, Status: StatusActive},
		Grants: []Grant{{SystemID: "doc:read"}, {SystemID: "doc:old", Expiry: timePtr(testEpoch)}},
		Groups: []Group{ops, auditors},
	})
	store.Put(UserRecord{
		User: User{ID: "u-root", Username: "root", Name: "Root", PasswordHash: hash, Role: RoleAdmin, Status: StatusActive},
	})
	store.Put(UserRecord{
		User:   User{ID: "u-sam", Username: "sam", Name: "Sam", PasswordHash: hash, Role: RoleUser, Status: StatusSuspended},
		Grants: []Grant{{SystemID: "doc:write"}},
	})
	store.Put(UserRecord{
		User: User{ID: "u-ivy", Username: "ivy", Name: "Ivy", PasswordHash: hash, Role: RoleAdmin, Status: StatusInactive},
	})
	return store
}

type failingStore struct{}

func (failingStore) UserByUsername(context.Context, string) (*UserRecord, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) UserByID(context.Context, string) (*UserRecord, error) {
	return nil, errors.New("connection refused")
}
