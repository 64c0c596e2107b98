package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regdesk.org/internal/auth"
)

func memoryCLI(store *auth.MemoryStore) *cli {
	return &cli{open: func(string) (auth.AdminStore, func() error, error) {
		return store, nil, nil
	}}
}

func execute(t *testing.T, c *cli, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(c)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashPassword(t *testing.T) {
	out, err := execute(t, memoryCLI(nil), "s3cret\n", "hash-password")
	require.NoError(t, err)
	require.NoError(t, auth.VerifyPassword(strings.TrimSpace(out), "s3cret"))

	out, err = execute(t, memoryCLI(nil), "", "hash-password", "--password", "other")
	require.NoError(t, err)
	require.NoError(t, auth.VerifyPassword(strings.TrimSpace(out), "other"))

	_, err = execute(t, memoryCLI(nil), "", "hash-password")
	require.Error(t, err)
}

func TestUserGroupGrantWorkflow(t *testing.T) {
	store := auth.NewMemoryStore()
	c := memoryCLI(store)
	ctx := context.Background()

	_, err := execute(t, c, "", "user", "create", "--username", "dana", "--name", "Dana", "--password", "pw")
	require.NoError(t, err)
	rec, err := store.UserByUsername(ctx, "dana")
	require.NoError(t, err)
	require.NoError(t, auth.VerifyPassword(rec.PasswordHash, "pw"))

	out, err := execute(t, c, "", "group", "create", "editors")
	require.NoError(t, err)
	groupID := strings.TrimSuffix(strings.SplitN(out, "(", 2)[1], ")\n")

	_, err = execute(t, c, "", "group", "add-member", groupID, rec.ID)
	require.NoError(t, err)
	_, err = execute(t, c, "", "grant", "group", groupID, auth.PermProceduresEdit)
	require.NoError(t, err)
	_, err = execute(t, c, "", "grant", "user", rec.ID, auth.PermLegalRegisterView, "--expires", "720h")
	require.NoError(t, err)

	out, err = execute(t, c, "", "check", "dana")
	require.NoError(t, err)
	assert.Contains(t, out, auth.PermProceduresEdit)
	assert.Contains(t, out, auth.PermLegalRegisterView)

	out, err = execute(t, c, "", "check", "dana", auth.PermRegistersEdit)
	require.NoError(t, err)
	assert.Equal(t, "dana registers:edit: false\n", out)

	_, err = execute(t, c, "", "user", "status", rec.ID, "SUSPENDED")
	require.NoError(t, err)
	_, err = execute(t, c, "", "check", "dana")
	require.ErrorIs(t, err, auth.ErrNoActiveUser)
}

func TestUserCreateValidation(t *testing.T) {
	c := memoryCLI(auth.NewMemoryStore())
	_, err := execute(t, c, "", "user", "create", "--password", "pw")
	require.Error(t, err)
	_, err = execute(t, c, "", "user", "create", "--username", "x")
	require.Error(t, err)
	_, err = execute(t, c, "", "user", "status", "u-1", "pending")
	require.Error(t, err)
}

func TestGrantUnknownUser(t *testing.T) {
	_, err := execute(t, memoryCLI(auth.NewMemoryStore()), "", "grant", "user", "ghost", "doc:read")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestStoreOpenFailure(t *testing.T) {
	c := &cli{open: func(string) (auth.AdminStore, func() error, error) {
		return nil, nil, errors.New("dial failed")
	}}
	_, err := execute(t, c, "", "group", "create", "x")
	require.EqualError(t, err, "dial failed")
}

func TestParseExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseExpiry("", now)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseExpiry("48h", now)
	require.NoError(t, err)
	assert.True(t, got.Equal(now.Add(48*time.Hour)))

	got, err = parseExpiry("2026-01-01T00:00:00+02:00", now)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 12, 31, 22, 0, 0, 0, time.UTC)))

	for _, bad := range []string{"tomorrow", "-1h"} {
		_, err = parseExpiry(bad, now)
		assert.Error(t, err, bad)
	}
}
