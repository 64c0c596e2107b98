package auth

import "context"

// Store is the read side required by the auth core. Both lookups return the
// user with its direct grants and every group membership (with group grants).
// Missing users yield ErrNotFound.
type Store interface {
	UserByUsername(ctx context.Context, username string) (*UserRecord, error)
	UserByID(ctx context.Context, id string) (*UserRecord, error)
}

// AdminStore manages users, groups and grants. The auth core never calls it;
// it backs the authctl tool and seeding.
type AdminStore interface {
	Store

	CreateUser(ctx context.Context, u User) (User, error)
	SetUserStatus(ctx context.Context, userID string, status Status) error
	GrantUser(ctx context.Context, userID string, grant Grant) error

	CreateGroup(ctx context.Context, name string) (Group, error)
	AddMember(ctx context.Context, groupID, userID string) error
	GrantGroup(ctx context.Context, groupID string, grant Grant) error
}
