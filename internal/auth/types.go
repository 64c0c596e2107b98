package auth

import (
	"strings"
	"time"
)

// Role is the coarse account role carried in session tokens.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole normalizes a stored role value. Unknown values map to RoleUser.
func ParseRole(raw string) Role {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case string(RoleAdmin), "administrator":
		return RoleAdmin
	default:
		return RoleUser
	}
}

// IsAdmin reports whether the role bypasses permission checks.
func (r Role) IsAdmin() bool { return r == RoleAdmin }

// Status is the lifecycle state of a user account.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// ParseStatus normalizes a stored status value ("ACTIVE" and "active" are equal).
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.TrimSpace(strings.ToLower(raw))); s {
	case StatusActive, StatusInactive, StatusSuspended:
		return s, true
	default:
		return "", false
	}
}

// Active reports whether sessions of a user in this state are honoured.
func (s Status) Active() bool { return s == StatusActive }

// User is an identity record as held by the store.
type User struct {
	ID           string    `json:"id" yaml:"id"`
	Username     string    `json:"username" yaml:"username"`
	Name         string    `json:"name" yaml:"name"`
	Email        string    `json:"email" yaml:"email"`
	PasswordHash string    `json:"-" yaml:"password_hash"`
	Role         Role      `json:"role" yaml:"role"`
	Status       Status    `json:"status" yaml:"status"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// Identity returns the public identity fields of the user.
func (u User) Identity() Identity {
	return Identity{
		ID:       u.ID,
		Username: u.Username,
		Name:     u.Name,
		Email:    u.Email,
		Role:     u.Role,
		Status:   u.Status,
	}
}

// Identity is the subset of user fields exposed to callers.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Role     Role   `json:"role"`
	Status   Status `json:"status,omitempty"`
}

// Grant associates a capability name with an optional expiry.
type Grant struct {
	SystemID string     `json:"system_id" yaml:"system_id"`
	Expiry   *time.Time `json:"expiry,omitempty" yaml:"expiry,omitempty"`
}

// ActiveAt reports whether the grant contributes at the given instant.
// A grant expiring exactly at now no longer counts.
func (g Grant) ActiveAt(now time.Time) bool {
	return g.Expiry == nil || g.Expiry.After(now)
}

// Group carries grants inherited by every member.
type Group struct {
	ID     string  `json:"id" yaml:"id"`
	Name   string  `json:"name" yaml:"name"`
	Grants []Grant `json:"grants,omitempty" yaml:"grants,omitempty"`
}

// UserRecord is a user together with its direct grants and group memberships.
type UserRecord struct {
	User
	Grants []Grant
	Groups []Group
}
