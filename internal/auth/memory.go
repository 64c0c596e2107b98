package auth

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"regdesk.org/internal/ids"
)

var _ AdminStore = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]User
	byName  map[string]string
	grants  map[string][]Grant
	groups  map[string]Group
	members map[string][]string // user id -> group ids
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]User),
		byName:  make(map[string]string),
		grants:  make(map[string][]Grant),
		groups:  make(map[string]Group),
		members: make(map[string][]string),
	}
}

func (s *MemoryStore) UserByUsername(_ context.Context, username string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	return s.recordLocked(id)
}

func (s *MemoryStore) UserByID(_ context.Context, id string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordLocked(id)
}

func (s *MemoryStore) recordLocked(id string) (*UserRecord, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec := &UserRecord{User: u, Grants: append([]Grant(nil), s.grants[id]...)}
	for _, gid := range s.members[id] {
		g := s.groups[gid]
		g.Grants = append([]Grant(nil), g.Grants...)
		rec.Groups = append(rec.Groups, g)
	}
	return rec, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u User) (User, error) {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if u.Status == "" {
		u.Status = StatusActive
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[u.Username]; exists {
		return User{}, ErrConflict
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, exists := s.users[u.ID]; exists {
		return User{}, ErrConflict
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u
	s.byName[u.Username] = u.ID
	return u, nil
}

func (s *MemoryStore) SetUserStatus(_ context.Context, userID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) GrantUser(_ context.Context, userID string, grant Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	s.grants[userID] = append(s.grants[userID], grant)
	return nil
}

func (s *MemoryStore) CreateGroup(_ context.Context, name string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := Group{ID: ids.New(), Name: name}
	s.groups[g.ID] = g
	return g, nil
}

func (s *MemoryStore) AddMember(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	for _, existing := range s.members[userID] {
		if existing == groupID {
			return nil
		}
	}
	s.members[userID] = append(s.members[userID], groupID)
	return nil
}

func (s *MemoryStore) GrantGroup(_ context.Context, groupID string, grant Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return ErrNotFound
	}
	g.Grants = append(g.Grants, grant)
	s.groups[groupID] = g
	return nil
}

// Put replaces the record for rec.ID wholesale, including its groups.
func (s *MemoryStore) Put(rec UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.users[rec.ID]; ok {
		delete(s.byName, old.Username)
	}
	s.users[rec.ID] = rec.User
	s.byName[rec.Username] = rec.ID
	s.grants[rec.ID] = append([]Grant(nil), rec.Grants...)
	s.members[rec.ID] = nil
	for _, g := range rec.Groups {
		s.groups[g.ID] = g
		s.members[rec.ID] = append(s.members[rec.ID], g.ID)
	}
}

// seedFile is the YAML layout accepted by LoadSeed.
type seedFile struct {
	Groups []Group     `yaml:"groups"`
	Users  []seedEntry `yaml:"users"`
}

type seedEntry struct {
	User     `yaml:",inline"`
	Password string   `yaml:"password"`
	Grants   []Grant  `yaml:"grants"`
	Groups   []string `yaml:"groups"`
}

// LoadSeed reads users and groups from YAML into the store. Plaintext
// passwords are hashed with bcrypt on the way in.
func (s *MemoryStore) LoadSeed(r io.Reader) error {
	var seed seedFile
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode seed: %w", err)
	}
	groups := make(map[string]Group, len(seed.Groups))
	for _, g := range seed.Groups {
		if g.ID == "" {
			g.ID = g.Name
		}
		groups[g.ID] = g
	}
	for _, entry := range seed.Users {
		u := entry.User
		if u.Username == "" {
			return fmt.Errorf("%w: seed user without username", ErrInvalidInput)
		}
		if u.ID == "" {
			u.ID = ids.New()
		}
		u.Role = ParseRole(string(u.Role))
		status, ok := ParseStatus(string(u.Status))
		if !ok {
			status = StatusActive
		}
		u.Status = status
		if entry.Password != "" {
			hash, err := HashPassword(entry.Password)
			if err != nil {
				return fmt.Errorf("hash password for %s: %w", u.Username, err)
			}
			u.PasswordHash = hash
		}
		rec := UserRecord{User: u, Grants: entry.Grants}
		for _, gid := range entry.Groups {
			g, ok := groups[gid]
			if !ok {
				return fmt.Errorf("%w: user %s references unknown group %s", ErrInvalidInput, u.Username, gid)
			}
			rec.Groups = append(rec.Groups, g)
		}
		s.Put(rec)
	}
	return nil
}
