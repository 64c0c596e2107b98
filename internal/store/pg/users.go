package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"regdesk.org/internal/auth"
	"regdesk.org/internal/ids"
)

var _ auth.AdminStore = (*Store)(nil)

const userColumns = `id, username, name, email, password_hash, role, status, created_at, updated_at`

func (s *Store) UserByUsername(ctx context.Context, username string) (*auth.UserRecord, error) {
	return s.loadRecord(ctx, `select `+userColumns+` from users where username = $1`, username)
}

func (s *Store) UserByID(ctx context.Context, id string) (*auth.UserRecord, error) {
	return s.loadRecord(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *Store) loadRecord(ctx context.Context, query, arg string) (*auth.UserRecord, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		rec    auth.UserRecord
		role   string
		status string
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rec.ID, &rec.Username, &rec.Name, &rec.Email, &rec.PasswordHash,
		&role, &status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	rec.Role = auth.ParseRole(role)
	parsed, ok := auth.ParseStatus(status)
	if !ok {
		// Unknown states are never treated as active.
		parsed = auth.StatusInactive
	}
	rec.Status = parsed

	if rec.Grants, err = s.userGrants(ctx, rec.ID); err != nil {
		return nil, err
	}
	if rec.Groups, err = s.userGroups(ctx, rec.ID); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) userGrants(ctx context.Context, userID string) ([]auth.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select system_id, expiry
		from user_permissions
		where user_id = $1
		order by system_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("load user grants: %w", err)
	}
	defer rows.Close()

	var grants []auth.Grant
	for rows.Next() {
		var (
			g      auth.Grant
			expiry sql.NullTime
		)
		if err := rows.Scan(&g.SystemID, &expiry); err != nil {
			return nil, err
		}
		g.Expiry = nullTimePtr(expiry)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *Store) userGroups(ctx context.Context, userID string) ([]auth.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		select g.id, g.name, gp.system_id, gp.expiry
		from user_groups ug
		join groups g on g.id = ug.group_id
		left join group_permissions gp on gp.group_id = g.id
		where ug.user_id = $1
		order by g.name, g.id, gp.system_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("load user groups: %w", err)
	}
	defer rows.Close()

	var (
		groups []auth.Group
		index  = make(map[string]int)
	)
	for rows.Next() {
		var (
			groupID, name string
			systemID      sql.NullString
			expiry        sql.NullTime
		)
		if err := rows.Scan(&groupID, &name, &systemID, &expiry); err != nil {
			return nil, err
		}
		i, seen := index[groupID]
		if !seen {
			i = len(groups)
			index[groupID] = i
			groups = append(groups, auth.Group{ID: groupID, Name: name})
		}
		if systemID.Valid {
			groups[i].Grants = append(groups[i].Grants, auth.Grant{
				SystemID: systemID.String,
				Expiry:   nullTimePtr(expiry),
			})
		}
	}
	return groups, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" || u.PasswordHash == "" {
		return auth.User{}, fmt.Errorf("%w: username and password hash are required", auth.ErrInvalidInput)
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = auth.RoleUser
	}
	if u.Status == "" {
		u.Status = auth.StatusActive
	}
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, username, name, email, password_hash, role, status)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, u.ID, u.Username, u.Name, u.Email, u.PasswordHash, string(u.Role), string(u.Status)).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, err
	}
	u.PasswordHash = ""
	return u, nil
}

func (s *Store) SetUserStatus(ctx context.Context, userID string, status auth.Status) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status = $2, updated_at = now() where id = $1`, userID, string(status))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *Store) GrantUser(ctx context.Context, userID string, grant auth.Grant) error {
	if strings.TrimSpace(grant.SystemID) == "" {
		return fmt.Errorf("%w: system_id is required", auth.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_permissions (id, user_id, system_id, expiry)
		values ($1, $2, $3, $4)
	`, ids.New(), userID, grant.SystemID, timePtrArg(grant.Expiry))
	if isPgCode(err, pgErrForeignKeyViolation) {
		return auth.ErrNotFound
	}
	return err
}

func (s *Store) CreateGroup(ctx context.Context, name string) (auth.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return auth.Group{}, fmt.Errorf("%w: group name is required", auth.ErrInvalidInput)
	}
	g := auth.Group{ID: ids.New(), Name: name}
	_, err := s.db.ExecContext(ctx, `insert into groups (id, name) values ($1, $2)`, g.ID, g.Name)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return auth.Group{}, auth.ErrConflict
		}
		return auth.Group{}, err
	}
	return g, nil
}

func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_groups (user_id, group_id)
		values ($1, $2)
		on conflict (user_id, group_id) do nothing
	`, userID, groupID)
	if isPgCode(err, pgErrForeignKeyViolation) {
		return auth.ErrNotFound
	}
	return err
}

func (s *Store) GrantGroup(ctx context.Context, groupID string, grant auth.Grant) error {
	if strings.TrimSpace(grant.SystemID) == "" {
		return fmt.Errorf("%w: system_id is required", auth.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into group_permissions (id, group_id, system_id, expiry)
		values ($1, $2, $3, $4)
	`, ids.New(), groupID, grant.SystemID, timePtrArg(grant.Expiry))
	if isPgCode(err, pgErrForeignKeyViolation) {
		return auth.ErrNotFound
	}
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timePtrArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
