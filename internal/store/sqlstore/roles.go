package sqlstore

import (
	"context"
	"strings"

	"taskhub.org/internal/auth"
	"taskhub.org/internal/dbutil"
)

func (s *Store) FindRoleAssignments(ctx context.Context, userID string) ([]auth.RoleAssignment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		select id, user_id, role_id, assigned_at, expires_at, active
		from role_assignments
		where user_id = ?
		order by assigned_at, id
	`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.RoleAssignment
	for rows.Next() {
		var (
			a                 auth.RoleAssignment
			assigned, expires dbutil.NullTime
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &assigned, &expires, &a.Active); err != nil {
			return nil, err
		}
		a.AssignedAt = assigned.Time
		a.ExpiresAt = expires.Ptr()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) FindRoleByID(ctx context.Context, id string) (auth.Role, error) {
	return s.findRole(ctx, `id = ?`, id)
}

func (s *Store) FindRoleByName(ctx context.Context, name auth.RoleName) (auth.Role, error) {
	return s.findRole(ctx, `name = ?`, strings.ToUpper(string(name)))
}

func (s *Store) findRole(ctx context.Context, where string, arg any) (auth.Role, error) {
	if err := s.ready(); err != nil {
		return auth.Role{}, err
	}
	var (
		r    auth.Role
		name string
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		select id, name, description from roles where `+where), arg).
		Scan(&r.ID, &name, &r.Description)
	if err != nil {
		return auth.Role{}, mapError(err)
	}
	r.Name = auth.RoleName(name)
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `select id, name, description from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var (
			r    auth.Role
			name string
		)
		if err := rows.Scan(&r.ID, &name, &r.Description); err != nil {
			return nil, err
		}
		r.Name = auth.RoleName(name)
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// ReplaceRoleAssignment soft-disables the user's active assignments of the
// same role and inserts a in one transaction.
func (s *Store) ReplaceRoleAssignment(ctx context.Context, a *auth.RoleAssignment) error {
	if err := s.ready(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		update role_assignments set active = ?
		where user_id = ? and role_id = ? and active = ?
	`), false, a.UserID, a.RoleID, true); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		insert into role_assignments (id, user_id, role_id, assigned_at, expires_at, active)
		values (?, ?, ?, ?, ?, ?)
	`), a.ID, a.UserID, a.RoleID, a.AssignedAt.UTC(), dbutil.TimePtr(a.ExpiresAt), a.Active); err != nil {
		return mapError(err)
	}
	return tx.Commit()
}

func (s *Store) DeactivateRoleAssignments(ctx context.Context, userID, roleID string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		update role_assignments set active = ?
		where user_id = ? and role_id = ? and active = ?
	`), false, userID, roleID, true)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

// SetRoleAssignmentActive flips one assignment row by id.
func (s *Store) SetRoleAssignmentActive(ctx context.Context, id string, active bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		update role_assignments set active = ? where id = ?
	`), active, id)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
