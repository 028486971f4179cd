package sqlstore

import (
	"context"
	"database/sql"

	"taskhub.org/internal/auth"
	"taskhub.org/internal/dbutil"
)

const defaultAccessLogLimit = 50

// AppendAccessLog inserts one entry. Rows are never updated or deleted.
func (s *Store) AppendAccessLog(ctx context.Context, e *auth.AccessLogEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		insert into access_log (id, action, user_id, succeeded, detail, occurred_at)
		values (?, ?, ?, ?, ?, ?)
	`), e.ID, string(e.Action), nullIfEmpty(e.UserID), e.Succeeded, e.Detail, e.Timestamp.UTC())
	return mapError(err)
}

// ListAccessLog returns the newest entries first, optionally for one user.
func (s *Store) ListAccessLog(ctx context.Context, userID string, limit int) ([]auth.AccessLogEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultAccessLogLimit
	}
	query := `select id, action, user_id, succeeded, detail, occurred_at from access_log`
	args := []any{}
	if userID != "" {
		query += ` where user_id = ?`
		args = append(args, userID)
	}
	query += ` order by occurred_at desc, id desc limit ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.AccessLogEntry
	for rows.Next() {
		var (
			e      auth.AccessLogEntry
			action string
			user   sql.NullString
			at     dbutil.NullTime
		)
		if err := rows.Scan(&e.ID, &action, &user, &e.Succeeded, &e.Detail, &at); err != nil {
			return nil, err
		}
		e.Action = auth.AccessAction(action)
		e.UserID = user.String
		e.Timestamp = at.Time
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
