// Package sqlstore implements the identity repository contracts over
// database/sql for PostgreSQL and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskhub.org/internal/auth"
	"taskhub.org/internal/dbutil"
)

// Store is the relational identity store.
type Store struct {
	db *dbutil.DB
}

var (
	_ auth.CredentialStore = (*Store)(nil)
	_ auth.RoleStore       = (*Store)(nil)
	_ auth.AccessLog       = (*Store)(nil)
)

// New wraps an open connection.
func New(db *dbutil.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := dbutil.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *dbutil.DB { return s.db }

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) ready() error {
	if s == nil || s.db == nil || s.db.DB == nil {
		return errors.New("database connection unavailable")
	}
	return nil
}

// mapError translates driver constraint failures into auth sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return auth.ErrNotFound
	case dbutil.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", auth.ErrConflict, err)
	case dbutil.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %v", auth.ErrNotFound, err)
	default:
		return err
	}
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

const userColumns = `id, display_name, email, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u                auth.User
		created, updated dbutil.NullTime
	)
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Email, &u.Active, &created, &updated); err != nil {
		return auth.User{}, err
	}
	u.CreatedAt = created.Time
	u.UpdatedAt = updated.Time
	return u, nil
}

// FindUserByEmail prefers the active account when inactive ones share the
// address.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	if err := s.ready(); err != nil {
		return auth.User{}, err
	}
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		select `+userColumns+`
		from users
		where lower(email) = ?
		order by active desc, created_at desc
		limit 1
	`), strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row)
	if err != nil {
		return auth.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (auth.User, error) {
	if err := s.ready(); err != nil {
		return auth.User{}, err
	}
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`select `+userColumns+` from users where id = ?`), id)
	u, err := scanUser(row)
	if err != nil {
		return auth.User{}, mapError(err)
	}
	return u, nil
}

// SetUserActive flips the active flag. Reactivating fails with
// auth.ErrConflict when another active account owns the email.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		update users set active = ?, updated_at = ? where id = ?
	`), active, at.UTC(), id)
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

func (s *Store) FindCredentialByUserID(ctx context.Context, userID string) (auth.Credential, error) {
	if err := s.ready(); err != nil {
		return auth.Credential{}, err
	}
	var (
		c                auth.Credential
		created, updated dbutil.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		select id, user_id, hashed_secret, created_at, updated_at
		from credentials
		where user_id = ?
	`), userID).Scan(&c.ID, &c.UserID, &c.HashedSecret, &created, &updated)
	if err != nil {
		return auth.Credential{}, mapError(err)
	}
	c.CreatedAt = created.Time
	c.UpdatedAt = updated.Time
	return c, nil
}

func (s *Store) UpdateCredentialHash(ctx context.Context, userID, hash string, updatedAt time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		update credentials set hashed_secret = ?, updated_at = ? where user_id = ?
	`), hash, updatedAt.UTC(), userID)
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

// InTx runs fn inside one database transaction and commits only when fn
// succeeds.
func (s *Store) InTx(ctx context.Context, fn func(auth.ProvisioningTx) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&provisioningTx{q: tx, db: s.db}); err != nil {
		return err
	}
	return tx.Commit()
}

type provisioningTx struct {
	q  queryer
	db *dbutil.DB
}

func (t *provisioningTx) InsertUser(ctx context.Context, u *auth.User) error {
	_, err := t.q.ExecContext(ctx, t.db.Rebind(`
		insert into users (id, display_name, email, active, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?)
	`), u.ID, u.DisplayName, u.Email, u.Active, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return mapError(err)
}

func (t *provisioningTx) InsertCredential(ctx context.Context, c *auth.Credential) error {
	_, err := t.q.ExecContext(ctx, t.db.Rebind(`
		insert into credentials (id, user_id, hashed_secret, created_at, updated_at)
		values (?, ?, ?, ?, ?)
	`), c.ID, c.UserID, c.HashedSecret, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	return mapError(err)
}
