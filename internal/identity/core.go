// Package identity wires the credential, role, session and audit services
// into one process-wide core.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskhub.org/internal/audit"
	"taskhub.org/internal/auth"
	"taskhub.org/internal/config"
	"taskhub.org/internal/migrate"
	"taskhub.org/internal/obs"
	"taskhub.org/internal/session"
	"taskhub.org/internal/store/sqlstore"
)

// ReasonDeactivated ends the session of a user whose account was disabled.
const ReasonDeactivated = "deactivated"

const loginLimiterKeys = 4096

// Core owns the store and the services built on it.
type Core struct {
	Store    *sqlstore.Store
	Auth     *auth.Authenticator
	Roles    *auth.RoleDirectory
	Authz    *auth.Authorizer
	Sessions *session.Manager
	Audit    *audit.Recorder

	sweeper *session.Sweeper
	now     func() time.Time
	log     zerolog.Logger
}

type options struct {
	now         func() time.Time
	autoMigrate bool
	hasher      auth.PasswordHasher
}

// Option configures New.
type Option func(*options)

// WithClock drives every service from fn.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

// WithAutoMigrate controls whether New applies pending migrations and seeds.
// It is on by default.
func WithAutoMigrate(on bool) Option {
	return func(o *options) { o.autoMigrate = on }
}

// WithHasher overrides the hasher chosen by configuration.
func WithHasher(h auth.PasswordHasher) Option {
	return func(o *options) { o.hasher = h }
}

// New opens the store named by cfg and assembles the services.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Core, error) {
	o := options{now: time.Now, autoMigrate: true}
	for _, opt := range opts {
		opt(&o)
	}

	store, err := sqlstore.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	c, err := assemble(ctx, store, cfg, o)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return c, nil
}

func assemble(ctx context.Context, store *sqlstore.Store, cfg config.Config, o options) (*Core, error) {
	log := obs.Component("identity")

	if o.autoMigrate {
		mgr, err := migrate.NewEmbedded(store.DB(), migrate.WithClock(o.now))
		if err != nil {
			return nil, err
		}
		if _, err := mgr.Up(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if _, err := mgr.Seed(ctx); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	hasher := o.hasher
	if hasher == nil {
		h, err := auth.NewHasher(cfg.Auth.HashAlgorithm, cfg.Auth.BcryptCost)
		if err != nil {
			return nil, err
		}
		hasher = h
	}

	authOpts := []auth.Option{auth.WithClock(o.now), auth.WithRoleCacheSize(cfg.Auth.RoleCacheSize)}
	if cfg.Auth.LoginRate > 0 {
		limiter, err := auth.NewAttemptLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginBurst, loginLimiterKeys)
		if err != nil {
			return nil, err
		}
		authOpts = append(authOpts, auth.WithAttemptLimiter(limiter))
	}

	recorder := audit.NewRecorder(store, audit.WithClock(o.now))
	sessions := session.NewManager(
		session.WithClock(o.now),
		session.WithTimeout(cfg.Session.Timeout),
		session.WithRecorder(recorder),
		session.WithRejectOverwrite(cfg.Session.RejectOverwrite),
	)

	authn, err := auth.NewAuthenticator(store, hasher, recorder, authOpts...)
	if err != nil {
		return nil, err
	}
	roles, err := auth.NewRoleDirectory(store, authOpts...)
	if err != nil {
		return nil, err
	}
	authz, err := auth.NewAuthorizer(roles, sessions, authOpts...)
	if err != nil {
		return nil, err
	}

	var sweeper *session.Sweeper
	if strings.TrimSpace(cfg.Session.Sweep) != "" {
		sweeper, err = session.NewSweeper(sessions, cfg.Session.Sweep)
		if err != nil {
			return nil, err
		}
	}

	log.Debug().Str("dialect", string(store.DB().Dialect)).Msg("identity core ready")
	return &Core{
		Store:    store,
		Auth:     authn,
		Roles:    roles,
		Authz:    authz,
		Sessions: sessions,
		Audit:    recorder,
		sweeper:  sweeper,
		now:      o.now,
		log:      log,
	}, nil
}

// StartSweeper begins polling session validity on the configured schedule.
func (c *Core) StartSweeper() {
	if c.sweeper != nil {
		c.sweeper.Start()
	}
}

// Login authenticates and, on success, makes the user the current actor.
func (c *Core) Login(ctx context.Context, email, password string) (auth.User, string, error) {
	user, err := c.Auth.Authenticate(ctx, email, password)
	if err != nil {
		return auth.User{}, "", err
	}
	id, err := c.Sessions.StartSession(user)
	if err != nil {
		return auth.User{}, "", err
	}
	return user, id, nil
}

// LoginResult is delivered by LoginAsync.
type LoginResult struct {
	User      auth.User
	SessionID string
	Err       error
}

// LoginAsync runs Login off the caller's goroutine. The channel yields one
// result and is then closed.
func (c *Core) LoginAsync(ctx context.Context, email, password string) <-chan LoginResult {
	out := make(chan LoginResult, 1)
	go func() {
		defer close(out)
		res := <-c.Auth.AuthenticateAsync(ctx, email, password)
		if res.Err != nil {
			out <- LoginResult{Err: res.Err}
			return
		}
		id, err := c.Sessions.StartSession(res.User)
		if err != nil {
			out <- LoginResult{Err: err}
			return
		}
		out <- LoginResult{User: res.User, SessionID: id}
	}()
	return out
}

// Logout ends the current session, if any.
func (c *Core) Logout() {
	c.Sessions.EndSession()
}

// CanAccess reports whether the session user may open resource. An invalid
// session is ended and denied.
func (c *Core) CanAccess(ctx context.Context, resource auth.Resource) (bool, error) {
	if !c.Sessions.IsSessionValid() {
		return false, nil
	}
	return c.Authz.CurrentUserCanAccess(ctx, resource)
}

// ReloadCurrentUser re-reads the session user from the store. A user that
// disappeared or was deactivated loses the session.
func (c *Core) ReloadCurrentUser(ctx context.Context) (auth.User, bool, error) {
	current, ok := c.Sessions.ValidUser()
	if !ok {
		return auth.User{}, false, nil
	}
	fresh, err := c.Store.FindUserByID(ctx, current.ID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		c.Sessions.ForceEndSession(ReasonDeactivated)
		return auth.User{}, false, nil
	case err != nil:
		return auth.User{}, false, fmt.Errorf("%w: reload user: %v", auth.ErrInfrastructure, err)
	case !fresh.Active:
		c.Sessions.ForceEndSession(ReasonDeactivated)
		return auth.User{}, false, nil
	}
	if !c.Sessions.RefreshUser(fresh) {
		return auth.User{}, false, nil
	}
	return fresh, true, nil
}

// SetUserActive enables or disables an account. Disabling the session user
// force-ends the session.
func (c *Core) SetUserActive(ctx context.Context, userID string, active bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	if err := c.Store.SetUserActive(ctx, userID, active, c.now().UTC()); err != nil {
		if errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrConflict) {
			return err
		}
		return fmt.Errorf("%w: set user active: %v", auth.ErrInfrastructure, err)
	}
	if !active {
		if u, ok := c.Sessions.CurrentUser(); ok && u.ID == userID {
			c.Sessions.ForceEndSession(ReasonDeactivated)
		}
	}
	c.log.Info().Str("user_id", userID).Bool("active", active).Msg("user active flag changed")
	return nil
}

// Close stops background work, ends any session and closes the store.
func (c *Core) Close() error {
	if c.sweeper != nil {
		c.sweeper.Stop()
	}
	c.Sessions.EndSession()
	return c.Store.Close()
}
