package identity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskhub.org/internal/auth"
	"taskhub.org/internal/config"
	"taskhub.org/internal/session"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

const (
	anaEmail    = "ana.silva@taskhub.org"
	anaPassword = "S3cure!pass"
)

func newCore(t *testing.T) (*Core, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	cfg := config.Config{
		DSN: filepath.Join(t.TempDir(), "taskhub.db"),
		Auth: config.AuthConfig{
			HashAlgorithm: auth.HashBcrypt,
			BcryptCost:    bcrypt.MinCost,
			RoleCacheSize: 16,
		},
		Session: config.SessionConfig{Timeout: session.DefaultTimeout},
	}
	c, err := New(context.Background(), cfg, WithClock(clk.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, clk
}

func accessLog(t *testing.T, c *Core, userID string) []auth.AccessLogEntry {
	t.Helper()
	entries, err := c.Store.ListAccessLog(context.Background(), userID, 100)
	if err != nil {
		t.Fatalf("ListAccessLog: %v", err)
	}
	return entries
}

func TestAnaSilvaScenario(t *testing.T) {
	ctx := context.Background()
	c, _ := newCore(t)

	ana, err := c.Auth.CreateUser(ctx, "Ana Silva", anaEmail, anaPassword)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if exists, err := c.Auth.UserExists(ctx, "ANA.SILVA@taskhub.org"); err != nil || !exists {
		t.Fatalf("UserExists = %v, %v", exists, err)
	}

	if _, _, err := c.Login(ctx, anaEmail, "wrong"); !errors.Is(err, auth.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if c.Sessions.IsSessionActive() {
		t.Fatal("failed login must not start a session")
	}

	user, sid, err := c.Login(ctx, anaEmail, anaPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != ana.ID || sid == "" {
		t.Fatalf("unexpected login result %+v %q", user, sid)
	}

	entries := accessLog(t, c, ana.ID)
	var failed, succeeded int
	for _, e := range entries {
		if e.Action != auth.ActionLogin {
			continue
		}
		if e.Succeeded {
			succeeded++
		} else if e.Detail == auth.DetailBadPassword {
			failed++
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Fatalf("expected one failed and one successful login, got %d/%d in %+v", failed, succeeded, entries)
	}

	if ok, err := c.CanAccess(ctx, auth.ResourceProjects); err != nil || ok {
		t.Fatalf("no roles: CanAccess(projects) = %v, %v", ok, err)
	}

	if _, err := c.Roles.Grant(ctx, ana.ID, auth.RoleManager, nil); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if ok, err := c.CanAccess(ctx, auth.ResourceProjects); err != nil || !ok {
		t.Fatalf("manager: CanAccess(projects) = %v, %v", ok, err)
	}
	if ok, _ := c.CanAccess(ctx, auth.ResourceUsers); ok {
		t.Fatal("manager must not reach users")
	}
	if lvl, err := c.Authz.HighestPrivilegeLevel(ctx); err != nil || lvl != auth.PrivilegeManager {
		t.Fatalf("HighestPrivilegeLevel = %v, %v", lvl, err)
	}

	if err := c.Roles.Revoke(ctx, ana.ID, auth.RoleManager); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if ok, err := c.CanAccess(ctx, auth.ResourceProjects); err != nil || ok {
		t.Fatalf("after revoke: CanAccess(projects) = %v, %v", ok, err)
	}

	c.Logout()
	if c.Sessions.IsSessionActive() {
		t.Fatal("session should be gone after logout")
	}
	var logouts int
	for _, e := range accessLog(t, c, ana.ID) {
		if e.Action == auth.ActionLogout {
			logouts++
		}
	}
	if logouts != 1 {
		t.Fatalf("expected one logout entry, got %d", logouts)
	}
}

func TestSessionExpiresAfterTimeout(t *testing.T) {
	ctx := context.Background()
	c, clk := newCore(t)

	ana, err := c.Auth.CreateUser(ctx, "Ana Silva", anaEmail, anaPassword)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := c.Roles.Grant(ctx, ana.ID, auth.RoleContributor, nil); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, _, err := c.Login(ctx, anaEmail, anaPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}

	clk.Advance(session.DefaultTimeout)
	if ok, _ := c.CanAccess(ctx, auth.ResourceTasks); !ok {
		t.Fatal("session should still be valid at exactly the timeout")
	}
	clk.Advance(time.Minute)
	if ok, _ := c.CanAccess(ctx, auth.ResourceTasks); ok {
		t.Fatal("expired session must be denied")
	}
	if !c.Sessions.IsSessionActive() {
		t.Fatal("expiry alone does not end the session")
	}
}

func TestDeactivatingSessionUserEndsSession(t *testing.T) {
	ctx := context.Background()
	c, _ := newCore(t)

	ana, err := c.Auth.CreateUser(ctx, "Ana Silva", anaEmail, anaPassword)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, _, err := c.Login(ctx, anaEmail, anaPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := c.SetUserActive(ctx, ana.ID, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	if c.Sessions.IsSessionActive() {
		t.Fatal("session should have been force-ended")
	}
	if got := c.Sessions.LastEndReason(); got != ReasonDeactivated {
		t.Fatalf("unexpected end reason %q", got)
	}
	if _, _, err := c.Login(ctx, anaEmail, anaPassword); !errors.Is(err, auth.ErrAuthFailed) {
		t.Fatalf("inactive user login: expected ErrAuthFailed, got %v", err)
	}
	if err := c.SetUserActive(ctx, "missing", true); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReloadCurrentUser(t *testing.T) {
	ctx := context.Background()
	c, _ := newCore(t)

	if _, ok, err := c.ReloadCurrentUser(ctx); ok || err != nil {
		t.Fatalf("no session: got %v, %v", ok, err)
	}
	ana, err := c.Auth.CreateUser(ctx, "Ana Silva", anaEmail, anaPassword)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, _, err := c.Login(ctx, anaEmail, anaPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	u, ok, err := c.ReloadCurrentUser(ctx)
	if err != nil || !ok || u.ID != ana.ID {
		t.Fatalf("ReloadCurrentUser = %+v, %v, %v", u, ok, err)
	}

	if err := c.Store.SetUserActive(ctx, ana.ID, false, time.Now()); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	if _, ok, err := c.ReloadCurrentUser(ctx); ok || err != nil {
		t.Fatalf("deactivated: got %v, %v", ok, err)
	}
	if c.Sessions.IsSessionActive() {
		t.Fatal("session should be ended for a deactivated user")
	}
}

func TestLoginAsync(t *testing.T) {
	ctx := context.Background()
	c, _ := newCore(t)

	if _, err := c.Auth.CreateUser(ctx, "Ana Silva", anaEmail, anaPassword); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	res := <-c.LoginAsync(ctx, anaEmail, "nope")
	if !errors.Is(res.Err, auth.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", res.Err)
	}

	ch := c.LoginAsync(ctx, anaEmail, anaPassword)
	res = <-ch
	if res.Err != nil || res.SessionID == "" {
		t.Fatalf("LoginAsync = %+v", res)
	}
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after the result")
	}
	if !c.Sessions.IsSessionValid() {
		t.Fatal("async login should start a session")
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	c, _ := newCore(t)

	if _, err := c.Auth.CreateUser(ctx, "Ana Silva", anaEmail, anaPassword); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := c.Auth.CreateUser(ctx, "Ana Again", " ANA.SILVA@taskhub.org", anaPassword); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
