package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskhub.org/internal/auth"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu      sync.Mutex
	entries []auth.AccessLogEntry
}

func (r *recorder) Record(_ context.Context, e auth.AccessLogEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

var ana = auth.User{ID: "u-ana", DisplayName: "Ana Silva", Email: "ana@x.com", Active: true}

func TestStartSessionSeedsState(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))

	if m.IsSessionActive() || m.IsSessionValid() {
		t.Fatal("new manager must have no session")
	}
	id, err := m.StartSession(ana)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if id == "" {
		t.Fatal("expected session id")
	}
	if !m.IsSessionActive() || !m.IsSessionValid() {
		t.Fatal("expected valid session")
	}
	user, ok := m.CurrentUser()
	if !ok || user.ID != ana.ID {
		t.Fatalf("CurrentUser = %+v, %v", user, ok)
	}
	login, ok := m.LoginTime()
	if !ok || !login.Equal(clock.Now()) {
		t.Fatalf("LoginTime = %v, %v", login, ok)
	}
	attrs := m.Attributes()
	if attrs[AttrUserID] != ana.ID || attrs[AttrUserEmail] != ana.Email || attrs[AttrUserName] != ana.DisplayName {
		t.Fatalf("reserved attributes not seeded: %v", attrs)
	}
	if attrs[AttrLoginTime] != login {
		t.Fatalf("login time attribute = %v", attrs[AttrLoginTime])
	}
}

func TestStartSessionRequiresUser(t *testing.T) {
	m := NewManager()
	if _, err := m.StartSession(auth.User{}); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestSessionTimeoutIsAbsolute(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))
	if _, err := m.StartSession(ana); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	clock.Advance(480 * time.Minute)
	if !m.IsSessionValid() {
		t.Fatal("session should be valid at exactly 480 minutes")
	}
	clock.Advance(time.Minute)
	if m.IsSessionValid() {
		t.Fatal("session should be invalid after 480 minutes")
	}
	if !m.IsSessionActive() {
		t.Fatal("expired session is still logged in")
	}
	if _, ok := m.ValidUser(); ok {
		t.Fatal("ValidUser must not return an expired user")
	}
}

func TestRenewSession(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now), WithTimeout(time.Hour))
	if err := m.RenewSession(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("renew without session: %v", err)
	}
	m.StartSession(ana)

	clock.Advance(50 * time.Minute)
	if err := m.RenewSession(); err != nil {
		t.Fatalf("RenewSession: %v", err)
	}
	clock.Advance(50 * time.Minute)
	if !m.IsSessionValid() {
		t.Fatal("renewal should restart the lifetime")
	}
	if v, _ := m.Attribute(AttrLoginTime); !v.(time.Time).Equal(clock.Now().Add(-50 * time.Minute)) {
		t.Fatalf("login time attribute not renewed: %v", v)
	}

	inactive := ana
	inactive.Active = false
	m.RefreshUser(inactive)
	if err := m.RenewSession(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("renew inactive user: %v", err)
	}
}

func TestEndAndForceEnd(t *testing.T) {
	rec := &recorder{}
	m := NewManager(WithRecorder(rec))
	m.StartSession(ana)
	m.SetAttribute("theme", "dark")

	m.EndSession()
	if m.IsSessionActive() {
		t.Fatal("session still active after end")
	}
	if _, ok := m.LoginTime(); ok {
		t.Fatal("login time kept after end")
	}
	if len(m.Attributes()) != 0 {
		t.Fatalf("attributes kept after end: %v", m.Attributes())
	}
	if m.LastEndReason() != ReasonLogout {
		t.Fatalf("LastEndReason = %q", m.LastEndReason())
	}

	m.StartSession(ana)
	m.ForceEndSession("admin revoked access")
	if m.IsSessionActive() || m.LastEndReason() != "admin revoked access" {
		t.Fatalf("force end failed, reason=%q", m.LastEndReason())
	}
	m.EndSession()

	if len(rec.entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %+v", rec.entries)
	}
	if rec.entries[0].Action != auth.ActionLogout || rec.entries[1].Action != auth.ActionSessionEnd {
		t.Fatalf("unexpected actions: %+v", rec.entries)
	}
	if rec.entries[1].Detail != "admin revoked access" || rec.entries[1].UserID != ana.ID {
		t.Fatalf("unexpected force-end entry: %+v", rec.entries[1])
	}
}

func TestStartSessionOverwrite(t *testing.T) {
	m := NewManager()
	m.StartSession(ana)
	m.SetAttribute("draft", 1)
	bruno := auth.User{ID: "u-bruno", Email: "bruno@x.com", Active: true}

	if _, err := m.StartSession(bruno); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	user, _ := m.CurrentUser()
	if user.ID != bruno.ID {
		t.Fatalf("expected last writer to win, got %s", user.ID)
	}
	if _, ok := m.Attribute("draft"); ok {
		t.Fatal("attributes must be cleared on start")
	}

	strict := NewManager(WithRejectOverwrite(true))
	strict.StartSession(ana)
	if _, err := strict.StartSession(bruno); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
	strict.EndSession()
	if _, err := strict.StartSession(bruno); err != nil {
		t.Fatalf("start after end: %v", err)
	}
}

func TestAttributes(t *testing.T) {
	m := NewManager()
	if err := m.SetAttribute("k", "v"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("set without session: %v", err)
	}
	m.StartSession(ana)

	if err := m.SetAttribute(AttrUserID, "spoof"); !errors.Is(err, ErrReservedAttribute) {
		t.Fatalf("expected ErrReservedAttribute, got %v", err)
	}
	if err := m.RemoveAttribute(AttrUserEmail); !errors.Is(err, ErrReservedAttribute) {
		t.Fatalf("expected ErrReservedAttribute, got %v", err)
	}
	m.SetAttribute("project", "p-1")
	m.SetAttribute("filter", "open")
	if err := m.RemoveAttribute("filter"); err != nil {
		t.Fatalf("RemoveAttribute: %v", err)
	}
	if v, ok := m.Attribute("project"); !ok || v != "p-1" {
		t.Fatalf("Attribute = %v, %v", v, ok)
	}

	copied := m.Attributes()
	copied["project"] = "mutated"
	if v, _ := m.Attribute("project"); v != "p-1" {
		t.Fatal("Attributes must return a copy")
	}

	m.ClearAttributes()
	attrs := m.Attributes()
	if len(attrs) != 4 {
		t.Fatalf("expected only reserved keys, got %v", attrs)
	}
	for _, k := range []string{AttrLoginTime, AttrUserID, AttrUserEmail, AttrUserName} {
		if _, ok := attrs[k]; !ok {
			t.Fatalf("reserved key %s dropped", k)
		}
	}
}

func TestRefreshUserDeactivation(t *testing.T) {
	m := NewManager()
	m.StartSession(ana)
	if m.RefreshUser(auth.User{ID: "other"}) {
		t.Fatal("refresh for a different user must not apply")
	}
	inactive := ana
	inactive.Active = false
	if !m.RefreshUser(inactive) {
		t.Fatal("refresh not applied")
	}
	if m.IsSessionActive() || m.IsSessionValid() {
		t.Fatal("deactivated user must not be active")
	}
	if _, ok := m.CurrentUser(); !ok {
		t.Fatal("deactivated user is still logged in until ended")
	}
}

func TestSnapshotIsConsistentUnderConcurrency(t *testing.T) {
	m := NewManager()
	users := []auth.User{
		ana,
		{ID: "u-bruno", Email: "bruno@x.com", DisplayName: "Bruno", Active: true},
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if i%2 == 0 {
					m.StartSession(users[i/2%len(users)])
				} else {
					m.EndSession()
				}
			}
		}(i)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		s := m.Snapshot()
		if (s.User == nil) != s.LoginTime.IsZero() {
			close(stop)
			wg.Wait()
			t.Fatalf("torn read: user=%v loginTime=%v", s.User, s.LoginTime)
		}
		if s.User != nil && s.Attributes[AttrUserID] != s.User.ID {
			close(stop)
			wg.Wait()
			t.Fatalf("attributes out of sync: %v vs %s", s.Attributes[AttrUserID], s.User.ID)
		}
	}
	close(stop)
	wg.Wait()
}

func TestLoginTimeNotBeforeStartCall(t *testing.T) {
	m := NewManager()
	before := time.Now()
	m.StartSession(ana)
	login, ok := m.LoginTime()
	if !ok || login.Before(before) {
		t.Fatalf("login time %v earlier than call at %v", login, before)
	}
}
