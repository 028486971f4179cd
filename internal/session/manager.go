// Package session holds the single acting user of the process.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskhub.org/internal/auth"
	"taskhub.org/internal/obs"
)

// DefaultTimeout is the absolute session lifetime measured from login.
const DefaultTimeout = 480 * time.Minute

// Reserved attribute keys, seeded on start and kept by ClearAttributes.
const (
	AttrLoginTime = "login_time"
	AttrUserID    = "user_id"
	AttrUserEmail = "user_email"
	AttrUserName  = "user_name"
)

// End reasons recorded by the manager itself.
const (
	ReasonLogout     = "logout"
	ReasonTimeout    = "timeout"
	ReasonSuperseded = "superseded"
)

var (
	ErrNoSession         = errors.New("session: no active session")
	ErrSessionActive     = errors.New("session: a session is already active")
	ErrReservedAttribute = errors.New("session: attribute key is reserved")
	ErrInvalidUser       = errors.New("session: user is required")
)

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, auth.AccessLogEntry) {}

func reserved(key string) bool {
	switch key {
	case AttrLoginTime, AttrUserID, AttrUserEmail, AttrUserName:
		return true
	}
	return false
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	ID         string
	User       *auth.User
	LoginTime  time.Time
	Attributes map[string]any
}

// Manager holds at most one session. All methods are safe for concurrent
// use; every transition happens under one lock so readers never see a user
// without its login time.
type Manager struct {
	mu        sync.RWMutex
	id        string
	user      *auth.User
	loginTime time.Time
	attrs     map[string]any
	endReason string

	now             func() time.Time
	timeout         time.Duration
	rejectOverwrite bool
	recorder        auth.AccessRecorder
	events          *hub
	log             zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithTimeout sets the absolute session lifetime.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithRecorder sends logout and forced-end events to the access log.
func WithRecorder(r auth.AccessRecorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithRejectOverwrite makes StartSession fail with ErrSessionActive while a
// session is live instead of replacing it.
func WithRejectOverwrite(reject bool) Option {
	return func(m *Manager) {
		m.rejectOverwrite = reject
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		attrs:    map[string]any{},
		now:      time.Now,
		timeout:  DefaultTimeout,
		recorder: nopRecorder{},
		events:   newHub(),
		log:      obs.Component("session"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Timeout returns the configured absolute lifetime.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// StartSession makes user the current actor. Any previous session is
// replaced unless the manager rejects overwrites.
func (m *Manager) StartSession(user auth.User) (string, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", ErrInvalidUser
	}

	m.mu.Lock()
	var replaced string
	if m.user != nil {
		if m.rejectOverwrite {
			m.mu.Unlock()
			return "", ErrSessionActive
		}
		replaced = m.user.ID
	}
	u := user
	m.id = uuid.NewString()
	m.user = &u
	m.loginTime = m.now()
	m.endReason = ""
	m.attrs = map[string]any{}
	m.seedLocked()
	id, at := m.id, m.loginTime
	m.mu.Unlock()

	evt := Event{Kind: EventStarted, SessionID: id, UserID: user.ID, At: at}
	if replaced != "" {
		m.log.Warn().Str("previous_user_id", replaced).Str("user_id", user.ID).Msg("active session replaced")
		obs.ObserveSessionEvent(ReasonSuperseded)
		evt.Reason = ReasonSuperseded
	}
	obs.ObserveSessionEvent("start")
	m.log.Info().Str("session_id", id).Str("user_id", user.ID).Msg("session started")
	m.emit(evt)
	return id, nil
}

func (m *Manager) seedLocked() {
	m.attrs[AttrLoginTime] = m.loginTime
	m.attrs[AttrUserID] = m.user.ID
	m.attrs[AttrUserEmail] = m.user.Email
	m.attrs[AttrUserName] = m.user.DisplayName
}

// EndSession clears the session. It is a no-op without one.
func (m *Manager) EndSession() {
	if userID, sessionID, ok := m.end(ReasonLogout); ok {
		obs.ObserveSessionEvent("end")
		m.emit(Event{Kind: EventEnded, SessionID: sessionID, UserID: userID, Reason: ReasonLogout, At: m.now()})
		m.recorder.Record(context.Background(), auth.AccessLogEntry{
			Action:    auth.ActionLogout,
			UserID:    userID,
			Succeeded: true,
			Detail:    ReasonLogout,
		})
	}
}

// ForceEndSession clears the session and records reason.
func (m *Manager) ForceEndSession(reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}
	userID, sessionID, ok := m.end(reason)
	if !ok {
		return
	}
	m.forceEnded(userID, sessionID, reason)
}

func (m *Manager) forceEnded(userID, sessionID, reason string) {
	obs.ObserveSessionEvent("force_end")
	m.emit(Event{Kind: EventForceEnded, SessionID: sessionID, UserID: userID, Reason: reason, At: m.now()})
	m.log.Warn().Str("user_id", userID).Str("reason", reason).Msg("session force-ended")
	m.recorder.Record(context.Background(), auth.AccessLogEntry{
		Action:    auth.ActionSessionEnd,
		UserID:    userID,
		Succeeded: true,
		Detail:    reason,
	})
}

func (m *Manager) end(reason string) (string, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return "", "", false
	}
	userID, sessionID := m.endLocked(reason)
	return userID, sessionID, true
}

func (m *Manager) endLocked(reason string) (string, string) {
	userID, sessionID := m.user.ID, m.id
	m.id = ""
	m.user = nil
	m.loginTime = time.Time{}
	m.attrs = map[string]any{}
	m.endReason = reason
	return userID, sessionID
}

// LastEndReason reports why the most recent session ended, or "" while one
// is live or none has ended yet.
func (m *Manager) LastEndReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endReason
}

// RenewSession restarts the lifetime clock of the live session.
func (m *Manager) RenewSession() error {
	m.mu.Lock()
	if m.user == nil || !m.user.Active {
		m.mu.Unlock()
		return ErrNoSession
	}
	m.loginTime = m.now()
	m.attrs[AttrLoginTime] = m.loginTime
	evt := Event{Kind: EventRenewed, SessionID: m.id, UserID: m.user.ID, At: m.loginTime}
	m.mu.Unlock()

	obs.ObserveSessionEvent("renew")
	m.emit(evt)
	return nil
}

// IsSessionActive reports whether an active user is logged in, regardless
// of session age.
func (m *Manager) IsSessionActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() bool {
	return m.user != nil && m.user.Active
}

// IsSessionValid reports whether the session is active and younger than the
// timeout. Callers must check this, not IsSessionActive, before granting
// access.
func (m *Manager) IsSessionValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validLocked(m.now())
}

func (m *Manager) validLocked(now time.Time) bool {
	return m.activeLocked() && now.Sub(m.loginTime) <= m.timeout
}

// ValidUser returns the current user while the session is valid.
func (m *Manager) ValidUser() (auth.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.validLocked(m.now()) {
		return auth.User{}, false
	}
	return *m.user, true
}

// CurrentUser returns the logged-in user, valid or not.
func (m *Manager) CurrentUser() (auth.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return auth.User{}, false
	}
	return *m.user, true
}

// LoginTime returns when the live session started or was last renewed.
func (m *Manager) LoginTime() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return time.Time{}, false
	}
	return m.loginTime, true
}

// Snapshot copies the whole session state under one read lock.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{ID: m.id, LoginTime: m.loginTime, Attributes: m.copyAttrsLocked()}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

// RefreshUser replaces the cached user record when it belongs to the live
// session, e.g. after a deactivation. It reports whether it applied.
func (m *Manager) RefreshUser(user auth.User) bool {
	m.mu.Lock()
	if m.user == nil || m.user.ID != user.ID {
		m.mu.Unlock()
		return false
	}
	u := user
	m.user = &u
	m.attrs[AttrUserEmail] = u.Email
	m.attrs[AttrUserName] = u.DisplayName
	evt := Event{Kind: EventRefreshed, SessionID: m.id, UserID: u.ID, At: m.now()}
	m.mu.Unlock()

	m.emit(evt)
	return true
}

// SetAttribute stores value under key in the live session.
func (m *Manager) SetAttribute(key string, value any) error {
	if reserved(key) {
		return fmt.Errorf("%w: %s", ErrReservedAttribute, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return ErrNoSession
	}
	m.attrs[key] = value
	return nil
}

func (m *Manager) Attribute(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.attrs[key]
	return v, ok
}

// RemoveAttribute deletes key. Reserved keys cannot be removed.
func (m *Manager) RemoveAttribute(key string) error {
	if reserved(key) {
		return fmt.Errorf("%w: %s", ErrReservedAttribute, key)
	}
	m.mu.Lock()
	delete(m.attrs, key)
	m.mu.Unlock()
	return nil
}

// ClearAttributes drops every attribute except the reserved ones.
func (m *Manager) ClearAttributes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.attrs {
		if !reserved(k) {
			delete(m.attrs, k)
		}
	}
}

// Attributes returns a copy of the attribute bag.
func (m *Manager) Attributes() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyAttrsLocked()
}

func (m *Manager) copyAttrsLocked() map[string]any {
	out := make(map[string]any, len(m.attrs))
	for k, v := range m.attrs {
		out[k] = v
	}
	return out
}

// expireIfInvalid force-ends a session that is logged in but past its
// lifetime or deactivated. It reports whether it ended one.
func (m *Manager) expireIfInvalid() bool {
	m.mu.Lock()
	if m.user == nil || m.validLocked(m.now()) {
		m.mu.Unlock()
		return false
	}
	userID, sessionID := m.endLocked(ReasonTimeout)
	m.mu.Unlock()

	m.forceEnded(userID, sessionID, ReasonTimeout)
	return true
}
