package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type memStore struct {
	mu          sync.Mutex
	users       map[string]User
	creds       map[string]Credential
	roles       map[string]Role
	assignments []RoleAssignment

	findUserErr       error
	insertCredErr     error
	findAssignmentErr error
	findRoleByIDCalls int
}

func newMemStore() *memStore {
	return &memStore{
		users: map[string]User{},
		creds: map[string]Credential{},
		roles: map[string]Role{
			"role-administrator": {ID: "role-administrator", Name: RoleAdministrator},
			"role-manager":       {ID: "role-manager", Name: RoleManager},
			"role-contributor":   {ID: "role-contributor", Name: RoleContributor},
		},
	}
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findUserErr != nil {
		return User{}, m.findUserErr
	}
	var found *User
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			u := u
			if found == nil || (u.Active && !found.Active) {
				found = &u
			}
		}
	}
	if found == nil {
		return User{}, ErrNotFound
	}
	return *found, nil
}

func (m *memStore) FindCredentialByUserID(_ context.Context, userID string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return c, nil
}

func (m *memStore) UpdateCredentialHash(_ context.Context, userID, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return ErrNotFound
	}
	c.HashedSecret = hash
	c.UpdatedAt = at
	m.creds[userID] = c
	return nil
}

type memTx struct {
	m     *memStore
	users []User
	creds []Credential
}

func (tx *memTx) InsertUser(_ context.Context, u *User) error {
	for _, existing := range tx.m.users {
		if existing.Active && strings.EqualFold(existing.Email, u.Email) {
			return ErrConflict
		}
	}
	tx.users = append(tx.users, *u)
	return nil
}

func (tx *memTx) InsertCredential(_ context.Context, c *Credential) error {
	if tx.m.insertCredErr != nil {
		return tx.m.insertCredErr
	}
	tx.creds = append(tx.creds, *c)
	return nil
}

func (m *memStore) InTx(_ context.Context, fn func(ProvisioningTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		return err
	}
	for _, u := range tx.users {
		m.users[u.ID] = u
	}
	for _, c := range tx.creds {
		m.creds[c.UserID] = c
	}
	return nil
}

func (m *memStore) FindRoleAssignments(_ context.Context, userID string) ([]RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findAssignmentErr != nil {
		return nil, m.findAssignmentErr
	}
	var out []RoleAssignment
	for _, a := range m.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) FindRoleByID(_ context.Context, id string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findRoleByIDCalls++
	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (m *memStore) FindRoleByName(_ context.Context, name RoleName) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (m *memStore) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) ReplaceRoleAssignment(_ context.Context, a *RoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.assignments {
		if m.assignments[i].UserID == a.UserID && m.assignments[i].RoleID == a.RoleID {
			m.assignments[i].Active = false
		}
	}
	m.assignments = append(m.assignments, *a)
	return nil
}

func (m *memStore) DeactivateRoleAssignments(_ context.Context, userID, roleID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.assignments {
		a := &m.assignments[i]
		if a.UserID == userID && a.RoleID == roleID && a.Active {
			a.Active = false
			n++
		}
	}
	return n, nil
}

// setActive flips every assignment of roleID for userID.
func (m *memStore) setActive(userID, roleID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.assignments {
		if m.assignments[i].UserID == userID && m.assignments[i].RoleID == roleID {
			m.assignments[i].Active = active
		}
	}
}

type recordingLog struct {
	mu      sync.Mutex
	entries []AccessLogEntry
}

func (r *recordingLog) Record(_ context.Context, e AccessLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingLog) snapshot() []AccessLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AccessLogEntry(nil), r.entries...)
}

func (r *recordingLog) failures(action AccessAction) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.Action == action && !e.Succeeded {
			n++
		}
	}
	return n
}

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

var errStoreDown = errors.New("connection refused")

func newTestAuthenticator(store CredentialStore, log AccessRecorder, opts ...Option) (*Authenticator, error) {
	return NewAuthenticator(store, BcryptHasher{Cost: bcrypt.MinCost}, log, opts...)
}

type stubSession struct {
	user User
	ok   bool
}

func (s stubSession) ValidUser() (User, bool) { return s.user, s.ok }
