package auth

import (
	"sort"
	"time"
)

// User is an identity record. Email identifies at most one active user.
type User struct {
	ID          string
	DisplayName string
	Email       string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Credential is the hashed secret owned by exactly one user. It never leaves
// the Authenticator.
type Credential struct {
	ID           string
	UserID       string
	HashedSecret string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoleName is the stable name of a role.
type RoleName string

const (
	RoleAdministrator RoleName = "ADMINISTRATOR"
	RoleManager       RoleName = "MANAGER"
	RoleContributor   RoleName = "CONTRIBUTOR"
)

// Role is immutable reference data.
type Role struct {
	ID          string
	Name        RoleName
	Description string
}

// RoleAssignment grants a role to a user, optionally until ExpiresAt.
type RoleAssignment struct {
	ID         string
	UserID     string
	RoleID     string
	AssignedAt time.Time
	ExpiresAt  *time.Time
	Active     bool
}

// EffectiveAt reports whether the assignment grants its role at now: it must
// be active and either open-ended or expiring strictly after now.
func (a RoleAssignment) EffectiveAt(now time.Time) bool {
	if !a.Active {
		return false
	}
	return a.ExpiresAt == nil || now.Before(*a.ExpiresAt)
}

// RoleSet is a set of role names.
type RoleSet map[RoleName]struct{}

// NewRoleSet builds a set from names; duplicates collapse.
func NewRoleSet(names ...RoleName) RoleSet {
	set := make(RoleSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s RoleSet) Has(name RoleName) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members sorted by name.
func (s RoleSet) Names() []RoleName {
	out := make([]RoleName, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AccessAction names an audited operation.
type AccessAction string

const (
	ActionLogin          AccessAction = "LOGIN"
	ActionLogout         AccessAction = "LOGOUT"
	ActionSessionEnd     AccessAction = "SESSION_FORCE_END"
	ActionPasswordChange AccessAction = "PASSWORD_CHANGE"
	ActionUserCreate     AccessAction = "USER_CREATE"
)

// Access log details. They distinguish failure causes that callers of
// Authenticate cannot see.
const (
	DetailOK           = "ok"
	DetailUnknownUser  = "unknown_user"
	DetailInactiveUser = "inactive_user"
	DetailBadPassword  = "bad_password"
	DetailStoreError   = "store_error"
	DetailThrottled    = "throttled"
	DetailConflict     = "conflict"
)

// AccessLogEntry is an append-only audit record. UserID is empty when the
// attempt could not be tied to a user.
type AccessLogEntry struct {
	ID        string
	Action    AccessAction
	UserID    string
	Succeeded bool
	Detail    string
	Timestamp time.Time
}
