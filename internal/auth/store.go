package auth

import (
	"context"
	"time"
)

// CredentialStore is the persistence contract the Authenticator relies on.
// Lookups return ErrNotFound when no row matches; uniqueness violations are
// reported as ErrConflict. Any other error is treated as an infrastructure
// fault.
type CredentialStore interface {
	// FindUserByEmail matches email case-insensitively.
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindCredentialByUserID(ctx context.Context, userID string) (Credential, error)
	UpdateCredentialHash(ctx context.Context, userID, hash string, updatedAt time.Time) error
	// InTx runs fn in one unit of work. If fn returns an error nothing it
	// wrote is kept.
	InTx(ctx context.Context, fn func(tx ProvisioningTx) error) error
}

// ProvisioningTx is the write side available inside CredentialStore.InTx.
type ProvisioningTx interface {
	InsertUser(ctx context.Context, u *User) error
	InsertCredential(ctx context.Context, c *Credential) error
}

// RoleStore exposes role reference data and assignment rows.
type RoleStore interface {
	// FindRoleAssignments returns every assignment row for the user,
	// including inactive and expired ones.
	FindRoleAssignments(ctx context.Context, userID string) ([]RoleAssignment, error)
	FindRoleByID(ctx context.Context, id string) (Role, error)
	FindRoleByName(ctx context.Context, name RoleName) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	// ReplaceRoleAssignment deactivates the user's active assignments of the
	// same role and inserts a, atomically.
	ReplaceRoleAssignment(ctx context.Context, a *RoleAssignment) error
	// DeactivateRoleAssignments soft-disables active assignments of roleID
	// for userID and returns how many rows changed.
	DeactivateRoleAssignments(ctx context.Context, userID, roleID string) (int64, error)
}

// AccessLog appends audit entries.
type AccessLog interface {
	AppendAccessLog(ctx context.Context, entry *AccessLogEntry) error
}

// AccessRecorder records audit entries without failing the caller.
type AccessRecorder interface {
	Record(ctx context.Context, entry AccessLogEntry)
}

type discardRecorder struct{}

func (discardRecorder) Record(context.Context, AccessLogEntry) {}
