package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"taskhub.org/internal/ids"
)

// RoleDirectory resolves users to their currently effective roles. Role
// definitions are immutable and cached by id; assignment rows are read on
// every call so expiry always reflects the clock.
type RoleDirectory struct {
	store RoleStore
	roles *lru.Cache[string, Role]
	now   func() time.Time
	log   zerolog.Logger
}

func NewRoleDirectory(store RoleStore, opts ...Option) (*RoleDirectory, error) {
	if store == nil {
		return nil, errors.New("auth: role store is required")
	}
	o := buildOptions("roles", opts)
	cache, err := lru.New[string, Role](o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("auth: role cache: %w", err)
	}
	return &RoleDirectory{
		store: store,
		roles: cache,
		now:   o.now,
		log:   o.log,
	}, nil
}

// EffectiveRoles returns the names of the user's effective roles. Unknown and
// role-less users get an empty set.
func (d *RoleDirectory) EffectiveRoles(ctx context.Context, userID string) (RoleSet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RoleSet{}, nil
	}
	assignments, err := d.store.FindRoleAssignments(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return RoleSet{}, nil
	}
	if err != nil {
		return nil, infraError("find role assignments", err)
	}

	now := d.now()
	set := make(RoleSet, len(assignments))
	for _, a := range assignments {
		if !a.EffectiveAt(now) {
			continue
		}
		role, err := d.roleByID(ctx, a.RoleID)
		if err != nil {
			return nil, err
		}
		set[role.Name] = struct{}{}
	}
	return set, nil
}

// HasRole reports whether role is among the user's effective roles.
func (d *RoleDirectory) HasRole(ctx context.Context, userID string, role RoleName) (bool, error) {
	set, err := d.EffectiveRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(role), nil
}

func (d *RoleDirectory) roleByID(ctx context.Context, id string) (Role, error) {
	if role, ok := d.roles.Get(id); ok {
		return role, nil
	}
	role, err := d.store.FindRoleByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		d.log.Error().Str("role_id", id).Msg("assignment references missing role")
		return Role{}, infraError("resolve role", fmt.Errorf("role %s: %w", id, err))
	}
	if err != nil {
		return Role{}, infraError("resolve role", err)
	}
	d.roles.Add(id, role)
	return role, nil
}

// Roles lists the role definitions.
func (d *RoleDirectory) Roles(ctx context.Context) ([]Role, error) {
	roles, err := d.store.ListRoles(ctx)
	if err != nil {
		return nil, infraError("list roles", err)
	}
	return roles, nil
}

func (d *RoleDirectory) roleByName(ctx context.Context, name RoleName) (Role, error) {
	name = RoleName(strings.ToUpper(strings.TrimSpace(string(name))))
	if name == "" {
		return Role{}, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	role, err := d.store.FindRoleByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return Role{}, fmt.Errorf("%w: unknown role %s", ErrInvalidInput, name)
	}
	if err != nil {
		return Role{}, infraError("find role", err)
	}
	d.roles.Add(role.ID, role)
	return role, nil
}

// Grant assigns role to the user, effective now and until expiresAt when it
// is set. An active assignment of the same role is superseded.
func (d *RoleDirectory) Grant(ctx context.Context, userID string, name RoleName, expiresAt *time.Time) (RoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RoleAssignment{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := d.now().UTC()
	if expiresAt != nil && !now.Before(*expiresAt) {
		return RoleAssignment{}, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	role, err := d.roleByName(ctx, name)
	if err != nil {
		return RoleAssignment{}, err
	}

	a := RoleAssignment{
		ID:         ids.NewAt(now),
		UserID:     userID,
		RoleID:     role.ID,
		AssignedAt: now,
		Active:     true,
	}
	if expiresAt != nil {
		exp := expiresAt.UTC()
		a.ExpiresAt = &exp
	}
	if err := d.store.ReplaceRoleAssignment(ctx, &a); err != nil {
		if errors.Is(err, ErrNotFound) {
			return RoleAssignment{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return RoleAssignment{}, infraError("grant role", err)
	}
	d.log.Info().Str("user_id", userID).Str("role", string(role.Name)).Msg("role granted")
	return a, nil
}

// Revoke soft-disables the user's active assignments of role. It returns
// ErrNotFound when there was nothing to revoke.
func (d *RoleDirectory) Revoke(ctx context.Context, userID string, name RoleName) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	role, err := d.roleByName(ctx, name)
	if err != nil {
		return err
	}
	n, err := d.store.DeactivateRoleAssignments(ctx, userID, role.ID)
	if err != nil {
		return infraError("revoke role", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s holds no active %s assignment", ErrNotFound, userID, role.Name)
	}
	d.log.Info().Str("user_id", userID).Str("role", string(role.Name)).Msg("role revoked")
	return nil
}
