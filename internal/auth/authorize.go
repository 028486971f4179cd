package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/rs/zerolog"

	"taskhub.org/internal/obs"
)

// SessionView exposes the user of the current valid session, if any.
type SessionView interface {
	ValidUser() (User, bool)
}

// Authorizer decides resource access from effective roles.
type Authorizer struct {
	roles    *RoleDirectory
	session  SessionView
	matrix   Matrix
	enforcer *casbin.SyncedEnforcer
	log      zerolog.Logger
}

// NewAuthorizer wires an Authorizer. session may be nil, in which case the
// current-user helpers always deny.
func NewAuthorizer(roles *RoleDirectory, session SessionView, opts ...Option) (*Authorizer, error) {
	if roles == nil {
		return nil, errors.New("auth: role directory is required")
	}
	o := buildOptions("authz", opts)
	enforcer, err := newEnforcer(o.matrix)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	return &Authorizer{
		roles:    roles,
		session:  session,
		matrix:   o.matrix,
		enforcer: enforcer,
		log:      o.log,
	}, nil
}

// RequiredRoles returns the roles that grant resource, or nil when unknown.
func (z *Authorizer) RequiredRoles(resource Resource) []RoleName {
	roles := z.matrix[resource]
	if len(roles) == 0 {
		return nil
	}
	return append([]RoleName(nil), roles...)
}

// Allowed reports whether any role in roles grants resource. Unknown resources
// are denied.
func (z *Authorizer) Allowed(roles RoleSet, resource Resource) bool {
	if _, ok := z.matrix[resource]; !ok {
		z.log.Warn().Str("resource", string(resource)).Msg("access check for unknown resource")
		return false
	}
	for _, role := range roles.Names() {
		ok, err := z.enforcer.Enforce(string(role), string(resource))
		if err != nil {
			z.log.Error().Err(err).Str("role", string(role)).Msg("policy evaluation failed")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// CanAccess reports whether the user may use resource. A store fault is
// returned as an error and never reported as a denial.
func (z *Authorizer) CanAccess(ctx context.Context, userID string, resource Resource) (bool, error) {
	if _, ok := z.matrix[resource]; !ok {
		z.log.Warn().Str("resource", string(resource)).Str("user_id", userID).Msg("access check for unknown resource")
		obs.ObserveAuthzDecision("unknown", false)
		return false, nil
	}
	roles, err := z.roles.EffectiveRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := z.Allowed(roles, resource)
	obs.ObserveAuthzDecision(string(resource), allowed)
	z.log.Debug().
		Str("user_id", userID).
		Str("resource", string(resource)).
		Bool("allowed", allowed).
		Msg("access decision")
	return allowed, nil
}

// Authorize is CanAccess returning ErrAccessDenied on denial.
func (z *Authorizer) Authorize(ctx context.Context, userID string, resource Resource) error {
	ok, err := z.CanAccess(ctx, userID, resource)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccessDenied, resource)
	}
	return nil
}

func (z *Authorizer) currentUserID() (string, bool) {
	if z.session == nil {
		return "", false
	}
	user, ok := z.session.ValidUser()
	if !ok {
		return "", false
	}
	return user.ID, true
}

// CurrentUserCanAccess checks resource for the user of the current valid
// session. Without one access is denied.
func (z *Authorizer) CurrentUserCanAccess(ctx context.Context, resource Resource) (bool, error) {
	id, ok := z.currentUserID()
	if !ok {
		return false, nil
	}
	return z.CanAccess(ctx, id, resource)
}

func (z *Authorizer) currentUserHas(ctx context.Context, role RoleName) (bool, error) {
	id, ok := z.currentUserID()
	if !ok {
		return false, nil
	}
	return z.roles.HasRole(ctx, id, role)
}

func (z *Authorizer) IsAdmin(ctx context.Context) (bool, error) {
	return z.currentUserHas(ctx, RoleAdministrator)
}

func (z *Authorizer) IsManager(ctx context.Context) (bool, error) {
	return z.currentUserHas(ctx, RoleManager)
}

func (z *Authorizer) IsContributor(ctx context.Context) (bool, error) {
	return z.currentUserHas(ctx, RoleContributor)
}

// HighestPrivilegeLevel returns the current user's top tier, or
// PrivilegeNone without a valid session.
func (z *Authorizer) HighestPrivilegeLevel(ctx context.Context) (PrivilegeLevel, error) {
	id, ok := z.currentUserID()
	if !ok {
		return PrivilegeNone, nil
	}
	roles, err := z.roles.EffectiveRoles(ctx, id)
	if err != nil {
		return PrivilegeNone, err
	}
	return HighestPrivilege(roles), nil
}
