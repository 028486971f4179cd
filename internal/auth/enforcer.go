package auth

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var casbinModelContent string

// newEnforcer builds an in-memory enforcer holding one allow rule per
// (role, resource) pair of m.
func newEnforcer(m Matrix) (*casbin.SyncedEnforcer, error) {
	mdl, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(mdl)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if rules := m.policies(); len(rules) > 0 {
		if _, err := enforcer.AddPolicies(rules); err != nil {
			return nil, fmt.Errorf("load matrix policies: %w", err)
		}
	}
	return enforcer, nil
}
