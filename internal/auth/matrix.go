package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Resource is a named area of functionality subject to authorization.
type Resource string

const (
	ResourceUsers     Resource = "users"
	ResourceTeams     Resource = "teams"
	ResourceProjects  Resource = "projects"
	ResourceTasks     Resource = "tasks"
	ResourceDashboard Resource = "dashboard"
	ResourceReports   Resource = "reports"
)

// ParseResource maps a name to a Resource. The second result is false for
// names the default matrix does not know.
func ParseResource(name string) (Resource, bool) {
	r := Resource(strings.ToLower(strings.TrimSpace(name)))
	_, ok := DefaultMatrix()[r]
	return r, ok
}

// Matrix maps each resource to the roles allowed to use it. Holding any one
// of the listed roles is enough.
type Matrix map[Resource][]RoleName

// DefaultMatrix returns a fresh copy of the built-in table.
func DefaultMatrix() Matrix {
	return Matrix{
		ResourceUsers:     {RoleAdministrator},
		ResourceTeams:     {RoleAdministrator},
		ResourceProjects:  {RoleAdministrator, RoleManager},
		ResourceTasks:     {RoleAdministrator, RoleManager, RoleContributor},
		ResourceDashboard: {RoleAdministrator, RoleManager, RoleContributor},
		ResourceReports:   {RoleAdministrator, RoleManager},
	}
}

// Resources lists the matrix keys in name order.
func (m Matrix) Resources() []Resource {
	out := make([]Resource, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// policies flattens the matrix to (role, resource) pairs.
func (m Matrix) policies() [][]string {
	var rules [][]string
	for _, r := range m.Resources() {
		for _, role := range m[r] {
			rules = append(rules, []string{string(role), string(r)})
		}
	}
	return rules
}

// PrivilegeLevel ranks the built-in roles. The order is fixed:
// ADMIN > MANAGER > CONTRIBUTOR > NONE.
type PrivilegeLevel int

const (
	PrivilegeNone PrivilegeLevel = iota
	PrivilegeContributor
	PrivilegeManager
	PrivilegeAdmin
)

func (p PrivilegeLevel) String() string {
	switch p {
	case PrivilegeAdmin:
		return "ADMIN"
	case PrivilegeManager:
		return "MANAGER"
	case PrivilegeContributor:
		return "CONTRIBUTOR"
	case PrivilegeNone:
		return "NONE"
	default:
		return fmt.Sprintf("PrivilegeLevel(%d)", int(p))
	}
}

// privilegeOrder is checked top to bottom; the first held role wins.
var privilegeOrder = []struct {
	role  RoleName
	level PrivilegeLevel
}{
	{RoleAdministrator, PrivilegeAdmin},
	{RoleManager, PrivilegeManager},
	{RoleContributor, PrivilegeContributor},
}

// HighestPrivilege returns the top tier present in roles.
func HighestPrivilege(roles RoleSet) PrivilegeLevel {
	for _, p := range privilegeOrder {
		if roles.Has(p.role) {
			return p.level
		}
	}
	return PrivilegeNone
}
