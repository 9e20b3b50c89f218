package workflow

import (
	"context"
	"sort"
)

// RoleSet is the set of role names a user holds.
type RoleSet map[string]struct{}

// NewRoleSet builds a set from role names.
func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		if r != "" {
			set[r] = struct{}{}
		}
	}
	return set
}

// Has reports whether the set contains role.
func (rs RoleSet) Has(role string) bool {
	_, ok := rs[role]
	return ok
}

// HasAny reports whether the set contains at least one of roles.
func (rs RoleSet) HasAny(roles []string) bool {
	for _, r := range roles {
		if rs.Has(r) {
			return true
		}
	}
	return false
}

// Sorted returns the role names in lexical order.
func (rs RoleSet) Sorted() []string {
	out := make([]string, 0, len(rs))
	for r := range rs {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// RoleDirectory resolves role memberships. It is the only way the workflow
// learns who may act.
type RoleDirectory interface {
	// RolesOf returns the roles held by a user. Unknown users have none.
	RolesOf(ctx context.Context, userID string) (RoleSet, error)
	// MembersOf returns the users holding role.
	MembersOf(ctx context.Context, role string) ([]string, error)
}
