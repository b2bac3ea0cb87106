package domain

import dErrors "granta/pkg/domain-errors"

// Role identifies which reviewing authority an actor acts for. Roles are
// supplied by the external authentication collaborator and trusted as-is;
// the pipeline configuration maps each active phase to exactly one role.
type Role string

const (
	RoleOperator        Role = "operator"
	RoleRegistry        Role = "registry"
	RoleClub            Role = "club"
	RolePolice          Role = "police"
	RoleProvince        Role = "province"
	RoleIntelligence    Role = "intelligence"
	RoleCentralRegistry Role = "central_registry"

	// RoleAuthorizer resolves change requests and may perform the
	// administrative reset transition. It owns no pipeline phase.
	RoleAuthorizer Role = "authorizer"
)

var knownRoles = map[Role]struct{}{
	RoleOperator:        {},
	RoleRegistry:        {},
	RoleClub:            {},
	RolePolice:          {},
	RoleProvince:        {},
	RoleIntelligence:    {},
	RoleCentralRegistry: {},
	RoleAuthorizer:      {},
}

// ParseRole validates a role string from a trust boundary.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := knownRoles[r]; !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
	}
	return r, nil
}
