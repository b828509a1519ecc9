package auth

// Role is a human operator's standing within one org (spec §6: "Role
// requirements: OWNER > ADMIN > OPERATOR > VIEWER"). Membership and role
// assignment are out of scope for this gateway (spec §1 Non-goals) — a
// MembershipLookup resolves them from whatever system owns that CRUD.
type Role string

const (
	RoleViewer   Role = "VIEWER"
	RoleOperator Role = "OPERATOR"
	RoleAdmin    Role = "ADMIN"
	RoleOwner    Role = "OWNER"
)

// rank orders roles so Satisfies can do a single integer comparison
// instead of hand-rolled the if-chains.
var rank = map[Role]int{
	RoleViewer:   0,
	RoleOperator: 1,
	RoleAdmin:    2,
	RoleOwner:    3,
}

// Satisfies reports whether r meets or exceeds the minimum required role.
// An unrecognized role never satisfies anything (fail closed).
func (r Role) Satisfies(min Role) bool {
	have, ok := rank[r]
	if !ok {
		return false
	}
	want, ok := rank[min]
	if !ok {
		return false
	}
	return have >= want
}

// Principal is the human operator attached to the request context once a
// session bearer has been verified and resolved to an org role.
type Principal struct {
	UserID string
	OrgID  string
	Role   Role
}

// MembershipLookup resolves a verified session subject's role within an
// org. Membership/role assignment is an external collaborator per spec §1
// ("user/organization/membership CRUD" is out of scope); this interface is
// this gateway's only contract with that system.
type MembershipLookup interface {
	RoleInOrg(userID, orgID string) (Role, error)
}
