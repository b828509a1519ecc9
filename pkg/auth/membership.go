package auth

import (
	"context"

	"github.com/amakua/uapk-gateway/pkg/tenants"
)

// TenantMembershipLookup adapts pkg/tenants' Organization/User/Membership
// rows to the MembershipLookup this package's SessionMiddleware needs,
// translating tenants' three-tier Role (owner/admin/member) to this
// package's four-tier Role (OWNER/ADMIN/OPERATOR/VIEWER) — tenants has no
// VIEWER concept, so a plain member maps to OPERATOR rather than the
// lowest tier.
type TenantMembershipLookup struct {
	Provisioner tenants.Provisioner
}

func NewTenantMembershipLookup(p tenants.Provisioner) *TenantMembershipLookup {
	return &TenantMembershipLookup{Provisioner: p}
}

func (l *TenantMembershipLookup) RoleInOrg(userID, orgID string) (Role, error) {
	m, err := l.Provisioner.GetMembership(context.Background(), userID, orgID)
	if err != nil {
		return "", err
	}
	switch m.Role {
	case tenants.RoleOwner:
		return RoleOwner, nil
	case tenants.RoleAdmin:
		return RoleAdmin, nil
	default:
		return RoleOperator, nil
	}
}
