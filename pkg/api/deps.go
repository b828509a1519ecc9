package api

import (
	"time"

	"github.com/amakua/uapk-gateway/pkg/approval"
	"github.com/amakua/uapk-gateway/pkg/audit"
	"github.com/amakua/uapk-gateway/pkg/auth"
	"github.com/amakua/uapk-gateway/pkg/captoken"
	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gateway"
	"github.com/amakua/uapk-gateway/pkg/identity"
	"github.com/amakua/uapk-gateway/pkg/manifeststore"
	"github.com/amakua/uapk-gateway/pkg/tenants"
)

// PolicyAdminStore is the CRUD surface pkg/pgstore.PolicyStore and
// pkg/sqlitestore.PolicyStore both implement. It is narrower than either
// concrete type so the router can be wired against whichever backend
// cmd/gateway selected without pkg/api importing either store package.
type PolicyAdminStore interface {
	Insert(p *domain.Policy) error
	Get(orgID, id string) (*domain.Policy, error)
	ListEnabled(orgID string) ([]*domain.Policy, error)
	Update(p *domain.Policy) error
	Delete(orgID, id string) error
}

// Dependencies holds every collaborator the route handlers dispatch to.
// One instance is built once at startup (cmd/gateway) and threaded through
// NewRouter; handlers hold only the narrow slice of this they need.
type Dependencies struct {
	Pipeline    *gateway.Pipeline
	Manifests   *manifeststore.Registry
	Tokens      *captoken.Issuer
	TokenStore  captoken.Store
	Policies    PolicyAdminStore
	Approvals   *approval.Service
	Audit       *audit.Engine
	AuditStore  audit.Store
	Exporter    *audit.Exporter
	SessionKeys *captoken.Codec
	GatewayKeys *identity.InMemoryKeySet
	Membership  auth.MembershipLookup
	Tenants     tenants.Provisioner
	SessionTTL  time.Duration

	// Idempotency caches POST /actions responses by the
	// caller-supplied idempotency_key for IdempotencyTTL.
	Idempotency    IdempotencyStorer
	IdempotencyTTL time.Duration
}
