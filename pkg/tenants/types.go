// Package tenants models the gateway's multi-tenant identity layer:
// organizations, users, memberships, and organization-scoped API keys.
// Creation and lookup of these entities sit outside the action gateway's
// core pipeline (manifests, tokens, policies, records) but every other
// entity hangs off an Organization, so this package is the root of the
// data model.
package tenants

import "time"

// Status is the lifecycle state of an Organization or User.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Organization is the tenant boundary: every Manifest, CapabilityToken,
// Policy, InteractionRecord, Approval, and Secret is owned by exactly one
// Organization and is never visible across the boundary.
type Organization struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsActive reports whether the organization can authenticate requests.
func (o *Organization) IsActive() bool {
	return o.Status == StatusActive
}

// User is a human account scoped to zero or more organizations via
// Membership rows. Authentication of Users (login/session issuance) is
// out of scope per the gateway's purpose; this type exists so the thin
// CRUD layer and membership checks have something to reference.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role is a User's permission level within an Organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Membership links a User to an Organization with a Role.
type Membership struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// ApiKeyStatus is the lifecycle state of an ApiKey.
type ApiKeyStatus string

const (
	ApiKeyStatusActive  ApiKeyStatus = "active"
	ApiKeyStatusRevoked ApiKeyStatus = "revoked"
)

// ApiKey authenticates requests to the gateway on behalf of an
// Organization. Only KeyPrefix and KeyHash are ever persisted; the raw
// key is returned once at creation time and never stored or logged.
type ApiKey struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	Name           string       `json:"name"`
	KeyPrefix      string       `json:"key_prefix"`
	KeyHash        string       `json:"-"`
	Status         ApiKeyStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	RevokedAt      *time.Time   `json:"revoked_at,omitempty"`
}

// IsActive reports whether the key can still authenticate requests.
func (k *ApiKey) IsActive() bool {
	return k.Status == ApiKeyStatusActive
}

// CreateOrganizationRequest is the input to provisioning a new Organization,
// its owning User, and a default ApiKey in one transaction.
type CreateOrganizationRequest struct {
	OrganizationName string         `json:"organization_name"`
	OwnerEmail       string         `json:"owner_email"`
	OwnerPassword    string         `json:"owner_password"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}
