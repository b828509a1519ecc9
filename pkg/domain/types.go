// Package domain holds the entity shapes shared across the gateway's
// service packages (manifest lifecycle, capability tokens, policies,
// budgets, interaction records, approvals). Keeping them in one place
// avoids import cycles between pkg/policy, pkg/captoken, pkg/audit,
// pkg/budget, pkg/approval and pkg/gateway, all of which operate on the
// same rows.
package domain

import "time"

// ManifestStatus is the manifest lifecycle state.
type ManifestStatus string

const (
	ManifestPending   ManifestStatus = "pending"
	ManifestActive    ManifestStatus = "active"
	ManifestSuspended ManifestStatus = "suspended"
	ManifestRevoked   ManifestStatus = "revoked"
)

// ManifestConstraints are the agent's self-imposed limits.
type ManifestConstraints struct {
	MaxActionsPerHour    int  `json:"max_actions_per_hour,omitempty" yaml:"max_actions_per_hour,omitempty"`
	MaxActionsPerDay     int  `json:"max_actions_per_day,omitempty" yaml:"max_actions_per_day,omitempty"`
	RequireHumanApproval bool `json:"require_human_approval,omitempty" yaml:"require_human_approval,omitempty"`
}

// ManifestBody is the agent-declared payload, canonicalized to produce
// manifest_hash. It is never mutated after creation.
type ManifestBody struct {
	Capabilities struct {
		Requested []string `json:"requested" yaml:"requested"`
	} `json:"capabilities" yaml:"capabilities"`
	Constraints ManifestConstraints    `json:"constraints" yaml:"constraints"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Manifest is the agent's signed self-declaration of identity and capabilities.
type Manifest struct {
	ID              string         `json:"id"`
	OrgID           string         `json:"org_id"`
	UAPKID          string         `json:"uapk_id"`
	Version         string         `json:"version"`
	ManifestJSON    ManifestBody   `json:"manifest_json"`
	ManifestHash    string         `json:"manifest_hash"`
	Status          ManifestStatus `json:"status"`
	Description     string         `json:"description,omitempty"`
	CreatedByUserID string         `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CapabilityIssuerStatus is the lifecycle state of an external issuer.
type CapabilityIssuerStatus string

const (
	IssuerActive  CapabilityIssuerStatus = "active"
	IssuerRevoked CapabilityIssuerStatus = "revoked"
)

// CapabilityIssuer is an external party allowed to co-sign capability tokens.
// The gateway itself is the implicit issuer "gateway".
type CapabilityIssuer struct {
	ID        string                 `json:"id"`
	OrgID     string                 `json:"org_id"`
	IssuerID  string                 `json:"issuer_id"`
	Name      string                 `json:"name"`
	PublicKey string                 `json:"public_key"`
	Status    CapabilityIssuerStatus `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
	RevokedAt *time.Time             `json:"revoked_at,omitempty"`
}

// TokenConstraints restrict what a capability token's bearer may do.
type TokenConstraints struct {
	AmountMax            *float64 `json:"amount_max,omitempty"`
	Jurisdictions        []string `json:"jurisdictions,omitempty"`
	CounterpartyAllow    []string `json:"counterparty_allowlist,omitempty"`
	CounterpartyDeny     []string `json:"counterparty_denylist,omitempty"`
	MaxActions           *int     `json:"max_actions,omitempty"`
	MaxActionsPerHour    *int     `json:"max_actions_per_hour,omitempty"`
}

// CapabilityToken is the store-side record backing an issued token string.
type CapabilityToken struct {
	ID            string           `json:"id"`
	TokenID       string           `json:"token_id"` // "cap-" + hex
	OrgID         string           `json:"org_id"`
	AgentID       string           `json:"agent_id"`
	ManifestID    string           `json:"manifest_id,omitempty"`
	Capabilities  []string         `json:"capabilities"`
	IssuedAt      time.Time        `json:"issued_at"`
	ExpiresAt     time.Time        `json:"expires_at"`
	IssuedBy      string           `json:"issued_by"`
	Constraints   TokenConstraints `json:"constraints"`
	MaxActions    *int             `json:"max_actions,omitempty"`
	ActionsUsed   int              `json:"actions_used"`
	Revoked       bool             `json:"revoked"`
	RevokedAt     *time.Time       `json:"revoked_at,omitempty"`
	RevokedReason string           `json:"revoked_reason,omitempty"`
}

// Valid reports whether the token may still admit actions, ignoring capability
// scope (invariant: actions_used <= max_actions; !revoked; expires_at > now).
func (t *CapabilityToken) Valid(now time.Time) bool {
	if t.Revoked {
		return false
	}
	if !now.Before(t.ExpiresAt) {
		return false
	}
	if t.MaxActions != nil && t.ActionsUsed >= *t.MaxActions {
		return false
	}
	return true
}

// PolicyType is the outcome a policy produces when it matches and fails.
type PolicyType string

const (
	PolicyAllow           PolicyType = "allow"
	PolicyDeny            PolicyType = "deny"
	PolicyRequireApproval PolicyType = "require_approval"
)

// PolicyScope selects which requests a policy is even considered for.
type PolicyScope string

const (
	ScopeGlobal PolicyScope = "global"
	ScopeAction PolicyScope = "action"
	ScopeAgent  PolicyScope = "agent"
)

// ParameterConstraint is one entry of rules.parameters.
type ParameterConstraint struct {
	Required      bool          `json:"required,omitempty" yaml:"required,omitempty"`
	MaxLength     int           `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	AllowedValues []interface{} `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
}

// PolicyRules is the full rules blob of a Policy row.
type PolicyRules struct {
	ActionPattern string                         `json:"action_pattern,omitempty" yaml:"action_pattern,omitempty"`
	AgentIDs      []string                       `json:"agent_ids,omitempty" yaml:"agent_ids,omitempty"`
	Parameters    map[string]ParameterConstraint `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	AmountCaps    *float64                       `json:"amount_caps,omitempty" yaml:"amount_caps,omitempty"`
	Jurisdictions []string                       `json:"jurisdictions,omitempty" yaml:"jurisdictions,omitempty"`
	Counterparty  []string                       `json:"counterparty,omitempty" yaml:"counterparty,omitempty"`
}

// Policy is one row of the policy engine's rule table.
type Policy struct {
	ID              string      `json:"id"`
	OrgID           string      `json:"org_id"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	PolicyType      PolicyType  `json:"policy_type"`
	Scope           PolicyScope `json:"scope"`
	Priority        int         `json:"priority"`
	Rules           PolicyRules `json:"rules"`
	Enabled         bool        `json:"enabled"`
	CreatedByUserID string      `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// ActionCounter tracks per-(org, uapk, date) admitted-action counts.
type ActionCounter struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	UAPKID      string    `json:"uapk_id"`
	CounterDate string    `json:"counter_date"` // UTC date, "2006-01-02"
	Count       int       `json:"count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Secret is an org-scoped named credential. EncryptedValue is an
// AES-256-GCM authenticated ciphertext; plaintext never touches this struct.
type Secret struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	Name            string    `json:"name"`
	EncryptedValue  string    `json:"encrypted_value"`
	Description     string    `json:"description,omitempty"`
	CreatedByUserID string    `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CheckResult is one policy-trace entry's outcome.
type CheckResult string

const (
	CheckPass     CheckResult = "pass"
	CheckFail     CheckResult = "fail"
	CheckSkip     CheckResult = "skip"
	CheckEscalate CheckResult = "escalate"
)

// Check is a single named evaluation step recorded in a PolicyTrace.
type Check struct {
	Check   string      `json:"check"`
	Result  CheckResult `json:"result"`
	Details string      `json:"details,omitempty"`
}

// PolicyTrace is the full evaluation trail for one action admission.
type PolicyTrace struct {
	Checks    []Check   `json:"checks"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	DurationMs int64    `json:"duration_ms"`
}

// Reason is one machine-readable entry of reasons_json.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Decision is the terminal outcome of the action gateway pipeline.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionPending  Decision = "pending"
	DecisionTimeout  Decision = "timeout" // unreachable; kept for schema completeness
)

// InteractionRecord is the append-only audit entity. HashableSubset holds
// every field that feeds record_hash; the remaining fields are forensic-only.
type InteractionRecord struct {
	// Hashable subset.
	RecordID           string      `json:"record_id"`
	OrgID              string      `json:"org_id"`
	UAPKID             string      `json:"uapk_id"`
	AgentID            string      `json:"agent_id"`
	ActionType         string      `json:"action_type"`
	Tool               string      `json:"tool"`
	RequestHash        string      `json:"request_hash"`
	Decision           Decision    `json:"decision"`
	ReasonsJSON        []Reason    `json:"reasons_json"`
	PolicyTraceJSON    PolicyTrace `json:"policy_trace_json"`
	ResultHash         string      `json:"result_hash,omitempty"`
	PreviousRecordHash string      `json:"previous_record_hash,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`

	// Non-hashable forensic fields.
	Request           map[string]interface{} `json:"request"`
	Result            map[string]interface{} `json:"result,omitempty"`
	RiskSnapshotJSON  map[string]interface{} `json:"risk_snapshot_json,omitempty"`
	DecisionReason    string                  `json:"decision_reason,omitempty"`
	DurationMs        int64                   `json:"duration_ms"`
	CapabilityTokenID string                  `json:"capability_token_id,omitempty"`
	RecordHash        string                  `json:"record_hash"`
	GatewaySignature  string                  `json:"gateway_signature"`
}

// HashableSubset is the exact struct canonicalized into record_hash. Field
// order here does not matter (the canonicalizer sorts keys), but field
// *presence* does: add a field here only alongside a migration plan, since
// doing so changes every future record_hash.
type HashableSubset struct {
	RecordID           string      `json:"record_id"`
	OrgID              string      `json:"org_id"`
	UAPKID             string      `json:"uapk_id"`
	AgentID            string      `json:"agent_id"`
	ActionType         string      `json:"action_type"`
	Tool               string      `json:"tool"`
	RequestHash        string      `json:"request_hash"`
	Decision           Decision    `json:"decision"`
	ReasonsJSON        []Reason    `json:"reasons_json"`
	PolicyTraceJSON    PolicyTrace `json:"policy_trace_json"`
	ResultHash         string      `json:"result_hash,omitempty"`
	PreviousRecordHash string      `json:"previous_record_hash,omitempty"`
	CreatedAt          string      `json:"created_at"`
}

// Hashable extracts the canonicalized subset from a full record. CreatedAt is
// rendered through canonicalize.NormalizeTimestamp by the caller.
func (r *InteractionRecord) Hashable(createdAt string) HashableSubset {
	return HashableSubset{
		RecordID:           r.RecordID,
		OrgID:              r.OrgID,
		UAPKID:             r.UAPKID,
		AgentID:            r.AgentID,
		ActionType:         r.ActionType,
		Tool:               r.Tool,
		RequestHash:        r.RequestHash,
		Decision:           r.Decision,
		ReasonsJSON:        r.ReasonsJSON,
		PolicyTraceJSON:    r.PolicyTraceJSON,
		ResultHash:         r.ResultHash,
		PreviousRecordHash: r.PreviousRecordHash,
		CreatedAt:          createdAt,
	}
}

// ApprovalStatus is the approval lifecycle state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Approval is a human-in-the-loop gate created when policy evaluation
// produces require_approval.
type Approval struct {
	ID                     string                 `json:"id"`
	ApprovalID             string                 `json:"approval_id"` // "appr-" + hex
	OrgID                  string                 `json:"org_id"`
	InteractionID          string                 `json:"interaction_id"`
	UAPKID                 string                 `json:"uapk_id"`
	AgentID                string                 `json:"agent_id"`
	Action                 map[string]interface{} `json:"action"`
	Counterparty           string                 `json:"counterparty,omitempty"`
	Context                map[string]interface{} `json:"context,omitempty"`
	ReasonCodes            []string               `json:"reason_codes"`
	Status                 ApprovalStatus         `json:"status"`
	CreatedAt              time.Time              `json:"created_at"`
	ExpiresAt              *time.Time             `json:"expires_at,omitempty"`
	DecidedAt              *time.Time             `json:"decided_at,omitempty"`
	DecidedBy              string                 `json:"decided_by,omitempty"`
	DecisionNotes          string                 `json:"decision_notes,omitempty"`
	OverrideTokenHash      string                 `json:"override_token_hash,omitempty"`
	ActionHash             string                 `json:"action_hash,omitempty"`
	OverrideTokenExpiresAt *time.Time             `json:"override_token_expires_at,omitempty"`
	OverrideTokenUsedAt    *time.Time             `json:"override_token_used_at,omitempty"`
}

// IsExpired reports whether a still-pending approval has aged out.
func (a *Approval) IsExpired(now time.Time) bool {
	return a.Status == ApprovalPending && a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// UsedOverrideToken marks an override token consumed. Primary key is
// TokenHash; a second insert attempt for the same hash must fail.
type UsedOverrideToken struct {
	TokenHash  string    `json:"token_hash"`
	OrgID      string    `json:"org_id"`
	ApprovalID string    `json:"approval_id"`
	ActionHash string    `json:"action_hash"`
	UsedAt     time.Time `json:"used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
