// Package captoken implements the gateway's capability-token codec (spec
// §4.C): compact three-segment EdDSA-signed tokens in three kinds —
// capability, override, and session (for human operators) — sharing one
// wire format but carrying different required claims. Verification rejects
// any alg other than EdDSA, defeating algorithm-confusion attacks; that
// defense lives in pkg/identity.KeySet.KeyFunc, which type-asserts the
// signing method before ever consulting the key.
package captoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amakua/uapk-gateway/pkg/identity"
)

// Kind distinguishes the three token shapes.
type Kind string

const (
	KindCapability Kind = "capability_token"
	KindOverride   Kind = "override_token"
	KindSession    Kind = "session_token"
)

// ErrInvalidToken is returned (wrapped) for any verification failure:
// bad signature, expiry, wrong algorithm, unknown issuer, or wrong type.
// Per spec §4.C, verification externally is "(claims | null, error?)" —
// the Go shape is (nil, error).
var ErrInvalidToken = errors.New("captoken: invalid token")

const issuer = "uapk-gateway"

// Claims is the union of every claim any of the three kinds may carry.
// golang-jwt unmarshals whatever fields are present; callers inspect Type
// to know which subset is meaningful.
type Claims struct {
	jwt.RegisteredClaims
	Type Kind `json:"type,omitempty"`

	// capability
	AgentID            string           `json:"agent_id,omitempty"`
	OrgID              string           `json:"org_id,omitempty"`
	Capabilities       []string         `json:"capabilities,omitempty"`
	Constraints        *TokenConstraint `json:"constraints,omitempty"`
	UAPKID             string           `json:"uapk_id,omitempty"`
	AllowedActionTypes []string         `json:"allowed_action_types,omitempty"`
	AllowedTools       []string         `json:"allowed_tools,omitempty"`

	// override (also uses OrgID, UAPKID, AgentID above)
	ActionHash string `json:"action_hash,omitempty"`
	ApprovalID string `json:"approval_id,omitempty"`

	// session: sub only, carried in RegisteredClaims.Subject
}

// TokenConstraint mirrors domain.TokenConstraints for the claims payload;
// kept separate to avoid pkg/captoken depending on pkg/domain's store shape.
type TokenConstraint struct {
	AmountMax         *float64 `json:"amount_max,omitempty"`
	Jurisdictions     []string `json:"jurisdictions,omitempty"`
	CounterpartyAllow []string `json:"counterparty_allowlist,omitempty"`
	CounterpartyDeny  []string `json:"counterparty_denylist,omitempty"`
	MaxActions        *int     `json:"max_actions,omitempty"`
	MaxActionsPerHour *int     `json:"max_actions_per_hour,omitempty"`
}

// Codec issues and verifies tokens using a KeySet's EdDSA signing.
type Codec struct {
	keys identity.KeySet
}

func NewCodec(keys identity.KeySet) *Codec {
	return &Codec{keys: keys}
}

// IssueCapabilityParams builds a capability-kind token.
type IssueCapabilityParams struct {
	TokenID      string // sub
	AgentID      string
	OrgID        string
	Capabilities []string
	ExpiresAt    time.Time
	Constraints  *TokenConstraint
	UAPKID       string
}

func (c *Codec) IssueCapability(p IssueCapabilityParams) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
		Type:         KindCapability,
		AgentID:      p.AgentID,
		OrgID:        p.OrgID,
		Capabilities: p.Capabilities,
		Constraints:  p.Constraints,
		UAPKID:       p.UAPKID,
	}
	return c.keys.Sign(nil, claims)
}

// IssueOverrideParams builds an override-kind token, bound to a specific
// action_hash and the approval that authorized it. Expiry is operator
// supplied and must fall within spec §4.J's 60-3600s window.
type IssueOverrideParams struct {
	TokenID    string
	OrgID      string
	UAPKID     string
	AgentID    string
	ActionHash string
	ApprovalID string
	ExpiresIn  time.Duration
}

func (c *Codec) IssueOverride(p IssueOverrideParams) (string, time.Time, error) {
	if p.ExpiresIn < 60*time.Second || p.ExpiresIn > 3600*time.Second {
		return "", time.Time{}, fmt.Errorf("captoken: override expiry must be between 60 and 3600 seconds, got %s", p.ExpiresIn)
	}
	now := time.Now().UTC()
	exp := now.Add(p.ExpiresIn)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        "override-" + p.ApprovalID,
		},
		Type:       KindOverride,
		OrgID:      p.OrgID,
		UAPKID:     p.UAPKID,
		AgentID:    p.AgentID,
		ActionHash: p.ActionHash,
		ApprovalID: p.ApprovalID,
	}
	tok, err := c.keys.Sign(nil, claims)
	return tok, exp, err
}

// IssueSession builds a session-kind token for a human operator.
func (c *Codec) IssueSession(userID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: KindSession,
	}
	return c.keys.Sign(nil, claims)
}

// Verify parses and validates a token string, enforcing the required-claims
// table for the claimed Type. A nil Claims return always pairs with a
// non-nil error (spec's "null means invalid").
func (c *Codec) Verify(tokenString string, want Kind) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, c.keys.KeyFunc())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("%w: unknown issuer %q", ErrInvalidToken, claims.Issuer)
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: expected type %q, got %q", ErrInvalidToken, want, claims.Type)
	}
	if err := validateRequiredClaims(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func validateRequiredClaims(c *Claims) error {
	switch c.Type {
	case KindCapability:
		if c.Subject == "" || c.AgentID == "" || c.OrgID == "" || len(c.Capabilities) == 0 {
			return errors.New("capability token missing required claims")
		}
	case KindOverride:
		if c.Subject == "" || c.OrgID == "" || c.UAPKID == "" || c.AgentID == "" ||
			c.ActionHash == "" || c.ApprovalID == "" || c.ID == "" {
			return errors.New("override token missing required claims")
		}
	case KindSession:
		if c.Subject == "" {
			return errors.New("session token missing sub claim")
		}
	default:
		return fmt.Errorf("unrecognized token type %q", c.Type)
	}
	return nil
}
