package pgstore

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

// TokenStore persists captoken.Store rows in a `capability_tokens` table.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Insert(t *domain.CapabilityToken) error {
	caps := pq.StringArray(t.Capabilities)
	constraints, err := marshalJSON(t.Constraints)
	if err != nil {
		return fmt.Errorf("pgstore: marshal token constraints: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO capability_tokens (id, token_id, org_id, agent_id, manifest_id, capabilities,
			issued_at, expires_at, issued_by, constraints, max_actions, actions_used, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.TokenID, t.OrgID, t.AgentID, t.ManifestID, caps,
		t.IssuedAt, t.ExpiresAt, t.IssuedBy, constraints, t.MaxActions, t.ActionsUsed, t.Revoked)
	if err != nil {
		return fmt.Errorf("pgstore: insert capability token: %w", err)
	}
	return nil
}

func (s *TokenStore) Get(orgID, id string) (*domain.CapabilityToken, error) {
	row := s.db.QueryRow(tokenSelect+`WHERE org_id = $1 AND id = $2`, orgID, id)
	return scanToken(row)
}

func (s *TokenStore) GetByTokenID(orgID, tokenID string) (*domain.CapabilityToken, error) {
	row := s.db.QueryRow(tokenSelect+`WHERE org_id = $1 AND token_id = $2`, orgID, tokenID)
	return scanToken(row)
}

func (s *TokenStore) List(orgID string) ([]*domain.CapabilityToken, error) {
	rows, err := s.db.Query(tokenSelect+`WHERE org_id = $1 ORDER BY issued_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list capability tokens: %w", err)
	}
	defer rows.Close()

	var out []*domain.CapabilityToken
	for rows.Next() {
		t, err := scanTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan capability token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TokenStore) Update(t *domain.CapabilityToken) error {
	_, err := s.db.Exec(`
		UPDATE capability_tokens SET revoked = $1, revoked_at = $2, revoked_reason = $3
		WHERE org_id = $4 AND id = $5`,
		t.Revoked, t.RevokedAt, t.RevokedReason, t.OrgID, t.ID)
	if err != nil {
		return fmt.Errorf("pgstore: update capability token: %w", err)
	}
	return nil
}

func (s *TokenStore) RevokeAllForAgent(orgID, agentID string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE capability_tokens SET revoked = true, revoked_at = now(), revoked_reason = 'agent_revoked'
		WHERE org_id = $1 AND agent_id = $2 AND revoked = false`, orgID, agentID)
	if err != nil {
		return 0, fmt.Errorf("pgstore: revoke tokens for agent: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// IncrementActionsUsed bumps actions_used atomically, refusing to cross
// max_actions in the same statement — the row-level analog of MemoryStore's
// mutex-guarded read-modify-write (spec §5's "budget increments serialize
// per (org, uapk, date)" concurrency note applies equally to token usage).
func (s *TokenStore) IncrementActionsUsed(orgID, id string) error {
	res, err := s.db.Exec(`
		UPDATE capability_tokens SET actions_used = actions_used + 1
		WHERE org_id = $1 AND id = $2 AND (max_actions IS NULL OR actions_used < max_actions)`,
		orgID, id)
	if err != nil {
		return fmt.Errorf("pgstore: increment actions_used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return gwerr.New(gwerr.State, gwerr.CodeTokenActionLimitReached,
			"capability token has reached its action limit")
	}
	return nil
}

const tokenSelect = `
	SELECT id, token_id, org_id, agent_id, manifest_id, capabilities, issued_at, expires_at,
		issued_by, constraints, max_actions, actions_used, revoked, revoked_at, revoked_reason
	FROM capability_tokens `

func scanToken(row *sql.Row) (*domain.CapabilityToken, error) {
	t, err := scanTokenRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan capability token: %w", err)
	}
	return t, nil
}

func scanTokenRow(r rowScanner) (*domain.CapabilityToken, error) {
	var t domain.CapabilityToken
	var manifestID, issuedBy, revokedReason sql.NullString
	var revokedAt sql.NullTime
	var caps pq.StringArray
	var constraints []byte

	if err := r.Scan(&t.ID, &t.TokenID, &t.OrgID, &t.AgentID, &manifestID, &caps,
		&t.IssuedAt, &t.ExpiresAt, &issuedBy, &constraints, &t.MaxActions, &t.ActionsUsed,
		&t.Revoked, &revokedAt, &revokedReason); err != nil {
		return nil, err
	}
	t.ManifestID = manifestID.String
	t.IssuedBy = issuedBy.String
	t.RevokedReason = revokedReason.String
	t.Capabilities = []string(caps)
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	if err := unmarshalJSON(constraints, &t.Constraints); err != nil {
		return nil, fmt.Errorf("unmarshal constraints: %w", err)
	}
	return &t, nil
}
