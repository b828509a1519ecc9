package sqlitestore

import (
	"database/sql"
	"fmt"

	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

// TokenStore persists captoken.Store rows in SQLite.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func (s *TokenStore) Insert(t *domain.CapabilityToken) error {
	constraints, err := marshalJSON(t.Constraints)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal token constraints: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO capability_tokens (id, token_id, org_id, agent_id, manifest_id, capabilities,
			issued_at, expires_at, issued_by, constraints, max_actions, actions_used, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TokenID, t.OrgID, t.AgentID, t.ManifestID, joinCSV(t.Capabilities),
		t.IssuedAt, t.ExpiresAt, t.IssuedBy, constraints, t.MaxActions, t.ActionsUsed, t.Revoked)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert capability token: %w", err)
	}
	return nil
}

func (s *TokenStore) Get(orgID, id string) (*domain.CapabilityToken, error) {
	row := s.db.QueryRow(tokenSelect+`WHERE org_id = ? AND id = ?`, orgID, id)
	return scanToken(row)
}

func (s *TokenStore) GetByTokenID(orgID, tokenID string) (*domain.CapabilityToken, error) {
	row := s.db.QueryRow(tokenSelect+`WHERE org_id = ? AND token_id = ?`, orgID, tokenID)
	return scanToken(row)
}

func (s *TokenStore) List(orgID string) ([]*domain.CapabilityToken, error) {
	rows, err := s.db.Query(tokenSelect+`WHERE org_id = ? ORDER BY issued_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list capability tokens: %w", err)
	}
	defer rows.Close()

	var out []*domain.CapabilityToken
	for rows.Next() {
		t, err := scanTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan capability token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *TokenStore) Update(t *domain.CapabilityToken) error {
	_, err := s.db.Exec(`
		UPDATE capability_tokens SET revoked = ?, revoked_at = ?, revoked_reason = ?
		WHERE org_id = ? AND id = ?`,
		t.Revoked, t.RevokedAt, t.RevokedReason, t.OrgID, t.ID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update capability token: %w", err)
	}
	return nil
}

func (s *TokenStore) RevokeAllForAgent(orgID, agentID string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE capability_tokens SET revoked = 1, revoked_at = CURRENT_TIMESTAMP, revoked_reason = 'agent_revoked'
		WHERE org_id = ? AND agent_id = ? AND revoked = 0`, orgID, agentID)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: revoke tokens for agent: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *TokenStore) IncrementActionsUsed(orgID, id string) error {
	res, err := s.db.Exec(`
		UPDATE capability_tokens SET actions_used = actions_used + 1
		WHERE org_id = ? AND id = ? AND (max_actions IS NULL OR actions_used < max_actions)`,
		orgID, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: increment actions_used: %w", err)
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
		return nil, fmt.Errorf("sqlitestore: scan capability token: %w", err)
	}
	return t, nil
}

func scanTokenRow(r rowScanner) (*domain.CapabilityToken, error) {
	var t domain.CapabilityToken
	var manifestID, issuedBy, revokedReason, caps sql.NullString
	var constraints sql.NullString
	var revokedAt sql.NullTime

	if err := r.Scan(&t.ID, &t.TokenID, &t.OrgID, &t.AgentID, &manifestID, &caps,
		&t.IssuedAt, &t.ExpiresAt, &issuedBy, &constraints, &t.MaxActions, &t.ActionsUsed,
		&t.Revoked, &revokedAt, &revokedReason); err != nil {
		return nil, err
	}
	t.ManifestID = manifestID.String
	t.IssuedBy = issuedBy.String
	t.RevokedReason = revokedReason.String
	t.Capabilities = splitCSV(caps.String)
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	if err := unmarshalJSON(constraints.String, &t.Constraints); err != nil {
		return nil, fmt.Errorf("unmarshal constraints: %w", err)
	}
	return &t, nil
}
