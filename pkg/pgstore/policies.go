package pgstore

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// PolicyStore persists policy.Store rows in a `policies` table. It also
// carries Insert/Update/Delete beyond the policy.Store interface itself,
// for the admin-facing policy management routes in pkg/api.
type PolicyStore struct {
	db *sql.DB
}

func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

func (s *PolicyStore) Insert(p *domain.Policy) error {
	rules, err := marshalJSON(p.Rules)
	if err != nil {
		return fmt.Errorf("pgstore: marshal policy rules: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO policies (id, org_id, name, description, policy_type, scope, priority,
			rules, enabled, created_by_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.OrgID, p.Name, p.Description, p.PolicyType, p.Scope, p.Priority,
		rules, p.Enabled, p.CreatedByUserID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: insert policy: %w", err)
	}
	return nil
}

// ListEnabled satisfies policy.Store: every enabled policy for an org,
// priority-descending so the engine can fuse in rule-priority order.
func (s *PolicyStore) ListEnabled(orgID string) ([]*domain.Policy, error) {
	rows, err := s.db.Query(`
		SELECT id, org_id, name, description, policy_type, scope, priority, rules, enabled,
			created_by_user_id, created_at, updated_at
		FROM policies WHERE org_id = $1 AND enabled = true
		ORDER BY priority DESC, created_at ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list enabled policies: %w", err)
	}
	defer rows.Close()

	var out []*domain.Policy
	for rows.Next() {
		p, err := scanPolicyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PolicyStore) Get(orgID, id string) (*domain.Policy, error) {
	row := s.db.QueryRow(`
		SELECT id, org_id, name, description, policy_type, scope, priority, rules, enabled,
			created_by_user_id, created_at, updated_at
		FROM policies WHERE org_id = $1 AND id = $2`, orgID, id)
	p, err := scanPolicyRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan policy: %w", err)
	}
	return p, nil
}

func (s *PolicyStore) Update(p *domain.Policy) error {
	rules, err := marshalJSON(p.Rules)
	if err != nil {
		return fmt.Errorf("pgstore: marshal policy rules: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE policies SET name = $1, description = $2, policy_type = $3, scope = $4,
			priority = $5, rules = $6, enabled = $7, updated_at = $8
		WHERE org_id = $9 AND id = $10`,
		p.Name, p.Description, p.PolicyType, p.Scope, p.Priority, rules, p.Enabled,
		p.UpdatedAt, p.OrgID, p.ID)
	if err != nil {
		return fmt.Errorf("pgstore: update policy: %w", err)
	}
	return nil
}

func (s *PolicyStore) Delete(orgID, id string) error {
	_, err := s.db.Exec(`DELETE FROM policies WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete policy: %w", err)
	}
	return nil
}

func scanPolicyRow(r rowScanner) (*domain.Policy, error) {
	var p domain.Policy
	var description, createdBy sql.NullString
	var rules []byte
	if err := r.Scan(&p.ID, &p.OrgID, &p.Name, &description, &p.PolicyType, &p.Scope,
		&p.Priority, &rules, &p.Enabled, &createdBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Description = description.String
	p.CreatedByUserID = createdBy.String
	if err := unmarshalJSON(rules, &p.Rules); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	return &p, nil
}
