package sqlitestore

import (
	"database/sql"
	"fmt"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// PolicyStore persists policy.Store rows in SQLite, plus the Insert/Update/
// Delete methods the admin routes need beyond the policy.Store interface.
type PolicyStore struct {
	db *sql.DB
}

func NewPolicyStore(db *sql.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

func (s *PolicyStore) Insert(p *domain.Policy) error {
	rules, err := marshalJSON(p.Rules)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal policy rules: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO policies (id, org_id, name, description, policy_type, scope, priority,
			rules, enabled, created_by_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrgID, p.Name, p.Description, p.PolicyType, p.Scope, p.Priority,
		rules, p.Enabled, p.CreatedByUserID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert policy: %w", err)
	}
	return nil
}

func (s *PolicyStore) ListEnabled(orgID string) ([]*domain.Policy, error) {
	rows, err := s.db.Query(`
		SELECT id, org_id, name, description, policy_type, scope, priority, rules, enabled,
			created_by_user_id, created_at, updated_at
		FROM policies WHERE org_id = ? AND enabled = 1
		ORDER BY priority DESC, created_at ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list enabled policies: %w", err)
	}
	defer rows.Close()

	var out []*domain.Policy
	for rows.Next() {
		p, err := scanPolicyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PolicyStore) Get(orgID, id string) (*domain.Policy, error) {
	row := s.db.QueryRow(`
		SELECT id, org_id, name, description, policy_type, scope, priority, rules, enabled,
			created_by_user_id, created_at, updated_at
		FROM policies WHERE org_id = ? AND id = ?`, orgID, id)
	p, err := scanPolicyRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: scan policy: %w", err)
	}
	return p, nil
}

func (s *PolicyStore) Update(p *domain.Policy) error {
	rules, err := marshalJSON(p.Rules)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal policy rules: %w", err)
	}
	_, err = s.db.Exec(`
		UPDATE policies SET name = ?, description = ?, policy_type = ?, scope = ?,
			priority = ?, rules = ?, enabled = ?, updated_at = ?
		WHERE org_id = ? AND id = ?`,
		p.Name, p.Description, p.PolicyType, p.Scope, p.Priority, rules, p.Enabled,
		p.UpdatedAt, p.OrgID, p.ID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update policy: %w", err)
	}
	return nil
}

func (s *PolicyStore) Delete(orgID, id string) error {
	_, err := s.db.Exec(`DELETE FROM policies WHERE org_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete policy: %w", err)
	}
	return nil
}

func scanPolicyRow(r rowScanner) (*domain.Policy, error) {
	var p domain.Policy
	var description, createdBy sql.NullString
	var rules string
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
