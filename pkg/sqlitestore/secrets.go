package sqlitestore

import (
	"database/sql"
	"fmt"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// SecretStore persists secret.Store rows in SQLite. Values are already
// AEAD-sealed by the caller (pkg/secret.Resolver) before they reach here —
// this store never sees plaintext.
type SecretStore struct {
	db *sql.DB
}

func NewSecretStore(db *sql.DB) *SecretStore {
	return &SecretStore{db: db}
}

func (s *SecretStore) Save(sec *domain.Secret) error {
	_, err := s.db.Exec(`
		INSERT INTO secrets (id, org_id, name, encrypted_value, description, created_by_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, name) DO UPDATE SET
			encrypted_value = excluded.encrypted_value,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		sec.ID, sec.OrgID, sec.Name, sec.EncryptedValue, sec.Description,
		sec.CreatedByUserID, sec.CreatedAt, sec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlitestore: save secret: %w", err)
	}
	return nil
}

func (s *SecretStore) GetByName(orgID, name string) (*domain.Secret, error) {
	row := s.db.QueryRow(secretSelect+`WHERE org_id = ? AND name = ?`, orgID, name)
	sec, err := scanSecret(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get secret: %w", err)
	}
	return sec, nil
}

func (s *SecretStore) List(orgID string) ([]*domain.Secret, error) {
	rows, err := s.db.Query(secretSelect+`WHERE org_id = ? ORDER BY name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list secrets: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Secret, 0)
	for rows.Next() {
		var sec domain.Secret
		var description, createdBy sql.NullString
		if err := rows.Scan(&sec.ID, &sec.OrgID, &sec.Name, &sec.EncryptedValue,
			&description, &createdBy, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan secret: %w", err)
		}
		sec.Description = description.String
		sec.CreatedByUserID = createdBy.String
		out = append(out, &sec)
	}
	return out, rows.Err()
}

func (s *SecretStore) Delete(orgID, id string) error {
	_, err := s.db.Exec(`DELETE FROM secrets WHERE org_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete secret: %w", err)
	}
	return nil
}

const secretSelect = `
	SELECT id, org_id, name, encrypted_value, description, created_by_user_id, created_at, updated_at
	FROM secrets `

func scanSecret(row *sql.Row) (*domain.Secret, error) {
	var sec domain.Secret
	var description, createdBy sql.NullString
	if err := row.Scan(&sec.ID, &sec.OrgID, &sec.Name, &sec.EncryptedValue,
		&description, &createdBy, &sec.CreatedAt, &sec.UpdatedAt); err != nil {
		return nil, err
	}
	sec.Description = description.String
	sec.CreatedByUserID = createdBy.String
	return &sec, nil
}
