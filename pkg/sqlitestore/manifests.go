package sqlitestore

import (
	"database/sql"
	"fmt"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// ManifestStore persists manifeststore.Store rows in SQLite.
type ManifestStore struct {
	db *sql.DB
}

func NewManifestStore(db *sql.DB) *ManifestStore {
	return &ManifestStore{db: db}
}

func (s *ManifestStore) Insert(m *domain.Manifest) error {
	body, err := marshalJSON(m.ManifestJSON)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal manifest body: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO manifests (id, org_id, uapk_id, version, manifest_json, manifest_hash,
			status, description, created_by_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OrgID, m.UAPKID, m.Version, body, m.ManifestHash,
		m.Status, m.Description, m.CreatedByUserID, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert manifest: %w", err)
	}
	return nil
}

func (s *ManifestStore) Get(orgID, id string) (*domain.Manifest, error) {
	row := s.db.QueryRow(manifestSelect+`WHERE org_id = ? AND id = ?`, orgID, id)
	return scanManifest(row)
}

func (s *ManifestStore) GetByUAPKID(orgID, uapkID string) (*domain.Manifest, error) {
	row := s.db.QueryRow(manifestSelect+`WHERE org_id = ? AND uapk_id = ? ORDER BY created_at DESC LIMIT 1`, orgID, uapkID)
	return scanManifest(row)
}

func (s *ManifestStore) List(orgID string) ([]*domain.Manifest, error) {
	rows, err := s.db.Query(manifestSelect+`WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list manifests: %w", err)
	}
	defer rows.Close()

	var out []*domain.Manifest
	for rows.Next() {
		m, err := scanManifestRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan manifest: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ManifestStore) Update(m *domain.Manifest) error {
	_, err := s.db.Exec(`UPDATE manifests SET status = ?, description = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		m.Status, m.Description, m.UpdatedAt, m.OrgID, m.ID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update manifest: %w", err)
	}
	return nil
}

func (s *ManifestStore) Delete(orgID, id string) error {
	_, err := s.db.Exec(`DELETE FROM manifests WHERE org_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete manifest: %w", err)
	}
	return nil
}

const manifestSelect = `
	SELECT id, org_id, uapk_id, version, manifest_json, manifest_hash, status, description,
		created_by_user_id, created_at, updated_at
	FROM manifests `

func scanManifest(row *sql.Row) (*domain.Manifest, error) {
	m, err := scanManifestRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: scan manifest: %w", err)
	}
	return m, nil
}

func scanManifestRow(r rowScanner) (*domain.Manifest, error) {
	var m domain.Manifest
	var description, createdBy sql.NullString
	var body string
	if err := r.Scan(&m.ID, &m.OrgID, &m.UAPKID, &m.Version, &body, &m.ManifestHash,
		&m.Status, &description, &createdBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Description = description.String
	m.CreatedByUserID = createdBy.String
	if err := unmarshalJSON(body, &m.ManifestJSON); err != nil {
		return nil, fmt.Errorf("unmarshal manifest_json: %w", err)
	}
	return &m, nil
}
