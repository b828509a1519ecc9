package pgstore

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// ManifestStore persists manifeststore.Store rows in a `manifests` table.
type ManifestStore struct {
	db *sql.DB
}

func NewManifestStore(db *sql.DB) *ManifestStore {
	return &ManifestStore{db: db}
}

func (s *ManifestStore) Insert(m *domain.Manifest) error {
	body, err := marshalJSON(m.ManifestJSON)
	if err != nil {
		return fmt.Errorf("pgstore: marshal manifest body: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO manifests (id, org_id, uapk_id, version, manifest_json, manifest_hash,
			status, description, created_by_user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.OrgID, m.UAPKID, m.Version, body, m.ManifestHash,
		m.Status, m.Description, m.CreatedByUserID, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: insert manifest: %w", err)
	}
	return nil
}

func (s *ManifestStore) Get(orgID, id string) (*domain.Manifest, error) {
	row := s.db.QueryRow(`
		SELECT id, org_id, uapk_id, version, manifest_json, manifest_hash, status,
			description, created_by_user_id, created_at, updated_at
		FROM manifests WHERE org_id = $1 AND id = $2`, orgID, id)
	return scanManifest(row)
}

func (s *ManifestStore) GetByUAPKID(orgID, uapkID string) (*domain.Manifest, error) {
	row := s.db.QueryRow(`
		SELECT id, org_id, uapk_id, version, manifest_json, manifest_hash, status,
			description, created_by_user_id, created_at, updated_at
		FROM manifests WHERE org_id = $1 AND uapk_id = $2
		ORDER BY created_at DESC LIMIT 1`, orgID, uapkID)
	return scanManifest(row)
}

func (s *ManifestStore) List(orgID string) ([]*domain.Manifest, error) {
	rows, err := s.db.Query(`
		SELECT id, org_id, uapk_id, version, manifest_json, manifest_hash, status,
			description, created_by_user_id, created_at, updated_at
		FROM manifests WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list manifests: %w", err)
	}
	defer rows.Close()

	var out []*domain.Manifest
	for rows.Next() {
		m, err := scanManifestRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ManifestStore) Update(m *domain.Manifest) error {
	_, err := s.db.Exec(`
		UPDATE manifests SET status = $1, description = $2, updated_at = $3
		WHERE org_id = $4 AND id = $5`,
		m.Status, m.Description, m.UpdatedAt, m.OrgID, m.ID)
	if err != nil {
		return fmt.Errorf("pgstore: update manifest: %w", err)
	}
	return nil
}

func (s *ManifestStore) Delete(orgID, id string) error {
	_, err := s.db.Exec(`DELETE FROM manifests WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete manifest: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting Get/List
// share one decode path.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanManifest(row *sql.Row) (*domain.Manifest, error) {
	m, err := scanManifestRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan manifest: %w", err)
	}
	return m, nil
}

func scanManifestRows(rows *sql.Rows) (*domain.Manifest, error) {
	m, err := scanManifestRow(rows)
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan manifest: %w", err)
	}
	return m, nil
}

func scanManifestRow(r rowScanner) (*domain.Manifest, error) {
	var m domain.Manifest
	var body []byte
	if err := r.Scan(&m.ID, &m.OrgID, &m.UAPKID, &m.Version, &body, &m.ManifestHash,
		&m.Status, &m.Description, &m.CreatedByUserID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(body, &m.ManifestJSON); err != nil {
		return nil, fmt.Errorf("unmarshal manifest_json: %w", err)
	}
	return &m, nil
}
