package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/gwcrypto"
)

// SQLiteProvisioner implements Provisioner against embedded SQLite, for the
// Lite Mode deployment pkg/sqlitestore's other stores already support. The
// schema it reads is created by pkg/sqlitestore.Migrate, not by this type —
// unlike PostgresProvisioner it has no Init, since Lite Mode already
// migrates every table in one place.
type SQLiteProvisioner struct {
	db *sql.DB
}

// NewSQLiteProvisioner creates a new SQLite-backed provisioner.
func NewSQLiteProvisioner(db *sql.DB) *SQLiteProvisioner {
	return &SQLiteProvisioner{db: db}
}

func (p *SQLiteProvisioner) Create(ctx context.Context, req CreateOrganizationRequest) (*Organization, *ApiKey, string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("tenants: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	org := &Organization{
		ID:        uuid.New().String(),
		Name:      req.OrganizationName,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
		Metadata:  req.Metadata,
	}
	metaJSON, err := json.Marshal(org.Metadata)
	if err != nil {
		return nil, nil, "", fmt.Errorf("tenants: failed to marshal metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO organizations (id, name, status, created_at, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, org.ID, org.Name, org.Status, org.CreatedAt, metaJSON); err != nil {
		return nil, nil, "", fmt.Errorf("tenants: failed to create organization: %w", err)
	}

	passwordHash, err := gwcrypto.HashSecret(req.OwnerPassword)
	if err != nil {
		return nil, nil, "", fmt.Errorf("tenants: failed to hash owner password: %w", err)
	}
	owner := &User{
		ID:           uuid.New().String(),
		Email:        req.OwnerEmail,
		PasswordHash: passwordHash,
		Status:       StatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, owner.ID, owner.Email, owner.PasswordHash, owner.Status, owner.CreatedAt); err != nil {
		return nil, nil, "", fmt.Errorf("tenants: failed to create owner user: %w", err)
	}

	membership := &Membership{
		ID:             uuid.New().String(),
		OrganizationID: org.ID,
		UserID:         owner.ID,
		Role:           RoleOwner,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (id, organization_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, membership.ID, membership.OrganizationID, membership.UserID, membership.Role, membership.CreatedAt); err != nil {
		return nil, nil, "", fmt.Errorf("tenants: failed to create owner membership: %w", err)
	}

	rawKey, keyPrefix, err := gwcrypto.GenerateAPIKey()
	if err != nil {
		return nil, nil, "", fmt.Errorf("tenants: failed to generate api key: %w", err)
	}
	keyHash, err := gwcrypto.HashSecret(rawKey)
	if err != nil {
		return nil, nil, "", fmt.Errorf("tenants: failed to hash api key: %w", err)
	}
	apiKey := &ApiKey{
		ID:             uuid.New().String(),
		OrganizationID: org.ID,
		Name:           "Default Key",
		KeyPrefix:      keyPrefix,
		KeyHash:        keyHash,
		Status:         ApiKeyStatusActive,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO api_keys (id, organization_id, name, key_prefix, key_hash, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, apiKey.ID, apiKey.OrganizationID, apiKey.Name, apiKey.KeyPrefix, apiKey.KeyHash, apiKey.Status, apiKey.CreatedAt); err != nil {
		return nil, nil, "", fmt.Errorf("tenants: failed to create api key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, "", fmt.Errorf("tenants: failed to commit: %w", err)
	}

	return org, apiKey, rawKey, nil
}

func (p *SQLiteProvisioner) GetOrganizationByName(ctx context.Context, name string) (*Organization, error) {
	var org Organization
	var metaJSON []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, status, created_at, metadata
		FROM organizations WHERE name = ?
	`, name).Scan(&org.ID, &org.Name, &org.Status, &org.CreatedAt, &metaJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tenants: organization not found")
		}
		return nil, fmt.Errorf("tenants: failed to get organization: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &org.Metadata); err != nil {
			return nil, fmt.Errorf("tenants: failed to unmarshal metadata: %w", err)
		}
	}
	return &org, nil
}

func (p *SQLiteProvisioner) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := p.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, status, created_at
		FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Status, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tenants: user not found")
		}
		return nil, fmt.Errorf("tenants: failed to get user: %w", err)
	}
	return &u, nil
}

func (p *SQLiteProvisioner) GetMembership(ctx context.Context, userID, orgID string) (*Membership, error) {
	var m Membership
	err := p.db.QueryRowContext(ctx, `
		SELECT id, organization_id, user_id, role, created_at
		FROM memberships WHERE user_id = ? AND organization_id = ?
	`, userID, orgID).Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tenants: membership not found")
		}
		return nil, fmt.Errorf("tenants: failed to get membership: %w", err)
	}
	return &m, nil
}

// FindAPIKeyByPrefix narrows candidate keys to those sharing a prefix,
// avoiding a full-table adaptive-hash sweep on every authenticated request.
func (p *SQLiteProvisioner) FindAPIKeyByPrefix(ctx context.Context, keyPrefix string) ([]*ApiKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, organization_id, name, key_prefix, key_hash, status, created_at, revoked_at
		FROM api_keys WHERE key_prefix = ? AND status = 'active'
	`, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("tenants: failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*ApiKey
	for rows.Next() {
		var k ApiKey
		if err := rows.Scan(&k.ID, &k.OrganizationID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.Status, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("tenants: failed to scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}
