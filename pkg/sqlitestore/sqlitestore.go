// Package sqlitestore implements every domain Store interface against
// embedded SQLite, for the single-node deployment spec §11 describes and
// for integration tests that want a real SQL backend without a Postgres
// fixture. It mirrors pkg/pgstore's store-per-entity layout but, following
// the teacher's pkg/store/receipt_store_sqlite.go, self-migrates its schema
// on construction rather than assuming an external migration tool.
package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS manifests (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	uapk_id TEXT NOT NULL,
	version TEXT NOT NULL,
	manifest_json TEXT NOT NULL,
	manifest_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	description TEXT,
	created_by_user_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_manifests_org_uapk ON manifests (org_id, uapk_id, created_at DESC);

CREATE TABLE IF NOT EXISTS capability_tokens (
	id TEXT PRIMARY KEY,
	token_id TEXT NOT NULL,
	org_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	manifest_id TEXT,
	capabilities TEXT NOT NULL,
	issued_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL,
	issued_by TEXT,
	constraints TEXT,
	max_actions INTEGER,
	actions_used INTEGER NOT NULL DEFAULT 0,
	revoked BOOLEAN NOT NULL DEFAULT 0,
	revoked_at DATETIME,
	revoked_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_tokens_org_tokenid ON capability_tokens (org_id, token_id);

CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	policy_type TEXT NOT NULL,
	scope TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	rules TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	created_by_user_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policies_org_enabled ON policies (org_id, enabled);

CREATE TABLE IF NOT EXISTS action_counters (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	uapk_id TEXT NOT NULL,
	counter_date TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	UNIQUE (org_id, uapk_id, counter_date)
);

CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	approval_id TEXT NOT NULL UNIQUE,
	org_id TEXT NOT NULL,
	interaction_id TEXT,
	uapk_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	action TEXT NOT NULL,
	counterparty TEXT,
	context TEXT,
	reason_codes TEXT,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME,
	decided_at DATETIME,
	decided_by TEXT,
	decision_notes TEXT,
	override_token_hash TEXT,
	action_hash TEXT,
	override_token_expires_at DATETIME,
	override_token_used_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_approvals_org_status ON approvals (org_id, status, uapk_id);

CREATE TABLE IF NOT EXISTS used_override_tokens (
	token_hash TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	approval_id TEXT NOT NULL,
	action_hash TEXT NOT NULL,
	used_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS interaction_records (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id TEXT NOT NULL UNIQUE,
	org_id TEXT NOT NULL,
	uapk_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	tool TEXT NOT NULL,
	request_hash TEXT NOT NULL,
	decision TEXT NOT NULL,
	reasons_json TEXT NOT NULL,
	policy_trace_json TEXT NOT NULL,
	result_hash TEXT,
	previous_record_hash TEXT,
	created_at DATETIME NOT NULL,
	request TEXT,
	result TEXT,
	risk_snapshot_json TEXT,
	decision_reason TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	capability_token_id TEXT,
	record_hash TEXT NOT NULL,
	gateway_signature TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_org_uapk ON interaction_records (org_id, uapk_id, created_at, seq);

CREATE TABLE IF NOT EXISTS secrets (
	id TEXT PRIMARY KEY,
	org_id TEXT NOT NULL,
	name TEXT NOT NULL,
	encrypted_value TEXT NOT NULL,
	description TEXT,
	created_by_user_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (org_id, name)
);

CREATE TABLE IF NOT EXISTS organizations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	user_id TEXT NOT NULL REFERENCES users(id),
	role TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (organization_id, user_id)
);

CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	name TEXT NOT NULL,
	key_prefix TEXT NOT NULL,
	key_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	revoked_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);
`

// Migrate creates every table this package's stores need, idempotently.
// Call it once against a fresh *sql.DB before constructing any store below.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err came from a UNIQUE/PRIMARY KEY
// constraint, modernc.org/sqlite's error text for both being identical in
// shape ("UNIQUE constraint failed: <table>.<column>").
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalJSON(data string, v interface{}) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

func joinCSV(items []string) string {
	return strings.Join(items, ",")
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}
