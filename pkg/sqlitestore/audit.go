package sqlitestore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// AuditStore persists audit.Store rows in SQLite's `interaction_records`
// table. The autoincrement `seq` column gives a total order per chain even
// when two records share a created_at timestamp at second resolution.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Insert(r *domain.InteractionRecord) error {
	reasons, err := marshalJSON(r.ReasonsJSON)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal reasons: %w", err)
	}
	trace, err := marshalJSON(r.PolicyTraceJSON)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal policy trace: %w", err)
	}
	request, err := marshalJSON(r.Request)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal request: %w", err)
	}
	result, err := marshalJSON(r.Result)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal result: %w", err)
	}
	risk, err := marshalJSON(r.RiskSnapshotJSON)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal risk snapshot: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO interaction_records (record_id, org_id, uapk_id, agent_id, action_type, tool,
			request_hash, decision, reasons_json, policy_trace_json, result_hash,
			previous_record_hash, created_at, request, result, risk_snapshot_json,
			decision_reason, duration_ms, capability_token_id, record_hash, gateway_signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RecordID, r.OrgID, r.UAPKID, r.AgentID, r.ActionType, r.Tool, r.RequestHash,
		r.Decision, reasons, trace, r.ResultHash, r.PreviousRecordHash, r.CreatedAt,
		request, result, risk, r.DecisionReason, r.DurationMs, r.CapabilityTokenID,
		r.RecordHash, r.GatewaySignature)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert interaction record: %w", err)
	}
	return nil
}

func (s *AuditStore) LastForChain(orgID, uapkID string) (*domain.InteractionRecord, error) {
	row := s.db.QueryRow(recordSelect+`
		WHERE org_id = ? AND uapk_id = ? ORDER BY created_at DESC, seq DESC LIMIT 1`, orgID, uapkID)
	r, err := scanRecordRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: scan interaction record: %w", err)
	}
	return r, nil
}

func (s *AuditStore) ListChain(orgID, uapkID string, from, to *time.Time) ([]*domain.InteractionRecord, error) {
	query := recordSelect + `WHERE org_id = ? AND uapk_id = ?`
	args := []interface{}{orgID, uapkID}
	if from != nil {
		query += ` AND created_at >= ?`
		args = append(args, *from)
	}
	if to != nil {
		query += ` AND created_at <= ?`
		args = append(args, *to)
	}
	query += ` ORDER BY created_at ASC, seq ASC`
	return s.queryRecords(query, args...)
}

func (s *AuditStore) Get(orgID, recordID string) (*domain.InteractionRecord, error) {
	row := s.db.QueryRow(recordSelect+`WHERE org_id = ? AND record_id = ?`, orgID, recordID)
	r, err := scanRecordRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: scan interaction record: %w", err)
	}
	return r, nil
}

func (s *AuditStore) ListOrg(orgID string, from, to *time.Time) ([]*domain.InteractionRecord, error) {
	query := recordSelect + `WHERE org_id = ?`
	args := []interface{}{orgID}
	if from != nil {
		query += ` AND created_at >= ?`
		args = append(args, *from)
	}
	if to != nil {
		query += ` AND created_at <= ?`
		args = append(args, *to)
	}
	query += ` ORDER BY created_at ASC, seq ASC`
	return s.queryRecords(query, args...)
}

func (s *AuditStore) queryRecords(query string, args ...interface{}) ([]*domain.InteractionRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query interaction records: %w", err)
	}
	defer rows.Close()

	var out []*domain.InteractionRecord
	for rows.Next() {
		r, err := scanRecordRow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan interaction record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const recordSelect = `
	SELECT record_id, org_id, uapk_id, agent_id, action_type, tool, request_hash, decision,
		reasons_json, policy_trace_json, result_hash, previous_record_hash, created_at,
		request, result, risk_snapshot_json, decision_reason, duration_ms, capability_token_id,
		record_hash, gateway_signature
	FROM interaction_records `

func scanRecordRow(r rowScanner) (*domain.InteractionRecord, error) {
	var rec domain.InteractionRecord
	var resultHash, prevHash, decisionReason, tokenID sql.NullString
	var reasons, trace, request, result, risk sql.NullString

	if err := r.Scan(&rec.RecordID, &rec.OrgID, &rec.UAPKID, &rec.AgentID, &rec.ActionType,
		&rec.Tool, &rec.RequestHash, &rec.Decision, &reasons, &trace, &resultHash, &prevHash,
		&rec.CreatedAt, &request, &result, &risk, &decisionReason, &rec.DurationMs, &tokenID,
		&rec.RecordHash, &rec.GatewaySignature); err != nil {
		return nil, err
	}
	rec.ResultHash = resultHash.String
	rec.PreviousRecordHash = prevHash.String
	rec.DecisionReason = decisionReason.String
	rec.CapabilityTokenID = tokenID.String

	if err := unmarshalJSON(reasons.String, &rec.ReasonsJSON); err != nil {
		return nil, fmt.Errorf("unmarshal reasons_json: %w", err)
	}
	if err := unmarshalJSON(trace.String, &rec.PolicyTraceJSON); err != nil {
		return nil, fmt.Errorf("unmarshal policy_trace_json: %w", err)
	}
	if err := unmarshalJSON(request.String, &rec.Request); err != nil {
		return nil, fmt.Errorf("unmarshal request: %w", err)
	}
	if result.Valid && result.String != "" {
		if err := unmarshalJSON(result.String, &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if risk.Valid && risk.String != "" {
		if err := unmarshalJSON(risk.String, &rec.RiskSnapshotJSON); err != nil {
			return nil, fmt.Errorf("unmarshal risk_snapshot_json: %w", err)
		}
	}
	return &rec, nil
}
