package sqlitestore

import (
	"database/sql"
	"fmt"

	"github.com/amakua/uapk-gateway/pkg/approval"
	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

// ApprovalStore persists approval.Store rows in SQLite, across the
// `approvals` and `used_override_tokens` tables.
type ApprovalStore struct {
	db *sql.DB
}

func NewApprovalStore(db *sql.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

func (s *ApprovalStore) Insert(a *domain.Approval) error {
	action, err := marshalJSON(a.Action)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal approval action: %w", err)
	}
	context, err := marshalJSON(a.Context)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal approval context: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO approvals (id, approval_id, org_id, interaction_id, uapk_id, agent_id,
			action, counterparty, context, reason_codes, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ApprovalID, a.OrgID, a.InteractionID, a.UAPKID, a.AgentID, action,
		a.Counterparty, context, joinCSV(a.ReasonCodes), a.Status, a.CreatedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Get(orgID, approvalID string) (*domain.Approval, error) {
	row := s.db.QueryRow(approvalSelect+`WHERE org_id = ? AND approval_id = ?`, orgID, approvalID)
	a, err := scanApprovalRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: scan approval: %w", err)
	}
	return a, nil
}

func (s *ApprovalStore) List(orgID string, statusFilter domain.ApprovalStatus, uapkID string, limit, offset int) ([]*domain.Approval, int, error) {
	query := approvalSelect + `WHERE org_id = ?`
	args := []interface{}{orgID}
	if statusFilter != "" {
		query += ` AND status = ?`
		args = append(args, statusFilter)
	}
	if uapkID != "" {
		query += ` AND uapk_id = ?`
		args = append(args, uapkID)
	}

	var total int
	if err := s.db.QueryRow(`SELECT count(*) FROM (`+query+`)`, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlitestore: count approvals: %w", err)
	}

	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlitestore: list approvals: %w", err)
	}
	defer rows.Close()

	var out []*domain.Approval
	for rows.Next() {
		a, err := scanApprovalRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlitestore: scan approval: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *ApprovalStore) Update(a *domain.Approval) error {
	_, err := s.db.Exec(`
		UPDATE approvals SET interaction_id = ?, status = ?, decided_at = ?, decided_by = ?,
			decision_notes = ?, override_token_hash = ?, action_hash = ?,
			override_token_expires_at = ?, override_token_used_at = ?, reason_codes = ?
		WHERE org_id = ? AND approval_id = ?`,
		a.InteractionID, a.Status, a.DecidedAt, a.DecidedBy, a.DecisionNotes,
		a.OverrideTokenHash, a.ActionHash, a.OverrideTokenExpiresAt, a.OverrideTokenUsedAt,
		joinCSV(a.ReasonCodes), a.OrgID, a.ApprovalID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Stats(orgID string) (approval.Stats, error) {
	var st approval.Stats
	row := s.db.QueryRow(`
		SELECT
			sum(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			sum(CASE WHEN status = 'approved' THEN 1 ELSE 0 END),
			sum(CASE WHEN status = 'denied' THEN 1 ELSE 0 END),
			sum(CASE WHEN status = 'expired' THEN 1 ELSE 0 END),
			count(*)
		FROM approvals WHERE org_id = ?`, orgID)
	var pending, approved, denied, expired sql.NullInt64
	if err := row.Scan(&pending, &approved, &denied, &expired, &st.Total); err != nil {
		return approval.Stats{}, fmt.Errorf("sqlitestore: approval stats: %w", err)
	}
	st.Pending, st.Approved, st.Denied, st.Expired = int(pending.Int64), int(approved.Int64), int(denied.Int64), int(expired.Int64)
	return st, nil
}

func (s *ApprovalStore) InsertUsedToken(t *domain.UsedOverrideToken) error {
	_, err := s.db.Exec(`
		INSERT INTO used_override_tokens (token_hash, org_id, approval_id, action_hash, used_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.TokenHash, t.OrgID, t.ApprovalID, t.ActionHash, t.UsedAt, t.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return gwerr.New(gwerr.Conflict, gwerr.CodeOverrideTokenReused,
				"override token has already been redeemed")
		}
		return fmt.Errorf("sqlitestore: insert used override token: %w", err)
	}
	return nil
}

const approvalSelect = `
	SELECT id, approval_id, org_id, interaction_id, uapk_id, agent_id, action, counterparty,
		context, reason_codes, status, created_at, expires_at, decided_at, decided_by,
		decision_notes, override_token_hash, action_hash, override_token_expires_at,
		override_token_used_at
	FROM approvals `

func scanApprovalRow(r rowScanner) (*domain.Approval, error) {
	var a domain.Approval
	var interactionID, counterparty, decidedBy, notes, tokenHash, actionHash, reasonCodes sql.NullString
	var context, action sql.NullString
	var expiresAt, decidedAt, overrideExpiresAt, overrideUsedAt sql.NullTime

	if err := r.Scan(&a.ID, &a.ApprovalID, &a.OrgID, &interactionID, &a.UAPKID, &a.AgentID,
		&action, &counterparty, &context, &reasonCodes, &a.Status, &a.CreatedAt, &expiresAt,
		&decidedAt, &decidedBy, &notes, &tokenHash, &actionHash, &overrideExpiresAt, &overrideUsedAt); err != nil {
		return nil, err
	}
	a.InteractionID = interactionID.String
	a.Counterparty = counterparty.String
	a.DecidedBy = decidedBy.String
	a.DecisionNotes = notes.String
	a.OverrideTokenHash = tokenHash.String
	a.ActionHash = actionHash.String
	a.ReasonCodes = splitCSV(reasonCodes.String)
	if expiresAt.Valid {
		a.ExpiresAt = &expiresAt.Time
	}
	if decidedAt.Valid {
		a.DecidedAt = &decidedAt.Time
	}
	if overrideExpiresAt.Valid {
		a.OverrideTokenExpiresAt = &overrideExpiresAt.Time
	}
	if overrideUsedAt.Valid {
		a.OverrideTokenUsedAt = &overrideUsedAt.Time
	}
	if err := unmarshalJSON(action.String, &a.Action); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	if err := unmarshalJSON(context.String, &a.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return &a, nil
}
