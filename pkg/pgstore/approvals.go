package pgstore

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/amakua/uapk-gateway/pkg/approval"
	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

// ApprovalStore persists approval.Store rows across `approvals` and
// `used_override_tokens` tables.
type ApprovalStore struct {
	db *sql.DB
}

func NewApprovalStore(db *sql.DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

func (s *ApprovalStore) Insert(a *domain.Approval) error {
	action, err := marshalJSON(a.Action)
	if err != nil {
		return fmt.Errorf("pgstore: marshal approval action: %w", err)
	}
	context, err := marshalJSON(a.Context)
	if err != nil {
		return fmt.Errorf("pgstore: marshal approval context: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO approvals (id, approval_id, org_id, interaction_id, uapk_id, agent_id,
			action, counterparty, context, reason_codes, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.ApprovalID, a.OrgID, a.InteractionID, a.UAPKID, a.AgentID, action,
		a.Counterparty, context, pq.StringArray(a.ReasonCodes), a.Status, a.CreatedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("pgstore: insert approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Get(orgID, approvalID string) (*domain.Approval, error) {
	row := s.db.QueryRow(approvalSelect+`WHERE org_id = $1 AND approval_id = $2`, orgID, approvalID)
	a, err := scanApprovalRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan approval: %w", err)
	}
	return a, nil
}

func (s *ApprovalStore) List(orgID string, statusFilter domain.ApprovalStatus, uapkID string, limit, offset int) ([]*domain.Approval, int, error) {
	query := approvalSelect + `WHERE org_id = $1`
	args := []interface{}{orgID}
	if statusFilter != "" {
		args = append(args, statusFilter)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if uapkID != "" {
		args = append(args, uapkID)
		query += fmt.Sprintf(` AND uapk_id = $%d`, len(args))
	}

	var total int
	countQuery := `SELECT count(*) FROM (` + query + `) t`
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgstore: count approvals: %w", err)
	}

	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
		args = append(args, offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgstore: list approvals: %w", err)
	}
	defer rows.Close()

	var out []*domain.Approval
	for rows.Next() {
		a, err := scanApprovalRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("pgstore: scan approval: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *ApprovalStore) Update(a *domain.Approval) error {
	_, err := s.db.Exec(`
		UPDATE approvals SET interaction_id = $1, status = $2, decided_at = $3, decided_by = $4,
			decision_notes = $5, override_token_hash = $6, action_hash = $7,
			override_token_expires_at = $8, override_token_used_at = $9, reason_codes = $10
		WHERE org_id = $11 AND approval_id = $12`,
		a.InteractionID, a.Status, a.DecidedAt, a.DecidedBy, a.DecisionNotes,
		a.OverrideTokenHash, a.ActionHash, a.OverrideTokenExpiresAt, a.OverrideTokenUsedAt,
		pq.StringArray(a.ReasonCodes), a.OrgID, a.ApprovalID)
	if err != nil {
		return fmt.Errorf("pgstore: update approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Stats(orgID string) (approval.Stats, error) {
	var st approval.Stats
	row := s.db.QueryRow(`
		SELECT count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'approved'),
			count(*) FILTER (WHERE status = 'denied'),
			count(*) FILTER (WHERE status = 'expired'),
			count(*)
		FROM approvals WHERE org_id = $1`, orgID)
	if err := row.Scan(&st.Pending, &st.Approved, &st.Denied, &st.Expired, &st.Total); err != nil {
		return approval.Stats{}, fmt.Errorf("pgstore: approval stats: %w", err)
	}
	return st, nil
}

// InsertUsedToken relies on used_override_tokens.token_hash being the
// primary key: a duplicate insert violates it and is reported as
// gwerr.CodeOverrideTokenReused, the single-use guarantee spec §4.J needs.
func (s *ApprovalStore) InsertUsedToken(t *domain.UsedOverrideToken) error {
	_, err := s.db.Exec(`
		INSERT INTO used_override_tokens (token_hash, org_id, approval_id, action_hash, used_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.TokenHash, t.OrgID, t.ApprovalID, t.ActionHash, t.UsedAt, t.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return gwerr.New(gwerr.Conflict, gwerr.CodeOverrideTokenReused,
				"override token has already been redeemed")
		}
		return fmt.Errorf("pgstore: insert used override token: %w", err)
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
	var interactionID, counterparty, decidedBy, notes, tokenHash, actionHash sql.NullString
	var context []byte
	var reasonCodes pq.StringArray
	var expiresAt, decidedAt, overrideExpiresAt, overrideUsedAt sql.NullTime
	var action []byte

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
	a.ReasonCodes = []string(reasonCodes)
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
	if err := unmarshalJSON(action, &a.Action); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	if err := unmarshalJSON(context, &a.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return &a, nil
}
