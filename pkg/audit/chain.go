// Package audit implements the gateway's audit-record engine (spec §4.D): a
// per-(org_id, uapk_id) hash chain of InteractionRecords, each sealed with a
// SHA-256 hash over its canonical hashable subset and an EdDSA signature over
// that hash. Chain insertion is strictly serialized per chain; verification
// walks a chain recomputing hashes and signatures end to end.
package audit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/canonicalize"
	"github.com/amakua/uapk-gateway/pkg/crypto"
	"github.com/amakua/uapk-gateway/pkg/domain"
)

// Store persists InteractionRecords. Implementations must serialize Insert
// per (org_id, uapk_id) chain, e.g. via a row lock on the chain's last
// record, so previous_record_hash never observes a stale value.
type Store interface {
	Insert(r *domain.InteractionRecord) error
	LastForChain(orgID, uapkID string) (*domain.InteractionRecord, error)
	ListChain(orgID, uapkID string, from, to *time.Time) ([]*domain.InteractionRecord, error)
	Get(orgID, recordID string) (*domain.InteractionRecord, error)
	ListOrg(orgID string, from, to *time.Time) ([]*domain.InteractionRecord, error)
}

// SealParams is everything the pipeline has gathered by the time a decision
// is reached and a record must be written.
type SealParams struct {
	OrgID             string
	UAPKID            string
	AgentID           string
	ActionType        string
	Tool              string
	Request           map[string]interface{}
	Result            map[string]interface{}
	Decision          domain.Decision
	DecisionReason    string
	Reasons           []domain.Reason
	PolicyTrace       domain.PolicyTrace
	RiskSnapshot      map[string]interface{}
	DurationMs        int64
	CapabilityTokenID string
}

// Engine seals new records onto chains and verifies existing ones.
type Engine struct {
	store Store
	keys  *crypto.KeyRing
	mu    sync.Mutex // serializes Seal across all chains; fine-grained per-chain locking belongs to Store in a real backend
}

func NewEngine(store Store, keys *crypto.KeyRing) *Engine {
	return &Engine{store: store, keys: keys}
}

// Seal composes, hashes, signs, and persists one InteractionRecord (spec
// §4.D steps 1-5). created_at is captured before hashing so it participates
// in the hashable subset exactly once.
func (e *Engine) Seal(p SealParams) (*domain.InteractionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	requestHash, err := canonicalize.CanonicalHash(p.Request)
	if err != nil {
		return nil, fmt.Errorf("audit: hash request: %w", err)
	}
	var resultHash string
	if p.Result != nil {
		resultHash, err = canonicalize.CanonicalHash(p.Result)
		if err != nil {
			return nil, fmt.Errorf("audit: hash result: %w", err)
		}
	}

	prev, err := e.store.LastForChain(p.OrgID, p.UAPKID)
	if err != nil {
		return nil, fmt.Errorf("audit: read chain tail: %w", err)
	}
	var previousRecordHash string
	if prev != nil {
		previousRecordHash = prev.RecordHash
	}

	now := time.Now().UTC()
	createdAt := canonicalize.NormalizeTimestamp(now)

	record := &domain.InteractionRecord{
		RecordID:           "ir-" + uuid.New().String(),
		OrgID:              p.OrgID,
		UAPKID:             p.UAPKID,
		AgentID:            p.AgentID,
		ActionType:         p.ActionType,
		Tool:               p.Tool,
		RequestHash:        requestHash,
		Decision:           p.Decision,
		ReasonsJSON:        p.Reasons,
		PolicyTraceJSON:    p.PolicyTrace,
		ResultHash:         resultHash,
		PreviousRecordHash: previousRecordHash,
		CreatedAt:          now,
		Request:            p.Request,
		Result:             p.Result,
		RiskSnapshotJSON:   p.RiskSnapshot,
		DecisionReason:     p.DecisionReason,
		DurationMs:         p.DurationMs,
		CapabilityTokenID:  p.CapabilityTokenID,
	}

	hashableJSON := record.Hashable(createdAt)
	recordHash, err := canonicalize.CanonicalHash(hashableJSON)
	if err != nil {
		return nil, fmt.Errorf("audit: hash record: %w", err)
	}
	record.RecordHash = recordHash

	sigHex, _, err := e.keys.Sign([]byte(recordHash))
	if err != nil {
		return nil, fmt.Errorf("audit: sign record: %w", err)
	}
	record.GatewaySignature = sigHex

	if err := e.store.Insert(record); err != nil {
		return nil, fmt.Errorf("audit: insert record: %w", err)
	}
	return record, nil
}

// VerifyError describes one chain-integrity violation found during Verify.
type VerifyError struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// VerifyReport is the result of walking a chain (spec §4.D verify()).
type VerifyReport struct {
	IsValid     bool          `json:"is_valid"`
	Errors      []VerifyError `json:"errors"`
	RecordCount int           `json:"record_count"`
	FirstRecord string        `json:"first_record_id,omitempty"`
	LastRecord  string        `json:"last_record_id,omitempty"`
}

// Verify walks a chain in created_at order (ties by record_id) checking
// previous_record_hash continuity against the recomputed hash of the
// preceding record, record_hash recomputation, and the gateway_signature
// over each stored hash.
func (e *Engine) Verify(orgID, uapkID string, from, to *time.Time) (*VerifyReport, error) {
	records, err := e.store.ListChain(orgID, uapkID, from, to)
	if err != nil {
		return nil, fmt.Errorf("audit: list chain: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].RecordID < records[j].RecordID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	report := &VerifyReport{IsValid: true, RecordCount: len(records)}
	if len(records) == 0 {
		return report, nil
	}
	report.FirstRecord = records[0].RecordID
	report.LastRecord = records[len(records)-1].RecordID

	var prevHash string
	for i, r := range records {
		if i == 0 {
			if r.PreviousRecordHash != "" {
				report.IsValid = false
				report.Errors = append(report.Errors, VerifyError{r.RecordID, "previous_record_hash must be empty for the first record in the chain"})
			}
		} else if r.PreviousRecordHash != prevHash {
			report.IsValid = false
			report.Errors = append(report.Errors, VerifyError{r.RecordID, "previous_record_hash mismatch"})
		}

		createdAt := canonicalize.NormalizeTimestamp(r.CreatedAt)
		recomputed, err := canonicalize.CanonicalHash(r.Hashable(createdAt))
		if err != nil {
			report.IsValid = false
			report.Errors = append(report.Errors, VerifyError{r.RecordID, fmt.Sprintf("failed to recompute record_hash: %v", err)})
			prevHash = r.RecordHash
			continue
		}
		if recomputed != r.RecordHash {
			report.IsValid = false
			report.Errors = append(report.Errors, VerifyError{r.RecordID, "record_hash mismatch"})
		}

		if !e.verifySignature(r.RecordHash, r.GatewaySignature) {
			report.IsValid = false
			report.Errors = append(report.Errors, VerifyError{r.RecordID, "gateway_signature does not verify"})
		}

		prevHash = recomputed
	}
	return report, nil
}

// verifySignature checks a record's gateway_signature against the active
// key, falling back to the full keyring so records signed before the most
// recent rotation still verify.
func (e *Engine) verifySignature(recordHash, sig string) bool {
	if id := e.keys.ActiveKeyID(); id != "" {
		if ok, err := e.keys.VerifyKey(id, []byte(recordHash), sig); err == nil && ok {
			return true
		}
	}
	for _, kid := range e.keys.KnownKeyIDs() {
		if ok, err := e.keys.VerifyKey(kid, []byte(recordHash), sig); err == nil && ok {
			return true
		}
	}
	return false
}
