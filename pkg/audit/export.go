package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// ManifestLookup is the narrow view of the manifest store an export needs,
// to emit the optional "manifest" line.
type ManifestLookup interface {
	Get(orgID, manifestID string) (*domain.Manifest, error)
	GetByUAPKID(orgID, uapkID string) (*domain.Manifest, error)
}

type metadataLine struct {
	Type               string        `json:"type"`
	ExportID           string        `json:"export_id"`
	ExportedAt         string        `json:"exported_at"`
	UAPKID             string        `json:"uapk_id"`
	OrgID              string        `json:"org_id"`
	RecordCount        int           `json:"record_count"`
	ChainValid         bool          `json:"chain_valid"`
	VerificationErrors []VerifyError `json:"verification_errors"`
}

type manifestLine struct {
	Type         string    `json:"type"`
	UAPKID       string    `json:"uapk_id"`
	Version      string    `json:"version"`
	ManifestHash string    `json:"manifest_hash"`
	Status       string    `json:"status"`
	ManifestJSON any       `json:"manifest_json"`
	CreatedAt    time.Time `json:"created_at"`
}

type recordLine struct {
	Type               string                 `json:"type"`
	RecordID           string                 `json:"record_id"`
	OrgID              string                 `json:"org_id"`
	UAPKID             string                 `json:"uapk_id"`
	AgentID            string                 `json:"agent_id"`
	ActionType         string                 `json:"action_type"`
	Tool               string                 `json:"tool"`
	RequestHash        string                 `json:"request_hash"`
	Decision           domain.Decision        `json:"decision"`
	ReasonsJSON        []domain.Reason        `json:"reasons_json"`
	PolicyTraceJSON    domain.PolicyTrace     `json:"policy_trace_json"`
	ResultHash         string                 `json:"result_hash,omitempty"`
	PreviousRecordHash string                 `json:"previous_record_hash,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	Request            map[string]interface{} `json:"request"`
	Result             map[string]interface{} `json:"result,omitempty"`
	RecordHash         string                 `json:"record_hash"`
	GatewaySignature   string                 `json:"gateway_signature"`
}

// Exporter streams a chain's records as JSONL (spec §6's export/jsonl
// route): one metadata line, an optional manifest line, then one record
// line per InteractionRecord in chain order.
type Exporter struct {
	engine    *Engine
	manifests ManifestLookup
}

func NewExporter(engine *Engine, manifests ManifestLookup) *Exporter {
	return &Exporter{engine: engine, manifests: manifests}
}

// WriteJSONL verifies the chain and streams it to w. The metadata line
// always carries the verification outcome, so a corrupted chain is still
// exportable for forensic inspection.
func (ex *Exporter) WriteJSONL(w io.Writer, orgID, uapkID string, from, to *time.Time) error {
	report, err := ex.engine.Verify(orgID, uapkID, from, to)
	if err != nil {
		return fmt.Errorf("audit: verify before export: %w", err)
	}
	records, err := ex.engine.store.ListChain(orgID, uapkID, from, to)
	if err != nil {
		return fmt.Errorf("audit: list chain for export: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	if err := enc.Encode(metadataLine{
		Type:               "metadata",
		ExportID:           "export-" + uuid.New().String(),
		ExportedAt:         time.Now().UTC().Format(time.RFC3339),
		UAPKID:             uapkID,
		OrgID:              orgID,
		RecordCount:        report.RecordCount,
		ChainValid:         report.IsValid,
		VerificationErrors: report.Errors,
	}); err != nil {
		return err
	}

	if ex.manifests != nil {
		if m, err := ex.manifests.GetByUAPKID(orgID, uapkID); err == nil && m != nil {
			if err := enc.Encode(manifestLine{
				Type: "manifest", UAPKID: m.UAPKID, Version: m.Version,
				ManifestHash: m.ManifestHash, Status: string(m.Status),
				ManifestJSON: m.ManifestJSON, CreatedAt: m.CreatedAt,
			}); err != nil {
				return err
			}
		}
	}

	for _, r := range records {
		if err := enc.Encode(recordLine{
			Type: "record", RecordID: r.RecordID, OrgID: r.OrgID, UAPKID: r.UAPKID,
			AgentID: r.AgentID, ActionType: r.ActionType, Tool: r.Tool,
			RequestHash: r.RequestHash, Decision: r.Decision, ReasonsJSON: r.ReasonsJSON,
			PolicyTraceJSON: r.PolicyTraceJSON, ResultHash: r.ResultHash,
			PreviousRecordHash: r.PreviousRecordHash, CreatedAt: r.CreatedAt,
			Request: r.Request, Result: r.Result,
			RecordHash: r.RecordHash, GatewaySignature: r.GatewaySignature,
		}); err != nil {
			return err
		}
	}
	return bw.Flush()
}
