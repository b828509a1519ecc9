// Package gateway wires every other package into the action admission
// pipeline (spec §4.K): parse the bearer, validate it against the store,
// redeem an override if one is presented, gate and evaluate policy, check
// the daily budget, fuse a decision, dispatch to a connector when approved,
// and seal exactly one tamper-evident record for the attempt. It is the one
// package that imports captoken, policy, budget, approval, connector,
// secret, and audit together; none of those packages import it back.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/amakua/uapk-gateway/pkg/approval"
	"github.com/amakua/uapk-gateway/pkg/audit"
	"github.com/amakua/uapk-gateway/pkg/budget"
	"github.com/amakua/uapk-gateway/pkg/captoken"
	"github.com/amakua/uapk-gateway/pkg/connector"
	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
	"github.com/amakua/uapk-gateway/pkg/manifest"
	"github.com/amakua/uapk-gateway/pkg/observability"
	"github.com/amakua/uapk-gateway/pkg/policy"
	"github.com/amakua/uapk-gateway/pkg/secret"
)

// ManifestLookup is the narrow view of pkg/manifeststore the pipeline needs:
// the manifest currently linked to a UAPK, for the manifest_check trace step
// and for the daily budget limit it declares.
type ManifestLookup interface {
	GetByUAPKID(orgID, uapkID string) (*domain.Manifest, error)
}

// ToolBinding is the resolved connector configuration and secret names for
// one (org, action_type, tool) triple, typically read from the manifest's
// or org's tool registry.
type ToolBinding struct {
	Config      connector.Config
	SecretNames []string

	// ArgsSchema and OutputSchema, when set, enforce the PEP boundary around
	// the connector call: parameters are rejected before dispatch if they
	// don't match the tool's declared contract, and the connector's own
	// output is rejected if it drifts from what the contract promised.
	// Either may be nil to skip that side of the check.
	ArgsSchema   *manifest.ToolArgSchema
	OutputSchema *manifest.ToolOutputSchema
}

// ConnectorConfigLookup resolves a tool invocation to a connector binding.
// A nil binding with a nil error means no connector is configured for the
// tool; dispatch then reports a CONNECTOR-kind failure in the result without
// changing the decision (spec §7: connector failures never flip approved).
type ConnectorConfigLookup interface {
	Lookup(orgID, actionType, tool string) (*ToolBinding, error)
}

// ActionRequest is one agent's admission request (spec §6 POST /actions).
type ActionRequest struct {
	ActionType     string
	Tool           string
	Parameters     map[string]interface{}
	Context        map[string]interface{}
	Counterparty   string
	IdempotencyKey string
}

// actionString renders "action_type:tool".
func (r ActionRequest) actionString() string {
	return r.ActionType + ":" + r.Tool
}

// envelope is the stable action shape hashed for approval action_hash and
// override redemption comparison — built only from fields an idempotent
// retry would resubmit unchanged.
func (r ActionRequest) envelope() map[string]interface{} {
	return map[string]interface{}{
		"action":     r.actionString(),
		"parameters": r.Parameters,
	}
}

// Response is the gateway endpoint's result (spec §4.K step 10).
type Response struct {
	RecordID          string
	Decision          domain.Decision
	DecisionReason    string
	PolicyEvaluations []domain.Check
	Result            map[string]interface{}
	ApprovalID        string
	Timestamp         time.Time
	DurationMs        int64
}

// Pipeline holds every collaborator the admission algorithm needs.
type Pipeline struct {
	Tokens          captoken.Store
	Codec           *captoken.Codec
	Manifests       ManifestLookup
	Policy          *policy.Engine
	Budget          *budget.Checker
	Approvals       *approval.Service
	Connectors      *connector.Registry
	ConnectorLookup ConnectorConfigLookup
	Secrets         *secret.Resolver
	Audit           *audit.Engine

	// BudgetThresholdFraction triggers an early-warning "threshold_reached"
	// trace entry before the daily limit is actually exceeded. 0 disables it.
	BudgetThresholdFraction float64
	// ApprovalTTL bounds how long a require_approval escalation stays
	// pending before an opportunistic read expires it. 0 means no expiry.
	ApprovalTTL time.Duration

	// Observability emits a span event per admission step when set; nil
	// disables tracing entirely rather than requiring a no-op provider.
	Observability *observability.Provider
}

func NewPipeline(
	tokens captoken.Store,
	codec *captoken.Codec,
	manifests ManifestLookup,
	policyEngine *policy.Engine,
	budgetChecker *budget.Checker,
	approvals *approval.Service,
	connectors *connector.Registry,
	connectorLookup ConnectorConfigLookup,
	secrets *secret.Resolver,
	auditEngine *audit.Engine,
) *Pipeline {
	return &Pipeline{
		Tokens: tokens, Codec: codec, Manifests: manifests, Policy: policyEngine,
		Budget: budgetChecker, Approvals: approvals, Connectors: connectors,
		ConnectorLookup: connectorLookup, Secrets: secrets, Audit: auditEngine,
	}
}

// admission carries the state threaded through Process's steps so the
// final seal has everything it needs regardless of which step terminated.
type admission struct {
	start      time.Time
	orgID      string
	uapkID     string
	agentID    string
	tokenRowID string
	trace      domain.PolicyTrace
	reasons    []domain.Reason
}

func (a *admission) addCheck(c domain.Check) {
	a.trace.Checks = append(a.trace.Checks, c)
}

// finalize stamps the trace's timing fields just before it is sealed into
// a record; StartTime is fixed at Process's entry so it reflects the whole
// admission, not just the policy-evaluation slice of it.
func (a *admission) finalize() domain.PolicyTrace {
	a.trace.StartTime = a.start
	a.trace.EndTime = time.Now().UTC()
	a.trace.DurationMs = a.trace.EndTime.Sub(a.start).Milliseconds()
	return a.trace
}

func (a *admission) deny(code, message string) (*domain.Check, *domain.Reason) {
	check := domain.Check{Check: code, Result: domain.CheckFail, Details: message}
	reason := domain.Reason{Code: code, Message: message}
	return &check, &reason
}

// step emits a span event for one admission stage when tracing is enabled;
// a no-op otherwise, so call sites never branch on p.Observability directly.
func (p *Pipeline) step(ctx context.Context, orgID, uapkID, name string) {
	if p.Observability == nil {
		return
	}
	observability.AddSpanEvent(ctx, name, observability.PipelineStep(name, orgID, uapkID)...)
}

// Process runs the full admission algorithm (spec §4.K). bearer is the
// agent's capability token; overrideBearer, if non-empty, is presented
// alongside it to redeem a pending approval's human override.
func (p *Pipeline) Process(ctx context.Context, bearer, overrideBearer string, req ActionRequest) (resp *Response, err error) {
	start := time.Now()

	if p.Observability != nil {
		var end func(error)
		ctx, end = p.Observability.TrackOperation(ctx, "gateway.process")
		defer func() { end(err) }()
	}

	// Step 1: parse bearer.
	claims, err := p.Codec.Verify(bearer, captoken.KindCapability)
	if err != nil {
		// Unattributable: no org_id to chain a record under, so none is sealed.
		return nil, gwerr.Wrap(gwerr.Authentication, gwerr.CodeTokenInvalid, "invalid capability token", err)
	}

	a := &admission{start: start, orgID: claims.OrgID, uapkID: claims.UAPKID, agentID: claims.AgentID}
	p.step(ctx, a.orgID, a.uapkID, "token_parsed")

	// Step 2: validate token in the store.
	tok, err := p.Tokens.GetByTokenID(a.orgID, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("gateway: look up token: %w", err)
	}
	if tok == nil {
		return p.sealDenied(ctx, a, req, gwerr.CodeTokenInvalid, "capability token not recognized")
	}
	a.tokenRowID = tok.ID
	if code, msg := classifyTokenInvalid(tok, time.Now().UTC()); code != "" {
		return p.sealDenied(ctx, a, req, code, msg)
	}

	// Step 3: override redemption, if presented, bypasses the capability
	// gate, policy evaluation, and budget check entirely.
	if overrideBearer != "" {
		claims, err := p.Approvals.Redeem(approval.RedeemParams{
			OrgID: a.orgID, TokenString: overrideBearer, InboundAction: req.envelope(),
		})
		if err != nil {
			var code string
			if de, ok := err.(*gwerr.Error); ok {
				code = de.Code
			} else {
				code = gwerr.CodeOverrideTokenMismatch
			}
			return p.sealDenied(ctx, a, req, code, err.Error())
		}
		resp, err := p.dispatchAndSeal(ctx, a, req, domain.DecisionApproved, gwerr.CodeOverrideRedeemed, "", tok)
		if err != nil {
			return nil, err
		}
		if resp.RecordID != "" {
			_ = p.Approvals.LinkInteraction(a.orgID, claims.ApprovalID, resp.RecordID)
		}
		return resp, nil
	}

	// manifest_check: the linked manifest must still be active.
	manifest, err := p.Manifests.GetByUAPKID(a.orgID, a.uapkID)
	if err != nil {
		return nil, fmt.Errorf("gateway: look up manifest: %w", err)
	}
	if manifest == nil {
		check, reason := a.deny(gwerr.CodeManifestNotFound, "no manifest is linked to this agent")
		a.addCheck(*check)
		a.reasons = append(a.reasons, *reason)
		return p.sealTracedDenial(ctx, a, req, reason.Message, tok)
	}
	if manifest.Status != domain.ManifestActive {
		check, reason := a.deny(gwerr.CodeManifestNotActive, fmt.Sprintf("manifest is %q, not active", manifest.Status))
		a.addCheck(*check)
		a.reasons = append(a.reasons, *reason)
		return p.sealTracedDenial(ctx, a, req, reason.Message, tok)
	}
	a.addCheck(domain.Check{Check: "manifest_check", Result: domain.CheckPass})
	p.step(ctx, a.orgID, a.uapkID, "manifest_check")

	// Step 4: capability gate (pre-policy).
	preq := policyRequest(req, a.agentID)
	gateCheck, err := policy.CapabilityGate(preq, tok.Capabilities)
	a.addCheck(gateCheck)
	if err != nil {
		reason := domain.Reason{Code: gwerr.CodeActionNotInCapabilities, Message: gateCheck.Details}
		a.reasons = append(a.reasons, reason)
		return p.sealTracedDenial(ctx, a, req, reason.Message, tok)
	}

	// Token-level constraints (amount_max, jurisdictions, counterparty
	// allow/denylist) — narrower grants layered on top of the capability
	// itself (spec §3 CapabilityToken.constraints).
	if check, reason := evaluateTokenConstraints(tok.Constraints, preq); reason != nil {
		a.addCheck(*check)
		a.reasons = append(a.reasons, *reason)
		return p.sealTracedDenial(ctx, a, req, reason.Message, tok)
	}

	// Step 5: policy evaluation.
	result, err := p.Policy.Evaluate(a.orgID, preq)
	if err != nil {
		return nil, fmt.Errorf("gateway: evaluate policy: %w", err)
	}
	a.trace.Checks = append(a.trace.Checks, result.Checks...)
	a.reasons = append(a.reasons, result.Reasons...)
	p.step(ctx, a.orgID, a.uapkID, "policy_evaluation")

	if result.Decision == domain.PolicyDeny {
		return p.sealTracedDenial(ctx, a, req, lastReasonMessage(result.Reasons, "denied by policy"), tok)
	}

	// Step 6: budget, as an additional check.
	maxPerDay := 0
	if manifest.ManifestJSON.Constraints.MaxActionsPerDay > 0 {
		maxPerDay = manifest.ManifestJSON.Constraints.MaxActionsPerDay
	}
	budgetDecision, _, err := p.Budget.Evaluate(budget.CheckParams{
		OrgID: a.orgID, UAPKID: a.uapkID, MaxPerDay: maxPerDay, ThresholdFraction: p.BudgetThresholdFraction,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: evaluate budget: %w", err)
	}
	switch budgetDecision {
	case budget.DecisionExceeded:
		check, reason := a.deny(gwerr.CodeBudgetExceeded, "daily action budget exceeded")
		a.addCheck(*check)
		a.reasons = append(a.reasons, *reason)
		return p.sealTracedDenial(ctx, a, req, reason.Message, tok)
	case budget.DecisionThresholdReached:
		a.addCheck(domain.Check{Check: "budget_check", Result: domain.CheckEscalate, Details: "approaching daily budget"})
		a.reasons = append(a.reasons, domain.Reason{Code: gwerr.CodeBudgetThresholdReached, Message: "approaching daily budget"})
	default:
		a.addCheck(domain.Check{Check: "budget_check", Result: domain.CheckPass})
	}

	// Step 7: decision fusion.
	if result.Decision == domain.PolicyRequireApproval {
		appr, err := p.Approvals.Create(approval.CreateParams{
			OrgID: a.orgID, UAPKID: a.uapkID, AgentID: a.agentID,
			Action: req.envelope(), Counterparty: req.Counterparty, Context: req.Context,
			ReasonCodes: reasonCodes(result.Reasons), TTL: p.ApprovalTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("gateway: create approval: %w", err)
		}
		record, err := p.Audit.Seal(audit.SealParams{
			OrgID: a.orgID, UAPKID: a.uapkID, AgentID: a.agentID,
			ActionType: req.ActionType, Tool: req.Tool,
			Request: requestEnvelope(req), Decision: domain.DecisionPending,
			DecisionReason: lastReasonMessage(result.Reasons, "human approval required"),
			Reasons: a.reasons, PolicyTrace: a.finalize(),
			DurationMs: time.Since(a.start).Milliseconds(), CapabilityTokenID: a.tokenRowID,
		})
		if err != nil {
			return nil, fmt.Errorf("gateway: seal pending record: %w", err)
		}
		_ = p.Approvals.LinkInteraction(a.orgID, appr.ApprovalID, record.RecordID)
		return &Response{
			RecordID: record.RecordID, Decision: domain.DecisionPending,
			DecisionReason: record.DecisionReason, PolicyEvaluations: a.trace.Checks,
			ApprovalID: appr.ApprovalID, Timestamp: record.CreatedAt,
			DurationMs: record.DurationMs,
		}, nil
	}

	// Step 8-9: dispatch and seal on approved.
	return p.dispatchAndSeal(ctx, a, req, domain.DecisionApproved, gwerr.CodeAllChecksPassed, "all policy checks passed", tok)
}

// dispatchAndSeal instantiates the connector (when one is configured),
// resolves secrets, executes, and always seals a record — the common tail
// for both the normal approved path and an override redemption that skips
// straight here.
func (p *Pipeline) dispatchAndSeal(ctx context.Context, a *admission, req ActionRequest, decision domain.Decision, reasonCode, reasonMsg string, tok *domain.CapabilityToken) (*Response, error) {
	result := p.dispatch(ctx, a.orgID, req)

	if reasonMsg == "" {
		reasonMsg = reasonCode
	}
	reasons := a.reasons
	if len(reasons) == 0 {
		reasons = []domain.Reason{{Code: reasonCode, Message: reasonMsg}}
	}

	record, err := p.Audit.Seal(audit.SealParams{
		OrgID: a.orgID, UAPKID: a.uapkID, AgentID: a.agentID,
		ActionType: req.ActionType, Tool: req.Tool,
		Request: requestEnvelope(req), Result: resultMap(result),
		Decision: decision, DecisionReason: reasonMsg, Reasons: reasons,
		PolicyTrace: a.finalize(), DurationMs: time.Since(a.start).Milliseconds(),
		CapabilityTokenID: a.tokenRowID,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: seal approved record: %w", err)
	}

	// An override redemption skipped the capability/budget gate, so it
	// increments neither actions_used nor the daily budget counter.
	if decision == domain.DecisionApproved && reasonCode != gwerr.CodeOverrideRedeemed {
		if err := p.Tokens.IncrementActionsUsed(a.orgID, a.tokenRowID); err != nil {
			return nil, fmt.Errorf("gateway: increment actions_used: %w", err)
		}
		if err := p.Budget.Admit(a.orgID, a.uapkID); err != nil {
			return nil, fmt.Errorf("gateway: admit budget: %w", err)
		}
	}

	return &Response{
		RecordID: record.RecordID, Decision: decision, DecisionReason: reasonMsg,
		PolicyEvaluations: a.trace.Checks, Result: resultMap(result),
		Timestamp: record.CreatedAt, DurationMs: record.DurationMs,
	}, nil
}

// sealTracedDenial seals a deny decision that already accumulated trace
// checks and reasons (manifest/capability/token-constraint/policy/budget
// failures all flow through here).
func (p *Pipeline) sealTracedDenial(ctx context.Context, a *admission, req ActionRequest, reasonMsg string, tok *domain.CapabilityToken) (*Response, error) {
	record, err := p.Audit.Seal(audit.SealParams{
		OrgID: a.orgID, UAPKID: a.uapkID, AgentID: a.agentID,
		ActionType: req.ActionType, Tool: req.Tool,
		Request: requestEnvelope(req), Decision: domain.DecisionDenied,
		DecisionReason: reasonMsg, Reasons: a.reasons, PolicyTrace: a.finalize(),
		DurationMs: time.Since(a.start).Milliseconds(), CapabilityTokenID: a.tokenRowID,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: seal denied record: %w", err)
	}
	return &Response{
		RecordID: record.RecordID, Decision: domain.DecisionDenied, DecisionReason: reasonMsg,
		PolicyEvaluations: a.trace.Checks, Timestamp: record.CreatedAt, DurationMs: record.DurationMs,
	}, nil
}

// sealDenied is for denials discovered before any trace checks exist yet
// (token not found / revoked / expired / exhausted, bad override token).
func (p *Pipeline) sealDenied(ctx context.Context, a *admission, req ActionRequest, code, message string) (*Response, error) {
	a.reasons = []domain.Reason{{Code: code, Message: message}}
	return p.sealTracedDenial(ctx, a, req, message, nil)
}

func (p *Pipeline) dispatch(ctx context.Context, orgID string, req ActionRequest) connector.Result {
	if p.ConnectorLookup == nil {
		return connector.Result{Success: false, Error: &connector.ExecError{Code: gwerr.CodeUnknownError, Message: "no connector registry configured"}}
	}
	binding, err := p.ConnectorLookup.Lookup(orgID, req.ActionType, req.Tool)
	if err != nil {
		return connector.Result{Success: false, Error: &connector.ExecError{Code: gwerr.CodeUnknownError, Message: err.Error()}}
	}
	if binding == nil {
		return connector.Result{Success: false, Error: &connector.ExecError{Code: gwerr.CodeUnknownError, Message: "no connector configured for this tool"}}
	}

	if binding.ArgsSchema != nil {
		if _, err := manifest.ValidateAndCanonicalizeToolArgs(binding.ArgsSchema, req.Parameters); err != nil {
			return connector.Result{Success: false, Error: &connector.ExecError{Code: gwerr.CodeRequestError, Message: err.Error()}}
		}
	}

	cfg := binding.Config
	if len(binding.SecretNames) > 0 && p.Secrets != nil {
		secrets, err := p.Secrets.Resolve(orgID, binding.SecretNames)
		if err != nil {
			return connector.Result{Success: false, Error: &connector.ExecError{Code: gwerr.CodeUnknownError, Message: err.Error()}}
		}
		cfg.Secrets = secrets
	}

	conn, err := p.Connectors.Build(cfg)
	if err != nil {
		return connector.Result{Success: false, Error: &connector.ExecError{Code: gwerr.CodeUnknownError, Message: err.Error()}}
	}
	result := conn.Execute(ctx, req.Parameters)
	if p.Observability != nil {
		observability.AddSpanEvent(ctx, "connector_dispatch", observability.ConnectorDispatch(cfg.Type, req.actionString())...)
	}

	if result.Success && binding.OutputSchema != nil {
		if _, err := manifest.ValidateAndCanonicalizeToolOutput(binding.OutputSchema, result.Data); err != nil {
			return connector.Result{Success: false, Error: &connector.ExecError{Code: gwerr.CodeRequestError, Message: err.Error()}}
		}
	}
	return result
}

func classifyTokenInvalid(tok *domain.CapabilityToken, now time.Time) (string, string) {
	if tok.Revoked {
		return gwerr.CodeTokenRevoked, "capability token has been revoked"
	}
	if !now.Before(tok.ExpiresAt) {
		return gwerr.CodeTokenExpired, "capability token has expired"
	}
	if tok.MaxActions != nil && tok.ActionsUsed >= *tok.MaxActions {
		return gwerr.CodeTokenActionLimitReached, "capability token has reached its action limit"
	}
	return "", ""
}

func policyRequest(req ActionRequest, agentID string) policy.Request {
	pr := policy.Request{
		ActionType: req.ActionType, Tool: req.Tool, AgentID: agentID,
		Parameters: req.Parameters, Counterparty: req.Counterparty,
	}
	if v, ok := req.Parameters["amount"]; ok {
		if f, ok := toFloat64(v); ok {
			pr.AmountValue = &f
		}
	}
	if v, ok := req.Parameters["jurisdiction"].(string); ok {
		pr.Jurisdiction = v
	}
	return pr
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// evaluateTokenConstraints checks a capability token's own amount/
// jurisdiction/counterparty narrowing against the request, independent of
// the org's policy rules (spec §3's CapabilityToken.constraints).
func evaluateTokenConstraints(c domain.TokenConstraints, req policy.Request) (*domain.Check, *domain.Reason) {
	if c.AmountMax != nil && req.AmountValue != nil && *req.AmountValue > *c.AmountMax {
		return tokenConstraintFailure("amount_cap", gwerr.CodeAmountExceedsCap,
			fmt.Sprintf("amount %.2f exceeds token cap %.2f", *req.AmountValue, *c.AmountMax))
	}
	if len(c.Jurisdictions) > 0 && req.Jurisdiction != "" {
		allowed := false
		for _, j := range c.Jurisdictions {
			if j == req.Jurisdiction {
				allowed = true
				break
			}
		}
		if !allowed {
			return tokenConstraintFailure("jurisdiction", gwerr.CodeJurisdictionNotAllowed,
				fmt.Sprintf("jurisdiction %q is not allowed by the token", req.Jurisdiction))
		}
	}
	if req.Counterparty != "" {
		for _, denied := range c.CounterpartyDeny {
			if denied == req.Counterparty {
				return tokenConstraintFailure("counterparty", gwerr.CodeCounterpartyDenied,
					fmt.Sprintf("counterparty %q is denied by the token", req.Counterparty))
			}
		}
		if len(c.CounterpartyAllow) > 0 {
			allowed := false
			for _, a := range c.CounterpartyAllow {
				if a == req.Counterparty {
					allowed = true
					break
				}
			}
			if !allowed {
				return tokenConstraintFailure("counterparty", gwerr.CodeCounterpartyDenied,
					fmt.Sprintf("counterparty %q is not in the token's allowlist", req.Counterparty))
			}
		}
	}
	return nil, nil
}

func tokenConstraintFailure(check, code, message string) (*domain.Check, *domain.Reason) {
	return &domain.Check{Check: check, Result: domain.CheckFail, Details: message},
		&domain.Reason{Code: code, Message: message}
}

func lastReasonMessage(reasons []domain.Reason, fallback string) string {
	if len(reasons) == 0 {
		return fallback
	}
	return reasons[len(reasons)-1].Message
}

func reasonCodes(reasons []domain.Reason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, r.Code)
	}
	return out
}

func requestEnvelope(req ActionRequest) map[string]interface{} {
	return map[string]interface{}{
		"action":          req.actionString(),
		"parameters":      req.Parameters,
		"context":         req.Context,
		"counterparty":    req.Counterparty,
		"idempotency_key": req.IdempotencyKey,
	}
}

func resultMap(r connector.Result) map[string]interface{} {
	out := map[string]interface{}{
		"success":     r.Success,
		"duration_ms": r.DurationMs,
	}
	if r.Data != nil {
		out["data"] = r.Data
	}
	if r.Error != nil {
		out["error"] = map[string]interface{}{"code": r.Error.Code, "message": r.Error.Message}
	}
	if r.StatusCode != 0 {
		out["status_code"] = r.StatusCode
	}
	if r.ResultHash != "" {
		out["result_hash"] = r.ResultHash
	}
	return out
}
