// Package policy implements the gateway's rule engine (spec §4.F): a
// capability pre-gate followed by glob-matched, priority-ordered policy
// evaluation with deny > require_approval > allow fusion. It replaces the
// pluggable OPA/Rego/Cedar backend abstraction the teacher used for its
// enforcement kernel — this gateway has exactly one in-process algorithm,
// so there is no backend interface to keep.
package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

// Request is one action admission under evaluation.
type Request struct {
	ActionType   string // e.g. "email"
	Tool         string // e.g. "send"
	AgentID      string
	Parameters   map[string]interface{}
	Counterparty string
	AmountValue  *float64
	Jurisdiction string
}

// ActionString renders "action_type:tool" the way action_pattern and
// capability glob matching both expect it.
func (r Request) ActionString() string {
	return r.ActionType + ":" + r.Tool
}

// Store lists the enabled policies a caller's org has configured.
type Store interface {
	ListEnabled(orgID string) ([]*domain.Policy, error)
}

// Engine evaluates the capability gate and the policy set for one request.
type Engine struct {
	store Store
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// CapabilityGate checks the requested action_type:tool against a token's
// granted capabilities (domain:operation strings, glob support in either
// half). It runs before any policy and short-circuits to deny on failure,
// per spec §4.F's "capability gate (pre-policy)".
func CapabilityGate(req Request, capabilities []string) (domain.Check, error) {
	action := req.ActionString()
	for _, cap := range capabilities {
		if capabilityMatches(cap, action) {
			return domain.Check{Check: "capability_gate", Result: domain.CheckPass}, nil
		}
	}
	return domain.Check{
			Check:   "capability_gate",
			Result:  domain.CheckFail,
			Details: fmt.Sprintf("no granted capability covers %q", action),
		}, gwerr.New(gwerr.Policy, gwerr.CodeActionNotInCapabilities,
			fmt.Sprintf("action %q is not within the token's granted capabilities", action))
}

// capabilityMatches reports whether a "domain:operation" grant (each half
// independently glob-capable, e.g. "email:*", "*:send") covers an action
// string of the same shape.
func capabilityMatches(grant, action string) bool {
	gParts := strings.SplitN(grant, ":", 2)
	aParts := strings.SplitN(action, ":", 2)
	if len(gParts) != 2 || len(aParts) != 2 {
		return grant == action
	}
	domainOK, _ := filepath.Match(gParts[0], aParts[0])
	opOK, _ := filepath.Match(gParts[1], aParts[1])
	return domainOK && opOK
}

// Result is the outcome of evaluating every configured policy for a request.
type Result struct {
	Decision domain.PolicyType
	Checks   []domain.Check
	Reasons  []domain.Reason
}

// Evaluate matches and evaluates the org's enabled policies in
// priority-descending order (ties by created_at ascending), fusing the
// outcome as deny > require_approval > allow. It assumes the capability
// gate already passed.
func (e *Engine) Evaluate(orgID string, req Request) (*Result, error) {
	policies, err := e.store.ListEnabled(orgID)
	if err != nil {
		return nil, fmt.Errorf("policy: list enabled policies: %w", err)
	}

	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].CreatedAt.Before(policies[j].CreatedAt)
	})

	result := &Result{Decision: domain.PolicyAllow}
	sawRequireApproval := false

	for _, p := range policies {
		if !matchesScope(p, req) {
			continue
		}

		check, reason := evaluatePolicy(p, req)
		result.Checks = append(result.Checks, check)

		if check.Result != domain.CheckFail {
			continue
		}

		switch p.PolicyType {
		case domain.PolicyDeny:
			result.Decision = domain.PolicyDeny
			result.Reasons = append(result.Reasons, reason)
			return result, nil // first deny short-circuits
		case domain.PolicyRequireApproval:
			sawRequireApproval = true
			result.Reasons = append(result.Reasons, reason)
		}
	}

	if sawRequireApproval {
		result.Decision = domain.PolicyRequireApproval
		return result, nil
	}

	result.Reasons = append(result.Reasons, domain.Reason{
		Code:    gwerr.CodeAllChecksPassed,
		Message: "all policy checks passed",
	})
	return result, nil
}

func matchesScope(p *domain.Policy, req Request) bool {
	switch p.Scope {
	case domain.ScopeGlobal:
		return true
	case domain.ScopeAction:
		if p.Rules.ActionPattern == "" {
			return false
		}
		ok, _ := filepath.Match(p.Rules.ActionPattern, req.ActionString())
		return ok
	case domain.ScopeAgent:
		for _, id := range p.Rules.AgentIDs {
			if id == req.AgentID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// evaluatePolicy runs one matched policy's parameter/amount/jurisdiction/
// counterparty sub-checks. A policy fails when any sub-check violates,
// regardless of scope (resolved Open Question #4: these sub-checks are not
// exclusive to any particular scope value).
func evaluatePolicy(p *domain.Policy, req Request) (domain.Check, domain.Reason) {
	if reason := checkParameters(p, req); reason != nil {
		return domain.Check{Check: p.Name, Result: domain.CheckFail, Details: reason.Message}, *reason
	}
	if reason := checkAmountCap(p, req); reason != nil {
		return domain.Check{Check: p.Name, Result: domain.CheckFail, Details: reason.Message}, *reason
	}
	if reason := checkJurisdiction(p, req); reason != nil {
		return domain.Check{Check: p.Name, Result: domain.CheckFail, Details: reason.Message}, *reason
	}
	if reason := checkCounterparty(p, req); reason != nil {
		return domain.Check{Check: p.Name, Result: domain.CheckFail, Details: reason.Message}, *reason
	}

	return domain.Check{Check: p.Name, Result: domain.CheckPass}, domain.Reason{}
}

func checkParameters(p *domain.Policy, req Request) *domain.Reason {
	for name, constraint := range p.Rules.Parameters {
		val, present := req.Parameters[name]
		if constraint.Required && !present {
			return policyReason(p, gwerr.CodeActionTypeNotAllowed,
				fmt.Sprintf("required parameter %q missing", name))
		}
		if !present {
			continue
		}
		if constraint.MaxLength > 0 {
			if s, ok := val.(string); ok && len(s) > constraint.MaxLength {
				return policyReason(p, gwerr.CodeActionTypeNotAllowed,
					fmt.Sprintf("parameter %q exceeds max_length %d", name, constraint.MaxLength))
			}
		}
		if len(constraint.AllowedValues) > 0 && !containsValue(constraint.AllowedValues, val) {
			return policyReason(p, gwerr.CodeActionTypeNotAllowed,
				fmt.Sprintf("parameter %q is not in allowed_values", name))
		}
	}
	return nil
}

func checkAmountCap(p *domain.Policy, req Request) *domain.Reason {
	if p.Rules.AmountCaps == nil || req.AmountValue == nil {
		return nil
	}
	if *req.AmountValue > *p.Rules.AmountCaps {
		code := gwerr.CodeAmountExceedsCap
		if p.PolicyType == domain.PolicyRequireApproval {
			code = gwerr.CodeAmountRequiresApproval
		}
		return policyReason(p, code, fmt.Sprintf("amount %.2f exceeds cap %.2f", *req.AmountValue, *p.Rules.AmountCaps))
	}
	return nil
}

func checkJurisdiction(p *domain.Policy, req Request) *domain.Reason {
	if len(p.Rules.Jurisdictions) == 0 || req.Jurisdiction == "" {
		return nil
	}
	for _, j := range p.Rules.Jurisdictions {
		if j == req.Jurisdiction {
			return nil
		}
	}
	return policyReason(p, gwerr.CodeJurisdictionNotAllowed,
		fmt.Sprintf("jurisdiction %q is not allowed", req.Jurisdiction))
}

func checkCounterparty(p *domain.Policy, req Request) *domain.Reason {
	if len(p.Rules.Counterparty) == 0 || req.Counterparty == "" {
		return nil
	}
	for _, c := range p.Rules.Counterparty {
		if c == req.Counterparty {
			return policyReason(p, gwerr.CodeCounterpartyDenied,
				fmt.Sprintf("counterparty %q is denied", req.Counterparty))
		}
	}
	return nil
}

func policyReason(p *domain.Policy, code, message string) *domain.Reason {
	return &domain.Reason{Code: code, Message: message, Details: "policy:" + p.Name}
}

func containsValue(allowed []interface{}, v interface{}) bool {
	for _, a := range allowed {
		if fmt.Sprintf("%v", a) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}
