package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Semantic attributes for the action gateway pipeline (spec §4.K). Each
// pipeline step (token_validate, capability_gate, policy_evaluate,
// budget_check, connector_dispatch, audit_seal, ...) gets its own span,
// tagged with these so traces line up with the PolicyTrace's check names.
var (
	AttrOrgID      = attribute.Key("gateway.org_id")
	AttrUAPKID     = attribute.Key("gateway.uapk_id")
	AttrAgentID    = attribute.Key("gateway.agent_id")
	AttrStep       = attribute.Key("gateway.pipeline.step")
	AttrAction     = attribute.Key("gateway.action")
	AttrDecision   = attribute.Key("gateway.decision")
	AttrTokenKind  = attribute.Key("gateway.token_kind")
	AttrConnector  = attribute.Key("gateway.connector.type")
	AttrRecordID   = attribute.Key("gateway.record_id")
	AttrReasonCode = attribute.Key("gateway.reason_code")
)

// PipelineStep builds the attribute set for one step of the action gateway
// pipeline, matching the PolicyTrace check names used in a sealed record
// (manifest_check, capability_gate, budget_check, amount_cap, jurisdiction,
// counterparty, <policy_name>).
func PipelineStep(step, orgID, uapkID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrStep.String(step),
		AttrOrgID.String(orgID),
		AttrUAPKID.String(uapkID),
	}
}

// Decision builds the attribute set recorded once a pipeline run reaches a
// terminal decision and its record has been sealed.
func Decision(recordID, action, decision, reasonCode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRecordID.String(recordID),
		AttrAction.String(action),
		AttrDecision.String(decision),
		AttrReasonCode.String(reasonCode),
	}
}

// ConnectorDispatch builds the attribute set for a connector's outbound call,
// the pipeline's only asynchronous boundary (spec §5).
func ConnectorDispatch(connectorType, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrConnector.String(connectorType),
		AttrAction.String(action),
	}
}

// SpanFromContext extracts the current span, for handlers that need to
// attach an event mid-step without threading TrackOperation's callback.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent records a point-in-time event on the current span, e.g.
// "override_redeemed" or "budget_threshold_reached".
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus marks the current span Error with err's message, or Ok if
// err is nil. TrackOperation's finish callback does not set a status; it
// only records the error on the span.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
