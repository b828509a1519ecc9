// Package observability wires the gateway's action pipeline (spec §4.K) to
// OpenTelemetry tracing and RED metrics.
//
// Initialize once at startup:
//
//	prov, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "uapk-gateway",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   1.0,
//	})
//	defer prov.Shutdown(ctx)
//
// Track a pipeline step:
//
//	ctx, done := prov.TrackOperation(ctx, "policy_evaluate",
//		observability.PipelineStep("policy_evaluate", orgID, uapkID))
//	result, err := engine.Evaluate(orgID, req)
//	done(err)
package observability
