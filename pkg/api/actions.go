package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/amakua/uapk-gateway/pkg/gateway"
)

// actionRequestBody is the wire shape of POST /actions.
type actionRequestBody struct {
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters"`
	Context    *actionContext         `json:"context,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

type actionContext struct {
	ConversationID string                 `json:"conversation_id,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

type actionResponseBody struct {
	RecordID          string      `json:"record_id"`
	Decision           string     `json:"decision"`
	DecisionReason     string     `json:"decision_reason,omitempty"`
	PolicyEvaluations  interface{} `json:"policy_evaluations,omitempty"`
	Result             interface{} `json:"result,omitempty"`
	ApprovalID         string      `json:"approval_id,omitempty"`
	Timestamp          string      `json:"timestamp"`
	DurationMs         int64       `json:"duration_ms"`
}

// HandleActions serves POST /actions, the gateway endpoint (spec §6). The
// capability bearer carries the org and agent — there is no org path
// segment here, unlike every other route below. A second bearer presented
// via X-Override-Token redeems a pending approval instead of running the
// ordinary admission pipeline.
func HandleActions(pipeline *gateway.Pipeline, idem IdempotencyStorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}

		bearer := bearerToken(r)
		if bearer == "" {
			WriteUnauthorized(w, "missing capability bearer token")
			return
		}
		overrideBearer := strings.TrimSpace(r.Header.Get("X-Override-Token"))

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var body actionRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteBadRequest(w, "invalid request body")
			return
		}
		if body.Action == "" {
			WriteBadRequest(w, "action is required")
			return
		}

		if body.IdempotencyKey != "" && idem != nil {
			if cached, ok := idem.Check(bearer + ":" + body.IdempotencyKey); ok {
				for k, vals := range cached.Headers {
					for _, v := range vals {
						w.Header().Add(k, v)
					}
				}
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}
		}

		actionType, tool, ok := splitAction(body.Action)
		if !ok {
			WriteUnprocessableEntity(w, "action must be \"type:tool\"")
			return
		}

		req := gateway.ActionRequest{
			ActionType:     actionType,
			Tool:           tool,
			Parameters:     body.Parameters,
			IdempotencyKey: body.IdempotencyKey,
		}
		if body.Context != nil {
			req.Context = map[string]interface{}{
				"conversation_id": body.Context.ConversationID,
				"reason":          body.Context.Reason,
				"metadata":        body.Context.Metadata,
			}
		}

		resp, err := pipeline.Process(r.Context(), bearer, overrideBearer, req)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}

		out := actionResponseBody{
			RecordID:          resp.RecordID,
			Decision:          string(resp.Decision),
			DecisionReason:    resp.DecisionReason,
			PolicyEvaluations: resp.PolicyEvaluations,
			Result:            resp.Result,
			ApprovalID:        resp.ApprovalID,
			Timestamp:         resp.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			DurationMs:        resp.DurationMs,
		}
		payload, _ := json.Marshal(out)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)

		if body.IdempotencyKey != "" && idem != nil {
			idem.Set(bearer+":"+body.IdempotencyKey, http.StatusOK, w.Header().Clone(), payload)
		}
	}
}

// splitAction parses "type:tool" into its two halves.
func splitAction(action string) (actionType, tool string, ok bool) {
	i := strings.IndexByte(action, ':')
	if i <= 0 || i == len(action)-1 {
		return "", "", false
	}
	return action[:i], action[i+1:], true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}
