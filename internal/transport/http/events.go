package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/clock"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// EventIngester feeds external domain events into the workflow engine.
type EventIngester interface {
	Emit(ctx context.Context, tenant domain.Tenant, ev domain.Event) error
}

type ingestEventRequest struct {
	Type       string         `json:"type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
	OccurredAt string         `json:"occurred_at"`
}

// HandleIngestEvent returns the POST /events handler. Upstream systems
// (CRM, billing, scheduling) push events here; triggers and built-in
// notification rules run synchronously, deliveries may still queue.
func HandleIngestEvent(svc EventIngester, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		tenant, ok := tenantFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, codeOrgRequired, "organization header required")
			return
		}

		var req ingestEventRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.Type == "" || req.EntityID == "" {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "type and entity_id are required")
			return
		}

		occurredAt := clk.Now()
		if req.OccurredAt != "" {
			t, err := time.Parse(time.RFC3339, req.OccurredAt)
			if err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid occurred_at: expected RFC 3339")
				return
			}
			occurredAt = t
		}

		ev := domain.Event{
			Type:       domain.EventType(req.Type),
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			Payload:    req.Payload,
			OccurredAt: occurredAt,
		}
		if err := svc.Emit(r.Context(), tenant, ev); err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}
