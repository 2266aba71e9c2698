package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/app"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// BulkCommitter commits a batch of schedule slots under an idempotency
// key.
type BulkCommitter interface {
	CommitBulkSchedule(ctx context.Context, tenant domain.Tenant, key string, in app.BulkScheduleInput) (domain.BulkCommitResult, error)
}

type bulkScheduleRequest struct {
	createReservationRequest
	Fallback string `json:"fallback"`
}

// HandleCommitSchedule returns the POST /schedules/commit handler. The
// Idempotency-Key header is required; a replay inside the retention
// window returns the stored result.
func HandleCommitSchedule(svc BulkCommitter) http.HandlerFunc {
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

		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			writeError(w, http.StatusBadRequest, codeIdempotencyRequired, "Idempotency-Key header is required")
			return
		}

		var req bulkScheduleRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		create, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid air_date: expected RFC 3339")
			return
		}

		result, err := svc.CommitBulkSchedule(r.Context(), tenant, key, app.BulkScheduleInput{
			CreateReservationInput: create,
			Fallback:               domain.FallbackPolicy(req.Fallback),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}
