package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

const (
	codeMethodNotAllowed    = "method_not_allowed"
	codeNotFound            = "not_found"
	codeInvalidRequestBody  = "invalid_request_body"
	codeInvalidID           = "invalid_id"
	codeInvalidPlacement    = "invalid_placement"
	codeNoItems             = "no_items"
	codeOrgRequired         = "organization_required"
	codeIdempotencyRequired = "idempotency_key_required"
	codeInvalidFallback     = "invalid_fallback_policy"
	codeIdempotencyConflict = "idempotency_conflict"
	codeOverbooked          = "overbooked"
	codeTerminalState       = "terminal_state"
	codeReservationExpired  = "reservation_expired"
	codeReservationNotFound = "reservation_not_found"
	codeInventoryNotFound   = "inventory_not_found"
	codeConflictBlocked     = "conflict_blocked"
	codeForbidden           = "forbidden"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeDomainError maps service errors onto HTTP statuses and stable
// error codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		overbook *domain.OverbookError
		terminal *domain.TerminalStateError
		expired  *domain.ReservationExpiredError
		blocked  *domain.ConflictBlockedError
	)

	switch {
	case errors.Is(err, domain.ErrInvalidTenant):
		writeError(w, http.StatusBadRequest, codeOrgRequired, err.Error())
	case errors.Is(err, domain.ErrInvalidID):
		writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
	case errors.Is(err, domain.ErrInvalidPlacement):
		writeError(w, http.StatusBadRequest, codeInvalidPlacement, err.Error())
	case errors.Is(err, domain.ErrNoItems):
		writeError(w, http.StatusBadRequest, codeNoItems, err.Error())
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		writeError(w, http.StatusBadRequest, codeIdempotencyRequired, err.Error())
	case errors.Is(err, domain.ErrInvalidFallback):
		writeError(w, http.StatusBadRequest, codeInvalidFallback, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, codeIdempotencyConflict, err.Error())
	case errors.Is(err, domain.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, codeReservationNotFound, err.Error())
	case errors.Is(err, domain.ErrInventoryNotFound):
		writeError(w, http.StatusNotFound, codeInventoryNotFound, err.Error())
	case errors.As(err, &overbook):
		writeError(w, http.StatusConflict, codeOverbooked, err.Error())
	case errors.As(err, &terminal):
		writeError(w, http.StatusConflict, codeTerminalState, err.Error())
	case errors.As(err, &expired):
		writeError(w, http.StatusConflict, codeReservationExpired, err.Error())
	case errors.As(err, &blocked):
		writeError(w, http.StatusConflict, codeConflictBlocked, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
