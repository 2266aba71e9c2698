package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// AdminNotificationService exposes the failed-delivery queue to
// operators.
type AdminNotificationService interface {
	ListFailed(ctx context.Context, tenant domain.Tenant, limit int) ([]domain.QueueEntry, error)
}

// AdminInventoryService exposes overbooking alerts to operators.
type AdminInventoryService interface {
	ListAlerts(ctx context.Context, tenant domain.Tenant, limit int) ([]domain.InventoryAlert, error)
}

type failedEntryResponse struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleAdminFailedNotifications returns the GET
// /admin/notifications/failed handler.
func HandleAdminFailedNotifications(svc AdminNotificationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		tenant, ok := tenantFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, codeOrgRequired, "organization header required")
			return
		}

		entries, err := svc.ListFailed(r.Context(), tenant, parseLimit(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]failedEntryResponse, 0, len(entries))
		for _, e := range entries {
			item := failedEntryResponse{
				ID:        e.ID,
				EventType: string(e.EventType),
				Attempts:  e.Attempts,
				CreatedAt: e.CreatedAt,
			}
			if e.LastError != nil {
				item.LastError = *e.LastError
			}
			resp = append(resp, item)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

type inventoryAlertResponse struct {
	ID        string    `json:"id"`
	EpisodeID string    `json:"episode_id"`
	Placement string    `json:"placement"`
	Slots     int       `json:"slots"`
	Reserved  int       `json:"reserved"`
	Booked    int       `json:"booked"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleAdminInventoryAlerts returns the GET /admin/inventory/alerts
// handler.
func HandleAdminInventoryAlerts(svc AdminInventoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
			return
		}
		tenant, ok := tenantFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, codeOrgRequired, "organization header required")
			return
		}

		alerts, err := svc.ListAlerts(r.Context(), tenant, parseLimit(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]inventoryAlertResponse, 0, len(alerts))
		for _, a := range alerts {
			resp = append(resp, inventoryAlertResponse{
				ID:        a.ID,
				EpisodeID: a.EpisodeID,
				Placement: string(a.Placement),
				Slots:     a.Slots,
				Reserved:  a.Reserved,
				Booked:    a.Booked,
				CreatedAt: a.CreatedAt,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func parseLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}
