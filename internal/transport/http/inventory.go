package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/app"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// InventoryManager creates or resizes episode slot ledgers.
type InventoryManager interface {
	EnsureInventory(ctx context.Context, tenant domain.Tenant, in app.EnsureInventoryInput) (domain.EpisodeInventory, error)
}

type ensureInventoryRequest struct {
	EpisodeID     string `json:"episode_id"`
	ShowID        string `json:"show_id"`
	AirDate       string `json:"air_date"`
	LengthMinutes int    `json:"length_minutes"`
	MaxMidRolls   int    `json:"max_mid_rolls"`
}

type slotCountsResponse struct {
	Slots     int `json:"slots"`
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Booked    int `json:"booked"`
}

type inventoryResponse struct {
	EpisodeID  string                        `json:"episode_id"`
	ShowID     string                        `json:"show_id"`
	AirDate    time.Time                     `json:"air_date"`
	Placements map[string]slotCountsResponse `json:"placements"`
}

// HandleEnsureInventory returns the POST /inventory handler, called when
// an episode is scheduled or its length changes.
func HandleEnsureInventory(svc InventoryManager) http.HandlerFunc {
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

		var req ensureInventoryRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.EpisodeID == "" {
			writeError(w, http.StatusBadRequest, codeInvalidID, "episode_id is required")
			return
		}
		airDate, err := time.Parse(time.RFC3339, req.AirDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid air_date: expected RFC 3339")
			return
		}

		inv, err := svc.EnsureInventory(r.Context(), tenant, app.EnsureInventoryInput{
			EpisodeID:     req.EpisodeID,
			ShowID:        req.ShowID,
			AirDate:       airDate,
			LengthMinutes: req.LengthMinutes,
			SlotConfig:    domain.ShowSlotConfig{MaxMidRolls: req.MaxMidRolls},
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := inventoryResponse{
			EpisodeID:  inv.EpisodeID,
			ShowID:     inv.ShowID,
			AirDate:    inv.AirDate,
			Placements: make(map[string]slotCountsResponse, len(inv.Placements)),
		}
		for placement, counts := range inv.Placements {
			resp.Placements[string(placement)] = slotCountsResponse{
				Slots:     counts.Slots,
				Available: counts.Available,
				Reserved:  counts.Reserved,
				Booked:    counts.Booked,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
