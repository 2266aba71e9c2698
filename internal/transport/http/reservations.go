package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/app"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// ReservationManager is the slice of the reservation service the HTTP
// layer needs.
type ReservationManager interface {
	CreateReservation(ctx context.Context, tenant domain.Tenant, in app.CreateReservationInput) (domain.Reservation, error)
	Confirm(ctx context.Context, tenant domain.Tenant, id, userID string) (domain.Order, error)
	Release(ctx context.Context, tenant domain.Tenant, id, reason string) error
	Convert(ctx context.Context, tenant domain.Tenant, id, userID string) error
}

type reservationItemRequest struct {
	ShowID     string  `json:"show_id"`
	EpisodeID  string  `json:"episode_id"`
	AirDate    string  `json:"air_date"`
	Placement  string  `json:"placement"`
	SpotNumber int     `json:"spot_number"`
	Length     int     `json:"length_seconds"`
	Rate       float64 `json:"rate"`
	Notes      string  `json:"notes"`
}

type createReservationRequest struct {
	AdvertiserID      string                   `json:"advertiser_id"`
	AgencyID          string                   `json:"agency_id"`
	CampaignID        string                   `json:"campaign_id"`
	Priority          string                   `json:"priority"`
	HoldHours         int                      `json:"hold_duration_hours"`
	CreatedBy         string                   `json:"created_by"`
	Items             []reservationItemRequest `json:"items"`
	OverrideConflicts bool                     `json:"override_conflicts"`
	OverrideReason    string                   `json:"override_reason"`
}

func (r createReservationRequest) toInput() (app.CreateReservationInput, error) {
	in := app.CreateReservationInput{
		AdvertiserID:      r.AdvertiserID,
		Priority:          domain.ReservationPriority(r.Priority),
		HoldHours:         r.HoldHours,
		CreatedBy:         r.CreatedBy,
		OverrideConflicts: r.OverrideConflicts,
		OverrideReason:    r.OverrideReason,
	}
	if r.AgencyID != "" {
		in.AgencyID = &r.AgencyID
	}
	if r.CampaignID != "" {
		in.CampaignID = &r.CampaignID
	}
	for _, item := range r.Items {
		airDate, err := time.Parse(time.RFC3339, item.AirDate)
		if err != nil {
			return app.CreateReservationInput{}, err
		}
		in.Items = append(in.Items, app.ReservationItemInput{
			ShowID:     item.ShowID,
			EpisodeID:  item.EpisodeID,
			AirDate:    airDate,
			Placement:  domain.PlacementType(item.Placement),
			SpotNumber: item.SpotNumber,
			Length:     item.Length,
			Rate:       decimal.NewFromFloat(item.Rate),
			Notes:      item.Notes,
		})
	}
	return in, nil
}

type reservationResponse struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expires_at"`
	TotalAmount string    `json:"total_amount"`
	Items       int       `json:"items"`
}

// HandleCreateReservation returns the POST /reservations handler.
func HandleCreateReservation(svc ReservationManager) http.HandlerFunc {
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

		var req createReservationRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		in, err := req.toInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid air_date: expected RFC 3339")
			return
		}

		res, err := svc.CreateReservation(r.Context(), tenant, in)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(reservationResponse{
			ID:          res.ID,
			Number:      res.Number,
			Status:      string(res.Status),
			ExpiresAt:   res.ExpiresAt,
			TotalAmount: res.TotalAmount.String(),
			Items:       len(res.Items),
		})
	}
}

type confirmReservationRequest struct {
	ReservationID string `json:"reservation_id"`
	UserID        string `json:"user_id"`
}

type confirmReservationResponse struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	TotalAmount string `json:"total_amount"`
}

// HandleConfirmReservation returns the POST /reservations/confirm
// handler. Confirming books inventory and cuts the order.
func HandleConfirmReservation(svc ReservationManager) http.HandlerFunc {
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

		var req confirmReservationRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.ReservationID == "" {
			writeError(w, http.StatusBadRequest, codeInvalidID, "reservation_id is required")
			return
		}

		order, err := svc.Confirm(r.Context(), tenant, req.ReservationID, req.UserID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(confirmReservationResponse{
			OrderID:     order.ID,
			OrderNumber: order.Number,
			TotalAmount: order.TotalAmount.String(),
		})
	}
}

type releaseReservationRequest struct {
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason"`
}

// HandleReleaseReservation returns the POST /reservations/release
// handler.
func HandleReleaseReservation(svc ReservationManager) http.HandlerFunc {
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

		var req releaseReservationRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.ReservationID == "" {
			writeError(w, http.StatusBadRequest, codeInvalidID, "reservation_id is required")
			return
		}

		if err := svc.Release(r.Context(), tenant, req.ReservationID, req.Reason); err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "released"})
	}
}

type convertReservationRequest struct {
	ReservationID string `json:"reservation_id"`
	UserID        string `json:"user_id"`
}

// HandleConvertReservation returns the POST /reservations/convert
// handler, used when a campaign is marked won.
func HandleConvertReservation(svc ReservationManager) http.HandlerFunc {
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

		var req convertReservationRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.ReservationID == "" {
			writeError(w, http.StatusBadRequest, codeInvalidID, "reservation_id is required")
			return
		}

		if err := svc.Convert(r.Context(), tenant, req.ReservationID, req.UserID); err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "converted"})
	}
}
