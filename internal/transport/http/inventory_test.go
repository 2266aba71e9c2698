package http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/app"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

type fakeInventoryManager struct {
	in  app.EnsureInventoryInput
	inv domain.EpisodeInventory
	err error
}

func (m *fakeInventoryManager) EnsureInventory(_ context.Context, _ domain.Tenant, in app.EnsureInventoryInput) (domain.EpisodeInventory, error) {
	m.in = in
	return m.inv, m.err
}

func TestHandleEnsureInventory(t *testing.T) {
	t.Parallel()

	body := `{"episode_id":"ep-1","show_id":"show-1","air_date":"2025-04-01T00:00:00Z","length_minutes":45,"max_mid_rolls":4}`

	t.Run("created", func(t *testing.T) {
		t.Parallel()
		svc := &fakeInventoryManager{inv: domain.EpisodeInventory{
			EpisodeID: "ep-1",
			ShowID:    "show-1",
			AirDate:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
			Placements: map[domain.PlacementType]domain.SlotCounts{
				domain.PlacementPreRoll:  {Slots: 1, Available: 1},
				domain.PlacementMidRoll:  {Slots: 3, Available: 3},
				domain.PlacementPostRoll: {Slots: 1, Available: 1},
			},
		}}

		rec := postJSON(t, HandleEnsureInventory(svc), "/inventory", body, "org-1")
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp inventoryResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.EpisodeID != "ep-1" || resp.Placements["midroll"].Slots != 3 {
			t.Fatalf("resp = %+v", resp)
		}
		if svc.in.LengthMinutes != 45 || svc.in.SlotConfig.MaxMidRolls != 4 {
			t.Fatalf("input = %+v", svc.in)
		}
	})

	t.Run("episode_id is required", func(t *testing.T) {
		t.Parallel()
		rec := postJSON(t, HandleEnsureInventory(&fakeInventoryManager{}), "/inventory",
			`{"show_id":"show-1","air_date":"2025-04-01T00:00:00Z"}`, "org-1")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Code != codeInvalidID {
			t.Fatalf("code = %s", resp.Code)
		}
	})

	t.Run("shrink conflict maps to 409", func(t *testing.T) {
		t.Parallel()
		svc := &fakeInventoryManager{err: &domain.OverbookError{EpisodeID: "ep-1", Placement: domain.PlacementMidRoll}}
		rec := postJSON(t, HandleEnsureInventory(svc), "/inventory", body, "org-1")
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}
