package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
	ReservationConverted ReservationStatus = "converted"
)

// Terminal reports whether no further transition is allowed from s.
// A confirmed reservation may still be converted when its order is cut;
// every other move out of these states is rejected.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationConfirmed, ReservationReleased, ReservationExpired, ReservationConverted:
		return true
	}
	return false
}

// Active reports whether the reservation still holds inventory.
func (s ReservationStatus) Active() bool {
	return s == ReservationHeld || s == ReservationPending
}

type ReservationPriority string

const (
	PriorityLow    ReservationPriority = "low"
	PriorityNormal ReservationPriority = "normal"
	PriorityHigh   ReservationPriority = "high"
	PriorityUrgent ReservationPriority = "urgent"
)

// Reservation is a hold against one or more inventory slots.
type Reservation struct {
	ID            string
	Number        string
	Status        ReservationStatus
	HoldHours     int
	ExpiresAt     time.Time
	Priority      ReservationPriority
	TotalAmount   decimal.Decimal
	AdvertiserID  string
	AgencyID      *string
	CampaignID    *string
	CreatedBy     string
	ReleaseReason *string
	Items         []ReservationItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReservationItem is one (show, episode, air date, placement, spot) line.
// Owned by its parent reservation; cascades on delete.
type ReservationItem struct {
	ID         string
	ShowID     string
	EpisodeID  string
	AirDate    time.Time
	Placement  PlacementType
	SpotNumber int
	Length     int
	Rate       decimal.Decimal
	Notes      string
}

// Total sums item rates.
func (r Reservation) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		total = total.Add(it.Rate)
	}
	return total
}

// FallbackPolicy decides what happens when a bulk batch hits a full slot.
type FallbackPolicy string

const (
	FallbackStrict       FallbackPolicy = "strict"
	FallbackRelaxed      FallbackPolicy = "relaxed"
	FallbackFillAnywhere FallbackPolicy = "fill_anywhere"
)

func (p FallbackPolicy) Valid() bool {
	switch p {
	case FallbackStrict, FallbackRelaxed, FallbackFillAnywhere:
		return true
	}
	return false
}

// BulkItemResult reports the outcome of a single line in a bulk commit.
type BulkItemResult struct {
	Index     int    `json:"index"`
	EpisodeID string `json:"episode_id"`
	Placement string `json:"placement"`
	Placed    bool   `json:"placed"`
	Reason    string `json:"reason,omitempty"`
}

// BulkCommitResult is the stored, replayable outcome of a bulk-schedule
// commit. Replays within the idempotency window return it verbatim.
type BulkCommitResult struct {
	ReservationID     string           `json:"reservation_id,omitempty"`
	ReservationNumber string           `json:"reservation_number,omitempty"`
	Placed            int              `json:"placed"`
	Failed            int              `json:"failed"`
	Items             []BulkItemResult `json:"items"`
}
