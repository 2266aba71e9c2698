package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents booked inventory derived from a confirmed reservation.
type Order struct {
	ID            string
	Number        string
	ReservationID string
	AdvertiserID  string
	CampaignID    *string
	TotalAmount   decimal.Decimal
	CreatedBy     string
	CreatedAt     time.Time
}
