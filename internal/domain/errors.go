package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInventoryNotFound      = errors.New("inventory not found")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrInvalidPlacement       = errors.New("invalid placement type")
	ErrNoItems                = errors.New("reservation needs at least one item")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrIdempotencyConflict    = errors.New("idempotency conflict")
	ErrInvalidID              = errors.New("invalid id")
	ErrInvalidTenant          = errors.New("tenant required")
	ErrInvalidFallback        = errors.New("unknown fallback policy")
)

// OverbookError reports an adjustment that would exceed capacity. Never
// clamped; always names the offending slot.
type OverbookError struct {
	EpisodeID string
	Placement PlacementType
}

func (e *OverbookError) Error() string {
	return fmt.Sprintf("insufficient inventory for episode %s placement %s", e.EpisodeID, e.Placement)
}

// TerminalStateError rejects a transition out of a terminal reservation
// status.
type TerminalStateError struct {
	ReservationID string
	Status        ReservationStatus
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("reservation %s is %s and cannot transition", e.ReservationID, e.Status)
}

// ReservationExpiredError rejects a confirm attempted after the hold
// lapsed.
type ReservationExpiredError struct {
	ReservationID string
	ExpiredAt     time.Time
}

func (e *ReservationExpiredError) Error() string {
	return fmt.Sprintf("reservation %s expired at %s", e.ReservationID, e.ExpiredAt.Format(time.RFC3339))
}

// ConflictBlockedError carries the block-mode conflicts that stopped a
// commitment.
type ConflictBlockedError struct {
	Conflicts []Conflict
}

func (e *ConflictBlockedError) Error() string {
	return fmt.Sprintf("blocked by %d competitive conflict(s)", len(e.Conflicts))
}

// TemplateNotFoundError skips a single delivery; other channels and
// recipients continue.
type TemplateNotFoundError struct {
	Event   EventType
	Channel Channel
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("no template for event %s channel %s", e.Event, e.Channel)
}

// DeliveryError wraps a channel transport failure so the queue can retry
// it.
type DeliveryError struct {
	Channel Channel
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
