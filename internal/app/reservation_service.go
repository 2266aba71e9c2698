package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/clock"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// Ledger is the slice of the inventory service the reservation state
// machine mutates. All calls happen inside the reservation transaction.
type Ledger interface {
	Adjust(ctx context.Context, tenant domain.Tenant, episodeID string, placement domain.PlacementType, dAvail, dReserved, dBooked int) error
}

// ConflictGate validates competitive-category collisions before a
// reservation commits inventory.
type ConflictGate interface {
	CheckConflicts(ctx context.Context, tenant domain.Tenant, advertiserID string, rng domain.DateRange, excludeCampaignID string) ([]domain.Conflict, error)
	RecordOverride(ctx context.Context, tenant domain.Tenant, campaignID, userID, reason string) error
}

// EventSink receives domain events after the owning transaction commits.
// Event handling is best effort; failures never unwind business state.
type EventSink interface {
	Emit(ctx context.Context, tenant domain.Tenant, ev domain.Event) error
}

// DueReservation identifies a hold past its expiry, across tenants.
type DueReservation struct {
	Tenant domain.Tenant
	ID     string
}

type ReservationRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, tenant domain.Tenant, res domain.Reservation) error
	GetForUpdate(ctx context.Context, tenant domain.Tenant, id string) (domain.Reservation, error)
	SetStatus(ctx context.Context, tenant domain.Tenant, id string, from []domain.ReservationStatus, to domain.ReservationStatus, reason *string) (bool, error)
	CreateOrder(ctx context.Context, tenant domain.Tenant, order domain.Order) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]DueReservation, error)
	FindBulkResult(ctx context.Context, tenant domain.Tenant, key string, now time.Time) (*domain.BulkCommitResult, error)
	SaveBulkResult(ctx context.Context, tenant domain.Tenant, key string, result domain.BulkCommitResult, expiresAt time.Time) (stored domain.BulkCommitResult, inserted bool, err error)
	FindOpenSlot(ctx context.Context, tenant domain.Tenant, showID string, placement domain.PlacementType, notBefore time.Time) (episodeID string, airDate time.Time, err error)
}

// ReservationService runs the hold/confirm/release/expire state machine
// against the inventory ledger.
type ReservationService struct {
	repo      ReservationRepository
	ledger    Ledger
	conflicts ConflictGate
	events    EventSink
	clock     clock.Clock
	log       *logrus.Logger
	holdHours int
}

const defaultHoldHours = 48
const bulkResultTTL = 24 * time.Hour

func NewReservationService(repo ReservationRepository, ledger Ledger, conflicts ConflictGate, clk clock.Clock, log *logrus.Logger, opts ...ReservationOption) *ReservationService {
	svc := &ReservationService{
		repo:      repo,
		ledger:    ledger,
		conflicts: conflicts,
		clock:     clk,
		log:       log,
		holdHours: defaultHoldHours,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type ReservationOption func(*ReservationService)

// WithHoldHours overrides the default hold duration for new reservations.
func WithHoldHours(h int) ReservationOption {
	return func(s *ReservationService) {
		if h > 0 {
			s.holdHours = h
		}
	}
}

// WithEventSink attaches the workflow evaluator; events are emitted
// after commit.
func WithEventSink(sink EventSink) ReservationOption {
	return func(s *ReservationService) {
		s.events = sink
	}
}

type ReservationItemInput struct {
	ShowID     string
	EpisodeID  string
	AirDate    time.Time
	Placement  domain.PlacementType
	SpotNumber int
	Length     int
	Rate       decimal.Decimal
	Notes      string
}

type CreateReservationInput struct {
	AdvertiserID      string
	AgencyID          *string
	CampaignID        *string
	Priority          domain.ReservationPriority
	HoldHours         int
	CreatedBy         string
	Items             []ReservationItemInput
	OverrideConflicts bool
	OverrideReason    string
}

// CreateReservation holds inventory for every item in one transaction.
// Partial holds are not permitted: any item failing rolls back the whole
// batch.
func (s *ReservationService) CreateReservation(ctx context.Context, tenant domain.Tenant, in CreateReservationInput) (domain.Reservation, error) {
	if !tenant.Valid() {
		return domain.Reservation{}, domain.ErrInvalidTenant
	}
	if in.AdvertiserID == "" {
		return domain.Reservation{}, domain.ErrInvalidID
	}
	if len(in.Items) == 0 {
		return domain.Reservation{}, domain.ErrNoItems
	}
	for _, item := range in.Items {
		if !item.Placement.Valid() {
			return domain.Reservation{}, domain.ErrInvalidPlacement
		}
	}

	if err := s.checkConflictGate(ctx, tenant, in); err != nil {
		return domain.Reservation{}, err
	}

	now := s.clock.Now()
	res := s.buildReservation(in, now)

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		for _, item := range res.Items {
			if err := s.ledger.Adjust(txCtx, tenant, item.EpisodeID, item.Placement, -1, +1, 0); err != nil {
				return err
			}
		}
		return s.repo.Create(txCtx, tenant, res)
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	s.emit(ctx, tenant, domain.Event{
		Type:       domain.EventReservationCreated,
		EntityType: "reservation",
		EntityID:   res.ID,
		Payload: map[string]any{
			"reservationNumber": res.Number,
			"advertiserId":      res.AdvertiserID,
			"totalAmount":       res.TotalAmount.String(),
			"items":             len(res.Items),
		},
		OccurredAt: now,
	})
	return res, nil
}

func (s *ReservationService) checkConflictGate(ctx context.Context, tenant domain.Tenant, in CreateReservationInput) error {
	if s.conflicts == nil {
		return nil
	}

	rng := itemDateRange(in.Items)
	exclude := ""
	if in.CampaignID != nil {
		exclude = *in.CampaignID
	}
	conflicts, err := s.conflicts.CheckConflicts(ctx, tenant, in.AdvertiserID, rng, exclude)
	if err != nil {
		return err
	}

	decision := domain.CanProceedWithConflicts(conflicts)
	if decision.CanProceed {
		return nil
	}
	if !in.OverrideConflicts {
		return &domain.ConflictBlockedError{Conflicts: decision.BlockedBy}
	}
	if in.CampaignID != nil {
		if err := s.conflicts.RecordOverride(ctx, tenant, *in.CampaignID, in.CreatedBy, in.OverrideReason); err != nil {
			return err
		}
	}
	return nil
}

func (s *ReservationService) buildReservation(in CreateReservationInput, now time.Time) domain.Reservation {
	holdHours := in.HoldHours
	if holdHours <= 0 {
		holdHours = s.holdHours
	}
	priority := in.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}

	res := domain.Reservation{
		ID:           newID(),
		Number:       newReservationNumber(now),
		Status:       domain.ReservationHeld,
		HoldHours:    holdHours,
		ExpiresAt:    now.Add(time.Duration(holdHours) * time.Hour),
		Priority:     priority,
		AdvertiserID: in.AdvertiserID,
		AgencyID:     in.AgencyID,
		CampaignID:   in.CampaignID,
		CreatedBy:    in.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, item := range in.Items {
		spot := item.SpotNumber
		if spot <= 0 {
			spot = i + 1
		}
		res.Items = append(res.Items, domain.ReservationItem{
			ID:         newID(),
			ShowID:     item.ShowID,
			EpisodeID:  item.EpisodeID,
			AirDate:    item.AirDate,
			Placement:  item.Placement,
			SpotNumber: spot,
			Length:     item.Length,
			Rate:       item.Rate,
			Notes:      item.Notes,
		})
	}
	res.TotalAmount = res.Total()
	return res
}

// Confirm books every line of a held or pending reservation and creates
// the order. Confirming after natural expiry fails; the sweep owns that
// transition.
func (s *ReservationService) Confirm(ctx context.Context, tenant domain.Tenant, id, userID string) (domain.Order, error) {
	if !tenant.Valid() {
		return domain.Order{}, domain.ErrInvalidTenant
	}

	now := s.clock.Now()
	var order domain.Order

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.confirmLocked(txCtx, tenant, id, userID, now)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.emitOrderCreated(ctx, tenant, order, now)
	return order, nil
}

// confirmLocked is the in-transaction body of Confirm. The caller owns
// the transaction and emits order_created only after it commits.
func (s *ReservationService) confirmLocked(txCtx context.Context, tenant domain.Tenant, id, userID string, now time.Time) (domain.Order, error) {
	res, err := s.repo.GetForUpdate(txCtx, tenant, id)
	if err != nil {
		return domain.Order{}, err
	}
	if res.Status.Terminal() {
		return domain.Order{}, &domain.TerminalStateError{ReservationID: id, Status: res.Status}
	}
	if !res.ExpiresAt.After(now) {
		return domain.Order{}, &domain.ReservationExpiredError{ReservationID: id, ExpiredAt: res.ExpiresAt}
	}

	for _, item := range res.Items {
		if err := s.ledger.Adjust(txCtx, tenant, item.EpisodeID, item.Placement, 0, -1, +1); err != nil {
			return domain.Order{}, err
		}
	}

	ok, err := s.repo.SetStatus(txCtx, tenant, id, []domain.ReservationStatus{domain.ReservationHeld, domain.ReservationPending}, domain.ReservationConfirmed, nil)
	if err != nil {
		return domain.Order{}, err
	}
	if !ok {
		return domain.Order{}, &domain.TerminalStateError{ReservationID: id, Status: res.Status}
	}

	order := domain.Order{
		ID:            newID(),
		Number:        newOrderNumber(now),
		ReservationID: res.ID,
		AdvertiserID:  res.AdvertiserID,
		CampaignID:    res.CampaignID,
		TotalAmount:   res.TotalAmount,
		CreatedBy:     userID,
		CreatedAt:     now,
	}
	if err := s.repo.CreateOrder(txCtx, tenant, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *ReservationService) emitOrderCreated(ctx context.Context, tenant domain.Tenant, order domain.Order, now time.Time) {
	s.emit(ctx, tenant, domain.Event{
		Type:       domain.EventOrderCreated,
		EntityType: "order",
		EntityID:   order.ID,
		Payload: map[string]any{
			"orderNumber":   order.Number,
			"reservationId": order.ReservationID,
			"totalAmount":   order.TotalAmount.String(),
		},
		OccurredAt: now,
	})
}

// Convert marks a confirmed reservation as converted once its campaign
// is won. Held or pending reservations are confirmed first; the
// order_created event from that confirm fires only after the conversion
// transaction commits.
func (s *ReservationService) Convert(ctx context.Context, tenant domain.Tenant, id, userID string) error {
	now := s.clock.Now()
	var order *domain.Order

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		res, err := s.repo.GetForUpdate(txCtx, tenant, id)
		if err != nil {
			return err
		}
		switch res.Status {
		case domain.ReservationConverted:
			return nil
		case domain.ReservationReleased, domain.ReservationExpired:
			return &domain.TerminalStateError{ReservationID: id, Status: res.Status}
		case domain.ReservationHeld, domain.ReservationPending:
			o, err := s.confirmLocked(txCtx, tenant, id, userID, now)
			if err != nil {
				return err
			}
			order = &o
		}
		_, err = s.repo.SetStatus(txCtx, tenant, id, []domain.ReservationStatus{domain.ReservationConfirmed}, domain.ReservationConverted, nil)
		return err
	})
	if err != nil {
		return err
	}

	if order != nil {
		s.emitOrderCreated(ctx, tenant, *order, now)
	}
	return nil
}

// Release returns every line's inventory to available. Releasing an
// already released or expired reservation is a no-op.
func (s *ReservationService) Release(ctx context.Context, tenant domain.Tenant, id, reason string) error {
	if !tenant.Valid() {
		return domain.ErrInvalidTenant
	}

	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		res, err := s.repo.GetForUpdate(txCtx, tenant, id)
		if err != nil {
			return err
		}
		switch res.Status {
		case domain.ReservationReleased, domain.ReservationExpired:
			return nil
		case domain.ReservationConfirmed, domain.ReservationConverted:
			return &domain.TerminalStateError{ReservationID: id, Status: res.Status}
		}

		for _, item := range res.Items {
			if err := s.ledger.Adjust(txCtx, tenant, item.EpisodeID, item.Placement, +1, -1, 0); err != nil {
				return err
			}
		}
		_, err = s.repo.SetStatus(txCtx, tenant, id, []domain.ReservationStatus{domain.ReservationHeld, domain.ReservationPending}, domain.ReservationReleased, &reason)
		return err
	})
}

// ExpireDue sweeps holds past their expiry and restores inventory. Safe
// to run concurrently with user-initiated release/confirm: each row is
// re-checked under its lock before transitioning.
func (s *ReservationService) ExpireDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	due, err := s.repo.ListDue(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, d := range due {
		if err := s.expireOne(ctx, d.Tenant, d.ID, now); err != nil {
			s.log.WithFields(logrus.Fields{"reservationId": d.ID, "orgId": d.Tenant.OrgID}).
				WithError(err).Error("expire reservation")
			continue
		}
		expired++
		s.emit(ctx, d.Tenant, domain.Event{
			Type:       domain.EventReservationExpired,
			EntityType: "reservation",
			EntityID:   d.ID,
			Payload:    map[string]any{"expiredAt": now.Format(time.RFC3339)},
			OccurredAt: now,
		})
	}
	return expired, nil
}

func (s *ReservationService) expireOne(ctx context.Context, tenant domain.Tenant, id string, now time.Time) error {
	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		res, err := s.repo.GetForUpdate(txCtx, tenant, id)
		if err != nil {
			if errors.Is(err, domain.ErrReservationNotFound) {
				return nil
			}
			return err
		}
		// A concurrent confirm or release may have won; only a still
		// active, still expired hold transitions.
		if !res.Status.Active() || res.ExpiresAt.After(now) {
			return nil
		}

		for _, item := range res.Items {
			if err := s.ledger.Adjust(txCtx, tenant, item.EpisodeID, item.Placement, +1, -1, 0); err != nil {
				return err
			}
		}
		_, err = s.repo.SetStatus(txCtx, tenant, id, []domain.ReservationStatus{domain.ReservationHeld, domain.ReservationPending}, domain.ReservationExpired, nil)
		return err
	})
}

func (s *ReservationService) emit(ctx context.Context, tenant domain.Tenant, ev domain.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, tenant, ev); err != nil {
		s.log.WithFields(logrus.Fields{"event": ev.Type, "entityId": ev.EntityID}).
			WithError(err).Error("emit event")
	}
}
