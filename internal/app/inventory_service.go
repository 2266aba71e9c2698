package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/clock"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

type InventoryRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetForUpdate(ctx context.Context, tenant domain.Tenant, episodeID string) (domain.EpisodeInventory, error)
	Create(ctx context.Context, tenant domain.Tenant, inv domain.EpisodeInventory) error
	UpdateCounts(ctx context.Context, tenant domain.Tenant, episodeID string, placement domain.PlacementType, counts domain.SlotCounts) error
	RecordAlert(ctx context.Context, tenant domain.Tenant, alert domain.InventoryAlert) error
	ListAlerts(ctx context.Context, tenant domain.Tenant, limit int) ([]domain.InventoryAlert, error)
}

// InventoryService owns the per-episode slot ledger. Adjust is the only
// mutation entrypoint; every caller goes through it inside a row-locking
// transaction.
type InventoryService struct {
	repo  InventoryRepository
	clock clock.Clock
	log   *logrus.Logger
}

func NewInventoryService(repo InventoryRepository, clk clock.Clock, log *logrus.Logger) *InventoryService {
	return &InventoryService{repo: repo, clock: clk, log: log}
}

type EnsureInventoryInput struct {
	EpisodeID     string
	ShowID        string
	AirDate       time.Time
	LengthMinutes int
	SlotConfig    domain.ShowSlotConfig
}

// EnsureInventory creates the ledger row for a newly scheduled episode,
// or resizes it when the episode length changed. Shrinking below what is
// already reserved+booked fails instead of silently truncating.
func (s *InventoryService) EnsureInventory(ctx context.Context, tenant domain.Tenant, in EnsureInventoryInput) (domain.EpisodeInventory, error) {
	if !tenant.Valid() {
		return domain.EpisodeInventory{}, domain.ErrInvalidTenant
	}
	if in.EpisodeID == "" {
		return domain.EpisodeInventory{}, domain.ErrInvalidID
	}

	capacity := domain.DeriveSlotCounts(in.LengthMinutes, in.SlotConfig)
	var result domain.EpisodeInventory

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		inv, err := s.repo.GetForUpdate(txCtx, tenant, in.EpisodeID)
		if errors.Is(err, domain.ErrInventoryNotFound) {
			inv = domain.EpisodeInventory{
				EpisodeID:  in.EpisodeID,
				ShowID:     in.ShowID,
				AirDate:    in.AirDate,
				Placements: make(map[domain.PlacementType]domain.SlotCounts, len(capacity)),
				UpdatedAt:  s.clock.Now(),
			}
			for placement, slots := range capacity {
				inv.Placements[placement] = domain.SlotCounts{Slots: slots, Available: slots}
			}
			if err := s.repo.Create(txCtx, tenant, inv); err != nil {
				return err
			}
			result = inv
			return nil
		}
		if err != nil {
			return err
		}

		for _, placement := range domain.Placements {
			counts := inv.Placements[placement]
			newSlots := capacity[placement]
			if newSlots < counts.Reserved+counts.Booked {
				return &domain.OverbookError{EpisodeID: in.EpisodeID, Placement: placement}
			}
			counts.Slots = newSlots
			counts.Available = newSlots - counts.Reserved - counts.Booked
			if err := s.repo.UpdateCounts(txCtx, tenant, in.EpisodeID, placement, counts); err != nil {
				return err
			}
			inv.Placements[placement] = counts
		}
		result = inv
		return nil
	})
	if err != nil {
		return domain.EpisodeInventory{}, err
	}
	return result, nil
}

// Adjust applies slot-count deltas for one episode/placement atomically.
// The target row stays locked for the read-modify-write so concurrent
// holds cannot both consume the last slot. Any count going negative is
// an overbook attempt and aborts the transaction.
func (s *InventoryService) Adjust(ctx context.Context, tenant domain.Tenant, episodeID string, placement domain.PlacementType, dAvail, dReserved, dBooked int) error {
	if !tenant.Valid() {
		return domain.ErrInvalidTenant
	}
	if !placement.Valid() {
		return domain.ErrInvalidPlacement
	}

	return s.repo.WithTx(ctx, func(txCtx context.Context) error {
		inv, err := s.repo.GetForUpdate(txCtx, tenant, episodeID)
		if err != nil {
			return err
		}

		counts := inv.Placements[placement]
		counts.Available += dAvail
		counts.Reserved += dReserved
		counts.Booked += dBooked

		if counts.Available < 0 || counts.Reserved < 0 || counts.Booked < 0 {
			return &domain.OverbookError{EpisodeID: episodeID, Placement: placement}
		}
		if err := s.repo.UpdateCounts(txCtx, tenant, episodeID, placement, counts); err != nil {
			return err
		}

		// Legacy data allows direct slot edits, so reserved+booked can
		// exceed capacity without any count going negative. Record it.
		if counts.Reserved+counts.Booked > counts.Slots {
			alert := domain.InventoryAlert{
				ID:        newID(),
				EpisodeID: episodeID,
				Placement: placement,
				Slots:     counts.Slots,
				Reserved:  counts.Reserved,
				Booked:    counts.Booked,
				CreatedAt: s.clock.Now(),
			}
			if err := s.repo.RecordAlert(txCtx, tenant, alert); err != nil {
				return err
			}
			s.log.WithFields(logrus.Fields{
				"episodeId": episodeID,
				"placement": placement,
				"slots":     counts.Slots,
				"reserved":  counts.Reserved,
				"booked":    counts.Booked,
			}).Warn("inventory overbooked")
		}
		return nil
	})
}

// ListAlerts returns recent overbooking alerts for operator review.
func (s *InventoryService) ListAlerts(ctx context.Context, tenant domain.Tenant, limit int) ([]domain.InventoryAlert, error) {
	if !tenant.Valid() {
		return nil, domain.ErrInvalidTenant
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListAlerts(ctx, tenant, limit)
}
