package app

import (
	"context"
	"errors"
	"time"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

type BulkScheduleInput struct {
	CreateReservationInput
	Fallback domain.FallbackPolicy
}

// CommitBulkSchedule places a batch of slots with a caller-supplied
// idempotency key. A repeat commit with the same key inside the 24h
// window returns the stored result without re-running holds.
//
// Fallback policy on a full slot:
//   - strict: the whole batch fails;
//   - relaxed: the conflicting line is skipped, the rest continue;
//   - fill_anywhere: an alternate episode for the same show and
//     placement is tried (earliest air date first) before skipping.
func (s *ReservationService) CommitBulkSchedule(ctx context.Context, tenant domain.Tenant, key string, in BulkScheduleInput) (domain.BulkCommitResult, error) {
	if !tenant.Valid() {
		return domain.BulkCommitResult{}, domain.ErrInvalidTenant
	}
	if key == "" {
		return domain.BulkCommitResult{}, domain.ErrIdempotencyKeyRequired
	}
	if len(in.Items) == 0 {
		return domain.BulkCommitResult{}, domain.ErrNoItems
	}
	fallback := in.Fallback
	if fallback == "" {
		fallback = domain.FallbackStrict
	}
	if !fallback.Valid() {
		return domain.BulkCommitResult{}, domain.ErrInvalidFallback
	}

	now := s.clock.Now()
	if existing, err := s.repo.FindBulkResult(ctx, tenant, key, now); err != nil {
		return domain.BulkCommitResult{}, err
	} else if existing != nil {
		return *existing, nil
	}

	if err := s.checkConflictGate(ctx, tenant, in.CreateReservationInput); err != nil {
		return domain.BulkCommitResult{}, err
	}

	return s.executeBulk(ctx, tenant, key, in, fallback, now)
}

// errBulkKeyRaced aborts the bulk transaction when a concurrent commit
// with the same key stored its result first; the loser's holds roll
// back and the stored result is returned.
var errBulkKeyRaced = errors.New("bulk result already stored")

func (s *ReservationService) executeBulk(ctx context.Context, tenant domain.Tenant, key string, in BulkScheduleInput, fallback domain.FallbackPolicy, now time.Time) (domain.BulkCommitResult, error) {
	result := domain.BulkCommitResult{Items: make([]domain.BulkItemResult, len(in.Items))}
	placed := make([]ReservationItemInput, 0, len(in.Items))
	var raced domain.BulkCommitResult

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		for i, item := range in.Items {
			line := domain.BulkItemResult{Index: i, EpisodeID: item.EpisodeID, Placement: string(item.Placement)}

			holdErr := s.ledger.Adjust(txCtx, tenant, item.EpisodeID, item.Placement, -1, +1, 0)
			if holdErr != nil && fallback == domain.FallbackFillAnywhere {
				var overbook *domain.OverbookError
				if errors.As(holdErr, &overbook) {
					altID, altDate, altErr := s.repo.FindOpenSlot(txCtx, tenant, item.ShowID, item.Placement, now)
					if altErr == nil && altID != "" {
						if s.ledger.Adjust(txCtx, tenant, altID, item.Placement, -1, +1, 0) == nil {
							item.EpisodeID = altID
							item.AirDate = altDate
							line.EpisodeID = altID
							holdErr = nil
						}
					}
				}
			}

			if holdErr != nil {
				if fallback == domain.FallbackStrict {
					return holdErr
				}
				line.Reason = holdErr.Error()
				result.Items[i] = line
				result.Failed++
				continue
			}

			line.Placed = true
			result.Items[i] = line
			result.Placed++
			placed = append(placed, item)
		}

		if len(placed) == 0 {
			return errors.New("no slots placed")
		}

		create := in.CreateReservationInput
		create.Items = placed
		res := s.buildReservation(create, now)
		if err := s.repo.Create(txCtx, tenant, res); err != nil {
			return err
		}
		result.ReservationID = res.ID
		result.ReservationNumber = res.Number

		// Storing the result inside the transaction ties the holds to
		// the key: if a concurrent commit with the same key stored
		// first, this transaction rolls back and the winner's
		// reservation is the only one that exists.
		stored, inserted, err := s.repo.SaveBulkResult(txCtx, tenant, key, result, now.Add(bulkResultTTL))
		if err != nil {
			return err
		}
		if !inserted {
			raced = stored
			return errBulkKeyRaced
		}
		return nil
	})
	if errors.Is(err, errBulkKeyRaced) {
		return raced, nil
	}
	if err != nil {
		// The transaction rolled back: report every line as failed so
		// the stored result is faithful to what happened.
		failed := domain.BulkCommitResult{Items: make([]domain.BulkItemResult, len(in.Items)), Failed: len(in.Items)}
		for i, item := range in.Items {
			failed.Items[i] = domain.BulkItemResult{
				Index:     i,
				EpisodeID: item.EpisodeID,
				Placement: string(item.Placement),
				Reason:    err.Error(),
			}
		}
		stored, _, saveErr := s.repo.SaveBulkResult(ctx, tenant, key, failed, now.Add(bulkResultTTL))
		if saveErr != nil {
			return domain.BulkCommitResult{}, saveErr
		}
		return stored, nil
	}
	return result, nil
}

func itemDateRange(items []ReservationItemInput) domain.DateRange {
	if len(items) == 0 {
		return domain.DateRange{}
	}
	rng := domain.DateRange{Start: items[0].AirDate, End: items[0].AirDate}
	for _, item := range items[1:] {
		if item.AirDate.Before(rng.Start) {
			rng.Start = item.AirDate
		}
		if item.AirDate.After(rng.End) {
			rng.End = item.AirDate
		}
	}
	return rng
}
