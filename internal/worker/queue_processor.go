package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/clock"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// ClaimedEntry is a queue row atomically moved pending -> processing for
// this worker, with its tenant.
type ClaimedEntry struct {
	Tenant domain.Tenant
	Entry  domain.QueueEntry
}

type QueueStore interface {
	// ClaimBatch atomically claims up to limit due pending rows,
	// incrementing attempts. Two processors never claim the same row.
	ClaimBatch(ctx context.Context, now time.Time, limit int) ([]ClaimedEntry, error)
	MarkCompleted(ctx context.Context, tenant domain.Tenant, id int64) error
	MarkFailed(ctx context.Context, tenant domain.Tenant, id int64, lastError string) error
	Reschedule(ctx context.Context, tenant domain.Tenant, id int64, nextAt time.Time, lastError string) error
}

// Deliverer performs the actual fan-out for one claimed entry.
type Deliverer interface {
	Deliver(ctx context.Context, tenant domain.Tenant, entry domain.QueueEntry) error
}

// QueueProcessor drains the notification queue in priority order with
// linear-backoff retries. Rows that exhaust maxAttempts go to failed and
// stay visible to operators.
type QueueProcessor struct {
	store      QueueStore
	deliverer  Deliverer
	clock      clock.Clock
	log        *logrus.Logger
	batchSize  int
	retryDelay time.Duration
}

func NewQueueProcessor(store QueueStore, deliverer Deliverer, clk clock.Clock, log *logrus.Logger, batchSize int, retryDelay time.Duration) *QueueProcessor {
	if batchSize <= 0 {
		batchSize = 10
	}
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	return &QueueProcessor{
		store:      store,
		deliverer:  deliverer,
		clock:      clk,
		log:        log,
		batchSize:  batchSize,
		retryDelay: retryDelay,
	}
}

// ProcessOnce claims and works one batch, returning how many entries
// completed.
func (p *QueueProcessor) ProcessOnce(ctx context.Context) (int, error) {
	now := p.clock.Now()
	claimed, err := p.store.ClaimBatch(ctx, now, p.batchSize)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, c := range claimed {
		if err := p.deliverer.Deliver(ctx, c.Tenant, c.Entry); err != nil {
			p.handleFailure(ctx, c, err)
			continue
		}
		if err := p.store.MarkCompleted(ctx, c.Tenant, c.Entry.ID); err != nil {
			p.log.WithFields(logrus.Fields{"entryId": c.Entry.ID}).WithError(err).Error("mark completed")
			continue
		}
		completed++
	}
	return completed, nil
}

func (p *QueueProcessor) handleFailure(ctx context.Context, c ClaimedEntry, deliverErr error) {
	entry := c.Entry
	fields := logrus.Fields{
		"entryId":  entry.ID,
		"event":    entry.EventType,
		"orgId":    c.Tenant.OrgID,
		"attempts": entry.Attempts,
	}

	// Attempts was already incremented by the claim.
	if entry.Attempts >= entry.MaxAttempts {
		if err := p.store.MarkFailed(ctx, c.Tenant, entry.ID, deliverErr.Error()); err != nil {
			p.log.WithFields(fields).WithError(err).Error("mark failed")
			return
		}
		p.log.WithFields(fields).WithError(deliverErr).Error("notification exhausted retries")
		return
	}

	nextAt := p.clock.Now().Add(p.retryDelay * time.Duration(entry.Attempts))
	if err := p.store.Reschedule(ctx, c.Tenant, entry.ID, nextAt, deliverErr.Error()); err != nil {
		p.log.WithFields(fields).WithError(err).Error("reschedule")
		return
	}
	p.log.WithFields(fields).WithError(deliverErr).Warn("notification retry scheduled")
}
