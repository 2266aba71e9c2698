package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/worker"
)

// NotificationRepository backs both the delivery pipeline and the queue
// worker.
type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func (r *NotificationRepository) FindDelivery(ctx context.Context, tenant domain.Tenant, key string) (*domain.Delivery, error) {
	const query = `
SELECT idempotency_key, event_type, recipient_id, channel, status, skip_reason, sent_at, metadata
FROM notification_deliveries
WHERE organization_id = $1 AND idempotency_key = $2`

	var d domain.Delivery
	var metaRaw []byte
	err := runner(ctx, r.pool).QueryRow(ctx, query, tenant.OrgID, key).Scan(
		&d.IdempotencyKey, &d.EventType, &d.RecipientID, &d.Channel,
		&d.Status, &d.SkipReason, &d.SentAt, &metaRaw,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find delivery: %w", err)
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode delivery metadata: %w", err)
		}
	}
	return &d, nil
}

// SaveDelivery is insert-or-fetch on the idempotency key: a concurrent
// duplicate send stores once and both callers see the stored row. The
// one exception is a failed row, which a retry is allowed to overwrite.
func (r *NotificationRepository) SaveDelivery(ctx context.Context, tenant domain.Tenant, d domain.Delivery) (domain.Delivery, error) {
	metaRaw, err := json.Marshal(d.Metadata)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("encode delivery metadata: %w", err)
	}

	const stmt = `
INSERT INTO notification_deliveries (organization_id, idempotency_key, event_type, recipient_id, channel, status, skip_reason, sent_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (organization_id, idempotency_key) DO UPDATE
SET status = EXCLUDED.status, skip_reason = EXCLUDED.skip_reason, sent_at = EXCLUDED.sent_at, metadata = EXCLUDED.metadata
WHERE notification_deliveries.status = 'failed'`

	tag, err := runner(ctx, r.pool).Exec(ctx, stmt,
		tenant.OrgID, d.IdempotencyKey, d.EventType, d.RecipientID, d.Channel,
		d.Status, d.SkipReason, d.SentAt, metaRaw,
	)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("save delivery: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return d, nil
	}

	existing, err := r.FindDelivery(ctx, tenant, d.IdempotencyKey)
	if err != nil {
		return domain.Delivery{}, err
	}
	if existing == nil {
		return d, nil
	}
	return *existing, nil
}

func (r *NotificationRepository) CreateInApp(ctx context.Context, tenant domain.Tenant, n domain.InAppNotification) error {
	const stmt = `
INSERT INTO notifications (id, organization_id, recipient_id, event_type, subject, body, read, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := runner(ctx, r.pool).Exec(ctx, stmt,
		n.ID, tenant.OrgID, n.RecipientID, n.EventType, n.Subject, n.Body, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create in-app notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) Enqueue(ctx context.Context, tenant domain.Tenant, e domain.QueueEntry) (int64, error) {
	payloadRaw, err := json.Marshal(e.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode queue payload: %w", err)
	}
	metaRaw, err := json.Marshal(e.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode queue metadata: %w", err)
	}

	const stmt = `
INSERT INTO notification_queue (organization_id, event_type, payload, recipient_ids, priority, scheduled_for, attempts, max_attempts, status, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`

	var id int64
	err = runner(ctx, r.pool).QueryRow(ctx, stmt,
		tenant.OrgID, e.EventType, payloadRaw, e.RecipientIDs, e.Priority,
		e.ScheduledFor, e.Attempts, e.MaxAttempts, e.Status, metaRaw, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue notification: %w", err)
	}
	return id, nil
}

func (r *NotificationRepository) GetOrgSettings(ctx context.Context, tenant domain.Tenant) (domain.NotificationSettings, error) {
	const query = `SELECT settings FROM org_notification_settings WHERE organization_id = $1`

	var raw []byte
	err := runner(ctx, r.pool).QueryRow(ctx, query, tenant.OrgID).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DefaultNotificationSettings(), nil
		}
		return domain.NotificationSettings{}, fmt.Errorf("get org notification settings: %w", err)
	}

	var settings domain.NotificationSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return domain.NotificationSettings{}, fmt.Errorf("decode org notification settings: %w", err)
	}
	return settings, nil
}

func (r *NotificationRepository) GetUserPreferences(ctx context.Context, tenant domain.Tenant, userID string) (domain.UserPreferences, error) {
	const query = `SELECT preferences FROM user_notification_preferences WHERE organization_id = $1 AND user_id = $2`

	var raw []byte
	err := runner(ctx, r.pool).QueryRow(ctx, query, tenant.OrgID, userID).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.UserPreferences{}, nil
		}
		return domain.UserPreferences{}, fmt.Errorf("get user preferences: %w", err)
	}

	var prefs domain.UserPreferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return domain.UserPreferences{}, fmt.Errorf("decode user preferences: %w", err)
	}
	return prefs, nil
}

// FindTemplate prefers the organization's template for the event/channel
// and falls back to the seeded global one (NULL organization_id).
func (r *NotificationRepository) FindTemplate(ctx context.Context, tenant domain.Tenant, event domain.EventType, channel domain.Channel) (domain.Template, error) {
	const query = `
SELECT subject, body
FROM notification_templates
WHERE (organization_id = $1 OR organization_id IS NULL) AND event_type = $2 AND channel = $3
ORDER BY organization_id NULLS LAST
LIMIT 1`

	var t domain.Template
	err := runner(ctx, r.pool).QueryRow(ctx, query, tenant.OrgID, event, channel).Scan(&t.Subject, &t.Body)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Template{}, &domain.TemplateNotFoundError{Event: event, Channel: channel}
		}
		return domain.Template{}, fmt.Errorf("find template: %w", err)
	}
	return t, nil
}

func (r *NotificationRepository) ListFailed(ctx context.Context, tenant domain.Tenant, limit int) ([]domain.QueueEntry, error) {
	const query = `
SELECT id, event_type, payload, recipient_ids, priority, scheduled_for, attempts, max_attempts, status, last_error, metadata, created_at
FROM notification_queue
WHERE organization_id = $1 AND status = 'failed'
ORDER BY created_at DESC
LIMIT $2`

	rows, err := runner(ctx, r.pool).Query(ctx, query, tenant.OrgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed queue entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClaimBatch atomically moves due pending rows to processing, bumping
// attempts, across every organization. SKIP LOCKED keeps concurrent
// workers off each other's rows.
func (r *NotificationRepository) ClaimBatch(ctx context.Context, now time.Time, limit int) ([]worker.ClaimedEntry, error) {
	const stmt = `
WITH due AS (
	SELECT id FROM notification_queue
	WHERE status = 'pending' AND scheduled_for <= $1
	ORDER BY priority, created_at
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE notification_queue q
SET status = 'processing', attempts = q.attempts + 1
FROM due
WHERE q.id = due.id
RETURNING q.organization_id, q.id, q.event_type, q.payload, q.recipient_ids, q.priority, q.scheduled_for, q.attempts, q.max_attempts, q.status, q.last_error, q.metadata, q.created_at`

	rows, err := runner(ctx, r.pool).Query(ctx, stmt, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim queue batch: %w", err)
	}
	defer rows.Close()

	var claimed []worker.ClaimedEntry
	for rows.Next() {
		var c worker.ClaimedEntry
		var payloadRaw, metaRaw []byte
		err := rows.Scan(
			&c.Tenant.OrgID, &c.Entry.ID, &c.Entry.EventType, &payloadRaw, &c.Entry.RecipientIDs,
			&c.Entry.Priority, &c.Entry.ScheduledFor, &c.Entry.Attempts, &c.Entry.MaxAttempts,
			&c.Entry.Status, &c.Entry.LastError, &metaRaw, &c.Entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan claimed entry: %w", err)
		}
		if err := decodeQueueJSON(payloadRaw, metaRaw, &c.Entry); err != nil {
			return nil, err
		}
		claimed = append(claimed, c)
	}
	return claimed, rows.Err()
}

func (r *NotificationRepository) MarkCompleted(ctx context.Context, tenant domain.Tenant, id int64) error {
	const stmt = `UPDATE notification_queue SET status = 'completed', last_error = NULL WHERE organization_id = $1 AND id = $2`
	if _, err := runner(ctx, r.pool).Exec(ctx, stmt, tenant.OrgID, id); err != nil {
		return fmt.Errorf("mark queue entry completed: %w", err)
	}
	return nil
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, tenant domain.Tenant, id int64, lastError string) error {
	const stmt = `UPDATE notification_queue SET status = 'failed', last_error = $1 WHERE organization_id = $2 AND id = $3`
	if _, err := runner(ctx, r.pool).Exec(ctx, stmt, lastError, tenant.OrgID, id); err != nil {
		return fmt.Errorf("mark queue entry failed: %w", err)
	}
	return nil
}

func (r *NotificationRepository) Reschedule(ctx context.Context, tenant domain.Tenant, id int64, nextAt time.Time, lastError string) error {
	const stmt = `UPDATE notification_queue SET status = 'pending', scheduled_for = $1, last_error = $2 WHERE organization_id = $3 AND id = $4`
	if _, err := runner(ctx, r.pool).Exec(ctx, stmt, nextAt, lastError, tenant.OrgID, id); err != nil {
		return fmt.Errorf("reschedule queue entry: %w", err)
	}
	return nil
}

func scanQueueEntry(rows pgx.Rows) (domain.QueueEntry, error) {
	var e domain.QueueEntry
	var payloadRaw, metaRaw []byte
	err := rows.Scan(
		&e.ID, &e.EventType, &payloadRaw, &e.RecipientIDs, &e.Priority,
		&e.ScheduledFor, &e.Attempts, &e.MaxAttempts, &e.Status, &e.LastError, &metaRaw, &e.CreatedAt,
	)
	if err != nil {
		return domain.QueueEntry{}, fmt.Errorf("scan queue entry: %w", err)
	}
	if err := decodeQueueJSON(payloadRaw, metaRaw, &e); err != nil {
		return domain.QueueEntry{}, err
	}
	return e, nil
}

func decodeQueueJSON(payloadRaw, metaRaw []byte, e *domain.QueueEntry) error {
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &e.Payload); err != nil {
			return fmt.Errorf("decode queue payload: %w", err)
		}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &e.Metadata); err != nil {
			return fmt.Errorf("decode queue metadata: %w", err)
		}
	}
	return nil
}
