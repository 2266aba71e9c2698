package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/app"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

type ReservationRepository struct {
	pool *pgxpool.Pool
}

func NewReservationRepository(pool *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

func (r *ReservationRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *ReservationRepository) Create(ctx context.Context, tenant domain.Tenant, res domain.Reservation) error {
	const resStmt = `
INSERT INTO reservations (
	id, organization_id, reservation_number, status, hold_hours, expires_at,
	priority, total_amount, advertiser_id, agency_id, campaign_id,
	created_by, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	q := runner(ctx, r.pool)
	_, err := q.Exec(ctx, resStmt,
		res.ID, tenant.OrgID, res.Number, res.Status, res.HoldHours, res.ExpiresAt,
		res.Priority, res.TotalAmount, res.AdvertiserID, res.AgencyID, res.CampaignID,
		res.CreatedBy, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("create reservation: %w", err)
	}

	const itemStmt = `
INSERT INTO reservation_items (
	id, reservation_id, show_id, episode_id, air_date, placement,
	spot_number, length_seconds, rate, notes
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, item := range res.Items {
		_, err := q.Exec(ctx, itemStmt,
			item.ID, res.ID, item.ShowID, item.EpisodeID, item.AirDate, item.Placement,
			item.SpotNumber, item.Length, item.Rate, item.Notes,
		)
		if err != nil {
			return fmt.Errorf("create reservation item: %w", err)
		}
	}
	return nil
}

func (r *ReservationRepository) GetForUpdate(ctx context.Context, tenant domain.Tenant, id string) (domain.Reservation, error) {
	const query = `
SELECT id, reservation_number, status, hold_hours, expires_at, priority,
       total_amount, advertiser_id, agency_id, campaign_id, created_by,
       release_reason, created_at, updated_at
FROM reservations
WHERE organization_id = $1 AND id = $2
FOR UPDATE`

	q := runner(ctx, r.pool)
	var res domain.Reservation
	err := q.QueryRow(ctx, query, tenant.OrgID, id).Scan(
		&res.ID, &res.Number, &res.Status, &res.HoldHours, &res.ExpiresAt, &res.Priority,
		&res.TotalAmount, &res.AdvertiserID, &res.AgencyID, &res.CampaignID, &res.CreatedBy,
		&res.ReleaseReason, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}

	const itemQuery = `
SELECT id, show_id, episode_id, air_date, placement, spot_number, length_seconds, rate, notes
FROM reservation_items
WHERE reservation_id = $1
ORDER BY spot_number`

	rows, err := q.Query(ctx, itemQuery, id)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("get reservation items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.ReservationItem
		if err := rows.Scan(&item.ID, &item.ShowID, &item.EpisodeID, &item.AirDate, &item.Placement,
			&item.SpotNumber, &item.Length, &item.Rate, &item.Notes); err != nil {
			return domain.Reservation{}, fmt.Errorf("scan reservation item: %w", err)
		}
		res.Items = append(res.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

// SetStatus is a compare-and-swap: the row transitions only when its
// current status is one of from. Returns false when the guard fails.
func (r *ReservationRepository) SetStatus(ctx context.Context, tenant domain.Tenant, id string, from []domain.ReservationStatus, to domain.ReservationStatus, reason *string) (bool, error) {
	const stmt = `
UPDATE reservations
SET status = $1, release_reason = COALESCE($2, release_reason), updated_at = NOW()
WHERE organization_id = $3 AND id = $4 AND status = ANY($5)`

	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	tag, err := runner(ctx, r.pool).Exec(ctx, stmt, to, reason, tenant.OrgID, id, statuses)
	if err != nil {
		return false, fmt.Errorf("set reservation status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ReservationRepository) CreateOrder(ctx context.Context, tenant domain.Tenant, order domain.Order) error {
	const stmt = `
INSERT INTO orders (id, organization_id, order_number, reservation_id, advertiser_id, campaign_id, total_amount, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := runner(ctx, r.pool).Exec(ctx, stmt,
		order.ID, tenant.OrgID, order.Number, order.ReservationID,
		order.AdvertiserID, order.CampaignID, order.TotalAmount, order.CreatedBy, order.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// ListDue scans across every organization; the sweeper runs once for the
// whole deployment.
func (r *ReservationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]app.DueReservation, error) {
	const query = `
SELECT organization_id, id
FROM reservations
WHERE status IN ('held', 'pending') AND expires_at <= $1
ORDER BY expires_at
LIMIT $2`

	rows, err := runner(ctx, r.pool).Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reservations: %w", err)
	}
	defer rows.Close()

	var due []app.DueReservation
	for rows.Next() {
		var d app.DueReservation
		if err := rows.Scan(&d.Tenant.OrgID, &d.ID); err != nil {
			return nil, fmt.Errorf("scan due reservation: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

func (r *ReservationRepository) FindBulkResult(ctx context.Context, tenant domain.Tenant, key string, now time.Time) (*domain.BulkCommitResult, error) {
	const query = `
SELECT result
FROM bulk_schedule_idempotency
WHERE organization_id = $1 AND idempotency_key = $2 AND expires_at > $3`

	var raw []byte
	err := runner(ctx, r.pool).QueryRow(ctx, query, tenant.OrgID, key, now).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find bulk result: %w", err)
	}

	var result domain.BulkCommitResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode bulk result: %w", err)
	}
	return &result, nil
}

// SaveBulkResult is insert-or-fetch: on a key collision the winner's
// stored result is returned instead of the caller's, with inserted
// false so a caller holding a transaction can roll its work back.
func (r *ReservationRepository) SaveBulkResult(ctx context.Context, tenant domain.Tenant, key string, result domain.BulkCommitResult, expiresAt time.Time) (domain.BulkCommitResult, bool, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return domain.BulkCommitResult{}, false, fmt.Errorf("encode bulk result: %w", err)
	}

	const stmt = `
INSERT INTO bulk_schedule_idempotency (organization_id, idempotency_key, result, expires_at, created_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (organization_id, idempotency_key) DO NOTHING`

	tag, err := runner(ctx, r.pool).Exec(ctx, stmt, tenant.OrgID, key, raw, expiresAt)
	if err != nil {
		return domain.BulkCommitResult{}, false, fmt.Errorf("save bulk result: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return result, true, nil
	}

	existing, err := r.FindBulkResult(ctx, tenant, key, time.Time{})
	if err != nil {
		return domain.BulkCommitResult{}, false, err
	}
	if existing == nil {
		return result, false, nil
	}
	return *existing, false, nil
}

// FindOpenSlot locates the earliest upcoming episode of a show with an
// available slot of the given placement. No match is not an error.
func (r *ReservationRepository) FindOpenSlot(ctx context.Context, tenant domain.Tenant, showID string, placement domain.PlacementType, notBefore time.Time) (string, time.Time, error) {
	prefix := columnPrefix(placement)
	query := fmt.Sprintf(`
SELECT episode_id, air_date
FROM episode_inventory
WHERE organization_id = $1 AND show_id = $2 AND air_date >= $3 AND %s_available > 0
ORDER BY air_date
LIMIT 1`, prefix)

	var episodeID string
	var airDate time.Time
	err := runner(ctx, r.pool).QueryRow(ctx, query, tenant.OrgID, showID, notBefore).Scan(&episodeID, &airDate)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, fmt.Errorf("find open slot: %w", err)
	}
	return episodeID, airDate, nil
}
