package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

type InventoryRepository struct {
	pool *pgxpool.Pool
}

func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

func (r *InventoryRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// columnPrefix maps a validated placement type to its column group.
// Placement is an enum checked at the service boundary, never caller
// input spliced into SQL.
func columnPrefix(p domain.PlacementType) string {
	switch p {
	case domain.PlacementPreRoll:
		return "preroll"
	case domain.PlacementMidRoll:
		return "midroll"
	default:
		return "postroll"
	}
}

func (r *InventoryRepository) GetForUpdate(ctx context.Context, tenant domain.Tenant, episodeID string) (domain.EpisodeInventory, error) {
	const query = `
SELECT episode_id, show_id, air_date,
       preroll_slots, preroll_available, preroll_reserved, preroll_booked,
       midroll_slots, midroll_available, midroll_reserved, midroll_booked,
       postroll_slots, postroll_available, postroll_reserved, postroll_booked,
       updated_at
FROM episode_inventory
WHERE organization_id = $1 AND episode_id = $2
FOR UPDATE`

	inv := domain.EpisodeInventory{Placements: make(map[domain.PlacementType]domain.SlotCounts, 3)}
	var pre, mid, post domain.SlotCounts
	err := runner(ctx, r.pool).QueryRow(ctx, query, tenant.OrgID, episodeID).Scan(
		&inv.EpisodeID, &inv.ShowID, &inv.AirDate,
		&pre.Slots, &pre.Available, &pre.Reserved, &pre.Booked,
		&mid.Slots, &mid.Available, &mid.Reserved, &mid.Booked,
		&post.Slots, &post.Available, &post.Reserved, &post.Booked,
		&inv.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.EpisodeInventory{}, domain.ErrInventoryNotFound
		}
		return domain.EpisodeInventory{}, fmt.Errorf("get inventory: %w", err)
	}
	inv.Placements[domain.PlacementPreRoll] = pre
	inv.Placements[domain.PlacementMidRoll] = mid
	inv.Placements[domain.PlacementPostRoll] = post
	return inv, nil
}

func (r *InventoryRepository) Create(ctx context.Context, tenant domain.Tenant, inv domain.EpisodeInventory) error {
	const stmt = `
INSERT INTO episode_inventory (
	organization_id, episode_id, show_id, air_date,
	preroll_slots, preroll_available, preroll_reserved, preroll_booked,
	midroll_slots, midroll_available, midroll_reserved, midroll_booked,
	postroll_slots, postroll_available, postroll_reserved, postroll_booked,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	pre := inv.Placements[domain.PlacementPreRoll]
	mid := inv.Placements[domain.PlacementMidRoll]
	post := inv.Placements[domain.PlacementPostRoll]

	_, err := runner(ctx, r.pool).Exec(ctx, stmt,
		tenant.OrgID, inv.EpisodeID, inv.ShowID, inv.AirDate,
		pre.Slots, pre.Available, pre.Reserved, pre.Booked,
		mid.Slots, mid.Available, mid.Reserved, mid.Booked,
		post.Slots, post.Available, post.Reserved, post.Booked,
		inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("create inventory: %w", err)
	}
	return nil
}

func (r *InventoryRepository) UpdateCounts(ctx context.Context, tenant domain.Tenant, episodeID string, placement domain.PlacementType, counts domain.SlotCounts) error {
	prefix := columnPrefix(placement)
	stmt := fmt.Sprintf(`
UPDATE episode_inventory
SET %[1]s_slots = $1, %[1]s_available = $2, %[1]s_reserved = $3, %[1]s_booked = $4, updated_at = NOW()
WHERE organization_id = $5 AND episode_id = $6`, prefix)

	tag, err := runner(ctx, r.pool).Exec(ctx, stmt,
		counts.Slots, counts.Available, counts.Reserved, counts.Booked,
		tenant.OrgID, episodeID,
	)
	if err != nil {
		return fmt.Errorf("update inventory counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInventoryNotFound
	}
	return nil
}

func (r *InventoryRepository) RecordAlert(ctx context.Context, tenant domain.Tenant, alert domain.InventoryAlert) error {
	const stmt = `
INSERT INTO inventory_alerts (id, organization_id, episode_id, placement, slots, reserved, booked, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := runner(ctx, r.pool).Exec(ctx, stmt,
		alert.ID, tenant.OrgID, alert.EpisodeID, alert.Placement,
		alert.Slots, alert.Reserved, alert.Booked, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record inventory alert: %w", err)
	}
	return nil
}

func (r *InventoryRepository) ListAlerts(ctx context.Context, tenant domain.Tenant, limit int) ([]domain.InventoryAlert, error) {
	const query = `
SELECT id, episode_id, placement, slots, reserved, booked, created_at
FROM inventory_alerts
WHERE organization_id = $1
ORDER BY created_at DESC
LIMIT $2`

	rows, err := runner(ctx, r.pool).Query(ctx, query, tenant.OrgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list inventory alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.InventoryAlert
	for rows.Next() {
		var a domain.InventoryAlert
		if err := rows.Scan(&a.ID, &a.EpisodeID, &a.Placement, &a.Slots, &a.Reserved, &a.Booked, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
