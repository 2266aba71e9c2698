package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

// CampaignRepository serves both the conflict checker's reads and the
// trigger engine's campaign mutations.
type CampaignRepository struct {
	pool *pgxpool.Pool
}

func NewCampaignRepository(pool *pgxpool.Pool) *CampaignRepository {
	return &CampaignRepository{pool: pool}
}

func (r *CampaignRepository) ListAdvertiserCategories(ctx context.Context, tenant domain.Tenant, advertiserID string) ([]domain.AdvertiserCategory, error) {
	const query = `
SELECT ac.category_id, cg.id, cg.name, cg.conflict_mode
FROM advertiser_categories ac
JOIN competitive_groups cg ON cg.id = ac.group_id AND cg.organization_id = ac.organization_id
WHERE ac.organization_id = $1 AND ac.advertiser_id = $2`

	rows, err := runner(ctx, r.pool).Query(ctx, query, tenant.OrgID, advertiserID)
	if err != nil {
		return nil, fmt.Errorf("list advertiser categories: %w", err)
	}
	defer rows.Close()

	var categories []domain.AdvertiserCategory
	for rows.Next() {
		var c domain.AdvertiserCategory
		if err := rows.Scan(&c.CategoryID, &c.GroupID, &c.GroupName, &c.Mode); err != nil {
			return nil, fmt.Errorf("scan advertiser category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// ListCompetingCampaigns returns campaigns of other advertisers in the
// group whose flight dates overlap the range. The Competing filter
// (status/probability) stays in the service so the rule lives in one
// place.
func (r *CampaignRepository) ListCompetingCampaigns(ctx context.Context, tenant domain.Tenant, groupID, excludeAdvertiserID string, rng domain.DateRange) ([]domain.Campaign, error) {
	const query = `
SELECT c.id, c.advertiser_id, c.name, c.probability, c.status, c.start_date, c.end_date, c.approval_required
FROM campaigns c
JOIN advertiser_categories ac ON ac.advertiser_id = c.advertiser_id AND ac.organization_id = c.organization_id
WHERE c.organization_id = $1
  AND ac.group_id = $2
  AND c.advertiser_id <> $3
  AND c.start_date <= $4
  AND c.end_date >= $5`

	rows, err := runner(ctx, r.pool).Query(ctx, query, tenant.OrgID, groupID, excludeAdvertiserID, rng.End, rng.Start)
	if err != nil {
		return nil, fmt.Errorf("list competing campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.AdvertiserID, &c.Name, &c.Probability, &c.Status, &c.StartDate, &c.EndDate, &c.ApprovalRequired); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) CreateOverride(ctx context.Context, tenant domain.Tenant, override domain.ConflictOverride) error {
	const stmt = `
INSERT INTO conflict_overrides (id, organization_id, campaign_id, user_id, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := runner(ctx, r.pool).Exec(ctx, stmt,
		override.ID, tenant.OrgID, override.CampaignID, override.UserID, override.Reason, override.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create conflict override: %w", err)
	}
	return nil
}

func (r *CampaignRepository) SetApprovalRequired(ctx context.Context, tenant domain.Tenant, campaignID string, required bool) error {
	const stmt = `UPDATE campaigns SET approval_required = $1, updated_at = NOW() WHERE organization_id = $2 AND id = $3`
	tag, err := runner(ctx, r.pool).Exec(ctx, stmt, required, tenant.OrgID, campaignID)
	if err != nil {
		return fmt.Errorf("set approval required: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidID
	}
	return nil
}

func (r *CampaignRepository) UpdateProbability(ctx context.Context, tenant domain.Tenant, campaignID string, probability int) error {
	const stmt = `UPDATE campaigns SET probability = $1, updated_at = NOW() WHERE organization_id = $2 AND id = $3`
	tag, err := runner(ctx, r.pool).Exec(ctx, stmt, probability, tenant.OrgID, campaignID)
	if err != nil {
		return fmt.Errorf("update probability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidID
	}
	return nil
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, tenant domain.Tenant, campaignID string, status domain.CampaignStatus) error {
	const stmt = `UPDATE campaigns SET status = $1, updated_at = NOW() WHERE organization_id = $2 AND id = $3`
	tag, err := runner(ctx, r.pool).Exec(ctx, stmt, status, tenant.OrgID, campaignID)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidID
	}
	return nil
}
