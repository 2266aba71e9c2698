package app

import (
	"context"

	"github.com/ebfarnell/podcastflow-pro-sub013/internal/clock"
	"github.com/ebfarnell/podcastflow-pro-sub013/internal/domain"
)

type ConflictRepository interface {
	ListAdvertiserCategories(ctx context.Context, tenant domain.Tenant, advertiserID string) ([]domain.AdvertiserCategory, error)
	ListCompetingCampaigns(ctx context.Context, tenant domain.Tenant, groupID, excludeAdvertiserID string, rng domain.DateRange) ([]domain.Campaign, error)
	CreateOverride(ctx context.Context, tenant domain.Tenant, override domain.ConflictOverride) error
}

// ConflictService is the read-only competitive-category gate consulted
// before reservation or campaign commitment.
type ConflictService struct {
	repo  ConflictRepository
	clock clock.Clock
}

func NewConflictService(repo ConflictRepository, clk clock.Clock) *ConflictService {
	return &ConflictService{repo: repo, clock: clk}
}

// CheckConflicts finds other advertisers sharing a competitive group
// with an active or high-probability campaign overlapping the range. One
// Conflict per (category, group), carrying the colliding campaigns.
func (s *ConflictService) CheckConflicts(ctx context.Context, tenant domain.Tenant, advertiserID string, rng domain.DateRange, excludeCampaignID string) ([]domain.Conflict, error) {
	if !tenant.Valid() {
		return nil, domain.ErrInvalidTenant
	}
	if advertiserID == "" {
		return nil, domain.ErrInvalidID
	}

	categories, err := s.repo.ListAdvertiserCategories(ctx, tenant, advertiserID)
	if err != nil {
		return nil, err
	}

	var conflicts []domain.Conflict
	for _, cat := range categories {
		campaigns, err := s.repo.ListCompetingCampaigns(ctx, tenant, cat.GroupID, advertiserID, rng)
		if err != nil {
			return nil, err
		}

		colliding := campaigns[:0]
		for _, c := range campaigns {
			if c.ID == excludeCampaignID {
				continue
			}
			if !c.Competing() {
				continue
			}
			colliding = append(colliding, c)
		}
		if len(colliding) == 0 {
			continue
		}

		conflicts = append(conflicts, domain.Conflict{
			CategoryID: cat.CategoryID,
			GroupID:    cat.GroupID,
			GroupName:  cat.GroupName,
			Mode:       cat.Mode,
			Campaigns:  colliding,
		})
	}
	return conflicts, nil
}

// RecordOverride stores an admin's forced pass-through for audit.
func (s *ConflictService) RecordOverride(ctx context.Context, tenant domain.Tenant, campaignID, userID, reason string) error {
	if !tenant.Valid() {
		return domain.ErrInvalidTenant
	}
	return s.repo.CreateOverride(ctx, tenant, domain.ConflictOverride{
		ID:         newID(),
		CampaignID: campaignID,
		UserID:     userID,
		Reason:     reason,
		CreatedAt:  s.clock.Now(),
	})
}
