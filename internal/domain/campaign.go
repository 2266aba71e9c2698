package domain

import "time"

type CampaignStatus string

const (
	CampaignProposal CampaignStatus = "proposal"
	CampaignActive   CampaignStatus = "active"
	CampaignWon      CampaignStatus = "won"
	CampaignLost     CampaignStatus = "lost"
)

// Campaign carries the fields the conflict checker and trigger evaluator
// consume; full campaign management lives outside this core.
type Campaign struct {
	ID               string
	AdvertiserID     string
	Name             string
	Probability      int
	Status           CampaignStatus
	StartDate        time.Time
	EndDate          time.Time
	ApprovalRequired bool
}

// Competing reports whether the campaign counts against a shared
// competitive group: active, or still likely enough to land.
func (c Campaign) Competing() bool {
	return c.Status == CampaignActive || c.Probability >= 50
}

// DateRange is an inclusive air-date window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) Overlaps(start, end time.Time) bool {
	return !r.Start.After(end) && !start.After(r.End)
}

type ConflictMode string

const (
	ConflictWarn  ConflictMode = "warn"
	ConflictBlock ConflictMode = "block"
)

// AdvertiserCategory binds an advertiser to a competitive group.
type AdvertiserCategory struct {
	CategoryID string
	GroupID    string
	GroupName  string
	Mode       ConflictMode
}

// Conflict is one (category, competitive group) collision with the
// campaigns that caused it.
type Conflict struct {
	CategoryID string
	GroupID    string
	GroupName  string
	Mode       ConflictMode
	Campaigns  []Campaign
}

// ConflictDecision partitions conflicts by mode.
type ConflictDecision struct {
	CanProceed bool
	BlockedBy  []Conflict
	Warnings   []Conflict
}

// CanProceedWithConflicts is a pure gate: block-mode conflicts stop the
// operation, warn-mode ones are advisory.
func CanProceedWithConflicts(conflicts []Conflict) ConflictDecision {
	decision := ConflictDecision{CanProceed: true}
	for _, c := range conflicts {
		if c.Mode == ConflictBlock {
			decision.BlockedBy = append(decision.BlockedBy, c)
			decision.CanProceed = false
		} else {
			decision.Warnings = append(decision.Warnings, c)
		}
	}
	return decision
}

// ConflictOverride records an admin forcing a blocked commitment through.
type ConflictOverride struct {
	ID         string
	CampaignID string
	UserID     string
	Reason     string
	CreatedAt  time.Time
}
