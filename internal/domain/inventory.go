package domain

import "time"

type PlacementType string

const (
	PlacementPreRoll  PlacementType = "preroll"
	PlacementMidRoll  PlacementType = "midroll"
	PlacementPostRoll PlacementType = "postroll"
)

// Placements lists every placement type in canonical order.
var Placements = []PlacementType{PlacementPreRoll, PlacementMidRoll, PlacementPostRoll}

func (p PlacementType) Valid() bool {
	switch p {
	case PlacementPreRoll, PlacementMidRoll, PlacementPostRoll:
		return true
	}
	return false
}

// SlotCounts tracks capacity for one placement type of one episode.
// Invariant: Available + Reserved + Booked == Slots, all non-negative.
type SlotCounts struct {
	Slots     int
	Available int
	Reserved  int
	Booked    int
}

func (c SlotCounts) Consistent() bool {
	if c.Available < 0 || c.Reserved < 0 || c.Booked < 0 || c.Slots < 0 {
		return false
	}
	return c.Available+c.Reserved+c.Booked == c.Slots
}

// EpisodeInventory is the authoritative slot ledger for one episode.
type EpisodeInventory struct {
	EpisodeID  string
	ShowID     string
	AirDate    time.Time
	Placements map[PlacementType]SlotCounts
	UpdatedAt  time.Time
}

// InventoryAlert records an overbooked ledger state. Legacy data allows
// direct edits, so detection happens on every adjustment as a last line
// of defense.
type InventoryAlert struct {
	ID        string
	EpisodeID string
	Placement PlacementType
	Slots     int
	Reserved  int
	Booked    int
	CreatedAt time.Time
}

// ShowSlotConfig controls how an episode's length maps to ad slots.
type ShowSlotConfig struct {
	MaxMidRolls         int
	MidRollEveryMinutes int
}

// DefaultShowSlotConfig mirrors the standard show setup: one mid-roll
// per 15 minutes of content, at most three.
func DefaultShowSlotConfig() ShowSlotConfig {
	return ShowSlotConfig{MaxMidRolls: 3, MidRollEveryMinutes: 15}
}

// DeriveSlotCounts computes slot capacity from episode length. Every episode
// gets one pre-roll and one post-roll; mid-rolls scale with duration.
func DeriveSlotCounts(lengthMinutes int, cfg ShowSlotConfig) map[PlacementType]int {
	if cfg.MidRollEveryMinutes <= 0 {
		cfg.MidRollEveryMinutes = 15
	}
	if cfg.MaxMidRolls <= 0 {
		cfg.MaxMidRolls = 3
	}

	midRolls := 0
	if lengthMinutes >= 10 {
		midRolls = lengthMinutes / cfg.MidRollEveryMinutes
		if midRolls < 1 {
			midRolls = 1
		}
		if midRolls > cfg.MaxMidRolls {
			midRolls = cfg.MaxMidRolls
		}
	}

	return map[PlacementType]int{
		PlacementPreRoll:  1,
		PlacementMidRoll:  midRolls,
		PlacementPostRoll: 1,
	}
}
