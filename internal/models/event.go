package models

import (
	"time"
)

// EventStatus is the lifecycle state of a fixture. The string values are the
// exact spellings of the shared schema's enum.
type EventStatus string

const (
	StatusScheduled EventStatus = "scheduled"
	StatusLive      EventStatus = "live"
	StatusFinished  EventStatus = "finished"
	StatusCancelled EventStatus = "cancelled"
	StatusPostponed EventStatus = "postponed"
)

// validTransitions enumerates every allowed status change. Anything not
// listed here is rejected by CanTransition.
var validTransitions = map[EventStatus][]EventStatus{
	StatusScheduled: {StatusLive, StatusCancelled, StatusPostponed},
	StatusLive:      {StatusFinished},
}

// CanTransition reports whether an event may move from one status to another.
func CanTransition(from, to EventStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// MarketType identifies a betting market kind; values match the schema enum.
type MarketType string

const (
	MarketMatchWinner    MarketType = "match_winner"
	MarketOverUnderGoals MarketType = "over_under_goals"
)

// Odds bounds for any persisted outcome price.
const (
	MinOdds = 1.01
	MaxOdds = 1000.0
)

// ClampOdds forces a price into the valid decimal-odds domain.
func ClampOdds(odds float64) float64 {
	if odds < MinOdds {
		return MinOdds
	}
	if odds > MaxOdds {
		return MaxOdds
	}
	return odds
}

// Sport is a static taxonomy row.
type Sport struct {
	ID   int64
	Name string
	Slug string
}

// Competition groups events under a sport.
type Competition struct {
	ID      int64
	SportID int64
	Name    string
}

// Team is a canonical participant.
type Team struct {
	ID          int64
	DisplayName string
	ShortName   string
}

// TeamAlias maps a raw scraped name to a canonical team for one source.
type TeamAlias struct {
	TeamID     int64
	Alias      string
	SourceName string
}

// Event is a unique fixture. HomeTeam/AwayTeam carry the canonical display
// names alongside the ids so callers rarely need a second lookup.
type Event struct {
	ID            int64
	Sport         string
	CompetitionID int64
	Competition   string
	HomeTeamID    int64
	HomeTeam      string
	AwayTeamID    int64
	AwayTeam      string
	StartTime     time.Time
	Status        EventStatus
	HomeScore     *int
	AwayScore     *int
	Period        string
	Minute        *int
	// ExternalIDs maps source name to that source's id for this fixture.
	ExternalIDs map[string]string
	UpdatedAt   time.Time
}

// Market is a betting market attached to an event.
type Market struct {
	ID        int64
	EventID   int64
	Type      MarketType
	Line      *float64
	Suspended bool
}

// Outcome is a priced option within a market.
type Outcome struct {
	ID           int64
	MarketID     int64
	Name         string
	Odds         float64
	PreviousOdds *float64
	Winner       *bool
}

// OutcomePrice is the write-side shape for an odds update. PreviousOdds is
// filled by the store from the row being replaced.
type OutcomePrice struct {
	Name string
	Odds float64
}
