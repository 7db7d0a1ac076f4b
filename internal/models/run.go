package models

import (
	"time"
)

// RunStatus is the lifecycle state of a scraper run row.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunPartial RunStatus = "partial"
)

// ScraperRun records one job invocation. A row is inserted with status
// running when the job starts and updated exactly once when it ends.
type ScraperRun struct {
	ID             int64
	JobType        string
	Source         string
	Status         RunStatus
	StartedAt      time.Time
	FinishedAt     *time.Time
	DurationMS     int64
	ItemsProcessed int
	ItemsCreated   int
	ItemsUpdated   int
	ItemsFailed    int
	// SportBreakdown maps sport slug to items processed for that sport.
	SportBreakdown map[string]int
	Error          string
}

// AlertSeverity grades a ScraperAlert.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// ScraperAlert is a monitoring row surfaced to the admin console.
type ScraperAlert struct {
	ID           int64
	Severity     AlertSeverity
	Message      string
	RunID        *int64
	Acknowledged bool
	CreatedAt    time.Time
}
