package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/matchday-live/scraper/internal/models"
)

func TestTransitionQuietMinuteStillRecordsRun(t *testing.T) {
	h := newHarness(testJobsConfig())
	h.store.transitioned = 0

	if err := h.runner.Run(context.Background(), TransitionEvents); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := h.store.lastUpdatedRun(t)
	if final.Status != models.RunSuccess {
		t.Errorf("status = %q, want success", final.Status)
	}
	if final.ItemsUpdated != 0 {
		t.Errorf("items updated = %d, want 0 on a quiet minute", final.ItemsUpdated)
	}
}

func TestTransitionCountsFlippedEvents(t *testing.T) {
	h := newHarness(testJobsConfig())
	h.store.transitioned = 4

	if err := h.runner.Run(context.Background(), TransitionEvents); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final := h.store.lastUpdatedRun(t)
	if final.ItemsUpdated != 4 || final.ItemsProcessed != 4 {
		t.Errorf("updated=%d processed=%d, want 4/4", final.ItemsUpdated, final.ItemsProcessed)
	}
	if h.metrics.EventsUpdated.Load() != 4 {
		t.Errorf("events updated metric = %d, want 4", h.metrics.EventsUpdated.Load())
	}
}

func TestStuckLiveEventAlertsOnce(t *testing.T) {
	h := newHarness(testJobsConfig())
	stuck := candidate(9, "Arsenal", "Chelsea", h.now.Add(-8*time.Hour))
	stuck.Status = models.StatusLive
	h.store.stuckLive = []models.Event{stuck}

	for i := 0; i < 3; i++ {
		if err := h.runner.Run(context.Background(), TransitionEvents); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	warnings := 0
	for _, a := range h.store.alerts {
		if a.Severity == models.SeverityWarning {
			warnings++
		}
	}
	if warnings != 1 {
		t.Fatalf("warning alerts = %d, want 1 per stuck event regardless of sweeps", warnings)
	}

	// A second stuck event alerts independently.
	other := candidate(10, "Leeds United", "Everton", h.now.Add(-9*time.Hour))
	other.Status = models.StatusLive
	h.store.stuckLive = append(h.store.stuckLive, other)
	if err := h.runner.Run(context.Background(), TransitionEvents); err != nil {
		t.Fatalf("Run: %v", err)
	}
	warnings = 0
	for _, a := range h.store.alerts {
		if a.Severity == models.SeverityWarning {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("warning alerts = %d, want 2", warnings)
	}
}
