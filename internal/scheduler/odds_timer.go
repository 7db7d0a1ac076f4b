package scheduler

import (
	"context"
	"time"

	"github.com/matchday-live/scraper/internal/jobs"
)

// urgency classifies how close the next scheduled kickoff is. The closer an
// event, the more often odds move and the tighter the sync cadence.
type urgency int

const (
	urgencyImminent urgency = iota // under 2 h
	urgencySoon                    // under 6 h
	urgencyLater                   // under 24 h
	urgencyNone                    // nothing inside a day
)

func (u urgency) String() string {
	switch u {
	case urgencyImminent:
		return "imminent"
	case urgencySoon:
		return "soon"
	case urgencyLater:
		return "later"
	default:
		return "none"
	}
}

// classifyUrgency buckets the gap to the next scheduled kickoff.
func classifyUrgency(until time.Duration, ok bool) urgency {
	switch {
	case !ok:
		return urgencyNone
	case until < 2*time.Hour:
		return urgencyImminent
	case until < 6*time.Hour:
		return urgencySoon
	case until < 24*time.Hour:
		return urgencyLater
	default:
		return urgencyNone
	}
}

// oddsDelayTable holds the base draw range and the hard floor per urgency.
var oddsDelayTable = map[urgency]struct {
	lo, hi, floor time.Duration
}{
	urgencyImminent: {45 * time.Minute, 75 * time.Minute, 30 * time.Minute},
	urgencySoon:     {60 * time.Minute, 90 * time.Minute, 45 * time.Minute},
	urgencyLater:    {90 * time.Minute, 150 * time.Minute, 60 * time.Minute},
	urgencyNone:     {4 * time.Hour, 6 * time.Hour, 3 * time.Hour},
}

// oddsJitter spreads fire times so the process never hits sources on a
// clean period.
const oddsJitter = 10 * time.Minute

// offPeakFactor stretches delays when nobody is trading. The small-hours
// band wins over the late-evening one where they overlap at midnight.
func offPeakFactor(hour int) float64 {
	switch {
	case hour < 6:
		return 1.5
	case hour >= 22:
		return 1.3
	case hour < 9:
		return 1.2
	default:
		return 1.0
	}
}

// computeOddsDelay draws the next odds-sync delay: a uniform draw from the
// urgency's base range, stretched by the off-peak factor for the local hour,
// plus jitter, clamped at the urgency's floor.
func (s *Scheduler) computeOddsDelay(u urgency, local time.Time) time.Duration {
	b := oddsDelayTable[u]
	base := b.lo + time.Duration(s.rng.Int63n(int64(b.hi-b.lo)+1))
	scaled := time.Duration(float64(base) * offPeakFactor(local.Hour()))
	jitter := time.Duration(s.rng.Int63n(int64(2*oddsJitter)+1)) - oddsJitter
	d := scaled + jitter
	if d < b.floor {
		d = b.floor
	}
	return d
}

// urgency reads the next kickoff and classifies it. A failed lookup assumes
// soon: stale odds cost more than one extra scrape cycle.
func (s *Scheduler) urgency(ctx context.Context) urgency {
	qctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	now := s.now()
	next, ok, err := s.starts.NextScheduledStart(qctx, now)
	if err != nil {
		s.logger.Warn("next kickoff lookup failed, assuming soon", "error", err)
		return urgencySoon
	}
	return classifyUrgency(next.Sub(now), ok)
}

// oddsLoop plans, sleeps, and fires sync-odds forever. Urgency is re-read at
// fire time: a board that emptied while we slept skips the run instead of
// burning source budget.
func (s *Scheduler) oddsLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		u := s.urgency(ctx)
		delay := s.computeOddsDelay(u, s.now().In(s.loc))
		fireAt := s.now().Add(delay)
		s.setNextAt(jobs.SyncOdds, fireAt)
		s.logger.Info("odds sync planned",
			"urgency", u.String(),
			"delay", delay.Round(time.Second).String(),
			"at", fireAt.In(s.loc).Format(time.RFC3339),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if s.urgency(ctx) == urgencyNone {
			s.logger.Info("no kickoff inside a day, odds sync skipped")
			continue
		}
		s.fire(jobs.SyncOdds)
	}
}
