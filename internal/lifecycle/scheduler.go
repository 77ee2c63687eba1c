package lifecycle

import (
	"context"
	"sync"
	"time"
)

// Job names, also used as the on-demand trigger surface.
const (
	JobCloseExpiredAvailability = "close_expired_availability"
	JobFailStaleOpenRides       = "fail_stale_open_rides"
	JobNudgeStalledMatches      = "nudge_stalled_matches"
	JobAutoCancelAbandoned      = "auto_cancel_abandoned"
	JobRideReminders            = "ride_reminders"
)

// Intervals configures how often each sweep runs.
type Intervals struct {
	CloseExpiredAvailability time.Duration
	FailStaleOpenRides       time.Duration
	NudgeStalledMatches      time.Duration
	AutoCancelAbandoned      time.Duration
	RideReminders            time.Duration
}

// Scheduler drives the sweeper's jobs on independent tickers. Each job
// also fires once at startup so a restart does not wait a full interval
// to reconcile.
type Scheduler struct {
	Sweeper   *Sweeper
	Intervals Intervals
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	jobs := []struct {
		every time.Duration
		run   func(context.Context) (int, error)
	}{
		{s.Intervals.CloseExpiredAvailability, s.Sweeper.CloseExpiredAvailability},
		{s.Intervals.FailStaleOpenRides, s.Sweeper.FailStaleOpenRides},
		{s.Intervals.NudgeStalledMatches, s.Sweeper.NudgeStalledMatches},
		{s.Intervals.AutoCancelAbandoned, s.Sweeper.AutoCancelAbandonedMatches},
		{s.Intervals.RideReminders, s.Sweeper.SendRideReminders},
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(every time.Duration, run func(context.Context) (int, error)) {
			defer wg.Done()
			if _, err := run(ctx); err != nil {
				s.Sweeper.Logger.Error("sweep failed", "error", err)
			}
			t := time.NewTicker(every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if _, err := run(ctx); err != nil {
						s.Sweeper.Logger.Error("sweep failed", "error", err)
					}
				}
			}
		}(j.every, j.run)
	}
	wg.Wait()
}

// RunJob triggers one named job on demand, for operational testing.
// Unknown names return ok=false.
func (s *Scheduler) RunJob(ctx context.Context, name string) (int, bool, error) {
	var run func(context.Context) (int, error)
	switch name {
	case JobCloseExpiredAvailability:
		run = s.Sweeper.CloseExpiredAvailability
	case JobFailStaleOpenRides:
		run = s.Sweeper.FailStaleOpenRides
	case JobNudgeStalledMatches:
		run = s.Sweeper.NudgeStalledMatches
	case JobAutoCancelAbandoned:
		run = s.Sweeper.AutoCancelAbandonedMatches
	case JobRideReminders:
		run = s.Sweeper.SendRideReminders
	default:
		return 0, false, nil
	}
	n, err := run(ctx)
	return n, true, err
}
