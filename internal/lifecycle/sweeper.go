package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-hail/internal/availability"
	"github.com/example/ride-hail/internal/events"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/notify"
	"github.com/example/ride-hail/internal/observability"
	"github.com/example/ride-hail/internal/rides"
	"github.com/example/ride-hail/internal/store"
)

// Sweep thresholds. Each job reads "now" once at invocation and compares
// ride times against these offsets.
const (
	staleOpenAfter     = 20 * time.Minute
	nudgeAfter         = 2 * time.Hour
	autoCancelAfter    = 24 * time.Hour
	reminderWindowNear = 15 * time.Minute
	reminderWindowFar  = 30 * time.Minute
)

// FailureReasonTimeout marks open rides nobody accepted in time.
const FailureReasonTimeout = "timeout"

// Sweeper reconciles state the interactive flow never revisits. Every
// job is idempotent and safe on overlapping schedules, and a failure on
// one record never aborts the rest of the sweep.
type Sweeper struct {
	Store        store.Store
	Availability *availability.Registry
	Rides        *rides.Registry
	Notifier     notify.Notifier
	Events       events.Publisher
	Logger       *slog.Logger
}

// CloseExpiredAvailability sweeps drivers whose availability window has
// passed back to unavailable. Runs every 5 minutes.
func (s *Sweeper) CloseExpiredAvailability(ctx context.Context) (int, error) {
	now := time.Now()
	drivers, err := s.Store.ExpiredAvailableDrivers(ctx, now)
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, d := range drivers {
		if err := s.Availability.CloseExpired(ctx, d); err != nil {
			observability.SweepErrorsTotal.WithLabelValues("close_expired_availability").Inc()
			s.Logger.Error("expiry close failed", "driver_id", d.ID, "error", err)
			continue
		}
		closed++
	}
	s.finish("close_expired_availability", closed)
	return closed, nil
}

// FailStaleOpenRides fails open rides nobody accepted whose ride time is
// at least 20 minutes past. Runs every minute.
func (s *Sweeper) FailStaleOpenRides(ctx context.Context) (int, error) {
	now := time.Now()
	stale, err := s.Store.StaleOpenRides(ctx, now.Add(-staleOpenAfter))
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, ride := range stale {
		updated, err := s.Store.FailRide(ctx, ride.ID, FailureReasonTimeout, now)
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
			// someone else moved it first
			continue
		}
		if err != nil {
			observability.SweepErrorsTotal.WithLabelValues("fail_stale_open_rides").Inc()
			s.Logger.Error("fail transition failed", "ride_id", ride.ID, "error", err)
			continue
		}
		failed++
		s.publish(ctx, events.Event{Type: events.TypeRideFailed, RideID: updated.ID, RiderID: updated.RiderID, Status: updated.Status, At: now})
		s.notifyRider(ctx, updated.RiderID, notify.KindRideFailed,
			fmt.Sprintf("No driver accepted your ride from %s to %s in time; the request has expired.",
				updated.Pickup.Name, updated.Dropoff.Name))
	}
	s.finish("fail_stale_open_rides", failed)
	return failed, nil
}

// NudgeStalledMatches reminds drivers of matched rides more than two
// hours past their ride time so they resolve them. The idempotency flag
// is set only after a successful delivery, so an undelivered nudge is
// retried on the next sweep. Runs every 30 minutes.
func (s *Sweeper) NudgeStalledMatches(ctx context.Context) (int, error) {
	now := time.Now()
	stalled, err := s.Store.MatchedRidesNeedingNudge(ctx, now.Add(-nudgeAfter))
	if err != nil {
		return 0, err
	}
	nudged := 0
	for _, ride := range stalled {
		driver, err := s.Store.GetDriver(ctx, ride.DriverID)
		if err != nil {
			observability.SweepErrorsTotal.WithLabelValues("nudge_stalled_matches").Inc()
			s.Logger.Error("driver lookup failed", "ride_id", ride.ID, "driver_id", ride.DriverID, "error", err)
			continue
		}
		msg := notify.Message{
			ContactID: driver.ContactID,
			Kind:      notify.KindStatusNudge,
			Body: fmt.Sprintf("Your ride from %s to %s was scheduled for %s. Please mark it completed or cancel it.",
				ride.Pickup.Name, ride.Dropoff.Name, ride.RideTime.Format(time.RFC822)),
		}
		if err := s.Notifier.Notify(ctx, msg); err != nil {
			observability.NotifyFailuresTotal.Inc()
			s.Logger.Warn("status nudge dropped", "ride_id", ride.ID, "error", err)
			continue
		}
		if err := s.Store.MarkStatusNotified(ctx, ride.ID); err != nil {
			observability.SweepErrorsTotal.WithLabelValues("nudge_stalled_matches").Inc()
			s.Logger.Error("nudge flag update failed", "ride_id", ride.ID, "error", err)
			continue
		}
		nudged++
	}
	s.finish("nudge_stalled_matches", nudged)
	return nudged, nil
}

// AutoCancelAbandonedMatches cancels matched rides a full day past their
// ride time, as the system actor. Runs hourly.
func (s *Sweeper) AutoCancelAbandonedMatches(ctx context.Context) (int, error) {
	now := time.Now()
	abandoned, err := s.Store.MatchedRidesOlderThan(ctx, now.Add(-autoCancelAfter))
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, ride := range abandoned {
		_, err := s.Rides.CancelRide(ctx, ride.ID, models.CancelledBySystem, "", "ride was never completed")
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			observability.SweepErrorsTotal.WithLabelValues("auto_cancel_abandoned").Inc()
			s.Logger.Error("auto-cancel failed", "ride_id", ride.ID, "error", err)
			continue
		}
		cancelled++
	}
	s.finish("auto_cancel_abandoned", cancelled)
	return cancelled, nil
}

// SendRideReminders notifies both participants of matched rides starting
// in 15 to 30 minutes, with each other's contact details. Runs every 15
// minutes; the flag keeps re-runs quiet.
func (s *Sweeper) SendRideReminders(ctx context.Context) (int, error) {
	now := time.Now()
	due, err := s.Store.MatchedRidesNeedingReminder(ctx, now.Add(reminderWindowNear), now.Add(reminderWindowFar))
	if err != nil {
		return 0, err
	}
	reminded := 0
	for _, ride := range due {
		rider, err := s.Store.GetRider(ctx, ride.RiderID)
		if err != nil {
			observability.SweepErrorsTotal.WithLabelValues("ride_reminders").Inc()
			s.Logger.Error("rider lookup failed", "ride_id", ride.ID, "error", err)
			continue
		}
		driver, err := s.Store.GetDriver(ctx, ride.DriverID)
		if err != nil {
			observability.SweepErrorsTotal.WithLabelValues("ride_reminders").Inc()
			s.Logger.Error("driver lookup failed", "ride_id", ride.ID, "error", err)
			continue
		}
		when := ride.RideTime.Format(time.Kitchen)
		s.notifyContact(ctx, rider.ContactID, notify.KindRideReminder,
			fmt.Sprintf("Your ride from %s leaves at %s. Driver: %s (%s).", ride.Pickup.Name, when, driver.Name, driver.ContactID))
		s.notifyContact(ctx, driver.ContactID, notify.KindRideReminder,
			fmt.Sprintf("Pickup at %s at %s. Rider: %s (%s).", ride.Pickup.Name, when, rider.Name, rider.ContactID))
		if err := s.Store.MarkReminderSent(ctx, ride.ID); err != nil {
			observability.SweepErrorsTotal.WithLabelValues("ride_reminders").Inc()
			s.Logger.Error("reminder flag update failed", "ride_id", ride.ID, "error", err)
			continue
		}
		reminded++
	}
	s.finish("ride_reminders", reminded)
	return reminded, nil
}

func (s *Sweeper) finish(job string, n int) {
	observability.SweepRecordsTotal.WithLabelValues(job).Add(float64(n))
	s.Logger.Info("sweep finished", "job", job, "records", n)
}

func (s *Sweeper) notifyRider(ctx context.Context, riderID, kind, body string) {
	rider, err := s.Store.GetRider(ctx, riderID)
	if err != nil {
		s.Logger.Warn("rider lookup for notification failed", "rider_id", riderID, "error", err)
		return
	}
	s.notifyContact(ctx, rider.ContactID, kind, body)
}

func (s *Sweeper) notifyContact(ctx context.Context, contactID, kind, body string) {
	if err := s.Notifier.Notify(ctx, notify.Message{ContactID: contactID, Kind: kind, Body: body}); err != nil {
		observability.NotifyFailuresTotal.Inc()
		s.Logger.Warn("notification dropped", "kind", kind, "error", err)
	}
}

func (s *Sweeper) publish(ctx context.Context, e events.Event) {
	if err := s.Events.Publish(ctx, e); err != nil {
		s.Logger.Warn("event publish failed", "type", e.Type, "error", err)
	}
}
