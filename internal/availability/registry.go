package availability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-hail/internal/cache"
	"github.com/example/ride-hail/internal/events"
	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/notify"
	"github.com/example/ride-hail/internal/observability"
	"github.com/example/ride-hail/internal/store"
)

// Registry owns a driver's online/offline state, location, service
// radius, and expiry. It keeps the proximity index in step with the
// store and invalidates the session cache on every toggle.
type Registry struct {
	Store    store.Store
	Index    geo.DriverIndex
	Notifier notify.Notifier
	Events   events.Publisher
	Cache    cache.Invalidator
	Logger   *slog.Logger
}

// SetAvailable marks the driver available at a location with a service
// radius, optionally bounded by a duration. A zero duration leaves the
// window open-ended.
func (r *Registry) SetAvailable(ctx context.Context, driverID string, loc models.GeoPoint, radiusMiles float64, duration time.Duration) (models.Availability, error) {
	if err := loc.Validate(); err != nil {
		return models.Availability{}, err
	}
	if radiusMiles < models.MinServiceRadiusMiles || radiusMiles > models.MaxServiceRadiusMiles {
		return models.Availability{}, models.Invalid("service radius must be between %g and %g miles",
			models.MinServiceRadiusMiles, models.MaxServiceRadiusMiles)
	}
	if duration < 0 {
		return models.Availability{}, models.Invalid("availability duration cannot be negative")
	}

	now := time.Now()
	a := models.Availability{
		IsAvailable:        true,
		Location:           &loc,
		ServiceRadiusMiles: &radiusMiles,
		StartedAt:          &now,
	}
	if duration > 0 {
		expires := now.Add(duration)
		a.ExpiresAt = &expires
	}

	if err := r.Store.SetDriverAvailability(ctx, driverID, a); err != nil {
		return models.Availability{}, err
	}
	if err := r.Index.Upsert(ctx, driverID, loc); err != nil {
		r.Logger.Error("index upsert failed", "driver_id", driverID, "error", err)
	}
	r.invalidate(ctx, driverID)
	r.publish(ctx, events.Event{Type: events.TypeDriverAvailable, DriverID: driverID, At: now})
	r.Logger.Info("driver available", "driver_id", driverID, "radius_miles", radiusMiles, "expires", a.ExpiresAt)
	return a, nil
}

// SetUnavailable clears the driver's availability snapshot.
func (r *Registry) SetUnavailable(ctx context.Context, driverID string) error {
	if err := r.Store.SetDriverAvailability(ctx, driverID, models.Availability{}); err != nil {
		return err
	}
	if err := r.Index.Remove(ctx, driverID); err != nil {
		r.Logger.Error("index remove failed", "driver_id", driverID, "error", err)
	}
	r.invalidate(ctx, driverID)
	r.publish(ctx, events.Event{Type: events.TypeDriverUnavailable, DriverID: driverID, At: time.Now()})
	r.Logger.Info("driver unavailable", "driver_id", driverID)
	return nil
}

// OpenAvailability returns the driver's snapshot only while it is live:
// available with an unset or future expiry. A stale record reads as
// "none" here even before a sweep corrects it.
func (r *Registry) OpenAvailability(ctx context.Context, driverID string) (models.Availability, bool, error) {
	d, err := r.Store.GetDriver(ctx, driverID)
	if err != nil {
		return models.Availability{}, false, err
	}
	if !d.Availability.Live(time.Now()) {
		return models.Availability{}, false, nil
	}
	return d.Availability, true, nil
}

// CloseExpired sweeps one driver whose window has passed back to
// unavailable and tells the driver. Idempotent: an already-closed driver
// is a no-op. Called by the scheduler job and inline by the matching
// engine.
func (r *Registry) CloseExpired(ctx context.Context, d *models.Driver) error {
	if !d.Availability.Expired(time.Now()) {
		return nil
	}
	if err := r.Store.SetDriverAvailability(ctx, d.ID, models.Availability{}); err != nil {
		return err
	}
	if err := r.Index.Remove(ctx, d.ID); err != nil {
		r.Logger.Error("index remove failed", "driver_id", d.ID, "error", err)
	}
	r.invalidate(ctx, d.ID)
	r.publish(ctx, events.Event{Type: events.TypeDriverUnavailable, DriverID: d.ID, At: time.Now()})

	msg := notify.Message{
		ContactID: d.ContactID,
		Kind:      notify.KindAvailabilityExpired,
		Body:      "Your availability window has ended. Set yourself available again to keep receiving ride requests.",
	}
	if err := r.Notifier.Notify(ctx, msg); err != nil {
		observability.NotifyFailuresTotal.Inc()
		r.Logger.Warn("expiry notification dropped", "driver_id", d.ID, "error", err)
	}
	r.Logger.Info("availability expired", "driver_id", d.ID)
	return nil
}

func (r *Registry) invalidate(ctx context.Context, actorID string) {
	if err := r.Cache.Invalidate(ctx, actorID); err != nil {
		r.Logger.Warn("session cache invalidation failed", "actor_id", actorID, "error", err)
	}
}

func (r *Registry) publish(ctx context.Context, e events.Event) {
	if err := r.Events.Publish(ctx, e); err != nil {
		r.Logger.Warn(fmt.Sprintf("event publish failed: %s", e.Type), "error", err)
	}
}
