package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ride-hail/internal/cache"
	"github.com/example/ride-hail/internal/events"
	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/match"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/notify"
	"github.com/example/ride-hail/internal/observability"
	"github.com/example/ride-hail/internal/store"
)

// DriverFinder surfaces nearby-driver candidates for a new ride.
type DriverFinder interface {
	FindDriversForRide(ctx context.Context, ride *models.Ride) ([]match.DriverCandidate, error)
}

// Registry owns ride records and the guarded status transitions. All
// mutations go through the store's conditional updates; the registry
// validates input, renders notifications, and keeps the session cache
// and event stream in step. Notification and publish failures are logged
// and dropped — they never undo a committed transition.
type Registry struct {
	Store    store.Store
	Index    geo.DriverIndex
	Finder   DriverFinder
	Notifier notify.Notifier
	Events   events.Publisher
	Cache    cache.Invalidator
	Logger   *slog.Logger
}

// RideRequest carries the rider-owned fields of a ride.
type RideRequest struct {
	RiderID  string          `json:"rider_id"`
	Pickup   models.Place    `json:"pickup"`
	Dropoff  models.Place    `json:"dropoff"`
	Bid      decimal.Decimal `json:"bid"`
	RideTime time.Time       `json:"ride_time"`
}

func (req *RideRequest) validate() error {
	if req.RiderID == "" {
		return models.Invalid("rider id is required")
	}
	if err := req.Pickup.Point.Validate(); err != nil {
		return err
	}
	if err := req.Dropoff.Point.Validate(); err != nil {
		return err
	}
	if req.Pickup.Name == "" || req.Dropoff.Name == "" {
		return models.Invalid("pickup and drop-off names are required")
	}
	if !req.Bid.IsPositive() {
		return models.Invalid("bid must be positive")
	}
	if req.RideTime.Before(time.Now().Add(models.MinRideLeadTime)) {
		return models.Invalid("ride time must be at least %d minutes in the future",
			int(models.MinRideLeadTime.Minutes()))
	}
	return nil
}

// CreateRide validates and persists a new open ride, then tells nearby
// available drivers about it, best-effort.
func (r *Registry) CreateRide(ctx context.Context, req RideRequest) (*models.Ride, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ride := &models.Ride{
		ID:       uuid.NewString(),
		RiderID:  req.RiderID,
		Pickup:   req.Pickup,
		Dropoff:  req.Dropoff,
		Bid:      req.Bid,
		RideTime: req.RideTime,
		Status:   models.RideStatusOpen,
	}
	if err := r.Store.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	r.invalidate(ctx, ride.RiderID)
	r.publish(ctx, events.Event{Type: events.TypeRideCreated, RideID: ride.ID, RiderID: ride.RiderID, Status: ride.Status, At: time.Now()})
	r.Logger.Info("ride created", "ride_id", ride.ID, "rider_id", ride.RiderID, "ride_time", ride.RideTime)

	r.notifyNearbyDrivers(ctx, ride)
	return ride, nil
}

// notifyNearbyDrivers offers the new ride to every eligible driver. One
// failed delivery never stops the rest.
func (r *Registry) notifyNearbyDrivers(ctx context.Context, ride *models.Ride) {
	if r.Finder == nil {
		return
	}
	cands, err := r.Finder.FindDriversForRide(ctx, ride)
	if err != nil {
		r.Logger.Warn("nearby-driver lookup failed", "ride_id", ride.ID, "error", err)
		return
	}
	for _, c := range cands {
		msg := notify.Message{
			ContactID: c.Driver.ContactID,
			Kind:      notify.KindNearbyRide,
			Body: fmt.Sprintf("New ride request %.2f mi away: %s to %s at %s, bid $%s.",
				c.DistanceMiles, ride.Pickup.Name, ride.Dropoff.Name,
				ride.RideTime.Format(time.Kitchen), ride.Bid.StringFixed(2)),
		}
		if err := r.Notifier.Notify(ctx, msg); err != nil {
			observability.NotifyFailuresTotal.Inc()
			r.Logger.Warn("nearby-ride notification dropped", "ride_id", ride.ID, "driver_id", c.Driver.ID, "error", err)
		}
	}
}

// UpdateRideDetails rewrites the rider-owned fields while the ride is
// still open.
func (r *Registry) UpdateRideDetails(ctx context.Context, rideID string, req RideRequest) (*models.Ride, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ride := &models.Ride{
		ID:       rideID,
		Pickup:   req.Pickup,
		Dropoff:  req.Dropoff,
		Bid:      req.Bid,
		RideTime: req.RideTime,
	}
	if err := r.Store.UpdateOpenRide(ctx, ride, req.RiderID); err != nil {
		return nil, err
	}
	r.invalidate(ctx, req.RiderID)
	r.publish(ctx, events.Event{Type: events.TypeRideUpdated, RideID: rideID, RiderID: req.RiderID, At: time.Now()})
	return r.Store.GetRide(ctx, rideID)
}

// DeleteOpenRide removes a still-open ride outright at its requester's
// request. Accepted rides cannot be deleted, only cancelled.
func (r *Registry) DeleteOpenRide(ctx context.Context, rideID, riderID string) error {
	if err := r.Store.DeleteOpenRide(ctx, rideID, riderID); err != nil {
		return err
	}
	r.invalidate(ctx, riderID)
	r.publish(ctx, events.Event{Type: events.TypeRideDeleted, RideID: rideID, RiderID: riderID, At: time.Now()})
	r.Logger.Info("open ride deleted", "ride_id", rideID, "rider_id", riderID)
	return nil
}

// GetRide fetches one ride.
func (r *Registry) GetRide(ctx context.Context, rideID string) (*models.Ride, error) {
	return r.Store.GetRide(ctx, rideID)
}

// AcceptRide is the only path that matches a ride to a driver. The store
// commits the status flip and the driver-busy flag together; when two
// drivers race, the loser comes back with models.ErrConflict and its own
// availability untouched, so it keeps receiving other offers.
func (r *Registry) AcceptRide(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	ride, err := r.Store.AcceptRide(ctx, rideID, driverID, time.Now())
	if err != nil {
		outcome := "error"
		if errors.Is(err, models.ErrConflict) {
			outcome = "conflict"
		}
		observability.AcceptsTotal.WithLabelValues(outcome).Inc()
		return nil, err
	}
	observability.AcceptsTotal.WithLabelValues("accepted").Inc()

	if err := r.Index.Remove(ctx, driverID); err != nil {
		r.Logger.Error("index remove failed", "driver_id", driverID, "error", err)
	}
	r.invalidate(ctx, ride.RiderID)
	r.invalidate(ctx, driverID)
	r.publish(ctx, events.Event{Type: events.TypeRideMatched, RideID: ride.ID, RiderID: ride.RiderID, DriverID: driverID, Status: ride.Status, At: time.Now()})
	r.Logger.Info("ride accepted", "ride_id", ride.ID, "driver_id", driverID)

	rider, driver := r.participants(ctx, ride)
	if rider != nil && driver != nil {
		r.send(ctx, rider.ContactID, notify.KindRideMatched,
			fmt.Sprintf("%s accepted your ride to %s. Vehicle: %s.", driver.Name, ride.Dropoff.Name, driver.Vehicle))
		r.send(ctx, driver.ContactID, notify.KindRideMatched,
			fmt.Sprintf("You accepted %s's ride from %s to %s at %s.",
				rider.Name, ride.Pickup.Name, ride.Dropoff.Name, ride.RideTime.Format(time.Kitchen)))
	}
	return ride, nil
}

// CompleteRide closes out a matched ride. The store clears the driver's
// current ride (leaving it unavailable until it re-registers) and bumps
// both participants' counters in the same unit.
func (r *Registry) CompleteRide(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	ride, err := r.Store.CompleteRide(ctx, rideID, driverID, time.Now())
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, ride.RiderID)
	r.invalidate(ctx, driverID)
	r.publish(ctx, events.Event{Type: events.TypeRideCompleted, RideID: ride.ID, RiderID: ride.RiderID, DriverID: driverID, Status: ride.Status, At: time.Now()})
	r.Logger.Info("ride completed", "ride_id", ride.ID, "driver_id", driverID)

	rider, driver := r.participants(ctx, ride)
	if rider != nil {
		r.send(ctx, rider.ContactID, notify.KindRideCompleted,
			fmt.Sprintf("Your ride to %s is complete. Bid: $%s.", ride.Dropoff.Name, ride.Bid.StringFixed(2)))
	}
	if driver != nil {
		r.send(ctx, driver.ContactID, notify.KindRideCompleted,
			fmt.Sprintf("Ride to %s marked complete.", ride.Dropoff.Name))
	}
	return ride, nil
}

// CancelRide cancels an open or matched ride. Rider and driver actors
// must own the ride in that role; the system actor is used by the
// lifecycle sweeps.
func (r *Registry) CancelRide(ctx context.Context, rideID string, by models.CancelActor, actorID, reason string) (*models.Ride, error) {
	switch by {
	case models.CancelledByRider, models.CancelledByDriver, models.CancelledBySystem:
	default:
		return nil, models.Invalid("unknown cancel actor %q", by)
	}
	ride, err := r.Store.CancelRide(ctx, rideID, by, actorID, reason, time.Now())
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, ride.RiderID)
	if ride.DriverID != "" {
		r.invalidate(ctx, ride.DriverID)
	}
	r.publish(ctx, events.Event{Type: events.TypeRideCancelled, RideID: ride.ID, RiderID: ride.RiderID, DriverID: ride.DriverID, Status: ride.Status, At: time.Now()})
	r.Logger.Info("ride cancelled", "ride_id", ride.ID, "by", by, "reason", reason)

	rider, driver := r.participants(ctx, ride)
	body := fmt.Sprintf("Ride from %s to %s was cancelled (%s).", ride.Pickup.Name, ride.Dropoff.Name, reason)
	if rider != nil && by != models.CancelledByRider {
		r.send(ctx, rider.ContactID, notify.KindRideCancelled, body)
	}
	if driver != nil && by != models.CancelledByDriver {
		r.send(ctx, driver.ContactID, notify.KindRideCancelled, body)
	}
	return ride, nil
}

// HistoryForRider lists a rider's rides, newest ride time first.
func (r *Registry) HistoryForRider(ctx context.Context, riderID string) ([]*models.Ride, error) {
	return r.Store.RidesByRider(ctx, riderID)
}

// HistoryForDriver lists a driver's rides.
func (r *Registry) HistoryForDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	return r.Store.RidesByDriver(ctx, driverID)
}

// StatsForRider aggregates a rider's history: counts by status and the
// sum of completed bids.
func (r *Registry) StatsForRider(ctx context.Context, riderID string) (models.RideStats, error) {
	rides, err := r.Store.RidesByRider(ctx, riderID)
	if err != nil {
		return models.RideStats{}, err
	}
	return aggregate(rides), nil
}

// StatsForDriver aggregates a driver's history.
func (r *Registry) StatsForDriver(ctx context.Context, driverID string) (models.RideStats, error) {
	rides, err := r.Store.RidesByDriver(ctx, driverID)
	if err != nil {
		return models.RideStats{}, err
	}
	return aggregate(rides), nil
}

func aggregate(rides []*models.Ride) models.RideStats {
	stats := models.RideStats{
		Total:           len(rides),
		ByStatus:        make(map[models.RideStatus]int),
		CompletedBidSum: decimal.Zero,
	}
	for _, ride := range rides {
		stats.ByStatus[ride.Status]++
		if ride.Status == models.RideStatusCompleted {
			stats.CompletedBidSum = stats.CompletedBidSum.Add(ride.Bid)
		}
	}
	return stats
}

// participants loads both actor records for notification rendering; a
// missing record just suppresses that side's message.
func (r *Registry) participants(ctx context.Context, ride *models.Ride) (*models.Rider, *models.Driver) {
	rider, err := r.Store.GetRider(ctx, ride.RiderID)
	if err != nil {
		r.Logger.Warn("rider lookup for notification failed", "rider_id", ride.RiderID, "error", err)
	}
	var driver *models.Driver
	if ride.DriverID != "" {
		driver, err = r.Store.GetDriver(ctx, ride.DriverID)
		if err != nil {
			r.Logger.Warn("driver lookup for notification failed", "driver_id", ride.DriverID, "error", err)
		}
	}
	return rider, driver
}

func (r *Registry) send(ctx context.Context, contactID, kind, body string) {
	if err := r.Notifier.Notify(ctx, notify.Message{ContactID: contactID, Kind: kind, Body: body}); err != nil {
		observability.NotifyFailuresTotal.Inc()
		r.Logger.Warn("notification dropped", "kind", kind, "error", err)
	}
}

func (r *Registry) invalidate(ctx context.Context, actorID string) {
	if err := r.Cache.Invalidate(ctx, actorID); err != nil {
		r.Logger.Warn("session cache invalidation failed", "actor_id", actorID, "error", err)
	}
}

func (r *Registry) publish(ctx context.Context, e events.Event) {
	if err := r.Events.Publish(ctx, e); err != nil {
		r.Logger.Warn("event publish failed", "type", e.Type, "error", err)
	}
}
