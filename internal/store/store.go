package store

import (
	"context"
	"time"

	"github.com/example/ride-hail/internal/models"
)

// Store is the shared record store for riders, drivers, and rides.
//
// Two guarantees matter to callers. Proximity queries are supersets: they
// may return records slightly outside the requested radius but never miss
// one inside it. Guarded mutations (the Ride transition methods and
// AcceptRide's two-record write) are atomic conditional updates — when two
// callers race, exactly one succeeds and the loser gets
// models.ErrConflict with no partial state.
type Store interface {
	CreateRider(ctx context.Context, r *models.Rider) error
	GetRider(ctx context.Context, id string) (*models.Rider, error)
	UpdateRider(ctx context.Context, r *models.Rider) error
	// DeleteRider removes a rider only if it has no ride in a
	// non-terminal status; otherwise it returns models.ErrConflict.
	DeleteRider(ctx context.Context, id string) error

	CreateDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	UpdateDriver(ctx context.Context, d *models.Driver) error
	DeleteDriver(ctx context.Context, id string) error

	// SetDriverAvailability replaces the driver's availability snapshot.
	SetDriverAvailability(ctx context.Context, driverID string, a models.Availability) error
	// GetDrivers fetches driver records by id, skipping unknown ids.
	GetDrivers(ctx context.Context, ids []string) ([]*models.Driver, error)
	// ExpiredAvailableDrivers returns drivers still flagged available
	// whose availability window has already passed.
	ExpiredAvailableDrivers(ctx context.Context, now time.Time) ([]*models.Driver, error)

	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	// UpdateOpenRide rewrites rider-owned fields (pickup, dropoff, bid,
	// ride time) only while the ride is still open and owned by riderID.
	UpdateOpenRide(ctx context.Context, r *models.Ride, riderID string) error
	// DeleteOpenRide removes a ride outright only while it is open and
	// owned by riderID. Accepted rides are never hard-deleted.
	DeleteOpenRide(ctx context.Context, rideID, riderID string) error

	RidesByRider(ctx context.Context, riderID string) ([]*models.Ride, error)
	RidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error)

	// OpenRidesNear returns open rides whose pickup point lies within
	// radiusMiles of p, superset semantics.
	OpenRidesNear(ctx context.Context, p models.GeoPoint, radiusMiles float64) ([]*models.Ride, error)

	// Sweep queries.
	StaleOpenRides(ctx context.Context, rideTimeBefore time.Time) ([]*models.Ride, error)
	MatchedRidesOlderThan(ctx context.Context, rideTimeBefore time.Time) ([]*models.Ride, error)
	MatchedRidesNeedingNudge(ctx context.Context, rideTimeBefore time.Time) ([]*models.Ride, error)
	MatchedRidesNeedingReminder(ctx context.Context, from, to time.Time) ([]*models.Ride, error)

	// AcceptRide transitions the ride open→matched and marks the driver
	// busy in one atomic unit. If the ride is already taken or the driver
	// is missing, nothing changes and models.ErrConflict (or ErrNotFound)
	// is returned; the driver's prior availability is left untouched.
	AcceptRide(ctx context.Context, rideID, driverID string, now time.Time) (*models.Ride, error)

	// CompleteRide transitions matched|open→completed, clears the
	// driver's current ride (leaving it unavailable), and increments both
	// participants' completed-ride counters, atomically.
	CompleteRide(ctx context.Context, rideID, driverID string, now time.Time) (*models.Ride, error)

	// CancelRide transitions open|matched→cancelled. For rider and driver
	// actors the ride must be owned by actorID in that role; the system
	// actor bypasses ownership. A matched driver's current ride is
	// cleared in the same unit.
	CancelRide(ctx context.Context, rideID string, by models.CancelActor, actorID, reason string, now time.Time) (*models.Ride, error)

	// FailRide transitions open→failed.
	FailRide(ctx context.Context, rideID, reason string, now time.Time) (*models.Ride, error)

	// Idempotency flags for the lifecycle sweeps.
	MarkReminderSent(ctx context.Context, rideID string) error
	MarkStatusNotified(ctx context.Context, rideID string) error
}
