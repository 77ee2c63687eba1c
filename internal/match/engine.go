package match

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/example/ride-hail/internal/availability"
	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/observability"
	"github.com/example/ride-hail/internal/store"
)

// DriverCandidate is a driver eligible for a ride, with the exact
// pickup distance used for ranking.
type DriverCandidate struct {
	Driver        *models.Driver `json:"driver"`
	DistanceMiles float64        `json:"distance_miles"`
}

// RideCandidate is an open ride eligible for a driver.
type RideCandidate struct {
	Ride          *models.Ride `json:"ride"`
	DistanceMiles float64      `json:"distance_miles"`
}

// Engine answers the two symmetric proximity queries. It reads through
// the coarse index first, then applies the exact haversine cutoff each
// actor's own radius demands, because the index only enforces one global
// maximum radius. Read-heavy: its only side effect is the inline sweep
// of availability records found already expired.
type Engine struct {
	Store        store.Store
	Index        geo.DriverIndex
	Availability *availability.Registry
	Logger       *slog.Logger

	// IndexRadiusMiles is the generous upper bound handed to the index.
	IndexRadiusMiles float64
	// Lookahead caps how far past a driver's availability start a ride
	// may be scheduled and still match.
	Lookahead time.Duration
}

// FindDriversForRide returns available drivers that can serve the ride,
// nearest pickup first. A driver qualifies when it is live, the exact
// pickup distance is within its own service radius, and the ride time
// falls inside its availability window.
func (e *Engine) FindDriversForRide(ctx context.Context, ride *models.Ride) ([]DriverCandidate, error) {
	observability.MatchQueriesTotal.WithLabelValues("ride_to_drivers").Inc()

	ids, err := e.Index.Near(ctx, ride.Pickup.Point, e.IndexRadiusMiles)
	if err != nil {
		return nil, err
	}
	drivers, err := e.Store.GetDrivers(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]DriverCandidate, 0, len(drivers))
	for _, d := range drivers {
		if d.Availability.Expired(now) {
			if err := e.Availability.CloseExpired(ctx, d); err != nil {
				e.Logger.Warn("inline expiry sweep failed", "driver_id", d.ID, "error", err)
			}
			continue
		}
		if !d.Availability.Live(now) || d.Availability.Location == nil || d.Availability.ServiceRadiusMiles == nil {
			continue
		}
		dist := geo.DistanceMiles(ride.Pickup.Point, *d.Availability.Location)
		if dist > *d.Availability.ServiceRadiusMiles {
			continue
		}
		if !d.Availability.WindowAllows(ride.RideTime, e.Lookahead) {
			continue
		}
		out = append(out, DriverCandidate{Driver: d, DistanceMiles: dist})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMiles < out[j].DistanceMiles })
	observability.MatchCandidates.Observe(float64(len(out)))
	return out, nil
}

// FindMatchesForDriverAvailability returns open rides within the
// driver's service radius and availability window, nearest first. If
// the driver's availability turns out to be expired, it is closed on the
// spot and the result is empty.
func (e *Engine) FindMatchesForDriverAvailability(ctx context.Context, driverID string) ([]RideCandidate, error) {
	observability.MatchQueriesTotal.WithLabelValues("driver_to_rides").Inc()

	d, err := e.Store.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if d.Availability.Expired(now) {
		if err := e.Availability.CloseExpired(ctx, d); err != nil {
			e.Logger.Warn("inline expiry sweep failed", "driver_id", d.ID, "error", err)
		}
		return nil, nil
	}
	if !d.Availability.Live(now) || d.Availability.Location == nil || d.Availability.ServiceRadiusMiles == nil {
		return nil, nil
	}

	rides, err := e.Store.OpenRidesNear(ctx, *d.Availability.Location, *d.Availability.ServiceRadiusMiles)
	if err != nil {
		return nil, err
	}
	out := make([]RideCandidate, 0, len(rides))
	for _, ride := range rides {
		dist := geo.DistanceMiles(*d.Availability.Location, ride.Pickup.Point)
		if dist > *d.Availability.ServiceRadiusMiles {
			continue
		}
		if !d.Availability.WindowAllows(ride.RideTime, e.Lookahead) {
			continue
		}
		out = append(out, RideCandidate{Ride: ride, DistanceMiles: dist})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceMiles < out[j].DistanceMiles })
	observability.MatchCandidates.Observe(float64(len(out)))
	return out, nil
}
