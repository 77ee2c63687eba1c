package match

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ride-hail/internal/availability"
	"github.com/example/ride-hail/internal/cache"
	"github.com/example/ride-hail/internal/events"
	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/notify"
	"github.com/example/ride-hail/internal/store"
)

type nopNotifier struct{}

func (nopNotifier) Notify(ctx context.Context, m notify.Message) error { return nil }

var pickup = models.GeoPoint{Longitude: -75.0, Latitude: 40.0}

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	idx := geo.NewMemoryIndex()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	av := &availability.Registry{
		Store:    s,
		Index:    idx,
		Notifier: nopNotifier{},
		Events:   events.Nop{},
		Cache:    cache.Nop{},
		Logger:   logger,
	}
	e := &Engine{
		Store:            s,
		Index:            idx,
		Availability:     av,
		Logger:           logger,
		IndexRadiusMiles: 50,
		Lookahead:        24 * time.Hour,
	}
	return e, s
}

func addDriver(t *testing.T, e *Engine, s *store.MemoryStore, id string, loc models.GeoPoint, radius float64, window time.Duration) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateDriver(ctx, &models.Driver{ID: id, Name: "driver " + id, ContactID: "c-" + id}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Availability.SetAvailable(ctx, id, loc, radius, window); err != nil {
		t.Fatal(err)
	}
}

func addOpenRide(t *testing.T, s *store.MemoryStore, id string, p models.GeoPoint, rideTime time.Time) *models.Ride {
	t.Helper()
	ctx := context.Background()
	if _, err := s.GetRider(ctx, "r1"); err != nil {
		if err := s.CreateRider(ctx, &models.Rider{ID: "r1", Name: "rider", ContactID: "c-r1"}); err != nil {
			t.Fatal(err)
		}
	}
	r := &models.Ride{
		ID:       id,
		RiderID:  "r1",
		Pickup:   models.Place{Name: "Pickup", Point: p},
		Dropoff:  models.Place{Name: "Dropoff", Point: models.GeoPoint{Longitude: -75.2, Latitude: 39.9}},
		Bid:      decimal.NewFromInt(20),
		RideTime: rideTime,
		Status:   models.RideStatusOpen,
	}
	if err := s.CreateRide(ctx, r); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestFindDriversForRide_RespectsEachDriversRadius(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	// about 0.69 miles from pickup
	addDriver(t, e, s, "close", models.GeoPoint{Longitude: -75.0, Latitude: 40.01}, 10, time.Hour)
	// about 41 miles out: inside the coarse index radius but outside its own 5-mile radius
	addDriver(t, e, s, "tight", models.GeoPoint{Longitude: -75.0, Latitude: 40.6}, 5, time.Hour)

	ride := addOpenRide(t, s, "ride1", pickup, time.Now().Add(time.Hour))
	cands, err := e.FindDriversForRide(ctx, ride)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Driver.ID != "close" {
		t.Fatalf("expected only the close driver, got %+v", cands)
	}
	if cands[0].DistanceMiles <= 0 || cands[0].DistanceMiles > 1 {
		t.Fatalf("unexpected distance: %v", cands[0].DistanceMiles)
	}
}

func TestFindDriversForRide_NearestFirst(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	addDriver(t, e, s, "far", models.GeoPoint{Longitude: -75.0, Latitude: 40.1}, 20, time.Hour)
	addDriver(t, e, s, "near", models.GeoPoint{Longitude: -75.0, Latitude: 40.01}, 20, time.Hour)
	addDriver(t, e, s, "mid", models.GeoPoint{Longitude: -75.0, Latitude: 40.05}, 20, time.Hour)

	ride := addOpenRide(t, s, "ride1", pickup, time.Now().Add(time.Hour))
	cands, err := e.FindDriversForRide(ctx, ride)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(cands))
	}
	order := []string{cands[0].Driver.ID, cands[1].Driver.ID, cands[2].Driver.ID}
	want := []string{"near", "mid", "far"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("wrong order: got %v, want %v", order, want)
		}
	}
}

func TestFindDriversForRide_WindowExcludesRideTime(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	// available for one hour; ride leaves in three
	addDriver(t, e, s, "shortshift", models.GeoPoint{Longitude: -75.0, Latitude: 40.01}, 10, time.Hour)

	ride := addOpenRide(t, s, "ride1", pickup, time.Now().Add(3*time.Hour))
	cands, err := e.FindDriversForRide(ctx, ride)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("ride outside availability window still matched: %+v", cands)
	}
}

func TestFindDriversForRide_LookaheadCapsOpenEndedWindows(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	// open-ended availability, but the ride is two days out
	addDriver(t, e, s, "openended", models.GeoPoint{Longitude: -75.0, Latitude: 40.01}, 10, 0)

	ride := addOpenRide(t, s, "ride1", pickup, time.Now().Add(48*time.Hour))
	cands, err := e.FindDriversForRide(ctx, ride)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("ride beyond lookahead still matched: %+v", cands)
	}
}

func TestFindDriversForRide_SweepsExpiredInline(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	addDriver(t, e, s, "d1", models.GeoPoint{Longitude: -75.0, Latitude: 40.01}, 10, time.Hour)

	// age the record past its window behind the registry's back
	past := time.Now().Add(-time.Minute)
	started := past.Add(-time.Hour)
	radius := 10.0
	loc := models.GeoPoint{Longitude: -75.0, Latitude: 40.01}
	if err := s.SetDriverAvailability(ctx, "d1", models.Availability{
		IsAvailable:        true,
		Location:           &loc,
		ServiceRadiusMiles: &radius,
		StartedAt:          &started,
		ExpiresAt:          &past,
	}); err != nil {
		t.Fatal(err)
	}

	ride := addOpenRide(t, s, "ride1", pickup, time.Now().Add(time.Hour))
	cands, err := e.FindDriversForRide(ctx, ride)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("expired driver still matched: %+v", cands)
	}
	d, err := s.GetDriver(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Availability.IsAvailable {
		t.Fatal("expired availability not swept inline")
	}
}

func TestFindMatchesForDriverAvailability_FiltersAndSorts(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	addDriver(t, e, s, "d1", pickup, 10, 2*time.Hour)

	addOpenRide(t, s, "near", models.GeoPoint{Longitude: -75.0, Latitude: 40.01}, time.Now().Add(time.Hour))
	addOpenRide(t, s, "mid", models.GeoPoint{Longitude: -75.0, Latitude: 40.05}, time.Now().Add(time.Hour))
	addOpenRide(t, s, "outofrange", models.GeoPoint{Longitude: -75.0, Latitude: 40.6}, time.Now().Add(time.Hour))
	addOpenRide(t, s, "toolate", models.GeoPoint{Longitude: -75.0, Latitude: 40.01}, time.Now().Add(5*time.Hour))

	cands, err := e.FindMatchesForDriverAvailability(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", cands)
	}
	if cands[0].Ride.ID != "near" || cands[1].Ride.ID != "mid" {
		t.Fatalf("wrong order: %s, %s", cands[0].Ride.ID, cands[1].Ride.ID)
	}
}

func TestFindMatchesForDriverAvailability_OfflineDriver(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	if err := s.CreateDriver(ctx, &models.Driver{ID: "d1", Name: "driver", ContactID: "c-d1"}); err != nil {
		t.Fatal(err)
	}
	addOpenRide(t, s, "ride1", pickup, time.Now().Add(time.Hour))

	cands, err := e.FindMatchesForDriverAvailability(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("offline driver got candidates: %+v", cands)
	}
}

func TestFindMatchesForDriverAvailability_ExpiredDriverIsClosed(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	addDriver(t, e, s, "d1", pickup, 10, time.Hour)
	past := time.Now().Add(-time.Minute)
	started := past.Add(-time.Hour)
	radius := 10.0
	loc := pickup
	if err := s.SetDriverAvailability(ctx, "d1", models.Availability{
		IsAvailable:        true,
		Location:           &loc,
		ServiceRadiusMiles: &radius,
		StartedAt:          &started,
		ExpiresAt:          &past,
	}); err != nil {
		t.Fatal(err)
	}
	addOpenRide(t, s, "ride1", pickup, time.Now().Add(time.Hour))

	cands, err := e.FindMatchesForDriverAvailability(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("expired driver got candidates: %+v", cands)
	}
	d, _ := s.GetDriver(ctx, "d1")
	if d.Availability.IsAvailable {
		t.Fatal("expired availability not closed")
	}
}
