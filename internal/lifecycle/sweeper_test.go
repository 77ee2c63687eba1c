package lifecycle

import (
	"context"
	"errors"
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
	"github.com/example/ride-hail/internal/rides"
	"github.com/example/ride-hail/internal/store"
)

type fakeNotifier struct {
	sent []notify.Message
	fail bool
}

func (f *fakeNotifier) Notify(ctx context.Context, m notify.Message) error {
	if f.fail {
		return errors.New("delivery failed")
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeNotifier) byKind(kind string) []notify.Message {
	var out []notify.Message
	for _, m := range f.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func newTestSweeper(t *testing.T) (*Sweeper, *store.MemoryStore, *fakeNotifier) {
	t.Helper()
	s := store.NewMemoryStore()
	idx := geo.NewMemoryIndex()
	n := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	av := &availability.Registry{
		Store:    s,
		Index:    idx,
		Notifier: n,
		Events:   events.Nop{},
		Cache:    cache.Nop{},
		Logger:   logger,
	}
	rr := &rides.Registry{
		Store:    s,
		Index:    idx,
		Notifier: n,
		Events:   events.Nop{},
		Cache:    cache.Nop{},
		Logger:   logger,
	}
	sw := &Sweeper{
		Store:        s,
		Availability: av,
		Rides:        rr,
		Notifier:     n,
		Events:       events.Nop{},
		Logger:       logger,
	}
	return sw, s, n
}

func seedActors(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateRider(ctx, &models.Rider{ID: "r1", Name: "Ada", ContactID: "c-r1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateDriver(ctx, &models.Driver{ID: "d1", Name: "Grace", ContactID: "c-d1"}); err != nil {
		t.Fatal(err)
	}
}

func seedRide(t *testing.T, s *store.MemoryStore, id string, rideTime time.Time) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:       id,
		RiderID:  "r1",
		Pickup:   models.Place{Name: "Home", Point: models.GeoPoint{Longitude: -75.0, Latitude: 40.0}},
		Dropoff:  models.Place{Name: "Airport", Point: models.GeoPoint{Longitude: -75.2, Latitude: 39.9}},
		Bid:      decimal.NewFromInt(25),
		RideTime: rideTime,
		Status:   models.RideStatusOpen,
	}
	if err := s.CreateRide(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	return r
}

func seedMatchedRide(t *testing.T, s *store.MemoryStore, id string, rideTime time.Time) *models.Ride {
	t.Helper()
	seedRide(t, s, id, rideTime)
	r, err := s.AcceptRide(context.Background(), id, "d1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestCloseExpiredAvailability(t *testing.T) {
	sw, s, n := newTestSweeper(t)
	ctx := context.Background()
	seedActors(t, s)
	if err := s.CreateDriver(ctx, &models.Driver{ID: "d2", Name: "Edsger", ContactID: "c-d2"}); err != nil {
		t.Fatal(err)
	}

	loc := models.GeoPoint{Longitude: -75.0, Latitude: 40.0}
	radius := 10.0
	past := time.Now().Add(-time.Minute)
	started := past.Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	if err := s.SetDriverAvailability(ctx, "d1", models.Availability{
		IsAvailable: true, Location: &loc, ServiceRadiusMiles: &radius, StartedAt: &started, ExpiresAt: &past,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDriverAvailability(ctx, "d2", models.Availability{
		IsAvailable: true, Location: &loc, ServiceRadiusMiles: &radius, StartedAt: &started, ExpiresAt: &future,
	}); err != nil {
		t.Fatal(err)
	}

	closed, err := sw.CloseExpiredAvailability(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if closed != 1 {
		t.Fatalf("expected 1 closed, got %d", closed)
	}
	d1, _ := s.GetDriver(ctx, "d1")
	d2, _ := s.GetDriver(ctx, "d2")
	if d1.Availability.IsAvailable {
		t.Fatal("expired driver still available")
	}
	if !d2.Availability.IsAvailable {
		t.Fatal("live driver was swept")
	}
	if got := n.byKind(notify.KindAvailabilityExpired); len(got) != 1 || got[0].ContactID != "c-d1" {
		t.Fatalf("unexpected notifications: %+v", n.sent)
	}
}

func TestFailStaleOpenRides(t *testing.T) {
	sw, s, n := newTestSweeper(t)
	ctx := context.Background()
	seedActors(t, s)

	seedRide(t, s, "stale", time.Now().Add(-21*time.Minute))
	seedRide(t, s, "recent", time.Now().Add(-10*time.Minute))
	seedRide(t, s, "future", time.Now().Add(time.Hour))

	failed, err := sw.FailStaleOpenRides(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if failed != 1 {
		t.Fatalf("expected 1 failed, got %d", failed)
	}

	stale, _ := s.GetRide(ctx, "stale")
	if stale.Status != models.RideStatusFailed || stale.FailureReason != FailureReasonTimeout {
		t.Fatalf("unexpected stale ride: %+v", stale)
	}
	for _, id := range []string{"recent", "future"} {
		r, _ := s.GetRide(ctx, id)
		if r.Status != models.RideStatusOpen {
			t.Fatalf("ride %s should stay open, got %s", id, r.Status)
		}
	}
	if got := n.byKind(notify.KindRideFailed); len(got) != 1 || got[0].ContactID != "c-r1" {
		t.Fatalf("rider not told about the timeout: %+v", n.sent)
	}
}

func TestNudgeStalledMatches_FlagSetOnDelivery(t *testing.T) {
	sw, s, n := newTestSweeper(t)
	ctx := context.Background()
	seedActors(t, s)
	seedMatchedRide(t, s, "stalled", time.Now().Add(-3*time.Hour))

	nudged, err := sw.NudgeStalledMatches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if nudged != 1 {
		t.Fatalf("expected 1 nudge, got %d", nudged)
	}
	if got := n.byKind(notify.KindStatusNudge); len(got) != 1 || got[0].ContactID != "c-d1" {
		t.Fatalf("driver not nudged: %+v", n.sent)
	}

	// flag keeps the second sweep quiet
	nudged, err = sw.NudgeStalledMatches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if nudged != 0 {
		t.Fatalf("second sweep nudged again: %d", nudged)
	}
}

func TestNudgeStalledMatches_RetriedWhenDeliveryFails(t *testing.T) {
	sw, s, n := newTestSweeper(t)
	ctx := context.Background()
	seedActors(t, s)
	seedMatchedRide(t, s, "stalled", time.Now().Add(-3*time.Hour))

	n.fail = true
	nudged, err := sw.NudgeStalledMatches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if nudged != 0 {
		t.Fatalf("failed delivery counted as nudge: %d", nudged)
	}
	r, _ := s.GetRide(ctx, "stalled")
	if r.StatusNotificationSent {
		t.Fatal("flag set despite failed delivery")
	}

	n.fail = false
	nudged, err = sw.NudgeStalledMatches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if nudged != 1 {
		t.Fatalf("expected retry to nudge, got %d", nudged)
	}
}

func TestAutoCancelAbandonedMatches(t *testing.T) {
	sw, s, n := newTestSweeper(t)
	ctx := context.Background()
	seedActors(t, s)
	if err := s.CreateDriver(ctx, &models.Driver{ID: "d2", Name: "Edsger", ContactID: "c-d2"}); err != nil {
		t.Fatal(err)
	}

	seedMatchedRide(t, s, "abandoned", time.Now().Add(-25*time.Hour))
	seedRide(t, s, "pending", time.Now().Add(-3*time.Hour))
	if _, err := s.AcceptRide(ctx, "pending", "d2", time.Now()); err != nil {
		t.Fatal(err)
	}

	cancelled, err := sw.AutoCancelAbandonedMatches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled != 1 {
		t.Fatalf("expected 1 cancelled, got %d", cancelled)
	}

	r, _ := s.GetRide(ctx, "abandoned")
	if r.Status != models.RideStatusCancelled || r.CancelledBy != models.CancelledBySystem {
		t.Fatalf("unexpected abandoned ride: %+v", r)
	}
	pending, _ := s.GetRide(ctx, "pending")
	if pending.Status != models.RideStatusMatched {
		t.Fatalf("recent match was cancelled: %+v", pending)
	}
	// both parties hear about a system cancellation
	if got := n.byKind(notify.KindRideCancelled); len(got) != 2 {
		t.Fatalf("expected 2 cancellation notices, got %+v", got)
	}
}

func TestSendRideReminders(t *testing.T) {
	sw, s, n := newTestSweeper(t)
	ctx := context.Background()
	seedActors(t, s)
	if err := s.CreateDriver(ctx, &models.Driver{ID: "d2", Name: "Edsger", ContactID: "c-d2"}); err != nil {
		t.Fatal(err)
	}

	seedMatchedRide(t, s, "soon", time.Now().Add(20*time.Minute))
	seedRide(t, s, "later", time.Now().Add(2*time.Hour))
	if _, err := s.AcceptRide(ctx, "later", "d2", time.Now()); err != nil {
		t.Fatal(err)
	}

	reminded, err := sw.SendRideReminders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reminded != 1 {
		t.Fatalf("expected 1 reminder, got %d", reminded)
	}
	got := n.byKind(notify.KindRideReminder)
	if len(got) != 2 {
		t.Fatalf("expected reminders for both parties, got %+v", got)
	}
	contacts := map[string]bool{}
	for _, m := range got {
		contacts[m.ContactID] = true
	}
	if !contacts["c-r1"] || !contacts["c-d1"] {
		t.Fatalf("wrong recipients: %+v", got)
	}

	reminded, err = sw.SendRideReminders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reminded != 0 {
		t.Fatalf("reminder repeated: %d", reminded)
	}
}

func TestFailStaleOpenRides_NotificationFailureStillFails(t *testing.T) {
	sw, s, n := newTestSweeper(t)
	ctx := context.Background()
	seedActors(t, s)
	seedRide(t, s, "stale", time.Now().Add(-21*time.Minute))
	n.fail = true

	failed, err := sw.FailStaleOpenRides(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if failed != 1 {
		t.Fatalf("expected 1 failed, got %d", failed)
	}
	r, _ := s.GetRide(ctx, "stale")
	if r.Status != models.RideStatusFailed {
		t.Fatalf("transition lost to a dropped notification: %+v", r)
	}
}
