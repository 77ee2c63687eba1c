package availability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/ride-hail/internal/cache"
	"github.com/example/ride-hail/internal/events"
	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/models"
	"github.com/example/ride-hail/internal/notify"
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

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore, *geo.MemoryIndex, *fakeNotifier) {
	t.Helper()
	s := store.NewMemoryStore()
	idx := geo.NewMemoryIndex()
	n := &fakeNotifier{}
	r := &Registry{
		Store:    s,
		Index:    idx,
		Notifier: n,
		Events:   events.Nop{},
		Cache:    cache.Nop{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return r, s, idx, n
}

func seedDriver(t *testing.T, s *store.MemoryStore, id string) {
	t.Helper()
	if err := s.CreateDriver(context.Background(), &models.Driver{ID: id, Name: "driver", ContactID: "c-" + id}); err != nil {
		t.Fatal(err)
	}
}

var home = models.GeoPoint{Longitude: -75.0, Latitude: 40.0}

func TestSetAvailable_WritesSnapshotAndIndex(t *testing.T) {
	r, s, idx, _ := newTestRegistry(t)
	ctx := context.Background()
	seedDriver(t, s, "d1")

	a, err := r.SetAvailable(ctx, "d1", home, 10, 2*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsAvailable || a.Location == nil || *a.ServiceRadiusMiles != 10 {
		t.Fatalf("unexpected snapshot: %+v", a)
	}
	if a.StartedAt == nil || a.ExpiresAt == nil {
		t.Fatalf("window not recorded: %+v", a)
	}
	if got := a.ExpiresAt.Sub(*a.StartedAt); got != 2*time.Hour {
		t.Fatalf("expected 2h window, got %s", got)
	}

	ids, err := idx.Near(ctx, home, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "d1" {
		t.Fatalf("driver not indexed: %v", ids)
	}
}

func TestSetAvailable_ZeroDurationIsOpenEnded(t *testing.T) {
	r, s, _, _ := newTestRegistry(t)
	seedDriver(t, s, "d1")

	a, err := r.SetAvailable(context.Background(), "d1", home, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.ExpiresAt != nil {
		t.Fatalf("zero duration should leave expiry unset: %+v", a)
	}
}

func TestSetAvailable_RejectsBadInput(t *testing.T) {
	r, s, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedDriver(t, s, "d1")

	cases := []struct {
		name     string
		loc      models.GeoPoint
		radius   float64
		duration time.Duration
	}{
		{"latitude out of range", models.GeoPoint{Longitude: 0, Latitude: 91}, 10, 0},
		{"radius below minimum", home, 0.5, 0},
		{"radius above maximum", home, 51, 0},
		{"negative duration", home, 10, -time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.SetAvailable(ctx, "d1", tc.loc, tc.radius, tc.duration)
			if !models.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSetAvailable_UnknownDriver(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	if _, err := r.SetAvailable(context.Background(), "ghost", home, 10, 0); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetUnavailable_ClearsEverything(t *testing.T) {
	r, s, idx, _ := newTestRegistry(t)
	ctx := context.Background()
	seedDriver(t, s, "d1")
	if _, err := r.SetAvailable(ctx, "d1", home, 10, time.Hour); err != nil {
		t.Fatal(err)
	}

	if err := r.SetUnavailable(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	d, err := s.GetDriver(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Availability.IsAvailable || d.Availability.Location != nil || d.Availability.ExpiresAt != nil {
		t.Fatalf("snapshot not cleared: %+v", d.Availability)
	}
	ids, _ := idx.Near(ctx, home, 50)
	if len(ids) != 0 {
		t.Fatalf("driver still indexed: %v", ids)
	}
}

func TestOpenAvailability_HidesExpiredRecord(t *testing.T) {
	r, s, _, _ := newTestRegistry(t)
	ctx := context.Background()
	seedDriver(t, s, "d1")

	past := time.Now().Add(-time.Minute)
	started := past.Add(-time.Hour)
	radius := 10.0
	if err := s.SetDriverAvailability(ctx, "d1", models.Availability{
		IsAvailable:        true,
		Location:           &home,
		ServiceRadiusMiles: &radius,
		StartedAt:          &started,
		ExpiresAt:          &past,
	}); err != nil {
		t.Fatal(err)
	}

	_, ok, err := r.OpenAvailability(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expired availability reported as open")
	}
}

func TestCloseExpired_SweepsAndNotifies(t *testing.T) {
	r, s, idx, n := newTestRegistry(t)
	ctx := context.Background()
	seedDriver(t, s, "d1")

	past := time.Now().Add(-time.Minute)
	started := past.Add(-time.Hour)
	radius := 10.0
	if err := s.SetDriverAvailability(ctx, "d1", models.Availability{
		IsAvailable:        true,
		Location:           &home,
		ServiceRadiusMiles: &radius,
		StartedAt:          &started,
		ExpiresAt:          &past,
	}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, "d1", home); err != nil {
		t.Fatal(err)
	}

	d, err := s.GetDriver(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.CloseExpired(ctx, d); err != nil {
		t.Fatal(err)
	}

	d, _ = s.GetDriver(ctx, "d1")
	if d.Availability.IsAvailable {
		t.Fatal("availability not cleared")
	}
	ids, _ := idx.Near(ctx, home, 50)
	if len(ids) != 0 {
		t.Fatalf("driver still indexed: %v", ids)
	}
	if len(n.sent) != 1 || n.sent[0].Kind != notify.KindAvailabilityExpired {
		t.Fatalf("expected one expiry notification, got %+v", n.sent)
	}

	// second pass sees a live-less record and does nothing
	d, _ = s.GetDriver(ctx, "d1")
	if err := r.CloseExpired(ctx, d); err != nil {
		t.Fatal(err)
	}
	if len(n.sent) != 1 {
		t.Fatalf("close repeated its notification: %+v", n.sent)
	}
}

func TestCloseExpired_SkipsLiveRecord(t *testing.T) {
	r, s, _, n := newTestRegistry(t)
	ctx := context.Background()
	seedDriver(t, s, "d1")
	if _, err := r.SetAvailable(ctx, "d1", home, 10, time.Hour); err != nil {
		t.Fatal(err)
	}

	d, _ := s.GetDriver(ctx, "d1")
	if err := r.CloseExpired(ctx, d); err != nil {
		t.Fatal(err)
	}
	d, _ = s.GetDriver(ctx, "d1")
	if !d.Availability.IsAvailable {
		t.Fatal("live availability was swept")
	}
	if len(n.sent) != 0 {
		t.Fatalf("unexpected notifications: %+v", n.sent)
	}
}

func TestCloseExpired_NotificationFailureIsNotFatal(t *testing.T) {
	r, s, _, n := newTestRegistry(t)
	ctx := context.Background()
	seedDriver(t, s, "d1")
	n.fail = true

	past := time.Now().Add(-time.Minute)
	started := past.Add(-time.Hour)
	radius := 10.0
	if err := s.SetDriverAvailability(ctx, "d1", models.Availability{
		IsAvailable:        true,
		Location:           &home,
		ServiceRadiusMiles: &radius,
		StartedAt:          &started,
		ExpiresAt:          &past,
	}); err != nil {
		t.Fatal(err)
	}

	d, _ := s.GetDriver(ctx, "d1")
	if err := r.CloseExpired(ctx, d); err != nil {
		t.Fatal(err)
	}
	d, _ = s.GetDriver(ctx, "d1")
	if d.Availability.IsAvailable {
		t.Fatal("availability not cleared despite failed notification")
	}
}
