package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-hail/internal/geo"
	"github.com/example/ride-hail/internal/models"
)

// MemoryStore keeps all records behind a single mutex, which trivially
// gives the conditional updates the same all-or-nothing behavior the SQL
// store gets from transactions. Used in tests and single-node setups.
type MemoryStore struct {
	mu      sync.Mutex
	riders  map[string]*models.Rider
	drivers map[string]*models.Driver
	rides   map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		riders:  make(map[string]*models.Rider),
		drivers: make(map[string]*models.Driver),
		rides:   make(map[string]*models.Ride),
	}
}

func (m *MemoryStore) CreateRider(ctx context.Context, r *models.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.riders[r.ID]; ok {
		return models.ErrConflict
	}
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	m.riders[r.ID] = cloneRider(r)
	return nil
}

func (m *MemoryStore) GetRider(ctx context.Context, id string) (*models.Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneRider(r), nil
}

func (m *MemoryStore) UpdateRider(ctx context.Context, r *models.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.riders[r.ID]; !ok {
		return models.ErrNotFound
	}
	r.UpdatedAt = time.Now()
	m.riders[r.ID] = cloneRider(r)
	return nil
}

func (m *MemoryStore) DeleteRider(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.riders[id]; !ok {
		return models.ErrNotFound
	}
	for _, ride := range m.rides {
		if ride.RiderID == id && !ride.Status.IsTerminal() {
			return models.ErrConflict
		}
	}
	delete(m.riders, id)
	return nil
}

func (m *MemoryStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; ok {
		return models.ErrConflict
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	m.drivers[d.ID] = cloneDriver(d)
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneDriver(d), nil
}

func (m *MemoryStore) UpdateDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; !ok {
		return models.ErrNotFound
	}
	d.UpdatedAt = time.Now()
	m.drivers[d.ID] = cloneDriver(d)
	return nil
}

func (m *MemoryStore) DeleteDriver(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[id]; !ok {
		return models.ErrNotFound
	}
	for _, ride := range m.rides {
		if ride.DriverID == id && !ride.Status.IsTerminal() {
			return models.ErrConflict
		}
	}
	delete(m.drivers, id)
	return nil
}

func (m *MemoryStore) SetDriverAvailability(ctx context.Context, driverID string, a models.Availability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return models.ErrNotFound
	}
	d.Availability = cloneAvailability(a)
	d.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetDrivers(ctx context.Context, ids []string) ([]*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Driver, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.drivers[id]; ok {
			out = append(out, cloneDriver(d))
		}
	}
	return out, nil
}

func (m *MemoryStore) ExpiredAvailableDrivers(ctx context.Context, now time.Time) ([]*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Driver
	for _, d := range m.drivers {
		if d.Availability.Expired(now) {
			out = append(out, cloneDriver(d))
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return models.ErrConflict
	}
	if _, ok := m.riders[r.RiderID]; !ok {
		return models.ErrNotFound
	}
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneRide(r), nil
}

func (m *MemoryStore) UpdateOpenRide(ctx context.Context, r *models.Ride, riderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return models.ErrNotFound
	}
	if cur.Status != models.RideStatusOpen || cur.RiderID != riderID {
		return models.ErrConflict
	}
	cur.Pickup = r.Pickup
	cur.Dropoff = r.Dropoff
	cur.Bid = r.Bid
	cur.RideTime = r.RideTime
	cur.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) DeleteOpenRide(ctx context.Context, rideID, riderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return models.ErrNotFound
	}
	if r.Status != models.RideStatusOpen || r.RiderID != riderID {
		return models.ErrConflict
	}
	delete(m.rides, rideID)
	return nil
}

func (m *MemoryStore) RidesByRider(ctx context.Context, riderID string) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.RiderID == riderID {
			out = append(out, cloneRide(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) RidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.DriverID == driverID {
			out = append(out, cloneRide(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) OpenRidesNear(ctx context.Context, p models.GeoPoint, radiusMiles float64) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status != models.RideStatusOpen {
			continue
		}
		if geo.DistanceMiles(p, r.Pickup.Point) <= radiusMiles {
			out = append(out, cloneRide(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) StaleOpenRides(ctx context.Context, rideTimeBefore time.Time) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status == models.RideStatusOpen && r.DriverID == "" && !r.RideTime.After(rideTimeBefore) {
			out = append(out, cloneRide(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) MatchedRidesOlderThan(ctx context.Context, rideTimeBefore time.Time) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status == models.RideStatusMatched && !r.RideTime.After(rideTimeBefore) {
			out = append(out, cloneRide(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) MatchedRidesNeedingNudge(ctx context.Context, rideTimeBefore time.Time) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status == models.RideStatusMatched && !r.StatusNotificationSent && !r.RideTime.After(rideTimeBefore) {
			out = append(out, cloneRide(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) MatchedRidesNeedingReminder(ctx context.Context, from, to time.Time) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status != models.RideStatusMatched || r.ReminderSent {
			continue
		}
		if !r.RideTime.Before(from) && !r.RideTime.After(to) {
			out = append(out, cloneRide(r))
		}
	}
	return out, nil
}

func (m *MemoryStore) AcceptRide(ctx context.Context, rideID, driverID string, now time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Status != models.RideStatusOpen {
		return nil, models.ErrConflict
	}
	r.Status = models.RideStatusMatched
	r.DriverID = driverID
	t := now
	r.AcceptedAt = &t
	r.UpdatedAt = now

	d.Availability = models.Availability{}
	d.CurrentRideID = rideID
	d.UpdatedAt = now
	return cloneRide(r), nil
}

func (m *MemoryStore) CompleteRide(ctx context.Context, rideID, driverID string, now time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !models.TransitionAllowed(r.Status, models.RideStatusCompleted) {
		return nil, models.ErrConflict
	}
	if r.DriverID != "" && r.DriverID != driverID {
		return nil, models.ErrConflict
	}
	r.Status = models.RideStatusCompleted
	t := now
	r.CompletedAt = &t
	r.UpdatedAt = now

	if rd, ok := m.riders[r.RiderID]; ok {
		rd.CompletedRides++
		rd.UpdatedAt = now
	}
	if d, ok := m.drivers[driverID]; ok {
		d.CurrentRideID = ""
		d.CompletedRides++
		d.UpdatedAt = now
	}
	return cloneRide(r), nil
}

func (m *MemoryStore) CancelRide(ctx context.Context, rideID string, by models.CancelActor, actorID, reason string, now time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !models.TransitionAllowed(r.Status, models.RideStatusCancelled) {
		return nil, models.ErrConflict
	}
	switch by {
	case models.CancelledByRider:
		if r.RiderID != actorID {
			return nil, models.ErrConflict
		}
	case models.CancelledByDriver:
		if r.DriverID != actorID {
			return nil, models.ErrConflict
		}
	}
	r.Status = models.RideStatusCancelled
	t := now
	r.CancelledAt = &t
	r.CancelledBy = by
	r.CancellationReason = reason
	r.UpdatedAt = now

	if r.DriverID != "" {
		if d, ok := m.drivers[r.DriverID]; ok && d.CurrentRideID == rideID {
			d.CurrentRideID = ""
			d.UpdatedAt = now
		}
	}
	return cloneRide(r), nil
}

func (m *MemoryStore) FailRide(ctx context.Context, rideID, reason string, now time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !models.TransitionAllowed(r.Status, models.RideStatusFailed) {
		return nil, models.ErrConflict
	}
	r.Status = models.RideStatusFailed
	t := now
	r.FailedAt = &t
	r.FailureReason = reason
	r.UpdatedAt = now
	return cloneRide(r), nil
}

func (m *MemoryStore) MarkReminderSent(ctx context.Context, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return models.ErrNotFound
	}
	r.ReminderSent = true
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) MarkStatusNotified(ctx context.Context, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return models.ErrNotFound
	}
	r.StatusNotificationSent = true
	r.UpdatedAt = time.Now()
	return nil
}

func cloneRider(r *models.Rider) *models.Rider {
	c := *r
	if r.Home != nil {
		h := *r.Home
		c.Home = &h
	}
	if r.Work != nil {
		w := *r.Work
		c.Work = &w
	}
	return &c
}

func cloneAvailability(a models.Availability) models.Availability {
	c := a
	if a.Location != nil {
		l := *a.Location
		c.Location = &l
	}
	if a.ServiceRadiusMiles != nil {
		r := *a.ServiceRadiusMiles
		c.ServiceRadiusMiles = &r
	}
	if a.StartedAt != nil {
		t := *a.StartedAt
		c.StartedAt = &t
	}
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		c.ExpiresAt = &t
	}
	return c
}

func cloneDriver(d *models.Driver) *models.Driver {
	c := *d
	c.Availability = cloneAvailability(d.Availability)
	return &c
}

func cloneRide(r *models.Ride) *models.Ride {
	c := *r
	for _, p := range []struct {
		src *time.Time
		dst **time.Time
	}{
		{r.AcceptedAt, &c.AcceptedAt},
		{r.CompletedAt, &c.CompletedAt},
		{r.CancelledAt, &c.CancelledAt},
		{r.FailedAt, &c.FailedAt},
	} {
		if p.src != nil {
			t := *p.src
			*p.dst = &t
		}
	}
	return &c
}
