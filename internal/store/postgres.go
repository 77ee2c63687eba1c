package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/example/ride-hail/internal/models"
)

// PostgresStore is the durable Store. Guarded transitions are conditional
// UPDATEs checked via RowsAffected; the two-record mutations run inside a
// single transaction so they commit together or not at all. Proximity
// queries prefilter with a bounding box, which is a superset of the true
// radius — the exact cutoff happens in the matching engine.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// Exec runs raw SQL, used by the migration loader at startup.
func (s *PostgresStore) Exec(ctx context.Context, query string) error {
	_, err := s.db.ExecContext(ctx, query)
	return err
}

const riderCols = `id, name, contact_id, home_lon, home_lat, work_lon, work_lat, rating, completed_rides, created_at, updated_at`

func (s *PostgresStore) CreateRider(ctx context.Context, r *models.Rider) error {
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	homeLon, homeLat := pointCols(r.Home)
	workLon, workLat := pointCols(r.Work)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO riders (`+riderCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.Name, r.ContactID, homeLon, homeLat, workLon, workLat, r.Rating, r.CompletedRides, r.CreatedAt, r.UpdatedAt)
	if isUniqueViolation(err) {
		return models.ErrConflict
	}
	return err
}

func (s *PostgresStore) GetRider(ctx context.Context, id string) (*models.Rider, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+riderCols+` FROM riders WHERE id = $1`, id)
	return scanRider(row)
}

func (s *PostgresStore) UpdateRider(ctx context.Context, r *models.Rider) error {
	r.UpdatedAt = time.Now()
	homeLon, homeLat := pointCols(r.Home)
	workLon, workLat := pointCols(r.Work)
	res, err := s.db.ExecContext(ctx,
		`UPDATE riders SET name=$2, contact_id=$3, home_lon=$4, home_lat=$5, work_lon=$6, work_lat=$7, rating=$8, updated_at=$9 WHERE id=$1`,
		r.ID, r.Name, r.ContactID, homeLon, homeLat, workLon, workLat, r.Rating, r.UpdatedAt)
	return requireRow(res, err)
}

func (s *PostgresStore) DeleteRider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM riders WHERE id = $1
		   AND NOT EXISTS (SELECT 1 FROM rides WHERE rider_id = $1 AND status IN ('open','matched'))`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if exists, err := s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM riders WHERE id = $1)`, id); err != nil {
			return err
		} else if exists {
			return models.ErrConflict
		}
		return models.ErrNotFound
	}
	return nil
}

const driverCols = `id, name, contact_id, vehicle, rating, completed_rides, is_available, loc_lon, loc_lat, service_radius_miles, availability_started_at, availability_expires_at, current_ride_id, created_at, updated_at`

func (s *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	a := d.Availability
	locLon, locLat := pointCols(a.Location)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drivers (`+driverCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		d.ID, d.Name, d.ContactID, d.Vehicle, d.Rating, d.CompletedRides,
		a.IsAvailable, locLon, locLat, a.ServiceRadiusMiles, a.StartedAt, a.ExpiresAt,
		d.CurrentRideID, d.CreatedAt, d.UpdatedAt)
	if isUniqueViolation(err) {
		return models.ErrConflict
	}
	return err
}

func (s *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+driverCols+` FROM drivers WHERE id = $1`, id)
	return scanDriver(row)
}

func (s *PostgresStore) UpdateDriver(ctx context.Context, d *models.Driver) error {
	d.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE drivers SET name=$2, contact_id=$3, vehicle=$4, rating=$5, updated_at=$6 WHERE id=$1`,
		d.ID, d.Name, d.ContactID, d.Vehicle, d.Rating, d.UpdatedAt)
	return requireRow(res, err)
}

func (s *PostgresStore) DeleteDriver(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM drivers WHERE id = $1
		   AND NOT EXISTS (SELECT 1 FROM rides WHERE driver_id = $1 AND status IN ('open','matched'))`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if exists, err := s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM drivers WHERE id = $1)`, id); err != nil {
			return err
		} else if exists {
			return models.ErrConflict
		}
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetDriverAvailability(ctx context.Context, driverID string, a models.Availability) error {
	locLon, locLat := pointCols(a.Location)
	res, err := s.db.ExecContext(ctx,
		`UPDATE drivers SET is_available=$2, loc_lon=$3, loc_lat=$4, service_radius_miles=$5,
		        availability_started_at=$6, availability_expires_at=$7, updated_at=$8
		  WHERE id=$1`,
		driverID, a.IsAvailable, locLon, locLat, a.ServiceRadiusMiles, a.StartedAt, a.ExpiresAt, time.Now())
	return requireRow(res, err)
}

func (s *PostgresStore) GetDrivers(ctx context.Context, ids []string) ([]*models.Driver, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+driverCols+` FROM drivers WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDrivers(rows)
}

func (s *PostgresStore) ExpiredAvailableDrivers(ctx context.Context, now time.Time) ([]*models.Driver, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+driverCols+` FROM drivers
		  WHERE is_available AND availability_expires_at IS NOT NULL AND availability_expires_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDrivers(rows)
}

const rideCols = `id, rider_id, driver_id, pickup_name, pickup_lon, pickup_lat, dropoff_name, dropoff_lon, dropoff_lat, bid, ride_time, status, reminder_sent, status_notification_sent, created_at, updated_at, accepted_at, completed_at, cancelled_at, cancelled_by, cancellation_reason, failed_at, failure_reason`

func (s *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rides (`+rideCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		r.ID, r.RiderID, nullString(r.DriverID),
		r.Pickup.Name, r.Pickup.Point.Longitude, r.Pickup.Point.Latitude,
		r.Dropoff.Name, r.Dropoff.Point.Longitude, r.Dropoff.Point.Latitude,
		r.Bid.String(), r.RideTime, string(r.Status), r.ReminderSent, r.StatusNotificationSent,
		r.CreatedAt, r.UpdatedAt,
		r.AcceptedAt, r.CompletedAt, r.CancelledAt, nullString(string(r.CancelledBy)),
		nullString(r.CancellationReason), r.FailedAt, nullString(r.FailureReason))
	if isUniqueViolation(err) {
		return models.ErrConflict
	}
	if isForeignKeyViolation(err) {
		return models.ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rideCols+` FROM rides WHERE id = $1`, id)
	return scanRide(row)
}

func (s *PostgresStore) UpdateOpenRide(ctx context.Context, r *models.Ride, riderID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rides SET pickup_name=$2, pickup_lon=$3, pickup_lat=$4,
		        dropoff_name=$5, dropoff_lon=$6, dropoff_lat=$7,
		        bid=$8, ride_time=$9, updated_at=$10
		  WHERE id=$1 AND status='open' AND rider_id=$11`,
		r.ID, r.Pickup.Name, r.Pickup.Point.Longitude, r.Pickup.Point.Latitude,
		r.Dropoff.Name, r.Dropoff.Point.Longitude, r.Dropoff.Point.Latitude,
		r.Bid.String(), r.RideTime, time.Now(), riderID)
	return s.requireRide(ctx, r.ID, res, err)
}

func (s *PostgresStore) DeleteOpenRide(ctx context.Context, rideID, riderID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rides WHERE id=$1 AND status='open' AND rider_id=$2`, rideID, riderID)
	return s.requireRide(ctx, rideID, res, err)
}

func (s *PostgresStore) RidesByRider(ctx context.Context, riderID string) ([]*models.Ride, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rideCols+` FROM rides WHERE rider_id = $1 ORDER BY ride_time DESC`, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (s *PostgresStore) RidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rideCols+` FROM rides WHERE driver_id = $1 ORDER BY ride_time DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (s *PostgresStore) OpenRidesNear(ctx context.Context, p models.GeoPoint, radiusMiles float64) ([]*models.Ride, error) {
	dLat, dLon := boundingBox(p, radiusMiles)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rideCols+` FROM rides
		  WHERE status='open'
		    AND pickup_lat BETWEEN $1 AND $2
		    AND pickup_lon BETWEEN $3 AND $4`,
		p.Latitude-dLat, p.Latitude+dLat, p.Longitude-dLon, p.Longitude+dLon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (s *PostgresStore) StaleOpenRides(ctx context.Context, rideTimeBefore time.Time) ([]*models.Ride, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rideCols+` FROM rides
		  WHERE status='open' AND driver_id IS NULL AND ride_time <= $1`, rideTimeBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (s *PostgresStore) MatchedRidesOlderThan(ctx context.Context, rideTimeBefore time.Time) ([]*models.Ride, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rideCols+` FROM rides WHERE status='matched' AND ride_time <= $1`, rideTimeBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (s *PostgresStore) MatchedRidesNeedingNudge(ctx context.Context, rideTimeBefore time.Time) ([]*models.Ride, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rideCols+` FROM rides
		  WHERE status='matched' AND NOT status_notification_sent AND ride_time <= $1`, rideTimeBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (s *PostgresStore) MatchedRidesNeedingReminder(ctx context.Context, from, to time.Time) ([]*models.Ride, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rideCols+` FROM rides
		  WHERE status='matched' AND NOT reminder_sent AND ride_time BETWEEN $1 AND $2`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (s *PostgresStore) AcceptRide(ctx context.Context, rideID, driverID string, now time.Time) (*models.Ride, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE rides SET status='matched', driver_id=$2, accepted_at=$3, updated_at=$3
		  WHERE id=$1 AND status='open'`, rideID, driverID, now)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a missing ride from a lost race; either way the
		// driver's availability is untouched.
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id=$1)`, rideID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrConflict
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE drivers SET is_available=false, loc_lon=NULL, loc_lat=NULL, service_radius_miles=NULL,
		        availability_started_at=NULL, availability_expires_at=NULL,
		        current_ride_id=$2, updated_at=$3
		  WHERE id=$1`, driverID, rideID, now)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrNotFound
	}

	ride, err := scanRide(tx.QueryRowContext(ctx, `SELECT `+rideCols+` FROM rides WHERE id=$1`, rideID))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ride, nil
}

func (s *PostgresStore) CompleteRide(ctx context.Context, rideID, driverID string, now time.Time) (*models.Ride, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE rides SET status='completed', completed_at=$2, updated_at=$2
		  WHERE id=$1 AND status = ANY($3)
		    AND (driver_id IS NULL OR driver_id=$4)`,
		rideID, now, statusArray(models.RideStatusCompleted), driverID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.guardMiss(ctx, tx, rideID)
	}

	ride, err := scanRide(tx.QueryRowContext(ctx, `SELECT `+rideCols+` FROM rides WHERE id=$1`, rideID))
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE drivers SET current_ride_id='', completed_rides=completed_rides+1, updated_at=$2 WHERE id=$1`,
		driverID, now); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE riders SET completed_rides=completed_rides+1, updated_at=$2 WHERE id=$1`,
		ride.RiderID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ride, nil
}

func (s *PostgresStore) CancelRide(ctx context.Context, rideID string, by models.CancelActor, actorID, reason string, now time.Time) (*models.Ride, error) {
	owner := ""
	switch by {
	case models.CancelledByRider:
		owner = ` AND rider_id=$5`
	case models.CancelledByDriver:
		owner = ` AND driver_id=$5`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	args := []any{rideID, now, string(by), reason}
	if owner != "" {
		args = append(args, actorID)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE rides SET status='cancelled', cancelled_at=$2, cancelled_by=$3, cancellation_reason=$4, updated_at=$2
		  WHERE id=$1 AND status IN ('open','matched')`+owner, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, s.guardMiss(ctx, tx, rideID)
	}

	ride, err := scanRide(tx.QueryRowContext(ctx, `SELECT `+rideCols+` FROM rides WHERE id=$1`, rideID))
	if err != nil {
		return nil, err
	}
	if ride.DriverID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE drivers SET current_ride_id='', updated_at=$2 WHERE id=$1 AND current_ride_id=$3`,
			ride.DriverID, now, rideID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ride, nil
}

func (s *PostgresStore) FailRide(ctx context.Context, rideID, reason string, now time.Time) (*models.Ride, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rides SET status='failed', failed_at=$2, failure_reason=$3, updated_at=$2
		  WHERE id=$1 AND status='open'`, rideID, now, reason)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if exists, err := s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id=$1)`, rideID); err != nil {
			return nil, err
		} else if exists {
			return nil, models.ErrConflict
		}
		return nil, models.ErrNotFound
	}
	return s.GetRide(ctx, rideID)
}

func (s *PostgresStore) MarkReminderSent(ctx context.Context, rideID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rides SET reminder_sent=true, updated_at=$2 WHERE id=$1`, rideID, time.Now())
	return requireRow(res, err)
}

func (s *PostgresStore) MarkStatusNotified(ctx context.Context, rideID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rides SET status_notification_sent=true, updated_at=$2 WHERE id=$1`, rideID, time.Now())
	return requireRow(res, err)
}

// guardMiss classifies a zero-row conditional update inside a transaction.
func (s *PostgresStore) guardMiss(ctx context.Context, tx *sql.Tx, rideID string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id=$1)`, rideID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrConflict
}

func (s *PostgresStore) requireRide(ctx context.Context, rideID string, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if exists, err := s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id=$1)`, rideID); err != nil {
			return err
		} else if exists {
			return models.ErrConflict
		}
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) exists(ctx context.Context, query, id string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, query, id).Scan(&ok)
	return ok, err
}

// boundingBox converts a radius in miles to latitude/longitude deltas,
// padded so the box always contains the true circle.
func boundingBox(p models.GeoPoint, radiusMiles float64) (dLat, dLon float64) {
	const milesPerDegree = 69.0
	dLat = radiusMiles / milesPerDegree * 1.1
	cosLat := math.Cos(p.Latitude * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	dLon = radiusMiles / (milesPerDegree * cosLat) * 1.1
	return dLat, dLon
}

// statusArray renders the guard's accepted source statuses for ANY().
func statusArray(to models.RideStatus) any {
	src := models.TransitionSources(to)
	out := make([]string, len(src))
	for i, s := range src {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func pointCols(p *models.GeoPoint) (lon, lat sql.NullFloat64) {
	if p == nil {
		return
	}
	return sql.NullFloat64{Float64: p.Longitude, Valid: true}, sql.NullFloat64{Float64: p.Latitude, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRider(row rowScanner) (*models.Rider, error) {
	var r models.Rider
	var homeLon, homeLat, workLon, workLat sql.NullFloat64
	err := row.Scan(&r.ID, &r.Name, &r.ContactID, &homeLon, &homeLat, &workLon, &workLat,
		&r.Rating, &r.CompletedRides, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Home = nullPoint(homeLon, homeLat)
	r.Work = nullPoint(workLon, workLat)
	return &r, nil
}

func scanDriver(row rowScanner) (*models.Driver, error) {
	var d models.Driver
	var locLon, locLat, radius sql.NullFloat64
	var startedAt, expiresAt sql.NullTime
	err := row.Scan(&d.ID, &d.Name, &d.ContactID, &d.Vehicle, &d.Rating, &d.CompletedRides,
		&d.Availability.IsAvailable, &locLon, &locLat, &radius, &startedAt, &expiresAt,
		&d.CurrentRideID, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Availability.Location = nullPoint(locLon, locLat)
	if radius.Valid {
		v := radius.Float64
		d.Availability.ServiceRadiusMiles = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		d.Availability.StartedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		d.Availability.ExpiresAt = &t
	}
	return &d, nil
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var driverID, cancelledBy, cancelReason, failureReason sql.NullString
	var bid string
	var acceptedAt, completedAt, cancelledAt, failedAt sql.NullTime
	err := row.Scan(&r.ID, &r.RiderID, &driverID,
		&r.Pickup.Name, &r.Pickup.Point.Longitude, &r.Pickup.Point.Latitude,
		&r.Dropoff.Name, &r.Dropoff.Point.Longitude, &r.Dropoff.Point.Latitude,
		&bid, &r.RideTime, &r.Status, &r.ReminderSent, &r.StatusNotificationSent,
		&r.CreatedAt, &r.UpdatedAt,
		&acceptedAt, &completedAt, &cancelledAt, &cancelledBy, &cancelReason, &failedAt, &failureReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	r.CancelledBy = models.CancelActor(cancelledBy.String)
	r.CancellationReason = cancelReason.String
	r.FailureReason = failureReason.String
	if r.Bid, err = decimal.NewFromString(bid); err != nil {
		return nil, fmt.Errorf("bad bid for ride %s: %w", r.ID, err)
	}
	assignTime := func(n sql.NullTime, dst **time.Time) {
		if n.Valid {
			t := n.Time
			*dst = &t
		}
	}
	assignTime(acceptedAt, &r.AcceptedAt)
	assignTime(completedAt, &r.CompletedAt)
	assignTime(cancelledAt, &r.CancelledAt)
	assignTime(failedAt, &r.FailedAt)
	return &r, nil
}

func nullPoint(lon, lat sql.NullFloat64) *models.GeoPoint {
	if !lon.Valid || !lat.Valid {
		return nil
	}
	return &models.GeoPoint{Longitude: lon.Float64, Latitude: lat.Float64}
}

func collectRides(rows *sql.Rows) ([]*models.Ride, error) {
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func collectDrivers(rows *sql.Rows) ([]*models.Driver, error) {
	var out []*models.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
