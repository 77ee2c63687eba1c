package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// GeoPoint is a WGS-84 coordinate pair.
type GeoPoint struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Validate rejects non-finite numbers and out-of-range coordinates.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) ||
		math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) {
		return Invalid("coordinates must be finite numbers")
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return Invalid("longitude out of range")
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return Invalid("latitude out of range")
	}
	return nil
}

// Place is a named location, e.g. a pickup or drop-off point.
type Place struct {
	Name  string   `json:"name"`
	Point GeoPoint `json:"point"`
}

// Rider is a ride requester.
type Rider struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	ContactID      string     `json:"contact_id"`
	Home           *GeoPoint  `json:"home,omitempty"`
	Work           *GeoPoint  `json:"work,omitempty"`
	Rating         float64    `json:"rating"`
	CompletedRides int        `json:"completed_rides"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Service radius bounds in miles.
const (
	MinServiceRadiusMiles = 1.0
	MaxServiceRadiusMiles = 50.0
)

// Availability is a driver's availability snapshot. When IsAvailable is
// true, Location and ServiceRadiusMiles are always set; going offline
// clears all fields.
type Availability struct {
	IsAvailable        bool       `json:"is_available"`
	Location           *GeoPoint  `json:"location,omitempty"`
	ServiceRadiusMiles *float64   `json:"service_radius_miles,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// Live reports whether the availability is currently usable for matching:
// the driver is available and the window, if bounded, has not passed.
// This is the single expiry predicate shared by the registry getter, the
// matching engine, and the expiry sweep.
func (a Availability) Live(now time.Time) bool {
	if !a.IsAvailable {
		return false
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Expired reports whether the record claims availability past its window.
// Such records are swept back to unavailable.
func (a Availability) Expired(now time.Time) bool {
	return a.IsAvailable && a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// WindowAllows reports whether a ride scheduled at rideTime falls inside
// the availability window. The lookahead bounds how far past the window
// start a ride may be scheduled even when the window itself is open-ended.
func (a Availability) WindowAllows(rideTime time.Time, lookahead time.Duration) bool {
	if !a.IsAvailable || a.StartedAt == nil {
		return false
	}
	if rideTime.Before(*a.StartedAt) {
		return false
	}
	if a.ExpiresAt != nil && rideTime.After(*a.ExpiresAt) {
		return false
	}
	if rideTime.After(a.StartedAt.Add(lookahead)) {
		return false
	}
	return true
}

// Driver is a ride provider.
type Driver struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	ContactID      string       `json:"contact_id"`
	Vehicle        string       `json:"vehicle"`
	Rating         float64      `json:"rating"`
	CompletedRides int          `json:"completed_rides"`
	Availability   Availability `json:"availability"`
	CurrentRideID  string       `json:"current_ride_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Ride is the central record. Once accepted it is never hard-deleted;
// cancellation and failure are terminal statuses, not row deletion.
type Ride struct {
	ID       string          `json:"id"`
	RiderID  string          `json:"rider_id"`
	DriverID string          `json:"driver_id,omitempty"`
	Pickup   Place           `json:"pickup"`
	Dropoff  Place           `json:"dropoff"`
	Bid      decimal.Decimal `json:"bid"`
	RideTime time.Time       `json:"ride_time"`
	Status   RideStatus      `json:"status"`

	// Idempotency guards for the lifecycle sweeps.
	ReminderSent           bool `json:"reminder_sent"`
	StatusNotificationSent bool `json:"status_notification_sent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AcceptedAt         *time.Time  `json:"accepted_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	CancelledAt        *time.Time  `json:"cancelled_at,omitempty"`
	CancelledBy        CancelActor `json:"cancelled_by,omitempty"`
	CancellationReason string      `json:"cancellation_reason,omitempty"`
	FailedAt           *time.Time  `json:"failed_at,omitempty"`
	FailureReason      string      `json:"failure_reason,omitempty"`
}

// MinRideLeadTime is how far in the future a new ride must be scheduled.
const MinRideLeadTime = 30 * time.Minute

// RideStats aggregates an actor's ride history.
type RideStats struct {
	Total           int                `json:"total"`
	ByStatus        map[RideStatus]int `json:"by_status"`
	CompletedBidSum decimal.Decimal    `json:"completed_bid_sum"`
}
