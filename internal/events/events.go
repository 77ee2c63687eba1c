package events

import (
	"context"
	"time"

	"github.com/example/ride-hail/internal/models"
)

// Event is one lifecycle change published for downstream analytics.
type Event struct {
	Type     string            `json:"type"`
	RideID   string            `json:"ride_id,omitempty"`
	RiderID  string            `json:"rider_id,omitempty"`
	DriverID string            `json:"driver_id,omitempty"`
	Status   models.RideStatus `json:"status,omitempty"`
	At       time.Time         `json:"at"`
}

// Event types.
const (
	TypeRideCreated       = "ride_created"
	TypeRideDeleted       = "ride_deleted"
	TypeRideUpdated       = "ride_updated"
	TypeRideMatched       = "ride_matched"
	TypeRideCompleted     = "ride_completed"
	TypeRideCancelled     = "ride_cancelled"
	TypeRideFailed        = "ride_failed"
	TypeDriverAvailable   = "driver_available"
	TypeDriverUnavailable = "driver_unavailable"
)

// Publisher emits events best-effort: a publish failure must never block
// or undo a committed state transition.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events; used in tests and when no broker is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, e Event) error { return nil }
