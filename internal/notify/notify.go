package notify

import "context"

// Message kinds, one per state change the core surfaces.
const (
	KindAvailabilityExpired = "availability_expired"
	KindNearbyRide          = "nearby_ride"
	KindRideMatched         = "ride_matched"
	KindRideCompleted       = "ride_completed"
	KindRideCancelled       = "ride_cancelled"
	KindRideFailed          = "ride_failed"
	KindRideReminder        = "ride_reminder"
	KindStatusNudge         = "status_nudge"
)

// Message is a rendered notification addressed to an actor's opaque
// contact identity. The core renders the text; delivery is the
// collaborator's problem.
type Message struct {
	ContactID string `json:"contact_id"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
}

// Notifier delivers one message. Delivery failure is reported but callers
// log and ignore it — a dropped notification never blocks a state
// transition and is never retried here.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}
