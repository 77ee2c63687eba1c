package models

// RideStatus is the lifecycle state of a ride.
type RideStatus string

const (
	RideStatusOpen      RideStatus = "open"
	RideStatusMatched   RideStatus = "matched"
	RideStatusCompleted RideStatus = "completed"
	RideStatusCancelled RideStatus = "cancelled"
	RideStatusFailed    RideStatus = "failed"
)

// transitionSources lists, per target status, which current statuses a
// guarded update accepts. Terminal statuses never appear as sources, so a
// terminal ride can never move again.
var transitionSources = map[RideStatus][]RideStatus{
	RideStatusMatched:   {RideStatusOpen},
	RideStatusCompleted: {RideStatusMatched, RideStatusOpen},
	RideStatusCancelled: {RideStatusOpen, RideStatusMatched},
	RideStatusFailed:    {RideStatusOpen},
}

// TransitionAllowed reports whether a ride currently in from may move to
// to. Stores use this as the guard on every conditional status update.
func TransitionAllowed(from, to RideStatus) bool {
	for _, s := range transitionSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// TransitionSources returns the set of statuses a guarded update to the
// given target accepts. The Postgres store renders this into the WHERE
// clause of the conditional UPDATE.
func TransitionSources(to RideStatus) []RideStatus {
	return transitionSources[to]
}

// IsTerminal reports whether no further transition is permitted.
func (s RideStatus) IsTerminal() bool {
	switch s {
	case RideStatusCompleted, RideStatusCancelled, RideStatusFailed:
		return true
	}
	return false
}

// CancelActor identifies who cancelled a ride.
type CancelActor string

const (
	CancelledByRider  CancelActor = "rider"
	CancelledByDriver CancelActor = "driver"
	CancelledBySystem CancelActor = "system"
)
