// README: Trip aggregate, pickup steps, and status definitions.
package trip

import (
	"time"

	"wheels/internal/types"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AllowedTransitions represents the trip state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusScheduled:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type StepKind string

const (
	// StepPickup collects a passenger on the way to campus.
	StepPickup StepKind = "pickup"
	// StepDropoff leaves a passenger on the way home from campus.
	StepDropoff StepKind = "dropoff"
	// StepTerminal is the shared final stop, campus or the driver's end
	// of route.
	StepTerminal StepKind = "terminal"
)

// PickupStep is one leg of the route. Index is the visiting order,
// contiguous from 0; the terminal step is always last.
type PickupStep struct {
	Index       int
	Kind        StepKind
	PassengerID types.ID
	Stop        types.Stop
	// Travel estimate from the previous step's location.
	LegKm        float64
	LegMinutes   float64
	CumulativeKm float64
	Completed    bool
	CompletedAt  *time.Time
	// Passenger-side acknowledgements.
	PickupConfirmedAt  *time.Time
	DropoffConfirmedAt *time.Time
}

// Rider is one passenger frozen onto the trip at start.
type Rider struct {
	PassengerID types.ID
	Seats       int
}

type Trip struct {
	ID            types.ID
	DriverPoolID  types.ID
	DriverID      types.ID
	Direction     types.Direction
	Status        Status
	StatusVersion int
	Riders        []Rider
	Steps         []PickupStep
	ScheduledAt   *time.Time
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
}

// HasRider reports whether the passenger is frozen onto this trip.
func (t *Trip) HasRider(passengerID types.ID) bool {
	for _, r := range t.Riders {
		if r.PassengerID == passengerID {
			return true
		}
	}
	return false
}
