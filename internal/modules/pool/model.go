// README: Searching-pool entry aggregate and status definitions.
package pool

import (
	"time"

	"wheels/internal/types"
)

type Status string

const (
	StatusSearching Status = "searching"
	StatusMatched   Status = "matched"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Entry is a driver or passenger actively searching for a match.
type Entry struct {
	ID        types.ID
	ActorID   types.ID
	Role      types.Role
	Pickup    types.Stop
	Dropoff   types.Stop
	Direction types.Direction
	// ScheduledAt nil means "depart now".
	ScheduledAt *time.Time
	// SeatsOffered and RemainingSeats apply to drivers,
	// SeatsRequested to passengers.
	SeatsOffered   int
	RemainingSeats int
	SeatsRequested int
	PricePerSeat   types.Money
	Status         Status
	CreatedAt      time.Time
}

func (e *Entry) Scheduled() bool { return e.ScheduledAt != nil }

// Terminal reports whether the entry left the pool for good.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}
