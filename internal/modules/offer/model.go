// README: Trip request aggregate and the driver's assignment roster.
package offer

import (
	"time"

	"wheels/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

func (s Status) Terminal() bool { return s != StatusPending }

// Request is a passenger's ask directed at one specific driver pool
// entry. Only the offer coordinator mutates it after creation.
type Request struct {
	ID types.ID
	// PassengerID is the passenger's actor id; PassengerEntryID is
	// their pool entry, which keys the per-search-cycle retry budget.
	PassengerID      types.ID
	PassengerEntryID types.ID
	DriverPoolID     types.ID
	SeatsRequested   int
	// Stops are snapshotted from the passenger's pool entry at
	// submission time.
	Pickup      types.Stop
	Dropoff     types.Stop
	Status      Status
	CreatedAt   time.Time
	RespondedAt *time.Time
}

type AssignedPassenger struct {
	PassengerID types.ID
	Pickup      types.Stop
	Dropoff     types.Stop
	Seats       int
	AcceptedAt  time.Time
}

// Assignment is the set of passengers a driver has accepted for one
// trip. sum(Passengers[i].Seats) never exceeds the entry's
// seats_offered; RemainingSeats is read from the seat ledger.
type Assignment struct {
	DriverPoolID   types.ID
	Passengers     []AssignedPassenger
	RemainingSeats int
}

func (a *Assignment) SeatsTaken() int {
	total := 0
	for _, p := range a.Passengers {
		total += p.Seats
	}
	return total
}
