// README: Offer store contract and the seat ledger the accept path
// depends on.
package offer

import (
	"context"
	"time"

	"wheels/internal/modules/pool"
	"wheels/internal/types"
)

type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	// UpdateStatus is a compare-and-set; false means the request left
	// the expected state first.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status) (bool, error)
	HasPending(ctx context.Context, passengerID, driverPoolID types.ID) (bool, error)
	// CountAttempts counts requests charged against a search cycle:
	// everything except passenger-cancelled ones.
	CountAttempts(ctx context.Context, passengerEntryID types.ID) (int, error)
	ListPendingByPassenger(ctx context.Context, passengerID types.ID) ([]*Request, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*Request, error)

	AddAssignment(ctx context.Context, driverPoolID types.ID, p AssignedPassenger) error
	GetAssignment(ctx context.Context, driverPoolID types.ID) ([]AssignedPassenger, error)
	// RemoveAssignment returns the seats freed by the withdrawal.
	RemoveAssignment(ctx context.Context, driverPoolID, passengerID types.ID) (int, error)
	DeleteAssignment(ctx context.Context, driverPoolID types.ID) error
	PassengerAssigned(ctx context.Context, passengerID types.ID) (bool, error)
}

// SeatLedger is the slice of the pool store the coordinator needs:
// entry reads plus the atomic seat counters.
type SeatLedger interface {
	Get(ctx context.Context, id types.ID) (*pool.Entry, error)
	DecrementSeats(ctx context.Context, driverEntryID types.ID, seats int) (bool, error)
	ReleaseSeats(ctx context.Context, driverEntryID types.ID, seats int) error
}
