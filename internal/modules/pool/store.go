// README: Pool store contract. Postgres+Redis in production, in-memory
// for unit tests.
package pool

import (
	"context"
	"time"

	"wheels/internal/types"
)

type Store interface {
	Create(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id types.ID) (*Entry, error)
	GetMany(ctx context.Context, ids []types.ID) ([]*Entry, error)
	// UpdateStatus is a compare-and-set on the status column; false
	// means the entry was no longer in the expected state.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status) (bool, error)
	HasSearching(ctx context.Context, actorID types.ID, role types.Role) (bool, error)
	// Nearby returns ids of searching entries of the given role whose
	// pickup lies within radiusKm of p, nearest first.
	Nearby(ctx context.Context, p types.Point, radiusKm float64, role types.Role) ([]types.ID, error)
	// SearchingOlderThan lists immediate entries created before the
	// cutoff plus scheduled entries whose dispatch window has passed.
	SearchingOlderThan(ctx context.Context, cutoff, now time.Time) ([]*Entry, error)
	// ScheduledDue lists searching reservations of the given role whose
	// scheduled time falls in [from, to].
	ScheduledDue(ctx context.Context, role types.Role, from, to time.Time) ([]*Entry, error)

	// Seat ledger. DecrementSeats is the single atomic unit the accept
	// path relies on: it must fail, not oversell, under concurrency,
	// and only a searching entry can lose seats.
	DecrementSeats(ctx context.Context, driverEntryID types.ID, seats int) (bool, error)
	ReleaseSeats(ctx context.Context, driverEntryID types.ID, seats int) error
}
