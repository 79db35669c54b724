// README: Trip store contract. Status changes are compare-and-set so a
// driver and a sweeper never double-apply the same transition.
package trip

import (
	"context"
	"time"

	"wheels/internal/types"
)

type Store interface {
	Create(ctx context.Context, t *Trip) error
	// Get loads the trip with riders and steps.
	Get(ctx context.Context, id types.ID) (*Trip, error)
	// ActiveByDriverPool finds the live trip for a driver pool entry,
	// ErrNotFound when none.
	ActiveByDriverPool(ctx context.Context, driverPoolID types.ID) (*Trip, error)
	// UpdateStatus is a compare-and-set on the current status; it bumps
	// StatusVersion and stamps the transition time. False means the
	// trip left the expected state first.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, at time.Time) (bool, error)
	// CompleteStep marks a step done exactly once; false on repeat.
	CompleteStep(ctx context.Context, tripID types.ID, index int, at time.Time) (bool, error)
	// ConfirmStep stamps a passenger acknowledgement; false when it was
	// already stamped.
	ConfirmStep(ctx context.Context, tripID types.ID, index int, kind StepKind, at time.Time) (bool, error)
	// Archive moves a terminal trip out of the active tables.
	Archive(ctx context.Context, t *Trip) error
	History(ctx context.Context, actorID types.ID) ([]*Trip, error)
}
