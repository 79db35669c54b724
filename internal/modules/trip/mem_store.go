// README: In-memory trip store mirroring the PgStore semantics.
package trip

import (
	"context"
	"sync"
	"time"

	"wheels/internal/types"
)

type MemStore struct {
	mu       sync.Mutex
	trips    map[types.ID]*Trip
	archive  map[types.ID]*Trip
	archived []types.ID // archival order, newest last
}

func NewMemStore() *MemStore {
	return &MemStore{
		trips:   make(map[types.ID]*Trip),
		archive: make(map[types.ID]*Trip),
	}
}

func (m *MemStore) Create(_ context.Context, t *Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[t.ID] = cloneTrip(t)
	return nil
}

func (m *MemStore) Get(_ context.Context, id types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trips[id]; ok {
		return cloneTrip(t), nil
	}
	// Terminal trips stay readable from the archive.
	if t, ok := m.archive[id]; ok {
		return cloneTrip(t), nil
	}
	return nil, ErrNotFound
}

func (m *MemStore) ActiveByDriverPool(_ context.Context, driverPoolID types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if t.DriverPoolID == driverPoolID && !t.Status.Terminal() {
			return cloneTrip(t), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.StatusVersion++
	stamp := at
	switch to {
	case StatusInProgress:
		t.StartedAt = &stamp
	case StatusCompleted:
		t.CompletedAt = &stamp
	case StatusCancelled:
		t.CancelledAt = &stamp
	}
	return true, nil
}

func (m *MemStore) CompleteStep(_ context.Context, tripID types.ID, index int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok || index < 0 || index >= len(t.Steps) {
		return false, nil
	}
	st := &t.Steps[index]
	if st.Completed {
		return false, nil
	}
	stamp := at
	st.Completed = true
	st.CompletedAt = &stamp
	return true, nil
}

func (m *MemStore) ConfirmStep(_ context.Context, tripID types.ID, index int, kind StepKind, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok || index < 0 || index >= len(t.Steps) {
		return false, nil
	}
	st := &t.Steps[index]
	stamp := at
	switch kind {
	case StepPickup:
		if st.PickupConfirmedAt != nil {
			return false, nil
		}
		st.PickupConfirmedAt = &stamp
	case StepDropoff:
		if st.DropoffConfirmedAt != nil {
			return false, nil
		}
		st.DropoffConfirmedAt = &stamp
	default:
		return false, nil
	}
	return true, nil
}

func (m *MemStore) Archive(_ context.Context, t *Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.archive[t.ID]; !ok {
		m.archive[t.ID] = cloneTrip(t)
		m.archived = append(m.archived, t.ID)
	}
	delete(m.trips, t.ID)
	return nil
}

func (m *MemStore) History(_ context.Context, actorID types.ID) ([]*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Trip
	// Newest first, matching the archive read path.
	for i := len(m.archived) - 1; i >= 0; i-- {
		t := m.archive[m.archived[i]]
		if t.DriverID == actorID || t.HasRider(actorID) {
			out = append(out, cloneTrip(t))
		}
	}
	return out, nil
}

func cloneTrip(t *Trip) *Trip {
	cp := *t
	cp.Riders = append([]Rider(nil), t.Riders...)
	cp.Steps = append([]PickupStep(nil), t.Steps...)
	return &cp
}
