// README: In-memory offer store mirroring the PgStore semantics.
package offer

import (
	"context"
	"sort"
	"sync"
	"time"

	"wheels/internal/types"
)

type MemStore struct {
	mu          sync.Mutex
	requests    map[types.ID]*Request
	assignments map[types.ID][]AssignedPassenger
}

func NewMemStore() *MemStore {
	return &MemStore{
		requests:    make(map[types.ID]*Request),
		assignments: make(map[types.ID][]AssignedPassenger),
	}
}

func (m *MemStore) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemStore) Get(_ context.Context, id types.ID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemStore) UpdateStatus(_ context.Context, id types.ID, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	if to == StatusAccepted || to == StatusRejected {
		now := time.Now().UTC()
		r.RespondedAt = &now
	}
	return true, nil
}

func (m *MemStore) HasPending(_ context.Context, passengerID, driverPoolID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.PassengerID == passengerID && r.DriverPoolID == driverPoolID && r.Status == StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) CountAttempts(_ context.Context, passengerEntryID types.ID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.PassengerEntryID == passengerEntryID && r.Status != StatusCancelled {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) ListPendingByPassenger(_ context.Context, passengerID types.ID) ([]*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.requests {
		if r.PassengerID == passengerID && r.Status == StatusPending {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) ListPendingOlderThan(_ context.Context, cutoff time.Time) ([]*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.requests {
		if r.Status == StatusPending && r.CreatedAt.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) AddAssignment(_ context.Context, driverPoolID types.ID, p AssignedPassenger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[driverPoolID] = append(m.assignments[driverPoolID], p)
	return nil
}

func (m *MemStore) GetAssignment(_ context.Context, driverPoolID types.ID) ([]AssignedPassenger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.assignments[driverPoolID]
	out := make([]AssignedPassenger, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AcceptedAt.Before(out[j].AcceptedAt) })
	return out, nil
}

func (m *MemStore) RemoveAssignment(_ context.Context, driverPoolID, passengerID types.ID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.assignments[driverPoolID]
	for i, p := range list {
		if p.PassengerID == passengerID {
			m.assignments[driverPoolID] = append(list[:i], list[i+1:]...)
			return p.Seats, nil
		}
	}
	return 0, ErrNotFound
}

func (m *MemStore) DeleteAssignment(_ context.Context, driverPoolID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments, driverPoolID)
	return nil
}

func (m *MemStore) PassengerAssigned(_ context.Context, passengerID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.assignments {
		for _, p := range list {
			if p.PassengerID == passengerID {
				return true, nil
			}
		}
	}
	return false, nil
}
