// README: In-memory pool store. Mirrors the PgStore semantics, including
// the atomic seat ledger, for unit tests and local runs without infra.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wheels/internal/maps"
	"wheels/internal/types"
)

type MemStore struct {
	mu      sync.Mutex
	entries map[types.ID]*Entry
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[types.ID]*Entry)}
}

func (m *MemStore) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *MemStore) Get(_ context.Context, id types.ID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemStore) GetMany(ctx context.Context, ids []types.ID) ([]*Entry, error) {
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		e, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemStore) UpdateStatus(_ context.Context, id types.ID, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	return true, nil
}

func (m *MemStore) HasSearching(_ context.Context, actorID types.ID, role types.Role) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ActorID == actorID && e.Role == role && e.Status == StatusSearching {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) Nearby(_ context.Context, p types.Point, radiusKm float64, role types.Role) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type hit struct {
		id types.ID
		km float64
	}
	var hits []hit
	for _, e := range m.entries {
		if e.Role != role || e.Status != StatusSearching {
			continue
		}
		km := maps.HaversineKm(p, e.Pickup.Point)
		if km <= radiusKm {
			hits = append(hits, hit{id: e.ID, km: km})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].km < hits[j].km })
	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

func (m *MemStore) SearchingOlderThan(_ context.Context, cutoff, now time.Time) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.Status != StatusSearching {
			continue
		}
		stale := (e.ScheduledAt == nil && e.CreatedAt.Before(cutoff)) ||
			(e.ScheduledAt != nil && e.ScheduledAt.Before(now))
		if stale {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemStore) ScheduledDue(_ context.Context, role types.Role, from, to time.Time) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.Status != StatusSearching || e.Role != role || e.ScheduledAt == nil {
			continue
		}
		if e.ScheduledAt.Before(from) || e.ScheduledAt.After(to) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return out, nil
}

func (m *MemStore) DecrementSeats(_ context.Context, driverEntryID types.ID, seats int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[driverEntryID]
	if !ok || e.Role != types.RoleDriver || e.Status != StatusSearching || e.RemainingSeats < seats {
		return false, nil
	}
	e.RemainingSeats -= seats
	return true, nil
}

func (m *MemStore) ReleaseSeats(_ context.Context, driverEntryID types.ID, seats int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[driverEntryID]
	if !ok {
		return ErrNotFound
	}
	if e.RemainingSeats+seats > e.SeatsOffered {
		return fmt.Errorf("release %d seats on %s would exceed seats_offered", seats, driverEntryID)
	}
	e.RemainingSeats += seats
	return nil
}
