// README: Driver scoring-history store: acceptance rate and rating.
package match

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"wheels/internal/types"
)

type StatsStore interface {
	// Get returns stats for each driver; drivers without history get
	// neutral defaults.
	Get(ctx context.Context, driverIDs []types.ID) (map[types.ID]Stats, error)
	// RecordResponse updates the acceptance rate after a driver
	// accepts, rejects, or lets an offer expire.
	RecordResponse(ctx context.Context, driverID types.ID, accepted bool) error
	// SetRating stores a driver rating already normalized to [0,1].
	SetRating(ctx context.Context, driverID types.ID, rating float64) error
}

type PgStatsStore struct {
	db *pgxpool.Pool
}

func NewPgStatsStore(db *pgxpool.Pool) *PgStatsStore {
	return &PgStatsStore{db: db}
}

func (s *PgStatsStore) Get(ctx context.Context, driverIDs []types.ID) (map[types.ID]Stats, error) {
	out := make(map[types.ID]Stats, len(driverIDs))
	for _, id := range driverIDs {
		out[id] = neutralStats
	}
	if len(driverIDs) == 0 {
		return out, nil
	}
	raw := make([]string, len(driverIDs))
	for i, id := range driverIDs {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
        SELECT driver_id, offers_responded, offers_accepted, rating
        FROM driver_stats WHERE driver_id = ANY($1)`, raw,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var responded, accepted int
		var rating float64
		if err := rows.Scan(&id, &responded, &accepted, &rating); err != nil {
			return nil, err
		}
		st := neutralStats
		if responded > 0 {
			st.AcceptanceRate = float64(accepted) / float64(responded)
		}
		st.Rating = rating
		out[types.ID(id)] = st
	}
	return out, rows.Err()
}

func (s *PgStatsStore) RecordResponse(ctx context.Context, driverID types.ID, accepted bool) error {
	inc := 0
	if accepted {
		inc = 1
	}
	_, err := s.db.Exec(ctx, `
        INSERT INTO driver_stats (driver_id, offers_responded, offers_accepted, rating)
        VALUES ($1, 1, $2, 1.0)
        ON CONFLICT (driver_id) DO UPDATE SET
            offers_responded = driver_stats.offers_responded + 1,
            offers_accepted = driver_stats.offers_accepted + $2`,
		string(driverID), inc,
	)
	return err
}

func (s *PgStatsStore) SetRating(ctx context.Context, driverID types.ID, rating float64) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO driver_stats (driver_id, offers_responded, offers_accepted, rating)
        VALUES ($1, 0, 0, $2)
        ON CONFLICT (driver_id) DO UPDATE SET rating = $2`,
		string(driverID), rating,
	)
	return err
}

type MemStatsStore struct {
	mu    sync.Mutex
	stats map[types.ID]*memStats
}

type memStats struct {
	responded int
	accepted  int
	rating    float64
}

func NewMemStatsStore() *MemStatsStore {
	return &MemStatsStore{stats: make(map[types.ID]*memStats)}
}

func (s *MemStatsStore) Get(_ context.Context, driverIDs []types.ID) (map[types.ID]Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[types.ID]Stats, len(driverIDs))
	for _, id := range driverIDs {
		st := neutralStats
		if m, ok := s.stats[id]; ok {
			if m.responded > 0 {
				st.AcceptanceRate = float64(m.accepted) / float64(m.responded)
			}
			st.Rating = m.rating
		}
		out[id] = st
	}
	return out, nil
}

func (s *MemStatsStore) RecordResponse(_ context.Context, driverID types.ID, accepted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.ensure(driverID)
	m.responded++
	if accepted {
		m.accepted++
	}
	return nil
}

func (s *MemStatsStore) SetRating(_ context.Context, driverID types.ID, rating float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(driverID).rating = rating
	return nil
}

func (s *MemStatsStore) ensure(driverID types.ID) *memStats {
	m, ok := s.stats[driverID]
	if !ok {
		m = &memStats{rating: neutralStats.Rating}
		s.stats[driverID] = m
	}
	return m
}
