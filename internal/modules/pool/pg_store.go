// README: Pool store backed by PostgreSQL rows plus a Redis GEO index
// over pickup points.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"wheels/internal/types"
)

const geoKeyPrefix = "pool:geo:%s"

type PgStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewPgStore(db *pgxpool.Pool, redis *redis.Client) *PgStore {
	return &PgStore{db: db, redis: redis}
}

func (s *PgStore) Create(ctx context.Context, e *Entry) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO pool_entries (
            id, actor_id, role, pickup_address, pickup_lat, pickup_lng,
            dropoff_address, dropoff_lat, dropoff_lng, direction,
            scheduled_at, seats_offered, remaining_seats, seats_requested,
            price_per_seat, currency, status, created_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6,
            $7, $8, $9, $10,
            $11, $12, $13, $14,
            $15, $16, $17, $18
        )`,
		string(e.ID), string(e.ActorID), string(e.Role),
		e.Pickup.Address, e.Pickup.Lat, e.Pickup.Lng,
		e.Dropoff.Address, e.Dropoff.Lat, e.Dropoff.Lng, string(e.Direction),
		e.ScheduledAt, e.SeatsOffered, e.RemainingSeats, e.SeatsRequested,
		e.PricePerSeat.Amount, e.PricePerSeat.Currency, string(e.Status), e.CreatedAt,
	)
	if err != nil {
		return err
	}
	return s.redis.GeoAdd(ctx, geoKey(e.Role), &redis.GeoLocation{
		Name:      string(e.ID),
		Longitude: e.Pickup.Lng,
		Latitude:  e.Pickup.Lat,
	}).Err()
}

const entryColumns = `
        id, actor_id, role, pickup_address, pickup_lat, pickup_lng,
        dropoff_address, dropoff_lat, dropoff_lng, direction,
        scheduled_at, seats_offered, remaining_seats, seats_requested,
        price_per_seat, currency, status, created_at`

func (s *PgStore) Get(ctx context.Context, id types.ID) (*Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM pool_entries WHERE id = $1`, string(id))
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *PgStore) GetMany(ctx context.Context, ids []types.ID) ([]*Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM pool_entries WHERE id = ANY($1)`, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[types.ID]*Entry, len(ids))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Preserve the caller's (distance-sorted) order.
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *PgStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE pool_entries SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), string(id), string(from),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if to != StatusSearching {
		e, err := s.Get(ctx, id)
		if err == nil {
			_ = s.redis.ZRem(ctx, geoKey(e.Role), string(id)).Err()
		}
	}
	return true, nil
}

func (s *PgStore) HasSearching(ctx context.Context, actorID types.ID, role types.Role) (bool, error) {
	row := s.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM pool_entries
            WHERE actor_id = $1 AND role = $2 AND status = 'searching'
        )`, string(actorID), string(role),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PgStore) Nearby(ctx context.Context, p types.Point, radiusKm float64, role types.Role) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, geoKey(role), &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

func (s *PgStore) SearchingOlderThan(ctx context.Context, cutoff, now time.Time) ([]*Entry, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+entryColumns+` FROM pool_entries
        WHERE status = 'searching'
          AND (
            (scheduled_at IS NULL AND created_at < $1)
            OR (scheduled_at IS NOT NULL AND scheduled_at < $2)
          )`, cutoff, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStore) ScheduledDue(ctx context.Context, role types.Role, from, to time.Time) ([]*Entry, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+entryColumns+` FROM pool_entries
        WHERE status = 'searching' AND role = $1
          AND scheduled_at IS NOT NULL
          AND scheduled_at BETWEEN $2 AND $3
        ORDER BY scheduled_at`, string(role), from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStore) DecrementSeats(ctx context.Context, driverEntryID types.ID, seats int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE pool_entries
        SET remaining_seats = remaining_seats - $1
        WHERE id = $2 AND role = 'driver' AND status = 'searching'
          AND remaining_seats >= $1`,
		seats, string(driverEntryID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) ReleaseSeats(ctx context.Context, driverEntryID types.ID, seats int) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE pool_entries
        SET remaining_seats = remaining_seats + $1
        WHERE id = $2 AND role = 'driver' AND remaining_seats + $1 <= seats_offered`,
		seats, string(driverEntryID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("release %d seats on %s would exceed seats_offered", seats, driverEntryID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var scheduledAt sql.NullTime
	err := row.Scan(
		&e.ID, &e.ActorID, &e.Role,
		&e.Pickup.Address, &e.Pickup.Lat, &e.Pickup.Lng,
		&e.Dropoff.Address, &e.Dropoff.Lat, &e.Dropoff.Lng, &e.Direction,
		&scheduledAt, &e.SeatsOffered, &e.RemainingSeats, &e.SeatsRequested,
		&e.PricePerSeat.Amount, &e.PricePerSeat.Currency, &e.Status, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		e.ScheduledAt = &t
	}
	return &e, nil
}

func geoKey(role types.Role) string {
	return fmt.Sprintf(geoKeyPrefix, string(role))
}
