// README: Offer store backed by PostgreSQL.
package offer

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wheels/internal/types"
)

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Create(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO trip_requests (
            id, passenger_id, passenger_entry_id, driver_pool_id,
            seats_requested, pickup_address, pickup_lat, pickup_lng,
            dropoff_address, dropoff_lat, dropoff_lng, status, created_at
        ) VALUES (
            $1, $2, $3, $4,
            $5, $6, $7, $8,
            $9, $10, $11, $12, $13
        )`,
		string(r.ID), string(r.PassengerID), string(r.PassengerEntryID), string(r.DriverPoolID),
		r.SeatsRequested, r.Pickup.Address, r.Pickup.Lat, r.Pickup.Lng,
		r.Dropoff.Address, r.Dropoff.Lat, r.Dropoff.Lng, string(r.Status), r.CreatedAt,
	)
	return err
}

const requestColumns = `
        id, passenger_id, passenger_entry_id, driver_pool_id,
        seats_requested, pickup_address, pickup_lat, pickup_lng,
        dropoff_address, dropoff_lat, dropoff_lng, status, created_at, responded_at`

func (s *PgStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM trip_requests WHERE id = $1`, string(id))
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PgStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE trip_requests
        SET status = $1,
            responded_at = CASE WHEN $1 IN ('accepted','rejected') THEN NOW() ELSE responded_at END
        WHERE id = $2 AND status = $3`,
		string(to), string(id), string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) HasPending(ctx context.Context, passengerID, driverPoolID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM trip_requests
            WHERE passenger_id = $1 AND driver_pool_id = $2 AND status = 'pending'
        )`, string(passengerID), string(driverPoolID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PgStore) CountAttempts(ctx context.Context, passengerEntryID types.ID) (int, error) {
	row := s.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM trip_requests
        WHERE passenger_entry_id = $1 AND status <> 'cancelled'`, string(passengerEntryID),
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PgStore) ListPendingByPassenger(ctx context.Context, passengerID types.ID) ([]*Request, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+requestColumns+` FROM trip_requests
        WHERE passenger_id = $1 AND status = 'pending'`, string(passengerID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PgStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*Request, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+requestColumns+` FROM trip_requests
        WHERE status = 'pending' AND created_at < $1`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PgStore) AddAssignment(ctx context.Context, driverPoolID types.ID, p AssignedPassenger) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO assignments (
            driver_pool_id, passenger_id, pickup_address, pickup_lat, pickup_lng,
            dropoff_address, dropoff_lat, dropoff_lng, seats, accepted_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(driverPoolID), string(p.PassengerID),
		p.Pickup.Address, p.Pickup.Lat, p.Pickup.Lng,
		p.Dropoff.Address, p.Dropoff.Lat, p.Dropoff.Lng,
		p.Seats, p.AcceptedAt,
	)
	return err
}

func (s *PgStore) GetAssignment(ctx context.Context, driverPoolID types.ID) ([]AssignedPassenger, error) {
	rows, err := s.db.Query(ctx, `
        SELECT passenger_id, pickup_address, pickup_lat, pickup_lng,
               dropoff_address, dropoff_lat, dropoff_lng, seats, accepted_at
        FROM assignments
        WHERE driver_pool_id = $1
        ORDER BY accepted_at`, string(driverPoolID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AssignedPassenger
	for rows.Next() {
		var p AssignedPassenger
		if err := rows.Scan(
			&p.PassengerID, &p.Pickup.Address, &p.Pickup.Lat, &p.Pickup.Lng,
			&p.Dropoff.Address, &p.Dropoff.Lat, &p.Dropoff.Lng, &p.Seats, &p.AcceptedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PgStore) RemoveAssignment(ctx context.Context, driverPoolID, passengerID types.ID) (int, error) {
	row := s.db.QueryRow(ctx, `
        DELETE FROM assignments
        WHERE driver_pool_id = $1 AND passenger_id = $2
        RETURNING seats`, string(driverPoolID), string(passengerID),
	)
	var seats int
	err := row.Scan(&seats)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return seats, err
}

func (s *PgStore) DeleteAssignment(ctx context.Context, driverPoolID types.ID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM assignments WHERE driver_pool_id = $1`, string(driverPoolID))
	return err
}

func (s *PgStore) PassengerAssigned(ctx context.Context, passengerID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
        SELECT EXISTS (SELECT 1 FROM assignments WHERE passenger_id = $1)`, string(passengerID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var r Request
	var respondedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.PassengerID, &r.PassengerEntryID, &r.DriverPoolID,
		&r.SeatsRequested, &r.Pickup.Address, &r.Pickup.Lat, &r.Pickup.Lng,
		&r.Dropoff.Address, &r.Dropoff.Lat, &r.Dropoff.Lng, &r.Status, &r.CreatedAt, &respondedAt,
	)
	if err != nil {
		return nil, err
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		r.RespondedAt = &t
	}
	return &r, nil
}

func collectRequests(rows pgx.Rows) ([]*Request, error) {
	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
