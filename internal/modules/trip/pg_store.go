// README: Trip store backed by PostgreSQL. Steps and riders live in
// child tables; terminal trips are snapshotted to trip_archive as JSON.
package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

func (s *PgStore) Create(ctx context.Context, t *Trip) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO trips (
            id, driver_pool_id, driver_id, direction, status,
            status_version, scheduled_at, created_at, started_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(t.ID), string(t.DriverPoolID), string(t.DriverID), string(t.Direction),
		string(t.Status), t.StatusVersion, t.ScheduledAt, t.CreatedAt, t.StartedAt,
	)
	if err != nil {
		return err
	}
	for _, r := range t.Riders {
		_, err = tx.Exec(ctx, `
            INSERT INTO trip_riders (trip_id, passenger_id, seats)
            VALUES ($1, $2, $3)`,
			string(t.ID), string(r.PassengerID), r.Seats,
		)
		if err != nil {
			return err
		}
	}
	for _, st := range t.Steps {
		_, err = tx.Exec(ctx, `
            INSERT INTO trip_steps (
                trip_id, idx, kind, passenger_id, address, lat, lng,
                leg_km, leg_minutes, cumulative_km, completed
            ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE)`,
			string(t.ID), st.Index, string(st.Kind), string(st.PassengerID),
			st.Stop.Address, st.Stop.Lat, st.Stop.Lng,
			st.LegKm, st.LegMinutes, st.CumulativeKm,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const tripColumns = `
        id, driver_pool_id, driver_id, direction, status, status_version,
        scheduled_at, created_at, started_at, completed_at, cancelled_at`

func (s *PgStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id))
	t, err := s.loadTrip(ctx, row)
	if errors.Is(err, ErrNotFound) {
		// Terminal trips stay readable from the archive.
		return s.getArchived(ctx, id)
	}
	return t, err
}

func (s *PgStore) getArchived(ctx context.Context, id types.ID) (*Trip, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT snapshot FROM trip_archive WHERE id = $1`, string(id)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t Trip
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PgStore) ActiveByDriverPool(ctx context.Context, driverPoolID types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
        SELECT `+tripColumns+`
        FROM trips
        WHERE driver_pool_id = $1 AND status IN ('scheduled','in_progress')`,
		string(driverPoolID),
	)
	return s.loadTrip(ctx, row)
}

func (s *PgStore) loadTrip(ctx context.Context, row pgx.Row) (*Trip, error) {
	var t Trip
	var id, driverPoolID, driverID, direction, status string
	err := row.Scan(
		&id, &driverPoolID, &driverID, &direction, &status, &t.StatusVersion,
		&t.ScheduledAt, &t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.CancelledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ID = types.ID(id)
	t.DriverPoolID = types.ID(driverPoolID)
	t.DriverID = types.ID(driverID)
	t.Direction = types.Direction(direction)
	t.Status = Status(status)

	if err := s.loadRiders(ctx, &t); err != nil {
		return nil, err
	}
	if err := s.loadSteps(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PgStore) loadRiders(ctx context.Context, t *Trip) error {
	rows, err := s.db.Query(ctx, `
        SELECT passenger_id, seats FROM trip_riders
        WHERE trip_id = $1 ORDER BY passenger_id`, string(t.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r Rider
		var pid string
		if err := rows.Scan(&pid, &r.Seats); err != nil {
			return err
		}
		r.PassengerID = types.ID(pid)
		t.Riders = append(t.Riders, r)
	}
	return rows.Err()
}

func (s *PgStore) loadSteps(ctx context.Context, t *Trip) error {
	rows, err := s.db.Query(ctx, `
        SELECT idx, kind, passenger_id, address, lat, lng,
               leg_km, leg_minutes, cumulative_km, completed,
               completed_at, pickup_confirmed_at, dropoff_confirmed_at
        FROM trip_steps
        WHERE trip_id = $1 ORDER BY idx`, string(t.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var st PickupStep
		var kind, pid string
		err := rows.Scan(
			&st.Index, &kind, &pid, &st.Stop.Address, &st.Stop.Lat, &st.Stop.Lng,
			&st.LegKm, &st.LegMinutes, &st.CumulativeKm, &st.Completed,
			&st.CompletedAt, &st.PickupConfirmedAt, &st.DropoffConfirmedAt,
		)
		if err != nil {
			return err
		}
		st.Kind = StepKind(kind)
		st.PassengerID = types.ID(pid)
		t.Steps = append(t.Steps, st)
	}
	return rows.Err()
}

func (s *PgStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE trips
        SET status = $1,
            status_version = status_version + 1,
            started_at = CASE WHEN $1 = 'in_progress' THEN $4 ELSE started_at END,
            completed_at = CASE WHEN $1 = 'completed' THEN $4 ELSE completed_at END,
            cancelled_at = CASE WHEN $1 = 'cancelled' THEN $4 ELSE cancelled_at END
        WHERE id = $2 AND status = $3`,
		string(to), string(id), string(from), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) CompleteStep(ctx context.Context, tripID types.ID, index int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE trip_steps
        SET completed = TRUE, completed_at = $3
        WHERE trip_id = $1 AND idx = $2 AND NOT completed`,
		string(tripID), index, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) ConfirmStep(ctx context.Context, tripID types.ID, index int, kind StepKind, at time.Time) (bool, error) {
	var column string
	switch kind {
	case StepPickup:
		column = "pickup_confirmed_at"
	case StepDropoff:
		column = "dropoff_confirmed_at"
	default:
		return false, fmt.Errorf("cannot confirm a %s step", kind)
	}
	tag, err := s.db.Exec(ctx, `
        UPDATE trip_steps
        SET `+column+` = $3
        WHERE trip_id = $1 AND idx = $2 AND `+column+` IS NULL`,
		string(tripID), index, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) Archive(ctx context.Context, t *Trip) error {
	snapshot, err := json.Marshal(t)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO trip_archive (id, driver_pool_id, driver_id, status, snapshot, archived_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (id) DO NOTHING`,
		string(t.ID), string(t.DriverPoolID), string(t.DriverID), string(t.Status), snapshot,
	)
	if err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM trip_steps WHERE trip_id = $1`, string(t.ID)); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM trip_riders WHERE trip_id = $1`, string(t.ID)); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM trips WHERE id = $1`, string(t.ID)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PgStore) History(ctx context.Context, actorID types.ID) ([]*Trip, error) {
	rows, err := s.db.Query(ctx, `
        SELECT snapshot FROM trip_archive
        WHERE driver_id = $1
           OR id IN (
               SELECT a.id FROM trip_archive a
               WHERE a.snapshot -> 'Riders' @> jsonb_build_array(jsonb_build_object('PassengerID', $1::text))
           )
        ORDER BY archived_at DESC`,
		string(actorID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Trip
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var t Trip
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
