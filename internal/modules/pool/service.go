// README: Pool registry service: entry lifecycle and candidate discovery.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wheels/internal/config"
	"wheels/internal/observability"
	"wheels/internal/types"
)

var (
	ErrDuplicateSearch      = errors.New("actor already has a searching entry of this role")
	ErrNotFound             = errors.New("pool entry not found")
	ErrUnauthorized         = errors.New("actor does not own this pool entry")
	ErrInvalidEntry         = errors.New("invalid pool entry")
	ErrInvalidTransition    = errors.New("entry is no longer searching")
	ErrOutsideServiceWindow = errors.New("scheduled time outside the reservation window")
)

type Service struct {
	store Store
	cfg   config.MatchingConfig
	log   *slog.Logger
}

func NewService(store Store, cfg config.MatchingConfig, log *slog.Logger) *Service {
	return &Service{store: store, cfg: cfg, log: log}
}

type RegisterCommand struct {
	ActorID     types.ID
	Role        types.Role
	Pickup      types.Stop
	Dropoff     types.Stop
	Direction   types.Direction
	ScheduledAt *time.Time
	// Drivers.
	SeatsOffered int
	PricePerSeat types.Money
	// Passengers; zero defaults to 1.
	SeatsRequested int
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (types.ID, error) {
	if cmd.ActorID == "" || !cmd.Direction.Valid() {
		return "", ErrInvalidEntry
	}
	switch cmd.Role {
	case types.RoleDriver:
		if cmd.SeatsOffered < 0 {
			return "", fmt.Errorf("%w: negative seats_offered", ErrInvalidEntry)
		}
	case types.RolePassenger:
		if cmd.SeatsRequested == 0 {
			cmd.SeatsRequested = 1
		}
		if cmd.SeatsRequested < 1 {
			return "", fmt.Errorf("%w: seats_requested must be positive", ErrInvalidEntry)
		}
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidEntry, cmd.Role)
	}

	if cmd.ScheduledAt != nil {
		ok, err := insideWindow(*cmd.ScheduledAt, s.cfg.ReservationWindowStart, s.cfg.ReservationWindowEnd)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrOutsideServiceWindow
		}
	}

	active, err := s.store.HasSearching(ctx, cmd.ActorID, cmd.Role)
	if err != nil {
		return "", err
	}
	if active {
		return "", ErrDuplicateSearch
	}

	e := &Entry{
		ID:             types.NewID(),
		ActorID:        cmd.ActorID,
		Role:           cmd.Role,
		Pickup:         cmd.Pickup,
		Dropoff:        cmd.Dropoff,
		Direction:      cmd.Direction,
		ScheduledAt:    cmd.ScheduledAt,
		SeatsOffered:   cmd.SeatsOffered,
		RemainingSeats: cmd.SeatsOffered,
		SeatsRequested: cmd.SeatsRequested,
		PricePerSeat:   cmd.PricePerSeat,
		Status:         StatusSearching,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.Create(ctx, e); err != nil {
		return "", err
	}
	observability.PoolEntriesSearching.WithLabelValues(string(e.Role)).Inc()
	s.log.Info("pool entry registered", "entry", e.ID, "actor", e.ActorID, "role", e.Role)
	return e.ID, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Entry, error) {
	return s.store.Get(ctx, id)
}

// ReleaseSeats hands seat capacity back to a driver entry, typically after
// a trip is cancelled and its riders no longer occupy their seats.
func (s *Service) ReleaseSeats(ctx context.Context, id types.ID, seats int) error {
	return s.store.ReleaseSeats(ctx, id, seats)
}

func (s *Service) Cancel(ctx context.Context, id, actorID types.ID) error {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.ActorID != actorID {
		return ErrUnauthorized
	}
	ok, err := s.store.UpdateStatus(ctx, id, StatusSearching, StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, ErrInvalidTransition)
	}
	observability.PoolEntriesSearching.WithLabelValues(string(e.Role)).Dec()
	return nil
}

func (s *Service) Expire(ctx context.Context, id types.ID) error {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	ok, err := s.store.UpdateStatus(ctx, id, StatusSearching, StatusExpired)
	if err != nil {
		return err
	}
	if ok {
		observability.PoolEntriesSearching.WithLabelValues(string(e.Role)).Dec()
	}
	return nil
}

// MarkMatched flips an entry out of the searching pool once a trip
// commits to it.
func (s *Service) MarkMatched(ctx context.Context, id types.ID) error {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	ok, err := s.store.UpdateStatus(ctx, id, StatusSearching, StatusMatched)
	if err != nil {
		return err
	}
	if ok {
		observability.PoolEntriesSearching.WithLabelValues(string(e.Role)).Dec()
	}
	return nil
}

// FindCandidates returns opposite-role searching entries within the
// configured radius, same coarse direction, and — for scheduled trips —
// inside the dispatch window of the requested time. Nearest first.
func (s *Service) FindCandidates(ctx context.Context, forEntry *Entry) ([]*Entry, error) {
	radius := s.cfg.RealtimeRadiusKm
	if forEntry.Scheduled() {
		radius = s.cfg.ReservationRadiusKm
	}
	ids, err := s.store.Nearby(ctx, forEntry.Pickup.Point, radius, forEntry.Role.Opposite())
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	window := time.Duration(s.cfg.ReservationDispatchMinutesBefore) * time.Minute
	out := make([]*Entry, 0, len(entries))
	for _, c := range entries {
		if c.Status != StatusSearching || c.Direction != forEntry.Direction {
			continue
		}
		if !compatibleSchedules(forEntry.ScheduledAt, c.ScheduledAt, window) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// DueReservations lists searching passenger reservations entering their
// dispatch window, soonest first.
func (s *Service) DueReservations(ctx context.Context) ([]*Entry, error) {
	now := time.Now().UTC()
	window := time.Duration(s.cfg.ReservationDispatchMinutesBefore) * time.Minute
	return s.store.ScheduledDue(ctx, types.RolePassenger, now, now.Add(window))
}

// RunExpireTicker sweeps stale searching entries: immediate entries past
// the pool TTL and reservations whose scheduled time already passed.
func (s *Service) RunExpireTicker(ctx context.Context) {
	tick := time.Duration(s.cfg.TickSeconds) * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(s.cfg.PoolEntryTTLMinutes) * time.Minute)
	stale, err := s.store.SearchingOlderThan(ctx, cutoff, now)
	if err != nil {
		s.log.Error("pool sweep failed", "err", err)
		return
	}
	for _, e := range stale {
		if err := s.Expire(ctx, e.ID); err != nil {
			s.log.Warn("expire failed", "entry", e.ID, "err", err)
		}
	}
	if len(stale) > 0 {
		s.log.Info("expired stale pool entries", "count", len(stale))
	}
}

// compatibleSchedules pairs immediate with immediate and scheduled with
// scheduled entries whose times differ by at most the dispatch window.
func compatibleSchedules(a, b *time.Time, window time.Duration) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	diff := a.Sub(*b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

func insideWindow(at time.Time, start, end string) (bool, error) {
	startT, err := time.Parse("15:04", start)
	if err != nil {
		return false, fmt.Errorf("invalid reservation window start %q: %w", start, err)
	}
	endT, err := time.Parse("15:04", end)
	if err != nil {
		return false, fmt.Errorf("invalid reservation window end %q: %w", end, err)
	}
	minutes := at.Hour()*60 + at.Minute()
	return minutes >= startT.Hour()*60+startT.Minute() &&
		minutes <= endT.Hour()*60+endT.Minute(), nil
}
