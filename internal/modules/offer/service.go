// README: Offer coordinator: the accept/reject protocol over finite seat
// capacity. The seat decrement is the one place correctness depends on
// transactional semantics; everything else is recoverable.
package offer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wheels/internal/config"
	"wheels/internal/events"
	"wheels/internal/modules/pool"
	"wheels/internal/observability"
	"wheels/internal/types"
)

var (
	ErrNotFound          = errors.New("trip request not found")
	ErrCapacityExceeded  = errors.New("not enough remaining seats")
	ErrDuplicateRequest  = errors.New("pending request to this driver already exists")
	ErrAlreadyAssigned   = errors.New("passenger already assigned to a driver")
	ErrRetryExhausted    = errors.New("offer retry budget exhausted for this search")
	ErrUnauthorized      = errors.New("actor is not a party to this request")
	ErrInvalidTransition = errors.New("request is no longer pending")
	ErrInvalidRequest    = errors.New("invalid trip request")
)

// StatsRecorder feeds driver response history back into the scorer.
type StatsRecorder interface {
	RecordResponse(ctx context.Context, driverID types.ID, accepted bool) error
}

type Notifier interface {
	Notify(actorID types.ID, e events.Event)
}

type Service struct {
	store     Store
	seats     SeatLedger
	pool      *pool.Service
	stats     StatsRecorder
	publisher events.Publisher
	notifier  Notifier
	cfg       config.MatchingConfig
	log       *slog.Logger
}

func NewService(
	store Store,
	seats SeatLedger,
	poolSvc *pool.Service,
	stats StatsRecorder,
	publisher events.Publisher,
	notifier Notifier,
	cfg config.MatchingConfig,
	log *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		seats:     seats,
		pool:      poolSvc,
		stats:     stats,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg,
		log:       log,
	}
}

type SubmitCommand struct {
	PassengerID      types.ID
	PassengerEntryID types.ID
	DriverPoolID     types.ID
	Seats            int
}

func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (*Request, error) {
	if cmd.Seats < 1 {
		return nil, fmt.Errorf("%w: seats must be positive", ErrInvalidRequest)
	}

	passengerEntry, err := s.seats.Get(ctx, cmd.PassengerEntryID)
	if err != nil {
		return nil, err
	}
	if passengerEntry.ActorID != cmd.PassengerID {
		return nil, ErrUnauthorized
	}
	if passengerEntry.Role != types.RolePassenger || passengerEntry.Status != pool.StatusSearching {
		return nil, fmt.Errorf("%w: passenger entry not searching", ErrInvalidRequest)
	}

	driverEntry, err := s.seats.Get(ctx, cmd.DriverPoolID)
	if err != nil {
		return nil, err
	}
	if driverEntry.Role != types.RoleDriver || driverEntry.Status != pool.StatusSearching {
		return nil, fmt.Errorf("%w: driver entry not searching", ErrInvalidRequest)
	}
	if driverEntry.ActorID == cmd.PassengerID {
		return nil, fmt.Errorf("%w: cannot request a ride from yourself", ErrInvalidRequest)
	}
	// Advisory pre-check; re-validated atomically at accept time.
	if cmd.Seats > driverEntry.RemainingSeats {
		return nil, ErrCapacityExceeded
	}

	pending, err := s.store.HasPending(ctx, cmd.PassengerID, cmd.DriverPoolID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrDuplicateRequest
	}
	assigned, err := s.store.PassengerAssigned(ctx, cmd.PassengerID)
	if err != nil {
		return nil, err
	}
	if assigned {
		return nil, ErrAlreadyAssigned
	}
	attempts, err := s.store.CountAttempts(ctx, cmd.PassengerEntryID)
	if err != nil {
		return nil, err
	}
	if attempts >= s.cfg.OfferMaxRetries {
		return nil, ErrRetryExhausted
	}

	r := &Request{
		ID:               types.NewID(),
		PassengerID:      cmd.PassengerID,
		PassengerEntryID: cmd.PassengerEntryID,
		DriverPoolID:     cmd.DriverPoolID,
		SeatsRequested:   cmd.Seats,
		Pickup:           passengerEntry.Pickup,
		Dropoff:          passengerEntry.Dropoff,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	observability.OffersTotal.WithLabelValues("submitted").Inc()

	e := events.New(events.TypeOfferSubmitted, r.ID, map[string]any{
		"driver_pool_id": r.DriverPoolID,
		"seats":          r.SeatsRequested,
	})
	s.publish(ctx, e)
	s.notify(driverEntry.ActorID, e)
	return r, nil
}

// Get returns the request, lazily expiring it first when the driver sat
// on it past the offer timeout.
func (s *Service) Get(ctx context.Context, id types.ID) (*Request, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.lazyExpire(ctx, r) {
		r.Status = StatusExpired
	}
	return r, nil
}

func (s *Service) Respond(ctx context.Context, requestID, driverActorID types.ID, accept bool) error {
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	driverEntry, err := s.seats.Get(ctx, r.DriverPoolID)
	if err != nil {
		return err
	}
	if driverEntry.ActorID != driverActorID {
		return ErrUnauthorized
	}
	if s.lazyExpire(ctx, r) {
		return ErrInvalidTransition
	}
	if r.Status != StatusPending {
		return ErrInvalidTransition
	}

	if !accept {
		ok, err := s.store.UpdateStatus(ctx, r.ID, StatusPending, StatusRejected)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidTransition
		}
		observability.OffersTotal.WithLabelValues("rejected").Inc()
		s.recordStats(ctx, driverActorID, false)
		e := events.New(events.TypeRejected, r.ID, nil)
		s.publish(ctx, e)
		s.notify(r.PassengerID, e)
		return nil
	}
	return s.accept(ctx, r, driverEntry)
}

// accept is the single atomic unit of the protocol: the seat decrement
// either wins or the whole accept fails with ErrCapacityExceeded.
func (s *Service) accept(ctx context.Context, r *Request, driverEntry *pool.Entry) error {
	if driverEntry.Status != pool.StatusSearching {
		// The driver already left the pool, usually because their trip
		// started and the roster froze. Accepting now would strand the
		// passenger on a seat the route will never visit.
		if _, err := s.store.UpdateStatus(ctx, r.ID, StatusPending, StatusRejected); err != nil {
			return err
		}
		observability.OffersTotal.WithLabelValues("rejected").Inc()
		e := events.New(events.TypeRejected, r.ID, map[string]any{"reason": "driver_unavailable"})
		s.publish(ctx, e)
		s.notify(r.PassengerID, e)
		return ErrInvalidTransition
	}

	won, err := s.seats.DecrementSeats(ctx, r.DriverPoolID, r.SeatsRequested)
	if err != nil {
		return err
	}
	if !won {
		// Lost the capacity race; tell the passenger to cascade to the
		// next candidate.
		observability.CapacityConflicts.Inc()
		if _, err := s.store.UpdateStatus(ctx, r.ID, StatusPending, StatusRejected); err != nil {
			return err
		}
		e := events.New(events.TypeRejected, r.ID, map[string]any{"reason": "capacity"})
		s.publish(ctx, e)
		s.notify(r.PassengerID, e)
		return ErrCapacityExceeded
	}

	ok, err := s.store.UpdateStatus(ctx, r.ID, StatusPending, StatusAccepted)
	if err != nil {
		return err
	}
	if !ok {
		// The request was cancelled or expired while we held the seats.
		if relErr := s.seats.ReleaseSeats(ctx, r.DriverPoolID, r.SeatsRequested); relErr != nil {
			s.log.Error("seat release after lost accept", "request", r.ID, "err", relErr)
		}
		return ErrInvalidTransition
	}

	if err := s.store.AddAssignment(ctx, r.DriverPoolID, AssignedPassenger{
		PassengerID: r.PassengerID,
		Pickup:      r.Pickup,
		Dropoff:     r.Dropoff,
		Seats:       r.SeatsRequested,
		AcceptedAt:  time.Now().UTC(),
	}); err != nil {
		return err
	}

	// A passenger can only be served once: retire their search entry and
	// withdraw every other outstanding request.
	if err := s.pool.MarkMatched(ctx, r.PassengerEntryID); err != nil {
		s.log.Warn("mark passenger matched", "entry", r.PassengerEntryID, "err", err)
	}
	s.cancelSiblings(ctx, r)

	observability.OffersTotal.WithLabelValues("accepted").Inc()
	s.recordStats(ctx, driverEntry.ActorID, true)

	e := events.New(events.TypeAccepted, r.ID, map[string]any{
		"driver_pool_id": r.DriverPoolID,
		"passenger_id":   r.PassengerID,
	})
	s.publish(ctx, e)
	s.notify(r.PassengerID, e)
	return nil
}

func (s *Service) Cancel(ctx context.Context, requestID, passengerID types.ID) error {
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if r.PassengerID != passengerID {
		return ErrUnauthorized
	}
	// A stale offer expires rather than cancels; expiry charges the
	// retry budget, and cancelling late must not dodge that.
	if s.lazyExpire(ctx, r) {
		return ErrInvalidTransition
	}
	ok, err := s.store.UpdateStatus(ctx, requestID, StatusPending, StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	observability.OffersTotal.WithLabelValues("cancelled").Inc()
	return nil
}

// Assignment returns the driver's current roster plus live remaining
// capacity.
func (s *Service) Assignment(ctx context.Context, driverPoolID types.ID) (*Assignment, error) {
	driverEntry, err := s.seats.Get(ctx, driverPoolID)
	if err != nil {
		return nil, err
	}
	passengers, err := s.store.GetAssignment(ctx, driverPoolID)
	if err != nil {
		return nil, err
	}
	return &Assignment{
		DriverPoolID:   driverPoolID,
		Passengers:     passengers,
		RemainingSeats: driverEntry.RemainingSeats,
	}, nil
}

// CancelAssignment removes an accepted passenger before the trip starts and
// releases their seats atomically.
func (s *Service) CancelAssignment(ctx context.Context, driverPoolID, passengerID, byActorID types.ID) error {
	driverEntry, err := s.seats.Get(ctx, driverPoolID)
	if err != nil {
		return err
	}
	if byActorID != passengerID && byActorID != driverEntry.ActorID {
		return ErrUnauthorized
	}
	seats, err := s.store.RemoveAssignment(ctx, driverPoolID, passengerID)
	if err != nil {
		return err
	}
	if err := s.seats.ReleaseSeats(ctx, driverPoolID, seats); err != nil {
		return err
	}
	e := events.New(events.TypeCancelled, driverPoolID, map[string]any{
		"passenger_id": passengerID,
	})
	s.publish(ctx, e)
	s.notify(driverEntry.ActorID, e)
	s.notify(passengerID, e)
	return nil
}

// ExpireStale sweeps pending requests past the offer timeout. Expiry is
// also applied lazily on reads, so the sweeper only keeps the seat
// arithmetic and driver stats current.
func (s *Service) ExpireStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.OfferTimeoutSeconds) * time.Second)
	stale, err := s.store.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("list stale offers", "err", err)
		return
	}
	for _, r := range stale {
		s.expire(ctx, r)
	}
}

func (s *Service) RunExpireTicker(ctx context.Context) {
	tick := time.Duration(s.cfg.TickSeconds) * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExpireStale(ctx)
		}
	}
}

// lazyExpire flips a pending request to expired when its timeout has
// passed, reporting whether it did.
func (s *Service) lazyExpire(ctx context.Context, r *Request) bool {
	if r.Status != StatusPending {
		return false
	}
	timeout := time.Duration(s.cfg.OfferTimeoutSeconds) * time.Second
	if time.Since(r.CreatedAt) <= timeout {
		return false
	}
	return s.expire(ctx, r)
}

// expire performs the pending-to-expired transition with all of its
// side effects. Both the sweeper and lazy reads land here, so an
// expired offer is scored against the driver exactly once no matter
// which path noticed it.
func (s *Service) expire(ctx context.Context, r *Request) bool {
	ok, err := s.store.UpdateStatus(ctx, r.ID, StatusPending, StatusExpired)
	if err != nil {
		s.log.Warn("expire request", "request", r.ID, "err", err)
		return false
	}
	if !ok {
		return false
	}
	observability.OffersTotal.WithLabelValues("expired").Inc()
	if driverEntry, err := s.seats.Get(ctx, r.DriverPoolID); err == nil {
		s.recordStats(ctx, driverEntry.ActorID, false)
	}
	e := events.New(events.TypeExpired, r.ID, nil)
	s.publish(ctx, e)
	s.notify(r.PassengerID, e)
	return true
}

func (s *Service) cancelSiblings(ctx context.Context, accepted *Request) {
	siblings, err := s.store.ListPendingByPassenger(ctx, accepted.PassengerID)
	if err != nil {
		s.log.Warn("list sibling requests", "passenger", accepted.PassengerID, "err", err)
		return
	}
	for _, sib := range siblings {
		if sib.ID == accepted.ID {
			continue
		}
		if _, err := s.store.UpdateStatus(ctx, sib.ID, StatusPending, StatusCancelled); err != nil {
			s.log.Warn("cancel sibling request", "request", sib.ID, "err", err)
		}
	}
}

func (s *Service) recordStats(ctx context.Context, driverID types.ID, accepted bool) {
	if s.stats == nil {
		return
	}
	if err := s.stats.RecordResponse(ctx, driverID, accepted); err != nil {
		s.log.Warn("record driver response", "driver", driverID, "err", err)
	}
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("publish event", "type", e.Type, "err", err)
	}
}

func (s *Service) notify(actorID types.ID, e events.Event) {
	if s.notifier != nil {
		s.notifier.Notify(actorID, e)
	}
}
