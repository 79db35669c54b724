// README: Trip lifecycle: freeze the accepted assignment into an ordered
// route, drive it through the state machine, archive at the end.
package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wheels/internal/events"
	"wheels/internal/maps"
	"wheels/internal/modules/offer"
	"wheels/internal/modules/pool"
	"wheels/internal/observability"
	"wheels/internal/types"
)

var (
	ErrNotFound          = errors.New("trip not found")
	ErrUnauthorized      = errors.New("actor is not a party to this trip")
	ErrInvalidTransition = errors.New("transition not allowed from current trip state")
	ErrEmptyAssignment   = errors.New("no accepted passengers to start a trip with")
	ErrStepOutOfOrder    = errors.New("earlier steps are still open")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5 stars")
)

// AssignmentLedger is the slice of the offer store the lifecycle needs:
// the roster to freeze at start and its cleanup at archive.
type AssignmentLedger interface {
	GetAssignment(ctx context.Context, driverPoolID types.ID) ([]offer.AssignedPassenger, error)
	DeleteAssignment(ctx context.Context, driverPoolID types.ID) error
}

type Notifier interface {
	Notify(actorID types.ID, e events.Event)
}

// RatingRecorder feeds rider ratings into the driver's scoring history.
type RatingRecorder interface {
	SetRating(ctx context.Context, driverID types.ID, rating float64) error
}

type Service struct {
	store       Store
	assignments AssignmentLedger
	pool        *pool.Service
	provider    maps.Provider
	university  types.Stop
	publisher   events.Publisher
	notifier    Notifier
	ratings     RatingRecorder
	log         *slog.Logger
}

func NewService(
	store Store,
	assignments AssignmentLedger,
	poolSvc *pool.Service,
	provider maps.Provider,
	university types.Stop,
	publisher events.Publisher,
	notifier Notifier,
	ratings RatingRecorder,
	log *slog.Logger,
) *Service {
	return &Service{
		store:       store,
		assignments: assignments,
		pool:        poolSvc,
		provider:    provider,
		university:  university,
		publisher:   publisher,
		notifier:    notifier,
		ratings:     ratings,
		log:         log,
	}
}

type StartCommand struct {
	DriverPoolID types.ID
	DriverID     types.ID
	// Depart flips the trip straight to in_progress. Reservations can
	// freeze the route first and depart later.
	Depart bool
}

// Start freezes the driver's accepted assignment into a trip with an
// ordered route. The driver pool entry leaves the searching pool here.
func (s *Service) Start(ctx context.Context, cmd StartCommand) (*Trip, error) {
	entry, err := s.pool.Get(ctx, cmd.DriverPoolID)
	if err != nil {
		return nil, err
	}
	if entry.ActorID != cmd.DriverID {
		return nil, ErrUnauthorized
	}
	if entry.Status != pool.StatusSearching && entry.Status != pool.StatusMatched {
		return nil, ErrInvalidTransition
	}
	if _, err := s.store.ActiveByDriverPool(ctx, cmd.DriverPoolID); err == nil {
		return nil, fmt.Errorf("%w: trip already underway", ErrInvalidTransition)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	passengers, err := s.assignments.GetAssignment(ctx, cmd.DriverPoolID)
	if err != nil {
		return nil, err
	}
	if len(passengers) == 0 {
		return nil, ErrEmptyAssignment
	}

	steps, err := s.buildSteps(ctx, entry, passengers)
	if err != nil {
		return nil, err
	}

	riders := make([]Rider, 0, len(passengers))
	for _, p := range passengers {
		riders = append(riders, Rider{PassengerID: p.PassengerID, Seats: p.Seats})
	}

	now := time.Now().UTC()
	t := &Trip{
		ID:           types.NewID(),
		DriverPoolID: cmd.DriverPoolID,
		DriverID:     cmd.DriverID,
		Direction:    entry.Direction,
		Status:       StatusScheduled,
		Riders:       riders,
		Steps:        steps,
		ScheduledAt:  entry.ScheduledAt,
		CreatedAt:    now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	if entry.Status == pool.StatusSearching {
		if err := s.pool.MarkMatched(ctx, cmd.DriverPoolID); err != nil {
			s.log.Warn("mark driver matched", "entry", cmd.DriverPoolID, "err", err)
		}
	}
	observability.TripsTotal.WithLabelValues(string(StatusScheduled)).Inc()

	if cmd.Depart {
		if err := s.Depart(ctx, t.ID, cmd.DriverID); err != nil {
			return nil, err
		}
		return s.store.Get(ctx, t.ID)
	}
	return t, nil
}

// Depart moves a frozen trip onto the road.
func (s *Service) Depart(ctx context.Context, tripID, driverID types.ID) error {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if t.DriverID != driverID {
		return ErrUnauthorized
	}
	if !CanTransition(t.Status, StatusInProgress) {
		return ErrInvalidTransition
	}
	ok, err := s.store.UpdateStatus(ctx, tripID, StatusScheduled, StatusInProgress, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	observability.TripsTotal.WithLabelValues(string(StatusInProgress)).Inc()

	e := events.New(events.TypeTripStarted, tripID, map[string]any{
		"driver_pool_id": t.DriverPoolID,
		"steps":          len(t.Steps),
	})
	s.publish(ctx, e)
	s.notifyAll(t, e)
	return nil
}

// buildSteps picks origin, stops, and terminal by commute direction.
// Toward campus the driver sweeps pickups and ends at the university;
// away from campus everyone boards at the university and the driver
// drops passengers off toward home.
func (s *Service) buildSteps(ctx context.Context, entry *pool.Entry, passengers []offer.AssignedPassenger) ([]PickupStep, error) {
	switch entry.Direction {
	case types.ToUniversity:
		stops := make([]AssignedStop, 0, len(passengers))
		for _, p := range passengers {
			stops = append(stops, AssignedStop{PassengerID: p.PassengerID, Stop: p.Pickup})
		}
		return BuildRoute(ctx, s.provider, StepPickup, entry.Pickup.Point, stops, s.university)
	case types.FromUniversity:
		stops := make([]AssignedStop, 0, len(passengers))
		for _, p := range passengers {
			stops = append(stops, AssignedStop{PassengerID: p.PassengerID, Stop: p.Dropoff})
		}
		return BuildRoute(ctx, s.provider, StepDropoff, s.university.Point, stops, entry.Dropoff)
	default:
		return nil, fmt.Errorf("unknown direction %q", entry.Direction)
	}
}

// ConfirmPickup stamps the passenger's own pickup step. Repeats are a
// no-op.
func (s *Service) ConfirmPickup(ctx context.Context, tripID, passengerID types.ID) error {
	return s.confirm(ctx, tripID, passengerID, StepPickup)
}

func (s *Service) ConfirmDropoff(ctx context.Context, tripID, passengerID types.ID) error {
	return s.confirm(ctx, tripID, passengerID, StepDropoff)
}

func (s *Service) confirm(ctx context.Context, tripID, passengerID types.ID, kind StepKind) error {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if !t.HasRider(passengerID) {
		return ErrUnauthorized
	}
	if t.Status != StatusInProgress {
		return ErrInvalidTransition
	}
	for _, st := range t.Steps {
		if st.PassengerID != passengerID {
			continue
		}
		// to_university trips confirm dropoff against the shared
		// terminal; the passenger's own step carries both stamps.
		if _, err := s.store.ConfirmStep(ctx, tripID, st.Index, kind, time.Now().UTC()); err != nil {
			return err
		}
		return nil
	}
	return ErrNotFound
}

// CompleteStep marks the driver's arrival at a step. Steps complete in
// route order; completing the terminal step completes the trip.
func (s *Service) CompleteStep(ctx context.Context, tripID, driverID types.ID, index int) error {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if t.DriverID != driverID {
		return ErrUnauthorized
	}
	if t.Status != StatusInProgress {
		return ErrInvalidTransition
	}
	if index < 0 || index >= len(t.Steps) {
		return ErrNotFound
	}
	for _, st := range t.Steps[:index] {
		if !st.Completed {
			return ErrStepOutOfOrder
		}
	}

	ok, err := s.store.CompleteStep(ctx, tripID, index, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		// Already done; arrival reports are idempotent.
		return nil
	}
	step := t.Steps[index]
	e := events.New(events.TypeStepCompleted, tripID, map[string]any{
		"index":        step.Index,
		"kind":         string(step.Kind),
		"passenger_id": step.PassengerID,
	})
	s.publish(ctx, e)
	s.notifyAll(t, e)

	if step.Kind == StepTerminal {
		return s.complete(ctx, t)
	}
	return nil
}

func (s *Service) complete(ctx context.Context, t *Trip) error {
	ok, err := s.store.UpdateStatus(ctx, t.ID, StatusInProgress, StatusCompleted, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	observability.TripsTotal.WithLabelValues(string(StatusCompleted)).Inc()

	e := events.New(events.TypeTripCompleted, t.ID, map[string]any{
		"driver_pool_id": t.DriverPoolID,
	})
	s.publish(ctx, e)
	s.notifyAll(t, e)
	return s.retire(ctx, t.ID)
}

// Cancel ends the trip early. Any party can cancel until completion.
func (s *Service) Cancel(ctx context.Context, tripID, actorID types.ID) error {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if t.DriverID != actorID && !t.HasRider(actorID) {
		return ErrUnauthorized
	}
	if !CanTransition(t.Status, StatusCancelled) {
		return ErrInvalidTransition
	}
	ok, err := s.store.UpdateStatus(ctx, tripID, t.Status, StatusCancelled, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition
	}
	observability.TripsTotal.WithLabelValues(string(StatusCancelled)).Inc()

	for _, r := range t.Riders {
		if err := s.pool.ReleaseSeats(ctx, t.DriverPoolID, r.Seats); err != nil {
			s.log.Warn("release seats", "driver_pool", t.DriverPoolID, "err", err)
		}
	}

	e := events.New(events.TypeCancelled, tripID, map[string]any{
		"by": actorID,
	})
	s.publish(ctx, e)
	s.notifyAll(t, e)
	return s.retire(ctx, tripID)
}

// retire snapshots the terminal trip to the archive and clears the
// frozen assignment rows.
func (s *Service) retire(ctx context.Context, tripID types.ID) error {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if err := s.store.Archive(ctx, t); err != nil {
		return err
	}
	if err := s.assignments.DeleteAssignment(ctx, t.DriverPoolID); err != nil {
		s.log.Warn("clear assignment", "driver_pool", t.DriverPoolID, "err", err)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, tripID types.ID) (*Trip, error) {
	return s.store.Get(ctx, tripID)
}

func (s *Service) Steps(ctx context.Context, tripID types.ID) ([]PickupStep, error) {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return t.Steps, nil
}

func (s *Service) History(ctx context.Context, actorID types.ID) ([]*Trip, error) {
	return s.store.History(ctx, actorID)
}

// RateDriver records a rider's post-trip rating of the driver. Stars
// land in the scorer's history normalized to [0,1].
func (s *Service) RateDriver(ctx context.Context, tripID, raterID types.ID, stars int) error {
	if stars < 1 || stars > 5 {
		return ErrInvalidRating
	}
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if !t.HasRider(raterID) {
		return ErrUnauthorized
	}
	if t.Status != StatusCompleted {
		return ErrInvalidTransition
	}
	if s.ratings == nil {
		return nil
	}
	return s.ratings.SetRating(ctx, t.DriverID, float64(stars)/5)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("publish event", "type", e.Type, "err", err)
	}
}

func (s *Service) notifyAll(t *Trip, e events.Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(t.DriverID, e)
	for _, r := range t.Riders {
		s.notifier.Notify(r.PassengerID, e)
	}
}
