package offer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"wheels/internal/config"
	"wheels/internal/events"
	"wheels/internal/modules/match"
	"wheels/internal/modules/pool"
	"wheels/internal/types"
)

var campus = types.Point{Lat: 4.6025, Lng: -74.0657}

func testCfg() config.MatchingConfig {
	return config.MatchingConfig{
		RealtimeRadiusKm:                 5,
		ReservationRadiusKm:              10,
		OfferTimeoutSeconds:              30,
		OfferMaxRetries:                  3,
		ReservationDispatchMinutesBefore: 15,
		ReservationRetryMinutes:          2,
		ReservationWindowStart:           "06:00",
		ReservationWindowEnd:             "22:00",
		TickSeconds:                      10,
		PoolEntryTTLMinutes:              60,
	}
}

type fixture struct {
	svc       *Service
	store     *MemStore
	poolStore *pool.MemStore
	poolSvc   *pool.Service
	stats     *match.MemStatsStore
	published *events.MemoryPublisher
}

func newFixture() *fixture {
	poolStore := pool.NewMemStore()
	poolSvc := pool.NewService(poolStore, testCfg(), slog.Default())
	store := NewMemStore()
	published := events.NewMemoryPublisher()
	stats := match.NewMemStatsStore()
	svc := NewService(store, poolStore, poolSvc, stats, published, nil, testCfg(), slog.Default())
	return &fixture{svc: svc, store: store, poolStore: poolStore, poolSvc: poolSvc, stats: stats, published: published}
}

// acceptanceRate reads the driver's live acceptance rate from the
// scoring history.
func (f *fixture) acceptanceRate(t *testing.T, driverActor types.ID) float64 {
	t.Helper()
	stats, err := f.stats.Get(context.Background(), []types.ID{driverActor})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return stats[driverActor].AcceptanceRate
}

func (f *fixture) registerDriver(t *testing.T, actor types.ID, seats int) types.ID {
	t.Helper()
	id, err := f.poolSvc.Register(context.Background(), pool.RegisterCommand{
		ActorID:      actor,
		Role:         types.RoleDriver,
		Pickup:       types.Stop{Address: "driver home", Point: campus},
		Dropoff:      types.Stop{Address: "campus", Point: campus},
		Direction:    types.ToUniversity,
		SeatsOffered: seats,
	})
	if err != nil {
		t.Fatalf("register driver: %v", err)
	}
	return id
}

func (f *fixture) registerPassenger(t *testing.T, actor types.ID) types.ID {
	t.Helper()
	id, err := f.poolSvc.Register(context.Background(), pool.RegisterCommand{
		ActorID:   actor,
		Role:      types.RolePassenger,
		Pickup:    types.Stop{Address: "passenger home", Point: campus},
		Dropoff:   types.Stop{Address: "campus", Point: campus},
		Direction: types.ToUniversity,
	})
	if err != nil {
		t.Fatalf("register passenger: %v", err)
	}
	return id
}

func TestSubmitAndAccept(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)
	entryID := f.registerPassenger(t, "pax-1")

	r, err := f.svc.Submit(ctx, SubmitCommand{
		PassengerID:      "pax-1",
		PassengerEntryID: entryID,
		DriverPoolID:     driverID,
		Seats:            1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.Status != StatusPending {
		t.Fatalf("status = %s, want pending", r.Status)
	}

	if err := f.svc.Respond(ctx, r.ID, "driver-1", true); err != nil {
		t.Fatalf("accept: %v", err)
	}

	got, err := f.svc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusAccepted {
		t.Fatalf("status = %s, want accepted", got.Status)
	}

	a, err := f.svc.Assignment(ctx, driverID)
	if err != nil {
		t.Fatalf("assignment: %v", err)
	}
	if len(a.Passengers) != 1 || a.Passengers[0].PassengerID != "pax-1" {
		t.Fatalf("assignment passengers = %+v", a.Passengers)
	}
	if a.RemainingSeats != 1 {
		t.Fatalf("remaining seats = %d, want 1", a.RemainingSeats)
	}

	entry, err := f.poolStore.Get(ctx, entryID)
	if err != nil {
		t.Fatalf("get passenger entry: %v", err)
	}
	if entry.Status != pool.StatusMatched {
		t.Fatalf("passenger entry status = %s, want matched", entry.Status)
	}
	if n := len(f.published.OfType(events.TypeAccepted)); n != 1 {
		t.Fatalf("accepted events = %d, want 1", n)
	}
}

func TestRejectRecordsOutcome(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)
	entryID := f.registerPassenger(t, "pax-1")

	r, err := f.svc.Submit(ctx, SubmitCommand{
		PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.svc.Respond(ctx, r.ID, "driver-1", false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, _ := f.svc.Get(ctx, r.ID)
	if got.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
	// No seats were taken.
	entry, _ := f.poolStore.Get(ctx, driverID)
	if entry.RemainingSeats != 2 {
		t.Fatalf("remaining seats = %d, want 2", entry.RemainingSeats)
	}
	if n := len(f.published.OfType(events.TypeRejected)); n != 1 {
		t.Fatalf("rejected events = %d, want 1", n)
	}
}

func TestDuplicatePendingRequest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)
	entryID := f.registerPassenger(t, "pax-1")

	cmd := SubmitCommand{PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 1}
	if _, err := f.svc.Submit(ctx, cmd); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := f.svc.Submit(ctx, cmd); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("second submit err = %v, want ErrDuplicateRequest", err)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	entryID := f.registerPassenger(t, "pax-1")

	for i := 0; i < 3; i++ {
		actor := types.ID("driver-" + string(rune('a'+i)))
		driverID := f.registerDriver(t, actor, 2)
		r, err := f.svc.Submit(ctx, SubmitCommand{
			PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 1,
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if err := f.svc.Respond(ctx, r.ID, actor, false); err != nil {
			t.Fatalf("reject %d: %v", i, err)
		}
	}

	driverID := f.registerDriver(t, "driver-z", 2)
	_, err := f.svc.Submit(ctx, SubmitCommand{
		PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 1,
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}
}

func TestCancelledRequestsDoNotCountAgainstBudget(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	entryID := f.registerPassenger(t, "pax-1")
	for i := 0; i < 4; i++ {
		actor := types.ID("driver-" + string(rune('a'+i)))
		driverID := f.registerDriver(t, actor, 2)
		r, err := f.svc.Submit(ctx, SubmitCommand{
			PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 1,
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if err := f.svc.Cancel(ctx, r.ID, "pax-1"); err != nil {
			t.Fatalf("cancel %d: %v", i, err)
		}
	}
}

func TestSeatCapacityRace(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)

	requests := make([]*Request, 3)
	for i := range requests {
		actor := types.ID("pax-" + string(rune('a'+i)))
		entryID := f.registerPassenger(t, actor)
		r, err := f.svc.Submit(ctx, SubmitCommand{
			PassengerID: actor, PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 1,
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		requests[i] = r
	}

	var wg sync.WaitGroup
	errs := make([]error, len(requests))
	for i, r := range requests {
		wg.Add(1)
		go func(i int, id types.ID) {
			defer wg.Done()
			errs[i] = f.svc.Respond(ctx, id, "driver-1", true)
		}(i, r.ID)
	}
	wg.Wait()

	var accepted, capacity int
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrCapacityExceeded):
			capacity++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 2 || capacity != 1 {
		t.Fatalf("accepted = %d, capacity failures = %d, want 2 and 1", accepted, capacity)
	}

	entry, _ := f.poolStore.Get(ctx, driverID)
	if entry.RemainingSeats != 0 {
		t.Fatalf("remaining seats = %d, want 0", entry.RemainingSeats)
	}
	a, _ := f.svc.Assignment(ctx, driverID)
	if len(a.Passengers) != 2 {
		t.Fatalf("assigned passengers = %d, want 2", len(a.Passengers))
	}
}

func TestSubmitOverCapacityRejectedUpfront(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 1)
	entryID := f.registerPassenger(t, "pax-1")

	_, err := f.svc.Submit(ctx, SubmitCommand{
		PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 2,
	})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
}

func TestRespondAuthorization(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)
	entryID := f.registerPassenger(t, "pax-1")
	r, err := f.svc.Submit(ctx, SubmitCommand{
		PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.svc.Respond(ctx, r.ID, "someone-else", true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.Cancel(ctx, r.ID, "someone-else"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("cancel err = %v, want ErrUnauthorized", err)
	}
}

func backdatedRequest(t *testing.T, f *fixture, driverID types.ID, age time.Duration) *Request {
	t.Helper()
	entryID := f.registerPassenger(t, "pax-stale")
	r := &Request{
		ID:               types.NewID(),
		PassengerID:      "pax-stale",
		PassengerEntryID: entryID,
		DriverPoolID:     driverID,
		SeatsRequested:   1,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC().Add(-age),
	}
	if err := f.store.Create(context.Background(), r); err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestOfferExpiresLazilyOnRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)
	r := backdatedRequest(t, f, driverID, time.Minute)

	got, err := f.svc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	// A late answer no longer lands.
	if err := f.svc.Respond(ctx, r.ID, "driver-1", true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	entry, _ := f.poolStore.Get(ctx, driverID)
	if entry.RemainingSeats != 2 {
		t.Fatalf("remaining seats = %d, want 2", entry.RemainingSeats)
	}
}

func TestExpireStaleSweep(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)
	r := backdatedRequest(t, f, driverID, time.Minute)

	f.svc.ExpireStale(ctx)

	got, err := f.store.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if n := len(f.published.OfType(events.TypeExpired)); n != 1 {
		t.Fatalf("expired events = %d, want 1", n)
	}
	if rate := f.acceptanceRate(t, "driver-1"); rate != 0 {
		t.Fatalf("acceptance rate = %v, want 0 after letting an offer lapse", rate)
	}
}

func TestLazyExpiryScoresLikeTheSweep(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)
	r := backdatedRequest(t, f, driverID, time.Minute)

	// The read path notices the stale offer first.
	got, err := f.svc.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if rate := f.acceptanceRate(t, "driver-1"); rate != 0 {
		t.Fatalf("acceptance rate = %v, want 0 after letting an offer lapse", rate)
	}
	if n := len(f.published.OfType(events.TypeExpired)); n != 1 {
		t.Fatalf("expired events = %d, want 1", n)
	}
	// The sweeper coming along later finds nothing left to charge.
	f.svc.ExpireStale(ctx)
	if rate := f.acceptanceRate(t, "driver-1"); rate != 0 {
		t.Fatalf("acceptance rate = %v, want unchanged after sweep", rate)
	}
	if n := len(f.published.OfType(events.TypeExpired)); n != 1 {
		t.Fatalf("expired events = %d, want still 1", n)
	}
}

func TestCancellingStaleOfferExpiresItInstead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)
	r := backdatedRequest(t, f, driverID, time.Minute)

	if err := f.svc.Cancel(ctx, r.ID, "pax-stale"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel err = %v, want ErrInvalidTransition", err)
	}
	got, _ := f.store.Get(ctx, r.ID)
	if got.Status != StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	// The expiry still charges the driver and consumes the passenger's
	// retry attempt; cancelling late is not an escape hatch.
	if rate := f.acceptanceRate(t, "driver-1"); rate != 0 {
		t.Fatalf("acceptance rate = %v, want 0", rate)
	}
	n, err := f.store.CountAttempts(ctx, r.PassengerEntryID)
	if err != nil {
		t.Fatalf("count attempts: %v", err)
	}
	if n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}
}

func TestAcceptAfterDriverLeftPool(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)
	entryID := f.registerPassenger(t, "pax-1")
	r, err := f.svc.Submit(ctx, SubmitCommand{
		PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The driver commits to a trip while the request is still open.
	if err := f.poolSvc.MarkMatched(ctx, driverID); err != nil {
		t.Fatalf("mark matched: %v", err)
	}

	if err := f.svc.Respond(ctx, r.ID, "driver-1", true); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept err = %v, want ErrInvalidTransition", err)
	}
	got, _ := f.store.Get(ctx, r.ID)
	if got.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", got.Status)
	}
	// The passenger keeps searching instead of being parked on a seat
	// no route will visit.
	entry, _ := f.poolStore.Get(ctx, entryID)
	if entry.Status != pool.StatusSearching {
		t.Fatalf("passenger entry status = %s, want searching", entry.Status)
	}
	driverEntry, _ := f.poolStore.Get(ctx, driverID)
	if driverEntry.RemainingSeats != 2 {
		t.Fatalf("remaining seats = %d, want 2", driverEntry.RemainingSeats)
	}
}

func TestCancelAssignmentReleasesSeats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID := f.registerDriver(t, "driver-1", 2)
	entryID := f.registerPassenger(t, "pax-1")
	r, err := f.svc.Submit(ctx, SubmitCommand{
		PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 2,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.svc.Respond(ctx, r.ID, "driver-1", true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	entry, _ := f.poolStore.Get(ctx, driverID)
	if entry.RemainingSeats != 0 {
		t.Fatalf("remaining seats = %d, want 0", entry.RemainingSeats)
	}

	if err := f.svc.CancelAssignment(ctx, driverID, "pax-1", "intruder"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("cancel assignment err = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.CancelAssignment(ctx, driverID, "pax-1", "pax-1"); err != nil {
		t.Fatalf("cancel assignment: %v", err)
	}
	entry, _ = f.poolStore.Get(ctx, driverID)
	if entry.RemainingSeats != 2 {
		t.Fatalf("remaining seats = %d, want 2", entry.RemainingSeats)
	}
	a, _ := f.svc.Assignment(ctx, driverID)
	if len(a.Passengers) != 0 {
		t.Fatalf("assigned passengers = %d, want 0", len(a.Passengers))
	}
}

func TestAcceptedPassengerCannotSubmitAgain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverA := f.registerDriver(t, "driver-a", 2)
	driverB := f.registerDriver(t, "driver-b", 2)
	entryID := f.registerPassenger(t, "pax-1")

	r, err := f.svc.Submit(ctx, SubmitCommand{
		PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverA, Seats: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.svc.Respond(ctx, r.ID, "driver-a", true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err = f.svc.Submit(ctx, SubmitCommand{
		PassengerID: "pax-1", PassengerEntryID: entryID, DriverPoolID: driverB, Seats: 1,
	})
	if !errors.Is(err, ErrAlreadyAssigned) && !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrAlreadyAssigned or ErrInvalidRequest", err)
	}
}
