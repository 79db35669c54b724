package trip

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"wheels/internal/config"
	"wheels/internal/events"
	"wheels/internal/modules/match"
	"wheels/internal/modules/offer"
	"wheels/internal/modules/pool"
	"wheels/internal/types"
)

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
	svc        *Service
	store      *MemStore
	offerSvc   *offer.Service
	offerStore *offer.MemStore
	poolStore  *pool.MemStore
	poolSvc    *pool.Service
	stats      *match.MemStatsStore
	published  *events.MemoryPublisher
}

func newFixture() *fixture {
	log := slog.Default()
	poolStore := pool.NewMemStore()
	poolSvc := pool.NewService(poolStore, testCfg(), log)
	offerStore := offer.NewMemStore()
	published := events.NewMemoryPublisher()
	stats := match.NewMemStatsStore()
	offerSvc := offer.NewService(offerStore, poolStore, poolSvc, stats, published, nil, testCfg(), log)
	store := NewMemStore()
	svc := NewService(store, offerStore, poolSvc, testProvider(), campus, published, nil, stats, log)
	return &fixture{
		svc:        svc,
		store:      store,
		offerSvc:   offerSvc,
		offerStore: offerStore,
		poolStore:  poolStore,
		poolSvc:    poolSvc,
		stats:      stats,
		published:  published,
	}
}

// setupAcceptedTrip registers a driver with two accepted passengers and
// returns the driver pool entry id.
func setupAcceptedTrip(t *testing.T, f *fixture) types.ID {
	t.Helper()
	ctx := context.Background()
	driverID, err := f.poolSvc.Register(ctx, pool.RegisterCommand{
		ActorID:      "driver-1",
		Role:         types.RoleDriver,
		Pickup:       stopAtKm("driver home", 5),
		Dropoff:      campus,
		Direction:    types.ToUniversity,
		SeatsOffered: 2,
	})
	if err != nil {
		t.Fatalf("register driver: %v", err)
	}
	// pax-a is accepted first but lives farther from the driver's route
	// start than pax-b.
	for i, km := range []float64{1, 3} {
		actor := types.ID("pax-" + string(rune('a'+i)))
		entryID, err := f.poolSvc.Register(ctx, pool.RegisterCommand{
			ActorID:   actor,
			Role:      types.RolePassenger,
			Pickup:    stopAtKm(string(actor)+" home", km),
			Dropoff:   campus,
			Direction: types.ToUniversity,
		})
		if err != nil {
			t.Fatalf("register passenger: %v", err)
		}
		r, err := f.offerSvc.Submit(ctx, offer.SubmitCommand{
			PassengerID: actor, PassengerEntryID: entryID, DriverPoolID: driverID, Seats: 1,
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if err := f.offerSvc.Respond(ctx, r.ID, "driver-1", true); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	return driverID
}

func TestStartFreezesAssignment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driverID := setupAcceptedTrip(t, f)

	trip, err := f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1", Depart: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if trip.Status != StatusInProgress {
		t.Fatalf("status = %s, want in_progress", trip.Status)
	}
	if len(trip.Riders) != 2 {
		t.Fatalf("riders = %d, want 2", len(trip.Riders))
	}
	if len(trip.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(trip.Steps))
	}
	// pax-b was accepted second but sits closer to the driver, so the
	// sweep picks them up first.
	if trip.Steps[0].PassengerID != "pax-b" || trip.Steps[1].PassengerID != "pax-a" {
		t.Fatalf("pickup order = %s, %s", trip.Steps[0].PassengerID, trip.Steps[1].PassengerID)
	}
	if trip.Steps[2].Kind != StepTerminal {
		t.Fatalf("last step kind = %s, want terminal", trip.Steps[2].Kind)
	}

	entry, _ := f.poolStore.Get(ctx, driverID)
	if entry.Status != pool.StatusMatched {
		t.Fatalf("driver entry status = %s, want matched", entry.Status)
	}
	if n := len(f.published.OfType(events.TypeTripStarted)); n != 1 {
		t.Fatalf("trip_started events = %d, want 1", n)
	}
}

func TestStartRequiresAcceptedPassengers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driverID, err := f.poolSvc.Register(ctx, pool.RegisterCommand{
		ActorID:      "driver-1",
		Role:         types.RoleDriver,
		Pickup:       stopAtKm("driver home", 5),
		Dropoff:      campus,
		Direction:    types.ToUniversity,
		SeatsOffered: 2,
	})
	if err != nil {
		t.Fatalf("register driver: %v", err)
	}
	_, err = f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1", Depart: true})
	if !errors.Is(err, ErrEmptyAssignment) {
		t.Fatalf("err = %v, want ErrEmptyAssignment", err)
	}
}

func TestStartTwiceFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driverID := setupAcceptedTrip(t, f)

	if _, err := f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1", Depart: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1", Depart: true})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second start err = %v, want ErrInvalidTransition", err)
	}
}

func TestStepsCompleteInOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driverID := setupAcceptedTrip(t, f)
	trip, err := f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1", Depart: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := f.svc.CompleteStep(ctx, trip.ID, "driver-1", 1); !errors.Is(err, ErrStepOutOfOrder) {
		t.Fatalf("out-of-order err = %v, want ErrStepOutOfOrder", err)
	}
	if err := f.svc.CompleteStep(ctx, trip.ID, "pax-a", 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("passenger complete err = %v, want ErrUnauthorized", err)
	}

	for i := 0; i < 3; i++ {
		if err := f.svc.CompleteStep(ctx, trip.ID, "driver-1", i); err != nil {
			t.Fatalf("complete step %d: %v", i, err)
		}
	}

	got, err := f.svc.Get(ctx, trip.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if n := len(f.published.OfType(events.TypeTripCompleted)); n != 1 {
		t.Fatalf("trip_completed events = %d, want 1", n)
	}

	// Completion archived the trip and cleared the roster.
	passengers, _ := f.offerStore.GetAssignment(ctx, driverID)
	if len(passengers) != 0 {
		t.Fatalf("assignment rows = %d, want 0", len(passengers))
	}
	history, err := f.svc.History(ctx, "driver-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ID != trip.ID {
		t.Fatalf("driver history = %+v", history)
	}
	riderHistory, _ := f.svc.History(ctx, "pax-a")
	if len(riderHistory) != 1 {
		t.Fatalf("rider history = %d, want 1", len(riderHistory))
	}
}

func TestCancelAfterCompletionFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driverID := setupAcceptedTrip(t, f)
	trip, _ := f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1", Depart: true})
	for i := 0; i < 3; i++ {
		if err := f.svc.CompleteStep(ctx, trip.ID, "driver-1", i); err != nil {
			t.Fatalf("complete step %d: %v", i, err)
		}
	}
	if err := f.svc.Cancel(ctx, trip.ID, "driver-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel err = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelMidTrip(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driverID := setupAcceptedTrip(t, f)
	trip, _ := f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1", Depart: true})

	if err := f.svc.Cancel(ctx, trip.ID, "outsider"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider cancel err = %v, want ErrUnauthorized", err)
	}
	// A rider can end the trip too.
	if err := f.svc.Cancel(ctx, trip.ID, "pax-a"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := f.svc.Get(ctx, trip.ID)
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if err := f.svc.CompleteStep(ctx, trip.ID, "driver-1", 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete after cancel err = %v, want ErrInvalidTransition", err)
	}
	// Seats held by the riders flow back to the driver entry.
	entry, _ := f.poolStore.Get(ctx, driverID)
	if entry.RemainingSeats != entry.SeatsOffered {
		t.Fatalf("remaining seats = %d, want %d", entry.RemainingSeats, entry.SeatsOffered)
	}
}

func TestConfirmPickupIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driverID := setupAcceptedTrip(t, f)
	trip, _ := f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1", Depart: true})

	if err := f.svc.ConfirmPickup(ctx, trip.ID, "pax-a"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := f.svc.ConfirmPickup(ctx, trip.ID, "pax-a"); err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if err := f.svc.ConfirmDropoff(ctx, trip.ID, "pax-a"); err != nil {
		t.Fatalf("confirm dropoff: %v", err)
	}
	if err := f.svc.ConfirmPickup(ctx, trip.ID, "outsider"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider confirm err = %v, want ErrUnauthorized", err)
	}

	got, _ := f.svc.Get(ctx, trip.ID)
	var found bool
	for _, st := range got.Steps {
		if st.PassengerID == "pax-a" {
			found = true
			if st.PickupConfirmedAt == nil || st.DropoffConfirmedAt == nil {
				t.Fatalf("confirmations missing on step %d", st.Index)
			}
		}
	}
	if !found {
		t.Fatal("no step for pax-a")
	}
}

func TestReservationDepartsLater(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driverID := setupAcceptedTrip(t, f)

	trip, err := f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if trip.Status != StatusScheduled {
		t.Fatalf("status = %s, want scheduled", trip.Status)
	}
	if err := f.svc.ConfirmPickup(ctx, trip.ID, "pax-a"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirm before departure err = %v, want ErrInvalidTransition", err)
	}
	if err := f.svc.Depart(ctx, trip.ID, "outsider"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider depart err = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.Depart(ctx, trip.ID, "driver-1"); err != nil {
		t.Fatalf("depart: %v", err)
	}
	got, _ := f.svc.Get(ctx, trip.ID)
	if got.Status != StatusInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
}

func TestPendingRequestCannotBeAcceptedAfterStart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	driverID, err := f.poolSvc.Register(ctx, pool.RegisterCommand{
		ActorID:      "driver-1",
		Role:         types.RoleDriver,
		Pickup:       stopAtKm("driver home", 5),
		Dropoff:      campus,
		Direction:    types.ToUniversity,
		SeatsOffered: 3,
	})
	if err != nil {
		t.Fatalf("register driver: %v", err)
	}
	registerPax := func(actor types.ID, km float64) types.ID {
		entryID, err := f.poolSvc.Register(ctx, pool.RegisterCommand{
			ActorID:   actor,
			Role:      types.RolePassenger,
			Pickup:    stopAtKm(string(actor)+" home", km),
			Dropoff:   campus,
			Direction: types.ToUniversity,
		})
		if err != nil {
			t.Fatalf("register %s: %v", actor, err)
		}
		return entryID
	}

	aEntry := registerPax("pax-a", 1)
	ra, err := f.offerSvc.Submit(ctx, offer.SubmitCommand{
		PassengerID: "pax-a", PassengerEntryID: aEntry, DriverPoolID: driverID, Seats: 1,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.offerSvc.Respond(ctx, ra.ID, "driver-1", true); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// pax-late's request is still open when the driver departs.
	lateEntry := registerPax("pax-late", 2)
	rLate, err := f.offerSvc.Submit(ctx, offer.SubmitCommand{
		PassengerID: "pax-late", PassengerEntryID: lateEntry, DriverPoolID: driverID, Seats: 1,
	})
	if err != nil {
		t.Fatalf("submit late: %v", err)
	}
	trip, err := f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1", Depart: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := f.offerSvc.Respond(ctx, rLate.ID, "driver-1", true); !errors.Is(err, offer.ErrInvalidTransition) {
		t.Fatalf("accept after start err = %v, want offer.ErrInvalidTransition", err)
	}
	if trip.HasRider("pax-late") {
		t.Fatal("frozen roster must not gain riders")
	}
	gotLate, _ := f.offerStore.Get(ctx, rLate.ID)
	if gotLate.Status != offer.StatusRejected {
		t.Fatalf("late request status = %s, want rejected", gotLate.Status)
	}
	entry, _ := f.poolStore.Get(ctx, lateEntry)
	if entry.Status != pool.StatusSearching {
		t.Fatalf("pax-late entry status = %s, want searching", entry.Status)
	}
	driverEntry, _ := f.poolStore.Get(ctx, driverID)
	if driverEntry.RemainingSeats != 2 {
		t.Fatalf("remaining seats = %d, want 2", driverEntry.RemainingSeats)
	}
}

func TestRateDriverAfterCompletion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	driverID := setupAcceptedTrip(t, f)
	trip, err := f.svc.Start(ctx, StartCommand{DriverPoolID: driverID, DriverID: "driver-1", Depart: true})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := f.svc.RateDriver(ctx, trip.ID, "pax-a", 4); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("rate mid-trip err = %v, want ErrInvalidTransition", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.svc.CompleteStep(ctx, trip.ID, "driver-1", i); err != nil {
			t.Fatalf("complete step %d: %v", i, err)
		}
	}

	if err := f.svc.RateDriver(ctx, trip.ID, "outsider", 4); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider rate err = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.RateDriver(ctx, trip.ID, "pax-a", 6); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("rate 6 err = %v, want ErrInvalidRating", err)
	}
	if err := f.svc.RateDriver(ctx, trip.ID, "pax-a", 4); err != nil {
		t.Fatalf("rate: %v", err)
	}

	stats, err := f.stats.Get(ctx, []types.ID{"driver-1"})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got := stats["driver-1"].Rating; got != 0.8 {
		t.Fatalf("rating = %v, want 0.8", got)
	}
}
