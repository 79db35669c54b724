// README: Reservation dispatch scheduler. Scans reservations entering
// their dispatch window, ranks candidates, and pushes the result to the
// waiting passenger. Clients submit the actual trip requests; the
// scheduler only surfaces ranked pairings.
package match

import (
	"context"
	"log/slog"
	"time"

	"wheels/internal/config"
	"wheels/internal/events"
	"wheels/internal/modules/pool"
	"wheels/internal/types"
)

type Notifier interface {
	Notify(actorID types.ID, e events.Event)
}

type Scheduler struct {
	pool       *pool.Service
	scorer     *Service
	dispatches DispatchLog
	publisher  events.Publisher
	notifier   Notifier
	cfg        config.MatchingConfig
	log        *slog.Logger
}

func NewScheduler(
	poolSvc *pool.Service,
	scorer *Service,
	dispatches DispatchLog,
	publisher events.Publisher,
	notifier Notifier,
	cfg config.MatchingConfig,
	log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		pool:       poolSvc,
		scorer:     scorer,
		dispatches: dispatches,
		publisher:  publisher,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	tick := time.Duration(s.cfg.TickSeconds) * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.pool.DueReservations(ctx)
	if err != nil {
		s.log.Error("list due reservations", "err", err)
		return
	}
	retry := time.Duration(s.cfg.ReservationRetryMinutes) * time.Minute
	for _, entry := range due {
		last, dispatched, err := s.dispatches.LastDispatch(ctx, entry.ID)
		if err != nil {
			s.log.Warn("dispatch log read", "entry", entry.ID, "err", err)
			continue
		}
		if dispatched && time.Since(last) < retry {
			continue
		}
		s.dispatch(ctx, entry)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, entry *pool.Entry) {
	candidates, err := s.pool.FindCandidates(ctx, entry)
	if err != nil {
		s.log.Warn("find candidates", "entry", entry.ID, "err", err)
		return
	}
	ranked, err := s.scorer.Rank(ctx, entry, candidates)
	if err != nil {
		s.log.Warn("rank candidates", "entry", entry.ID, "err", err)
		return
	}
	if err := s.dispatches.MarkDispatched(ctx, entry.ID); err != nil {
		s.log.Warn("dispatch log write", "entry", entry.ID, "err", err)
	}
	if len(ranked) == 0 {
		// Retry on the next tick past the retry interval.
		return
	}

	e := events.New(events.TypeMatched, entry.ID, map[string]any{
		"candidates": ranked,
	})
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("publish matched event", "entry", entry.ID, "err", err)
	}
	if s.notifier != nil {
		s.notifier.Notify(entry.ActorID, e)
	}
	s.log.Info("reservation dispatched", "entry", entry.ID, "candidates", len(ranked))
}
