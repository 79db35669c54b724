// README: Match scorer: weighted compatibility score over candidate
// pairings, ranked descending.
package match

import (
	"context"
	"log/slog"
	"sort"

	"wheels/internal/config"
	"wheels/internal/maps"
	"wheels/internal/modules/pool"
	"wheels/internal/observability"
	"wheels/internal/types"
)

type Service struct {
	provider maps.Provider
	stats    StatsStore
	weights  config.ScoreWeights
	log      *slog.Logger
}

func NewService(provider maps.Provider, stats StatsStore, weights config.ScoreWeights, log *slog.Logger) *Service {
	return &Service{provider: provider, stats: stats, weights: weights, log: log}
}

// Rank scores each candidate counterpart for forEntry and returns them
// best first. A pairing where both sides belong to the same actor is
// never returned; that exclusion is a precondition here, not a
// downstream filter. Distance-provider degradation is absorbed, never
// fatal to the cycle.
func (s *Service) Rank(ctx context.Context, forEntry *pool.Entry, candidates []*pool.Entry) ([]Candidate, error) {
	driverIDs := make([]types.ID, 0, len(candidates))
	for _, c := range candidates {
		if c.ActorID == forEntry.ActorID {
			continue
		}
		driverIDs = append(driverIDs, driverActor(forEntry, c))
	}
	stats, err := s.stats.Get(ctx, driverIDs)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ActorID == forEntry.ActorID {
			continue
		}
		leg, err := s.provider.Distance(ctx, forEntry.Pickup.Point, c.Pickup.Point)
		if err != nil {
			// Only a bare fallback-less provider can fail; skip the pair.
			s.log.Warn("distance lookup failed, skipping candidate", "candidate", c.ID, "err", err)
			continue
		}

		st, ok := stats[driverActor(forEntry, c)]
		if !ok {
			st = neutralStats
		}
		cand := Candidate{
			DistanceKm:     leg.DistanceKm(),
			EtaMinutes:     leg.EtaMinutes(),
			DriverActorID:  driverActor(forEntry, c),
			entryCreatedAt: c.CreatedAt,
		}
		if forEntry.Role == types.RolePassenger {
			cand.DriverEntryID = c.ID
			cand.PassengerEntryID = forEntry.ID
		} else {
			cand.DriverEntryID = forEntry.ID
			cand.PassengerEntryID = c.ID
		}
		cand.Score = s.score(cand, st)
		out = append(out, cand)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		// First come, first served.
		return out[i].entryCreatedAt.Before(out[j].entryCreatedAt)
	})
	observability.CandidatesRanked.Observe(float64(len(out)))
	return out, nil
}

// score combines inverse-normalized ETA and distance with the driver's
// history. All four components live in [0,1] and the weights sum to 1,
// so scores are directly comparable across cycles.
func (s *Service) score(c Candidate, st Stats) float64 {
	etaScore := 1.0 / (1.0 + c.EtaMinutes)
	distanceScore := 1.0 / (1.0 + c.DistanceKm)
	return s.weights.Eta*etaScore +
		s.weights.Distance*distanceScore +
		s.weights.AcceptanceRate*st.AcceptanceRate +
		s.weights.DriverRating*st.Rating
}

// driverActor returns the actor id of whichever side of the pairing is
// the driver; history only exists for drivers.
func driverActor(forEntry, candidate *pool.Entry) types.ID {
	if candidate.Role == types.RoleDriver {
		return candidate.ActorID
	}
	return forEntry.ActorID
}
