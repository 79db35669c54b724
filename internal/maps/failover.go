// README: Failover provider: network first, geometric estimate when the
// network provider is unavailable or rate-limited.
package maps

import (
	"context"
	"log/slog"

	"wheels/internal/observability"
	"wheels/internal/types"
)

// Failover absorbs primary-provider failures so a matching cycle never
// aborts on a maps outage. With a nil primary every call goes straight
// to the fallback.
type Failover struct {
	primary  Provider
	fallback *Fallback
	log      *slog.Logger
}

func NewFailover(primary Provider, log *slog.Logger) *Failover {
	return &Failover{primary: primary, fallback: NewFallback(), log: log}
}

func (f *Failover) Distance(ctx context.Context, origin, destination types.Point) (Leg, error) {
	if f.primary != nil {
		leg, err := f.primary.Distance(ctx, origin, destination)
		if err == nil {
			observability.DistanceLookups.WithLabelValues(string(leg.Source)).Inc()
			return leg, nil
		}
		f.log.Warn("distance provider degraded", "err", err)
	}
	leg, _ := f.fallback.Distance(ctx, origin, destination)
	observability.DistanceLookups.WithLabelValues(string(leg.Source)).Inc()
	return leg, nil
}

func (f *Failover) Matrix(ctx context.Context, origins, destinations []types.Point) ([][]Leg, error) {
	if f.primary != nil {
		rows, err := f.primary.Matrix(ctx, origins, destinations)
		if err == nil {
			observability.DistanceLookups.WithLabelValues(string(SourceNetwork)).Inc()
			return rows, nil
		}
		f.log.Warn("distance matrix degraded", "err", err)
	}
	rows, _ := f.fallback.Matrix(ctx, origins, destinations)
	observability.DistanceLookups.WithLabelValues(string(SourceFallback)).Inc()
	return rows, nil
}
