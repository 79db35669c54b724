// README: Distance Provider abstraction consumed by the scorer and the
// pickup sequencer.
package maps

import (
	"context"
	"time"

	"wheels/internal/types"
)

type Source string

const (
	SourceNetwork  Source = "network"
	SourceFallback Source = "geometric-fallback"
)

// Leg is one origin→destination travel estimate. Callers must tolerate
// Source differing between calls.
type Leg struct {
	DistanceMeters float64
	ETA            time.Duration
	Source         Source
}

func (l Leg) DistanceKm() float64 { return l.DistanceMeters / 1000.0 }
func (l Leg) EtaMinutes() float64 { return l.ETA.Minutes() }

type Provider interface {
	Distance(ctx context.Context, origin, destination types.Point) (Leg, error)
	// Matrix returns estimates for every origin×destination pair.
	Matrix(ctx context.Context, origins, destinations []types.Point) ([][]Leg, error)
}
