// README: Pickup sequencer: greedy nearest-neighbor routing over the
// frozen assignment, one Distance Matrix call per trip start.
package trip

import (
	"context"
	"fmt"

	"wheels/internal/maps"
	"wheels/internal/types"
)

// AssignedStop is one passenger stop to visit, in request acceptance
// order. Acceptance order breaks distance ties.
type AssignedStop struct {
	PassengerID types.ID
	Stop        types.Stop
}

// BuildRoute orders the stops by repeated nearest-neighbor from the
// driver origin and appends the shared terminal. The result always has
// len(stops)+1 steps. Matrix legs degrade per pair to the geometric
// estimate, so routing never fails on provider trouble.
func BuildRoute(ctx context.Context, provider maps.Provider, kind StepKind, origin types.Point, stops []AssignedStop, terminal types.Stop) ([]PickupStep, error) {
	if kind != StepPickup && kind != StepDropoff {
		return nil, fmt.Errorf("route steps must be pickups or dropoffs, got %q", kind)
	}

	// Points: origin, the stops, then the terminal. One matrix call
	// covers every leg the greedy walk can take.
	points := make([]types.Point, 0, len(stops)+2)
	points = append(points, origin)
	for _, s := range stops {
		points = append(points, s.Stop.Point)
	}
	points = append(points, terminal.Point)

	legs, err := provider.Matrix(ctx, points, points)
	if err != nil {
		return nil, err
	}

	steps := make([]PickupStep, 0, len(stops)+1)
	visited := make([]bool, len(stops))
	at := 0 // index into points
	var cumKm float64

	for range stops {
		best := -1
		var bestLeg maps.Leg
		for i := range stops {
			if visited[i] {
				continue
			}
			leg := legs[at][i+1]
			// Strict less keeps acceptance order on exact ties.
			if best == -1 || leg.DistanceMeters < bestLeg.DistanceMeters {
				best = i
				bestLeg = leg
			}
		}
		visited[best] = true
		cumKm += bestLeg.DistanceKm()
		steps = append(steps, PickupStep{
			Index:        len(steps),
			Kind:         kind,
			PassengerID:  stops[best].PassengerID,
			Stop:         stops[best].Stop,
			LegKm:        bestLeg.DistanceKm(),
			LegMinutes:   bestLeg.EtaMinutes(),
			CumulativeKm: cumKm,
		})
		at = best + 1
	}

	last := legs[at][len(points)-1]
	cumKm += last.DistanceKm()
	steps = append(steps, PickupStep{
		Index:        len(steps),
		Kind:         StepTerminal,
		Stop:         terminal,
		LegKm:        last.DistanceKm(),
		LegMinutes:   last.EtaMinutes(),
		CumulativeKm: cumKm,
	})
	return steps, nil
}
