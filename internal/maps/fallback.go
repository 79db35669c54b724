// README: Geometric fallback provider and haversine helpers.
package maps

import (
	"context"
	"math"
	"time"

	"wheels/internal/types"
)

const earthRadiusKm = 6371.0

// fallbackSpeedKmh is the assumed urban driving speed for ETA estimates
// when the road network is unavailable.
const fallbackSpeedKmh = 30.0

// HaversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Fallback estimates travel legs from great-circle geometry. It never
// fails, which makes it the terminal element of the failover chain.
type Fallback struct{}

func NewFallback() *Fallback { return &Fallback{} }

func (f *Fallback) Distance(_ context.Context, origin, destination types.Point) (Leg, error) {
	km := HaversineKm(origin, destination)
	eta := time.Duration(km / fallbackSpeedKmh * float64(time.Hour))
	return Leg{DistanceMeters: km * 1000.0, ETA: eta, Source: SourceFallback}, nil
}

func (f *Fallback) Matrix(ctx context.Context, origins, destinations []types.Point) ([][]Leg, error) {
	rows := make([][]Leg, len(origins))
	for i, o := range origins {
		rows[i] = make([]Leg, len(destinations))
		for j, d := range destinations {
			leg, _ := f.Distance(ctx, o, d)
			rows[i][j] = leg
		}
	}
	return rows, nil
}
