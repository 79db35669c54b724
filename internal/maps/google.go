// README: Google Distance Matrix provider.
package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"wheels/internal/types"
)

// Google resolves travel legs through the Distance Matrix API.
type Google struct {
	client *maps.Client
}

func NewGoogle(apiKey string) (*Google, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Google{client: client}, nil
}

func (g *Google) Distance(ctx context.Context, origin, destination types.Point) (Leg, error) {
	rows, err := g.Matrix(ctx, []types.Point{origin}, []types.Point{destination})
	if err != nil {
		return Leg{}, err
	}
	return rows[0][0], nil
}

func (g *Google) Matrix(ctx context.Context, origins, destinations []types.Point) ([][]Leg, error) {
	req := &maps.DistanceMatrixRequest{
		Origins:      formatPoints(origins),
		Destinations: formatPoints(destinations),
		Mode:         maps.TravelModeDriving,
	}
	resp, err := g.client.DistanceMatrix(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(resp.Rows) != len(origins) {
		return nil, fmt.Errorf("maps api returned %d rows, want %d", len(resp.Rows), len(origins))
	}

	rows := make([][]Leg, len(origins))
	for i, row := range resp.Rows {
		if len(row.Elements) != len(destinations) {
			return nil, fmt.Errorf("maps api returned %d elements in row %d, want %d", len(row.Elements), i, len(destinations))
		}
		rows[i] = make([]Leg, len(destinations))
		for j, el := range row.Elements {
			if el.Status != "OK" {
				return nil, fmt.Errorf("maps api element status %s", el.Status)
			}
			rows[i][j] = Leg{
				DistanceMeters: float64(el.Distance.Meters),
				ETA:            el.Duration,
				Source:         SourceNetwork,
			}
		}
	}
	return rows, nil
}

func formatPoints(pts []types.Point) []string {
	out := make([]string, len(pts))
	for i, p := range pts {
		out[i] = fmt.Sprintf("%f,%f", p.Lat, p.Lng)
	}
	return out
}
