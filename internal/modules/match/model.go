// README: Candidate scoring artifacts. Candidates are ephemeral; nothing
// here is persisted beyond the scoring cycle.
package match

import (
	"time"

	"wheels/internal/types"
)

// Candidate is one scored driver/passenger pairing.
type Candidate struct {
	DriverEntryID    types.ID  `json:"driver_entry_id"`
	PassengerEntryID types.ID  `json:"passenger_entry_id"`
	DriverActorID    types.ID  `json:"driver_actor_id"`
	DistanceKm       float64   `json:"distance_km"`
	EtaMinutes       float64   `json:"eta_minutes"`
	Score            float64   `json:"score"`
	entryCreatedAt   time.Time
}

// Stats is a driver's scoring history, both components in [0,1].
type Stats struct {
	AcceptanceRate float64
	Rating         float64
}

// neutralStats applies to drivers with no history yet so first-timers
// are not ranked below everyone else.
var neutralStats = Stats{AcceptanceRate: 1.0, Rating: 1.0}
