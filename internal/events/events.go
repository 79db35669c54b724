// README: Lifecycle event stream. Delivery is at-least-once; consumers
// de-duplicate by event id or re-read authoritative state.
package events

import (
	"context"
	"time"

	"wheels/internal/types"
)

type Type string

const (
	TypeMatched        Type = "matched"
	TypeOfferSubmitted Type = "offer_submitted"
	TypeAccepted       Type = "accepted"
	TypeRejected       Type = "rejected"
	TypeExpired        Type = "expired"
	TypeTripStarted    Type = "trip_started"
	TypeStepCompleted  Type = "step_completed"
	TypeTripCompleted  Type = "trip_completed"
	TypeCancelled      Type = "cancelled"
)

type Event struct {
	ID       types.ID       `json:"id"`
	Type     Type           `json:"type"`
	EntityID types.ID       `json:"entity_id"`
	At       time.Time      `json:"at"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// New stamps a fresh event id; consumers key de-duplication on it.
func New(t Type, entityID types.ID, payload map[string]any) Event {
	return Event{
		ID:       types.NewID(),
		Type:     t,
		EntityID: entityID,
		At:       time.Now().UTC(),
		Payload:  payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
