// README: Pool handlers: enter/leave the search pool, list ranked
// candidates.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wheels/internal/modules/match"
	"wheels/internal/modules/pool"
	"wheels/internal/types"
)

type PoolHandler struct {
	pool  *pool.Service
	match *match.Service
}

func NewPoolHandler(poolSvc *pool.Service, matchSvc *match.Service) *PoolHandler {
	return &PoolHandler{pool: poolSvc, match: matchSvc}
}

type stopReq struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func (s stopReq) toStop() types.Stop {
	return types.Stop{Address: s.Address, Point: types.Point{Lat: s.Lat, Lng: s.Lng}}
}

type registerReq struct {
	Role           string  `json:"role"`
	Pickup         stopReq `json:"pickup"`
	Dropoff        stopReq `json:"dropoff"`
	Direction      string  `json:"direction"`
	ScheduledAt    *string `json:"scheduled_at,omitempty"`
	SeatsOffered   int     `json:"seats_offered,omitempty"`
	SeatsRequested int     `json:"seats_requested,omitempty"`
	PriceAmount    int64   `json:"price_amount,omitempty"`
	PriceCurrency  string  `json:"price_currency,omitempty"`
}

func (h *PoolHandler) Register(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	var scheduledAt *time.Time
	if req.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			writeError(c, http.StatusBadRequest, "scheduled_at must be RFC3339")
			return
		}
		scheduledAt = &t
	}
	id, err := h.pool.Register(c.Request.Context(), pool.RegisterCommand{
		ActorID:        actor,
		Role:           types.Role(req.Role),
		Pickup:         req.Pickup.toStop(),
		Dropoff:        req.Dropoff.toStop(),
		Direction:      types.Direction(req.Direction),
		ScheduledAt:    scheduledAt,
		SeatsOffered:   req.SeatsOffered,
		SeatsRequested: req.SeatsRequested,
		PricePerSeat:   types.Money{Amount: req.PriceAmount, Currency: req.PriceCurrency},
	})
	if err != nil {
		writePoolError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry_id": id, "status": pool.StatusSearching})
}

func (h *PoolHandler) Get(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	e, err := h.pool.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writePoolError(c, err)
		return
	}
	if e.ActorID != actor {
		writeError(c, http.StatusForbidden, "not your pool entry")
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *PoolHandler) Cancel(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	if err := h.pool.Cancel(c.Request.Context(), types.ID(c.Param("id")), actor); err != nil {
		writePoolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": pool.StatusCancelled})
}

// Candidates returns ranked drivers for a passenger's own entry.
func (h *PoolHandler) Candidates(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	entry, err := h.pool.Get(ctx, types.ID(c.Param("id")))
	if err != nil {
		writePoolError(c, err)
		return
	}
	if entry.ActorID != actor {
		writeError(c, http.StatusForbidden, "not your pool entry")
		return
	}
	raw, err := h.pool.FindCandidates(ctx, entry)
	if err != nil {
		writePoolError(c, err)
		return
	}
	ranked, err := h.match.Rank(ctx, entry, raw)
	if err != nil {
		writePoolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": ranked})
}
