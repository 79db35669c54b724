// README: Trip handlers: start/depart, step progress, confirmations,
// cancellation, and read paths.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wheels/internal/modules/trip"
	"wheels/internal/types"
)

type TripHandler struct {
	trip *trip.Service
}

func NewTripHandler(svc *trip.Service) *TripHandler {
	return &TripHandler{trip: svc}
}

type startReq struct {
	DriverPoolID string `json:"driver_pool_id"`
	Depart       bool   `json:"depart"`
}

func (h *TripHandler) Start(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DriverPoolID == "" {
		writeError(c, http.StatusBadRequest, "missing driver_pool_id")
		return
	}
	t, err := h.trip.Start(c.Request.Context(), trip.StartCommand{
		DriverPoolID: types.ID(req.DriverPoolID),
		DriverID:     actor,
		Depart:       req.Depart,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TripHandler) Depart(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	if err := h.trip.Depart(c.Request.Context(), types.ID(c.Param("id")), actor); err != nil {
		writeTripError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": trip.StatusInProgress})
}

func (h *TripHandler) CompleteStep(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "step index must be an integer")
		return
	}
	if err := h.trip.CompleteStep(c.Request.Context(), types.ID(c.Param("id")), actor, index); err != nil {
		writeTripError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": index})
}

func (h *TripHandler) ConfirmPickup(c *gin.Context) {
	h.confirm(c, h.trip.ConfirmPickup)
}

func (h *TripHandler) ConfirmDropoff(c *gin.Context) {
	h.confirm(c, h.trip.ConfirmDropoff)
}

func (h *TripHandler) confirm(c *gin.Context, fn func(ctx context.Context, tripID, passengerID types.ID) error) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	if err := fn(c.Request.Context(), types.ID(c.Param("id")), actor); err != nil {
		writeTripError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"confirmed": true})
}

func (h *TripHandler) Cancel(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	if err := h.trip.Cancel(c.Request.Context(), types.ID(c.Param("id")), actor); err != nil {
		writeTripError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": trip.StatusCancelled})
}

type rateReq struct {
	Rating int `json:"rating"`
}

func (h *TripHandler) Rate(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.trip.RateDriver(c.Request.Context(), types.ID(c.Param("id")), actor, req.Rating); err != nil {
		writeTripError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rated": true})
}

func (h *TripHandler) Get(c *gin.Context) {
	if _, ok := actorID(c); !ok {
		return
	}
	t, err := h.trip.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeTripError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TripHandler) Steps(c *gin.Context) {
	if _, ok := actorID(c); !ok {
		return
	}
	steps, err := h.trip.Steps(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeTripError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps})
}

func (h *TripHandler) History(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	trips, err := h.trip.History(c.Request.Context(), actor)
	if err != nil {
		writeTripError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trips": trips})
}
