// README: Trip request handlers: submit, respond, cancel, and the
// driver's assignment roster.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wheels/internal/modules/offer"
	"wheels/internal/types"
)

type OfferHandler struct {
	offer *offer.Service
}

func NewOfferHandler(svc *offer.Service) *OfferHandler {
	return &OfferHandler{offer: svc}
}

type submitReq struct {
	PassengerEntryID string `json:"passenger_entry_id"`
	DriverPoolID     string `json:"driver_pool_id"`
	Seats            int    `json:"seats"`
}

func (h *OfferHandler) Submit(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.PassengerEntryID == "" || req.DriverPoolID == "" {
		writeError(c, http.StatusBadRequest, "missing fields")
		return
	}
	r, err := h.offer.Submit(c.Request.Context(), offer.SubmitCommand{
		PassengerID:      actor,
		PassengerEntryID: types.ID(req.PassengerEntryID),
		DriverPoolID:     types.ID(req.DriverPoolID),
		Seats:            req.Seats,
	})
	if err != nil {
		writeOfferError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request_id": r.ID, "status": r.Status})
}

func (h *OfferHandler) Get(c *gin.Context) {
	if _, ok := actorID(c); !ok {
		return
	}
	r, err := h.offer.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type respondReq struct {
	Accept bool `json:"accept"`
}

func (h *OfferHandler) Respond(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	var req respondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.offer.Respond(c.Request.Context(), types.ID(c.Param("id")), actor, req.Accept)
	if err != nil {
		writeOfferError(c, err)
		return
	}
	status := offer.StatusRejected
	if req.Accept {
		status = offer.StatusAccepted
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *OfferHandler) Cancel(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	if err := h.offer.Cancel(c.Request.Context(), types.ID(c.Param("id")), actor); err != nil {
		writeOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": offer.StatusCancelled})
}

func (h *OfferHandler) Assignment(c *gin.Context) {
	if _, ok := actorID(c); !ok {
		return
	}
	a, err := h.offer.Assignment(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeOfferError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *OfferHandler) CancelAssignment(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}
	err := h.offer.CancelAssignment(
		c.Request.Context(),
		types.ID(c.Param("id")),
		types.ID(c.Param("passenger_id")),
		actor,
	)
	if err != nil {
		writeOfferError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
