// README: Handler utilities shared across the API surface: JSON
// helpers, actor extraction, and sentinel-to-status mapping.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wheels/internal/modules/offer"
	"wheels/internal/modules/pool"
	"wheels/internal/modules/trip"
	"wheels/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

// actorID reads the authenticated actor set by the gateway in front of
// this service. Authentication itself happens upstream.
func actorID(c *gin.Context) (types.ID, bool) {
	id := c.GetHeader("X-Actor-ID")
	if id == "" {
		writeError(c, http.StatusUnauthorized, "missing actor identity")
		return "", false
	}
	return types.ID(id), true
}

func writePoolError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pool.ErrInvalidEntry), errors.Is(err, pool.ErrOutsideServiceWindow):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, pool.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, pool.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, pool.ErrDuplicateSearch), errors.Is(err, pool.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeOfferError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, offer.ErrInvalidRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, offer.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, offer.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, offer.ErrCapacityExceeded),
		errors.Is(err, offer.ErrDuplicateRequest),
		errors.Is(err, offer.ErrAlreadyAssigned),
		errors.Is(err, offer.ErrRetryExhausted),
		errors.Is(err, offer.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, pool.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeTripError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trip.ErrInvalidRating):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, trip.ErrUnauthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, trip.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrInvalidTransition),
		errors.Is(err, trip.ErrEmptyAssignment),
		errors.Is(err, trip.ErrStepOutOfOrder):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, pool.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
