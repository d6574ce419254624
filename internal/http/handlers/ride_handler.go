// README: Shared ride read for either party.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"trigo/internal/http/middleware"
	"trigo/internal/modules/ride"
	"trigo/internal/types"
)

type RideHandler struct {
	rides *ride.Service
	log   logrus.FieldLogger
}

func NewRideHandler(rides *ride.Service, log logrus.FieldLogger) *RideHandler {
	return &RideHandler{rides: rides, log: log}
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := rideIDParam(c)
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), types.ID(middleware.CallerUID(c)), id)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": rideView(r)})
}
