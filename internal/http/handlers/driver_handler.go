// README: Driver handlers (profile, availability, location, queue, ride actions).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"trigo/internal/http/middleware"
	"trigo/internal/modules/driver"
	"trigo/internal/modules/matching"
	"trigo/internal/modules/ride"
	"trigo/internal/types"
)

type DriverHandler struct {
	rides    *ride.Service
	drivers  *driver.Service
	matching *matching.Service
	log      logrus.FieldLogger
}

func NewDriverHandler(rides *ride.Service, drivers *driver.Service, matchingSvc *matching.Service, log logrus.FieldLogger) *DriverHandler {
	return &DriverHandler{rides: rides, drivers: drivers, matching: matchingSvc, log: log}
}

func callerDriver(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func (h *DriverHandler) Profile(c *gin.Context) {
	p, err := h.drivers.Profile(c.Request.Context(), callerDriver(c))
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"profile": profileView(p)})
}

func (h *DriverHandler) Dashboard(c *gin.Context) {
	d, err := h.rides.DriverDashboard(c.Request.Context(), callerDriver(c))
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, driverDashboardView(d))
}

type availabilityReq struct {
	Online *bool `json:"online"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Online == nil {
		writeError(c, http.StatusUnprocessableEntity, "online is required")
		return
	}
	res, err := h.drivers.SetAvailability(c.Request.Context(), callerDriver(c), *req.Online)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	body := gin.H{"message": "Availability updated.", "profile": profileView(res.Profile)}
	if res.Warning != "" {
		body["warning"] = res.Warning
	}
	writeJSON(c, http.StatusOK, body)
}

type locationReq struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	PlaceID string   `json:"place_id"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.drivers.UpdateLocation(c.Request.Context(), driver.LocationCommand{
		DriverID: callerDriver(c),
		Point:    pointFrom(req.Lat, req.Lng),
		PlaceRef: req.PlaceID,
	})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Location updated.", "profile": profileView(p)})
}

func (h *DriverHandler) Queue(c *gin.Context) {
	radius, _, err := queryFloat(c, "radius")
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	entries, err := h.matching.Queue(c.Request.Context(), callerDriver(c), radius)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": queueViews(entries), "count": len(entries)})
}

func (h *DriverHandler) Accept(c *gin.Context) {
	id, ok := rideIDParam(c)
	if !ok {
		return
	}
	r, err := h.rides.Accept(c.Request.Context(), ride.AcceptCommand{RideID: id, DriverID: callerDriver(c)})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Ride accepted.", "ride": rideView(r)})
}

type declineReq struct {
	Reason string `json:"reason"`
}

func (h *DriverHandler) Decline(c *gin.Context) {
	id, ok := rideIDParam(c)
	if !ok {
		return
	}
	var req declineReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.rides.Decline(c.Request.Context(), ride.DeclineCommand{RideID: id, DriverID: callerDriver(c), Reason: req.Reason})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Ride declined.", "ride": rideView(r)})
}

func (h *DriverHandler) PickUp(c *gin.Context) {
	id, ok := rideIDParam(c)
	if !ok {
		return
	}
	r, err := h.rides.PickUp(c.Request.Context(), ride.PickUpCommand{RideID: id, DriverID: callerDriver(c)})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Passenger picked up.", "ride": rideView(r)})
}

func (h *DriverHandler) Complete(c *gin.Context) {
	id, ok := rideIDParam(c)
	if !ok {
		return
	}
	r, err := h.rides.Complete(c.Request.Context(), ride.CompleteCommand{RideID: id, DriverID: callerDriver(c)})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Ride completed.", "ride": rideView(r)})
}

func (h *DriverHandler) History(c *gin.Context) {
	listHistory(c, h.rides, h.log, ride.ActorDriver)
}
