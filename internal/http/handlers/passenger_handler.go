// README: Passenger handlers (request, current, history, cancel, nearby drivers, fare estimate).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"trigo/internal/apperr"
	"trigo/internal/geo"
	"trigo/internal/http/middleware"
	"trigo/internal/modules/matching"
	"trigo/internal/modules/pricing"
	"trigo/internal/modules/ride"
	"trigo/internal/types"
)

type PassengerHandler struct {
	rides    *ride.Service
	matching *matching.Service
	pricing  *pricing.Service
	log      logrus.FieldLogger
}

func NewPassengerHandler(rides *ride.Service, matchingSvc *matching.Service, pricingSvc *pricing.Service, log logrus.FieldLogger) *PassengerHandler {
	return &PassengerHandler{rides: rides, matching: matchingSvc, pricing: pricingSvc, log: log}
}

type requestRideReq struct {
	PickupLat         *float64 `json:"pickup_lat"`
	PickupLng         *float64 `json:"pickup_lng"`
	PickupPlaceID     string   `json:"pickup_place_id"`
	PickupAddress     string   `json:"pickup_address"`
	DropoffLat        *float64 `json:"dropoff_lat"`
	DropoffLng        *float64 `json:"dropoff_lng"`
	DropoffPlaceID    string   `json:"dropoff_place_id"`
	DropoffAddress    string   `json:"dropoff_address"`
	PreferredDriverID string   `json:"preferred_driver_id"`
	Notes             string   `json:"notes"`
}

func (h *PassengerHandler) RequestRide(c *gin.Context) {
	var req requestRideReq
	if !bindJSON(c, &req) {
		return
	}
	cmd := ride.CreateCommand{
		PassengerID: types.ID(middleware.CallerUID(c)),
		Pickup:      ride.EndpointInput{Point: pointFrom(req.PickupLat, req.PickupLng), PlaceRef: req.PickupPlaceID, Address: req.PickupAddress},
		Dropoff:     ride.EndpointInput{Point: pointFrom(req.DropoffLat, req.DropoffLng), PlaceRef: req.DropoffPlaceID, Address: req.DropoffAddress},
		Notes:       req.Notes,
	}
	if req.PreferredDriverID != "" {
		cmd.PreferredDriverID = types.IDPtr(types.ID(req.PreferredDriverID))
	}
	r, err := h.rides.Create(c.Request.Context(), cmd)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	msg := "Ride requested successfully. Waiting for a driver."
	if r.Status == ride.StatusAssigned {
		msg = "Ride requested successfully. Waiting for your preferred driver to accept."
	}
	writeJSON(c, http.StatusCreated, gin.H{"message": msg, "ride": rideView(r)})
}

func (h *PassengerHandler) Dashboard(c *gin.Context) {
	d, err := h.rides.PassengerDashboard(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, passengerDashboardView(d))
}

func (h *PassengerHandler) CurrentRide(c *gin.Context) {
	r, err := h.rides.Current(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	if r == nil {
		writeJSON(c, http.StatusOK, gin.H{"ride": nil})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride": rideView(r)})
}

func (h *PassengerHandler) History(c *gin.Context) {
	listHistory(c, h.rides, h.log, ride.ActorPassenger)
}

type cancelRideReq struct {
	Reason string `json:"reason"`
}

func (h *PassengerHandler) CancelRide(c *gin.Context) {
	id, ok := rideIDParam(c)
	if !ok {
		return
	}
	var req cancelRideReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.rides.Cancel(c.Request.Context(), ride.CancelCommand{
		RideID:      id,
		PassengerID: types.ID(middleware.CallerUID(c)),
		Reason:      req.Reason,
	})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"message": "Ride canceled successfully.", "ride": rideView(r)})
}

func (h *PassengerHandler) NearbyDrivers(c *gin.Context) {
	q, err := nearbyQuery(c)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	drivers, err := h.matching.AvailableDrivers(c.Request.Context(), q)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": nearbyViews(drivers), "count": len(drivers)})
}

type fareEstimateReq struct {
	PickupLat  *float64 `json:"pickup_lat"`
	PickupLng  *float64 `json:"pickup_lng"`
	DropoffLat *float64 `json:"dropoff_lat"`
	DropoffLng *float64 `json:"dropoff_lng"`
}

func (h *PassengerHandler) FareEstimate(c *gin.Context) {
	var req fareEstimateReq
	if !bindJSON(c, &req) {
		return
	}
	pickup, dropoff := pointFrom(req.PickupLat, req.PickupLng), pointFrom(req.DropoffLat, req.DropoffLng)
	if pickup == nil || dropoff == nil {
		writeAppError(c, h.log, apperr.Validation("pickup_lat, pickup_lng, dropoff_lat and dropoff_lng are required"))
		return
	}
	for _, p := range []*types.Point{pickup, dropoff} {
		if err := p.Validate(); err != nil {
			writeAppError(c, h.log, apperr.Validation(err.Error()))
			return
		}
	}
	q := h.pricing.Quote(*pickup, *dropoff)
	writeJSON(c, http.StatusOK, gin.H{
		"distance_km": geo.RoundKm(q.DistanceKm),
		"fare":        q.Fare.Float(),
		"currency":    q.Fare.Currency,
	})
}

func nearbyQuery(c *gin.Context) (matching.NearbyQuery, error) {
	var q matching.NearbyQuery
	lat, hasLat, err := queryFloat(c, "pickup_lat")
	if err != nil {
		return q, err
	}
	lng, hasLng, err := queryFloat(c, "pickup_lng")
	if err != nil {
		return q, err
	}
	radius, _, err := queryFloat(c, "radius")
	if err != nil {
		return q, err
	}
	if hasLat && hasLng {
		q.Pickup = &types.Point{Lat: lat, Lng: lng}
	}
	q.PlaceRef = c.Query("pickup_place_id")
	q.RadiusKm = radius
	return q, nil
}

// listHistory serves both history endpoints; role decides which rides are visible.
func listHistory(c *gin.Context, rides *ride.Service, log logrus.FieldLogger, role string) {
	page, err := queryInt(c, "page")
	if err != nil {
		writeAppError(c, log, err)
		return
	}
	perPage, err := queryInt(c, "per_page")
	if err != nil {
		writeAppError(c, log, err)
		return
	}
	list, err := rides.History(c.Request.Context(), ride.HistoryQuery{
		UserID:  types.ID(middleware.CallerUID(c)),
		Role:    role,
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		writeAppError(c, log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": rideViews(list), "page": max(page, 1)})
}
