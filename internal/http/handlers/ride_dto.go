// README: JSON views of rides, queue entries and drivers.
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"trigo/internal/modules/driver"
	"trigo/internal/modules/matching"
	"trigo/internal/modules/ride"
	"trigo/internal/types"
)

type endpointResponse struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	PlaceRef *string `json:"place_id,omitempty"`
	Address  string  `json:"address,omitempty"`
}

type rideResponse struct {
	ID                 types.ID         `json:"id"`
	PassengerID        types.ID         `json:"passenger_id"`
	DriverID           *types.ID        `json:"driver_id"`
	Status             ride.Status      `json:"status"`
	StatusLabel        string           `json:"status_label"`
	CanCancel          bool             `json:"can_cancel"`
	Pickup             endpointResponse `json:"pickup"`
	Dropoff            endpointResponse `json:"dropoff"`
	Notes              string           `json:"notes,omitempty"`
	Fare               float64          `json:"fare"`
	Currency           string           `json:"currency"`
	RequestedAt        time.Time        `json:"requested_at"`
	AcceptedAt         *time.Time       `json:"accepted_at,omitempty"`
	PickedUpAt         *time.Time       `json:"picked_up_at,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	CanceledAt         *time.Time       `json:"canceled_at,omitempty"`
	DriverDeclinedAt   *time.Time       `json:"driver_declined_at,omitempty"`
	DeclinedByDriverID *types.ID        `json:"declined_by_driver_id,omitempty"`
	DeclineReason      *string          `json:"decline_reason,omitempty"`
	CancellationReason *string          `json:"cancellation_reason,omitempty"`
}

func endpointView(e ride.Endpoint) endpointResponse {
	return endpointResponse{Lat: e.Point.Lat, Lng: e.Point.Lng, PlaceRef: e.PlaceRef, Address: e.Address}
}

func rideView(r *ride.Ride) rideResponse {
	return rideResponse{
		ID:                 r.ID,
		PassengerID:        r.PassengerID,
		DriverID:           r.DriverID,
		Status:             r.Status,
		StatusLabel:        r.Status.Label(),
		CanCancel:          r.CanCancel(),
		Pickup:             endpointView(r.Pickup),
		Dropoff:            endpointView(r.Dropoff),
		Notes:              r.Notes,
		Fare:               r.Fare.Float(),
		Currency:           r.Fare.Currency,
		RequestedAt:        r.RequestedAt,
		AcceptedAt:         r.AcceptedAt,
		PickedUpAt:         r.PickedUpAt,
		CompletedAt:        r.CompletedAt,
		CanceledAt:         r.CanceledAt,
		DriverDeclinedAt:   r.DriverDeclinedAt,
		DeclinedByDriverID: r.DeclinedByDriverID,
		DeclineReason:      r.DeclineReason,
		CancellationReason: r.CancellationReason,
	}
}

func rideViews(rides []ride.Ride) []rideResponse {
	out := make([]rideResponse, len(rides))
	for i := range rides {
		out[i] = rideView(&rides[i])
	}
	return out
}

type queueEntryResponse struct {
	rideResponse
	DistanceKm float64 `json:"distance_km"`
	Own        bool    `json:"is_own"`
}

func queueViews(entries []matching.QueueEntry) []queueEntryResponse {
	out := make([]queueEntryResponse, len(entries))
	for i := range entries {
		out[i] = queueEntryResponse{
			rideResponse: rideView(&entries[i].Ride),
			DistanceKm:   entries[i].DistanceKm,
			Own:          entries[i].Own,
		}
	}
	return out
}

type nearbyDriverResponse struct {
	DriverID   types.ID    `json:"driver_id"`
	Location   types.Point `json:"location"`
	DistanceKm float64     `json:"distance_km"`
}

func nearbyViews(drivers []matching.NearbyDriver) []nearbyDriverResponse {
	out := make([]nearbyDriverResponse, len(drivers))
	for i, d := range drivers {
		out[i] = nearbyDriverResponse{DriverID: d.Profile.UserID, Location: *d.Profile.Location, DistanceKm: d.DistanceKm}
	}
	return out
}

type profileResponse struct {
	*driver.Profile
	CanReceiveRequests bool `json:"can_receive_requests"`
}

func profileView(p *driver.Profile) profileResponse {
	return profileResponse{Profile: p, CanReceiveRequests: p.Matchable()}
}

type driverStatsResponse struct {
	TotalRides        int     `json:"total_rides"`
	CompletedRides    int     `json:"completed_rides"`
	CanceledRides     int     `json:"canceled_rides"`
	TodayRides        int     `json:"today_rides"`
	TodayEarnings     float64 `json:"today_earnings"`
	ThisMonthEarnings float64 `json:"this_month_earnings"`
	TotalEarnings     float64 `json:"total_earnings"`
	Currency          string  `json:"currency"`
}

type passengerStatsResponse struct {
	TotalRides     int     `json:"total_rides"`
	CompletedRides int     `json:"completed_rides"`
	CanceledRides  int     `json:"canceled_rides"`
	TodayRides     int     `json:"today_rides"`
	TotalSpent     float64 `json:"total_spent"`
	ThisMonthSpent float64 `json:"this_month_spent"`
	Currency       string  `json:"currency"`
}

func optionalRideView(r *ride.Ride) *rideResponse {
	if r == nil {
		return nil
	}
	v := rideView(r)
	return &v
}

func driverDashboardView(d *ride.DriverDashboard) gin.H {
	st := d.Stats
	return gin.H{
		"profile": profileView(d.Profile),
		"stats": driverStatsResponse{
			TotalRides:        st.Total,
			CompletedRides:    st.Completed,
			CanceledRides:     st.Canceled,
			TodayRides:        st.Today,
			TodayEarnings:     st.FareToday.Float(),
			ThisMonthEarnings: st.FareMonth.Float(),
			TotalEarnings:     st.FareTotal.Float(),
			Currency:          st.FareTotal.Currency,
		},
		"active_ride":  optionalRideView(d.Active),
		"recent_rides": rideViews(d.Recent),
	}
}

func passengerDashboardView(d *ride.PassengerDashboard) gin.H {
	st := d.Stats
	body := gin.H{
		"stats": passengerStatsResponse{
			TotalRides:     st.Total,
			CompletedRides: st.Completed,
			CanceledRides:  st.Canceled,
			TodayRides:     st.Today,
			TotalSpent:     st.FareTotal.Float(),
			ThisMonthSpent: st.FareMonth.Float(),
			Currency:       st.FareTotal.Currency,
		},
		"active_ride":              optionalRideView(d.Active),
		"can_cancel":               d.CanCancel,
		"active_ride_status":       nil,
		"active_ride_status_label": nil,
		"recent_rides":             rideViews(d.Recent),
	}
	if d.Active != nil {
		body["active_ride_status"] = d.Active.Status
		body["active_ride_status_label"] = d.Active.Status.Label()
	}
	return body
}

// presentDetail renders structured error details, e.g. the ride blocking an action.
func presentDetail(d any) any {
	switch v := d.(type) {
	case *ride.Ride:
		return gin.H{"ride": rideView(v)}
	case ride.Status:
		return gin.H{"current_status": v, "status_label": v.Label()}
	default:
		return v
	}
}
