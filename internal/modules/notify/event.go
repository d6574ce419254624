// README: Ride event catalogue. Every passenger-visible transition produces one Event.
package notify

import (
	"context"
	"time"

	"trigo/internal/types"
)

type Type string

const (
	TypeRideAccepted    Type = "ride_accepted"
	TypeDriverOnWay     Type = "driver_on_way"
	TypeTripCompleted   Type = "trip_completed"
	TypeDriverCancelled Type = "driver_cancelled"
	TypeRideCancelled   Type = "ride_cancelled"
)

type Event struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	RecipientID types.ID       `json:"recipient_id"`
	RideID      types.ID       `json:"ride_id"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Emitter delivers events. Callers treat failures as non-fatal.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

func newEvent(t Type, passengerID, rideID types.ID, title, message string, data map[string]any, at time.Time) Event {
	return Event{
		ID:          types.NewID().String(),
		Type:        t,
		RecipientID: passengerID,
		RideID:      rideID,
		Title:       title,
		Message:     message,
		Data:        data,
		CreatedAt:   at,
	}
}

func DriverAccepted(rideID, passengerID, driverID types.ID, at time.Time) Event {
	return newEvent(TypeRideAccepted, passengerID, rideID,
		"Driver Accepted Your Ride",
		"Your driver has accepted your ride!",
		map[string]any{"driver_id": driverID}, at)
}

func DriverOnWay(rideID, passengerID, driverID types.ID, at time.Time) Event {
	return newEvent(TypeDriverOnWay, passengerID, rideID,
		"Driver is on the Way",
		"Your driver is on the way to pick you up.",
		map[string]any{"driver_id": driverID}, at)
}

func TripCompleted(rideID, passengerID types.ID, fare types.Money, at time.Time) Event {
	return newEvent(TypeTripCompleted, passengerID, rideID,
		"Trip Completed",
		"Trip completed, thank you for riding with TriGo!",
		map[string]any{"fare": fare.Float(), "currency": fare.Currency}, at)
}

// DriverCancelled is sent when a driver declines. An empty reason uses the default text.
func DriverCancelled(rideID, passengerID, driverID types.ID, reason string, at time.Time) Event {
	if reason == "" {
		reason = "Driver declined the ride"
	}
	return newEvent(TypeDriverCancelled, passengerID, rideID,
		"Driver Cancelled Trip",
		"Your driver cancelled the trip. Search for a new one. Reason: "+reason,
		map[string]any{"driver_id": driverID, "reason": reason}, at)
}

func RideCancelled(rideID, passengerID types.ID, at time.Time) Event {
	return newEvent(TypeRideCancelled, passengerID, rideID,
		"Ride Cancelled",
		"You have successfully cancelled your ride.",
		nil, at)
}
