// README: Driver queue entries and nearby-driver results.
package matching

import (
	"trigo/internal/modules/driver"
	"trigo/internal/modules/ride"
)

// QueueEntry is one ride in a driver's queue. Own marks rides already assigned to
// or held by the driver.
type QueueEntry struct {
	Ride       ride.Ride
	DistanceKm float64
	Own        bool

	rawKm float64
}

type NearbyDriver struct {
	Profile    driver.Profile
	DistanceKm float64

	rawKm float64
}

// nearbyLimit caps the available-driver list shown to passengers.
const nearbyLimit = 20
