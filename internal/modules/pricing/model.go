// README: Fare rate and quote definitions.
package pricing

import "trigo/internal/types"

// Rate is the flat fare schedule: BaseFare + PerKm × distance, in major units.
type Rate struct {
	BaseFare float64
	PerKm    float64
	Currency string
}

// Quote is a fare computed for a pickup/dropoff pair.
type Quote struct {
	DistanceKm float64
	Fare       types.Money
}
