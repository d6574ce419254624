// README: Pricing service computes the fare fixed at ride creation.
package pricing

import (
	"trigo/internal/geo"
	"trigo/internal/types"
)

type Service struct {
	rate Rate
}

func NewService(rate Rate) *Service {
	return &Service{rate: rate}
}

func (s *Service) Rate() Rate {
	return s.rate
}

// Quote returns the great-circle distance and the fare rounded to 2 decimals.
func (s *Service) Quote(pickup, dropoff types.Point) Quote {
	d := geo.DistanceKm(pickup, dropoff)
	return Quote{
		DistanceKm: d,
		Fare:       types.MoneyFromFloat(s.rate.BaseFare+s.rate.PerKm*d, s.rate.Currency),
	}
}

func (s *Service) Estimate(pickup, dropoff types.Point) types.Money {
	return s.Quote(pickup, dropoff).Fare
}
