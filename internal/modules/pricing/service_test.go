package pricing

import (
	"math"
	"testing"

	"trigo/internal/geo"
	"trigo/internal/types"
)

func TestService_Estimate(t *testing.T) {
	svc := NewService(Rate{BaseFare: 20, PerKm: 5, Currency: "PHP"})

	tests := []struct {
		name     string
		pickup   types.Point
		dropoff  types.Point
		wantFare int64
	}{
		{
			name:     "same point charges base fare only",
			pickup:   types.Point{Lat: 12.6714, Lng: 123.8750},
			dropoff:  types.Point{Lat: 12.6714, Lng: 123.8750},
			wantFare: 2000,
		},
		{
			// distance ≈ 1.4462 km
			name:     "short town ride",
			pickup:   types.Point{Lat: 12.6714, Lng: 123.8750},
			dropoff:  types.Point{Lat: 12.6800, Lng: 123.8850},
			wantFare: 2723,
		},
		{
			// one degree of latitude ≈ 111.19 km
			name:     "one degree north",
			pickup:   types.Point{Lat: 0, Lng: 0},
			dropoff:  types.Point{Lat: 1, Lng: 0},
			wantFare: 57597,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.Estimate(tt.pickup, tt.dropoff)
			if got.Amount != tt.wantFare {
				t.Fatalf("fare = %d, want %d", got.Amount, tt.wantFare)
			}
			if got.Currency != "PHP" {
				t.Fatalf("currency = %q", got.Currency)
			}
		})
	}
}

func TestQuoteMatchesFormula(t *testing.T) {
	svc := NewService(Rate{BaseFare: 20, PerKm: 5, Currency: "PHP"})
	pickup := types.Point{Lat: 12.6714, Lng: 123.8750}
	dropoff := types.Point{Lat: 12.6800, Lng: 123.8850}

	q := svc.Quote(pickup, dropoff)
	want := math.Round((20+5*geo.DistanceKm(pickup, dropoff))*100) / 100
	if q.Fare.Float() != want {
		t.Fatalf("fare = %.2f, want %.2f", q.Fare.Float(), want)
	}
	if q.DistanceKm != geo.DistanceKm(dropoff, pickup) {
		t.Fatalf("distance should be symmetric")
	}
}
