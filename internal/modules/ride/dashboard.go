// README: Driver and passenger dashboards: ride counts, fare totals, active ride, recent rides.
package ride

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trigo/internal/apperr"
	"trigo/internal/modules/driver"
	"trigo/internal/types"
)

const (
	driverRecentRides    = 10
	passengerRecentRides = 5
)

// StatsQuery selects one party's rides. Fare sums cover completed rides only.
type StatsQuery struct {
	UserID     types.ID
	AsDriver   bool
	DayStart   time.Time
	MonthStart time.Time
}

// Stats holds ride counts and completed fares. For drivers the fares are
// earnings, for passengers they are spend.
type Stats struct {
	Total     int
	Completed int
	Canceled  int
	Today     int
	FareToday types.Money
	FareMonth types.Money
	FareTotal types.Money
}

type DriverDashboard struct {
	Profile *driver.Profile
	Stats   Stats
	Active  *Ride
	Recent  []Ride
}

type PassengerDashboard struct {
	Stats     Stats
	Active    *Ride
	CanCancel bool
	Recent    []Ride
}

// statsWindow returns the start of the current day and month in now's location.
func statsWindow(now time.Time) (day, month time.Time) {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}

func (s *Service) stats(ctx context.Context, userID types.ID, asDriver bool) (Stats, error) {
	day, month := statsWindow(s.now())
	st, err := s.store.Stats(ctx, StatsQuery{UserID: userID, AsDriver: asDriver, DayStart: day, MonthStart: month})
	if err != nil {
		return Stats{}, fmt.Errorf("ride stats: %w", err)
	}
	return st, nil
}

// DriverDashboard is available to drivers awaiting approval too; only a missing profile fails.
func (s *Service) DriverDashboard(ctx context.Context, driverID types.ID) (*DriverDashboard, error) {
	profile, err := s.driverProfile(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperr.NotFound("Driver profile not found")
	}
	st, err := s.stats(ctx, driverID, true)
	if err != nil {
		return nil, err
	}
	active, err := s.store.FindByDriver(ctx, driverID, BusyStatuses)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find active ride: %w", err)
	}
	recent, err := s.store.ListByDriver(ctx, driverID, driverRecentRides, 0)
	if err != nil {
		return nil, fmt.Errorf("list recent rides: %w", err)
	}
	return &DriverDashboard{Profile: profile, Stats: st, Active: active, Recent: recent}, nil
}

func (s *Service) PassengerDashboard(ctx context.Context, passengerID types.ID) (*PassengerDashboard, error) {
	st, err := s.stats(ctx, passengerID, false)
	if err != nil {
		return nil, err
	}
	active, err := s.Current(ctx, passengerID)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.ListByPassenger(ctx, passengerID, AllStatuses, passengerRecentRides, 0)
	if err != nil {
		return nil, fmt.Errorf("list recent rides: %w", err)
	}
	return &PassengerDashboard{
		Stats:     st,
		Active:    active,
		CanCancel: active != nil && active.CanCancel(),
		Recent:    recent,
	}, nil
}
