// README: In-memory ride store with the same compare-and-swap contract as Store.
package ride

import (
	"context"
	"sort"
	"sync"

	"trigo/internal/geo"
	"trigo/internal/types"
)

type MemStore struct {
	mu     sync.RWMutex
	rides  map[types.ID]*Ride
	events []Event
}

func NewMemStore() *MemStore {
	return &MemStore{rides: make(map[types.ID]*Ride)}
}

func (m *MemStore) Create(_ context.Context, r *Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Status.In(ActiveStatuses) {
		for _, existing := range m.rides {
			if existing.PassengerID == r.PassengerID && existing.Status.In(ActiveStatuses) {
				return ErrActiveRide
			}
		}
	}
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemStore) Get(_ context.Context, id types.ID) (*Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRide(r), nil
}

func (m *MemStore) Transition(_ context.Context, c Change) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[c.RideID]
	if !ok || !c.Matches(r) {
		return false, nil
	}
	if c.DriverID != nil && c.To.In(EngagedStatuses) {
		for _, other := range m.rides {
			if other.ID != r.ID && other.HasDriver(*c.DriverID) && other.Status.In(EngagedStatuses) {
				return false, ErrDriverEngaged
			}
		}
	}
	c.Apply(r)
	return true, nil
}

func (m *MemStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = int64(len(m.events) + 1)
	m.events = append(m.events, cp)
	return nil
}

func (m *MemStore) ListEvents(_ context.Context, rideID types.ID) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.RideID == rideID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemStore) FindActiveByPassenger(_ context.Context, passengerID types.ID) (*Ride, error) {
	return m.newest(func(r *Ride) bool {
		return r.PassengerID == passengerID && r.Status.In(ActiveStatuses)
	})
}

func (m *MemStore) FindByDriver(_ context.Context, driverID types.ID, statuses []Status) (*Ride, error) {
	return m.newest(func(r *Ride) bool {
		return r.HasDriver(driverID) && r.Status.In(statuses)
	})
}

func (m *MemStore) ListQueueCandidates(_ context.Context, driverID types.ID, cells []string) ([]Ride, error) {
	out := m.filter(func(r *Ride) bool {
		if r.Status == StatusRequested && r.DriverID == nil {
			return len(cells) == 0 || geo.InCells(r.PickupHash, cells)
		}
		return r.HasDriver(driverID) && r.Status.In(BusyStatuses)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (m *MemStore) ListByPassenger(_ context.Context, passengerID types.ID, statuses []Status, limit, offset int) ([]Ride, error) {
	out := m.filter(func(r *Ride) bool {
		return r.PassengerID == passengerID && r.Status.In(statuses)
	})
	return page(newestFirst(out), limit, offset), nil
}

func (m *MemStore) ListByDriver(_ context.Context, driverID types.ID, limit, offset int) ([]Ride, error) {
	out := m.filter(func(r *Ride) bool { return r.HasDriver(driverID) })
	return page(newestFirst(out), limit, offset), nil
}

func (m *MemStore) BusyDrivers(_ context.Context, driverIDs []types.ID, statuses []Status) (map[types.ID]bool, error) {
	want := make(map[types.ID]bool, len(driverIDs))
	for _, id := range driverIDs {
		want[id] = true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	busy := make(map[types.ID]bool)
	for _, r := range m.rides {
		if r.DriverID != nil && want[*r.DriverID] && r.Status.In(statuses) {
			busy[*r.DriverID] = true
		}
	}
	return busy, nil
}

func (m *MemStore) Stats(_ context.Context, q StatsQuery) (Stats, error) {
	var st Stats
	rides := m.filter(func(r *Ride) bool {
		if q.AsDriver {
			return r.HasDriver(q.UserID)
		}
		return r.PassengerID == q.UserID
	})
	for _, r := range rides {
		st.Total++
		if !r.RequestedAt.Before(q.DayStart) {
			st.Today++
		}
		switch r.Status {
		case StatusCanceled:
			st.Canceled++
		case StatusCompleted:
			st.Completed++
			addFare(&st.FareTotal, r.Fare)
			if r.CompletedAt == nil {
				continue
			}
			if !r.CompletedAt.Before(q.MonthStart) {
				addFare(&st.FareMonth, r.Fare)
			}
			if !r.CompletedAt.Before(q.DayStart) {
				addFare(&st.FareToday, r.Fare)
			}
		}
	}
	st.FareMonth.Currency = st.FareTotal.Currency
	st.FareToday.Currency = st.FareTotal.Currency
	return st, nil
}

func addFare(sum *types.Money, fare types.Money) {
	sum.Amount += fare.Amount
	if sum.Currency == "" {
		sum.Currency = fare.Currency
	}
}

func (m *MemStore) filter(keep func(*Ride) bool) []Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Ride
	for _, r := range m.rides {
		if keep(r) {
			out = append(out, *cloneRide(r))
		}
	}
	return out
}

func (m *MemStore) newest(keep func(*Ride) bool) (*Ride, error) {
	out := newestFirst(m.filter(keep))
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

func newestFirst(rides []Ride) []Ride {
	sort.SliceStable(rides, func(i, j int) bool {
		if rides[i].RequestedAt.Equal(rides[j].RequestedAt) {
			return rides[i].ID > rides[j].ID
		}
		return rides[i].RequestedAt.After(rides[j].RequestedAt)
	})
	return rides
}

func page(rides []Ride, limit, offset int) []Ride {
	if offset >= len(rides) {
		return nil
	}
	rides = rides[offset:]
	if limit > 0 && limit < len(rides) {
		rides = rides[:limit]
	}
	return rides
}

func cloneRide(r *Ride) *Ride {
	cp := *r
	cp.DriverID = cloneID(r.DriverID)
	cp.Pickup.PlaceRef = cloneString(r.Pickup.PlaceRef)
	cp.Dropoff.PlaceRef = cloneString(r.Dropoff.PlaceRef)
	cp.AcceptedAt = cloneTime(r.AcceptedAt)
	cp.PickedUpAt = cloneTime(r.PickedUpAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	cp.CanceledAt = cloneTime(r.CanceledAt)
	cp.DriverDeclinedAt = cloneTime(r.DriverDeclinedAt)
	cp.DeclinedByDriverID = cloneID(r.DeclinedByDriverID)
	cp.DeclineReason = cloneString(r.DeclineReason)
	cp.CancellationReason = cloneString(r.CancellationReason)
	return &cp
}
