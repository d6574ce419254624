// README: Matching service tests for driver queues and nearby driver search.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"trigo/internal/apperr"
	"trigo/internal/config"
	"trigo/internal/geo"
	"trigo/internal/logging"
	"trigo/internal/modules/driver"
	"trigo/internal/modules/place"
	"trigo/internal/modules/ride"
	"trigo/internal/types"
)

// origin is the test driver's position; kmNorth offsets are close enough to
// haversine at these distances for ordering assertions.
var origin = types.Point{Lat: 12.67, Lng: 123.87}

func kmNorth(km float64) types.Point {
	return types.Point{Lat: origin.Lat + km/111.195, Lng: origin.Lng}
}

type harness struct {
	svc     *Service
	rides   *ride.MemStore
	drivers *driver.MemStore
	base    time.Time
	seq     int
}

func newHarness(t *testing.T, cfg config.MatchingConfig) *harness {
	t.Helper()
	h := &harness{
		rides:   ride.NewMemStore(),
		drivers: driver.NewMemStore(),
		base:    time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	places := place.NewService(place.NewMemStore(), nil, nil, logging.Discard())
	h.svc = NewService(h.rides, h.drivers, places, cfg, logging.Discard())
	return h
}

func defaultCfg() config.MatchingConfig {
	return config.MatchingConfig{RadiusKm: 5, MaxRadiusKm: 50, QueueLimit: 20}
}

func (h *harness) driver(t *testing.T, id types.ID, approval driver.ApprovalStatus, online bool, loc *types.Point) {
	t.Helper()
	if err := h.drivers.Upsert(context.Background(), driver.Profile{UserID: id, Approval: approval, Online: online, Location: loc}); err != nil {
		t.Fatalf("upsert driver: %v", err)
	}
}

// ride seeds a ride whose requested_at increases with each call.
func (h *harness) ride(t *testing.T, status ride.Status, driverID types.ID, pickup types.Point) *ride.Ride {
	t.Helper()
	h.seq++
	r := &ride.Ride{
		ID:          types.NewID(),
		PassengerID: types.ID("p" + string(rune('a'+h.seq))),
		Status:      status,
		Pickup:      ride.Endpoint{Point: pickup},
		Dropoff:     ride.Endpoint{Point: kmNorth(20)},
		PickupHash:  geo.Encode(pickup),
		Fare:        types.Money{Amount: 2000, Currency: "PHP"},
		RequestedAt: h.base.Add(time.Duration(h.seq) * time.Minute),
	}
	if driverID != "" {
		r.DriverID = &driverID
	}
	if err := h.rides.Create(context.Background(), r); err != nil {
		t.Fatalf("seed ride: %v", err)
	}
	return r
}

func queueIDs(entries []QueueEntry) []types.ID {
	out := make([]types.ID, len(entries))
	for i, e := range entries {
		out[i] = e.Ride.ID
	}
	return out
}

func TestQueueOrdersOwnRidesFirstThenDistance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultCfg())
	h.driver(t, "d1", driver.ApprovalApproved, true, &origin)

	oneKm := h.ride(t, ride.StatusRequested, "", kmNorth(1))
	halfKm := h.ride(t, ride.StatusRequested, "", kmNorth(0.5))
	h.ride(t, ride.StatusRequested, "", kmNorth(10))
	mineFar := h.ride(t, ride.StatusAssigned, "d1", kmNorth(30))
	h.ride(t, ride.StatusAssigned, "d2", kmNorth(0.2))
	h.ride(t, ride.StatusCompleted, "", kmNorth(0.1))

	entries, err := h.svc.Queue(ctx, "d1", 0)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	want := []types.ID{mineFar.ID, halfKm.ID, oneKm.ID}
	got := queueIDs(entries)
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if !entries[0].Own || entries[1].Own {
		t.Fatal("own flag mismatch")
	}
	if math.Abs(entries[1].DistanceKm-0.5) > 0.01 || entries[0].DistanceKm < 29 {
		t.Fatalf("unexpected distances %.2f, %.2f", entries[0].DistanceKm, entries[1].DistanceKm)
	}
}

func TestQueueTiesKeepRequestOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultCfg())
	h.driver(t, "d1", driver.ApprovalApproved, true, &origin)

	first := h.ride(t, ride.StatusRequested, "", kmNorth(2))
	second := h.ride(t, ride.StatusRequested, "", kmNorth(2))

	entries, err := h.svc.Queue(ctx, "d1", 5)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(entries) != 2 || entries[0].Ride.ID != first.ID || entries[1].Ride.ID != second.ID {
		t.Fatalf("expected request order on equal distance, got %v", queueIDs(entries))
	}
}

func TestQueueHonorsRadiusAndLimit(t *testing.T) {
	ctx := context.Background()
	cfg := defaultCfg()
	cfg.QueueLimit = 3
	h := newHarness(t, cfg)
	h.driver(t, "d1", driver.ApprovalApproved, true, &origin)

	for _, km := range []float64{0.3, 0.6, 0.9, 1.2, 1.5, 7} {
		h.ride(t, ride.StatusRequested, "", kmNorth(km))
	}

	entries, err := h.svc.Queue(ctx, "d1", 10)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(entries))
	}
	if entries[2].DistanceKm > 1 {
		t.Fatalf("expected nearest three, last at %.2f km", entries[2].DistanceKm)
	}

	entries, err = h.svc.Queue(ctx, "d1", 1)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected three rides within 1 km, got %d", len(entries))
	}
}

func TestQueueFallsBackToStoredPickup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultCfg())
	h.driver(t, "d1", driver.ApprovalApproved, true, &origin)

	r := h.ride(t, ride.StatusRequested, "", kmNorth(1.5))
	ref := "404"
	stored, _ := h.rides.Get(ctx, r.ID)
	stored.Pickup.PlaceRef = &ref
	// Re-seed with a dangling place reference.
	h.rides = ride.NewMemStore()
	h.svc.rides = h.rides
	if err := h.rides.Create(ctx, stored); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	entries, err := h.svc.Queue(ctx, "d1", 5)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(entries) != 1 || math.Abs(entries[0].DistanceKm-1.5) > 0.01 {
		t.Fatalf("expected stored pickup distance, got %+v", entries)
	}
}

func TestQueuePreconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultCfg())
	h.driver(t, "pending", driver.ApprovalPending, true, &origin)
	h.driver(t, "offline", driver.ApprovalApproved, false, &origin)
	h.driver(t, "nowhere", driver.ApprovalApproved, true, nil)
	h.driver(t, "d1", driver.ApprovalApproved, true, &origin)

	cases := []struct {
		name   string
		driver types.ID
		radius float64
		kind   error
	}{
		{"pending approval", "pending", 0, apperr.ErrForbidden},
		{"no profile", "ghost", 0, apperr.ErrForbidden},
		{"offline", "offline", 0, apperr.ErrConflict},
		{"no location", "nowhere", 0, apperr.ErrValidation},
		{"negative radius", "d1", -1, apperr.ErrValidation},
		{"radius above max", "d1", 51, apperr.ErrValidation},
		{"nan radius", "d1", math.NaN(), apperr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Queue(ctx, tc.driver, tc.radius)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestAvailableDrivers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultCfg())

	near, nearer, far := kmNorth(2), kmNorth(1), kmNorth(8)
	h.driver(t, "near", driver.ApprovalApproved, true, &near)
	h.driver(t, "nearer", driver.ApprovalApproved, true, &nearer)
	h.driver(t, "far", driver.ApprovalApproved, true, &far)
	h.driver(t, "offline", driver.ApprovalApproved, false, &nearer)
	h.driver(t, "pending", driver.ApprovalPending, true, &nearer)
	h.driver(t, "busy", driver.ApprovalApproved, true, &nearer)
	h.ride(t, ride.StatusAccepted, "busy", kmNorth(3))

	got, err := h.svc.AvailableDrivers(ctx, NearbyQuery{Pickup: &origin})
	if err != nil {
		t.Fatalf("available drivers: %v", err)
	}
	if len(got) != 2 || got[0].Profile.UserID != "nearer" || got[1].Profile.UserID != "near" {
		t.Fatalf("unexpected drivers %+v", got)
	}
	if math.Abs(got[0].DistanceKm-1) > 0.01 {
		t.Fatalf("expected ~1 km, got %.2f", got[0].DistanceKm)
	}

	_, err = h.svc.AvailableDrivers(ctx, NearbyQuery{})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error without pickup, got %v", err)
	}
}

type brokenIndex struct{}

func (brokenIndex) Nearby(context.Context, types.Point, float64) ([]types.ID, error) {
	return nil, errors.New("connection refused")
}

func (brokenIndex) Versions(context.Context, []types.ID) (map[types.ID]int64, error) {
	return nil, errors.New("connection refused")
}

func profileAt(id types.ID, loc types.Point, at time.Time) driver.Profile {
	return driver.Profile{UserID: id, Approval: driver.ApprovalApproved, Online: true, Location: &loc, LocationUpdatedAt: &at}
}

func driverIDs(got []NearbyDriver) []types.ID {
	ids := make([]types.ID, len(got))
	for i, d := range got {
		ids[i] = d.Profile.UserID
	}
	return ids
}

func TestAvailableDriversUsesGeoIndex(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness(t, defaultCfg())
	t0 := h.base
	t1 := h.base.Add(time.Minute)

	boundary := profileAt("boundary", kmNorth(4.999), t0)
	unindexed := profileAt("unindexed", kmNorth(2), t0)
	movedOld := profileAt("moved", kmNorth(20), t0)
	moved := profileAt("moved", kmNorth(1), t1)
	far := profileAt("far", kmNorth(8), t0)
	for _, p := range []driver.Profile{boundary, unindexed, moved, far} {
		if err := h.drivers.Upsert(ctx, p); err != nil {
			t.Fatalf("upsert driver: %v", err)
		}
	}

	idx := NewGeoIndex(client)
	// "moved" is indexed from its previous position, "unindexed" not at all.
	if err := idx.Rebuild(ctx, []driver.Profile{boundary, movedOld, far}); err != nil {
		t.Fatalf("rebuild index: %v", err)
	}
	ids, err := idx.Nearby(ctx, origin, indexRadius(5))
	if err != nil || len(ids) != 1 || ids[0] != "boundary" {
		t.Fatalf("unexpected nearby ids %v, %v", ids, err)
	}
	versions, err := idx.Versions(ctx, []types.ID{"moved", "unindexed"})
	if err != nil || versions["moved"] != t0.UnixNano() {
		t.Fatalf("unexpected versions %v, %v", versions, err)
	}
	if _, ok := versions["unindexed"]; ok {
		t.Fatal("unindexed driver must have no version")
	}

	want := []types.ID{"moved", "unindexed", "boundary"}
	h.svc.WithIndex(idx)
	got, err := h.svc.AvailableDrivers(ctx, NearbyQuery{Pickup: &origin})
	if err != nil {
		t.Fatalf("available drivers: %v", err)
	}
	if gotIDs := driverIDs(got); fmt.Sprint(gotIDs) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, gotIDs)
	}

	// Once the index catches up the result is unchanged.
	if err := idx.Upsert(ctx, moved); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Upsert(ctx, unindexed); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = h.svc.AvailableDrivers(ctx, NearbyQuery{Pickup: &origin})
	if gotIDs := driverIDs(got); fmt.Sprint(gotIDs) != fmt.Sprint(want) {
		t.Fatalf("expected %v after index sync, got %v", want, gotIDs)
	}

	if err := idx.Remove(ctx, "boundary"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	versions, _ = idx.Versions(ctx, []types.ID{"boundary"})
	if len(versions) != 0 {
		t.Fatalf("removed driver still has a version: %v", versions)
	}

	h.svc.WithIndex(brokenIndex{})
	got, err = h.svc.AvailableDrivers(ctx, NearbyQuery{Pickup: &origin})
	if err != nil {
		t.Fatalf("available drivers: %v", err)
	}
	if gotIDs := driverIDs(got); fmt.Sprint(gotIDs) != fmt.Sprint(want) {
		t.Fatalf("expected full scan when the index is down, got %v", gotIDs)
	}
}

func TestAvailableDriversBoundaryMatchesFullScan(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness(t, defaultCfg())
	edge := profileAt("edge", kmNorth(4.9985), h.base)
	if err := h.drivers.Upsert(ctx, edge); err != nil {
		t.Fatalf("upsert driver: %v", err)
	}

	plain, err := h.svc.AvailableDrivers(ctx, NearbyQuery{Pickup: &origin})
	if err != nil || len(plain) != 1 {
		t.Fatalf("full scan: expected 1 driver, got %v, %v", plain, err)
	}

	idx := NewGeoIndex(client)
	if err := idx.Rebuild(ctx, []driver.Profile{edge}); err != nil {
		t.Fatalf("rebuild index: %v", err)
	}
	h.svc.WithIndex(idx)
	indexed, err := h.svc.AvailableDrivers(ctx, NearbyQuery{Pickup: &origin})
	if err != nil || len(indexed) != 1 || indexed[0].Profile.UserID != "edge" {
		t.Fatalf("indexed: expected the edge driver, got %v, %v", indexed, err)
	}
}
