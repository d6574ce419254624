// README: Concurrency tests for ride transitions against Postgres (run with -race).
package ride

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"trigo/internal/apperr"
	"trigo/internal/infra"
	"trigo/internal/logging"
	"trigo/internal/modules/driver"
	"trigo/internal/modules/pricing"
	"trigo/internal/types"
)

func TestPGConcurrentAcceptSameRide(t *testing.T) {
	ctx := context.Background()
	svc, drivers := setupPGService(t)

	r, err := svc.Create(ctx, CreateCommand{
		PassengerID: "p_multi_accept",
		Pickup:      EndpointInput{Point: &bulanPickup},
		Dropoff:     EndpointInput{Point: &bulanDropoff},
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}

	const attempts = 8
	for i := 0; i < attempts; i++ {
		seedDriver(t, drivers, types.ID(fmt.Sprintf("d%d", i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(did types.ID) {
			defer wg.Done()
			_, err := svc.Accept(ctx, AcceptCommand{RideID: r.ID, DriverID: did})
			errs <- err
		}(types.ID(fmt.Sprintf("d%d", i)))
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}

	got, err := svc.Get(ctx, "p_multi_accept", r.ID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	if got.Status != StatusAccepted || got.DriverID == nil || got.StatusVersion != 1 {
		t.Fatalf("unexpected final ride %+v", got)
	}
}

func TestPGConcurrentAcceptVsCancel(t *testing.T) {
	ctx := context.Background()
	svc, drivers := setupPGService(t)
	seedDriver(t, drivers, "d1")

	r, err := svc.Create(ctx, CreateCommand{
		PassengerID: "p_accept_cancel",
		Pickup:      EndpointInput{Point: &bulanPickup},
		Dropoff:     EndpointInput{Point: &bulanDropoff},
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.Accept(ctx, AcceptCommand{RideID: r.ID, DriverID: "d1"})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := svc.Cancel(ctx, CancelCommand{RideID: r.ID, PassengerID: "p_accept_cancel", Reason: "changed plans"})
		errs <- err
	}()
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := svc.Get(ctx, "p_accept_cancel", r.ID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	switch success {
	case 2:
		if got.Status != StatusCanceled {
			t.Fatalf("expected canceled after accept and cancel, got %s", got.Status)
		}
	case 1:
		if got.Status != StatusAccepted && got.Status != StatusCanceled {
			t.Fatalf("unexpected final status %s", got.Status)
		}
	default:
		t.Fatalf("expected 1 or 2 successes, got %d", success)
	}
	if got.CompletedAt != nil {
		t.Fatal("completed_at must not be set")
	}
}

func TestPGOneActiveRidePerPassenger(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupPGService(t)

	const attempts = 6
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, CreateCommand{
				PassengerID: "p_double_tap",
				Pickup:      EndpointInput{Point: &bulanPickup},
				Dropoff:     EndpointInput{Point: &bulanDropoff},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, apperr.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 active ride, got %d", success)
	}
}

func TestPGDriverAcceptsOneRideAtATime(t *testing.T) {
	svc, drivers := setupPGService(t)
	ctx := context.Background()
	seedDriver(t, drivers, "d_two_rides")

	const rides = 6
	ids := make([]types.ID, rides)
	for i := range ids {
		r, err := svc.Create(ctx, CreateCommand{
			PassengerID: types.ID(fmt.Sprintf("p_two_rides_%d", i)),
			Pickup:      EndpointInput{Point: &bulanPickup},
			Dropoff:     EndpointInput{Point: &bulanDropoff},
		})
		if err != nil {
			t.Fatalf("create ride: %v", err)
		}
		ids[i] = r.ID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := svc.Accept(ctx, AcceptCommand{RideID: id, DriverID: "d_two_rides"})
			if err != nil && !errors.Is(err, apperr.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly 1 accepted ride, got %d", success)
	}
}

func setupPGService(t *testing.T) (*Service, *driver.Store) {
	t.Helper()

	dsn := os.Getenv("TRIGO_TEST_DSN")
	if dsn == "" {
		t.Skip("TRIGO_TEST_DSN not set; skipping DB-backed race tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	root, err := infra.RepoRoot()
	if err != nil {
		t.Fatalf("find repo root: %v", err)
	}
	if err := infra.ApplyMigrations(ctx, db, filepath.Join(root, "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE ride_state_events, notifications, rides, driver_profiles"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	drivers := driver.NewStore(db)
	svc := NewService(ServiceDeps{
		Store:   NewStore(db),
		Drivers: drivers,
		Pricing: pricing.NewService(pricing.Rate{BaseFare: 20, PerKm: 5, Currency: "PHP"}),
		Log:     logging.Discard(),
	})
	return svc, drivers
}

func seedDriver(t *testing.T, drivers *driver.Store, id types.ID) {
	t.Helper()
	loc := types.Point{Lat: 12.67, Lng: 123.87}
	err := drivers.Upsert(context.Background(), driver.Profile{
		UserID:   id,
		Approval: driver.ApprovalApproved,
		Online:   true,
		Location: &loc,
	})
	if err != nil {
		t.Fatalf("seed driver %s: %v", id, err)
	}
}
