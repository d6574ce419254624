package driver

import (
	"context"
	"errors"
	"testing"

	"trigo/internal/apperr"
	"trigo/internal/logging"
	"trigo/internal/modules/place"
	"trigo/internal/types"
)

func newTestService(t *testing.T) (*Service, *MemStore, *place.MemStore) {
	t.Helper()
	store := NewMemStore()
	dir := place.NewMemStore()
	places := place.NewService(dir, nil, nil, logging.Discard())
	return NewService(store, places, logging.Discard()), store, dir
}

func TestSetAvailabilityRequiresApproval(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	_ = store.Upsert(ctx, Profile{UserID: "pending", Approval: ApprovalPending})
	_ = store.Upsert(ctx, Profile{UserID: "rejected", Approval: ApprovalRejected})

	for _, id := range []types.ID{"pending", "rejected", "missing"} {
		if _, err := svc.SetAvailability(ctx, id, true); !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("%s: expected forbidden, got %v", id, err)
		}
	}
	p, _ := store.Get(ctx, "pending")
	if p.Online {
		t.Fatal("pending driver must stay offline")
	}
}

func TestSetAvailabilityWarnsWithoutLocation(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	_ = store.Upsert(ctx, Profile{UserID: "d1", Approval: ApprovalApproved})

	res, err := svc.SetAvailability(ctx, "d1", true)
	if err != nil {
		t.Fatalf("set availability: %v", err)
	}
	if !res.Profile.Online || res.Warning != WarnNoLocation {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := svc.UpdateLocation(ctx, LocationCommand{DriverID: "d1", Point: &types.Point{Lat: 12.67, Lng: 123.87}}); err != nil {
		t.Fatalf("update location: %v", err)
	}
	res, err = svc.SetAvailability(ctx, "d1", true)
	if err != nil {
		t.Fatalf("set availability: %v", err)
	}
	if res.Warning != "" {
		t.Fatalf("expected no warning once located, got %q", res.Warning)
	}
	if !res.Profile.Matchable() {
		t.Fatal("expected driver to be matchable")
	}
}

func TestUpdateLocation(t *testing.T) {
	ctx := context.Background()
	svc, store, dir := newTestService(t)
	_ = store.Upsert(ctx, Profile{UserID: "d1", Approval: ApprovalApproved})
	ref, _ := dir.Create(ctx, "Bulan Port", "Zone 1", types.Point{Lat: 12.669, Lng: 123.871})

	p, err := svc.UpdateLocation(ctx, LocationCommand{DriverID: "d1", PlaceRef: ref})
	if err != nil {
		t.Fatalf("update by place: %v", err)
	}
	if p.Location == nil || p.Location.Lat != 12.669 || p.PlaceRef == nil || *p.PlaceRef != ref || p.LocationUpdatedAt == nil {
		t.Fatalf("unexpected profile %+v", p)
	}

	p, err = svc.UpdateLocation(ctx, LocationCommand{DriverID: "d1", Point: &types.Point{Lat: 12.7, Lng: 123.9}})
	if err != nil {
		t.Fatalf("update by point: %v", err)
	}
	if p.PlaceRef != nil {
		t.Fatalf("coordinate update should clear the place ref, got %v", *p.PlaceRef)
	}

	bad := []LocationCommand{
		{DriverID: "d1"},
		{DriverID: "d1", Point: &types.Point{Lat: 91, Lng: 0}},
		{DriverID: "d1", PlaceRef: "404"},
	}
	for i, cmd := range bad {
		if _, err := svc.UpdateLocation(ctx, cmd); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestProfileNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.Profile(context.Background(), "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type fakeIndex struct {
	positions map[types.ID]types.Point
}

func (f *fakeIndex) Upsert(_ context.Context, p Profile) error {
	f.positions[p.UserID] = *p.Location
	return nil
}

func (f *fakeIndex) Remove(_ context.Context, id types.ID) error {
	delete(f.positions, id)
	return nil
}

func TestPositionIndexFollowsAvailability(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	idx := &fakeIndex{positions: map[types.ID]types.Point{}}
	svc.WithIndex(idx)
	_ = store.Upsert(ctx, Profile{UserID: "d1", Approval: ApprovalApproved})

	if _, err := svc.SetAvailability(ctx, "d1", true); err != nil {
		t.Fatalf("set availability: %v", err)
	}
	if _, ok := idx.positions["d1"]; ok {
		t.Fatal("driver without location must not be indexed")
	}

	loc := types.Point{Lat: 12.67, Lng: 123.87}
	if _, err := svc.UpdateLocation(ctx, LocationCommand{DriverID: "d1", Point: &loc}); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if idx.positions["d1"] != loc {
		t.Fatalf("expected indexed position %v, got %v", loc, idx.positions["d1"])
	}

	if _, err := svc.SetAvailability(ctx, "d1", false); err != nil {
		t.Fatalf("set availability: %v", err)
	}
	if _, ok := idx.positions["d1"]; ok {
		t.Fatal("offline driver must be removed from the index")
	}
}
