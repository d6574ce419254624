// README: Matching service builds driver queues and passenger-facing nearby driver lists.
// It only reads ride and driver state.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"trigo/internal/apperr"
	"trigo/internal/config"
	"trigo/internal/geo"
	"trigo/internal/metrics"
	"trigo/internal/modules/driver"
	"trigo/internal/modules/place"
	"trigo/internal/modules/ride"
	"trigo/internal/types"
)

type RideSource interface {
	ListQueueCandidates(ctx context.Context, driverID types.ID, cells []string) ([]ride.Ride, error)
	BusyDrivers(ctx context.Context, driverIDs []types.ID, statuses []ride.Status) (map[types.ID]bool, error)
}

type DriverSource interface {
	Get(ctx context.Context, userID types.ID) (*driver.Profile, error)
	ListMatchable(ctx context.Context) ([]driver.Profile, error)
}

type PlaceResolver interface {
	Resolve(ctx context.Context, ref string) (*place.Place, error)
}

// NearbyIndex narrows the driver scan. Optional.
type NearbyIndex interface {
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
	Versions(ctx context.Context, ids []types.ID) (map[types.ID]int64, error)
}

// indexRadius widens the search so Redis distances, computed on a slightly
// larger earth radius, never cut off a driver inside radiusKm.
func indexRadius(radiusKm float64) float64 {
	return radiusKm*1.001 + 0.01
}

type Service struct {
	rides   RideSource
	drivers DriverSource
	places  PlaceResolver
	index   NearbyIndex
	cfg     config.MatchingConfig
	log     logrus.FieldLogger
}

func NewService(rides RideSource, drivers DriverSource, places PlaceResolver, cfg config.MatchingConfig, log logrus.FieldLogger) *Service {
	return &Service{rides: rides, drivers: drivers, places: places, cfg: cfg, log: log}
}

// WithIndex attaches a nearby-driver index used to prefilter AvailableDrivers.
func (s *Service) WithIndex(idx NearbyIndex) *Service {
	s.index = idx
	return s
}

// NearbyQuery locates the pickup by coordinate or place reference.
type NearbyQuery struct {
	Pickup   *types.Point
	PlaceRef string
	RadiusKm float64
}

// Queue returns the driver's own rides first, then open rides within radius by
// distance. A zero radius uses the configured default.
func (s *Service) Queue(ctx context.Context, driverID types.ID, radiusKm float64) ([]QueueEntry, error) {
	start := time.Now()

	radius, err := s.radius(radiusKm)
	if err != nil {
		return nil, err
	}
	profile, err := s.drivers.Get(ctx, driverID)
	if err != nil && !errors.Is(err, driver.ErrNotFound) {
		return nil, fmt.Errorf("get driver profile: %w", err)
	}
	if err := driver.CheckApproved(profile); err != nil {
		return nil, err
	}
	if !profile.Online {
		return nil, apperr.Conflict("Go online to view ride requests.")
	}
	if profile.Location == nil {
		return nil, apperr.Validation("Please update your location first.")
	}
	origin := *profile.Location

	candidates, err := s.rides.ListQueueCandidates(ctx, driverID, geo.CoverCells(origin, radius))
	if err != nil {
		return nil, fmt.Errorf("list queue candidates: %w", err)
	}

	resolved := make(map[string]types.Point)
	entries := make([]QueueEntry, 0, len(candidates))
	for _, r := range candidates {
		own := r.HasDriver(driverID) && r.Status.In(ride.BusyStatuses)
		open := r.Status == ride.StatusRequested && r.DriverID == nil
		if !own && !open {
			continue
		}
		d := geo.DistanceKm(origin, s.pickupPoint(ctx, r, resolved))
		if !own && d > radius {
			continue
		}
		entries = append(entries, QueueEntry{Ride: r, Own: own, rawKm: d})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Own != b.Own {
			return a.Own
		}
		if a.rawKm != b.rawKm {
			return a.rawKm < b.rawKm
		}
		return a.Ride.RequestedAt.Before(b.Ride.RequestedAt)
	})
	if len(entries) > s.cfg.QueueLimit {
		entries = entries[:s.cfg.QueueLimit]
	}
	for i := range entries {
		entries[i].DistanceKm = geo.RoundKm(entries[i].rawKm)
	}

	metrics.QueueBuildDuration.Observe(time.Since(start).Seconds())
	metrics.QueueSize.Observe(float64(len(entries)))
	s.log.WithFields(logrus.Fields{
		"driver_id":  driverID,
		"radius_km":  radius,
		"candidates": len(candidates),
		"returned":   len(entries),
	}).Debug("driver queue built")
	return entries, nil
}

// AvailableDrivers lists approved online drivers near a pickup who hold no
// assigned or active ride.
func (s *Service) AvailableDrivers(ctx context.Context, q NearbyQuery) ([]NearbyDriver, error) {
	radius, err := s.radius(q.RadiusKm)
	if err != nil {
		return nil, err
	}
	pickup, err := s.pickup(ctx, q)
	if err != nil {
		return nil, err
	}

	profiles, err := s.drivers.ListMatchable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list matchable drivers: %w", err)
	}
	outside := s.outsideIndex(ctx, pickup, radius, profiles)

	out := make([]NearbyDriver, 0, len(profiles))
	ids := make([]types.ID, 0, len(profiles))
	for _, p := range profiles {
		if !p.Matchable() || outside[p.UserID] {
			continue
		}
		d := geo.DistanceKm(pickup, *p.Location)
		if d > radius {
			continue
		}
		out = append(out, NearbyDriver{Profile: p, rawKm: d})
		ids = append(ids, p.UserID)
	}
	if len(out) == 0 {
		return out, nil
	}

	busy, err := s.rides.BusyDrivers(ctx, ids, ride.BusyStatuses)
	if err != nil {
		return nil, fmt.Errorf("find busy drivers: %w", err)
	}
	free := out[:0]
	for _, d := range out {
		if !busy[d.Profile.UserID] {
			free = append(free, d)
		}
	}

	geo.SortByDistance(free, func(d NearbyDriver) float64 { return d.rawKm })
	if len(free) > nearbyLimit {
		free = free[:nearbyLimit]
	}
	for i := range free {
		free[i].DistanceKm = geo.RoundKm(free[i].rawKm)
	}
	return free, nil
}

func (s *Service) radius(r float64) (float64, error) {
	if math.IsNaN(r) || r < 0 {
		return 0, apperr.Validation("radius must be a positive number of kilometers")
	}
	if r == 0 {
		return s.cfg.RadiusKm, nil
	}
	if r > s.cfg.MaxRadiusKm {
		return 0, apperr.Validation(fmt.Sprintf("radius may not exceed %.0f km", s.cfg.MaxRadiusKm))
	}
	return r, nil
}

func (s *Service) pickup(ctx context.Context, q NearbyQuery) (types.Point, error) {
	switch {
	case q.PlaceRef != "":
		if s.places == nil {
			return types.Point{}, apperr.Validation("place references are not supported")
		}
		p, err := s.places.Resolve(ctx, q.PlaceRef)
		if err != nil {
			return types.Point{}, err
		}
		return p.Point, nil
	case q.Pickup != nil:
		if err := q.Pickup.Validate(); err != nil {
			return types.Point{}, apperr.Validation(err.Error())
		}
		return *q.Pickup, nil
	default:
		return types.Point{}, apperr.Validation("Either pickup_place_id or both pickup_lat and pickup_lng must be provided.")
	}
}

// pickupPoint prefers the ride's place, falling back to the stored coordinate.
func (s *Service) pickupPoint(ctx context.Context, r ride.Ride, memo map[string]types.Point) types.Point {
	if r.Pickup.PlaceRef == nil || s.places == nil {
		return r.Pickup.Point
	}
	ref := *r.Pickup.PlaceRef
	if pt, ok := memo[ref]; ok {
		return pt
	}
	pt := r.Pickup.Point
	p, err := s.places.Resolve(ctx, ref)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"ride_id": r.ID, "place_ref": ref}).Warn("pickup place lookup failed, using stored coordinate")
	} else {
		pt = p.Point
	}
	memo[ref] = pt
	return pt
}

// outsideIndex returns the drivers the index places beyond the radius at their
// current position. Drivers missing from the index, or indexed from an older
// position, are left to the exact distance check. An unreachable index excludes nobody.
func (s *Service) outsideIndex(ctx context.Context, p types.Point, radius float64, profiles []driver.Profile) map[types.ID]bool {
	if s.index == nil {
		return nil
	}
	ids, err := s.index.Nearby(ctx, p, indexRadius(radius))
	if err != nil {
		s.log.WithError(err).Warn("nearby driver index unavailable, scanning all drivers")
		return nil
	}
	near := make(map[types.ID]bool, len(ids))
	for _, id := range ids {
		near[id] = true
	}

	var rest []types.ID
	current := make(map[types.ID]int64)
	for i := range profiles {
		pr := &profiles[i]
		if pr.Matchable() && !near[pr.UserID] {
			rest = append(rest, pr.UserID)
			current[pr.UserID] = pr.PositionVersion()
		}
	}
	if len(rest) == 0 {
		return nil
	}
	versions, err := s.index.Versions(ctx, rest)
	if err != nil {
		s.log.WithError(err).Warn("nearby driver index versions unavailable, scanning all drivers")
		return nil
	}
	outside := make(map[types.ID]bool, len(rest))
	for _, id := range rest {
		if v, ok := versions[id]; ok && v >= current[id] {
			outside[id] = true
		}
	}
	return outside
}
