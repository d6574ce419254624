// README: Driver service: driver-owned availability and location writes.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"trigo/internal/apperr"
	"trigo/internal/modules/place"
	"trigo/internal/types"
)

// Repository is the persistence surface used by the service. Store and MemStore satisfy it.
type Repository interface {
	Get(ctx context.Context, userID types.ID) (*Profile, error)
	SetOnline(ctx context.Context, userID types.ID, online bool, at time.Time) (*Profile, error)
	SetLocation(ctx context.Context, userID types.ID, loc types.Point, placeRef *string, at time.Time) (*Profile, error)
	ListMatchable(ctx context.Context) ([]Profile, error)
}

type PlaceResolver interface {
	Resolve(ctx context.Context, ref string) (*place.Place, error)
}

// PositionIndex mirrors matchable driver positions for nearby searches.
type PositionIndex interface {
	Upsert(ctx context.Context, p Profile) error
	Remove(ctx context.Context, driverID types.ID) error
}

type Service struct {
	store  Repository
	places PlaceResolver
	index  PositionIndex
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewService(store Repository, places PlaceResolver, log logrus.FieldLogger) *Service {
	return &Service{store: store, places: places, log: log, now: time.Now}
}

// WithIndex keeps idx in step with availability and location writes.
func (s *Service) WithIndex(idx PositionIndex) *Service {
	s.index = idx
	return s
}

// WarnNoLocation is returned with an online profile that cannot receive requests yet.
const WarnNoLocation = "Availability updated, but please update your location to receive ride requests."

type AvailabilityResult struct {
	Profile *Profile
	Warning string
}

type LocationCommand struct {
	DriverID types.ID
	Point    *types.Point
	PlaceRef string
}

// Profile returns the caller's own profile regardless of approval.
func (s *Service) Profile(ctx context.Context, driverID types.ID) (*Profile, error) {
	p, err := s.store.Get(ctx, driverID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("Driver profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get driver profile: %w", err)
	}
	return p, nil
}

// RequireApproved loads the profile and fails with a forbidden error unless it is approved.
func (s *Service) RequireApproved(ctx context.Context, driverID types.ID) (*Profile, error) {
	p, err := s.store.Get(ctx, driverID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get driver profile: %w", err)
	}
	if err := CheckApproved(p); err != nil {
		return nil, err
	}
	return p, nil
}

// CheckApproved maps a missing or unapproved profile to a forbidden error.
func CheckApproved(p *Profile) error {
	if p == nil {
		return apperr.Forbidden("Driver profile not found. Please complete your driver registration.")
	}
	switch p.Approval {
	case ApprovalApproved:
		return nil
	case ApprovalPending:
		return apperr.Forbidden("Driver profile is pending admin approval. Please wait for approval.")
	case ApprovalRejected:
		return apperr.Forbidden("Driver profile has been rejected. Please contact admin.")
	default:
		return apperr.Forbidden("Driver profile is not approved. Current status: " + string(p.Approval))
	}
}

func (s *Service) SetAvailability(ctx context.Context, driverID types.ID, online bool) (*AvailabilityResult, error) {
	if _, err := s.RequireApproved(ctx, driverID); err != nil {
		return nil, err
	}
	p, err := s.store.SetOnline(ctx, driverID, online, s.now())
	if err != nil {
		return nil, fmt.Errorf("set availability: %w", err)
	}
	s.log.WithFields(logrus.Fields{"driver_id": driverID, "online": online}).Info("driver availability updated")
	s.syncIndex(ctx, p)

	res := &AvailabilityResult{Profile: p}
	if online && p.Location == nil {
		res.Warning = WarnNoLocation
	}
	return res, nil
}

// UpdateLocation sets the driver's current location from a coordinate or a place reference.
func (s *Service) UpdateLocation(ctx context.Context, cmd LocationCommand) (*Profile, error) {
	if _, err := s.RequireApproved(ctx, cmd.DriverID); err != nil {
		return nil, err
	}

	var loc types.Point
	var ref *string
	switch {
	case cmd.PlaceRef != "":
		if s.places == nil {
			return nil, apperr.Validation("place references are not supported")
		}
		p, err := s.places.Resolve(ctx, cmd.PlaceRef)
		if err != nil {
			return nil, err
		}
		loc = p.Point
		ref = &p.Ref
	case cmd.Point != nil:
		if err := cmd.Point.Validate(); err != nil {
			return nil, apperr.Validation(err.Error())
		}
		loc = *cmd.Point
	default:
		return nil, apperr.Validation("Either place_id or both lat and lng must be provided.")
	}

	p, err := s.store.SetLocation(ctx, cmd.DriverID, loc, ref, s.now())
	if err != nil {
		return nil, fmt.Errorf("set location: %w", err)
	}
	s.log.WithField("driver_id", cmd.DriverID).Debug("driver location updated")
	s.syncIndex(ctx, p)
	return p, nil
}

// syncIndex is best-effort. The store stays authoritative.
func (s *Service) syncIndex(ctx context.Context, p *Profile) {
	if s.index == nil || p == nil {
		return
	}
	var err error
	if p.Matchable() {
		err = s.index.Upsert(ctx, *p)
	} else {
		err = s.index.Remove(ctx, p.UserID)
	}
	if err != nil {
		s.log.WithError(err).WithField("driver_id", p.UserID).Warn("driver position index update failed")
	}
}
