// README: Place resolver turns place references into coordinates.
package place

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"trigo/internal/apperr"
	"trigo/internal/maps"
	"trigo/internal/types"
)

type Directory interface {
	Get(ctx context.Context, id int64) (*Place, error)
}

type Cache interface {
	Get(ctx context.Context, ref string) (*Place, error)
	Set(ctx context.Context, p *Place) error
}

// GoogleLookup is satisfied by *maps.PlacesService.
type GoogleLookup interface {
	Details(ctx context.Context, placeID string) (*maps.PlaceDetails, error)
}

type Service struct {
	directory Directory
	google    GoogleLookup
	cache     Cache
	log       logrus.FieldLogger
}

// NewService wires the resolver. google and cache may be nil.
func NewService(directory Directory, google GoogleLookup, cache Cache, log logrus.FieldLogger) *Service {
	return &Service{directory: directory, google: google, cache: cache, log: log}
}

// Resolve returns the place behind ref. Unknown or malformed refs are validation errors.
func (s *Service) Resolve(ctx context.Context, ref string) (*Place, error) {
	kind, key, err := ParseRef(ref)
	if err != nil {
		return nil, apperr.Validation("invalid place reference")
	}
	switch kind {
	case RefDirectory:
		return s.resolveDirectory(ctx, key)
	case RefGoogle:
		return s.resolveGoogle(ctx, ref, key)
	}
	return nil, apperr.Validation("invalid place reference")
}

func (s *Service) resolveDirectory(ctx context.Context, key string) (*Place, error) {
	if s.directory == nil {
		return nil, apperr.Validation("place directory is not available")
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return nil, apperr.Validation("invalid place reference")
	}
	p, err := s.directory.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Validation("selected place does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("place directory: %w", err)
	}
	return p, nil
}

func (s *Service) resolveGoogle(ctx context.Context, ref, placeID string) (*Place, error) {
	if s.google == nil {
		return nil, apperr.Validation("google place references are not enabled")
	}
	if s.cache != nil {
		p, err := s.cache.Get(ctx, ref)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.log.WithError(err).WithField("place_ref", ref).Warn("place cache read failed")
		}
	}

	d, err := s.google.Details(ctx, placeID)
	if errors.Is(err, maps.ErrPlaceNotFound) {
		return nil, apperr.Validation("selected place does not exist")
	}
	if err != nil {
		return nil, fmt.Errorf("google place details: %w", err)
	}
	p := &Place{
		Ref:     ref,
		Name:    d.Name,
		Address: d.Address,
		Point:   types.Point{Lat: d.Lat, Lng: d.Lng},
	}
	if err := p.Point.Validate(); err != nil {
		return nil, apperr.Validation("selected place has no usable coordinates")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, p); err != nil {
			s.log.WithError(err).WithField("place_ref", ref).Warn("place cache write failed")
		}
	}
	return p, nil
}
