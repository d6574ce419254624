package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"
)

// ErrPlaceNotFound is returned when Google does not know the place id.
var ErrPlaceNotFound = errors.New("place not found")

// PlaceDetails is the subset of a Place Details response used to resolve pickups and locations.
type PlaceDetails struct {
	PlaceID string
	Name    string
	Address string
	Lat     float64
	Lng     float64
}

// PlacesService handles interactions with Google Places API.
type PlacesService struct {
	client *maps.Client
}

// NewPlacesService creates a new PlacesService with the given API Key.
func NewPlacesService(apiKey string) (*PlacesService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &PlacesService{client: client}, nil
}

// Details looks up name, formatted address, and coordinates for a Google place id.
func (s *PlacesService) Details(ctx context.Context, placeID string) (*PlaceDetails, error) {
	r := &maps.PlaceDetailsRequest{
		PlaceID: placeID,
		Fields: []maps.PlaceDetailsFieldMask{
			maps.PlaceDetailsFieldMaskName,
			maps.PlaceDetailsFieldMaskFormattedAddress,
			maps.PlaceDetailsFieldMaskGeometry,
		},
	}
	res, err := s.client.PlaceDetails(ctx, r)
	if err != nil {
		// The client reports API statuses as "maps: STATUS - message".
		msg := err.Error()
		if strings.Contains(msg, "NOT_FOUND") || strings.Contains(msg, "INVALID_REQUEST") || strings.Contains(msg, "ZERO_RESULTS") {
			return nil, ErrPlaceNotFound
		}
		return nil, fmt.Errorf("places api error: %w", err)
	}
	return &PlaceDetails{
		PlaceID: res.PlaceID,
		Name:    res.Name,
		Address: res.FormattedAddress,
		Lat:     res.Geometry.Location.Lat,
		Lng:     res.Geometry.Location.Lng,
	}, nil
}
