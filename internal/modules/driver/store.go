// README: Driver profile store backed by PostgreSQL. Online and location columns are driver-owned.
package driver

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trigo/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const profileColumns = `user_id, approval_status, online, current_lat, current_lng, current_place_ref, location_updated_at`

func (s *Store) Get(ctx context.Context, userID types.ID) (*Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM driver_profiles WHERE user_id = $1`, string(userID))
	return scanProfile(row)
}

func (s *Store) SetOnline(ctx context.Context, userID types.ID, online bool, at time.Time) (*Profile, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE driver_profiles
		SET online = $2, updated_at = $3
		WHERE user_id = $1
		RETURNING `+profileColumns, string(userID), online, at)
	return scanProfile(row)
}

func (s *Store) SetLocation(ctx context.Context, userID types.ID, loc types.Point, placeRef *string, at time.Time) (*Profile, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE driver_profiles
		SET current_lat = $2, current_lng = $3, current_place_ref = $4,
		    location_updated_at = $5, updated_at = $5
		WHERE user_id = $1
		RETURNING `+profileColumns, string(userID), loc.Lat, loc.Lng, placeRef, at)
	return scanProfile(row)
}

// ListMatchable returns approved, online drivers with a known location.
func (s *Store) ListMatchable(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+profileColumns+`
		FROM driver_profiles
		WHERE approval_status = 'approved'
		  AND online
		  AND current_lat IS NOT NULL
		ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Upsert creates or replaces a profile. Registration and approval are owned by admin tooling; this
// exists for seeding and tests.
func (s *Store) Upsert(ctx context.Context, p Profile) error {
	var lat, lng *float64
	if p.Location != nil {
		lat, lng = &p.Location.Lat, &p.Location.Lng
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO driver_profiles (user_id, approval_status, online, current_lat, current_lng, current_place_ref, location_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET approval_status = EXCLUDED.approval_status,
		    online = EXCLUDED.online,
		    current_lat = EXCLUDED.current_lat,
		    current_lng = EXCLUDED.current_lng,
		    current_place_ref = EXCLUDED.current_place_ref,
		    location_updated_at = EXCLUDED.location_updated_at,
		    updated_at = NOW()`,
		string(p.UserID), string(p.Approval), p.Online, lat, lng, p.PlaceRef, p.LocationUpdatedAt,
	)
	return err
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var lat, lng sql.NullFloat64
	var placeRef sql.NullString
	var updatedAt sql.NullTime
	err := row.Scan(&p.UserID, &p.Approval, &p.Online, &lat, &lng, &placeRef, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		p.Location = &types.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if placeRef.Valid {
		p.PlaceRef = &placeRef.String
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		p.LocationUpdatedAt = &t
	}
	return &p, nil
}
