// README: Ride store backed by PostgreSQL. Every status write is a compare-and-swap.
package ride

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trigo/internal/types"
)

const uniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const rideColumns = `
	id, passenger_id, driver_id, status, status_version,
	pickup_lat, pickup_lng, pickup_geohash, pickup_place_ref, pickup_address,
	dropoff_lat, dropoff_lng, dropoff_place_ref, dropoff_address,
	notes, fare_amount, fare_currency,
	requested_at, accepted_at, picked_up_at, completed_at, canceled_at, driver_declined_at,
	declined_by_driver_id, decline_reason, cancellation_reason`

func (s *Store) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rides (
			id, passenger_id, driver_id, status, status_version,
			pickup_lat, pickup_lng, pickup_geohash, pickup_place_ref, pickup_address,
			dropoff_lat, dropoff_lng, dropoff_place_ref, dropoff_address,
			notes, fare_amount, fare_currency, requested_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18
		)`,
		string(r.ID),
		string(r.PassengerID),
		toStringPtr(r.DriverID),
		string(r.Status),
		r.StatusVersion,
		r.Pickup.Point.Lat, r.Pickup.Point.Lng, r.PickupHash, r.Pickup.PlaceRef, r.Pickup.Address,
		r.Dropoff.Point.Lat, r.Dropoff.Point.Lng, r.Dropoff.PlaceRef, r.Dropoff.Address,
		r.Notes,
		r.Fare.Amount,
		r.Fare.Currency,
		r.RequestedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "rides_one_active_per_passenger" {
		return ErrActiveRide
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	return scanRide(row)
}

// Transition applies c only if the row still matches the expected status, version, and driver.
// It reports whether a row was updated. A driver already holding an engaged ride yields ErrDriverEngaged.
func (s *Store) Transition(ctx context.Context, c Change) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET status = $1::text,
		    status_version = status_version + CASE WHEN $1::text = $8::text THEN 0 ELSE 1 END,
		    driver_id = $2,
		    accepted_at = CASE WHEN $3::text = 'accept' THEN COALESCE(accepted_at, $4::timestamptz) ELSE accepted_at END,
		    picked_up_at = CASE WHEN $3::text = 'pick_up' THEN COALESCE(picked_up_at, $4::timestamptz) ELSE picked_up_at END,
		    completed_at = CASE WHEN $3::text = 'complete' THEN COALESCE(completed_at, $4::timestamptz) ELSE completed_at END,
		    canceled_at = CASE WHEN $3::text = 'cancel' THEN COALESCE(canceled_at, $4::timestamptz) ELSE canceled_at END,
		    cancellation_reason = CASE WHEN $3::text = 'cancel' AND canceled_at IS NULL THEN $5::text ELSE cancellation_reason END,
		    declined_by_driver_id = CASE WHEN $3::text = 'decline' AND driver_declined_at IS NULL THEN $6::text ELSE declined_by_driver_id END,
		    decline_reason = CASE WHEN $3::text = 'decline' AND driver_declined_at IS NULL THEN $5::text ELSE decline_reason END,
		    driver_declined_at = CASE WHEN $3::text = 'decline' THEN COALESCE(driver_declined_at, $4::timestamptz) ELSE driver_declined_at END
		WHERE id = $7
		  AND status = $8
		  AND status_version = $9
		  AND driver_id IS NOT DISTINCT FROM $10::text`,
		string(c.To),
		toStringPtr(c.DriverID),
		string(c.Action),
		c.At,
		c.Reason,
		string(c.ActorID),
		string(c.RideID),
		string(c.From),
		c.Version,
		toStringPtr(c.ExpectDriverID),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "rides_one_engaged_per_driver" {
		return false, ErrDriverEngaged
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_state_events (
			ride_id, from_status, to_status, action, actor_type, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(e.RideID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.Action),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.Reason,
		e.CreatedAt,
	)
	return err
}

func (s *Store) ListEvents(ctx context.Context, rideID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, from_status, to_status, action, actor_type, actor_id, reason, created_at
		FROM ride_state_events
		WHERE ride_id = $1
		ORDER BY id`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.RideID, &e.FromStatus, &e.ToStatus, &e.Action, &e.ActorType, &actorID, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = toIDPtr(actorID)
		e.Reason = toStrPtr(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindActiveByPassenger returns the passenger's newest ride in an active status.
func (s *Store) FindActiveByPassenger(ctx context.Context, passengerID types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE passenger_id = $1 AND status = ANY($2)
		ORDER BY requested_at DESC
		LIMIT 1`, string(passengerID), statusStrings(ActiveStatuses))
	return scanRide(row)
}

// FindByDriver returns the driver's newest ride in one of statuses.
func (s *Store) FindByDriver(ctx context.Context, driverID types.ID, statuses []Status) (*Ride, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY requested_at DESC
		LIMIT 1`, string(driverID), statusStrings(statuses))
	return scanRide(row)
}

// ListQueueCandidates returns the open pool plus the driver's own unfinished rides.
// When cells is non-empty, open-pool rides are limited to pickups inside those geohash cells.
func (s *Store) ListQueueCandidates(ctx context.Context, driverID types.ID, cells []string) ([]Ride, error) {
	var patterns []string
	for _, c := range cells {
		patterns = append(patterns, c+"%")
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE (status = 'requested' AND driver_id IS NULL
		       AND ($2::text[] IS NULL OR pickup_geohash LIKE ANY($2::text[])))
		   OR (driver_id = $1 AND status = ANY($3))
		ORDER BY requested_at`, string(driverID), patterns, statusStrings(BusyStatuses))
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func (s *Store) ListByPassenger(ctx context.Context, passengerID types.ID, statuses []Status, limit, offset int) ([]Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE passenger_id = $1 AND status = ANY($2)
		ORDER BY requested_at DESC
		LIMIT $3 OFFSET $4`, string(passengerID), statusStrings(statuses), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

func (s *Store) ListByDriver(ctx context.Context, driverID types.ID, limit, offset int) ([]Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE driver_id = $1
		ORDER BY requested_at DESC
		LIMIT $2 OFFSET $3`, string(driverID), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectRides(rows)
}

// BusyDrivers returns which of driverIDs currently hold a ride in one of statuses.
func (s *Store) BusyDrivers(ctx context.Context, driverIDs []types.ID, statuses []Status) (map[types.ID]bool, error) {
	ids := make([]string, 0, len(driverIDs))
	for _, id := range driverIDs {
		ids = append(ids, string(id))
	}
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT driver_id
		FROM rides
		WHERE driver_id = ANY($1) AND status = ANY($2)`, ids, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	busy := make(map[types.ID]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		busy[types.ID(id)] = true
	}
	return busy, rows.Err()
}

// Stats aggregates one party's rides in a single pass.
func (s *Store) Stats(ctx context.Context, q StatsQuery) (Stats, error) {
	party := "passenger_id"
	if q.AsDriver {
		party = "driver_id"
	}
	var (
		st       Stats
		currency string
	)
	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'canceled'),
			COUNT(*) FILTER (WHERE requested_at >= $2),
			COALESCE(SUM(fare_amount) FILTER (WHERE status = 'completed' AND completed_at >= $2), 0)::bigint,
			COALESCE(SUM(fare_amount) FILTER (WHERE status = 'completed' AND completed_at >= $3), 0)::bigint,
			COALESCE(SUM(fare_amount) FILTER (WHERE status = 'completed'), 0)::bigint,
			COALESCE(MIN(fare_currency) FILTER (WHERE status = 'completed'), '')
		FROM rides
		WHERE `+party+` = $1`, string(q.UserID), q.DayStart, q.MonthStart).Scan(
		&st.Total, &st.Completed, &st.Canceled, &st.Today,
		&st.FareToday.Amount, &st.FareMonth.Amount, &st.FareTotal.Amount, &currency,
	)
	if err != nil {
		return Stats{}, err
	}
	st.FareToday.Currency, st.FareMonth.Currency, st.FareTotal.Currency = currency, currency, currency
	return st, nil
}

func collectRides(rows pgx.Rows) ([]Ride, error) {
	defer rows.Close()
	var out []Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var driverID, pickupRef, dropoffRef, declinedBy, declineReason, cancelReason sql.NullString
	var acceptedAt, pickedUpAt, completedAt, canceledAt, declinedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.PassengerID, &driverID, &r.Status, &r.StatusVersion,
		&r.Pickup.Point.Lat, &r.Pickup.Point.Lng, &r.PickupHash, &pickupRef, &r.Pickup.Address,
		&r.Dropoff.Point.Lat, &r.Dropoff.Point.Lng, &dropoffRef, &r.Dropoff.Address,
		&r.Notes, &r.Fare.Amount, &r.Fare.Currency,
		&r.RequestedAt, &acceptedAt, &pickedUpAt, &completedAt, &canceledAt, &declinedAt,
		&declinedBy, &declineReason, &cancelReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.DriverID = toIDPtr(driverID)
	r.Pickup.PlaceRef = toStrPtr(pickupRef)
	r.Dropoff.PlaceRef = toStrPtr(dropoffRef)
	r.AcceptedAt = toTimePtr(acceptedAt)
	r.PickedUpAt = toTimePtr(pickedUpAt)
	r.CompletedAt = toTimePtr(completedAt)
	r.CanceledAt = toTimePtr(canceledAt)
	r.DriverDeclinedAt = toTimePtr(declinedAt)
	r.DeclinedByDriverID = toIDPtr(declinedBy)
	r.DeclineReason = toStrPtr(declineReason)
	r.CancellationReason = toStrPtr(cancelReason)
	return &r, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v sql.NullString) *types.ID {
	if !v.Valid {
		return nil
	}
	id := types.ID(v.String)
	return &id
}

func toStrPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
