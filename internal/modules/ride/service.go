// README: Ride lifecycle engine. Each action reads the ride, checks its guard, and commits one
// compare-and-swap write; events go out only after the write lands.
package ride

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"trigo/internal/apperr"
	"trigo/internal/geo"
	"trigo/internal/metrics"
	"trigo/internal/modules/driver"
	"trigo/internal/modules/notify"
	"trigo/internal/modules/place"
	"trigo/internal/types"
)

const (
	maxNotesLen         = 500
	maxAddressLen       = 255
	maxDeclineReasonLen = 255
	maxCancelReasonLen  = 500

	defaultPerPage = 15
	maxPerPage     = 100

	emitTimeout = 5 * time.Second
)

// Repository is the ride persistence surface. Store and MemStore satisfy it.
type Repository interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	Transition(ctx context.Context, c Change) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	FindActiveByPassenger(ctx context.Context, passengerID types.ID) (*Ride, error)
	FindByDriver(ctx context.Context, driverID types.ID, statuses []Status) (*Ride, error)
	ListQueueCandidates(ctx context.Context, driverID types.ID, cells []string) ([]Ride, error)
	ListByPassenger(ctx context.Context, passengerID types.ID, statuses []Status, limit, offset int) ([]Ride, error)
	ListByDriver(ctx context.Context, driverID types.ID, limit, offset int) ([]Ride, error)
	BusyDrivers(ctx context.Context, driverIDs []types.ID, statuses []Status) (map[types.ID]bool, error)
	Stats(ctx context.Context, q StatsQuery) (Stats, error)
}

type DriverDirectory interface {
	Get(ctx context.Context, userID types.ID) (*driver.Profile, error)
}

type PlaceResolver interface {
	Resolve(ctx context.Context, ref string) (*place.Place, error)
}

type Pricing interface {
	Estimate(pickup, dropoff types.Point) types.Money
}

type ServiceDeps struct {
	Store   Repository
	Drivers DriverDirectory
	Places  PlaceResolver
	Pricing Pricing
	Events  notify.Emitter
	Log     logrus.FieldLogger
}

type Service struct {
	store   Repository
	drivers DriverDirectory
	places  PlaceResolver
	pricing Pricing
	events  notify.Emitter
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		store:   deps.Store,
		drivers: deps.Drivers,
		places:  deps.Places,
		pricing: deps.Pricing,
		events:  deps.Events,
		log:     deps.Log,
		now:     time.Now,
	}
}

var errRideUnavailable = apperr.Conflict("Ride is no longer available.")

var errDriverEngaged = apperr.Conflict("You already have an active ride. Please complete it before accepting a new one.")

// EndpointInput is a pickup or dropoff given as a coordinate or a place reference.
type EndpointInput struct {
	Point    *types.Point
	PlaceRef string
	Address  string
}

type CreateCommand struct {
	PassengerID       types.ID
	Pickup            EndpointInput
	Dropoff           EndpointInput
	PreferredDriverID *types.ID
	Notes             string
}

type AcceptCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type DeclineCommand struct {
	RideID   types.ID
	DriverID types.ID
	Reason   string
}

type PickUpCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CompleteCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CancelCommand struct {
	RideID      types.ID
	PassengerID types.ID
	Reason      string
}

type HistoryQuery struct {
	UserID  types.ID
	Role    string
	Page    int
	PerPage int
}

const (
	ActorPassenger = "passenger"
	ActorDriver    = "driver"
)

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (r *Ride, err error) {
	defer func() { s.observe(ActionCreate, rideID(r), cmd.PassengerID, err) }()

	if cmd.PassengerID == "" {
		return nil, apperr.Validation("passenger id is required")
	}
	if utf8.RuneCountInString(cmd.Notes) > maxNotesLen {
		return nil, apperr.Validation(fmt.Sprintf("notes may not exceed %d characters", maxNotesLen))
	}
	pickup, err := s.resolveEndpoint(ctx, "pickup", cmd.Pickup)
	if err != nil {
		return nil, err
	}
	dropoff, err := s.resolveEndpoint(ctx, "dropoff", cmd.Dropoff)
	if err != nil {
		return nil, err
	}

	active, err := s.store.FindActiveByPassenger(ctx, cmd.PassengerID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find active ride: %w", err)
	}
	if active != nil {
		return nil, apperr.Conflict("You already have an active ride. Please complete or cancel it first.").WithDetail(active)
	}

	status := StatusRequested
	var driverID *types.ID
	if cmd.PreferredDriverID != nil && *cmd.PreferredDriverID != "" {
		if err := s.checkPreferredDriver(ctx, *cmd.PreferredDriverID); err != nil {
			return nil, err
		}
		status = StatusAssigned
		driverID = cloneID(cmd.PreferredDriverID)
	}

	now := s.now()
	r = &Ride{
		ID:          types.NewID(),
		PassengerID: cmd.PassengerID,
		DriverID:    driverID,
		Status:      status,
		Pickup:      pickup,
		Dropoff:     dropoff,
		PickupHash:  geo.Encode(pickup.Point),
		Notes:       strings.TrimSpace(cmd.Notes),
		Fare:        s.pricing.Estimate(pickup.Point, dropoff.Point),
		RequestedAt: now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		if errors.Is(err, ErrActiveRide) {
			return nil, apperr.Conflict("You already have an active ride. Please complete or cancel it first.")
		}
		return nil, fmt.Errorf("create ride: %w", err)
	}
	passengerID := cmd.PassengerID
	s.appendEvent(ctx, &Event{
		RideID:     r.ID,
		FromStatus: StatusNone,
		ToStatus:   status,
		Action:     ActionCreate,
		ActorType:  ActorPassenger,
		ActorID:    &passengerID,
		CreatedAt:  now,
	})
	return r, nil
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (r *Ride, err error) {
	defer func() { s.observe(ActionAccept, cmd.RideID, cmd.DriverID, err) }()

	profile, err := s.driverProfile(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if err := driver.CheckApproved(profile); err != nil {
		return nil, err
	}
	if !profile.Online {
		return nil, apperr.Conflict("Go online before accepting rides.")
	}
	blocking, err := s.store.FindByDriver(ctx, cmd.DriverID, EngagedStatuses)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find engaged ride: %w", err)
	}
	if blocking != nil {
		return nil, errDriverEngaged.WithDetail(blocking)
	}

	r, err = s.get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusRequested:
		if r.DriverID != nil {
			return nil, apperr.Conflict("Ride has already been assigned to another driver.")
		}
	case StatusAssigned:
		if !r.HasDriver(cmd.DriverID) {
			return nil, apperr.Conflict("This ride has been assigned to another driver.")
		}
	default:
		return nil, errRideUnavailable
	}

	driverID := cmd.DriverID
	c := s.change(r, ActionAccept, cmd.DriverID, &driverID, nil)
	if err := s.commit(ctx, r, c, ActorDriver); err != nil {
		return nil, err
	}
	s.emit(ctx, notify.DriverAccepted(r.ID, r.PassengerID, cmd.DriverID, c.At))
	return r, nil
}

// Decline stamps decline metadata. An assigned ride goes back to the open pool.
func (s *Service) Decline(ctx context.Context, cmd DeclineCommand) (r *Ride, err error) {
	defer func() { s.observe(ActionDecline, cmd.RideID, cmd.DriverID, err) }()

	profile, err := s.driverProfile(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if err := driver.CheckApproved(profile); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(cmd.Reason)
	if utf8.RuneCountInString(reason) > maxDeclineReasonLen {
		return nil, apperr.Validation(fmt.Sprintf("reason may not exceed %d characters", maxDeclineReasonLen))
	}

	r, err = s.get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if _, ok := Next(ActionDecline, r.Status); !ok {
		return nil, apperr.Conflict("Ride is no longer available to decline.")
	}
	if r.Status == StatusAssigned && !r.HasDriver(cmd.DriverID) {
		return nil, apperr.Forbidden("This ride is not assigned to you.")
	}

	c := s.change(r, ActionDecline, cmd.DriverID, nil, optional(reason))
	if err := s.commit(ctx, r, c, ActorDriver); err != nil {
		return nil, err
	}
	s.emit(ctx, notify.DriverCancelled(r.ID, r.PassengerID, cmd.DriverID, reason, c.At))
	return r, nil
}

func (s *Service) PickUp(ctx context.Context, cmd PickUpCommand) (r *Ride, err error) {
	defer func() { s.observe(ActionPickUp, cmd.RideID, cmd.DriverID, err) }()

	r, err = s.get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != nil && !r.HasDriver(cmd.DriverID) {
		return nil, apperr.Forbidden("You are not assigned to this ride.")
	}
	if _, ok := Next(ActionPickUp, r.Status); !ok {
		return nil, apperr.Validation("Ride must be accepted before pickup.").WithDetail(r.Status)
	}

	c := s.change(r, ActionPickUp, cmd.DriverID, r.DriverID, nil)
	if err := s.commit(ctx, r, c, ActorDriver); err != nil {
		return nil, err
	}
	s.emit(ctx, notify.DriverOnWay(r.ID, r.PassengerID, cmd.DriverID, c.At))
	return r, nil
}

func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (r *Ride, err error) {
	defer func() { s.observe(ActionComplete, cmd.RideID, cmd.DriverID, err) }()

	r, err = s.get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != nil && !r.HasDriver(cmd.DriverID) {
		return nil, apperr.Forbidden("You can only complete your own rides.")
	}
	if _, ok := Next(ActionComplete, r.Status); !ok {
		return nil, apperr.Validation("Ride cannot be completed in its current status.").
			WithReason(completeBlockedReason(r.Status)).
			WithDetail(r.Status)
	}

	c := s.change(r, ActionComplete, cmd.DriverID, r.DriverID, nil)
	if err := s.commit(ctx, r, c, ActorDriver); err != nil {
		return nil, err
	}
	s.emit(ctx, notify.TripCompleted(r.ID, r.PassengerID, r.Fare, c.At))
	return r, nil
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (r *Ride, err error) {
	defer func() { s.observe(ActionCancel, cmd.RideID, cmd.PassengerID, err) }()

	reason := strings.TrimSpace(cmd.Reason)
	if utf8.RuneCountInString(reason) > maxCancelReasonLen {
		return nil, apperr.Validation(fmt.Sprintf("reason may not exceed %d characters", maxCancelReasonLen))
	}
	r, err = s.get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if r.PassengerID != cmd.PassengerID {
		return nil, apperr.Forbidden("You can only cancel your own rides.")
	}
	if !r.CanCancel() {
		return nil, apperr.Validation("Ride can no longer be canceled.").
			WithReason(cancelBlockedReason(r.Status)).
			WithDetail(r.Status)
	}

	c := s.change(r, ActionCancel, cmd.PassengerID, r.DriverID, optional(reason))
	if err := s.commit(ctx, r, c, ActorPassenger); err != nil {
		return nil, err
	}
	s.emit(ctx, notify.RideCancelled(r.ID, r.PassengerID, c.At))
	return r, nil
}

// Get returns a ride visible to its passenger or its driver.
func (s *Service) Get(ctx context.Context, callerID, id types.ID) (*Ride, error) {
	r, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.PassengerID != callerID && !r.HasDriver(callerID) {
		return nil, apperr.Forbidden("Unauthorized access to this ride")
	}
	return r, nil
}

// Current returns the passenger's active ride, or nil when there is none.
func (s *Service) Current(ctx context.Context, passengerID types.ID) (*Ride, error) {
	r, err := s.store.FindActiveByPassenger(ctx, passengerID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active ride: %w", err)
	}
	return r, nil
}

// History lists finished rides for passengers and all own rides for drivers, newest first.
func (s *Service) History(ctx context.Context, q HistoryQuery) ([]Ride, error) {
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	pageNum := q.Page
	if pageNum < 1 {
		pageNum = 1
	}
	offset := (pageNum - 1) * perPage

	switch q.Role {
	case ActorPassenger:
		return s.store.ListByPassenger(ctx, q.UserID, HistoryStatuses, perPage, offset)
	case ActorDriver:
		profile, err := s.driverProfile(ctx, q.UserID)
		if err != nil {
			return nil, err
		}
		if err := driver.CheckApproved(profile); err != nil {
			return nil, err
		}
		return s.store.ListByDriver(ctx, q.UserID, perPage, offset)
	default:
		return nil, apperr.Forbidden("unknown role")
	}
}

func (s *Service) resolveEndpoint(ctx context.Context, name string, in EndpointInput) (Endpoint, error) {
	var ep Endpoint
	address := strings.TrimSpace(in.Address)
	if utf8.RuneCountInString(address) > maxAddressLen {
		return ep, apperr.Validation(fmt.Sprintf("%s address may not exceed %d characters", name, maxAddressLen))
	}
	switch {
	case in.PlaceRef != "":
		if s.places == nil {
			return ep, apperr.Validation("place references are not supported")
		}
		p, err := s.places.Resolve(ctx, in.PlaceRef)
		if err != nil {
			return ep, err
		}
		ref := p.Ref
		ep.Point = p.Point
		ep.PlaceRef = &ref
		if address == "" {
			address = p.Address
		}
	case in.Point != nil:
		if err := in.Point.Validate(); err != nil {
			return ep, apperr.Validation(fmt.Sprintf("%s: %v", name, err))
		}
		ep.Point = *in.Point
	default:
		return ep, apperr.Validation(fmt.Sprintf("Either %s_place_id or both %s_lat and %s_lng must be provided.", name, name, name))
	}
	ep.Address = address
	return ep, nil
}

func (s *Service) checkPreferredDriver(ctx context.Context, driverID types.ID) error {
	profile, err := s.driverProfile(ctx, driverID)
	if err != nil {
		return err
	}
	if profile == nil || !profile.Approved() || !profile.Online {
		return apperr.Validation("Preferred driver is not available or not online.")
	}
	busy, err := s.store.FindByDriver(ctx, driverID, BusyStatuses)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("find busy ride: %w", err)
	}
	if busy != nil {
		return apperr.Validation("Preferred driver is currently on another ride.")
	}
	return nil
}

// driverProfile returns nil without error when the profile does not exist.
func (s *Service) driverProfile(ctx context.Context, driverID types.ID) (*driver.Profile, error) {
	p, err := s.drivers.Get(ctx, driverID)
	if errors.Is(err, driver.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get driver profile: %w", err)
	}
	return p, nil
}

func (s *Service) get(ctx context.Context, id types.ID) (*Ride, error) {
	r, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("ride not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get ride: %w", err)
	}
	return r, nil
}

// change builds the guarded write for action against the ride as read.
func (s *Service) change(r *Ride, action Action, actorID types.ID, newDriver *types.ID, reason *string) Change {
	to, _ := Next(action, r.Status)
	return Change{
		RideID:         r.ID,
		Action:         action,
		From:           r.Status,
		Version:        r.StatusVersion,
		ExpectDriverID: cloneID(r.DriverID),
		To:             to,
		DriverID:       cloneID(newDriver),
		ActorID:        actorID,
		Reason:         reason,
		At:             s.now(),
	}
}

// commit runs the compare-and-swap. A lost race is a conflict and is never retried here.
func (s *Service) commit(ctx context.Context, r *Ride, c Change, actorType string) error {
	ok, err := s.store.Transition(ctx, c)
	if errors.Is(err, ErrDriverEngaged) {
		return errDriverEngaged
	}
	if err != nil {
		return fmt.Errorf("%s ride: %w", c.Action, err)
	}
	if !ok {
		return errRideUnavailable
	}
	c.Apply(r)
	actorID := c.ActorID
	s.appendEvent(ctx, &Event{
		RideID:     r.ID,
		FromStatus: c.From,
		ToStatus:   c.To,
		Action:     c.Action,
		ActorType:  actorType,
		ActorID:    &actorID,
		Reason:     c.Reason,
		CreatedAt:  c.At,
	})
	return nil
}

func (s *Service) appendEvent(ctx context.Context, e *Event) {
	if err := s.store.AppendEvent(ctx, e); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"ride_id": e.RideID, "action": e.Action}).Warn("append ride state event failed")
	}
}

// emit delivers e outside the request's cancellation. Failures are logged only.
func (s *Service) emit(ctx context.Context, e notify.Event) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()
	if err := s.events.Emit(ctx, e); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"ride_id":    e.RideID,
			"event_type": e.Type,
		}).Warn("event emission failed")
	}
}

func (s *Service) observe(action Action, id, actorID types.ID, err error) {
	fields := logrus.Fields{"ride_id": id, "action": action, "actor_id": actorID}
	if err == nil {
		metrics.RideTransitions.WithLabelValues(string(action), metrics.OutcomeOK).Inc()
		s.log.WithFields(fields).Info("ride transition")
		return
	}
	switch {
	case errors.Is(err, apperr.ErrConflict):
		metrics.RideTransitions.WithLabelValues(string(action), metrics.OutcomeConflict).Inc()
		s.log.WithFields(fields).WithError(err).Warn("ride transition conflict")
	case errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrForbidden), errors.Is(err, apperr.ErrNotFound):
		metrics.RideTransitions.WithLabelValues(string(action), metrics.OutcomeRejected).Inc()
		s.log.WithFields(fields).WithError(err).Warn("ride transition rejected")
	default:
		metrics.RideTransitions.WithLabelValues(string(action), metrics.OutcomeError).Inc()
		s.log.WithFields(fields).WithError(err).Error("ride transition failed")
	}
}

func completeBlockedReason(st Status) string {
	switch st {
	case StatusRequested, StatusAssigned:
		return "Ride must be accepted by driver before completion."
	case StatusCompleted:
		return "Ride is already completed."
	case StatusCanceled:
		return "Ride has been canceled."
	default:
		return "Ride must be accepted or in progress to be completed."
	}
}

func cancelBlockedReason(st Status) string {
	switch st {
	case StatusInProgress:
		return "Ride is already in progress. Driver has picked up the passenger."
	case StatusCompleted:
		return "Ride has already been completed."
	case StatusCanceled:
		return "Ride has already been canceled."
	default:
		return "Ride cannot be canceled at this stage."
	}
}

func rideID(r *Ride) types.ID {
	if r == nil {
		return ""
	}
	return r.ID
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
