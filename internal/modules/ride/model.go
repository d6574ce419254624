// README: Ride aggregate, status machine, and the compare-and-swap change record.
package ride

import (
	"errors"
	"time"

	"trigo/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusRequested  Status = "requested"
	StatusAssigned   Status = "assigned"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

var (
	// ActiveStatuses block a passenger from requesting another ride.
	ActiveStatuses = []Status{StatusRequested, StatusAssigned, StatusAccepted, StatusInProgress}
	// BusyStatuses hold a driver: an assigned driver is not offered as a preferred driver.
	BusyStatuses = []Status{StatusAssigned, StatusAccepted, StatusInProgress}
	// EngagedStatuses block a driver from accepting another ride.
	EngagedStatuses = []Status{StatusAccepted, StatusInProgress}
	// HistoryStatuses are the finished rides shown in passenger history.
	HistoryStatuses = []Status{StatusCompleted, StatusCanceled}
	AllStatuses     = []Status{StatusRequested, StatusAssigned, StatusAccepted, StatusInProgress, StatusCompleted, StatusCanceled}
)

var (
	ErrNotFound   = errors.New("ride not found")
	ErrActiveRide = errors.New("passenger has active ride")
	// ErrDriverEngaged is returned by Transition when the change would give a
	// driver a second accepted or in-progress ride.
	ErrDriverEngaged = errors.New("driver has engaged ride")
)

// Label is the human-readable status name.
func (s Status) Label() string {
	switch s {
	case StatusRequested:
		return "Requested"
	case StatusAssigned:
		return "Assigned"
	case StatusAccepted:
		return "Accepted"
	case StatusInProgress:
		return "In Progress"
	case StatusCompleted:
		return "Completed"
	case StatusCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

func (s Status) In(set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

type Action string

const (
	ActionCreate   Action = "create"
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionPickUp   Action = "pick_up"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

// AllowedTransitions is the ride state flow as code. Decline on an assigned ride
// returns it to requested; decline on a requested ride keeps the status.
var AllowedTransitions = map[Action]map[Status]Status{
	ActionAccept:   {StatusRequested: StatusAccepted, StatusAssigned: StatusAccepted},
	ActionDecline:  {StatusRequested: StatusRequested, StatusAssigned: StatusRequested},
	ActionPickUp:   {StatusAccepted: StatusInProgress},
	ActionComplete: {StatusAccepted: StatusCompleted, StatusInProgress: StatusCompleted},
	ActionCancel:   {StatusRequested: StatusCanceled, StatusAssigned: StatusCanceled, StatusAccepted: StatusCanceled},
}

// Next returns the status an action leads to from the given status.
func Next(action Action, from Status) (Status, bool) {
	to, ok := AllowedTransitions[action][from]
	return to, ok
}

// Endpoint is a pickup or dropoff. When PlaceRef is set the coordinate was derived from it.
type Endpoint struct {
	Point    types.Point
	PlaceRef *string
	Address  string
}

type Ride struct {
	ID            types.ID
	PassengerID   types.ID
	DriverID      *types.ID
	Status        Status
	StatusVersion int

	Pickup     Endpoint
	Dropoff    Endpoint
	PickupHash string
	Notes      string
	Fare       types.Money

	RequestedAt      time.Time
	AcceptedAt       *time.Time
	PickedUpAt       *time.Time
	CompletedAt      *time.Time
	CanceledAt       *time.Time
	DriverDeclinedAt *time.Time

	DeclinedByDriverID *types.ID
	DeclineReason      *string
	CancellationReason *string
}

// HasDriver reports whether driverID is the ride's current driver.
func (r *Ride) HasDriver(driverID types.ID) bool {
	return r.DriverID != nil && *r.DriverID == driverID
}

func (r *Ride) CanCancel() bool {
	_, ok := Next(ActionCancel, r.Status)
	return ok
}

// Change is one guarded write: it applies only while the ride still has the
// expected status, version, and driver.
type Change struct {
	RideID         types.ID
	Action         Action
	From           Status
	Version        int
	ExpectDriverID *types.ID

	To       Status
	DriverID *types.ID
	ActorID  types.ID
	Reason   *string
	At       time.Time
}

// Matches reports whether r is in the state the change expects.
func (c Change) Matches(r *Ride) bool {
	if r.ID != c.RideID || r.Status != c.From || r.StatusVersion != c.Version {
		return false
	}
	if (r.DriverID == nil) != (c.ExpectDriverID == nil) {
		return false
	}
	return r.DriverID == nil || *r.DriverID == *c.ExpectDriverID
}

// Apply writes the change into r. Timestamps are set once and never cleared.
// Decline metadata keeps the first decline; later ones live in the event log.
// status_version moves only when the status does.
func (c Change) Apply(r *Ride) {
	if c.To != c.From {
		r.StatusVersion++
	}
	r.Status = c.To
	r.DriverID = cloneID(c.DriverID)
	at := c.At
	switch c.Action {
	case ActionAccept:
		if r.AcceptedAt == nil {
			r.AcceptedAt = &at
		}
	case ActionPickUp:
		if r.PickedUpAt == nil {
			r.PickedUpAt = &at
		}
	case ActionComplete:
		if r.CompletedAt == nil {
			r.CompletedAt = &at
		}
	case ActionCancel:
		if r.CanceledAt == nil {
			r.CanceledAt = &at
			r.CancellationReason = cloneString(c.Reason)
		}
	case ActionDecline:
		if r.DriverDeclinedAt == nil {
			actor := c.ActorID
			r.DriverDeclinedAt = &at
			r.DeclinedByDriverID = &actor
			r.DeclineReason = cloneString(c.Reason)
		}
	}
}

// Event is one row of the ride state log.
type Event struct {
	ID         int64
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	Action     Action
	ActorType  string
	ActorID    *types.ID
	Reason     *string
	CreatedAt  time.Time
}

func cloneID(v *types.ID) *types.ID {
	if v == nil {
		return nil
	}
	id := *v
	return &id
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
