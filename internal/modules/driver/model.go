// README: Driver operational profile: approval, online flag, and last known location.
package driver

import (
	"errors"
	"time"

	"trigo/internal/types"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

var ErrNotFound = errors.New("driver profile not found")

type Profile struct {
	UserID            types.ID       `json:"user_id"`
	Approval          ApprovalStatus `json:"approval_status"`
	Online            bool           `json:"online"`
	Location          *types.Point   `json:"location,omitempty"`
	PlaceRef          *string        `json:"place_ref,omitempty"`
	LocationUpdatedAt *time.Time     `json:"location_updated_at,omitempty"`
}

func (p *Profile) Approved() bool {
	return p.Approval == ApprovalApproved
}

// Matchable reports whether the driver may be matched to new requests.
func (p *Profile) Matchable() bool {
	return p.Approved() && p.Online && p.Location != nil
}

// PositionVersion identifies the stored position; it changes whenever the location is written.
func (p *Profile) PositionVersion() int64 {
	if p.LocationUpdatedAt == nil {
		return 0
	}
	return p.LocationUpdatedAt.UnixNano()
}
