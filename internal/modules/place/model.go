// README: Place model and reference parsing.
package place

import (
	"errors"
	"strconv"
	"strings"

	"trigo/internal/types"
)

// GooglePrefix marks a reference resolved through Google Places.
const GooglePrefix = "google:"

var (
	ErrNotFound   = errors.New("place not found")
	ErrCacheMiss  = errors.New("place cache miss")
	ErrInvalidRef = errors.New("invalid place reference")
)

// Place is a named location with a fixed coordinate.
type Place struct {
	Ref     string      `json:"ref"`
	Name    string      `json:"name"`
	Address string      `json:"address"`
	Point   types.Point `json:"point"`
}

// RefKind tells where a reference resolves.
type RefKind int

const (
	RefDirectory RefKind = iota + 1
	RefGoogle
)

// ParseRef classifies ref. Directory refs are positive integers; Google refs are "google:<place_id>".
func ParseRef(ref string) (RefKind, string, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, GooglePrefix) {
		id := strings.TrimPrefix(ref, GooglePrefix)
		if id == "" {
			return 0, "", ErrInvalidRef
		}
		return RefGoogle, id, nil
	}
	n, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || n <= 0 {
		return 0, "", ErrInvalidRef
	}
	return RefDirectory, ref, nil
}

// DirectoryRef formats a directory id as a reference.
func DirectoryRef(id int64) string {
	return strconv.FormatInt(id, 10)
}
