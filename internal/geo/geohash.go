// README: Geohash cells used to narrow candidate scans before the exact haversine filter.
package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"trigo/internal/types"
)

// HashPrecision is the precision stored alongside every ride pickup.
const HashPrecision uint = 6

const (
	kmPerDegree = earthRadiusKm * math.Pi / 180
	// Great-circle and parallel distances drift apart slightly; cells must beat the radius by this factor.
	coverMargin = 1.01
	// Above this latitude cell widths collapse and neighbor cells stop being useful.
	maxCoverLatitude = 80.0
)

// Encode returns the stored-precision geohash of p.
func Encode(p types.Point) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, HashPrecision)
}

// CoverCells returns geohash prefixes whose union contains every point within
// radiusKm of p: the cell holding p plus its eight neighbors, at the finest
// precision whose cell is at least radiusKm wide and tall. A nil result means
// no prefix cover exists and the caller must scan without a prefilter.
func CoverCells(p types.Point, radiusKm float64) []string {
	if radiusKm <= 0 || math.Abs(p.Lat) > maxCoverLatitude {
		return nil
	}
	for precision := HashPrecision; precision >= 1; precision-- {
		center := geohash.EncodeWithPrecision(p.Lat, p.Lng, precision)
		box := geohash.BoundingBox(center)

		cellLat := box.MaxLat - box.MinLat
		cellLng := box.MaxLng - box.MinLng
		// Neighbors do not wrap cleanly across the poles or the antimeridian.
		if box.MaxLat+cellLat > 90 || box.MinLat-cellLat < -90 ||
			box.MaxLng+cellLng > 180 || box.MinLng-cellLng < -180 {
			continue
		}

		heightKm := cellLat * kmPerDegree
		// Width is narrowest at the most poleward latitude the radius can reach.
		edgeLat := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat)) + radiusKm/kmPerDegree
		if edgeLat >= 90 {
			return nil
		}
		widthKm := cellLng * kmPerDegree * math.Cos(degreesToRadians(edgeLat))

		need := radiusKm * coverMargin
		if heightKm >= need && widthKm >= need {
			return append([]string{center}, geohash.Neighbors(center)...)
		}
	}
	return nil
}

// InCells reports whether hash falls under any of the prefixes.
func InCells(hash string, cells []string) bool {
	for _, c := range cells {
		if len(hash) >= len(c) && hash[:len(c)] == c {
			return true
		}
	}
	return false
}
