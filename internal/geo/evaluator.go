// Package geo holds the pure containment and staleness decisions used by the
// alert scheduler, the on-demand check and the ingestion boundary. Nothing in
// here performs I/O or takes locks.
package geo

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"fleet-monitor/asset-tracking/internal/domain"
)

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// IsContained reports whether the fix lies inside or on the boundary of at
// least one zone. An empty zone set never contains anything.
func IsContained(fix domain.LocationFix, zones []domain.GeoZone) bool {
	pt := orb.Point{fix.Longitude, fix.Latitude}
	for _, z := range zones {
		if ringContains(z.Boundary, pt) {
			return true
		}
	}
	return false
}

// IsStale is strict: a fix exactly threshold old is still fresh.
func IsStale(lastFix, now time.Time, threshold time.Duration) bool {
	return now.Sub(lastFix) > threshold
}

func ValidateCoordinate(lat, lon float64) error {
	if lat < MinLatitude || lat > MaxLatitude || lon < MinLongitude || lon > MaxLongitude {
		return fmt.Errorf("%w: latitude=%v longitude=%v", domain.ErrInvalidLocation, lat, lon)
	}
	return nil
}

// ClosedRing validates (lon, lat) vertices and returns them as a ring whose
// last vertex equals the first.
func ClosedRing(vertices [][2]float64) (orb.Ring, error) {
	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, v := range vertices {
		if err := ValidateCoordinate(v[1], v[0]); err != nil {
			return nil, err
		}
		ring = append(ring, orb.Point{v[0], v[1]})
	}
	if len(ring) > 1 && ring[0].Equal(ring[len(ring)-1]) {
		ring = ring[:len(ring)-1]
	}
	if distinct(ring) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 distinct vertices", domain.ErrInvalidZone)
	}
	return append(ring, ring[0]), nil
}

// Centroid returns the area centroid of the zone, used as the representative
// coordinate of alerts raised for assets that never reported a fix.
func Centroid(zone domain.GeoZone) (domain.Coordinate, bool) {
	if len(zone.Boundary) < 3 {
		return domain.Coordinate{}, false
	}
	c, _ := planar.CentroidArea(orb.Polygon{closed(zone.Boundary)})
	return domain.Coordinate{Latitude: c.Lat(), Longitude: c.Lon()}, true
}

func ringContains(r orb.Ring, pt orb.Point) bool {
	if len(r) < 3 {
		return false
	}
	r = closed(r)
	if onBoundary(r, pt) {
		return true
	}
	return planar.RingContains(r, pt)
}

func closed(r orb.Ring) orb.Ring {
	if r[0].Equal(r[len(r)-1]) {
		return r
	}
	out := make(orb.Ring, len(r), len(r)+1)
	copy(out, r)
	return append(out, r[0])
}

func onBoundary(r orb.Ring, pt orb.Point) bool {
	for i := 0; i < len(r)-1; i++ {
		if onSegment(r[i], r[i+1], pt) {
			return true
		}
	}
	return false
}

func onSegment(a, b, p orb.Point) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if cross != 0 {
		return false
	}
	return p[0] >= min(a[0], b[0]) && p[0] <= max(a[0], b[0]) &&
		p[1] >= min(a[1], b[1]) && p[1] <= max(a[1], b[1])
}

func distinct(r orb.Ring) int {
	seen := make(map[orb.Point]struct{}, len(r))
	for _, p := range r {
		seen[p] = struct{}{}
	}
	return len(seen)
}
