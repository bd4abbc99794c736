package geometry

import (
	"math"

	"transitscope.dev/internal/models"
)

// Projection is the result of snapping a reported point onto a RoutePath.
type Projection struct {
	// Point is the snapped coordinate on the path.
	Point models.Coordinate
	// DistanceAlong is the arc length in metres from the path start to Point.
	DistanceAlong float64
	// Progress is DistanceAlong over total length, clamped to [0,1].
	Progress float64
	// Bearing is the direction of the winning segment, clockwise from north
	// in [0,360). It depends on the segment, not on where along it the
	// point landed.
	Bearing float64
}

// Project finds the nearest point on the path to pt. It is an exact
// O(segments) scan; routes are a few hundred points so no spatial index is
// needed. Ties go to the lowest segment index. Returns false when the path
// has fewer than two coordinates.
func (p *RoutePath) Project(pt models.Coordinate) (Projection, bool) {
	if len(p.planar) < 2 {
		return Projection{}, false
	}

	px := (pt.Lon - p.origin.Lon) * p.metresPerLon
	py := (pt.Lat - p.origin.Lat) * p.metresPerLat

	bestDistSq := math.Inf(1)
	bestSegment := 0
	bestT := 0.0

	for i := 0; i < len(p.planar)-1; i++ {
		start := p.planar[i]
		end := p.planar[i+1]
		dx := end.x - start.x
		dy := end.y - start.y
		lengthSq := dx*dx + dy*dy
		if lengthSq == 0 {
			// Duplicate consecutive coordinates contribute no segment.
			continue
		}
		t := ((px-start.x)*dx + (py-start.y)*dy) / lengthSq
		t = math.Max(0, math.Min(1, t))
		projX := start.x + t*dx
		projY := start.y + t*dy
		distSq := (px-projX)*(px-projX) + (py-projY)*(py-projY)
		if distSq < bestDistSq {
			bestDistSq = distSq
			bestSegment = i
			bestT = t
		}
	}

	start := p.planar[bestSegment]
	end := p.planar[bestSegment+1]
	dx := end.x - start.x
	dy := end.y - start.y
	segmentLength := math.Hypot(dx, dy)

	distanceAlong := p.cumulative[bestSegment] + segmentLength*bestT
	progress := 0.0
	if p.totalLength > 0 {
		progress = math.Max(0, math.Min(1, distanceAlong/p.totalLength))
	}

	projX := start.x + dx*bestT
	projY := start.y + dy*bestT

	bearing := math.Atan2(dx, dy) * 180 / math.Pi
	bearing = math.Mod(bearing+360, 360)

	return Projection{
		Point: models.Coordinate{
			Lon: p.origin.Lon + projX/p.metresPerLon,
			Lat: p.origin.Lat + projY/p.metresPerLat,
		},
		DistanceAlong: distanceAlong,
		Progress:      progress,
		Bearing:       bearing,
	}, true
}
