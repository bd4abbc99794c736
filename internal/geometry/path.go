package geometry

import (
	"math"

	"transitscope.dev/internal/models"
)

// planarPoint is a path coordinate projected into the path's local planar
// frame: x metres east and y metres north of the first coordinate.
type planarPoint struct {
	x float64
	y float64
}

// RoutePath is the projectable form of a route's shape. It is built once per
// route and never mutated; if the shape changes a new path is built.
type RoutePath struct {
	coordinates []models.Coordinate
	planar      []planarPoint
	cumulative  []float64
	totalLength float64

	origin       models.Coordinate
	metresPerLat float64
	metresPerLon float64
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// metresPerDegreeLatitude returns the length of one degree of latitude at
// the given latitude, using the standard WGS84 cosine-series approximation.
func metresPerDegreeLatitude(latitude float64) float64 {
	return 111132.92 -
		559.82*math.Cos(2*toRadians(latitude)) +
		1.175*math.Cos(4*toRadians(latitude)) -
		0.0023*math.Cos(6*toRadians(latitude))
}

// metresPerDegreeLongitude returns the length of one degree of longitude at
// the given latitude.
func metresPerDegreeLongitude(latitude float64) float64 {
	return 111412.84*math.Cos(toRadians(latitude)) -
		93.5*math.Cos(3*toRadians(latitude)) +
		0.118*math.Cos(5*toRadians(latitude))
}

// BuildRoutePath converts an ordered coordinate sequence into a RoutePath
// with planar offsets and cumulative arc lengths. The planar scale factors
// are fixed from the first coordinate's latitude for the whole path, which
// keeps projection and inverse projection mutually consistent. An empty
// input yields an empty path with zero length, never an error.
func BuildRoutePath(coordinates []models.Coordinate) *RoutePath {
	path := &RoutePath{coordinates: coordinates}
	if len(coordinates) == 0 {
		return path
	}

	path.origin = coordinates[0]
	path.metresPerLat = metresPerDegreeLatitude(path.origin.Lat)
	path.metresPerLon = metresPerDegreeLongitude(path.origin.Lat)

	path.planar = make([]planarPoint, len(coordinates))
	for i, c := range coordinates {
		path.planar[i] = planarPoint{
			x: (c.Lon - path.origin.Lon) * path.metresPerLon,
			y: (c.Lat - path.origin.Lat) * path.metresPerLat,
		}
	}

	path.cumulative = make([]float64, len(coordinates))
	for i := 1; i < len(path.planar); i++ {
		dx := path.planar[i].x - path.planar[i-1].x
		dy := path.planar[i].y - path.planar[i-1].y
		path.totalLength += math.Hypot(dx, dy)
		path.cumulative[i] = path.totalLength
	}

	return path
}

// Coordinates returns the raw coordinate sequence the path was built from.
func (p *RoutePath) Coordinates() []models.Coordinate {
	return p.coordinates
}

// TotalLength returns the path length in metres.
func (p *RoutePath) TotalLength() float64 {
	return p.totalLength
}

// CumulativeAt returns the arc length in metres at coordinate index i.
func (p *RoutePath) CumulativeAt(i int) float64 {
	return p.cumulative[i]
}

// PointAt returns the coordinate and forward bearing at the given arc length
// along the path, clamping the distance to [0, TotalLength]. The second
// return is false when the path has fewer than two points.
func (p *RoutePath) PointAt(distance float64) (models.Coordinate, float64, bool) {
	if len(p.planar) < 2 {
		return models.Coordinate{}, 0, false
	}
	distance = math.Max(0, math.Min(distance, p.totalLength))

	i := 1
	for i < len(p.cumulative)-1 && distance > p.cumulative[i] {
		i++
	}
	for i < len(p.cumulative)-1 && p.cumulative[i] == p.cumulative[i-1] {
		i++
	}

	a, b := p.planar[i-1], p.planar[i]
	segLen := p.cumulative[i] - p.cumulative[i-1]
	t := 0.0
	if segLen > 0 {
		t = (distance - p.cumulative[i-1]) / segLen
	}

	x := a.x + t*(b.x-a.x)
	y := a.y + t*(b.y-a.y)
	bearing := math.Mod(math.Atan2(b.x-a.x, b.y-a.y)*180/math.Pi+360, 360)
	return models.Coordinate{
		Lon: p.origin.Lon + x/p.metresPerLon,
		Lat: p.origin.Lat + y/p.metresPerLat,
	}, bearing, true
}
