package feed

import (
	"fmt"
	"math"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"transitscope.dev/internal/geometry"
	"transitscope.dev/internal/models"
)

const metresPerSecondToKPH = 3.6

// DecodeContext carries the static lookups used to normalize decoded
// entities. Both maps are read-only for the process lifetime.
type DecodeContext struct {
	// TripToRoute maps trip ids to route ids for entities that carry a trip
	// reference but no explicit route.
	TripToRoute map[string]string
	// Geometries maps route ids to their projectable paths.
	Geometries map[string]*geometry.RoutePath
}

// routeResolution is the outcome of the three-step route lookup. Resolved is
// false when the sentinel route was assigned.
type routeResolution struct {
	routeID  string
	resolved bool
}

// resolveRoute applies the resolution order: explicit route id on the
// entity, then the trip id lookup, then the sentinel. A vehicle is never
// dropped for an unresolved route.
func resolveRoute(trip *gtfsrt.TripDescriptor, tripToRoute map[string]string) routeResolution {
	if trip != nil && trip.RouteId != nil && *trip.RouteId != "" {
		return routeResolution{routeID: *trip.RouteId, resolved: true}
	}
	if trip != nil && trip.TripId != nil {
		if routeID, ok := tripToRoute[*trip.TripId]; ok && routeID != "" {
			return routeResolution{routeID: routeID, resolved: true}
		}
	}
	return routeResolution{routeID: models.UnknownRoute}
}

func resolveTimestamp(vehicleTS *uint64, headerTS *uint64) string {
	var epoch int64
	switch {
	case vehicleTS != nil:
		epoch = int64(*vehicleTS)
	case headerTS != nil:
		epoch = int64(*headerTS)
	default:
		epoch = time.Now().Unix()
	}
	return time.Unix(epoch, 0).UTC().Format(time.RFC3339)
}

func resolveID(descriptor *gtfsrt.VehicleDescriptor, entityID *string, routeID string, ordinal int) string {
	if descriptor != nil && descriptor.Id != nil && *descriptor.Id != "" {
		return *descriptor.Id
	}
	if entityID != nil && *entityID != "" {
		return *entityID
	}
	return fmt.Sprintf("%s-%d", routeID, ordinal)
}

func normalizeBearing(bearing float64) float64 {
	b := math.Mod(bearing, 360)
	if b < 0 {
		b += 360
	}
	return b
}

// DecodeVehicles parses one raw GTFS-RT payload and returns the normalized
// vehicle positions it contains. A payload that does not unmarshal as a feed
// message is an error; individual entities without a vehicle, a position, or
// finite coordinates are skipped without error.
func DecodeVehicles(raw []byte, dctx DecodeContext) ([]models.VehiclePosition, error) {
	var message gtfsrt.FeedMessage
	if err := proto.Unmarshal(raw, &message); err != nil {
		return nil, fmt.Errorf("unmarshal feed message: %w", err)
	}

	var headerTS *uint64
	if message.Header != nil {
		headerTS = message.Header.Timestamp
	}

	vehicles := make([]models.VehiclePosition, 0, len(message.Entity))
	for _, entity := range message.Entity {
		vehicle := entity.Vehicle
		if vehicle == nil || vehicle.Position == nil {
			continue
		}
		position := vehicle.Position
		if position.Latitude == nil || position.Longitude == nil {
			continue
		}
		lat := float64(*position.Latitude)
		lon := float64(*position.Longitude)
		if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
			continue
		}

		resolution := resolveRoute(vehicle.Trip, dctx.TripToRoute)

		published := models.VehiclePosition{
			RouteID:   resolution.routeID,
			Latitude:  lat,
			Longitude: lon,
			UpdatedAt: resolveTimestamp(vehicle.Timestamp, headerTS),
		}

		var derivedBearing float64
		if path, ok := dctx.Geometries[resolution.routeID]; ok && path != nil {
			if projection, ok := path.Project(models.Coordinate{Lon: lon, Lat: lat}); ok {
				published.Latitude = projection.Point.Lat
				published.Longitude = projection.Point.Lon
				progress := projection.Progress
				published.Progress = &progress
				derivedBearing = projection.Bearing
			}
		}

		// A reported heading is trusted over the path tangent.
		if position.Bearing != nil && !math.IsNaN(float64(*position.Bearing)) {
			published.Bearing = normalizeBearing(float64(*position.Bearing))
		} else {
			published.Bearing = derivedBearing
		}

		if position.Speed != nil && !math.IsNaN(float64(*position.Speed)) {
			kph := float64(*position.Speed) * metresPerSecondToKPH
			published.SpeedKPH = &kph
		}

		published.ID = resolveID(vehicle.Vehicle, entity.Id, resolution.routeID, len(vehicles))

		vehicles = append(vehicles, published)
	}

	return vehicles, nil
}
