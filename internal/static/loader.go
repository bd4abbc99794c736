package static

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/jamespfennell/gtfs"

	"transitscope.dev/internal/geometry"
	"transitscope.dev/internal/models"
)

// Data is the loaded static network: display routes with their shapes, the
// stops they serve, the trip to route mapping used by the decoder, and a
// projectable path per route. Loaded once and read-only for the process
// lifetime.
type Data struct {
	Routes      []models.Route
	Stops       []models.Stop
	TripToRoute map[string]string
	Geometries  map[string]*geometry.RoutePath
}

// Empty returns a Data with no routes, for running in realtime-only mode
// when no static source is configured.
func Empty() *Data {
	return &Data{
		TripToRoute: map[string]string{},
		Geometries:  map[string]*geometry.RoutePath{},
	}
}

func rawData(source string, isLocalFile bool) ([]byte, error) {
	if isLocalFile {
		b, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("error reading local GTFS file: %w", err)
		}
		return b, nil
	}

	resp, err := http.Get(source)
	if err != nil {
		return nil, fmt.Errorf("error downloading GTFS data: %w", err)
	}
	defer resp.Body.Close() // nolint

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GTFS download failed: HTTP %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading GTFS data: %w", err)
	}
	return b, nil
}

// Load reads a GTFS zip from a URL or a local file path and builds the
// static network data.
func Load(source string) (*Data, error) {
	isLocalFile := !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://")

	b, err := rawData(source, isLocalFile)
	if err != nil {
		return nil, err
	}

	staticData, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("error parsing GTFS data: %w", err)
	}

	return buildFromStatic(staticData), nil
}

func buildFromStatic(staticData *gtfs.Static) *Data {
	data := Empty()

	tripsByRoute := map[string][]*gtfs.ScheduledTrip{}
	for i := range staticData.Trips {
		trip := &staticData.Trips[i]
		if trip.Route == nil {
			continue
		}
		data.TripToRoute[trip.ID] = trip.Route.Id
		tripsByRoute[trip.Route.Id] = append(tripsByRoute[trip.Route.Id], trip)
	}

	for i := range staticData.Routes {
		route := &staticData.Routes[i]

		representative := representativeTrip(tripsByRoute[route.Id])
		shape := shapeCoordinates(representative)
		data.Geometries[route.Id] = geometry.BuildRoutePath(shape)

		data.Routes = append(data.Routes, models.Route{
			ID:    route.Id,
			Name:  resolveRouteName(route),
			Mode:  modeForRouteType(int32(route.Type)),
			Color: normalizeColor(route.Color),
			Shape: shape,
		})

		data.Stops = append(data.Stops, stopsForTrip(route.Id, representative)...)
	}

	return data
}

// representativeTrip picks the trip whose stop sequence best represents the
// route: the one with the most stop times, ties broken by the longer shape.
func representativeTrip(trips []*gtfs.ScheduledTrip) *gtfs.ScheduledTrip {
	var best *gtfs.ScheduledTrip
	for _, trip := range trips {
		if best == nil {
			best = trip
			continue
		}
		if len(trip.StopTimes) > len(best.StopTimes) {
			best = trip
			continue
		}
		if len(trip.StopTimes) == len(best.StopTimes) && shapeLen(trip) > shapeLen(best) {
			best = trip
		}
	}
	return best
}

func shapeLen(trip *gtfs.ScheduledTrip) int {
	if trip.Shape == nil {
		return 0
	}
	return len(trip.Shape.Points)
}

func shapeCoordinates(trip *gtfs.ScheduledTrip) []models.Coordinate {
	if trip == nil || trip.Shape == nil {
		return nil
	}
	coords := make([]models.Coordinate, 0, len(trip.Shape.Points))
	for _, point := range trip.Shape.Points {
		coords = append(coords, models.Coordinate{Lon: point.Longitude, Lat: point.Latitude})
	}
	return coords
}

func stopsForTrip(routeID string, trip *gtfs.ScheduledTrip) []models.Stop {
	if trip == nil {
		return nil
	}
	stops := make([]models.Stop, 0, len(trip.StopTimes))
	for _, stopTime := range trip.StopTimes {
		stop := stopTime.Stop
		if stop == nil || stop.Latitude == nil || stop.Longitude == nil {
			continue
		}
		stops = append(stops, models.Stop{
			ID:        stop.Id,
			Name:      stop.Name,
			RouteID:   routeID,
			Latitude:  *stop.Latitude,
			Longitude: *stop.Longitude,
		})
	}
	return stops
}

func resolveRouteName(route *gtfs.Route) string {
	if route.ShortName != "" {
		return route.ShortName
	}
	if route.LongName != "" {
		return route.LongName
	}
	return route.Id
}

// modeForRouteType maps the GTFS route_type code to a display mode.
func modeForRouteType(routeType int32) string {
	switch routeType {
	case 0, 5:
		return "tram"
	case 1:
		return "metro"
	case 2:
		return "rail"
	case 4:
		return "ferry"
	default:
		return "bus"
	}
}

func normalizeColor(color string) string {
	if color == "" {
		return "#888888"
	}
	if strings.HasPrefix(color, "#") {
		return color
	}
	return "#" + color
}
