package feed

import (
	"math"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"transitscope.dev/internal/geometry"
	"transitscope.dev/internal/models"
)

func marshalFeed(t *testing.T, headerTS *uint64, entities ...*gtfsrt.FeedEntity) []byte {
	t.Helper()
	message := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           headerTS,
		},
		Entity: entities,
	}
	b, err := proto.Marshal(message)
	require.NoError(t, err)
	return b
}

func vehicleEntity(id string, vehicle *gtfsrt.VehiclePosition) *gtfsrt.FeedEntity {
	return &gtfsrt.FeedEntity{Id: proto.String(id), Vehicle: vehicle}
}

func position(lat, lon float64) *gtfsrt.Position {
	return &gtfsrt.Position{
		Latitude:  proto.Float32(float32(lat)),
		Longitude: proto.Float32(float32(lon)),
	}
}

func emptyContext() DecodeContext {
	return DecodeContext{
		TripToRoute: map[string]string{},
		Geometries:  map[string]*geometry.RoutePath{},
	}
}

func TestDecodeVehicles_MalformedPayload(t *testing.T) {
	_, err := DecodeVehicles([]byte{0xff, 0xff, 0xff}, emptyContext())
	assert.Error(t, err)
}

func TestDecodeVehicles_SkipsEntitiesWithoutVehicleOrPosition(t *testing.T) {
	raw := marshalFeed(t, proto.Uint64(1700000000),
		&gtfsrt.FeedEntity{Id: proto.String("no-vehicle")},
		vehicleEntity("no-position", &gtfsrt.VehiclePosition{}),
		vehicleEntity("nan-coords", &gtfsrt.VehiclePosition{
			Position: &gtfsrt.Position{
				Latitude:  proto.Float32(float32(math.NaN())),
				Longitude: proto.Float32(-2.24),
			},
		}),
		vehicleEntity("good", &gtfsrt.VehiclePosition{Position: position(53.48, -2.24)}),
	)

	vehicles, err := DecodeVehicles(raw, emptyContext())
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, "good", vehicles[0].ID)
}

func TestDecodeVehicles_UnresolvedRoute(t *testing.T) {
	// A report with no trip or route reference is still published, under
	// the sentinel route, at its raw coordinates and with no progress.
	raw := marshalFeed(t, proto.Uint64(1700000000),
		vehicleEntity("v1", &gtfsrt.VehiclePosition{Position: position(53.48, -2.24)}),
	)

	vehicles, err := DecodeVehicles(raw, emptyContext())
	require.NoError(t, err)
	require.Len(t, vehicles, 1)

	v := vehicles[0]
	assert.Equal(t, models.UnknownRoute, v.RouteID)
	assert.InDelta(t, 53.48, v.Latitude, 1e-6)
	assert.InDelta(t, -2.24, v.Longitude, 1e-6)
	assert.Nil(t, v.Progress)
}

func TestDecodeVehicles_RouteResolutionOrder(t *testing.T) {
	tripToRoute := map[string]string{"trip-7": "route-b"}
	dctx := DecodeContext{TripToRoute: tripToRoute, Geometries: map[string]*geometry.RoutePath{}}

	raw := marshalFeed(t, proto.Uint64(1700000000),
		vehicleEntity("explicit", &gtfsrt.VehiclePosition{
			Trip:     &gtfsrt.TripDescriptor{TripId: proto.String("trip-7"), RouteId: proto.String("route-a")},
			Position: position(53.48, -2.24),
		}),
		vehicleEntity("via-trip", &gtfsrt.VehiclePosition{
			Trip:     &gtfsrt.TripDescriptor{TripId: proto.String("trip-7")},
			Position: position(53.48, -2.24),
		}),
		vehicleEntity("unmatched", &gtfsrt.VehiclePosition{
			Trip:     &gtfsrt.TripDescriptor{TripId: proto.String("trip-unknown")},
			Position: position(53.48, -2.24),
		}),
	)

	vehicles, err := DecodeVehicles(raw, dctx)
	require.NoError(t, err)
	require.Len(t, vehicles, 3)

	assert.Equal(t, "route-a", vehicles[0].RouteID, "explicit route id wins")
	assert.Equal(t, "route-b", vehicles[1].RouteID, "trip lookup second")
	assert.Equal(t, models.UnknownRoute, vehicles[2].RouteID, "sentinel last")
}

func TestDecodeVehicles_ProjectionAndBearing(t *testing.T) {
	path := geometry.BuildRoutePath([]models.Coordinate{
		{Lon: -2.2500, Lat: 53.4800},
		{Lon: -2.2400, Lat: 53.4800},
	})
	dctx := DecodeContext{
		TripToRoute: map[string]string{},
		Geometries:  map[string]*geometry.RoutePath{"route-1": path},
	}

	raw := marshalFeed(t, proto.Uint64(1700000000),
		vehicleEntity("derived-bearing", &gtfsrt.VehiclePosition{
			Trip:     &gtfsrt.TripDescriptor{RouteId: proto.String("route-1")},
			Position: position(53.4810, -2.2450), // north of the midpoint
		}),
		vehicleEntity("explicit-bearing", &gtfsrt.VehiclePosition{
			Trip: &gtfsrt.TripDescriptor{RouteId: proto.String("route-1")},
			Position: &gtfsrt.Position{
				Latitude:  proto.Float32(53.4810),
				Longitude: proto.Float32(-2.2450),
				Bearing:   proto.Float32(275),
			},
		}),
	)

	vehicles, err := DecodeVehicles(raw, dctx)
	require.NoError(t, err)
	require.Len(t, vehicles, 2)

	derived := vehicles[0]
	assert.InDelta(t, 53.4800, derived.Latitude, 1e-5, "snapped onto the path")
	assert.InDelta(t, -2.2450, derived.Longitude, 1e-4)
	require.NotNil(t, derived.Progress)
	assert.InDelta(t, 0.5, *derived.Progress, 0.01)
	assert.InDelta(t, 90, derived.Bearing, 1e-3, "bearing from the path segment")

	explicit := vehicles[1]
	assert.Equal(t, 275.0, explicit.Bearing, "reported bearing wins over the path tangent")
	require.NotNil(t, explicit.Progress)
}

func TestDecodeVehicles_SpeedConversion(t *testing.T) {
	raw := marshalFeed(t, proto.Uint64(1700000000),
		vehicleEntity("with-speed", &gtfsrt.VehiclePosition{
			Position: &gtfsrt.Position{
				Latitude:  proto.Float32(53.48),
				Longitude: proto.Float32(-2.24),
				Speed:     proto.Float32(10), // m/s
			},
		}),
		vehicleEntity("no-speed", &gtfsrt.VehiclePosition{Position: position(53.48, -2.24)}),
	)

	vehicles, err := DecodeVehicles(raw, emptyContext())
	require.NoError(t, err)
	require.Len(t, vehicles, 2)

	require.NotNil(t, vehicles[0].SpeedKPH)
	assert.InDelta(t, 36.0, *vehicles[0].SpeedKPH, 1e-6)
	assert.Nil(t, vehicles[1].SpeedKPH, "absent speed stays absent, not zero")
}

func TestDecodeVehicles_TimestampResolution(t *testing.T) {
	entityTS := uint64(1700000100)
	headerTS := uint64(1700000000)

	raw := marshalFeed(t, &headerTS,
		vehicleEntity("own-ts", &gtfsrt.VehiclePosition{
			Position:  position(53.48, -2.24),
			Timestamp: &entityTS,
		}),
		vehicleEntity("header-ts", &gtfsrt.VehiclePosition{Position: position(53.48, -2.24)}),
	)

	vehicles, err := DecodeVehicles(raw, emptyContext())
	require.NoError(t, err)
	require.Len(t, vehicles, 2)

	assert.Equal(t, time.Unix(1700000100, 0).UTC().Format(time.RFC3339), vehicles[0].UpdatedAt)
	assert.Equal(t, time.Unix(1700000000, 0).UTC().Format(time.RFC3339), vehicles[1].UpdatedAt)
}

func TestDecodeVehicles_FallsBackToCurrentTime(t *testing.T) {
	raw := marshalFeed(t, nil,
		vehicleEntity("no-ts", &gtfsrt.VehiclePosition{Position: position(53.48, -2.24)}),
	)

	before := time.Now().UTC()
	vehicles, err := DecodeVehicles(raw, emptyContext())
	after := time.Now().UTC()
	require.NoError(t, err)
	require.Len(t, vehicles, 1)

	parsed, err := time.Parse(time.RFC3339, vehicles[0].UpdatedAt)
	require.NoError(t, err)
	assert.False(t, parsed.Before(before.Truncate(time.Second)))
	assert.False(t, parsed.After(after.Add(time.Second)))
}

func TestDecodeVehicles_IdentifierFallback(t *testing.T) {
	raw := marshalFeed(t, proto.Uint64(1700000000),
		vehicleEntity("entity-1", &gtfsrt.VehiclePosition{
			Vehicle:  &gtfsrt.VehicleDescriptor{Id: proto.String("bus-42")},
			Position: position(53.48, -2.24),
		}),
		vehicleEntity("entity-2", &gtfsrt.VehiclePosition{Position: position(53.48, -2.24)}),
		vehicleEntity("", &gtfsrt.VehiclePosition{Position: position(53.48, -2.24)}),
	)

	vehicles, err := DecodeVehicles(raw, emptyContext())
	require.NoError(t, err)
	require.Len(t, vehicles, 3)

	assert.Equal(t, "bus-42", vehicles[0].ID)
	assert.Equal(t, "entity-2", vehicles[1].ID)
	assert.Equal(t, "unknown-2", vehicles[2].ID, "synthesized from route and ordinal")
}

func TestNormalizeBearing(t *testing.T) {
	assert.Equal(t, 0.0, normalizeBearing(360))
	assert.Equal(t, 270.0, normalizeBearing(-90))
	assert.Equal(t, 5.0, normalizeBearing(365))
}
