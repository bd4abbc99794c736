package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"transitscope.dev/internal/geometry"
	"transitscope.dev/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func feedServer(t *testing.T, ids ...string) *httptest.Server {
	t.Helper()
	entities := make([]*gtfsrt.FeedEntity, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, vehicleEntity(id, &gtfsrt.VehiclePosition{
			Position: position(53.48, -2.24),
		}))
	}
	body := marshalFeed(t, proto.Uint64(1700000000), entities...)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
}

func TestPoll_NoFeedsConfigured(t *testing.T) {
	p := NewPoller(nil, emptyContext(), testLogger())

	result, err := p.Poll(context.Background())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrNoFeeds)
}

func TestPoll_MergesFeedsInConfiguredOrder(t *testing.T) {
	first := feedServer(t, "a1", "a2")
	defer first.Close()
	second := feedServer(t, "b1")
	defer second.Close()

	p := NewPoller([]string{first.URL, second.URL}, emptyContext(), testLogger())

	result, err := p.Poll(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, v := range result.Vehicles {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"a1", "a2", "b1"}, ids)

	require.Len(t, result.Diagnostics, 2)
	assert.Equal(t, first.URL, result.Diagnostics[0].URL)
	assert.Equal(t, second.URL, result.Diagnostics[1].URL)
	assert.False(t, result.EmptyFeeds)
}

func TestPoll_OneFeedDownDoesNotAbortOthers(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer slow.Close()
	healthy := feedServer(t, "v1", "v2", "v3")
	defer healthy.Close()

	p := NewPoller(
		[]string{slow.URL, healthy.URL},
		emptyContext(),
		testLogger(),
		WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}),
	)

	result, err := p.Poll(context.Background())
	require.NoError(t, err, "a single failed feed must not fail the cycle")
	assert.Len(t, result.Vehicles, 3)

	require.Len(t, result.Diagnostics, 2)
	down := result.Diagnostics[0]
	assert.False(t, down.OK)
	assert.NotEmpty(t, down.Error)
	assert.Nil(t, down.Entities, "never decoded, so no entity count")

	up := result.Diagnostics[1]
	assert.True(t, up.OK)
	assert.Equal(t, http.StatusOK, up.HTTPStatus)
	require.NotNil(t, up.Entities)
	assert.Equal(t, 3, *up.Entities)
}

func TestPoll_HTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewPoller([]string{srv.URL}, emptyContext(), testLogger())

	result, err := p.Poll(context.Background())
	require.Error(t, err)

	var terr *TransportError
	assert.ErrorAs(t, err, &terr)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, http.StatusForbidden, result.Diagnostics[0].HTTPStatus)
}

func TestPoll_UndecodablePayload(t *testing.T) {
	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}))
	defer garbage.Close()
	healthy := feedServer(t, "v1")
	defer healthy.Close()

	p := NewPoller([]string{garbage.URL, healthy.URL}, emptyContext(), testLogger())

	result, err := p.Poll(context.Background())
	require.NoError(t, err, "the healthy feed keeps the cycle alive")
	assert.Len(t, result.Vehicles, 1)

	bad := result.Diagnostics[0]
	assert.False(t, bad.OK)
	assert.Equal(t, http.StatusOK, bad.HTTPStatus)
	assert.Equal(t, 4, bad.Bytes, "payload was fetched before it failed to decode")
	assert.Nil(t, bad.Entities)
}

func TestPoll_AllFeedsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPoller([]string{srv.URL, srv.URL}, emptyContext(), testLogger())

	result, err := p.Poll(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoFeeds)
	require.NotNil(t, result, "diagnostics survive a fully failed cycle")
	assert.Len(t, result.Diagnostics, 2)
	assert.Empty(t, result.Vehicles)
}

func TestPoll_EmptyFeedsFlag(t *testing.T) {
	empty := feedServer(t)
	defer empty.Close()

	p := NewPoller([]string{empty.URL}, emptyContext(), testLogger())

	result, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, result.EmptyFeeds)
	assert.Empty(t, result.Vehicles)
	require.Len(t, result.Diagnostics, 1)
	assert.True(t, result.Diagnostics[0].OK)
}

func TestPoll_AuthHeaderForwarded(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Api-Key")
		_, _ = w.Write(marshalFeed(t, proto.Uint64(1700000000)))
	}))
	defer srv.Close()

	p := NewPoller([]string{srv.URL}, emptyContext(), testLogger(), WithAuthHeader("X-Api-Key", "secret"))

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", got)
}

func TestPoll_DecodeUsesGeometry(t *testing.T) {
	path := geometry.BuildRoutePath([]models.Coordinate{
		{Lon: -2.2500, Lat: 53.4800},
		{Lon: -2.2400, Lat: 53.4800},
	})
	dctx := DecodeContext{
		TripToRoute: map[string]string{"trip-1": "route-1"},
		Geometries:  map[string]*geometry.RoutePath{"route-1": path},
	}

	body := marshalFeed(t, proto.Uint64(1700000000),
		vehicleEntity("v1", &gtfsrt.VehiclePosition{
			Trip:     &gtfsrt.TripDescriptor{TripId: proto.String("trip-1")},
			Position: position(53.4805, -2.2450),
		}),
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	p := NewPoller([]string{srv.URL}, dctx, testLogger())

	result, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Vehicles, 1)

	v := result.Vehicles[0]
	assert.Equal(t, "route-1", v.RouteID)
	require.NotNil(t, v.Progress)
	assert.InDelta(t, 0.5, *v.Progress, 0.01)
}

func TestTransportErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &TransportError{URL: "https://feed.example/pb", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "feed.example")
}

func TestPoll_IdempotentAcrossCycles(t *testing.T) {
	srv := feedServer(t, "v1", "v2")
	defer srv.Close()

	p := NewPoller([]string{srv.URL}, emptyContext(), testLogger())

	first, err := p.Poll(context.Background())
	require.NoError(t, err)
	second, err := p.Poll(context.Background())
	require.NoError(t, err)

	// An unchanged upstream feed yields identical vehicle lists; the header
	// timestamp drives UpdatedAt, so it repeats too.
	assert.Equal(t, first.Vehicles, second.Vehicles)
	assert.Equal(t, first.EmptyFeeds, second.EmptyFeeds)

	require.Len(t, first.Diagnostics, 1)
	require.Len(t, second.Diagnostics, 1)
	a, b := first.Diagnostics[0], second.Diagnostics[0]
	b.At = a.At
	assert.Equal(t, a, b, "diagnostics differ only in the attempt timestamp")
}

func TestPoll_FailuresLoggedWithPollerLogger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	p := NewPoller([]string{srv.URL}, emptyContext(), logger)

	_, err := p.Poll(context.Background())
	require.Error(t, err)

	output := buf.String()
	assert.Contains(t, output, "feed poll failed")
	assert.Contains(t, output, srv.URL)
	assert.Contains(t, output, `"component":"feed_poller"`)
}
