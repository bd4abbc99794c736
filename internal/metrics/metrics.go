package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the process registry and the instruments for the poll and
// publish pipeline. It satisfies the metrics hooks of the feed poller and
// the snapshot cache.
type Collector struct {
	reg *prometheus.Registry

	PollCycles   *prometheus.CounterVec // outcome label: success|empty|error
	PollDuration prometheus.Histogram

	FeedFetchErrs *prometheus.CounterVec // kind label: transport|status|protocol
	FeedBytes     prometheus.Counter
	FeedEntities  prometheus.Counter

	Vehicles    prometheus.Gauge
	Subscribers prometheus.Gauge
	LiveClients prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
}

// NewCollector creates and registers all instruments on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitscope_poll_cycles_total",
			Help: "Completed poll cycles by aggregated outcome.",
		}, []string{"outcome"}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitscope_poll_duration_seconds",
			Help:    "Duration of full poll cycles.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		FeedFetchErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitscope_feed_fetch_errors_total",
			Help: "Per-feed fetch failures by kind.",
		}, []string{"kind"}),
		FeedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitscope_feed_bytes_total",
			Help: "Total bytes fetched from vehicle feeds.",
		}),
		FeedEntities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitscope_feed_entities_total",
			Help: "Total vehicle entities decoded from feeds.",
		}),
		Vehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitscope_vehicles",
			Help: "Vehicles in the current snapshot.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitscope_snapshot_subscribers",
			Help: "Active snapshot subscribers.",
		}),
		LiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitscope_live_clients",
			Help: "Connected live WebSocket clients.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitscope_nats_published_total",
			Help: "Vehicle messages published to NATS.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitscope_nats_publish_errors_total",
			Help: "Failed NATS publishes.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitscope_nats_connected",
			Help: "Whether the NATS connection is up (1) or down (0).",
		}),
	}

	reg.MustRegister(
		c.PollCycles, c.PollDuration,
		c.FeedFetchErrs, c.FeedBytes, c.FeedEntities,
		c.Vehicles, c.Subscribers, c.LiveClients,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
	)

	return c
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Feed poller hooks.

func (c *Collector) FeedFetchErrInc(kind string) { c.FeedFetchErrs.WithLabelValues(kind).Inc() }

func (c *Collector) FeedFetched(bytes, entities int) {
	c.FeedBytes.Add(float64(bytes))
	c.FeedEntities.Add(float64(entities))
}

// Snapshot cache hooks.

func (c *Collector) PollCycleInc(outcome string) { c.PollCycles.WithLabelValues(outcome).Inc() }
func (c *Collector) PollObserve(d time.Duration) { c.PollDuration.Observe(d.Seconds()) }
func (c *Collector) SetVehicles(n int)           { c.Vehicles.Set(float64(n)) }
func (c *Collector) SetSubscribers(n int)        { c.Subscribers.Set(float64(n)) }

// NATS publisher hooks.

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
