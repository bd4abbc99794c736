package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"transitscope.dev/internal/feed"
	"transitscope.dev/internal/logging"
	"transitscope.dev/internal/models"
)

// Poller is the upstream source of poll cycles. Satisfied by *feed.Poller.
type Poller interface {
	Poll(ctx context.Context) (*feed.PollResult, error)
}

// Metrics is the optional instrumentation hook for cache activity.
type Metrics interface {
	PollCycleInc(outcome string)
	PollObserve(d time.Duration)
	SetVehicles(n int)
	SetSubscribers(n int)
}

// Listener receives snapshot updates. It runs on a dedicated delivery
// goroutine per subscription, so a slow listener only delays itself.
type Listener func(models.Snapshot)

type subscriber struct {
	ch   chan models.Snapshot
	done chan struct{}
	once sync.Once
}

// offer delivers latest-wins: a stale undelivered snapshot is dropped in
// favour of the new one, so publishing never blocks on a subscriber.
func (s *subscriber) offer(snap models.Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Cache owns the currently published vehicle snapshot. Reads are always
// immediate, refreshes are timer-driven with at most one cycle in flight,
// and subscribers get push delivery of every successful swap.
type Cache struct {
	logger      *slog.Logger
	poller      Poller
	metrics     Metrics
	pollTimeout time.Duration

	mu      sync.RWMutex
	current models.Snapshot
	status  models.Status

	refreshing atomic.Bool

	subMu       sync.Mutex
	subscribers map[int]*subscriber
	nextSubID   int

	shutdownChan chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics attaches an instrumentation hook.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithPollTimeout bounds each timer-driven refresh cycle.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Cache) { c.pollTimeout = d }
}

// WithRealtimeEnabled marks the status flag for whether live polling is
// configured at all.
func WithRealtimeEnabled(enabled bool) Option {
	return func(c *Cache) { c.status.RealtimeEnabled = enabled }
}

// WithStaticCounts records the loaded route and stop counts in the status.
func WithStaticCounts(routes, stops int) Option {
	return func(c *Cache) {
		c.status.RoutesCount = routes
		c.status.StopsCount = stops
	}
}

// NewCache creates a cache seeded with the given vehicle list, so Get never
// blocks waiting for a first poll.
func NewCache(seed []models.VehiclePosition, poller Poller, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		logger:       logger,
		poller:       poller,
		pollTimeout:  30 * time.Second,
		current:      models.Snapshot{Vehicles: seed},
		subscribers:  map[int]*subscriber{},
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status.VehiclesCount = len(seed)
	return c
}

// Get returns the most recently published snapshot. It never blocks.
func (c *Cache) Get() models.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Status returns the aggregated operator-visible status.
func (c *Cache) Status() models.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status := c.status
	status.Feeds = c.current.Diagnostics
	return status
}

// Refresh runs one poll cycle and publishes the result. Refreshes are
// mutually exclusive: if one is already in flight this call returns
// immediately without queueing a second cycle, which bounds outbound feed
// load to one cycle regardless of timer jitter or manual triggers.
func (c *Cache) Refresh(ctx context.Context) {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	defer c.refreshing.Store(false)

	logger := logging.FromContext(ctx).With(slog.String("component", "snapshot_cache"))
	started := time.Now()
	result, err := c.poller.Poll(ctx)
	if c.metrics != nil {
		c.metrics.PollObserve(time.Since(started))
	}
	now := time.Now().UTC().Format(time.RFC3339)

	if err != nil {
		logging.LogError(logger, "poll cycle failed", err)
		if c.metrics != nil {
			c.metrics.PollCycleInc("error")
		}
		c.mu.Lock()
		c.status.LastFetchError = err.Error()
		if result != nil {
			// Keep the vehicles from the last good cycle, but publish the
			// fresh diagnostics so operators see why the cycle failed.
			c.current = models.Snapshot{Vehicles: c.current.Vehicles, Diagnostics: result.Diagnostics}
		}
		c.mu.Unlock()
		return
	}

	outcome := "success"
	fetchError := ""
	if result.EmptyFeeds {
		outcome = "empty"
		fetchError = "feeds reachable but returned 0 entities"
	}
	if c.metrics != nil {
		c.metrics.PollCycleInc(outcome)
		c.metrics.SetVehicles(len(result.Vehicles))
	}

	snap := models.Snapshot{Vehicles: result.Vehicles, Diagnostics: result.Diagnostics}
	c.mu.Lock()
	c.current = snap
	c.status.LastFetchAt = now
	c.status.LastFetchError = fetchError
	c.status.VehiclesCount = len(result.Vehicles)
	c.mu.Unlock()

	logging.LogOperation(logger, "snapshot_published",
		slog.Int("vehicles", len(result.Vehicles)),
		slog.Int("feeds", len(result.Diagnostics)))
	c.notify(snap)
}

// Replace installs a vehicle list as the current snapshot without polling,
// for operator-supplied or bundled fallback data. Diagnostics are untouched.
func (c *Cache) Replace(vehicles []models.VehiclePosition) {
	c.mu.Lock()
	snap := models.Snapshot{Vehicles: vehicles, Diagnostics: c.current.Diagnostics}
	c.current = snap
	c.status.VehiclesCount = len(vehicles)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetVehicles(len(vehicles))
	}
	c.notify(snap)
}

// Subscribe registers a listener for snapshot updates. The listener is
// invoked once right away with the current snapshot, then on every
// subsequent successful swap. The returned function unsubscribes; it is
// idempotent and safe to call from inside the listener.
func (c *Cache) Subscribe(listener Listener) func() {
	sub := &subscriber{
		ch:   make(chan models.Snapshot, 1),
		done: make(chan struct{}),
	}

	c.subMu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = sub
	count := len(c.subscribers)
	c.subMu.Unlock()
	if c.metrics != nil {
		c.metrics.SetSubscribers(count)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case snap := <-sub.ch:
				listener(snap)
			case <-sub.done:
				return
			}
		}
	}()

	// Replay the current snapshot so a late subscriber is never left
	// without data.
	sub.offer(c.Get())

	return func() {
		sub.once.Do(func() {
			close(sub.done)
			c.subMu.Lock()
			delete(c.subscribers, id)
			count := len(c.subscribers)
			c.subMu.Unlock()
			if c.metrics != nil {
				c.metrics.SetSubscribers(count)
			}
		})
	}
}

func (c *Cache) notify(snap models.Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subscribers {
		sub.offer(snap)
	}
}

// Start launches the timer-driven refresh loop. The first cycle runs
// immediately rather than waiting one interval.
func (c *Cache) Start(interval time.Duration) {
	c.wg.Add(1)
	go c.refreshPeriodically(interval)
}

func (c *Cache) refreshPeriodically(interval time.Duration) {
	defer c.wg.Done()

	logger := c.logger.With(slog.String("component", "snapshot_refresher"))

	c.refreshOnce(logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.refreshOnce(logger)
		case <-c.shutdownChan:
			logging.LogOperation(logger, "shutting_down_snapshot_refresh")
			return
		}
	}
}

func (c *Cache) refreshOnce(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), c.pollTimeout)
	defer cancel()
	c.Refresh(logging.WithLogger(ctx, logger))
}

// Shutdown stops the refresh loop and all subscriber delivery goroutines.
// Safe to call more than once.
func (c *Cache) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.shutdownChan)

		c.subMu.Lock()
		remaining := make([]*subscriber, 0, len(c.subscribers))
		for id, sub := range c.subscribers {
			remaining = append(remaining, sub)
			delete(c.subscribers, id)
		}
		c.subMu.Unlock()
		for _, sub := range remaining {
			sub.once.Do(func() { close(sub.done) })
		}

		c.wg.Wait()
	})
}
