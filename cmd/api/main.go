package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transitscope.dev/internal/app"
	"transitscope.dev/internal/config"
	"transitscope.dev/internal/feed"
	"transitscope.dev/internal/logging"
	"transitscope.dev/internal/metrics"
	"transitscope.dev/internal/publisher"
	"transitscope.dev/internal/restapi"
	"transitscope.dev/internal/sim"
	"transitscope.dev/internal/snapshot"
	"transitscope.dev/internal/static"
)

const simulatedVehiclesPerRoute = 3

// loadStaticData resolves the static network for this run. An empty source is
// the documented realtime-only mode, not an error; a configured source that
// fails to load degrades to the same empty network with an error logged.
// Realtime decoding still works without route geometry; vehicles just keep
// their raw coordinates.
func loadStaticData(source string, logger *slog.Logger) *static.Data {
	if source == "" {
		logging.LogOperation(logger, "no_static_gtfs_configured",
			slog.String("hint", "set STATIC_GTFS_SOURCE for route geometry"))
		return static.Empty()
	}

	data, err := static.Load(source)
	if err != nil {
		logging.LogError(logger, "static GTFS load failed, continuing without geometry", err)
		return static.Empty()
	}
	logging.LogOperation(logger, "static_gtfs_loaded",
		slog.Int("routes", len(data.Routes)),
		slog.Int("stops", len(data.Stops)),
		slog.Int("trips", len(data.TripToRoute)))
	return data
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Flags override the environment for the handful of settings that are
	// convenient to flip on the command line.
	flag.IntVar(&cfg.Port, "port", cfg.Port, "API server port")
	flag.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development|staging|production)")
	flag.StringVar(&cfg.StaticGTFSSource, "gtfs", cfg.StaticGTFSSource, "Static GTFS zip URL or local path")
	flag.Parse()

	logger := logging.NewStructuredLogger(os.Stdout, slog.LevelInfo)

	data := loadStaticData(cfg.StaticGTFSSource, logger)

	collector := metrics.NewCollector()

	poller := feed.NewPoller(cfg.VehicleFeedURLs, feed.DecodeContext{
		TripToRoute: data.TripToRoute,
		Geometries:  data.Geometries,
	}, logger,
		feed.WithAuthHeader(cfg.FeedAuthHeaderKey, cfg.FeedAuthHeaderValue),
		feed.WithMetrics(collector),
	)

	cache := snapshot.NewCache(nil, poller, logger,
		snapshot.WithMetrics(collector),
		snapshot.WithPollTimeout(cfg.PollTimeout),
		snapshot.WithRealtimeEnabled(cfg.RealtimeEnabled()),
		snapshot.WithStaticCounts(len(data.Routes), len(data.Stops)),
	)
	defer cache.Shutdown()

	var simulator *sim.Simulator
	switch {
	case cfg.RealtimeEnabled():
		cache.Start(cfg.PollInterval)
	case cfg.SimulateFallback:
		simulator = sim.NewSimulator(data, simulatedVehiclesPerRoute, cache, logger)
		simulator.Start(cfg.PollInterval)
		defer simulator.Stop()
	default:
		logging.LogOperation(logger, "realtime_disabled",
			slog.String("hint", "set VEHICLE_FEED_URLS or SIMULATE_FALLBACK"))
	}

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, logger, collector)
		if err != nil {
			logging.LogError(logger, "nats publisher disabled", err)
		} else {
			pub.Attach(cache)
			defer pub.Close()
		}
	}

	application := &app.Application{
		Config:  cfg,
		Logger:  logger,
		Static:  data,
		Cache:   cache,
		Metrics: collector,
	}
	api := restapi.NewRestAPI(application)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.Routes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logging.LogOperation(logger, "starting_server",
			slog.String("addr", srv.Addr),
			slog.String("env", cfg.Env),
			slog.Bool("realtime", cfg.RealtimeEnabled()))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logging.LogOperation(logger, "shutdown_signal_received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.LogError(logger, "server failed", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "server shutdown failed", err)
	}
	logging.LogOperation(logger, "server_stopped")
}
