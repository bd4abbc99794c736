package app

import (
	"log/slog"

	"transitscope.dev/internal/config"
	"transitscope.dev/internal/metrics"
	"transitscope.dev/internal/snapshot"
	"transitscope.dev/internal/static"
)

// Application holds the shared process-wide dependencies handed to the
// transport layer.
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Static  *static.Data
	Cache   *snapshot.Cache
	Metrics *metrics.Collector
}
