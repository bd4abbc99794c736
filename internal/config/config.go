package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all the settings for one process run. Feed URLs and the
// static source are resolved once here and treated as immutable afterwards.
type Config struct {
	Port int
	Env  string

	// VehicleFeedURLs is the ordered list of GTFS-RT vehicle position
	// endpoints to poll. Diagnostics follow this order.
	VehicleFeedURLs []string
	// FeedAuthHeaderKey/Value optionally add an auth header to every feed
	// request, for operators that keep API keys out of the URL.
	FeedAuthHeaderKey   string
	FeedAuthHeaderValue string

	// StaticGTFSSource is a GTFS zip URL or local path. Empty runs the
	// process in realtime-only mode with no route geometry.
	StaticGTFSSource string

	PollInterval time.Duration
	PollTimeout  time.Duration

	// NATSURL enables the snapshot republisher when set.
	NATSURL string

	// SimulateFallback animates bundled vehicles when realtime is disabled.
	SimulateFallback bool
}

// RealtimeEnabled reports whether live polling is configured at all.
func (c *Config) RealtimeEnabled() bool {
	return len(c.VehicleFeedURLs) > 0
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Env:          getenvDefault("ENV", "development"),
		PollInterval: 5 * time.Second,
		PollTimeout:  30 * time.Second,
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			return nil, fmt.Errorf("invalid PORT: %q", v)
		}
		cfg.Port = port
	} else {
		cfg.Port = 4000
	}

	cfg.VehicleFeedURLs = splitList(os.Getenv("VEHICLE_FEED_URLS"))
	cfg.FeedAuthHeaderKey = os.Getenv("FEED_AUTH_HEADER_KEY")
	cfg.FeedAuthHeaderValue = os.Getenv("FEED_AUTH_HEADER_VALUE")
	cfg.StaticGTFSSource = os.Getenv("STATIC_GTFS_SOURCE")
	cfg.NATSURL = os.Getenv("NATS_URL")

	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_MS: %q", v)
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("POLL_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid POLL_TIMEOUT_MS: %q", v)
		}
		cfg.PollTimeout = time.Duration(ms) * time.Millisecond
	}

	cfg.SimulateFallback = boolEnv("SIMULATE_FALLBACK")

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
