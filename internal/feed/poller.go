package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"transitscope.dev/internal/logging"
	"transitscope.dev/internal/models"
)

const defaultFetchTimeout = 10 * time.Second

// Metrics is the optional instrumentation hook for per-feed outcomes.
type Metrics interface {
	FeedFetchErrInc(kind string)
	FeedFetched(bytes, entities int)
}

// Poller fetches every configured feed URL concurrently, decodes the
// payloads, and merges the results into one vehicle list with one diagnostic
// per feed.
type Poller struct {
	urls            []string
	authHeaderKey   string
	authHeaderValue string
	client          *http.Client
	decodeCtx       DecodeContext
	logger          *slog.Logger
	metrics         Metrics
}

// Option configures a Poller.
type Option func(*Poller)

// WithAuthHeader adds a header to every feed request, for feeds that take
// API keys out of band rather than in the URL.
func WithAuthHeader(key, value string) Option {
	return func(p *Poller) {
		p.authHeaderKey = key
		p.authHeaderValue = value
	}
}

// WithMetrics attaches an instrumentation hook.
func WithMetrics(m Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Poller) { p.client = client }
}

// NewPoller creates a poller over the configured feed URLs. The URL order is
// preserved in merged vehicle lists and diagnostics.
func NewPoller(urls []string, decodeCtx DecodeContext, logger *slog.Logger, opts ...Option) *Poller {
	p := &Poller{
		urls:      urls,
		decodeCtx: decodeCtx,
		client:    &http.Client{Timeout: defaultFetchTimeout},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollResult is the aggregated outcome of one poll cycle.
type PollResult struct {
	Vehicles    []models.VehiclePosition
	Diagnostics []models.FeedDiagnostic
	// EmptyFeeds is set when at least one feed was reachable and decodable
	// but the whole cycle produced zero entities. Informational, not an
	// error.
	EmptyFeeds bool
}

type feedOutcome struct {
	vehicles []models.VehiclePosition
	diag     models.FeedDiagnostic
	err      error
}

// Poll runs one cycle: every feed is fetched independently and a failure on
// one never aborts the others. The returned error is ErrNoFeeds when no
// URLs are configured, or the last per-feed error when every feed failed; in
// the latter case the result still carries the full diagnostics.
func (p *Poller) Poll(ctx context.Context) (*PollResult, error) {
	if len(p.urls) == 0 {
		return nil, ErrNoFeeds
	}

	outcomes := make([]feedOutcome, len(p.urls))
	var wg sync.WaitGroup
	for i, url := range p.urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			outcomes[i] = p.pollFeed(ctx, url)
		}(i, url)
	}
	wg.Wait()

	result := &PollResult{
		Diagnostics: make([]models.FeedDiagnostic, len(p.urls)),
	}
	succeeded := false
	totalEntities := 0
	var lastErr error
	for i, outcome := range outcomes {
		result.Diagnostics[i] = outcome.diag
		if outcome.err != nil {
			lastErr = outcome.err
			continue
		}
		succeeded = true
		totalEntities += len(outcome.vehicles)
		result.Vehicles = append(result.Vehicles, outcome.vehicles...)
	}

	if !succeeded {
		return result, lastErr
	}
	result.EmptyFeeds = totalEntities == 0
	return result, nil
}

func (p *Poller) pollFeed(ctx context.Context, url string) feedOutcome {
	at := time.Now().UTC().Format(time.RFC3339)
	logger := p.logger.With(slog.String("component", "feed_poller"), slog.String("url", url))

	fail := func(err error, kind string, status, bytes int) feedOutcome {
		logging.LogError(logger, "feed poll failed", err, slog.String("kind", kind))
		if p.metrics != nil {
			p.metrics.FeedFetchErrInc(kind)
		}
		return feedOutcome{
			diag: models.FeedDiagnostic{
				URL:        url,
				HTTPStatus: status,
				Bytes:      bytes,
				Error:      err.Error(),
				At:         at,
			},
			err: err,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(&TransportError{URL: url, Err: err}, "transport", 0, 0)
	}
	if p.authHeaderKey != "" && p.authHeaderValue != "" {
		req.Header.Set(p.authHeaderKey, p.authHeaderValue)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fail(&TransportError{URL: url, Err: err}, "transport", 0, 0)
	}
	defer logging.SafeCloseWithLogging(resp.Body, logger, "feed_response_body")

	if resp.StatusCode != http.StatusOK {
		err := &TransportError{URL: url, Err: fmt.Errorf("HTTP %d from feed", resp.StatusCode)}
		return fail(err, "status", resp.StatusCode, 0)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(&TransportError{URL: url, Err: err}, "transport", resp.StatusCode, 0)
	}

	vehicles, err := DecodeVehicles(body, p.decodeCtx)
	if err != nil {
		// Fetched but undecodable: byte count is known, entity count is not.
		return fail(&ProtocolError{URL: url, Err: err}, "protocol", resp.StatusCode, len(body))
	}

	if p.metrics != nil {
		p.metrics.FeedFetched(len(body), len(vehicles))
	}
	entities := len(vehicles)
	return feedOutcome{
		vehicles: vehicles,
		diag: models.FeedDiagnostic{
			URL:        url,
			OK:         true,
			HTTPStatus: resp.StatusCode,
			Bytes:      len(body),
			Entities:   &entities,
			At:         at,
		},
	}
}
