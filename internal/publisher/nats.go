package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"transitscope.dev/internal/logging"
	"transitscope.dev/internal/models"
	"transitscope.dev/internal/snapshot"
)

// Metrics is the optional instrumentation hook for publish outcomes.
type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSSetConnected(connected bool)
}

// Source is the snapshot stream the publisher attaches to. Satisfied by
// *snapshot.Cache.
type Source interface {
	Subscribe(listener snapshot.Listener) func()
}

// NATSPublisher republishes every published snapshot as one NATS message per
// vehicle, on vehicles.<route>.<id> subjects, so downstream consumers can
// filter by route with plain subject wildcards.
type NATSPublisher struct {
	nc          *nats.Conn
	logger      *slog.Logger
	metrics     Metrics
	unsubscribe func()
}

func NewNATSPublisher(url string, logger *slog.Logger, m Metrics) (*NATSPublisher, error) {
	logger = logger.With(slog.String("component", "nats_publisher"))
	nc, err := nats.Connect(url,
		nats.Name("transitscope"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logging.LogOperation(logger, "nats_disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logging.LogOperation(logger, "nats_reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logging.LogOperation(logger, "nats_closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, logger: logger, metrics: m}, nil
}

// Attach subscribes to the snapshot stream. The listener runs on the
// subscription's delivery goroutine, so a slow broker never stalls the cache.
func (p *NATSPublisher) Attach(source Source) {
	p.unsubscribe = source.Subscribe(p.publishSnapshot)
}

// Close detaches from the snapshot stream and drains the connection.
func (p *NATSPublisher) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			logging.LogError(p.logger, "nats drain failed", err)
		}
		p.nc.Close()
	}
}

func (p *NATSPublisher) publishSnapshot(snap models.Snapshot) {
	for _, vehicle := range snap.Vehicles {
		if err := p.publishVehicle(vehicle); err != nil {
			logging.LogError(p.logger, "vehicle publish failed", err,
				slog.String("vehicle_id", vehicle.ID))
		}
	}
}

func (p *NATSPublisher) publishVehicle(vehicle models.VehiclePosition) error {
	subject := fmt.Sprintf("vehicles.%s.%s", subjectToken(vehicle.RouteID), subjectToken(vehicle.ID))
	b, err := json.Marshal(vehicle)
	if err != nil {
		return err
	}
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, '>', '*', or '.'.
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
