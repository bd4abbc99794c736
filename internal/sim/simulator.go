package sim

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"transitscope.dev/internal/geometry"
	"transitscope.dev/internal/logging"
	"transitscope.dev/internal/models"
	"transitscope.dev/internal/static"
)

const (
	minSpeedKPH = 10.0
	maxSpeedKPH = 50.0
)

// Sink receives each simulated fleet frame. Satisfied by *snapshot.Cache.
type Sink interface {
	Replace(vehicles []models.VehiclePosition)
}

type simVehicle struct {
	id       string
	routeID  string
	path     *geometry.RoutePath
	distance float64
	speedKPH float64
	forward  bool
}

// Simulator animates a synthetic fleet along the loaded route geometries,
// for running the map without any realtime feed configured. Vehicles shuttle
// back and forth over their route shape with lightly jittered speeds.
type Simulator struct {
	logger *slog.Logger
	sink   Sink
	rng    *rand.Rand

	vehicles []*simVehicle
	lastTick time.Time

	shutdownChan chan struct{}
	wg           sync.WaitGroup
	stopOnce     sync.Once
}

// NewSimulator seeds perRoute vehicles on every route that has a usable
// geometry, spread evenly along the shape.
func NewSimulator(data *static.Data, perRoute int, sink Sink, logger *slog.Logger) *Simulator {
	s := &Simulator{
		logger:       logger.With(slog.String("component", "simulator")),
		sink:         sink,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		shutdownChan: make(chan struct{}),
	}

	for _, route := range data.Routes {
		path := data.Geometries[route.ID]
		if path == nil || path.TotalLength() == 0 {
			continue
		}
		for i := 0; i < perRoute; i++ {
			s.vehicles = append(s.vehicles, &simVehicle{
				id:       fmt.Sprintf("sim-%s-%d", route.ID, i),
				routeID:  route.ID,
				path:     path,
				distance: path.TotalLength() * float64(i) / float64(perRoute),
				speedKPH: minSpeedKPH + s.rng.Float64()*(maxSpeedKPH-minSpeedKPH),
				forward:  i%2 == 0,
			})
		}
	}

	return s
}

// Fleet returns the number of simulated vehicles.
func (s *Simulator) Fleet() int {
	return len(s.vehicles)
}

// Start launches the animation loop. The first frame is published
// immediately so the map is never empty while waiting one interval.
func (s *Simulator) Start(interval time.Duration) {
	s.lastTick = time.Now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.publishFrame(time.Now())

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.publishFrame(now)
			case <-s.shutdownChan:
				logging.LogOperation(s.logger, "shutting_down_simulator")
				return
			}
		}
	}()
	logging.LogOperation(s.logger, "simulator_started", slog.Int("vehicles", len(s.vehicles)))
}

// Stop halts the loop. Safe to call more than once.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdownChan)
		s.wg.Wait()
	})
}

func (s *Simulator) publishFrame(now time.Time) {
	dt := now.Sub(s.lastTick).Seconds()
	s.lastTick = now
	s.sink.Replace(s.tick(dt, now))
}

// tick advances every vehicle by dt seconds and renders one frame.
func (s *Simulator) tick(dt float64, now time.Time) []models.VehiclePosition {
	frame := make([]models.VehiclePosition, 0, len(s.vehicles))
	updatedAt := now.UTC().Format(time.RFC3339)

	for _, v := range s.vehicles {
		s.advance(v, dt)

		point, bearing, ok := v.path.PointAt(v.distance)
		if !ok {
			continue
		}
		if !v.forward {
			bearing = normalizeBearing(bearing + 180)
		}

		progress := 0.0
		if total := v.path.TotalLength(); total > 0 {
			progress = v.distance / total
		}
		speed := v.speedKPH
		frame = append(frame, models.VehiclePosition{
			ID:        v.id,
			RouteID:   v.routeID,
			Latitude:  point.Lat,
			Longitude: point.Lon,
			Bearing:   bearing,
			SpeedKPH:  &speed,
			UpdatedAt: updatedAt,
			Progress:  &progress,
		})
	}
	return frame
}

// advance moves the vehicle along its path, bouncing at the endpoints, and
// jitters its speed within bounds.
func (s *Simulator) advance(v *simVehicle, dt float64) {
	v.speedKPH += (s.rng.Float64() - 0.5) * 4
	if v.speedKPH < minSpeedKPH {
		v.speedKPH = minSpeedKPH
	}
	if v.speedKPH > maxSpeedKPH {
		v.speedKPH = maxSpeedKPH
	}

	step := v.speedKPH / 3.6 * dt
	if !v.forward {
		step = -step
	}
	v.distance += step

	total := v.path.TotalLength()
	if v.distance < 0 {
		v.distance = -v.distance
		v.forward = true
	}
	if v.distance > total {
		v.distance = 2*total - v.distance
		v.forward = false
	}
}

func normalizeBearing(b float64) float64 {
	b = b - 360*float64(int(b/360))
	if b < 0 {
		b += 360
	}
	return b
}
