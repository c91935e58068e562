// Package session wires an engine, bus, listener and recorder for one ride.
package session

import (
	"fmt"
	"log/slog"

	"github.com/lucasjlepore/wheelspeed"
	"github.com/lucasjlepore/wheelspeed/bus"
	"github.com/lucasjlepore/wheelspeed/internal/config"
	"github.com/lucasjlepore/wheelspeed/recorder"
	"github.com/lucasjlepore/wheelspeed/route"
)

// Session is one ride from start to written artifacts.
type Session struct {
	Bus      *bus.Bus
	Engine   *wheelspeed.Engine
	Listener *wheelspeed.Listener
	Recorder *recorder.Recorder

	logger *slog.Logger
}

// New builds the session components from cfg. Extra engine options are applied
// after the logger.
func New(cfg *config.Config, logger *slog.Logger, opts ...wheelspeed.Option) (*Session, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := bus.New()
	engine := wheelspeed.NewEngine(append([]wheelspeed.Option{wheelspeed.WithLogger(logger)}, opts...)...)

	listener, err := wheelspeed.NewListener(engine, b, cfg, logger)
	if err != nil {
		return nil, err
	}
	rec := recorder.New(recorder.Options{
		OutDir:    cfg.Output.Dir,
		Format:    cfg.Output.Format,
		FIT:       cfg.Output.FIT,
		Overwrite: cfg.Output.Overwrite,
		Logger:    logger,
	})
	if err := rec.Attach(b); err != nil {
		listener.Close()
		return nil, err
	}
	if _, err := b.Subscribe(bus.TopicSpeed, func(m bus.Message) error {
		if t, ok := m.Payload.(wheelspeed.Telemetry); ok {
			logger.Debug("speed", "kmh", t.SpeedKmh, "power_w", t.PowerW, "distance_m", t.DistanceM)
		}
		return nil
	}); err != nil {
		listener.Close()
		return nil, err
	}

	return &Session{
		Bus:      b,
		Engine:   engine,
		Listener: listener,
		Recorder: rec,
		logger:   logger,
	}, nil
}

// Begin loads the optional route, moves to startKM and starts the engine.
func (s *Session) Begin(routePath string, startKM float64) error {
	if routePath != "" {
		r, err := route.Load(routePath)
		if err != nil {
			return err
		}
		if err := s.Bus.Publish(bus.TopicLoadRoute, wheelspeed.RouteProvider(r)); err != nil {
			return fmt.Errorf("load route: %w", err)
		}
		s.logger.Info("route loaded", "name", r.Name(), "kind", r.Kind(), "length_km", r.Length())
	}
	if startKM > 0 {
		if err := s.Bus.Publish(bus.TopicStartPosition, startKM); err != nil {
			return fmt.Errorf("set start position: %w", err)
		}
	}
	if err := s.Bus.Publish(bus.TopicStart, nil); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// Finish writes the ride and releases the bus.
func (s *Session) Finish() (*recorder.Result, error) {
	defer s.Bus.Close()
	s.Listener.Close()
	return s.Recorder.Write()
}
