package wheelspeed

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lucasjlepore/wheelspeed/bus"
)

// SettingsSource supplies the session configuration read on each start.
type SettingsSource interface {
	Settings() (Config, error)
}

// SettingsFunc adapts a function to SettingsSource.
type SettingsFunc func() (Config, error)

func (f SettingsFunc) Settings() (Config, error) { return f() }

// Listener connects an Engine to a message bus. Control events drive the
// engine; every record it produces is published on bus.TopicSpeed.
type Listener struct {
	engine   *Engine
	bus      *bus.Bus
	settings SettingsSource
	logger   *slog.Logger
	subs     []string
}

// NewListener subscribes e to the control topics of b.
func NewListener(e *Engine, b *bus.Bus, settings SettingsSource, logger *slog.Logger) (*Listener, error) {
	if e == nil || b == nil || settings == nil {
		return nil, errors.New("listener needs an engine, a bus and a settings source")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Listener{engine: e, bus: b, settings: settings, logger: logger}

	handlers := []struct {
		topic bus.Topic
		h     bus.Handler
	}{
		{bus.TopicStart, l.onStart},
		{bus.TopicStartPosition, l.onStartPosition},
		{bus.TopicLoadRoute, l.onLoadRoute},
	}
	for _, sub := range handlers {
		id, err := b.Subscribe(sub.topic, sub.h)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("subscribe %s: %w", sub.topic, err)
		}
		l.subs = append(l.subs, id)
	}
	return l, nil
}

// HandleFrame feeds one broadcast payload from the sensor link and publishes the
// resulting record, if any.
func (l *Listener) HandleFrame(payload []byte) error {
	t, ok := l.engine.HandleFrame(payload)
	if !ok {
		return nil
	}
	return l.bus.Publish(bus.TopicSpeed, t)
}

// HandleSample is HandleFrame for an already decoded sample.
func (l *Listener) HandleSample(s RotationSample) error {
	t, ok := l.engine.OnSample(s)
	if !ok {
		return nil
	}
	return l.bus.Publish(bus.TopicSpeed, t)
}

// Close unsubscribes from the bus.
func (l *Listener) Close() {
	for _, id := range l.subs {
		_ = l.bus.Unsubscribe(id)
	}
	l.subs = nil
}

func (l *Listener) onStart(bus.Message) error {
	cfg, err := l.settings.Settings()
	if err != nil {
		l.logger.Warn("start rejected", "error", err)
		return fmt.Errorf("read settings: %w", err)
	}
	if err := l.engine.Start(cfg); err != nil {
		l.logger.Warn("start rejected", "error", err)
		return err
	}
	return nil
}

func (l *Listener) onStartPosition(m bus.Message) error {
	switch km := m.Payload.(type) {
	case float64:
		l.engine.SetStartPosition(km)
	case int:
		l.engine.SetStartPosition(float64(km))
	default:
		return fmt.Errorf("start position payload %T, want float64 km", m.Payload)
	}
	return nil
}

func (l *Listener) onLoadRoute(m bus.Message) error {
	if m.Payload == nil {
		l.engine.LoadRoute(nil)
		return nil
	}
	r, ok := m.Payload.(RouteProvider)
	if !ok {
		return fmt.Errorf("route payload %T does not provide route points", m.Payload)
	}
	l.engine.LoadRoute(r)
	return nil
}
