package wheelspeed

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lucasjlepore/wheelspeed/rolling"
)

const (
	ticksPerSecond = 1024.0
	secondsPerHour = 3600.0
	cmPerKM        = 100000.0
	mpsToKmh       = 3.6

	// Larger gaps come from non-standard battery pages some combo sensors push
	// through the speed channel.
	maxTimeDelta = 5000

	// Consecutive samples without new sensor time before a stop is reported.
	zeroSpeedStreak = 6
	// Below this streak a missing revolution is treated as slow pedalling.
	extrapolateStreak = 12

	defaultSmoothingWindow = 10
)

// Engine derives Telemetry from wheel-revolution samples. All methods are safe
// for concurrent use; each call is applied atomically.
type Engine struct {
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
	window int

	cfg   Config
	route RouteProvider

	phase        Phase
	haveBaseline bool
	lastTime     uint16
	lastCount    uint16
	zeroStreak   int
	lastSpeedKmh float64
	distanceKM   float64
	ratio        *rolling.Average
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the wall clock stamped on each record.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSmoothingWindow sets how many power ratios are averaged on profile routes.
func WithSmoothingWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.window = n
		}
	}
}

// NewEngine returns an engine in the uninitialized phase. Samples are ignored
// until Start succeeds.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		window: defaultSmoothingWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ratio = rolling.New(e.window)
	return e
}

// Start snapshots cfg and begins a new session. The engine then waits for the
// revolution count to change before trusting the sensor, since some devices
// replay buffered data when the channel opens. An invalid config is rejected and
// the current session is left as it was.
func (e *Engine) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg = cfg
	e.phase = PhaseInitializing
	e.haveBaseline = false
	e.zeroStreak = 0
	e.lastSpeedKmh = 0
	e.ratio = rolling.New(e.window)

	e.logger.Info("session started",
		"wheel_cm", cfg.WheelCircumferenceCM,
		"resistance", cfg.ResistanceLevel,
		"mass_kg", cfg.MassKG,
		"simulated_speed", cfg.SimulatedSpeed,
	)
	return nil
}

// SetStartPosition moves the rider to km along the route.
func (e *Engine) SetStartPosition(km float64) {
	if !isFinite(km) || km < 0 {
		km = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.distanceKM = km
}

// LoadRoute attaches r (nil detaches) and rewinds to the start.
func (e *Engine) LoadRoute(r RouteProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.route = r
	e.distanceKM = 0
}

// Phase reports the lifecycle state.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// DistanceKM reports the cumulative distance.
func (e *Engine) DistanceKM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.distanceKM
}

// HandleFrame decodes a broadcast payload and processes it as a sample.
// Undecodable frames produce nothing.
func (e *Engine) HandleFrame(payload []byte) (Telemetry, bool) {
	s, err := DecodeFrame(payload)
	if err != nil {
		e.logger.Debug("dropping frame", "error", err)
		return Telemetry{}, false
	}
	return e.OnSample(s)
}

// OnSample advances the session with one sensor reading. The boolean is false
// when the sample produced no record: before Start, while initializing, on a
// discarded or debounced sample, or at the end of the route.
func (e *Engine) OnSample(s RotationSample) (Telemetry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Debug("sample", "time", s.Time, "count", s.Count, "phase", e.phase)

	switch e.phase {
	case PhaseUninitialized:
		return Telemetry{}, false
	case PhaseInitializing:
		if !e.haveBaseline {
			e.setBaseline(s)
			return Telemetry{}, false
		}
		if s.Count != e.lastCount {
			e.setBaseline(s)
			e.phase = PhaseRunning
		}
		return Telemetry{}, false
	}

	if !e.haveBaseline {
		e.setBaseline(s)
		return Telemetry{}, false
	}
	return e.advance(s)
}

func (e *Engine) setBaseline(s RotationSample) {
	e.lastTime = s.Time
	e.lastCount = s.Count
	e.haveBaseline = true
}

func (e *Engine) advance(s RotationSample) (Telemetry, bool) {
	timeDelta := s.Time - e.lastTime
	countDelta := int16(s.Count - e.lastCount)

	if timeDelta > maxTimeDelta {
		e.logger.Debug("bogus sample",
			"time", s.Time,
			"time_delta", timeDelta,
			"count", s.Count,
			"count_delta", countDelta,
		)
		e.haveBaseline = false
		return Telemetry{}, false
	}
	// A count running backwards would subtract distance.
	if countDelta < 0 {
		e.logger.Debug("revolution count went backwards",
			"count", s.Count,
			"last_count", e.lastCount,
			"count_delta", countDelta,
		)
		e.haveBaseline = false
		return Telemetry{}, false
	}

	var (
		speed      float64
		distanceKM float64
		power      int
	)

	if timeDelta == 0 {
		e.zeroStreak++
		if e.zeroStreak < zeroSpeedStreak {
			return Telemetry{}, false
		}
	} else {
		timeS := float64(timeDelta) / ticksPerSecond
		revs := float64(countDelta)
		if countDelta == 0 && e.zeroStreak < extrapolateStreak {
			implied := e.lastSpeedKmh * timeS / secondsPerHour
			revs = implied * cmPerKM / e.cfg.WheelCircumferenceCM
		}

		distanceKM = revs * e.cfg.WheelCircumferenceCM / cmPerKM
		speed = distanceKM / (timeS / secondsPerHour)
		e.lastSpeedKmh = speed
		power = e.cfg.PowerModel.PowerFor(speed, e.cfg.ResistanceLevel)

		if e.cfg.SimulatedSpeed && e.route != nil {
			var ok bool
			speed, distanceKM, ok = e.simulate(speed, distanceKM, timeS, power)
			if !ok {
				e.logger.Debug("end of route", "distance_km", e.distanceKM)
				e.distanceKM = 0
				return Telemetry{}, false
			}
		}
		e.zeroStreak = 0
	}

	e.lastTime = s.Time
	e.lastCount = s.Count
	e.distanceKM += nonNegative(distanceKM)

	t := Telemetry{
		SpeedKmh:  nonNegative(speed),
		PowerW:    power,
		Timestamp: e.now(),
	}
	if e.route != nil {
		p, ok := e.route.PointAt(e.distanceKM)
		if !ok {
			e.logger.Debug("end of route", "distance_km", e.distanceKM)
			e.distanceKM = 0
			return Telemetry{}, false
		}
		t.ElevationM = floatPtr(p.ElevationM)
		t.GradientPct = floatPtr(p.GradientPct)
		t.Latitude = floatPtr(p.Latitude)
		t.Longitude = floatPtr(p.Longitude)
	}
	t.DistanceM = e.distanceKM * 1000
	return t, true
}

// simulate replaces trainer speed with route-derived speed. It reports false at
// the end of the route.
func (e *Engine) simulate(speed, distanceKM, timeS float64, power int) (float64, float64, bool) {
	p, ok := e.route.PointAt(e.distanceKM)
	if !ok {
		return 0, 0, false
	}

	switch e.route.Kind() {
	case RouteProfile:
		// Ride speed follows the video speed scaled by how hard the rider works
		// compared with the reference effort.
		ratio := 1.0
		if e.ratio.Len() > 0 {
			ratio = e.ratio.Mean()
		}
		if p.PowerW > 0 {
			ratio = e.ratio.Add(float64(power) / p.PowerW)
		}
		speed = p.SpeedKmh * ratio
		distanceKM = speed / secondsPerHour * timeS
	default:
		// The road-load model only holds for positive power.
		if power <= 0 {
			return speed, distanceKM, true
		}
		roadSpeed := e.cfg.PowerModel.RealSpeed(e.cfg.MassKG, p.GradientPct/100, float64(power)) * mpsToKmh
		if distanceKM > 0 {
			distanceKM = roadSpeed / speed * distanceKM
		} else {
			distanceKM = roadSpeed / secondsPerHour * timeS
		}
		speed = roadSpeed
	}
	return speed, distanceKM, true
}

func nonNegative(v float64) float64 {
	if !isFinite(v) || v < 0 {
		return 0
	}
	return v
}
