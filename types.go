package wheelspeed

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is returned by Start when the configuration snapshot cannot
// drive the engine.
var ErrInvalidConfig = errors.New("invalid engine config")

// RotationSample is one decoded sensor reading. Both fields are free-running
// hardware counters that wrap at 65536.
type RotationSample struct {
	Time  uint16 `json:"time"`  // event time, 1/1024 s ticks
	Count uint16 `json:"count"` // cumulative wheel revolutions
}

// Config is the session snapshot taken on Start.
type Config struct {
	WheelCircumferenceCM float64    `json:"wheel_circumference_cm"`
	ResistanceLevel      int        `json:"resistance_level"`
	MassKG               float64    `json:"mass_kg"`
	SimulatedSpeed       bool       `json:"simulated_speed"`
	PowerModel           PowerModel `json:"-"`
}

// Validate reports whether the snapshot can be used for a session.
func (c Config) Validate() error {
	if !isFinite(c.WheelCircumferenceCM) || c.WheelCircumferenceCM <= 0 {
		return fmt.Errorf("%w: wheel circumference %v cm must be positive", ErrInvalidConfig, c.WheelCircumferenceCM)
	}
	if c.PowerModel == nil {
		return fmt.Errorf("%w: power model is required", ErrInvalidConfig)
	}
	if c.SimulatedSpeed && (!isFinite(c.MassKG) || c.MassKG <= 0) {
		return fmt.Errorf("%w: mass %v kg must be positive for simulated speed", ErrInvalidConfig, c.MassKG)
	}
	return nil
}

// Telemetry is one derived record, handed to consumers as-is.
type Telemetry struct {
	SpeedKmh    float64   `json:"speed_kmh"`
	PowerW      int       `json:"power_w"`
	DistanceM   float64   `json:"distance_m"`
	ElevationM  *float64  `json:"elevation_m,omitempty"`
	GradientPct *float64  `json:"gradient_pct,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// PowerModel converts trainer speed into power and power into road speed.
type PowerModel interface {
	// PowerFor returns watts for a trainer speed at the given resistance level.
	// Zero speed yields zero power.
	PowerFor(speedKmh float64, resistance int) int
	// RealSpeed returns the road speed in m/s reached with powerW on a slope
	// (gradient as a fraction). Never negative.
	RealSpeed(massKG, gradient, powerW float64) float64
}

// RouteKind distinguishes gradient-only routes from reference speed/power routes.
type RouteKind int

const (
	RouteSlope RouteKind = iota
	RouteProfile
)

func (k RouteKind) String() string {
	switch k {
	case RouteSlope:
		return "slope"
	case RouteProfile:
		return "profile"
	default:
		return fmt.Sprintf("RouteKind(%d)", int(k))
	}
}

// RoutePoint is the route state at a distance. SpeedKmh and PowerW are only
// meaningful on profile routes.
type RoutePoint struct {
	ElevationM  float64 `json:"elevation_m"`
	GradientPct float64 `json:"gradient_pct"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	SpeedKmh    float64 `json:"speed_kmh,omitempty"`
	PowerW      float64 `json:"power_w,omitempty"`
}

// RouteProvider looks up route points by cumulative distance. PointAt must not
// mutate anything and returns false once distanceKM is past the end of the route.
type RouteProvider interface {
	PointAt(distanceKM float64) (RoutePoint, bool)
	Kind() RouteKind
}

// Phase is the engine lifecycle state.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseRunning:
		return "running"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func floatPtr(v float64) *float64 {
	return &v
}
