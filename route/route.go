// Package route serves route points by cumulative distance for simulated-speed
// rides. Slope routes carry terrain only; profile routes also carry the speed and
// power of the reference ride the route was filmed on.
package route

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/lucasjlepore/wheelspeed"
)

var (
	// ErrTooFewPoints is returned when a route has fewer than two waypoints.
	ErrTooFewPoints = errors.New("route needs at least two waypoints")
	// ErrBadDistance is returned for negative, non-finite or non-increasing distances.
	ErrBadDistance = errors.New("route distances must be finite, non-negative and strictly increasing")
)

// Waypoint is one surveyed point. SpeedKmh and PowerW are only read for profile
// routes.
type Waypoint struct {
	DistanceKM float64 `yaml:"distance_km" json:"distance_km"`
	ElevationM float64 `yaml:"elevation_m" json:"elevation_m"`
	Latitude   float64 `yaml:"lat" json:"lat"`
	Longitude  float64 `yaml:"lon" json:"lon"`
	SpeedKmh   float64 `yaml:"speed_kmh,omitempty" json:"speed_kmh,omitempty"`
	PowerW     float64 `yaml:"power_w,omitempty" json:"power_w,omitempty"`
}

// Route is an immutable interpolated route. It is safe for concurrent use.
type Route struct {
	name   string
	kind   wheelspeed.RouteKind
	start  float64
	length float64

	elevation interp.PiecewiseLinear
	gradient  interp.PiecewiseConstant
	latitude  interp.PiecewiseLinear
	longitude interp.PiecewiseLinear
	speed     interp.PiecewiseLinear
	power     interp.PiecewiseLinear
}

// NewSlope builds a gradient-only route. Gradients are the rise over run of each
// segment, held constant along it.
func NewSlope(name string, pts []Waypoint) (*Route, error) {
	return build(name, wheelspeed.RouteSlope, pts)
}

// NewProfile builds a route that also carries reference speed and power.
func NewProfile(name string, pts []Waypoint) (*Route, error) {
	return build(name, wheelspeed.RouteProfile, pts)
}

func build(name string, kind wheelspeed.RouteKind, pts []Waypoint) (*Route, error) {
	if len(pts) < 2 {
		return nil, fmt.Errorf("route %q: %w", name, ErrTooFewPoints)
	}
	n := len(pts)
	var (
		xs   = make([]float64, n)
		ele  = make([]float64, n)
		grad = make([]float64, n)
		lat  = make([]float64, n)
		lon  = make([]float64, n)
		spd  = make([]float64, n)
		pwr  = make([]float64, n)
	)
	for i, p := range pts {
		if !isFinite(p.DistanceKM) || p.DistanceKM < 0 || (i > 0 && p.DistanceKM <= pts[i-1].DistanceKM) {
			return nil, fmt.Errorf("route %q waypoint %d: %w", name, i, ErrBadDistance)
		}
		xs[i] = p.DistanceKM
		ele[i] = p.ElevationM
		lat[i] = p.Latitude
		lon[i] = p.Longitude
		spd[i] = p.SpeedKmh
		pwr[i] = p.PowerW
		if i > 0 {
			runM := (p.DistanceKM - pts[i-1].DistanceKM) * 1000
			grad[i] = (p.ElevationM - pts[i-1].ElevationM) / runM * 100
		}
	}
	grad[0] = grad[1]

	r := &Route{
		name:   name,
		kind:   kind,
		start:  xs[0],
		length: xs[n-1],
	}
	// Fit only fails on the shape checks done above.
	_ = r.elevation.Fit(xs, ele)
	_ = r.gradient.Fit(xs, grad)
	_ = r.latitude.Fit(xs, lat)
	_ = r.longitude.Fit(xs, lon)
	_ = r.speed.Fit(xs, spd)
	_ = r.power.Fit(xs, pwr)
	return r, nil
}

// PointAt returns the route state at distanceKM, or false once past the last
// waypoint. Distances before the first waypoint read as the first waypoint.
func (r *Route) PointAt(distanceKM float64) (wheelspeed.RoutePoint, bool) {
	if !isFinite(distanceKM) || distanceKM < 0 || distanceKM > r.length {
		return wheelspeed.RoutePoint{}, false
	}
	if distanceKM < r.start {
		distanceKM = r.start
	}
	p := wheelspeed.RoutePoint{
		ElevationM:  r.elevation.Predict(distanceKM),
		GradientPct: r.gradient.Predict(distanceKM),
		Latitude:    r.latitude.Predict(distanceKM),
		Longitude:   r.longitude.Predict(distanceKM),
	}
	if r.kind == wheelspeed.RouteProfile {
		p.SpeedKmh = r.speed.Predict(distanceKM)
		p.PowerW = r.power.Predict(distanceKM)
	}
	return p, true
}

// Kind reports whether this is a slope or profile route.
func (r *Route) Kind() wheelspeed.RouteKind { return r.kind }

// Name returns the route name.
func (r *Route) Name() string { return r.name }

// Length returns the distance of the last waypoint in km.
func (r *Route) Length() float64 { return r.length }

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
