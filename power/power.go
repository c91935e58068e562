// Package power models trainer resistance curves and the road-load physics used
// to turn rider power into a virtual road speed.
package power

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownProfile is returned by Lookup for names that were never registered.
	ErrUnknownProfile = errors.New("unknown power profile")
	// ErrInvalidProfile is returned by Register for unusable profiles.
	ErrInvalidProfile = errors.New("invalid power profile")
)

// DefaultProfile is used when no profile is configured.
const DefaultProfile = "Linear Magnetic"

// Curve is a trainer power curve P = A*v + B*v^2 + C*v^3 with v in km/h.
type Curve struct {
	A float64 `yaml:"a" json:"a"`
	B float64 `yaml:"b" json:"b"`
	C float64 `yaml:"c" json:"c"`
}

// Watts evaluates the curve. Non-positive speeds give zero.
func (c Curve) Watts(speedKmh float64) float64 {
	if !isFinite(speedKmh) || speedKmh <= 0 {
		return 0
	}
	v := speedKmh
	p := c.A*v + c.B*v*v + c.C*v*v*v
	if !isFinite(p) || p < 0 {
		return 0
	}
	return p
}

// Profile is a trainer with one curve per resistance level, plus the rider
// physics used for simulated speed.
type Profile struct {
	Name    string  `json:"name"`
	Levels  []Curve `json:"levels"`
	Physics Physics `json:"physics"`
}

// PowerFor returns the watts needed to spin the trainer at speedKmh on the given
// resistance level. Levels start at 1; out-of-range levels use the nearest curve.
func (p *Profile) PowerFor(speedKmh float64, resistance int) int {
	if len(p.Levels) == 0 {
		return 0
	}
	idx := resistance - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Levels) {
		idx = len(p.Levels) - 1
	}
	return int(math.Round(p.Levels[idx].Watts(speedKmh)))
}

// RealSpeed returns the road speed in m/s that powerW sustains for massKG on the
// given gradient (a fraction, 0.05 for 5%).
func (p *Profile) RealSpeed(massKG, gradient, powerW float64) float64 {
	return p.Physics.withDefaults().Speed(massKG, gradient, powerW)
}

// Validate reports whether the profile can be registered.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("%w: %s has no resistance levels", ErrInvalidProfile, p.Name)
	}
	for i, c := range p.Levels {
		if !isFinite(c.A) || !isFinite(c.B) || !isFinite(c.C) {
			return fmt.Errorf("%w: %s level %d has non-finite coefficients", ErrInvalidProfile, p.Name, i+1)
		}
	}
	return nil
}

var (
	registryMu sync.RWMutex
	registry   = builtinProfiles()
)

// Register adds or replaces a profile.
func Register(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	levels := append([]Curve(nil), p.Levels...)
	p.Levels = levels
	registry[p.Name] = &p
	return nil
}

// Lookup returns the named profile. An empty name selects DefaultProfile.
func Lookup(name string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultProfile
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	out := *p
	out.Levels = append([]Curve(nil), p.Levels...)
	return &out, nil
}

// Names lists registered profiles in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func builtinProfiles() map[string]*Profile {
	linear := &Profile{Name: DefaultProfile}
	for level := 0; level < 10; level++ {
		linear.Levels = append(linear.Levels, Curve{
			A: 2.0 + 0.55*float64(level),
			C: 0.0009,
		})
	}
	fluid := &Profile{
		Name:   "Fluid",
		Levels: []Curve{{A: 0.5, C: 0.0095}},
	}
	return map[string]*Profile{
		linear.Name: linear,
		fluid.Name:  fluid,
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
