package power

// Physics holds the road-load constants for a rider on a bike.
type Physics struct {
	CdA        float64 `json:"cda"`         // drag area, m^2
	Crr        float64 `json:"crr"`         // rolling resistance coefficient
	AirDensity float64 `json:"air_density"` // kg/m^3
	Gravity    float64 `json:"gravity"`     // m/s^2
}

// DefaultPhysics is a rider on the hoods on a road bike at sea level.
var DefaultPhysics = Physics{
	CdA:        0.32,
	Crr:        0.005,
	AirDensity: 1.226,
	Gravity:    9.81,
}

const (
	solverTolerance = 1e-9
	solverMaxIter   = 200
	solverMaxSpeed  = 200.0 // m/s
)

func (ph Physics) withDefaults() Physics {
	if ph.CdA <= 0 {
		ph.CdA = DefaultPhysics.CdA
	}
	if ph.Crr <= 0 {
		ph.Crr = DefaultPhysics.Crr
	}
	if ph.AirDensity <= 0 {
		ph.AirDensity = DefaultPhysics.AirDensity
	}
	if ph.Gravity <= 0 {
		ph.Gravity = DefaultPhysics.Gravity
	}
	return ph
}

// Power returns the watts needed to hold speed (m/s) on the gradient.
func (ph Physics) Power(massKG, gradient, speed float64) float64 {
	resist := massKG * ph.Gravity * (gradient + ph.Crr)
	drag := 0.5 * ph.AirDensity * ph.CdA * speed * speed
	return speed * (resist + drag)
}

// Speed solves Power(mass, gradient, v) = powerW for v by bisection. The load
// curve can dip below zero on descents but crosses any positive power once, so
// the bracket [0, hi] always holds a single root. Invalid input yields 0.
func (ph Physics) Speed(massKG, gradient, powerW float64) float64 {
	if !isFinite(massKG) || !isFinite(gradient) || !isFinite(powerW) || massKG <= 0 || powerW <= 0 {
		return 0
	}
	ph = ph.withDefaults()

	lo, hi := 0.0, 10.0
	for ph.Power(massKG, gradient, hi) < powerW {
		hi *= 2
		if hi > solverMaxSpeed {
			return solverMaxSpeed
		}
	}
	for i := 0; i < solverMaxIter && hi-lo > solverTolerance; i++ {
		mid := (lo + hi) / 2
		if ph.Power(massKG, gradient, mid) < powerW {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}
