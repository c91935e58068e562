package wheelspeed

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWheelCM = 213.3

var testNow = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

type fakeModel struct {
	watts     int     // fixed output when non-zero
	perKmh    float64 // watts per km/h otherwise
	idleWatts int     // output at zero speed
	roadMps   float64

	gotMass, gotGradient, gotPower float64
	realSpeedCalls                 int
}

func (m *fakeModel) PowerFor(speedKmh float64, resistance int) int {
	if speedKmh <= 0 {
		return m.idleWatts
	}
	if m.watts != 0 {
		return m.watts
	}
	return int(math.Round(speedKmh * m.perKmh))
}

func (m *fakeModel) RealSpeed(massKG, gradient, powerW float64) float64 {
	m.realSpeedCalls++
	m.gotMass, m.gotGradient, m.gotPower = massKG, gradient, powerW
	return m.roadMps
}

type fakeRoute struct {
	kind   RouteKind
	length float64
	point  RoutePoint
	asked  []float64
}

func (r *fakeRoute) PointAt(km float64) (RoutePoint, bool) {
	r.asked = append(r.asked, km)
	if km < 0 || km > r.length {
		return RoutePoint{}, false
	}
	return r.point, true
}

func (r *fakeRoute) Kind() RouteKind { return r.kind }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(WithClock(func() time.Time { return testNow }))
}

func baseConfig(m PowerModel) Config {
	return Config{
		WheelCircumferenceCM: testWheelCM,
		ResistanceLevel:      1,
		MassKG:               90,
		PowerModel:           m,
	}
}

// startRunning starts a session and feeds a stale sample then a count change so
// that baseline is the last accepted sample.
func startRunning(t *testing.T, e *Engine, cfg Config, baseline RotationSample) {
	t.Helper()
	require.NoError(t, e.Start(cfg))
	_, ok := e.OnSample(RotationSample{Time: baseline.Time - 10, Count: baseline.Count - 1})
	require.False(t, ok)
	_, ok = e.OnSample(baseline)
	require.False(t, ok)
	require.Equal(t, PhaseRunning, e.Phase())
}

func expectedSpeed(revs, ticks float64) float64 {
	km := revs * testWheelCM / 100000
	return km / (ticks / 1024 / 3600)
}

func TestSamplesIgnoredBeforeStart(t *testing.T) {
	e := newTestEngine(t)
	_, ok := e.OnSample(RotationSample{Time: 100, Count: 50})
	assert.False(t, ok)
	_, ok = e.OnSample(RotationSample{Time: 1124, Count: 55})
	assert.False(t, ok)
	assert.Equal(t, PhaseUninitialized, e.Phase())
}

func TestInitializationWaitsForCountChange(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Start(baseConfig(&fakeModel{perKmh: 5})))
	assert.Equal(t, PhaseInitializing, e.Phase())

	// Buffered replay: time moves but the wheel has not turned.
	for _, s := range []RotationSample{{Time: 90, Count: 49}, {Time: 95, Count: 49}} {
		_, ok := e.OnSample(s)
		assert.False(t, ok)
		assert.Equal(t, PhaseInitializing, e.Phase())
	}

	_, ok := e.OnSample(RotationSample{Time: 100, Count: 50})
	assert.False(t, ok)
	assert.Equal(t, PhaseRunning, e.Phase())

	rec, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	assert.InDelta(t, 38.394, rec.SpeedKmh, 1e-9)
	assert.InDelta(t, 10.665, rec.DistanceM, 1e-9)
	assert.Equal(t, 192, rec.PowerW)
	assert.Equal(t, testNow, rec.Timestamp)
	assert.Nil(t, rec.ElevationM)
	assert.Nil(t, rec.Latitude)
}

func TestCounterWraparound(t *testing.T) {
	e := newTestEngine(t)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 65500, Count: 65534})

	rec, ok := e.OnSample(RotationSample{Time: 20, Count: 1})
	require.True(t, ok)
	// 56 ticks and 3 revolutions across the wrap.
	assert.InDelta(t, expectedSpeed(3, 56), rec.SpeedKmh, 1e-9)
	assert.InDelta(t, 3*testWheelCM/100, rec.DistanceM, 1e-9)
}

func TestCorruptSampleIsDiscardedAndRebaselined(t *testing.T) {
	e := newTestEngine(t)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 1000, Count: 10})

	_, ok := e.OnSample(RotationSample{Time: 7000, Count: 12})
	assert.False(t, ok, "time delta above 5000 ticks")
	assert.Equal(t, PhaseRunning, e.Phase())
	assert.Zero(t, e.DistanceKM())

	_, ok = e.OnSample(RotationSample{Time: 8024, Count: 14})
	assert.False(t, ok, "first sample after a discard only sets the baseline")

	rec, ok := e.OnSample(RotationSample{Time: 9048, Count: 16})
	require.True(t, ok)
	assert.InDelta(t, expectedSpeed(2, 1024), rec.SpeedKmh, 1e-9)
	assert.InDelta(t, 2*testWheelCM/100, rec.DistanceM, 1e-9)
}

func TestBackwardsCountIsDiscarded(t *testing.T) {
	var logs bytes.Buffer
	e := NewEngine(
		WithClock(func() time.Time { return testNow }),
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 1000, Count: 10})

	_, ok := e.OnSample(RotationSample{Time: 2024, Count: 8})
	assert.False(t, ok)
	assert.Zero(t, e.DistanceKM())
	assert.Contains(t, logs.String(), "revolution count went backwards")
	assert.NotContains(t, logs.String(), "bogus sample")
}

func TestMaxTimeDeltaIsAccepted(t *testing.T) {
	e := newTestEngine(t)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 1000, Count: 10})

	rec, ok := e.OnSample(RotationSample{Time: 6000, Count: 12})
	require.True(t, ok)
	assert.InDelta(t, expectedSpeed(2, 5000), rec.SpeedKmh, 1e-9)
}

func TestZeroSpeedDebounce(t *testing.T) {
	e := newTestEngine(t)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 100, Count: 50})

	rec, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	distance := rec.DistanceM

	same := RotationSample{Time: 1124, Count: 55}
	for i := 1; i < 6; i++ {
		_, ok = e.OnSample(same)
		assert.False(t, ok, "repeat %d should be debounced", i)
	}
	rec, ok = e.OnSample(same)
	require.True(t, ok, "sixth repeat reports a stop")
	assert.Zero(t, rec.SpeedKmh)
	assert.Zero(t, rec.PowerW)
	assert.InDelta(t, distance, rec.DistanceM, 1e-9)

	rec, ok = e.OnSample(same)
	require.True(t, ok)
	assert.Zero(t, rec.SpeedKmh)
}

func TestLowCadenceExtrapolation(t *testing.T) {
	e := newTestEngine(t)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 100, Count: 50})

	first, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)

	// Time moves but no revolution completed: hold the last speed.
	rec, ok := e.OnSample(RotationSample{Time: 2148, Count: 55})
	require.True(t, ok)
	assert.InDelta(t, first.SpeedKmh, rec.SpeedKmh, 1e-9)
	assert.InDelta(t, first.DistanceM+first.SpeedKmh/3.6, rec.DistanceM, 1e-9)
	assert.Equal(t, first.PowerW, rec.PowerW)
}

func TestExtrapolationStopsAfterLongStall(t *testing.T) {
	e := newTestEngine(t)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 100, Count: 50})

	first, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)

	stall(e, RotationSample{Time: 1124, Count: 55})
	rec, ok := e.OnSample(RotationSample{Time: 2148, Count: 55})
	require.True(t, ok)
	assert.Zero(t, rec.SpeedKmh)
	assert.Zero(t, rec.PowerW)
	assert.InDelta(t, first.DistanceM, rec.DistanceM, 1e-9)
}

func TestDistanceNeverDecreasesWithoutRoute(t *testing.T) {
	e := newTestEngine(t)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 0, Count: 0})

	samples := []RotationSample{
		{Time: 900, Count: 3}, {Time: 900, Count: 3}, {Time: 7000, Count: 9},
		{Time: 7500, Count: 10}, {Time: 8000, Count: 9}, {Time: 8100, Count: 11},
		{Time: 9000, Count: 11}, {Time: 65000, Count: 40}, {Time: 100, Count: 44},
		{Time: 1200, Count: 47},
	}
	last := 0.0
	for _, s := range samples {
		if rec, ok := e.OnSample(s); ok {
			assert.GreaterOrEqual(t, rec.DistanceM, last*1000-1e-9)
			assert.GreaterOrEqual(t, rec.SpeedKmh, 0.0)
		}
		d := e.DistanceKM()
		assert.GreaterOrEqual(t, d, last)
		last = d
	}
	assert.Greater(t, last, 0.0)
}

func TestRouteEndResetsDistance(t *testing.T) {
	e := newTestEngine(t)
	r := &fakeRoute{kind: RouteSlope, length: 0.015, point: RoutePoint{ElevationM: 120, GradientPct: 2, Latitude: 45, Longitude: 6}}
	e.LoadRoute(r)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 100, Count: 50})

	rec, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	require.NotNil(t, rec.ElevationM)
	assert.Equal(t, 120.0, *rec.ElevationM)
	assert.Equal(t, 2.0, *rec.GradientPct)
	assert.Equal(t, 45.0, *rec.Latitude)
	assert.Equal(t, 6.0, *rec.Longitude)
	assert.InDelta(t, 0.010665, r.asked[len(r.asked)-1], 1e-12, "lookup uses the updated distance")

	_, ok = e.OnSample(RotationSample{Time: 2148, Count: 60})
	assert.False(t, ok, "0.02133 km is past the end")
	assert.Zero(t, e.DistanceKM())

	rec, ok = e.OnSample(RotationSample{Time: 3172, Count: 65})
	require.True(t, ok)
	assert.InDelta(t, 10.665, rec.DistanceM, 1e-9)
}

func TestRouteEndAtExactBoundaryStillReports(t *testing.T) {
	e := newTestEngine(t)
	revs, circ := 5.0, testWheelCM
	r := &fakeRoute{kind: RouteSlope, length: revs * circ / 100000}
	e.LoadRoute(r)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 100, Count: 50})

	_, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	assert.True(t, ok)
}

func TestStartPositionAndLoadRoute(t *testing.T) {
	e := newTestEngine(t)
	r := &fakeRoute{kind: RouteSlope, length: 10}
	e.LoadRoute(r)
	e.SetStartPosition(2.5)
	assert.Equal(t, 2.5, e.DistanceKM())

	e.SetStartPosition(-3)
	assert.Zero(t, e.DistanceKM())
	e.SetStartPosition(math.NaN())
	assert.Zero(t, e.DistanceKM())

	e.SetStartPosition(4)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 100, Count: 50})
	rec, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	assert.InDelta(t, 4010.665, rec.DistanceM, 1e-9)

	e.LoadRoute(nil)
	assert.Zero(t, e.DistanceKM())
	rec, ok = e.OnSample(RotationSample{Time: 2148, Count: 60})
	require.True(t, ok)
	assert.Nil(t, rec.ElevationM)
}

func TestRejectedStartKeepsSession(t *testing.T) {
	e := newTestEngine(t)

	err := e.Start(Config{WheelCircumferenceCM: 0, PowerModel: &fakeModel{}})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Equal(t, PhaseUninitialized, e.Phase())

	err = e.Start(Config{WheelCircumferenceCM: testWheelCM})
	assert.True(t, errors.Is(err, ErrInvalidConfig), "power model is required")

	cfg := baseConfig(&fakeModel{perKmh: 5})
	cfg.SimulatedSpeed = true
	cfg.MassKG = 0
	assert.True(t, errors.Is(e.Start(cfg), ErrInvalidConfig))

	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 100, Count: 50})
	assert.Error(t, e.Start(Config{WheelCircumferenceCM: math.Inf(1), PowerModel: &fakeModel{}}))
	assert.Equal(t, PhaseRunning, e.Phase())

	rec, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	assert.InDelta(t, 38.394, rec.SpeedKmh, 1e-9)
}

func TestRestartReinitializes(t *testing.T) {
	e := newTestEngine(t)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 100, Count: 50})

	require.NoError(t, e.Start(baseConfig(&fakeModel{perKmh: 5})))
	assert.Equal(t, PhaseInitializing, e.Phase())
	_, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	assert.False(t, ok)
}

func TestSlopeSimulation(t *testing.T) {
	e := newTestEngine(t)
	model := &fakeModel{perKmh: 5, roadMps: 10}
	r := &fakeRoute{kind: RouteSlope, length: 10, point: RoutePoint{ElevationM: 300, GradientPct: 5}}
	e.LoadRoute(r)

	cfg := baseConfig(model)
	cfg.SimulatedSpeed = true
	startRunning(t, e, cfg, RotationSample{Time: 100, Count: 50})

	rec, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	assert.InDelta(t, 36, rec.SpeedKmh, 1e-9)
	assert.InDelta(t, 10, rec.DistanceM, 1e-9)
	assert.Equal(t, 192, rec.PowerW, "power follows the trainer speed")
	assert.Equal(t, 90.0, model.gotMass)
	assert.InDelta(t, 0.05, model.gotGradient, 1e-12)
	assert.Equal(t, 192.0, model.gotPower)
	require.NotNil(t, rec.GradientPct)
	assert.Equal(t, 5.0, *rec.GradientPct)
}

func TestSlopeSimulationSkipsRoadModelWithoutPower(t *testing.T) {
	e := newTestEngine(t)
	model := &fakeModel{perKmh: 0, roadMps: 10}
	e.LoadRoute(&fakeRoute{kind: RouteSlope, length: 10})

	cfg := baseConfig(model)
	cfg.SimulatedSpeed = true
	startRunning(t, e, cfg, RotationSample{Time: 100, Count: 50})

	rec, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	assert.InDelta(t, 38.394, rec.SpeedKmh, 1e-9)
	assert.Zero(t, model.realSpeedCalls)
}

// stall holds the sensor time long enough that no revolution is extrapolated.
func stall(e *Engine, s RotationSample) {
	for i := 0; i < 12; i++ {
		e.OnSample(s)
	}
}

func TestSlopeSimulationMovesWithPowerAtZeroTrainerSpeed(t *testing.T) {
	e := newTestEngine(t)
	model := &fakeModel{perKmh: 5, idleWatts: 50, roadMps: 10}
	e.LoadRoute(&fakeRoute{kind: RouteSlope, length: 10, point: RoutePoint{GradientPct: -3}})

	cfg := baseConfig(model)
	cfg.SimulatedSpeed = true
	startRunning(t, e, cfg, RotationSample{Time: 100, Count: 50})

	first, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	stall(e, RotationSample{Time: 1124, Count: 55})

	rec, ok := e.OnSample(RotationSample{Time: 2148, Count: 55})
	require.True(t, ok)
	assert.Equal(t, 50, rec.PowerW)
	assert.Equal(t, 50.0, model.gotPower)
	assert.InDelta(t, -0.03, model.gotGradient, 1e-12)
	assert.InDelta(t, 36, rec.SpeedKmh, 1e-9)
	assert.InDelta(t, first.DistanceM+10, rec.DistanceM, 1e-9)
}

func TestSlopeSimulationPowerDropsToZero(t *testing.T) {
	e := newTestEngine(t)
	model := &fakeModel{perKmh: 5, roadMps: 10}
	e.LoadRoute(&fakeRoute{kind: RouteSlope, length: 10})

	cfg := baseConfig(model)
	cfg.SimulatedSpeed = true
	startRunning(t, e, cfg, RotationSample{Time: 100, Count: 50})

	first, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	require.Equal(t, 192, first.PowerW)
	require.Equal(t, 1, model.realSpeedCalls)
	stall(e, RotationSample{Time: 1124, Count: 55})

	rec, ok := e.OnSample(RotationSample{Time: 2148, Count: 55})
	require.True(t, ok)
	assert.Zero(t, rec.PowerW)
	assert.Zero(t, rec.SpeedKmh)
	assert.InDelta(t, first.DistanceM, rec.DistanceM, 1e-9)
	assert.Equal(t, 1, model.realSpeedCalls, "road model is skipped without power")

	rec, ok = e.OnSample(RotationSample{Time: 3172, Count: 60})
	require.True(t, ok)
	assert.Equal(t, 192, rec.PowerW)
	assert.InDelta(t, 36, rec.SpeedKmh, 1e-9)
	assert.InDelta(t, first.DistanceM+10, rec.DistanceM, 1e-9)
	assert.Equal(t, 2, model.realSpeedCalls)
}

func TestSlopeSimulationAtRouteEndKeepsBaseline(t *testing.T) {
	e := newTestEngine(t)
	r := &fakeRoute{kind: RouteSlope, length: 1}
	e.LoadRoute(r)
	e.SetStartPosition(1.5)

	cfg := baseConfig(&fakeModel{perKmh: 5, roadMps: 10})
	cfg.SimulatedSpeed = true
	startRunning(t, e, cfg, RotationSample{Time: 100, Count: 50})

	_, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	assert.False(t, ok)
	assert.Zero(t, e.DistanceKM())

	// The baseline was not advanced, so the next delta spans both samples.
	rec, ok := e.OnSample(RotationSample{Time: 2148, Count: 60})
	require.True(t, ok)
	assert.InDelta(t, 36, rec.SpeedKmh, 1e-9)
	assert.InDelta(t, 20, rec.DistanceM, 1e-9)
}

func TestProfileSimulationScalesReferenceSpeed(t *testing.T) {
	e := newTestEngine(t)
	model := &fakeModel{watts: 100}
	r := &fakeRoute{kind: RouteProfile, length: 10, point: RoutePoint{SpeedKmh: 30, PowerW: 200}}
	e.LoadRoute(r)

	cfg := baseConfig(model)
	cfg.SimulatedSpeed = true
	startRunning(t, e, cfg, RotationSample{Time: 100, Count: 50})

	rec, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	assert.InDelta(t, 15, rec.SpeedKmh, 1e-9)
	assert.InDelta(t, 15/3.6, rec.DistanceM, 1e-9)

	model.watts = 300
	rec, ok = e.OnSample(RotationSample{Time: 2148, Count: 60})
	require.True(t, ok)
	assert.InDelta(t, 30, rec.SpeedKmh, 1e-9, "mean of 0.5 and 1.5")
	assert.Zero(t, model.realSpeedCalls)
}

func TestProfileWithoutReferencePowerKeepsRatio(t *testing.T) {
	e := newTestEngine(t)
	model := &fakeModel{watts: 100}
	r := &fakeRoute{kind: RouteProfile, length: 10, point: RoutePoint{SpeedKmh: 24}}
	e.LoadRoute(r)

	cfg := baseConfig(model)
	cfg.SimulatedSpeed = true
	startRunning(t, e, cfg, RotationSample{Time: 100, Count: 50})

	rec, ok := e.OnSample(RotationSample{Time: 1124, Count: 55})
	require.True(t, ok)
	assert.InDelta(t, 24, rec.SpeedKmh, 1e-9)
}

func TestHandleFrame(t *testing.T) {
	e := newTestEngine(t)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 100, Count: 50})

	_, ok := e.HandleFrame([]byte{1, 2, 3})
	assert.False(t, ok)

	rec, ok := e.HandleFrame([]byte{0, 0, 0, 0, 0x64, 0x04, 0x37, 0x00})
	require.True(t, ok)
	assert.InDelta(t, 38.394, rec.SpeedKmh, 1e-9)
}

func TestDecodeFrame(t *testing.T) {
	s, err := DecodeFrame([]byte{0xff, 0xff, 0xff, 0xff, 0x34, 0x12, 0xcd, 0xab})
	require.NoError(t, err)
	assert.Equal(t, RotationSample{Time: 0x1234, Count: 0xabcd}, s)

	_, err = DecodeFrame(make([]byte, 7))
	assert.True(t, errors.Is(err, ErrShortFrame))

	round, err := DecodeFrame(EncodeFrame(RotationSample{Time: 65535, Count: 7}))
	require.NoError(t, err)
	assert.Equal(t, RotationSample{Time: 65535, Count: 7}, round)
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	e := newTestEngine(t)
	startRunning(t, e, baseConfig(&fakeModel{perKmh: 5}), RotationSample{Time: 0, Count: 0})

	var wg sync.WaitGroup
	var mu sync.Mutex
	next := RotationSample{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				mu.Lock()
				next.Time += 512
				next.Count++
				e.OnSample(next)
				mu.Unlock()
				_ = e.DistanceKM()
				_ = e.Phase()
			}
		}()
	}
	wg.Wait()
	assert.Greater(t, e.DistanceKM(), 0.0)
}
