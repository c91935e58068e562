package wheelspeed

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lucasjlepore/wheelspeed/rolling"
)

// Gaps longer than this between records are not integrated into work or
// moving time.
const maxIntegrationGap = 5 * time.Second

// Summary aggregates a recorded ride.
type Summary struct {
	Records          int       `json:"records"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	ElapsedSeconds   float64   `json:"elapsed_seconds"`
	MovingSeconds    float64   `json:"moving_seconds"`
	StoppedSeconds   float64   `json:"stopped_seconds"`
	DistanceMeters   float64   `json:"distance_meters"`
	ElevationGainM   float64   `json:"elevation_gain_m"`
	ElevationLossM   float64   `json:"elevation_loss_m"`
	AvgSpeedKmh      float64   `json:"avg_speed_kmh"`
	MaxSpeedKmh      float64   `json:"max_speed_kmh"`
	AvgPowerWatts    float64   `json:"avg_power_watts"`
	MaxPowerWatts    float64   `json:"max_power_watts"`
	NormalizedPower  float64   `json:"normalized_power_watts"`
	VariabilityIndex float64   `json:"variability_index"`
	WorkKilojoules   float64   `json:"work_kilojoules"`
	Best5MinPower    float64   `json:"best_5min_power_watts"`
	Best20MinPower   float64   `json:"best_20min_power_watts"`
	RouteResets      int       `json:"route_resets"`
}

// Summarize computes ride totals from records in any order.
func Summarize(records []Telemetry) Summary {
	if len(records) == 0 {
		return Summary{}
	}

	rows := make([]Telemetry, len(records))
	copy(rows, records)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	s := Summary{
		Records:   len(rows),
		StartTime: rows[0].Timestamp,
		EndTime:   rows[len(rows)-1].Timestamp,
	}
	if s.EndTime.After(s.StartTime) {
		s.ElapsedSeconds = s.EndTime.Sub(s.StartTime).Seconds()
	}

	var (
		powerSamples = make([]float64, 0, len(rows))
		powerForNP   = make([]float64, 0, len(rows))
		movingSpeeds = make([]float64, 0, len(rows))
		maxSpeed     float64
		workJoules   float64
		lastElev     *float64
	)

	for i, rec := range rows {
		power := float64(rec.PowerW)
		powerSamples = append(powerSamples, power)
		if rec.SpeedKmh > 0 {
			movingSpeeds = append(movingSpeeds, rec.SpeedKmh)
		}
		if rec.SpeedKmh > maxSpeed {
			maxSpeed = rec.SpeedKmh
		}

		// Distance restarts from zero at the end of a route.
		reset := i > 0 && rec.DistanceM < rows[i-1].DistanceM
		if rec.ElevationM != nil {
			if lastElev != nil && !reset {
				diff := *rec.ElevationM - *lastElev
				if diff > 0 {
					s.ElevationGainM += diff
				} else {
					s.ElevationLossM -= diff
				}
			}
			lastElev = rec.ElevationM
		}

		if i == 0 {
			powerForNP = append(powerForNP, power)
			continue
		}
		prev := rows[i-1]

		if reset {
			s.RouteResets++
			s.DistanceMeters += nonNegative(rec.DistanceM)
		} else {
			s.DistanceMeters += rec.DistanceM - prev.DistanceM
		}

		gap := rec.Timestamp.Sub(prev.Timestamp)
		if gap > 0 && gap <= maxIntegrationGap {
			delta := gap.Seconds()
			workJoules += float64(prev.PowerW) * delta
			if rec.SpeedKmh > 0 {
				s.MovingSeconds += delta
			} else {
				s.StoppedSeconds += delta
			}
		}

		// Resample to 1 Hz by holding the previous value over short gaps.
		missing := int(math.Round(gap.Seconds())) - 1
		if missing > 0 && missing <= 30 {
			for k := 0; k < missing; k++ {
				powerForNP = append(powerForNP, float64(prev.PowerW))
			}
		}
		powerForNP = append(powerForNP, power)
	}

	s.AvgSpeedKmh = mean(movingSpeeds)
	s.MaxSpeedKmh = maxSpeed
	s.AvgPowerWatts = mean(powerSamples)
	s.MaxPowerWatts = floats.Max(powerSamples)
	s.NormalizedPower = normalizedPower(powerForNP)
	if s.AvgPowerWatts > 0 {
		s.VariabilityIndex = s.NormalizedPower / s.AvgPowerWatts
	}
	s.WorkKilojoules = workJoules / 1000.0
	s.Best5MinPower = bestRollingPower(powerForNP, 5*60)
	s.Best20MinPower = bestRollingPower(powerForNP, 20*60)
	return s
}

// normalizedPower is the fourth-power mean of the 30 s rolling average of 1 Hz
// power. Short rides fall back to the plain mean.
func normalizedPower(powerSamples []float64) float64 {
	const window = 30
	if len(powerSamples) < window {
		return mean(powerSamples)
	}
	avg := rolling.New(window)
	fourth := make([]float64, 0, len(powerSamples)-window+1)
	for _, p := range powerSamples {
		m := avg.Add(p)
		if avg.Len() == window {
			fourth = append(fourth, math.Pow(m, 4))
		}
	}
	return math.Pow(stat.Mean(fourth, nil), 0.25)
}

// bestRollingPower is the highest mean over any window of 1 Hz samples, or 0
// when the ride is shorter than the window.
func bestRollingPower(powerSamples []float64, seconds int) float64 {
	if seconds <= 0 || len(powerSamples) < seconds {
		return 0
	}
	avg := rolling.New(seconds)
	best := 0.0
	for _, p := range powerSamples {
		m := avg.Add(p)
		if avg.Len() == seconds && m > best {
			best = m
		}
	}
	return best
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}
