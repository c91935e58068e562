package wheelspeed

import (
	"fmt"
	"math"
	"strings"
)

// BuildRideNotes turns a ride summary into a short readable report.
func BuildRideNotes(s Summary) string {
	if s.Records == 0 {
		return "No telemetry recorded."
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Ride: %d records\n", s.Records)
	if !s.StartTime.IsZero() {
		fmt.Fprintf(&b, "Start: %s\n", s.StartTime.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(
		&b,
		"Duration %s | Distance %.2f km | Elevation +%.0f/-%.0f m\n",
		formatDuration(s.ElapsedSeconds),
		s.DistanceMeters/1000.0,
		s.ElevationGainM,
		s.ElevationLossM,
	)
	fmt.Fprintf(
		&b,
		"Speed %.1f avg / %.1f max km/h | Moving %s | Stopped %s\n",
		s.AvgSpeedKmh,
		s.MaxSpeedKmh,
		formatDuration(s.MovingSeconds),
		formatDuration(s.StoppedSeconds),
	)
	fmt.Fprintf(
		&b,
		"Power %.0f avg / %.0f NP / %.0f max W | Work %.0f kJ | VI %.2f\n",
		s.AvgPowerWatts,
		s.NormalizedPower,
		s.MaxPowerWatts,
		s.WorkKilojoules,
		s.VariabilityIndex,
	)
	if s.Best20MinPower > 0 {
		fmt.Fprintf(&b, "Best 20 min power: %.0f W\n", s.Best20MinPower)
	} else if s.Best5MinPower > 0 {
		fmt.Fprintf(&b, "Best 5 min power: %.0f W\n", s.Best5MinPower)
	}
	if s.RouteResets > 0 {
		fmt.Fprintf(&b, "Route completed %d time(s)\n", s.RouteResets)
	}

	b.WriteString("\nNotes\n- ")
	b.WriteString(pacingAssessment(s))
	b.WriteByte('\n')

	return strings.TrimSpace(b.String())
}

func pacingAssessment(s Summary) string {
	if s.ElapsedSeconds > 0 && s.StoppedSeconds/s.ElapsedSeconds > 0.2 {
		return "Frequent stops broke up the session; power averages understate the riding effort."
	}
	switch {
	case s.VariabilityIndex == 0:
		return "No power recorded; check the trainer power profile."
	case s.VariabilityIndex <= 1.05:
		return "Steady pacing with little surging."
	case s.VariabilityIndex <= 1.15:
		return "Moderately variable effort, typical of rolling terrain."
	default:
		return "Highly variable effort; NP is a better load measure than average power for this ride."
	}
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	s := int(math.Round(seconds))
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
