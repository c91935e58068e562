package recorder

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/tormoder/fit"

	"github.com/lucasjlepore/wheelspeed"
)

// buildActivity lays the ride out as a single-lap indoor cycling activity.
// Record distance is made cumulative across route restarts.
func buildActivity(samples []wheelspeed.Telemetry, s wheelspeed.Summary) (*fit.File, error) {
	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	if err != nil {
		return nil, err
	}
	activity, err := file.Activity()
	if err != nil {
		return nil, err
	}

	start, end := s.StartTime, s.EndTime
	file.FileId.TimeCreated = start

	startEvent := fit.NewEventMsg()
	startEvent.Timestamp = start
	startEvent.Event = fit.EventTimer
	startEvent.EventType = fit.EventTypeStart
	activity.Events = append(activity.Events, startEvent)

	var (
		total    float64
		prevDist float64
	)
	for i, t := range samples {
		if i == 0 || t.DistanceM < prevDist {
			total += t.DistanceM
		} else {
			total += t.DistanceM - prevDist
		}
		prevDist = t.DistanceM

		rec := fit.NewRecordMsg()
		rec.Timestamp = t.Timestamp
		rec.Speed = clampU16(t.SpeedKmh / 3.6 * 1000)
		rec.Power = clampU16(float64(t.PowerW))
		rec.Distance = clampU32(total * 100)
		if t.ElevationM != nil {
			rec.Altitude = clampU16((*t.ElevationM + 500) * 5)
		}
		if t.GradientPct != nil {
			rec.Grade = clampI16(*t.GradientPct * 100)
		}
		if t.Latitude != nil && t.Longitude != nil {
			rec.PositionLat = fit.NewLatitudeDegrees(*t.Latitude)
			rec.PositionLong = fit.NewLongitudeDegrees(*t.Longitude)
		}
		activity.Records = append(activity.Records, rec)
	}

	stopEvent := fit.NewEventMsg()
	stopEvent.Timestamp = end
	stopEvent.Event = fit.EventTimer
	stopEvent.EventType = fit.EventTypeStop
	activity.Events = append(activity.Events, stopEvent)

	lap := fit.NewLapMsg()
	lap.Timestamp = end
	lap.StartTime = start
	lap.TotalElapsedTime = clampU32(s.ElapsedSeconds * 1000)
	lap.TotalTimerTime = clampU32(s.ElapsedSeconds * 1000)
	lap.TotalDistance = clampU32(s.DistanceMeters * 100)
	lap.AvgPower = clampU16(s.AvgPowerWatts)
	lap.MaxPower = clampU16(s.MaxPowerWatts)
	activity.Laps = append(activity.Laps, lap)

	session := fit.NewSessionMsg()
	session.Timestamp = end
	session.StartTime = start
	session.Sport = fit.SportCycling
	session.SubSport = fit.SubSportIndoorCycling
	session.TotalElapsedTime = clampU32(s.ElapsedSeconds * 1000)
	session.TotalTimerTime = clampU32(s.ElapsedSeconds * 1000)
	session.TotalDistance = clampU32(s.DistanceMeters * 100)
	session.AvgSpeed = clampU16(s.AvgSpeedKmh / 3.6 * 1000)
	session.MaxSpeed = clampU16(s.MaxSpeedKmh / 3.6 * 1000)
	session.AvgPower = clampU16(s.AvgPowerWatts)
	session.MaxPower = clampU16(s.MaxPowerWatts)
	session.NormalizedPower = clampU16(s.NormalizedPower)
	session.TotalWork = clampU32(s.WorkKilojoules * 1000)
	session.TotalAscent = clampU16(s.ElevationGainM)
	session.TotalDescent = clampU16(s.ElevationLossM)
	session.NumLaps = 1
	activity.Sessions = append(activity.Sessions, session)

	act := fit.NewActivityMsg()
	act.Timestamp = end
	act.NumSessions = 1
	activity.Activity = act

	return file, nil
}

func writeActivityFIT(path string, samples []wheelspeed.Telemetry, s wheelspeed.Summary) error {
	file, err := buildActivity(samples, s)
	if err != nil {
		return err
	}
	return writeFile(path, func(f io.Writer) error {
		w := bufio.NewWriter(f)
		if err := fit.Encode(w, file, binary.LittleEndian); err != nil {
			return err
		}
		return w.Flush()
	})
}

// The FIT invalid value for each width is its maximum, so clamp one below.

func clampU16(v float64) uint16 {
	if !finite(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint16-1 {
		return math.MaxUint16 - 1
	}
	return uint16(math.Round(v))
}

func clampU32(v float64) uint32 {
	if !finite(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint32-1 {
		return math.MaxUint32 - 1
	}
	return uint32(math.Round(v))
}

func clampI16(v float64) int16 {
	if !finite(v) {
		return 0
	}
	if v >= math.MaxInt16-1 {
		return math.MaxInt16 - 1
	}
	if v <= math.MinInt16 {
		return math.MinInt16 + 1
	}
	return int16(math.Round(v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
