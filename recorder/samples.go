package recorder

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/lucasjlepore/wheelspeed"
)

var sampleColumns = []string{
	"ts_utc_iso", "elapsed_s", "speed_kmh", "power_w", "distance_m",
	"elevation_m", "gradient_pct", "latitude", "longitude",
}

type sampleParquetRow struct {
	TSUTCISO    string  `parquet:"name=ts_utc_iso, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	ElapsedS    float64 `parquet:"name=elapsed_s, type=DOUBLE"`
	SpeedKmh    float64 `parquet:"name=speed_kmh, type=DOUBLE"`
	PowerW      int32   `parquet:"name=power_w, type=INT32"`
	DistanceM   float64 `parquet:"name=distance_m, type=DOUBLE"`
	ElevationM  float64 `parquet:"name=elevation_m, type=DOUBLE"`
	GradientPct float64 `parquet:"name=gradient_pct, type=DOUBLE"`
	Latitude    float64 `parquet:"name=latitude, type=DOUBLE"`
	Longitude   float64 `parquet:"name=longitude, type=DOUBLE"`
}

func toParquetRow(t wheelspeed.Telemetry, start time.Time) sampleParquetRow {
	return sampleParquetRow{
		TSUTCISO:    t.Timestamp.UTC().Format(time.RFC3339Nano),
		ElapsedS:    t.Timestamp.Sub(start).Seconds(),
		SpeedKmh:    t.SpeedKmh,
		PowerW:      int32(t.PowerW),
		DistanceM:   t.DistanceM,
		ElevationM:  valueOrNaN(t.ElevationM),
		GradientPct: valueOrNaN(t.GradientPct),
		Latitude:    valueOrNaN(t.Latitude),
		Longitude:   valueOrNaN(t.Longitude),
	}
}

func writeSamplesParquet(path string, samples []wheelspeed.Telemetry) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(fw, new(sampleParquetRow), 4)
	if err != nil {
		_ = fw.Close()
		return err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	start := samples[0].Timestamp
	for _, s := range samples {
		if err := pw.Write(toParquetRow(s, start)); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return err
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return err
	}
	return fw.Close()
}

func writeSamplesCSV(path string, samples []wheelspeed.Telemetry) error {
	return writeFile(path, func(f io.Writer) error {
		w := csv.NewWriter(f)
		if err := w.Write(sampleColumns); err != nil {
			return err
		}
		start := samples[0].Timestamp
		for _, s := range samples {
			row := []string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				formatFloat(s.Timestamp.Sub(start).Seconds()),
				formatFloat(s.SpeedKmh),
				strconv.Itoa(s.PowerW),
				formatFloat(s.DistanceM),
				formatFloatPtr(s.ElevationM),
				formatFloatPtr(s.GradientPct),
				formatFloatPtr(s.Latitude),
				formatFloatPtr(s.Longitude),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	})
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
