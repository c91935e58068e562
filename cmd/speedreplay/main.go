package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasjlepore/wheelspeed"
	"github.com/lucasjlepore/wheelspeed/internal/config"
	"github.com/lucasjlepore/wheelspeed/internal/logging"
	"github.com/lucasjlepore/wheelspeed/internal/session"
	"github.com/lucasjlepore/wheelspeed/recorder"
)

// Sensors broadcast every 8118/32768 s.
const messagePeriod = 8118 * time.Second / 32768

func main() {
	var (
		capturePath = flag.String("capture", "", "Path to a capture file (time,count or hex pages per line)")
		routePath   = flag.String("route", "", "Optional route YAML file")
		configPath  = flag.String("config", "", "Optional config YAML file")
		outDir      = flag.String("out", "", "Output directory (overrides config)")
		format      = flag.String("format", "", "Sample format: parquet|csv (overrides config)")
		simulate    = flag.Bool("simulate", false, "Derive speed from the route instead of the trainer")
		startKM     = flag.Float64("start-km", 0, "Start position along the route in km")
		startAt     = flag.String("start-time", "", "RFC3339 timestamp of the first sample (default now)")
		overwrite   = flag.Bool("overwrite", false, "Replace existing ride files")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --capture ride.txt [--route climb.yaml] [--simulate] [--start-km 2.5] [--out outdir] [--format parquet|csv]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if strings.TrimSpace(*capturePath) == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speedreplay failed: %v\n", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *format != "" {
		cfg.Output.Format = *format
	}
	if *simulate {
		cfg.Trainer.SimulatedSpeed = true
	}
	if *overwrite {
		cfg.Output.Overwrite = true
	}

	start := time.Now().UTC()
	if *startAt != "" {
		start, err = time.Parse(time.RFC3339, *startAt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "speedreplay failed: parse start time: %v\n", err)
			os.Exit(2)
		}
	}

	result, err := replay(cfg, *capturePath, *routePath, *startKM, start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speedreplay failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("speedreplay complete\n")
	fmt.Printf("Session:             %s\n", result.SessionID)
	fmt.Printf("Output dir:          %s\n", result.OutputDir)
	fmt.Printf("records:             %d\n", result.Records)
	fmt.Printf("samples:             %s\n", result.SamplesPath)
	if result.FITPath != "" {
		fmt.Printf("activity fit:        %s\n", result.FITPath)
	}
	fmt.Printf("ride summary:        %s\n", result.SummaryPath)
	fmt.Printf("ride notes:          %s\n", result.NotesPath)
}

// replay feeds a capture through a session, stamping records as if samples
// arrived once per message period starting at start.
func replay(cfg *config.Config, capturePath, routePath string, startKM float64, start time.Time) (*recorder.Result, error) {
	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	f, err := os.Open(capturePath)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	samples, err := readCapture(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read capture %s: %w", capturePath, err)
	}

	stamp := start
	s, err := session.New(cfg, logger, wheelspeed.WithClock(func() time.Time { return stamp }))
	if err != nil {
		return nil, err
	}
	if err := s.Begin(routePath, startKM); err != nil {
		return nil, err
	}

	failed := 0
	for i, sample := range samples {
		stamp = start.Add(time.Duration(i) * messagePeriod)
		if err := s.Listener.HandleSample(sample); err != nil {
			failed++
			logger.Warn("speed subscriber failed", "sample", i, "error", err)
		}
	}
	logger.Info("capture replayed",
		"samples", len(samples),
		"records", len(s.Recorder.Samples()),
		"subscriber_errors", failed,
	)

	return s.Finish()
}
