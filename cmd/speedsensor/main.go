package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lucasjlepore/wheelspeed"
	"github.com/lucasjlepore/wheelspeed/antlink"
	"github.com/lucasjlepore/wheelspeed/internal/config"
	"github.com/lucasjlepore/wheelspeed/internal/logging"
	"github.com/lucasjlepore/wheelspeed/internal/session"
	"github.com/lucasjlepore/wheelspeed/recorder"
)

func main() {
	var (
		configPath = flag.String("config", "", "Optional config YAML file")
		port       = flag.String("port", "", "Serial device of the ANT stick (overrides config)")
		routePath  = flag.String("route", "", "Optional route YAML file")
		simulate   = flag.Bool("simulate", false, "Derive speed from the route instead of the trainer")
		startKM    = flag.Float64("start-km", 0, "Start position along the route in km")
		outDir     = flag.String("out", "", "Rides directory (overrides config)")
		listPorts  = flag.Bool("list-ports", false, "List serial ports and exit")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [--config wheelspeed.yaml] [--port /dev/ttyUSB0] [--route climb.yaml] [--simulate] [--start-km 2.5]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if *listPorts {
		ports, err := antlink.Ports()
		if err != nil {
			fmt.Fprintf(os.Stderr, "speedsensor failed: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speedsensor failed: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Sensor.Port = *port
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if *simulate {
		cfg.Trainer.SimulatedSpeed = true
	}
	if cfg.Sensor.Port == "" {
		fmt.Fprintln(os.Stderr, "speedsensor: no serial port configured")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := ride(ctx, cfg, *routePath, *startKM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speedsensor failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("speedsensor complete\n")
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

// ride records from the sensor until ctx is cancelled, then writes the ride
// into a timestamped directory under the configured output dir.
func ride(ctx context.Context, cfg *config.Config, routePath string, startKM float64) (*recorder.Result, error) {
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

	key, err := cfg.Sensor.Key()
	if err != nil {
		return nil, err
	}
	cfg.Output.Dir = filepath.Join(cfg.Output.Dir, time.Now().Format("20060102-150405"))

	s, err := session.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Begin(routePath, startKM); err != nil {
		return nil, err
	}

	link, err := antlink.Open(cfg.Sensor.Port, antlink.PortOptions{BaudRate: cfg.Sensor.BaudRate}, logger)
	if err != nil {
		return nil, err
	}
	defer link.Close()

	channel := antlink.ChannelConfig{
		Channel:      cfg.Sensor.Channel,
		NetworkKey:   key,
		Device:       wheelspeed.SpeedSensor,
		DeviceNumber: cfg.Sensor.DeviceNumber,
		RFFrequency:  cfg.Sensor.RFFrequency,
	}
	if key != nil {
		channel.Network = 1
	}
	if err := link.Configure(channel); err != nil {
		return nil, fmt.Errorf("configure channel: %w", err)
	}
	logger.Info("listening for speed sensor",
		"port", cfg.Sensor.Port,
		"channel", channel.Channel,
		"device_number", channel.DeviceNumber,
	)

	err = link.Run(ctx, func(payload []byte) {
		if err := s.Listener.HandleFrame(payload); err != nil {
			logger.Warn("speed subscriber failed", "error", err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sensor link stopped", slog.Any("error", err))
	}

	return s.Finish()
}
