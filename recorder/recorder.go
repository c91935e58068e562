// Package recorder buffers telemetry published on the bus and writes ride
// artifacts: a sample table, a FIT activity, a JSON summary and notes.
package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lucasjlepore/wheelspeed"
	"github.com/lucasjlepore/wheelspeed/bus"
)

// ErrNoSamples is returned by Write when nothing was recorded.
var ErrNoSamples = errors.New("no telemetry recorded")

// Recorder collects Telemetry for one session. It is safe for concurrent use.
type Recorder struct {
	opts   Options
	id     uuid.UUID
	logger *slog.Logger

	mu      sync.Mutex
	samples []wheelspeed.Telemetry
	bus     *bus.Bus
	subID   string
}

// New returns a recorder with a fresh session id.
func New(opts Options) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	id := uuid.New()
	return &Recorder{
		opts:   opts,
		id:     id,
		logger: logger.With("session_id", id.String()),
	}
}

// SessionID identifies the recorded ride.
func (r *Recorder) SessionID() string { return r.id.String() }

// Attach subscribes the recorder to speed records on b.
func (r *Recorder) Attach(b *bus.Bus) error {
	id, err := b.Subscribe(bus.TopicSpeed, func(m bus.Message) error {
		t, ok := m.Payload.(wheelspeed.Telemetry)
		if !ok {
			return fmt.Errorf("speed payload %T, want wheelspeed.Telemetry", m.Payload)
		}
		r.Add(t)
		return nil
	})
	if err != nil {
		return fmt.Errorf("attach recorder: %w", err)
	}
	r.mu.Lock()
	r.bus, r.subID = b, id
	r.mu.Unlock()
	return nil
}

// Detach stops receiving records. It is a no-op when not attached.
func (r *Recorder) Detach() error {
	r.mu.Lock()
	b, id := r.bus, r.subID
	r.bus, r.subID = nil, ""
	r.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Unsubscribe(id)
}

// Add buffers one record.
func (r *Recorder) Add(t wheelspeed.Telemetry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, t)
}

// Samples returns a copy of the buffered records.
func (r *Recorder) Samples() []wheelspeed.Telemetry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wheelspeed.Telemetry(nil), r.samples...)
}

// Write writes all artifacts into Options.OutDir.
func (r *Recorder) Write() (*Result, error) {
	if strings.TrimSpace(r.opts.OutDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	format := strings.ToLower(strings.TrimSpace(r.opts.Format))
	if format == "" {
		format = formatParquet
	}
	if format != formatParquet && format != formatCSV {
		return nil, fmt.Errorf("unsupported format %q (expected parquet|csv)", format)
	}

	samples := r.Samples()
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	if err := os.MkdirAll(r.opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	res := &Result{
		SessionID:   r.SessionID(),
		OutputDir:   r.opts.OutDir,
		SamplesPath: filepath.Join(r.opts.OutDir, samplesBase+"."+format),
		SummaryPath: filepath.Join(r.opts.OutDir, summaryName),
		NotesPath:   filepath.Join(r.opts.OutDir, notesName),
		Records:     len(samples),
	}
	if r.opts.FIT {
		res.FITPath = filepath.Join(r.opts.OutDir, fitName)
	}
	if !r.opts.Overwrite {
		for _, p := range []string{res.SamplesPath, res.FITPath, res.SummaryPath, res.NotesPath} {
			if p == "" {
				continue
			}
			if _, err := os.Stat(p); err == nil {
				return nil, fmt.Errorf("output %s already exists (use overwrite)", p)
			}
		}
	}

	switch format {
	case formatCSV:
		if err := writeSamplesCSV(res.SamplesPath, samples); err != nil {
			return nil, fmt.Errorf("write samples csv: %w", err)
		}
	case formatParquet:
		if err := writeSamplesParquet(res.SamplesPath, samples); err != nil {
			return nil, fmt.Errorf("write samples parquet: %w", err)
		}
	}

	summary := wheelspeed.Summarize(samples)
	if r.opts.FIT {
		if err := writeActivityFIT(res.FITPath, samples, summary); err != nil {
			return nil, fmt.Errorf("write activity fit: %w", err)
		}
	}

	if err := writeJSON(res.SummaryPath, rideSummaryFile{SessionID: res.SessionID, Summary: summary}); err != nil {
		return nil, fmt.Errorf("write %s: %w", summaryName, err)
	}

	notes := fmt.Sprintf("# Ride %s\n\n%s\n", res.SessionID, wheelspeed.BuildRideNotes(summary))
	if err := writeFile(res.NotesPath, func(w io.Writer) error {
		_, err := io.WriteString(w, notes)
		return err
	}); err != nil {
		return nil, fmt.Errorf("write %s: %w", notesName, err)
	}

	r.logger.Info("ride written",
		"dir", res.OutputDir,
		"records", res.Records,
		"distance_m", summary.DistanceMeters,
	)
	return res, nil
}

type rideSummaryFile struct {
	SessionID string `json:"session_id"`
	wheelspeed.Summary
}

// writeFile creates path, lets fill write it and closes it. A failed close is
// reported since it can lose buffered data.
func writeFile(path string, fill func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	return writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}
