package recorder

import "log/slog"

// Options configures where and how a ride is written.
type Options struct {
	OutDir    string
	Format    string // parquet|csv
	FIT       bool
	Overwrite bool
	Logger    *slog.Logger
}

// Result returns generated output paths.
type Result struct {
	SessionID   string `json:"session_id"`
	OutputDir   string `json:"output_dir"`
	SamplesPath string `json:"samples_path"`
	FITPath     string `json:"fit_path,omitempty"`
	SummaryPath string `json:"summary_path"`
	NotesPath   string `json:"notes_path"`
	Records     int    `json:"records"`
}

const (
	samplesBase   = "samples"
	fitName       = "activity.fit"
	summaryName   = "ride_summary.json"
	notesName     = "ride_notes.md"
	formatParquet = "parquet"
	formatCSV     = "csv"
)
