package model

import (
	"context"
	"time"
)

// NamedStream is an output table: a stream plus the name it is written under.
type NamedStream struct {
	Name   string // "merged", "metrics", "ulmeas", "iperf", "phy", "radar_config"
	Stream *Stream
}

// ProcessedRun is everything one run pair produced.
type ProcessedRun struct {
	RunID       string
	BatchID     string
	PrimaryLog  string
	ToolLog     string
	ProcessedAt time.Time
	Metadata    Metadata
	Tables      []NamedStream
}

// Table returns the named output table, or nil.
func (r *ProcessedRun) Table(name string) *Stream {
	for _, t := range r.Tables {
		if t.Name == name {
			return t.Stream
		}
	}
	return nil
}

// RunSummary is the stored description of a processed run.
type RunSummary struct {
	RunID       string
	BatchID     string
	PrimaryLog  string
	ToolLog     string
	ProcessedAt time.Time
	RowCount    int64
}

// RunRate summarizes one bitrate column of a run in Mbps.
type RunRate struct {
	RunID   string
	Samples int
	Mean    float64
	Max     float64
}

// StoredRow is one persisted table row read back from storage.
type StoredRow struct {
	Table  string
	Index  int
	Time   time.Time // Zero value = no time
	Fields *Fields    // in table column order
}

// RunWriter persists processed runs.
type RunWriter interface {
	SaveRun(ctx context.Context, run *ProcessedRun) error
}

// RunReader provides read-only access to persisted runs.
type RunReader interface {
	ListRuns(ctx context.Context) ([]RunSummary, error)
	RunMetadata(ctx context.Context, runID string) ([]Pair, error)
	RunRows(ctx context.Context, runID, table string, limit int) ([]StoredRow, error)
}

// RateQuerier aggregates textual bitrate columns across runs.
type RateQuerier interface {
	RateByRun(ctx context.Context, table, field string) ([]RunRate, error)
}

// SchemaQuerier provides schema introspection and arbitrary read-only queries.
type SchemaQuerier interface {
	ExecuteQuery(query string) ([]map[string]interface{}, error)
	TableRowCounts() (map[string]int64, error)
}

// ReadAPI is the unified read contract for the HTTP surface.
type ReadAPI interface {
	RunReader
	RateQuerier
	SchemaQuerier
}
