// Package pipeline turns one pair of gNB and iperf3 logs into a merged,
// time-aligned table and drives that over a directory tree of runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/tinytelemetry/runmerge/internal/ingest"
	"github.com/tinytelemetry/runmerge/internal/join"
	"github.com/tinytelemetry/runmerge/internal/logsource"
	"github.com/tinytelemetry/runmerge/internal/merge"
	"github.com/tinytelemetry/runmerge/internal/metrics"
	"github.com/tinytelemetry/runmerge/internal/model"
	"github.com/tinytelemetry/runmerge/internal/table"
	"github.com/tinytelemetry/runmerge/internal/timestamp"
)

var (
	// ErrMissingPair marks a primary log without its throughput sibling.
	ErrMissingPair = errors.New("pipeline: missing paired log")

	// ErrUnreadableInput marks a pair whose input files could not be read.
	ErrUnreadableInput = errors.New("pipeline: unreadable input")
)

// Output table names.
const (
	TableMerged      = "merged"
	TableMetrics     = "metrics"
	TableMeasReports = "ulmeas"
	TableThroughput  = "iperf"
	TablePhy         = "phy"
	TableRadarConfig = "radar_config"
)

// Join source names, used to prefix colliding columns.
const (
	sourceMeas  = "meas"
	sourceIperf = "iperf"
	sourcePhy   = "phy"
)

// KeySeparator joins the relative directory of a run and its id into the
// run key. It is URL path safe.
const KeySeparator = ":"

// Pair is one run: the gNB log and its throughput sibling. Dir is the
// slash-separated directory of the logs relative to the batch root, empty
// for the root itself. The same run id may appear in several directories.
type Pair struct {
	RunID      string
	Dir        string
	PrimaryLog string
	ToolLog    string
}

// Key identifies the run across a batch and in storage: the run id,
// prefixed with its relative directory when it is not at the root.
func (p Pair) Key() string {
	if p.Dir == "" {
		return p.RunID
	}
	return strings.ReplaceAll(p.Dir, "/", KeySeparator) + KeySeparator + p.RunID
}

// Options controls per-pair processing.
type Options struct {
	OutputDir      string
	Compress       bool
	SplitTables    bool
	ClockOffset    time.Duration
	JoinTolerance  time.Duration
	MergeThreshold time.Duration
	JoinPhy        bool
	PhyChannel     string
	MinLevel       string // lowest gNB log severity extracted, empty for all
	MaxLineSize    int
	BatchID        string

	Store   model.RunWriter  // optional persistence
	Metrics *metrics.Metrics // optional instruments
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.JoinTolerance <= 0 {
		o.JoinTolerance = model.DefaultJoinTolerance
	}
	if o.MergeThreshold <= 0 {
		o.MergeThreshold = model.DefaultMergeThreshold
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// OutputPath returns where the named table of a run is written. The input
// subtree is mirrored under OutputDir so runs sharing an id do not collide.
func (o Options) OutputPath(p Pair, name string) string {
	out := filepath.Join(o.OutputDir, filepath.FromSlash(path.Clean("/" + p.Dir)), p.RunID+"_"+name+".csv")
	if o.Compress {
		out += table.CompressedExt
	}
	return out
}

// Result is what ProcessPair produced.
type Result struct {
	Run        *model.ProcessedRun
	Files      []string
	MergeStats merge.Stats
}

// ProcessPair extracts, merges, joins and writes one run. Unreadable input
// fails the pair; everything else that goes wrong inside a file is logged
// and the affected records are skipped.
func ProcessPair(ctx context.Context, p Pair, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("run", p.Key())

	if p.ToolLog == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingPair, p.PrimaryLog)
	}

	fileConf := logsource.FileConfig{MaxLineSize: opts.MaxLineSize}
	gnbLines, err := logsource.ReadLines(p.PrimaryLog, fileConf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
	}
	toolLines, err := logsource.ReadLines(p.ToolLog, fileConf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableInput, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parser := timestamp.NewParser(timestamp.WithClockOffset(opts.ClockOffset))

	// gNB log: one pass over all line dialects.
	metricsExt := ingest.NewMetricsExtractor(parser)
	metricsExt.MinLevel = opts.MinLevel
	phyExt := ingest.NewPhyExtractor(parser, opts.PhyChannel)
	phyExt.MinLevel = opts.MinLevel
	gnbScanner := ingest.NewScanner(logger.With("file", filepath.Base(p.PrimaryLog)),
		ingest.NewConfigExtractor(parser),
		metricsExt,
		ingest.NewMeasReportExtractor(parser),
		phyExt,
	)
	gnb := ingest.NewStreamSet()
	gnbScanner.Scan(gnbLines, gnb)
	gnb.SortAll()

	mergeOpts := merge.DefaultOptions()
	mergeOpts.Threshold = opts.MergeThreshold
	metricStream, mergeStats := merge.Combine(gnb.Stream(model.Metric), mergeOpts)

	// Throughput log.
	start, err := ingest.FindRunStart(parser, toolLines)
	if err != nil {
		logger.Warn("pipeline: throughput samples have no run start and will not be joined", "err", err)
	}
	toolScanner := ingest.NewScanner(logger.With("file", filepath.Base(p.ToolLog)),
		ingest.NewThroughputExtractor(start),
	)
	tool := ingest.NewStreamSet()
	toolScanner.Scan(toolLines, tool)
	tool.SortAll()
	throughput := tool.Stream(model.ThroughputSample)

	sources := []join.Source{
		{Name: sourceMeas, Stream: gnb.Stream(model.MeasurementReport)},
		{Name: sourceIperf, Stream: throughput},
	}
	if opts.JoinPhy {
		sources = append(sources, join.Source{Name: sourcePhy, Stream: gnb.Stream(model.PhyLayer)})
	}
	merged := join.Sequential(metricStream, opts.JoinTolerance, sources...)

	meta := extractMetadata(gnb, gnbLines, toolLines)
	radar := ingest.CharacteristicsStream(meta.Characteristics)

	run := &model.ProcessedRun{
		RunID:       p.Key(),
		BatchID:     opts.BatchID,
		PrimaryLog:  p.PrimaryLog,
		ToolLog:     p.ToolLog,
		ProcessedAt: time.Now().UTC(),
		Metadata:    meta,
		Tables: []model.NamedStream{
			{Name: TableMerged, Stream: merged},
			{Name: TableMetrics, Stream: metricStream},
			{Name: TableMeasReports, Stream: gnb.Stream(model.MeasurementReport)},
			{Name: TableThroughput, Stream: throughput},
			{Name: TablePhy, Stream: gnb.Stream(model.PhyLayer)},
			{Name: TableRadarConfig, Stream: radar},
		},
	}

	res := &Result{Run: run, MergeStats: mergeStats}
	if err := writeTables(res, p, opts, logger); err != nil {
		return nil, err
	}

	report(logger, opts.Metrics, gnbScanner, toolScanner, mergeStats, throughput)

	if opts.Store != nil {
		if err := opts.Store.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("persist run %s: %w", p.Key(), err)
		}
	}
	return res, nil
}

// extractMetadata collects the file-level prefixes. Characteristics and the
// tool invocation are taken from the gNB log, falling back to the
// throughput log.
func extractMetadata(gnb *ingest.StreamSet, gnbLines, toolLines []string) model.Metadata {
	var meta model.Metadata
	if cfg := gnb.Stream(model.ConfigBlock); cfg.Len() > 0 {
		meta.Config = ingest.ConfigPairs(cfg.Records[len(cfg.Records)-1])
	}

	if line, ok := ingest.ExtractCharacteristics(gnbLines); ok {
		meta.Characteristics = line
	} else if line, ok := ingest.ExtractCharacteristics(toolLines); ok {
		meta.Characteristics = line
	}

	if line, ok := ingest.ExtractToolCommand(gnbLines); ok {
		meta.ToolCommand = line
	} else if line, ok := ingest.ExtractToolCommand(toolLines); ok {
		meta.ToolCommand = line
	}
	return meta
}

func writeTables(res *Result, p Pair, opts Options, logger *slog.Logger) error {
	run := res.Run
	path := opts.OutputPath(p, TableMerged)
	err := table.WriteFile(path, run.Table(TableMerged), table.HeaderFromMetadata(run.Metadata))
	switch {
	case errors.Is(err, table.ErrNoColumns):
		logger.Warn("pipeline: no metrics extracted, merged table not written", "path", path)
	case err != nil:
		return fmt.Errorf("write %s: %w", path, err)
	default:
		res.Files = append(res.Files, path)
	}

	if !opts.SplitTables {
		return nil
	}
	for _, t := range run.Tables[1:] {
		if t.Stream.Empty() {
			continue
		}
		path := opts.OutputPath(p, t.Name)
		if err := table.WriteFile(path, t.Stream, table.Header{}); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		res.Files = append(res.Files, path)
	}
	return nil
}

// report logs per-type extraction counts for the pair and feeds the
// instruments.
func report(logger *slog.Logger, m *metrics.Metrics, gnb, tool *ingest.Scanner, ms merge.Stats, throughput *model.Stream) {
	for _, s := range []struct {
		scanner *ingest.Scanner
		types   []model.RecordType
	}{
		{gnb, []model.RecordType{model.ConfigBlock, model.Metric, model.MeasurementReport, model.PhyLayer}},
		{tool, []model.RecordType{model.ThroughputSample}},
	} {
		for _, t := range s.types {
			st := s.scanner.Stats(t)
			m.Extracted(t.String(), st.Records)
			m.Dropped(t.String(), metrics.ReasonTimestamp, st.Dropped)
			m.Failed(t.String(), st.Failed)
			if st.Dropped > 0 || st.Failed > 0 {
				logger.Warn("pipeline: records skipped",
					"type", t.String(), "extracted", st.Records, "dropped", st.Dropped, "failed", st.Failed)
			} else {
				logger.Debug("pipeline: records extracted", "type", t.String(), "extracted", st.Records)
			}
		}
	}

	m.Dropped(model.Metric.String(), metrics.ReasonOrphaned, ms.Orphaned)
	if ms.Orphaned > 0 {
		logger.Warn("pipeline: orphaned UE metrics dropped", "count", ms.Orphaned)
	}
	if !throughput.Empty() && !throughput.Timed() {
		m.Dropped(model.ThroughputSample.String(), metrics.ReasonUntimed, throughput.Len())
	}
}
