package ingest

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/tinytelemetry/runmerge/internal/model"
)

func newGNBScanner(t *testing.T, logger *slog.Logger) *Scanner {
	t.Helper()
	p := testParser(t)
	return NewScanner(logger,
		NewConfigExtractor(p),
		NewMetricsExtractor(p),
		NewMeasReportExtractor(p),
		NewPhyExtractor(p, ""),
	)
}

func TestScanner_DispatchesByType(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := newGNBScanner(t, logger)

	set := NewStreamSet()
	s.Scan(splitLines(gnbLog), set)

	counts := map[model.RecordType]int{
		model.Metric:            2,
		model.MeasurementReport: 1,
		model.PhyLayer:          2,
		model.ConfigBlock:       1,
		model.ThroughputSample:  0,
	}
	for typ, want := range counts {
		if got := set.Stream(typ).Len(); got != want {
			t.Errorf("%s records = %d, want %d", typ, got, want)
		}
	}

	st := s.Stats(model.Metric)
	if st.Matched != 3 || st.Records != 2 || st.Dropped != 1 {
		t.Errorf("metric stats = %+v, want matched 3 records 2 dropped 1", st)
	}
	if !strings.Contains(buf.String(), "record dropped") {
		t.Errorf("dropped record not logged: %s", buf.String())
	}

	cfg := ConfigPairs(set.Stream(model.ConfigBlock).Records[0])
	want := []model.Pair{
		{Key: "gnb_id", Value: "411"},
		{Key: "cell_cfg.dl_arfcn", Value: "650000"},
		{Key: "cell_cfg.band", Value: "78"},
		{Key: "cell_cfg.pci", Value: "[1,2]"},
	}
	if len(cfg) != len(want) {
		t.Fatalf("config pairs = %v, want %v", cfg, want)
	}
	for i := range want {
		if cfg[i] != want[i] {
			t.Errorf("config[%d] = %v, want %v", i, cfg[i], want[i])
		}
	}
}

func TestScanner_MalformedBlockDoesNotStopScan(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := newGNBScanner(t, slog.New(slog.NewTextHandler(&buf, nil)))
	lines := append([]string{
		`2025-06-01T21:44:25.000000 [RRC     ] [I] ue=0 c-rnti=0x4601: Containerized measurementReport: [{"UL-DCCH-Message": }]`,
	}, splitLines(measReportBlock)...)

	set := NewStreamSet()
	s.Scan(lines, set)

	if got := set.Stream(model.MeasurementReport).Len(); got != 1 {
		t.Fatalf("reports = %d, want 1", got)
	}
	if st := s.Stats(model.MeasurementReport); st.Failed != 1 || st.Matched != 2 {
		t.Errorf("stats = %+v, want failed 1 matched 2", st)
	}
	if !strings.Contains(buf.String(), "line=1") {
		t.Errorf("failure should be logged with its line number: %s", buf.String())
	}
}

func TestScanner_UnrecognizedLinesSkipped(t *testing.T) {
	t.Parallel()
	s := newGNBScanner(t, nil)
	set := NewStreamSet()
	s.Scan([]string{"hello", "", "  indented", "2025-06-01T21:44:26.0 [MAC     ] [I] noise"}, set)

	for _, typ := range []model.RecordType{model.Metric, model.MeasurementReport, model.PhyLayer, model.ConfigBlock} {
		if set.Stream(typ).Len() != 0 {
			t.Errorf("%s: unexpected records", typ)
		}
	}
}

func TestStreamSet_SortAll(t *testing.T) {
	t.Parallel()
	p := testParser(t)
	set := NewStreamSet()
	for _, ts := range []string{"2025-06-01T21:44:27", "2025-06-01T21:44:26"} {
		tm, _ := p.Parse(ts)
		set.Add(model.NewRecord(model.Metric, tm))
	}
	set.SortAll()
	if !set.Stream(model.Metric).Sorted() {
		t.Error("metric stream should be sorted")
	}
}

func TestCountBracketDepth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		line string
		want int
	}{
		{"open array", `Containerized measurementReport: [`, 1},
		{"balanced", `[{"a": [1, 2]}]`, 0},
		{"close", `  ],`, -1},
		{"bracket in string", `{"name": "a[0]"`, 0},
		{"escaped quote", `{"s": "x\"]"}, [`, 1},
		{"braces ignored", `{{{`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountBracketDepth(tt.line); got != tt.want {
				t.Errorf("CountBracketDepth(%q) = %d, want %d", tt.line, got, tt.want)
			}
		})
	}
}
