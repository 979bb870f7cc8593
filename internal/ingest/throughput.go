package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/runmerge/internal/model"
	"github.com/tinytelemetry/runmerge/internal/timestamp"
)

const (
	// RunStartMarker labels the line carrying the run's start time in the
	// throughput log.
	RunStartMarker = "RadarStartTime"

	// ThroughputSentinel separates per-interval samples from the summary.
	ThroughputSentinel = "- - -"

	// SampleInterval is the assumed spacing between throughput samples.
	SampleInterval = time.Second
)

var sampleRegex = regexp.MustCompile(
	`^\[\s*(\d+)\]\s+([\d.]+-[\d.]+)\s+sec\s+([\d.]+)\s+\w+\s+([\d.]+)\s+\w+/sec\s+(\d+)\s+([\d.]+)\s+\w+`)

// ThroughputExtractor parses fixed-column iperf3 interval lines:
//
//	[  5]   0.00-1.00   sec  5.50 MBytes  46.1 Mbits/sec    0    512 KBytes
//
// Samples carry no absolute time of their own. When a run start is known,
// sample i is stamped start + i seconds and the Interval column is dropped.
type ThroughputExtractor struct {
	start time.Time
	n     int
}

// NewThroughputExtractor creates an extractor stamping samples from start.
// A zero start leaves samples untimed.
func NewThroughputExtractor(start time.Time) *ThroughputExtractor {
	return &ThroughputExtractor{start: start}
}

func (e *ThroughputExtractor) Type() model.RecordType { return model.ThroughputSample }

func (e *ThroughputExtractor) Match(line string) bool {
	return strings.HasPrefix(line, "[") && sampleRegex.MatchString(line)
}

func (e *ThroughputExtractor) Terminates(line string) bool {
	return strings.HasPrefix(line, ThroughputSentinel)
}

func (e *ThroughputExtractor) Extract(lines []string, i int) ([]*model.Record, int, error) {
	m := sampleRegex.FindStringSubmatch(lines[i])
	if m == nil {
		return nil, i + 1, nil
	}

	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil, i + 1, fmt.Errorf("%w: sample id %q", ErrMalformedPayload, m[1])
	}
	transfer, _ := strconv.ParseFloat(m[3], 64)
	bitrate, _ := strconv.ParseFloat(m[4], 64)
	retr, _ := strconv.ParseInt(m[5], 10, 64)
	cwnd, _ := strconv.ParseFloat(m[6], 64)

	var ts time.Time
	if !e.start.IsZero() {
		ts = e.start.Add(time.Duration(e.n) * SampleInterval)
	}
	e.n++

	rec := model.NewRecord(model.ThroughputSample, ts)
	rec.Fields.Set("ID", id)
	if ts.IsZero() {
		rec.Fields.Set("Interval", m[2])
	}
	rec.Fields.Set("Transfer", transfer)
	rec.Fields.Set("Bitrate", bitrate)
	rec.Fields.Set("Retr", retr)
	rec.Fields.Set("Cwnd", cwnd)
	return []*model.Record{rec}, i + 1, nil
}

// FindRunStart resolves the run start from the last RadarStartTime line and
// shifts it by the parser's clock offset.
func FindRunStart(p *timestamp.Parser, lines []string) (time.Time, error) {
	line, ok := LastMatch(lines, func(l string) bool {
		return strings.Contains(l, RunStartMarker)
	})
	if !ok {
		return time.Time{}, ErrNoRunStart
	}
	_, value, ok := strings.Cut(line, ",")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q has no value", ErrNoRunStart, strings.TrimSpace(line))
	}
	start, err := p.ParseRunStart(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNoRunStart, err)
	}
	return start, nil
}
