package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tinytelemetry/runmerge/internal/logparse"
	"github.com/tinytelemetry/runmerge/internal/model"
	"github.com/tinytelemetry/runmerge/internal/timestamp"
)

var (
	eventsRegex     = regexp.MustCompile(`events=\[(.*?)\]`)
	firstEventRegex = regexp.MustCompile(`\{([^}]+)\}`)
	eventPairRegex  = regexp.MustCompile(`(\w+)=([^\s,]+)`)
)

// DefaultDroppedMetricFields lists metric fields that are not scalar samples.
var DefaultDroppedMetricFields = []string{"latency_hist"}

// MetricsExtractor parses one-line scheduler telemetry:
//
//	2025-06-01T21:44:26.123456 [METRICS ] [I] Cell Scheduler Metrics: pci=1 dl_brate=45.3Mbps ...
//
// The text between the layer tag and the first ':' becomes the record's
// subtype. Values keep their units; last occurrence of a key wins.
type MetricsExtractor struct {
	Parser   *timestamp.Parser
	Layer    string   // bracket tag, default "METRICS"
	MinLevel string   // lowest severity accepted, empty for all
	Drop     []string // fields removed from every record
}

// NewMetricsExtractor creates an extractor with the default layer and drop list.
func NewMetricsExtractor(p *timestamp.Parser) *MetricsExtractor {
	return &MetricsExtractor{Parser: p, Layer: "METRICS", Drop: DefaultDroppedMetricFields}
}

func (e *MetricsExtractor) Type() model.RecordType { return model.Metric }

func (e *MetricsExtractor) Match(line string) bool {
	if !strings.Contains(line, e.Layer) {
		return false
	}
	h, ok := logparse.ParseHeader(e.Parser, line)
	return ok && h.Admits(e.Layer, e.MinLevel)
}

func (e *MetricsExtractor) Extract(lines []string, i int) ([]*model.Record, int, error) {
	line := lines[i]
	h, ok := logparse.ParseHeader(e.Parser, line)
	if !ok || h.Layer != e.Layer {
		return nil, i + 1, fmt.Errorf("%w: not a %s line", ErrMalformedPayload, e.Layer)
	}
	if h.Time.IsZero() {
		return nil, i + 1, fmt.Errorf("%w: metrics line", ErrMissingTimestamp)
	}

	rec := model.NewRecord(model.Metric, h.Time)
	if label, _, ok := strings.Cut(h.Body, ":"); ok {
		rec.Subtype = strings.TrimSpace(label)
	}

	body := h.Body
	var event string
	if m := eventsRegex.FindStringSubmatchIndex(body); m != nil {
		event = body[m[2]:m[3]]
		body = body[:m[0]] + body[m[1]:]
	}

	for _, kv := range logparse.Pairs(body) {
		rec.Fields.Set(kv.Key, kv.Value)
	}
	if event != "" {
		setFirstEvent(rec.Fields, event)
	}
	for _, name := range e.Drop {
		rec.Fields.Delete(name)
	}
	return []*model.Record{rec}, i + 1, nil
}

// setFirstEvent surfaces the rnti, slot and type of the first event object.
func setFirstEvent(f *model.Fields, events string) {
	m := firstEventRegex.FindStringSubmatch(events)
	if m == nil {
		return
	}
	values := make(map[string]string)
	for _, p := range eventPairRegex.FindAllStringSubmatch(m[1], -1) {
		values[p[1]] = p[2]
	}
	for _, key := range []string{"rnti", "slot", "type"} {
		if v, ok := values[key]; ok {
			f.Set("event_"+key, v)
		}
	}
}
