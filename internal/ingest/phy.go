package ingest

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/runmerge/internal/logparse"
	"github.com/tinytelemetry/runmerge/internal/model"
	"github.com/tinytelemetry/runmerge/internal/timestamp"
)

// PHY block subtypes.
const (
	PhyData = "data"
	PhyUCI  = "uci"
)

// PhyExtractor parses multi-line physical-layer blocks:
//
//	2025-06-01T21:44:26.123456 [PHY     ] [D] [  123.4] PUSCH: rnti=0x4601 h_id=0
//	    crc=OK sinr=23.1dB
//	    harq_ack=1
//
// The trigger line's pairs are captured, then indented or blank lines that
// follow. A block is classified as uplink control when any key contains the
// control keyword.
type PhyExtractor struct {
	Parser   *timestamp.Parser
	Layer    string // bracket tag, default "PHY"
	Channel  string // default "PUSCH:"
	Keyword  string // default "harq", compared case-insensitively
	MinLevel string // lowest severity accepted, empty for all
}

// NewPhyExtractor creates an extractor for the given sub-channel label.
// An empty channel selects PUSCH.
func NewPhyExtractor(p *timestamp.Parser, channel string) *PhyExtractor {
	if channel == "" {
		channel = "PUSCH"
	}
	if !strings.HasSuffix(channel, ":") {
		channel += ":"
	}
	return &PhyExtractor{Parser: p, Layer: "PHY", Channel: channel, Keyword: "harq"}
}

func (e *PhyExtractor) Type() model.RecordType { return model.PhyLayer }

func (e *PhyExtractor) Match(line string) bool {
	if !strings.Contains(line, e.Channel) {
		return false
	}
	h, ok := logparse.ParseHeader(e.Parser, line)
	return ok && h.Admits(e.Layer, e.MinLevel) && strings.Contains(h.Body, e.Channel)
}

func (e *PhyExtractor) Extract(lines []string, i int) ([]*model.Record, int, error) {
	line := lines[i]

	next := i + 1
	for next < len(lines) && (logparse.IsIndented(lines[next]) || logparse.IsBlank(lines[next])) {
		next++
	}

	ts := e.Parser.ParseFromText(line)
	if !ts.Found {
		return nil, next, fmt.Errorf("%w: phy block", ErrMissingTimestamp)
	}

	rec := model.NewRecord(model.PhyLayer, ts.Timestamp)
	rec.Fields.Set("phy_type", PhyData)

	_, inline, _ := strings.Cut(line, e.Channel)
	keyword := strings.ToLower(e.Keyword)
	uci := false
	capture := func(text string) {
		for _, kv := range logparse.Pairs(text) {
			rec.Fields.Set(kv.Key, kv.Value)
			if keyword != "" && strings.Contains(strings.ToLower(kv.Key), keyword) {
				uci = true
			}
		}
	}

	capture(inline)
	for _, cont := range lines[i+1 : next] {
		capture(cont)
	}

	rec.Subtype = PhyData
	if uci {
		rec.Subtype = PhyUCI
	}
	rec.Fields.Set("phy_type", rec.Subtype)
	return []*model.Record{rec}, next, nil
}
