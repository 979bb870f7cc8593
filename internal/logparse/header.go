package logparse

import (
	"strings"
	"time"

	"github.com/tinytelemetry/runmerge/internal/timestamp"
)

// Header is the decoded prefix of a gNB log line:
//
//	2025-06-01T21:44:26.123456 [METRICS ] [I] Cell Scheduler Metrics: ...
type Header struct {
	Time  time.Time // Zero value = line had no parseable leading timestamp
	Layer string    // "METRICS", "PHY", "RRC", ...
	Level string    // normalized severity
	Body  string    // text after the tags
}

// ParseHeader splits a log line into timestamp, layer tag, level tag and
// body. ok is false when the line carries no bracketed layer tag.
func ParseHeader(p *timestamp.Parser, line string) (Header, bool) {
	var h Header
	rest := line
	if res := p.ParseFromText(line); res.Found {
		h.Time = res.Timestamp
		rest = res.Remaining
	}

	layer, rest, ok := cutTag(rest)
	if !ok {
		return h, false
	}
	h.Layer = layer

	h.Level = "INFO"
	if level, after, ok := cutTag(rest); ok && len(level) <= 2 {
		h.Level = NormalizeSeverity(level)
		rest = after
	}
	h.Body = rest
	return h, true
}

// Admits reports whether the header carries layer at a level of at least
// min.
func (h Header) Admits(layer, min string) bool {
	return h.Layer == layer && AtLeast(h.Level, min)
}

func cutTag(s string) (tag, rest string, ok bool) {
	s = strings.TrimLeft(s, " ")
	if !strings.HasPrefix(s, "[") {
		return "", s, false
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return "", s, false
	}
	return strings.TrimSpace(s[1:end]), strings.TrimLeft(s[end+1:], " "), true
}
