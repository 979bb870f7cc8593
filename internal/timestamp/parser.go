// Package timestamp parses the absolute time formats found in radio and
// throughput-tool logs into canonical time.Time values.
//
// Log timestamps are zone-less wall-clock values; they are parsed as UTC and
// never converted. Cross-file alignment is done with a fixed clock offset.
package timestamp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable is returned when no known layout matches.
var ErrUnparseable = errors.New("timestamp: unparseable")

// Default layouts in priority order. Fractional seconds are accepted after
// the seconds field even though the layout does not spell them out.
var DefaultLayouts = []string{
	"2006-01-02T15:04:05",
	"20060102_150405",
}

// Parser parses timestamps with a fixed, ordered list of layouts.
type Parser struct {
	layouts []string
	offset  time.Duration
}

// Option configures a Parser.
type Option func(*Parser)

// WithClockOffset sets the correction added to run-start markers read from
// the independently clocked throughput log.
func WithClockOffset(d time.Duration) Option {
	return func(p *Parser) { p.offset = d }
}

// NewParser creates a parser with the default layouts and no clock offset.
func NewParser(opts ...Option) *Parser {
	p := &Parser{layouts: DefaultLayouts}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ClockOffset returns the configured offset.
func (p *Parser) ClockOffset() time.Duration {
	return p.offset
}

// Parse tries each layout in order and returns the first match.
func (p *Parser) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrUnparseable)
	}
	for _, layout := range p.layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
}

// ParseRunStart parses a run-start marker written by the throughput side and
// shifts it into the primary log's time base.
func (p *Parser) ParseRunStart(s string) (time.Time, error) {
	t, err := p.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return p.Align(t), nil
}

// Align applies the clock offset.
func (p *Parser) Align(t time.Time) time.Time {
	return t.Add(p.offset)
}

// Result is the outcome of looking for a leading timestamp on a line.
type Result struct {
	Timestamp time.Time
	Found     bool
	Remaining string
}

// ParseFromText checks whether the first whitespace-separated token of line
// is an absolute timestamp.
func (p *Parser) ParseFromText(line string) Result {
	trimmed := strings.TrimLeft(line, " \t")
	token, rest, _ := strings.Cut(trimmed, " ")
	if token == "" || token[0] < '0' || token[0] > '9' {
		return Result{Remaining: line}
	}
	t, err := p.Parse(token)
	if err != nil {
		return Result{Remaining: line}
	}
	return Result{Timestamp: t, Found: true, Remaining: strings.TrimSpace(rest)}
}

// StartsWithTimestamp reports whether line begins with an absolute timestamp
// (no leading indentation).
func (p *Parser) StartsWithTimestamp(line string) bool {
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return false
	}
	return p.ParseFromText(line).Found
}

// ParseTimestamp converts a value read back from storage or a decoded
// document into a time. Strings are tried against the layouts, then
// RFC 3339, then as a unix number. Numbers are unix seconds, millis, micros
// or nanos chosen by magnitude.
func (p *Parser) ParseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case string:
		return p.parseTimestampString(x)
	case []byte:
		return p.parseTimestampString(string(x))
	case json.Number:
		return p.parseTimestampString(x.String())
	case int:
		return parseUnix(float64(x))
	case int32:
		return parseUnix(float64(x))
	case int64:
		return parseUnixInt(x)
	case uint64:
		if x > math.MaxInt64 {
			return time.Time{}, false
		}
		return parseUnixInt(int64(x))
	case float32:
		return parseUnix(float64(x))
	case float64:
		return parseUnix(x)
	default:
		return time.Time{}, false
	}
}

func (p *Parser) parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := p.Parse(s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return parseUnixInt(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return parseUnix(f)
	}
	return time.Time{}, false
}

// Magnitude bounds between unix seconds, millis, micros and nanos. A second
// count of 1e11 is roughly year 5138, so anything larger is a finer unit.
const (
	maxUnixSeconds = 1e11
	maxUnixMillis  = 1e14
	maxUnixMicros  = 1e17
)

func parseUnixInt(n int64) (time.Time, bool) {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case n == 0:
		return time.Time{}, false
	case abs < maxUnixSeconds:
		return time.Unix(n, 0).UTC(), true
	case abs < maxUnixMillis:
		return time.UnixMilli(n).UTC(), true
	case abs < maxUnixMicros:
		return time.UnixMicro(n).UTC(), true
	default:
		return time.Unix(0, n).UTC(), true
	}
}

func parseUnix(f float64) (time.Time, bool) {
	if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	var nanos float64
	switch abs := math.Abs(f); {
	case abs < maxUnixSeconds:
		nanos = f * 1e9
	case abs < maxUnixMillis:
		nanos = f * 1e6
	case abs < maxUnixMicros:
		nanos = f * 1e3
	default:
		nanos = f
	}
	if nanos > math.MaxInt64 || nanos < math.MinInt64 {
		return time.Time{}, false
	}
	return time.Unix(0, int64(nanos)).UTC(), true
}
