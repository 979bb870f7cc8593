package ingest

import (
	"errors"
	"log/slog"

	"github.com/tinytelemetry/runmerge/internal/model"
)

// Stats counts what one extractor produced and dropped during a scan.
type Stats struct {
	Matched int // trigger lines recognized
	Records int // records emitted
	Dropped int // records dropped for a bad timestamp
	Failed  int // payloads that could not be decoded
}

// StreamSet collects records into one stream per record type.
type StreamSet struct {
	streams map[model.RecordType]*model.Stream
}

// NewStreamSet creates an empty set.
func NewStreamSet() *StreamSet {
	return &StreamSet{streams: make(map[model.RecordType]*model.Stream)}
}

// Add appends record to the stream of its type.
func (s *StreamSet) Add(record *model.Record) {
	s.Stream(record.Type).Append(record)
}

// Stream returns the stream for t, creating an empty one when needed.
func (s *StreamSet) Stream(t model.RecordType) *model.Stream {
	st, ok := s.streams[t]
	if !ok {
		st = model.NewStream(t)
		s.streams[t] = st
	}
	return st
}

// SortAll stably sorts every timed stream by time.
func (s *StreamSet) SortAll() {
	for t, st := range s.streams {
		if t.Timed() {
			st.SortByTime()
		}
	}
}

// Scanner walks a file's lines once and dispatches each line to the first
// registered extractor whose predicate matches. Unrecognized lines are
// skipped silently.
type Scanner struct {
	order  []model.RecordType
	byType map[model.RecordType]Extractor
	logger *slog.Logger
	stats  map[model.RecordType]*Stats
}

// NewScanner creates a scanner with extractors registered in priority order.
// A later extractor of the same record type replaces an earlier one.
func NewScanner(logger *slog.Logger, extractors ...Extractor) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		byType: make(map[model.RecordType]Extractor),
		logger: logger,
		stats:  make(map[model.RecordType]*Stats),
	}
	for _, e := range extractors {
		s.Register(e)
	}
	return s
}

// Register adds or replaces the extractor for its record type.
func (s *Scanner) Register(e Extractor) {
	t := e.Type()
	if _, ok := s.byType[t]; !ok {
		s.order = append(s.order, t)
		s.stats[t] = &Stats{}
	}
	s.byType[t] = e
}

// Stats returns the counters for record type t.
func (s *Scanner) Stats(t model.RecordType) Stats {
	if st, ok := s.stats[t]; ok {
		return *st
	}
	return Stats{}
}

// Scan extracts records from lines into sink.
func (s *Scanner) Scan(lines []string, sink RecordSink) {
	for i := 0; i < len(lines); {
		line := lines[i]
		if s.terminates(line) {
			return
		}

		ext := s.match(line)
		if ext == nil {
			i++
			continue
		}

		t := ext.Type()
		st := s.stats[t]
		st.Matched++

		records, next, err := ext.Extract(lines, i)
		for _, r := range records {
			sink.Add(r)
		}
		st.Records += len(records)
		if err != nil {
			s.account(t, st, i, err)
		}

		if next <= i {
			next = i + 1
		}
		i = next
	}
}

func (s *Scanner) match(line string) Extractor {
	for _, t := range s.order {
		if e := s.byType[t]; e.Match(line) {
			return e
		}
	}
	return nil
}

func (s *Scanner) terminates(line string) bool {
	for _, t := range s.order {
		if term, ok := s.byType[t].(Terminator); ok && term.Terminates(line) {
			return true
		}
	}
	return false
}

// account classifies every leaf error of a (possibly joined) extraction
// error and logs it with the line number where the record started.
func (s *Scanner) account(t model.RecordType, st *Stats, i int, err error) {
	for _, leaf := range leafErrors(err) {
		switch {
		case errors.Is(leaf, ErrMissingTimestamp):
			st.Dropped++
			s.logger.Debug("ingest: record dropped", "extractor", t.String(), "line", i+1, "err", leaf)
		default:
			st.Failed++
			s.logger.Warn("ingest: payload skipped", "extractor", t.String(), "line", i+1, "err", leaf)
		}
	}
}

func leafErrors(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, leafErrors(e)...)
		}
		return out
	}
	return []error{err}
}

// CountBracketDepth counts the net change in square-bracket nesting for a
// line, ignoring brackets inside JSON strings.
func CountBracketDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}
