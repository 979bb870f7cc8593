package ingest

import (
	"errors"

	"github.com/tinytelemetry/runmerge/internal/model"
)

var (
	// ErrMissingTimestamp marks a recognized record whose leading timestamp
	// could not be parsed. The record is dropped.
	ErrMissingTimestamp = errors.New("ingest: missing or unparseable timestamp")

	// ErrMalformedPayload marks a structured payload (JSON report, config
	// block) that could not be decoded. The block contributes no records.
	ErrMalformedPayload = errors.New("ingest: malformed payload")

	// ErrNoRunStart marks a throughput log without a resolvable run start.
	ErrNoRunStart = errors.New("ingest: no run start timestamp")
)

// Extractor turns the raw text at a recognized position into zero or more
// records of one type. Each variant owns its recognition predicate and its
// parse routine; the file-scanning loop is shared (see Scanner).
type Extractor interface {
	// Type is the record type this extractor produces.
	Type() model.RecordType

	// Match reports whether line starts a record of this type.
	Match(line string) bool

	// Extract parses the record or block starting at lines[i]. It returns the
	// records, the index of the first line it did not consume, and an error
	// describing anything that was dropped. Records and an error may both be
	// returned when a block is only partially usable.
	Extract(lines []string, i int) ([]*model.Record, int, error)
}

// Terminator is implemented by extractors whose input section ends at a
// sentinel line.
type Terminator interface {
	Terminates(line string) bool
}

// RecordSink receives extracted records.
type RecordSink interface {
	Add(record *model.Record)
}
