package model

import "sort"

// Stream is an ordered sequence of records of one type.
//
// The column set is not fixed up front: Columns resolves it on demand as the
// declared columns followed by every field name seen across the records, in
// first-seen order.
type Stream struct {
	Type     RecordType
	Records  []*Record
	declared []string
}

// NewStream creates an empty stream of the given type.
func NewStream(t RecordType) *Stream {
	return &Stream{Type: t}
}

// Append adds records to the end of the stream.
func (s *Stream) Append(records ...*Record) {
	s.Records = append(s.Records, records...)
}

// Len returns the number of records.
func (s *Stream) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Empty reports whether the stream has no records.
func (s *Stream) Empty() bool {
	return s.Len() == 0
}

// SortByTime orders records ascending by time. Records with equal
// timestamps keep their input order.
func (s *Stream) SortByTime() {
	sort.SliceStable(s.Records, func(i, j int) bool {
		return s.Records[i].Time.Before(s.Records[j].Time)
	})
}

// Sorted reports whether records are in non-decreasing time order.
func (s *Stream) Sorted() bool {
	for i := 1; i < len(s.Records); i++ {
		if s.Records[i].Time.Before(s.Records[i-1].Time) {
			return false
		}
	}
	return true
}

// Timed reports whether any record carries a timestamp.
func (s *Stream) Timed() bool {
	for _, r := range s.Records {
		if r.HasTime() {
			return true
		}
	}
	return false
}

// Declare registers columns that must appear in the schema even if no
// record carries them.
func (s *Stream) Declare(cols ...string) {
	seen := make(map[string]struct{}, len(s.declared))
	for _, c := range s.declared {
		seen[c] = struct{}{}
	}
	for _, c := range cols {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		s.declared = append(s.declared, c)
	}
}

// Columns returns the widened column superset of the stream.
func (s *Stream) Columns() []string {
	seen := make(map[string]struct{})
	var cols []string
	add := func(c string) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}
	for _, c := range s.declared {
		add(c)
	}
	for _, r := range s.Records {
		for _, k := range r.Fields.keys {
			add(k)
		}
	}
	return cols
}

// HasColumn reports whether name is part of the stream's schema.
func (s *Stream) HasColumn(name string) bool {
	for _, c := range s.declared {
		if c == name {
			return true
		}
	}
	for _, r := range s.Records {
		if _, ok := r.Fields.Get(name); ok {
			return true
		}
	}
	return false
}
