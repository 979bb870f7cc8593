// Package join aligns independently sampled record streams on time.
//
// Nearest is an as-of join in the "nearest" direction: every anchor record is
// paired with the secondary record closest to it in time, provided the gap is
// within a tolerance. Anchor rows are never dropped, duplicated or reordered.
package join

import (
	"log/slog"
	"sort"
	"time"

	"github.com/tinytelemetry/runmerge/internal/model"
)

// Source is a secondary stream with the name used to disambiguate its
// column names.
type Source struct {
	Name   string
	Stream *model.Stream
}

type candidate struct {
	rec *model.Record
}

// Nearest joins src onto anchor. For each anchor record the secondary record
// with the smallest |Δt| is chosen; equal distances go to the earlier record
// (earlier time, then earlier input position). A match requires
// |Δt| <= tolerance. Secondary fields whose names already exist in the
// anchor schema are renamed "<source>_<field>". Unmatched rows leave the
// secondary columns empty, but the columns are still declared.
//
// Inputs are not modified; output records are clones of the anchor records.
func Nearest(anchor *model.Stream, src Source, tolerance time.Duration) *model.Stream {
	out := cloneAnchor(anchor)
	sec := src.Stream
	if sec.Empty() {
		return out
	}

	cands := timedCandidates(sec)
	if len(cands) == 0 {
		slog.Warn("join: secondary stream has no timestamps, skipped", "source", src.Name, "records", sec.Len())
		return out
	}

	anchorCols := make(map[string]struct{})
	for _, c := range out.Columns() {
		anchorCols[c] = struct{}{}
	}
	rename := make(map[string]string)
	var declared []string
	for _, c := range sec.Columns() {
		name := c
		if _, clash := anchorCols[c]; clash {
			name = src.Name + "_" + c
		}
		rename[c] = name
		declared = append(declared, name)
	}
	out.Declare(declared...)

	for _, r := range out.Records {
		if !r.HasTime() {
			continue
		}
		match := nearest(cands, r.Time, tolerance)
		if match == nil {
			continue
		}
		for _, k := range match.Fields.Keys() {
			v, _ := match.Fields.Get(k)
			r.Fields.Set(rename[k], v)
		}
	}
	return out
}

// Sequential joins sources onto anchor from left to right, using each
// intermediate result as the next anchor.
func Sequential(anchor *model.Stream, tolerance time.Duration, sources ...Source) *model.Stream {
	out := anchor
	for _, src := range sources {
		out = Nearest(out, src, tolerance)
	}
	if out == anchor {
		out = cloneAnchor(anchor)
	}
	return out
}

func cloneAnchor(anchor *model.Stream) *model.Stream {
	if anchor == nil {
		return model.NewStream(model.Metric)
	}
	out := model.NewStream(anchor.Type)
	out.Declare(anchor.Columns()...)
	for _, r := range anchor.Records {
		out.Append(r.Clone())
	}
	return out
}

// timedCandidates returns the timed records of s ordered by time, with ties
// kept in input order.
func timedCandidates(s *model.Stream) []candidate {
	var cands []candidate
	for _, r := range s.Records {
		if r.HasTime() {
			cands = append(cands, candidate{rec: r})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].rec.Time.Before(cands[j].rec.Time)
	})
	return cands
}

func nearest(cands []candidate, t time.Time, tolerance time.Duration) *model.Record {
	n := len(cands)
	// First candidate at or after t.
	right := sort.Search(n, func(i int) bool { return !cands[i].rec.Time.Before(t) })

	var best *model.Record
	bestDist := time.Duration(-1)

	if right > 0 {
		// Leftmost record of the group sharing the closest earlier time.
		lt := cands[right-1].rec.Time
		left := sort.Search(right, func(i int) bool { return !cands[i].rec.Time.Before(lt) })
		best = cands[left].rec
		bestDist = t.Sub(lt)
	}
	if right < n {
		d := cands[right].rec.Time.Sub(t)
		if best == nil || d < bestDist {
			best = cands[right].rec
			bestDist = d
		}
	}
	if best == nil || bestDist > tolerance {
		return nil
	}
	return best
}
