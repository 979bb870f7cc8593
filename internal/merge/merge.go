// Package merge fuses consecutive related metric records that the gNB logs
// as separate lines for the same scheduling instant.
package merge

import (
	"sort"
	"time"

	"github.com/tinytelemetry/runmerge/internal/model"
)

// Options selects which subtypes pair up and how close they must be.
type Options struct {
	Lead      string        // subtype that starts a pair
	Follower  string        // subtype absorbed into the preceding lead
	Prefix    string        // prepended to every follower field name
	Threshold time.Duration // strict upper bound on |follower - lead|
}

// DefaultOptions pairs cell-level and UE-level scheduler metrics.
func DefaultOptions() Options {
	return Options{
		Lead:      "Cell Scheduler Metrics",
		Follower:  "Scheduler UE Metrics",
		Prefix:    "ue_",
		Threshold: model.DefaultMergeThreshold,
	}
}

// Stats reports what Combine did with each record.
type Stats struct {
	Fused    int // lead records that absorbed a follower
	Alone    int // lead records emitted without a partner
	Orphaned int // followers dropped for lack of a lead
	Passed   int // other records passed through
}

// Combine walks the stream in time order once with one record of lookahead.
// A lead record immediately followed by a follower within the threshold is
// emitted as one record carrying the follower's fields under Prefix. Leads
// without a partner are emitted alone, followers without a lead are dropped,
// and every other record passes through unchanged. The input is not modified.
func Combine(in *model.Stream, opts Options) (*model.Stream, Stats) {
	out := model.NewStream(model.Metric)
	var stats Stats
	if in == nil {
		return out, stats
	}
	out.Type = in.Type

	recs := in.Records
	if !in.Sorted() {
		recs = append([]*model.Record(nil), recs...)
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].Time.Before(recs[j].Time) })
	}
	for i := 0; i < len(recs); i++ {
		r := recs[i]
		switch r.Subtype {
		case opts.Lead:
			fused := r.Clone()
			if i+1 < len(recs) && partners(r, recs[i+1], opts) {
				next := recs[i+1]
				for _, k := range next.Fields.Keys() {
					v, _ := next.Fields.Get(k)
					fused.Fields.Set(opts.Prefix+k, v)
				}
				stats.Fused++
				i++
			} else {
				stats.Alone++
			}
			out.Append(fused)
		case opts.Follower:
			stats.Orphaned++
		default:
			out.Append(r.Clone())
			stats.Passed++
		}
	}
	return out, stats
}

func partners(lead, next *model.Record, opts Options) bool {
	if next.Subtype != opts.Follower {
		return false
	}
	d := next.Time.Sub(lead.Time)
	if d < 0 {
		d = -d
	}
	return d < opts.Threshold
}
