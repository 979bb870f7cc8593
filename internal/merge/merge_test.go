package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/runmerge/internal/model"
)

var base = time.Date(2025, 6, 1, 21, 44, 26, 0, time.UTC)

func metric(subtype string, offset time.Duration, kv ...string) *model.Record {
	r := model.NewRecord(model.Metric, base.Add(offset))
	r.Subtype = subtype
	for i := 0; i+1 < len(kv); i += 2 {
		r.Fields.Set(kv[i], kv[i+1])
	}
	return r
}

func stream(recs ...*model.Record) *model.Stream {
	s := model.NewStream(model.Metric)
	s.Append(recs...)
	return s
}

func TestCombine_FusesWithinThreshold(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	in := stream(
		metric(opts.Lead, 0, "pci", "1"),
		metric(opts.Follower, 40*time.Microsecond, "rnti", "4601", "dl_brate", "45.3Mbps"),
	)

	out, stats := Combine(in, opts)

	require.Equal(t, 1, out.Len())
	assert.Equal(t, Stats{Fused: 1}, stats)
	assert.Equal(t, []string{"pci", "ue_rnti", "ue_dl_brate"}, out.Records[0].Fields.Keys())
	assert.Equal(t, "45.3Mbps", out.Records[0].Fields.GetString("ue_dl_brate"))
	assert.True(t, out.Records[0].Time.Equal(base), "fused record keeps the lead's time")
}

func TestCombine_ThresholdIsStrict(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()

	for _, offset := range []time.Duration{60 * time.Microsecond, 50 * time.Microsecond} {
		in := stream(
			metric(opts.Lead, 0, "pci", "1"),
			metric(opts.Follower, offset, "rnti", "4601"),
		)
		out, stats := Combine(in, opts)

		require.Equal(t, 1, out.Len(), "offset %v", offset)
		assert.Equal(t, Stats{Alone: 1, Orphaned: 1}, stats, "offset %v", offset)
		assert.False(t, out.Records[0].Fields.Len() > 1, "lead must not absorb a follower at %v", offset)
	}
}

func TestCombine_LeadAtEndAndPassThrough(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	in := stream(
		metric(opts.Follower, 0, "rnti", "1"),
		metric("RLC Metrics", time.Millisecond, "x", "1"),
		metric(opts.Lead, 2*time.Millisecond, "pci", "1"),
		metric(opts.Lead, 3*time.Millisecond, "pci", "2"),
	)

	out, stats := Combine(in, opts)

	require.Equal(t, 3, out.Len())
	assert.Equal(t, Stats{Alone: 2, Orphaned: 1, Passed: 1}, stats)
	assert.Equal(t, "RLC Metrics", out.Records[0].Subtype)
	assert.Equal(t, "2", out.Records[2].Fields.GetString("pci"))
}

func TestCombine_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	lead := metric(opts.Lead, 0, "pci", "1")
	in := stream(lead, metric(opts.Follower, 10*time.Microsecond, "rnti", "1"))

	Combine(in, opts)

	assert.Equal(t, []string{"pci"}, lead.Fields.Keys())
	assert.Equal(t, 2, in.Len())
}

func TestCombine_Nil(t *testing.T) {
	t.Parallel()
	out, stats := Combine(nil, DefaultOptions())
	assert.Equal(t, 0, out.Len())
	assert.Equal(t, Stats{}, stats)
}

func TestCombine_UnsortedInputIsOrdered(t *testing.T) {
	t.Parallel()
	opts := DefaultOptions()
	in := stream(
		metric(opts.Follower, 40*time.Microsecond, "rnti", "4601"),
		metric(opts.Lead, 0, "pci", "1"),
	)

	out, stats := Combine(in, opts)

	require.Equal(t, 1, out.Len())
	assert.Equal(t, Stats{Fused: 1}, stats)
	assert.Equal(t, "4601", out.Records[0].Fields.GetString("ue_rnti"))
	assert.Equal(t, opts.Follower, in.Records[0].Subtype, "input order untouched")
}
