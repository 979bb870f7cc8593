package join

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/runmerge/internal/model"
)

var base = time.Date(2025, 6, 1, 21, 44, 26, 0, time.UTC)

func at(typ model.RecordType, ms int, kv ...any) *model.Record {
	r := model.NewRecord(typ, base.Add(time.Duration(ms)*time.Millisecond))
	for i := 0; i+1 < len(kv); i += 2 {
		r.Fields.Set(kv[i].(string), kv[i+1])
	}
	return r
}

func streamOf(typ model.RecordType, recs ...*model.Record) *model.Stream {
	s := model.NewStream(typ)
	s.Append(recs...)
	return s
}

func TestNearest_PreservesAnchorRows(t *testing.T) {
	t.Parallel()
	anchor := streamOf(model.Metric,
		at(model.Metric, 0, "seq", 0),
		at(model.Metric, 1000, "seq", 1),
		at(model.Metric, 2000, "seq", 2),
		at(model.Metric, 5000, "seq", 3),
	)
	sec := streamOf(model.MeasurementReport,
		at(model.MeasurementReport, 900, "dl_rsrp", -90),
		at(model.MeasurementReport, 1200, "dl_rsrp", -91),
		at(model.MeasurementReport, 2400, "dl_rsrp", -92),
	)

	out := Nearest(anchor, Source{Name: "meas", Stream: sec}, 500*time.Millisecond)

	require.Equal(t, anchor.Len(), out.Len())
	for i, r := range out.Records {
		assert.Equal(t, anchor.Records[i].Fields.GetString("seq"), r.Fields.GetString("seq"), "row %d order", i)
	}
	// 0ms: nearest is 900ms, beyond tolerance.
	assert.Equal(t, "", out.Records[0].Fields.GetString("dl_rsrp"))
	// 1000ms: 900 (100ms) beats 1200 (200ms).
	assert.Equal(t, "-90", out.Records[1].Fields.GetString("dl_rsrp"))
	// 2000ms: 2400 is exactly 400ms away.
	assert.Equal(t, "-92", out.Records[2].Fields.GetString("dl_rsrp"))
	assert.Equal(t, "", out.Records[3].Fields.GetString("dl_rsrp"))
	assert.Equal(t, []string{"seq", "dl_rsrp"}, out.Columns())
}

func TestNearest_TiesGoToEarlierCandidate(t *testing.T) {
	t.Parallel()
	anchor := streamOf(model.Metric, at(model.Metric, 1000, "seq", 0))
	sec := streamOf(model.MeasurementReport,
		at(model.MeasurementReport, 1100, "v", "after"),
		at(model.MeasurementReport, 900, "v", "before-first"),
		at(model.MeasurementReport, 900, "v", "before-second"),
	)

	out := Nearest(anchor, Source{Name: "meas", Stream: sec}, time.Second)

	assert.Equal(t, "before-first", out.Records[0].Fields.GetString("v"))
}

func TestNearest_EqualTimestampsPickFirstInInput(t *testing.T) {
	t.Parallel()
	anchor := streamOf(model.Metric, at(model.Metric, 1000, "seq", 0))
	sec := streamOf(model.MeasurementReport,
		at(model.MeasurementReport, 1000, "v", "a"),
		at(model.MeasurementReport, 1000, "v", "b"),
	)

	out := Nearest(anchor, Source{Name: "meas", Stream: sec}, 0)

	assert.Equal(t, "a", out.Records[0].Fields.GetString("v"))
}

func TestNearest_ToleranceIsInclusive(t *testing.T) {
	t.Parallel()
	anchor := streamOf(model.Metric, at(model.Metric, 0, "seq", 0))
	sec := streamOf(model.ThroughputSample, at(model.ThroughputSample, 500, "Bitrate", 46.1))

	out := Nearest(anchor, Source{Name: "iperf", Stream: sec}, 500*time.Millisecond)

	assert.Equal(t, "46.1", out.Records[0].Fields.GetString("Bitrate"))
}

func TestNearest_RenamesCollidingColumns(t *testing.T) {
	t.Parallel()
	anchor := streamOf(model.Metric, at(model.Metric, 0, "rnti", "4601", "pci", "1"))
	sec := streamOf(model.PhyLayer, at(model.PhyLayer, 10, "rnti", "0x4601", "crc", "OK"))

	out := Nearest(anchor, Source{Name: "phy", Stream: sec}, time.Second)

	r := out.Records[0]
	assert.Equal(t, "4601", r.Fields.GetString("rnti"))
	assert.Equal(t, "0x4601", r.Fields.GetString("phy_rnti"))
	assert.Equal(t, []string{"rnti", "pci", "phy_rnti", "crc"}, out.Columns())
}

func TestNearest_UnmatchedColumnsStillDeclared(t *testing.T) {
	t.Parallel()
	anchor := streamOf(model.Metric, at(model.Metric, 0, "seq", 0))
	sec := streamOf(model.MeasurementReport, at(model.MeasurementReport, 10000, "dl_sinr", -18.0))

	out := Nearest(anchor, Source{Name: "meas", Stream: sec}, 500*time.Millisecond)

	assert.Equal(t, []string{"seq", "dl_sinr"}, out.Columns())
	_, ok := out.Records[0].Fields.Get("dl_sinr")
	assert.False(t, ok)
}

func TestNearest_UntimedAnchorAndSecondary(t *testing.T) {
	t.Parallel()
	untimed := model.NewRecord(model.Metric, time.Time{})
	untimed.Fields.Set("seq", "x")
	anchor := streamOf(model.Metric, untimed, at(model.Metric, 0, "seq", 1))
	sec := streamOf(model.MeasurementReport, at(model.MeasurementReport, 0, "v", 1))

	out := Nearest(anchor, Source{Name: "meas", Stream: sec}, time.Second)
	_, ok := out.Records[0].Fields.Get("v")
	assert.False(t, ok, "untimed anchor must not match")
	assert.Equal(t, "1", out.Records[1].Fields.GetString("v"))

	noTime := model.NewRecord(model.ThroughputSample, time.Time{})
	noTime.Fields.Set("Interval", "0.00-1.00")
	skipped := Nearest(anchor, Source{Name: "iperf", Stream: streamOf(model.ThroughputSample, noTime)}, time.Second)
	assert.False(t, skipped.HasColumn("Interval"), "untimed secondary stream is skipped")
}

func TestNearest_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()
	anchor := streamOf(model.Metric, at(model.Metric, 0, "seq", 0))
	sec := streamOf(model.MeasurementReport, at(model.MeasurementReport, 0, "v", 1))

	Nearest(anchor, Source{Name: "meas", Stream: sec}, time.Second)

	assert.Equal(t, []string{"seq"}, anchor.Records[0].Fields.Keys())
}

func TestSequential(t *testing.T) {
	t.Parallel()
	anchor := streamOf(model.Metric, at(model.Metric, 0, "seq", 0), at(model.Metric, 1000, "seq", 1))
	meas := streamOf(model.MeasurementReport, at(model.MeasurementReport, 100, "dl_rsrp", -96))
	iperf := streamOf(model.ThroughputSample, at(model.ThroughputSample, 1100, "Bitrate", 45.1, "dl_rsrp", 1))

	out := Sequential(anchor, 500*time.Millisecond,
		Source{Name: "meas", Stream: meas},
		Source{Name: "empty", Stream: model.NewStream(model.PhyLayer)},
		Source{Name: "iperf", Stream: iperf},
	)

	require.Equal(t, 2, out.Len())
	assert.Equal(t, []string{"seq", "dl_rsrp", "Bitrate", "iperf_dl_rsrp"}, out.Columns())
	assert.Equal(t, "-96", out.Records[0].Fields.GetString("dl_rsrp"))
	assert.Equal(t, "45.1", out.Records[1].Fields.GetString("Bitrate"))
	assert.Equal(t, "1", out.Records[1].Fields.GetString("iperf_dl_rsrp"))
	assert.NotSame(t, anchor, Sequential(anchor, time.Second))
}
