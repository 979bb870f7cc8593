package ingest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tinytelemetry/runmerge/internal/model"
	"github.com/tinytelemetry/runmerge/internal/timestamp"
	"github.com/valyala/fastjson"
)

// MeasReportMarker introduces an embedded RRC measurement report.
const MeasReportMarker = "Containerized measurementReport:"

var (
	cRNTIRegex         = regexp.MustCompile(`c-rnti=0x([0-9a-fA-F]+)`)
	ueRegex            = regexp.MustCompile(`ue=(\d+)`)
	trailingCommaRegex = regexp.MustCompile(`,\s*([\]}])`)
)

// servingCellPath leads from one report element to the serving cell's SSB
// results.
var servingCellPath = []string{
	"UL-DCCH-Message", "message", "c1", "measurementReport",
	"criticalExtensions", "measurementReport", "measResults",
	"measResultServingMOList", "0", "measResultServingCell",
	"measResult", "cellResults", "resultsSSB-Cell",
}

// MeasReportExtractor decodes the JSON array that follows the marker, which
// may span several lines, and emits one record per report element with the
// downlink quality converted from 3GPP report ranges to dBm / dB.
type MeasReportExtractor struct {
	Parser *timestamp.Parser
	pool   fastjson.ParserPool
}

// NewMeasReportExtractor creates a measurement-report extractor.
func NewMeasReportExtractor(p *timestamp.Parser) *MeasReportExtractor {
	return &MeasReportExtractor{Parser: p}
}

func (e *MeasReportExtractor) Type() model.RecordType { return model.MeasurementReport }

func (e *MeasReportExtractor) Match(line string) bool {
	return strings.Contains(line, MeasReportMarker)
}

func (e *MeasReportExtractor) Extract(lines []string, i int) ([]*model.Record, int, error) {
	line := lines[i]
	payload, next, err := e.accumulate(lines, i)
	if err != nil {
		return nil, next, err
	}

	ts := e.Parser.ParseFromText(line)
	if !ts.Found {
		return nil, next, fmt.Errorf("%w: measurement report", ErrMissingTimestamp)
	}

	var cRNTI, ueID string
	if m := cRNTIRegex.FindStringSubmatch(line); m != nil {
		cRNTI = m[1]
	}
	if m := ueRegex.FindStringSubmatch(line); m != nil {
		ueID = m[1]
	}

	payload = trailingCommaRegex.ReplaceAllString(payload, "$1")

	p := e.pool.Get()
	defer e.pool.Put(p)

	v, err := p.Parse(payload)
	if err != nil {
		return nil, next, fmt.Errorf("%w: measurement report json: %v", ErrMalformedPayload, err)
	}
	elements, err := v.Array()
	if err != nil {
		return nil, next, fmt.Errorf("%w: measurement report is not an array", ErrMalformedPayload)
	}

	var records []*model.Record
	var errs []error
	for idx, el := range elements {
		cell := el.Get(servingCellPath...)
		if cell == nil {
			errs = append(errs, fmt.Errorf("%w: element %d: no serving cell results", ErrMalformedPayload, idx))
			continue
		}
		rsrp, err1 := numberAt(cell, "rsrp")
		rsrq, err2 := numberAt(cell, "rsrq")
		sinr, err3 := numberAt(cell, "sinr")
		if err := errors.Join(err1, err2, err3); err != nil {
			errs = append(errs, fmt.Errorf("%w: element %d: %v", ErrMalformedPayload, idx, err))
			continue
		}

		rec := model.NewRecord(model.MeasurementReport, ts.Timestamp)
		rec.Fields.Set("ue_id", ueID)
		rec.Fields.Set("c_rnti", cRNTI)
		rec.Fields.Set("dl_rsrp", rsrp-156)
		rec.Fields.Set("dl_rsrq", rsrq/2-43)
		rec.Fields.Set("dl_sinr", sinr/2-23)
		records = append(records, rec)
	}
	return records, next, errors.Join(errs...)
}

// accumulate collects the JSON array literal starting at the first '[' after
// the marker. It returns the index of the first line after the block.
func (e *MeasReportExtractor) accumulate(lines []string, i int) (string, int, error) {
	line := lines[i]
	start := strings.Index(line, MeasReportMarker) + len(MeasReportMarker)
	open := strings.IndexByte(line[start:], '[')
	if open < 0 {
		return "", i + 1, fmt.Errorf("%w: measurement report without array", ErrMalformedPayload)
	}

	first := line[start+open:]
	var b strings.Builder
	b.WriteString(first)
	depth := CountBracketDepth(first)

	j := i + 1
	for depth > 0 {
		if j >= len(lines) {
			return "", j, fmt.Errorf("%w: measurement report truncated at end of file", ErrMalformedPayload)
		}
		if e.Parser.StartsWithTimestamp(lines[j]) {
			return "", j, fmt.Errorf("%w: measurement report interrupted at line %d", ErrMalformedPayload, j+1)
		}
		b.WriteByte('\n')
		b.WriteString(lines[j])
		depth += CountBracketDepth(lines[j])
		j++
	}
	return b.String(), j, nil
}

func numberAt(v *fastjson.Value, key string) (float64, error) {
	f := v.Get(key)
	if f == nil || f.Type() != fastjson.TypeNumber {
		return 0, fmt.Errorf("missing numeric %s", key)
	}
	return f.Float64()
}
