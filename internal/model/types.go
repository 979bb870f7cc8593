package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RecordType identifies which log dialect produced a record.
type RecordType int

const (
	Metric RecordType = iota
	MeasurementReport
	PhyLayer
	ThroughputSample
	ConfigBlock
	RunMetadata
)

func (t RecordType) String() string {
	switch t {
	case Metric:
		return "metric"
	case MeasurementReport:
		return "meas_report"
	case PhyLayer:
		return "phy"
	case ThroughputSample:
		return "throughput"
	case ConfigBlock:
		return "config"
	case RunMetadata:
		return "run_metadata"
	default:
		return fmt.Sprintf("record_type(%d)", int(t))
	}
}

// Timed reports whether records of this type must carry a timestamp.
// Config and run metadata are file-level prefixes, not rows.
func (t RecordType) Timed() bool {
	return t != ConfigBlock && t != RunMetadata
}

// Record is one normalized log event. Its field set is open-ended and
// driven by whatever keys appeared in the source text.
type Record struct {
	Time    time.Time // Zero value = no time
	Type    RecordType
	Subtype string // e.g. metric type label or PHY classification
	Fields  *Fields
}

// NewRecord creates an empty record of the given type.
func NewRecord(t RecordType, ts time.Time) *Record {
	return &Record{Type: t, Time: ts, Fields: NewFields()}
}

// HasTime reports whether the record carries a timestamp.
func (r *Record) HasTime() bool {
	return !r.Time.IsZero()
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	return &Record{
		Time:    r.Time,
		Type:    r.Type,
		Subtype: r.Subtype,
		Fields:  r.Fields.Clone(),
	}
}

// Fields is an insertion-ordered mapping of field name to scalar value.
// Values are string, int64 or float64. Setting an existing key overwrites
// the value in place and keeps its original position.
type Fields struct {
	keys []string
	vals map[string]any
}

// NewFields creates an empty field set.
func NewFields() *Fields {
	return &Fields{vals: make(map[string]any)}
}

// Set stores a scalar under key.
func (f *Fields) Set(key string, value any) {
	if _, ok := f.vals[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.vals[key] = normalizeScalar(value)
}

// Get returns the value stored under key.
func (f *Fields) Get(key string) (any, bool) {
	v, ok := f.vals[key]
	return v, ok
}

// GetString returns the value under key formatted as text, or "".
func (f *Fields) GetString(key string) string {
	v, ok := f.vals[key]
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// Delete removes key if present.
func (f *Fields) Delete(key string) {
	if _, ok := f.vals[key]; !ok {
		return
	}
	delete(f.vals, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i:i], f.keys[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order.
func (f *Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	return len(f.keys)
}

// Clone returns an independent copy.
func (f *Fields) Clone() *Fields {
	out := &Fields{
		keys: make([]string, len(f.keys)),
		vals: make(map[string]any, len(f.vals)),
	}
	copy(out.keys, f.keys)
	for k, v := range f.vals {
		out.vals[k] = v
	}
	return out
}

// MarshalJSON encodes the fields as an object with keys in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.vals[k])
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func normalizeScalar(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case string, int64, float64:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

// FormatValue renders a scalar for tabular output.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}
