package ingest

import (
	"strings"
	"time"

	"github.com/tinytelemetry/runmerge/internal/model"
)

const (
	// CharacteristicsPrefix starts the device/run-characteristics line.
	CharacteristicsPrefix = "Radar_Char,"

	// ToolCommandPrefix starts the throughput tool's invocation line.
	ToolCommandPrefix = "iperf3 "
)

// LastMatch scans lines backwards and returns the last one satisfying pred.
func LastMatch(lines []string, pred func(string) bool) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if pred(lines[i]) {
			return lines[i], true
		}
	}
	return "", false
}

// ExtractCharacteristics returns the last characteristics line, trimmed.
func ExtractCharacteristics(lines []string) (string, bool) {
	line, ok := LastMatch(lines, func(l string) bool {
		return strings.HasPrefix(l, CharacteristicsPrefix)
	})
	return strings.TrimSpace(line), ok
}

// ExtractToolCommand returns the last throughput-tool invocation, trimmed.
func ExtractToolCommand(lines []string) (string, bool) {
	line, ok := LastMatch(lines, func(l string) bool {
		return strings.HasPrefix(strings.TrimSpace(l), ToolCommandPrefix)
	})
	return strings.TrimSpace(line), ok
}

// CharacteristicsStream turns a characteristics line into a one-row table.
// It returns an empty stream when the line carries no pairs.
func CharacteristicsStream(line string) *model.Stream {
	s := model.NewStream(model.RunMetadata)
	pairs := model.ParseLabeledPairs(line)
	if len(pairs) == 0 {
		return s
	}
	rec := model.NewRecord(model.RunMetadata, time.Time{})
	for _, p := range pairs {
		rec.Fields.Set(p.Key, p.Value)
	}
	s.Append(rec)
	return s
}
