package logparse

import "strings"

// Severity ranks, lowest first.
var severityRank = map[string]int{
	"TRACE": 0,
	"DEBUG": 1,
	"INFO":  2,
	"WARN":  3,
	"ERROR": 4,
}

// ParseSeverity converts srsRAN single-letter levels and the common long
// forms to all caps short forms. ok is false for anything unrecognized.
func ParseSeverity(severity string) (string, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(severity))

	switch normalized {
	case "D", "DEBUG", "DBG":
		return "DEBUG", true
	case "I", "INFO", "INF":
		return "INFO", true
	case "W", "WARN", "WARNING", "WRN":
		return "WARN", true
	case "E", "ERROR", "ERR":
		return "ERROR", true
	case "V", "VERBOSE", "TRACE":
		return "TRACE", true
	}
	if len(normalized) >= 4 {
		switch normalized[:4] {
		case "INFO":
			return "INFO", true
		case "WARN":
			return "WARN", true
		case "ERRO":
			return "ERROR", true
		case "DEBU":
			return "DEBUG", true
		}
	}
	return "", false
}

// NormalizeSeverity is ParseSeverity with unrecognized levels read as INFO.
func NormalizeSeverity(severity string) string {
	if s, ok := ParseSeverity(severity); ok {
		return s
	}
	return "INFO"
}

// AtLeast reports whether level is at or above min. An empty min admits
// every level.
func AtLeast(level, min string) bool {
	if min == "" {
		return true
	}
	return severityRank[NormalizeSeverity(level)] >= severityRank[NormalizeSeverity(min)]
}
