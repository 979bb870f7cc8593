package logparse

import "regexp"

// PairRegex matches identifier=value pairs. Values stop at whitespace,
// commas and closing brackets, so unit suffixes like 45.3Mbps survive.
var PairRegex = regexp.MustCompile(`(\w+)=([^\s,\]]+)`)

// KV is one key=value occurrence, in line order.
type KV struct {
	Key   string
	Value string
}

// Pairs returns every key=value pair found in text, in order of appearance.
// Duplicate keys are returned as they occur; callers decide precedence.
func Pairs(text string) []KV {
	matches := PairRegex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]KV, 0, len(matches))
	for _, m := range matches {
		out = append(out, KV{Key: m[1], Value: m[2]})
	}
	return out
}

// IsIndented reports whether line is a continuation line of a multi-line
// block: it begins with a space or tab.
func IsIndented(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t')
}

// IsBlank reports whether line contains only whitespace.
func IsBlank(line string) bool {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}
