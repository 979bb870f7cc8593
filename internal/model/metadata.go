package model

import "strings"

// Pair is one flattened key/value entry.
type Pair struct {
	Key   string
	Value string
}

// Metadata is the out-of-band, file-level description of one run.
// It is produced once per run and never merged with time-series rows.
type Metadata struct {
	Config          []Pair // flattened radio configuration, in source order
	Characteristics string // raw device/run-characteristics line
	ToolCommand     string // throughput tool invocation line
}

// ParseLabeledPairs splits "Label,k1=v1,k2=v2" into ordered pairs.
// Items without '=' (such as the label) are skipped.
func ParseLabeledPairs(line string) []Pair {
	var pairs []Pair
	for _, item := range strings.Split(strings.TrimSpace(line), ",") {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		pairs = append(pairs, Pair{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}
	return pairs
}
