package table

import (
	"fmt"
	"strconv"
	"strings"
)

// rateUnits maps bitrate suffixes to their scale relative to Mbps. Longer
// suffixes come first so "kbps" is not read as "bps".
var rateUnits = []struct {
	suffix string
	mul    float64
	div    float64
}{
	{"gbps", 1000, 1},
	{"mbps", 1, 1},
	{"kbps", 1, 1000},
	{"bps", 1, 1e6},
}

// NormalizeRate converts a bitrate as logged by the gNB, such as "45.3Mbps"
// or "812kbps", to Mbps. Plain numbers are returned unchanged.
func NormalizeRate(s string) (float64, error) {
	v := strings.TrimSpace(s)
	lower := strings.ToLower(v)
	mul, div := 1.0, 1.0
	for _, u := range rateUnits {
		if strings.HasSuffix(lower, u.suffix) {
			v = strings.TrimSpace(v[:len(v)-len(u.suffix)])
			mul, div = u.mul, u.div
			break
		}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("normalize rate %q: %w", s, err)
	}
	return f * mul / div, nil
}
