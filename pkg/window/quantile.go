package window

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultQuantiles are the quartile levels computed when none are configured.
var DefaultQuantiles = []float64{0.25, 0.50, 0.75}

// ParseQuantileLevel parses a quantile level from either p-notation (p25, p50)
// or decimal notation (0.25, 0.5).
//
// Examples:
//   - "p25" → 0.25
//   - "p99.5" → 0.995
//   - "0.75" → 0.75
//
// The level must lie in (0, 1].
func ParseQuantileLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)

	var q float64
	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid p-notation %q: %w", s, err)
		}
		q = percentile / 100.0
	} else {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid quantile %q: %w", s, err)
		}
		q = v
	}
	if q <= 0 || q > 1 {
		return 0, fmt.Errorf("quantile %v out of range (0, 1]", q)
	}
	return q, nil
}

// QuantileStat names the statistic for level q: 0.25 → "q25", 0.995 → "q99_5".
func QuantileStat(q float64) string {
	percentile := math.Round(q*1e6) / 1e4
	if percentile == math.Trunc(percentile) {
		return fmt.Sprintf("q%d", int(percentile))
	}
	return "q" + strings.ReplaceAll(strconv.FormatFloat(percentile, 'f', -1, 64), ".", "_")
}

// quantileIndex is the 0-based rank of the discrete quantile q among n
// sorted values: the smallest value whose cumulative share reaches q.
func quantileIndex(q float64, n int) int {
	i := int(math.Ceil(q*float64(n)-1e-9)) - 1
	return max(0, min(i, n-1))
}
