package alerts

import (
	"strconv"
	"strings"

	"github.com/obsidianstack/pdrelay/internal/scraper"
)

// evalCondition evaluates a rule condition against a scrape result.
//
// Conditions have the form "<metric family> <operator> <value>":
//
//	prometheus_remote_storage_samples_dropped_total > 100
//	up == 0
//	prometheus_tsdb_wal_storage_errors_total >= 1
//
// Returns (fires, value of the metric). A condition that cannot be parsed, or
// whose metric family is absent from the scrape, never fires.
func evalCondition(cond string, res *scraper.Result) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	family, op, rhs := parts[0], parts[1], parts[2]

	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	v, ok := res.Value(family)
	if !ok {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
