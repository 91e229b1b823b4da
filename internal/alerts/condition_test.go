package alerts

import (
	"testing"

	"github.com/obsidianstack/pdrelay/internal/scraper"
)

func TestEvalCondition(t *testing.T) {
	res := &scraper.Result{Families: map[string]float64{"up": 0, "dropped_total": 150}}

	tests := []struct {
		cond      string
		wantFires bool
		wantValue float64
	}{
		{"dropped_total > 100", true, 150},
		{"dropped_total >= 150", true, 150},
		{"dropped_total < 100", false, 150},
		{"dropped_total <= 150", true, 150},
		{"dropped_total != 150", false, 150},
		{"up == 0", true, 0},
		{"up != 0", false, 0},
		{"missing_total > 0", false, 0},
		{"dropped_total ~ 1", false, 150},
		{"dropped_total > x", false, 0},
		{"dropped_total", false, 0},
		{"", false, 0},
	}
	for _, tc := range tests {
		fires, v := evalCondition(tc.cond, res)
		if fires != tc.wantFires || v != tc.wantValue {
			t.Errorf("evalCondition(%q) = (%v, %v), want (%v, %v)",
				tc.cond, fires, v, tc.wantFires, tc.wantValue)
		}
	}
}
