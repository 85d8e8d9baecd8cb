// Package features implements the deterministic feature-engineering
// pipeline: temporal extraction, customer aggregation, categorical encoding,
// imputation and scaling, composed behind a fit-once / transform-many
// contract. Fitted stage state is read-only after Fit and safe for
// concurrent Transform calls.
package features

import (
	"encoding/json"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/frame"
)

// Stage is one step of the feature pipeline. Fit learns statistics from a
// reference table; Transform applies them without refitting. Stages expose
// their fitted state for the persisted bundle.
type Stage interface {
	Name() string
	Fit(f *frame.Frame) error
	Transform(f *frame.Frame) (*frame.Frame, error)

	// State returns the fitted state as JSON, or nil for stateless stages.
	State() (json.RawMessage, error)

	// Restore replaces the fitted state from a persisted bundle.
	Restore(state json.RawMessage) error
}

// cellString reads a cell as a string key regardless of column kind.
// Numeric cells use the shortest exact float representation so the same
// value always yields the same key.
func cellString(col *frame.Column, i int) string {
	if col.Kind() == frame.String {
		return col.Str(i)
	}
	return strconv.FormatFloat(col.Float(i), 'f', -1, 64)
}

// present compacts a numeric column into its non-missing values.
func present(col *frame.Column) []float64 {
	out := make([]float64, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		if col.Missing(i) {
			continue
		}
		out = append(out, col.Float(i))
	}
	return out
}

// meanPopStd returns the mean and population standard deviation of vals.
// Empty input yields (0, 0).
func meanPopStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	mean = stat.Mean(vals, nil)
	std = stat.PopStdDev(vals, nil)
	return mean, std
}

// median returns the middle value of vals (average of the two middle values
// for even counts). Empty input yields 0.
func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// mode returns the most frequent value; ties break to the lexicographically
// smallest so refitting the same data always yields the same fill value.
func mode(vals []string) string {
	counts := make(map[string]int, len(vals))
	for _, v := range vals {
		counts[v]++
	}
	best := ""
	bestCount := -1
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > bestCount {
			best = k
			bestCount = counts[k]
		}
	}
	return best
}
