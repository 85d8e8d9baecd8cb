package features

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// Derived temporal column names.
const (
	ColTransactionHour  = "transaction_hour"
	ColTransactionDay   = "transaction_day"
	ColTransactionMonth = "transaction_month"
	ColTransactionYear  = "transaction_year"
)

// Temporal derives hour-of-day, day-of-month, month and year from the
// transaction timestamp column. It is stateless and idempotent: unparseable
// timestamps yield missing derived values instead of aborting the batch.
type Temporal struct {
	// Column is the timestamp column name.
	Column string
}

// NewTemporal creates the temporal extractor for the given timestamp column.
func NewTemporal(column string) *Temporal {
	return &Temporal{Column: column}
}

// Name implements Stage.
func (t *Temporal) Name() string { return "temporal" }

// Fit implements Stage. Temporal extraction has no fitted state.
func (t *Temporal) Fit(f *frame.Frame) error { return nil }

// Transform adds the four derived columns. Existing derived columns are
// replaced, which makes repeated application a no-op.
func (t *Temporal) Transform(f *frame.Frame) (*frame.Frame, error) {
	col := f.Col(t.Column)
	if col == nil {
		return nil, &domain.SchemaMismatchError{
			Reason:  "timestamp column not found",
			Missing: []string{t.Column},
		}
	}

	out := f.Clone()
	n := out.Rows()

	hours := make([]float64, n)
	days := make([]float64, n)
	months := make([]float64, n)
	years := make([]float64, n)
	miss := make([]bool, n)

	unparseable := 0
	for i := 0; i < n; i++ {
		ts, ok := parseTimestamp(col, i)
		if !ok {
			miss[i] = true
			if !col.Missing(i) {
				unparseable++
			}
			continue
		}
		hours[i] = float64(ts.Hour())
		days[i] = float64(ts.Day())
		months[i] = float64(ts.Month())
		years[i] = float64(ts.Year())
	}

	if unparseable > 0 {
		slog.Warn("unparseable timestamps degraded to missing",
			"column", t.Column,
			"rows", unparseable,
		)
	}

	// Each derived column carries its own copy of the missing mask.
	if err := out.Set(ColTransactionHour, frame.NewNumericColumn(hours, append([]bool(nil), miss...))); err != nil {
		return nil, err
	}
	if err := out.Set(ColTransactionDay, frame.NewNumericColumn(days, append([]bool(nil), miss...))); err != nil {
		return nil, err
	}
	if err := out.Set(ColTransactionMonth, frame.NewNumericColumn(months, append([]bool(nil), miss...))); err != nil {
		return nil, err
	}
	if err := out.Set(ColTransactionYear, frame.NewNumericColumn(years, append([]bool(nil), miss...))); err != nil {
		return nil, err
	}

	return out, nil
}

// State implements Stage: the temporal stage is stateless.
func (t *Temporal) State() (json.RawMessage, error) { return nil, nil }

// Restore implements Stage.
func (t *Temporal) Restore(state json.RawMessage) error { return nil }

func parseTimestamp(col *frame.Column, i int) (time.Time, bool) {
	if col.Missing(i) {
		return time.Time{}, false
	}
	if col.Kind() == frame.Numeric {
		// Numeric timestamps are unix seconds.
		return time.Unix(int64(col.Float(i)), 0).UTC(), true
	}
	ts, err := domain.ParseTimestamp(col.Str(i))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
