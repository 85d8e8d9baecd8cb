package features

import (
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// Broadcast aggregate column names.
const (
	ColTotalAmount      = "total_amount"
	ColAverageAmount    = "average_amount"
	ColTransactionCount = "transaction_count"
	ColAmountStd        = "amount_std"
)

// aggStats holds one customer's amount aggregates. Std is the population
// standard deviation; a single-transaction customer has std 0.
type aggStats struct {
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	Count int64   `json:"count"`
	Std   float64 `json:"std"`
}

// Aggregate broadcasts per-customer amount aggregates onto every
// transaction row. Fit snapshots the reference population's per-customer
// aggregates; Transform looks customers up in that snapshot so single-record
// inference reproduces training-time values. Customers absent from the
// snapshot fall back to aggregates recomputed over the given table, which
// degenerates to trivial single-row statistics for one-row input.
type Aggregate struct {
	CustomerCol string
	AmountCol   string

	snapshot map[string]aggStats
}

// NewAggregate creates the aggregator for the given key and amount columns.
func NewAggregate(customerCol, amountCol string) *Aggregate {
	return &Aggregate{
		CustomerCol: customerCol,
		AmountCol:   amountCol,
	}
}

// Name implements Stage.
func (a *Aggregate) Name() string { return "aggregate" }

// Fit snapshots per-customer aggregates computed over the reference table.
func (a *Aggregate) Fit(f *frame.Frame) error {
	snapshot, err := a.compute(f)
	if err != nil {
		return err
	}
	a.snapshot = snapshot
	return nil
}

// Transform adds the four broadcast aggregate columns.
func (a *Aggregate) Transform(f *frame.Frame) (*frame.Frame, error) {
	custCol := f.Col(a.CustomerCol)
	if custCol == nil {
		return nil, &domain.SchemaMismatchError{
			Reason:  "customer column not found",
			Missing: []string{a.CustomerCol},
		}
	}

	local, err := a.compute(f)
	if err != nil {
		return nil, err
	}

	out := f.Clone()
	n := out.Rows()

	totals := make([]float64, n)
	means := make([]float64, n)
	counts := make([]float64, n)
	stds := make([]float64, n)
	miss := make([]bool, n)

	fallbacks := 0
	for i := 0; i < n; i++ {
		if custCol.Missing(i) {
			miss[i] = true
			continue
		}
		customer := cellString(custCol, i)

		stats, ok := a.snapshot[customer]
		if !ok {
			stats, ok = local[customer]
			fallbacks++
		}
		if !ok {
			miss[i] = true
			continue
		}

		totals[i] = stats.Sum
		means[i] = stats.Mean
		counts[i] = float64(stats.Count)
		stds[i] = stats.Std
	}

	if a.snapshot != nil && fallbacks > 0 {
		slog.Debug("customers absent from aggregate snapshot, using in-table aggregates",
			"rows", fallbacks,
		)
	}

	if err := out.Set(ColTotalAmount, frame.NewNumericColumn(totals, append([]bool(nil), miss...))); err != nil {
		return nil, err
	}
	if err := out.Set(ColAverageAmount, frame.NewNumericColumn(means, append([]bool(nil), miss...))); err != nil {
		return nil, err
	}
	if err := out.Set(ColTransactionCount, frame.NewNumericColumn(counts, append([]bool(nil), miss...))); err != nil {
		return nil, err
	}
	if err := out.Set(ColAmountStd, frame.NewNumericColumn(stds, append([]bool(nil), miss...))); err != nil {
		return nil, err
	}

	return out, nil
}

// compute builds per-customer aggregates over the given table. Missing
// amounts are excluded from sum, mean and count.
func (a *Aggregate) compute(f *frame.Frame) (map[string]aggStats, error) {
	custCol := f.Col(a.CustomerCol)
	if custCol == nil {
		return nil, &domain.SchemaMismatchError{
			Reason:  "customer column not found",
			Missing: []string{a.CustomerCol},
		}
	}
	amountCol := f.Col(a.AmountCol)
	if amountCol == nil {
		return nil, &domain.SchemaMismatchError{
			Reason:  "amount column not found",
			Missing: []string{a.AmountCol},
		}
	}

	grouped := make(map[string][]float64)
	for i := 0; i < f.Rows(); i++ {
		if custCol.Missing(i) || amountCol.Missing(i) {
			continue
		}
		customer := cellString(custCol, i)
		grouped[customer] = append(grouped[customer], amountCol.Float(i))
	}

	out := make(map[string]aggStats, len(grouped))
	for customer, amounts := range grouped {
		mean, std := meanPopStd(amounts)
		sum := 0.0
		for _, v := range amounts {
			sum += v
		}
		out[customer] = aggStats{
			Sum:   sum,
			Mean:  mean,
			Count: int64(len(amounts)),
			Std:   std,
		}
	}
	return out, nil
}

type aggregateState struct {
	Customers map[string]aggStats `json:"customers"`
}

// State implements Stage.
func (a *Aggregate) State() (json.RawMessage, error) {
	return json.Marshal(aggregateState{Customers: a.snapshot})
}

// Restore implements Stage.
func (a *Aggregate) Restore(state json.RawMessage) error {
	var st aggregateState
	if err := json.Unmarshal(state, &st); err != nil {
		return err
	}
	a.snapshot = st.Customers
	return nil
}
