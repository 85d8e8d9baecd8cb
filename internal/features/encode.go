package features

import (
	"encoding/json"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// Encoder maps categorical columns to numeric representations.
//
// Label-encoded columns (high cardinality: provider, channel, product ids)
// get a stable value→code mapping fit on the reference table; an unseen
// value at transform time is an UnknownCategoryError, never a silent code.
//
// One-hot columns (low cardinality: product category, currency) expand into
// one indicator column per fitted category minus the first as reference.
// Transform always reproduces exactly the fitted indicator set: categories
// absent from the input produce all-zero columns, categories unseen at fit
// time are ignored.
type Encoder struct {
	LabelCols  []string
	OneHotCols []string

	codes      map[string]map[string]int
	categories map[string][]string
}

// NewEncoder creates an encoder for the given column sets.
func NewEncoder(labelCols, oneHotCols []string) *Encoder {
	return &Encoder{
		LabelCols:  append([]string(nil), labelCols...),
		OneHotCols: append([]string(nil), oneHotCols...),
	}
}

// Name implements Stage.
func (e *Encoder) Name() string { return "encode" }

// Fit learns code mappings and category sets from the reference table.
func (e *Encoder) Fit(f *frame.Frame) error {
	e.codes = make(map[string]map[string]int, len(e.LabelCols))
	for _, col := range e.LabelCols {
		values, err := distinctValues(f, col)
		if err != nil {
			return err
		}
		mapping := make(map[string]int, len(values))
		for code, v := range values {
			mapping[v] = code
		}
		e.codes[col] = mapping
	}

	e.categories = make(map[string][]string, len(e.OneHotCols))
	for _, col := range e.OneHotCols {
		values, err := distinctValues(f, col)
		if err != nil {
			return err
		}
		e.categories[col] = values
	}

	return nil
}

// Transform applies the fitted mappings.
func (e *Encoder) Transform(f *frame.Frame) (*frame.Frame, error) {
	out := f.Clone()
	n := out.Rows()

	for _, name := range e.LabelCols {
		col := out.Col(name)
		if col == nil {
			return nil, &domain.SchemaMismatchError{
				Reason:  "label-encoded column not found",
				Missing: []string{name},
			}
		}
		mapping := e.codes[name]

		vals := make([]float64, n)
		miss := make([]bool, n)
		for i := 0; i < n; i++ {
			if col.Missing(i) {
				miss[i] = true
				continue
			}
			value := cellString(col, i)
			code, ok := mapping[value]
			if !ok {
				return nil, &domain.UnknownCategoryError{Column: name, Value: value}
			}
			vals[i] = float64(code)
		}
		if err := out.Set(name, frame.NewNumericColumn(vals, miss)); err != nil {
			return nil, err
		}
	}

	for _, name := range e.OneHotCols {
		col := out.Col(name)
		if col == nil {
			return nil, &domain.SchemaMismatchError{
				Reason:  "one-hot column not found",
				Missing: []string{name},
			}
		}
		categories := e.categories[name]
		if len(categories) == 0 {
			out.Drop(name)
			continue
		}

		// The first fitted category is the all-zeros reference.
		for _, category := range categories[1:] {
			vals := make([]float64, n)
			for i := 0; i < n; i++ {
				if col.Missing(i) {
					continue
				}
				if cellString(col, i) == category {
					vals[i] = 1
				}
			}
			if err := out.Set(name+"_"+category, frame.NewNumericColumn(vals, nil)); err != nil {
				return nil, err
			}
		}
		out.Drop(name)
	}

	return out, nil
}

// distinctValues returns the sorted distinct non-missing values of a column.
func distinctValues(f *frame.Frame, name string) ([]string, error) {
	col := f.Col(name)
	if col == nil {
		return nil, &domain.SchemaMismatchError{
			Reason:  "categorical column not found",
			Missing: []string{name},
		}
	}

	seen := make(map[string]struct{})
	for i := 0; i < col.Len(); i++ {
		if col.Missing(i) {
			continue
		}
		seen[cellString(col, i)] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

type encoderState struct {
	Codes      map[string]map[string]int `json:"codes"`
	Categories map[string][]string       `json:"categories"`
}

// State implements Stage.
func (e *Encoder) State() (json.RawMessage, error) {
	return json.Marshal(encoderState{Codes: e.codes, Categories: e.categories})
}

// Restore implements Stage.
func (e *Encoder) Restore(state json.RawMessage) error {
	var st encoderState
	if err := json.Unmarshal(state, &st); err != nil {
		return err
	}
	e.codes = st.Codes
	e.categories = st.Categories
	return nil
}
