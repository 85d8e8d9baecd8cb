// Package frame provides a small column-ordered table for the feature
// pipeline. Columns are numeric or string typed and carry a per-cell missing
// mask; column order is part of a frame's identity and is preserved by every
// operation.
package frame

import (
	"fmt"
)

// Kind is the type of a column.
type Kind int

const (
	// Numeric columns hold float64 values.
	Numeric Kind = iota

	// String columns hold categorical/text values.
	String
)

// Column is a single typed column with a missing mask.
type Column struct {
	kind   Kind
	floats []float64
	strs   []string
	miss   []bool
}

// NewNumericColumn creates a numeric column. A nil miss mask means all
// values are present. The slices are retained, not copied.
func NewNumericColumn(vals []float64, miss []bool) *Column {
	if miss == nil {
		miss = make([]bool, len(vals))
	}
	return &Column{kind: Numeric, floats: vals, miss: miss}
}

// NewStringColumn creates a string column. A nil miss mask means all values
// are present.
func NewStringColumn(vals []string, miss []bool) *Column {
	if miss == nil {
		miss = make([]bool, len(vals))
	}
	return &Column{kind: String, strs: vals, miss: miss}
}

// Kind returns the column type.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of cells.
func (c *Column) Len() int {
	if c.kind == Numeric {
		return len(c.floats)
	}
	return len(c.strs)
}

// Missing reports whether the cell at row i is missing.
func (c *Column) Missing(i int) bool { return c.miss[i] }

// Float returns the numeric value at row i. Only valid for numeric columns.
func (c *Column) Float(i int) float64 { return c.floats[i] }

// Str returns the string value at row i. Only valid for string columns.
func (c *Column) Str(i int) string { return c.strs[i] }

// SetFloat sets the numeric value at row i and clears its missing flag.
func (c *Column) SetFloat(i int, v float64) {
	c.floats[i] = v
	c.miss[i] = false
}

// SetStr sets the string value at row i and clears its missing flag.
func (c *Column) SetStr(i int, v string) {
	c.strs[i] = v
	c.miss[i] = false
}

// SetMissing marks the cell at row i missing.
func (c *Column) SetMissing(i int) { c.miss[i] = true }

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	cp := &Column{kind: c.kind}
	cp.miss = append([]bool(nil), c.miss...)
	if c.kind == Numeric {
		cp.floats = append([]float64(nil), c.floats...)
	} else {
		cp.strs = append([]string(nil), c.strs...)
	}
	return cp
}

// Frame is an ordered collection of equally sized columns.
type Frame struct {
	names []string
	cols  map[string]*Column
	rows  int
}

// New creates an empty frame with a fixed row count.
func New(rows int) *Frame {
	return &Frame{
		cols: make(map[string]*Column),
		rows: rows,
	}
}

// Rows returns the number of rows.
func (f *Frame) Rows() int { return f.rows }

// Columns returns column names in insertion order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.names...)
}

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Col returns the named column, or nil if absent.
func (f *Frame) Col(name string) *Column { return f.cols[name] }

// Add appends a new column. Adding an existing column name is an error.
func (f *Frame) Add(name string, col *Column) error {
	if _, ok := f.cols[name]; ok {
		return fmt.Errorf("frame: column %q already exists", name)
	}
	if col.Len() != f.rows {
		return fmt.Errorf("frame: column %q has %d rows, frame has %d", name, col.Len(), f.rows)
	}
	f.names = append(f.names, name)
	f.cols[name] = col
	return nil
}

// Set replaces an existing column in place (preserving its position) or
// appends it when absent.
func (f *Frame) Set(name string, col *Column) error {
	if col.Len() != f.rows {
		return fmt.Errorf("frame: column %q has %d rows, frame has %d", name, col.Len(), f.rows)
	}
	if _, ok := f.cols[name]; ok {
		f.cols[name] = col
		return nil
	}
	f.names = append(f.names, name)
	f.cols[name] = col
	return nil
}

// Drop removes a column if present.
func (f *Frame) Drop(name string) {
	if _, ok := f.cols[name]; !ok {
		return
	}
	delete(f.cols, name)
	for i, n := range f.names {
		if n == name {
			f.names = append(f.names[:i], f.names[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	cp := New(f.rows)
	cp.names = append([]string(nil), f.names...)
	for _, name := range f.names {
		cp.cols[name] = f.cols[name].Clone()
	}
	return cp
}

// NumericColumns returns the names of numeric columns in frame order.
func (f *Frame) NumericColumns() []string {
	var out []string
	for _, name := range f.names {
		if f.cols[name].kind == Numeric {
			out = append(out, name)
		}
	}
	return out
}

// StringColumns returns the names of string columns in frame order.
func (f *Frame) StringColumns() []string {
	var out []string
	for _, name := range f.names {
		if f.cols[name].kind == String {
			out = append(out, name)
		}
	}
	return out
}

// Matrix extracts the named numeric columns as a row-major matrix. Missing
// cells are an error: callers run Matrix only on fully imputed columns.
func (f *Frame) Matrix(names []string) ([][]float64, error) {
	for _, name := range names {
		col := f.cols[name]
		if col == nil {
			return nil, fmt.Errorf("frame: column %q not found", name)
		}
		if col.kind != Numeric {
			return nil, fmt.Errorf("frame: column %q is not numeric", name)
		}
	}
	out := make([][]float64, f.rows)
	for i := 0; i < f.rows; i++ {
		row := make([]float64, len(names))
		for j, name := range names {
			col := f.cols[name]
			if col.Missing(i) {
				return nil, fmt.Errorf("frame: column %q row %d is missing", name, i)
			}
			row[j] = col.Float(i)
		}
		out[i] = row
	}
	return out, nil
}
