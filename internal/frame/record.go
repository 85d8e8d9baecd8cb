package frame

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ColumnSpec names a column and its kind. A fitted pipeline records the
// training table's schema as a []ColumnSpec so single-record inference input
// can be shaped into an identical one-row frame.
type ColumnSpec struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Schema returns the frame's column specs in frame order.
func (f *Frame) Schema() []ColumnSpec {
	out := make([]ColumnSpec, 0, len(f.names))
	for _, name := range f.names {
		out = append(out, ColumnSpec{Name: name, Kind: f.cols[name].kind})
	}
	return out
}

// FromRecord builds a one-row frame from a field→value mapping, shaped to
// the given schema. Field names are matched case-insensitively (ingestion
// lower-cases column names). Absent or nil fields become missing cells of
// the scheduled kind; values of the wrong type are coerced where that is
// lossless (numeric strings, stringable numbers).
func FromRecord(rec map[string]any, schema []ColumnSpec) (*Frame, error) {
	lowered := make(map[string]any, len(rec))
	for k, v := range rec {
		lowered[strings.ToLower(k)] = v
	}

	f := New(1)
	for _, spec := range schema {
		v, ok := lowered[spec.Name]
		if !ok || v == nil {
			var col *Column
			if spec.Kind == Numeric {
				col = NewNumericColumn([]float64{0}, []bool{true})
			} else {
				col = NewStringColumn([]string{""}, []bool{true})
			}
			if err := f.Add(spec.Name, col); err != nil {
				return nil, err
			}
			continue
		}

		col, err := cellColumn(spec, v)
		if err != nil {
			return nil, err
		}
		if err := f.Add(spec.Name, col); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func cellColumn(spec ColumnSpec, v any) (*Column, error) {
	if spec.Kind == Numeric {
		switch val := v.(type) {
		case float64:
			return NewNumericColumn([]float64{val}, nil), nil
		case float32:
			return NewNumericColumn([]float64{float64(val)}, nil), nil
		case int:
			return NewNumericColumn([]float64{float64(val)}, nil), nil
		case int64:
			return NewNumericColumn([]float64{float64(val)}, nil), nil
		case bool:
			b := 0.0
			if val {
				b = 1.0
			}
			return NewNumericColumn([]float64{b}, nil), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				// Unparseable numeric input degrades to a missing cell.
				return NewNumericColumn([]float64{0}, []bool{true}), nil
			}
			return NewNumericColumn([]float64{parsed}, nil), nil
		default:
			return nil, fmt.Errorf("frame: unsupported value type %T for numeric field %q", v, spec.Name)
		}
	}

	switch val := v.(type) {
	case string:
		return NewStringColumn([]string{val}, nil), nil
	case time.Time:
		return NewStringColumn([]string{val.Format(time.RFC3339)}, nil), nil
	case float64:
		return NewStringColumn([]string{strconv.FormatFloat(val, 'f', -1, 64)}, nil), nil
	case int:
		return NewStringColumn([]string{strconv.Itoa(val)}, nil), nil
	case int64:
		return NewStringColumn([]string{strconv.FormatInt(val, 10)}, nil), nil
	default:
		return nil, fmt.Errorf("frame: unsupported value type %T for string field %q", v, spec.Name)
	}
}
