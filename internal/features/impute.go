package features

import (
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/frame"
)

// Imputer fills missing cells with statistics learned from the reference
// table: per-column medians for numeric columns, most-frequent values for
// string columns. Columns seen at fit time are guaranteed free of misses
// after Transform; columns that appear only at transform time pass through
// unmodified and are flagged in the log.
type Imputer struct {
	medians map[string]float64
	modes   map[string]string
}

// NewImputer creates an unfitted imputer.
func NewImputer() *Imputer {
	return &Imputer{}
}

// Name implements Stage.
func (im *Imputer) Name() string { return "impute" }

// Fit learns fill statistics for every column of the reference table.
func (im *Imputer) Fit(f *frame.Frame) error {
	im.medians = make(map[string]float64)
	im.modes = make(map[string]string)

	for _, name := range f.Columns() {
		col := f.Col(name)
		if col.Kind() == frame.Numeric {
			im.medians[name] = median(present(col))
			continue
		}

		vals := make([]string, 0, col.Len())
		for i := 0; i < col.Len(); i++ {
			if col.Missing(i) {
				continue
			}
			vals = append(vals, col.Str(i))
		}
		im.modes[name] = mode(vals)
	}

	return nil
}

// Transform fills misses in fitted columns with the stored statistics.
func (im *Imputer) Transform(f *frame.Frame) (*frame.Frame, error) {
	out := f.Clone()

	var unfitted []string
	for _, name := range out.Columns() {
		col := out.Col(name)

		if col.Kind() == frame.Numeric {
			fill, ok := im.medians[name]
			if !ok {
				unfitted = append(unfitted, name)
				continue
			}
			for i := 0; i < col.Len(); i++ {
				if col.Missing(i) {
					col.SetFloat(i, fill)
				}
			}
			continue
		}

		fill, ok := im.modes[name]
		if !ok {
			unfitted = append(unfitted, name)
			continue
		}
		for i := 0; i < col.Len(); i++ {
			if col.Missing(i) {
				col.SetStr(i, fill)
			}
		}
	}

	if len(unfitted) > 0 {
		slog.Warn("columns absent at fit time passed through unimputed",
			"columns", unfitted,
		)
	}

	return out, nil
}

type imputerState struct {
	Medians map[string]float64 `json:"medians"`
	Modes   map[string]string  `json:"modes"`
}

// State implements Stage.
func (im *Imputer) State() (json.RawMessage, error) {
	return json.Marshal(imputerState{Medians: im.medians, Modes: im.modes})
}

// Restore implements Stage.
func (im *Imputer) Restore(state json.RawMessage) error {
	var st imputerState
	if err := json.Unmarshal(state, &st); err != nil {
		return err
	}
	im.medians = st.Medians
	im.modes = st.Modes
	return nil
}
