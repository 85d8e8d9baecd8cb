package features

import (
	"encoding/json"

	"github.com/opensource-finance/kestrel/internal/frame"
)

// Scaler standardizes numeric columns to zero mean and unit variance using
// statistics learned from the reference table: (x - mean) / std, with
// zero-variance columns mapping every value to 0. Numeric columns absent at
// fit time pass through unscaled.
type Scaler struct {
	means map[string]float64
	stds  map[string]float64
}

// NewScaler creates an unfitted scaler.
func NewScaler() *Scaler {
	return &Scaler{}
}

// Name implements Stage.
func (s *Scaler) Name() string { return "scale" }

// Fit learns per-column mean and population standard deviation over the
// reference table's numeric columns.
func (s *Scaler) Fit(f *frame.Frame) error {
	s.means = make(map[string]float64)
	s.stds = make(map[string]float64)

	for _, name := range f.NumericColumns() {
		mean, std := meanPopStd(present(f.Col(name)))
		s.means[name] = mean
		s.stds[name] = std
	}

	return nil
}

// Transform applies the fitted standardization.
func (s *Scaler) Transform(f *frame.Frame) (*frame.Frame, error) {
	out := f.Clone()

	for _, name := range out.NumericColumns() {
		mean, ok := s.means[name]
		if !ok {
			continue
		}
		std := s.stds[name]

		col := out.Col(name)
		for i := 0; i < col.Len(); i++ {
			if col.Missing(i) {
				continue
			}
			if std == 0 {
				col.SetFloat(i, 0)
				continue
			}
			col.SetFloat(i, (col.Float(i)-mean)/std)
		}
	}

	return out, nil
}

type scalerState struct {
	Means map[string]float64 `json:"means"`
	Stds  map[string]float64 `json:"stds"`
}

// State implements Stage.
func (s *Scaler) State() (json.RawMessage, error) {
	return json.Marshal(scalerState{Means: s.means, Stds: s.stds})
}

// Restore implements Stage.
func (s *Scaler) Restore(state json.RawMessage) error {
	var st scalerState
	if err := json.Unmarshal(state, &st); err != nil {
		return err
	}
	s.means = st.Means
	s.stds = st.Stds
	return nil
}
