package features

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/frame"
)

// Version identifies the pipeline definition. A persisted fitted-state
// bundle records the version that produced it; loading a bundle from a
// different version is a configuration error, never a silent refit.
const Version = "1"

// Canonical raw column names (lower-cased, as delivered by ingestion).
const (
	ColTransactionID   = "transactionid"
	ColCustomerID      = "customerid"
	ColAccountID       = "accountid"
	ColBatchID         = "batchid"
	ColSubscriptionID  = "subscriptionid"
	ColAmount          = "amount"
	ColValue           = "value"
	ColCurrencyCode    = "currencycode"
	ColCountryCode     = "countrycode"
	ColProviderID      = "providerid"
	ColChannelID       = "channelid"
	ColProductID       = "productid"
	ColProductCategory = "productcategory"
	ColPricingStrategy = "pricingstrategy"
	ColFraudResult     = "fraudresult"
	ColStartTime       = "transactionstarttime"
)

// lineageColumns identify rows but carry no signal; they are excluded from
// the model feature set.
var lineageColumns = map[string]bool{
	ColTransactionID:  true,
	ColCustomerID:     true,
	ColAccountID:      true,
	ColBatchID:        true,
	ColSubscriptionID: true,
	ColStartTime:      true,
}

// Pipeline composes the feature stages into one ordered transformation with
// a single fit/transform contract. After Fit the model feature column set
// and order are frozen; Transform output that fails to reproduce them
// exactly is a SchemaMismatchError, never a silent reorder. A fitted
// pipeline is read-only and safe for concurrent Transform calls.
type Pipeline struct {
	stages       []Stage
	fitted       bool
	rawSchema    []frame.ColumnSpec
	featureNames []string
}

// New creates a pipeline from the given stages, applied in order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Default returns the canonical transaction feature pipeline: temporal
// extraction, customer aggregation, categorical encoding, imputation,
// scaling.
func Default() *Pipeline {
	return New(
		NewTemporal(ColStartTime),
		NewAggregate(ColCustomerID, ColAmount),
		NewEncoder(
			[]string{ColProviderID, ColChannelID, ColProductID},
			[]string{ColProductCategory, ColCurrencyCode},
		),
		NewImputer(),
		NewScaler(),
	)
}

// Fit fits every stage in sequence on the reference table, each stage
// seeing the output of the previous one, and freezes the model feature
// column set.
func (p *Pipeline) Fit(f *frame.Frame) error {
	_, err := p.FitTransform(f)
	return err
}

// FitTransform fits the pipeline and returns the transformed reference
// table.
func (p *Pipeline) FitTransform(f *frame.Frame) (*frame.Frame, error) {
	cur := f
	for _, stage := range p.stages {
		if err := stage.Fit(cur); err != nil {
			return nil, fmt.Errorf("failed to fit stage %q: %w", stage.Name(), err)
		}
		next, err := stage.Transform(cur)
		if err != nil {
			return nil, fmt.Errorf("failed to transform at stage %q: %w", stage.Name(), err)
		}
		cur = next
	}

	p.rawSchema = f.Schema()
	p.featureNames = modelColumns(cur)
	p.fitted = true

	slog.Info("pipeline fitted",
		"version", Version,
		"raw_columns", len(p.rawSchema),
		"features", len(p.featureNames),
	)

	return cur, nil
}

// Transform applies the fitted stages to any table and verifies the output
// reproduces the frozen feature column set and order.
func (p *Pipeline) Transform(f *frame.Frame) (*frame.Frame, error) {
	if !p.fitted {
		return nil, &domain.ConfigurationError{Reason: "pipeline is not fitted"}
	}

	cur := f
	for _, stage := range p.stages {
		next, err := stage.Transform(cur)
		if err != nil {
			return nil, fmt.Errorf("failed to transform at stage %q: %w", stage.Name(), err)
		}
		cur = next
	}

	if err := p.checkColumns(cur); err != nil {
		return nil, err
	}

	return cur, nil
}

// Features transforms a table and extracts the model feature matrix in the
// frozen column order.
func (p *Pipeline) Features(f *frame.Frame) ([][]float64, error) {
	out, err := p.Transform(f)
	if err != nil {
		return nil, err
	}
	return out.Matrix(p.featureNames)
}

// TransformOne shapes a single field→value record to the fitted raw schema
// and returns its ordered feature vector. A record missing a raw column is
// a SchemaMismatchError.
func (p *Pipeline) TransformOne(rec map[string]any) ([]float64, error) {
	if !p.fitted {
		return nil, &domain.ConfigurationError{Reason: "pipeline is not fitted"}
	}

	var missing []string
	for _, spec := range p.rawSchema {
		if _, ok := rec[spec.Name]; !ok {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.SchemaMismatchError{
			Reason:  "record is missing required fields",
			Missing: missing,
		}
	}

	row, err := frame.FromRecord(rec, p.rawSchema)
	if err != nil {
		return nil, err
	}

	mat, err := p.Features(row)
	if err != nil {
		return nil, err
	}
	return mat[0], nil
}

// FeatureNames returns the frozen model feature columns in order.
func (p *Pipeline) FeatureNames() []string {
	return append([]string(nil), p.featureNames...)
}

// RawSchema returns the fitted raw input schema.
func (p *Pipeline) RawSchema() []frame.ColumnSpec {
	return append([]frame.ColumnSpec(nil), p.rawSchema...)
}

// Fitted reports whether Fit has run.
func (p *Pipeline) Fitted() bool { return p.fitted }

// checkColumns verifies a transformed table reproduces the frozen feature
// set and order.
func (p *Pipeline) checkColumns(f *frame.Frame) error {
	got := modelColumns(f)

	if len(got) == len(p.featureNames) {
		match := true
		for i := range got {
			if got[i] != p.featureNames[i] {
				match = false
				break
			}
		}
		if match {
			return nil
		}
	}

	want := make(map[string]bool, len(p.featureNames))
	for _, name := range p.featureNames {
		want[name] = true
	}
	have := make(map[string]bool, len(got))
	for _, name := range got {
		have[name] = true
	}

	var missing, unexpected []string
	for _, name := range p.featureNames {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	for _, name := range got {
		if !want[name] {
			unexpected = append(unexpected, name)
		}
	}

	reason := "transformed columns do not match fitted feature set"
	if len(missing) == 0 && len(unexpected) == 0 {
		reason = "transformed columns are out of order"
	}
	return &domain.SchemaMismatchError{
		Reason:     reason,
		Missing:    missing,
		Unexpected: unexpected,
	}
}

// modelColumns selects the model feature columns of a transformed table:
// numeric columns in frame order, excluding lineage identifiers. String
// leftovers are excluded the same way training drops them.
func modelColumns(f *frame.Frame) []string {
	var out []string
	var dropped []string
	for _, name := range f.Columns() {
		if lineageColumns[name] {
			continue
		}
		if f.Col(name).Kind() != frame.Numeric {
			dropped = append(dropped, name)
			continue
		}
		out = append(out, name)
	}
	if len(dropped) > 0 {
		slog.Debug("non-numeric columns excluded from feature set", "columns", dropped)
	}
	return out
}

// PipelineState is the serialized fitted state of a pipeline.
type PipelineState struct {
	Version      string                     `json:"version"`
	RawSchema    []frame.ColumnSpec         `json:"rawSchema"`
	FeatureNames []string                   `json:"featureNames"`
	Stages       map[string]json.RawMessage `json:"stages"`
}

// State captures the fitted state of every stage for persistence.
func (p *Pipeline) State() (*PipelineState, error) {
	if !p.fitted {
		return nil, &domain.ConfigurationError{Reason: "pipeline is not fitted"}
	}

	stages := make(map[string]json.RawMessage, len(p.stages))
	for _, stage := range p.stages {
		st, err := stage.State()
		if err != nil {
			return nil, fmt.Errorf("failed to capture state of stage %q: %w", stage.Name(), err)
		}
		if st != nil {
			stages[stage.Name()] = st
		}
	}

	return &PipelineState{
		Version:      Version,
		RawSchema:    p.rawSchema,
		FeatureNames: append([]string(nil), p.featureNames...),
		Stages:       stages,
	}, nil
}

// Restore rebuilds a fitted pipeline from persisted state. The state must
// have been produced by the same pipeline version.
func (p *Pipeline) Restore(st *PipelineState) error {
	if st.Version != Version {
		return &domain.ConfigurationError{
			Reason: fmt.Sprintf("bundle pipeline version %q is incompatible with %q", st.Version, Version),
		}
	}

	for _, stage := range p.stages {
		raw, ok := st.Stages[stage.Name()]
		if !ok {
			continue
		}
		if err := stage.Restore(raw); err != nil {
			return fmt.Errorf("failed to restore stage %q: %w", stage.Name(), err)
		}
	}

	p.rawSchema = st.RawSchema
	p.featureNames = append([]string(nil), st.FeatureNames...)
	p.fitted = true
	return nil
}
