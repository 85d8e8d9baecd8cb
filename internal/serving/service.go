// Package serving holds the inference-side scoring state and the training
// orchestration that produces it. A Service is immutable after construction;
// replacing the active bundle means building a new Service and swapping the
// pointer.
package serving

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/bundle"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/model"
)

// HighRiskThreshold is the probability cutoff for flagging a score.
const HighRiskThreshold = 0.5

// ScoreResult is one scored record.
type ScoreResult struct {
	Probability   float64   `json:"probability"`
	HighRisk      bool      `json:"highRisk"`
	Features      []float64 `json:"features,omitempty"`
	BundleVersion string    `json:"bundleVersion"`
	Model         string    `json:"model"`
}

// Service scores single records with a restored pipeline and classifier.
type Service struct {
	bundleVersion string
	pipeline      *features.Pipeline
	classifier    model.Classifier
}

// NewService builds a scorer from a bundle and classifier. A classifier
// fitted against a different feature count than the bundle produces is
// rejected up front instead of failing on the first request.
func NewService(b *bundle.Bundle, clf model.Classifier) (*Service, error) {
	pipeline, err := b.BuildPipeline()
	if err != nil {
		return nil, err
	}
	if got, want := clf.NumFeatures(), len(pipeline.FeatureNames()); got != want {
		return nil, &domain.ConfigurationError{
			Reason: fmt.Sprintf("classifier expects %d features, bundle %s produces %d",
				got, b.Version, want),
		}
	}
	return &Service{
		bundleVersion: b.Version,
		pipeline:      pipeline,
		classifier:    clf,
	}, nil
}

// BundleVersion returns the active bundle version.
func (s *Service) BundleVersion() string { return s.bundleVersion }

// FeatureNames returns the model feature columns in order.
func (s *Service) FeatureNames() []string { return s.pipeline.FeatureNames() }

// ScoreOne transforms a raw record and scores it.
func (s *Service) ScoreOne(rec map[string]any, includeFeatures bool) (*ScoreResult, error) {
	vec, err := s.pipeline.TransformOne(rec)
	if err != nil {
		return nil, err
	}
	proba, err := s.classifier.PredictProba(vec)
	if err != nil {
		return nil, err
	}

	res := &ScoreResult{
		Probability:   proba,
		HighRisk:      proba >= HighRiskThreshold,
		BundleVersion: s.bundleVersion,
		Model:         s.classifier.Name(),
	}
	if includeFeatures {
		res.Features = vec
	}
	return res, nil
}

// ScoreTransaction scores a stored transaction.
func (s *Service) ScoreTransaction(tx *domain.Transaction) (*ScoreResult, error) {
	return s.ScoreOne(features.Record(tx), false)
}
