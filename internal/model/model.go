// Package model defines the inference-side classifier contract and the
// logistic regression implementation loaded from persisted coefficients.
package model

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Classifier scores a feature vector with a fitted model. Implementations
// are read-only after construction and safe for concurrent use.
type Classifier interface {
	// PredictProba returns the high-risk probability in [0, 1].
	PredictProba(features []float64) (float64, error)

	// NumFeatures returns the expected feature vector length.
	NumFeatures() int

	Name() string
}

// Logistic is a logistic regression classifier over pipeline feature
// vectors. Coefficients are trained offline and loaded from a persisted
// artifact.
type Logistic struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	Model     string    `json:"model"`
}

// NewLogistic creates a classifier from trained coefficients.
func NewLogistic(weights []float64, intercept float64) *Logistic {
	return &Logistic{
		Weights:   append([]float64(nil), weights...),
		Intercept: intercept,
		Model:     "logistic_regression",
	}
}

// LoadLogistic decodes a classifier from an artifact payload.
func LoadLogistic(artifact *domain.Artifact) (*Logistic, error) {
	if artifact.Kind != domain.ArtifactClassifier {
		return nil, &domain.ConfigurationError{
			Reason: fmt.Sprintf("artifact kind %q is not a classifier", artifact.Kind),
		}
	}
	var clf Logistic
	if err := json.Unmarshal(artifact.Payload, &clf); err != nil {
		return nil, fmt.Errorf("failed to decode classifier artifact: %w", err)
	}
	if len(clf.Weights) == 0 {
		return nil, &domain.ConfigurationError{Reason: "classifier artifact has no weights"}
	}
	return &clf, nil
}

// Payload encodes the classifier for artifact storage.
func (l *Logistic) Payload() ([]byte, error) {
	return json.Marshal(l)
}

// Name implements Classifier.
func (l *Logistic) Name() string { return l.Model }

// NumFeatures implements Classifier.
func (l *Logistic) NumFeatures() int { return len(l.Weights) }

// PredictProba implements Classifier. A vector of the wrong length is a
// SchemaMismatchError: it means the serving pipeline and the classifier
// were fitted against different bundles.
func (l *Logistic) PredictProba(features []float64) (float64, error) {
	if len(features) != len(l.Weights) {
		return 0, &domain.SchemaMismatchError{
			Reason: fmt.Sprintf("classifier expects %d features, got %d",
				len(l.Weights), len(features)),
		}
	}
	z := l.Intercept
	for i, w := range l.Weights {
		z += w * features[i]
	}
	return 1 / (1 + math.Exp(-z)), nil
}
