package model

import (
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLogistic(t *testing.T) {
	clf := NewLogistic([]float64{1.0, -2.0}, 0.5)

	t.Run("Sigmoid", func(t *testing.T) {
		// z = 0.5 + 1*1 - 2*1 = -0.5
		got, err := clf.PredictProba([]float64{1, 1})
		if err != nil {
			t.Fatalf("PredictProba failed: %v", err)
		}
		want := 1 / (1 + math.Exp(0.5))
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("proba = %v, want %v", got, want)
		}
	})

	t.Run("ZeroVector", func(t *testing.T) {
		got, err := clf.PredictProba([]float64{0, 0})
		if err != nil {
			t.Fatalf("PredictProba failed: %v", err)
		}
		want := 1 / (1 + math.Exp(-0.5))
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("proba = %v, want %v", got, want)
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		_, err := clf.PredictProba([]float64{1})
		var sm *domain.SchemaMismatchError
		if !errors.As(err, &sm) {
			t.Fatalf("expected SchemaMismatchError, got %v", err)
		}
	})

	t.Run("ArtifactRoundTrip", func(t *testing.T) {
		payload, err := clf.Payload()
		if err != nil {
			t.Fatalf("Payload failed: %v", err)
		}
		loaded, err := LoadLogistic(&domain.Artifact{
			Kind:    domain.ArtifactClassifier,
			Payload: payload,
		})
		if err != nil {
			t.Fatalf("LoadLogistic failed: %v", err)
		}
		if loaded.NumFeatures() != 2 || loaded.Intercept != 0.5 {
			t.Errorf("loaded = %+v", loaded)
		}
	})

	t.Run("WrongArtifactKind", func(t *testing.T) {
		_, err := LoadLogistic(&domain.Artifact{Kind: domain.ArtifactPipelineBundle})
		var cfg *domain.ConfigurationError
		if !errors.As(err, &cfg) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	})

	t.Run("EmptyWeights", func(t *testing.T) {
		_, err := LoadLogistic(&domain.Artifact{
			Kind:    domain.ArtifactClassifier,
			Payload: []byte(`{"weights":[],"intercept":0}`),
		})
		var cfg *domain.ConfigurationError
		if !errors.As(err, &cfg) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	})
}
