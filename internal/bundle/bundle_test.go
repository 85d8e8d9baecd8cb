package bundle

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func fitPipeline(t *testing.T) (*features.Pipeline, []*domain.Transaction) {
	t.Helper()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	var txs []*domain.Transaction
	for i, spec := range []struct {
		customer, provider, category, currency string
		amount                                 float64
	}{
		{"c1", "p1", "airtime", "UGX", 100},
		{"c1", "p2", "financial", "UGX", 200},
		{"c2", "p1", "airtime", "USD", 50},
		{"c2", "p2", "utility", "UGX", 75},
	} {
		txs = append(txs, &domain.Transaction{
			ID:              "t" + string(rune('1'+i)),
			CustomerID:      spec.customer,
			AccountID:       "a",
			BatchID:         "b",
			SubscriptionID:  "s",
			Amount:          spec.amount,
			Value:           spec.amount,
			CurrencyCode:    spec.currency,
			CountryCode:     "256",
			ProviderID:      spec.provider,
			ChannelID:       "ch1",
			ProductID:       "pr1",
			ProductCategory: spec.category,
			PricingStrategy: "2",
			StartedAt:       base.Add(time.Duration(i) * time.Hour),
		})
	}

	p := features.Default()
	if err := p.Fit(features.TableFromTransactions(txs)); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	return p, txs
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-bundle-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewStore(repo)
}

func TestBundle(t *testing.T) {
	p, txs := fitPipeline(t)
	snapshot := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	b, err := New("tenant-a", p, snapshot, 42, domain.DefaultSegmentScoreExpr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if b.Version == "" {
		t.Fatal("bundle should get a version")
	}

	t.Run("SaveAndLoadLatest", func(t *testing.T) {
		store := newTestStore(t)
		ctx := context.Background()

		if err := store.Save(ctx, b); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		loaded, err := store.Latest(ctx, "tenant-a")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if loaded.Version != b.Version {
			t.Errorf("version = %q, want %q", loaded.Version, b.Version)
		}
		if loaded.Seed != 42 || !loaded.SnapshotDate.Equal(snapshot) {
			t.Errorf("metadata = seed %d snapshot %v", loaded.Seed, loaded.SnapshotDate)
		}

		restored, err := loaded.BuildPipeline()
		if err != nil {
			t.Fatalf("BuildPipeline failed: %v", err)
		}

		want, err := p.TransformOne(features.Record(txs[0]))
		if err != nil {
			t.Fatalf("TransformOne failed: %v", err)
		}
		got, err := restored.TransformOne(features.Record(txs[0]))
		if err != nil {
			t.Fatalf("restored TransformOne failed: %v", err)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("feature %d = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("WrongArtifactKind", func(t *testing.T) {
		_, err := Decode(&domain.Artifact{Kind: domain.ArtifactClassifier})
		var cfg *domain.ConfigurationError
		if !errors.As(err, &cfg) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	})

	t.Run("IncompatiblePipelineVersion", func(t *testing.T) {
		_, err := Decode(&domain.Artifact{
			Kind:    domain.ArtifactPipelineBundle,
			Payload: []byte(`{"version":"x","pipeline":{"version":"999"}}`),
		})
		var cfg *domain.ConfigurationError
		if !errors.As(err, &cfg) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	})

	t.Run("UnfittedPipelineRejected", func(t *testing.T) {
		_, err := New("tenant-a", features.Default(), snapshot, 42, "")
		var cfg *domain.ConfigurationError
		if !errors.As(err, &cfg) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	})
}
