package serving

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/label"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const tenantID = "tenant-a"

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-serving-*.db")
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

	return repo
}

func seedTransactions(t *testing.T, repo domain.Repository) []*domain.Transaction {
	t.Helper()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var txs []*domain.Transaction
	specs := []struct {
		id, customer, provider, category, currency string
		amount                                     float64
		offset                                     time.Duration
	}{
		{"t1", "c1", "p1", "airtime", "UGX", 500, 0},
		{"t2", "c1", "p2", "financial", "UGX", 700, 24 * time.Hour},
		{"t3", "c1", "p1", "airtime", "UGX", 300, 90 * 24 * time.Hour},
		{"t4", "c2", "p1", "airtime", "USD", 50, 12 * time.Hour},
		{"t5", "c2", "p2", "utility", "UGX", 80, 45 * 24 * time.Hour},
		{"t6", "c3", "p1", "airtime", "UGX", 5, 0},
		{"t7", "c4", "p2", "financial", "USD", 2000, 89 * 24 * time.Hour},
		{"t8", "c4", "p1", "utility", "UGX", 1500, 90 * 24 * time.Hour},
	}
	for _, s := range specs {
		txs = append(txs, &domain.Transaction{
			ID:              s.id,
			CustomerID:      s.customer,
			AccountID:       "acc-" + s.customer,
			BatchID:         "batch-1",
			SubscriptionID:  "sub-1",
			Amount:          s.amount,
			Value:           s.amount,
			CurrencyCode:    s.currency,
			CountryCode:     "256",
			ProviderID:      s.provider,
			ChannelID:       "ch1",
			ProductID:       "pr1",
			ProductCategory: s.category,
			PricingStrategy: "2",
			StartedAt:       base.Add(s.offset),
		})
	}

	if err := repo.SaveTransactions(context.Background(), tenantID, txs); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}
	return txs
}

var runParams = label.Params{
	SnapshotDate: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	Seed:         42,
}

func TestFitter(t *testing.T) {
	repo := newTestRepo(t)
	txs := seedTransactions(t, repo)
	fitter := NewFitter(repo)
	ctx := context.Background()

	res, err := fitter.Fit(ctx, tenantID, runParams)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	t.Run("LabelsPersisted", func(t *testing.T) {
		labels, err := repo.ListRiskLabels(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRiskLabels failed: %v", err)
		}
		if len(labels) != 4 {
			t.Fatalf("expected 4 labels, got %d", len(labels))
		}
		for _, l := range labels {
			if l.BundleVersion != res.Bundle.Version {
				t.Errorf("label %s references bundle %q, want %q",
					l.CustomerID, l.BundleVersion, res.Bundle.Version)
			}
		}
	})

	t.Run("BundlePersisted", func(t *testing.T) {
		loaded, err := fitter.Bundles().Latest(ctx, tenantID)
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if loaded.Version != res.Bundle.Version {
			t.Errorf("latest bundle = %q, want %q", loaded.Version, res.Bundle.Version)
		}
	})

	t.Run("Dataset", func(t *testing.T) {
		ds, err := fitter.BuildDataset(ctx, tenantID)
		if err != nil {
			t.Fatalf("BuildDataset failed: %v", err)
		}
		if ds.BundleVersion != res.Bundle.Version {
			t.Errorf("dataset bundle = %q, want %q", ds.BundleVersion, res.Bundle.Version)
		}
		if len(ds.Rows) != len(txs) {
			t.Fatalf("expected %d rows, got %d", len(txs), len(ds.Rows))
		}
		for _, row := range ds.Rows {
			if len(row.Features) != len(ds.FeatureNames) {
				t.Fatalf("row %s has %d features, want %d",
					row.TransactionID, len(row.Features), len(ds.FeatureNames))
			}
		}
	})

	t.Run("EmptyTenant", func(t *testing.T) {
		_, err := fitter.Fit(ctx, "tenant-empty", runParams)
		var insufficient *domain.InsufficientDataError
		if !errors.As(err, &insufficient) {
			t.Fatalf("expected InsufficientDataError, got %v", err)
		}
	})

	t.Run("SeedRequired", func(t *testing.T) {
		_, err := fitter.Fit(ctx, tenantID, label.Params{SnapshotDate: runParams.SnapshotDate})
		var cfg *domain.ConfigurationError
		if !errors.As(err, &cfg) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	})
}

func TestFitterProfile(t *testing.T) {
	repo := newTestRepo(t)
	fitter := NewFitter(repo)
	ctx := context.Background()

	// One dated transaction and one whose ingest timestamp was
	// unparseable; the profile must count both.
	txs := []*domain.Transaction{
		{
			ID: "p1", CustomerID: "c5", AccountID: "acc-c5", BatchID: "batch-1",
			SubscriptionID: "sub-1", Amount: 400, Value: 400, CurrencyCode: "UGX",
			CountryCode: "256", ProviderID: "p1", ChannelID: "ch1", ProductID: "pr1",
			ProductCategory: "airtime", PricingStrategy: "2",
			StartedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			ID: "p2", CustomerID: "c5", AccountID: "acc-c5", BatchID: "batch-1",
			SubscriptionID: "sub-1", Amount: 600, Value: 600, CurrencyCode: "UGX",
			CountryCode: "256", ProviderID: "p1", ChannelID: "ch1", ProductID: "pr1",
			ProductCategory: "airtime", PricingStrategy: "2",
		},
	}
	if err := repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}

	profile, err := fitter.Profile(ctx, tenantID, "c5")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.TransactionCount != 2 {
		t.Errorf("TransactionCount = %d, want 2", profile.TransactionCount)
	}
	if profile.TotalAmount != 1000 {
		t.Errorf("TotalAmount = %.2f, want 1000", profile.TotalAmount)
	}
	if profile.AverageAmount != 500 {
		t.Errorf("AverageAmount = %.2f, want 500", profile.AverageAmount)
	}

	t.Run("UnknownCustomer", func(t *testing.T) {
		_, err := fitter.Profile(ctx, tenantID, "nobody")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestService(t *testing.T) {
	repo := newTestRepo(t)
	txs := seedTransactions(t, repo)
	fitter := NewFitter(repo)
	ctx := context.Background()

	res, err := fitter.Fit(ctx, tenantID, runParams)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	n := len(res.Bundle.Pipeline.FeatureNames)
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 0.1
	}
	clf := model.NewLogistic(weights, -0.2)

	svc, err := NewService(res.Bundle, clf)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	t.Run("ScoreTransaction", func(t *testing.T) {
		scored, err := svc.ScoreTransaction(txs[0])
		if err != nil {
			t.Fatalf("ScoreTransaction failed: %v", err)
		}
		if scored.Probability < 0 || scored.Probability > 1 {
			t.Errorf("probability = %v, want [0, 1]", scored.Probability)
		}
		if scored.BundleVersion != res.Bundle.Version {
			t.Errorf("bundle version = %q, want %q", scored.BundleVersion, res.Bundle.Version)
		}
		if scored.HighRisk != (scored.Probability >= HighRiskThreshold) {
			t.Error("high risk flag does not match threshold")
		}
	})

	t.Run("IncludeFeatures", func(t *testing.T) {
		scored, err := svc.ScoreOne(features.Record(txs[1]), true)
		if err != nil {
			t.Fatalf("ScoreOne failed: %v", err)
		}
		if len(scored.Features) != n {
			t.Errorf("got %d features, want %d", len(scored.Features), n)
		}
	})

	t.Run("IncompleteRecord", func(t *testing.T) {
		rec := features.Record(txs[0])
		delete(rec, "amount")
		_, err := svc.ScoreOne(rec, false)
		var sm *domain.SchemaMismatchError
		if !errors.As(err, &sm) {
			t.Fatalf("expected SchemaMismatchError, got %v", err)
		}
	})

	t.Run("ClassifierShapeChecked", func(t *testing.T) {
		_, err := NewService(res.Bundle, model.NewLogistic([]float64{1, 2}, 0))
		var cfg *domain.ConfigurationError
		if !errors.As(err, &cfg) {
			t.Fatalf("expected ConfigurationError, got %v", err)
		}
	})
}
