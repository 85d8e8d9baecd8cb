package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func sampleTx(id, customer string, amount float64, startedAt time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:              id,
		CustomerID:      customer,
		AccountID:       "acc-" + customer,
		BatchID:         "batch-1",
		SubscriptionID:  "sub-1",
		Amount:          amount,
		Value:           amount,
		CurrencyCode:    "UGX",
		CountryCode:     "256",
		ProviderID:      "p1",
		ChannelID:       "ch1",
		ProductID:       "pr1",
		ProductCategory: "airtime",
		PricingStrategy: "2",
		StartedAt:       startedAt,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := sampleTx("tx-001", "cust-001", 1000, time.Now().UTC())

		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
		if retrieved.ProductCategory != "airtime" {
			t.Errorf("expected ProductCategory airtime, got %s", retrieved.ProductCategory)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "tenant-002", "tx-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})

	t.Run("MissingTenantRejected", func(t *testing.T) {
		if err := repo.SaveTransaction(ctx, "", sampleTx("tx-x", "c", 1, time.Now())); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("BatchInsertAndList", func(t *testing.T) {
		base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		batch := []*domain.Transaction{
			sampleTx("tx-b1", "cust-002", 50, base),
			sampleTx("tx-b2", "cust-002", 75, base.Add(time.Hour)),
			sampleTx("tx-b3", "cust-003", 20, base.Add(2*time.Hour)),
		}
		if err := repo.SaveTransactions(ctx, tenantID, batch); err != nil {
			t.Fatalf("SaveTransactions failed: %v", err)
		}

		all, err := repo.ListTransactions(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(all) != 4 {
			t.Errorf("expected 4 transactions, got %d", len(all))
		}
	})

	t.Run("GetTransactionsByCustomer", func(t *testing.T) {
		txs, err := repo.GetTransactionsByCustomer(ctx, tenantID, "cust-002", time.Time{})
		if err != nil {
			t.Fatalf("GetTransactionsByCustomer failed: %v", err)
		}
		if len(txs) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(txs))
		}
		// Newest first.
		if !txs[0].StartedAt.After(txs[1].StartedAt) {
			t.Error("expected newest-first ordering")
		}
	})

	t.Run("UnfilteredFetchKeepsNullStartedAt", func(t *testing.T) {
		base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
		batch := []*domain.Transaction{
			sampleTx("tx-n1", "cust-005", 100, base),
			sampleTx("tx-n2", "cust-005", 200, time.Time{}),
		}
		if err := repo.SaveTransactions(ctx, tenantID, batch); err != nil {
			t.Fatalf("SaveTransactions failed: %v", err)
		}

		txs, err := repo.GetTransactionsByCustomer(ctx, tenantID, "cust-005", time.Time{})
		if err != nil {
			t.Fatalf("GetTransactionsByCustomer failed: %v", err)
		}
		if len(txs) != 2 {
			t.Fatalf("expected both rows without a time filter, got %d", len(txs))
		}

		// An explicit since still excludes rows with no start time.
		filtered, err := repo.GetTransactionsByCustomer(ctx, tenantID, "cust-005", base.Add(-time.Hour))
		if err != nil {
			t.Fatalf("GetTransactionsByCustomer failed: %v", err)
		}
		if len(filtered) != 1 || filtered[0].ID != "tx-n1" {
			t.Errorf("expected only the dated row under a since filter, got %d rows", len(filtered))
		}
	})

	t.Run("NullStartedAtRoundTrip", func(t *testing.T) {
		tx := sampleTx("tx-null", "cust-004", 9, time.Time{})
		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
		retrieved, err := repo.GetTransaction(ctx, tenantID, "tx-null")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if !retrieved.StartedAt.IsZero() {
			t.Errorf("expected zero StartedAt, got %v", retrieved.StartedAt)
		}
	})
}

func TestArtifacts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("NotFoundWhenEmpty", func(t *testing.T) {
		_, err := repo.GetLatestArtifact(ctx, tenantID, domain.ArtifactPipelineBundle)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("LatestWins", func(t *testing.T) {
		older := &domain.Artifact{
			ID: "art-1", Kind: domain.ArtifactPipelineBundle, Version: "v1",
			Payload:   []byte(`{"n":1}`),
			CreatedAt: time.Now().UTC().Add(-time.Hour),
		}
		newer := &domain.Artifact{
			ID: "art-2", Kind: domain.ArtifactPipelineBundle, Version: "v2",
			Payload:   []byte(`{"n":2}`),
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.SaveArtifact(ctx, tenantID, older); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}
		if err := repo.SaveArtifact(ctx, tenantID, newer); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}

		got, err := repo.GetLatestArtifact(ctx, tenantID, domain.ArtifactPipelineBundle)
		if err != nil {
			t.Fatalf("GetLatestArtifact failed: %v", err)
		}
		if got.Version != "v2" {
			t.Errorf("expected v2, got %s", got.Version)
		}
	})

	t.Run("KindsAreSeparate", func(t *testing.T) {
		clf := &domain.Artifact{
			ID: "art-3", Kind: domain.ArtifactClassifier, Version: "c1",
			Payload:   []byte(`{"weights":[1]}`),
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.SaveArtifact(ctx, tenantID, clf); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}

		got, err := repo.GetLatestArtifact(ctx, tenantID, domain.ArtifactClassifier)
		if err != nil {
			t.Fatalf("GetLatestArtifact failed: %v", err)
		}
		if got.Version != "c1" {
			t.Errorf("expected c1, got %s", got.Version)
		}
	})
}

func TestRiskLabels(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	labels := []*domain.RiskLabel{
		{CustomerID: "cust-001", HighRisk: true, Segment: 2, SegmentScore: 1.8, BundleVersion: "b1", CreatedAt: time.Now().UTC()},
		{CustomerID: "cust-002", HighRisk: false, Segment: 0, SegmentScore: -0.4, BundleVersion: "b1", CreatedAt: time.Now().UTC()},
	}

	t.Run("SaveAndGet", func(t *testing.T) {
		if err := repo.SaveRiskLabels(ctx, tenantID, labels); err != nil {
			t.Fatalf("SaveRiskLabels failed: %v", err)
		}

		got, err := repo.GetRiskLabel(ctx, tenantID, "cust-001")
		if err != nil {
			t.Fatalf("GetRiskLabel failed: %v", err)
		}
		if !got.HighRisk || got.Segment != 2 {
			t.Errorf("label = %+v, want high risk segment 2", got)
		}
	})

	t.Run("UpsertReplacesOldRun", func(t *testing.T) {
		rerun := []*domain.RiskLabel{
			{CustomerID: "cust-001", HighRisk: false, Segment: 1, SegmentScore: 0.1, BundleVersion: "b2", CreatedAt: time.Now().UTC()},
		}
		if err := repo.SaveRiskLabels(ctx, tenantID, rerun); err != nil {
			t.Fatalf("SaveRiskLabels failed: %v", err)
		}

		got, err := repo.GetRiskLabel(ctx, tenantID, "cust-001")
		if err != nil {
			t.Fatalf("GetRiskLabel failed: %v", err)
		}
		if got.HighRisk || got.BundleVersion != "b2" {
			t.Errorf("label = %+v, want relabeled by b2", got)
		}
	})

	t.Run("List", func(t *testing.T) {
		all, err := repo.ListRiskLabels(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRiskLabels failed: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 labels, got %d", len(all))
		}
		if all[0].CustomerID != "cust-001" {
			t.Errorf("expected customer ordering, got %s first", all[0].CustomerID)
		}
	})

	t.Run("UnknownCustomer", func(t *testing.T) {
		_, err := repo.GetRiskLabel(ctx, tenantID, "cust-999")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
