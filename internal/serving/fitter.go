package serving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/bundle"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/label"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Fitter runs the training side: fit the pipeline on the stored transaction
// table, persist the bundle, run the labeling engine and persist the labels.
type Fitter struct {
	repo    domain.Repository
	bundles *bundle.Store
}

// NewFitter creates the training orchestrator.
func NewFitter(repo domain.Repository) *Fitter {
	return &Fitter{
		repo:    repo,
		bundles: bundle.NewStore(repo),
	}
}

// FitResult summarizes one fit-and-label run.
type FitResult struct {
	Bundle    *bundle.Bundle `json:"bundle"`
	Customers int            `json:"customers"`
	HighRisk  int            `json:"highRisk"`
	Segments  []float64      `json:"segmentScores"`
	Labels    []*domain.RiskLabel
}

// Fit fits a fresh pipeline and labels the customer population in one run.
// The bundle is persisted before labels so a labeled customer always
// references an existing bundle version.
func (f *Fitter) Fit(ctx context.Context, tenantID string, params label.Params) (*FitResult, error) {
	engine, err := label.NewEngine(params)
	if err != nil {
		return nil, err
	}

	txs, err := f.repo.ListTransactions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	if len(txs) == 0 {
		return nil, &domain.InsufficientDataError{Needed: 1, Got: 0}
	}

	pipeline := features.Default()
	if err := pipeline.Fit(features.TableFromTransactions(txs)); err != nil {
		return nil, fmt.Errorf("failed to fit pipeline: %w", err)
	}

	b, err := bundle.New(tenantID, pipeline, params.SnapshotDate, params.Seed, params.ScoreExpr)
	if err != nil {
		return nil, err
	}
	if err := f.bundles.Save(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to persist bundle: %w", err)
	}

	result, err := engine.Run(tenantID, b.Version, txs)
	if err != nil {
		return nil, err
	}
	if err := f.repo.SaveRiskLabels(ctx, tenantID, result.Labels); err != nil {
		return nil, fmt.Errorf("failed to persist labels: %w", err)
	}

	highRisk := 0
	for _, l := range result.Labels {
		if l.HighRisk {
			highRisk++
		}
	}

	slog.Info("fit run persisted",
		"tenant_id", tenantID,
		"bundle_version", b.Version,
		"transactions", len(txs),
		"customers", len(result.Labels),
		"high_risk", highRisk,
	)

	return &FitResult{
		Bundle:    b,
		Customers: len(result.Labels),
		HighRisk:  highRisk,
		Segments:  result.Scores,
		Labels:    result.Labels,
	}, nil
}

// DatasetRow is one transaction's feature vector joined with its customer's
// label.
type DatasetRow struct {
	TransactionID string    `json:"transactionId"`
	CustomerID    string    `json:"customerId"`
	Features      []float64 `json:"features"`
	HighRisk      bool      `json:"highRisk"`
}

// Dataset holds the supervised training table: pipeline features plus the
// proxy target from the latest labeling run.
type Dataset struct {
	BundleVersion string       `json:"bundleVersion"`
	FeatureNames  []string     `json:"featureNames"`
	Rows          []DatasetRow `json:"rows"`
}

// BuildDataset transforms the stored transaction table with the latest
// bundle's pipeline and joins each row with its customer's risk label.
// Transactions whose customer was never labeled are skipped.
func (f *Fitter) BuildDataset(ctx context.Context, tenantID string) (*Dataset, error) {
	b, err := f.bundles.Latest(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	pipeline, err := b.BuildPipeline()
	if err != nil {
		return nil, err
	}

	txs, err := f.repo.ListTransactions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	labels, err := f.repo.ListRiskLabels(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}
	byCustomer := make(map[string]*domain.RiskLabel, len(labels))
	for _, l := range labels {
		byCustomer[l.CustomerID] = l
	}

	matrix, err := pipeline.Features(features.TableFromTransactions(txs))
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		BundleVersion: b.Version,
		FeatureNames:  pipeline.FeatureNames(),
	}
	unlabeled := 0
	for i, tx := range txs {
		l, ok := byCustomer[tx.CustomerID]
		if !ok {
			unlabeled++
			continue
		}
		ds.Rows = append(ds.Rows, DatasetRow{
			TransactionID: tx.ID,
			CustomerID:    tx.CustomerID,
			Features:      matrix[i],
			HighRisk:      l.HighRisk,
		})
	}

	if unlabeled > 0 {
		slog.Debug("transactions without labeled customers skipped in dataset",
			"rows", unlabeled,
		)
	}

	return ds, nil
}

// Profile recomputes a customer's behavioral aggregates from the stored
// transaction table and joins the latest risk label when one exists.
func (f *Fitter) Profile(ctx context.Context, tenantID, customerID string) (*domain.CustomerProfile, error) {
	txs, err := f.repo.GetTransactionsByCustomer(ctx, tenantID, customerID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load customer transactions: %w", err)
	}
	if len(txs) == 0 {
		return nil, repository.ErrNotFound
	}

	amounts := make([]float64, len(txs))
	for i, tx := range txs {
		amounts[i] = tx.Amount
	}

	profile := &domain.CustomerProfile{
		CustomerID:       customerID,
		TotalAmount:      floats.Sum(amounts),
		AverageAmount:    stat.Mean(amounts, nil),
		TransactionCount: int64(len(txs)),
	}
	if len(amounts) > 1 {
		profile.AmountStd = stat.PopStdDev(amounts, nil)
	}

	lbl, err := f.repo.GetRiskLabel(ctx, tenantID, customerID)
	switch {
	case err == nil:
		profile.Labeled = true
		profile.HighRisk = lbl.HighRisk
	case errors.Is(err, repository.ErrNotFound):
		// Customer has transactions but no labeling run has covered them yet.
	default:
		return nil, fmt.Errorf("failed to load risk label: %w", err)
	}

	return profile, nil
}

// Bundles exposes the bundle store for handlers that load serving state.
func (f *Fitter) Bundles() *bundle.Store { return f.bundles }
