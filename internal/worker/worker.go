// Package worker provides async labeling runs for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/label"
	"github.com/opensource-finance/kestrel/internal/serving"
)

// Worker consumes labeling requests from the EventBus and runs them
// through the fitter. Delivery on both bus implementations is keyed by
// tenant, so the worker holds one subscription per tenant: either from
// the tenant list given to Start, or created lazily by EnsureTenant when
// the first labeling request for a tenant arrives.
type Worker struct {
	bus    domain.EventBus
	fitter *serving.Fitter

	mu      sync.Mutex
	tenants map[string]domain.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs to subscribe at startup. An empty list is allowed; tenants
	// are then subscribed on their first labeling request.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, fitter *serving.Fitter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		fitter:  fitter,
		tenants: make(map[string]domain.Subscription),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes the configured tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		slog.Warn("worker started with no tenant list; subscribing lazily on first labeling request")
		return nil
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.EnsureTenant(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// EnsureTenant subscribes the worker to a tenant's labeling requests.
// Safe to call on every request; tenants already covered are a no-op.
func (w *Worker) EnsureTenant(tenantID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tenants[tenantID]; ok {
		return nil
	}

	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicLabelsRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.tenants[tenantID] = sub

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicLabelsRequested,
	)

	return nil
}

// LabelRequest is the message payload for a labeling run.
type LabelRequest struct {
	TenantID     string `json:"tenantId"`
	TraceID      string `json:"traceId,omitempty"`
	SnapshotDate string `json:"snapshotDate"`
	Seed         int64  `json:"seed"`
	Clusters     int    `json:"clusters,omitempty"`
	ScoreExpr    string `json:"scoreExpr,omitempty"`
}

// LabelCompleted is published when a labeling run finishes.
type LabelCompleted struct {
	TenantID      string    `json:"tenantId"`
	TraceID       string    `json:"traceId,omitempty"`
	BundleVersion string    `json:"bundleVersion"`
	Customers     int       `json:"customers"`
	HighRisk      int       `json:"highRisk"`
	SegmentScores []float64 `json:"segmentScores"`
	DurationMs    int64     `json:"durationMs"`
}

// HighRiskAlert is published per flagged customer after a labeling run.
type HighRiskAlert struct {
	TenantID      string  `json:"tenantId"`
	CustomerID    string  `json:"customerId"`
	Segment       int     `json:"segment"`
	SegmentScore  float64 `json:"segmentScore"`
	BundleVersion string  `json:"bundleVersion"`
}

// processRequest runs a labeling request through the fitter.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var req LabelRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse label request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if req.TenantID != "" {
		tenantID = req.TenantID
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	snapshot, err := domain.ParseTimestamp(req.SnapshotDate)
	if err != nil {
		slog.Error("invalid snapshot date in label request",
			"tenant_id", tenantID,
			"snapshot_date", req.SnapshotDate,
			"error", err,
		)
		return &domain.ConfigurationError{Reason: "invalid snapshot date: " + req.SnapshotDate}
	}

	slog.Debug("processing label request",
		"tenant_id", tenantID,
		"trace_id", traceID,
		"snapshot_date", req.SnapshotDate,
	)

	params := label.Params{
		SnapshotDate: snapshot,
		Seed:         req.Seed,
		Clusters:     req.Clusters,
		ScoreExpr:    req.ScoreExpr,
	}

	result, err := w.fitter.Fit(ctx, tenantID, params)
	if err != nil {
		slog.Error("labeling run failed",
			"tenant_id", tenantID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	completed := LabelCompleted{
		TenantID:      tenantID,
		TraceID:       traceID,
		BundleVersion: result.Bundle.Version,
		Customers:     result.Customers,
		HighRisk:      result.HighRisk,
		SegmentScores: result.Segments,
		DurationMs:    time.Since(start).Milliseconds(),
	}
	payload, _ := json.Marshal(completed)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicLabelsCompleted, payload); err != nil {
		slog.Error("failed to publish completion",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	for _, lbl := range result.Labels {
		if !lbl.HighRisk {
			continue
		}
		alert := HighRiskAlert{
			TenantID:      tenantID,
			CustomerID:    lbl.CustomerID,
			Segment:       lbl.Segment,
			SegmentScore:  lbl.SegmentScore,
			BundleVersion: lbl.BundleVersion,
		}
		alertPayload, _ := json.Marshal(alert)
		if err := w.bus.Publish(ctx, tenantID, domain.TopicHighRiskAlert, alertPayload); err != nil {
			slog.Error("failed to publish alert",
				"tenant_id", tenantID,
				"customer_id", lbl.CustomerID,
				"error", err,
			)
		}
	}

	slog.Info("labeling run processed",
		"tenant_id", tenantID,
		"trace_id", traceID,
		"bundle_version", result.Bundle.Version,
		"customers", result.Customers,
		"high_risk", result.HighRisk,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for tenantID, sub := range w.tenants {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"tenant_id", tenantID,
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.tenants = make(map[string]domain.Subscription)

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, 0, len(w.tenants))
	for _, sub := range w.tenants {
		topics = append(topics, sub.Topic())
	}
	return Stats{
		SubscriptionCount: len(w.tenants),
		Topics:            topics,
	}
}
