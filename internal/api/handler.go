package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/label"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/serving"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// profileTTL bounds how stale a cached customer profile can get.
const profileTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	cfg     *domain.Config
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	fitter  *serving.Fitter
	worker  *worker.Worker
	version string

	// service is the active scorer. Swapped atomically on model upload,
	// nil until a bundle and classifier have been loaded.
	service atomic.Pointer[serving.Service]
}

// NewHandler creates a new API handler.
func NewHandler(cfg *domain.Config, repo domain.Repository, cache domain.Cache, bus domain.EventBus, fitter *serving.Fitter, wrk *worker.Worker, version string) *Handler {
	return &Handler{
		cfg:     cfg,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		fitter:  fitter,
		worker:  wrk,
		version: version,
	}
}

// SetService installs the active scoring service.
func (h *Handler) SetService(svc *serving.Service) {
	h.service.Store(svc)
}

// Service returns the active scoring service, or nil when none is loaded.
func (h *Handler) Service() *serving.Service {
	return h.service.Load()
}

// TransactionRequest is one transaction in a POST /transactions body.
type TransactionRequest struct {
	TransactionID   string  `json:"transactionid"`
	CustomerID      string  `json:"customerid"`
	AccountID       string  `json:"accountid"`
	BatchID         string  `json:"batchid"`
	SubscriptionID  string  `json:"subscriptionid"`
	Amount          float64 `json:"amount"`
	Value           float64 `json:"value"`
	CurrencyCode    string  `json:"currencycode"`
	CountryCode     string  `json:"countrycode"`
	ProviderID      string  `json:"providerid"`
	ChannelID       string  `json:"channelid"`
	ProductID       string  `json:"productid"`
	ProductCategory string  `json:"productcategory"`
	PricingStrategy string  `json:"pricingstrategy"`
	FraudResult     int     `json:"fraudresult"`
	StartTime       string  `json:"transactionstarttime"`
}

// IngestResponse is the response for POST /transactions.
type IngestResponse struct {
	Ingested  int      `json:"ingested"`
	Customers int      `json:"customers"`
	Warnings  []string `json:"warnings,omitempty"`
}

// IngestTransactions handles POST /transactions. The body is either a
// single transaction object or an array; both paths share one batch insert.
func (h *Handler) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	var reqs []TransactionRequest
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &reqs); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	} else {
		var single TransactionRequest
		if err := json.Unmarshal(raw, &single); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
		reqs = []TransactionRequest{single}
	}

	if len(reqs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one transaction is required",
		})
		return
	}

	var warnings []string
	txs := make([]*domain.Transaction, 0, len(reqs))
	customers := make(map[string]struct{})
	for i, req := range reqs {
		if req.CustomerID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "customerid is required on every transaction",
			})
			return
		}
		id := req.TransactionID
		if id == "" {
			id = uuid.New().String()
		}

		tx := &domain.Transaction{
			ID:              id,
			TenantID:        tenantID,
			CustomerID:      req.CustomerID,
			AccountID:       req.AccountID,
			BatchID:         req.BatchID,
			SubscriptionID:  req.SubscriptionID,
			Amount:          req.Amount,
			Value:           req.Value,
			CurrencyCode:    req.CurrencyCode,
			CountryCode:     req.CountryCode,
			ProviderID:      req.ProviderID,
			ChannelID:       req.ChannelID,
			ProductID:       req.ProductID,
			ProductCategory: req.ProductCategory,
			PricingStrategy: req.PricingStrategy,
			FraudResult:     req.FraudResult,
			CreatedAt:       time.Now().UTC(),
		}
		if req.StartTime != "" {
			ts, err := domain.ParseTimestamp(req.StartTime)
			if err != nil {
				// Unparseable timestamps degrade to missing, the row still lands.
				warnings = append(warnings, (&domain.ParseError{
					Column: "transactionstarttime",
					Value:  req.StartTime,
					Row:    i,
				}).Error())
			} else {
				tx.StartedAt = ts
			}
		}

		txs = append(txs, tx)
		customers[tx.CustomerID] = struct{}{}
	}

	if err := h.repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		slog.Error("failed to save transactions", "error", err, "count", len(txs))
		writeJSON(w, statusFor(err), map[string]string{
			"error": "failed to save transactions",
		})
		return
	}

	// Cached profiles for touched customers are now stale.
	if h.cache != nil {
		for customerID := range customers {
			if err := h.cache.Delete(ctx, tenantID, "profile:"+customerID); err != nil {
				slog.Debug("profile cache invalidation failed",
					"customer_id", customerID,
					"error", err,
				)
			}
		}
		if _, err := h.cache.IncrementCounter(ctx, tenantID, "ingest", time.Minute); err != nil {
			slog.Debug("ingest counter update failed", "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"tenantId":  tenantID,
			"count":     len(txs),
			"customers": len(customers),
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicTransactionIngested, payload); err != nil {
			slog.Error("failed to publish ingest event", "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		Ingested:  len(txs),
		Customers: len(customers),
		Warnings:  warnings,
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	Record          map[string]any `json:"record"`
	IncludeFeatures bool           `json:"includeFeatures,omitempty"`
}

// Score handles POST /score: transform one raw record with the active
// bundle's pipeline and run it through the classifier. Never fits anything.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	svc := h.service.Load()
	if svc == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no model loaded, upload a classifier via POST /model",
		})
		return
	}

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Record) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "record is required",
		})
		return
	}

	result, err := svc.ScoreOne(req.Record, req.IncludeFeatures)
	if err != nil {
		slog.Warn("scoring failed",
			"tenant_id", tenantID,
			"error", err,
		)
		writeJSON(w, statusFor(err), map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// LabelRunRequest is the request body for POST /labels/run.
type LabelRunRequest struct {
	SnapshotDate string `json:"snapshotDate"`
	Seed         int64  `json:"seed"`
	Clusters     int    `json:"clusters,omitempty"`
	ScoreExpr    string `json:"scoreExpr,omitempty"`
}

// RunLabeling handles POST /labels/run. In async mode the run is dispatched
// to the worker over the bus; otherwise it executes inside the request.
func (h *Handler) RunLabeling(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req LabelRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.SnapshotDate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "snapshotDate is required",
		})
		return
	}

	snapshot, err := domain.ParseTimestamp(req.SnapshotDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid snapshotDate: " + req.SnapshotDate,
		})
		return
	}

	if h.cfg.Labeling == domain.LabelingAsync && h.bus != nil && h.worker != nil {
		// Delivery is keyed by tenant, so the worker must hold a
		// subscription for this tenant before the request is published.
		if err := h.worker.EnsureTenant(tenantID); err != nil {
			slog.Error("failed to subscribe worker for tenant", "tenant_id", tenantID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to dispatch labeling run",
			})
			return
		}

		payload, _ := json.Marshal(worker.LabelRequest{
			TenantID:     tenantID,
			TraceID:      traceID,
			SnapshotDate: snapshot.UTC().Format(time.RFC3339),
			Seed:         req.Seed,
			Clusters:     req.Clusters,
			ScoreExpr:    req.ScoreExpr,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicLabelsRequested, payload); err != nil {
			slog.Error("failed to dispatch labeling run", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to dispatch labeling run",
			})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "queued",
			"traceId": traceID,
		})
		return
	}

	result, err := h.fitter.Fit(ctx, tenantID, label.Params{
		SnapshotDate: snapshot,
		Seed:         req.Seed,
		Clusters:     req.Clusters,
		ScoreExpr:    req.ScoreExpr,
	})
	if err != nil {
		slog.Error("labeling run failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, statusFor(err), map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "completed",
		"bundleVersion": result.Bundle.Version,
		"customers":     result.Customers,
		"highRisk":      result.HighRisk,
		"segmentScores": result.Segments,
	})
}

// GetRiskLabel retrieves a customer's risk label.
func (h *Handler) GetRiskLabel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	customerID := chi.URLParam(r, "customerID")

	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer id is required",
		})
		return
	}

	lbl, err := h.repo.GetRiskLabel(ctx, tenantID, customerID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get risk label", "customer_id", customerID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "risk label not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, lbl)
}

// GetCustomerProfile retrieves a customer's behavioral profile, cached
// between labeling runs.
func (h *Handler) GetCustomerProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	customerID := chi.URLParam(r, "customerID")

	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer id is required",
		})
		return
	}

	if h.cache != nil {
		if profile, err := h.cache.GetProfile(ctx, tenantID, customerID); err == nil && profile != nil {
			writeJSON(w, http.StatusOK, profile)
			return
		}
	}

	profile, err := h.fitter.Profile(ctx, tenantID, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "customer not found",
			})
			return
		}
		slog.Error("failed to build customer profile", "customer_id", customerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build customer profile",
		})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetProfile(ctx, tenantID, customerID, profile, profileTTL); err != nil {
			slog.Debug("profile cache write failed", "customer_id", customerID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, profile)
}

// BundleResponse is the active bundle's metadata, without the fitted state.
type BundleResponse struct {
	Version      string    `json:"version"`
	SnapshotDate time.Time `json:"snapshotDate"`
	Seed         int64     `json:"seed"`
	ScoreExpr    string    `json:"scoreExpr"`
	FeatureCount int       `json:"featureCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// GetBundle returns metadata for the tenant's latest fitted bundle.
func (h *Handler) GetBundle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	b, err := h.fitter.Bundles().Latest(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to load bundle", "error", err)
		}
		writeJSON(w, statusFor(err), map[string]string{
			"error": "no fitted bundle available",
		})
		return
	}

	writeJSON(w, http.StatusOK, BundleResponse{
		Version:      b.Version,
		SnapshotDate: b.SnapshotDate,
		Seed:         b.Seed,
		ScoreExpr:    b.ScoreExpr,
		FeatureCount: len(b.Pipeline.FeatureNames),
		CreatedAt:    b.CreatedAt,
	})
}

// GetDataset returns the supervised training table: features from the
// latest bundle's pipeline joined with risk labels.
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	ds, err := h.fitter.BuildDataset(ctx, tenantID)
	if err != nil {
		slog.Error("failed to build dataset", "tenant_id", tenantID, "error", err)
		writeJSON(w, statusFor(err), map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, ds)
}

// UploadModelRequest is the request body for POST /model.
type UploadModelRequest struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// UploadModel handles POST /model: persist logistic coefficients as a
// classifier artifact and swap the active scoring service.
func (h *Handler) UploadModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req UploadModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Weights) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weights are required",
		})
		return
	}

	b, err := h.fitter.Bundles().Latest(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "no fitted bundle, run POST /labels/run first",
			})
			return
		}
		slog.Error("failed to load bundle", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load bundle",
		})
		return
	}

	clf := model.NewLogistic(req.Weights, req.Intercept)
	svc, err := serving.NewService(b, clf)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{
			"error": err.Error(),
		})
		return
	}

	payload, err := clf.Payload()
	if err != nil {
		slog.Error("failed to encode classifier", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode classifier",
		})
		return
	}
	artifact := &domain.Artifact{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Kind:      domain.ArtifactClassifier,
		Version:   uuid.New().String(),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.SaveArtifact(ctx, tenantID, artifact); err != nil {
		slog.Error("failed to save classifier artifact", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save classifier artifact",
		})
		return
	}

	h.service.Store(svc)

	slog.Info("classifier installed",
		"tenant_id", tenantID,
		"model", clf.Name(),
		"features", clf.NumFeatures(),
		"bundle_version", b.Version,
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"model":         clf.Name(),
		"features":      clf.NumFeatures(),
		"bundleVersion": b.Version,
		"artifactId":    artifact.ID,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var cfgErr *domain.ConfigurationError
	var schemaErr *domain.SchemaMismatchError
	var categoryErr *domain.UnknownCategoryError
	var dataErr *domain.InsufficientDataError

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &schemaErr), errors.As(err, &categoryErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &dataErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
