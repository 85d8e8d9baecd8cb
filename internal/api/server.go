package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/serving"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Server wires the chi router, middleware stack, and handlers into one
// HTTP listener.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer builds the router. Health endpoints sit outside the tenant
// group; everything else requires an X-Tenant-ID header.
func NewServer(cfg *domain.Config, repo domain.Repository, cache domain.Cache, bus domain.EventBus, fitter *serving.Fitter, wrk *worker.Worker, version string) *Server {
	handler := NewHandler(cfg, repo, cache, bus, fitter, wrk, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Transaction ingest and retrieval
		r.Post("/transactions", handler.IngestTransactions)
		r.Get("/transactions/{id}", handler.GetTransaction)

		// Inference
		r.Post("/score", handler.Score)

		// Labeling
		r.Post("/labels/run", handler.RunLabeling)
		r.Get("/labels/{customerID}", handler.GetRiskLabel)

		// Customer profiles
		r.Get("/customers/{customerID}/profile", handler.GetCustomerProfile)

		// Bundle and model management
		r.Get("/bundle", handler.GetBundle)
		r.Get("/dataset", handler.GetDataset)
		r.Post("/model", handler.UploadModel)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg.Server,
	}
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the chi mux so tests can drive it with httptest.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler exposes the handler so startup code can install a scoring
// service after restoring artifacts.
func (s *Server) Handler() *Handler {
	return s.handler
}
