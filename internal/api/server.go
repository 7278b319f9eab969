// Package api serves allocations, portfolio valuations, risk reports and
// on-demand rebalancing over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/observability"
	"xstock-portfolio/internal/orchestrator"
	"xstock-portfolio/internal/rebalance"
	"xstock-portfolio/internal/signer"
	"xstock-portfolio/internal/storage"
	"xstock-portfolio/internal/valuation"
)

// Allocator computes target allocations.
type Allocator interface {
	Compute(riskLevel int, capital decimal.Decimal) ([]domain.TargetAllocation, error)
}

// Previewer prices a target allocation.
type Previewer interface {
	Preview(ctx context.Context, allocations []domain.TargetAllocation) ([]orchestrator.PreviewLine, error)
}

// Valuer values a portfolio.
type Valuer interface {
	Value(ctx context.Context, p *domain.Portfolio) (*valuation.Report, error)
}

// Rebalancer checks and corrects drift.
type Rebalancer interface {
	NeedsRebalance(ctx context.Context, p *domain.Portfolio) (*rebalance.Check, error)
	RebalanceChecked(ctx context.Context, p *domain.Portfolio, check *rebalance.Check, s signer.Signer) (*rebalance.Outcome, error)
}

// Options configures a Server.
type Options struct {
	Allocator  Allocator
	Previewer  Previewer // optional, enables ?preview=true
	Valuer     Valuer
	Rebalancer Rebalancer
	Signers    rebalance.SignerSource // optional, nil disables POST rebalance
	Stores     *storage.Stores

	// Status reports process state on /status. Optional.
	Status func() any
	Logger *zap.Logger
}

// Server routes API requests.
type Server struct {
	router *mux.Router
	opts   Options
	logger *zap.Logger
}

// New creates a Server with all routes registered.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{router: mux.NewRouter(), opts: opts, logger: logger}

	s.router.Use(recoveryMiddleware(logger))
	s.router.Use(loggingMiddleware(logger))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/allocations/{risk:[0-9]+}", s.handleAllocation).Methods(http.MethodGet)

	p := s.router.PathPrefix("/portfolios/{wallet}").Subrouter()
	p.HandleFunc("", s.handlePortfolio).Methods(http.MethodGet)
	p.HandleFunc("/risk", s.handleRisk).Methods(http.MethodGet)
	p.HandleFunc("/drift", s.handleDrift).Methods(http.MethodGet)
	p.HandleFunc("/rebalance", s.handleRebalance).Methods(http.MethodPost)
	p.HandleFunc("/transactions", s.handleTransactions).Methods(http.MethodGet)
	p.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
