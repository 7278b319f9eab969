// Package main runs the portfolio service:
// - HTTP API (allocations, valuations, risk, rebalancing, metrics)
// - Rebalance scheduler (periodic drift checks over all active portfolios)
// - Portfolio change listener (Postgres LISTEN/NOTIFY)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"xstock-portfolio/internal/api"
	"xstock-portfolio/internal/app"
	"xstock-portfolio/internal/config"
	"xstock-portfolio/internal/logging"
	"xstock-portfolio/internal/rebalance"
)

// Server holds the running components and their state.
type Server struct {
	app    *app.App
	logger *zap.Logger

	// State
	mu              sync.Mutex
	started         time.Time
	lastRun         time.Time
	lastRunDuration time.Duration
	schedulerRuns   int
	lastDecisions   map[string]int
	lastErrors      int
	changesSeen     int
}

func main() {
	// The config file is resolved before the other flags so they can default to its values.
	configPath := flagValue(os.Args[1:], "config", os.Getenv("CONFIG_FILE"))

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override file and environment.
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	fs.String("config", configPath, "Path to YAML config file")
	fs.StringVar(&cfg.Solana.RPCEndpoint, "rpc-endpoint", cfg.Solana.RPCEndpoint, "Solana RPC HTTP endpoint")
	fs.StringVar(&cfg.Solana.WSEndpoint, "ws-endpoint", cfg.Solana.WSEndpoint, "Solana WebSocket endpoint")
	fs.StringVar(&cfg.Store.Kind, "store", cfg.Store.Kind, "Record store: memory, postgres or demo")
	fs.StringVar(&cfg.Store.PostgresDSN, "postgres-dsn", cfg.Store.PostgresDSN, "PostgreSQL connection string")
	fs.StringVar(&cfg.Store.ClickhouseDSN, "clickhouse-dsn", cfg.Store.ClickhouseDSN, "ClickHouse connection string")
	fs.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "Redis address for the price cache (empty disables)")
	fs.StringVar(&cfg.HTTP.Addr, "http-addr", cfg.HTTP.Addr, "HTTP listen address")
	fs.DurationVar(&cfg.Rebalance.CheckInterval, "check-interval", cfg.Rebalance.CheckInterval, "Rebalance check interval")
	fs.BoolVar(&cfg.Rebalance.Enabled, "rebalance", cfg.Rebalance.Enabled, "Run the rebalance scheduler")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format: json or console")
	_ = fs.Parse(os.Args[1:])

	logger := logging.Must(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build components", zap.Error(err))
	}
	defer a.Close()

	server := &Server{
		app:     a,
		logger:  logger,
		started: time.Now().UTC(),
	}

	logger.Info("portfolio service starting",
		zap.String("store", cfg.Store.Kind),
		zap.Int("signers", a.Keyring.Len()),
		zap.Bool("rebalance", cfg.Rebalance.Enabled),
		zap.Duration("check_interval", cfg.Rebalance.CheckInterval))

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// flagValue returns the value of -name or --name in args, or def.
func flagValue(args []string, name, def string) string {
	for i, arg := range args {
		for _, prefix := range []string{"-", "--"} {
			flagName := prefix + name
			if arg == flagName && i+1 < len(args) {
				return args[i+1]
			}
			if strings.HasPrefix(arg, flagName+"=") {
				return strings.TrimPrefix(arg, flagName+"=")
			}
		}
	}
	return def
}

// Run starts the HTTP server, the scheduler and the change listener.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 3)

	httpServer := &http.Server{
		Addr: s.app.Config.HTTP.Addr,
		Handler: api.New(api.Options{
			Allocator:  s.app.Engine,
			Previewer:  s.app.Orchestrator,
			Valuer:     s.app.Valuer,
			Rebalancer: s.app.Rebalancer,
			Signers:    s.app.Keyring,
			Stores:     s.app.Stores,
			Status:     func() any { return s.status() },
			Logger:     s.logger.Named("api"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.app.Config.Rebalance.Enabled {
		go func() {
			if err := s.runScheduler(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("rebalance scheduler: %w", err)
			}
		}()
	}

	if s.app.Changes != nil {
		go func() {
			if err := s.app.Changes.Listen(ctx, s.onPortfolioChanged); err != nil {
				// Notifications are informational; keep serving without them.
				s.logger.Error("portfolio change listener stopped", zap.Error(err))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	return runErr
}

// runScheduler drives the rebalance scheduler and keeps /status current.
func (s *Server) runScheduler(ctx context.Context) error {
	return s.app.Scheduler().Run(ctx, s.recordPass)
}

func (s *Server) recordPass(report *rebalance.BatchReport) {
	decisions := make(map[string]int)
	for _, out := range report.Outcomes {
		decisions[string(out.Decision)]++
	}

	s.mu.Lock()
	s.lastRun = report.StartedAt
	s.lastRunDuration = report.Duration
	s.schedulerRuns++
	s.lastDecisions = decisions
	s.lastErrors = len(report.Errors())
	s.mu.Unlock()
}

func (s *Server) onPortfolioChanged(portfolioID string) {
	s.mu.Lock()
	s.changesSeen++
	s.mu.Unlock()
	s.logger.Debug("portfolio changed", zap.String("portfolio_id", portfolioID))
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status          string         `json:"status"`
	Store           string         `json:"store"`
	Uptime          string         `json:"uptime"`
	Started         time.Time      `json:"started"`
	Signers         int            `json:"signers"`
	RebalanceOn     bool           `json:"rebalance_enabled"`
	SchedulerRuns   int            `json:"scheduler_runs"`
	LastRun         time.Time      `json:"last_run,omitempty"`
	LastRunDuration string         `json:"last_run_duration,omitempty"`
	LastDecisions   map[string]int `json:"last_decisions,omitempty"`
	LastErrors      int            `json:"last_errors"`
	ChangesSeen     int            `json:"portfolio_changes_seen"`
}

func (s *Server) status() StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := StatusResponse{
		Status:        "running",
		Store:         s.app.Config.Store.Kind,
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Started:       s.started,
		Signers:       s.app.Keyring.Len(),
		RebalanceOn:   s.app.Config.Rebalance.Enabled,
		SchedulerRuns: s.schedulerRuns,
		LastRun:       s.lastRun,
		LastDecisions: s.lastDecisions,
		LastErrors:    s.lastErrors,
		ChangesSeen:   s.changesSeen,
	}
	if s.schedulerRuns > 0 {
		resp.LastRunDuration = s.lastRunDuration.String()
	}
	return resp
}
