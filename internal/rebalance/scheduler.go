package rebalance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/observability"
	"xstock-portfolio/internal/signer"
	"xstock-portfolio/internal/storage"
)

// Scheduler defaults.
const (
	DefaultWorkers       = 4
	DefaultCheckInterval = time.Hour
)

// SignerSource resolves the signer allowed to trade for a wallet.
type SignerSource interface {
	Signer(wallet string) (signer.Signer, bool)
}

// BatchReport summarizes one scheduler pass.
type BatchReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Active    int
	Outcomes  []*Outcome // one per active portfolio, in wallet order
	// SnapshotErr is set when valuation snapshots could not be written.
	SnapshotErr error
}

// Count returns the number of outcomes with decision d.
func (b *BatchReport) Count(d Decision) int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Decision == d {
			n++
		}
	}
	return n
}

// Errors returns the per-portfolio errors of the pass.
func (b *BatchReport) Errors() []error {
	var errs []error
	for _, o := range b.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Wallet, o.Err))
		}
	}
	return errs
}

// Scheduler periodically checks every active portfolio and rebalances the drifted ones.
type Scheduler struct {
	rebalancer *Rebalancer
	portfolios storage.PortfolioStore
	snapshots  storage.SnapshotStore
	signers    SignerSource
	gate       TimeGate
	workers    int
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// SchedulerOptions for creating a Scheduler.
type SchedulerOptions struct {
	Portfolios storage.PortfolioStore
	// Snapshots receives a valuation point per checked portfolio. Optional.
	Snapshots storage.SnapshotStore
	// Signers authorizes unattended rebalances. Without a signer for a wallet
	// the portfolio is only checked.
	Signers  SignerSource
	Workers  int
	Interval time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewScheduler creates a new Scheduler. The time gate follows the rebalancer policy.
func NewScheduler(rebalancer *Rebalancer, opts SchedulerOptions) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultCheckInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		rebalancer: rebalancer,
		portfolios: opts.Portfolios,
		snapshots:  opts.Snapshots,
		signers:    opts.Signers,
		gate:       TimeGate{MinInterval: rebalancer.policy.MinInterval},
		workers:    opts.Workers,
		interval:   opts.Interval,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Run executes a pass immediately and then on every tick until ctx is done.
// onPass, if not nil, receives the report of every pass that listed portfolios.
func (s *Scheduler) Run(ctx context.Context, onPass func(*BatchReport)) error {
	s.logger.Info("rebalance scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("workers", s.workers))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		report, err := s.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			s.logger.Error("rebalance pass failed", zap.Error(err))
		case err == nil && onPass != nil:
			onPass(report)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("rebalance scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce handles every active portfolio with at most Workers in flight.
// A failure on one portfolio is recorded in its outcome and never stops the
// others; only a failure to list portfolios fails the pass.
func (s *Scheduler) RunOnce(ctx context.Context) (*BatchReport, error) {
	started := s.now()
	portfolios, err := s.portfolios.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active portfolios: %w", err)
	}

	outcomes := make([]*Outcome, len(portfolios))
	snapshots := make([]*domain.PortfolioSnapshot, len(portfolios))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, p := range portfolios {
		g.Go(func() error {
			outcomes[i], snapshots[i] = s.handle(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	report := &BatchReport{
		StartedAt: started,
		Active:    len(portfolios),
		Outcomes:  outcomes,
	}
	report.SnapshotErr = s.writeSnapshots(ctx, snapshots)
	report.Duration = s.now().Sub(started)

	clean := len(report.Errors()) == 0 && report.SnapshotErr == nil
	observability.RecordSchedulerRun(report.Duration.Seconds(), report.Active, s.now().Unix(), clean)
	s.logger.Info("rebalance pass finished",
		zap.Int("active", report.Active),
		zap.Int("rebalanced", report.Count(DecisionRebalanced)),
		zap.Int("partial", report.Count(DecisionPartial)),
		zap.Int("held", report.Count(DecisionHold)),
		zap.Int("errors", len(report.Errors())),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (s *Scheduler) handle(ctx context.Context, p *domain.Portfolio) (*Outcome, *domain.PortfolioSnapshot) {
	out := &Outcome{PortfolioID: p.ID, Wallet: p.WalletAddress}
	log := s.logger.With(zap.String("portfolio_id", p.ID), zap.String("wallet", p.WalletAddress))
	defer func() { observability.RecordRebalanceCheck(string(out.Decision)) }()

	if !s.gate.Due(p, s.now()) {
		out.Decision = DecisionNotDue
		return out, nil
	}

	check, err := s.rebalancer.NeedsRebalance(ctx, p)
	var snap *domain.PortfolioSnapshot
	if check != nil {
		sn := check.Portfolio.Snapshot(s.now(), check.MaxDrift)
		snap = &sn
		out.MaxDrift = check.MaxDrift
		out.Drifts = check.Drifts
		if check.Risk.RebalanceNeeded {
			log.Warn("portfolio risk outside tolerance",
				zap.Int("risk_score", check.Risk.RiskScore),
				zap.Int("tolerance", check.Risk.RiskTolerance))
		}
	}
	if err != nil {
		log.Warn("drift check failed", zap.Error(err))
		out.Decision = DecisionError
		out.Err = err
		return out, snap
	}
	if !check.Needed {
		out.Decision = DecisionHold
		return out, snap
	}

	var sg signer.Signer
	if s.signers != nil {
		sg, _ = s.signers.Signer(p.WalletAddress)
	}
	if sg == nil {
		log.Info("portfolio drifted but no signer is available",
			zap.Float64("max_drift", check.MaxDrift))
		out.Decision = DecisionNoSigner
		return out, snap
	}

	res, err := s.rebalancer.RebalanceChecked(ctx, p, check, sg)
	if err != nil {
		log.Error("rebalance failed", zap.Error(err))
		out.Decision = DecisionError
		out.Err = err
		return out, snap
	}
	out = res
	return out, snap
}

func (s *Scheduler) writeSnapshots(ctx context.Context, snapshots []*domain.PortfolioSnapshot) error {
	if s.snapshots == nil {
		return nil
	}
	batch := make([]*domain.PortfolioSnapshot, 0, len(snapshots))
	for _, sn := range snapshots {
		if sn != nil {
			batch = append(batch, sn)
		}
	}
	if len(batch) == 0 {
		return nil
	}
	if err := s.snapshots.InsertBulk(ctx, batch); err != nil {
		s.logger.Error("write valuation snapshots", zap.Int("count", len(batch)), zap.Error(err))
		return fmt.Errorf("write %d snapshots: %w", len(batch), err)
	}
	return nil
}
