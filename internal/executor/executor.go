// Package executor turns a target swap into a confirmed ledger transaction.
//
// Each swap runs a small state machine:
//
//	QUOTE_REQUESTED -> QUOTE_RECEIVED -> TX_BUILT -> TX_SIGNED -> TX_SUBMITTED -> TX_CONFIRMED
//
// with FAILED reachable from every stage. Every failure is reported inside the
// returned domain.SwapResult.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/jupiter"
	"xstock-portfolio/internal/observability"
	"xstock-portfolio/internal/signer"
	"xstock-portfolio/internal/solana"
)

// Aggregator quotes routes and builds unsigned swap transactions.
type Aggregator interface {
	Quote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error)
	BuildSwapTransaction(ctx context.Context, quote *jupiter.Quote, userPubkey string, opts jupiter.SwapOptions) (*jupiter.SwapTransaction, error)
}

var _ Aggregator = (*jupiter.Client)(nil)

// Policy defaults.
const (
	DefaultMaxPriceImpactPct = 5.0
	DefaultSlippageBps       = 50
	DefaultMaxSubmitAttempts = 5
	DefaultRetryInitialDelay = 500 * time.Millisecond
	DefaultRetryMaxDelay     = 4 * time.Second
	DefaultConfirmTimeout    = 60 * time.Second
)

// Policy holds the execution limits.
type Policy struct {
	// MaxPriceImpactPct is the price-impact ceiling in percent.
	MaxPriceImpactPct float64
	// EnforcePriceImpact makes a quote above the ceiling fatal instead of a warning.
	EnforcePriceImpact bool

	SlippageBps       int
	MaxSubmitAttempts int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	ConfirmTimeout    time.Duration

	Commitment    solana.Commitment
	SkipPreflight bool
	SwapOptions   jupiter.SwapOptions
}

// DefaultPolicy returns the default execution policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxPriceImpactPct: DefaultMaxPriceImpactPct,
		SlippageBps:       DefaultSlippageBps,
		MaxSubmitAttempts: DefaultMaxSubmitAttempts,
		RetryInitialDelay: DefaultRetryInitialDelay,
		RetryMaxDelay:     DefaultRetryMaxDelay,
		ConfirmTimeout:    DefaultConfirmTimeout,
		Commitment:        solana.CommitmentConfirmed,
		SwapOptions: jupiter.SwapOptions{
			WrapAndUnwrapSOL:        true,
			DynamicComputeUnitLimit: true,
		},
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxPriceImpactPct <= 0 {
		p.MaxPriceImpactPct = d.MaxPriceImpactPct
	}
	if p.SlippageBps <= 0 {
		p.SlippageBps = d.SlippageBps
	}
	if p.MaxSubmitAttempts <= 0 {
		p.MaxSubmitAttempts = d.MaxSubmitAttempts
	}
	if p.RetryInitialDelay <= 0 {
		p.RetryInitialDelay = d.RetryInitialDelay
	}
	if p.RetryMaxDelay <= 0 {
		p.RetryMaxDelay = d.RetryMaxDelay
	}
	if p.ConfirmTimeout <= 0 {
		p.ConfirmTimeout = d.ConfirmTimeout
	}
	if p.Commitment == "" {
		p.Commitment = d.Commitment
	}
	return p
}

// Options configures an Executor.
type Options struct {
	Policy Policy
	// Confirmer defaults to RPC status polling.
	Confirmer Confirmer
	Logger    *zap.Logger
}

// Executor executes single swaps.
type Executor struct {
	agg       Aggregator
	rpc       solana.RPCClient
	confirmer Confirmer
	policy    Policy
	logger    *zap.Logger
}

// New creates an Executor.
func New(agg Aggregator, rpc solana.RPCClient, opts Options) *Executor {
	policy := opts.Policy.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	confirmer := opts.Confirmer
	if confirmer == nil {
		confirmer = NewPollingConfirmer(rpc, DefaultPollInterval, policy.Commitment, logger)
	}
	return &Executor{
		agg:       agg,
		rpc:       rpc,
		confirmer: confirmer,
		policy:    policy,
		logger:    logger,
	}
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Quote is a priced route between two assets, in token units.
type Quote struct {
	Input          domain.Asset
	Output         domain.Asset
	InAmount       decimal.Decimal
	OutAmount      decimal.Decimal
	MinOutAmount   decimal.Decimal
	PriceImpactPct float64
	SlippageBps    int
	Warnings       []string
	Route          *jupiter.Quote
}

// Quote prices a swap of amount input tokens into output.
// A slippageBps of zero uses the policy default.
//
// When the price impact exceeds the ceiling the quote is still returned together
// with an error wrapping domain.ErrPriceImpactTooHigh, unless the policy enforces
// the ceiling, in which case the quote is nil.
func (e *Executor) Quote(ctx context.Context, in, out domain.Asset, amount decimal.Decimal, slippageBps int) (*Quote, error) {
	if in.Equal(out) {
		return nil, fmt.Errorf("swap %s into itself", in.Symbol)
	}
	if slippageBps <= 0 {
		slippageBps = e.policy.SlippageBps
	}

	raw, err := toBaseUnits(amount, in.Decimals)
	if err != nil {
		return nil, fmt.Errorf("quote %s->%s: %w", in.Symbol, out.Symbol, err)
	}

	route, err := e.agg.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   in.Address,
		OutputMint:  out.Address,
		Amount:      raw,
		SlippageBps: slippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("quote %s->%s: %w", in.Symbol, out.Symbol, err)
	}

	q := &Quote{
		Input:          in,
		Output:         out,
		InAmount:       route.InAmount.Shift(-in.Decimals),
		OutAmount:      route.OutAmount.Shift(-out.Decimals),
		MinOutAmount:   route.OtherAmountThreshold.Shift(-out.Decimals),
		PriceImpactPct: route.PriceImpactPct,
		SlippageBps:    slippageBps,
		Route:          route,
	}

	if route.PriceImpactPct > e.policy.MaxPriceImpactPct {
		observability.RecordPriceImpactWarning()
		impactErr := fmt.Errorf("%s->%s impact %.2f%% above %.2f%%: %w",
			in.Symbol, out.Symbol, route.PriceImpactPct, e.policy.MaxPriceImpactPct, domain.ErrPriceImpactTooHigh)
		if e.policy.EnforcePriceImpact {
			return nil, impactErr
		}
		q.Warnings = append(q.Warnings, impactErr.Error())
		e.logger.Warn("high price impact",
			zap.String("input", in.Symbol),
			zap.String("output", out.Symbol),
			zap.Float64("impact_pct", route.PriceImpactPct))
		return q, impactErr
	}
	return q, nil
}

// Swap quotes and executes in one call. A price-impact warning does not stop
// execution unless the policy enforces the ceiling.
func (e *Executor) Swap(ctx context.Context, in, out domain.Asset, amount decimal.Decimal, s signer.Signer) domain.SwapResult {
	q, err := e.Quote(ctx, in, out, amount, 0)
	if err != nil && (q == nil || !errors.Is(err, domain.ErrPriceImpactTooHigh)) {
		res := domain.FailedResult(domain.StageQuoteRequested, err)
		res.Transitions = []domain.SwapStage{domain.StageQuoteRequested, domain.StageFailed}
		res.InAmount = amount
		observability.RecordSwap(string(domain.StageQuoteRequested), false, 0)
		return res
	}

	res := e.Execute(ctx, q, s)
	res.Transitions = append([]domain.SwapStage{domain.StageQuoteRequested}, res.Transitions...)
	return res
}

// Execute builds, signs, submits and confirms the swap described by q.
func (e *Executor) Execute(ctx context.Context, q *Quote, s signer.Signer) domain.SwapResult {
	r := &run{started: time.Now()}
	if q == nil || q.Route == nil {
		return r.fail(errors.New("execute: nil quote"))
	}

	r.res.InAmount = q.InAmount
	r.res.OutAmount = q.OutAmount
	r.res.Warnings = append(r.res.Warnings, q.Warnings...)
	r.advance(domain.StageQuoteReceived)

	log := e.logger.With(
		zap.String("input", q.Input.Symbol),
		zap.String("output", q.Output.Symbol),
		zap.String("wallet", s.PublicKey()))

	built, err := e.agg.BuildSwapTransaction(ctx, q.Route, s.PublicKey(), e.policy.SwapOptions)
	if err != nil {
		return r.fail(fmt.Errorf("build: %w", err))
	}
	r.advance(domain.StageTxBuilt)

	signed, err := s.Sign(ctx, built.Transaction)
	if err != nil {
		return r.fail(signError(err))
	}
	r.advance(domain.StageTxSigned)

	sig, err := e.submit(ctx, r, signed, s, log)
	if err != nil {
		return r.fail(err)
	}
	r.res.Signature = sig
	r.advance(domain.StageTxSubmitted)
	log = log.With(zap.String("signature", sig))

	if err := e.confirm(ctx, sig); err != nil {
		log.Warn("swap not confirmed", zap.Error(err))
		return r.fail(err)
	}
	r.advance(domain.StageTxConfirmed)
	r.res.Success = true

	log.Info("swap confirmed", zap.Int("attempts", r.res.Attempts))
	observability.RecordSwap(string(domain.StageTxConfirmed), true, time.Since(r.started).Seconds())
	return r.res
}

// submit sends signed, retrying transient failures with a fresh blockhash and
// a new signature on every retry.
func (e *Executor) submit(ctx context.Context, r *run, signed []byte, s signer.Signer, log *zap.Logger) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.policy.RetryInitialDelay
	b.MaxInterval = e.policy.RetryMaxDelay
	b.MaxElapsedTime = 0

	opts := solana.SendOptions{
		SkipPreflight:       e.policy.SkipPreflight,
		PreflightCommitment: e.policy.Commitment,
	}

	var sig string
	op := func() error {
		if r.res.Attempts > 0 {
			resigned, err := e.refresh(ctx, signed, s)
			if err != nil {
				return err
			}
			signed = resigned
		}
		r.res.Attempts++

		out, err := e.rpc.SendTransaction(ctx, signed, opts)
		if err != nil {
			if !solana.IsTransient(err) {
				return backoff.Permanent(fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err))
			}
			return err
		}
		sig = out
		return nil
	}
	notify := func(err error, wait time.Duration) {
		observability.RecordSubmitRetry()
		log.Warn("submit failed, retrying",
			zap.Int("attempt", r.res.Attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.policy.MaxSubmitAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if errors.Is(err, domain.ErrSubmissionFailed) || errors.Is(err, domain.ErrSigningRejected) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w after %d attempts: %w", domain.ErrSubmissionFailed, r.res.Attempts, err)
	}
	return sig, nil
}

// refresh patches signed with a fresh blockhash and signs it again.
func (e *Executor) refresh(ctx context.Context, signed []byte, s signer.Signer) ([]byte, error) {
	bh, err := e.rpc.GetLatestBlockhash(ctx, e.policy.Commitment)
	if err != nil {
		// A failed lookup counts as a transient submission failure.
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}

	tx, err := solana.ParseTransaction(signed)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err))
	}
	if err := tx.SetRecentBlockhash(bh.Blockhash); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err))
	}

	resigned, err := s.Sign(ctx, tx.Serialize())
	if err != nil {
		return nil, backoff.Permanent(signError(err))
	}
	return resigned, nil
}

// confirm waits for the signature within the confirmation timeout.
// The deadline is terminal: the transaction is never resubmitted.
func (e *Executor) confirm(ctx context.Context, sig string) error {
	cctx, cancel := context.WithTimeout(ctx, e.policy.ConfirmTimeout)
	defer cancel()

	err := e.confirmer.Confirm(cctx, sig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrTransactionFailed):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrConfirmationTimeout
	default:
		return fmt.Errorf("confirm: %w", err)
	}
}

func signError(err error) error {
	if errors.Is(err, domain.ErrSigningRejected) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrSigningRejected, err)
}

// toBaseUnits converts token units into integer base units, rounding down.
func toBaseUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	raw := amount.Shift(decimals).Floor()
	if !raw.IsPositive() {
		return 0, fmt.Errorf("amount %s is below one base unit", amount)
	}
	bi := raw.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows base units", amount)
	}
	return bi.Uint64(), nil
}

type run struct {
	res     domain.SwapResult
	started time.Time
}

func (r *run) advance(stage domain.SwapStage) {
	r.res.Stage = stage
	r.res.Transitions = append(r.res.Transitions, stage)
}

func (r *run) fail(err error) domain.SwapResult {
	failedAt := r.res.Stage
	if failedAt == "" {
		failedAt = domain.StageQuoteReceived
	}
	r.res.Success = false
	r.res.Err = err
	r.res.Error = err.Error()
	r.res.FailedAt = failedAt
	r.advance(domain.StageFailed)

	observability.RecordSwap(string(failedAt), false, time.Since(r.started).Seconds())
	return r.res
}
