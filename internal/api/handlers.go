package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/rebalance"
	"xstock-portfolio/internal/risk"
)

const (
	defaultTransactionLimit = 50
	defaultHistoryWindow    = 30 * 24 * time.Hour
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "running"})
		return
	}
	respondJSON(w, http.StatusOK, s.opts.Status())
}

// handleAllocation handles GET /allocations/{risk}?capital=&preview=
func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.Atoi(mux.Vars(r)["risk"])
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "risk level must be an integer")
		return
	}

	capital := decimal.Zero
	if raw := r.URL.Query().Get("capital"); raw != "" {
		capital, err = decimal.NewFromString(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "capital must be a decimal number")
			return
		}
	}

	allocations, err := s.opts.Allocator.Compute(level, capital)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := AllocationResponse{
		RiskLevel:   level,
		Capital:     capital.String(),
		Allocations: make([]AllocationView, 0, len(allocations)),
	}
	for _, a := range allocations {
		resp.Allocations = append(resp.Allocations, AllocationView{
			Symbol:     a.Symbol,
			Percentage: a.Percentage,
			Notional:   a.Notional.String(),
		})
	}

	if preview, _ := strconv.ParseBool(r.URL.Query().Get("preview")); preview && s.opts.Previewer != nil {
		lines, err := s.opts.Previewer.Preview(r.Context(), allocations)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		for i, line := range lines {
			if i >= len(resp.Allocations) {
				break
			}
			if line.Priced {
				resp.Allocations[i].Price = line.Price.String()
				resp.Allocations[i].EstimatedAmount = line.EstimatedAmount.String()
			} else {
				resp.Allocations[i].Unpriced = line.Reason
			}
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) loadPortfolio(w http.ResponseWriter, r *http.Request) (*domain.Portfolio, bool) {
	wallet := mux.Vars(r)["wallet"]
	p, err := s.opts.Stores.Portfolios.GetByWallet(r.Context(), wallet)
	if err != nil {
		respondServiceError(w, err)
		return nil, false
	}
	return p, true
}

// handlePortfolio handles GET /portfolios/{wallet}
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPortfolio(w, r)
	if !ok {
		return
	}
	rep, err := s.opts.Valuer.Value(r.Context(), p)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, NewPortfolioView(rep.Portfolio, rep.Unpriced))
}

// handleRisk handles GET /portfolios/{wallet}/risk?tolerance=
//
// The tolerance defaults to the portfolio's risk level.
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPortfolio(w, r)
	if !ok {
		return
	}

	tolerance := p.RiskLevel
	if raw := r.URL.Query().Get("tolerance"); raw != "" {
		t, err := strconv.Atoi(raw)
		if err != nil || !domain.ValidRiskLevel(t) {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "tolerance must be an integer in [1,10]")
			return
		}
		tolerance = t
	}

	rep, err := s.opts.Valuer.Value(r.Context(), p)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	metrics := risk.Score(rep.Portfolio.Positions, tolerance)
	respondJSON(w, http.StatusOK, NewRiskView(p.WalletAddress, metrics, rep.Unpriced))
}

// handleDrift handles GET /portfolios/{wallet}/drift
func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPortfolio(w, r)
	if !ok {
		return
	}
	check, err := s.opts.Rebalancer.NeedsRebalance(r.Context(), p)
	if check == nil {
		respondServiceError(w, err)
		return
	}

	resp := DriftResponse{
		Wallet:   p.WalletAddress,
		Needed:   check.Needed,
		MaxDrift: check.MaxDrift,
		Drifts:   driftViews(check.Drifts),
	}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status, _ = mapError(err)
	}
	respondJSON(w, status, resp)
}

// handleRebalance handles POST /portfolios/{wallet}/rebalance?force=
//
// Without force the portfolio is only traded when its drift crosses the threshold.
func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPortfolio(w, r)
	if !ok {
		return
	}
	if s.opts.Signers == nil {
		respondError(w, http.StatusForbidden, ErrCodeNoSigner, "rebalancing is disabled")
		return
	}
	sg, ok := s.opts.Signers.Signer(p.WalletAddress)
	if !ok {
		respondError(w, http.StatusForbidden, ErrCodeNoSigner, "no signer for wallet "+p.WalletAddress)
		return
	}

	check, err := s.opts.Rebalancer.NeedsRebalance(r.Context(), p)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if !force && !check.Needed {
		respondJSON(w, http.StatusOK, RebalanceResponse{
			Wallet:   p.WalletAddress,
			Decision: string(rebalance.DecisionHold),
			MaxDrift: check.MaxDrift,
			Drifts:   driftViews(check.Drifts),
		})
		return
	}

	out, err := s.opts.Rebalancer.RebalanceChecked(r.Context(), p, check, sg)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if out.Err != nil {
		s.logger.Warn("rebalance incomplete", zap.String("wallet", p.WalletAddress), zap.Error(out.Err))
	}
	respondJSON(w, http.StatusOK, NewRebalanceResponse(out))
}

// handleTransactions handles GET /portfolios/{wallet}/transactions?limit=
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]
	limit := defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.opts.Stores.Transactions.ListByWallet(r.Context(), wallet, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	out := make([]TransactionView, 0, len(records))
	for _, rec := range records {
		out = append(out, transactionView(rec))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleHistory handles GET /portfolios/{wallet}/history?from=&to= (RFC 3339)
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := s.loadPortfolio(w, r)
	if !ok {
		return
	}

	to := time.Now().UTC()
	from := to.Add(-defaultHistoryWindow)
	var err error
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "to must be RFC 3339")
			return
		}
		from = to.Add(-defaultHistoryWindow)
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "from must be RFC 3339")
			return
		}
	}
	if from.After(to) {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "from is after to")
		return
	}

	snapshots, err := s.opts.Stores.Snapshots.GetByPortfolio(r.Context(), p.ID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := HistoryResponse{Wallet: p.WalletAddress, Points: make([]HistoryPoint, 0, len(snapshots))}
	values := make([]float64, 0, len(snapshots))
	for _, snap := range snapshots {
		resp.Points = append(resp.Points, HistoryPoint{
			Timestamp:  time.UnixMilli(snap.TimestampMs).UTC(),
			TotalValue: snap.TotalValue,
			PnlPct:     snap.PnlPct,
			MaxDrift:   snap.MaxDrift,
		})
		values = append(values, snap.TotalValue)
	}
	resp.MaxDrawdownPct = risk.MaxDrawdown(values)
	respondJSON(w, http.StatusOK, resp)
}
