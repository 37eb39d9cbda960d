package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"convault/native/vault"
)

type depositRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset,omitempty"`
	Amount  string `json:"amount"`
}

type depositResponse struct {
	ID          string `json:"id"`
	Account     string `json:"account"`
	SourceAsset string `json:"source_asset"`
	AmountIn    string `json:"amount_in"`
	Credited    string `json:"credited"`
	CreatedAt   int64  `json:"created_at"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	account, ok := parseAddress(w, req.Account, "account")
	if !ok {
		return
	}
	amount, ok := parsePositiveAmount(w, req.Amount)
	if !ok {
		return
	}
	var (
		dep *vault.Deposit
		err error
	)
	if asset := strings.TrimSpace(req.Asset); asset != "" {
		source, sourceOK := parseAddress(w, asset, "asset")
		if !sourceOK {
			return
		}
		dep, err = s.engine.DepositToken(r.Context(), account, source, amount)
	} else {
		dep, err = s.engine.DepositNative(r.Context(), account, amount)
	}
	if err != nil {
		s.writeEngineError(w, r, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, newDepositResponse(dep))
}

type withdrawRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type withdrawResponse struct {
	ID        string `json:"id"`
	Account   string `json:"account"`
	Amount    string `json:"amount"`
	CreatedAt int64  `json:"created_at"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	account, ok := parseAddress(w, req.Account, "account")
	if !ok {
		return
	}
	amount, ok := parsePositiveAmount(w, req.Amount)
	if !ok {
		return
	}
	wd, err := s.engine.Withdraw(r.Context(), account, amount)
	if err != nil {
		s.writeEngineError(w, r, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{
		ID:        wd.ID,
		Account:   wd.Account.Hex(),
		Amount:    wd.Amount.String(),
		CreatedAt: wd.CreatedAt.Unix(),
	})
}

type estimateRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type estimateResponse struct {
	SourceAsset string `json:"source_asset"`
	AmountIn    string `json:"amount_in"`
	AmountOut   string `json:"amount_out"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	asset, ok := parseAddress(w, req.Asset, "asset")
	if !ok {
		return
	}
	amount, ok := parsePositiveAmount(w, req.Amount)
	if !ok {
		return
	}
	est, err := s.engine.EstimateDeposit(r.Context(), asset, amount)
	if err != nil {
		s.writeEngineError(w, r, "estimate", err)
		return
	}
	writeJSON(w, http.StatusOK, estimateResponse{
		SourceAsset: est.SourceAsset.Hex(),
		AmountIn:    est.AmountIn.String(),
		AmountOut:   est.AmountOut.String(),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := parseAddress(w, chi.URLParam(r, "account"), "account")
	if !ok {
		return
	}
	balance := s.engine.BalanceOf(account)
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account.Hex(),
		"balance": balance.String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.engine.Status()
	ceiling := ""
	if status.CapacityCeiling != nil {
		ceiling = status.CapacityCeiling.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts":         status.Accounts,
		"aggregate_wei":    status.AggregateWei.String(),
		"capacity_ceiling": ceiling,
		"paused":           status.Paused,
	})
}

// maxDepositPageSize caps the journal page a single request can ask for.
const maxDepositPageSize = 500

func (s *Server) handleDeposits(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if parsed > maxDepositPageSize {
			parsed = maxDepositPageSize
		}
		limit = parsed
	}
	deposits, err := s.store.ListDeposits(r.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "list deposits", slog.String("error", err.Error()))
		http.Error(w, "failed to load deposits", http.StatusInternalServerError)
		return
	}
	out := make([]depositResponse, 0, len(deposits))
	for i := range deposits {
		out = append(out, newDepositResponse(&deposits[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposits": out})
}

type policyPayload struct {
	CapacityCeilingWei   string `json:"capacity_ceiling_wei"`
	SlippageToleranceBps uint64 `json:"slippage_tolerance_bps"`
	SwapDeadlineSeconds  int64  `json:"swap_deadline_seconds"`
	Paused               bool   `json:"paused"`
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	params := s.engine.Policy()
	ceiling := ""
	if params.CapacityCeiling != nil {
		ceiling = params.CapacityCeiling.String()
	}
	writeJSON(w, http.StatusOK, policyPayload{
		CapacityCeilingWei:   ceiling,
		SlippageToleranceBps: params.SlippageToleranceBps,
		SwapDeadlineSeconds:  int64(params.SwapDeadline / time.Second),
		Paused:               params.Paused,
	})
}

func (s *Server) putPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	cfg := vault.PolicyConfig{
		CapacityCeilingWei:   req.CapacityCeilingWei,
		SlippageToleranceBps: req.SlippageToleranceBps,
		SwapDeadlineSeconds:  req.SwapDeadlineSeconds,
		Paused:               req.Paused,
	}
	params, err := cfg.Parameters()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.engine.UpdatePolicy(params); err != nil {
		s.logger.ErrorContext(r.Context(), "update policy", slog.String("error", err.Error()))
		http.Error(w, "failed to apply policy", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vault.ErrZeroAmount):
		status = http.StatusBadRequest
	case errors.Is(err, vault.ErrNoConversionPath):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrCapacityExceeded):
		status = http.StatusConflict
	case errors.Is(err, vault.ErrInsufficientBalance):
		status = http.StatusConflict
	case errors.Is(err, vault.ErrReentrantCall):
		status = http.StatusLocked
	case errors.Is(err, vault.ErrPaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, vault.ErrConversionFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "vault operation failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func newDepositResponse(dep *vault.Deposit) depositResponse {
	return depositResponse{
		ID:          dep.ID,
		Account:     dep.Account.Hex(),
		SourceAsset: dep.SourceAsset.Hex(),
		AmountIn:    dep.AmountIn.String(),
		Credited:    dep.Credited.String(),
		CreatedAt:   dep.CreatedAt.Unix(),
	}
}

func parseAddress(w http.ResponseWriter, raw, field string) (ethcommon.Address, bool) {
	trimmed := strings.TrimSpace(raw)
	if !ethcommon.IsHexAddress(trimmed) {
		http.Error(w, field+" must be a hex address", http.StatusBadRequest)
		return ethcommon.Address{}, false
	}
	return ethcommon.HexToAddress(trimmed), true
}

func parsePositiveAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		http.Error(w, "amount required", http.StatusBadRequest)
		return nil, false
	}
	amount := new(big.Int)
	if _, ok := amount.SetString(trimmed, 10); !ok {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return nil, false
	}
	if amount.Sign() <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return nil, false
	}
	return amount, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
