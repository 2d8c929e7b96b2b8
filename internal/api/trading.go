package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ankgale/TFG/internal/model"
)

// --- Request types ---

// OpenAccountRequest is the JSON body for POST /accounts.
type OpenAccountRequest struct {
	UserID string `json:"user_id"`
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	UserID          string                `json:"user_id"`
	StockID         string                `json:"stock_id"` // id or ticker symbol
	Shares          decimal.Decimal       `json:"shares"`
	TransactionType model.TransactionType `json:"transaction_type"` // "buy" or "sell"
}

// WatchRequest is the JSON body for POST /watchlist/{userID}.
type WatchRequest struct {
	StockID string `json:"stock_id"`
}

// --- Accounts ---

// OpenAccount handles POST /api/v1/accounts
func (s *Service) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.ledger.OpenAccount(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBalance handles GET /api/v1/accounts/{userID}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.ledger.Balance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- Trading ---

// ExecuteTrade handles POST /api/v1/trade
// Executes at the cached price and returns the transaction, the updated
// position (null when fully sold) and the remaining balance.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	stockID := req.StockID
	if st, err := s.lookupStock(stockID); err == nil {
		stockID = st.ID
	}

	res, err := s.ledger.Trade(r.Context(), req.UserID, stockID, req.TransactionType, req.Shares)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Portfolio ---

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	holdings, err := s.ledger.Positions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holdings)
}

// GetPortfolioSummary handles GET /api/v1/portfolio/{userID}/summary
func (s *Service) GetPortfolioSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListTransactions handles GET /api/v1/transactions/{userID}?limit=
// Newest first; no limit returns the whole log.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", errInvalidBody))
			return
		}
		limit = n
	}

	txns, err := s.ledger.Transactions(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

// --- Watchlist ---

// GetWatchlist handles GET /api/v1/watchlist/{userID}
func (s *Service) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.ledger.Watchlist(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stocks)
}

// AddToWatchlist handles POST /api/v1/watchlist/{userID}
func (s *Service) AddToWatchlist(w http.ResponseWriter, r *http.Request) {
	var req WatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.lookupStock(req.StockID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.ledger.Watch(r.Context(), chi.URLParam(r, "userID"), st.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// RemoveFromWatchlist handles DELETE /api/v1/watchlist/{userID}/{stockID}
func (s *Service) RemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	stockID := chi.URLParam(r, "stockID")
	if st, err := s.lookupStock(stockID); err == nil {
		stockID = st.ID
	}
	if err := s.ledger.Unwatch(r.Context(), chi.URLParam(r, "userID"), stockID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
