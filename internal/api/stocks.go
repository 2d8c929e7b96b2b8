package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/marketdata"
	"github.com/ankgale/TFG/internal/model"
)

// HistoryResponse is the JSON body of GET /stocks/{stockID}/history.
type HistoryResponse struct {
	Symbol  string                    `json:"symbol"`
	Period  string                    `json:"period"`
	History []model.PriceHistoryPoint `json:"history"`
}

// lookupStock resolves a path parameter that is either a stock id or a
// ticker symbol.
func (s *Service) lookupStock(ref string) (model.Stock, error) {
	st, err := s.prices.GetQuoteByID(ref)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, apperrors.ErrStockNotFound) {
		return model.Stock{}, err
	}
	return s.prices.GetQuote(strings.ToUpper(ref))
}

// ListStocks handles GET /api/v1/stocks
func (s *Service) ListStocks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.prices.List())
}

// GetStock handles GET /api/v1/stocks/{stockID}
func (s *Service) GetStock(w http.ResponseWriter, r *http.Request) {
	st, err := s.lookupStock(chi.URLParam(r, "stockID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetLiveQuote handles GET /api/v1/stocks/{stockID}/quote
// Fetches from the price source now; 503 when the source fails.
func (s *Service) GetLiveQuote(w http.ResponseWriter, r *http.Request) {
	st, err := s.lookupStock(chi.URLParam(r, "stockID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	fresh, err := s.prices.Refresh(r.Context(), st.Symbol)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fresh)
}

// RefreshStocks handles POST /api/v1/stocks/refresh
func (s *Service) RefreshStocks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.refreshTimeout)
	defer cancel()

	n := s.prices.RefreshAll(ctx)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Updated %d stocks", n),
		"updated_count": n,
	})
}

// InitializeStocks handles POST /api/v1/stocks/initialize
// Re-seeds the tracked listings; existing quotes are kept.
func (s *Service) InitializeStocks(w http.ResponseWriter, r *http.Request) {
	if err := s.prices.Seed(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	stocks := s.prices.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Initialized %d stocks", len(stocks)),
		"stocks":  stocks,
	})
}

// GetStockHistory handles GET /api/v1/stocks/{stockID}/history?period=1mo
// An unavailable source yields an empty history, not an error.
func (s *Service) GetStockHistory(w http.ResponseWriter, r *http.Request) {
	st, err := s.lookupStock(chi.URLParam(r, "stockID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = marketdata.DefaultPeriod
	}

	points, err := s.prices.RefreshHistory(r.Context(), st.Symbol, period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Symbol: st.Symbol, Period: period, History: points})
}
