// Package api provides the HTTP and WebSocket surface: accounts, stocks,
// trades, portfolios, watchlists and learning progress.
//
// All monetary values use shopspring/decimal, never float64.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/feed"
	"github.com/ankgale/TFG/internal/ledger"
	"github.com/ankgale/TFG/internal/model"
	"github.com/ankgale/TFG/internal/progress"
)

// Prices is the price cache as seen by the handlers.
type Prices interface {
	GetQuote(symbol string) (model.Stock, error)
	GetQuoteByID(id string) (model.Stock, error)
	List() []model.Stock
	Seed(ctx context.Context) error
	Refresh(ctx context.Context, symbol string) (model.Stock, error)
	RefreshAll(ctx context.Context) int
	RefreshHistory(ctx context.Context, symbol, period string) ([]model.PriceHistoryPoint, error)
}

// Service holds the dependencies shared by the handlers.
type Service struct {
	ledger   *ledger.Ledger
	prices   Prices
	progress progress.Tracker
	feed     *feed.Broadcaster

	// refreshTimeout bounds a client-triggered full refresh.
	refreshTimeout time.Duration
}

// NewService creates the handler set. feed may be nil when the WebSocket
// endpoint is not mounted.
func NewService(l *ledger.Ledger, prices Prices, tracker progress.Tracker, fb *feed.Broadcaster) *Service {
	return &Service{
		ledger:         l,
		prices:         prices,
		progress:       tracker,
		feed:           fb,
		refreshTimeout: 60 * time.Second,
	}
}

// Health handles GET /health.
func (s *Service) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "finlearn",
		"stocks":  len(s.prices.List()),
	})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errInvalidBody marks a request whose JSON could not be decoded.
var errInvalidBody = errors.New("invalid request body")

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidBody),
		errors.Is(err, apperrors.ErrInvalidShares),
		errors.Is(err, apperrors.ErrInvalidPeriod),
		errors.Is(err, apperrors.ErrInvalidTradeType),
		errors.Is(err, apperrors.ErrMissingRequiredField),
		errors.Is(err, apperrors.ErrPriceUnavailable),
		errors.Is(err, apperrors.ErrInsufficientBalance),
		errors.Is(err, apperrors.ErrInsufficientShares),
		errors.Is(err, apperrors.ErrNoHoldings):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUserNotFound),
		errors.Is(err, apperrors.ErrStockNotFound),
		errors.Is(err, apperrors.ErrNotWatching),
		errors.Is(err, apperrors.ErrLessonNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrAccountExists),
		errors.Is(err, apperrors.ErrAlreadyWatching),
		errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response classified from err. Internal
// errors are logged and their detail withheld.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Code: apperrors.Code(err)}
	if errors.Is(err, errInvalidBody) {
		body.Code = "invalid_request"
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "err", err)
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}
