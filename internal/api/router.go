package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ankgale/TFG/internal/metrics"
)

// NewRouter mounts every route on a chi router. allowedOrigins feeds the
// CORS middleware.
func NewRouter(s *Service, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Long-lived; kept out of the request timeout.
		r.Get("/ws", s.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(90 * time.Second))

			r.Get("/health", s.Health)

			// Accounts.
			r.Post("/accounts", s.OpenAccount)
			r.Get("/accounts/{userID}/balance", s.GetBalance)

			// Stocks and prices.
			r.Get("/stocks", s.ListStocks)
			r.Post("/stocks/refresh", s.RefreshStocks)
			r.Post("/stocks/initialize", s.InitializeStocks)
			r.Get("/stocks/{stockID}", s.GetStock)
			r.Get("/stocks/{stockID}/quote", s.GetLiveQuote)
			r.Get("/stocks/{stockID}/history", s.GetStockHistory)

			// Trade execution.
			r.Post("/trade", s.ExecuteTrade)

			// Portfolio queries.
			r.Get("/portfolio/{userID}", s.GetPortfolio)
			r.Get("/portfolio/{userID}/summary", s.GetPortfolioSummary)
			r.Get("/transactions/{userID}", s.ListTransactions)

			// Watchlist.
			r.Get("/watchlist/{userID}", s.GetWatchlist)
			r.Post("/watchlist/{userID}", s.AddToWatchlist)
			r.Delete("/watchlist/{userID}/{stockID}", s.RemoveFromWatchlist)

			// Learning progress.
			r.Post("/progress/lessons/complete", s.CompleteLesson)
			r.Get("/progress/{userID}", s.GetProgress)
		})
	})

	return r
}
