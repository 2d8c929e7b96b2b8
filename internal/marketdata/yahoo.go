package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/ankgale/TFG/internal/apperrors"
	"github.com/ankgale/TFG/internal/model"
)

// YahooClient fetches quotes and history from the Yahoo Finance chart API.
type YahooClient struct {
	baseURL    string
	httpClient *http.Client
	backoff    func() retry.Backoff
}

// NewYahooClient creates a client against baseURL
// (normally https://query1.finance.yahoo.com).
func NewYahooClient(baseURL string) *YahooClient {
	return &YahooClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(250*time.Millisecond))
		},
	}
}

// Quote returns the latest quote from the chart metadata. Yahoo's chart
// endpoint does not carry market cap unless present in meta; it stays zero.
func (c *YahooClient) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	q := url.Values{"interval": {"1d"}, "range": {"1d"}}
	result, err := c.chart(ctx, symbol, q)
	if err != nil {
		return model.Quote{}, err
	}

	m := result.Meta
	prev := m.PreviousClose
	if prev == nil {
		prev = m.ChartPreviousClose
	}
	return model.Quote{
		CurrentPrice:  decimalOrZero(m.RegularMarketPrice),
		PreviousClose: decimalOrZero(prev),
		DayHigh:       decimalOrZero(m.RegularMarketDayHigh),
		DayLow:        decimalOrZero(m.RegularMarketDayLow),
		Volume:        intOrZero(m.RegularMarketVolume),
		MarketCap:     intOrZero(m.MarketCap),
	}, nil
}

// History returns OHLCV bars for period. Bars with a null close are skipped.
func (c *YahooClient) History(ctx context.Context, symbol, period string) ([]model.PriceHistoryPoint, error) {
	if !ValidPeriod(period) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidPeriod, period)
	}

	q := url.Values{"interval": {intervalFor(period)}, "range": {period}}
	result, err := c.chart(ctx, symbol, q)
	if err != nil {
		return nil, err
	}
	return parseBars(symbol, result)
}

func parseBars(symbol string, result chartResult) ([]model.PriceHistoryPoint, error) {
	if len(result.Timestamp) == 0 {
		return []model.PriceHistoryPoint{}, nil
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: no quote indicators for %s", apperrors.ErrSourceUnavailable, symbol)
	}
	quote := result.Indicators.Quote[0]
	if len(quote.Close) != len(result.Timestamp) {
		return nil, fmt.Errorf("%w: mismatched data lengths for %s", apperrors.ErrSourceUnavailable, symbol)
	}

	points := make([]model.PriceHistoryPoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if quote.Close[i] == nil {
			continue
		}
		points = append(points, model.PriceHistoryPoint{
			Symbol:    symbol,
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      decimalOrZero(at(quote.Open, i)).Round(model.MoneyScale),
			High:      decimalOrZero(at(quote.High, i)).Round(model.MoneyScale),
			Low:       decimalOrZero(at(quote.Low, i)).Round(model.MoneyScale),
			Close:     decimalOrZero(quote.Close[i]).Round(model.MoneyScale),
			Volume:    intOrZero(at(quote.Volume, i)),
		})
	}
	return points, nil
}

// chart performs the request with retries on transport errors and 5xx/429.
func (c *YahooClient) chart(ctx context.Context, symbol string, query url.Values) (chartResult, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), query.Encode())

	var resp chartResponse
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		r, err := c.get(ctx, endpoint)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return chartResult{}, fmt.Errorf("%w: %s: %v", apperrors.ErrSourceUnavailable, symbol, err)
	}

	if resp.Chart.Error != nil {
		return chartResult{}, fmt.Errorf("%w: yahoo error for %s: %s",
			apperrors.ErrSourceUnavailable, symbol, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return chartResult{}, fmt.Errorf("%w: no results returned for symbol %s", apperrors.ErrSourceUnavailable, symbol)
	}
	return resp.Chart.Result[0], nil
}

func (c *YahooClient) get(ctx context.Context, endpoint string) (chartResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return chartResponse{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return chartResponse{}, retry.RetryableError(err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return chartResponse{}, retry.RetryableError(err)
	}

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return chartResponse{}, retry.RetryableError(fmt.Errorf("status %d", res.StatusCode))
	}

	var out chartResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return chartResponse{}, fmt.Errorf("decode response (status %d): %w", res.StatusCode, err)
	}
	return out, nil
}

func decimalOrZero(f *float64) decimal.Decimal {
	if f == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*f)
}

func intOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func at[T any](s []*T, i int) *T {
	if i >= len(s) {
		return nil
	}
	return s[i]
}
