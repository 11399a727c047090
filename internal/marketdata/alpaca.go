package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/store"
	"tickerwatch/internal/util"
)

// Compile-time interface check.
var _ Fetcher = (*AlpacaFetcher)(nil)

// barsClient is the subset of *marketdata.Client used by AlpacaFetcher.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

var errMissingKey = errors.New("Alpaca API key not configured")

// AlpacaFetcher fetches daily bars for one ticker at a time from the Alpaca
// market-data API and upserts them into a HistoryStore.
type AlpacaFetcher struct {
	client       barsClient
	store        store.HistoryStore
	configured   bool
	feed         string
	lookbackDays int
	maxAttempts  int
	limiter      *util.RateLimiter
	now          func() time.Time
	log          *slog.Logger
}

// NewAlpacaFetcher creates an AlpacaFetcher configured with the given Alpaca
// credentials, target store, and request parameters.
func NewAlpacaFetcher(apiKey, apiSecret, dataURL, feed string, s store.HistoryStore, lookbackDays, rateLimitPerMin, maxAttempts int) *AlpacaFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaFetcher{
		client:       marketdata.NewClient(opts),
		store:        s,
		configured:   apiKey != "",
		feed:         feed,
		lookbackDays: max(lookbackDays, 1),
		maxAttempts:  max(maxAttempts, 1),
		limiter:      util.NewRateLimiter(rateLimitPerMin, 1),
		now:          time.Now,
		log:          slog.Default().With("component", "alpaca-fetcher"),
	}
}

// Fetch pulls the lookback window of daily bars for ticker and upserts them.
func (f *AlpacaFetcher) Fetch(ctx context.Context, ticker string) (Result, error) {
	if !f.configured {
		return Result{Error: errMissingKey.Error()}, errMissingKey
	}
	ticker = domain.NormalizeTicker(ticker)

	end := f.now().UTC()
	start := end.AddDate(0, 0, -f.lookbackDays)

	var alpacaBars []marketdata.Bar
	err := util.Retry(ctx, f.maxAttempts, 500*time.Millisecond, isRetryable, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		alpacaBars, err = f.client.GetBars(ticker, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(f.feed),
		})
		return translateAlpacaError(err)
	})
	if err != nil {
		f.log.Warn("GetBars failed", "ticker", ticker, "error", err)
		return Result{Error: err.Error()}, err
	}

	now := f.now()
	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Ticker:      ticker,
			Date:        domain.DateOnly(ab.Timestamp.UTC()),
			Open:        decimal.NewFromFloat(ab.Open),
			High:        decimal.NewFromFloat(ab.High),
			Low:         decimal.NewFromFloat(ab.Low),
			Close:       decimal.NewFromFloat(ab.Close),
			Volume:      int64(ab.Volume),
			CreatedAt:   now,
			LastUpdated: now,
		})
	}

	n, err := f.store.UpsertBars(ctx, bars)
	if err != nil {
		err = fmt.Errorf("storing bars for %s: %w", ticker, err)
		return Result{Error: err.Error()}, err
	}

	f.log.Debug("fetched bars", "ticker", ticker, "count", n)
	return Result{Success: true, Count: n}, nil
}

// translateAlpacaError rewrites provider errors so ClassifyFetchError can
// recognise credential and throttling failures.
func translateAlpacaError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("API limit exceeded: %w", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return fmt.Errorf("API key rejected: %w", err)
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !strings.Contains(err.Error(), "API key")
}
