// Package marketdata is the historical-data-fetch collaborator: it pulls
// daily OHLCV bars from a provider (Alpaca, or a mock generator), upserts them
// into a HistoryStore, and resolves chart symbols and exchanges for tickers.
package marketdata

import (
	"context"
	"errors"
	"strings"

	"tickerwatch/internal/domain"
)

// Result is the outcome reported by a Fetcher for one ticker.
type Result struct {
	Success bool   `json:"success"`
	Count   int    `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Fetcher retrieves historical data for a ticker and persists it.
type Fetcher interface {
	Fetch(ctx context.Context, ticker string) (Result, error)
}

// FetchFunc adapts a plain function to the Fetcher interface.
type FetchFunc func(ctx context.Context, ticker string) (Result, error)

// Fetch calls f.
func (f FetchFunc) Fetch(ctx context.Context, ticker string) (Result, error) {
	return f(ctx, ticker)
}

// FetchTicker runs f for ticker and folds a returned error or an
// unsuccessful Result into a single classified error. On success it returns
// the number of bars stored.
func FetchTicker(ctx context.Context, f Fetcher, ticker string) (int, error) {
	res, err := f.Fetch(ctx, ticker)
	if err != nil {
		return 0, ClassifyFetchError(err)
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "fetch reported no success"
		}
		return 0, ClassifyFetchError(errors.New(msg))
	}
	return res.Count, nil
}

// ClassifyFetchError sorts a fetch failure into the configuration,
// rate-limit, or generic category by its message. Errors that already carry
// a fetch code are returned unchanged.
func ClassifyFetchError(err error) error {
	if err == nil {
		return nil
	}
	switch domain.CodeOf(err) {
	case domain.CodeFetchConfig, domain.CodeFetchRateLimit, domain.CodeFetchFailure:
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "API key"):
		return domain.NewError(domain.CodeFetchConfig, "market data API key is not configured", err)
	case strings.Contains(msg, "API limit"):
		return domain.NewError(domain.CodeFetchRateLimit, "market data API limit reached, try again later", err)
	default:
		return domain.NewError(domain.CodeFetchFailure, "failed to fetch historical data", err)
	}
}
