// Package freshness classifies how current a ticker's stored history is
// relative to the last expected trading day.
package freshness

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/util"
)

// LatestDater reports the most recent stored bar date for a ticker.
type LatestDater interface {
	LatestDate(ctx context.Context, ticker string) (time.Time, bool, error)
}

// Classification is the freshness tier of one ticker.
type Classification struct {
	Ticker     string        `json:"ticker"`
	Status     domain.Status `json:"status"`
	LatestDate *time.Time    `json:"latest_date,omitempty"`
}

// Classifier assigns Fresh, Stale, or Missing to tickers. It holds no
// mutable state, so concurrent calls are independent.
type Classifier struct {
	history     LatestDater
	cal         *util.TradingCalendar
	concurrency int
	log         *slog.Logger
}

// NewClassifier creates a Classifier reading dates from history. concurrency
// bounds ClassifyAll's fan-out; values below 1 mean unbounded.
func NewClassifier(history LatestDater, cal *util.TradingCalendar, concurrency int) *Classifier {
	return &Classifier{
		history:     history,
		cal:         cal,
		concurrency: concurrency,
		log:         slog.Default().With("component", "freshness"),
	}
}

// Tier is the pure classification rule. A lookup error or no rows is
// Missing; a latest date on or after expected is Fresh; anything older is
// Stale. Only calendar dates are compared.
func Tier(latest time.Time, ok bool, err error, expected time.Time) domain.Status {
	if err != nil || !ok {
		return domain.StatusMissing
	}
	if !domain.DateOnly(latest).Before(domain.DateOnly(expected)) {
		return domain.StatusFresh
	}
	return domain.StatusStale
}

// Classify returns the tier of a single ticker.
func (c *Classifier) Classify(ctx context.Context, ticker string) domain.Status {
	return c.classify(ctx, ticker, c.cal.LastExpectedTradingDay()).Status
}

// ClassifyAll classifies every ticker concurrently. Results are returned in
// input order; one ticker's lookup failure never affects another's.
func (c *Classifier) ClassifyAll(ctx context.Context, tickers []string) []Classification {
	expected := c.cal.LastExpectedTradingDay()
	results := make([]Classification, len(tickers))

	var g errgroup.Group
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for i, ticker := range tickers {
		g.Go(func() error {
			results[i] = c.classify(ctx, ticker, expected)
			return nil
		})
	}
	g.Wait()
	return results
}

func (c *Classifier) classify(ctx context.Context, ticker string, expected time.Time) Classification {
	latest, ok, err := c.history.LatestDate(ctx, ticker)
	if err != nil {
		c.log.Warn("latest date lookup failed", "ticker", ticker, "error", err)
	}
	cl := Classification{Ticker: ticker, Status: Tier(latest, ok, err, expected)}
	if err == nil && ok {
		d := domain.DateOnly(latest)
		cl.LatestDate = &d
	}
	return cl
}
