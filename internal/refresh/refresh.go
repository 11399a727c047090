// Package refresh re-fetches historical data for tickers whose stored
// history is stale or missing.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/freshness"
	"tickerwatch/internal/marketdata"
)

// Registry is the registry surface the refresher needs.
type Registry interface {
	ListMasterTickers(ctx context.Context) ([]string, error)
	TouchMasterEntry(ctx context.Context, ticker string, at time.Time) error
}

// Result aggregates one RefreshStale run.
type Result struct {
	Checked       int      `json:"checked"`
	Skipped       int      `json:"skipped"`
	Attempted     []string `json:"attempted"`
	SuccessCount  int      `json:"success_count"`
	FailedTickers []string `json:"failed_tickers"`
}

// NothingToUpdate reports whether every ticker was already fresh.
func (r Result) NothingToUpdate() bool { return len(r.Attempted) == 0 }

// Summary is the human-readable outcome of a refresh.
func (r Result) Summary() string {
	if r.NothingToUpdate() {
		return "All data is up to date, nothing to update"
	}
	var parts []string
	if r.SuccessCount > 0 {
		parts = append(parts, fmt.Sprintf("Updated data for %d tickers", r.SuccessCount))
	}
	if len(r.FailedTickers) > 0 {
		parts = append(parts, "Failed to update "+strings.Join(r.FailedTickers, ", "))
	}
	return strings.Join(parts, "; ")
}

// Refresher drives conditional refreshes through a Fetcher.
type Refresher struct {
	registry    Registry
	classifier  *freshness.Classifier
	fetcher     marketdata.Fetcher
	concurrency int
	now         func() time.Time
	log         *slog.Logger
}

// NewRefresher creates a Refresher. concurrency bounds parallel fetches;
// values below 1 mean one at a time.
func NewRefresher(reg Registry, classifier *freshness.Classifier, fetcher marketdata.Fetcher, concurrency int) *Refresher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Refresher{
		registry:    reg,
		classifier:  classifier,
		fetcher:     fetcher,
		concurrency: concurrency,
		now:         time.Now,
		log:         slog.Default().With("component", "refresh"),
	}
}

// RefreshStale classifies tickers, or every registered ticker when tickers
// is empty, and fetches only those that are stale or missing. One ticker's
// failure never stops the others.
func (r *Refresher) RefreshStale(ctx context.Context, user *domain.User, tickers []string) (Result, error) {
	if err := domain.RequireUser(user); err != nil {
		return Result{}, err
	}
	if len(tickers) == 0 {
		all, err := r.registry.ListMasterTickers(ctx)
		if err != nil {
			return Result{}, domain.NewError(domain.CodeStore, "failed to load master list", err)
		}
		tickers = all
	}
	var norm, malformed []string
	for _, t := range tickers {
		t = domain.NormalizeTicker(t)
		switch {
		case t == "":
			continue
		case domain.ValidateTicker(t) != nil:
			malformed = append(malformed, t)
		default:
			norm = append(norm, t)
		}
	}

	var targets []string
	for _, c := range r.classifier.ClassifyAll(ctx, norm) {
		if c.Status.NeedsRefresh() {
			targets = append(targets, c.Ticker)
		}
	}

	// Malformed symbols are never fetched and count as failures.
	res := Result{
		Checked:       len(norm) + len(malformed),
		Skipped:       len(norm) - len(targets),
		Attempted:     append(append([]string{}, malformed...), targets...),
		FailedTickers: append([]string{}, malformed...),
	}
	if len(res.Attempted) == 0 {
		r.log.Info("nothing to refresh", "checked", res.Checked)
		return res, nil
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, ticker := range targets {
		g.Go(func() error {
			errs[i] = r.refreshOne(ctx, ticker)
			return nil
		})
	}
	g.Wait()

	for i, err := range errs {
		if err != nil {
			res.FailedTickers = append(res.FailedTickers, targets[i])
			continue
		}
		res.SuccessCount++
	}
	r.log.Info("refresh complete",
		"checked", res.Checked,
		"attempted", len(targets),
		"succeeded", res.SuccessCount,
		"failed", len(res.FailedTickers),
	)
	return res, nil
}

// RefreshTicker fetches ticker regardless of its freshness and returns the
// number of bars stored. The classified fetch error is returned directly.
func (r *Refresher) RefreshTicker(ctx context.Context, user *domain.User, ticker string) (int, error) {
	if err := domain.RequireUser(user); err != nil {
		return 0, err
	}
	ticker = domain.NormalizeTicker(ticker)
	if err := domain.ValidateTicker(ticker); err != nil {
		return 0, err
	}
	n, err := marketdata.FetchTicker(ctx, r.fetcher, ticker)
	if err != nil {
		return 0, err
	}
	if err := r.registry.TouchMasterEntry(ctx, ticker, r.now()); err != nil {
		// The data is stored even when the ticker is not registered.
		r.log.Warn("stamping last_updated failed", "ticker", ticker, "error", err)
	}
	return n, nil
}

func (r *Refresher) refreshOne(ctx context.Context, ticker string) error {
	if _, err := marketdata.FetchTicker(ctx, r.fetcher, ticker); err != nil {
		r.log.Warn("refresh fetch failed", "ticker", ticker, "error", err)
		return err
	}
	if err := r.registry.TouchMasterEntry(ctx, ticker, r.now()); err != nil {
		r.log.Warn("stamping last_updated failed", "ticker", ticker, "error", err)
		return err
	}
	return nil
}
