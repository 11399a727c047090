package marketdata

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/store"
)

// Compile-time interface check.
var _ Fetcher = (*MockFetcher)(nil)

// MockDays is the number of calendar days the mock provider generates.
const MockDays = 30

// MockFetcher generates synthetic daily bars ending today. It stands in for
// a real provider when none is configured.
type MockFetcher struct {
	store store.HistoryStore
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewMockFetcher creates a MockFetcher writing to s. The seed makes output
// reproducible.
func NewMockFetcher(s store.HistoryStore, seed uint64) *MockFetcher {
	return &MockFetcher{
		store: s,
		now:   time.Now,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Fetch generates MockDays bars for ticker and upserts them.
func (f *MockFetcher) Fetch(ctx context.Context, ticker string) (Result, error) {
	ticker = domain.NormalizeTicker(ticker)
	if ticker == "" {
		err := fmt.Errorf("ticker is required")
		return Result{Error: err.Error()}, err
	}

	bars := f.generate(ticker, f.now())
	n, err := f.store.UpsertBars(ctx, bars)
	if err != nil {
		err = fmt.Errorf("storing mock bars for %s: %w", ticker, err)
		return Result{Error: err.Error()}, err
	}
	return Result{Success: true, Count: n}, nil
}

func (f *MockFetcher) generate(ticker string, now time.Time) []domain.Bar {
	f.mu.Lock()
	defer f.mu.Unlock()

	bars := make([]domain.Bar, 0, MockDays)
	for i := 0; i < MockDays; i++ {
		base := 100 + f.rng.Float64()*100
		high := base * (1 + f.rng.Float64()*0.02)
		low := base * (1 - f.rng.Float64()*0.02)
		closePx := base * (1 + (f.rng.Float64()-0.5)*0.02)
		volume := int64(f.rng.IntN(1_000_000)) + 100_000

		bars = append(bars, domain.Bar{
			Ticker:      ticker,
			Date:        domain.DateOnly(now.AddDate(0, 0, -i)),
			Open:        price(base),
			High:        price(high),
			Low:         price(low),
			Close:       price(closePx),
			Volume:      volume,
			CreatedAt:   now,
			LastUpdated: now,
		})
	}
	return bars
}

func price(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(4)
}
