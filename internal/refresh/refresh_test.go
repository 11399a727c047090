package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/freshness"
	"tickerwatch/internal/marketdata"
	"tickerwatch/internal/store"
	"tickerwatch/internal/util"
)

var admin = &domain.User{ID: "admin-1", Email: "admin@example.com"}

// wednesday is 2024-06-12; the expected trading day is 2024-06-11.
var wednesday = time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

type recordingFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *recordingFetcher) Fetch(_ context.Context, ticker string) (marketdata.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ticker)
	f.mu.Unlock()
	if err := f.fail[ticker]; err != nil {
		return marketdata.Result{Error: err.Error()}, err
	}
	return marketdata.Result{Success: true, Count: 30}, nil
}

func (f *recordingFetcher) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.calls...)
	sort.Strings(out)
	return out
}

// setup registers tickers and stores one bar each for the given dates.
func setup(t *testing.T, dates map[string]time.Time, tickers ...string) (*store.SQLiteStore, *freshness.Classifier) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tickerwatch.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	var entries []domain.MasterEntry
	for _, tk := range tickers {
		entries = append(entries, domain.MasterEntry{
			Ticker: tk, UserID: "seed", InstrumentType: domain.InstrumentStock,
			DisplayName: "Stock: " + tk, CreatedAt: time.Now(),
		})
	}
	if err := s.InsertMasterEntries(ctx, entries); err != nil {
		t.Fatalf("InsertMasterEntries: %v", err)
	}
	for tk, d := range dates {
		bar := domain.Bar{Ticker: tk, Date: d, CreatedAt: time.Now(), LastUpdated: time.Now()}
		if _, err := s.UpsertBars(ctx, []domain.Bar{bar}); err != nil {
			t.Fatalf("UpsertBars: %v", err)
		}
	}

	cal, _ := util.NewTradingCalendar("")
	cal.SetClock(func() time.Time { return wednesday })
	return s, freshness.NewClassifier(s, cal, 4)
}

func TestRefreshStaleSelectsNonFresh(t *testing.T) {
	s, cl := setup(t, map[string]time.Time{
		"FRESH": time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC),
		"STALE": time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
	}, "FRESH", "STALE", "MISSING")
	f := &recordingFetcher{fail: map[string]error{"MISSING": errors.New("boom")}}
	r := NewRefresher(s, cl, f, 2)

	res, err := r.RefreshStale(context.Background(), admin, []string{"FRESH", "stale", "MISSING"})
	if err != nil {
		t.Fatalf("RefreshStale: %v", err)
	}
	if got := f.called(); !reflect.DeepEqual(got, []string{"MISSING", "STALE"}) {
		t.Errorf("fetched %v, want [MISSING STALE]", got)
	}
	if res.SuccessCount+len(res.FailedTickers) != 2 {
		t.Errorf("success %d + failed %d != 2", res.SuccessCount, len(res.FailedTickers))
	}
	if res.SuccessCount != 1 || !reflect.DeepEqual(res.FailedTickers, []string{"MISSING"}) {
		t.Errorf("result = %+v", res)
	}
	if res.Skipped != 1 || res.Checked != 3 {
		t.Errorf("checked/skipped = %d/%d, want 3/1", res.Checked, res.Skipped)
	}
	if got := res.Summary(); got != "Updated data for 1 tickers; Failed to update MISSING" {
		t.Errorf("Summary = %q", got)
	}

	e, _ := s.GetMasterEntry(context.Background(), "STALE")
	if e.LastUpdated == nil {
		t.Errorf("STALE last_updated not stamped")
	}
	e, _ = s.GetMasterEntry(context.Background(), "MISSING")
	if e.LastUpdated != nil {
		t.Errorf("MISSING stamped after failure")
	}
}

func TestRefreshStaleRejectsMalformed(t *testing.T) {
	s, cl := setup(t, nil, "A")
	f := &recordingFetcher{}

	res, err := NewRefresher(s, cl, f, 2).RefreshStale(context.Background(), admin, []string{"a", "../../x", " "})
	if err != nil {
		t.Fatalf("RefreshStale: %v", err)
	}
	if got := f.called(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("fetched %v, want [A]", got)
	}
	if res.Checked != 2 || res.SuccessCount != 1 || !reflect.DeepEqual(res.FailedTickers, []string{"../../X"}) {
		t.Errorf("result = %+v", res)
	}
}

func TestRefreshStaleAllFresh(t *testing.T) {
	s, cl := setup(t, map[string]time.Time{
		"A": time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC),
	}, "A")
	f := &recordingFetcher{}

	// An empty list means every registered ticker.
	res, err := NewRefresher(s, cl, f, 0).RefreshStale(context.Background(), admin, nil)
	if err != nil {
		t.Fatalf("RefreshStale: %v", err)
	}
	if !res.NothingToUpdate() || len(f.called()) != 0 {
		t.Errorf("result = %+v, calls = %v", res, f.called())
	}
	if res.Summary() != "All data is up to date, nothing to update" {
		t.Errorf("Summary = %q", res.Summary())
	}
}

func TestRefreshStaleRequiresUser(t *testing.T) {
	s, cl := setup(t, nil, "A")
	f := &recordingFetcher{}
	_, err := NewRefresher(s, cl, f, 1).RefreshStale(context.Background(), nil, nil)
	if !domain.IsCode(err, domain.CodeNotAuthenticated) {
		t.Fatalf("err = %v, want NOT_AUTHENTICATED", err)
	}
	if len(f.called()) != 0 {
		t.Errorf("fetched without a user")
	}
}

func TestRefreshTicker(t *testing.T) {
	s, cl := setup(t, map[string]time.Time{
		"A": time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC),
	}, "A")
	f := &recordingFetcher{fail: map[string]error{"B": errors.New("Alpaca API key not configured")}}
	r := NewRefresher(s, cl, f, 1)
	ctx := context.Background()

	// Fresh tickers are still fetched when forced.
	n, err := r.RefreshTicker(ctx, admin, "a")
	if err != nil || n != 30 {
		t.Fatalf("RefreshTicker(a) = %d, %v", n, err)
	}
	if _, err := r.RefreshTicker(ctx, admin, "B"); !domain.IsCode(err, domain.CodeFetchConfig) {
		t.Errorf("RefreshTicker(B) = %v, want FETCH_CONFIG", err)
	}
	if _, err := r.RefreshTicker(ctx, admin, " "); !domain.IsCode(err, domain.CodeValidation) {
		t.Errorf("RefreshTicker(blank) = %v, want VALIDATION", err)
	}
	if _, err := r.RefreshTicker(ctx, admin, "../../X"); !domain.IsCode(err, domain.CodeValidation) {
		t.Errorf("RefreshTicker(../../X) = %v, want VALIDATION", err)
	}
	if got := f.called(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("fetched %v, want [A B]", got)
	}
	if _, err := r.RefreshTicker(ctx, nil, "A"); !domain.IsCode(err, domain.CodeNotAuthenticated) {
		t.Errorf("RefreshTicker(nil user) = %v, want NOT_AUTHENTICATED", err)
	}
}
