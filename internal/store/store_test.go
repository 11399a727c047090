package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tickerwatch/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "tickerwatch.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func bar(ticker string, date time.Time, close string) domain.Bar {
	c := decimal.RequireFromString(close)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	return domain.Bar{
		Ticker: ticker, Date: date,
		Open: c, High: c.Add(decimal.NewFromInt(1)), Low: c.Sub(decimal.NewFromInt(1)), Close: c,
		Volume: 100000, CreatedAt: now, LastUpdated: now,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// SQLite: registry
// ---------------------------------------------------------------------------

func TestSQLiteMasterRegistry(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	entries := []domain.MasterEntry{
		{Ticker: "MSFT", UserID: "admin", CreatedByEmail: "a@x.io", InstrumentType: domain.InstrumentStock,
			DisplayName: "Stock: MSFT", Metadata: map[string]any{"validated": false}, CreatedAt: created},
		{Ticker: "AAPL", UserID: "admin", CreatedByEmail: "a@x.io", InstrumentType: domain.InstrumentStock,
			DisplayName: "Stock: AAPL", Metadata: map[string]any{"validated": false}, CreatedAt: created},
	}
	if err := s.InsertMasterEntries(ctx, entries); err != nil {
		t.Fatalf("InsertMasterEntries: %v", err)
	}
	// Re-inserting is a no-op rather than a conflict error.
	if err := s.InsertMasterEntries(ctx, entries); err != nil {
		t.Fatalf("InsertMasterEntries (repeat): %v", err)
	}

	tickers, err := s.ListMasterTickers(ctx)
	if err != nil {
		t.Fatalf("ListMasterTickers: %v", err)
	}
	if len(tickers) != 2 || tickers[0] != "AAPL" || tickers[1] != "MSFT" {
		t.Errorf("ListMasterTickers = %v, want [AAPL MSFT]", tickers)
	}

	got, err := s.GetMasterEntry(ctx, "AAPL")
	if err != nil {
		t.Fatalf("GetMasterEntry: %v", err)
	}
	if got.LastUpdated != nil {
		t.Errorf("LastUpdated = %v, want nil", got.LastUpdated)
	}
	if v, ok := got.Metadata["validated"].(bool); !ok || v {
		t.Errorf("Metadata[validated] = %v, want false", got.Metadata["validated"])
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	stamp := time.Date(2024, 6, 10, 16, 30, 0, 0, time.UTC)
	if err := s.TouchMasterEntry(ctx, "AAPL", stamp); err != nil {
		t.Fatalf("TouchMasterEntry: %v", err)
	}
	if err := s.TouchMasterEntry(ctx, "NOPE", stamp); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchMasterEntry(NOPE) = %v, want ErrNotFound", err)
	}

	// Upsert replaces metadata but keeps created_at and last_updated.
	upd := entries[1]
	upd.UserID = "u2"
	upd.InstrumentType = domain.InstrumentETF
	upd.CreatedAt = stamp
	if err := s.UpsertMasterEntry(ctx, upd); err != nil {
		t.Fatalf("UpsertMasterEntry: %v", err)
	}
	got, _ = s.GetMasterEntry(ctx, "AAPL")
	if got.UserID != "u2" || got.InstrumentType != domain.InstrumentETF {
		t.Errorf("after upsert: user=%q type=%q", got.UserID, got.InstrumentType)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("upsert changed CreatedAt to %v", got.CreatedAt)
	}
	if got.LastUpdated == nil || !got.LastUpdated.Equal(stamp) {
		t.Errorf("upsert changed LastUpdated to %v", got.LastUpdated)
	}

	if err := s.SetInstrumentType(ctx, "MSFT", domain.InstrumentFuture); err != nil {
		t.Fatalf("SetInstrumentType: %v", err)
	}
	if err := s.SetInstrumentType(ctx, "NOPE", domain.InstrumentFuture); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetInstrumentType(NOPE) = %v, want ErrNotFound", err)
	}

	if err := s.DeleteMasterEntries(ctx, []string{"MSFT", "ABSENT"}); err != nil {
		t.Fatalf("DeleteMasterEntries: %v", err)
	}
	all, err := s.ListMasterEntries(ctx)
	if err != nil {
		t.Fatalf("ListMasterEntries: %v", err)
	}
	if len(all) != 1 || all[0].Ticker != "AAPL" {
		t.Errorf("ListMasterEntries = %+v, want only AAPL", all)
	}

	if _, err := s.GetMasterEntry(ctx, "MSFT"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMasterEntry(MSFT) = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// SQLite: watchlists and profiles
// ---------------------------------------------------------------------------

func TestSQLiteWatchlistCascade(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, w := range []domain.Watchlist{
		{ID: "w1", UserID: "u1", Name: "Tech", CreatedAt: now},
		{ID: "w2", UserID: "u1", Name: "Energy", CreatedAt: now.Add(time.Hour)},
		{ID: "w3", UserID: "u2", Name: "Other", CreatedAt: now},
	} {
		if err := s.CreateWatchlist(ctx, w); err != nil {
			t.Fatalf("CreateWatchlist(%s): %v", w.ID, err)
		}
	}

	for _, ws := range []domain.WatchlistStock{
		{ID: "s1", WatchlistID: "w1", Ticker: "MSFT", CreatedAt: now},
		{ID: "s2", WatchlistID: "w1", Ticker: "AAPL", CreatedAt: now},
		{ID: "s3", WatchlistID: "w2", Ticker: "XOM", CreatedAt: now},
		{ID: "s4", WatchlistID: "w3", Ticker: "AAPL", CreatedAt: now},
	} {
		if err := s.InsertWatchlistStock(ctx, ws); err != nil {
			t.Fatalf("InsertWatchlistStock(%s): %v", ws.ID, err)
		}
	}

	lists, err := s.ListWatchlists(ctx, "u1")
	if err != nil {
		t.Fatalf("ListWatchlists: %v", err)
	}
	if len(lists) != 2 || lists[0].ID != "w1" {
		t.Errorf("ListWatchlists(u1) = %+v", lists)
	}

	stocks, err := s.ListWatchlistStocks(ctx, "w1")
	if err != nil {
		t.Fatalf("ListWatchlistStocks: %v", err)
	}
	if len(stocks) != 2 || stocks[0].Ticker != "AAPL" {
		t.Errorf("ListWatchlistStocks(w1) = %+v, want AAPL first", stocks)
	}

	refs, err := s.ListReferencedTickers(ctx)
	if err != nil {
		t.Fatalf("ListReferencedTickers: %v", err)
	}
	if want := []string{"AAPL", "MSFT", "XOM"}; !equalStrings(refs, want) {
		t.Errorf("ListReferencedTickers = %v, want %v", refs, want)
	}

	if err := s.SetDefaultWatchlist(ctx, "u1", "w2"); err != nil {
		t.Fatalf("SetDefaultWatchlist: %v", err)
	}
	if err := s.DeleteWatchlist(ctx, "w2"); err != nil {
		t.Fatalf("DeleteWatchlist: %v", err)
	}

	refs, _ = s.ListReferencedTickers(ctx)
	if want := []string{"AAPL", "MSFT"}; !equalStrings(refs, want) {
		t.Errorf("after delete ListReferencedTickers = %v, want %v", refs, want)
	}
	p, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.DefaultWatchlistID != "" {
		t.Errorf("DefaultWatchlistID = %q, want cleared", p.DefaultWatchlistID)
	}

	if err := s.DeleteWatchlistStock(ctx, "w3", "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteWatchlistStock across watchlists = %v, want ErrNotFound", err)
	}
	if err := s.DeleteWatchlistStock(ctx, "w1", "s1"); err != nil {
		t.Errorf("DeleteWatchlistStock: %v", err)
	}
	if err := s.DeleteWatchlist(ctx, "w2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteWatchlist twice = %v, want ErrNotFound", err)
	}
	if _, err := s.GetWatchlist(ctx, "w2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetWatchlist(w2) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteProfile(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if _, err := s.GetProfile(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetProfile(missing) = %v, want ErrNotFound", err)
	}
	p := domain.Profile{ID: "u1", Username: "trader", CreatedAt: time.Now()}
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatalf("SaveProfile: %v", err)
	}
	got, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.Username != "trader" {
		t.Errorf("Username = %q, want %q", got.Username, "trader")
	}
}

// ---------------------------------------------------------------------------
// SQLite: history
// ---------------------------------------------------------------------------

func TestSQLiteHistory(t *testing.T) {
	s := newTestSQLite(t)
	testHistoryStore(t, s)
}

func testHistoryStore(t *testing.T, h HistoryStore) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := h.LatestDate(ctx, "AAPL"); err != nil || ok {
		t.Fatalf("LatestDate on empty = ok %v err %v, want false nil", ok, err)
	}

	n, err := h.UpsertBars(ctx, []domain.Bar{
		bar("AAPL", day(2023, 12, 29), "190.10"),
		bar("AAPL", day(2024, 1, 2), "185.50"),
		bar("AAPL", day(2024, 1, 3), "186.00"),
	})
	if err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}
	if n != 3 {
		t.Errorf("UpsertBars wrote %d, want 3", n)
	}

	// Same key again must replace, not duplicate.
	if _, err := h.UpsertBars(ctx, []domain.Bar{bar("AAPL", day(2024, 1, 3), "187.25")}); err != nil {
		t.Fatalf("UpsertBars (replace): %v", err)
	}

	latest, ok, err := h.LatestDate(ctx, "AAPL")
	if err != nil || !ok {
		t.Fatalf("LatestDate = ok %v err %v", ok, err)
	}
	if !latest.Equal(day(2024, 1, 3)) {
		t.Errorf("LatestDate = %v, want 2024-01-03", latest)
	}

	got, err := h.ReadBars(ctx, "AAPL", day(2023, 12, 1), day(2024, 12, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadBars returned %d bars, want 3", len(got))
	}
	if !got[0].Date.Equal(day(2023, 12, 29)) {
		t.Errorf("first bar date = %v, want 2023-12-29", got[0].Date)
	}
	if got[2].Close.String() != "187.25" {
		t.Errorf("replaced bar Close = %s, want 187.25", got[2].Close)
	}

	got, _ = h.ReadBars(ctx, "AAPL", day(2024, 1, 2), day(2024, 1, 2))
	if len(got) != 1 {
		t.Errorf("single-day ReadBars returned %d bars, want 1", len(got))
	}
}

// ---------------------------------------------------------------------------
// Parquet
// ---------------------------------------------------------------------------

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	cases := []struct {
		ticker string
		want   string
	}{
		{"aapl", filepath.Join("/data", "history", "AAPL", "2024.parquet")},
		{"/es", filepath.Join("/data", "history", "_ES", "2024.parquet")},
		{"^GSPC", filepath.Join("/data", "history", "^GSPC", "2024.parquet")},
	}
	for _, c := range cases {
		got, err := ps.barPath(c.ticker, 2024)
		if err != nil {
			t.Errorf("barPath(%q): %v", c.ticker, err)
			continue
		}
		if got != c.want {
			t.Errorf("barPath(%q) mismatch:\n  got  %s\n  want %s", c.ticker, got, c.want)
		}
	}

	for _, bad := range []string{"../../X", "..", "A/B", "", `A\B`} {
		if got, err := ps.barPath(bad, 2024); err == nil {
			t.Errorf("barPath(%q) = %s, want error", bad, got)
		}
	}
}

func TestParquetStoreStaysInsideDataDir(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	ps := NewParquetStore(dataDir)
	ctx := context.Background()

	_, err := ps.UpsertBars(ctx, []domain.Bar{bar("../../ESCAPED", day(2024, 3, 1), "10")})
	if !domain.IsCode(err, domain.CodeValidation) {
		t.Errorf("UpsertBars(../../ESCAPED) err = %v, want VALIDATION", err)
	}
	for _, p := range []string{filepath.Join(root, "ESCAPED"), filepath.Join(dataDir, "ESCAPED")} {
		if _, err := os.Stat(p); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("%s exists after rejected write", p)
		}
	}
	if _, err := ps.ReadBars(ctx, "../../ESCAPED", day(2024, 1, 1), day(2024, 12, 31)); err == nil {
		t.Error("ReadBars(../../ESCAPED) succeeded, want error")
	}
}

func TestParquetStoreFuturesDoNotShareFiles(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if _, err := ps.UpsertBars(ctx, []domain.Bar{bar("/ES", day(2024, 3, 1), "5100")}); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}
	if _, ok, err := ps.LatestDate(ctx, "ES"); err != nil || ok {
		t.Errorf("LatestDate(ES) = ok %v err %v, want no bars", ok, err)
	}
	d, ok, err := ps.LatestDate(ctx, "/ES")
	if err != nil || !ok || !d.Equal(day(2024, 3, 1)) {
		t.Errorf("LatestDate(/ES) = %v %v %v, want 2024-03-01", d, ok, err)
	}
}

func TestParquetStoreKeepsUnreadableFile(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	path, err := ps.barPath("AAPL", 2024)
	if err != nil {
		t.Fatalf("barPath: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	corrupt := []byte("not a parquet file")
	if err := os.WriteFile(path, corrupt, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ps.UpsertBars(ctx, []domain.Bar{bar("AAPL", day(2024, 3, 1), "170")}); err == nil {
		t.Error("UpsertBars over unreadable file succeeded, want error")
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(corrupt) {
		t.Errorf("year file rewritten to %d bytes, want it untouched", len(got))
	}
	if _, err := ps.ReadBars(ctx, "AAPL", day(2024, 1, 1), day(2024, 12, 31)); err == nil {
		t.Error("ReadBars over unreadable file succeeded, want error")
	}
}

func TestParquetStoreWideRange(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	if _, err := ps.UpsertBars(ctx, []domain.Bar{
		bar("SPY", day(2023, 12, 29), "475"),
		bar("SPY", day(2024, 1, 2), "472"),
	}); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}

	start := time.Now()
	got, err := ps.ReadBars(ctx, "SPY", time.Unix(-99999999999, 0).UTC(), time.Unix(99999999999, 0).UTC())
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ReadBars returned %d bars, want 2", len(got))
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("ReadBars over a wide range took %v", elapsed)
	}
}

func TestParquetHistory(t *testing.T) {
	testHistoryStore(t, NewParquetStore(t.TempDir()))
}

func TestParquetStoreMergeKeepsCreatedAt(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	first := bar("MSFT", day(2024, 3, 1), "403")
	first.CreatedAt = time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	if _, err := ps.UpsertBars(ctx, []domain.Bar{first}); err != nil {
		t.Fatalf("UpsertBars (first): %v", err)
	}

	again := bar("MSFT", day(2024, 3, 1), "404")
	again.CreatedAt = time.Date(2024, 3, 5, 22, 0, 0, 0, time.UTC)
	if _, err := ps.UpsertBars(ctx, []domain.Bar{again, bar("MSFT", day(2024, 3, 4), "408")}); err != nil {
		t.Fatalf("UpsertBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "MSFT", day(2024, 1, 1), day(2024, 12, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close.String() != "404" {
		t.Errorf("merged Close = %s, want 404", got[0].Close)
	}
	if !got[0].CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("merged CreatedAt = %v, want %v", got[0].CreatedAt, first.CreatedAt)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
