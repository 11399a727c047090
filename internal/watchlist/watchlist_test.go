package watchlist

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/store"
)

var (
	alice = &domain.User{ID: "u-alice", Email: "alice@example.com"}
	bob   = &domain.User{ID: "u-bob", Email: "bob@example.com"}
)

func newTestService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tickerwatch.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	svc := NewService(s, s)
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("wl-%d", n)
	}
	clock := time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, s
}

func TestCreateAndList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, alice, "   "); !domain.IsCode(err, domain.CodeValidation) {
		t.Errorf("Create(blank) = %v, want VALIDATION", err)
	}
	if _, err := svc.Create(ctx, nil, "Tech"); !domain.IsCode(err, domain.CodeNotAuthenticated) {
		t.Errorf("Create(nil user) = %v, want NOT_AUTHENTICATED", err)
	}

	w1, err := svc.Create(ctx, alice, "  Tech ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if w1.Name != "Tech" {
		t.Errorf("Name = %q, want trimmed", w1.Name)
	}
	w2, _ := svc.Create(ctx, alice, "Energy")
	svc.Create(ctx, bob, "Bob's")

	if err := svc.SetDefault(ctx, alice, w2.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	lists, err := svc.List(ctx, alice)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(lists) != 2 || lists[0].ID != w1.ID || lists[1].ID != w2.ID {
		t.Fatalf("List = %+v", lists)
	}
	if lists[0].IsDefault || !lists[1].IsDefault {
		t.Errorf("IsDefault = %v/%v, want false/true", lists[0].IsDefault, lists[1].IsDefault)
	}
}

func TestOwnership(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	w, _ := svc.Create(ctx, alice, "Tech")

	if _, err := svc.Owned(ctx, bob, w.ID); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("Owned by bob = %v, want NOT_FOUND", err)
	}
	if err := svc.Delete(ctx, bob, w.ID); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("Delete by bob = %v, want NOT_FOUND", err)
	}
	if err := svc.SetDefault(ctx, bob, w.ID); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("SetDefault by bob = %v, want NOT_FOUND", err)
	}
	if _, err := svc.Stocks(ctx, alice, "nope"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("Stocks(nope) = %v, want NOT_FOUND", err)
	}
}

func TestDeleteCascadesAndClearsDefault(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	w, _ := svc.Create(ctx, alice, "Tech")
	ws := domain.WatchlistStock{ID: "s1", WatchlistID: w.ID, Ticker: "AAPL", CreatedAt: time.Now()}
	if err := s.InsertWatchlistStock(ctx, ws); err != nil {
		t.Fatalf("InsertWatchlistStock: %v", err)
	}
	if err := svc.SetDefault(ctx, alice, w.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	if err := svc.Delete(ctx, alice, w.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	p, err := svc.Profile(ctx, alice)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.DefaultWatchlistID != "" {
		t.Errorf("DefaultWatchlistID = %q, want cleared", p.DefaultWatchlistID)
	}
	if refs, _ := s.ListReferencedTickers(ctx); len(refs) != 0 {
		t.Errorf("memberships survived delete: %v", refs)
	}
}

func TestRemoveStock(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	w, _ := svc.Create(ctx, alice, "Tech")
	for _, tk := range []string{"MSFT", "AAPL"} {
		ws := domain.WatchlistStock{ID: "s-" + tk, WatchlistID: w.ID, Ticker: tk, CreatedAt: time.Now()}
		if err := s.InsertWatchlistStock(ctx, ws); err != nil {
			t.Fatalf("InsertWatchlistStock: %v", err)
		}
	}

	stocks, err := svc.Stocks(ctx, alice, w.ID)
	if err != nil {
		t.Fatalf("Stocks: %v", err)
	}
	if len(stocks) != 2 || stocks[0].Ticker != "AAPL" {
		t.Errorf("Stocks = %+v, want sorted by ticker", stocks)
	}

	if err := svc.RemoveStock(ctx, alice, w.ID, "s-AAPL"); err != nil {
		t.Fatalf("RemoveStock: %v", err)
	}
	if err := svc.RemoveStock(ctx, alice, w.ID, "s-AAPL"); !domain.IsCode(err, domain.CodeNotFound) {
		t.Errorf("RemoveStock twice = %v, want NOT_FOUND", err)
	}
	stocks, _ = svc.Stocks(ctx, alice, w.ID)
	if len(stocks) != 1 || stocks[0].Ticker != "MSFT" {
		t.Errorf("Stocks after remove = %+v", stocks)
	}
}

func TestUpdateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	w, _ := svc.Create(ctx, alice, "Tech")
	if err := svc.SetDefault(ctx, alice, w.ID); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	if _, err := svc.UpdateUsername(ctx, alice, " "); !domain.IsCode(err, domain.CodeValidation) {
		t.Errorf("UpdateUsername(blank) = %v, want VALIDATION", err)
	}
	p, err := svc.UpdateUsername(ctx, alice, " ally ")
	if err != nil {
		t.Fatalf("UpdateUsername: %v", err)
	}
	if p.Username != "ally" || p.DefaultWatchlistID != w.ID {
		t.Errorf("profile = %+v", p)
	}

	// A user without a stored profile gets an empty one.
	p, err = svc.Profile(ctx, bob)
	if err != nil || p.ID != bob.ID || p.Username != "" {
		t.Errorf("Profile(bob) = %+v, %v", p, err)
	}
}
