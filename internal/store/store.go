// Package store defines storage interfaces for the master registry,
// watchlists, profiles, and daily historical bars, together with the SQLite
// system of record and a Parquet alternative for history.
package store

import (
	"context"
	"errors"
	"time"

	"tickerwatch/internal/domain"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// RegistryStore persists the cross-user master registry. At most one entry
// exists per ticker.
type RegistryStore interface {
	// ListMasterEntries returns every entry ordered by ticker.
	ListMasterEntries(ctx context.Context) ([]domain.MasterEntry, error)

	// ListMasterTickers returns every registered ticker ordered by ticker.
	ListMasterTickers(ctx context.Context) ([]string, error)

	// GetMasterEntry returns the entry for ticker or ErrNotFound.
	GetMasterEntry(ctx context.Context, ticker string) (*domain.MasterEntry, error)

	// UpsertMasterEntry inserts the entry or, on a ticker conflict, replaces
	// its owner, type, display name, and metadata. CreatedAt and
	// LastUpdated of an existing row are preserved.
	UpsertMasterEntry(ctx context.Context, e domain.MasterEntry) error

	// InsertMasterEntries inserts a batch in one transaction. Tickers that
	// already exist are left untouched.
	InsertMasterEntries(ctx context.Context, entries []domain.MasterEntry) error

	// DeleteMasterEntries removes a batch of tickers in one transaction.
	DeleteMasterEntries(ctx context.Context, tickers []string) error

	// TouchMasterEntry sets last_updated for ticker. It returns ErrNotFound
	// when no entry exists.
	TouchMasterEntry(ctx context.Context, ticker string, at time.Time) error

	// SetInstrumentType changes the instrument type of ticker.
	SetInstrumentType(ctx context.Context, ticker string, t domain.InstrumentType) error
}

// WatchlistStore persists user watchlists and their ticker memberships.
type WatchlistStore interface {
	CreateWatchlist(ctx context.Context, w domain.Watchlist) error
	GetWatchlist(ctx context.Context, id string) (*domain.Watchlist, error)

	// ListWatchlists returns the user's watchlists ordered by creation time.
	ListWatchlists(ctx context.Context, userID string) ([]domain.Watchlist, error)

	// DeleteWatchlist removes the watchlist and cascades to its memberships.
	DeleteWatchlist(ctx context.Context, id string) error

	// ListWatchlistStocks returns memberships ordered by ticker.
	ListWatchlistStocks(ctx context.Context, watchlistID string) ([]domain.WatchlistStock, error)

	InsertWatchlistStock(ctx context.Context, s domain.WatchlistStock) error

	// DeleteWatchlistStock removes one membership scoped to its watchlist.
	DeleteWatchlistStock(ctx context.Context, watchlistID, id string) error

	// ListReferencedTickers returns the distinct tickers referenced by any
	// membership whose watchlist still exists, ordered by ticker.
	ListReferencedTickers(ctx context.Context) ([]string, error)
}

// ProfileStore persists per-user profile rows.
type ProfileStore interface {
	// GetProfile returns the user's profile or ErrNotFound.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	SaveProfile(ctx context.Context, p domain.Profile) error

	// SetDefaultWatchlist points the user's profile at watchlistID, creating
	// the profile if needed. An empty id clears the pointer.
	SetDefaultWatchlist(ctx context.Context, userID, watchlistID string) error
}

// HistoryStore persists daily OHLCV bars keyed by (ticker, date).
type HistoryStore interface {
	// UpsertBars writes bars, replacing any existing bar with the same
	// (ticker, date). It returns the number of bars written.
	UpsertBars(ctx context.Context, bars []domain.Bar) (int, error)

	// LatestDate returns the most recent bar date for ticker. ok is false
	// when the ticker has no bars.
	LatestDate(ctx context.Context, ticker string) (date time.Time, ok bool, err error)

	// ReadBars returns bars for ticker with from <= date <= to, ascending.
	ReadBars(ctx context.Context, ticker string, from, to time.Time) ([]domain.Bar, error)
}
