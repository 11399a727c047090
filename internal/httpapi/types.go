// Package httpapi provides the REST API over watchlists, the master ticker
// registry, refreshes, and the chart data feed.
package httpapi

import (
	"tickerwatch/internal/domain"
	"tickerwatch/internal/freshness"
	"tickerwatch/internal/ingest"
	"tickerwatch/internal/refresh"
	"tickerwatch/internal/registry"
)

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// CreateWatchlistRequest is the body of POST /api/watchlists.
type CreateWatchlistRequest struct {
	Name string `json:"name"`
}

// AddTickersRequest is the body of POST /api/watchlists/{id}/stocks. Tickers
// is free-form input separated by commas or whitespace.
type AddTickersRequest struct {
	Tickers string `json:"tickers"`
}

// AddMasterRequest is the body of POST /api/master.
type AddMasterRequest struct {
	Ticker string `json:"ticker"`
}

// SetTypeRequest is the body of PUT /api/master/{ticker}/type.
type SetTypeRequest struct {
	InstrumentType string `json:"instrument_type"`
}

// RefreshRequest is the optional body of POST /api/master/refresh. An
// empty list refreshes every registered ticker.
type RefreshRequest struct {
	Tickers []string `json:"tickers"`
}

// UpdateProfileRequest is the body of PUT /api/profile.
type UpdateProfileRequest struct {
	Username string `json:"username"`
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// MessageResponse carries a user-facing notice.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// WatchlistsResponse lists a user's watchlists.
type WatchlistsResponse struct {
	Watchlists []domain.Watchlist `json:"watchlists"`
}

// WatchlistResponse wraps a created watchlist.
type WatchlistResponse struct {
	Watchlist *domain.Watchlist `json:"watchlist"`
	Message   string            `json:"message"`
}

// StocksResponse lists the memberships of a watchlist.
type StocksResponse struct {
	WatchlistID string                  `json:"watchlist_id"`
	Stocks      []domain.WatchlistStock `json:"stocks"`
}

// AddTickersResponse reports an ingestion run.
type AddTickersResponse struct {
	ingest.Result
	Message string `json:"message"`
}

// MasterListResponse lists the registry with freshness tiers.
type MasterListResponse struct {
	Entries []registry.EntryStatus `json:"entries"`
}

// MasterEntryResponse wraps a single registry entry.
type MasterEntryResponse struct {
	Entry   *domain.MasterEntry `json:"entry"`
	Message string              `json:"message"`
}

// SyncResponse reports a reconcile.
type SyncResponse struct {
	registry.Result
	Message string `json:"message"`
}

// RefreshResponse reports a conditional refresh.
type RefreshResponse struct {
	refresh.Result
	Message string `json:"message"`
}

// RefreshTickerResponse reports a forced single-ticker refresh.
type RefreshTickerResponse struct {
	Ticker  string `json:"ticker"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// StatusJSON is one row of the status board.
type StatusJSON struct {
	Ticker     string        `json:"ticker"`
	Status     domain.Status `json:"status"`
	Color      string        `json:"color"`
	LatestDate string        `json:"latest_date,omitempty"`
}

// StatusResponse is the status board.
type StatusResponse struct {
	Statuses []StatusJSON `json:"statuses"`
}

// ProfileResponse wraps a profile.
type ProfileResponse struct {
	Profile *domain.Profile `json:"profile"`
	Message string          `json:"message,omitempty"`
}

func convertStatuses(cs []freshness.Classification) []StatusJSON {
	out := make([]StatusJSON, len(cs))
	for i, c := range cs {
		out[i] = StatusJSON{Ticker: c.Ticker, Status: c.Status, Color: c.Status.Color()}
		if c.LatestDate != nil {
			out[i].LatestDate = c.LatestDate.Format(domain.DateLayout)
		}
	}
	return out
}
