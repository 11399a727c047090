// Package tickerwatch is a Go client for the tickerwatch REST API.
package tickerwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the tickerwatch-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	userID    string
	userEmail string
}

// NewClient creates a new tickerwatch API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithUser returns a copy of c that acts as the given user.
func (c *Client) WithUser(id, email string) *Client {
	cp := *c
	cp.userID = id
	cp.userEmail = email
	return &cp
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tickerwatch: %d: %s", e.StatusCode, e.Message)
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// Watchlist is a user watchlist.
type Watchlist struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	IsDefault bool      `json:"is_default"`
}

// Stock is a watchlist membership.
type Stock struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	CreatedAt time.Time `json:"created_at"`
}

// MasterEntry is a registry entry with its freshness tier.
type MasterEntry struct {
	Ticker         string         `json:"ticker"`
	CreatedByEmail string         `json:"created_by_email"`
	InstrumentType string         `json:"instrument_type"`
	DisplayName    string         `json:"display_name"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	LastUpdated    *time.Time     `json:"last_updated"`
	Status         string         `json:"status"`
	Color          string         `json:"color"`
}

// Status is one row of the status board.
type Status struct {
	Ticker     string `json:"ticker"`
	Status     string `json:"status"`
	Color      string `json:"color"`
	LatestDate string `json:"latest_date,omitempty"`
}

// AddTickersResult reports an ingestion run.
type AddTickersResult struct {
	AddedCount     int      `json:"added_count"`
	DuplicateCount int      `json:"duplicate_count"`
	Errors         []string `json:"errors"`
	Message        string   `json:"message"`
}

// SyncResult reports a registry reconcile.
type SyncResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Message string   `json:"message"`
}

// RefreshResult reports a conditional refresh.
type RefreshResult struct {
	Checked       int      `json:"checked"`
	Skipped       int      `json:"skipped"`
	SuccessCount  int      `json:"success_count"`
	FailedTickers []string `json:"failed_tickers"`
	Message       string   `json:"message"`
}

// Health is the server health report.
type Health struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Watchlists lists the acting user's watchlists.
func (c *Client) Watchlists(ctx context.Context) ([]Watchlist, error) {
	var resp struct {
		Watchlists []Watchlist `json:"watchlists"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/watchlists", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Watchlists, nil
}

// CreateWatchlist creates a watchlist.
func (c *Client) CreateWatchlist(ctx context.Context, name string) (*Watchlist, error) {
	var resp struct {
		Watchlist *Watchlist `json:"watchlist"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/watchlists", map[string]string{"name": name}, &resp); err != nil {
		return nil, err
	}
	return resp.Watchlist, nil
}

// Stocks lists the memberships of a watchlist.
func (c *Client) Stocks(ctx context.Context, watchlistID string) ([]Stock, error) {
	var resp struct {
		Stocks []Stock `json:"stocks"`
	}
	path := "/api/watchlists/" + url.PathEscape(watchlistID) + "/stocks"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Stocks, nil
}

// AddTickers adds free-form ticker input to a watchlist.
func (c *Client) AddTickers(ctx context.Context, watchlistID, tickers string) (*AddTickersResult, error) {
	var res AddTickersResult
	path := "/api/watchlists/" + url.PathEscape(watchlistID) + "/stocks"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"tickers": tickers}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Master lists the registry with freshness tiers.
func (c *Client) Master(ctx context.Context) ([]MasterEntry, error) {
	var resp struct {
		Entries []MasterEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/master", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Statuses returns the status board for tickers, or for every registered
// ticker when none are given.
func (c *Client) Statuses(ctx context.Context, tickers ...string) ([]Status, error) {
	path := "/api/status"
	if len(tickers) > 0 {
		path += "?tickers=" + url.QueryEscape(strings.Join(tickers, ","))
	}
	var resp struct {
		Statuses []Status `json:"statuses"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Statuses, nil
}

// Sync reconciles the registry with current watchlists.
func (c *Client) Sync(ctx context.Context) (*SyncResult, error) {
	var res SyncResult
	if err := c.do(ctx, http.MethodPost, "/api/master/sync", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Refresh re-fetches stale or missing tickers; all registered tickers when
// none are given.
func (c *Client) Refresh(ctx context.Context, tickers ...string) (*RefreshResult, error) {
	var res RefreshResult
	body := map[string][]string{"tickers": tickers}
	if err := c.do(ctx, http.MethodPost, "/api/master/refresh", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
		req.Header.Set("X-User-Email", c.userEmail)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
