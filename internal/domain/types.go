// Package domain defines the core types shared across tickerwatch: tickers,
// the master registry, watchlists, profiles, and daily OHLCV bars.
package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the on-disk and wire format for trading dates.
const DateLayout = "2006-01-02"

// NormalizeTicker upper-cases and trims a raw symbol.
func NormalizeTicker(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// MaxTickerLen bounds the length of a ticker symbol.
const MaxTickerLen = 16

// tickerPattern admits letters, digits, and . - = after an optional "/"
// (futures) or "^" (indices) prefix.
var tickerPattern = regexp.MustCompile(`^[/^]?[A-Z0-9][A-Z0-9.=-]*$`)

// ValidateTicker checks that a normalized ticker is a well-formed symbol.
// Tickers name files and URL segments, so anything else is rejected.
func ValidateTicker(ticker string) error {
	if ticker == "" {
		return NewError(CodeValidation, "Please enter a ticker symbol", nil)
	}
	if len(ticker) > MaxTickerLen || !tickerPattern.MatchString(ticker) {
		return NewError(CodeValidation, fmt.Sprintf("invalid ticker symbol %q", ticker), nil)
	}
	return nil
}

// InstrumentType classifies a registry entry.
type InstrumentType string

const (
	InstrumentStock  InstrumentType = "stock"
	InstrumentETF    InstrumentType = "etf"
	InstrumentFuture InstrumentType = "future"
	InstrumentForex  InstrumentType = "forex"
	InstrumentOption InstrumentType = "option"
	InstrumentCrypto InstrumentType = "crypto"
)

// ParseInstrumentType validates s against the allowed instrument types.
func ParseInstrumentType(s string) (InstrumentType, error) {
	switch t := InstrumentType(strings.ToLower(strings.TrimSpace(s))); t {
	case InstrumentStock, InstrumentETF, InstrumentFuture, InstrumentForex, InstrumentOption, InstrumentCrypto:
		return t, nil
	}
	return "", NewError(CodeValidation, fmt.Sprintf("unknown instrument type %q", s), nil)
}

// DisplayPrefix is the label used in generated display names ("Stock: AAPL").
func (t InstrumentType) DisplayPrefix() string {
	switch t {
	case InstrumentETF:
		return "ETF"
	case InstrumentFuture:
		return "Future"
	case InstrumentForex:
		return "Forex"
	case InstrumentOption:
		return "Option"
	case InstrumentCrypto:
		return "Crypto"
	default:
		return "Stock"
	}
}

// User is the acting identity for mutating operations.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// MasterEntry is one row of the cross-user ticker registry.
type MasterEntry struct {
	Ticker         string         `json:"ticker"`
	UserID         string         `json:"user_id"`
	CreatedByEmail string         `json:"created_by_email"`
	InstrumentType InstrumentType `json:"instrument_type"`
	DisplayName    string         `json:"display_name"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastUpdated    *time.Time     `json:"last_updated"` // nil: never fetched
}

// Watchlist is a named, user-owned collection of ticker memberships.
// IsDefault is derived from the owner's profile and never stored here.
type Watchlist struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	IsDefault bool       `json:"is_default"`
}

// WatchlistStock links a ticker to a watchlist.
type WatchlistStock struct {
	ID          string    `json:"id"`
	WatchlistID string    `json:"watchlist_id"`
	Ticker      string    `json:"ticker"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile carries per-user display data and the default watchlist pointer.
type Profile struct {
	ID                 string     `json:"id"`
	Username           string     `json:"username,omitempty"`
	DefaultWatchlistID string     `json:"default_watchlist_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}

// Bar is a daily OHLCV record keyed by (Ticker, Date).
type Bar struct {
	Ticker      string          `json:"ticker"`
	Date        time.Time       `json:"date"` // midnight UTC
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      int64           `json:"volume"`
	CreatedAt   time.Time       `json:"created_at"`
	LastUpdated time.Time       `json:"last_updated"`
}

// DateOnly truncates t to midnight UTC of its calendar date in t's location.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Status is the staleness tier of a ticker's historical data.
type Status string

const (
	StatusFresh   Status = "fresh"
	StatusStale   Status = "stale"
	StatusMissing Status = "missing"
)

// Color maps a status tier to its display colour.
func (s Status) Color() string {
	switch s {
	case StatusFresh:
		return "green"
	case StatusStale:
		return "yellow"
	default:
		return "red"
	}
}

// NeedsRefresh reports whether the tier calls for a new fetch.
func (s Status) NeedsRefresh() bool {
	return s != StatusFresh
}
