// Package ingest adds free-form ticker input to a watchlist: it tokenizes
// and normalizes the input, skips existing memberships, registers each new
// ticker in the master registry, triggers a best-effort history fetch, and
// links the ticker to the watchlist.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/marketdata"
	"tickerwatch/internal/registry"
	"tickerwatch/internal/store"
)

// isSeparator reports commas and Unicode whitespace, including NBSP and the
// byte order mark.
func isSeparator(r rune) bool {
	return r == ',' || r == '\uFEFF' || unicode.IsSpace(r)
}

// Tokenize upper-cases raw, splits it on runs of commas and whitespace, and
// drops empty tokens. Blank input is a validation error.
func Tokenize(raw string) ([]string, error) {
	tokens := strings.FieldsFunc(strings.ToUpper(raw), isSeparator)
	if len(tokens) == 0 {
		return nil, domain.NewError(domain.CodeValidation, "Please enter ticker symbol(s)", nil)
	}
	return tokens, nil
}

// Unique keeps the first occurrence of each token, preserving order.
func Unique(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Registry is the registry write surface the pipeline needs.
type Registry interface {
	UpsertMasterEntry(ctx context.Context, e domain.MasterEntry) error
	TouchMasterEntry(ctx context.Context, ticker string, at time.Time) error
}

// Memberships is the watchlist surface the pipeline needs.
type Memberships interface {
	GetWatchlist(ctx context.Context, id string) (*domain.Watchlist, error)
	ListWatchlistStocks(ctx context.Context, watchlistID string) ([]domain.WatchlistStock, error)
	InsertWatchlistStock(ctx context.Context, s domain.WatchlistStock) error
}

// Resolver maps a ticker to its chart symbol and exchange.
type Resolver interface {
	Resolve(ctx context.Context, ticker string) marketdata.Resolution
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// SideEffect reports the best-effort history fetch for one added ticker. It
// never influences whether the ticker counts as added.
type SideEffect struct {
	Ticker string `json:"ticker"`
	OK     bool   `json:"ok"`
	Count  int    `json:"count,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result aggregates the outcome of one AddTickers call.
type Result struct {
	AddedCount     int          `json:"added_count"`
	DuplicateCount int          `json:"duplicate_count"`
	Errors         []string     `json:"errors"`
	Added          []string     `json:"added"`
	Duplicates     []string     `json:"duplicates"`
	SideEffects    []SideEffect `json:"side_effects,omitempty"`
}

// Success is the combined success notice, or "" when nothing was added.
func (r Result) Success() string {
	switch r.AddedCount {
	case 0:
		return ""
	case 1:
		return "Successfully added 1 ticker"
	default:
		return fmt.Sprintf("Successfully added %d tickers", r.AddedCount)
	}
}

// Warning is the combined duplicate/error notice, or "" when there is none.
func (r Result) Warning() string {
	var parts []string
	if r.DuplicateCount == 1 {
		parts = append(parts, "1 ticker was already in the watchlist")
	} else if r.DuplicateCount > 1 {
		parts = append(parts, fmt.Sprintf("%d tickers were already in the watchlist", r.DuplicateCount))
	}
	if len(r.Errors) > 0 {
		parts = append(parts, "Error adding "+strings.Join(r.Errors, ", "))
	}
	return strings.Join(parts, "; ")
}

// Summary joins Success and Warning.
func (r Result) Summary() string {
	var parts []string
	for _, p := range []string{r.Success(), r.Warning()} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "No tickers added"
	}
	return strings.Join(parts, "; ")
}

type outcomeKind int

const (
	outcomeAdded outcomeKind = iota
	outcomeDuplicate
	outcomeFailed
)

// outcome is the immutable result of processing one token.
type outcome struct {
	ticker string
	kind   outcomeKind
	side   *SideEffect
}

// merge returns a new Result combining r with o. r is not modified.
func (r Result) merge(o outcome) Result {
	next := Result{
		AddedCount:     r.AddedCount,
		DuplicateCount: r.DuplicateCount,
		Errors:         append([]string(nil), r.Errors...),
		Added:          append([]string(nil), r.Added...),
		Duplicates:     append([]string(nil), r.Duplicates...),
		SideEffects:    append([]SideEffect(nil), r.SideEffects...),
	}
	switch o.kind {
	case outcomeAdded:
		next.AddedCount++
		next.Added = append(next.Added, o.ticker)
	case outcomeDuplicate:
		next.DuplicateCount++
		next.Duplicates = append(next.Duplicates, o.ticker)
	case outcomeFailed:
		next.Errors = append(next.Errors, o.ticker)
	}
	if o.side != nil {
		next.SideEffects = append(next.SideEffects, *o.side)
	}
	return next
}

func fold(outcomes []outcome) Result {
	r := Result{Errors: []string{}, Added: []string{}, Duplicates: []string{}}
	for _, o := range outcomes {
		r = r.merge(o)
	}
	return r
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// Pipeline adds tickers to watchlists.
type Pipeline struct {
	registry Registry
	lists    Memberships
	profiles registry.UsernameLookup
	resolver Resolver
	fetcher  marketdata.Fetcher
	newID    func() string
	now      func() time.Time
	log      *slog.Logger
}

// NewPipeline creates a Pipeline. fetcher may be nil, which skips the
// history side effect.
func NewPipeline(reg Registry, lists Memberships, profiles registry.UsernameLookup, resolver Resolver, fetcher marketdata.Fetcher) *Pipeline {
	return &Pipeline{
		registry: reg,
		lists:    lists,
		profiles: profiles,
		resolver: resolver,
		fetcher:  fetcher,
		newID:    uuid.NewString,
		now:      time.Now,
		log:      slog.Default().With("component", "ingest"),
	}
}

// AddTickers processes raw in token order. Each ticker is isolated: a
// malformed symbol or a failed write lands the ticker in Errors and
// processing continues with the next token.
func (p *Pipeline) AddTickers(ctx context.Context, user *domain.User, watchlistID, raw string) (Result, error) {
	if err := domain.RequireUser(user); err != nil {
		return Result{}, err
	}
	tokens, err := Tokenize(raw)
	if err != nil {
		return Result{}, err
	}

	wl, err := p.lists.GetWatchlist(ctx, watchlistID)
	if err != nil || wl.UserID != user.ID {
		if err == nil || errors.Is(err, store.ErrNotFound) {
			return Result{}, domain.NewError(domain.CodeNotFound, "Please select a watchlist first", err)
		}
		return Result{}, domain.NewError(domain.CodeStore, "failed to load watchlist", err)
	}

	existing, err := p.lists.ListWatchlistStocks(ctx, watchlistID)
	if err != nil {
		return Result{}, domain.NewError(domain.CodeStore, "failed to load watchlist tickers", err)
	}
	members := make(map[string]bool, len(existing))
	for _, ws := range existing {
		members[domain.NormalizeTicker(ws.Ticker)] = true
	}

	label := registry.OwnerLabel(ctx, p.profiles, user)

	tokens = Unique(tokens)
	outcomes := make([]outcome, 0, len(tokens))
	for _, ticker := range tokens {
		if err := domain.ValidateTicker(ticker); err != nil {
			p.log.Warn("rejected ticker", "ticker", ticker, "error", err)
			outcomes = append(outcomes, outcome{ticker: ticker, kind: outcomeFailed})
			continue
		}
		if members[ticker] {
			outcomes = append(outcomes, outcome{ticker: ticker, kind: outcomeDuplicate})
			continue
		}
		outcomes = append(outcomes, p.addOne(ctx, user, label, watchlistID, ticker))
	}

	res := fold(outcomes)
	p.log.Info("tickers ingested",
		"watchlist", watchlistID,
		"added", res.AddedCount,
		"duplicates", res.DuplicateCount,
		"errors", len(res.Errors),
	)
	return res, nil
}

func (p *Pipeline) addOne(ctx context.Context, user *domain.User, label, watchlistID, ticker string) outcome {
	res := p.resolver.Resolve(ctx, ticker)
	entry := registry.NewEntry(ticker, user.ID, label, res.InstrumentType, res.Metadata(), p.now())
	if err := p.registry.UpsertMasterEntry(ctx, entry); err != nil {
		p.log.Warn("registry upsert failed", "ticker", ticker, "error", err)
		return outcome{ticker: ticker, kind: outcomeFailed}
	}

	side := p.fetchHistory(ctx, ticker)

	ws := domain.WatchlistStock{
		ID:          p.newID(),
		WatchlistID: watchlistID,
		Ticker:      ticker,
		CreatedAt:   p.now(),
	}
	if err := p.lists.InsertWatchlistStock(ctx, ws); err != nil {
		p.log.Warn("membership insert failed", "ticker", ticker, "error", err)
		return outcome{ticker: ticker, kind: outcomeFailed, side: side}
	}
	return outcome{ticker: ticker, kind: outcomeAdded, side: side}
}

// fetchHistory is the non-critical side effect. Failures are logged and
// reported but never returned.
func (p *Pipeline) fetchHistory(ctx context.Context, ticker string) *SideEffect {
	if p.fetcher == nil {
		return nil
	}
	n, err := marketdata.FetchTicker(ctx, p.fetcher, ticker)
	if err != nil {
		p.log.Warn("history fetch failed", "ticker", ticker, "error", err)
		return &SideEffect{Ticker: ticker, Error: domain.MessageOf(err)}
	}
	if err := p.registry.TouchMasterEntry(ctx, ticker, p.now()); err != nil {
		p.log.Warn("stamping last_updated failed", "ticker", ticker, "error", err)
	}
	return &SideEffect{Ticker: ticker, OK: true, Count: n}
}
