// Package registry maintains the cross-user master ticker registry: it
// reconciles the registry against current watchlist membership and serves
// the admin operations on individual entries.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/freshness"
	"tickerwatch/internal/store"
)

// ReferenceLister lists tickers referenced by live watchlists.
type ReferenceLister interface {
	ListReferencedTickers(ctx context.Context) ([]string, error)
}

// UsernameLookup reads a user's profile for the owner label.
type UsernameLookup interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

// Service reconciles and administers the master registry.
type Service struct {
	master     store.RegistryStore
	refs       ReferenceLister
	profiles   UsernameLookup
	classifier *freshness.Classifier
	now        func() time.Time
	log        *slog.Logger
}

// NewService creates a registry Service. profiles and classifier may be nil;
// without a classifier List reports every entry as missing.
func NewService(master store.RegistryStore, refs ReferenceLister, profiles UsernameLookup, classifier *freshness.Classifier) *Service {
	return &Service{
		master:     master,
		refs:       refs,
		profiles:   profiles,
		classifier: classifier,
		now:        time.Now,
		log:        slog.Default().With("component", "registry"),
	}
}

// ---------------------------------------------------------------------------
// Reconciliation
// ---------------------------------------------------------------------------

// Result reports the tickers a reconcile added to and removed from the
// registry.
type Result struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// UpToDate reports whether the reconcile changed nothing.
func (r Result) UpToDate() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0
}

// Summary is the human-readable outcome of a reconcile.
func (r Result) Summary() string {
	if r.UpToDate() {
		return "Master list is already up to date"
	}
	var parts []string
	if len(r.Added) > 0 {
		parts = append(parts, fmt.Sprintf("Added %d new tickers", len(r.Added)))
	}
	if len(r.Removed) > 0 {
		parts = append(parts, fmt.Sprintf("Removed %d orphaned tickers", len(r.Removed)))
	}
	return strings.Join(parts, " and ")
}

// Diff computes toAdd = watchlist − master and toRemove = master − watchlist.
// Both results are sorted and free of duplicates.
func Diff(watchlist, master []string) (toAdd, toRemove []string) {
	inWatchlist := toSet(watchlist)
	inMaster := toSet(master)

	for t := range inWatchlist {
		if !inMaster[t] {
			toAdd = append(toAdd, t)
		}
	}
	for t := range inMaster {
		if !inWatchlist[t] {
			toRemove = append(toRemove, t)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)
	return toAdd, toRemove
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// Reconcile brings the registry in line with the tickers referenced by any
// watchlist. The add batch and the remove batch are each all-or-nothing; a
// failure in either aborts the reconcile.
func (s *Service) Reconcile(ctx context.Context, user *domain.User) (Result, error) {
	if err := domain.RequireUser(user); err != nil {
		return Result{}, err
	}

	referenced, err := s.refs.ListReferencedTickers(ctx)
	if err != nil {
		return Result{}, domain.NewError(domain.CodeStore, "failed to read watchlist tickers", err)
	}
	current, err := s.master.ListMasterTickers(ctx)
	if err != nil {
		return Result{}, domain.NewError(domain.CodeStore, "failed to read master list", err)
	}

	toAdd, toRemove := Diff(referenced, current)

	if len(toAdd) > 0 {
		label := OwnerLabel(ctx, s.profiles, user)
		now := s.now()
		entries := make([]domain.MasterEntry, 0, len(toAdd))
		for _, t := range toAdd {
			entries = append(entries, NewEntry(t, user.ID, label, domain.InstrumentStock, nil, now))
		}
		if err := s.master.InsertMasterEntries(ctx, entries); err != nil {
			return Result{}, domain.NewError(domain.CodeRegistryWrite, "failed to update master list", err)
		}
	}

	if len(toRemove) > 0 {
		if err := s.master.DeleteMasterEntries(ctx, toRemove); err != nil {
			return Result{Added: toAdd}, domain.NewError(domain.CodeRegistryWrite, "failed to update master list", err)
		}
	}

	s.log.Info("reconciled master list", "added", len(toAdd), "removed", len(toRemove), "user", user.ID)
	return Result{Added: toAdd, Removed: toRemove}, nil
}

// ---------------------------------------------------------------------------
// Entry construction
// ---------------------------------------------------------------------------

// NewEntry builds a registry entry with the standard display name. A nil
// metadata map becomes {validated: false}.
func NewEntry(ticker, userID, ownerLabel string, itype domain.InstrumentType, metadata map[string]any, now time.Time) domain.MasterEntry {
	if itype == "" {
		itype = domain.InstrumentStock
	}
	if metadata == nil {
		metadata = map[string]any{"validated": false}
	}
	ticker = domain.NormalizeTicker(ticker)
	return domain.MasterEntry{
		Ticker:         ticker,
		UserID:         userID,
		CreatedByEmail: ownerLabel,
		InstrumentType: itype,
		DisplayName:    itype.DisplayPrefix() + ": " + ticker,
		Metadata:       metadata,
		CreatedAt:      now,
	}
}

// OwnerLabel is the audit label recorded on entries: the user's profile
// username when set, else their email.
func OwnerLabel(ctx context.Context, profiles UsernameLookup, user *domain.User) string {
	if profiles != nil {
		p, err := profiles.GetProfile(ctx, user.ID)
		if err == nil && p.Username != "" {
			return p.Username
		}
	}
	return user.Email
}

// ---------------------------------------------------------------------------
// Admin operations
// ---------------------------------------------------------------------------

// EntryStatus pairs a registry entry with its freshness tier.
type EntryStatus struct {
	domain.MasterEntry
	Status domain.Status `json:"status"`
	Color  string        `json:"color"`
}

// List returns every registry entry ordered by ticker with its freshness.
func (s *Service) List(ctx context.Context) ([]EntryStatus, error) {
	entries, err := s.master.ListMasterEntries(ctx)
	if err != nil {
		return nil, domain.NewError(domain.CodeStore, "failed to load master list", err)
	}

	tickers := make([]string, len(entries))
	for i, e := range entries {
		tickers[i] = e.Ticker
	}
	statuses := s.classify(ctx, tickers)

	out := make([]EntryStatus, len(entries))
	for i, e := range entries {
		out[i] = EntryStatus{MasterEntry: e, Status: statuses[i].Status, Color: statuses[i].Status.Color()}
	}
	return out, nil
}

// Statuses classifies the given tickers, or every registered ticker when
// tickers is empty.
func (s *Service) Statuses(ctx context.Context, tickers []string) ([]freshness.Classification, error) {
	if len(tickers) == 0 {
		all, err := s.master.ListMasterTickers(ctx)
		if err != nil {
			return nil, domain.NewError(domain.CodeStore, "failed to load master list", err)
		}
		tickers = all
	}
	norm := make([]string, len(tickers))
	for i, t := range tickers {
		norm[i] = domain.NormalizeTicker(t)
	}
	return s.classify(ctx, norm), nil
}

func (s *Service) classify(ctx context.Context, tickers []string) []freshness.Classification {
	if s.classifier != nil {
		return s.classifier.ClassifyAll(ctx, tickers)
	}
	out := make([]freshness.Classification, len(tickers))
	for i, t := range tickers {
		out[i] = freshness.Classification{Ticker: t, Status: domain.StatusMissing}
	}
	return out
}

// AddTicker inserts a single ticker with the default stock type. Adding a
// ticker that is already registered leaves the existing entry untouched.
func (s *Service) AddTicker(ctx context.Context, user *domain.User, ticker string) (*domain.MasterEntry, error) {
	if err := domain.RequireUser(user); err != nil {
		return nil, err
	}
	ticker = domain.NormalizeTicker(ticker)
	if err := domain.ValidateTicker(ticker); err != nil {
		return nil, err
	}

	e := NewEntry(ticker, user.ID, OwnerLabel(ctx, s.profiles, user), domain.InstrumentStock, nil, s.now())
	if err := s.master.InsertMasterEntries(ctx, []domain.MasterEntry{e}); err != nil {
		return nil, domain.NewError(domain.CodeRegistryWrite, "Failed to add ticker", err)
	}
	got, err := s.master.GetMasterEntry(ctx, ticker)
	if err != nil {
		return nil, domain.NewError(domain.CodeStore, "Failed to add ticker", err)
	}
	s.log.Info("added ticker", "ticker", ticker, "user", user.ID)
	return got, nil
}

// DeleteTicker removes one ticker from the registry.
func (s *Service) DeleteTicker(ctx context.Context, user *domain.User, ticker string) error {
	if err := domain.RequireUser(user); err != nil {
		return err
	}
	ticker = domain.NormalizeTicker(ticker)
	if _, err := s.master.GetMasterEntry(ctx, ticker); err != nil {
		return notFoundOr(err, "ticker "+ticker+" not found", domain.CodeStore, "Failed to delete ticker")
	}
	if err := s.master.DeleteMasterEntries(ctx, []string{ticker}); err != nil {
		return domain.NewError(domain.CodeRegistryWrite, "Failed to delete ticker", err)
	}
	s.log.Info("deleted ticker", "ticker", ticker, "user", user.ID)
	return nil
}

// SetInstrumentType changes the instrument type of a registered ticker.
func (s *Service) SetInstrumentType(ctx context.Context, user *domain.User, ticker, itype string) error {
	if err := domain.RequireUser(user); err != nil {
		return err
	}
	t, err := domain.ParseInstrumentType(itype)
	if err != nil {
		return err
	}
	ticker = domain.NormalizeTicker(ticker)
	if err := s.master.SetInstrumentType(ctx, ticker, t); err != nil {
		return notFoundOr(err, "ticker "+ticker+" not found", domain.CodeRegistryWrite, "Failed to update instrument type")
	}
	return nil
}

func notFoundOr(err error, notFoundMsg, code, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewError(domain.CodeNotFound, notFoundMsg, err)
	}
	return domain.NewError(code, msg, err)
}
