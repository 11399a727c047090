// Package watchlist manages user watchlists, their memberships, and the
// profile that carries a user's default watchlist.
package watchlist

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/store"
)

// Service implements the watchlist lifecycle for one store.
type Service struct {
	lists    store.WatchlistStore
	profiles store.ProfileStore
	newID    func() string
	now      func() time.Time
	log      *slog.Logger
}

// NewService creates a watchlist Service.
func NewService(lists store.WatchlistStore, profiles store.ProfileStore) *Service {
	return &Service{
		lists:    lists,
		profiles: profiles,
		newID:    uuid.NewString,
		now:      time.Now,
		log:      slog.Default().With("component", "watchlist"),
	}
}

// ---------------------------------------------------------------------------
// Watchlists
// ---------------------------------------------------------------------------

// Create adds a watchlist named name for user.
func (s *Service) Create(ctx context.Context, user *domain.User, name string) (*domain.Watchlist, error) {
	if err := domain.RequireUser(user); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewError(domain.CodeValidation, "Please enter a watchlist name", nil)
	}
	w := domain.Watchlist{
		ID:        s.newID(),
		UserID:    user.ID,
		Name:      name,
		CreatedAt: s.now(),
	}
	if err := s.lists.CreateWatchlist(ctx, w); err != nil {
		return nil, domain.NewError(domain.CodeStore, "Failed to create watchlist", err)
	}
	s.log.Info("watchlist created", "id", w.ID, "user", user.ID)
	return &w, nil
}

// List returns user's watchlists oldest first with IsDefault derived from
// the profile pointer.
func (s *Service) List(ctx context.Context, user *domain.User) ([]domain.Watchlist, error) {
	if err := domain.RequireUser(user); err != nil {
		return nil, err
	}
	lists, err := s.lists.ListWatchlists(ctx, user.ID)
	if err != nil {
		return nil, domain.NewError(domain.CodeStore, "Failed to load watchlists", err)
	}
	defaultID := s.defaultID(ctx, user.ID)
	for i := range lists {
		lists[i].IsDefault = lists[i].ID == defaultID
	}
	if lists == nil {
		lists = []domain.Watchlist{}
	}
	return lists, nil
}

// Owned returns the watchlist when it exists and belongs to user. A
// watchlist owned by someone else is reported as not found.
func (s *Service) Owned(ctx context.Context, user *domain.User, id string) (*domain.Watchlist, error) {
	if err := domain.RequireUser(user); err != nil {
		return nil, err
	}
	w, err := s.lists.GetWatchlist(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && w.UserID != user.ID) {
		return nil, domain.NewError(domain.CodeNotFound, "watchlist not found", err)
	}
	if err != nil {
		return nil, domain.NewError(domain.CodeStore, "Failed to load watchlist", err)
	}
	w.IsDefault = w.ID == s.defaultID(ctx, user.ID)
	return w, nil
}

// Delete removes the watchlist and its memberships. The profile default is
// cleared first when it points at the watchlist.
func (s *Service) Delete(ctx context.Context, user *domain.User, id string) error {
	w, err := s.Owned(ctx, user, id)
	if err != nil {
		return err
	}
	if w.IsDefault {
		if err := s.profiles.SetDefaultWatchlist(ctx, user.ID, ""); err != nil {
			return domain.NewError(domain.CodeStore, "Failed to delete watchlist", err)
		}
	}
	if err := s.lists.DeleteWatchlist(ctx, id); err != nil {
		return domain.NewError(domain.CodeStore, "Failed to delete watchlist", err)
	}
	s.log.Info("watchlist deleted", "id", id, "user", user.ID)
	return nil
}

// SetDefault points user's profile at the watchlist.
func (s *Service) SetDefault(ctx context.Context, user *domain.User, id string) error {
	if _, err := s.Owned(ctx, user, id); err != nil {
		return err
	}
	if err := s.profiles.SetDefaultWatchlist(ctx, user.ID, id); err != nil {
		return domain.NewError(domain.CodeStore, "Failed to set default watchlist", err)
	}
	return nil
}

func (s *Service) defaultID(ctx context.Context, userID string) string {
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("profile lookup failed", "user", userID, "error", err)
		}
		return ""
	}
	return p.DefaultWatchlistID
}

// ---------------------------------------------------------------------------
// Memberships
// ---------------------------------------------------------------------------

// Stocks returns the memberships of an owned watchlist sorted by ticker.
func (s *Service) Stocks(ctx context.Context, user *domain.User, id string) ([]domain.WatchlistStock, error) {
	if _, err := s.Owned(ctx, user, id); err != nil {
		return nil, err
	}
	stocks, err := s.lists.ListWatchlistStocks(ctx, id)
	if err != nil {
		return nil, domain.NewError(domain.CodeStore, "Failed to load watchlist tickers", err)
	}
	if stocks == nil {
		stocks = []domain.WatchlistStock{}
	}
	return stocks, nil
}

// RemoveStock deletes one membership. The master registry is left alone;
// orphaned entries are cleaned up by reconciliation.
func (s *Service) RemoveStock(ctx context.Context, user *domain.User, watchlistID, stockID string) error {
	if _, err := s.Owned(ctx, user, watchlistID); err != nil {
		return err
	}
	err := s.lists.DeleteWatchlistStock(ctx, watchlistID, stockID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NewError(domain.CodeNotFound, "ticker not found in watchlist", err)
	}
	if err != nil {
		return domain.NewError(domain.CodeStore, "Failed to remove ticker", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

// Profile returns user's profile, or an empty one when none is stored yet.
func (s *Service) Profile(ctx context.Context, user *domain.User) (*domain.Profile, error) {
	if err := domain.RequireUser(user); err != nil {
		return nil, err
	}
	p, err := s.profiles.GetProfile(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return &domain.Profile{ID: user.ID}, nil
	}
	if err != nil {
		return nil, domain.NewError(domain.CodeStore, "Failed to load profile", err)
	}
	return p, nil
}

// UpdateUsername sets the profile username, creating the profile when
// needed. The default watchlist pointer is preserved.
func (s *Service) UpdateUsername(ctx context.Context, user *domain.User, username string) (*domain.Profile, error) {
	p, err := s.Profile(ctx, user)
	if err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, domain.NewError(domain.CodeValidation, "Please enter a username", nil)
	}

	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.Username = username
	p.UpdatedAt = &now
	if err := s.profiles.SaveProfile(ctx, *p); err != nil {
		return nil, domain.NewError(domain.CodeStore, "Failed to update profile", err)
	}
	return p, nil
}
