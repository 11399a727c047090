package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tickerwatch/internal/datafeed"
	"tickerwatch/internal/domain"
	"tickerwatch/internal/identity"
	"tickerwatch/internal/ingest"
	"tickerwatch/internal/refresh"
	"tickerwatch/internal/registry"
	"tickerwatch/internal/watchlist"
)

// Pinger reports store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the REST API.
type Server struct {
	registry   *registry.Service
	watchlists *watchlist.Service
	ingest     *ingest.Pipeline
	refresher  *refresh.Refresher
	feed       *datafeed.Feed
	store      Pinger
	log        *slog.Logger
}

// NewServer creates a Server over the given services.
func NewServer(
	reg *registry.Service,
	watchlists *watchlist.Service,
	pipeline *ingest.Pipeline,
	refresher *refresh.Refresher,
	feed *datafeed.Feed,
	store Pinger,
) *Server {
	return &Server{
		registry:   reg,
		watchlists: watchlists,
		ingest:     pipeline,
		refresher:  refresher,
		feed:       feed,
		store:      store,
		log:        slog.Default().With("component", "httpapi"),
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(identity.Middleware)
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all API routes on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", s.handleHealth)

	r.Get("/api/watchlists", s.handleListWatchlists)
	r.Post("/api/watchlists", s.handleCreateWatchlist)
	r.Delete("/api/watchlists/{id}", s.handleDeleteWatchlist)
	r.Put("/api/watchlists/{id}/default", s.handleSetDefault)
	r.Get("/api/watchlists/{id}/stocks", s.handleListStocks)
	r.Post("/api/watchlists/{id}/stocks", s.handleAddTickers)
	r.Delete("/api/watchlists/{id}/stocks/{stockID}", s.handleRemoveStock)

	r.Get("/api/master", s.handleListMaster)
	r.Post("/api/master", s.handleAddMaster)
	r.Post("/api/master/sync", s.handleSync)
	r.Post("/api/master/refresh", s.handleRefreshStale)
	r.Delete("/api/master/{ticker}", s.handleDeleteMaster)
	r.Put("/api/master/{ticker}/type", s.handleSetType)
	r.Post("/api/master/{ticker}/refresh", s.handleRefreshTicker)

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/bars/{ticker}", s.handleBars)
	r.Get("/api/symbols/{ticker}", s.handleSymbol)

	r.Get("/api/profile", s.handleGetProfile)
	r.Put("/api/profile", s.handleUpdateProfile)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// mapErr writes err with the status its code maps to. Only the user-facing
// message leaves the server.
func (s *Server) mapErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch domain.CodeOf(err) {
	case domain.CodeNotAuthenticated:
		status = http.StatusUnauthorized
	case domain.CodeValidation:
		status = http.StatusBadRequest
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodeFetchRateLimit:
		status = http.StatusTooManyRequests
	case domain.CodeFetchConfig, domain.CodeFetchFailure:
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeError(w, status, domain.MessageOf(err))
}

// decodeBody decodes a JSON body into v. An empty body leaves v unchanged
// when optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return domain.NewError(domain.CodeValidation, "invalid request body", err)
	}
	return nil
}

func user(r *http.Request) *domain.User {
	return identity.FromContext(r.Context())
}

// tickerParam returns the unescaped ticker path parameter so futures like
// "/ES" can be addressed as %2FES.
func tickerParam(r *http.Request) string {
	raw := chi.URLParam(r, "ticker")
	if t, err := url.PathUnescape(raw); err == nil {
		raw = t
	}
	return domain.NormalizeTicker(raw)
}

// parseBound accepts a YYYY-MM-DD date or unix seconds.
func parseBound(v string) (time.Time, error) {
	if t, err := time.Parse(domain.DateLayout, v); err == nil {
		return t, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, domain.NewError(domain.CodeValidation, fmt.Sprintf("invalid date %q", v), err)
	}
	return time.Unix(n, 0).UTC(), nil
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok"}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.log.Warn("store ping failed", "error", err)
			resp.Status = "degraded"
			resp.Store = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Watchlists
// ---------------------------------------------------------------------------

func (s *Server) handleListWatchlists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.watchlists.List(r.Context(), user(r))
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WatchlistsResponse{Watchlists: lists})
}

func (s *Server) handleCreateWatchlist(w http.ResponseWriter, r *http.Request) {
	var req CreateWatchlistRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.mapErr(w, r, err)
		return
	}
	wl, err := s.watchlists.Create(r.Context(), user(r), req.Name)
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, WatchlistResponse{Watchlist: wl, Message: "Watchlist created"})
}

func (s *Server) handleDeleteWatchlist(w http.ResponseWriter, r *http.Request) {
	if err := s.watchlists.Delete(r.Context(), user(r), chi.URLParam(r, "id")); err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Watchlist deleted"})
}

func (s *Server) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	if err := s.watchlists.SetDefault(r.Context(), user(r), chi.URLParam(r, "id")); err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Default watchlist updated"})
}

func (s *Server) handleListStocks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stocks, err := s.watchlists.Stocks(r.Context(), user(r), id)
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StocksResponse{WatchlistID: id, Stocks: stocks})
}

func (s *Server) handleAddTickers(w http.ResponseWriter, r *http.Request) {
	var req AddTickersRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.mapErr(w, r, err)
		return
	}
	res, err := s.ingest.AddTickers(r.Context(), user(r), chi.URLParam(r, "id"), req.Tickers)
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AddTickersResponse{Result: res, Message: res.Summary()})
}

func (s *Server) handleRemoveStock(w http.ResponseWriter, r *http.Request) {
	err := s.watchlists.RemoveStock(r.Context(), user(r), chi.URLParam(r, "id"), chi.URLParam(r, "stockID"))
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Ticker removed from watchlist"})
}

// ---------------------------------------------------------------------------
// Master registry
// ---------------------------------------------------------------------------

func (s *Server) handleListMaster(w http.ResponseWriter, r *http.Request) {
	entries, err := s.registry.List(r.Context())
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MasterListResponse{Entries: entries})
}

func (s *Server) handleAddMaster(w http.ResponseWriter, r *http.Request) {
	var req AddMasterRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.mapErr(w, r, err)
		return
	}
	e, err := s.registry.AddTicker(r.Context(), user(r), req.Ticker)
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MasterEntryResponse{Entry: e, Message: "Ticker added successfully"})
}

func (s *Server) handleDeleteMaster(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteTicker(r.Context(), user(r), tickerParam(r)); err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Ticker deleted successfully"})
}

func (s *Server) handleSetType(w http.ResponseWriter, r *http.Request) {
	var req SetTypeRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.mapErr(w, r, err)
		return
	}
	if err := s.registry.SetInstrumentType(r.Context(), user(r), tickerParam(r), req.InstrumentType); err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Instrument type updated"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.Reconcile(r.Context(), user(r))
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Result: res, Message: res.Summary()})
}

func (s *Server) handleRefreshStale(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeBody(r, &req, true); err != nil {
		s.mapErr(w, r, err)
		return
	}
	res, err := s.refresher.RefreshStale(r.Context(), user(r), req.Tickers)
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Result: res, Message: res.Summary()})
}

func (s *Server) handleRefreshTicker(w http.ResponseWriter, r *http.Request) {
	ticker := tickerParam(r)
	n, err := s.refresher.RefreshTicker(r.Context(), user(r), ticker)
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshTickerResponse{
		Ticker:  ticker,
		Count:   n,
		Message: fmt.Sprintf("Updated %d bars for %s", n, ticker),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var tickers []string
	if q := r.URL.Query().Get("tickers"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tickers = append(tickers, t)
			}
		}
	}
	cs, err := s.registry.Statuses(r.Context(), tickers)
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Statuses: convertStatuses(cs)})
}

// ---------------------------------------------------------------------------
// Chart feed
// ---------------------------------------------------------------------------

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	from, to, err := barsRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"), time.Now().UTC())
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.feed.GetBars(r.Context(), tickerParam(r), from, to))
}

// maxBarsSpan bounds the window of one bars request.
const maxBarsSpan = 30

// barsRange resolves the from/to query bounds. to defaults to now and from
// to one year before to.
func barsRange(fromParam, toParam string, now time.Time) (time.Time, time.Time, error) {
	to := now
	if toParam != "" {
		t, err := parseBound(toParam)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	from := to.AddDate(-1, 0, 0)
	if fromParam != "" {
		t, err := parseBound(fromParam)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	switch {
	case from.After(to):
		return time.Time{}, time.Time{}, domain.NewError(domain.CodeValidation, "from must not be after to", nil)
	case from.Year() < 1900 || to.Year() > now.Year()+1:
		return time.Time{}, time.Time{}, domain.NewError(domain.CodeValidation, "date out of range", nil)
	case to.Sub(from) > maxBarsSpan*366*24*time.Hour:
		return time.Time{}, time.Time{}, domain.NewError(domain.CodeValidation,
			fmt.Sprintf("range exceeds %d years", maxBarsSpan), nil)
	}
	return from, to, nil
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.ResolveSymbol(r.Context(), tickerParam(r)))
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.watchlists.Profile(r.Context(), user(r))
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: p})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.mapErr(w, r, err)
		return
	}
	p, err := s.watchlists.UpdateUsername(r.Context(), user(r), req.Username)
	if err != nil {
		s.mapErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: p, Message: "Profile updated successfully"})
}
