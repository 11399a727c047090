package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tickerwatch/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RegistryStore = (*SQLiteStore)(nil)
var _ WatchlistStore = (*SQLiteStore)(nil)
var _ ProfileStore = (*SQLiteStore)(nil)
var _ HistoryStore = (*SQLiteStore)(nil)

// SQLiteStore implements every store interface backed by a single SQLite
// database. It is the system of record.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS master_registry (
	ticker           TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	created_by_email TEXT NOT NULL DEFAULT '',
	instrument_type  TEXT NOT NULL DEFAULT 'stock',
	display_name     TEXT NOT NULL DEFAULT '',
	metadata         TEXT NOT NULL DEFAULT '{}',
	created_at       TEXT NOT NULL,
	last_updated     TEXT
);

CREATE TABLE IF NOT EXISTS watchlists (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_watchlists_user ON watchlists(user_id);

CREATE TABLE IF NOT EXISTS watchlist_stocks (
	id           TEXT PRIMARY KEY,
	watchlist_id TEXT NOT NULL REFERENCES watchlists(id) ON DELETE CASCADE,
	ticker       TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_watchlist_stocks_watchlist ON watchlist_stocks(watchlist_id);

CREATE TABLE IF NOT EXISTS profiles (
	id                   TEXT PRIMARY KEY,
	username             TEXT NOT NULL DEFAULT '',
	default_watchlist_id TEXT REFERENCES watchlists(id) ON DELETE SET NULL,
	created_at           TEXT NOT NULL,
	updated_at           TEXT
);

CREATE TABLE IF NOT EXISTS historical_data (
	ticker       TEXT NOT NULL,
	date         TEXT NOT NULL,
	open         TEXT NOT NULL,
	high         TEXT NOT NULL,
	low          TEXT NOT NULL,
	close        TEXT NOT NULL,
	volume       INTEGER NOT NULL,
	created_at   TEXT NOT NULL,
	last_updated TEXT NOT NULL,
	PRIMARY KEY (ticker, date)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables
// foreign keys, and creates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serialising through one connection
	// keeps pragmas and transactions consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// RegistryStore implementation
// ---------------------------------------------------------------------------

const masterColumns = `ticker, user_id, created_by_email, instrument_type, display_name, metadata, created_at, last_updated`

// ListMasterEntries returns every registry entry ordered by ticker.
func (s *SQLiteStore) ListMasterEntries(ctx context.Context) ([]domain.MasterEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+masterColumns+` FROM master_registry ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MasterEntry
	for rows.Next() {
		e, err := scanMasterEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListMasterTickers returns every registered ticker ordered by ticker.
func (s *SQLiteStore) ListMasterTickers(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT ticker FROM master_registry ORDER BY ticker`)
}

// GetMasterEntry returns the entry for ticker or ErrNotFound.
func (s *SQLiteStore) GetMasterEntry(ctx context.Context, ticker string) (*domain.MasterEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+masterColumns+` FROM master_registry WHERE ticker = ?`, ticker)
	e, err := scanMasterEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// UpsertMasterEntry inserts e or refreshes the mutable columns of an
// existing row with the same ticker.
func (s *SQLiteStore) UpsertMasterEntry(ctx context.Context, e domain.MasterEntry) error {
	args, err := masterArgs(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO master_registry (`+masterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			user_id = excluded.user_id,
			created_by_email = excluded.created_by_email,
			instrument_type = excluded.instrument_type,
			display_name = excluded.display_name,
			metadata = excluded.metadata`, args...)
	return err
}

// InsertMasterEntries inserts entries in a single transaction. Existing
// tickers are skipped so repeated reconciles are idempotent.
func (s *SQLiteStore) InsertMasterEntries(ctx context.Context, entries []domain.MasterEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO master_registry (`+masterColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ticker) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			args, err := masterArgs(e)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("inserting %s: %w", e.Ticker, err)
			}
		}
		return nil
	})
}

// DeleteMasterEntries removes tickers in a single transaction.
func (s *SQLiteStore) DeleteMasterEntries(ctx context.Context, tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM master_registry WHERE ticker = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range tickers {
			if _, err := stmt.ExecContext(ctx, t); err != nil {
				return fmt.Errorf("deleting %s: %w", t, err)
			}
		}
		return nil
	})
}

// TouchMasterEntry sets last_updated for ticker.
func (s *SQLiteStore) TouchMasterEntry(ctx context.Context, ticker string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE master_registry SET last_updated = ? WHERE ticker = ?`, formatTime(at), ticker)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetInstrumentType changes the instrument type of ticker.
func (s *SQLiteStore) SetInstrumentType(ctx context.Context, ticker string, t domain.InstrumentType) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE master_registry SET instrument_type = ? WHERE ticker = ?`, string(t), ticker)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ---------------------------------------------------------------------------
// WatchlistStore implementation
// ---------------------------------------------------------------------------

// CreateWatchlist inserts a new watchlist row.
func (s *SQLiteStore) CreateWatchlist(ctx context.Context, w domain.Watchlist) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlists (id, user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.Name, formatTime(w.CreatedAt), nullTime(w.UpdatedAt))
	return err
}

// GetWatchlist returns the watchlist with id or ErrNotFound.
func (s *SQLiteStore) GetWatchlist(ctx context.Context, id string) (*domain.Watchlist, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at, updated_at FROM watchlists WHERE id = ?`, id)
	w, err := scanWatchlist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// ListWatchlists returns the user's watchlists ordered by creation time.
func (s *SQLiteStore) ListWatchlists(ctx context.Context, userID string) ([]domain.Watchlist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at, updated_at FROM watchlists
		 WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Watchlist
	for rows.Next() {
		w, err := scanWatchlist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// DeleteWatchlist removes the watchlist. Memberships cascade and any
// profile default pointing at it is cleared by the foreign keys.
func (s *SQLiteStore) DeleteWatchlist(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watchlists WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListWatchlistStocks returns memberships of a watchlist ordered by ticker.
func (s *SQLiteStore) ListWatchlistStocks(ctx context.Context, watchlistID string) ([]domain.WatchlistStock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, watchlist_id, ticker, created_at FROM watchlist_stocks
		 WHERE watchlist_id = ? ORDER BY ticker, created_at`, watchlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WatchlistStock
	for rows.Next() {
		var (
			ws      domain.WatchlistStock
			created string
		)
		if err := rows.Scan(&ws.ID, &ws.WatchlistID, &ws.Ticker, &created); err != nil {
			return nil, err
		}
		if ws.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// InsertWatchlistStock inserts one membership row.
func (s *SQLiteStore) InsertWatchlistStock(ctx context.Context, ws domain.WatchlistStock) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist_stocks (id, watchlist_id, ticker, created_at) VALUES (?, ?, ?, ?)`,
		ws.ID, ws.WatchlistID, ws.Ticker, formatTime(ws.CreatedAt))
	return err
}

// DeleteWatchlistStock removes one membership of watchlistID.
func (s *SQLiteStore) DeleteWatchlistStock(ctx context.Context, watchlistID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlist_stocks WHERE id = ? AND watchlist_id = ?`, id, watchlistID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListReferencedTickers returns the distinct tickers of memberships whose
// watchlist still exists.
func (s *SQLiteStore) ListReferencedTickers(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT DISTINCT ws.ticker
		FROM watchlist_stocks ws
		INNER JOIN watchlists w ON w.id = ws.watchlist_id
		ORDER BY ws.ticker`)
}

// ---------------------------------------------------------------------------
// ProfileStore implementation
// ---------------------------------------------------------------------------

// GetProfile returns the profile for userID or ErrNotFound.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var (
		p         domain.Profile
		defaultID sql.NullString
		created   string
		updated   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, default_watchlist_id, created_at, updated_at FROM profiles WHERE id = ?`,
		userID).Scan(&p.ID, &p.Username, &defaultID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.DefaultWatchlistID = defaultID.String
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseNullTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProfile inserts or replaces the profile row.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p domain.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, default_watchlist_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			default_watchlist_id = excluded.default_watchlist_id,
			updated_at = excluded.updated_at`,
		p.ID, p.Username, nullString(p.DefaultWatchlistID), formatTime(p.CreatedAt), nullTime(p.UpdatedAt))
	return err
}

// SetDefaultWatchlist points userID's profile at watchlistID.
func (s *SQLiteStore) SetDefaultWatchlist(ctx context.Context, userID, watchlistID string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, default_watchlist_id, created_at, updated_at)
		VALUES (?, '', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			default_watchlist_id = excluded.default_watchlist_id,
			updated_at = excluded.updated_at`,
		userID, nullString(watchlistID), now, now)
	return err
}

// ---------------------------------------------------------------------------
// HistoryStore implementation
// ---------------------------------------------------------------------------

// UpsertBars writes bars in one transaction, replacing existing
// (ticker, date) rows. A replaced row keeps its first created_at.
func (s *SQLiteStore) UpsertBars(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO historical_data (ticker, date, open, high, low, close, volume, created_at, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ticker, date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				last_updated = excluded.last_updated`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, b := range bars {
			_, err := stmt.ExecContext(ctx,
				b.Ticker, b.Date.Format(domain.DateLayout),
				b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(),
				b.Volume, formatTime(b.CreatedAt), formatTime(b.LastUpdated))
			if err != nil {
				return fmt.Errorf("upserting %s %s: %w", b.Ticker, b.Date.Format(domain.DateLayout), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(bars), nil
}

// LatestDate returns the most recent bar date stored for ticker.
func (s *SQLiteStore) LatestDate(ctx context.Context, ticker string) (time.Time, bool, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM historical_data WHERE ticker = ?`, ticker).Scan(&latest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid || latest.String == "" {
		return time.Time{}, false, nil
	}
	d, err := time.Parse(domain.DateLayout, latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing latest date %q: %w", latest.String, err)
	}
	return d, true, nil
}

// ReadBars returns bars for ticker within [from, to] ordered by date.
func (s *SQLiteStore) ReadBars(ctx context.Context, ticker string, from, to time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, date, open, high, low, close, volume, created_at, last_updated
		FROM historical_data
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		ticker, from.Format(domain.DateLayout), to.Format(domain.DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Bar
	for rows.Next() {
		var (
			b                    domain.Bar
			date, o, h, l, c     string
			created, lastUpdated string
		)
		if err := rows.Scan(&b.Ticker, &date, &o, &h, &l, &c, &b.Volume, &created, &lastUpdated); err != nil {
			return nil, err
		}
		if b.Date, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, err
		}
		if err := parseDecimals([]string{o, h, l, c}, &b.Open, &b.High, &b.Low, &b.Close); err != nil {
			return nil, fmt.Errorf("bar %s %s: %w", b.Ticker, date, err)
		}
		if b.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if b.LastUpdated, err = parseTime(lastUpdated); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func masterArgs(e domain.MasterEntry) ([]any, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata for %s: %w", e.Ticker, err)
	}
	itype := e.InstrumentType
	if itype == "" {
		itype = domain.InstrumentStock
	}
	return []any{
		e.Ticker, e.UserID, e.CreatedByEmail, string(itype), e.DisplayName,
		string(raw), formatTime(e.CreatedAt), nullTime(e.LastUpdated),
	}, nil
}

func scanMasterEntry(r rowScanner) (*domain.MasterEntry, error) {
	var (
		e           domain.MasterEntry
		itype, meta string
		created     string
		lastUpdated sql.NullString
	)
	if err := r.Scan(&e.Ticker, &e.UserID, &e.CreatedByEmail, &itype, &e.DisplayName, &meta, &created, &lastUpdated); err != nil {
		return nil, err
	}
	e.InstrumentType = domain.InstrumentType(itype)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", e.Ticker, err)
		}
	}
	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.LastUpdated, err = parseNullTime(lastUpdated); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanWatchlist(r rowScanner) (*domain.Watchlist, error) {
	var (
		w       domain.Watchlist
		created string
		updated sql.NullString
	)
	if err := r.Scan(&w.ID, &w.UserID, &w.Name, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if w.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseNullTime(updated); err != nil {
		return nil, err
	}
	return &w, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func parseDecimals(raw []string, dst ...*decimal.Decimal) error {
	for i, r := range raw {
		d, err := decimal.NewFromString(r)
		if err != nil {
			return fmt.Errorf("parsing price %q: %w", r, err)
		}
		*dst[i] = d
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
