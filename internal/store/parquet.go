package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"tickerwatch/internal/domain"
)

// Compile-time interface checks.
var _ HistoryStore = (*ParquetStore)(nil)

// ParquetStore implements HistoryStore using Parquet files on disk, one file
// per ticker and year.
type ParquetStore struct {
	DataDir string

	mu sync.Mutex // serialises read-merge-write cycles
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data. Prices are kept as
// decimal strings so they round-trip exactly.
type BarRecord struct {
	Ticker      string `parquet:"ticker"`
	Date        string `parquet:"date"` // YYYY-MM-DD
	Open        string `parquet:"open"`
	High        string `parquet:"high"`
	Low         string `parquet:"low"`
	Close       string `parquet:"close"`
	Volume      int64  `parquet:"volume"`
	CreatedAt   int64  `parquet:"created_at,timestamp(millisecond)"`   // Unix ms
	LastUpdated int64  `parquet:"last_updated,timestamp(millisecond)"` // Unix ms
}

func toRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Ticker:      b.Ticker,
		Date:        b.Date.Format(domain.DateLayout),
		Open:        b.Open.String(),
		High:        b.High.String(),
		Low:         b.Low.String(),
		Close:       b.Close.String(),
		Volume:      b.Volume,
		CreatedAt:   b.CreatedAt.UnixMilli(),
		LastUpdated: b.LastUpdated.UnixMilli(),
	}
}

func (r BarRecord) toBar() (domain.Bar, error) {
	b := domain.Bar{
		Ticker:      r.Ticker,
		Volume:      r.Volume,
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
		LastUpdated: time.UnixMilli(r.LastUpdated).UTC(),
	}
	var err error
	if b.Date, err = time.Parse(domain.DateLayout, r.Date); err != nil {
		return b, err
	}
	err = parseDecimals([]string{r.Open, r.High, r.Low, r.Close}, &b.Open, &b.High, &b.Low, &b.Close)
	return b, err
}

// ---------------------------------------------------------------------------
// HistoryStore implementation
// ---------------------------------------------------------------------------

// UpsertBars writes bars to Parquet files organized by ticker and year,
// merging with existing rows by date. Each ticker+year combination produces
// a separate file at:
//
//	<DataDir>/history/<TICKER>/<YYYY>.parquet
//
// A year file that exists but cannot be read aborts the write so its rows
// are never replaced by the incoming batch alone.
func (s *ParquetStore) UpsertBars(_ context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	type key struct {
		ticker string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{ticker: b.Ticker, year: b.Date.Year()}
		groups[k] = append(groups[k], toRecord(b))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, records := range groups {
		path, err := s.barPath(k.ticker, k.year)
		if err != nil {
			return 0, err
		}
		existing, err := readParquetFile[BarRecord](path)
		if err != nil {
			return 0, fmt.Errorf("reading bars for %s/%d: %w", k.ticker, k.year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return 0, fmt.Errorf("writing bars for %s/%d: %w", k.ticker, k.year, err)
		}
	}
	return len(bars), nil
}

// LatestDate scans the newest year file of ticker for its last date.
func (s *ParquetStore) LatestDate(_ context.Context, ticker string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	years, err := s.years(ticker)
	if err != nil {
		return time.Time{}, false, err
	}
	for i := len(years) - 1; i >= 0; i-- {
		path, err := s.barPath(ticker, years[i])
		if err != nil {
			return time.Time{}, false, err
		}
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			return time.Time{}, false, err
		}
		if len(records) == 0 {
			continue
		}
		latest := records[0].Date
		for _, r := range records[1:] {
			if r.Date > latest {
				latest = r.Date
			}
		}
		d, err := time.Parse(domain.DateLayout, latest)
		if err != nil {
			return time.Time{}, false, err
		}
		return d, true, nil
	}
	return time.Time{}, false, nil
}

// ReadBars reads bar data for ticker within [from, to]. Only year files
// already on disk are opened, so the width of the range costs nothing.
func (s *ParquetStore) ReadBars(_ context.Context, ticker string, from, to time.Time) ([]domain.Bar, error) {
	lo, hi := from.Format(domain.DateLayout), to.Format(domain.DateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	years, err := s.years(ticker)
	if err != nil {
		return nil, err
	}
	var bars []domain.Bar
	for _, year := range years {
		if year < from.Year() || year > to.Year() {
			continue
		}
		path, err := s.barPath(ticker, year)
		if err != nil {
			return nil, err
		}
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%d: %w", ticker, year, err)
		}
		for _, r := range records {
			if r.Date < lo || r.Date > hi {
				continue
			}
			b, err := r.toBar()
			if err != nil {
				return nil, fmt.Errorf("decoding %s %s: %w", r.Ticker, r.Date, err)
			}
			bars = append(bars, b)
		}
	}
	return bars, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// tickerDir returns the directory holding ticker's year files. Only
// well-formed symbols map to a directory; a futures "/" prefix is stored as
// "_" so "/ES" and "ES" never share files.
func (s *ParquetStore) tickerDir(ticker string) (string, error) {
	ticker = strings.ToUpper(ticker)
	if err := domain.ValidateTicker(ticker); err != nil {
		return "", fmt.Errorf("parquet history: %w", err)
	}
	if rest, ok := strings.CutPrefix(ticker, "/"); ok {
		ticker = "_" + rest
	}
	return filepath.Join(s.DataDir, "history", ticker), nil
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/history/<TICKER>/<YYYY>.parquet
func (s *ParquetStore) barPath(ticker string, year int) (string, error) {
	dir, err := s.tickerDir(ticker)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, strconv.Itoa(year)+".parquet"), nil
}

// years lists the year files present for ticker, ascending.
func (s *ParquetStore) years(ticker string) ([]int, error) {
	dir, err := s.tickerDir(ticker)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var years []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		y, err := strconv.Atoi(strings.TrimSuffix(name, ".parquet"))
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// readParquetFile returns the rows of path. A missing file has no rows;
// any other failure is an error.
func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (ticker, date), preferring
// new records over existing ones but keeping the first created_at.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		ticker string
		date   string
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Ticker, r.Date}] = r
	}
	for _, r := range incoming {
		k := key{r.Ticker, r.Date}
		if old, ok := seen[k]; ok && old.CreatedAt != 0 {
			r.CreatedAt = old.CreatedAt
		}
		seen[k] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
