package marketdata

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tickerwatch/internal/domain"
)

// referenceSources lists the symbol lists read from the reference directory.
// Later sources win, so a symbol on both lists is tagged as an ETF.
var referenceSources = []struct {
	prefix string
	kind   domain.InstrumentType
}{
	{"us_stock", domain.InstrumentStock},
	{"us_etf", domain.InstrumentETF},
}

// ReferenceData classifies symbols from locally maintained lists so the
// resolver can tag ETFs without asking a provider.
type ReferenceData struct {
	types map[string]domain.InstrumentType
}

// LoadReferenceData reads the newest <prefix>_YYYY-MM-DD.csv of each source
// in dir, or <prefix>.csv when no dated file exists. Missing or unreadable
// lists are logged and skipped. It returns nil when dir is empty.
func LoadReferenceData(dir string) *ReferenceData {
	if dir == "" {
		return nil
	}
	log := slog.Default().With("component", "reference-data")

	ref := &ReferenceData{types: make(map[string]domain.InstrumentType)}
	for _, src := range referenceSources {
		path := latestListFile(dir, src.prefix)
		symbols, err := readSymbolColumn(path)
		if err != nil {
			log.Warn("reference list skipped", "type", src.kind, "path", path, "error", err)
			continue
		}
		for _, sym := range symbols {
			ref.types[sym] = src.kind
		}
		log.Info("reference list loaded", "type", src.kind, "file", filepath.Base(path), "symbols", len(symbols))
	}
	return ref
}

// InstrumentType reports the listed type of ticker. ok is false for symbols
// on neither list.
func (r *ReferenceData) InstrumentType(ticker string) (domain.InstrumentType, bool) {
	if r == nil {
		return "", false
	}
	t, ok := r.types[domain.NormalizeTicker(ticker)]
	return t, ok
}

// latestListFile returns the dated list with the newest date, falling back to
// the undated name.
func latestListFile(dir, prefix string) string {
	best := filepath.Join(dir, prefix+".csv")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return best
	}
	var newest time.Time
	for _, e := range entries {
		stamp, ok := strings.CutPrefix(e.Name(), prefix+"_")
		if !ok || e.IsDir() {
			continue
		}
		d, err := time.Parse(domain.DateLayout+".csv", stamp)
		if err != nil || !d.After(newest) {
			continue
		}
		newest = d
		best = filepath.Join(dir, e.Name())
	}
	return best
}

// readSymbolColumn returns the normalized values of the "symbol" column, or
// of the first column when the header has none.
func readSymbolColumn(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := 0
	for i, name := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(name), "symbol") {
			col = i
			break
		}
	}
	symbols := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		if sym := domain.NormalizeTicker(row[col]); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	return symbols, nil
}
