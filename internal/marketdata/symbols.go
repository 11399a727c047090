package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"tickerwatch/internal/domain"
)

// DefaultExchange is used when no table or lookup knows the ticker.
const DefaultExchange = "NYSE"

// Resolution is the chart-rendering mapping for a ticker.
type Resolution struct {
	Ticker         string                `json:"ticker"`
	ChartSymbol    string                `json:"chart_symbol"`
	Exchange       string                `json:"exchange"`
	InstrumentType domain.InstrumentType `json:"instrument_type"`
}

type futureSymbol struct {
	symbol   string
	exchange string
}

var futuresMap = map[string]futureSymbol{
	"ES":   {"CME_MINI:ES1!", "CME"},
	"/ES":  {"CME_MINI:ES1!", "CME"},
	"NQ":   {"CME_MINI:NQ1!", "CME"},
	"/NQ":  {"CME_MINI:NQ1!", "CME"},
	"YM":   {"CBOT_MINI:YM1!", "CBOT"},
	"/YM":  {"CBOT_MINI:YM1!", "CBOT"},
	"RTY":  {"CME_MINI:RTY1!", "CME"},
	"/RTY": {"CME_MINI:RTY1!", "CME"},
}

var stockExchangeMap = map[string]string{
	"TSLA":  "NASDAQ",
	"AAPL":  "NASDAQ",
	"MSFT":  "NASDAQ",
	"GOOGL": "NASDAQ",
	"AMZN":  "NASDAQ",
	"META":  "NASDAQ",
	"SPY":   "NYSE ARCA",
	"QQQ":   "NASDAQ",
	"IWM":   "NYSE ARCA",
}

// AssetLookup resolves a ticker against a provider's asset master.
type AssetLookup interface {
	LookupAsset(ctx context.Context, ticker string) (exchange string, class string, err error)
}

// SymbolResolver maps tickers to chart symbols, exchanges, and instrument
// types. Futures come from a static table; stocks consult the optional
// asset lookup, then the static exchange table, then DefaultExchange.
type SymbolResolver struct {
	assets AssetLookup
	ref    *ReferenceData
	log    *slog.Logger
}

// NewSymbolResolver creates a resolver. Both assets and ref may be nil.
func NewSymbolResolver(assets AssetLookup, ref *ReferenceData) *SymbolResolver {
	return &SymbolResolver{
		assets: assets,
		ref:    ref,
		log:    slog.Default().With("component", "symbol-resolver"),
	}
}

// Resolve never fails: lookup errors fall back to the static tables.
func (r *SymbolResolver) Resolve(ctx context.Context, ticker string) Resolution {
	ticker = domain.NormalizeTicker(ticker)

	if fut, ok := futuresMap[ticker]; ok {
		return Resolution{
			Ticker:         ticker,
			ChartSymbol:    fut.symbol,
			Exchange:       fut.exchange,
			InstrumentType: domain.InstrumentFuture,
		}
	}

	res := Resolution{
		Ticker:         ticker,
		ChartSymbol:    ticker,
		Exchange:       DefaultExchange,
		InstrumentType: domain.InstrumentStock,
	}
	if t, ok := r.ref.InstrumentType(ticker); ok {
		res.InstrumentType = t
	}

	if r.assets != nil {
		exchange, class, err := r.assets.LookupAsset(ctx, ticker)
		if err == nil && exchange != "" {
			res.Exchange = exchange
			if class == string(alpaca.Crypto) {
				res.InstrumentType = domain.InstrumentCrypto
			}
			return res
		}
		if err != nil {
			r.log.Debug("asset lookup failed, using static table", "ticker", ticker, "error", err)
		}
	}

	if ex, ok := stockExchangeMap[ticker]; ok {
		res.Exchange = ex
	}
	return res
}

// Metadata returns the registry metadata recorded for a newly added ticker.
func (res Resolution) Metadata() map[string]any {
	return map[string]any{
		"validated":    false,
		"exchange":     res.Exchange,
		"chart_symbol": res.ChartSymbol,
	}
}

// ---------------------------------------------------------------------------
// AlpacaAssetResolver
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ AssetLookup = (*AlpacaAssetResolver)(nil)

// AlpacaAssetResolver looks tickers up through the Alpaca trading API.
type AlpacaAssetResolver struct {
	client *alpaca.Client
}

var errNoAssetClient = errors.New("asset lookup not configured")

// NewAlpacaAssetResolver returns nil when no API key is configured. A nil
// resolver fails every lookup, which SymbolResolver treats as a miss.
func NewAlpacaAssetResolver(apiKey, apiSecret, baseURL string) *AlpacaAssetResolver {
	if apiKey == "" {
		return nil
	}
	return &AlpacaAssetResolver{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// LookupAsset returns the listing exchange and asset class for ticker.
func (a *AlpacaAssetResolver) LookupAsset(ctx context.Context, ticker string) (string, string, error) {
	if a == nil {
		return "", "", errNoAssetClient
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	asset, err := a.client.GetAsset(ticker)
	if err != nil {
		return "", "", fmt.Errorf("GetAsset %s: %w", ticker, err)
	}
	return chartExchange(asset.Exchange), string(asset.Class), nil
}

// chartExchange maps Alpaca exchange codes to the names used for charts.
func chartExchange(exchange string) string {
	switch strings.ToUpper(exchange) {
	case "ARCA", "NYSEARCA":
		return "NYSE ARCA"
	case "":
		return ""
	default:
		return strings.ToUpper(exchange)
	}
}
