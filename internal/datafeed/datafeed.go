// Package datafeed serves stored daily history in the shape a charting
// widget pulls: bars by date range and symbol descriptions.
package datafeed

import (
	"context"
	"log/slog"
	"time"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/marketdata"
)

// BarReader reads stored bars.
type BarReader interface {
	ReadBars(ctx context.Context, ticker string, from, to time.Time) ([]domain.Bar, error)
}

// Resolver maps tickers to chart symbols.
type Resolver interface {
	Resolve(ctx context.Context, ticker string) marketdata.Resolution
}

// ChartBar is one bar in chart form. Time is unix milliseconds of the bar
// date.
type ChartBar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Bars is the GetBars response. NoData is set when the range holds nothing
// or the read failed.
type Bars struct {
	Bars   []ChartBar `json:"bars"`
	NoData bool       `json:"no_data"`
}

// SymbolInfo describes a symbol to the chart.
type SymbolInfo struct {
	Name                 string   `json:"name"`
	Ticker               string   `json:"ticker"`
	Description          string   `json:"description"`
	Type                 string   `json:"type"`
	Session              string   `json:"session"`
	Timezone             string   `json:"timezone"`
	Exchange             string   `json:"exchange"`
	ListedExchange       string   `json:"listed_exchange"`
	MinMov               int      `json:"minmov"`
	PriceScale           int      `json:"pricescale"`
	HasIntraday          bool     `json:"has_intraday"`
	HasDaily             bool     `json:"has_daily"`
	HasWeeklyAndMonthly  bool     `json:"has_weekly_and_monthly"`
	SupportedResolutions []string `json:"supported_resolutions"`
	VolumePrecision      int      `json:"volume_precision"`
	DataStatus           string   `json:"data_status"`
	ChartSymbol          string   `json:"chart_symbol"`
	InstrumentType       string   `json:"instrument_type"`
}

// Feed answers chart data requests.
type Feed struct {
	bars     BarReader
	resolver Resolver
	log      *slog.Logger
}

// NewFeed creates a Feed.
func NewFeed(bars BarReader, resolver Resolver) *Feed {
	return &Feed{
		bars:     bars,
		resolver: resolver,
		log:      slog.Default().With("component", "datafeed"),
	}
}

// GetBars returns ticker's bars with from <= date <= to in ascending order.
func (f *Feed) GetBars(ctx context.Context, ticker string, from, to time.Time) Bars {
	ticker = domain.NormalizeTicker(ticker)
	bars, err := f.bars.ReadBars(ctx, ticker, domain.DateOnly(from), domain.DateOnly(to))
	if err != nil {
		f.log.Warn("reading bars failed", "ticker", ticker, "error", err)
		return Bars{Bars: []ChartBar{}, NoData: true}
	}
	if len(bars) == 0 {
		return Bars{Bars: []ChartBar{}, NoData: true}
	}

	out := make([]ChartBar, len(bars))
	for i, b := range bars {
		out[i] = ChartBar{
			Time:   b.Date.UnixMilli(),
			Open:   b.Open.InexactFloat64(),
			High:   b.High.InexactFloat64(),
			Low:    b.Low.InexactFloat64(),
			Close:  b.Close.InexactFloat64(),
			Volume: b.Volume,
		}
	}
	return Bars{Bars: out}
}

// ResolveSymbol describes ticker for the chart. Only daily and coarser
// resolutions are offered.
func (f *Feed) ResolveSymbol(ctx context.Context, ticker string) SymbolInfo {
	res := f.resolver.Resolve(ctx, ticker)
	return SymbolInfo{
		Name:                 res.Ticker,
		Ticker:               res.Ticker,
		Description:          res.Ticker,
		Type:                 "stock",
		Session:              "0930-1630",
		Timezone:             "America/New_York",
		Exchange:             res.Exchange,
		ListedExchange:       res.Exchange,
		MinMov:               1,
		PriceScale:           100,
		HasIntraday:          false,
		HasDaily:             true,
		HasWeeklyAndMonthly:  true,
		SupportedResolutions: []string{"1D", "1W", "1M"},
		VolumePrecision:      0,
		DataStatus:           "endofday",
		ChartSymbol:          res.ChartSymbol,
		InstrumentType:       string(res.InstrumentType),
	}
}
