package datafeed

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tickerwatch/internal/domain"
	"tickerwatch/internal/marketdata"
)

type fakeBars struct {
	bars []domain.Bar
	err  error

	gotTicker string
	gotFrom   time.Time
}

func (f *fakeBars) ReadBars(_ context.Context, ticker string, from, _ time.Time) ([]domain.Bar, error) {
	f.gotTicker = ticker
	f.gotFrom = from
	return f.bars, f.err
}

func TestGetBars(t *testing.T) {
	d := time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC)
	f := &fakeBars{bars: []domain.Bar{{
		Ticker: "AAPL", Date: d,
		Open: decimal.RequireFromString("190.5"), High: decimal.RequireFromString("192.25"),
		Low: decimal.RequireFromString("189"), Close: decimal.RequireFromString("191.75"),
		Volume: 1234567,
	}}}
	feed := NewFeed(f, marketdata.NewSymbolResolver(nil, nil))

	from := time.Date(2024, 6, 1, 13, 30, 0, 0, time.UTC)
	got := feed.GetBars(context.Background(), "aapl", from, d)
	if got.NoData || len(got.Bars) != 1 {
		t.Fatalf("GetBars = %+v", got)
	}
	want := ChartBar{Time: d.UnixMilli(), Open: 190.5, High: 192.25, Low: 189, Close: 191.75, Volume: 1234567}
	if got.Bars[0] != want {
		t.Errorf("bar = %+v, want %+v", got.Bars[0], want)
	}
	if f.gotTicker != "AAPL" {
		t.Errorf("ticker = %q, want normalized", f.gotTicker)
	}
	if !f.gotFrom.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v, want truncated to date", f.gotFrom)
	}
}

func TestGetBarsNoData(t *testing.T) {
	for name, f := range map[string]*fakeBars{
		"empty":  {},
		"failed": {err: errors.New("disk gone")},
	} {
		got := NewFeed(f, nil).GetBars(context.Background(), "AAPL", time.Now(), time.Now())
		if !got.NoData || got.Bars == nil || len(got.Bars) != 0 {
			t.Errorf("%s: GetBars = %+v, want noData with empty bars", name, got)
		}
	}
}

func TestResolveSymbol(t *testing.T) {
	feed := NewFeed(&fakeBars{}, marketdata.NewSymbolResolver(nil, nil))

	info := feed.ResolveSymbol(context.Background(), "spy")
	if info.Ticker != "SPY" || info.Exchange != "NYSE ARCA" {
		t.Errorf("SPY = %+v", info)
	}
	if info.Session != "0930-1630" || info.Timezone != "America/New_York" || info.PriceScale != 100 {
		t.Errorf("session fields = %q %q %d", info.Session, info.Timezone, info.PriceScale)
	}
	if info.HasIntraday || !info.HasDaily || !info.HasWeeklyAndMonthly {
		t.Errorf("resolution flags = %v %v %v", info.HasIntraday, info.HasDaily, info.HasWeeklyAndMonthly)
	}
	if !reflect.DeepEqual(info.SupportedResolutions, []string{"1D", "1W", "1M"}) {
		t.Errorf("SupportedResolutions = %v", info.SupportedResolutions)
	}

	fut := feed.ResolveSymbol(context.Background(), "/ES")
	if fut.InstrumentType != "future" || fut.ChartSymbol == "/ES" {
		t.Errorf("/ES = %+v", fut)
	}
}
