package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNormalizeTicker(t *testing.T) {
	if got := NormalizeTicker("  aapl "); got != "AAPL" {
		t.Errorf("NormalizeTicker = %q, want %q", got, "AAPL")
	}
	if got := NormalizeTicker("   "); got != "" {
		t.Errorf("NormalizeTicker(blank) = %q, want empty", got)
	}
}

func TestValidateTicker(t *testing.T) {
	for _, s := range []string{"AAPL", "BRK.B", "/ES", "^GSPC", "EURUSD=X", "BTC-USD", "A..B"} {
		if err := ValidateTicker(s); err != nil {
			t.Errorf("ValidateTicker(%q) = %v, want nil", s, err)
		}
	}
	bad := []string{
		"",
		"..",
		"../../X",
		"A/B",
		"/",
		"AAPL\u00a0MSFT",
		"AAPL MSFT",
		"aapl",
		`A\B`,
		"ABCDEFGHIJKLMNOPQ",
	}
	for _, s := range bad {
		if err := ValidateTicker(s); !IsCode(err, CodeValidation) {
			t.Errorf("ValidateTicker(%q) = %v, want VALIDATION", s, err)
		}
	}
}

func TestParseInstrumentType(t *testing.T) {
	for _, s := range []string{"stock", "ETF", " future ", "forex", "option", "crypto"} {
		if _, err := ParseInstrumentType(s); err != nil {
			t.Errorf("ParseInstrumentType(%q) returned error: %v", s, err)
		}
	}

	_, err := ParseInstrumentType("bond")
	if !IsCode(err, CodeValidation) {
		t.Fatalf("ParseInstrumentType(bond) error = %v, want VALIDATION", err)
	}

	if InstrumentFuture.DisplayPrefix() != "Future" {
		t.Errorf("DisplayPrefix = %q, want %q", InstrumentFuture.DisplayPrefix(), "Future")
	}
	if InstrumentStock.DisplayPrefix() != "Stock" {
		t.Errorf("DisplayPrefix = %q, want %q", InstrumentStock.DisplayPrefix(), "Stock")
	}
}

func TestStatusColor(t *testing.T) {
	cases := map[Status]string{
		StatusFresh:   "green",
		StatusStale:   "yellow",
		StatusMissing: "red",
	}
	for s, want := range cases {
		if got := s.Color(); got != want {
			t.Errorf("%s.Color() = %q, want %q", s, got, want)
		}
	}
	if StatusFresh.NeedsRefresh() {
		t.Error("fresh should not need refresh")
	}
	if !StatusStale.NeedsRefresh() || !StatusMissing.NeedsRefresh() {
		t.Error("stale and missing should need refresh")
	}
}

func TestCodedError(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("upserting: %w", NewError(CodeRegistryWrite, "failed to register AAPL", cause))

	if CodeOf(err) != CodeRegistryWrite {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeRegistryWrite)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
	if MessageOf(err) != "failed to register AAPL" {
		t.Errorf("MessageOf = %q", MessageOf(err))
	}
	if MessageOf(cause) != "internal error" {
		t.Errorf("MessageOf(uncoded) = %q, want %q", MessageOf(cause), "internal error")
	}
	if IsCode(nil, CodeRegistryWrite) {
		t.Error("IsCode(nil) should be false")
	}
}

func TestRequireUser(t *testing.T) {
	if err := RequireUser(nil); !IsCode(err, CodeNotAuthenticated) {
		t.Errorf("RequireUser(nil) = %v, want NOT_AUTHENTICATED", err)
	}
	if err := RequireUser(&User{}); !IsCode(err, CodeNotAuthenticated) {
		t.Errorf("RequireUser(empty) = %v, want NOT_AUTHENTICATED", err)
	}
	if err := RequireUser(&User{ID: "u1", Email: "a@b.c"}); err != nil {
		t.Errorf("RequireUser(valid) = %v, want nil", err)
	}
}

func TestDateOnly(t *testing.T) {
	et := time.FixedZone("ET", -4*3600)
	in := time.Date(2024, 6, 14, 23, 30, 0, 0, et)
	got := DateOnly(in)
	want := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DateOnly = %v, want %v", got, want)
	}
}
