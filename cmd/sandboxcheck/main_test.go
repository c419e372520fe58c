package main

import (
	"testing"

	"github.com/shopspring/decimal"

	"openlimits/internal/core"
)

func TestParseCheckFlagDefaultsSkipUserStream(t *testing.T) {
	got, err := parseCheckFlag("")
	if err != nil {
		t.Fatalf("parseCheckFlag() error = %v", err)
	}
	want := selectedChecks{preflight: true, lifecycle: true, stream: true, reconnect: true}
	if got != want {
		t.Fatalf("parseCheckFlag() = %+v, want %+v", got, want)
	}

	all, err := parseCheckFlag("ALL")
	if err != nil {
		t.Fatalf("parseCheckFlag(all) error = %v", err)
	}
	if !all.userStream {
		t.Fatalf("parseCheckFlag(all) userStream = false, want true")
	}
}

func TestParseCheckFlagList(t *testing.T) {
	got, err := parseCheckFlag(" stream, user_stream ,")
	if err != nil {
		t.Fatalf("parseCheckFlag() error = %v", err)
	}
	want := selectedChecks{stream: true, userStream: true}
	if got != want {
		t.Fatalf("parseCheckFlag() = %+v, want %+v", got, want)
	}

	if _, err := parseCheckFlag("bootstrap"); err == nil {
		t.Fatalf("parseCheckFlag(bootstrap) error = nil, want unknown check")
	}
	if _, err := parseCheckFlag(",,"); err == nil {
		t.Fatalf("parseCheckFlag(,,) error = nil, want no checks selected")
	}
}

func TestBuildTinyLimitSizeHonorsMinimums(t *testing.T) {
	product := core.Product{
		ID:             "BTC-USD",
		BaseIncrement:  decimal.RequireFromString("0.0001"),
		QuoteIncrement: decimal.RequireFromString("0.01"),
		BaseMinSize:    decimal.RequireFromString("0.001"),
		MinMarketFunds: decimal.RequireFromString("10"),
	}

	size, err := buildTinyLimitSize(product, decimal.RequireFromString("3000"))
	if err != nil {
		t.Fatalf("buildTinyLimitSize() error = %v", err)
	}
	// 10 / 3000 = 0.00333.. rounds up to the increment
	if !size.Equal(decimal.RequireFromString("0.0034")) {
		t.Fatalf("buildTinyLimitSize() = %s, want 0.0034", size)
	}

	size, err = buildTinyLimitSize(product, decimal.RequireFromString("50000"))
	if err != nil {
		t.Fatalf("buildTinyLimitSize() error = %v", err)
	}
	if !size.Equal(decimal.RequireFromString("0.001")) {
		t.Fatalf("buildTinyLimitSize() = %s, want 0.001", size)
	}
}

func TestBuildTinyLimitSizeRejectsDisabledProduct(t *testing.T) {
	product := core.Product{
		ID:              "BTC-USD",
		BaseIncrement:   decimal.RequireFromString("0.0001"),
		QuoteIncrement:  decimal.RequireFromString("0.01"),
		TradingDisabled: true,
	}
	if _, err := buildTinyLimitSize(product, decimal.RequireFromString("100")); err == nil {
		t.Fatalf("buildTinyLimitSize() error = nil, want trading disabled")
	}
	if _, err := buildTinyLimitSize(product, decimal.Zero); err == nil {
		t.Fatalf("buildTinyLimitSize(0) error = nil, want invalid price")
	}
}

func TestRoundSizeUp(t *testing.T) {
	step := decimal.RequireFromString("0.01")
	if got := roundSizeUp(decimal.RequireFromString("0.011"), step); !got.Equal(decimal.RequireFromString("0.02")) {
		t.Fatalf("roundSizeUp() = %s, want 0.02", got)
	}
	if got := roundSizeUp(decimal.RequireFromString("0.5"), decimal.Zero); !got.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("roundSizeUp(step=0) = %s, want 0.5", got)
	}
	if got := roundSizeUp(decimal.RequireFromString("-1"), step); !got.IsZero() {
		t.Fatalf("roundSizeUp(-1) = %s, want 0", got)
	}
}
