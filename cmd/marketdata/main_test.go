package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"openlimits/internal/core"
)

func TestCandleWindowsSplitsRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(250 * time.Minute)

	got := candleWindows(start, end, time.Minute, 100)
	if len(got) != 3 {
		t.Fatalf("candleWindows() len = %d, want 3", len(got))
	}
	if !got[0].start.Equal(start) || !got[0].end.Equal(start.Add(100*time.Minute)) {
		t.Fatalf("candleWindows()[0] = %+v", got[0])
	}
	if !got[2].end.Equal(end) {
		t.Fatalf("candleWindows()[2].end = %s, want %s", got[2].end, end)
	}

	if got := candleWindows(end, start, time.Minute, 100); got != nil {
		t.Fatalf("candleWindows(reversed) = %+v, want nil", got)
	}
}

func TestParseInterval(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":  time.Minute,
		"15m": 15 * time.Minute,
		"6h":  6 * time.Hour,
		"1d":  24 * time.Hour,
	}
	for raw, want := range cases {
		got, err := parseInterval(raw)
		if err != nil {
			t.Fatalf("parseInterval(%q) error = %v", raw, err)
		}
		if got != want {
			t.Fatalf("parseInterval(%q) = %s, want %s", raw, got, want)
		}
	}
	for _, raw := range []string{"", "0d", "xd", "-1m"} {
		if _, err := parseInterval(raw); err == nil {
			t.Fatalf("parseInterval(%q) error = nil, want error", raw)
		}
	}
}

func TestResolveWindowDateOnlyEndIsInclusive(t *testing.T) {
	start, end, err := resolveWindow(0, "2024-03-01", "2024-03-02")
	if err != nil {
		t.Fatalf("resolveWindow() error = %v", err)
	}
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Fatalf("start = %s, want %s", start, want)
	}
	if want := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Fatalf("end = %s, want %s", end, want)
	}
	if _, _, err := resolveWindow(1, "2024-03-01", ""); err == nil {
		t.Fatalf("resolveWindow(start only) error = nil, want error")
	}
}

func TestDateWriterRotatesAndAppends(t *testing.T) {
	dir := t.TempDir()
	w, err := newDateWriter(dir)
	if err != nil {
		t.Fatalf("newDateWriter() error = %v", err)
	}
	if err := w.write("2024-01-01", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("write() error = %v", err)
	}
	if err := w.write("2024-01-02", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("write() error = %v", err)
	}
	if err := w.close(); err != nil {
		t.Fatalf("close() error = %v", err)
	}

	w, err = newDateWriter(dir)
	if err != nil {
		t.Fatalf("newDateWriter() error = %v", err)
	}
	if err := w.write("2024-01-01", []byte(`{"a":3}`)); err != nil {
		t.Fatalf("write() error = %v", err)
	}
	if err := w.close(); err != nil {
		t.Fatalf("close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2024-01-01.jsonl"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Fatalf("lines = %d, want 2 (%q)", got, data)
	}
}

func TestNewEventLineDelta(t *testing.T) {
	ev := core.MarketEvent{
		ProductID: "BTC-USD",
		Delta: &core.BookDelta{
			FirstSequence: 10,
			Sequence:      12,
			Level:         core.L2,
			Changes: []core.BookChange{
				{Side: core.Buy, Action: core.ChangeRemove, Price: decimal.RequireFromString("100.5"), Size: decimal.Zero},
			},
		},
	}
	line := newEventLine(ev, time.Unix(1700000000, 0))
	data, err := json.Marshal(line)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["kind"] != "delta" || got["level"] != "L2" {
		t.Fatalf("line = %s", data)
	}
	if _, ok := got["price"]; ok {
		t.Fatalf("delta line carries ticker price: %s", data)
	}
	changes := got["changes"].([]any)
	change := changes[0].(map[string]any)
	if change["price"] != "100.5" || change["action"] != "remove" {
		t.Fatalf("change = %v", change)
	}
}

func TestNewEventLineTicker(t *testing.T) {
	ev := core.MarketEvent{
		ProductID: "BTCUSDT",
		Ticker:    &core.Ticker{Price: decimal.RequireFromString("3300.5")},
	}
	line := newEventLine(ev, time.Unix(1700000000, 0))
	if line.Kind != "ticker" || line.Price == nil || !line.Price.Equal(decimal.RequireFromString("3300.5")) {
		t.Fatalf("newEventLine() = %+v", line)
	}
	if line.Changes != nil {
		t.Fatalf("ticker line has changes: %+v", line.Changes)
	}
}

func TestDirLockExclusiveAndTakeover(t *testing.T) {
	dir := t.TempDir()
	lock, err := acquireDirLock(dir)
	if err != nil {
		t.Fatalf("acquireDirLock() error = %v", err)
	}
	if _, err := acquireDirLock(dir); err == nil || !strings.Contains(err.Error(), "recorder lock exists") {
		t.Fatalf("second acquireDirLock() error = %v, want lock exists", err)
	}
	if err := lock.release(); err != nil {
		t.Fatalf("release() error = %v", err)
	}

	stale := `{"pid":999999,"started_at":"2024-01-01T00:00:00Z"}`
	if err := os.WriteFile(filepath.Join(dir, lockName), []byte(stale), 0o644); err != nil {
		t.Fatalf("write stale lock failed: %v", err)
	}
	lock, err = acquireDirLock(dir)
	if err != nil {
		t.Fatalf("acquireDirLock(stale) error = %v, want takeover", err)
	}
	if err := lock.release(); err != nil {
		t.Fatalf("release() error = %v", err)
	}
	if err := lock.release(); err != nil {
		t.Fatalf("second release() error = %v", err)
	}
}
