package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"openlimits/internal/config"
	"openlimits/internal/core"
	"openlimits/internal/logger"
	"openlimits/internal/openlimits"
)

const (
	defaultOutDir = "data"
	// candleBatch keeps each request inside the smallest per-call candle cap.
	candleBatch = 300
)

type candleLine struct {
	Time      string          `json:"time"`
	Timestamp int64           `json:"timestamp"`
	Product   string          `json:"product"`
	Interval  string          `json:"interval"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

type changeLine struct {
	Side    core.Side         `json:"side"`
	Action  core.ChangeAction `json:"action"`
	Price   decimal.Decimal   `json:"price"`
	Size    decimal.Decimal   `json:"size"`
	OrderID string            `json:"order_id,omitempty"`
}

type eventLine struct {
	Time          string           `json:"time"`
	Product       string           `json:"product"`
	Kind          string           `json:"kind"`
	Sequence      uint64           `json:"sequence,omitempty"`
	FirstSequence uint64           `json:"first_sequence,omitempty"`
	Level         string           `json:"level,omitempty"`
	Changes       []changeLine     `json:"changes,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Bid           *decimal.Decimal `json:"bid,omitempty"`
	Ask           *decimal.Decimal `json:"ask,omitempty"`
	Volume        *decimal.Decimal `json:"volume,omitempty"`
}

type dateWriter struct {
	root        string
	currentDate string
	currentFile *os.File
}

func newDateWriter(root string) (*dateWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &dateWriter{root: root}, nil
}

func (w *dateWriter) write(date string, line []byte) error {
	if err := w.rotate(date); err != nil {
		return err
	}
	if _, err := w.currentFile.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// rotate appends to an existing day file so a restarted recorder keeps what
// was already captured.
func (w *dateWriter) rotate(date string) error {
	if date == w.currentDate && w.currentFile != nil {
		return nil
	}
	if w.currentFile != nil {
		if err := w.currentFile.Sync(); err != nil {
			_ = w.currentFile.Close()
			w.currentFile = nil
			return err
		}
		if err := w.currentFile.Close(); err != nil {
			w.currentFile = nil
			return err
		}
		w.currentFile = nil
	}
	path := filepath.Join(w.root, date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.currentFile = f
	w.currentDate = date
	return nil
}

func (w *dateWriter) close() error {
	if w == nil || w.currentFile == nil {
		return nil
	}
	if err := w.currentFile.Sync(); err != nil {
		_ = w.currentFile.Close()
		w.currentFile = nil
		return err
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

func main() {
	var (
		configPath string
		envFile    string
		mode       string
		productID  string
		interval   string
		months     int
		startRaw   string
		endRaw     string
		outDir     string
		duration   time.Duration
	)

	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&envFile, "env", ".env", "optional .env file")
	flag.StringVar(&mode, "mode", "candles", "candles | stream")
	flag.StringVar(&productID, "product", "", "product id, e.g. BTC-USD or BTCUSDT")
	flag.StringVar(&interval, "interval", "1m", "candle interval, e.g. 1m/5m/15m/1h")
	flag.IntVar(&months, "months", 1, "how many months to fetch back from now")
	flag.StringVar(&startRaw, "start", "", "start time (YYYY-MM-DD or RFC3339, UTC)")
	flag.StringVar(&endRaw, "end", "", "end time (YYYY-MM-DD or RFC3339, UTC), inclusive for date")
	flag.StringVar(&outDir, "out-dir", defaultOutDir, "output root dir")
	flag.DurationVar(&duration, "duration", 0, "stream mode: stop after this long (0 runs until interrupted)")
	flag.Parse()

	productID = strings.TrimSpace(productID)
	if productID == "" {
		fatal("-product is required")
	}
	cfg, err := config.LoadWithEnv(configPath, envFile)
	if err != nil {
		fatal(err.Error())
	}
	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer log.Close()

	client, err := openlimits.Open(cfg, log)
	if err != nil {
		fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "candles":
		granularity, err := parseInterval(interval)
		if err != nil {
			fatal(err.Error())
		}
		start, end, err := resolveWindow(months, startRaw, endRaw)
		if err != nil {
			fatal(err.Error())
		}
		targetDir := filepath.Join(outDir, string(cfg.Exchange), productID, "candles", interval)
		if err := fetchCandles(ctx, client, productID, interval, granularity, start, end, targetDir); err != nil {
			fatal(err.Error())
		}
	case "stream":
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}
		targetDir := filepath.Join(outDir, string(cfg.Exchange), productID, "events")
		if err := recordStream(ctx, client, log, productID, targetDir); err != nil {
			fatal(err.Error())
		}
	default:
		fatal("mode must be candles or stream")
	}
}

type window struct {
	start time.Time
	end   time.Time
}

// candleWindows splits [start, end) into request windows of at most batch
// candles each.
func candleWindows(start, end time.Time, granularity time.Duration, batch int) []window {
	if granularity <= 0 || batch < 1 || !end.After(start) {
		return nil
	}
	span := granularity * time.Duration(batch)
	var out []window
	for cur := start; cur.Before(end); cur = cur.Add(span) {
		next := cur.Add(span)
		if next.After(end) {
			next = end
		}
		out = append(out, window{start: cur, end: next})
	}
	return out
}

func fetchCandles(ctx context.Context, client *openlimits.OpenLimits, productID, interval string, granularity time.Duration, start, end time.Time, targetDir string) error {
	writer, err := newDateWriter(targetDir)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := writer.close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "close writer failed: %v\n", closeErr)
		}
	}()

	fmt.Printf("fetching product=%s interval=%s from=%s to=%s\n", productID, interval, start.Format(time.RFC3339), end.Add(-time.Millisecond).Format(time.RFC3339))

	total := 0
	requests := 0
	for _, w := range candleWindows(start, end, granularity, candleBatch) {
		batch, err := client.Candles(ctx, productID, core.CandleQuery{
			Granularity: granularity,
			Start:       w.start,
			End:         w.end.Add(-time.Millisecond),
		})
		if err != nil {
			return err
		}
		requests++
		// exchanges disagree on ordering; write oldest first
		sort.Slice(batch, func(i, j int) bool { return batch[i].Time < batch[j].Time })
		for _, c := range batch {
			ts := time.Unix(c.Time, 0).UTC()
			if ts.Before(w.start) || !ts.Before(w.end) {
				continue
			}
			encoded, err := json.Marshal(newCandleLine(productID, interval, c))
			if err != nil {
				return err
			}
			if err := writer.write(ts.Format("2006-01-02"), encoded); err != nil {
				return err
			}
			total++
		}
		if requests%20 == 0 {
			fmt.Printf("progress: requests=%d records=%d last=%s\n", requests, total, w.end.Format(time.RFC3339))
		}
	}

	fmt.Printf("done: records=%d requests=%d output=%s\n", total, requests, targetDir)
	return nil
}

func newCandleLine(productID, interval string, c core.Candle) candleLine {
	ts := time.Unix(c.Time, 0).UTC()
	return candleLine{
		Time:      ts.Format(time.RFC3339),
		Timestamp: c.Time,
		Product:   productID,
		Interval:  interval,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

// recordStream appends every market event to day files until ctx is done.
// Sequence gaps are logged and recording continues from the next delta.
func recordStream(ctx context.Context, client *openlimits.OpenLimits, log *logger.Log, productID, targetDir string) error {
	lock, err := acquireDirLock(targetDir)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lock.release(); relErr != nil {
			fmt.Fprintf(os.Stderr, "release recorder lock failed: %v\n", relErr)
		}
	}()
	writer, err := newDateWriter(targetDir)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := writer.close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "close writer failed: %v\n", closeErr)
		}
	}()

	sub, err := client.Stream(ctx, productID)
	if err != nil {
		return err
	}
	defer sub.Close()

	entry := log.WithComponent("marketdata").WithFields(logger.Fields{"product": productID})
	total, gaps := 0, 0
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, core.ErrSequenceGapDetected):
				gaps++
				entry.WithError(err).Warn("sequence gap")
				continue
			case ctx.Err() != nil:
				entry.WithFields(logger.Fields{"records": total, "gaps": gaps}).Info("recording stopped")
				fmt.Printf("done: records=%d gaps=%d output=%s\n", total, gaps, targetDir)
				return nil
			case errors.Is(err, core.ErrUnrecognizedVariant), errors.Is(err, core.ErrInvalidNumericFormat):
				entry.WithError(err).Warn("skipping undecodable message")
				continue
			}
			return err
		}
		at := ev.Time
		if at.IsZero() {
			at = time.Now().UTC()
		}
		encoded, err := json.Marshal(newEventLine(ev, at))
		if err != nil {
			return err
		}
		if err := writer.write(at.Format("2006-01-02"), encoded); err != nil {
			return err
		}
		total++
	}
}

func newEventLine(ev core.MarketEvent, at time.Time) eventLine {
	line := eventLine{
		Time:     at.UTC().Format(time.RFC3339Nano),
		Product:  ev.ProductID,
		Sequence: ev.Sequence,
	}
	switch {
	case ev.Delta != nil:
		line.Kind = "delta"
		line.Sequence = ev.Delta.Sequence
		line.FirstSequence = ev.Delta.FirstSequence
		line.Level = ev.Delta.Level.String()
		for _, ch := range ev.Delta.Changes {
			line.Changes = append(line.Changes, changeLine{
				Side:    ch.Side,
				Action:  ch.Action,
				Price:   ch.Price,
				Size:    ch.Size,
				OrderID: ch.OrderID,
			})
		}
	case ev.Ticker != nil:
		line.Kind = "ticker"
		t := *ev.Ticker
		line.Price = &t.Price
		line.Bid = &t.Bid
		line.Ask = &t.Ask
		line.Volume = &t.Volume
	}
	return line
}

// parseInterval accepts Go durations plus a whole-day form such as "1d".
func parseInterval(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 1 {
			return 0, fmt.Errorf("invalid interval %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid interval %q", raw)
	}
	return d, nil
}

func resolveWindow(months int, startRaw, endRaw string) (time.Time, time.Time, error) {
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)
	if startRaw == "" && endRaw == "" {
		if months < 1 {
			return time.Time{}, time.Time{}, errors.New("months must be >= 1")
		}
		end := time.Now().UTC()
		start := end.AddDate(0, -months, 0)
		return start, end, nil
	}
	if startRaw == "" || endRaw == "" {
		return time.Time{}, time.Time{}, errors.New("start and end must be provided together")
	}
	start, startDateOnly, err := parseRangeTime(startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end, endDateOnly, err := parseRangeTime(endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}
	if startDateOnly {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	}
	if endDateOnly {
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("end must be after start")
	}
	return start.UTC(), end.UTC(), nil
}

func parseRangeTime(raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, errors.New("empty")
	}
	if len(raw) == len("2006-01-02") {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}
		return t, true, nil
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), false, nil
		}
	}
	return time.Time{}, false, errors.New("unsupported time format")
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
