package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"openlimits/internal/config"
	"openlimits/internal/core"
	"openlimits/internal/exchange/binance"
	"openlimits/internal/logger"
	"openlimits/internal/openlimits"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Exchange   config.ExchangeName `json:"exchange"`
	Sandbox    bool                `json:"sandbox"`
	Product    string              `json:"product"`
	Checks     []checkResult       `json:"checks"`
}

type selectedChecks struct {
	preflight  bool
	lifecycle  bool
	stream     bool
	reconnect  bool
	userStream bool
}

func main() {
	var (
		configPath   string
		envFile      string
		productID    string
		timeoutSec   int
		streamWait   int
		outJSONPath  string
		allowLiveRun bool
		checkFlag    string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&envFile, "env", ".env", "optional .env file with credentials")
	flag.StringVar(&productID, "product", "", "product id, e.g. BTC-USD or BTCUSDT")
	flag.IntVar(&timeoutSec, "timeout-sec", 180, "total timeout seconds")
	flag.IntVar(&streamWait, "stream-wait-sec", 10, "wait seconds for market data stream checks")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.BoolVar(&allowLiveRun, "allow-live", false, "allow running checks against production endpoints")
	flag.StringVar(&checkFlag, "check", "default", "checks to run: default | all | comma list (preflight,lifecycle,stream,reconnect,userstream)")
	flag.Parse()

	cfg, err := config.LoadWithEnv(configPath, envFile)
	if err != nil {
		fatal(err.Error())
	}
	if !cfg.Sandbox && !allowLiveRun {
		fatal("sandbox=false blocked by default; set -allow-live=true to continue")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		fatal("-product is required")
	}
	checks, err := parseCheckFlag(checkFlag)
	if err != nil {
		fatal(err.Error())
	}
	if checks.userStream && cfg.Exchange != config.ExchangeBinance {
		fatal("userstream check requires exchange=binance")
	}
	if (checks.lifecycle || checks.userStream) && !cfg.HasCredentials() {
		fatal("lifecycle and userstream checks require api credentials")
	}

	if timeoutSec < 30 {
		timeoutSec = 30
	}
	if streamWait < 3 {
		streamWait = 3
	}

	log := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	defer log.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	client, err := openlimits.Open(cfg, log)
	if err != nil {
		fatal(err.Error())
	}

	r := report{
		StartedAt: time.Now().UTC(),
		Exchange:  cfg.Exchange,
		Sandbox:   cfg.Sandbox,
		Product:   productID,
	}

	var (
		marketLoaded bool
		product      core.Product
		lastPrice    decimal.Decimal
		quoteAvail   decimal.Decimal
		placedID     string
	)

	loadMarketContext := func() error {
		if marketLoaded {
			return nil
		}
		products, err := client.Products(ctx)
		if err != nil {
			return err
		}
		found := false
		for _, p := range products {
			if p.ID == productID {
				product = p
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("product %s not listed (%d products)", productID, len(products))
		}
		ticker, err := client.Ticker(ctx, productID)
		if err != nil {
			return err
		}
		lastPrice = ticker.Price
		if cfg.HasCredentials() {
			accounts, err := client.Accounts(ctx)
			if err != nil {
				return err
			}
			for _, a := range accounts {
				if a.Currency == product.QuoteCurrency {
					quoteAvail = a.Available
				}
			}
		}
		marketLoaded = true
		return nil
	}

	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		} else {
			cr.Status = statusPass
		}
		r.Checks = append(r.Checks, cr)
		if cr.Status == statusPass {
			fmt.Printf("[PASS] %s (%dms)", name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Printf(" - %s", cr.Detail)
			}
			fmt.Println()
		} else {
			fmt.Printf("[FAIL] %s (%dms) - %s\n", name, cr.DurationMs, cr.Error)
		}
	}

	if checks.preflight {
		run("exchange_preflight", func() (string, error) {
			if err := loadMarketContext(); err != nil {
				return "", err
			}
			book, err := client.OrderBook(ctx, openlimits.OrderBookRequest{Symbol: productID, Level: core.L1})
			if err != nil {
				return "", err
			}
			bid, ask := "-", "-"
			if rec, ok := book.BestBid(); ok {
				bid = rec.RecordPrice().String()
			}
			if rec, ok := book.BestAsk(); ok {
				ask = rec.RecordPrice().String()
			}
			return fmt.Sprintf("price=%s bid=%s ask=%s baseMin=%s quoteIncrement=%s quoteAvailable=%s",
				lastPrice.String(), bid, ask, product.BaseMinSize.String(), product.QuoteIncrement.String(), quoteAvail.String()), nil
		})
	}

	if checks.lifecycle {
		run("order_lifecycle_place_query_cancel", func() (string, error) {
			if err := loadMarketContext(); err != nil {
				return "", err
			}
			if !lastPrice.IsPositive() {
				return "", errors.New("missing ticker price")
			}
			price := product.QuantizePrice(lastPrice.Mul(decimal.RequireFromString("0.5")))
			if !price.IsPositive() {
				return "", errors.New("calculated order price <= 0")
			}
			size, err := buildTinyLimitSize(product, price)
			if err != nil {
				return "", err
			}
			notional := price.Mul(size)
			if quoteAvail.LessThan(notional) {
				return "", fmt.Errorf("insufficient quote for check order: need=%s have=%s", notional.String(), quoteAvail.String())
			}

			placed, err := client.LimitBuy(ctx, openlimits.OpenLimitOrderRequest{
				Symbol:        productID,
				Price:         price,
				Size:          size,
				ClientOrderID: openlimits.NewClientOrderID(),
			})
			if err != nil {
				return "", err
			}
			if placed.ID == "" {
				return "", errors.New("empty order id")
			}
			placedID = placed.ID

			query, err := client.GetOrder(ctx, productID, placed.ID)
			if err != nil {
				return "", err
			}

			open, err := client.OpenOrders(ctx, productID)
			if err != nil {
				return "", err
			}
			foundInOpen := false
			for _, ord := range open {
				if ord.ID == placed.ID {
					foundInOpen = true
					break
				}
			}

			status := string(query.Status)
			switch query.Status {
			case core.OrderOpen, core.OrderPending, core.OrderActive:
				if err := client.CancelOrder(ctx, productID, placed.ID); err != nil && !errors.Is(err, core.ErrOrderNotFound) {
					return "", fmt.Errorf("cancel order failed: %w", err)
				}
				placedID = ""
				time.Sleep(400 * time.Millisecond)
				queryAfter, err := client.GetOrder(ctx, productID, placed.ID)
				switch {
				case err == nil:
					status = string(queryAfter.Status)
				case errors.Is(err, core.ErrOrderNotFound):
					status = "canceled"
				}
			case core.OrderDone:
				// a far-below-market buy should rest, but a fill still proves the lifecycle
				placedID = ""
			}

			return fmt.Sprintf("id=%s clientOid=%s size=%s price=%s status=%s foundInOpen=%t",
				placed.ID, placed.ClientOID, size.String(), price.String(), status, foundInOpen), nil
		})
	}

	if checks.stream {
		run("market_stream_subscribe", func() (string, error) {
			cctx, ccancel := context.WithTimeout(ctx, time.Duration(streamWait)*time.Second)
			defer ccancel()
			return watchStream(cctx, client, productID)
		})
	}

	if checks.reconnect {
		run("market_stream_reconnect", func() (string, error) {
			okRounds := 0
			for i := 0; i < 2; i++ {
				roundCtx, roundCancel := context.WithTimeout(ctx, 5*time.Second)
				sub, err := client.Stream(roundCtx, productID)
				if err != nil {
					roundCancel()
					return "", fmt.Errorf("round %d subscribe failed: %w", i+1, err)
				}
				waitCtx, waitCancel := context.WithTimeout(roundCtx, 2*time.Second)
				_, err = sub.Next(waitCtx)
				waitCancel()
				_ = sub.Close()
				roundCancel()
				if err != nil && !errors.Is(err, core.ErrSequenceGapDetected) && !errors.Is(err, context.DeadlineExceeded) {
					return "", fmt.Errorf("round %d stream error: %w", i+1, err)
				}
				okRounds++
				time.Sleep(300 * time.Millisecond)
			}
			return fmt.Sprintf("reconnect rounds passed=%d", okRounds), nil
		})
	}

	if checks.userStream {
		run("user_stream_lifecycle", func() (string, error) {
			bc, ok := client.Exchange().(*binance.Client)
			if !ok {
				return "", errors.New("exchange is not binance")
			}
			return checkUserStream(ctx, bc, time.Duration(streamWait)*time.Second)
		})
	}

	// cleanup: if lifecycle order still exists, best-effort cancel
	if placedID != "" {
		_ = client.CancelOrder(context.Background(), productID, placedID)
	}

	r.FinishedAt = time.Now().UTC()
	printSummary(r)

	if outJSONPath != "" {
		if err := writeReport(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("report written: %s\n", outJSONPath)
	}

	for _, c := range r.Checks {
		if c.Status == statusFail {
			os.Exit(1)
		}
	}
}

// watchStream reads market events until ctx expires. Gaps are counted, not
// treated as failures.
func watchStream(ctx context.Context, client *openlimits.OpenLimits, productID string) (string, error) {
	sub, err := client.Stream(ctx, productID)
	if err != nil {
		return "", err
	}
	defer sub.Close()

	var deltas, tickers, gaps int
	for {
		ev, err := sub.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrSequenceGapDetected):
			gaps++
			continue
		case errors.Is(err, context.DeadlineExceeded):
			if deltas+tickers == 0 {
				return "", errors.New("no market events received")
			}
			return fmt.Sprintf("deltas=%d tickers=%d gaps=%d", deltas, tickers, gaps), nil
		default:
			return "", err
		}
		if ev.Delta != nil {
			deltas++
		}
		if ev.Ticker != nil {
			tickers++
		}
	}
}

func checkUserStream(ctx context.Context, client *binance.Client, wait time.Duration) (string, error) {
	key, err := client.UserStreamStart(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = client.UserStreamClose(context.Background(), key.ListenKey)
	}()
	if err := client.UserStreamKeepAlive(ctx, key.ListenKey); err != nil {
		return "", fmt.Errorf("keepalive failed: %w", err)
	}

	cctx, ccancel := context.WithTimeout(ctx, wait)
	defer ccancel()
	us, err := client.NewUserStream(cctx, key.ListenKey)
	if err != nil {
		return "", err
	}
	updates, errs := us.Updates(cctx)
	count := 0
	for {
		select {
		case <-cctx.Done():
			if errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return fmt.Sprintf("no stream errors during %s window updates=%d", wait, count), nil
			}
			return "", cctx.Err()
		case _, ok := <-updates:
			if !ok {
				if cctx.Err() != nil {
					updates = nil
					continue
				}
				return "", errors.New("updates channel closed unexpectedly")
			}
			count++
		case err := <-errs:
			if err != nil {
				return "", err
			}
		}
	}
}

func parseCheckFlag(raw string) (selectedChecks, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "default" {
		return selectedChecks{
			preflight: true,
			lifecycle: true,
			stream:    true,
			reconnect: true,
		}, nil
	}
	if raw == "all" {
		return selectedChecks{
			preflight:  true,
			lifecycle:  true,
			stream:     true,
			reconnect:  true,
			userStream: true,
		}, nil
	}

	var out selectedChecks
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		name := strings.TrimSpace(p)
		switch name {
		case "":
			continue
		case "preflight", "exchange_preflight":
			out.preflight = true
		case "lifecycle", "order_lifecycle", "order_lifecycle_place_query_cancel":
			out.lifecycle = true
		case "stream", "market_stream", "market_stream_subscribe":
			out.stream = true
		case "reconnect", "market_stream_reconnect":
			out.reconnect = true
		case "userstream", "user_stream", "user_stream_lifecycle":
			out.userStream = true
		default:
			return selectedChecks{}, fmt.Errorf("unknown check: %s", name)
		}
	}
	if !out.preflight && !out.lifecycle && !out.stream && !out.reconnect && !out.userStream {
		return selectedChecks{}, errors.New("no checks selected")
	}
	return out, nil
}

// buildTinyLimitSize returns the smallest size that satisfies the product's
// minimums at price, on the base increment.
func buildTinyLimitSize(product core.Product, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, errors.New("invalid price")
	}

	size := product.BaseIncrement
	if product.BaseMinSize.GreaterThan(size) {
		size = product.BaseMinSize
	}
	if product.MinMarketFunds.IsPositive() {
		byFunds := product.MinMarketFunds.Div(price)
		if byFunds.GreaterThan(size) {
			size = byFunds
		}
	}
	size = roundSizeUp(size, product.BaseIncrement)
	if !size.IsPositive() {
		return decimal.Zero, errors.New("calculated size <= 0")
	}
	req := core.OrderRequest{
		Side:      core.Buy,
		ProductID: product.ID,
		Type:      core.LimitRequest{Price: price, Size: size},
	}
	if err := product.CheckOrder(req); err != nil {
		return decimal.Zero, err
	}
	return size, nil
}

func roundSizeUp(size, step decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() {
		return decimal.Zero
	}
	if !step.IsPositive() {
		return size
	}
	return size.Div(step).Ceil().Mul(step)
}

func printSummary(r report) {
	pass := 0
	fail := 0
	for _, c := range r.Checks {
		if c.Status == statusPass {
			pass++
		} else {
			fail++
		}
	}
	fmt.Printf("\nsummary exchange=%s sandbox=%t product=%s pass=%d fail=%d duration=%s\n",
		r.Exchange,
		r.Sandbox,
		r.Product,
		pass,
		fail,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
