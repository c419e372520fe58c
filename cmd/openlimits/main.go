package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"openlimits/internal/config"
	"openlimits/internal/core"
	"openlimits/internal/logger"
	"openlimits/internal/openlimits"
)

const usage = `usage: openlimits [-config path] [-env path] <command> [flags]

commands:
  products                         list tradable products
  book -product P [-level 1|2|3]   order book snapshot
  ticker -product P                last trade and best bid/ask
  trades -product P                recent trades
  candles -product P [-granularity 1m] [-start T -end T]
  accounts                         balances
  limit-buy|limit-sell -product P -price X -size Y [-client-oid ID]
  market-buy|market-sell -product P -size Y [-client-oid ID]
  cancel -product P -id ID
  order -product P -id ID
  open-orders [-product P]
  stream -product P [-count N]     market data events as JSON lines
`

func main() {
	var (
		configPath string
		envFile    string
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&envFile, "env", ".env", "optional .env file with credentials")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "timeout for request commands")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
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
	if flag.Arg(0) != "stream" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := run(ctx, client, flag.Args(), os.Stdout); err != nil {
		log.Close()
		fatal(err.Error())
	}
}

func run(ctx context.Context, client *openlimits.OpenLimits, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		product   = fs.String("product", "", "product id")
		level     = fs.Int("level", 2, "book depth level")
		price     = fs.String("price", "", "limit price")
		size      = fs.String("size", "", "order size")
		clientOID = fs.String("client-oid", "", "client order id")
		orderID   = fs.String("id", "", "exchange order id")
		gran      = fs.Duration("granularity", time.Minute, "candle granularity")
		startRaw  = fs.String("start", "", "candle range start (RFC3339)")
		endRaw    = fs.String("end", "", "candle range end (RFC3339)")
		count     = fs.Int("count", 0, "stream: stop after this many events (0 runs until interrupted)")
	)
	if err := fs.Parse(rest); err != nil {
		return err
	}
	requireProduct := func() (string, error) {
		p := strings.TrimSpace(*product)
		if p == "" {
			return "", fmt.Errorf("%s: -product is required", cmd)
		}
		return p, nil
	}
	requireID := func() (string, error) {
		id := strings.TrimSpace(*orderID)
		if id == "" {
			return "", fmt.Errorf("%s: -id is required", cmd)
		}
		return id, nil
	}

	switch cmd {
	case "products":
		products, err := client.Products(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, products)
	case "book":
		p, err := requireProduct()
		if err != nil {
			return err
		}
		book, err := client.OrderBook(ctx, openlimits.OrderBookRequest{Symbol: p, Level: core.DepthLevel(*level)})
		if err != nil {
			return err
		}
		return printJSON(out, book)
	case "ticker":
		p, err := requireProduct()
		if err != nil {
			return err
		}
		ticker, err := client.Ticker(ctx, p)
		if err != nil {
			return err
		}
		return printJSON(out, ticker)
	case "trades":
		p, err := requireProduct()
		if err != nil {
			return err
		}
		trades, err := client.Trades(ctx, p)
		if err != nil {
			return err
		}
		return printJSON(out, trades)
	case "candles":
		p, err := requireProduct()
		if err != nil {
			return err
		}
		query := core.CandleQuery{Granularity: *gran}
		if query.Start, err = parseOptionalTime(*startRaw); err != nil {
			return fmt.Errorf("invalid -start: %w", err)
		}
		if query.End, err = parseOptionalTime(*endRaw); err != nil {
			return fmt.Errorf("invalid -end: %w", err)
		}
		candles, err := client.Candles(ctx, p, query)
		if err != nil {
			return err
		}
		return printJSON(out, candles)
	case "accounts":
		accounts, err := client.Accounts(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, accounts)
	case "limit-buy", "limit-sell":
		p, err := requireProduct()
		if err != nil {
			return err
		}
		px, err := parseAmount("price", *price)
		if err != nil {
			return err
		}
		sz, err := parseAmount("size", *size)
		if err != nil {
			return err
		}
		req := openlimits.OpenLimitOrderRequest{Symbol: p, Price: px, Size: sz, ClientOrderID: *clientOID}
		var order core.Order
		if cmd == "limit-buy" {
			order, err = client.LimitBuy(ctx, req)
		} else {
			order, err = client.LimitSell(ctx, req)
		}
		if err != nil {
			return err
		}
		return printJSON(out, order)
	case "market-buy", "market-sell":
		p, err := requireProduct()
		if err != nil {
			return err
		}
		sz, err := parseAmount("size", *size)
		if err != nil {
			return err
		}
		req := openlimits.OpenMarketOrderRequest{Symbol: p, Size: sz, ClientOrderID: *clientOID}
		var order core.Order
		if cmd == "market-buy" {
			order, err = client.MarketBuy(ctx, req)
		} else {
			order, err = client.MarketSell(ctx, req)
		}
		if err != nil {
			return err
		}
		return printJSON(out, order)
	case "cancel":
		p, err := requireProduct()
		if err != nil {
			return err
		}
		id, err := requireID()
		if err != nil {
			return err
		}
		if err := client.CancelOrder(ctx, p, id); err != nil {
			return err
		}
		return printJSON(out, map[string]string{"canceled": id})
	case "order":
		p, err := requireProduct()
		if err != nil {
			return err
		}
		id, err := requireID()
		if err != nil {
			return err
		}
		order, err := client.GetOrder(ctx, p, id)
		if err != nil {
			return err
		}
		return printJSON(out, order)
	case "open-orders":
		orders, err := client.OpenOrders(ctx, strings.TrimSpace(*product))
		if err != nil {
			return err
		}
		return printJSON(out, orders)
	case "stream":
		p, err := requireProduct()
		if err != nil {
			return err
		}
		return streamEvents(ctx, client, p, *count, out)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func streamEvents(ctx context.Context, client *openlimits.OpenLimits, productID string, limit int, out io.Writer) error {
	sub, err := client.Stream(ctx, productID)
	if err != nil {
		return err
	}
	defer sub.Close()

	enc := json.NewEncoder(out)
	for n := 0; limit <= 0 || n < limit; {
		ev, err := sub.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrSequenceGapDetected):
			fmt.Fprintf(os.Stderr, "gap: %v\n", err)
			continue
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
		n++
	}
	return nil
}

func parseAmount(name, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("-%s is required", name)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid -%s: %w", name, err)
	}
	return d, nil
}

func parseOptionalTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
