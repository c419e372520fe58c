package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"openlimits/internal/codec"
	"openlimits/internal/core"
	"openlimits/internal/transport"
	"openlimits/internal/transport/transporttest"
)

func newHTTPTestClient(url string) *Client {
	httpClient := transport.NewHTTPClient(transport.Options{
		BaseURL:     url,
		Signer:      &transport.BinanceSigner{APIKey: "k", APISecret: "s", RecvWindow: 5 * time.Second},
		DecodeError: parseAPIError,
	})
	return NewClientWithTransport(httpClient, Options{})
}

func TestParseAPIError(t *testing.T) {
	err := parseAPIError(http.StatusBadRequest, []byte(`{"code":-2010,"msg":"Duplicate order sent."}`))
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("parseAPIError() type = %T, want APIError", err)
	}
	if apiErr.Code != -2010 {
		t.Fatalf("apiErr.Code = %d, want -2010", apiErr.Code)
	}
	if apiErr.Msg != "Duplicate order sent." {
		t.Fatalf("apiErr.Msg = %q, want %q", apiErr.Msg, "Duplicate order sent.")
	}
	if !errors.Is(err, core.ErrDuplicateOrder) {
		t.Fatalf("parseAPIError() = %v, want ErrDuplicateOrder", err)
	}

	if err := parseAPIError(http.StatusBadGateway, []byte("bad gateway")); err != nil {
		t.Fatalf("parseAPIError(non-json) = %v, want nil", err)
	}

	err = parseAPIError(http.StatusTooManyRequests, []byte(`{"code":-1003,"msg":"Too many requests."}`))
	if !errors.Is(err, core.ErrRateLimited) {
		t.Fatalf("parseAPIError(-1003) = %v, want ErrRateLimited", err)
	}
}

func TestParseSymbolInfo(t *testing.T) {
	var src symbolInfoResponse
	raw := `{
		"symbol": "BNBBTC", "status": "TRADING", "baseAsset": "BNB", "quoteAsset": "BTC",
		"orderTypes": ["LIMIT", "LIMIT_MAKER"],
		"filters": [
			{"filterType": "LOT_SIZE", "minQty": "0.0001", "maxQty": "9000", "stepSize": "0.0001"},
			{"filterType": "PRICE_FILTER", "tickSize": "0.01"},
			{"filterType": "MIN_NOTIONAL", "minNotional": "5"},
			{"filterType": "NOTIONAL", "minNotional": "4", "maxNotional": "9000000"}
		]
	}`
	if err := json.Unmarshal([]byte(raw), &src); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, err := parseSymbolInfo(src)
	if err != nil {
		t.Fatalf("parseSymbolInfo() error = %v", err)
	}
	if p.BaseCurrency != "BNB" || p.QuoteCurrency != "BTC" {
		t.Fatalf("assets = %s/%s, want BNB/BTC", p.BaseCurrency, p.QuoteCurrency)
	}
	if !p.BaseMinSize.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("BaseMinSize = %s, want 0.0001", p.BaseMinSize)
	}
	if !p.BaseIncrement.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("BaseIncrement = %s, want 0.0001", p.BaseIncrement)
	}
	if !p.QuoteIncrement.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("QuoteIncrement = %s, want 0.01", p.QuoteIncrement)
	}
	if !p.MinMarketFunds.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("MinMarketFunds = %s, want 5", p.MinMarketFunds)
	}
	if !p.LimitOnly || p.TradingDisabled {
		t.Fatalf("LimitOnly/TradingDisabled = %v/%v, want true/false", p.LimitOnly, p.TradingDisabled)
	}

	src.Filters[1].TickSize = codec.NewDecimal(decimal.RequireFromString("-0.01"))
	if _, err := parseSymbolInfo(src); !errors.Is(err, core.ErrInvalidNumericFormat) {
		t.Fatalf("parseSymbolInfo(negative tick) error = %v, want ErrInvalidNumericFormat", err)
	}
}

func TestOrderBookRejectsL3WithoutTransport(t *testing.T) {
	rec := transporttest.NewRecorder()
	c := NewClientWithTransport(rec, Options{})
	_, err := c.OrderBook(context.Background(), "BNBBTC", core.L3)
	if !errors.Is(err, core.ErrUnsupportedDepthLevel) {
		t.Fatalf("OrderBook(L3) error = %v, want ErrUnsupportedDepthLevel", err)
	}
	if n := len(rec.Calls()); n != 0 {
		t.Fatalf("transport calls = %d, want 0", n)
	}
}

func TestOrderBookDepthLimits(t *testing.T) {
	rec := transporttest.NewRecorder().Handle("GET", "/api/v3/depth", func(call transporttest.Call) ([]byte, error) {
		return []byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"]],"asks":[["4.00000200","12.00000000"]]}`), nil
	})
	c := NewClientWithTransport(rec, Options{DepthLimit: 50})

	book, err := c.OrderBook(context.Background(), "BNBBTC", core.L1)
	if err != nil {
		t.Fatalf("OrderBook(L1) error = %v", err)
	}
	if _, ok := book.Bids[0].(core.BookRecordL1); !ok {
		t.Fatalf("L1 record type = %T, want BookRecordL1", book.Bids[0])
	}
	if book.Sequence != 1027024 {
		t.Fatalf("Sequence = %d, want 1027024", book.Sequence)
	}
	if _, err := c.OrderBook(context.Background(), "BNBBTC", core.L2); err != nil {
		t.Fatalf("OrderBook(L2) error = %v", err)
	}
	calls := rec.Calls()
	if calls[0].Query.Get("limit") != "1" || calls[1].Query.Get("limit") != "50" {
		t.Fatalf("limits = %s/%s, want 1/50", calls[0].Query.Get("limit"), calls[1].Query.Get("limit"))
	}
}

func TestParseOrderStatus(t *testing.T) {
	cases := map[string]core.OrderStatus{
		"NEW":              core.OrderOpen,
		"PARTIALLY_FILLED": core.OrderOpen,
		"FILLED":           core.OrderDone,
		"CANCELED":         core.OrderDone,
		"EXPIRED":          core.OrderDone,
		"PENDING_NEW":      core.OrderPending,
		"REJECTED":         core.OrderRejected,
	}
	for in, want := range cases {
		got, err := parseOrderStatus(in)
		if err != nil || got != want {
			t.Fatalf("parseOrderStatus(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
	if _, err := parseOrderStatus("HALTED"); !errors.Is(err, core.ErrUnrecognizedVariant) {
		t.Fatalf("parseOrderStatus(HALTED) error = %v, want ErrUnrecognizedVariant", err)
	}
}

func TestOrderParams(t *testing.T) {
	ioc := core.ImmediateOrCancel()
	params, err := orderParams(core.OrderRequest{
		Side:      core.Buy,
		ProductID: "BNBBTC",
		Type:      core.LimitRequest{Price: decimal.RequireFromString("0.0025"), Size: decimal.RequireFromString("1.5"), TimeInForce: &ioc},
		Stop:      &core.OrderStop{StopPrice: decimal.RequireFromString("0.0024"), Type: core.StopLoss},
	})
	if err != nil {
		t.Fatalf("orderParams(limit) error = %v", err)
	}
	if params.Get("type") != "STOP_LOSS_LIMIT" || params.Get("timeInForce") != "IOC" || params.Get("stopPrice") != "0.0024" {
		t.Fatalf("limit params = %v", params)
	}
	if params.Get("side") != "BUY" || params.Get("price") != "0.0025" || params.Get("quantity") != "1.5" {
		t.Fatalf("limit params = %v", params)
	}

	params, err = orderParams(core.OrderRequest{Side: core.Sell, ProductID: "BNBBTC", Type: core.MarketByFunds(decimal.RequireFromString("0.1"))})
	if err != nil {
		t.Fatalf("orderParams(market funds) error = %v", err)
	}
	if params.Get("type") != "MARKET" || params.Get("quoteOrderQty") != "0.1" || params.Has("quantity") {
		t.Fatalf("market params = %v", params)
	}

	params, err = orderParams(core.OrderRequest{
		Side:      core.Buy,
		ProductID: "BNBBTC",
		Type:      core.LimitRequest{Price: decimal.RequireFromString("1"), Size: decimal.RequireFromString("1"), PostOnly: true},
	})
	if err != nil {
		t.Fatalf("orderParams(post only) error = %v", err)
	}
	if params.Get("type") != "LIMIT_MAKER" || params.Has("timeInForce") {
		t.Fatalf("post only params = %v", params)
	}

	gtt := core.GoodTilTime(time.Now().Add(time.Hour))
	_, err = orderParams(core.OrderRequest{
		Side:      core.Buy,
		ProductID: "BNBBTC",
		Type:      core.LimitRequest{Price: decimal.RequireFromString("1"), Size: decimal.RequireFromString("1"), TimeInForce: &gtt},
	})
	if !errors.Is(err, core.ErrInvalidOrderRequest) {
		t.Fatalf("orderParams(GTT) error = %v, want ErrInvalidOrderRequest", err)
	}
}

func TestTradesReportTakerSide(t *testing.T) {
	rec := transporttest.NewRecorder().Reply("GET", "/api/v3/trades", `[
		{"id":28457,"price":"4.00000100","qty":"12.00000000","quoteQty":"48.000012","time":1499865549590,"isBuyerMaker":true,"isBestMatch":true},
		{"id":28458,"price":"4.00000200","qty":"1.50000000","quoteQty":"6.000003","time":1499865549600,"isBuyerMaker":false,"isBestMatch":true}
	]`)
	trades, err := NewClientWithTransport(rec, Options{}).Trades(context.Background(), "BNBBTC")
	if err != nil {
		t.Fatalf("Trades() error = %v", err)
	}
	if got := rec.Calls()[0].Query.Get("symbol"); got != "BNBBTC" {
		t.Fatalf("symbol = %q, want BNBBTC", got)
	}
	if len(trades) != 2 {
		t.Fatalf("len(trades) = %d, want 2", len(trades))
	}
	if trades[0].Side != core.Sell || trades[1].Side != core.Buy {
		t.Fatalf("sides = %s/%s, want sell/buy", trades[0].Side, trades[1].Side)
	}
	first := trades[0]
	if first.ID != 28457 || !first.Price.Equal(decimal.RequireFromString("4.000001")) || !first.Size.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("trade = %+v", first)
	}
	if !first.Time.Equal(time.UnixMilli(1499865549590)) {
		t.Fatalf("trade time = %s", first.Time)
	}
}

func TestOrderResponseRoundTrip(t *testing.T) {
	d := decimal.RequireFromString
	cases := []struct {
		name string
		raw  string
		want core.Order
	}{
		{
			name: "limit",
			raw:  `{"symbol":"BNBBTC","orderId":28,"clientOrderId":"6gCrw2kRUAF9CvJDGP16IP","price":"0.00250000","origQty":"10.00000000","executedQty":"4.00000000","cummulativeQuoteQty":"0.01000000","status":"PARTIALLY_FILLED","timeInForce":"IOC","type":"LIMIT","side":"BUY","transactTime":1507725176595,"selfTradePreventionMode":"NONE"}`,
			want: core.Order{
				ID: "28", ClientOID: "6gCrw2kRUAF9CvJDGP16IP", ProductID: "BNBBTC", Side: core.Buy, STP: "NONE",
				Type:      core.LimitOrder{Size: d("10"), Price: d("0.0025"), TimeInForce: core.ImmediateOrCancel()},
				CreatedAt: time.UnixMilli(1507725176595), FilledSize: d("4"), ExecutedValue: d("0.01"),
				Status: core.OrderOpen,
			},
		},
		{
			name: "limit maker",
			raw:  `{"symbol":"BNBBTC","orderId":29,"clientOrderId":"maker-1","price":"0.00260000","origQty":"1.00000000","executedQty":"0.00000000","cummulativeQuoteQty":"0.00000000","status":"NEW","timeInForce":"GTC","type":"LIMIT_MAKER","side":"SELL","time":1507725176000}`,
			want: core.Order{
				ID: "29", ClientOID: "maker-1", ProductID: "BNBBTC", Side: core.Sell, PostOnly: true,
				Type:      core.LimitOrder{Size: d("1"), Price: d("0.0026"), TimeInForce: core.GoodTilCanceled()},
				CreatedAt: time.UnixMilli(1507725176000), Status: core.OrderOpen,
			},
		},
		{
			name: "market by quote amount",
			raw:  `{"symbol":"BTCUSDT","orderId":30,"clientOrderId":"mkt-1","price":"0.00000000","origQty":"0.00250000","origQuoteOrderQty":"100.00000000","executedQty":"0.00250000","cummulativeQuoteQty":"99.80000000","status":"FILLED","timeInForce":"GTC","type":"MARKET","side":"BUY","transactTime":1507725177000}`,
			want: core.Order{
				ID: "30", ClientOID: "mkt-1", ProductID: "BTCUSDT", Side: core.Buy,
				Type:      core.MarketOrder{Size: d("0.0025"), Funds: d("100")},
				CreatedAt: time.UnixMilli(1507725177000), FilledSize: d("0.0025"), ExecutedValue: d("99.8"),
				Status: core.OrderDone, Settled: true,
			},
		},
		{
			name: "stop loss limit",
			raw:  `{"symbol":"BNBBTC","orderId":31,"clientOrderId":"sl-1","price":"0.00230000","origQty":"2.00000000","executedQty":"0.00000000","cummulativeQuoteQty":"0.00000000","stopPrice":"0.00240000","status":"NEW","timeInForce":"FOK","type":"STOP_LOSS_LIMIT","side":"SELL","time":1507725178000}`,
			want: core.Order{
				ID: "31", ClientOID: "sl-1", ProductID: "BNBBTC", Side: core.Sell,
				Type:      core.LimitOrder{Size: d("2"), Price: d("0.0023"), TimeInForce: core.FillOrKill()},
				CreatedAt: time.UnixMilli(1507725178000), Status: core.OrderOpen,
				Stop:      &core.OrderStop{StopPrice: d("0.0024"), Type: core.StopLoss},
			},
		},
		{
			name: "take profit market",
			raw:  `{"symbol":"BNBBTC","orderId":32,"clientOrderId":"tp-1","price":"0.00000000","origQty":"3.00000000","origQuoteOrderQty":"0.00000000","executedQty":"0.00000000","cummulativeQuoteQty":"0.00000000","stopPrice":"0.00300000","status":"NEW","type":"TAKE_PROFIT","side":"SELL","time":1507725179000}`,
			want: core.Order{
				ID: "32", ClientOID: "tp-1", ProductID: "BNBBTC", Side: core.Sell,
				Type:      core.MarketOrder{Size: d("3"), Funds: decimal.Zero},
				CreatedAt: time.UnixMilli(1507725179000), Status: core.OrderOpen,
				Stop:      &core.OrderStop{StopPrice: d("0.003"), Type: core.StopEntry},
			},
		},
	}
	for _, tc := range cases {
		var resp orderResponse
		if err := json.Unmarshal([]byte(tc.raw), &resp); err != nil {
			t.Fatalf("%s: unmarshal: %v", tc.name, err)
		}
		// Re-encoding the wire struct must not lose anything toOrder reads.
		data, err := json.Marshal(resp)
		if err != nil {
			t.Fatalf("%s: marshal: %v", tc.name, err)
		}
		var again orderResponse
		if err := json.Unmarshal(data, &again); err != nil {
			t.Fatalf("%s: unmarshal again: %v", tc.name, err)
		}
		for _, r := range []orderResponse{resp, again} {
			got, err := r.toOrder()
			if err != nil {
				t.Fatalf("%s: toOrder() error = %v", tc.name, err)
			}
			checkOrder(t, tc.name, got, tc.want)
		}
	}
}

func checkOrder(t *testing.T, name string, got, want core.Order) {
	t.Helper()
	if got.ID != want.ID || got.ClientOID != want.ClientOID || got.ProductID != want.ProductID || got.Side != want.Side || got.STP != want.STP {
		t.Fatalf("%s: ids = %q/%q/%q/%s/%q, want %q/%q/%q/%s/%q", name,
			got.ID, got.ClientOID, got.ProductID, got.Side, got.STP,
			want.ID, want.ClientOID, want.ProductID, want.Side, want.STP)
	}
	if got.PostOnly != want.PostOnly || got.Status != want.Status || got.Settled != want.Settled {
		t.Fatalf("%s: flags = post_only %v status %s settled %v, want %v %s %v", name,
			got.PostOnly, got.Status, got.Settled, want.PostOnly, want.Status, want.Settled)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("%s: CreatedAt = %s, want %s", name, got.CreatedAt, want.CreatedAt)
	}
	if !got.FillFees.Equal(want.FillFees) || !got.FilledSize.Equal(want.FilledSize) || !got.ExecutedValue.Equal(want.ExecutedValue) {
		t.Fatalf("%s: fills = %s/%s/%s, want %s/%s/%s", name,
			got.FillFees, got.FilledSize, got.ExecutedValue, want.FillFees, want.FilledSize, want.ExecutedValue)
	}
	switch w := want.Type.(type) {
	case core.LimitOrder:
		g, ok := got.Type.(core.LimitOrder)
		if !ok {
			t.Fatalf("%s: Type = %T, want LimitOrder", name, got.Type)
		}
		if !g.Size.Equal(w.Size) || !g.Price.Equal(w.Price) || g.TimeInForce.Kind != w.TimeInForce.Kind {
			t.Fatalf("%s: limit = %+v, want %+v", name, g, w)
		}
	case core.MarketOrder:
		g, ok := got.Type.(core.MarketOrder)
		if !ok {
			t.Fatalf("%s: Type = %T, want MarketOrder", name, got.Type)
		}
		if !g.Size.Equal(w.Size) || !g.Funds.Equal(w.Funds) {
			t.Fatalf("%s: market = %+v, want %+v", name, g, w)
		}
	}
	switch {
	case want.Stop == nil && got.Stop != nil:
		t.Fatalf("%s: Stop = %+v, want nil", name, got.Stop)
	case want.Stop != nil && got.Stop == nil:
		t.Fatalf("%s: Stop = nil, want %+v", name, want.Stop)
	case want.Stop != nil && (got.Stop.Type != want.Stop.Type || !got.Stop.StopPrice.Equal(want.Stop.StopPrice)):
		t.Fatalf("%s: Stop = %+v, want %+v", name, got.Stop, want.Stop)
	}
}

func TestOrderLookupsRequireIDs(t *testing.T) {
	rec := transporttest.NewRecorder()
	c := NewClientWithTransport(rec, Options{})
	if err := c.CancelOrder(context.Background(), "", "28"); !errors.Is(err, core.ErrInvalidOrderRequest) {
		t.Fatalf("CancelOrder(no symbol) error = %v, want ErrInvalidOrderRequest", err)
	}
	if _, err := c.GetOrder(context.Background(), "BNBBTC", ""); !errors.Is(err, core.ErrInvalidOrderRequest) {
		t.Fatalf("GetOrder(no id) error = %v, want ErrInvalidOrderRequest", err)
	}
	if n := len(rec.Calls()); n != 0 {
		t.Fatalf("transport calls = %d, want 0", n)
	}
}

func TestPlaceOrderSignedOverHTTP(t *testing.T) {
	var postCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/order" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&postCalls, 1)
		q := r.URL.Query()
		if q.Get("signature") == "" || q.Get("timestamp") == "" {
			t.Errorf("missing signature/timestamp in %q", r.URL.RawQuery)
		}
		if q.Get("newClientOrderId") != "cid-1" {
			t.Errorf("newClientOrderId = %q, want cid-1", q.Get("newClientOrderId"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"symbol":              "BNBBTC",
			"orderId":             777,
			"clientOrderId":       "cid-1",
			"transactTime":        1507725176595,
			"price":               "0.0025",
			"origQty":             "1.5",
			"executedQty":         "0.5",
			"cummulativeQuoteQty": "0.00125",
			"status":              "PARTIALLY_FILLED",
			"timeInForce":         "GTC",
			"type":                "LIMIT",
			"side":                "BUY",
		})
	}))
	defer srv.Close()

	c := newHTTPTestClient(srv.URL)
	got, err := c.PlaceOrder(context.Background(), core.OrderRequest{
		Side:      core.Buy,
		ClientOID: "cid-1",
		ProductID: "BNBBTC",
		Type:      core.LimitRequest{Price: decimal.RequireFromString("0.0025"), Size: decimal.RequireFromString("1.5")},
	})
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if got.ID != "777" || got.ClientOID != "cid-1" {
		t.Fatalf("order id/client id = %q/%q, want 777/cid-1", got.ID, got.ClientOID)
	}
	if got.Status != core.OrderOpen {
		t.Fatalf("status = %q, want open", got.Status)
	}
	if !got.FilledSize.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("filled size = %s, want 0.5", got.FilledSize)
	}
	limit, ok := got.Type.(core.LimitOrder)
	if !ok || limit.TimeInForce.Kind != core.GTC {
		t.Fatalf("type = %#v, want GTC limit", got.Type)
	}
	if atomic.LoadInt32(&postCalls) != 1 {
		t.Fatalf("post calls = %d, want 1", postCalls)
	}
}

func TestCancelOrderNotFoundIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
	}))
	defer srv.Close()

	err := newHTTPTestClient(srv.URL).CancelOrder(context.Background(), "BNBBTC", "1")
	if !errors.Is(err, core.ErrOrderNotFound) {
		t.Fatalf("CancelOrder() error = %v, want ErrOrderNotFound", err)
	}
	if !IsAPIErrorCode(err, apiCodeCancelRejected) {
		t.Fatalf("CancelOrder() error = %v, want code -2011", err)
	}
	if !errors.Is(err, core.ErrTransport) {
		t.Fatalf("CancelOrder() error = %v, want ErrTransport status kind", err)
	}
}

func TestUserStreamLifecycle(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != userDataStreamPath {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-MBX-APIKEY") != "k" {
			t.Errorf("X-MBX-APIKEY = %q, want k", r.Header.Get("X-MBX-APIKEY"))
		}
		if r.URL.Query().Has("signature") {
			t.Errorf("user stream request should not be signed: %q", r.URL.RawQuery)
		}
		calls = append(calls, r.Method+" "+r.URL.Query().Get("listenKey"))
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"listenKey":"pqia91ma19a5s61cv6a81va65sdf19v8a65a1a5s61cv6a81va65sdf19v8a65a1"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newHTTPTestClient(srv.URL)
	ctx := context.Background()
	stream, err := c.UserStreamStart(ctx)
	if err != nil {
		t.Fatalf("UserStreamStart() error = %v", err)
	}
	if !strings.HasPrefix(stream.ListenKey, "pqia91") {
		t.Fatalf("ListenKey = %q", stream.ListenKey)
	}
	if err := c.UserStreamKeepAlive(ctx, stream.ListenKey); err != nil {
		t.Fatalf("UserStreamKeepAlive() error = %v", err)
	}
	if err := c.UserStreamClose(ctx, stream.ListenKey); err != nil {
		t.Fatalf("UserStreamClose() error = %v", err)
	}
	want := []string{"POST ", "PUT " + stream.ListenKey, "DELETE " + stream.ListenKey}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
}

func TestAccountsSumFreeAndLocked(t *testing.T) {
	rec := transporttest.NewRecorder().Reply("GET", "/api/v3/account",
		`{"balances":[{"asset":"BTC","free":"4723846.89208129","locked":"0.00000000"},{"asset":"LTC","free":"4763368.68006011","locked":"1.5"}]}`)
	accounts, err := NewClientWithTransport(rec, Options{}).Accounts(context.Background())
	if err != nil {
		t.Fatalf("Accounts() error = %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(accounts))
	}
	ltc := accounts[1]
	if !ltc.Balance.Equal(decimal.RequireFromString("4763370.18006011")) || !ltc.Balanced() {
		t.Fatalf("LTC balance = %s (available %s, hold %s)", ltc.Balance, ltc.Available, ltc.Hold)
	}
	if rec.Calls()[0].Auth != transport.AuthSigned {
		t.Fatalf("auth = %v, want AuthSigned", rec.Calls()[0].Auth)
	}
}

func TestDecodeStreamMessage(t *testing.T) {
	events, err := DecodeStreamMessage([]byte(`{"stream":"bnbbtc@depth@100ms","data":{"e":"depthUpdate","E":123456789,"s":"BNBBTC","U":157,"u":160,"b":[["0.0024","10"]],"a":[["0.0026","0"]]}}`))
	if err != nil {
		t.Fatalf("DecodeStreamMessage(depth) error = %v", err)
	}
	if len(events) != 1 || events[0].Delta == nil {
		t.Fatalf("events = %#v, want one delta", events)
	}
	delta := events[0].Delta
	if delta.FirstSequence != 157 || delta.Sequence != 160 || delta.Level != core.L2 {
		t.Fatalf("delta range = %d..%d level %s", delta.FirstSequence, delta.Sequence, delta.Level)
	}
	if len(delta.Changes) != 2 || delta.Changes[0].Action != core.ChangeSet || delta.Changes[1].Action != core.ChangeRemove {
		t.Fatalf("changes = %#v", delta.Changes)
	}

	events, err = DecodeStreamMessage([]byte(`{"stream":"bnbbtc@ticker","data":{"e":"24hrTicker","E":123456789,"s":"BNBBTC","p":"0.0015","P":"250.00","w":"0.0018","x":"0.0009","c":"0.0025","Q":"10","b":"0.0024","B":"10","a":"0.0026","A":"100","o":"0.0010","h":"0.0025","l":"0.0010","v":"10000","q":"18","O":0,"C":86400000,"F":0,"L":18150,"n":18151}}`))
	if err != nil {
		t.Fatalf("DecodeStreamMessage(ticker) error = %v", err)
	}
	if len(events) != 1 || events[0].Ticker == nil || !events[0].Ticker.Price.Equal(decimal.RequireFromString("0.0025")) {
		t.Fatalf("events = %#v, want ticker at 0.0025", events)
	}
	ticker := events[0].Ticker
	if !ticker.Bid.Equal(decimal.RequireFromString("0.0024")) || !ticker.Ask.Equal(decimal.RequireFromString("0.0026")) || ticker.TradeID != 18150 {
		t.Fatalf("ticker = %+v, want bid 0.0024 ask 0.0026 trade 18150", ticker)
	}

	events, err = DecodeStreamMessage([]byte(`{"stream":"bnbbtc@ticker","data":{"e":"24hrTicker","E":123456789,"s":"BNBBTC","c":"0.0025","Q":"0","b":"0.0024","a":"0.0026","v":"0","F":-1,"L":-1,"n":0}}`))
	if err != nil {
		t.Fatalf("DecodeStreamMessage(idle ticker) error = %v", err)
	}
	if len(events) != 1 || events[0].Sequence != 0 {
		t.Fatalf("idle ticker events = %#v, want sequence 0", events)
	}

	if events, err := DecodeStreamMessage([]byte(`{"result":null,"id":1}`)); err != nil || len(events) != 0 {
		t.Fatalf("DecodeStreamMessage(ack) = %v, %v, want no events", events, err)
	}
	if _, err := DecodeStreamMessage([]byte(`{"stream":"x","data":{"e":"kline"}}`)); !errors.Is(err, core.ErrUnrecognizedVariant) {
		t.Fatalf("DecodeStreamMessage(kline) error = %v, want ErrUnrecognizedVariant", err)
	}
}

func TestExecutionReportToUpdate(t *testing.T) {
	var msg executionReport
	raw := `{"e":"executionReport","E":1499405658658,"s":"ETHBTC","c":"cid","S":"BUY","o":"LIMIT","f":"GTC","q":"1.00000000","p":"0.10264410","P":"0.00000000","F":"0.00000000","g":-1,"C":"","x":"TRADE","X":"FILLED","r":"NONE","i":4293153,"l":"1.00000000","z":"1.00000000","L":"0.10264400","n":"0","N":null,"T":1499405658657,"t":77,"I":8641984,"w":false,"m":false,"M":true,"O":1499405658650,"Z":"0.10264400","Y":"0.10264400","Q":"0.00000000"}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	u, err := msg.toUpdate()
	if err != nil {
		t.Fatalf("toUpdate() error = %v", err)
	}
	if u.OrderID != "4293153" || u.Status != core.OrderDone || u.Side != core.Buy {
		t.Fatalf("update = %#v", u)
	}
	if !u.LastFillPrice.Equal(decimal.RequireFromString("0.102644")) {
		t.Fatalf("LastFillPrice = %s, want 0.102644", u.LastFillPrice)
	}
	if u.ClientOID != "cid" || !u.Price.Equal(decimal.RequireFromString("0.1026441")) || !u.Size.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("update = %+v, want cid at 0.1026441 for 1", u)
	}

	canceled := `{"e":"executionReport","E":1499405658700,"s":"ETHBTC","c":"web_cancel","S":"SELL","q":"2.00000000","p":"0.2","P":"0","C":"original","x":"CANCELED","X":"CANCELED","i":4293154,"I":99,"l":"0","z":"0","L":"0","T":1499405658699,"t":-1,"Z":"0","Q":"0"}`
	msg = executionReport{}
	if err := json.Unmarshal([]byte(canceled), &msg); err != nil {
		t.Fatalf("unmarshal canceled: %v", err)
	}
	u, err = msg.toUpdate()
	if err != nil {
		t.Fatalf("toUpdate(canceled) error = %v", err)
	}
	if u.ClientOID != "original" || u.OrderID != "4293154" || u.Status != core.OrderDone {
		t.Fatalf("canceled update = %+v", u)
	}
}
