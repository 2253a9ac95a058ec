package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"perpkeeper/internal/book"
	"perpkeeper/internal/event"
	"perpkeeper/internal/indexer"
	"perpkeeper/internal/ingestion"
	"perpkeeper/internal/ledger"
	fixed "perpkeeper/internal/math"
	"perpkeeper/internal/observability"
	"perpkeeper/internal/server"
	"perpkeeper/internal/vip"
)

// Prometheus collectors register globally; one set serves the package.
var testMetrics = observability.NewMetrics()

// ============================================================================
// Fakes
// ============================================================================

type fakeReplica struct {
	trades    []indexer.TradeRow
	tradesErr error
	candles   []indexer.Candle
	orders    []indexer.OpenOrderRow
}

func (f *fakeReplica) RecentTrades(ctx context.Context, limit int) ([]indexer.TradeRow, error) {
	return f.trades, f.tradesErr
}

func (f *fakeReplica) Candles(ctx context.Context, interval string, limit int) ([]indexer.Candle, error) {
	return f.candles, nil
}

func (f *fakeReplica) OpenOrders(ctx context.Context, trader string) ([]indexer.OpenOrderRow, error) {
	return f.orders, nil
}

func (f *fakeReplica) TradeHistory(ctx context.Context, trader string, limit int) ([]indexer.TradeRow, error) {
	return f.trades, nil
}

type fakeGateway struct {
	position *ledger.Position
	margin   *big.Int
}

func (f *fakeGateway) GetPosition(ctx context.Context, trader string) (*ledger.Position, error) {
	return f.position, nil
}

func (f *fakeGateway) GetMargin(ctx context.Context, trader string) (*big.Int, error) {
	return f.margin, nil
}

func (f *fakeGateway) GetVIPLevel(ctx context.Context, trader string) (int, error) { return 2, nil }
func (f *fakeGateway) GetCumulativeVolume(ctx context.Context, trader string) (*big.Int, error) {
	return fixed.WadFromInt(2500), nil
}
func (f *fakeGateway) GetVolumeToNextVIP(ctx context.Context, trader string) (*big.Int, error) {
	return fixed.WadFromInt(2500), nil
}
func (f *fakeGateway) GetFeeRateBps(ctx context.Context, trader string) (int64, error) {
	return 8, nil
}
func (f *fakeGateway) GetReferrer(ctx context.Context, trader string) (string, error) {
	return "", nil
}

type fakeUpgrader struct {
	receipt *ledger.Receipt
	err     error
}

func (f *fakeUpgrader) CheckVIPUpgrade(ctx context.Context) (*ledger.Receipt, error) {
	return f.receipt, f.err
}

type testEnv struct {
	router   http.Handler
	view     *book.View
	replica  *fakeReplica
	fallback *ingestion.RecentTrades
	upgrader *fakeUpgrader
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	view := book.NewView()
	replica := &fakeReplica{}
	fallback := ingestion.NewRecentTrades(10)
	gateway := &fakeGateway{
		position: &ledger.Position{Size: fixed.WadFromInt(3), EntryPrice: fixed.WadFromInt(100)},
		margin:   fixed.WadFromInt(500),
	}
	guard := ledger.NewGuard(3, zerolog.Nop())
	loader := vip.NewLoader(gateway, guard, time.Second, time.Minute, zerolog.Nop())
	upgrader := &fakeUpgrader{}

	handlers := server.NewHandlers(view, replica, fallback, gateway, loader, upgrader, testMetrics, zerolog.Nop())
	hub := server.NewHub(testMetrics, zerolog.Nop())
	health := observability.NewHealthChecker()
	srv := server.NewServer(":0", handlers, hub, health, testMetrics, zerolog.Nop())

	return &testEnv{
		router:   srv.Handler(),
		view:     view,
		replica:  replica,
		fallback: fallback,
		upgrader: upgrader,
	}
}

func (env *testEnv) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return env.do(t, http.MethodGet, path)
}

func (env *testEnv) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s %s response: %v (body %q)", method, path, err, rec.Body.String())
	}
	return rec, body
}

// ============================================================================
// Test: book and funding
// ============================================================================

func TestGetBook_TruncatesDepth(t *testing.T) {
	env := newTestEnv(t)
	env.view.Publish(&book.Snapshot{
		Bids: []book.DepthLevel{
			{Price: "100", Amount: "1"},
			{Price: "99", Amount: "2"},
			{Price: "98", Amount: "3"},
		},
		Asks:      []book.DepthLevel{{Price: "101", Amount: "1"}},
		MarkPrice: "100500000000000000000",
		UpdatedAt: time.Now(),
	})

	rec, body := env.get(t, "/api/v1/book?depth=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	bids := body["bids"].([]interface{})
	if len(bids) != 2 {
		t.Errorf("bids = %d rows, want 2", len(bids))
	}
	asks := body["asks"].([]interface{})
	if len(asks) != 1 {
		t.Errorf("asks = %d rows, want 1", len(asks))
	}
}

func TestGetBook_EmptyBeforeFirstRefresh(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.get(t, "/api/v1/book")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["markPrice"] != "" {
		t.Errorf("markPrice = %v, want empty before first refresh", body["markPrice"])
	}
}

func TestGetFunding(t *testing.T) {
	env := newTestEnv(t)
	env.view.Publish(&book.Snapshot{
		FundingRate: 0.0003,
		MarkPrice:   "101000000000000000000",
		IndexPrice:  "100000000000000000000",
		UpdatedAt:   time.Now(),
	})

	rec, body := env.get(t, "/api/v1/funding")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["fundingRate"].(float64) != 0.0003 {
		t.Errorf("fundingRate = %v", body["fundingRate"])
	}
}

// ============================================================================
// Test: trades with replica fallback
// ============================================================================

func TestGetTrades_FromReplica(t *testing.T) {
	env := newTestEnv(t)
	env.replica.trades = []indexer.TradeRow{
		{Price: "100", Amount: "1", Side: "buy", Buyer: "0xa", Seller: "0xb"},
	}

	rec, body := env.get(t, "/api/v1/trades")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["source"] != "replica" {
		t.Errorf("source = %v, want replica", body["source"])
	}
	if len(body["trades"].([]interface{})) != 1 {
		t.Errorf("trades = %v", body["trades"])
	}
}

func TestGetTrades_FallsBackToMemory(t *testing.T) {
	env := newTestEnv(t)
	env.replica.tradesErr = indexer.ErrReplicaUnavailable
	env.fallback.HandleEvent(&event.TradeExecuted{
		Price: fixed.WadFromInt(100), Amount: fixed.WadFromInt(1),
		BuyOrderID: 2, SellOrderID: 1, Timestamp: time.Now(),
	})

	rec, body := env.get(t, "/api/v1/trades")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["source"] != "memory" {
		t.Errorf("source = %v, want memory", body["source"])
	}
	if len(body["trades"].([]interface{})) != 1 {
		t.Errorf("trades = %v", body["trades"])
	}
}

func TestGetTrades_OtherErrorsAre500(t *testing.T) {
	env := newTestEnv(t)
	env.replica.tradesErr = errors.New("scan failed")

	rec, _ := env.get(t, "/api/v1/trades")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// ============================================================================
// Test: account and VIP
// ============================================================================

func TestGetAccount(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.get(t, "/api/v1/traders/0xABC/account")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["trader"] != "0xabc" {
		t.Errorf("trader = %v, want normalized 0xabc", body["trader"])
	}
	if body["size"] != fixed.WadFromInt(3).String() {
		t.Errorf("size = %v", body["size"])
	}
	if body["flat"] != false {
		t.Errorf("flat = %v, want false", body["flat"])
	}
}

func TestGetVIPInfo_Live(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.get(t, "/api/v1/traders/0xabc/vip")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["source"] != "live" {
		t.Errorf("source = %v, want live", body["source"])
	}
	info := body["vip"].(map[string]interface{})
	if info["level"].(float64) != 2 {
		t.Errorf("level = %v, want 2", info["level"])
	}
}

func TestCheckVIPUpgrade_Success(t *testing.T) {
	env := newTestEnv(t)
	env.upgrader.receipt = &ledger.Receipt{TxHash: "0xfeed", Status: "success"}

	rec, body := env.do(t, http.MethodPost, "/api/v1/vip/check-upgrade")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["upgraded"] != true {
		t.Errorf("upgraded = %v", body["upgraded"])
	}
	if body["txHash"] != "0xfeed" {
		t.Errorf("txHash = %v", body["txHash"])
	}
}

func TestCheckVIPUpgrade_RevertMeansNoUpgradeDue(t *testing.T) {
	env := newTestEnv(t)
	env.upgrader.err = ledger.ErrTxReverted

	rec, body := env.do(t, http.MethodPost, "/api/v1/vip/check-upgrade")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, revert must not surface as an error", rec.Code)
	}
	if body["upgraded"] != false {
		t.Errorf("upgraded = %v, want false", body["upgraded"])
	}
	if body["reason"] != "no upgrade due" {
		t.Errorf("reason = %v", body["reason"])
	}
}

// ============================================================================
// Test: health endpoints
// ============================================================================

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want 503 before ready", rec.Code)
	}
}
